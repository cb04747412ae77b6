package controller

import (
	"course_platform_backend/internal/service"
	"course_platform_backend/internal/util"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// ContentController 管理员：课程开关、内容同步、幻灯片音频和埋点汇总
type ContentController struct {
	LessonService    *service.LessonService
	SyncService      *service.ContentSyncService
	AnalyticsService *service.AnalyticsService
}

func NewContentController(
	lessonService *service.LessonService,
	syncService *service.ContentSyncService,
	analyticsService *service.AnalyticsService,
) *ContentController {
	return &ContentController{
		LessonService:    lessonService,
		SyncService:      syncService,
		AnalyticsService: analyticsService,
	}
}

// UpdateLessonRequest 未传的字段保持不变
// swagger:model UpdateLessonRequest
type UpdateLessonRequest struct {
	Published *bool `json:"published"`
	Available *bool `json:"available"`
}

// ListAllLessons godoc
// @Summary 课程列表（含未发布）
// @Tags 管理员
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.Lesson}
// @Failure 403 {object} util.Response "Forbidden"
// @Router /api/admin/lessons [get]
func (ctrl *ContentController) ListAllLessons(c *gin.Context) {
	lessons, err := ctrl.LessonService.ListLessons(true)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, lessons)
}

// UpdateLesson godoc
// @Summary 修改课程发布/开放状态
// @Tags 管理员
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "课程ID"
// @Param request body UpdateLessonRequest true "状态"
// @Success 200 {object} util.Response{data=model.Lesson}
// @Failure 400 {object} util.Response "Bad Request"
// @Failure 404 {object} util.Response "课程不存在"
// @Router /api/admin/lessons/{id} [patch]
func (ctrl *ContentController) UpdateLesson(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req UpdateLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}
	if req.Published == nil && req.Available == nil {
		util.BadRequest(c, "nothing to update")
		return
	}

	current, err := ctrl.LessonService.GetLesson(id, true)
	if err != nil {
		util.HandleServiceError(c, err)
		return
	}
	published, available := current.Published, current.Available
	if req.Published != nil {
		published = *req.Published
	}
	if req.Available != nil {
		available = *req.Available
	}

	lesson, err := ctrl.LessonService.SetFlags(id, published, available)
	if err != nil {
		util.HandleServiceError(c, err)
		return
	}
	util.Success(c, lesson)
}

// SyncContent godoc
// @Summary 从课程目录同步内容
// @Description 解析所有课程 YAML 并写入数据库，单个文件出错记录在报告中
// @Tags 管理员
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=service.SyncReport}
// @Failure 409 {object} util.Response "已有同步在进行"
// @Router /api/admin/content/sync [post]
func (ctrl *ContentController) SyncContent(c *gin.Context) {
	report, err := ctrl.SyncService.SyncAll(c.Request.Context())
	if err != nil {
		util.HandleServiceError(c, err)
		return
	}
	util.Success(c, report)
}

// GetAudioReport godoc
// @Summary 课程音频覆盖情况
// @Tags 管理员
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "课程ID"
// @Success 200 {object} util.Response{data=[]service.SlideAudioStatus}
// @Failure 404 {object} util.Response "课程不存在"
// @Router /api/admin/lessons/{id}/audio [get]
func (ctrl *ContentController) GetAudioReport(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	report, err := ctrl.SyncService.AudioReport(c.Request.Context(), id)
	if err != nil {
		util.HandleServiceError(c, err)
		return
	}
	util.Success(c, report)
}

// UploadSlideAudio godoc
// @Summary 上传幻灯片音频
// @Description 只接受 mp3，覆盖已有音频
// @Tags 管理员
// @Accept multipart/form-data
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "课程ID"
// @Param n path int true "幻灯片编号（从 1 开始）"
// @Param file formData file true "音频文件"
// @Success 200 {object} util.Response{data=service.AudioAsset}
// @Failure 400 {object} util.Response "文件无效"
// @Failure 404 {object} util.Response "课程或幻灯片不存在"
// @Router /api/admin/lessons/{id}/slides/{n}/audio [put]
func (ctrl *ContentController) UploadSlideAudio(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		util.BadRequest(c, "invalid slide number")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		util.BadRequest(c, "File is required")
		return
	}

	asset, err := ctrl.SyncService.UploadSlideAudio(c.Request.Context(), id, n, file)
	if err != nil {
		util.HandleServiceError(c, err)
		return
	}
	util.Success(c, asset)
}

// DeleteSlideAudio godoc
// @Summary 删除幻灯片音频
// @Description 删除后该幻灯片按时长计时推进
// @Tags 管理员
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "课程ID"
// @Param n path int true "幻灯片编号（从 1 开始）"
// @Success 200 {object} util.Response
// @Failure 404 {object} util.Response "音频不存在"
// @Router /api/admin/lessons/{id}/slides/{n}/audio [delete]
func (ctrl *ContentController) DeleteSlideAudio(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		util.BadRequest(c, "invalid slide number")
		return
	}

	if err := ctrl.SyncService.DeleteSlideAudio(c.Request.Context(), id, n); err != nil {
		util.HandleServiceError(c, err)
		return
	}
	util.Success(c, nil)
}

// GetAnalyticsSummary godoc
// @Summary 埋点事件汇总
// @Description 按事件类型计数，days 为空时统计全部
// @Tags 管理员
// @Produce json
// @Security ApiKeyAuth
// @Param days query int false "最近天数"
// @Success 200 {object} util.Response{data=map[string]int64}
// @Router /api/admin/analytics [get]
func (ctrl *ContentController) GetAnalyticsSummary(c *gin.Context) {
	var since time.Time
	if d := c.Query("days"); d != "" {
		days, err := strconv.Atoi(d)
		if err != nil || days <= 0 {
			util.BadRequest(c, "invalid days")
			return
		}
		since = time.Now().AddDate(0, 0, -days)
	}

	summary, err := ctrl.AnalyticsService.Summary(since)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, summary)
}
