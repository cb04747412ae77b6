package controller

import (
	"course_platform_backend/internal/model"
	"course_platform_backend/internal/service"
	"course_platform_backend/internal/util"
	"course_platform_backend/pkg/logger"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LessonController 课程目录、幻灯片、音频和播放会话
type LessonController struct {
	LessonService   *service.LessonService
	SlideService    *service.SlideService
	AudioService    *service.AudioService
	ProgressService *service.ProgressService
	Hub             *service.PlaybackHub
}

func NewLessonController(
	lessonService *service.LessonService,
	slideService *service.SlideService,
	audioService *service.AudioService,
	progressService *service.ProgressService,
	hub *service.PlaybackHub,
) *LessonController {
	return &LessonController{
		LessonService:   lessonService,
		SlideService:    slideService,
		AudioService:    audioService,
		ProgressService: progressService,
		Hub:             hub,
	}
}

func isAdmin(c *gin.Context) bool {
	claims := util.GetUserFromContext(c)
	return claims != nil && claims.Role == model.Admin
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		util.BadRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(id), true
}

// ListLessons godoc
// @Summary 课程列表
// @Description 按 order 升序返回已发布课程
// @Tags 课程
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]model.Lesson}
// @Router /api/lessons [get]
func (ctrl *LessonController) ListLessons(c *gin.Context) {
	lessons, err := ctrl.LessonService.ListLessons(false)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, lessons)
}

// GetLesson godoc
// @Summary 课程详情
// @Tags 课程
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "课程ID"
// @Success 200 {object} util.Response{data=model.Lesson}
// @Failure 404 {object} util.Response "课程不存在"
// @Router /api/lessons/{id} [get]
func (ctrl *LessonController) GetLesson(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	lesson, err := ctrl.LessonService.GetLesson(id, isAdmin(c))
	if err != nil {
		util.HandleServiceError(c, err)
		return
	}
	lesson.Slides = ctrl.SlideService.SlidesOf(lesson)
	util.Success(c, lesson)
}

// GetSlides godoc
// @Summary 课程幻灯片
// @Description 按 index 升序返回；没有幻灯片的课程返回一张合成幻灯片
// @Tags 课程
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "课程ID"
// @Success 200 {object} util.Response{data=[]model.Slide}
// @Failure 404 {object} util.Response "课程不存在"
// @Router /api/lessons/{id}/slides [get]
func (ctrl *LessonController) GetSlides(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	lesson, err := ctrl.LessonService.GetLesson(id, isAdmin(c))
	if err != nil {
		util.HandleServiceError(c, err)
		return
	}
	util.Success(c, ctrl.SlideService.SlidesOf(lesson))
}

// GetSlideAudio godoc
// @Summary 幻灯片音频
// @Description 返回音频地址；没有音频时 data 为 null，客户端应按幻灯片时长计时
// @Tags 课程
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "课程ID"
// @Param n path int true "幻灯片编号（从 1 开始）"
// @Success 200 {object} util.Response{data=service.AudioAsset}
// @Failure 404 {object} util.Response "课程或幻灯片不存在"
// @Router /api/lessons/{id}/slides/{n}/audio [get]
func (ctrl *LessonController) GetSlideAudio(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		util.BadRequest(c, "invalid slide number")
		return
	}

	if _, err := ctrl.LessonService.GetLesson(id, isAdmin(c)); err != nil {
		util.HandleServiceError(c, err)
		return
	}
	if _, err := ctrl.SlideService.GetSlide(id, n); err != nil {
		util.HandleServiceError(c, err)
		return
	}

	util.Success(c, ctrl.AudioService.ResolveAudio(c.Request.Context(), id, n))
}

// Play godoc
// @Summary 课程播放会话 (WebSocket)
// @Description 客户端发送 play/pause/seek/audio_loaded/audio_time/audio_ended/audio_error，
// @Description 服务端推送 session/audio/progress/completed/error。音频事件需回传 audio 消息中的 gen。
// @Tags 课程
// @Security ApiKeyAuth
// @Param id path int true "课程ID"
// @Param token query string false "JWT Token（浏览器 WebSocket 无法设置请求头时使用）"
// @Success 101 {string} string "Switching Protocols"
// @Failure 403 {object} util.Response "课程未开放"
// @Failure 404 {object} util.Response "课程不存在"
// @Router /api/lessons/{id}/play [get]
func (ctrl *LessonController) Play(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	session, err := ctrl.Hub.Prepare(c.Request.Context(), claims.UserID, id, claims.Role == model.Admin)
	if err != nil {
		util.HandleServiceError(c, err)
		return
	}

	if err := ctrl.Hub.Serve(c.Writer, c.Request, session); err != nil {
		// Upgrade 失败时已经写过响应
		logger.Log.Warn("Playback upgrade failed", zap.Uint("lessonId", id), zap.Error(err))
	}
}

// Complete godoc
// @Summary 上报课程完成
// @Description 幂等，重复上报保留第一次的完成时间
// @Tags 学习进度
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "课程ID"
// @Success 200 {object} util.Response{data=model.LessonProgress}
// @Failure 403 {object} util.Response "课程未开放"
// @Failure 404 {object} util.Response "课程不存在"
// @Failure 503 {object} util.Response "进度保存失败，可重试"
// @Router /api/lessons/{id}/complete [post]
func (ctrl *LessonController) Complete(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if _, err := ctrl.LessonService.GetPlayableLesson(id, claims.Role == model.Admin); err != nil {
		util.HandleServiceError(c, err)
		return
	}

	progress, err := ctrl.ProgressService.ReportCompletion(c.Request.Context(), claims.UserID, id)
	if err != nil {
		util.HandleServiceError(c, err)
		return
	}
	util.Success(c, progress)
}

// GetProgress godoc
// @Summary 我的学习进度
// @Tags 学习进度
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=service.ProgressOverview}
// @Router /api/progress [get]
func (ctrl *LessonController) GetProgress(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}

	overview, err := ctrl.ProgressService.ListProgress(claims.UserID)
	if err != nil {
		util.LogInternalError(c, err)
		return
	}
	util.Success(c, overview)
}
