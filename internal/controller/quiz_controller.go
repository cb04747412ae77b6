package controller

import (
	"course_platform_backend/internal/service"
	"course_platform_backend/internal/util"

	"github.com/gin-gonic/gin"
)

type QuizController struct {
	LessonService *service.LessonService
	QuizService   *service.QuizService
}

func NewQuizController(lessonService *service.LessonService, quizService *service.QuizService) *QuizController {
	return &QuizController{LessonService: lessonService, QuizService: quizService}
}

// SubmitAnswerRequest 作答请求
// swagger:model SubmitAnswerRequest
type SubmitAnswerRequest struct {
	Answer string `json:"answer" binding:"required,max=2000" example:"the next token"`
}

// ListQuestions godoc
// @Summary 课程测验题目
// @Description 不包含参考答案，附带当前用户最近一次作答
// @Tags 测验
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "课程ID"
// @Success 200 {object} util.Response{data=[]service.QuizQuestionView}
// @Failure 404 {object} util.Response "课程不存在"
// @Router /api/lessons/{id}/quiz [get]
func (ctrl *QuizController) ListQuestions(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if _, err := ctrl.LessonService.GetLesson(id, isAdmin(c)); err != nil {
		util.HandleServiceError(c, err)
		return
	}

	questions, err := ctrl.QuizService.ListQuestions(claims.UserID, id)
	if err != nil {
		util.HandleServiceError(c, err)
		return
	}
	util.Success(c, questions)
}

// SubmitAnswer godoc
// @Summary 提交答案
// @Description 精确匹配、关键词重合、AI 评分依次判断；评分服务不可用时仍会返回结果
// @Tags 测验
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "题目ID"
// @Param body body SubmitAnswerRequest true "答案"
// @Success 200 {object} util.Response{data=service.ScoreResult}
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 404 {object} util.Response "题目不存在"
// @Router /api/quiz/questions/{id}/answer [post]
func (ctrl *QuizController) SubmitAnswer(c *gin.Context) {
	claims := util.GetUserFromContext(c)
	if claims == nil {
		util.Unauthorized(c)
		return
	}
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req SubmitAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.BadRequest(c, err.Error())
		return
	}

	result, err := ctrl.QuizService.SubmitAnswer(c.Request.Context(), claims.UserID, id, req.Answer, isAdmin(c))
	if err != nil {
		util.HandleServiceError(c, err)
		return
	}
	util.Success(c, result)
}
