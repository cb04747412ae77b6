package util

import (
	"course_platform_backend/pkg/logger"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: "success",
		Data:    data,
	})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    http.StatusCreated,
		Message: "created",
		Data:    data,
	})
}

func Error(c *gin.Context, code int, message string) {
	c.JSON(code, Response{
		Code:    code,
		Message: message,
	})
}

func Unauthorized(c *gin.Context) {
	Error(c, http.StatusUnauthorized, "Unauthorized")
}

func Forbidden(c *gin.Context) {
	Error(c, http.StatusForbidden, "Forbidden")
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, message)
}

func NotFound(c *gin.Context) {
	Error(c, http.StatusNotFound, "Resource not found")
}

func InternalServerError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, "Internal server error")
}

func LogInternalError(c *gin.Context, err error) {
	logger.Log.Error("Internal server error", zap.Error(err))
	InternalServerError(c)
}

func Conflict(c *gin.Context, message string) {
	Error(c, http.StatusConflict, message)
}

// HandleServiceError 将 service 层的哨兵错误映射为 HTTP 响应
func HandleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrLessonNotFound),
		errors.Is(err, ErrSlideNotFound),
		errors.Is(err, ErrQuestionNotFound),
		errors.Is(err, ErrAudioUnavailable),
		errors.Is(err, ErrUserNotFound):
		Error(c, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrLessonLocked), errors.Is(err, ErrPermissionDenied):
		Error(c, http.StatusForbidden, err.Error())
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUnauthorized):
		Error(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrSlideOutOfRange), errors.Is(err, ErrInvalidLessonFile), errors.Is(err, ErrInvalidAudioFile):
		BadRequest(c, err.Error())
	case errors.Is(err, ErrSyncAlreadyRunning), errors.Is(err, ErrEmailRegistered):
		Conflict(c, err.Error())
	case errors.Is(err, ErrProgressWrite):
		logger.Log.Error("Progress write failed", zap.Error(err))
		Error(c, http.StatusServiceUnavailable, err.Error())
	default:
		LogInternalError(c, err)
	}
}
