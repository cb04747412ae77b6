package controller

import (
	"context"
	"course_platform_backend/internal/util"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

const healthPingTimeout = 2 * time.Second

type HealthController struct {
	DB         *gorm.DB
	Redis      *redis.Client
	LessonsDir string
}

func NewHealthController(db *gorm.DB, rdb *redis.Client, lessonsDir string) *HealthController {
	return &HealthController{DB: db, Redis: rdb, LessonsDir: lessonsDir}
}

// @Summary 健康检查
// @Description 数据库不可用返回 503；Redis 和课程目录只报告状态，不影响整体结果
// @Tags 系统
// @Produce json
// @Success 200 {object} util.Response
// @Failure 503 {object} util.Response "数据库不可用"
// @Router /api/health [get]
func (c *HealthController) HealthCheck(ctx *gin.Context) {
	pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), healthPingTimeout)
	defer cancel()

	sqlDB, err := c.DB.DB()
	if err != nil {
		util.InternalServerError(ctx)
		return
	}
	start := time.Now()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		util.Error(ctx, http.StatusServiceUnavailable, "Database unavailable")
		return
	}
	dbLatency := time.Since(start)

	redisStatus := "disabled"
	if c.Redis != nil {
		redisStatus = "up"
		if err := c.Redis.Ping(pingCtx).Err(); err != nil {
			redisStatus = "down"
		}
	}

	lessonsStatus := "missing"
	if info, err := os.Stat(c.LessonsDir); err == nil && info.IsDir() {
		lessonsStatus = "up"
	}

	util.Success(ctx, gin.H{
		"status": "ok",
		"components": gin.H{
			"database":   "up",
			"redis":      redisStatus,
			"lessonsDir": lessonsStatus,
		},
		"databaseLatencyMs": dbLatency.Milliseconds(),
	})
}
