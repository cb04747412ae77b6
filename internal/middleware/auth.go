package middleware

import (
	"course_platform_backend/internal/model"
	"course_platform_backend/internal/util"
	"course_platform_backend/pkg/logger"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuthMiddleware 校验 JWT 并把 *util.Claims 放进上下文
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := util.BearerToken(c)
		if tokenString == "" {
			util.Unauthorized(c)
			c.Abort()
			return
		}

		claims, err := util.ParseJWT(tokenString, secret)
		if err != nil {
			logger.Log.Debug("JWT解析错误", zap.Error(err))
			util.Unauthorized(c)
			c.Abort()
			return
		}

		c.Set(util.ContextUserKey, claims)
		c.Next()
	}
}

func RoleMiddleware(roles ...model.UserRole) gin.HandlerFunc {
	allowed := make(map[model.UserRole]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}

	return func(c *gin.Context) {
		user := util.GetUserFromContext(c)
		if user == nil {
			util.Unauthorized(c)
			c.Abort()
			return
		}
		if !allowed[user.Role] {
			util.Forbidden(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

type UserActivityRepo interface {
	UpdateLastSeen(userID uint) error
}

// activityInterval 同一用户两次写 last_seen 的最小间隔
const activityInterval = time.Minute

// ActivityMiddleware 记录用户最近活跃时间，每个用户每分钟最多写一次库
func ActivityMiddleware(repo UserActivityRepo) gin.HandlerFunc {
	var lastWrite sync.Map // uint -> time.Time

	return func(c *gin.Context) {
		claims := util.GetUserFromContext(c)
		if claims != nil {
			now := time.Now()
			prev, loaded := lastWrite.Load(claims.UserID)
			if !loaded || now.Sub(prev.(time.Time)) >= activityInterval {
				lastWrite.Store(claims.UserID, now)
				// 异步更新，不阻塞主流程
				go func(userID uint) {
					if err := repo.UpdateLastSeen(userID); err != nil {
						logger.Log.Debug("Failed to update last seen", zap.Uint("userId", userID), zap.Error(err))
					}
				}(claims.UserID)
			}
		}
		c.Next()
	}
}
