package app

import (
	"course_platform_backend/docs"
	"course_platform_backend/internal/config"
	"course_platform_backend/internal/middleware"
	"course_platform_backend/internal/model"
	"course_platform_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	a.registerPublicRoutes(router, c)

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg.JWT.Secret), middleware.ActivityMiddleware(repos.user))
	{
		a.registerStudentRoutes(authGroup, c)
	}

	// 3. 管理员相关接口
	a.registerAdminRoutes(router, c, repos, cfg)
}

func (a *App) registerPublicRoutes(router *gin.Engine, c *controllers) {
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}
}

func (a *App) registerStudentRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.GET("/profile", c.auth.GetProfile)

	// 课程
	rg.GET("/lessons", c.lesson.ListLessons)
	rg.GET("/lessons/:id", c.lesson.GetLesson)
	rg.GET("/lessons/:id/slides", c.lesson.GetSlides)
	rg.GET("/lessons/:id/slides/:n/audio", c.lesson.GetSlideAudio)
	rg.GET("/lessons/:id/play", c.lesson.Play)

	// 学习进度
	rg.POST("/lessons/:id/complete", c.lesson.Complete)
	rg.GET("/progress", c.lesson.GetProgress)

	// 测验
	rg.GET("/lessons/:id/quiz", c.quiz.ListQuestions)
	rg.POST("/quiz/questions/:id/answer", c.quiz.SubmitAnswer)
}

func (a *App) registerAdminRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	admin := router.Group("/api/admin")
	admin.Use(
		middleware.AuthMiddleware(cfg.JWT.Secret),
		middleware.ActivityMiddleware(repos.user),
		middleware.RoleMiddleware(model.Admin),
	)
	{
		admin.GET("/lessons", c.content.ListAllLessons)
		admin.PATCH("/lessons/:id", c.content.UpdateLesson)
		admin.GET("/lessons/:id/audio", c.content.GetAudioReport)
		admin.PUT("/lessons/:id/slides/:n/audio", c.content.UploadSlideAudio)
		admin.DELETE("/lessons/:id/slides/:n/audio", c.content.DeleteSlideAudio)

		admin.POST("/content/sync", c.content.SyncContent)
		admin.GET("/analytics", c.content.GetAnalyticsSummary)
	}
}
