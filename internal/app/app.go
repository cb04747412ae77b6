package app

import (
	"context"
	"course_platform_backend/internal/config"
	"course_platform_backend/internal/controller"
	"course_platform_backend/internal/repository"
	"course_platform_backend/internal/service"
	"course_platform_backend/internal/util"
	"course_platform_backend/pkg/database"
	"course_platform_backend/pkg/filewatch"
	"course_platform_backend/pkg/logger"
	"course_platform_backend/pkg/monitoring"
	"course_platform_backend/pkg/security"
	"course_platform_backend/pkg/tracing"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config *config.Config
	Router *gin.Engine
	DB     *gorm.DB
	Redis  *redis.Client

	services        *services
	tracer          *sdktrace.TracerProvider
	limiter         *security.RateLimiter
	configMu        sync.Mutex
	configCallbacks []func(*config.Config)
	cancel          context.CancelFunc
	background      sync.WaitGroup
}

type repositories struct {
	user      *repository.UserRepository
	lesson    *repository.LessonRepository
	progress  *repository.ProgressRepository
	quiz      *repository.QuizRepository
	analytics *repository.AnalyticsRepository
}

type services struct {
	storage     *service.StorageService
	auth        *service.AuthService
	lesson      *service.LessonService
	slide       *service.SlideService
	audio       *service.AudioService
	analytics   *service.AnalyticsService
	progress    *service.ProgressService
	scoring     *service.ScoringService
	quiz        *service.QuizService
	contentSync *service.ContentSyncService
	playbackHub *service.PlaybackHub
}

type controllers struct {
	auth    *controller.AuthController
	lesson  *controller.LessonController
	quiz    *controller.QuizController
	content *controller.ContentController
	health  *controller.HealthController
}

// RegisterConfigCallback 配置文件变更并重新加载成功后调用
func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configMu.Lock()
	defer a.configMu.Unlock()
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		user:      repository.NewUserRepository(db),
		lesson:    repository.NewLessonRepository(db),
		progress:  repository.NewProgressRepository(db),
		quiz:      repository.NewQuizRepository(db),
		analytics: repository.NewAnalyticsRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB, rdb *redis.Client) *services {
	s := &services{}

	s.storage = service.NewStorageService(cfg)
	s.auth = service.NewAuthService(repos.user, cfg)
	s.lesson = service.NewLessonService(repos.lesson)
	s.slide = service.NewSlideService(repos.lesson, cfg.Playback)
	s.audio = service.NewAudioService(s.storage, rdb, cfg.Content)
	s.analytics = service.NewAnalyticsService(repos.analytics, rdb, cfg.Analytics)
	s.progress = service.NewProgressService(repos.progress, repos.lesson, s.analytics)

	s.scoring = service.NewScoringService(service.NewAIJudge(service.NewAIService(cfg.AI)), cfg.Scoring)
	s.quiz = service.NewQuizService(repos.quiz, repos.lesson, s.scoring, s.analytics)

	s.contentSync = service.NewContentSyncService(db, repos.lesson, repos.quiz, s.audio, s.slide, cfg)

	s.playbackHub = service.NewPlaybackHub(
		s.lesson,
		s.slide,
		s.audio,
		s.progress,
		s.analytics,
		cfg.Playback,
		cfg.CORS.AllowedOrigins,
	)

	// 评分阈值、超时和 AI 接口支持热更新
	a.RegisterConfigCallback(func(newCfg *config.Config) {
		s.scoring.Reload(service.NewAIJudge(service.NewAIService(newCfg.AI)), newCfg.Scoring)
		logger.Log.Info("Scoring config reloaded",
			zap.Int("judgeTimeoutSeconds", newCfg.Scoring.JudgeTimeoutSeconds),
			zap.Bool("aiEnabled", newCfg.AI.Enabled()),
		)
	})

	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:    controller.NewAuthController(s.auth),
		lesson:  controller.NewLessonController(s.lesson, s.slide, s.audio, s.progress, s.playbackHub),
		quiz:    controller.NewQuizController(s.lesson, s.quiz),
		content: controller.NewContentController(s.lesson, s.contentSync, s.analytics),
		health:  controller.NewHealthController(db, rdb, a.Config.Content.LessonsDir),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())

	maxRequests := cfg.RateLimit.MaxRequests
	if maxRequests <= 0 {
		maxRequests = 600
	}
	window := time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute
	if window <= 0 {
		window = time.Minute
	}
	a.limiter = security.NewRateLimiter(maxRequests, window)
	router.Use(a.limiter.Middleware())

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks 限流器清理、配置热更新和课程目录监听
func (a *App) startBackgroundTasks(ctx context.Context, s *services) {
	a.background.Add(1)
	go func() {
		defer a.background.Done()
		a.limiter.Run(ctx)
	}()

	a.background.Add(1)
	go func() {
		defer a.background.Done()
		err := filewatch.WatchConfig(ctx, a.Config.ConfigFile(), a.reloadConfig)
		if err != nil {
			logger.Log.Warn("Config watcher not started", zap.String("file", a.Config.ConfigFile()), zap.Error(err))
		}
	}()

	if !a.Config.Content.Watch {
		return
	}

	a.background.Add(1)
	go func() {
		defer a.background.Done()
		err := filewatch.Watch(ctx, []string{a.Config.Content.LessonsDir}, 2*time.Second, func() {
			report, err := s.contentSync.SyncAll(ctx)
			if err != nil {
				logger.Log.Error("Lesson re-sync failed", zap.Error(err))
				return
			}
			logger.Log.Info("Lessons re-synced after change",
				zap.Int("files", report.Files),
				zap.Int("errors", len(report.Errors)),
			)
		})
		if err != nil {
			logger.Log.Warn("Lessons watcher not started", zap.String("dir", a.Config.Content.LessonsDir), zap.Error(err))
		}
	}()
}

func (a *App) reloadConfig() {
	newCfg, err := config.LoadConfig(a.Config.ConfigDir)
	if err != nil {
		logger.Log.Error("Failed to reload config", zap.Error(err))
		return
	}

	a.configMu.Lock()
	callbacks := append([]func(*config.Config){}, a.configCallbacks...)
	a.configMu.Unlock()

	for _, cb := range callbacks {
		cb(newCfg)
	}
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode, cfg.ForceMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	app := &App{
		Config: cfg,
		DB:     db,
	}
	if cfg.MigrateOnly {
		return app
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
	}
	app.Redis = rdb

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, db, rdb)
	app.services = services
	controllers := app.initControllers(services, db, rdb)

	// 监控初始化
	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("course-platform", cfg.Tracing)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, repos, cfg)

	if cfg.Storage.Type == util.StorageLocal {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	return app
}

// SyncContent 命令行同步入口，同步完成后返回
func (a *App) SyncContent(ctx context.Context) (*service.SyncReport, error) {
	return a.services.contentSync.SyncAll(ctx)
}

func (a *App) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.startBackgroundTasks(ctx, a.services)

	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	a.cancel()
	a.background.Wait()

	// 关闭播放会话，等待埋点写完
	a.services.playbackHub.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}
	a.services.analytics.Wait()

	if a.tracer != nil {
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}

	logger.Log.Sync()
	log.Println("Server exiting")
}
