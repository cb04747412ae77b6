// 手动同步课程内容脚本
//
// 与 `main -sync` 相同，但不初始化 HTTP 路由，适合在 CI 或内容仓库的钩子里执行。
// 可以指定单独的课程目录覆盖配置文件中的 content.lessons_dir。
//
// 用法: go run scripts/sync_lessons.go [-dir content/lessons] [-config configs]

package main

import (
	"context"
	"course_platform_backend/internal/config"
	"course_platform_backend/internal/repository"
	"course_platform_backend/internal/service"
	"course_platform_backend/pkg/database"
	"course_platform_backend/pkg/logger"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"
)

func main() {
	configDir := flag.String("config", "configs", "配置文件目录")
	lessonsDir := flag.String("dir", "", "课程 YAML 目录")
	flag.Parse()

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}
	if *lessonsDir != "" {
		cfg.Content.LessonsDir = *lessonsDir
	}

	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode, true)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}
	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		log.Printf("Redis 不可用，跳过缓存失效: %v", err)
		rdb = nil
	}

	lessonRepo := repository.NewLessonRepository(db)
	quizRepo := repository.NewQuizRepository(db)
	audio := service.NewAudioService(service.NewStorageService(cfg), rdb, cfg.Content)
	slides := service.NewSlideService(lessonRepo, cfg.Playback)
	syncService := service.NewContentSyncService(db, lessonRepo, quizRepo, audio, slides, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	log.Printf("开始同步 %s ...", cfg.Content.LessonsDir)
	report, err := syncService.SyncAll(ctx)
	if err != nil {
		log.Fatalf("同步失败: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(report)

	if len(report.Errors) > 0 {
		os.Exit(1)
	}
	log.Println("完成！")
}
