// @title 课程平台后端 API
// @version 1.0
// @description 课程播放、测验评分与内容同步服务。

// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name Authorization

package main

import (
	"context"
	"course_platform_backend/internal/app"
	"course_platform_backend/internal/config"
	"course_platform_backend/pkg/logger"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"
)

func main() {
	// 命令行参数
	migrateOnly := flag.Bool("migrate-only", false, "只执行数据库迁移，完成后退出")
	migrate := flag.Bool("migrate", false, "启动时强制执行数据库迁移（即使是 release 模式）")
	syncOnly := flag.Bool("sync", false, "从课程目录同步内容后退出")
	flag.Parse()

	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 设置迁移标志
	cfg.ForceMigrate = *migrate || *migrateOnly || *syncOnly
	cfg.MigrateOnly = *migrateOnly
	cfg.SyncOnly = *syncOnly

	application := app.NewApp(cfg)
	defer logger.Log.Sync()

	// 迁移完成后直接退出
	if *migrateOnly {
		log.Println("数据库迁移完成，退出程序")
		return
	}

	if *syncOnly {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		report, err := application.SyncContent(ctx)
		if err != nil {
			logger.Log.Fatal("Content sync failed", zap.Error(err))
		}
		log.Printf("同步完成: %d 个文件, 新建 %d, 更新 %d, 幻灯片 %d, 题目 %d, 缺少音频 %d, 错误 %d",
			report.Files, report.Created, report.Updated, report.Slides, report.Questions,
			len(report.MissingAudio), len(report.Errors))
		for _, e := range report.Errors {
			log.Printf("  %s: %s", e.File, e.Error)
		}
		return
	}

	application.Run()
}
