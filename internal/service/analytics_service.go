package service

import (
	"context"
	"course_platform_backend/internal/config"
	"course_platform_backend/internal/model"
	"course_platform_backend/internal/repository"
	"course_platform_backend/pkg/logger"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// EventTracker 埋点接收方，只做尽力而为的投递
type EventTracker interface {
	Track(event *model.AnalyticsEvent)
}

// AnalyticsService 写库并通过 Redis 频道广播，失败只记日志
type AnalyticsService struct {
	Repo   *repository.AnalyticsRepository
	Redis  *redis.Client
	Config config.AnalyticsConfig

	wg sync.WaitGroup
}

func NewAnalyticsService(repo *repository.AnalyticsRepository, rdb *redis.Client, cfg config.AnalyticsConfig) *AnalyticsService {
	return &AnalyticsService{Repo: repo, Redis: rdb, Config: cfg}
}

// Track 异步投递，不阻塞调用方
func (s *AnalyticsService) Track(event *model.AnalyticsEvent) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Record(ctx, event); err != nil {
			logger.Log.Error("Failed to emit analytics event",
				zap.String("eventType", event.EventType),
				zap.Uint("userId", event.UserID),
				zap.Uint("lessonId", event.LessonID),
				zap.Error(err),
			)
		}
	}()
}

// Record 同步写入，Redis 广播失败不影响返回值
func (s *AnalyticsService) Record(ctx context.Context, event *model.AnalyticsEvent) error {
	if err := s.Repo.Create(event); err != nil {
		return err
	}

	if s.Redis == nil || s.Config.RedisChannel == "" {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil
	}
	if err := s.Redis.Publish(ctx, s.Config.RedisChannel, payload).Err(); err != nil {
		logger.Log.Warn("Analytics publish failed", zap.String("channel", s.Config.RedisChannel), zap.Error(err))
	}
	return nil
}

// Wait 等待所有进行中的投递，停机时调用
func (s *AnalyticsService) Wait() {
	s.wg.Wait()
}

// Summary 按事件类型统计数量，已知类型即使没有事件也返回 0
func (s *AnalyticsService) Summary(since time.Time) (map[string]int64, error) {
	counts, err := s.Repo.CountByType(since)
	if err != nil {
		return nil, err
	}

	summary := map[string]int64{
		model.EventLessonCompleted: 0,
		model.EventQuizAnswered:    0,
		model.EventAudioFallback:   0,
	}
	for _, c := range counts {
		summary[c.EventType] = c.Count
	}
	return summary, nil
}
