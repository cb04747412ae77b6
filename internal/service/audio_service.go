package service

import (
	"context"
	"course_platform_backend/internal/config"
	"course_platform_backend/pkg/logger"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AudioStore 音频资源所在的存储，StorageService 实现了它
type AudioStore interface {
	Upload(ctx context.Context, filename string, reader io.Reader, size int64, contentType string) (string, error)
	Delete(ctx context.Context, filename string) error
	Exists(ctx context.Context, filename string) (bool, error)
	GetURL(filename string) string
	LocalPath(filename string) (string, bool)
}

// AudioAsset 一张幻灯片的可播放音频
type AudioAsset struct {
	LessonID    uint   `json:"lessonId"`
	SlideNumber int    `json:"slideNumber"`
	Key         string `json:"key"`
	URL         string `json:"url"`
}

type AudioService struct {
	Store  AudioStore
	Redis  *redis.Client
	Config config.ContentConfig
}

func NewAudioService(store AudioStore, rdb *redis.Client, cfg config.ContentConfig) *AudioService {
	return &AudioService{Store: store, Redis: rdb, Config: cfg}
}

// AudioKey 确定性的对象名：{prefix}/lesson-{id}/slide-{n}.mp3
func (s *AudioService) AudioKey(lessonID uint, slideNumber int) string {
	prefix := s.Config.AudioPrefix
	if prefix == "" {
		prefix = "audio"
	}
	return path.Join(prefix, fmt.Sprintf("lesson-%d", lessonID), fmt.Sprintf("slide-%d.mp3", slideNumber))
}

// ResolveAudio 只做查找，不生成音频。不存在或存储出错时返回 nil，调用方改用定时器推进。
func (s *AudioService) ResolveAudio(ctx context.Context, lessonID uint, slideNumber int) *AudioAsset {
	if slideNumber < 1 {
		return nil
	}

	key := s.AudioKey(lessonID, slideNumber)
	exists, cached := s.cachedExists(ctx, lessonID, slideNumber)
	if !cached {
		var err error
		exists, err = s.Store.Exists(ctx, key)
		if err != nil {
			logger.Log.Warn("Audio lookup failed",
				zap.Uint("lessonId", lessonID),
				zap.Int("slide", slideNumber),
				zap.String("key", key),
				zap.Error(err),
			)
			return nil
		}
		s.cacheExists(ctx, lessonID, slideNumber, exists)
	}

	if !exists {
		return nil
	}
	return &AudioAsset{
		LessonID:    lessonID,
		SlideNumber: slideNumber,
		Key:         key,
		URL:         s.Store.GetURL(key),
	}
}

// ResolveLesson 并发解析多张幻灯片，结果按幻灯片编号索引，缺失的不在 map 中
func (s *AudioService) ResolveLesson(ctx context.Context, lessonID uint, slideNumbers []int) map[int]*AudioAsset {
	var (
		mu     sync.Mutex
		assets = make(map[int]*AudioAsset, len(slideNumbers))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency())
	for _, n := range slideNumbers {
		n := n
		g.Go(func() error {
			if asset := s.ResolveAudio(gctx, lessonID, n); asset != nil {
				mu.Lock()
				assets[n] = asset
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return assets
}

// InvalidateLesson 清除课程的音频存在性缓存，内容同步或上传后调用
func (s *AudioService) InvalidateLesson(ctx context.Context, lessonID uint) {
	if s.Redis == nil {
		return
	}

	pattern := fmt.Sprintf("audio:lesson:%d:slide:*", lessonID)
	iter := s.Redis.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logger.Log.Warn("Failed to scan audio cache", zap.Uint("lessonId", lessonID), zap.Error(err))
		return
	}
	if len(keys) > 0 {
		if err := s.Redis.Del(ctx, keys...).Err(); err != nil {
			logger.Log.Warn("Failed to invalidate audio cache", zap.Uint("lessonId", lessonID), zap.Error(err))
		}
	}
}

func (s *AudioService) cacheKey(lessonID uint, slideNumber int) string {
	return fmt.Sprintf("audio:lesson:%d:slide:%d", lessonID, slideNumber)
}

func (s *AudioService) cachedExists(ctx context.Context, lessonID uint, slideNumber int) (exists bool, ok bool) {
	if s.Redis == nil {
		return false, false
	}
	val, err := s.Redis.Get(ctx, s.cacheKey(lessonID, slideNumber)).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Log.Debug("Audio cache read failed", zap.Error(err))
		}
		return false, false
	}
	return val == "1", true
}

func (s *AudioService) cacheExists(ctx context.Context, lessonID uint, slideNumber int, exists bool) {
	if s.Redis == nil {
		return
	}
	val := "0"
	if exists {
		val = "1"
	}
	if err := s.Redis.Set(ctx, s.cacheKey(lessonID, slideNumber), val, s.ttl()).Err(); err != nil {
		logger.Log.Debug("Audio cache write failed", zap.Error(err))
	}
}

func (s *AudioService) ttl() time.Duration {
	if s.Config.AudioCacheTTLMinute > 0 {
		return time.Duration(s.Config.AudioCacheTTLMinute) * time.Minute
	}
	return 10 * time.Minute
}

func (s *AudioService) concurrency() int {
	if s.Config.ProbeConcurrency > 0 {
		return s.Config.ProbeConcurrency
	}
	return 4
}
