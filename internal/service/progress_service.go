package service

import (
	"context"
	"course_platform_backend/internal/model"
	"course_platform_backend/internal/repository"
	"course_platform_backend/internal/util"
	"course_platform_backend/pkg/logger"
	"course_platform_backend/pkg/monitoring"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ProgressService struct {
	ProgressRepo *repository.ProgressRepository
	LessonRepo   *repository.LessonRepository
	Analytics    EventTracker
	Now          func() time.Time
}

func NewProgressService(progressRepo *repository.ProgressRepository, lessonRepo *repository.LessonRepository, analytics EventTracker) *ProgressService {
	return &ProgressService{
		ProgressRepo: progressRepo,
		LessonRepo:   lessonRepo,
		Analytics:    analytics,
		Now:          time.Now,
	}
}

// ReportCompletion 幂等地把课程标记为完成。重复调用保留第一次的完成时间，
// 写库失败返回 ErrProgressWrite，埋点失败不影响结果。
func (s *ProgressService) ReportCompletion(ctx context.Context, userID, lessonID uint) (*model.LessonProgress, error) {
	if _, err := s.LessonRepo.FindByID(lessonID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", util.ErrLessonNotFound, lessonID)
		}
		return nil, err
	}

	now := s.Now()
	if err := s.ProgressRepo.MarkCompleted(userID, lessonID, now); err != nil {
		monitoring.LessonCompletions.WithLabelValues("error").Inc()
		logger.Log.Error("Failed to persist lesson completion",
			zap.Uint("userId", userID),
			zap.Uint("lessonId", lessonID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", util.ErrProgressWrite, err)
	}
	monitoring.LessonCompletions.WithLabelValues("ok").Inc()

	s.track(&model.AnalyticsEvent{
		EventType: model.EventLessonCompleted,
		UserID:    userID,
		LessonID:  lessonID,
		Metadata: map[string]interface{}{
			"reportedAt": now.Format(time.RFC3339),
		},
	})

	progress, err := s.ProgressRepo.Find(userID, lessonID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrProgressWrite, err)
	}
	return progress, nil
}

type ProgressOverview struct {
	Completed int64                  `json:"completed"`
	Total     int                    `json:"total"`
	Lessons   []model.LessonProgress `json:"lessons"`
}

func (s *ProgressService) ListProgress(userID uint) (*ProgressOverview, error) {
	list, err := s.ProgressRepo.FindByUser(userID)
	if err != nil {
		return nil, err
	}
	completed, err := s.ProgressRepo.CountCompleted(userID)
	if err != nil {
		return nil, err
	}
	lessons, err := s.LessonRepo.FindAll(false)
	if err != nil {
		return nil, err
	}
	return &ProgressOverview{
		Completed: completed,
		Total:     len(lessons),
		Lessons:   list,
	}, nil
}

func (s *ProgressService) track(event *model.AnalyticsEvent) {
	if s.Analytics == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("Analytics tracker panicked", zap.Any("panic", r))
		}
	}()
	s.Analytics.Track(event)
}
