package service

import (
	"course_platform_backend/internal/model"
	"course_platform_backend/internal/repository"
	"course_platform_backend/internal/util"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

type LessonService struct {
	LessonRepo *repository.LessonRepository
}

func NewLessonService(lessonRepo *repository.LessonRepository) *LessonService {
	return &LessonService{LessonRepo: lessonRepo}
}

// ListLessons 学生只能看到已发布课程，管理员可以看到全部
func (s *LessonService) ListLessons(includeUnpublished bool) ([]model.Lesson, error) {
	return s.LessonRepo.FindAll(includeUnpublished)
}

func (s *LessonService) GetLesson(id uint, includeUnpublished bool) (*model.Lesson, error) {
	lesson, err := s.LessonRepo.FindWithSlides(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", util.ErrLessonNotFound, id)
		}
		return nil, err
	}
	if !lesson.Published && !includeUnpublished {
		return nil, fmt.Errorf("%w: %d", util.ErrLessonNotFound, id)
	}
	return lesson, nil
}

// GetPlayableLesson 已发布但未开放的课程可以在目录中看到，但不能播放
func (s *LessonService) GetPlayableLesson(id uint, includeUnpublished bool) (*model.Lesson, error) {
	lesson, err := s.GetLesson(id, includeUnpublished)
	if err != nil {
		return nil, err
	}
	if !lesson.Available && !includeUnpublished {
		return nil, fmt.Errorf("%w: %d", util.ErrLessonLocked, id)
	}
	return lesson, nil
}

func (s *LessonService) SetFlags(id uint, published, available bool) (*model.Lesson, error) {
	if _, err := s.LessonRepo.FindByID(id); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", util.ErrLessonNotFound, id)
		}
		return nil, err
	}
	if err := s.LessonRepo.UpdateFlags(id, published, available); err != nil {
		return nil, err
	}
	return s.LessonRepo.FindByID(id)
}
