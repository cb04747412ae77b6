package service

import (
	"course_platform_backend/internal/config"
	"course_platform_backend/internal/model"
	"course_platform_backend/internal/playback"
	"course_platform_backend/internal/repository"
	"course_platform_backend/internal/util"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
)

// SlideService 课程幻灯片的只读视图
type SlideService struct {
	LessonRepo *repository.LessonRepository
	Config     config.PlaybackConfig
}

func NewSlideService(lessonRepo *repository.LessonRepository, cfg config.PlaybackConfig) *SlideService {
	return &SlideService{LessonRepo: lessonRepo, Config: cfg}
}

// GetSlides 返回按 index 升序排列的幻灯片。
// 没有幻灯片的课程退化为一张由课程标题、正文、emoji 组成的合成幻灯片。
func (s *SlideService) GetSlides(lessonID uint) ([]model.Slide, error) {
	lesson, err := s.LessonRepo.FindWithSlides(lessonID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", util.ErrLessonNotFound, lessonID)
		}
		return nil, err
	}
	return s.SlidesOf(lesson), nil
}

func (s *SlideService) SlidesOf(lesson *model.Lesson) []model.Slide {
	if len(lesson.Slides) == 0 {
		return []model.Slide{{
			LessonID:          lesson.ID,
			Index:             1,
			Title:             lesson.Title,
			Content:           lesson.Content,
			Emoji:             lesson.Emoji,
			NominalDurationMs: s.defaultDurationMs(),
		}}
	}

	slides := make([]model.Slide, len(lesson.Slides))
	copy(slides, lesson.Slides)
	sort.SliceStable(slides, func(i, j int) bool {
		return slides[i].Index < slides[j].Index
	})
	for i := range slides {
		if slides[i].NominalDurationMs <= 0 {
			slides[i].NominalDurationMs = s.defaultDurationMs()
		}
	}
	return slides
}

// GetSlide 按 1-based 幻灯片编号查找
func (s *SlideService) GetSlide(lessonID uint, slideNumber int) (*model.Slide, error) {
	slides, err := s.GetSlides(lessonID)
	if err != nil {
		return nil, err
	}
	for i := range slides {
		if slides[i].Index == slideNumber {
			return &slides[i], nil
		}
	}
	return nil, fmt.Errorf("%w: lesson %d slide %d", util.ErrSlideNotFound, lessonID, slideNumber)
}

func (s *SlideService) defaultDurationMs() int {
	if s.Config.DefaultSlideDurationMs > 0 {
		return s.Config.DefaultSlideDurationMs
	}
	return model.DefaultSlideDurationMs
}

// ToPlaybackSlides 转换为播放状态机使用的结构
func ToPlaybackSlides(slides []model.Slide) []playback.Slide {
	out := make([]playback.Slide, 0, len(slides))
	for _, sl := range slides {
		out = append(out, playback.Slide{
			Index:           sl.Index,
			Title:           sl.Title,
			Content:         sl.Content,
			Emoji:           sl.Emoji,
			NominalDuration: time.Duration(sl.NominalDurationMs) * time.Millisecond,
			AudioDuration:   time.Duration(sl.AudioDurationMs) * time.Millisecond,
		})
	}
	return out
}
