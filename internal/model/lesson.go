package model

import (
	"sort"
	"strings"
)

// SlideContentSeparator 拼接幻灯片内容生成 Lesson.Content
const SlideContentSeparator = "\n\n"

// DefaultSlideDurationMs 没有音频时每张幻灯片的默认时长
const DefaultSlideDurationMs = 30000

// swagger:model Lesson
type Lesson struct {
	BaseModel
	Order       int     `gorm:"uniqueIndex;not null" json:"order"`
	Title       string  `gorm:"size:255;not null" json:"title"`
	Description string  `gorm:"type:text" json:"description"`
	Content     string  `gorm:"type:text" json:"content"`
	Emoji       string  `gorm:"size:32" json:"emoji"`
	Duration    int     `gorm:"default:0" json:"duration"` // 分钟
	Published   bool    `gorm:"default:false" json:"published"`
	Available   bool    `gorm:"default:false" json:"available"`
	Slides      []Slide `gorm:"foreignKey:LessonID" json:"slides,omitempty"`
}

func (Lesson) TableName() string {
	return "lessons"
}

// swagger:model Slide
type Slide struct {
	BaseModel
	LessonID          uint   `gorm:"uniqueIndex:idx_lesson_slide;not null" json:"lessonId"`
	Index             int    `gorm:"uniqueIndex:idx_lesson_slide;not null" json:"index"`
	Title             string `gorm:"size:255" json:"title"`
	Content           string `gorm:"type:text" json:"content"`
	Emoji             string `gorm:"size:32" json:"emoji"`
	NominalDurationMs int    `gorm:"not null" json:"nominalDurationMs"`
	AudioDurationMs   int    `gorm:"default:0" json:"audioDurationMs"` // 0 表示未知
}

func (Slide) TableName() string {
	return "slides"
}

// JoinSlideContents 按 index 顺序拼接幻灯片内容，得到课程正文
func JoinSlideContents(slides []Slide) string {
	ordered := make([]Slide, len(slides))
	copy(ordered, slides)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	parts := make([]string, 0, len(ordered))
	for _, s := range ordered {
		parts = append(parts, s.Content)
	}
	return strings.Join(parts, SlideContentSeparator)
}
