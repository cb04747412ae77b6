package model

import (
	"time"
)

// LessonProgress 每个 (user, lesson) 只有一行，只会被标记为完成
// swagger:model LessonProgress
type LessonProgress struct {
	BaseModel
	UserID      uint       `gorm:"uniqueIndex:idx_user_lesson;not null" json:"userId"`
	LessonID    uint       `gorm:"uniqueIndex:idx_user_lesson;not null" json:"lessonId"`
	Completed   bool       `gorm:"default:false" json:"completed"`
	CompletedAt *time.Time `json:"completedAt"`
}

func (LessonProgress) TableName() string {
	return "lesson_progress"
}
