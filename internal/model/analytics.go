package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	EventLessonCompleted = "lesson_completed"
	EventQuizAnswered    = "quiz_answered"
	EventAudioFallback   = "audio_fallback"
)

// AnalyticsEvent 尽力而为写入的埋点事件，只追加不修改
// swagger:model AnalyticsEvent
type AnalyticsEvent struct {
	ID        string                 `gorm:"primaryKey;type:varchar(36)" json:"id"`
	EventType string                 `gorm:"size:50;index;not null" json:"eventType"`
	UserID    uint                   `gorm:"index" json:"userId"`
	LessonID  uint                   `gorm:"index" json:"lessonId"`
	Metadata  map[string]interface{} `gorm:"type:text;serializer:json" json:"metadata"`
	CreatedAt time.Time              `gorm:"index" json:"createdAt"`
}

func (AnalyticsEvent) TableName() string {
	return "analytics_events"
}

func (e *AnalyticsEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// EventCount 按事件类型聚合
type EventCount struct {
	EventType string `json:"eventType"`
	Count     int64  `json:"count"`
}
