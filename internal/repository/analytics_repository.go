package repository

import (
	"course_platform_backend/internal/model"
	"time"

	"gorm.io/gorm"
)

type AnalyticsRepository struct {
	DB *gorm.DB
}

func NewAnalyticsRepository(db *gorm.DB) *AnalyticsRepository {
	return &AnalyticsRepository{DB: db}
}

func (r *AnalyticsRepository) Create(event *model.AnalyticsEvent) error {
	return r.DB.Create(event).Error
}

// CountByType since 为零值时统计全部
func (r *AnalyticsRepository) CountByType(since time.Time) ([]model.EventCount, error) {
	var counts []model.EventCount
	query := r.DB.Model(&model.AnalyticsEvent{}).Select("event_type, COUNT(*) AS count")
	if !since.IsZero() {
		query = query.Where("created_at >= ?", since)
	}
	err := query.Group("event_type").Order("event_type").Scan(&counts).Error
	return counts, err
}
