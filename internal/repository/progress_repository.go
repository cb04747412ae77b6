package repository

import (
	"course_platform_backend/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ProgressRepository struct {
	DB *gorm.DB
}

func NewProgressRepository(db *gorm.DB) *ProgressRepository {
	return &ProgressRepository{DB: db}
}

// MarkCompleted 幂等 upsert：重复调用不会新增行，completed_at 只在第一次写入
func (r *ProgressRepository) MarkCompleted(userID, lessonID uint, at time.Time) error {
	progress := &model.LessonProgress{
		UserID:      userID,
		LessonID:    lessonID,
		Completed:   true,
		CompletedAt: &at,
	}

	return r.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "lesson_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"completed":    true,
			"completed_at": gorm.Expr("COALESCE(completed_at, ?)", at),
			"updated_at":   at,
		}),
	}).Create(progress).Error
}

func (r *ProgressRepository) Find(userID, lessonID uint) (*model.LessonProgress, error) {
	var progress model.LessonProgress
	err := r.DB.Where("user_id = ? AND lesson_id = ?", userID, lessonID).First(&progress).Error
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

func (r *ProgressRepository) FindByUser(userID uint) ([]model.LessonProgress, error) {
	var list []model.LessonProgress
	err := r.DB.Where("user_id = ?", userID).Order("lesson_id ASC").Find(&list).Error
	return list, err
}

func (r *ProgressRepository) CountCompleted(userID uint) (int64, error) {
	var count int64
	err := r.DB.Model(&model.LessonProgress{}).
		Where("user_id = ? AND completed = ?", userID, true).
		Count(&count).Error
	return count, err
}
