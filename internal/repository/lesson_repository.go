package repository

import (
	"course_platform_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LessonRepository struct {
	DB *gorm.DB
}

func NewLessonRepository(db *gorm.DB) *LessonRepository {
	return &LessonRepository{DB: db}
}

func (r *LessonRepository) FindAll(includeUnpublished bool) ([]model.Lesson, error) {
	var lessons []model.Lesson
	query := r.DB.Order("`order` ASC")
	if !includeUnpublished {
		query = query.Where("published = ?", true)
	}
	err := query.Find(&lessons).Error
	return lessons, err
}

func (r *LessonRepository) FindByID(id uint) (*model.Lesson, error) {
	var lesson model.Lesson
	err := r.DB.First(&lesson, id).Error
	if err != nil {
		return nil, err
	}
	return &lesson, nil
}

// FindWithSlides 幻灯片按 index 升序，相同 index 按主键（插入顺序）
func (r *LessonRepository) FindWithSlides(id uint) (*model.Lesson, error) {
	var lesson model.Lesson
	err := r.DB.Preload("Slides", func(db *gorm.DB) *gorm.DB {
		return db.Order("`index` ASC, id ASC")
	}).First(&lesson, id).Error
	if err != nil {
		return nil, err
	}
	return &lesson, nil
}

func (r *LessonRepository) FindByOrder(tx *gorm.DB, order int) (*model.Lesson, error) {
	var lesson model.Lesson
	err := tx.Where("`order` = ?", order).First(&lesson).Error
	if err != nil {
		return nil, err
	}
	return &lesson, nil
}

func (r *LessonRepository) UpdateFlags(id uint, published, available bool) error {
	return r.DB.Model(&model.Lesson{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"published": published, "available": available}).
		Error
}

// SaveWithSlides 在事务内写入课程并按 index upsert 幻灯片，多余的旧幻灯片删除。
// Content 总是由幻灯片重新计算；没有幻灯片时保留调用方提供的 Content。
// 已探测到的 audio_duration_ms 不会被覆盖。
func (r *LessonRepository) SaveWithSlides(tx *gorm.DB, lesson *model.Lesson, slides []model.Slide) error {
	if len(slides) > 0 {
		lesson.Content = model.JoinSlideContents(slides)
	}
	lesson.Slides = nil

	if err := tx.Save(lesson).Error; err != nil {
		return err
	}

	maxIndex := 0
	for i := range slides {
		slides[i].ID = 0
		slides[i].LessonID = lesson.ID
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "lesson_id"}, {Name: "index"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "content", "emoji", "nominal_duration_ms", "updated_at"}),
		}).Create(&slides[i]).Error
		if err != nil {
			return err
		}
		if slides[i].Index > maxIndex {
			maxIndex = slides[i].Index
		}
	}

	if err := tx.Unscoped().
		Where("lesson_id = ? AND `index` > ?", lesson.ID, maxIndex).
		Delete(&model.Slide{}).Error; err != nil {
		return err
	}

	lesson.Slides = slides
	return nil
}

func (r *LessonRepository) UpdateSlideAudioDuration(lessonID uint, index int, durationMs int) error {
	return r.DB.Model(&model.Slide{}).
		Where("lesson_id = ? AND `index` = ?", lessonID, index).
		Update("audio_duration_ms", durationMs).
		Error
}
