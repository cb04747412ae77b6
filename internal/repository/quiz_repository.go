package repository

import (
	"course_platform_backend/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QuizRepository struct {
	DB *gorm.DB
}

func NewQuizRepository(db *gorm.DB) *QuizRepository {
	return &QuizRepository{DB: db}
}

func (r *QuizRepository) FindByLesson(lessonID uint) ([]model.QuizQuestion, error) {
	var questions []model.QuizQuestion
	err := r.DB.Where("lesson_id = ?", lessonID).Order("position ASC").Find(&questions).Error
	return questions, err
}

func (r *QuizRepository) FindQuestion(id uint) (*model.QuizQuestion, error) {
	var q model.QuizQuestion
	if err := r.DB.First(&q, id).Error; err != nil {
		return nil, err
	}
	return &q, nil
}

// ReplaceForLesson 按 position upsert，多余的旧题目删除
func (r *QuizRepository) ReplaceForLesson(tx *gorm.DB, lessonID uint, questions []model.QuizQuestion) error {
	for i := range questions {
		questions[i].LessonID = lessonID
		questions[i].Position = i + 1
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "lesson_id"}, {Name: "position"}},
			DoUpdates: clause.AssignmentColumns([]string{"question", "correct_answer", "difficulty", "points", "updated_at"}),
		}).Create(&questions[i]).Error
		if err != nil {
			return err
		}
	}

	return tx.Unscoped().
		Where("lesson_id = ? AND position > ?", lessonID, len(questions)).
		Delete(&model.QuizQuestion{}).Error
}

func (r *QuizRepository) SaveAnswer(answer *model.QuizAnswer) error {
	return r.DB.Create(answer).Error
}

func (r *QuizRepository) FindAnswersByUser(userID uint, questionIDs []uint) ([]model.QuizAnswer, error) {
	var answers []model.QuizAnswer
	err := r.DB.Where("user_id = ? AND question_id IN ?", userID, questionIDs).
		Order("created_at DESC").
		Find(&answers).Error
	return answers, err
}
