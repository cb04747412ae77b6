package service

import (
	"context"
	"course_platform_backend/internal/model"
	"course_platform_backend/internal/repository"
	"course_platform_backend/internal/util"
	"course_platform_backend/pkg/logger"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type QuizService struct {
	QuizRepo   *repository.QuizRepository
	LessonRepo *repository.LessonRepository
	Scorer     *ScoringService
	Analytics  EventTracker
}

func NewQuizService(quizRepo *repository.QuizRepository, lessonRepo *repository.LessonRepository, scorer *ScoringService, analytics EventTracker) *QuizService {
	return &QuizService{
		QuizRepo:   quizRepo,
		LessonRepo: lessonRepo,
		Scorer:     scorer,
		Analytics:  analytics,
	}
}

// QuizQuestionView 题目及当前用户最近一次作答
type QuizQuestionView struct {
	model.QuizQuestion
	LastAnswer *model.QuizAnswer `json:"lastAnswer,omitempty"`
}

// ListQuestions 不返回参考答案（CorrectAnswer 不序列化）
func (s *QuizService) ListQuestions(userID, lessonID uint) ([]QuizQuestionView, error) {
	if _, err := s.LessonRepo.FindByID(lessonID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", util.ErrLessonNotFound, lessonID)
		}
		return nil, err
	}

	questions, err := s.QuizRepo.FindByLesson(lessonID)
	if err != nil {
		return nil, err
	}

	views := make([]QuizQuestionView, 0, len(questions))
	if len(questions) == 0 {
		return views, nil
	}

	ids := make([]uint, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}
	answers, err := s.QuizRepo.FindAnswersByUser(userID, ids)
	if err != nil {
		return nil, err
	}
	// answers 按时间倒序，第一条即最新
	latest := make(map[uint]*model.QuizAnswer, len(answers))
	for i := range answers {
		if _, ok := latest[answers[i].QuestionID]; !ok {
			latest[answers[i].QuestionID] = &answers[i]
		}
	}

	for _, q := range questions {
		views = append(views, QuizQuestionView{QuizQuestion: q, LastAnswer: latest[q.ID]})
	}
	return views, nil
}

// SubmitAnswer 评分并保存作答记录。评分本身不会失败，保存失败只记日志。
// 未发布课程的题目对学生按不存在处理。
func (s *QuizService) SubmitAnswer(ctx context.Context, userID, questionID uint, answer string, includeUnpublished bool) (*ScoreResult, error) {
	question, err := s.QuizRepo.FindQuestion(questionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", util.ErrQuestionNotFound, questionID)
		}
		return nil, err
	}
	if !includeUnpublished {
		lesson, err := s.LessonRepo.FindByID(question.LessonID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if err != nil || !lesson.Published {
			return nil, fmt.Errorf("%w: %d", util.ErrQuestionNotFound, questionID)
		}
	}

	result := s.Scorer.Score(ctx, question.Question, question.CorrectAnswer, answer)

	record := &model.QuizAnswer{
		UserID:     userID,
		QuestionID: question.ID,
		Answer:     answer,
		Score:      result.Score,
		IsCorrect:  result.IsCorrect,
		Feedback:   result.Feedback,
		Method:     result.Method,
	}
	if err := s.QuizRepo.SaveAnswer(record); err != nil {
		logger.Log.Error("Failed to save quiz answer",
			zap.Uint("userId", userID),
			zap.Uint("questionId", questionID),
			zap.Error(err),
		)
	}

	if s.Analytics != nil {
		s.Analytics.Track(&model.AnalyticsEvent{
			EventType: model.EventQuizAnswered,
			UserID:    userID,
			LessonID:  question.LessonID,
			Metadata: map[string]interface{}{
				"questionId": question.ID,
				"score":      result.Score,
				"isCorrect":  result.IsCorrect,
				"method":     result.Method,
			},
		})
	}

	return &result, nil
}
