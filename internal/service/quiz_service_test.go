package service

import (
	"context"
	"course_platform_backend/internal/model"
	"course_platform_backend/internal/repository"
	"course_platform_backend/internal/testutil"
	"course_platform_backend/internal/util"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestQuizService_SubmitAndList(t *testing.T) {
	db := testutil.NewTestDB(t)
	lesson := seedLesson(t, db, 1)
	quizRepo := repository.NewQuizRepository(db)

	questions := []model.QuizQuestion{
		{Question: "Capital of France?", CorrectAnswer: "Paris", Difficulty: model.DifficultyEasy, Points: 10},
		{Question: "Largest planet?", CorrectAnswer: "Jupiter", Difficulty: model.DifficultyEasy, Points: 10},
	}
	if err := quizRepo.ReplaceForLesson(db, lesson.ID, questions); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}

	tracker := &recordingTracker{}
	svc := NewQuizService(quizRepo, repository.NewLessonRepository(db), NewScoringService(nil, testScoringConfig()), tracker)

	result, err := svc.SubmitAnswer(context.Background(), 5, questions[0].ID, "paris", false)
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if !result.IsCorrect || result.Score != 100 {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(tracker.events) != 1 || tracker.events[0].EventType != model.EventQuizAnswered {
		t.Fatalf("expected a quiz_answered event")
	}

	views, err := svc.ListQuestions(5, lesson.ID)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(views))
	}
	if views[0].LastAnswer == nil || views[0].LastAnswer.Score != 100 || views[1].LastAnswer != nil {
		t.Fatalf("unexpected last answers %+v %+v", views[0].LastAnswer, views[1].LastAnswer)
	}

	raw, _ := json.Marshal(views)
	if strings.Contains(string(raw), "Jupiter") {
		t.Fatalf("reference answers must not be serialized: %s", raw)
	}
}

func TestQuizService_NotFound(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewQuizService(repository.NewQuizRepository(db), repository.NewLessonRepository(db), NewScoringService(nil, testScoringConfig()), nil)

	if _, err := svc.SubmitAnswer(context.Background(), 1, 77, "x", false); !errors.Is(err, util.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound, got %v", err)
	}
	if _, err := svc.ListQuestions(1, 77); !errors.Is(err, util.ErrLessonNotFound) {
		t.Fatalf("expected ErrLessonNotFound, got %v", err)
	}
}

func TestQuizService_HidesUnpublishedQuestions(t *testing.T) {
	db := testutil.NewTestDB(t)
	lessonRepo := repository.NewLessonRepository(db)
	lesson := &model.Lesson{Order: 1, Title: "Draft", Published: false}
	if err := lessonRepo.SaveWithSlides(db, lesson, nil); err != nil {
		t.Fatalf("seed lesson: %v", err)
	}
	quizRepo := repository.NewQuizRepository(db)
	questions := []model.QuizQuestion{{Question: "Capital of France?", CorrectAnswer: "Paris", Points: 10}}
	if err := quizRepo.ReplaceForLesson(db, lesson.ID, questions); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}

	svc := NewQuizService(quizRepo, lessonRepo, NewScoringService(nil, testScoringConfig()), nil)
	if _, err := svc.SubmitAnswer(context.Background(), 5, questions[0].ID, "paris", false); !errors.Is(err, util.ErrQuestionNotFound) {
		t.Fatalf("expected ErrQuestionNotFound for a draft lesson, got %v", err)
	}
	answers, err := quizRepo.FindAnswersByUser(5, []uint{questions[0].ID})
	if err != nil || len(answers) != 0 {
		t.Fatalf("refused answer must not be stored, got %d, %v", len(answers), err)
	}

	result, err := svc.SubmitAnswer(context.Background(), 1, questions[0].ID, "paris", true)
	if err != nil || !result.IsCorrect {
		t.Fatalf("admin answer: %+v, %v", result, err)
	}
}
