package service

import (
	"context"
	"course_platform_backend/internal/model"
	"course_platform_backend/internal/repository"
	"course_platform_backend/internal/testutil"
	"course_platform_backend/internal/util"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
)

type recordingTracker struct {
	mu     sync.Mutex
	events []*model.AnalyticsEvent
	panics bool
}

func (r *recordingTracker) Track(event *model.AnalyticsEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
	if r.panics {
		panic("analytics sink down")
	}
}

func seedLesson(t *testing.T, db *gorm.DB, order int) *model.Lesson {
	t.Helper()
	lesson := &model.Lesson{Order: order, Title: "Lesson", Published: true, Available: true}
	slides := []model.Slide{
		{Index: 1, Title: "One", Content: "first", NominalDurationMs: 1000},
		{Index: 2, Title: "Two", Content: "second", NominalDurationMs: 1000},
	}
	if err := repository.NewLessonRepository(db).SaveWithSlides(db, lesson, slides); err != nil {
		t.Fatalf("seed lesson: %v", err)
	}
	return lesson
}

func TestReportCompletion_IsIdempotent(t *testing.T) {
	db := testutil.NewTestDB(t)
	lesson := seedLesson(t, db, 1)
	tracker := &recordingTracker{}

	svc := NewProgressService(repository.NewProgressRepository(db), repository.NewLessonRepository(db), tracker)
	first := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc.Now = func() time.Time { return first }

	p1, err := svc.ReportCompletion(context.Background(), 7, lesson.ID)
	if err != nil {
		t.Fatalf("first report: %v", err)
	}

	svc.Now = func() time.Time { return first.Add(time.Hour) }
	p2, err := svc.ReportCompletion(context.Background(), 7, lesson.ID)
	if err != nil {
		t.Fatalf("second report: %v", err)
	}

	var count int64
	db.Model(&model.LessonProgress{}).Where("user_id = ? AND lesson_id = ?", 7, lesson.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one progress row, got %d", count)
	}
	if !p2.Completed || p2.CompletedAt == nil {
		t.Fatalf("progress must be completed, got %+v", p2)
	}
	if !p2.CompletedAt.Equal(*p1.CompletedAt) || !p1.CompletedAt.Equal(first) {
		t.Fatalf("completed_at must keep the first report time: %v vs %v", p1.CompletedAt, p2.CompletedAt)
	}
	if len(tracker.events) != 2 || tracker.events[0].EventType != model.EventLessonCompleted {
		t.Fatalf("expected a completion event per report, got %d", len(tracker.events))
	}
}

func TestReportCompletion_AnalyticsFailureDoesNotFail(t *testing.T) {
	db := testutil.NewTestDB(t)
	lesson := seedLesson(t, db, 1)

	svc := NewProgressService(repository.NewProgressRepository(db), repository.NewLessonRepository(db), &recordingTracker{panics: true})
	if _, err := svc.ReportCompletion(context.Background(), 1, lesson.ID); err != nil {
		t.Fatalf("analytics failure must not fail completion: %v", err)
	}
}

func TestReportCompletion_UnknownLesson(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewProgressService(repository.NewProgressRepository(db), repository.NewLessonRepository(db), nil)

	if _, err := svc.ReportCompletion(context.Background(), 1, 42); !errors.Is(err, util.ErrLessonNotFound) {
		t.Fatalf("expected ErrLessonNotFound, got %v", err)
	}
}

func TestReportCompletion_PersistenceError(t *testing.T) {
	db := testutil.NewTestDB(t)
	lesson := seedLesson(t, db, 1)
	svc := NewProgressService(repository.NewProgressRepository(db), repository.NewLessonRepository(db), nil)

	if err := db.Migrator().DropTable(&model.LessonProgress{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	if _, err := svc.ReportCompletion(context.Background(), 1, lesson.ID); !errors.Is(err, util.ErrProgressWrite) {
		t.Fatalf("expected ErrProgressWrite, got %v", err)
	}
}

func TestListProgress(t *testing.T) {
	db := testutil.NewTestDB(t)
	l1 := seedLesson(t, db, 1)
	seedLesson(t, db, 2)

	svc := NewProgressService(repository.NewProgressRepository(db), repository.NewLessonRepository(db), nil)
	if _, err := svc.ReportCompletion(context.Background(), 3, l1.ID); err != nil {
		t.Fatalf("report: %v", err)
	}

	overview, err := svc.ListProgress(3)
	if err != nil {
		t.Fatalf("ListProgress: %v", err)
	}
	if overview.Completed != 1 || overview.Total != 2 || len(overview.Lessons) != 1 {
		t.Fatalf("unexpected overview %+v", overview)
	}
}
