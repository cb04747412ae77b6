package service

import (
	"course_platform_backend/internal/config"
	"course_platform_backend/internal/model"
	"course_platform_backend/internal/repository"
	"course_platform_backend/internal/testutil"
	"course_platform_backend/internal/util"
	"errors"
	"testing"
	"time"
)

func TestGetSlides_SortedByIndex(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewLessonRepository(db)

	lesson := &model.Lesson{Order: 1, Title: "Sorted"}
	slides := []model.Slide{
		{Index: 3, Content: "c", NominalDurationMs: 1000},
		{Index: 1, Content: "a", NominalDurationMs: 1000},
		{Index: 2, Content: "b", NominalDurationMs: 1000},
	}
	if err := repo.SaveWithSlides(db, lesson, slides); err != nil {
		t.Fatalf("SaveWithSlides: %v", err)
	}

	svc := NewSlideService(repo, config.PlaybackConfig{})
	got, err := svc.GetSlides(lesson.ID)
	if err != nil {
		t.Fatalf("GetSlides: %v", err)
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Index != i+1 || got[i].Content != want {
			t.Fatalf("slide %d: got index %d content %q", i, got[i].Index, got[i].Content)
		}
	}
}

func TestSlidesOf_StableForEqualIndexes(t *testing.T) {
	svc := NewSlideService(nil, config.PlaybackConfig{})
	lesson := &model.Lesson{Slides: []model.Slide{
		{Index: 2, Title: "second"},
		{Index: 1, Title: "first-a"},
		{Index: 1, Title: "first-b"},
	}}

	got := svc.SlidesOf(lesson)
	if got[0].Title != "first-a" || got[1].Title != "first-b" || got[2].Title != "second" {
		t.Fatalf("unexpected order %q %q %q", got[0].Title, got[1].Title, got[2].Title)
	}
	if got[0].NominalDurationMs != model.DefaultSlideDurationMs {
		t.Fatalf("missing duration should default, got %d", got[0].NominalDurationMs)
	}
	if lesson.Slides[0].Title != "second" {
		t.Fatalf("SlidesOf must not reorder the lesson's own slice")
	}
}

func TestGetSlides_SynthesizesSingleSlide(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewLessonRepository(db)

	lesson := &model.Lesson{Order: 1, Title: "Plain", Content: "All the text.", Emoji: "📘"}
	if err := repo.SaveWithSlides(db, lesson, nil); err != nil {
		t.Fatalf("SaveWithSlides: %v", err)
	}

	svc := NewSlideService(repo, config.PlaybackConfig{})
	got, err := svc.GetSlides(lesson.ID)
	if err != nil {
		t.Fatalf("GetSlides: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one synthetic slide, got %d", len(got))
	}
	s := got[0]
	if s.Index != 1 || s.Title != "Plain" || s.Content != "All the text." || s.Emoji != "📘" || s.NominalDurationMs != 30000 {
		t.Fatalf("unexpected synthetic slide %+v", s)
	}

	playbackSlides := ToPlaybackSlides(got)
	if playbackSlides[0].NominalDuration != 30*time.Second {
		t.Fatalf("unexpected playback duration %v", playbackSlides[0].NominalDuration)
	}
}

func TestGetSlides_NotFound(t *testing.T) {
	db := testutil.NewTestDB(t)
	svc := NewSlideService(repository.NewLessonRepository(db), config.PlaybackConfig{})

	if _, err := svc.GetSlides(99); !errors.Is(err, util.ErrLessonNotFound) {
		t.Fatalf("expected ErrLessonNotFound, got %v", err)
	}
	if _, err := svc.GetSlide(99, 1); !errors.Is(err, util.ErrLessonNotFound) {
		t.Fatalf("expected ErrLessonNotFound, got %v", err)
	}
}

func TestSaveWithSlides_ContentFollowsSlideOrder(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := repository.NewLessonRepository(db)

	lesson := &model.Lesson{Order: 1, Title: "Derived", Content: "stale"}
	slides := []model.Slide{
		{Index: 2, Content: "two", NominalDurationMs: 1000},
		{Index: 1, Content: "one", NominalDurationMs: 1000},
	}
	if err := repo.SaveWithSlides(db, lesson, slides); err != nil {
		t.Fatalf("SaveWithSlides: %v", err)
	}

	stored, err := repo.FindByID(lesson.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Content != "one\n\ntwo" {
		t.Fatalf("content must be the ordered join of slide contents, got %q", stored.Content)
	}
}
