package service

import (
	"context"
	"course_platform_backend/internal/config"
	"course_platform_backend/internal/model"
	"course_platform_backend/internal/playback"
	"course_platform_backend/internal/repository"
	"course_platform_backend/internal/testutil"
	"course_platform_backend/internal/util"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newTestHub(t *testing.T) (*PlaybackHub, *repository.LessonRepository, *repository.ProgressRepository) {
	t.Helper()
	hub, lessonRepo, progressRepo, _ := newRateLimitedHub(t, 50)
	return hub, lessonRepo, progressRepo
}

// newRateLimitedHub 额外返回本地存储根目录，便于放置音频文件
func newRateLimitedHub(t *testing.T, perSecond int) (*PlaybackHub, *repository.LessonRepository, *repository.ProgressRepository, string) {
	t.Helper()
	db := testutil.NewTestDB(t)
	lessonRepo := repository.NewLessonRepository(db)
	progressRepo := repository.NewProgressRepository(db)

	root := t.TempDir()
	cfg := &config.Config{
		Storage:  config.StorageConfig{Type: util.StorageLocal, LocalPath: root},
		Playback: config.PlaybackConfig{SampleIntervalMs: 10, MaxMessagesPerSecond: perSecond},
	}
	hub := NewPlaybackHub(
		NewLessonService(lessonRepo),
		NewSlideService(lessonRepo, cfg.Playback),
		NewAudioService(NewStorageService(cfg), nil, cfg.Content),
		NewProgressService(progressRepo, lessonRepo, nil),
		nil,
		cfg.Playback,
		nil,
	)
	t.Cleanup(hub.Stop)
	return hub, lessonRepo, progressRepo, root
}

func dialHub(t *testing.T, hub *PlaybackHub, userID, lessonID uint) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := hub.Prepare(r.Context(), userID, lessonID, false)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		hub.Serve(w, r, sess)
	}))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, msgType string) wireMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", msgType, err)
		}
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestPlaybackHub_LessonCompletesOverWebsocket(t *testing.T) {
	hub, lessonRepo, progressRepo := newTestHub(t)

	lesson := &model.Lesson{Order: 1, Title: "Socket", Published: true, Available: true}
	slides := []model.Slide{
		{Index: 1, Content: "one", NominalDurationMs: 30},
		{Index: 2, Content: "two", NominalDurationMs: 30},
	}
	if err := lessonRepo.SaveWithSlides(lessonRepo.DB, lesson, slides); err != nil {
		t.Fatalf("seed: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := hub.Prepare(r.Context(), 9, lesson.ID, false)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		hub.Serve(w, r, sess)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	session := readUntil(t, conn, MsgSession)
	var info SessionInfo
	if err := json.Unmarshal(session.Data, &info); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if info.LessonID != lesson.ID || len(info.Slides) != 2 || info.SessionID == "" {
		t.Fatalf("unexpected session info %+v", info)
	}

	conn.WriteJSON(map[string]interface{}{"type": MsgSeek, "data": map[string]int{"slide": 5}})
	errMsg := readUntil(t, conn, MsgError)
	if !strings.Contains(string(errMsg.Data), "out of range") {
		t.Fatalf("expected a range error, got %s", errMsg.Data)
	}

	conn.WriteJSON(map[string]string{"type": MsgPlay})
	done := readUntil(t, conn, MsgCompleted)

	var completed CompletedInfo
	if err := json.Unmarshal(done.Data, &completed); err != nil {
		t.Fatalf("decode completed: %v", err)
	}
	if completed.Error != "" || completed.Progress == nil || !completed.Progress.Completed {
		t.Fatalf("unexpected completion %+v", completed)
	}

	p, err := progressRepo.Find(9, lesson.ID)
	if err != nil || !p.Completed {
		t.Fatalf("completion not persisted: %+v, %v", p, err)
	}
}

func TestPlaybackHub_PrepareRejectsLockedLesson(t *testing.T) {
	hub, lessonRepo, _ := newTestHub(t)

	lesson := &model.Lesson{Order: 1, Title: "Soon", Published: true}
	if err := lessonRepo.SaveWithSlides(lessonRepo.DB, lesson, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := hub.Prepare(context.Background(), 1, lesson.ID, false); !errors.Is(err, util.ErrLessonLocked) {
		t.Fatalf("expected ErrLessonLocked, got %v", err)
	}
	if _, err := hub.Prepare(context.Background(), 1, 404, false); !errors.Is(err, util.ErrLessonNotFound) {
		t.Fatalf("expected ErrLessonNotFound, got %v", err)
	}
	if hub.ActiveSessions() != 0 {
		t.Fatalf("no session should be registered")
	}
}

func TestPlaybackHub_AudioEndedSurvivesAudioTimeBurst(t *testing.T) {
	hub, lessonRepo, progressRepo, root := newRateLimitedHub(t, 5)

	lesson := &model.Lesson{Order: 1, Title: "Narrated", Published: true, Available: true}
	slides := []model.Slide{{Index: 1, Content: "only", NominalDurationMs: 60000}}
	if err := lessonRepo.SaveWithSlides(lessonRepo.DB, lesson, slides); err != nil {
		t.Fatalf("seed: %v", err)
	}
	dir := filepath.Join(root, "audio", fmt.Sprintf("lesson-%d", lesson.ID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "slide-1.mp3"), []byte("ID3"), 0644); err != nil {
		t.Fatalf("write audio: %v", err)
	}

	conn := dialHub(t, hub, 9, lesson.ID)
	readUntil(t, conn, MsgSession)

	conn.WriteJSON(map[string]string{"type": MsgPlay})
	audio := readUntil(t, conn, MsgAudio)
	var cmd playback.AudioCommand
	if err := json.Unmarshal(audio.Data, &cmd); err != nil {
		t.Fatalf("decode audio command: %v", err)
	}
	if cmd.Op != playback.AudioLoad || cmd.URL == "" {
		t.Fatalf("expected a load command, got %+v", cmd)
	}

	for i := 0; i < 20; i++ {
		conn.WriteJSON(map[string]interface{}{
			"type": MsgAudioTime,
			"data": map[string]interface{}{"gen": cmd.Gen, "positionMs": i * 10},
		})
	}
	conn.WriteJSON(map[string]interface{}{"type": MsgAudioEnded, "data": map[string]interface{}{"gen": cmd.Gen}})

	done := readUntil(t, conn, MsgCompleted)
	var completed CompletedInfo
	if err := json.Unmarshal(done.Data, &completed); err != nil {
		t.Fatalf("decode completed: %v", err)
	}
	if completed.Error != "" || completed.Progress == nil || !completed.Progress.Completed {
		t.Fatalf("unexpected completion %+v", completed)
	}
	if p, err := progressRepo.Find(9, lesson.ID); err != nil || !p.Completed {
		t.Fatalf("completion not persisted: %+v, %v", p, err)
	}
}
