package service

import (
	"context"
	"course_platform_backend/internal/config"
	"course_platform_backend/internal/util"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newChatServer(t *testing.T, status int, reply string) (*httptest.Server, *ChatCompletionRequest) {
	t.Helper()
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(status)
		w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestAIJudge_ParsesReply(t *testing.T) {
	srv, got := newChatServer(t, http.StatusOK,
		`{"choices":[{"message":{"role":"assistant","content":"Sure:\n{\"score\": 85, \"feedback\": \"Close enough.\"}"}}]}`)

	judge := NewAIJudge(NewAIService(config.AIConfig{BaseURL: srv.URL + "/v1/", APIKey: "secret", Model: "judge-model"}))
	j, err := judge.Judge(context.Background(), "What is 2+2?", "four", "4")
	if err != nil {
		t.Fatalf("Judge: %v", err)
	}
	if j.Score != 85 || j.Feedback != "Close enough." {
		t.Fatalf("unexpected judgement %+v", j)
	}

	if got.Model != "judge-model" || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected request %+v", got)
	}
	if !strings.Contains(got.Messages[1].Content, "Student answer: 4") {
		t.Fatalf("prompt missing candidate: %q", got.Messages[1].Content)
	}
}

func TestAIService_Errors(t *testing.T) {
	srv, _ := newChatServer(t, http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`)
	ai := NewAIService(config.AIConfig{BaseURL: srv.URL + "/v1", APIKey: "secret"})
	if _, err := ai.Chat(context.Background(), "", "hi"); err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected status error, got %v", err)
	}

	empty, _ := newChatServer(t, http.StatusOK, `{"choices":[]}`)
	ai = NewAIService(config.AIConfig{BaseURL: empty.URL + "/v1", APIKey: "secret"})
	if _, err := ai.Chat(context.Background(), "", "hi"); !errors.Is(err, errEmptyReply) {
		t.Fatalf("expected empty reply error, got %v", err)
	}

	judge := NewAIJudge(NewAIService(config.AIConfig{}))
	if _, err := judge.Judge(context.Background(), "q", "a", "b"); !errors.Is(err, util.ErrJudgeUnavailable) {
		t.Fatalf("expected ErrJudgeUnavailable, got %v", err)
	}
}
