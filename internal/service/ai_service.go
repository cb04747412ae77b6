package service

import (
	"bytes"
	"context"
	"course_platform_backend/internal/config"
	"course_platform_backend/pkg/tracing"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// 评分回复很短，限制读取大小防止异常响应占满内存
const (
	maxAIResponseBytes = 1 << 20
	judgeMaxTokens     = 300
)

var errEmptyReply = errors.New("ai: reply has no choices")

// AIService OpenAI 兼容的 chat completion 客户端，只用于答案评判
type AIService struct {
	config config.AIConfig
	client *http.Client
}

func NewAIService(cfg config.AIConfig) *AIService {
	return &AIService{
		config: cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *AIService) Enabled() bool {
	return s.config.Enabled()
}

type AIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []AIChatMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type ChatCompletionResponse struct {
	Choices []struct {
		Message AIChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat 返回第一条回复内容。超时由调用方的 ctx 控制，client 的超时只是兜底
func (s *AIService) Chat(ctx context.Context, system string, prompt string) (reply string, err error) {
	ctx, span := tracing.Start(ctx, "ai.chat", attribute.String("ai.model", s.config.Model))
	defer func() {
		tracing.RecordError(span, err)
		span.End()
	}()

	messages := make([]AIChatMessage, 0, 2)
	if system != "" {
		messages = append(messages, AIChatMessage{Role: "system", Content: system})
	}
	messages = append(messages, AIChatMessage{Role: "user", Content: prompt})

	payload, err := json.Marshal(ChatCompletionRequest{
		Model:       s.config.Model,
		Messages:    messages,
		Temperature: 0,
		MaxTokens:   judgeMaxTokens,
	})
	if err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(s.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAIResponseBytes))
	if err != nil {
		return "", fmt.Errorf("read ai response: %w", err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ai api error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("decode ai response: %w", err)
	}
	if result.Error != nil {
		return "", fmt.Errorf("ai api error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", errEmptyReply
	}
	return result.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
