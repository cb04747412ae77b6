package service

import (
	"context"
	"course_platform_backend/internal/config"
	"course_platform_backend/internal/util"
	"course_platform_backend/pkg/logger"
	"course_platform_backend/pkg/monitoring"
	"course_platform_backend/pkg/tracing"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	MethodExact    = "exact"
	MethodKeyword  = "keyword"
	MethodAI       = "ai"
	MethodFallback = "fallback"
)

const (
	FeedbackExact     = "Excellent! Your answer is exactly right."
	FeedbackKeyword   = "Great job! Your answer covers the key points."
	FeedbackJudged    = "Your answer has been reviewed."
	FeedbackPartial   = "Partially correct. You are on the right track, but some key points are missing."
	FeedbackIncorrect = "Not quite right. Please review the material and try again."
)

// 关键词匹配时忽略的常见虚词
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "was": {},
	"with": {}, "that": {}, "this": {}, "from": {}, "its": {}, "into": {},
}

// ScoreResult 一次作答的评分结果
type ScoreResult struct {
	IsCorrect bool   `json:"isCorrect"`
	Score     int    `json:"score"`
	Feedback  string `json:"feedback"`
	Method    string `json:"method"`
}

// Judgement AI 评分结果
type Judgement struct {
	Score    int    `json:"score"`
	Feedback string `json:"feedback"`
}

type AnswerJudge interface {
	Judge(ctx context.Context, question, reference, candidate string) (*Judgement, error)
}

// ScoringService 精确匹配 → 关键词重合 → AI 评分 → 兜底，永远返回结果
type ScoringService struct {
	mu     sync.RWMutex
	judge  AnswerJudge
	config config.ScoringConfig
}

func NewScoringService(judge AnswerJudge, cfg config.ScoringConfig) *ScoringService {
	return &ScoringService{judge: judge, config: cfg}
}

// Reload 配置热更新时替换阈值和评分器
func (s *ScoringService) Reload(judge AnswerJudge, cfg config.ScoringConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.judge = judge
	s.config = cfg
}

func (s *ScoringService) snapshot() (AnswerJudge, config.ScoringConfig) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.judge, s.config
}

func (s *ScoringService) Score(ctx context.Context, question, correctAnswer, userAnswer string) ScoreResult {
	result := s.score(ctx, question, correctAnswer, userAnswer)
	verdict := "incorrect"
	if result.IsCorrect {
		verdict = "correct"
	}
	monitoring.AnswerScores.WithLabelValues(result.Method, verdict).Inc()
	return result
}

func (s *ScoringService) score(ctx context.Context, question, correctAnswer, userAnswer string) ScoreResult {
	judge, cfg := s.snapshot()

	normCorrect := NormalizeAnswer(correctAnswer)
	normUser := NormalizeAnswer(userAnswer)

	if normCorrect == normUser {
		return ScoreResult{IsCorrect: true, Score: 100, Feedback: FeedbackExact, Method: MethodExact}
	}

	simpleScore := KeywordOverlapScore(normCorrect, normUser)
	if simpleScore >= threshold(cfg.KeywordPassScore, 80) {
		return ScoreResult{IsCorrect: true, Score: simpleScore, Feedback: FeedbackKeyword, Method: MethodKeyword}
	}

	judged, err := s.runJudge(ctx, judge, cfg, question, correctAnswer, userAnswer)
	if err == nil {
		feedback := judged.Feedback
		if feedback == "" {
			feedback = FeedbackJudged
		}
		return ScoreResult{
			IsCorrect: judged.Score >= threshold(cfg.JudgePassScore, 70),
			Score:     judged.Score,
			Feedback:  feedback,
			Method:    MethodAI,
		}
	}
	logger.Log.Warn("Answer judge unavailable, using keyword score",
		zap.Int("simpleScore", simpleScore),
		zap.Error(err),
	)

	if simpleScore >= threshold(cfg.PartialPassScore, 50) {
		return ScoreResult{IsCorrect: true, Score: simpleScore, Feedback: FeedbackPartial, Method: MethodFallback}
	}
	return ScoreResult{IsCorrect: false, Score: simpleScore, Feedback: FeedbackIncorrect, Method: MethodFallback}
}

func (s *ScoringService) runJudge(ctx context.Context, judge AnswerJudge, cfg config.ScoringConfig, question, reference, candidate string) (j *Judgement, err error) {
	if judge == nil {
		return nil, util.ErrJudgeUnavailable
	}

	timeout := cfg.JudgeTimeout()
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := tracing.Start(ctx, "scoring.judge")
	defer span.End()

	start := time.Now()
	defer func() {
		monitoring.JudgeDuration.Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			j, err = nil, fmt.Errorf("%w: judge panicked: %v", util.ErrJudgeUnavailable, r)
		}
		tracing.RecordError(span, err)
	}()

	j, err = judge.Judge(ctx, question, reference, candidate)
	if err != nil {
		if errors.Is(err, util.ErrJudgeUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", util.ErrJudgeUnavailable, err)
	}
	if j == nil {
		return nil, fmt.Errorf("%w: empty judgement", util.ErrJudgeUnavailable)
	}
	j.Score = clampScore(j.Score)
	span.SetAttributes(attribute.Int("judge.score", j.Score))
	return j, nil
}

// NormalizeAnswer 小写，去掉字母数字空白以外的字符，压缩空白
func NormalizeAnswer(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// KeywordOverlapScore 参考答案中长度大于 2 的关键词在用户答案里出现（子串）的百分比。
// 两个参数都应已经过 NormalizeAnswer。
func KeywordOverlapScore(normCorrect, normUser string) int {
	var total, matched int
	for _, w := range strings.Fields(normCorrect) {
		if utf8.RuneCountInString(w) <= 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		total++
		if strings.Contains(normUser, w) {
			matched++
		}
	}
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(matched) / float64(total)))
}

func threshold(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// AIJudge 用 OpenAI 兼容接口给答案打分
type AIJudge struct {
	AI *AIService
}

func NewAIJudge(ai *AIService) *AIJudge {
	return &AIJudge{AI: ai}
}

const judgeSystemPrompt = "You grade short quiz answers for an online course. " +
	"Compare the student's answer with the reference answer and judge whether it captures the same meaning. " +
	`Reply with JSON only, exactly in the form {"score": <integer 0-100>, "feedback": "<one or two sentences>"}.`

func (j *AIJudge) Judge(ctx context.Context, question, reference, candidate string) (*Judgement, error) {
	if j.AI == nil || !j.AI.Enabled() {
		return nil, util.ErrJudgeUnavailable
	}

	prompt := fmt.Sprintf("Question: %s\nReference answer: %s\nStudent answer: %s", question, reference, candidate)
	reply, err := j.AI.Chat(ctx, judgeSystemPrompt, prompt)
	if err != nil {
		return nil, err
	}
	return ParseJudgement(reply)
}

// ParseJudgement 从模型回复中提取 {"score", "feedback"}，允许外面包着代码块或说明文字
func ParseJudgement(reply string) (*Judgement, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("judge reply has no JSON object: %q", reply)
	}

	var raw struct {
		Score    *float64 `json:"score"`
		Feedback string   `json:"feedback"`
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("parse judge reply: %w", err)
	}
	if raw.Score == nil || math.IsNaN(*raw.Score) {
		return nil, fmt.Errorf("judge reply has no score: %q", reply)
	}

	return &Judgement{
		Score:    clampScore(int(math.Round(*raw.Score))),
		Feedback: strings.TrimSpace(raw.Feedback),
	}, nil
}
