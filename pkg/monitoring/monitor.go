package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	RequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served, websocket sessions excluded",
		},
	)

	// 播放相关指标
	PlaybackSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "playback_active_sessions",
			Help: "Number of open lesson playback sessions",
		},
	)

	AudioFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playback_audio_fallbacks_total",
			Help: "Slides that switched from audio to timer advancement",
		},
	)

	LessonCompletions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lesson_completions_total",
			Help: "Lesson completion reports by outcome",
		},
		[]string{"status"},
	)

	// 答题评分指标
	AnswerScores = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_answers_total",
			Help: "Scored quiz answers by scoring method and verdict",
		},
		[]string{"method", "verdict"},
	)

	JudgeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quiz_judge_duration_seconds",
			Help:    "Latency of the AI answer judge",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20},
		},
	)

	ContentSyncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_sync_runs_total",
			Help: "Lesson content sync runs by result",
		},
		[]string{"result"},
	)
)

var registerOnce sync.Once

// Init 注册所有指标，重复调用无副作用
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter,
			RequestDuration,
			RequestsInFlight,
			PlaybackSessions,
			AudioFallbacks,
			LessonCompletions,
			AnswerScores,
			JudgeDuration,
			ContentSyncRuns,
		)
	})
}

// MetricsMiddleware 未匹配的路由统一记为 unmatched，避免路径标签无限增长
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		upgrade := c.GetHeader("Upgrade") != ""
		if !upgrade {
			RequestsInFlight.Inc()
		}
		start := time.Now()
		c.Next()
		if !upgrade {
			RequestsInFlight.Dec()
		}

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}

		RequestCounter.WithLabelValues(
			c.Request.Method,
			endpoint,
			strconv.Itoa(c.Writer.Status()),
		).Inc()

		if !upgrade {
			RequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
		}
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
