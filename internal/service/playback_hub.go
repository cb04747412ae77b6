package service

import (
	"context"
	"course_platform_backend/internal/config"
	"course_platform_backend/internal/model"
	"course_platform_backend/internal/playback"
	"course_platform_backend/pkg/logger"
	"course_platform_backend/pkg/monitoring"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBufferSize = 64
)

// 客户端 -> 服务端
const (
	MsgPlay        = "play"
	MsgPause       = "pause"
	MsgSeek        = "seek"
	MsgAudioLoaded = "audio_loaded"
	MsgAudioTime   = "audio_time"
	MsgAudioEnded  = "audio_ended"
	MsgAudioError  = "audio_error"
)

// 服务端 -> 客户端
const (
	MsgSession   = "session"
	MsgAudio     = "audio"
	MsgProgress  = "progress"
	MsgCompleted = "completed"
	MsgError     = "error"
)

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type inboundMessage struct {
	Type string       `json:"type"`
	Data inboundEvent `json:"data"`
}

// inboundEvent 音频事件需要回传 audio 命令里的 gen；seek 的 slide 是 0-based 位置
type inboundEvent struct {
	Slide      int    `json:"slide"`
	Gen        uint64 `json:"gen"`
	PositionMs int64  `json:"positionMs"`
	DurationMs int64  `json:"durationMs"`
	Reason     string `json:"reason"`
}

type SessionInfo struct {
	SessionID string           `json:"sessionId"`
	LessonID  uint             `json:"lessonId"`
	Title     string           `json:"title"`
	Slides    []playback.Slide `json:"slides"`
}

type CompletedInfo struct {
	Progress *model.LessonProgress `json:"progress,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// PlaybackSession 一个 websocket 连接对应一次课程播放
type PlaybackSession struct {
	ID       string
	Hub      *PlaybackHub
	Conn     *websocket.Conn
	Send     chan []byte
	UserID   uint
	LessonID uint
	Limiter  *rate.Limiter
	Loop     *playback.Loop

	info   SessionInfo
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

type PlaybackHub struct {
	Lessons   *LessonService
	Slides    *SlideService
	Audio     *AudioService
	Progress  *ProgressService
	Analytics EventTracker
	Config    config.PlaybackConfig

	upgrader websocket.Upgrader
	mu       sync.Mutex
	sessions map[string]*PlaybackSession
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewPlaybackHub(
	lessons *LessonService,
	slides *SlideService,
	audio *AudioService,
	progress *ProgressService,
	analytics EventTracker,
	cfg config.PlaybackConfig,
	allowedOrigins []string,
) *PlaybackHub {
	ctx, cancel := context.WithCancel(context.Background())
	return &PlaybackHub{
		Lessons:   lessons,
		Slides:    slides,
		Audio:     audio,
		Progress:  progress,
		Analytics: analytics,
		Config:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowedOrigins),
		},
		sessions: make(map[string]*PlaybackSession),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// Prepare 在升级连接之前加载课程和音频，错误可以直接以 HTTP 状态码返回
func (h *PlaybackHub) Prepare(ctx context.Context, userID, lessonID uint, isAdmin bool) (*PlaybackSession, error) {
	lesson, err := h.Lessons.GetPlayableLesson(lessonID, isAdmin)
	if err != nil {
		return nil, err
	}

	slides := h.Slides.SlidesOf(lesson)
	numbers := make([]int, 0, len(slides))
	for _, sl := range slides {
		numbers = append(numbers, sl.Index)
	}
	assets := h.Audio.ResolveLesson(ctx, lesson.ID, numbers)

	sessCtx, cancel := context.WithCancel(h.ctx)
	s := &PlaybackSession{
		ID:       uuid.New().String(),
		Hub:      h,
		Send:     make(chan []byte, sendBufferSize),
		UserID:   userID,
		LessonID: lesson.ID,
		Limiter:  rate.NewLimiter(rate.Limit(h.messagesPerSecond()), h.messagesPerSecond()*2),
		ctx:      sessCtx,
		cancel:   cancel,
	}

	playbackSlides := ToPlaybackSlides(slides)
	ctrl, err := playback.NewController(playback.Options{
		LessonID: lesson.ID,
		Slides:   playbackSlides,
		Resolve: func(n int) (string, bool) {
			if a, ok := assets[n]; ok {
				return a.URL, true
			}
			return "", false
		},
		Audio:           func(cmd playback.AudioCommand) { s.push(MsgAudio, cmd, false) },
		OnComplete:      s.complete,
		OnAudioFallback: s.audioFallback,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	s.Loop = playback.NewLoop(ctrl, h.sampleInterval(), func(snap playback.Snapshot) {
		s.push(MsgProgress, snap, true)
	})
	s.info = SessionInfo{SessionID: s.ID, LessonID: lesson.ID, Title: lesson.Title, Slides: playbackSlides}
	return s, nil
}

// Serve 升级连接并启动播放循环和读写协程
func (h *PlaybackHub) Serve(w http.ResponseWriter, r *http.Request, s *PlaybackSession) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cancel()
		return err
	}
	s.Conn = conn

	h.register(s)
	s.push(MsgSession, s.info, false)

	go s.Loop.Run(s.ctx)
	go s.writePump()
	go s.readPump()
	return nil
}

func (h *PlaybackHub) register(s *PlaybackSession) {
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()
	monitoring.PlaybackSessions.Inc()
	logger.Log.Debug("Playback session opened",
		zap.String("sessionId", s.ID),
		zap.Uint("userId", s.UserID),
		zap.Uint("lessonId", s.LessonID),
	)
}

func (h *PlaybackHub) unregister(s *PlaybackSession) {
	h.mu.Lock()
	_, ok := h.sessions[s.ID]
	delete(h.sessions, s.ID)
	h.mu.Unlock()
	if ok {
		monitoring.PlaybackSessions.Dec()
	}
}

func (h *PlaybackHub) ActiveSessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Stop 结束所有播放会话。关闭连接后由各自的 readPump 完成清理。
func (h *PlaybackHub) Stop() {
	h.cancel()

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.Conn != nil {
			conns = append(conns, s.Conn)
		}
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	logger.Log.Info("PlaybackHub stopped", zap.Int("closedSessions", len(conns)))
}

func (h *PlaybackHub) messagesPerSecond() int {
	if h.Config.MaxMessagesPerSecond > 0 {
		return h.Config.MaxMessagesPerSecond
	}
	return 30
}

func (h *PlaybackHub) sampleInterval() time.Duration {
	if h.Config.SampleIntervalMs > 0 {
		return time.Duration(h.Config.SampleIntervalMs) * time.Millisecond
	}
	return playback.DefaultSampleInterval
}

// close 停止播放循环（释放音频、取消定时器）后关闭发送通道，只由 readPump 调用
func (s *PlaybackSession) close() {
	s.once.Do(func() {
		s.cancel()
		<-s.Loop.Done()
		s.Hub.unregister(s)
		close(s.Send)
		logger.Log.Debug("Playback session closed", zap.String("sessionId", s.ID))
	})
}

// push 进度消息在发送缓冲区满时丢弃，其它消息等待发送或会话结束
func (s *PlaybackSession) push(msgType string, data interface{}, droppable bool) {
	payload, err := json.Marshal(WSMessage{Type: msgType, Data: data})
	if err != nil {
		logger.Log.Error("Failed to encode playback message", zap.String("type", msgType), zap.Error(err))
		return
	}

	if droppable {
		select {
		case s.Send <- payload:
		default:
		}
		return
	}
	select {
	case s.Send <- payload:
	case <-s.ctx.Done():
	}
}

func (s *PlaybackSession) complete() {
	info := CompletedInfo{}
	progress, err := s.Hub.Progress.ReportCompletion(s.ctx, s.UserID, s.LessonID)
	if err != nil {
		info.Error = err.Error()
	} else {
		info.Progress = progress
	}
	s.push(MsgCompleted, info, false)
}

func (s *PlaybackSession) audioFallback(slide int, reason string) {
	monitoring.AudioFallbacks.Inc()
	if s.Hub.Analytics == nil {
		return
	}
	s.Hub.Analytics.Track(&model.AnalyticsEvent{
		EventType: model.EventAudioFallback,
		UserID:    s.UserID,
		LessonID:  s.LessonID,
		Metadata: map[string]interface{}{
			"slide":     slide,
			"reason":    reason,
			"sessionId": s.ID,
		},
	})
}

func (s *PlaybackSession) readPump() {
	defer func() {
		s.close()
		s.Conn.Close()
	}()
	s.Conn.SetReadLimit(maxMessageSize)
	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error { s.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logger.Log.Error("WebSocket unexpected close", zap.Error(err), zap.Uint("userId", s.UserID))
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			if s.Limiter.Allow() {
				s.push(MsgError, map[string]string{"message": "invalid message"}, true)
			}
			continue
		}
		// 只限流可丢弃的高频消息，控制消息和 audio_ended 等推进信号必须送达
		if rateLimited(msg.Type) && !s.Limiter.Allow() {
			continue
		}
		s.handle(msg)
	}
}

func rateLimited(msgType string) bool {
	return msgType == MsgAudioTime || msgType == MsgSeek
}

func (s *PlaybackSession) handle(msg inboundMessage) {
	ev := playback.Event{
		Gen:      msg.Data.Gen,
		Slide:    msg.Data.Slide,
		Position: time.Duration(msg.Data.PositionMs) * time.Millisecond,
		Duration: time.Duration(msg.Data.DurationMs) * time.Millisecond,
		Reason:   msg.Data.Reason,
	}

	switch msg.Type {
	case MsgPlay:
		ev.Kind = playback.EventPlay
	case MsgPause:
		ev.Kind = playback.EventPause
	case MsgSeek:
		if err := s.Loop.Seek(msg.Data.Slide); err != nil {
			s.push(MsgError, map[string]string{"message": err.Error()}, true)
		}
		return
	case MsgAudioLoaded:
		ev.Kind = playback.EventAudioLoaded
	case MsgAudioTime:
		ev.Kind = playback.EventAudioTime
	case MsgAudioEnded:
		ev.Kind = playback.EventAudioEnded
	case MsgAudioError:
		ev.Kind = playback.EventAudioError
	default:
		s.push(MsgError, map[string]string{"message": "unknown message type: " + msg.Type}, true)
		return
	}
	s.Loop.Dispatch(ev)
}

func (s *PlaybackSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()
	for {
		select {
		case message, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
