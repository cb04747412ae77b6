package playback

import (
	"course_platform_backend/internal/util"
	"course_platform_backend/pkg/logger"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type Options struct {
	LessonID uint
	Slides   []Slide
	Resolve  ResolveFunc
	// Audio receives commands for the audio backend. May be nil when no backend is attached.
	Audio func(AudioCommand)
	// OnComplete is called exactly once, when the last slide finishes.
	OnComplete func()
	// OnAudioFallback is called when a slide switches from audio to timer advancement.
	OnAudioFallback func(slide int, reason string)
	Clock           Clock
}

// Controller is the playback state machine for one lesson session.
// It is not safe for concurrent use; Loop serializes access to it.
type Controller struct {
	opts   Options
	slides []Slide
	clock  Clock

	state   State
	current int
	gen     uint64

	hasAudio     bool
	audioURL     string
	segmentStart time.Time
	slideElapsed time.Duration
	timerArmed   bool

	audioDurations []time.Duration
	audioFailed    []bool
	accumulated    time.Duration
	completions    int
}

func NewController(opts Options) (*Controller, error) {
	if len(opts.Slides) == 0 {
		return nil, errors.New("playback: lesson has no slides")
	}
	for i, s := range opts.Slides {
		if s.NominalDuration <= 0 {
			return nil, fmt.Errorf("playback: slide %d has non-positive duration", i)
		}
	}

	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}

	c := &Controller{
		opts:           opts,
		slides:         opts.Slides,
		clock:          clock,
		state:          StateIdle,
		gen:            1,
		audioDurations: make([]time.Duration, len(opts.Slides)),
		audioFailed:    make([]bool, len(opts.Slides)),
	}
	for i, s := range opts.Slides {
		c.audioDurations[i] = s.AudioDuration
	}
	return c, nil
}

func (c *Controller) State() State        { return c.state }
func (c *Controller) Current() int        { return c.current }
func (c *Controller) Gen() uint64         { return c.gen }
func (c *Controller) SlideCount() int     { return len(c.slides) }
func (c *Controller) HasAudio() bool      { return c.hasAudio }
func (c *Controller) Completions() int    { return c.completions }
func (c *Controller) lastIndex() int      { return len(c.slides) - 1 }
func (c *Controller) currentSlide() Slide { return c.slides[c.current] }

// Play starts or resumes playback. Paused audio resumes from the retained position.
func (c *Controller) Play() {
	if c.state != StateIdle && c.state != StatePaused {
		return
	}
	c.enterPlaying()
}

func (c *Controller) Pause() {
	if c.state != StatePlaying {
		return
	}
	c.slideElapsed = c.elapsed()
	c.state = StatePaused
	c.timerArmed = false
	if c.hasAudio {
		c.send(AudioCommand{Op: AudioPause, Gen: c.gen, Slide: c.current})
	}
}

// Seek moves to a 0-based slide position keeping the current state.
func (c *Controller) Seek(index int) error {
	if index < 0 || index > c.lastIndex() {
		return fmt.Errorf("%w: %d not in [0, %d]", util.ErrSlideOutOfRange, index, c.lastIndex())
	}
	if c.state == StateCompleted {
		c.current = index
		return nil
	}

	if c.hasAudio {
		c.send(AudioCommand{Op: AudioStop, Gen: c.gen, Slide: c.current})
	}
	c.gen++
	c.current = index
	c.slideElapsed = 0
	c.hasAudio = false
	c.audioURL = ""
	c.timerArmed = false

	if c.state == StatePlaying {
		c.enterPlaying()
	}
	return nil
}

// AudioEnded is the audio advancement trigger.
func (c *Controller) AudioEnded(gen uint64) bool {
	if c.state != StatePlaying || gen != c.gen || !c.hasAudio {
		return false
	}
	c.advance()
	return true
}

// AudioFailed switches the current slide to timer advancement so playback never stalls.
// A slide that is already timer-driven ignores it.
func (c *Controller) AudioFailed(gen uint64, reason string) {
	if gen != c.gen || !c.hasAudio || c.audioFailed[c.current] {
		return
	}

	logger.Log.Warn("Slide audio failed, falling back to timer",
		zap.Uint("lessonId", c.opts.LessonID),
		zap.Int("slide", c.current),
		zap.String("url", c.audioURL),
		zap.String("reason", reason),
		zap.Error(util.ErrAudioUnavailable),
	)

	c.audioFailed[c.current] = true
	c.audioDurations[c.current] = 0
	c.send(AudioCommand{Op: AudioStop, Gen: c.gen, Slide: c.current})
	c.hasAudio = false
	c.audioURL = ""
	if c.state == StatePlaying {
		c.timerArmed = true
	}

	if c.opts.OnAudioFallback != nil {
		c.opts.OnAudioFallback(c.current, reason)
	}
}

// AudioLoaded records the duration reported by the audio backend.
func (c *Controller) AudioLoaded(gen uint64, duration time.Duration) {
	if gen != c.gen || duration <= 0 || !c.hasAudio || c.audioFailed[c.current] {
		return
	}
	c.audioDurations[c.current] = duration
}

// AudioProgress re-anchors elapsed time on the audio backend's playback position.
func (c *Controller) AudioProgress(gen uint64, position time.Duration) {
	if c.state != StatePlaying || gen != c.gen || !c.hasAudio || position < 0 {
		return
	}
	c.slideElapsed = position
	c.segmentStart = c.clock.Now()
}

// TimerFired is the fallback advancement trigger. It never advances before the
// slide's nominal duration has elapsed.
func (c *Controller) TimerFired(gen uint64) bool {
	if c.state != StatePlaying || gen != c.gen || !c.timerArmed {
		return false
	}
	if c.elapsed() < c.currentSlide().NominalDuration {
		return false
	}
	c.advance()
	return true
}

// PendingTimer reports the fallback timer the driver should have armed.
func (c *Controller) PendingTimer() (time.Duration, uint64, bool) {
	if c.state != StatePlaying || !c.timerArmed {
		return 0, 0, false
	}
	remaining := c.currentSlide().NominalDuration - c.elapsed()
	if remaining < 0 {
		remaining = 0
	}
	return remaining, c.gen, true
}

// Teardown releases the audio backend and disarms timers.
func (c *Controller) Teardown() {
	if c.hasAudio && (c.state == StatePlaying || c.state == StatePaused) {
		c.send(AudioCommand{Op: AudioStop, Gen: c.gen, Slide: c.current})
	}
	c.timerArmed = false
}

func (c *Controller) Snapshot() Snapshot {
	snap := Snapshot{
		LessonID:             c.opts.LessonID,
		State:                c.state.String(),
		CurrentSlideIndex:    c.current,
		SlideCount:           len(c.slides),
		IsPlaying:            c.state == StatePlaying,
		HasAudio:             c.hasAudio,
		Gen:                  c.gen,
		AccumulatedElapsedMs: c.accumulated.Milliseconds(),
	}

	if c.state == StateCompleted {
		snap.SlideProgress = 1
		snap.TotalProgress = 1
		return snap
	}

	elapsed := c.elapsed()
	snap.SlideProgress = clamp01(float64(elapsed) / float64(c.currentDuration()))
	snap.TotalProgress = clamp01(float64(c.accumulated+elapsed) / float64(c.totalDuration()))
	return snap
}

func (c *Controller) enterPlaying() {
	c.state = StatePlaying
	c.segmentStart = c.clock.Now()

	c.hasAudio = false
	c.audioURL = ""
	if !c.audioFailed[c.current] && c.opts.Resolve != nil {
		if url, ok := c.opts.Resolve(c.currentSlide().Index); ok {
			c.hasAudio = true
			c.audioURL = url
		}
	}

	if c.hasAudio {
		c.timerArmed = false
		c.send(AudioCommand{
			Op:     AudioLoad,
			Gen:    c.gen,
			Slide:  c.current,
			URL:    c.audioURL,
			FromMs: c.slideElapsed.Milliseconds(),
		})
		return
	}

	c.audioDurations[c.current] = 0
	c.timerArmed = true
}

func (c *Controller) advance() {
	c.accumulated += c.elapsed()
	c.timerArmed = false

	if c.current < c.lastIndex() {
		c.gen++
		c.current++
		c.slideElapsed = 0
		c.enterPlaying()
		return
	}

	c.state = StateCompleted
	c.hasAudio = false
	c.audioURL = ""
	c.completions++
	if c.completions == 1 && c.opts.OnComplete != nil {
		c.opts.OnComplete()
	}
}

func (c *Controller) elapsed() time.Duration {
	if c.state != StatePlaying {
		return c.slideElapsed
	}
	return c.slideElapsed + c.clock.Now().Sub(c.segmentStart)
}

func (c *Controller) currentDuration() time.Duration {
	if c.hasAudio && c.audioDurations[c.current] > 0 {
		return c.audioDurations[c.current]
	}
	return c.currentSlide().NominalDuration
}

func (c *Controller) totalDuration() time.Duration {
	var total time.Duration
	for i, s := range c.slides {
		if i == c.current {
			total += c.currentDuration()
			continue
		}
		if c.audioDurations[i] > 0 && !c.audioFailed[i] {
			total += c.audioDurations[i]
		} else {
			total += s.NominalDuration
		}
	}
	return total
}

func (c *Controller) send(cmd AudioCommand) {
	if c.opts.Audio != nil {
		c.opts.Audio(cmd)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
