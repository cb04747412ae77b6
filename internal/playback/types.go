// Package playback drives narrated lesson playback: slide advancement on audio end
// or fallback timer, progress sampling, and play/pause/seek controls.
package playback

import (
	"time"
)

type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePaused
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Slide is one narrated unit. Index is the 1-based slide number used for audio lookup.
type Slide struct {
	Index           int           `json:"index"`
	Title           string        `json:"title"`
	Content         string        `json:"content"`
	Emoji           string        `json:"emoji"`
	NominalDuration time.Duration `json:"-"`
	AudioDuration   time.Duration `json:"-"`
}

// ResolveFunc returns the audio URL for a 1-based slide number, ok=false when there is none.
type ResolveFunc func(slideNumber int) (url string, ok bool)

type AudioOp string

const (
	AudioLoad  AudioOp = "load"
	AudioPause AudioOp = "pause"
	AudioStop  AudioOp = "stop"
)

// AudioCommand is sent to the audio backend. Events coming back must echo Gen.
type AudioCommand struct {
	Op     AudioOp `json:"op"`
	Gen    uint64  `json:"gen"`
	Slide  int     `json:"slide"`
	URL    string  `json:"url,omitempty"`
	FromMs int64   `json:"fromMs"`
}

type Snapshot struct {
	LessonID             uint    `json:"lessonId"`
	State                string  `json:"state"`
	CurrentSlideIndex    int     `json:"currentSlideIndex"`
	SlideCount           int     `json:"slideCount"`
	IsPlaying            bool    `json:"isPlaying"`
	HasAudio             bool    `json:"hasAudio"`
	Gen                  uint64  `json:"gen"`
	SlideProgress        float64 `json:"slideProgress"`
	TotalProgress        float64 `json:"totalProgress"`
	AccumulatedElapsedMs int64   `json:"accumulatedElapsedMs"`
}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}
