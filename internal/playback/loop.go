package playback

import (
	"context"
	"course_platform_backend/internal/util"
	"fmt"
	"time"
)

type EventKind string

const (
	EventPlay        EventKind = "play"
	EventPause       EventKind = "pause"
	EventSeek        EventKind = "seek"
	EventAudioLoaded EventKind = "audio_loaded"
	EventAudioTime   EventKind = "audio_time"
	EventAudioEnded  EventKind = "audio_ended"
	EventAudioError  EventKind = "audio_error"
)

// Event is either user input or an audio backend notification.
type Event struct {
	Kind     EventKind
	Slide    int
	Gen      uint64
	Position time.Duration
	Duration time.Duration
	Reason   string
}

const DefaultSampleInterval = 100 * time.Millisecond

// Loop owns a Controller and feeds it events, fallback timer fires and progress
// sampling ticks from a single goroutine.
type Loop struct {
	ctrl       *Controller
	events     chan Event
	interval   time.Duration
	onProgress func(Snapshot)
	done       chan struct{}
}

func NewLoop(ctrl *Controller, interval time.Duration, onProgress func(Snapshot)) *Loop {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	return &Loop{
		ctrl:       ctrl,
		events:     make(chan Event, 32),
		interval:   interval,
		onProgress: onProgress,
		done:       make(chan struct{}),
	}
}

// Dispatch queues an event. It returns false once the loop has stopped.
func (l *Loop) Dispatch(ev Event) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.events <- ev:
		return true
	case <-l.done:
		return false
	}
}

// Seek validates the target before queueing so callers get the range error synchronously.
func (l *Loop) Seek(index int) error {
	if index < 0 || index >= l.ctrl.SlideCount() {
		return fmt.Errorf("%w: %d not in [0, %d]", util.ErrSlideOutOfRange, index, l.ctrl.SlideCount()-1)
	}
	l.Dispatch(Event{Kind: EventSeek, Slide: index})
	return nil
}

func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run blocks until ctx is cancelled. On exit the timer and ticker are stopped and
// the audio backend is told to release the current slide.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	var (
		timer    *time.Timer
		timerC   <-chan time.Time
		timerGen uint64
		ticker   *time.Ticker
		tickC    <-chan time.Time
	)

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerC = nil, nil
	}
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
		}
		ticker, tickC = nil, nil
	}
	sync := func() {
		remaining, gen, ok := l.ctrl.PendingTimer()
		switch {
		case !ok:
			stopTimer()
		case timerC == nil || gen != timerGen:
			stopTimer()
			timer = time.NewTimer(remaining)
			timerC = timer.C
			timerGen = gen
		}

		if l.ctrl.State() == StatePlaying {
			if tickC == nil {
				ticker = time.NewTicker(l.interval)
				tickC = ticker.C
			}
		} else {
			stopTicker()
		}
	}
	defer func() {
		stopTimer()
		stopTicker()
		l.ctrl.Teardown()
	}()

	l.publish()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-l.events:
			l.handle(ev)
			sync()
			l.publish()
		case <-timerC:
			timer, timerC = nil, nil
			l.ctrl.TimerFired(timerGen)
			sync()
			l.publish()
		case <-tickC:
			l.publish()
		}
	}
}

func (l *Loop) handle(ev Event) {
	switch ev.Kind {
	case EventPlay:
		l.ctrl.Play()
	case EventPause:
		l.ctrl.Pause()
	case EventSeek:
		l.ctrl.Seek(ev.Slide)
	case EventAudioLoaded:
		l.ctrl.AudioLoaded(ev.Gen, ev.Duration)
	case EventAudioTime:
		l.ctrl.AudioProgress(ev.Gen, ev.Position)
	case EventAudioEnded:
		l.ctrl.AudioEnded(ev.Gen)
	case EventAudioError:
		l.ctrl.AudioFailed(ev.Gen, ev.Reason)
	}
}

func (l *Loop) publish() {
	if l.onProgress != nil {
		l.onProgress(l.ctrl.Snapshot())
	}
}
