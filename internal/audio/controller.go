package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"seektune/internal/log"
	"seektune/internal/recording"

	"github.com/google/uuid"
)

var logger = log.L("audio")

// Acquirer opens a media stream for one source class.
type Acquirer interface {
	Acquire(ctx context.Context, c Constraints) (*MediaStream, error)
}

// Submitter hands a finished payload to the matching service.
type Submitter interface {
	Submit(ctx context.Context, p *recording.Payload) error
}

// Options shape every capture started by a Controller.
type Options struct {
	MaxDuration     time.Duration
	SampleRate      float64
	FramesPerBuffer int
}

// Controller starts capture sessions from the selected source and drives
// each one to release. At most one session is active at a time.
type Controller struct {
	selector  *SourceSelector
	registry  *EncoderRegistry
	acquirers map[Source]Acquirer
	packager  *recording.Packager
	submitter Submitter
	opts      Options

	// Test hooks.
	after func(time.Duration) (<-chan time.Time, func() bool)
	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	current  *Session
	starting bool
	onEnd    func(Result)
}

// NewController wires a controller. acquirers maps each source to the
// backend that opens it.
func NewController(selector *SourceSelector, registry *EncoderRegistry, acquirers map[Source]Acquirer,
	submitter Submitter, opts Options) *Controller {
	return &Controller{
		selector:  selector,
		registry:  registry,
		acquirers: acquirers,
		packager:  recording.NewPackager(),
		submitter: submitter,
		opts:      opts,
		after: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Selector exposes the source selector.
func (c *Controller) Selector() *SourceSelector { return c.selector }

// OnSessionEnd registers fn to be called with every session result.
func (c *Controller) OnSessionEnd(fn func(Result)) {
	c.mu.Lock()
	c.onEnd = fn
	c.mu.Unlock()
}

// Active returns the running session, or nil.
func (c *Controller) Active() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// StartCapture acquires the selected source and starts recording. Any
// failure releases what was acquired and leaves the controller ready for
// another attempt. Cancelling ctx ends the session without submitting.
func (c *Controller) StartCapture(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	if c.current != nil || c.starting {
		c.mu.Unlock()
		return nil, ErrCaptureInProgress
	}
	c.starting = true
	c.mu.Unlock()

	s, err := c.start(ctx)

	c.mu.Lock()
	c.starting = false
	c.mu.Unlock()

	if err != nil {
		logger.Error("capture failed", "error", err)
		return nil, err
	}
	return s, nil
}

func (c *Controller) start(ctx context.Context) (*Session, error) {
	source := c.selector.Current()
	acquirer, ok := c.acquirers[source]
	if !ok || acquirer == nil {
		return nil, fmt.Errorf("%w: no backend for source %q", ErrSourceUnavailable, source)
	}

	if err := c.registry.EnsureRegistered(); err != nil {
		return nil, err
	}

	constraints := CaptureConstraints(c.opts.SampleRate, c.opts.FramesPerBuffer)
	stream, err := acquirer.Acquire(ctx, constraints)
	if err != nil {
		if !errors.Is(err, ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		return nil, err
	}

	// Screen sharing can hand over video as well; only audio survives.
	for _, v := range stream.VideoTracks() {
		if err := v.Stop(); err != nil {
			logger.Warn("failed to stop video track", "error", err)
		}
	}

	audioTracks := stream.AudioTracks()
	if len(audioTracks) == 0 {
		_ = stream.Release()
		return nil, fmt.Errorf("%w: stream has no audio track", ErrSourceUnavailable)
	}
	owned := make([]Track, len(audioTracks))
	for i, t := range audioTracks {
		owned[i] = t
	}
	sessionStream := NewMediaStream(owned...)

	track := audioTracks[0]
	settings := track.Settings()

	rec, err := newRecorder(track, c.registry, c.opts.FramesPerBuffer)
	if err != nil {
		_ = sessionStream.Release()
		return nil, err
	}

	s := newSession(c.newID(), source, sessionStream, rec, settings, c.now())
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
	logger.Info("capture started",
		"session", s.ID,
		"source", source,
		"channels", settings.ChannelCount,
		"sample_rate", settings.SampleRate,
		"sample_size", settings.SampleSize,
	)

	timeout, cancelTimer := c.after(c.opts.MaxDuration)
	go rec.run()
	go c.run(ctx, s, track, timeout, cancelTimer)
	return s, nil
}

// run waits for the first stop trigger, then finishes the session.
func (c *Controller) run(ctx context.Context, s *Session, track AudioTrack, timeout <-chan time.Time, cancelTimer func() bool) {
	select {
	case <-timeout:
		s.teardown(TriggerTimeout, nil)
	case <-track.Done():
		s.teardown(TriggerTrackEnded, nil)
	case <-s.rec.done:
		if s.rec.err != nil {
			s.teardown(TriggerError, s.rec.err)
		} else {
			s.teardown(TriggerTrackEnded, nil)
		}
	case <-ctx.Done():
		s.teardown(TriggerShutdown, nil)
	case <-s.stopping:
	}
	cancelTimer()

	result := s.finish(context.WithoutCancel(ctx), c.packager, c.submitter)

	c.mu.Lock()
	if c.current == s {
		c.current = nil
	}
	onEnd := c.onEnd
	c.mu.Unlock()
	close(s.released)

	ran := c.now().Sub(s.StartedAt)
	if result.Err != nil {
		logger.Error("capture ended with error", "session", s.ID, "trigger", result.Trigger, "ran", ran, "error", result.Err)
	} else {
		logger.Info("capture ended", "session", s.ID, "trigger", result.Trigger, "sent", result.Sent,
			"ran", ran, "captured", s.Elapsed())
	}
	if onEnd != nil {
		onEnd(result)
	}
}

// Stop cancels the active session and reports whether there was one.
func (c *Controller) Stop() bool {
	return c.end(TriggerUserStop)
}

// EndActive ends the active session for reason without submitting.
func (c *Controller) EndActive(reason StopTrigger) bool {
	return c.end(reason)
}

func (c *Controller) end(reason StopTrigger) bool {
	s := c.Active()
	if s == nil {
		return false
	}
	if reason == TriggerUserStop {
		s.Stop()
		return true
	}
	s.mu.Lock()
	s.sendOnStop = false
	s.mu.Unlock()
	return s.teardown(reason, nil)
}
