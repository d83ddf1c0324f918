package audio

import (
	"context"
	"sync"
	"time"

	"seektune/internal/recording"
)

// SessionState is the lifecycle position of a capture session.
type SessionState int32

const (
	StateActive SessionState = iota
	StateStopping
	StateReleased
)

func (s SessionState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// StopTrigger names what ended a session.
type StopTrigger int

const (
	TriggerNone StopTrigger = iota
	TriggerTimeout
	TriggerTrackEnded
	TriggerUserStop
	TriggerError
	TriggerMatched
	TriggerShutdown
)

func (t StopTrigger) String() string {
	switch t {
	case TriggerTimeout:
		return "timeout"
	case TriggerTrackEnded:
		return "track-ended"
	case TriggerUserStop:
		return "user-stop"
	case TriggerError:
		return "error"
	case TriggerMatched:
		return "matched"
	case TriggerShutdown:
		return "shutdown"
	default:
		return "none"
	}
}

// Result describes how a session finished.
type Result struct {
	SessionID string
	Source    Source
	Trigger   StopTrigger
	Payload   *recording.Payload // nil when nothing was assembled
	Sent      bool
	Err       error
}

// Session is one capture attempt. It owns its stream exclusively; every
// path out of ACTIVE goes through teardown.
type Session struct {
	ID        string
	Source    Source
	Settings  TrackSettings
	StartedAt time.Time

	stream *MediaStream
	rec    *recorder

	mu         sync.Mutex
	state      SessionState
	sendOnStop bool
	trigger    StopTrigger
	err        error
	result     Result

	stopping chan struct{} // closed by the first teardown
	released chan struct{} // closed once the result is final
}

func newSession(id string, src Source, stream *MediaStream, rec *recorder, settings TrackSettings, now time.Time) *Session {
	return &Session{
		ID:         id,
		Source:     src,
		Settings:   settings,
		StartedAt:  now,
		stream:     stream,
		rec:        rec,
		state:      StateActive,
		sendOnStop: true,
		stopping:   make(chan struct{}),
		released:   make(chan struct{}),
	}
}

// teardown moves the session from ACTIVE to STOPPING and releases the
// stream. Only a timeout keeps sendOnStop; every other trigger cancels the
// submission. Later calls are no-ops and report false.
func (s *Session) teardown(trigger StopTrigger, cause error) bool {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return false
	}
	s.state = StateStopping
	s.trigger = trigger
	if trigger != TriggerTimeout {
		s.sendOnStop = false
	}
	if cause != nil {
		s.err = cause
	}
	s.mu.Unlock()

	if err := s.stream.Release(); err != nil {
		logger.Warn("stream release failed", "session", s.ID, "error", err)
	}
	close(s.stopping)
	logger.Debug("session stopping", "session", s.ID, "trigger", trigger)
	return true
}

// Stop cancels the session. The payload is not submitted even if the
// recorder has already stopped, as long as submission has not started.
func (s *Session) Stop() {
	s.mu.Lock()
	s.sendOnStop = false
	s.mu.Unlock()
	s.teardown(TriggerUserStop, nil)
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed is the captured audio length so far.
func (s *Session) Elapsed() time.Duration {
	if s.Settings.SampleRate <= 0 {
		return 0
	}
	return time.Duration(s.rec.Frames()) * time.Second / time.Duration(s.Settings.SampleRate)
}

// Done is closed when the session is released.
func (s *Session) Done() <-chan struct{} { return s.released }

// Wait blocks until the session is released or ctx ends.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.released:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result, s.result.Err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// finish assembles and submits the payload once the recorder has exited.
// The caller closes released.
// The sendOnStop check and the submission happen under one lock, so a
// Stop either lands before submission and suppresses it or after it.
func (s *Session) finish(ctx context.Context, packager *recording.Packager, submitter Submitter) Result {
	<-s.rec.done

	s.mu.Lock()
	send := s.sendOnStop
	trigger := s.trigger
	err := s.err
	s.mu.Unlock()

	if err == nil {
		err = s.rec.err
	}

	var payload *recording.Payload
	if err == nil && send {
		payload, err = packager.Package(s.rec.Bytes(), recording.Format{
			Channels:   s.Settings.ChannelCount,
			SampleRate: s.Settings.SampleRate,
			SampleSize: s.Settings.SampleSize,
		})
	}

	s.mu.Lock()
	sent := false
	if err == nil && payload != nil && s.sendOnStop {
		if err = submitter.Submit(ctx, payload); err == nil {
			sent = true
		}
	}
	s.state = StateReleased
	s.result = Result{
		SessionID: s.ID,
		Source:    s.Source,
		Trigger:   trigger,
		Payload:   payload,
		Sent:      sent,
		Err:       err,
	}
	result := s.result
	s.mu.Unlock()
	return result
}
