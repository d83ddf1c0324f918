package audio

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"seektune/internal/recording"
	"seektune/pkg/utils"
)

var liveSettings = TrackSettings{ChannelCount: 1, SampleRate: 44100, SampleSize: 16}

// fakeTrack serves pushed chunks and reports io.EOF once stopped or ended.
// Queued chunks are always drained before EOF.
type fakeTrack struct {
	kind     TrackKind
	settings TrackSettings
	feed     chan []int
	done     chan struct{}
	doneOnce sync.Once
	hold     chan struct{} // when set, EOF waits for it
	stops    atomic.Int32
}

func newFakeTrack(kind TrackKind, settings TrackSettings) *fakeTrack {
	return &fakeTrack{
		kind:     kind,
		settings: settings,
		feed:     make(chan []int, 256),
		done:     make(chan struct{}),
	}
}

func (t *fakeTrack) Kind() TrackKind         { return t.kind }
func (t *fakeTrack) Settings() TrackSettings { return t.settings }
func (t *fakeTrack) Done() <-chan struct{}   { return t.done }

func (t *fakeTrack) Stop() error {
	t.stops.Add(1)
	t.end()
	return nil
}

// end simulates the device going away.
func (t *fakeTrack) end() {
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *fakeTrack) Read(buf []int) (int, error) {
	select {
	case c := <-t.feed:
		return copy(buf, c), nil
	default:
	}
	select {
	case c := <-t.feed:
		return copy(buf, c), nil
	case <-t.done:
		if t.hold != nil {
			<-t.hold
		}
		return 0, io.EOF
	}
}

func (t *fakeTrack) push(samples []int) {
	for _, c := range utils.Chunk(samples, 1024) {
		t.feed <- c
	}
}

type fakeAcquirer struct {
	tracks []Track
	err    error
	calls  atomic.Int32
	last   Constraints
}

func (a *fakeAcquirer) Acquire(_ context.Context, c Constraints) (*MediaStream, error) {
	a.calls.Add(1)
	a.last = c
	if a.err != nil {
		return nil, a.err
	}
	return NewMediaStream(a.tracks...), nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []*recording.Payload
	err      error
}

func (s *fakeSubmitter) Submit(_ context.Context, p *recording.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.payloads = append(s.payloads, p)
	return nil
}

func (s *fakeSubmitter) submitted() []*recording.Payload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*recording.Payload(nil), s.payloads...)
}

// fakeTimer replaces the capture bound with a channel the test fires.
type fakeTimer struct {
	c         chan time.Time
	requested time.Duration
	stopped   atomic.Bool
}

func installTimer(c *Controller) *fakeTimer {
	ft := &fakeTimer{c: make(chan time.Time, 1)}
	c.after = func(d time.Duration) (<-chan time.Time, func() bool) {
		ft.requested = d
		return ft.c, func() bool { ft.stopped.Store(true); return true }
	}
	return ft
}

func (ft *fakeTimer) fire() { ft.c <- time.Now() }

func newTestController(acq Acquirer, sub Submitter) *Controller {
	c := NewController(
		NewSourceSelector(SourceDevice),
		NewEncoderRegistry(registerWAV),
		map[Source]Acquirer{SourceDevice: acq},
		sub,
		Options{MaxDuration: 20 * time.Second, SampleRate: 44100, FramesPerBuffer: 1024},
	)
	c.newID = func() string { return "session-1" }
	return c
}

func waitResult(t *testing.T, s *Session) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-s.Done():
	case <-ctx.Done():
		t.Fatalf("session %s did not release", s.ID)
	}
	res, _ := s.Wait(ctx)
	return res
}
