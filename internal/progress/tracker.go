package progress

import (
	"fmt"
	"sync"
	"time"

	"seektune/internal/log"
)

var logger = log.L("progress")

// Options holds the visibility delays.
type Options struct {
	HideDelay  time.Duration // acquisition hides this long after completing
	ResetDelay time.Duration // full reset this long after fingerprinting completes
}

// Tracker owns a State, applies events to it one at a time and carries out
// the resulting effects. Timer effects are handled internally; the rest are
// passed to the handler given to NewTracker. Neither the handler nor a
// subscriber may call Dispatch synchronously.
type Tracker struct {
	opts   Options
	handle func(Effect)

	// afterFunc is swapped out in tests.
	afterFunc func(time.Duration, func()) func() bool

	mu     sync.Mutex
	state  State
	timers map[uint64]func() bool
	nextID uint64
	closed bool
	subs   []func(View)
	dispMu sync.Mutex
}

// NewTracker returns a tracker in the idle state. handle may be nil.
func NewTracker(opts Options, handle func(Effect)) *Tracker {
	if handle == nil {
		handle = func(Effect) {}
	}
	return &Tracker{
		opts:   opts,
		handle: handle,
		afterFunc: func(d time.Duration, fn func()) func() bool {
			return time.AfterFunc(d, fn).Stop
		},
		state:  Initial(),
		timers: make(map[uint64]func() bool),
	}
}

// Subscribe registers fn to receive the derived view after every event.
func (t *Tracker) Subscribe(fn func(View)) {
	t.mu.Lock()
	t.subs = append(t.subs, fn)
	t.mu.Unlock()
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// View derives the current combined view.
func (t *Tracker) View() View {
	return Derive(t.State())
}

// Dispatch applies e and runs its effects. Events are applied in the order
// Dispatch is called; callers may dispatch from any goroutine.
func (t *Tracker) Dispatch(e Event) {
	// dispMu serialises reduce and notification so subscribers observe
	// views in event order.
	t.dispMu.Lock()
	defer t.dispMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	next, effects := Reduce(t.state, e)
	t.state = next
	subs := append([]func(View){}, t.subs...)
	t.mu.Unlock()

	logger.Debug("event applied", "event", fmt.Sprintf("%T", e), "generation", next.Generation,
		"acquisition", next.Acquisition.Percentage, "fingerprint", next.Fingerprint.Percentage)

	for _, eff := range effects {
		switch eff := eff.(type) {
		case ScheduleHide:
			t.schedule(t.opts.HideDelay, HideAcquisition{Generation: eff.Generation})
		case ScheduleReset:
			t.schedule(t.opts.ResetDelay, ResetTimer{Generation: eff.Generation})
		default:
			t.handle(eff)
		}
	}

	view := Derive(next)
	for _, fn := range subs {
		fn(view)
	}
}

func (t *Tracker) schedule(d time.Duration, e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.nextID++
	id := t.nextID
	t.timers[id] = t.afterFunc(d, func() {
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
		t.Dispatch(e)
	})
}

// Close cancels pending timers. Events dispatched afterwards are dropped.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, stop := range t.timers {
		stop()
		delete(t.timers, id)
	}
}
