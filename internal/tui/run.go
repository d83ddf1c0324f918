package tui

import (
	"context"
	"sync"

	"seektune/internal/app"

	tea "github.com/charmbracelet/bubbletea"
)

// forwarder hands snapshots to the program without ever blocking the
// notifier. Snapshots are complete states, so only the latest is kept.
type forwarder struct {
	mu     sync.Mutex
	latest app.Snapshot
	signal chan struct{}
}

func newForwarder() *forwarder {
	return &forwarder{signal: make(chan struct{}, 1)}
}

func (f *forwarder) publish(s app.Snapshot) {
	f.mu.Lock()
	f.latest = s
	f.mu.Unlock()
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

func (f *forwarder) run(ctx context.Context, send func(tea.Msg)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.signal:
			f.mu.Lock()
			s := f.latest
			f.mu.Unlock()
			send(snapshotMsg(s))
		}
	}
}

// Run starts the UI and blocks until the user quits.
func Run(ctx context.Context, a *app.App, inputDevice int) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(
		New(ctx, a, inputDevice),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	fwd := newForwarder()
	a.Subscribe(fwd.publish)
	go fwd.run(ctx, p.Send)

	_, err := p.Run()
	return err
}
