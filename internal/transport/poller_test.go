// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"testing"
	"time"

	"seektune/pkg/utils"
)

func TestNewPoller(t *testing.T) {
	emitter := &utils.MockEmitter{}

	tests := []struct {
		name     string
		emitter  Emitter
		event    string
		interval time.Duration
		wantErr  bool
		want     time.Duration
	}{
		{"Valid", emitter, EventTotalSongs, time.Second, false, time.Second},
		{"Default interval", emitter, EventTotalSongs, 0, false, DefaultPollInterval},
		{"Nil emitter", nil, EventTotalSongs, time.Second, true, 0},
		{"No event", emitter, "", time.Second, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPoller(tt.interval, tt.emitter, tt.event, "")
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewPoller() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && p.interval != tt.want {
				t.Errorf("interval = %v, want %v", p.interval, tt.want)
			}
		})
	}
}

func TestPollerTicks(t *testing.T) {
	emitter := &utils.MockEmitter{}
	p, err := NewPoller(5*time.Millisecond, emitter, EventTotalSongs, "")
	if err != nil {
		t.Fatal(err)
	}

	p.Start()
	p.Start() // no-op while running

	deadline := time.Now().Add(testTimeout)
	for len(emitter.Named(EventTotalSongs)) < 3 {
		if time.Now().After(deadline) {
			t.Fatal("poller did not tick")
		}
		time.Sleep(time.Millisecond)
	}

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	n := len(emitter.Events())
	time.Sleep(20 * time.Millisecond)
	if got := len(emitter.Events()); got != n {
		t.Errorf("poller emitted %d events after Stop", got-n)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() after Stop = %v", err)
	}

	for _, e := range emitter.Events() {
		if e.Data != "" {
			t.Errorf("payload = %v, want empty string", e.Data)
		}
	}
}

func TestPollerCountsFailures(t *testing.T) {
	emitter := &utils.MockEmitter{Err: ErrNotConnected}
	p, err := NewPoller(time.Minute, emitter, EventTotalSongs, "")
	if err != nil {
		t.Fatal(err)
	}

	p.Poll()
	p.Poll()
	sent, failed := p.Stats()
	if sent != 0 || failed != 2 {
		t.Errorf("Stats() = (%d, %d), want (0, 2)", sent, failed)
	}
	if !errors.Is(emitter.Err, ErrTransportFailure) {
		t.Error("ErrNotConnected should wrap ErrTransportFailure")
	}
}
