// SPDX-License-Identifier: MIT
package transport

import (
	"fmt"
	"sync"
	"time"
)

// DefaultPollInterval is used when NewPoller is given a non-positive interval.
const DefaultPollInterval = 8 * time.Second

// Poller periodically emits one fixed event, such as the totalSongs refresh
// request. It runs in a separate goroutine managed by Start and Stop.
type Poller struct {
	emitter  Emitter       // Destination of every poll.
	event    string        // Event name emitted on each tick.
	payload  any           // Payload emitted on each tick.
	interval time.Duration // Time between polls.

	ticker   *time.Ticker   // Ticker that triggers polls.
	doneChan chan struct{}  // Signals the poll goroutine to stop.
	stopOnce sync.Once      // Ensures the stop logic runs only once per Start/Stop cycle.
	wg       sync.WaitGroup // Waits for the poll goroutine to finish during Stop.
	mu       sync.Mutex     // Protects ticker and doneChan during Start/Stop.

	sent   uint64 // Successful polls.
	failed uint64 // Polls the emitter rejected.
}

// NewPoller creates a poller that emits event with payload every interval.
// If the interval is invalid (<= 0), it defaults to DefaultPollInterval.
func NewPoller(interval time.Duration, emitter Emitter, event string, payload any) (*Poller, error) {
	if emitter == nil {
		return nil, fmt.Errorf("poller: emitter cannot be nil")
	}
	if event == "" {
		return nil, fmt.Errorf("poller: event name cannot be empty")
	}

	if interval <= 0 {
		interval = DefaultPollInterval
		logger.Warn("invalid poll interval, using default", "interval", interval)
	}

	return &Poller{
		emitter:  emitter,
		event:    event,
		payload:  payload,
		interval: interval,
	}, nil
}

// Start begins polling. It is safe to call Start multiple times; subsequent
// calls are no-ops while running.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.ticker != nil {
		p.mu.Unlock()
		logger.Warn("poller already running", "event", p.event)
		return
	}

	p.ticker = time.NewTicker(p.interval)
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}

	// Local copies keep the goroutine off p.ticker/p.doneChan.
	ticker := p.ticker
	doneChan := p.doneChan

	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		logger.Debug("poller started", "event", p.event, "interval", p.interval)
		for {
			select {
			case <-ticker.C:
				p.Poll()
			case <-doneChan:
				return
			}
		}
	}()
}

// Poll emits the event once, outside the regular schedule.
func (p *Poller) Poll() {
	if err := p.emitter.Emit(p.event, p.payload); err != nil {
		p.mu.Lock()
		p.failed++
		p.mu.Unlock()
		// Expected while disconnected; the next tick tries again.
		logger.Debug("poll failed", "event", p.event, "error", err)
		return
	}
	p.mu.Lock()
	p.sent++
	p.mu.Unlock()
}

// Stats reports how many polls were sent and how many failed.
func (p *Poller) Stats() (sent, failed uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent, p.failed
}

// Stop signals the poll goroutine to terminate and waits for it to exit.
// It is safe to call Stop multiple times.
func (p *Poller) Stop() error {
	p.mu.Lock()
	if p.ticker == nil {
		p.mu.Unlock()
		return nil
	}

	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.ticker.Stop()
		p.ticker = nil
	})

	p.mu.Unlock()

	p.wg.Wait()
	logger.Debug("poller stopped", "event", p.event)
	return nil
}

// Close implements io.Closer.
func (p *Poller) Close() error {
	return p.Stop()
}

var _ interface{ Close() error } = (*Poller)(nil)
