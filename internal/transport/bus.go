package transport

import (
	"encoding/json"
	"sync"
)

// bus holds the subscriptions and connect hooks shared by every transport.
type bus struct {
	mu        sync.RWMutex
	handlers  map[string][]*subscription
	onConnect []func()
}

type subscription struct {
	h Handler
}

func (b *bus) Subscribe(event string, h Handler) func() {
	sub := &subscription{h: h}
	b.mu.Lock()
	if b.handlers == nil {
		b.handlers = make(map[string][]*subscription)
	}
	b.handlers[event] = append(b.handlers[event], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.handlers[event]
			for i, s := range subs {
				if s == sub {
					b.handlers[event] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *bus) OnConnect(fn func()) {
	b.mu.Lock()
	b.onConnect = append(b.onConnect, fn)
	b.mu.Unlock()
}

// dispatch runs the handlers for event on the calling goroutine.
func (b *bus) dispatch(event string, data json.RawMessage) int {
	b.mu.RLock()
	subs := append([]*subscription(nil), b.handlers[event]...)
	b.mu.RUnlock()

	for _, s := range subs {
		s.h(data)
	}
	return len(subs)
}

func (b *bus) connected() {
	b.mu.RLock()
	hooks := append([]func(){}, b.onConnect...)
	b.mu.RUnlock()

	for _, fn := range hooks {
		fn()
	}
}
