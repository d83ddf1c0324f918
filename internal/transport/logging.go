package transport

import (
	"encoding/json"
	"sync"
)

// LoggingTransport is the dry-run Transport: outbound events are logged
// instead of sent, and inbound events only arrive through Deliver.
type LoggingTransport struct {
	bus

	mu     sync.Mutex
	closed bool
}

// NewLoggingTransport creates a new LoggingTransport instance.
func NewLoggingTransport() *LoggingTransport {
	logger.Info("using dry-run transport")
	return &LoggingTransport{}
}

// Start runs the connect hooks once, as if a connection had opened.
func (lt *LoggingTransport) Start() {
	lt.connected()
}

// Emit logs the event. It never fails before Close.
func (lt *LoggingTransport) Emit(event string, data any) error {
	lt.mu.Lock()
	closed := lt.closed
	lt.mu.Unlock()
	if closed {
		return ErrClosed
	}

	msg, err := encodeEvent(event, data)
	if err != nil {
		return err
	}
	logger.Info("dry-run emit", "event", event, "bytes", len(msg))
	logger.Debug("dry-run payload", "event", event, "frame", truncate(msg, 256))
	return nil
}

// Deliver hands an inbound event to the subscribers as if the server had
// sent it. data is encoded to JSON first.
func (lt *LoggingTransport) Deliver(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	lt.dispatch(event, raw)
	return nil
}

// Close marks the transport closed.
func (lt *LoggingTransport) Close() error {
	lt.mu.Lock()
	lt.closed = true
	lt.mu.Unlock()
	logger.Debug("dry-run transport closed")
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ Transport = (*LoggingTransport)(nil)
