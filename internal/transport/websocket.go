package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 16 * 1024 * 1024 // recordings travel base64 encoded
	initialBackoff = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFactor   = 0.3
)

// Config holds websocket client settings.
type Config struct {
	ServerURL        string
	HandshakeTimeout time.Duration
}

// Client is a Socket.IO (Engine.IO v3) Transport over a single websocket
// connection that is re-established with jittered exponential backoff
// whenever it drops. Events use the default namespace.
type Client struct {
	bus

	config   Config
	conn     *websocket.Conn
	joined   bool // the server acknowledged the default namespace
	connMu   sync.RWMutex
	done     chan struct{}
	sendChan chan []byte
	stopOnce sync.Once
	start    sync.Once
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewClient creates a websocket client. Nothing is dialled until Start.
func NewClient(cfg Config) *Client {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config:   cfg,
		done:     make(chan struct{}),
		sendChan: make(chan []byte, 64),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the connection loop in the background.
func (c *Client) Start() {
	c.start.Do(func() {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.reconnectLoop()
		}()
	})
}

// Close closes the connection and stops reconnecting.
func (c *Client) Close() error {
	c.stopOnce.Do(func() {
		close(c.done)
		c.cancel()

		c.connMu.Lock()
		if c.conn != nil {
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			c.conn.Close()
			c.conn = nil
			c.joined = false
		}
		c.connMu.Unlock()

		logger.Info("client stopped")
	})
	c.wg.Wait()
	return nil
}

// Connected reports whether events can be sent: the socket is open and
// the server has accepted the default namespace.
func (c *Client) Connected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn != nil && c.joined
}

// Emit queues one event for the current connection. It fails with
// ErrNotConnected while disconnected rather than holding the event back.
func (c *Client) Emit(event string, data any) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if !c.Connected() {
		return fmt.Errorf("emit %s: %w", event, ErrNotConnected)
	}

	msg, err := encodeEvent(event, data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransportFailure, err)
	}

	select {
	case c.sendChan <- msg:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return fmt.Errorf("emit %s: %w: send queue full", event, ErrTransportFailure)
	}
}

// connect dials the server and reads the Engine.IO open packet.
func (c *Client) connect() (handshake, error) {
	wsURL, err := c.buildWSURL()
	if err != nil {
		return handshake{}, fmt.Errorf("failed to build WebSocket URL: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(c.ctx, wsURL, nil)
	if err != nil {
		return handshake{}, fmt.Errorf("failed to connect: %w", err)
	}
	conn.SetReadLimit(maxMessageSize)

	hs, err := readOpen(conn, c.config.HandshakeTimeout)
	if err != nil {
		conn.Close()
		return handshake{}, err
	}

	c.connMu.Lock()
	select {
	case <-c.done:
		c.connMu.Unlock()
		conn.Close()
		return handshake{}, ErrClosed
	default:
	}
	c.conn = conn
	c.joined = false
	c.connMu.Unlock()

	logger.Info("connected", "server", wsURL, "sid", hs.SID, "ping_interval", hs.interval())
	return hs, nil
}

func readOpen(conn *websocket.Conn, timeout time.Duration) (handshake, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return handshake{}, fmt.Errorf("failed to read open packet: %w", err)
	}
	p, err := parsePacket(frame)
	if err != nil || p.eio != eioOpen {
		return handshake{}, fmt.Errorf("expected open packet, got %q", frame)
	}
	var hs handshake
	if err := json.Unmarshal(p.body, &hs); err != nil {
		return handshake{}, fmt.Errorf("malformed open packet: %w", err)
	}
	return hs, nil
}

func (c *Client) buildWSURL() (string, error) {
	serverURL, err := url.Parse(c.config.ServerURL)
	if err != nil {
		return "", err
	}

	switch serverURL.Scheme {
	case "https":
		serverURL.Scheme = "wss"
	case "http":
		serverURL.Scheme = "ws"
	}

	if serverURL.Path == "" || serverURL.Path == "/" {
		serverURL.Path = defaultPath
	}
	q := serverURL.Query()
	q.Set("EIO", engineIOVersion)
	q.Set("transport", "websocket")
	serverURL.RawQuery = q.Encode()
	return serverURL.String(), nil
}

func (c *Client) reconnectLoop() {
	backoff := initialBackoff

	for {
		select {
		case <-c.done:
			return
		default:
		}

		hs, err := c.connect()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			logger.Warn("connection failed", "error", err)

			jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
			sleep := backoff + jitter
			if sleep < 0 {
				sleep = backoff
			}

			logger.Info("retrying", "delay", sleep)
			select {
			case <-c.done:
				return
			case <-time.After(sleep):
			}

			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		// Reset backoff on successful connection
		backoff = initialBackoff

		done := make(chan struct{})
		pumpDone := make(chan struct{})
		go func() {
			defer close(pumpDone)
			c.writePump(done, hs.interval())
		}()
		c.readPump(hs)
		close(done)
		<-pumpDone
		c.disconnect()
	}
}

// disconnect drops the current connection and any events still queued
// for it.
func (c *Client) disconnect() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.joined = false
	c.connMu.Unlock()

	dropped := 0
drain:
	for {
		select {
		case <-c.sendChan:
			dropped++
		default:
			break drain
		}
	}
	if dropped > 0 {
		logger.Warn("dropped queued events", "count", dropped)
	}
}

// join marks the default namespace as accepted and runs the connect hooks.
func (c *Client) join() {
	c.connMu.Lock()
	already := c.joined
	c.joined = c.conn != nil
	c.connMu.Unlock()
	if already {
		return
	}
	logger.Debug("namespace joined")
	c.connected()
}

// enqueue hands a control frame to the write pump without blocking.
func (c *Client) enqueue(frame []byte) {
	select {
	case c.sendChan <- frame:
	default:
		logger.Warn("send queue full, dropping control frame")
	}
}

func (c *Client) readPump(hs handshake) {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()

	if conn == nil {
		return
	}

	timeout := hs.readTimeout()
	conn.SetReadDeadline(time.Now().Add(timeout))

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(timeout))

		p, err := parsePacket(frame)
		if err != nil {
			logger.Warn("failed to parse packet", "error", err)
			continue
		}

		switch p.eio {
		case eioPing:
			c.enqueue(append([]byte{eioPong}, p.body...))
		case eioClose:
			logger.Info("server closed the session")
			return
		case eioMessage:
			switch p.sio {
			case sioConnect:
				if p.rootNamespace() {
					c.join()
				}
			case sioDisconnect:
				if p.rootNamespace() {
					logger.Info("server disconnected the client")
					return
				}
			case sioError:
				logger.Warn("server rejected the connection", "message", string(p.body))
			case sioEvent:
				if !p.root() {
					continue
				}
				if n := c.dispatch(p.event, p.data); n == 0 {
					logger.Debug("unhandled event", "event", p.event)
				}
			}
		}
	}
}

// writePump is the only writer of data frames. It also sends the Engine.IO
// heartbeat, which v3 servers expect from the client.
func (c *Client) writePump(done chan struct{}, pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	write := func(frame []byte) bool {
		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()

		if conn == nil {
			return true
		}

		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			logger.Warn("write error", "error", err)
			conn.Close()
			return false
		}
		return true
	}

	for {
		select {
		case <-done:
			return
		case <-c.done:
			return
		case frame := <-c.sendChan:
			if !write(frame) {
				return
			}
		case <-ticker.C:
			if !write([]byte{eioPing}) {
				return
			}
		}
	}
}

var _ Transport = (*Client)(nil)
