package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const testTimeout = 5 * time.Second

// testServer speaks the server side of Engine.IO v3 over a raw websocket.
type testServer struct {
	*httptest.Server
	autoJoin bool
	pingMs   int
	conns    chan *serverConn
	received chan packet
	pings    chan struct{}
	pongs    chan string
}

type serverConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (sc *serverConn) send(t *testing.T, frame string) {
	t.Helper()
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if err := sc.conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func newTestServer(t *testing.T, autoJoin bool) *testServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := &testServer{
		autoJoin: autoJoin,
		pingMs:   25000,
		conns:    make(chan *serverConn, 4),
		received: make(chan packet, 16),
		pings:    make(chan struct{}, 16),
		pongs:    make(chan string, 4),
	}
	ts.Server = httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != defaultPath || q.Get("EIO") != "3" || q.Get("transport") != "websocket" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		sc := &serverConn{conn: conn}
		open, _ := json.Marshal(handshake{SID: "sid-1", Upgrades: []string{}, PingInterval: ts.pingMs, PingTimeout: 5000})
		sc.mu.Lock()
		conn.WriteMessage(websocket.TextMessage, append([]byte{eioOpen}, open...))
		if ts.autoJoin {
			conn.WriteMessage(websocket.TextMessage, []byte("40"))
		}
		sc.mu.Unlock()
		ts.conns <- sc

		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			p, err := parsePacket(frame)
			if err != nil {
				continue
			}
			switch p.eio {
			case eioPing:
				select {
				case ts.pings <- struct{}{}:
				default:
				}
				sc.mu.Lock()
				conn.WriteMessage(websocket.TextMessage, append([]byte{eioPong}, p.body...))
				sc.mu.Unlock()
			case eioPong:
				ts.pongs <- string(p.body)
			case eioMessage:
				if p.sio == sioEvent {
					ts.received <- p
				}
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) accept(t *testing.T) *serverConn {
	t.Helper()
	select {
	case sc := <-ts.conns:
		return sc
	case <-time.After(testTimeout):
		t.Fatal("client never connected")
		return nil
	}
}

func startClient(t *testing.T, ts *testServer) (*Client, chan struct{}) {
	t.Helper()
	ts.Start()
	c := NewClient(Config{ServerURL: ts.URL, HandshakeTimeout: time.Second})
	connected := make(chan struct{}, 4)
	c.OnConnect(func() { connected <- struct{}{} })
	c.Start()
	t.Cleanup(func() { c.Close() })
	return c, connected
}

func waitSignal(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(testTimeout):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestClientEmitBeforeConnect(t *testing.T) {
	c := NewClient(Config{ServerURL: "http://127.0.0.1:1"})
	err := c.Emit(EventTotalSongs, "")
	if !errors.Is(err, ErrNotConnected) || !errors.Is(err, ErrTransportFailure) {
		t.Errorf("Emit() error = %v, want ErrNotConnected", err)
	}
}

func TestClientWaitsForNamespaceConnect(t *testing.T) {
	ts := newTestServer(t, false)
	c, connected := startClient(t, ts)
	sc := ts.accept(t)

	// The open packet alone does not make the client usable.
	time.Sleep(50 * time.Millisecond)
	if c.Connected() {
		t.Fatal("Connected() before the namespace connect packet")
	}
	if err := c.Emit(EventTotalSongs, ""); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Emit() error = %v, want ErrNotConnected", err)
	}
	select {
	case <-connected:
		t.Fatal("connect hook ran before the namespace connect packet")
	default:
	}

	sc.send(t, "40")
	waitSignal(t, connected, "connect hook")
	if !c.Connected() {
		t.Error("Connected() = false after the namespace connect packet")
	}

	// A repeated connect packet does not rerun the hooks.
	sc.send(t, "40")
	sc.send(t, `42["totalSongs",1]`)
	time.Sleep(50 * time.Millisecond)
	select {
	case <-connected:
		t.Error("connect hook ran twice for one connection")
	default:
	}
}

func TestClientRoundTrip(t *testing.T) {
	ts := newTestServer(t, true)
	c, connected := startClient(t, ts)

	got := make(chan json.RawMessage, 1)
	c.Subscribe(EventMatches, func(data json.RawMessage) { got <- data })

	sc := ts.accept(t)
	waitSignal(t, connected, "connect hook")

	if err := c.Emit(EventNewRecording, `{"audio":"UklGRg==","duration":1.5}`); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}

	select {
	case p := <-ts.received:
		if p.event != EventNewRecording {
			t.Errorf("event = %q, want %q", p.event, EventNewRecording)
		}
		var payload string
		if err := json.Unmarshal(p.data, &payload); err != nil {
			t.Fatalf("data is not a JSON string: %s", p.data)
		}
		if payload != `{"audio":"UklGRg==","duration":1.5}` {
			t.Errorf("payload = %s", payload)
		}
	case <-time.After(testTimeout):
		t.Fatal("server never received the event")
	}

	sc.send(t, `42["matches","[{\"SongTitle\":\"Song\"}]"]`)

	select {
	case data := <-got:
		var matches []map[string]any
		if err := DecodeJSON(data, &matches); err != nil {
			t.Fatalf("DecodeJSON() error = %v", err)
		}
		if len(matches) != 1 || matches[0]["SongTitle"] != "Song" {
			t.Errorf("matches = %v", matches)
		}
	case <-time.After(testTimeout):
		t.Fatal("handler never called")
	}
}

func TestClientHeartbeat(t *testing.T) {
	ts := newTestServer(t, true)
	ts.pingMs = 20
	_, connected := startClient(t, ts)
	sc := ts.accept(t)
	waitSignal(t, connected, "connect hook")

	// The client pings at the interval from the open packet.
	waitSignal(t, ts.pings, "client ping")
	waitSignal(t, ts.pings, "second client ping")

	// A server ping is answered with a pong carrying the same body.
	sc.send(t, "2hb-7")
	select {
	case body := <-ts.pongs:
		if body != "hb-7" {
			t.Errorf("pong body = %q, want %q", body, "hb-7")
		}
	case <-time.After(testTimeout):
		t.Fatal("server ping was never answered")
	}
}

func TestClientIgnoresMalformedFrames(t *testing.T) {
	ts := newTestServer(t, true)
	c, connected := startClient(t, ts)

	got := make(chan string, 4)
	c.Subscribe(EventTotalSongs, func(data json.RawMessage) { got <- string(data) })

	sc := ts.accept(t)
	waitSignal(t, connected, "connect hook")

	for _, frame := range []string{
		"not a packet",
		`42{"event":"totalSongs"}`,
		`42[17]`,
		`42/admin,["totalSongs",1]`,
		`6`,
		`42["totalSongs",42]`,
	} {
		sc.send(t, frame)
	}

	select {
	case data := <-got:
		if data != "42" {
			t.Errorf("data = %s, want 42", data)
		}
	case <-time.After(testTimeout):
		t.Fatal("valid frame after malformed ones was not delivered")
	}
}

func TestClientDeliversEventsWithAckID(t *testing.T) {
	ts := newTestServer(t, true)
	c, connected := startClient(t, ts)

	got := make(chan string, 1)
	c.Subscribe(EventDownloadStatus, func(data json.RawMessage) { got <- string(data) })

	sc := ts.accept(t)
	waitSignal(t, connected, "connect hook")
	sc.send(t, `4212["downloadStatus","{\"type\":\"info\"}"]`)

	select {
	case data := <-got:
		if data != `"{\"type\":\"info\"}"` {
			t.Errorf("data = %s", data)
		}
	case <-time.After(testTimeout):
		t.Fatal("handler never called")
	}
}

func TestClientReconnects(t *testing.T) {
	tests := []struct {
		name string
		drop func(t *testing.T, sc *serverConn)
	}{
		{"socket closed", func(t *testing.T, sc *serverConn) { sc.conn.Close() }},
		{"namespace disconnect", func(t *testing.T, sc *serverConn) { sc.send(t, "41") }},
		{"engine close", func(t *testing.T, sc *serverConn) { sc.send(t, "1") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, true)
			c, connected := startClient(t, ts)

			first := ts.accept(t)
			waitSignal(t, connected, "first connect")

			tt.drop(t, first)

			ts.accept(t)
			waitSignal(t, connected, "reconnect")

			deadline := time.Now().Add(testTimeout)
			for !c.Connected() {
				if time.Now().After(deadline) {
					t.Fatal("client did not report connected after reconnect")
				}
				time.Sleep(10 * time.Millisecond)
			}
		})
	}
}

func TestClientClose(t *testing.T) {
	ts := newTestServer(t, true)
	c, connected := startClient(t, ts)
	ts.accept(t)
	waitSignal(t, connected, "connect")

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if c.Connected() {
		t.Error("client still connected after Close")
	}
	if err := c.Emit(EventTotalSongs, ""); !errors.Is(err, ErrClosed) {
		t.Errorf("Emit() after Close = %v, want ErrClosed", err)
	}
}

func TestBuildWSURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"http://localhost:5001", "ws://localhost:5001/socket.io/?EIO=3&transport=websocket"},
		{"https://seek.example.com/", "wss://seek.example.com/socket.io/?EIO=3&transport=websocket"},
		{"ws://10.0.0.5:5001/events", "ws://10.0.0.5:5001/events?EIO=3&transport=websocket"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c := NewClient(Config{ServerURL: tt.in})
			got, err := c.buildWSURL()
			if err != nil {
				t.Fatalf("buildWSURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("buildWSURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
