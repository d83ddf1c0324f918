package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Engine.IO v3 packet types, the first byte of every text frame.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioUpgrade = '5'
	eioNoop    = '6'
)

// Socket.IO packet types, the byte following an Engine.IO message.
const (
	sioConnect    = '0'
	sioDisconnect = '1'
	sioEvent      = '2'
	sioAck        = '3'
	sioError      = '4'
)

const (
	engineIOVersion = "3"
	defaultPath     = "/socket.io/"
)

// handshake is the payload of the Engine.IO open packet.
type handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"` // ms
	PingTimeout  int      `json:"pingTimeout"`  // ms
}

func (h handshake) interval() time.Duration {
	if h.PingInterval <= 0 {
		return 25 * time.Second
	}
	return time.Duration(h.PingInterval) * time.Millisecond
}

// readTimeout is how long the server may stay silent before the
// connection is considered dead.
func (h handshake) readTimeout() time.Duration {
	timeout := time.Duration(h.PingTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return h.interval() + timeout
}

// packet is one decoded frame.
type packet struct {
	eio   byte
	sio   byte            // set for eioMessage
	body  []byte          // payload after the type bytes
	nsp   string          // namespace of an event, empty for the root
	event string          // set for sioEvent
	data  json.RawMessage // first event argument, null when absent
}

// encodeEvent frames an event for the root namespace: 42["event",data].
func encodeEvent(event string, data any) ([]byte, error) {
	msg, err := json.Marshal([]any{event, data})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", event, err)
	}
	return append([]byte{eioMessage, sioEvent}, msg...), nil
}

func parsePacket(frame []byte) (packet, error) {
	if len(frame) == 0 {
		return packet{}, fmt.Errorf("empty frame")
	}
	p := packet{eio: frame[0], body: frame[1:]}
	switch p.eio {
	case eioOpen, eioClose, eioPing, eioPong, eioUpgrade, eioNoop:
		return p, nil
	case eioMessage:
	default:
		return packet{}, fmt.Errorf("unknown packet type %q", p.eio)
	}

	if len(p.body) == 0 {
		return packet{}, fmt.Errorf("empty message packet")
	}
	p.sio = p.body[0]
	p.body = p.body[1:]

	switch p.sio {
	case sioConnect, sioDisconnect, sioError, sioAck:
		return p, nil
	case sioEvent:
	default:
		return packet{}, fmt.Errorf("unknown message type %q", p.sio)
	}

	body := p.body
	// Events outside the root namespace carry "/nsp," first.
	if len(body) > 0 && body[0] == '/' {
		i := bytes.IndexByte(body, ',')
		if i < 0 {
			return packet{}, fmt.Errorf("malformed namespace in %q", frame)
		}
		p.nsp = string(body[:i])
		body = body[i+1:]
	}
	// An ack id precedes the arguments when the sender wants a reply.
	for len(body) > 0 && body[0] >= '0' && body[0] <= '9' {
		body = body[1:]
	}

	var args []json.RawMessage
	if err := json.Unmarshal(body, &args); err != nil {
		return packet{}, fmt.Errorf("malformed event arguments: %w", err)
	}
	if len(args) == 0 {
		return packet{}, fmt.Errorf("event without a name")
	}
	if err := json.Unmarshal(args[0], &p.event); err != nil || p.event == "" {
		return packet{}, fmt.Errorf("event name is not a string: %s", args[0])
	}
	p.data = json.RawMessage("null")
	if len(args) > 1 {
		p.data = args[1]
	}
	return p, nil
}

// root reports whether an event belongs to the default namespace.
func (p packet) root() bool {
	return p.nsp == "" || p.nsp == "/"
}

// rootNamespace reports whether a connect or disconnect packet targets the
// default namespace.
func (p packet) rootNamespace() bool {
	return len(p.body) == 0 || p.body[0] == '{' || bytes.Equal(p.body, []byte("/")) || bytes.HasPrefix(p.body, []byte("/,"))
}
