// Package transport carries named events between the client and the
// matching service.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"seektune/internal/log"
)

var logger = log.L("transport")

// Event names exchanged with the matching service.
const (
	// Outbound.
	EventNewRecording        = "newRecording"
	EventStartFingerprinting = "startFingerprinting"
	EventNewDownload         = "newDownload"

	// Inbound. totalSongs is also sent outbound as a refresh request.
	EventTotalSongs        = "totalSongs"
	EventMatches           = "matches"
	EventDownloadProgress  = "downloadProgress"
	EventDownloadStatus    = "downloadStatus"
	EventFingerprintStatus = "fingerprintStatus"
)

var (
	// ErrTransportFailure is the root of every error returned by Emit.
	ErrTransportFailure = errors.New("transport failure")

	// ErrNotConnected is returned by Emit while no connection is open.
	// Events are never queued for a later connection.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrTransportFailure)

	// ErrClosed is returned by Emit after Close.
	ErrClosed = fmt.Errorf("%w: transport closed", ErrTransportFailure)
)

// Emitter sends named events. Implementations must be safe for concurrent use.
type Emitter interface {
	Emit(event string, data any) error
}

// Handler receives the raw payload of one inbound event.
type Handler func(data json.RawMessage)

// Subscriber delivers inbound events by name. Handlers for one event name
// run in arrival order on a single goroutine; nothing is promised across
// different event names.
type Subscriber interface {
	Subscribe(event string, h Handler) (unsubscribe func())
}

// Transport is a persistent bidirectional event channel.
type Transport interface {
	Emitter
	Subscriber

	// OnConnect registers fn to run every time a connection is established.
	OnConnect(fn func())
	Start()
	Close() error
}
