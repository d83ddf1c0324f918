// Package matches keeps the list of songs the matching service found for
// the last recording.
package matches

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"seektune/internal/log"
	"seektune/internal/transport"
)

var logger = log.L("matches")

// DefaultLimit is how many matches are kept for display.
const DefaultLimit = 5

// Match is one candidate song, in the server's field naming.
type Match struct {
	SongID     uint32  `json:"SongID"`
	SongTitle  string  `json:"SongTitle"`
	SongArtist string  `json:"SongArtist"`
	YouTubeID  string  `json:"YouTubeID"`
	Timestamp  uint32  `json:"Timestamp"` // offset into the song, in milliseconds
	Score      float64 `json:"Score"`
}

// Handler holds the most recent match list, capped to a display limit.
type Handler struct {
	limit int

	mu       sync.RWMutex
	current  []Match
	onUpdate []func([]Match)
}

// NewHandler returns a handler keeping at most limit matches. A
// non-positive limit means DefaultLimit.
func NewHandler(limit int) *Handler {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Handler{limit: limit}
}

// OnUpdate registers fn to receive every accepted list.
func (h *Handler) OnUpdate(fn func([]Match)) {
	h.mu.Lock()
	h.onUpdate = append(h.onUpdate, fn)
	h.mu.Unlock()
}

// Handle decodes a matches payload, which may arrive as a JSON array or as a
// string holding one. A null list leaves the current matches untouched and
// reports updated=false. Otherwise the first limit entries, in server
// order, replace the current list.
func (h *Handler) Handle(raw json.RawMessage) (list []Match, updated bool, err error) {
	var decoded []Match
	if err := transport.DecodeJSON(raw, &decoded); err != nil {
		return nil, false, fmt.Errorf("invalid matches payload: %w", err)
	}
	if decoded == nil && isNull(raw) {
		logger.Debug("null match list ignored")
		return h.Current(), false, nil
	}
	if decoded == nil {
		decoded = []Match{}
	}
	if len(decoded) > h.limit {
		decoded = decoded[:h.limit]
	}

	h.mu.Lock()
	h.current = decoded
	hooks := append([]func([]Match){}, h.onUpdate...)
	h.mu.Unlock()

	logger.Info("matches received", "count", len(decoded))
	out := h.Current()
	for _, fn := range hooks {
		fn(out)
	}
	return out, true, nil
}

// Current returns a copy of the current list.
func (h *Handler) Current() []Match {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Match(nil), h.current...)
}

// isNull reports whether raw is null, either directly or as the string "null".
func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`"null"`))
}
