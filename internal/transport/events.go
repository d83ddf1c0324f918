package transport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// StatusMessage is the {type, message} payload of downloadStatus and
// fingerprintStatus.
type StatusMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// DownloadProgress is the downloadProgress payload.
type DownloadProgress struct {
	Percentage float64 `json:"percentage"`
	Status     string  `json:"status"`
	Title      string  `json:"title"`
	Artist     string  `json:"artist"`
	Filename   string  `json:"filename"`
	IsComplete bool    `json:"isComplete"`
	Error      Failure `json:"error"`
}

// Failure decodes an error field the server sends as a boolean, a message
// string or null.
type Failure struct {
	Failed  bool
	Message string
}

// UnmarshalJSON implements json.Unmarshaler.
func (f *Failure) UnmarshalJSON(b []byte) error {
	*f = Failure{}
	b = bytes.TrimSpace(b)
	switch {
	case bytes.Equal(b, []byte("null")):
		return nil
	case len(b) > 0 && b[0] == '"':
		var msg string
		if err := json.Unmarshal(b, &msg); err != nil {
			return err
		}
		f.Failed = msg != ""
		f.Message = msg
		return nil
	default:
		return json.Unmarshal(b, &f.Failed)
	}
}

// DecodeJSON decodes raw into v. The server sends some payloads as a JSON
// value and others as a string holding JSON; both forms are accepted.
func DecodeJSON(raw json.RawMessage, v any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return fmt.Errorf("failed to decode string payload: %w", err)
		}
		raw = json.RawMessage(inner)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// ParseSongCount decodes a totalSongs payload. A number or numeric string is
// a count. An empty string or null is a refresh hint and reports refresh.
func ParseSongCount(raw json.RawMessage) (count int, refresh bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, true, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false, fmt.Errorf("failed to decode song count: %w", err)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, true, nil
		}
		raw = json.RawMessage(s)
	}
	n, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("invalid song count %s", raw)
	}
	return int(n), false, nil
}
