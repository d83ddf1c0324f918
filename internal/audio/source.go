package audio

import (
	"fmt"
	"strings"
	"sync"
)

// Source identifies the class of device audio is captured from.
type Source string

const (
	// SourceDevice captures what the machine is playing (display or tab
	// audio in a browser, the sound server monitor here).
	SourceDevice Source = "device"
	// SourceMic captures the personal input device.
	SourceMic Source = "mic"
)

func (s Source) String() string { return string(s) }

// ParseSource accepts "device" or "mic" (case-insensitive). "display" and
// "microphone" are accepted as aliases.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "device", "display", "system":
		return SourceDevice, nil
	case "mic", "microphone":
		return SourceMic, nil
	default:
		return "", fmt.Errorf("unknown source %q", s)
	}
}

// SourceSelector holds the user's current source choice.
type SourceSelector struct {
	mu     sync.RWMutex
	source Source
}

// NewSourceSelector returns a selector preset to initial.
func NewSourceSelector(initial Source) *SourceSelector {
	if initial != SourceMic {
		initial = SourceDevice
	}
	return &SourceSelector{source: initial}
}

// Current returns the selected source.
func (s *SourceSelector) Current() Source {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

// Select replaces the selected source.
func (s *SourceSelector) Select(src Source) {
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
}

// Toggle flips between device and mic and returns the new selection.
func (s *SourceSelector) Toggle() Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source == SourceMic {
		s.source = SourceDevice
	} else {
		s.source = SourceMic
	}
	return s.source
}
