package utils

import (
	"math"
	"sync"
)

// MaxInt16 is the full-scale amplitude of a 16-bit PCM sample.
const MaxInt16 = math.MaxInt16

// EmittedEvent is one outbound event captured by MockEmitter.
type EmittedEvent struct {
	Name string
	Data any
}

// MockEmitter records outbound events instead of transmitting them.
// Set Err to make every Emit fail.
type MockEmitter struct {
	mu     sync.Mutex
	events []EmittedEvent
	Err    error
}

// Emit stores the event for later inspection.
func (m *MockEmitter) Emit(event string, data any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.events = append(m.events, EmittedEvent{Name: event, Data: data})
	return nil
}

// Events returns a copy of everything emitted so far.
func (m *MockEmitter) Events() []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmittedEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Named returns the emitted events with the given name, in order.
func (m *MockEmitter) Named(event string) []EmittedEvent {
	var out []EmittedEvent
	for _, e := range m.Events() {
		if e.Name == event {
			out = append(out, e)
		}
	}
	return out
}

// GenerateSineWave returns size mono samples of a sine tone scaled to 90%
// of the 16-bit range.
func GenerateSineWave(size int, sampleRate, frequency float64) []int {
	buffer := make([]int, size)
	for i := range buffer {
		t := float64(i) / sampleRate
		buffer[i] = int(math.Sin(2*math.Pi*frequency*t) * MaxInt16 * 0.9)
	}
	return buffer
}

// GenerateSilence returns size zero-valued samples.
func GenerateSilence(size int) []int {
	return make([]int, size)
}

// Chunk splits samples into consecutive slices of at most n samples, the
// way a capture device delivers them one buffer at a time.
func Chunk(samples []int, n int) [][]int {
	if n <= 0 {
		return [][]int{samples}
	}
	var chunks [][]int
	for start := 0; start < len(samples); start += n {
		end := min(start+n, len(samples))
		chunks = append(chunks, samples[start:end])
	}
	return chunks
}
