package audio

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Encoder receives PCM buffers and finalises the container on Close.
type Encoder interface {
	Write(buf *audio.IntBuffer) error
	Close() error
}

// Backend creates encoders for one container format.
type Backend interface {
	Name() string
	NewEncoder(w io.WriteSeeker, settings TrackSettings) (Encoder, error)
}

// EncoderRegistry registers the encoding backend once per process and
// hands out encoders from it.
type EncoderRegistry struct {
	mu         sync.Mutex
	registered bool
	backend    Backend
	register   func() (Backend, error)
	attempts   int // registration calls, logged with each outcome
}

var (
	defaultRegistry     *EncoderRegistry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry backed by WAV.
func DefaultRegistry() *EncoderRegistry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewEncoderRegistry(registerWAV)
	})
	return defaultRegistry
}

// NewEncoderRegistry returns an unregistered registry that will call
// register on first use.
func NewEncoderRegistry(register func() (Backend, error)) *EncoderRegistry {
	return &EncoderRegistry{register: register}
}

// EnsureRegistered registers the backend if that has not happened yet.
// A failed attempt leaves the registry unregistered so a later capture
// can try again.
func (r *EncoderRegistry) EnsureRegistered() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.registered {
		return nil
	}

	r.attempts++
	backend, err := r.register()
	if err != nil {
		logger.Warn("encoder backend registration failed", "attempt", r.attempts, "error", err)
		return fmt.Errorf("%w: register backend: %w", ErrEncodingFailure, err)
	}
	r.backend = backend
	r.registered = true
	logger.Debug("encoder backend registered", "backend", backend.Name(), "attempts", r.attempts)
	return nil
}

// Registered reports whether a backend is in place.
func (r *EncoderRegistry) Registered() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registered
}

// NewEncoder creates an encoder writing to w.
func (r *EncoderRegistry) NewEncoder(w io.WriteSeeker, settings TrackSettings) (Encoder, error) {
	r.mu.Lock()
	backend := r.backend
	r.mu.Unlock()

	if backend == nil {
		return nil, fmt.Errorf("%w: no backend registered", ErrEncodingFailure)
	}
	enc, err := backend.NewEncoder(w, settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodingFailure, err)
	}
	return enc, nil
}

// wavBackend writes uncompressed PCM WAV.
type wavBackend struct{}

func (wavBackend) Name() string { return "wav" }

func (wavBackend) NewEncoder(w io.WriteSeeker, s TrackSettings) (Encoder, error) {
	switch s.SampleSize {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported sample size %d", s.SampleSize)
	}
	if s.ChannelCount < 1 || s.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid format: %d channels at %d Hz", s.ChannelCount, s.SampleRate)
	}

	enc := wav.NewEncoder(w, s.SampleRate, s.SampleSize, s.ChannelCount, 1)

	// Write the header up front so a session that captured nothing still
	// closes into a valid, empty file.
	empty := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: s.ChannelCount, SampleRate: s.SampleRate},
		Data:   []int{},
	}
	if err := enc.Write(empty); err != nil {
		return nil, err
	}
	return enc, nil
}

// registerWAV verifies the WAV round trip before the backend is used.
func registerWAV() (Backend, error) {
	var sample memBuffer
	b := wavBackend{}
	enc, err := b.NewEncoder(&sample, TrackSettings{ChannelCount: 1, SampleRate: 8000, SampleSize: 16})
	if err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}

	dec := wav.NewDecoder(bytes.NewReader(sample.Bytes()))
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("self-check decode: %w", err)
	}
	if dec.NumChans != 1 || dec.SampleRate != 8000 {
		return nil, fmt.Errorf("self-check mismatch: %d channels at %d Hz", dec.NumChans, dec.SampleRate)
	}
	return b, nil
}
