// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// maxReadFailures consecutive failed reads end the track.
const maxReadFailures = 3

// paOpenStream opens a blocking PortAudio stream, replaced in tests.
var paOpenStream = func(p portaudio.StreamParameters, buf []int16) (paStream, error) {
	s, err := portaudio.OpenStream(p, buf)
	if err != nil {
		return nil, err
	}
	return &portAudioStream{Stream: s}, nil
}

// paStream is the subset of *portaudio.Stream a microphone track drives.
type paStream interface {
	Start() error
	Read() error
	Stop() error
	Close() error
	SampleRate() float64
}

type portAudioStream struct {
	*portaudio.Stream
}

func (s *portAudioStream) SampleRate() float64 {
	if info := s.Info(); info != nil {
		return info.SampleRate
	}
	return 0
}

// MicrophoneAcquirer opens the personal input device through PortAudio.
// PortAudio hands over raw input, so there is no gain control, echo
// cancellation or noise suppression to turn off.
type MicrophoneAcquirer struct {
	DeviceID int
}

// Acquire opens a blocking 16-bit input stream shaped by c.
func (m *MicrophoneAcquirer) Acquire(ctx context.Context, c Constraints) (*MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	device, err := InputDevice(m.DeviceID)
	if err != nil {
		_ = Terminate()
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	channels := max(1, min(c.ChannelCount, device.MaxInputChannels))
	pcm := make([]int16, c.FramesPerBuffer*channels)

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: channels,
			Device:   device,
			Latency:  device.DefaultHighInputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: c.FramesPerBuffer,
		SampleRate:      c.SampleRate,
	}

	stream, err := paOpenStream(params, pcm)
	if err != nil {
		_ = Terminate()
		return nil, fmt.Errorf("%w: open %s: %w", ErrSourceUnavailable, device.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = Terminate()
		return nil, fmt.Errorf("%w: start %s: %w", ErrSourceUnavailable, device.Name, err)
	}

	rate := stream.SampleRate()
	if rate <= 0 {
		rate = c.SampleRate
	}
	settings := TrackSettings{
		ChannelCount: channels,
		SampleRate:   int(math.Round(rate)),
		SampleSize:   16,
	}
	logger.Info("microphone opened", "device", device.Name, "channels", channels, "sample_rate", settings.SampleRate)

	return NewMediaStream(newMicTrack(stream, pcm, settings, Terminate)), nil
}

// micTrack adapts a blocking PortAudio stream to AudioTrack. A Read in
// flight when Stop is called finishes within one buffer and releases the
// stream itself.
type micTrack struct {
	stream    paStream
	pcm       []int16
	settings  TrackSettings
	terminate func() error

	mu       sync.Mutex
	stopped  bool
	reading  bool
	failures int

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

func newMicTrack(stream paStream, pcm []int16, settings TrackSettings, terminate func() error) *micTrack {
	return &micTrack{
		stream:    stream,
		pcm:       pcm,
		settings:  settings,
		terminate: terminate,
		done:      make(chan struct{}),
	}
}

func (t *micTrack) Kind() TrackKind         { return KindAudio }
func (t *micTrack) Settings() TrackSettings { return t.settings }
func (t *micTrack) Done() <-chan struct{}   { return t.done }

func (t *micTrack) Read(buf []int) (int, error) {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return 0, io.EOF
	}
	t.reading = true
	t.mu.Unlock()

	err := t.stream.Read()

	t.mu.Lock()
	t.reading = false
	stopped := t.stopped
	if err != nil {
		t.failures++
	} else {
		t.failures = 0
	}
	failures := t.failures
	if failures >= maxReadFailures {
		t.stopped = true
	}
	t.mu.Unlock()

	if stopped {
		_ = t.release()
		return 0, io.EOF
	}
	if err != nil {
		if failures >= maxReadFailures {
			t.closeDone()
			_ = t.release()
			return 0, fmt.Errorf("microphone read: %w", err)
		}
		logger.Warn("microphone read failed", "error", err, "attempt", failures)
		return 0, nil
	}

	n := min(len(buf), len(t.pcm))
	for i := 0; i < n; i++ {
		buf[i] = int(t.pcm[i])
	}
	return n, nil
}

func (t *micTrack) Stop() error {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return nil
	}
	t.stopped = true
	reading := t.reading
	t.mu.Unlock()

	t.closeDone()
	if reading {
		return nil
	}
	return t.release()
}

func (t *micTrack) closeDone() {
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *micTrack) release() error {
	t.closeOnce.Do(func() {
		t.closeErr = errors.Join(t.stream.Stop(), t.stream.Close(), t.terminate())
	})
	return t.closeErr
}
