package audio

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gordonklaus/portaudio"
)

type fakePaStream struct {
	pcm     []int16
	reads   chan []int16
	entered chan struct{}
	readErr error
	rate    float64

	starts, stops, closes atomic.Int32
}

func newFakePaStream(pcm []int16) *fakePaStream {
	return &fakePaStream{pcm: pcm, reads: make(chan []int16, 8), entered: make(chan struct{}, 8), rate: 44100}
}

func (s *fakePaStream) Start() error        { s.starts.Add(1); return nil }
func (s *fakePaStream) Stop() error         { s.stops.Add(1); return nil }
func (s *fakePaStream) Close() error        { s.closes.Add(1); return nil }
func (s *fakePaStream) SampleRate() float64 { return s.rate }

func (s *fakePaStream) Read() error {
	s.entered <- struct{}{}
	if s.readErr != nil {
		return s.readErr
	}
	copy(s.pcm, <-s.reads)
	return nil
}

func TestMicTrackRead(t *testing.T) {
	pcm := make([]int16, 4)
	stream := newFakePaStream(pcm)
	track := newMicTrack(stream, pcm, liveSettings, func() error { return nil })

	stream.reads <- []int16{1, -2, 32767, -32768}
	buf := make([]int, 8)
	n, err := track.Read(buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	want := []int{1, -2, 32767, -32768}
	if n != len(want) {
		t.Fatalf("Read() = %d samples, want %d", n, len(want))
	}
	for i, v := range want {
		if buf[i] != v {
			t.Errorf("sample %d = %d, want %d", i, buf[i], v)
		}
	}
}

func TestMicTrackStopIdle(t *testing.T) {
	pcm := make([]int16, 4)
	stream := newFakePaStream(pcm)
	var terminated atomic.Int32
	track := newMicTrack(stream, pcm, liveSettings, func() error { terminated.Add(1); return nil })

	if err := track.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := track.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	if stream.closes.Load() != 1 || stream.stops.Load() != 1 || terminated.Load() != 1 {
		t.Errorf("stop/close/terminate = %d/%d/%d, want 1/1/1",
			stream.stops.Load(), stream.closes.Load(), terminated.Load())
	}
	if _, err := track.Read(make([]int, 4)); !errors.Is(err, io.EOF) {
		t.Errorf("Read() after Stop error = %v, want io.EOF", err)
	}
	select {
	case <-track.Done():
	default:
		t.Error("Done not closed after Stop")
	}
}

func TestMicTrackStopDuringRead(t *testing.T) {
	pcm := make([]int16, 4)
	stream := newFakePaStream(pcm)
	track := newMicTrack(stream, pcm, liveSettings, func() error { return nil })

	type readResult struct {
		n   int
		err error
	}
	results := make(chan readResult, 1)
	go func() {
		n, err := track.Read(make([]int, 4))
		results <- readResult{n, err}
	}()

	<-stream.entered
	if err := track.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if stream.closes.Load() != 0 {
		t.Fatal("stream closed under an in-flight read")
	}

	stream.reads <- []int16{1, 2, 3, 4}
	select {
	case r := <-results:
		if !errors.Is(r.err, io.EOF) {
			t.Errorf("in-flight Read() error = %v, want io.EOF", r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight Read did not return")
	}
	if stream.closes.Load() != 1 {
		t.Errorf("stream closed %d times, want 1", stream.closes.Load())
	}
}

func TestMicTrackReadFailures(t *testing.T) {
	pcm := make([]int16, 4)
	stream := newFakePaStream(pcm)
	stream.readErr = errors.New("input overflowed")
	track := newMicTrack(stream, pcm, liveSettings, func() error { return nil })

	buf := make([]int, 4)
	for i := 1; i < maxReadFailures; i++ {
		if n, err := track.Read(buf); err != nil || n != 0 {
			t.Fatalf("transient failure %d: Read() = %d, %v", i, n, err)
		}
	}
	if _, err := track.Read(buf); err == nil {
		t.Fatal("persistent failure not reported")
	}
	select {
	case <-track.Done():
	default:
		t.Error("track did not end after persistent failures")
	}
	if stream.closes.Load() != 1 {
		t.Errorf("stream closed %d times, want 1", stream.closes.Load())
	}
}

func TestMicrophoneAcquire(t *testing.T) {
	fakeDevices(t)
	origInit, origTerm, origOpen := paLibInitialize, paLibTerminate, paOpenStream
	t.Cleanup(func() {
		paLibInitialize, paLibTerminate, paOpenStream = origInit, origTerm, origOpen
	})
	paLibInitialize = func() error { return nil }
	paLibTerminate = func() error { return nil }

	var opened portaudio.StreamParameters
	var stream *fakePaStream
	paOpenStream = func(p portaudio.StreamParameters, buf []int16) (paStream, error) {
		opened = p
		stream = newFakePaStream(buf)
		stream.rate = 48000 // the device runs at its native rate
		return stream, nil
	}

	m := &MicrophoneAcquirer{DeviceID: -1}
	ms, err := m.Acquire(context.Background(), CaptureConstraints(44100, 512))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if opened.Input.Channels != 1 || opened.FramesPerBuffer != 512 || opened.SampleRate != 44100 {
		t.Errorf("stream parameters = %+v", opened)
	}
	if opened.Input.Device.Name != "Built-in Microphone" {
		t.Errorf("device = %q", opened.Input.Device.Name)
	}

	tracks := ms.AudioTracks()
	if len(tracks) != 1 {
		t.Fatalf("got %d audio tracks, want 1", len(tracks))
	}
	want := TrackSettings{ChannelCount: 1, SampleRate: 48000, SampleSize: 16}
	if got := tracks[0].Settings(); got != want {
		t.Errorf("Settings() = %+v, want %+v", got, want)
	}
	if stream.starts.Load() != 1 {
		t.Error("stream not started")
	}
	if err := ms.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
}

func TestMicrophoneAcquireUnavailable(t *testing.T) {
	fakeDevices(t)
	origInit, origTerm := paLibInitialize, paLibTerminate
	t.Cleanup(func() { paLibInitialize, paLibTerminate = origInit, origTerm })
	paLibTerminate = func() error { return nil }

	tests := []struct {
		name string
		id   int
		init error
	}{
		{"Output-only device", 1, nil},
		{"Missing device", 9, nil},
		{"No PortAudio", -1, errors.New("library not loaded")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paLibInitialize = func() error { return tt.init }
			m := &MicrophoneAcquirer{DeviceID: tt.id}
			if _, err := m.Acquire(context.Background(), CaptureConstraints(44100, 512)); !errors.Is(err, ErrSourceUnavailable) {
				t.Errorf("Acquire() error = %v, want ErrSourceUnavailable", err)
			}
		})
	}
}
