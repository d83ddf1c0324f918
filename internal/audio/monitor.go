package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// Subprocess hooks, replaced in tests.
var (
	lookPath       = exec.LookPath
	monitorCommand = exec.Command
)

const monitorStopTimeout = 5 * time.Second

// MonitorAcquirer captures what the machine is playing by recording the
// sound server's monitor source through ffmpeg (PulseAudio or PipeWire's
// Pulse layer). ffmpeg resamples to the requested format, so the
// constraints are the negotiated settings.
type MonitorAcquirer struct {
	Source string // Pulse source name, e.g. @DEFAULT_MONITOR@
	FFmpeg string // ffmpeg binary, "ffmpeg" when empty
}

func (m *MonitorAcquirer) args(c Constraints) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", "pulse", "-i", m.Source,
		"-ac", strconv.Itoa(c.ChannelCount),
		"-ar", strconv.Itoa(int(c.SampleRate)),
		"-f", "s16le", "-",
	}
}

// Acquire starts ffmpeg and exposes its raw PCM output as an audio track.
func (m *MonitorAcquirer) Acquire(ctx context.Context, c Constraints) (*MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.SampleSize != 16 {
		return nil, fmt.Errorf("%w: monitor capture only produces 16-bit samples", ErrSourceUnavailable)
	}

	bin := m.FFmpeg
	if bin == "" {
		bin = "ffmpeg"
	}
	path, err := lookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %w", ErrSourceUnavailable, bin, err)
	}

	cmd := monitorCommand(path, m.args(c)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %w", ErrSourceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %w", ErrSourceUnavailable, err)
	}
	logger.Info("monitor capture started", "source", m.Source, "pid", cmd.Process.Pid)

	settings := TrackSettings{
		ChannelCount: c.ChannelCount,
		SampleRate:   int(c.SampleRate),
		SampleSize:   16,
	}
	return NewMediaStream(newPipeTrack(cmd, stdout, &stderr, settings)), nil
}

// pipeTrack reads little-endian 16-bit PCM from a child process. A pump
// goroutine drains stdout to EOF into pending, so the samples ffmpeg
// flushes after an interrupt still reach the reader. cmd.Wait runs only
// once stdout is drained, since it closes the pipe.
type pipeTrack struct {
	cmd      *exec.Cmd
	stdout   io.Reader
	stderr   *bytes.Buffer
	settings TrackSettings

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []byte
	eof      bool
	readErr  error
	stopped  bool
	signaled bool // Stop interrupted ffmpeg

	done     chan struct{}
	doneOnce sync.Once
	drained  chan struct{} // closed after cmd.Wait returns
}

func newPipeTrack(cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer, settings TrackSettings) *pipeTrack {
	t := &pipeTrack{
		cmd:      cmd,
		stdout:   stdout,
		stderr:   stderr,
		settings: settings,
		done:     make(chan struct{}),
		drained:  make(chan struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	go t.pump()
	return t
}

func (t *pipeTrack) Kind() TrackKind         { return KindAudio }
func (t *pipeTrack) Settings() TrackSettings { return t.settings }
func (t *pipeTrack) Done() <-chan struct{}   { return t.done }

func (t *pipeTrack) pump() {
	defer close(t.drained)

	chunk := make([]byte, 32*1024)
	for {
		n, err := t.stdout.Read(chunk)
		t.mu.Lock()
		t.pending = append(t.pending, chunk[:n]...)
		if err != nil {
			t.eof = true
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				t.readErr = err
			}
		}
		t.cond.Broadcast()
		t.mu.Unlock()
		if err != nil {
			break
		}
	}

	err := t.cmd.Wait()
	t.mu.Lock()
	signaled := t.signaled
	t.mu.Unlock()
	// Interrupt is the normal way to end a capture.
	if !signaled && err != nil {
		logger.Warn("monitor capture ended", "error", err, "stderr", t.stderr.String())
	}
}

// Read blocks until buf can be filled or ffmpeg's output ends. Whole
// samples are returned before io.EOF, including those flushed after Stop.
func (t *pipeTrack) Read(buf []int) (int, error) {
	need := 2 * len(buf)

	t.mu.Lock()
	for len(t.pending) < need && !t.eof {
		t.cond.Wait()
	}
	n := min(len(t.pending), need) &^ 1
	samples := n / 2
	for i := 0; i < samples; i++ {
		buf[i] = int(int16(binary.LittleEndian.Uint16(t.pending[2*i:])))
	}
	t.pending = t.pending[n:]
	readErr, stopped := t.readErr, t.stopped
	t.mu.Unlock()

	switch {
	case samples > 0:
		return samples, nil
	case readErr != nil && !stopped:
		return 0, fmt.Errorf("monitor read: %w", readErr)
	default:
		// ffmpeg exited, on its own or after Stop.
		t.end()
		return 0, io.EOF
	}
}

// Stop interrupts ffmpeg so it flushes and exits, then waits for its
// output to be drained. ffmpeg is killed if it does not exit in time.
func (t *pipeTrack) Stop() error {
	if !t.end() {
		return nil
	}
	t.mu.Lock()
	t.signaled = true
	t.mu.Unlock()
	if t.cmd.Process != nil {
		if err := t.cmd.Process.Signal(os.Interrupt); err != nil {
			_ = t.cmd.Process.Kill()
		}
	}

	select {
	case <-t.drained:
	case <-time.After(monitorStopTimeout):
		logger.Warn("ffmpeg did not exit in time, killing")
		_ = t.cmd.Process.Kill()
		<-t.drained
	}
	return nil
}

// end marks the track finished and reports whether this call did it.
func (t *pipeTrack) end() bool {
	t.mu.Lock()
	first := !t.stopped
	t.stopped = true
	t.mu.Unlock()
	t.doneOnce.Do(func() { close(t.done) })
	return first
}
