package cmd

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"seektune/internal/app"
	"seektune/internal/config"
	"seektune/internal/transport"
)

const waitTimeout = 5 * time.Second

func testConfig() *config.Config {
	return &config.Config{
		ServerURL: "http://localhost:5001",
		Capture: config.CaptureConfig{
			Source:          "device",
			InputDevice:     -1,
			MonitorSource:   config.DefaultMonitorSource,
			SampleRate:      44100,
			FramesPerBuffer: 1024,
			MaxDuration:     time.Hour,
		},
		Transport: config.TransportConfig{DryRun: true, PollInterval: time.Hour, HandshakeTimeout: time.Second},
		Progress:  config.ProgressConfig{AcquisitionHideDelay: time.Hour, ResetDelay: time.Hour},
		Matches:   config.MatchesConfig{DisplayLimit: 5},
	}
}

func newDryRunApp(t *testing.T) (*app.App, *transport.LoggingTransport) {
	t.Helper()
	cfg := testConfig()
	lt := transport.NewLoggingTransport()
	a, err := app.New(cfg, lt, app.NewController(cfg, app.NewSubmitter(lt)))
	if err != nil {
		t.Fatalf("app.New() error = %v", err)
	}
	a.Start()
	t.Cleanup(func() { a.Close() })
	return a, lt
}

// runAsync runs cmd in the background and returns its error channel.
func runAsync(a *app.App, opts *Options, w *bytes.Buffer) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- Run(context.Background(), opts, a, w) }()
	return errCh
}

// deliverUntil repeats delivery until done holds. Delivering before the
// command resets the job is harmless; the repeat lands afterwards.
func deliverUntil(t *testing.T, lt *transport.LoggingTransport, event string, data any, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !done() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out delivering %s", event)
		}
		if err := lt.Deliver(event, data); err != nil {
			t.Fatal(err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunSongs(t *testing.T) {
	a, lt := newDryRunApp(t)
	if err := lt.Deliver(transport.EventTotalSongs, 7); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	opts := &Options{Command: CommandSongs, Wait: waitTimeout}
	if err := Run(context.Background(), opts, a, &out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := out.String(); got != "Songs in library: 7\n" {
		t.Errorf("output = %q", got)
	}
}

func TestRunSongsTimesOut(t *testing.T) {
	a, _ := newDryRunApp(t)

	opts := &Options{Command: CommandSongs, Wait: 20 * time.Millisecond}
	err := Run(context.Background(), opts, a, &bytes.Buffer{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want deadline exceeded", err)
	}
}

func TestRunDownloadWithFingerprint(t *testing.T) {
	a, lt := newDryRunApp(t)

	var out bytes.Buffer
	errCh := runAsync(a, &Options{
		Command:     CommandDownload,
		Args:        []string{"https://youtu.be/abc"},
		Fingerprint: true,
	}, &out)

	acquired := map[string]any{
		"percentage": 100,
		"status":     "complete",
		"title":      "Song",
		"artist":     "Band",
		"filename":   "song.m4a",
		"isComplete": true,
	}
	// The command accepts the offer itself, which shows the fingerprint phase.
	deliverUntil(t, lt, transport.EventDownloadProgress, acquired, func() bool {
		return a.Snapshot().Job.Headline == "Creating Fingerprints"
	})
	if err := lt.Deliver(transport.EventFingerprintStatus, map[string]string{"type": "success", "message": "done"}); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatal("download never finished")
	}

	got := out.String()
	for _, want := range []string{"Requested https://youtu.be/abc", "[Song by Band]", "Song has been added to your library"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestRunDownloadStopsAtOffer(t *testing.T) {
	a, lt := newDryRunApp(t)

	var out bytes.Buffer
	errCh := runAsync(a, &Options{Command: CommandDownload, Args: []string{"https://youtu.be/abc"}}, &out)

	deliverUntil(t, lt, transport.EventDownloadStatus, map[string]string{"type": "success", "message": "downloaded"}, func() bool {
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
			return true
		default:
			return false
		}
	})
	if !strings.Contains(out.String(), "Run 'fingerprint'") {
		t.Errorf("output = %q, want a fingerprint hint", out.String())
	}
}

func TestRunDownloadFailure(t *testing.T) {
	a, lt := newDryRunApp(t)

	errCh := runAsync(a, &Options{Command: CommandDownload, Args: []string{"https://youtu.be/abc"}}, &bytes.Buffer{})

	var err error
	deliverUntil(t, lt, transport.EventDownloadStatus, map[string]string{"type": "error", "message": "video unavailable"}, func() bool {
		select {
		case err = <-errCh:
			return true
		default:
			return false
		}
	})
	if !errors.Is(err, ErrJobFailed) || !strings.Contains(err.Error(), "video unavailable") {
		t.Errorf("Run() error = %v, want job failure with the server message", err)
	}
}

func TestRunDownloadInvalidURL(t *testing.T) {
	a, _ := newDryRunApp(t)

	err := Run(context.Background(), &Options{Command: CommandDownload, Args: []string{"not a url"}}, a, &bytes.Buffer{})
	if !errors.Is(err, app.ErrInvalidURL) {
		t.Errorf("Run() error = %v, want ErrInvalidURL", err)
	}
}

func TestRunCancelled(t *testing.T) {
	a, _ := newDryRunApp(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, &Options{Command: CommandFingerprint}, a, &bytes.Buffer{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
