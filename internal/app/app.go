// Package app wires capture, transport, job progress and matches into the
// client the CLI and TUI drive.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"seektune/internal/audio"
	"seektune/internal/config"
	"seektune/internal/log"
	"seektune/internal/matches"
	"seektune/internal/progress"
	"seektune/internal/recording"
	"seektune/internal/transport"
)

var logger = log.L("app")

// ErrInvalidURL is returned by RequestDownload for an unusable URL.
var ErrInvalidURL = errors.New("invalid song URL")

// Snapshot is everything a host displays.
type Snapshot struct {
	Job        progress.View
	Matches    []matches.Match
	MatchRound int // number of match results received
	SongCount  int
	HaveCount  bool
	Source     audio.Source
	Capturing  bool
	Listening  time.Duration // audio captured so far by the active session
	LastResult *audio.Result
	Notice     string // last user-facing error, cleared by the next success
}

// App is the client. Its methods are safe for concurrent use.
type App struct {
	cfg        *config.Config
	transport  transport.Transport
	controller *audio.Controller
	tracker    *progress.Tracker
	matches    *matches.Handler
	poller     *transport.Poller

	unsubscribe []func()
	closeOnce   sync.Once
	ready       chan struct{}
	readyOnce   sync.Once

	mu         sync.RWMutex
	matchRound int
	songCount  int
	haveCount  bool
	lastResult *audio.Result
	notice     string
	listeners  []func(Snapshot)
}

// Submitter sends finished recordings as newRecording events.
type Submitter struct {
	emitter transport.Emitter
}

// NewSubmitter returns a Submitter emitting through e.
func NewSubmitter(e transport.Emitter) *Submitter {
	return &Submitter{emitter: e}
}

// Submit emits p as a JSON string, the form the matching service parses.
func (s *Submitter) Submit(ctx context.Context, p *recording.Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := p.JSON()
	if err != nil {
		return fmt.Errorf("failed to encode recording: %w", err)
	}
	if err := s.emitter.Emit(transport.EventNewRecording, body); err != nil {
		return fmt.Errorf("failed to submit recording: %w", err)
	}
	logger.Info("recording submitted", "duration", p.Duration, "bytes", len(body))
	return nil
}

// NewController builds the capture controller described by cfg, submitting
// through sub.
func NewController(cfg *config.Config, sub audio.Submitter) *audio.Controller {
	initial, err := audio.ParseSource(cfg.Capture.Source)
	if err != nil {
		logger.Warn("unknown capture source, using device", "source", cfg.Capture.Source)
		initial = audio.SourceDevice
	}
	acquirers := map[audio.Source]audio.Acquirer{
		audio.SourceDevice: &audio.MonitorAcquirer{Source: cfg.Capture.MonitorSource},
		audio.SourceMic:    &audio.MicrophoneAcquirer{DeviceID: cfg.Capture.InputDevice},
	}
	return audio.NewController(audio.NewSourceSelector(initial), audio.DefaultRegistry(), acquirers, sub, audio.Options{
		MaxDuration:     cfg.Capture.MaxDuration,
		SampleRate:      cfg.Capture.SampleRate,
		FramesPerBuffer: cfg.Capture.FramesPerBuffer,
	})
}

// New wires an App. Nothing runs until Start.
func New(cfg *config.Config, t transport.Transport, controller *audio.Controller) (*App, error) {
	poller, err := transport.NewPoller(cfg.Transport.PollInterval, t, transport.EventTotalSongs, "")
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:        cfg,
		transport:  t,
		controller: controller,
		matches:    matches.NewHandler(cfg.Matches.DisplayLimit),
		poller:     poller,
		ready:      make(chan struct{}),
	}
	a.tracker = progress.NewTracker(progress.Options{
		HideDelay:  cfg.Progress.AcquisitionHideDelay,
		ResetDelay: cfg.Progress.ResetDelay,
	}, a.handleEffect)
	a.tracker.Subscribe(func(progress.View) { a.notify() })
	a.matches.OnUpdate(a.matchesUpdated)
	controller.OnSessionEnd(a.sessionEnded)
	return a, nil
}

// Start subscribes to inbound events, starts song count polling and opens
// the transport.
func (a *App) Start() {
	a.unsubscribe = append(a.unsubscribe,
		a.transport.Subscribe(transport.EventTotalSongs, a.onTotalSongs),
		a.transport.Subscribe(transport.EventMatches, a.onMatches),
		a.transport.Subscribe(transport.EventDownloadProgress, a.onDownloadProgress),
		a.transport.Subscribe(transport.EventDownloadStatus, a.onDownloadStatus),
		a.transport.Subscribe(transport.EventFingerprintStatus, a.onFingerprintStatus),
	)
	a.transport.OnConnect(func() { a.readyOnce.Do(func() { close(a.ready) }) })
	a.transport.OnConnect(a.poller.Poll)
	a.poller.Start()
	a.transport.Start()
}

// Close ends any capture without submitting and shuts everything down.
func (a *App) Close() error {
	var err error
	a.closeOnce.Do(func() {
		if s := a.controller.Active(); s != nil {
			a.controller.EndActive(audio.TriggerShutdown)
			<-s.Done()
		}
		a.poller.Stop()
		a.tracker.Close()
		for _, u := range a.unsubscribe {
			u()
		}
		err = a.transport.Close()
	})
	return err
}

// Ready is closed once the transport has connected for the first time.
func (a *App) Ready() <-chan struct{} {
	return a.ready
}

// Subscribe registers fn to receive a snapshot after every change.
func (a *App) Subscribe(fn func(Snapshot)) {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	a.mu.Unlock()
}

// Snapshot returns the current state.
func (a *App) Snapshot() Snapshot {
	active := a.controller.Active()
	var listening time.Duration
	if active != nil {
		listening = active.Elapsed()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{
		Job:        a.tracker.View(),
		Matches:    a.matches.Current(),
		MatchRound: a.matchRound,
		SongCount:  a.songCount,
		HaveCount:  a.haveCount,
		Source:     a.controller.Selector().Current(),
		Capturing:  active != nil,
		Listening:  listening,
		LastResult: a.lastResult,
		Notice:     a.notice,
	}
}

func (a *App) notify() {
	snap := a.Snapshot()
	a.mu.RLock()
	listeners := append([]func(Snapshot){}, a.listeners...)
	a.mu.RUnlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func (a *App) setNotice(msg string) {
	a.mu.Lock()
	a.notice = msg
	a.mu.Unlock()
}

// Listen starts a capture from the selected source.
func (a *App) Listen(ctx context.Context) (*audio.Session, error) {
	s, err := a.controller.StartCapture(ctx)
	if err != nil {
		a.setNotice(err.Error())
		a.notify()
		return nil, err
	}
	a.setNotice("")
	a.notify()
	return s, nil
}

// ToggleListening stops the active capture without submitting it, or
// starts a new one.
func (a *App) ToggleListening(ctx context.Context) error {
	if a.controller.Stop() {
		return nil
	}
	_, err := a.Listen(ctx)
	return err
}

// ToggleSource switches between system audio and the microphone for the
// next capture.
func (a *App) ToggleSource() audio.Source {
	src := a.controller.Selector().Toggle()
	logger.Info("capture source selected", "source", src)
	a.notify()
	return src
}

// RequestDownload asks the service to acquire the song at rawURL. The job
// view is reset first.
func (a *App) RequestDownload(rawURL string) error {
	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	a.tracker.Dispatch(progress.FullReset{})
	if err := a.transport.Emit(transport.EventNewDownload, rawURL); err != nil {
		a.setNotice(err.Error())
		a.notify()
		return err
	}
	a.setNotice("")
	return nil
}

// StartFingerprinting accepts the phase 2 offer. An empty filename means
// the song just acquired.
func (a *App) StartFingerprinting(filename string) {
	a.tracker.Dispatch(progress.StartFingerprinting{Filename: filename})
}

// RequestSongCount asks the service for the library size.
func (a *App) RequestSongCount() error {
	return a.transport.Emit(transport.EventTotalSongs, "")
}

func (a *App) handleEffect(e progress.Effect) {
	var err error
	switch e := e.(type) {
	case progress.RefreshSongCount:
		err = a.RequestSongCount()
	case progress.EmitStartFingerprinting:
		err = a.transport.Emit(transport.EventStartFingerprinting, e.Filename)
	}
	if err != nil {
		logger.Warn("failed to emit job event", "effect", fmt.Sprintf("%T", e), "error", err)
		a.setNotice(err.Error())
	}
}

func (a *App) sessionEnded(r audio.Result) {
	a.mu.Lock()
	a.lastResult = &r
	switch {
	case r.Err != nil:
		a.notice = r.Err.Error()
	case r.Sent:
		a.notice = ""
	}
	a.mu.Unlock()
	a.notify()
}

func (a *App) onTotalSongs(data json.RawMessage) {
	count, refresh, err := transport.ParseSongCount(data)
	if err != nil {
		logger.Warn("ignoring song count", "error", err)
		return
	}
	if refresh {
		if err := a.RequestSongCount(); err != nil {
			logger.Debug("song count refresh failed", "error", err)
		}
		return
	}
	a.mu.Lock()
	a.songCount = count
	a.haveCount = true
	a.mu.Unlock()
	a.notify()
}

func (a *App) onMatches(data json.RawMessage) {
	if _, _, err := a.matches.Handle(data); err != nil {
		logger.Warn("ignoring matches", "error", err)
	}
	// A result means the recording has been processed; any capture still
	// running is no longer needed. Releasing the source can take seconds,
	// so it must not hold up the transport's read loop.
	if a.controller.Active() != nil {
		go a.controller.EndActive(audio.TriggerMatched)
	}
	a.notify()
}

func (a *App) matchesUpdated([]matches.Match) {
	a.mu.Lock()
	a.matchRound++
	a.mu.Unlock()
}

func (a *App) onDownloadProgress(data json.RawMessage) {
	var p transport.DownloadProgress
	if err := transport.DecodeJSON(data, &p); err != nil {
		logger.Warn("ignoring download progress", "error", err)
		return
	}
	a.tracker.Dispatch(progress.AcquisitionProgress{
		Percentage: p.Percentage,
		Status:     p.Status,
		Title:      p.Title,
		Artist:     p.Artist,
		Filename:   p.Filename,
		IsComplete: p.IsComplete,
		Failed:     p.Error.Failed,
		Message:    p.Error.Message,
	})
}

func (a *App) onDownloadStatus(data json.RawMessage) {
	var m transport.StatusMessage
	if err := transport.DecodeJSON(data, &m); err != nil {
		logger.Warn("ignoring download status", "error", err)
		return
	}
	a.tracker.Dispatch(progress.AcquisitionStatus{Type: progress.MessageType(m.Type), Message: m.Message})
}

func (a *App) onFingerprintStatus(data json.RawMessage) {
	var m transport.StatusMessage
	if err := transport.DecodeJSON(data, &m); err != nil {
		logger.Warn("ignoring fingerprint status", "error", err)
		return
	}
	a.tracker.Dispatch(progress.FingerprintStatus{Type: progress.MessageType(m.Type), Message: m.Message})
}
