// Package progress merges the two server-side job phases, song acquisition
// and fingerprinting, into one coherent view.
//
// Reduce is pure: it takes the current State and one Event and returns the
// next State plus the Effects the host must carry out (timers, outbound
// events). Tracker is the runtime that owns a State and runs those effects.
package progress

import (
	"math"
	"strings"
)

// Status is the lifecycle stage a phase reports.
type Status string

const (
	StatusStarting       Status = "starting"
	StatusDownloading    Status = "downloading"
	StatusProcessing     Status = "processing"
	StatusFingerprinting Status = "fingerprinting"
	StatusComplete       Status = "complete"
	StatusError          Status = "error"
)

// ParseStatus normalises an upstream status string. Unknown values are kept
// verbatim so the view falls back to its generic wording.
func ParseStatus(s string) Status {
	return Status(strings.ToLower(strings.TrimSpace(s)))
}

// terminal reports whether a phase has stopped advancing for this job run.
func (s Status) terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Phase is the progress of one job phase.
type Phase struct {
	Visible    bool
	Percentage int
	Status     Status
	Title      string
	Artist     string
	Filename   string // acquisition only
	Message    string // last server message, set on error
}

func initialPhase() Phase {
	return Phase{Status: StatusStarting}
}

// State is everything the aggregator remembers between events.
type State struct {
	Acquisition Phase
	Fingerprint Phase

	// Offer is the "offer phase 2" signal: acquisition succeeded and
	// fingerprinting has not been started yet.
	Offer bool

	// Generation increases on every reset. Timers carry the generation they
	// were scheduled in and are ignored once it has moved on.
	Generation uint64
}

// Initial returns the idle state: both phases hidden, nothing offered.
func Initial() State {
	return State{Acquisition: initialPhase(), Fingerprint: initialPhase()}
}

// MessageType is the kind of a {type, message} status notification.
type MessageType string

const (
	MessageSuccess MessageType = "success"
	MessageError   MessageType = "error"
	MessageInfo    MessageType = "info"
)

// Event is an input to Reduce.
type Event interface{ isEvent() }

// AcquisitionProgress is one downloadProgress notification.
type AcquisitionProgress struct {
	Percentage float64
	Status     string
	Title      string
	Artist     string
	Filename   string
	IsComplete bool
	Failed     bool
	Message    string
}

// AcquisitionStatus is a downloadStatus notification.
type AcquisitionStatus struct {
	Type    MessageType
	Message string
}

// FingerprintStatus is a fingerprintStatus notification.
type FingerprintStatus struct {
	Type    MessageType
	Message string
}

// StartFingerprinting is the user accepting the phase 2 offer. Filename
// overrides the one received with acquisition progress when set.
type StartFingerprinting struct {
	Filename string
}

// FullReset hides both phases immediately, as done before a new request.
type FullReset struct{}

// HideAcquisition fires AcquisitionHideDelay after acquisition completed.
type HideAcquisition struct{ Generation uint64 }

// ResetTimer fires ResetDelay after fingerprinting completed.
type ResetTimer struct{ Generation uint64 }

func (AcquisitionProgress) isEvent() {}
func (AcquisitionStatus) isEvent()   {}
func (FingerprintStatus) isEvent()   {}
func (StartFingerprinting) isEvent() {}
func (FullReset) isEvent()           {}
func (HideAcquisition) isEvent()     {}
func (ResetTimer) isEvent()          {}

// Effect is work Reduce asks the host to perform.
type Effect interface{ isEffect() }

// ScheduleHide asks for a HideAcquisition event after the hide delay.
type ScheduleHide struct{ Generation uint64 }

// ScheduleReset asks for a ResetTimer event after the reset delay.
type ScheduleReset struct{ Generation uint64 }

// RefreshSongCount asks the host to re-request the library size.
type RefreshSongCount struct{}

// EmitStartFingerprinting asks the host to send startFingerprinting.
// An empty Filename means "most recent acquisition".
type EmitStartFingerprinting struct{ Filename string }

func (ScheduleHide) isEffect()            {}
func (ScheduleReset) isEffect()           {}
func (RefreshSongCount) isEffect()        {}
func (EmitStartFingerprinting) isEffect() {}

type stage struct {
	percentage int
	status     Status
}

// fingerprintStages maps the server's informational fingerprint messages to
// a fixed percentage and status. Labels not listed here are ignored.
var fingerprintStages = map[string]stage{
	"Starting fingerprinting process...": {10, StatusStarting},
	"Processing audio file...":           {25, StatusProcessing},
	"Getting YouTube ID...":              {40, StatusProcessing},
	"Creating fingerprints...":           {65, StatusFingerprinting},
	"Moving to songs directory...":       {85, StatusFingerprinting},
	"Cleaning up temporary files...":     {95, StatusFingerprinting},
}

// Stage looks up a fingerprint status label.
func Stage(label string) (percentage int, status Status, ok bool) {
	st, ok := fingerprintStages[label]
	return st.percentage, st.status, ok
}

func clampPercent(p float64) int {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return int(math.Round(p))
}

func reset(s State) State {
	return State{
		Acquisition: initialPhase(),
		Fingerprint: initialPhase(),
		Generation:  s.Generation + 1,
	}
}

// Reduce applies e to s.
func Reduce(s State, e Event) (State, []Effect) {
	switch e := e.(type) {
	case AcquisitionProgress:
		return reduceAcquisition(s, e)
	case AcquisitionStatus:
		return reduceAcquisitionStatus(s, e)
	case FingerprintStatus:
		return reduceFingerprint(s, e)
	case StartFingerprinting:
		filename := e.Filename
		if filename == "" {
			filename = s.Acquisition.Filename
		}
		s.Fingerprint = Phase{
			Visible: true,
			Status:  StatusStarting,
			Title:   s.Acquisition.Title,
			Artist:  s.Acquisition.Artist,
		}
		s.Offer = false
		return s, []Effect{EmitStartFingerprinting{Filename: filename}}
	case FullReset:
		return reset(s), nil
	case HideAcquisition:
		if e.Generation == s.Generation {
			s.Acquisition.Visible = false
		}
		return s, nil
	case ResetTimer:
		if e.Generation == s.Generation {
			return reset(s), nil
		}
		return s, nil
	}
	return s, nil
}

func reduceAcquisition(s State, e AcquisitionProgress) (State, []Effect) {
	pct := clampPercent(e.Percentage)
	status := ParseStatus(e.Status)

	// A starting report, or one at exactly zero, opens a new job run: any
	// fingerprinting progress from the previous run no longer applies.
	// The raw value is checked; 0.4 rounds to 0 but is progress.
	if status == StatusStarting || e.Percentage == 0 {
		s.Fingerprint = initialPhase()
		s.Offer = false
		s.Generation++
		s.Acquisition = initialPhase()
	} else {
		if s.Acquisition.Status.terminal() {
			return s, nil
		}
		pct = max(pct, s.Acquisition.Percentage)
	}

	acq := s.Acquisition
	acq.Visible = true
	acq.Percentage = pct
	switch {
	case status != "":
		acq.Status = status
	case acq.Status == "":
		acq.Status = StatusStarting
	}
	if e.Title != "" {
		acq.Title = e.Title
	}
	if e.Artist != "" {
		acq.Artist = e.Artist
	}
	if e.Filename != "" {
		acq.Filename = e.Filename
	}

	var effects []Effect
	switch {
	case e.Failed:
		acq.Status = StatusError
		acq.Message = e.Message
	case e.IsComplete:
		acq.Status = StatusComplete
		if !s.Fingerprint.Visible {
			s.Offer = true
		}
		effects = append(effects, ScheduleHide{Generation: s.Generation})
	}
	s.Acquisition = acq
	return s, effects
}

func reduceAcquisitionStatus(s State, e AcquisitionStatus) (State, []Effect) {
	switch e.Type {
	case MessageSuccess:
		if !s.Fingerprint.Visible && s.Acquisition.Status != StatusError {
			s.Offer = true
		}
	case MessageError:
		s.Acquisition.Visible = true
		s.Acquisition.Status = StatusError
		s.Acquisition.Message = e.Message
		s.Offer = false
	}
	return s, nil
}

func reduceFingerprint(s State, e FingerprintStatus) (State, []Effect) {
	fp := s.Fingerprint
	switch e.Type {
	case MessageInfo:
		pct, status, ok := Stage(e.Message)
		if !ok {
			return s, nil
		}
		if fp.Visible && (fp.Status.terminal() || pct < fp.Percentage) {
			return s, nil
		}
		if !fp.Visible {
			fp = initialPhase()
		}
		fp.Visible = true
		fp.Percentage = pct
		fp.Status = status
	case MessageSuccess:
		if fp.Visible && fp.Status.terminal() {
			return s, nil
		}
		fp.Visible = true
		fp.Percentage = 100
		fp.Status = StatusComplete
		s.Fingerprint = withMetadata(fp, s.Acquisition)
		s.Offer = false
		return s, []Effect{ScheduleReset{Generation: s.Generation}, RefreshSongCount{}}
	case MessageError:
		fp.Visible = true
		fp.Status = StatusError
		fp.Message = e.Message
	default:
		return s, nil
	}
	s.Fingerprint = withMetadata(fp, s.Acquisition)
	s.Offer = false
	return s, nil
}

// withMetadata fills in song metadata from acquisition when fingerprinting
// reports arrive before the phase was started locally.
func withMetadata(fp, acq Phase) Phase {
	if fp.Title == "" {
		fp.Title = acq.Title
	}
	if fp.Artist == "" {
		fp.Artist = acq.Artist
	}
	return fp
}
