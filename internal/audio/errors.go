package audio

import "errors"

var (
	// ErrSourceUnavailable is returned when the requested device class is
	// missing or access to it was denied.
	ErrSourceUnavailable = errors.New("audio source unavailable")

	// ErrEncodingFailure covers encoder registration and encode errors.
	ErrEncodingFailure = errors.New("audio encoding failed")

	// ErrCaptureInProgress is returned by StartCapture while a session is
	// still active.
	ErrCaptureInProgress = errors.New("capture already in progress")
)
