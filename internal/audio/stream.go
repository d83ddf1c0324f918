package audio

import (
	"errors"
	"sync"
)

// TrackKind distinguishes audio from video tracks.
type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// TrackSettings are the values a device actually negotiated. They can
// differ from the requested Constraints.
type TrackSettings struct {
	ChannelCount int
	SampleRate   int
	SampleSize   int // bits per sample
}

// Track is one media track of a stream.
type Track interface {
	Kind() TrackKind
	Settings() TrackSettings
	// Stop ends the track. Calling Stop more than once is allowed.
	Stop() error
	// Done is closed once the track has ended, whether through Stop or
	// because the device went away.
	Done() <-chan struct{}
}

// AudioTrack delivers interleaved integer PCM samples.
type AudioTrack interface {
	Track
	// Read blocks until samples are available and copies them into buf.
	// It returns io.EOF once the track has ended.
	Read(buf []int) (int, error)
}

// Constraints describe the stream requested from an Acquirer.
type Constraints struct {
	ChannelCount     int
	SampleRate       float64
	SampleSize       int
	FramesPerBuffer  int
	AutoGainControl  bool
	EchoCancellation bool
	NoiseSuppression bool
}

// CaptureConstraints returns the fixed constraints used for identification:
// mono 16-bit with all voice processing disabled.
func CaptureConstraints(sampleRate float64, framesPerBuffer int) Constraints {
	return Constraints{
		ChannelCount:    1,
		SampleRate:      sampleRate,
		SampleSize:      16,
		FramesPerBuffer: framesPerBuffer,
	}
}

// MediaStream groups the tracks produced by one acquisition.
type MediaStream struct {
	tracks []Track

	releaseOnce sync.Once
	releaseErr  error
}

// NewMediaStream wraps tracks into a stream.
func NewMediaStream(tracks ...Track) *MediaStream {
	return &MediaStream{tracks: tracks}
}

// AudioTracks returns the tracks that carry audio samples.
func (s *MediaStream) AudioTracks() []AudioTrack {
	var out []AudioTrack
	for _, t := range s.tracks {
		if at, ok := t.(AudioTrack); ok && t.Kind() == KindAudio {
			out = append(out, at)
		}
	}
	return out
}

// VideoTracks returns every non-audio track.
func (s *MediaStream) VideoTracks() []Track {
	var out []Track
	for _, t := range s.tracks {
		if t.Kind() == KindVideo {
			out = append(out, t)
		}
	}
	return out
}

// Release stops all tracks. Only the first call has any effect.
func (s *MediaStream) Release() error {
	s.releaseOnce.Do(func() {
		var errs []error
		for _, t := range s.tracks {
			if err := t.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		s.releaseErr = errors.Join(errs...)
	})
	return s.releaseErr
}
