// Package recording turns an encoded capture into the payload submitted
// for matching.
package recording

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"seektune/internal/log"

	"github.com/go-audio/wav"
)

var logger = log.L("recording")

// ErrDecodeFailure is returned when the encoded audio cannot be decoded
// back to measure its length.
var ErrDecodeFailure = errors.New("audio decode failed")

// Format carries the settings the capture device actually delivered.
type Format struct {
	Channels   int
	SampleRate int
	SampleSize int
}

// Payload is the newRecording body.
type Payload struct {
	Audio      string  `json:"audio"`
	Duration   float64 `json:"duration"`
	Channels   int     `json:"channels"`
	SampleRate int     `json:"sampleRate"`
	SampleSize int     `json:"sampleSize"`
}

// JSON returns the payload encoded as the server expects it.
func (p *Payload) JSON() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decoded is a WAV blob read back into samples.
type Decoded struct {
	Samples    []int
	Channels   int
	SampleRate int
	BitDepth   int
	Frames     int
}

// Duration is the decoded length in seconds.
func (d *Decoded) Duration() float64 {
	if d.SampleRate == 0 {
		return 0
	}
	return float64(d.Frames) / float64(d.SampleRate)
}

// Decode parses a WAV blob. The length comes from the PCM data itself,
// not from the container size fields.
func Decode(blob []byte) (*Decoded, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("%w: empty blob", ErrDecodeFailure)
	}

	dec := wav.NewDecoder(bytes.NewReader(blob))
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}
	if dec.NumChans < 1 || dec.SampleRate == 0 || dec.BitDepth < 8 {
		return nil, fmt.Errorf("%w: invalid header (%d channels, %d Hz, %d bit)",
			ErrDecodeFailure, dec.NumChans, dec.SampleRate, dec.BitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeFailure, err)
	}

	channels := int(dec.NumChans)
	return &Decoded{
		Samples:    buf.Data,
		Channels:   channels,
		SampleRate: int(dec.SampleRate),
		BitDepth:   int(dec.BitDepth),
		Frames:     len(buf.Data) / channels,
	}, nil
}

// Packager builds payloads from encoded captures.
type Packager struct{}

// NewPackager returns a Packager.
func NewPackager() *Packager { return &Packager{} }

// Package decodes blob to measure its duration and wraps it, base64
// encoded, with the live stream format. Empty and silent recordings are
// packaged like any other.
func (p *Packager) Package(blob []byte, f Format) (*Payload, error) {
	decoded, err := Decode(blob)
	if err != nil {
		return nil, err
	}

	stats := Analyze(decoded.Samples, decoded.BitDepth)
	logger.Debug("recording packaged",
		"bytes", len(blob),
		"frames", decoded.Frames,
		"duration", decoded.Duration(),
		"peak", stats.Peak,
		"rms", stats.RMS,
		"silent", stats.Silent,
	)

	return &Payload{
		Audio:      base64.StdEncoding.EncodeToString(blob),
		Duration:   decoded.Duration(),
		Channels:   f.Channels,
		SampleRate: f.SampleRate,
		SampleSize: f.SampleSize,
	}, nil
}
