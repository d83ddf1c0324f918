// SPDX-License-Identifier: MIT
package audio

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/go-audio/audio"
)

// recorder pulls samples from one audio track into an in-memory WAV
// encoder until the track ends.
type recorder struct {
	track     AudioTrack
	encoder   Encoder
	out       *memBuffer
	readBuf   []int
	sampleBuf *audio.IntBuffer // Reused for every write

	frames   atomic.Int64
	channels int

	done chan struct{}
	err  error // valid once done is closed
}

func newRecorder(track AudioTrack, registry *EncoderRegistry, framesPerBuffer int) (*recorder, error) {
	settings := track.Settings()
	out := &memBuffer{}

	encoder, err := registry.NewEncoder(out, settings)
	if err != nil {
		return nil, err
	}

	channels := max(1, settings.ChannelCount)
	return &recorder{
		track:   track,
		encoder: encoder,
		out:     out,
		readBuf: make([]int, framesPerBuffer*channels),
		sampleBuf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  settings.SampleRate,
			},
			SourceBitDepth: settings.SampleSize,
		},
		channels: channels,
		done:     make(chan struct{}),
	}, nil
}

// run records until the track reports io.EOF or fails, then finalises the
// container. It closes done on return.
func (r *recorder) run() {
	defer close(r.done)

	for {
		n, err := r.track.Read(r.readBuf)
		if n > 0 {
			r.sampleBuf.Data = r.readBuf[:n]
			if werr := r.encoder.Write(r.sampleBuf); werr != nil {
				r.err = fmt.Errorf("%w: %w", ErrEncodingFailure, werr)
				break
			}
			r.frames.Add(int64(n / r.channels))
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.err = fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
			}
			break
		}
	}

	if err := r.encoder.Close(); err != nil && r.err == nil {
		r.err = fmt.Errorf("%w: finalize: %w", ErrEncodingFailure, err)
	}
}

// Bytes returns the encoded container. Only meaningful after done.
func (r *recorder) Bytes() []byte {
	return r.out.Bytes()
}

// Frames returns the number of frames encoded so far.
func (r *recorder) Frames() int64 {
	return r.frames.Load()
}
