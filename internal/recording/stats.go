package recording

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// silenceRMS is the normalised level below which a capture is reported
// as silent in the logs.
const silenceRMS = 1e-4

// Stats summarise a capture's level for diagnostics. They never decide
// whether a recording is sent.
type Stats struct {
	Peak   float64 // 0..1 of full scale
	RMS    float64 // 0..1 of full scale
	Silent bool
}

// Analyze computes level statistics over integer PCM of the given depth.
func Analyze(samples []int, bitDepth int) Stats {
	if len(samples) == 0 || bitDepth < 1 {
		return Stats{Silent: true}
	}

	scale := math.Ldexp(1, bitDepth-1)
	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = float64(s) / scale
	}

	peak := math.Max(floats.Max(x), -floats.Min(x))
	rms := floats.Norm(x, 2) / math.Sqrt(float64(len(x)))
	return Stats{
		Peak:   peak,
		RMS:    rms,
		Silent: rms < silenceRMS,
	}
}
