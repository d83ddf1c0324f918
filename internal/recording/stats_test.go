package recording

import (
	"math"
	"testing"

	"seektune/pkg/utils"
)

func TestAnalyze(t *testing.T) {
	tests := []struct {
		name       string
		samples    []int
		wantPeak   float64
		wantRMS    float64
		wantSilent bool
	}{
		{"Empty", nil, 0, 0, true},
		{"Silence", utils.GenerateSilence(1024), 0, 0, true},
		{"Square", []int{16384, -16384, 16384, -16384}, 0.5, 0.5, false},
		{"Sine", utils.GenerateSineWave(44100, 44100, 441), 0.9, 0.9 / math.Sqrt2, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Analyze(tt.samples, 16)
			if math.Abs(got.Peak-tt.wantPeak) > 1e-3 {
				t.Errorf("Peak = %v, want %v", got.Peak, tt.wantPeak)
			}
			if math.Abs(got.RMS-tt.wantRMS) > 1e-3 {
				t.Errorf("RMS = %v, want %v", got.RMS, tt.wantRMS)
			}
			if got.Silent != tt.wantSilent {
				t.Errorf("Silent = %v, want %v", got.Silent, tt.wantSilent)
			}
		})
	}
}
