// Package reconstruct recombines band signals into an output frame and
// cleans it up.
package reconstruct

import (
	"math"
)

type Config struct {
	// MinTotalGain is the sum of gains below which the weighted average is
	// not trusted and the input is attenuated by FallbackAttenuation instead.
	MinTotalGain        float64 `yaml:"min_total_gain"`
	FallbackAttenuation float64 `yaml:"fallback_attenuation"`

	// SpikeRatio: a sample louder than both neighbours by this factor is
	// replaced with their mean.
	SpikeRatio float64 `yaml:"spike_ratio"`

	// Every SmoothingStride-th sample is blended with its neighbours.
	SmoothingStride int     `yaml:"smoothing_stride"`
	SmoothingBlend  float64 `yaml:"smoothing_blend"`

	// Frames peaking above Ceiling are scaled down to peak at Target.
	Ceiling float64 `yaml:"ceiling"`
	Target  float64 `yaml:"target"`

	// Samples quieter than GateThreshold*(1-GateSpeechRelief*p) are scaled
	// by GateAttenuation.
	GateThreshold    float64 `yaml:"gate_threshold"`
	GateSpeechRelief float64 `yaml:"gate_speech_relief"`
	GateAttenuation  float64 `yaml:"gate_attenuation"`
}

func DefaultConfig() Config {
	return Config{
		MinTotalGain:        0.01,
		FallbackAttenuation: 0.01,
		SpikeRatio:          4,
		SmoothingStride:     4,
		SmoothingBlend:      0.3,
		Ceiling:             0.98,
		Target:              0.95,
		GateThreshold:       0.0005,
		GateSpeechRelief:    0.8,
		GateAttenuation:     0.1,
	}
}

// Reconstruct writes into out the gain-weighted average of the band signals.
// len(out) must equal len(in) and the length of every band signal.
func Reconstruct(
	cfg Config,
	out []float32,
	in []float32,
	bandSignals [][]float64,
	gains []float64,
) {
	var totalGain float64
	for _, g := range gains {
		totalGain += g
	}
	if !(totalGain > cfg.MinTotalGain) {
		for i, v := range in {
			out[i] = v * float32(cfg.FallbackAttenuation)
		}
		return
	}

	for i := range out {
		var acc float64
		for band, g := range gains {
			acc += bandSignals[band][i] * g
		}
		out[i] = float32(acc / totalGain)
	}
}

// PostProcess gates, de-spikes, smooths and (only if needed) normalises
// the frame in place. speechProbability is in [0, 1].
func PostProcess(cfg Config, frame []float32, speechProbability float64) {
	gate := cfg.GateThreshold * (1 - cfg.GateSpeechRelief*speechProbability)
	for i, v := range frame {
		if math.Abs(float64(v)) < gate {
			frame[i] = v * float32(cfg.GateAttenuation)
		}
	}

	for i := 1; i < len(frame)-1; i++ {
		cur := abs32(frame[i])
		if cur > abs32(frame[i-1])*float32(cfg.SpikeRatio) && cur > abs32(frame[i+1])*float32(cfg.SpikeRatio) {
			frame[i] = (frame[i-1] + frame[i+1]) / 2
		}
	}

	if cfg.SmoothingStride > 0 {
		blend := float32(cfg.SmoothingBlend)
		for i := cfg.SmoothingStride; i < len(frame)-1; i += cfg.SmoothingStride {
			frame[i] = (1-blend)*frame[i] + blend/2*(frame[i-1]+frame[i+1])
		}
	}

	var peak float32
	for i, v := range frame {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			frame[i] = 0
			continue
		}
		if a := abs32(v); a > peak {
			peak = a
		}
	}
	if float64(peak) > cfg.Ceiling {
		scale := float32(cfg.Target) / peak
		for i := range frame {
			frame[i] *= scale
		}
	}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
