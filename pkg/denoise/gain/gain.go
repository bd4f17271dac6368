// Package gain turns band powers and noise estimates into a smoothed
// per-band suppression profile.
package gain

import (
	"math"
)

// Estimate is an externally supplied speech probability for the frame.
type Estimate struct {
	Probability float64
	Confidence  float64
	Valid       bool
}

// EstimateFromProbability builds an Estimate with the confidence proxy
// |p-0.5|*2.
func EstimateFromProbability(p float64) Estimate {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return Estimate{}
	}
	p = math.Max(0, math.Min(1, p))
	return Estimate{
		Probability: p,
		Confidence:  math.Abs(p-0.5) * 2,
		Valid:       true,
	}
}

type Config struct {
	// NeighborBlend is the share of the adjacent bands' mean power mixed
	// into a band's signal power.
	NeighborBlend float64 `yaml:"neighbor_blend"`

	// Below SubtractionKneeDB of SNR the Wiener gain is additionally capped
	// by 1 - OverSubtraction/SNR.
	SubtractionKneeDB float64 `yaml:"subtraction_knee_db"`
	OverSubtraction   float64 `yaml:"over_subtraction"`

	NoiseGate float64 `yaml:"noise_gate"`

	SpeechProbability float64 `yaml:"speech_probability"`
	SpeechConfidence  float64 `yaml:"speech_confidence"`
	SpeechMinSNR      float64 `yaml:"speech_min_snr"`
	SpeechFloor       float64 `yaml:"speech_floor"`

	NoiseProbability float64 `yaml:"noise_probability"`
	NoiseConfidence  float64 `yaml:"noise_confidence"`
	NoiseFactor      float64 `yaml:"noise_factor"`

	// SmoothingRate is applied when the gain falls; rises use
	// SmoothingRate/RiseSlowdown.
	SmoothingRate float64 `yaml:"smoothing_rate"`
	RiseSlowdown  float64 `yaml:"rise_slowdown"`
}

func DefaultConfig() Config {
	return ConfigForSensitivity(0.5)
}

func ConfigForSensitivity(sensitivity float64) Config {
	return Config{
		NeighborBlend:     0.2,
		SubtractionKneeDB: 6,
		OverSubtraction:   1 + 2*sensitivity,
		NoiseGate:         1e-8,
		SpeechProbability: 0.7,
		SpeechConfidence:  0.6,
		SpeechMinSNR:      2,
		SpeechFloor:       0.3,
		NoiseProbability:  0.3,
		NoiseConfidence:   0.6,
		NoiseFactor:       0.5,
		SmoothingRate:     0.2 + 0.4*sensitivity,
		RiseSlowdown:      4,
	}
}

// Calculator is not safe for concurrent use.
type Calculator struct {
	Config Config
	Level  Level

	profile []float64
	target  []float64
	snr     []float64
}

func New(cfg Config, level Level, bandCount int) *Calculator {
	c := &Calculator{
		Config:  cfg,
		Level:   level,
		profile: make([]float64, bandCount),
		target:  make([]float64, bandCount),
		snr:     make([]float64, bandCount),
	}
	c.Reset()
	return c
}

func (c *Calculator) Reset() {
	for i := range c.profile {
		c.profile[i] = c.Level.MaxGain
	}
}

// SetLevel changes the gain bounds keeping the smoothing state.
func (c *Calculator) SetLevel(cfg Config, level Level) {
	c.Config = cfg
	c.Level = level
	for i, g := range c.profile {
		c.profile[i] = clamp(g, level.MinGain, level.MaxGain)
	}
}

// Profile returns the current smoothed gains. The slice is owned by the
// Calculator.
func (c *Calculator) Profile() []float64 {
	return c.profile
}

// SNR returns the per-band SNR of the last Compute call.
func (c *Calculator) SNR() []float64 {
	return c.snr
}

// FrequencyWeight grows from 0.3 to 1.0 across the bands so that higher
// bands are suppressed harder.
func FrequencyWeight(band, bandCount int) float64 {
	return 0.3 + 0.7*float64(band+1)/float64(bandCount)
}

// Compute updates and returns the suppression profile.
func (c *Calculator) Compute(
	bandPowers []float64,
	noisePowers []float64,
	est Estimate,
) []float64 {
	n := len(c.profile)
	cfg := &c.Config
	for i := 0; i < n; i++ {
		signal := c.signalPower(bandPowers, i)
		noise := noisePowers[i]
		if !(noise > 0) {
			noise = 1e-6
		}

		snr := signal / noise
		if math.IsNaN(snr) || math.IsInf(snr, 0) {
			snr = 0
		}
		c.snr[i] = snr

		g := snr / (snr + 1)
		if snr <= 0 || 10*math.Log10(snr) < cfg.SubtractionKneeDB {
			subtracted := 0.0
			if snr > 0 {
				subtracted = math.Max(0, 1-cfg.OverSubtraction/snr)
			}
			g = math.Min(g, subtracted)
		}

		g = math.Pow(g, c.Level.Aggression*FrequencyWeight(i, n))

		if est.Valid {
			if est.Probability > cfg.SpeechProbability && est.Confidence > cfg.SpeechConfidence && snr > cfg.SpeechMinSNR {
				g = math.Max(g, cfg.SpeechFloor)
			}
			if est.Probability < cfg.NoiseProbability && est.Confidence > cfg.NoiseConfidence {
				g *= cfg.NoiseFactor
			}
		}

		if signal < cfg.NoiseGate {
			g = 0
		}
		if math.IsNaN(g) {
			g = 0
		}

		c.target[i] = clamp(g, c.Level.MinGain, c.Level.MaxGain)
	}

	for i, target := range c.target {
		prev := c.profile[i]
		rate := cfg.SmoothingRate
		if target > prev && cfg.RiseSlowdown > 0 {
			rate /= cfg.RiseSlowdown
		}
		c.profile[i] = clamp(prev+rate*(target-prev), c.Level.MinGain, c.Level.MaxGain)
	}
	return c.profile
}

func (c *Calculator) signalPower(p []float64, i int) float64 {
	own := sanitize(p[i])
	var neighbors float64
	var count int
	if i > 0 {
		neighbors += sanitize(p[i-1])
		count++
	}
	if i+1 < len(p) {
		neighbors += sanitize(p[i+1])
		count++
	}
	if count == 0 {
		return own
	}
	blend := c.Config.NeighborBlend
	return (1-blend)*own + blend*neighbors/float64(count)
}

// AverageGain is the mean of the current profile.
func (c *Calculator) AverageGain() float64 {
	if len(c.profile) == 0 {
		return 1
	}
	var sum float64
	for _, g := range c.profile {
		sum += g
	}
	return sum / float64(len(c.profile))
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
