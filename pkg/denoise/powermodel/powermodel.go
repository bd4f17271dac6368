// Package powermodel tracks per-band noise and speech power with
// exponential moving averages.
package powermodel

import (
	"math"
)

const (
	DefaultFloor              = 1e-6
	DefaultInitialNoisePower  = 1e-5
	DefaultInitialSpeechPower = 1e-4
)

// AlphasForSensitivity returns per-band adaptation rates: higher bands and
// higher sensitivity adapt faster.
func AlphasForSensitivity(sensitivity float64, bandCount int) []float64 {
	alphas := make([]float64, bandCount)
	for i := range alphas {
		alphas[i] = 0.005 + sensitivity*0.03*float64(i+1)/float64(bandCount)
	}
	return alphas
}

// Model is not safe for concurrent use.
type Model struct {
	Alphas      []float64
	NoisePower  []float64
	SpeechPower []float64
	Floor       float64

	// NoiseRateMultiplier is how much faster noise adapts than speech.
	NoiseRateMultiplier float64
}

func New(alphas []float64) *Model {
	m := &Model{
		Alphas:              alphas,
		NoisePower:          make([]float64, len(alphas)),
		SpeechPower:         make([]float64, len(alphas)),
		Floor:               DefaultFloor,
		NoiseRateMultiplier: 2,
	}
	m.Reset()
	return m
}

func (m *Model) Reset() {
	for i := range m.NoisePower {
		m.NoisePower[i] = DefaultInitialNoisePower
		m.SpeechPower[i] = DefaultInitialSpeechPower
	}
}

// SetAlphas replaces the adaptation rates keeping the estimates.
func (m *Model) SetAlphas(alphas []float64) {
	if len(alphas) != len(m.Alphas) {
		panic("powermodel: band count mismatch")
	}
	copy(m.Alphas, alphas)
}

func (m *Model) Update(bandPowers []float64, isActive bool) {
	m.UpdateScaled(bandPowers, isActive, 1)
}

// UpdateScaled is Update with every adaptation rate multiplied by rateScale.
func (m *Model) UpdateScaled(bandPowers []float64, isActive bool, rateScale float64) {
	for i, p := range bandPowers {
		if i >= len(m.Alphas) {
			break
		}
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			continue
		}
		alpha := m.Alphas[i] * rateScale
		if isActive {
			m.SpeechPower[i] = m.floor(ema(m.SpeechPower[i], p, alpha))
		} else {
			m.NoisePower[i] = m.floor(ema(m.NoisePower[i], p, alpha*m.NoiseRateMultiplier))
		}
	}
}

func ema(prev, sample, rate float64) float64 {
	if rate > 1 {
		rate = 1
	}
	return (1-rate)*prev + rate*sample
}

func (m *Model) floor(v float64) float64 {
	if math.IsNaN(v) || v < m.Floor {
		return m.Floor
	}
	return v
}
