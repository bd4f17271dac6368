// Package vad implements a band-power based voice activity detector with
// hysteresis over a short rolling window of per-frame decisions.
package vad

import (
	"math"

	"github.com/xaionaro-go/voicedenoise/pkg/ring"
)

type Weights struct {
	SpeechBand  float64 `yaml:"speech_band"`
	Tone        float64 `yaml:"tone"`
	Stability   float64 `yaml:"stability"`
	Periodicity float64 `yaml:"periodicity"`
	LowHigh     float64 `yaml:"low_high"`
}

var DefaultWeights = Weights{
	SpeechBand:  0.25,
	Tone:        0.35,
	Stability:   0.10,
	Periodicity: 0.05,
	LowHigh:     0.25,
}

type Config struct {
	HistoryLength int     `yaml:"history_length"`
	EnterFraction float64 `yaml:"enter_fraction"`
	ExitFraction  float64 `yaml:"exit_fraction"`

	// SilenceFloor is the total band power below which a frame is silence
	// regardless of its shape.
	SilenceFloor float64 `yaml:"silence_floor"`

	// Threshold is the score a frame must exceed to count as active.
	Threshold float64 `yaml:"threshold"`

	// After SilenceBoostFrames consecutive inactive frames the threshold
	// is multiplied by SilenceBoostFactor.
	SilenceBoostFrames uint64  `yaml:"silence_boost_frames"`
	SilenceBoostFactor float64 `yaml:"silence_boost_factor"`

	// PeriodicityFrames is the horizon of the energy autocorrelation.
	PeriodicityFrames int `yaml:"periodicity_frames"`

	// ToneProminence is how many times louder than its surroundings a peak
	// must be to count as tonal.
	ToneProminence float64 `yaml:"tone_prominence"`

	// SpeechLowHz..SpeechHighHz is where voice energy is expected.
	SpeechLowHz  float64 `yaml:"speech_low_hz"`
	SpeechHighHz float64 `yaml:"speech_high_hz"`

	Weights Weights `yaml:"weights"`
}

func DefaultConfig() Config {
	return Config{
		HistoryLength:      10,
		EnterFraction:      0.4,
		ExitFraction:       0.2,
		SilenceFloor:       1e-7,
		Threshold:          0.45,
		SilenceBoostFrames: 100,
		SilenceBoostFactor: 0.9,
		PeriodicityFrames:  16,
		ToneProminence:     1.5,
		SpeechLowHz:        100,
		SpeechHighHz:       4000,
		Weights:            DefaultWeights,
	}
}

// ThresholdForSensitivity maps sensitivity in [0, 1] to a frame score
// threshold.
func ThresholdForSensitivity(s float64) float64 {
	return 0.35 + 0.2*s
}

// Band describes one analysed band. NoiseGain is the power the band passes
// for unit-variance white noise; it is used to whiten band powers before
// judging the spectral shape.
type Band struct {
	LowHz     float64
	HighHz    float64
	NoiseGain float64
}

// UniformBands returns bandCount equal-width bands up to the Nyquist
// frequency with a flat noise response.
func UniformBands(sampleRate float64, bandCount int) []Band {
	bands := make([]Band, bandCount)
	width := sampleRate / 2 / float64(bandCount)
	for i := range bands {
		bands[i] = Band{
			LowHz:     float64(i) * width,
			HighHz:    float64(i+1) * width,
			NoiseGain: 1,
		}
	}
	return bands
}

type Features struct {
	SpeechBand  float64
	Tone        float64
	Stability   float64
	Periodicity float64
	LowHigh     float64
}

type Detector struct {
	Config Config

	bands         []Band
	whitening     []float64
	speechWeights []float64
	speechFlat    float64
	whitened      []float64

	history     *ring.Ring[bool]
	activeCount int
	active      bool

	prevPowers []float64
	hasPrev    bool
	energies   *ring.Ring[float64]
	lags       []float64

	lastScore    float64
	lastFeatures Features

	SpeechFrames  uint64
	SilenceFrames uint64
	silenceStreak uint64
}

func New(cfg Config, bands []Band) *Detector {
	if cfg.HistoryLength < 1 {
		cfg.HistoryLength = 1
	}
	if cfg.PeriodicityFrames < 4 {
		cfg.PeriodicityFrames = 4
	}
	d := &Detector{
		bands:         bands,
		whitening:     make([]float64, len(bands)),
		speechWeights: make([]float64, len(bands)),
		whitened:      make([]float64, len(bands)),
		history:       ring.New[bool](cfg.HistoryLength),
		prevPowers:    make([]float64, len(bands)),
		energies:      ring.New[float64](cfg.PeriodicityFrames),
		lags:          make([]float64, cfg.PeriodicityFrames),
	}
	for i := 0; i < cfg.HistoryLength; i++ {
		d.history.Push(false)
	}

	var meanGain float64
	for _, b := range bands {
		meanGain += noiseGain(b)
	}
	meanGain /= float64(len(bands))
	for i, b := range bands {
		d.whitening[i] = meanGain / noiseGain(b)
	}
	d.SetConfig(cfg)
	return d
}

func noiseGain(b Band) float64 {
	if !(b.NoiseGain > 0) || math.IsInf(b.NoiseGain, 0) {
		return 1
	}
	return b.NoiseGain
}

// SetConfig replaces the configuration keeping the history. HistoryLength
// and PeriodicityFrames are fixed at construction.
func (d *Detector) SetConfig(cfg Config) {
	cfg.HistoryLength = d.history.Cap()
	cfg.PeriodicityFrames = d.energies.Cap()
	d.Config = cfg

	var sum float64
	for i, b := range d.bands {
		width := b.HighHz - b.LowHz
		overlap := math.Min(b.HighHz, cfg.SpeechHighHz) - math.Max(b.LowHz, cfg.SpeechLowHz)
		w := 0.0
		if width > 0 && overlap > 0 {
			w = overlap / width
		}
		d.speechWeights[i] = w
		sum += w
	}
	d.speechFlat = 0
	if len(d.bands) > 0 {
		d.speechFlat = sum / float64(len(d.bands))
	}
}

// SetThreshold changes the frame score threshold in place, keeping history.
func (d *Detector) SetThreshold(threshold float64) {
	d.Config.Threshold = threshold
}

// Detect classifies the frame and returns the hysteresis-filtered state.
func (d *Detector) Detect(bandPowers []float64) bool {
	frameActive := d.classifyFrame(bandPowers)
	return d.Push(frameActive)
}

// Push records a per-frame decision and returns the hysteresis-filtered
// state. It is used directly when the per-frame decision comes from
// elsewhere (e.g. a hybrid with a classifier).
func (d *Detector) Push(frameActive bool) bool {
	old, _ := d.history.Push(frameActive)
	if old {
		d.activeCount--
	}
	if frameActive {
		d.activeCount++
	}

	fraction := d.Activity()
	switch {
	case d.active && fraction < d.Config.ExitFraction:
		d.active = false
	case !d.active && fraction > d.Config.EnterFraction:
		d.active = true
	}

	if d.active {
		d.SpeechFrames++
	} else {
		d.SilenceFrames++
	}
	if frameActive {
		d.silenceStreak = 0
	} else {
		d.silenceStreak++
	}
	return d.active
}

// Score computes the weighted per-frame score and updates the detector's
// per-frame memory, without touching the hysteresis window.
func (d *Detector) Score(bandPowers []float64) float64 {
	total := 0.0
	for _, p := range bandPowers {
		if p > 0 && !math.IsInf(p, 0) {
			total += p
		}
	}

	if total < d.Config.SilenceFloor || math.IsNaN(total) {
		d.remember(bandPowers, 0)
		d.lastFeatures = Features{}
		d.lastScore = 0
		return 0
	}

	whitened := d.whitened
	var whitenedTotal float64
	for i, p := range bandPowers {
		if !(p > 0) || math.IsInf(p, 0) {
			p = 0
		}
		whitened[i] = p * d.whitening[i]
		whitenedTotal += whitened[i]
	}

	f := Features{
		SpeechBand:  speechBandRatio(whitened, whitenedTotal, d.speechWeights, d.speechFlat),
		Tone:        toneStrength(whitened, whitenedTotal, d.Config.ToneProminence),
		LowHigh:     lowHighRatio(whitened, whitenedTotal),
		Periodicity: d.periodicity(),
	}
	if d.hasPrev {
		f.Stability = stability(d.prevPowers, bandPowers)
	}
	d.remember(bandPowers, total)

	w := d.Config.Weights
	score := w.SpeechBand*f.SpeechBand +
		w.Tone*f.Tone +
		w.Stability*f.Stability +
		w.Periodicity*f.Periodicity +
		w.LowHigh*f.LowHigh
	if math.IsNaN(score) {
		score = 0
	}

	d.lastFeatures = f
	d.lastScore = score
	return score
}

// CurrentThreshold is the score threshold after the sustained-silence
// adjustment.
func (d *Detector) CurrentThreshold() float64 {
	threshold := d.Config.Threshold
	if d.Config.SilenceBoostFrames > 0 && d.silenceStreak >= d.Config.SilenceBoostFrames {
		threshold *= d.Config.SilenceBoostFactor
	}
	return threshold
}

func (d *Detector) classifyFrame(bandPowers []float64) bool {
	return d.Score(bandPowers) > d.CurrentThreshold()
}

func (d *Detector) remember(bandPowers []float64, total float64) {
	copy(d.prevPowers, bandPowers)
	d.hasPrev = total > 0
	d.energies.Push(total)
}

// Active returns the current hysteresis-filtered state.
func (d *Detector) Active() bool {
	return d.active
}

// Activity returns the fraction of active frames in the window.
func (d *Detector) Activity() float64 {
	return float64(d.activeCount) / float64(d.history.Len())
}

func (d *Detector) LastScore() float64 {
	return d.lastScore
}

func (d *Detector) LastFeatures() Features {
	return d.lastFeatures
}

func (d *Detector) Reset() {
	d.history.Reset()
	for i := 0; i < d.Config.HistoryLength; i++ {
		d.history.Push(false)
	}
	d.activeCount = 0
	d.active = false
	d.hasPrev = false
	d.energies.Reset()
	d.silenceStreak = 0
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	case math.IsNaN(v):
		return 0
	}
	return v
}

// speechBandRatio is 0 when the share of energy in the speech range is
// what a flat spectrum would give and 1 when all of it is there.
func speechBandRatio(p []float64, total float64, weights []float64, flat float64) float64 {
	if !(total > 0) || flat >= 1 {
		return 0
	}
	var speech float64
	for i, v := range p {
		speech += v * weights[i]
	}
	return clamp01((speech/total - flat) / (1 - flat))
}

func lowHighRatio(p []float64, total float64) float64 {
	if !(total > 0) {
		return 0
	}
	var low float64
	for _, v := range p[:len(p)/2] {
		low += v
	}
	return clamp01((low/total - 0.5) * 2)
}

// toneStrength sums the prominence of spectral peaks weighted by their
// share of the energy. A peak is a local maximum, merged with its louder
// neighbour when a tone falls between two bands, that is louder than the
// bands around it by the given factor. Missing neighbours at the edges
// count as silent.
func toneStrength(p []float64, total float64, factor float64) float64 {
	if !(total > 0) {
		return 0
	}
	n := len(p)
	at := func(i int) float64 {
		if i < 0 || i >= n {
			return 0
		}
		return p[i]
	}

	var s float64
	for i := 0; i < n; i++ {
		left, right := at(i-1), at(i+1)
		if !(p[i] > left && p[i] >= right) {
			continue
		}

		first, last, peak := i, i, p[i]
		shoulder := i + 1
		if left >= right {
			shoulder = i - 1
		}
		if shoulder >= 0 && shoulder < n && at(shoulder)*factor > p[i] {
			peak += p[shoulder]
			first, last = min(i, shoulder), max(i, shoulder)
		}
		level := peak / float64(last-first+1)

		var outerSum, outerMax float64
		var outerCount int
		if first > 0 {
			outerSum += p[first-1]
			outerMax = p[first-1]
			outerCount++
		}
		if last < n-1 {
			outerSum += p[last+1]
			outerMax = max(outerMax, p[last+1])
			outerCount++
		}
		if level <= factor*outerMax {
			continue
		}
		var outerMean float64
		if outerCount > 0 {
			outerMean = outerSum / float64(outerCount)
		}
		s += (1 - outerMean/level) * peak / total
	}
	return clamp01(s)
}

func stability(prev, cur []float64) float64 {
	var sum float64
	for i := range cur {
		a, b := prev[i], cur[i]
		hi := math.Max(a, b)
		if hi <= 0 {
			sum += 1
			continue
		}
		sum += math.Min(a, b) / hi
	}
	return clamp01(sum / float64(len(cur)))
}

// periodicity is the strongest normalised autocorrelation of the recent
// total-energy sequence for lags from 2 to half the horizon.
func (d *Detector) periodicity() float64 {
	n := d.energies.Len()
	if n < 4 {
		return 0
	}
	series := d.lags[:n]
	var mean float64
	for i := 0; i < n; i++ {
		series[i] = d.energies.At(i)
		mean += series[i]
	}
	mean /= float64(n)

	var variance float64
	for i := range series {
		series[i] -= mean
		variance += series[i] * series[i]
	}
	if variance <= 1e-12*mean*mean || variance == 0 {
		return 0
	}

	best := 0.0
	for lag := 2; lag <= n/2; lag++ {
		var acc float64
		for i := lag; i < n; i++ {
			acc += series[i] * series[i-lag]
		}
		if r := acc / variance; r > best {
			best = r
		}
	}
	return clamp01(best)
}
