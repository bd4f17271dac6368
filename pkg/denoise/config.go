package denoise

import (
	"math"

	"github.com/xaionaro-go/voicedenoise/pkg/denoise/classifier"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise/gain"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise/powermodel"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise/reconstruct"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise/vad"
)

const (
	MinBandCount     = 4
	MaxBandCount     = classifier.MaxSpectralBands
	DefaultBandCount = 8

	DefaultSampleRate  = 48000
	DefaultFrameSize   = 128
	DefaultSensitivity = 50
)

// Config is a complete engine configuration. An Engine never modifies a
// Config it was given; SetConfig replaces it as a whole.
//
// Parameters that are derived from Sensitivity (the VAD threshold, gain
// over-subtraction and gain smoothing rate) are only used when set to a
// non-zero value.
type Config struct {
	Mode        Mode    `yaml:"mode"`
	Preset      Preset  `yaml:"preset"`
	Sensitivity float64 `yaml:"sensitivity"`
	VADEnabled  bool    `yaml:"vad_enabled"`

	BandCount  int     `yaml:"band_count"`
	SampleRate float64 `yaml:"sample_rate"`
	FrameSize  int     `yaml:"frame_size"`

	VAD         vad.Config         `yaml:"vad"`
	Gain        gain.Config        `yaml:"gain"`
	Reconstruct reconstruct.Config `yaml:"reconstruct"`
	Classifier  classifier.Config  `yaml:"classifier"`
}

func DefaultConfig() Config {
	vadCfg := vad.DefaultConfig()
	vadCfg.Threshold = 0

	gainCfg := gain.DefaultConfig()
	gainCfg.OverSubtraction = 0
	gainCfg.SmoothingRate = 0

	return Config{
		Mode:        ModeML,
		Sensitivity: DefaultSensitivity,
		VADEnabled:  true,
		BandCount:   DefaultBandCount,
		SampleRate:  DefaultSampleRate,
		FrameSize:   DefaultFrameSize,
		VAD:         vadCfg,
		Gain:        gainCfg,
		Reconstruct: reconstruct.DefaultConfig(),
		Classifier:  classifier.DefaultConfig(),
	}
}

// Sanitize returns a copy with every value brought into its valid range.
// Nothing is ever rejected.
func (cfg Config) Sanitize() Config {
	def := DefaultConfig()

	if cfg.Mode == ModeUndefined || cfg.Mode >= endOfMode {
		cfg.Mode = def.Mode
	}
	if cfg.Preset >= endOfPreset {
		cfg.Preset = PresetNone
	}
	cfg.Sensitivity = clampOr(cfg.Sensitivity, 0, 100, def.Sensitivity)

	switch {
	case cfg.BandCount == 0:
		cfg.BandCount = def.BandCount
	case cfg.BandCount < MinBandCount:
		cfg.BandCount = MinBandCount
	case cfg.BandCount > MaxBandCount:
		cfg.BandCount = MaxBandCount
	}
	if !(cfg.SampleRate > 0) || math.IsInf(cfg.SampleRate, 0) {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = def.FrameSize
	}

	v := &cfg.VAD
	if v.HistoryLength < 1 {
		v.HistoryLength = def.VAD.HistoryLength
	}
	v.EnterFraction = clampOr(v.EnterFraction, 0, 1, def.VAD.EnterFraction)
	v.ExitFraction = clampOr(v.ExitFraction, 0, v.EnterFraction, math.Min(def.VAD.ExitFraction, v.EnterFraction))
	v.SilenceFloor = clampOr(v.SilenceFloor, 0, math.MaxFloat64, def.VAD.SilenceFloor)
	v.Threshold = clampOr(v.Threshold, 0, math.MaxFloat64, 0)
	v.SilenceBoostFactor = clampOr(v.SilenceBoostFactor, 0, 1, def.VAD.SilenceBoostFactor)
	if v.PeriodicityFrames < 4 {
		v.PeriodicityFrames = def.VAD.PeriodicityFrames
	}
	if !(v.ToneProminence >= 1) {
		v.ToneProminence = def.VAD.ToneProminence
	}
	if !(v.SpeechLowHz >= 0) || !(v.SpeechHighHz > v.SpeechLowHz) || math.IsInf(v.SpeechHighHz, 0) {
		v.SpeechLowHz, v.SpeechHighHz = def.VAD.SpeechLowHz, def.VAD.SpeechHighHz
	}

	g := &cfg.Gain
	g.NeighborBlend = clampOr(g.NeighborBlend, 0, 1, def.Gain.NeighborBlend)
	g.OverSubtraction = clampOr(g.OverSubtraction, 0, math.MaxFloat64, 0)
	g.SmoothingRate = clampOr(g.SmoothingRate, 0, 1, 0)
	if !(g.RiseSlowdown >= 1) {
		g.RiseSlowdown = def.Gain.RiseSlowdown
	}

	r := &cfg.Reconstruct
	r.FallbackAttenuation = clampOr(r.FallbackAttenuation, 0, 1, def.Reconstruct.FallbackAttenuation)
	if !(r.SpikeRatio > 1) {
		r.SpikeRatio = def.Reconstruct.SpikeRatio
	}
	if r.SmoothingStride < 0 {
		r.SmoothingStride = 0
	}
	r.SmoothingBlend = clampOr(r.SmoothingBlend, 0, 1, def.Reconstruct.SmoothingBlend)
	if !(r.Ceiling > 0) || r.Ceiling > 1 {
		r.Ceiling = def.Reconstruct.Ceiling
	}
	r.Target = clampOr(r.Target, 0, r.Ceiling, math.Min(def.Reconstruct.Target, r.Ceiling))
	r.GateAttenuation = clampOr(r.GateAttenuation, 0, 1, def.Reconstruct.GateAttenuation)
	r.GateSpeechRelief = clampOr(r.GateSpeechRelief, 0, 1, def.Reconstruct.GateSpeechRelief)

	c := &cfg.Classifier
	c.TrustAccuracy = clampOr(c.TrustAccuracy, 0, 1, def.Classifier.TrustAccuracy)
	if c.CandidateQueue < 1 {
		c.CandidateQueue = def.Classifier.CandidateQueue
	}
	t := &c.Training
	if t.MaxExamples < 1 {
		t.MaxExamples = def.Classifier.Training.MaxExamples
	}
	if t.Batches < 1 {
		t.Batches = def.Classifier.Training.Batches
	}
	if t.BatchSize < 1 {
		t.BatchSize = def.Classifier.Training.BatchSize
	}
	if t.LossHistory < 1 {
		t.LossHistory = def.Classifier.Training.LossHistory
	}
	t.LearningRate = clampOr(t.LearningRate, 0, 1, def.Classifier.Training.LearningRate)
	t.Momentum = clampOr(t.Momentum, 0, 0.999, def.Classifier.Training.Momentum)
	t.L2 = clampOr(t.L2, 0, 1, def.Classifier.Training.L2)
	a := &t.Admission
	a.MaxSpeechRatio = clampOr(a.MaxSpeechRatio, 0, 1, def.Classifier.Training.Admission.MaxSpeechRatio)
	a.MaxNoiseRatio = clampOr(a.MaxNoiseRatio, 0, 1, def.Classifier.Training.Admission.MaxNoiseRatio)
	a.RandomRate = clampOr(a.RandomRate, 0, 1, def.Classifier.Training.Admission.RandomRate)
	a.HighEnergyRate = clampOr(a.HighEnergyRate, 0, 1, def.Classifier.Training.Admission.HighEnergyRate)
	if !(a.MaxMagnitude > a.MinMagnitude) {
		a.MinMagnitude = def.Classifier.Training.Admission.MinMagnitude
		a.MaxMagnitude = def.Classifier.Training.Admission.MaxMagnitude
	}

	return cfg
}

// EffectiveSensitivity is the preset-adjusted sensitivity in [0, 1].
func (cfg Config) EffectiveSensitivity() float64 {
	s := clampOr(cfg.Sensitivity, 0, 100, DefaultSensitivity) + cfg.Preset.SensitivityOffset()
	return math.Max(0, math.Min(100, s)) / 100
}

// Level is the gain level implied by the effective sensitivity.
func (cfg Config) Level() gain.Level {
	return gain.LevelForSensitivity(cfg.EffectiveSensitivity())
}

func (cfg *Config) vadConfig() vad.Config {
	v := cfg.VAD
	if v.Threshold == 0 {
		v.Threshold = vad.ThresholdForSensitivity(cfg.EffectiveSensitivity())
	}
	return v
}

func (cfg *Config) gainConfig() gain.Config {
	s := cfg.EffectiveSensitivity()
	derived := gain.ConfigForSensitivity(s)
	g := cfg.Gain
	if g.OverSubtraction == 0 {
		g.OverSubtraction = derived.OverSubtraction
	}
	if g.SmoothingRate == 0 {
		g.SmoothingRate = derived.SmoothingRate
	}
	return g
}

func (cfg *Config) alphas() []float64 {
	return powermodel.AlphasForSensitivity(cfg.EffectiveSensitivity(), cfg.BandCount)
}

// needsRebuild reports whether switching from cfg to next requires to
// recreate the pipeline (and thus lose its adaptive state).
func (cfg *Config) needsRebuild(next *Config) bool {
	return cfg.BandCount != next.BandCount ||
		cfg.SampleRate != next.SampleRate ||
		cfg.FrameSize != next.FrameSize ||
		cfg.VAD.HistoryLength != next.VAD.HistoryLength ||
		cfg.VAD.PeriodicityFrames != next.VAD.PeriodicityFrames
}

func clampOr(v, lo, hi, fallback float64) float64 {
	switch {
	case math.IsNaN(v):
		return fallback
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
