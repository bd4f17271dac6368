package denoise

import (
	"github.com/xaionaro-go/voicedenoise/pkg/denoise/classifier"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise/gain"
)

// Stats is a read-only snapshot of the engine state.
type Stats struct {
	Mode  Mode
	Level string

	Frames        uint64
	SpeechFrames  uint64
	SilenceFrames uint64

	VADActive   bool
	VADActivity float64
	VADScore    float64

	SpeechProbability float64
	Confidence        float64
	ClassifierTrusted bool

	AverageGain float64

	// Quality is a smoothed 0..100 score of how confident the engine is
	// about its decisions.
	Quality float64

	NoisePower  []float64
	SpeechPower []float64
	Gains       []float64
	SNR         []float64

	// Classifier is nil unless the engine runs in ModeML.
	Classifier *classifier.Stats
}

func (s *Stats) resize(bandCount int) {
	s.NoisePower = resizeFloats(s.NoisePower, bandCount)
	s.SpeechPower = resizeFloats(s.SpeechPower, bandCount)
	s.Gains = resizeFloats(s.Gains, bandCount)
	s.SNR = resizeFloats(s.SNR, bandCount)
}

func resizeFloats(s []float64, n int) []float64 {
	if cap(s) < n {
		return make([]float64, n)
	}
	return s[:n]
}

func (s *Stats) clone() Stats {
	c := *s
	c.NoisePower = append([]float64(nil), s.NoisePower...)
	c.SpeechPower = append([]float64(nil), s.SpeechPower...)
	c.Gains = append([]float64(nil), s.Gains...)
	c.SNR = append([]float64(nil), s.SNR...)
	return c
}

// updateStats copies the frame results into the preallocated snapshot.
func (e *Engine) updateStats(cfg *Config, est gain.Estimate, trusted bool) {
	e.statsLocker.Lock()
	defer e.statsLocker.Unlock()
	s := &e.stats
	s.Mode = cfg.Mode
	s.Level = e.level.Name
	s.Frames = e.frames
	s.SpeechFrames = e.detector.SpeechFrames
	s.SilenceFrames = e.detector.SilenceFrames
	s.VADActive = e.detector.Active()
	s.VADActivity = e.detector.Activity()
	s.VADScore = e.detector.LastScore()
	s.SpeechProbability = est.Probability
	s.Confidence = est.Confidence
	s.ClassifierTrusted = trusted
	s.AverageGain = e.calc.AverageGain()
	s.Quality = e.quality
	copy(s.NoisePower, e.model.NoisePower)
	copy(s.SpeechPower, e.model.SpeechPower)
	copy(s.Gains, e.calc.Profile())
	copy(s.SNR, e.calc.SNR())
}

// Stats returns a snapshot of the engine state. It never modifies the
// engine.
func (e *Engine) Stats() Stats {
	e.statsLocker.Lock()
	s := e.stats.clone()
	cls := e.statsCls
	e.statsLocker.Unlock()

	if cls != nil {
		cs := cls.Stats()
		s.Classifier = &cs
	}
	return s
}
