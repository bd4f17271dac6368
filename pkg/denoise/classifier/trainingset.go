package classifier

import (
	"math"
	"math/rand/v2"

	"github.com/xaionaro-go/voicedenoise/pkg/ring"
)

type Example struct {
	Features Features
	Speech   bool
}

func (e *Example) label() float64 {
	if e.Speech {
		return 1
	}
	return 0
}

type AdmissionPolicy struct {
	// Everything is admitted until the set holds SeedSize examples.
	SeedSize int `yaml:"seed_size"`

	// After seeding a speech example is admitted while speech makes up less
	// than MaxSpeechRatio of the set, and a noise example while noise makes
	// up less than MaxNoiseRatio.
	MaxSpeechRatio float64 `yaml:"max_speech_ratio"`
	MaxNoiseRatio  float64 `yaml:"max_noise_ratio"`

	// RandomRate is the chance to admit an example the ratios rejected.
	RandomRate float64 `yaml:"random_rate"`

	// Examples whose spectral part has energy above HighEnergy are
	// admitted with HighEnergyRate chance.
	HighEnergy     float64 `yaml:"high_energy"`
	HighEnergyRate float64 `yaml:"high_energy_rate"`

	// Valid examples have a Magnitude within (MinMagnitude, MaxMagnitude).
	MinMagnitude float64 `yaml:"min_magnitude"`
	MaxMagnitude float64 `yaml:"max_magnitude"`
}

func DefaultAdmissionPolicy() AdmissionPolicy {
	return AdmissionPolicy{
		SeedSize:       200,
		MaxSpeechRatio: 0.4,
		MaxNoiseRatio:  0.7,
		RandomRate:     0.05,
		HighEnergy:     0.1,
		HighEnergyRate: 0.3,
		MinMagnitude:   0.001,
		MaxMagnitude:   1000,
	}
}

func (p *AdmissionPolicy) IsValid(f *Features) bool {
	m := f.Magnitude()
	if math.IsNaN(m) || math.IsInf(m, 0) {
		return false
	}
	return m > p.MinMagnitude && m < p.MaxMagnitude
}

// TrainingSet is a bounded FIFO of examples. It is not safe for concurrent
// use.
type TrainingSet struct {
	Policy AdmissionPolicy

	examples *ring.Ring[Example]
	speech   int
}

func NewTrainingSet(capacity int, policy AdmissionPolicy) *TrainingSet {
	return &TrainingSet{
		Policy:   policy,
		examples: ring.New[Example](capacity),
	}
}

func (s *TrainingSet) Len() int {
	return s.examples.Len()
}

func (s *TrainingSet) Cap() int {
	return s.examples.Cap()
}

func (s *TrainingSet) SpeechCount() int {
	return s.speech
}

func (s *TrainingSet) NoiseCount() int {
	return s.examples.Len() - s.speech
}

func (s *TrainingSet) At(i int) Example {
	return s.examples.At(i)
}

// Offer applies the admission policy and stores the example if it passes.
func (s *TrainingSet) Offer(ex Example, rng *rand.Rand) bool {
	if !ex.Features.IsFinite() || !s.Policy.IsValid(&ex.Features) {
		return false
	}
	if !s.shouldAdmit(&ex, rng) {
		return false
	}
	s.add(ex)
	return true
}

func (s *TrainingSet) shouldAdmit(ex *Example, rng *rand.Rand) bool {
	total := s.examples.Len()
	if total < s.Policy.SeedSize {
		return true
	}

	speechRatio := float64(s.speech) / float64(total)
	noiseRatio := float64(total-s.speech) / float64(total)
	switch {
	case ex.Speech && speechRatio < s.Policy.MaxSpeechRatio:
		return true
	case !ex.Speech && noiseRatio < s.Policy.MaxNoiseRatio:
		return true
	case rng.Float64() < s.Policy.RandomRate:
		return true
	}

	var energy float64
	for _, v := range ex.Features[:summaryFeatures+MaxSpectralBands] {
		energy += v * v
	}
	return energy > s.Policy.HighEnergy && rng.Float64() < s.Policy.HighEnergyRate
}

func (s *TrainingSet) add(ex Example) {
	old, evicted := s.examples.Push(ex)
	if evicted && old.Speech {
		s.speech--
	}
	if ex.Speech {
		s.speech++
	}
}

// Sweep removes examples that are no longer valid and returns how many
// were removed.
func (s *TrainingSet) Sweep() int {
	removed := s.examples.Retain(func(ex Example) bool {
		return ex.Features.IsFinite() && s.Policy.IsValid(&ex.Features)
	})
	s.speech = 0
	s.examples.Each(func(_ int, ex Example) {
		if ex.Speech {
			s.speech++
		}
	})
	return removed
}

// Sample returns a uniformly chosen example.
func (s *TrainingSet) Sample(rng *rand.Rand) Example {
	return s.At(rng.IntN(s.examples.Len()))
}
