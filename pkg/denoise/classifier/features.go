package classifier

import (
	"math"

	"github.com/xaionaro-go/voicedenoise/pkg/ring"
)

const (
	FeatureSize = 64

	// MaxSpectralBands is how many per-band log powers fit into a vector.
	MaxSpectralBands = 32

	summaryFeatures = 5
	historyLength   = 10
	logPowerEpsilon = 1e-10
)

// Features is a fixed-size per-frame vector. Layout:
//
//	[0]     spectral centroid, in bands
//	[1]     spectral spread, in bands
//	[2]     spectral slope of log10 power per band
//	[3]     zero-crossing rate
//	[4]     RMS energy
//	[5:5+N] log10 band powers
//
// followed by the change of the log powers versus the previous frame and
// then versus the oldest remembered frame, truncated or zero-padded to
// FeatureSize.
type Features [FeatureSize]float64

func (f *Features) IsFinite() bool {
	for _, v := range f {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Magnitude is the sum of absolute values.
func (f *Features) Magnitude() float64 {
	var sum float64
	for _, v := range f {
		sum += math.Abs(v)
	}
	return sum
}

// Extractor keeps the short history needed for delta features. It is not
// safe for concurrent use.
type Extractor struct {
	history *ring.Ring[Features]
}

func NewExtractor() *Extractor {
	return &Extractor{
		history: ring.New[Features](historyLength),
	}
}

// Extract computes the feature vector; ok is false if any value is not
// finite, in which case the vector is not remembered.
func (e *Extractor) Extract(bandPowers []float64, frame []float32) (f Features, ok bool) {
	n := len(bandPowers)
	bands := min(n, MaxSpectralBands)

	var total, weighted float64
	for i, p := range bandPowers {
		total += p
		weighted += float64(i) * p
	}
	if total > 0 {
		centroid := weighted / total
		var variance float64
		for i, p := range bandPowers {
			d := float64(i) - centroid
			variance += d * d * p
		}
		f[0] = centroid
		f[1] = math.Sqrt(variance / total)
	}

	if n > 1 {
		meanBand := float64(n-1) / 2
		meanLog := math.Log10(total/float64(n) + logPowerEpsilon)
		var num, den float64
		for i, p := range bandPowers {
			d := float64(i) - meanBand
			num += d * (math.Log10(p+logPowerEpsilon) - meanLog)
			den += d * d
		}
		f[2] = num / den
	}

	if len(frame) > 0 {
		var crossings int
		var energy float64
		for i, v := range frame {
			energy += float64(v) * float64(v)
			if i > 0 && (v >= 0) != (frame[i-1] >= 0) {
				crossings++
			}
		}
		f[3] = float64(crossings) / float64(len(frame))
		f[4] = math.Sqrt(energy / float64(len(frame)))
	}

	logs := f[summaryFeatures : summaryFeatures+bands]
	for i := range logs {
		logs[i] = math.Log10(bandPowers[i] + logPowerEpsilon)
	}

	idx := summaryFeatures + bands
	if prev, has := e.history.Last(); has {
		prevLogs := prev[summaryFeatures : summaryFeatures+bands]
		for i := 0; i < bands && idx < FeatureSize; i++ {
			f[idx] = logs[i] - prevLogs[i]
			idx++
		}
		oldest := e.history.At(0)
		oldLogs := oldest[summaryFeatures : summaryFeatures+bands]
		for i := 0; i < bands && idx < FeatureSize; i++ {
			f[idx] = logs[i] - oldLogs[i]
			idx++
		}
	}

	if !f.IsFinite() {
		return f, false
	}
	e.history.Push(f)
	return f, true
}

func (e *Extractor) Reset() {
	e.history.Reset()
}
