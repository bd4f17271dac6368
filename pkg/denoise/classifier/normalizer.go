package classifier

import (
	"math"
)

// Normalizer standardises features with running statistics. The update rate
// is 1/count until count reaches Horizon, after which it stays 1/Horizon.
type Normalizer struct {
	Mean  Features
	Std   Features
	Count uint64

	Horizon uint64
	Clamp   float64
	MinStd  float64
}

func NewNormalizer() *Normalizer {
	n := &Normalizer{
		Horizon: 1000,
		Clamp:   5,
		MinStd:  0.001,
	}
	for i := range n.Std {
		n.Std[i] = 1
	}
	return n
}

// Update folds f into the statistics and returns its normalised copy.
func (n *Normalizer) Update(f Features) Features {
	n.Count++
	alpha := 1 / float64(min(n.Count, n.Horizon))

	for i, v := range f {
		mean := (1-alpha)*n.Mean[i] + alpha*v
		d := v - mean
		std := math.Sqrt((1-alpha)*n.Std[i]*n.Std[i] + alpha*d*d)
		n.Mean[i] = mean
		n.Std[i] = std

		if std > n.MinStd {
			v = (v - mean) / std
		}
		f[i] = math.Max(-n.Clamp, math.Min(n.Clamp, v))
	}
	return f
}
