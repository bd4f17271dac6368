package reconstruct

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReconstructWeightedAverage(t *testing.T) {
	in := []float32{1, 1}
	signals := [][]float64{
		{1, 2},
		{3, 4},
	}
	out := make([]float32, 2)
	Reconstruct(DefaultConfig(), out, in, signals, []float64{1, 3})
	assert.InDelta(t, (1*1+3*3)/4.0, out[0], 1e-6)
	assert.InDelta(t, (2*1+4*3)/4.0, out[1], 1e-6)
}

func TestReconstructFallback(t *testing.T) {
	in := []float32{0.5, -0.5}
	out := make([]float32, 2)
	Reconstruct(DefaultConfig(), out, in, [][]float64{{1, 1}}, []float64{0.001})
	assert.InDelta(t, 0.005, out[0], 1e-7)
	assert.InDelta(t, -0.005, out[1], 1e-7)
}

func TestPostProcessZeros(t *testing.T) {
	frame := make([]float32, 128)
	PostProcess(DefaultConfig(), frame, 0)
	for _, v := range frame {
		assert.Zero(t, v)
	}
}

func TestPostProcessSpike(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SmoothingStride = 0
	frame := []float32{0.1, 0.1, 0.9, 0.1, 0.1}
	PostProcess(cfg, frame, 1)
	assert.InDelta(t, 0.1, frame[2], 1e-6)
}

func TestPostProcessNeverBoosts(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SmoothingStride = 0
	quiet := []float32{0.2, -0.3, 0.25, -0.2}
	orig := append([]float32{}, quiet...)
	PostProcess(cfg, quiet, 1)
	assert.Equal(t, orig, quiet)
}

func TestPostProcessNormalizesLoudFrames(t *testing.T) {
	frame := make([]float32, 64)
	for i := range frame {
		frame[i] = float32(1.5 * math.Sin(float64(i)*0.3))
	}
	PostProcess(DefaultConfig(), frame, 1)
	var peak float64
	for _, v := range frame {
		peak = math.Max(peak, math.Abs(float64(v)))
	}
	assert.InDelta(t, 0.95, peak, 1e-6)
}

func TestPostProcessGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SmoothingStride = 0
	frame := []float32{0.0004, 0.0004, 0.0004}
	PostProcess(cfg, frame, 0)
	for _, v := range frame {
		assert.InDelta(t, 0.00004, v, 1e-9)
	}

	frame = []float32{0.0004, 0.0004, 0.0004}
	PostProcess(cfg, frame, 1)
	for _, v := range frame {
		assert.InDelta(t, 0.0004, v, 1e-9)
	}
}

func TestPostProcessScrubsNonFinite(t *testing.T) {
	frame := []float32{0.1, float32(math.NaN()), 0.1}
	PostProcess(DefaultConfig(), frame, 0.5)
	for _, v := range frame {
		assert.False(t, math.IsNaN(float64(v)))
	}
}
