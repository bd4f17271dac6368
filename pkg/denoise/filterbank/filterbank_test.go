package filterbank

import (
	"math"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(freq, sampleRate float64, amplitude float64, phase *float64, n int) []float32 {
	out := make([]float32, n)
	step := 2 * math.Pi * freq / sampleRate
	for i := range out {
		out[i] = float32(amplitude * math.Sin(*phase))
		*phase += step
	}
	return out
}

func TestBandEdges(t *testing.T) {
	b := New(48000, 8, 128)
	require.Equal(t, 8, b.BandCount())
	for i, band := range b.Bands {
		assert.InDelta(t, float64(i)*3000, band.LowHz, 1e-9)
		assert.InDelta(t, float64(i+1)*3000, band.HighHz, 1e-9)
	}
	assert.InDelta(t, 7500, b.Bands[2].CenterHz(), 1e-9)
}

func TestToneLandsInItsBand(t *testing.T) {
	b := New(48000, 8, 128)
	var phase float64
	var powers []float64
	for frame := 0; frame < 20; frame++ {
		powers, _ = b.Analyze(sine(7500, 48000, 0.5, &phase, 128))
	}

	// a unit-peak section passes the centre frequency at 0 dB: 0.5^2/2
	assert.InDelta(t, 0.125, powers[2], 0.01, spew.Sdump(powers))
	for i, p := range powers {
		if i == 2 {
			continue
		}
		assert.Less(t, p, powers[2]/1.5, "band %d: %s", i, spew.Sdump(powers))
	}
}

func TestStability(t *testing.T) {
	for _, bandCount := range []int{4, 8, 16, 32} {
		b := New(48000, bandCount, 128)
		frame := make([]float32, 128)
		for i := range frame {
			if i%2 == 0 {
				frame[i] = 1
			} else {
				frame[i] = -1
			}
		}
		for n := 0; n < 500; n++ {
			powers, signals := b.Analyze(frame)
			for i, p := range powers {
				require.False(t, math.IsNaN(p) || math.IsInf(p, 0), "bands:%d band:%d", bandCount, i)
				require.GreaterOrEqual(t, p, 0.0)
				require.LessOrEqual(t, p, 10.0)
				require.Len(t, signals[i], 128)
			}
		}
	}
}

func TestNonFiniteInputResetsBand(t *testing.T) {
	b := New(48000, 4, 4)
	powers, signals := b.Analyze([]float32{float32(math.Inf(1)), 0, 0, 0})
	for i := range powers {
		assert.Zero(t, powers[i])
		assert.Equal(t, []float64{0, 0, 0, 0}, signals[i])
	}
	powers, _ = b.Analyze([]float32{0.1, 0.2, 0.3, 0.4})
	for _, p := range powers {
		assert.False(t, math.IsNaN(p))
	}
}

func TestZeroInput(t *testing.T) {
	b := New(48000, 8, 128)
	powers, signals := b.Analyze(make([]float32, 128))
	for i := range powers {
		assert.Zero(t, powers[i])
		for _, v := range signals[i] {
			assert.Zero(t, v)
		}
	}
}
