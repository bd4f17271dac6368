package spectrum

import (
	"bytes"
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/require"
)

const sampleRate = 48000

func sine(n int, freq, amplitude float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/sampleRate))
	}
	return out
}

func newTestAnalyzer(t *testing.T) *Analyzer {
	a, err := NewAnalyzer(sampleRate, 8, DefaultFFTSize)
	require.NoError(t, err)
	return a
}

func TestAnalyzerSine(t *testing.T) {
	a := newTestAnalyzer(t)
	a.Write(sine(50*DefaultFFTSize+10, 7500, 0.5))
	require.Equal(t, 50, a.Blocks())

	levels := a.BandLevels()
	// a sine of amplitude A has a mean square of A*A/2
	require.InDelta(t, 10*math.Log10(0.125), levels[2], 0.5, spew.Sdump(levels))
	for band, level := range levels {
		if band == 2 {
			continue
		}
		require.Less(t, level, levels[2]-30, "band %d: %s", band, spew.Sdump(levels))
	}
}

func TestAnalyzerWhiteNoise(t *testing.T) {
	a := newTestAnalyzer(t)
	rng := rand.New(rand.NewPCG(3, 4))
	samples := make([]float32, 200*DefaultFFTSize)
	for i := range samples {
		samples[i] = float32(0.1 * rng.NormFloat64())
	}
	// written in uneven pieces to exercise the pending buffer
	for len(samples) > 0 {
		n := min(len(samples), 777)
		a.Write(samples[:n])
		samples = samples[n:]
	}

	var total float64
	for band, p := range a.BandPowers() {
		total += p
		require.InDelta(t, 10*math.Log10(0.01/8), ToDB(p), 1.5, "band %d", band)
	}
	require.InEpsilon(t, 0.01, total, 0.1)
}

func TestAnalyzerSilence(t *testing.T) {
	a := newTestAnalyzer(t)
	for _, level := range a.BandLevels() {
		require.Equal(t, float64(SilenceDB), level)
	}
	a.Write(make([]float32, 4*DefaultFFTSize))
	for _, level := range a.BandLevels() {
		require.Equal(t, float64(SilenceDB), level)
	}
}

func TestNewAnalyzerErrors(t *testing.T) {
	_, err := NewAnalyzer(0, 8, 1024)
	require.Error(t, err)
	_, err = NewAnalyzer(sampleRate, 0, 1024)
	require.Error(t, err)
	_, err = NewAnalyzer(sampleRate, 8, 8)
	require.Error(t, err)
}

func TestCompare(t *testing.T) {
	before := newTestAnalyzer(t)
	after := newTestAnalyzer(t)
	before.Write(sine(10*DefaultFFTSize, 7500, 0.5))
	after.Write(sine(10*DefaultFFTSize, 7500, 0.05))

	r, err := Compare(before, after)
	require.NoError(t, err)
	require.Len(t, r.Bands, 8)
	require.Equal(t, 6000.0, r.Bands[2].LowHz)
	require.Equal(t, 9000.0, r.Bands[2].HighHz)
	require.InDelta(t, 20, r.Bands[2].ReductionDB(), 0.1)

	var buf bytes.Buffer
	n, err := r.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 9)
	require.Contains(t, lines[3], "20.0")

	other, err := NewAnalyzer(sampleRate, 4, DefaultFFTSize)
	require.NoError(t, err)
	_, err = Compare(before, other)
	require.Error(t, err)
}
