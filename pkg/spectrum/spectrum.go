// Package spectrum measures the long-term power spectrum of a signal in the
// same equal-width bands the suppressor uses, to compare audio before and
// after suppression.
package spectrum

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/mjibson/go-dsp/window"
)

const (
	DefaultFFTSize = 1024

	// SilenceDB is reported for bands without any energy.
	SilenceDB = -120
)

// Analyzer accumulates Hamming-windowed FFT blocks of FFTSize samples.
// Samples that do not fill a whole block are kept until the next Write.
type Analyzer struct {
	SampleRate float64
	BandCount  int
	FFTSize    int

	window   []float64
	norm     float64
	pending  []float64
	bandSums []float64
	blocks   int
}

func NewAnalyzer(sampleRate float64, bandCount, fftSize int) (*Analyzer, error) {
	if !(sampleRate > 0) {
		return nil, fmt.Errorf("invalid sample rate: %v", sampleRate)
	}
	if bandCount < 1 {
		return nil, fmt.Errorf("invalid amount of bands: %d", bandCount)
	}
	if fftSize < 2*bandCount {
		return nil, fmt.Errorf("the FFT size %d is too small for %d bands", fftSize, bandCount)
	}
	w := window.Hamming(fftSize)
	var sumSquares float64
	for _, v := range w {
		sumSquares += v * v
	}
	return &Analyzer{
		SampleRate: sampleRate,
		BandCount:  bandCount,
		FFTSize:    fftSize,
		window:     w,
		norm:       2 / (float64(fftSize) * sumSquares),
		pending:    make([]float64, 0, fftSize),
		bandSums:   make([]float64, bandCount),
	}, nil
}

func (a *Analyzer) Write(samples []float32) {
	for _, s := range samples {
		a.pending = append(a.pending, float64(s))
		if len(a.pending) == a.FFTSize {
			a.analyzeBlock()
			a.pending = a.pending[:0]
		}
	}
}

func (a *Analyzer) analyzeBlock() {
	for i := range a.pending {
		a.pending[i] *= a.window[i]
	}
	spectrum := fft.FFTReal(a.pending)
	binWidth := a.SampleRate / float64(a.FFTSize)
	bandWidth := a.SampleRate / 2 / float64(a.BandCount)
	for k := 0; k <= a.FFTSize/2; k++ {
		band := int(float64(k) * binWidth / bandWidth)
		if band >= a.BandCount {
			band = a.BandCount - 1
		}
		magnitude := cmplx.Abs(spectrum[k])
		a.bandSums[band] += magnitude * magnitude * a.norm
	}
	a.blocks++
}

// Blocks returns the amount of FFT blocks analyzed so far.
func (a *Analyzer) Blocks() int {
	return a.blocks
}

// BandPowers returns the mean power of every band; their sum is the mean
// square of the analyzed signal.
func (a *Analyzer) BandPowers() []float64 {
	result := make([]float64, a.BandCount)
	if a.blocks == 0 {
		return result
	}
	for i, sum := range a.bandSums {
		result[i] = sum / float64(a.blocks)
	}
	return result
}

// BandLevels returns BandPowers in dB, SilenceDB at most.
func (a *Analyzer) BandLevels() []float64 {
	powers := a.BandPowers()
	for i, p := range powers {
		powers[i] = ToDB(p)
	}
	return powers
}

// BandRange returns the frequency range of the band in Hz.
func (a *Analyzer) BandRange(band int) (float64, float64) {
	bandWidth := a.SampleRate / 2 / float64(a.BandCount)
	return float64(band) * bandWidth, float64(band+1) * bandWidth
}

func ToDB(power float64) float64 {
	if !(power > 0) {
		return SilenceDB
	}
	return math.Max(SilenceDB, 10*math.Log10(power))
}
