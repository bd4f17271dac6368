// Package filterbank splits a frame into equal-width frequency bands using
// one second-order band-pass section per band.
package filterbank

import (
	"math"
)

// Band holds the coefficients (already divided by a0) and the Direct Form I
// memory of one band-pass section.
type Band struct {
	LowHz, HighHz float64

	b0, b2 float64 // b1 is always zero for a band-pass section
	a1, a2 float64

	x1, x2 float64
	y1, y2 float64
}

func newBand(sampleRate, lowHz, highHz float64) Band {
	center := (lowHz + highHz) / 2
	q := center / (highHz - lowHz)
	w0 := 2 * math.Pi * center / sampleRate
	alpha := math.Sin(w0) / (2 * q)
	a0 := 1 + alpha
	return Band{
		LowHz:  lowHz,
		HighHz: highHz,
		b0:     alpha / a0,
		b2:     -alpha / a0,
		a1:     -2 * math.Cos(w0) / a0,
		a2:     (1 - alpha) / a0,
	}
}

func (b *Band) CenterHz() float64 {
	return (b.LowHz + b.HighHz) / 2
}

// NoiseGain is the output power of the band for unit-variance white noise:
// the energy of its impulse response.
func (b *Band) NoiseGain() float64 {
	const maxSamples = 1 << 16
	var x1, x2, y1, y2, energy float64
	for i := 0; i < maxSamples; i++ {
		x := 0.0
		if i == 0 {
			x = 1
		}
		y := b.b0*x + b.b2*x2 - b.a1*y1 - b.a2*y2
		x2, x1 = x1, x
		y2, y1 = y1, y
		energy += y * y
		if i > 2 && y*y < 1e-18*energy && y1*y1+y2*y2 < 1e-18*energy {
			break
		}
	}
	return energy
}

func (b *Band) reset() {
	b.x1, b.x2, b.y1, b.y2 = 0, 0, 0, 0
}

// process filters frame into out and returns the mean squared output.
func (b *Band) process(frame []float32, out []float64) float64 {
	var energy float64
	for i, v := range frame {
		x := float64(v)
		y := b.b0*x + b.b2*b.x2 - b.a1*b.y1 - b.a2*b.y2
		b.x2, b.x1 = b.x1, x
		b.y2, b.y1 = b.y1, y
		out[i] = y
		energy += y * y
	}
	if len(frame) == 0 {
		return 0
	}
	return energy / float64(len(frame))
}

// Bank is not safe for concurrent use.
type Bank struct {
	SampleRate float64
	Bands      []Band

	powers  []float64
	signals [][]float64
}

// New partitions [0, sampleRate/2] into bandCount equal-width bands.
func New(sampleRate float64, bandCount int, frameSize int) *Bank {
	if bandCount < 1 {
		bandCount = 1
	}
	nyquist := sampleRate / 2
	width := nyquist / float64(bandCount)
	b := &Bank{
		SampleRate: sampleRate,
		Bands:      make([]Band, bandCount),
		powers:     make([]float64, bandCount),
		signals:    make([][]float64, bandCount),
	}
	for i := range b.Bands {
		b.Bands[i] = newBand(sampleRate, float64(i)*width, float64(i+1)*width)
		b.signals[i] = make([]float64, frameSize)
	}
	return b
}

func (b *Bank) BandCount() int {
	return len(b.Bands)
}

// Analyze runs every band over the frame. The returned slices are owned by
// the Bank and are overwritten by the next call.
func (b *Bank) Analyze(frame []float32) (bandPowers []float64, bandSignals [][]float64) {
	for i := range b.Bands {
		if cap(b.signals[i]) < len(frame) {
			b.signals[i] = make([]float64, len(frame))
		}
		b.signals[i] = b.signals[i][:len(frame)]

		band := &b.Bands[i]
		power := band.process(frame, b.signals[i])
		if math.IsNaN(power) || math.IsInf(power, 0) {
			// Only reachable with non-finite input samples.
			band.reset()
			clear(b.signals[i])
			power = 0
		}
		b.powers[i] = power
	}
	return b.powers, b.signals
}

func (b *Bank) Reset() {
	for i := range b.Bands {
		b.Bands[i].reset()
	}
}
