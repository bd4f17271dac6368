package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

func ParsePCMFormat(s string) (PCMFormat, error) {
	for f := PCMFormatU8; f < endOfPCMFormat; f++ {
		if strings.EqualFold(f.String(), s) {
			return f, nil
		}
	}
	return PCMFormatUndefined, fmt.Errorf("unknown PCM format '%s'", s)
}

// Set implements pflag.Value.
func (f *PCMFormat) Set(s string) error {
	v, err := ParsePCMFormat(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// Type implements pflag.Value.
func (*PCMFormat) Type() string {
	return "pcm-format"
}

// Decode returns the sample stored at the beginning of p, scaled to [-1, 1]
// for integer formats.
func (f PCMFormat) Decode(p []byte) float64 {
	switch f {
	case PCMFormatU8:
		return (float64(p[0]) - 128) / 128
	case PCMFormatS16LE:
		return float64(int16(binary.LittleEndian.Uint16(p))) / 32768
	case PCMFormatS16BE:
		return float64(int16(binary.BigEndian.Uint16(p))) / 32768
	case PCMFormatFloat32LE:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(p)))
	case PCMFormatFloat32BE:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(p)))
	case PCMFormatFloat64LE:
		return math.Float64frombits(binary.LittleEndian.Uint64(p))
	case PCMFormatFloat64BE:
		return math.Float64frombits(binary.BigEndian.Uint64(p))
	}
	panic(fmt.Sprintf("unknown format: %v", f))
}

// Encode stores v at the beginning of p. Integer formats saturate instead
// of wrapping around.
func (f PCMFormat) Encode(p []byte, v float64) {
	switch f {
	case PCMFormatU8:
		p[0] = byte(saturate(v*128+128, 0, math.MaxUint8))
	case PCMFormatS16LE:
		binary.LittleEndian.PutUint16(p, uint16(int16(saturate(v*32768, math.MinInt16, math.MaxInt16))))
	case PCMFormatS16BE:
		binary.BigEndian.PutUint16(p, uint16(int16(saturate(v*32768, math.MinInt16, math.MaxInt16))))
	case PCMFormatFloat32LE:
		binary.LittleEndian.PutUint32(p, math.Float32bits(float32(v)))
	case PCMFormatFloat32BE:
		binary.BigEndian.PutUint32(p, math.Float32bits(float32(v)))
	case PCMFormatFloat64LE:
		binary.LittleEndian.PutUint64(p, math.Float64bits(v))
	case PCMFormatFloat64BE:
		binary.BigEndian.PutUint64(p, math.Float64bits(v))
	default:
		panic(fmt.Sprintf("unknown format: %v", f))
	}
}

func saturate(v, lo, hi float64) float64 {
	v = math.Round(v)
	switch {
	case math.IsNaN(v):
		return 0
	case v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
