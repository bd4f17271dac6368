package audio

import (
	"encoding/binary"
	"fmt"
	"time"
)

type Channel uint32

type SampleRate uint32

type PCMFormat uint

const (
	PCMFormatUndefined = PCMFormat(iota)
	PCMFormatU8
	PCMFormatS16LE
	PCMFormatS16BE
	PCMFormatFloat32LE
	PCMFormatFloat32BE
	PCMFormatFloat64LE
	PCMFormatFloat64BE
	endOfPCMFormat
)

func (f PCMFormat) String() string {
	switch f {
	case PCMFormatUndefined:
		return "<undefined>"
	case PCMFormatU8:
		return "u8"
	case PCMFormatS16LE:
		return "s16le"
	case PCMFormatS16BE:
		return "s16be"
	case PCMFormatFloat32LE:
		return "f32le"
	case PCMFormatFloat32BE:
		return "f32be"
	case PCMFormatFloat64LE:
		return "f64le"
	case PCMFormatFloat64BE:
		return "f64be"
	}
	return fmt.Sprintf("<unknown_%d>", uint(f))
}

// Size returns the size of one sample in bytes.
func (f PCMFormat) Size() uint {
	switch f {
	case PCMFormatU8:
		return 1
	case PCMFormatS16LE, PCMFormatS16BE:
		return 2
	case PCMFormatFloat32LE, PCMFormatFloat32BE:
		return 4
	case PCMFormatFloat64LE, PCMFormatFloat64BE:
		return 8
	}
	return 0
}

// PCMFormatFloat32Native returns the float32 format matching the byte order
// of this machine, which is what unsafe []byte<->[]float32 views produce.
func PCMFormatFloat32Native() (PCMFormat, error) {
	switch binary.NativeEndian.Uint16([]byte{1, 2}) {
	case 0x0102:
		return PCMFormatFloat32BE, nil
	case 0x0201:
		return PCMFormatFloat32LE, nil
	}
	return PCMFormatUndefined, fmt.Errorf("unable to detect endianness of this computer")
}

type Encoding interface {
	BytesPerSample() uint
	BytesForDuration(time.Duration) uint64
}

type EncodingPCM struct {
	PCMFormat  PCMFormat
	SampleRate SampleRate
}

var _ Encoding = EncodingPCM{}

func (e EncodingPCM) BytesPerSample() uint {
	return e.PCMFormat.Size()
}

func (e EncodingPCM) BytesForDuration(d time.Duration) uint64 {
	samples := uint64(d) * uint64(e.SampleRate) / uint64(time.Second)
	return samples * uint64(e.BytesPerSample())
}

func (e EncodingPCM) String() string {
	return fmt.Sprintf("%s@%dHz", e.PCMFormat, e.SampleRate)
}
