package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodingPCM(t *testing.T) {
	enc := EncodingPCM{
		PCMFormat:  PCMFormatFloat32LE,
		SampleRate: 48000,
	}
	assert.Equal(t, uint(4), enc.BytesPerSample())
	assert.Equal(t, uint64(48*4*10), enc.BytesForDuration(10*time.Millisecond))
	assert.Equal(t, "f32le@48000Hz", enc.String())
}

func TestPCMFormatSize(t *testing.T) {
	for f := PCMFormatU8; f < endOfPCMFormat; f++ {
		t.Run(f.String(), func(t *testing.T) {
			assert.NotZero(t, f.Size())
		})
	}
	assert.Zero(t, PCMFormatUndefined.Size())
}

func TestPCMFormatFloat32Native(t *testing.T) {
	f, err := PCMFormatFloat32Native()
	require.NoError(t, err)
	assert.Contains(t, []PCMFormat{PCMFormatFloat32LE, PCMFormatFloat32BE}, f)
}

func TestParsePCMFormat(t *testing.T) {
	for f := PCMFormatU8; f < endOfPCMFormat; f++ {
		parsed, err := ParsePCMFormat(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, parsed)
	}
	_, err := ParsePCMFormat("s24le")
	assert.Error(t, err)

	var f PCMFormat
	require.NoError(t, f.Set("S16LE"))
	assert.Equal(t, PCMFormatS16LE, f)
}

func TestPCMFormatEncodeDecode(t *testing.T) {
	for f := PCMFormatU8; f < endOfPCMFormat; f++ {
		t.Run(f.String(), func(t *testing.T) {
			buf := make([]byte, f.Size())
			for _, v := range []float64{0, 0.5, -0.5, -1} {
				f.Encode(buf, v)
				assert.InDelta(t, v, f.Decode(buf), 1.0/128, "%v", v)
			}
		})
	}

	buf := make([]byte, 2)
	PCMFormatS16LE.Encode(buf, 1)
	assert.Equal(t, []byte{0xff, 0x7f}, buf, "saturates instead of wrapping")
	PCMFormatS16BE.Encode(buf, -2)
	assert.Equal(t, []byte{0x80, 0x00}, buf)
}
