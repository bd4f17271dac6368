package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/voicedenoise/pkg/audio"
	"github.com/xaionaro-go/voicedenoise/pkg/audio/resampler"
)

func TestWAVRoundTrip(t *testing.T) {
	format, err := nativeFormat(2, 16000)
	require.NoError(t, err)
	samples := []float32{0, 0.5, -0.5, 0.25, 1, -1, 2, -2}

	path := filepath.Join(t.TempDir(), "out.wav")
	out, err := createOutput(path, format, audio.PCMFormatS16LE)
	require.NoError(t, err)
	_, err = out.Write(audio.Float32Bytes(samples[:3]))
	require.NoError(t, err)
	_, err = out.Write(audio.Float32Bytes(samples[3:]))
	require.NoError(t, err)
	require.NoError(t, out.Close())

	in, err := openInput(context.Background(), path, resampler.Format{})
	require.NoError(t, err)
	defer in.Close()
	require.Equal(t, format, in.Format)

	b, err := io.ReadAll(in)
	require.NoError(t, err)
	// clipped to [-1, 1] and quantized to 16 bits
	require.InDeltaSlice(t, []float32{0, 0.5, -0.5, 0.25, 1, -1, 1, -1}, audio.Float32s(b), 1e-4)
}

func TestRawRoundTrip(t *testing.T) {
	raw := resampler.Format{
		Channels:   1,
		SampleRate: 8000,
		PCMFormat:  audio.PCMFormatS16LE,
	}
	path := filepath.Join(t.TempDir(), "in.raw")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x40, 0x00, 0xc0, 0xff}, 0o644))

	in, err := openInput(context.Background(), path, raw)
	require.NoError(t, err)
	defer in.Close()
	require.Equal(t, audio.SampleRate(8000), in.Format.SampleRate)

	b, err := io.ReadAll(in)
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, -0.5}, audio.Float32s(b))

	outPath := filepath.Join(t.TempDir(), "out.raw")
	out, err := createOutput(outPath, in.Format, audio.PCMFormatS16LE)
	require.NoError(t, err)
	// split in the middle of a sample
	_, err = out.Write(b[:3])
	require.NoError(t, err)
	_, err = out.Write(b[3:])
	require.NoError(t, err)
	require.NoError(t, out.Close())

	written, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x40, 0x00, 0xc0}, written)
}
