package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/facebookincubator/go-belt/tool/logger"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/jfreymuth/oggvorbis"
	"github.com/xaionaro-go/voicedenoise/pkg/audio"
	"github.com/xaionaro-go/voicedenoise/pkg/audio/resampler"
)

const stdio = "-"

// pcmInput is interleaved native-endian float32 PCM.
type pcmInput struct {
	io.Reader
	Format resampler.Format
	closer io.Closer
}

func (in *pcmInput) Close() error {
	if in.closer == nil {
		return nil
	}
	return in.closer.Close()
}

func nativeFormat(channels audio.Channel, sampleRate audio.SampleRate) (resampler.Format, error) {
	pcmFormat, err := audio.PCMFormatFloat32Native()
	if err != nil {
		return resampler.Format{}, err
	}
	return resampler.Format{
		Channels:   channels,
		SampleRate: sampleRate,
		PCMFormat:  pcmFormat,
	}, nil
}

// openInput opens a WAV or Ogg Vorbis file (chosen by the extension) or
// raw PCM in the given format.
func openInput(ctx context.Context, path string, raw resampler.Format) (*pcmInput, error) {
	if path == stdio {
		return openRaw(ctx, os.Stdin, nil, raw)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open '%s': %w", path, err)
	}

	var (
		samples    []float32
		channels   int
		sampleRate int
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		defer f.Close()
		samples, channels, sampleRate, err = decodeWAV(f)
	case ".ogg", ".oga":
		defer f.Close()
		var format *oggvorbis.Format
		samples, format, err = oggvorbis.ReadAll(f)
		if format != nil {
			channels, sampleRate = format.Channels, format.SampleRate
		}
	default:
		return openRaw(ctx, f, f, raw)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to decode '%s': %w", path, err)
	}
	if channels < 1 || sampleRate < 1 {
		return nil, fmt.Errorf("invalid stream in '%s': %d channels @ %dHz", path, channels, sampleRate)
	}

	format, err := nativeFormat(audio.Channel(channels), audio.SampleRate(sampleRate))
	if err != nil {
		return nil, err
	}
	logger.Debugf(ctx, "decoded %d samples from '%s'", len(samples), path)
	return &pcmInput{
		Reader: bytes.NewReader(audio.Float32Bytes(samples)),
		Format: format,
	}, nil
}

func openRaw(ctx context.Context, r io.Reader, closer io.Closer, raw resampler.Format) (*pcmInput, error) {
	format, err := nativeFormat(raw.Channels, raw.SampleRate)
	if err != nil {
		return nil, err
	}
	conv, err := resampler.NewResampler(raw, r, format)
	if err != nil {
		return nil, err
	}
	logger.Debugf(ctx, "reading raw %s", raw.Encoding())
	return &pcmInput{
		Reader: conv,
		Format: format,
		closer: closer,
	}, nil
}

func decodeWAV(r io.ReadSeeker) ([]float32, int, int, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, 0, 0, fmt.Errorf("invalid WAV file")
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("unable to read the PCM data: %w", err)
	}
	if buf.SourceBitDepth < 8 || buf.SourceBitDepth > 32 {
		return nil, 0, 0, fmt.Errorf("unsupported bit depth: %d", buf.SourceBitDepth)
	}

	scale := float32(int64(1) << (buf.SourceBitDepth - 1))
	var offset float32
	if buf.SourceBitDepth == 8 {
		// 8-bit WAV is unsigned
		offset = scale
	}
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = (float32(v) - offset) / scale
	}
	return samples, buf.Format.NumChannels, buf.Format.SampleRate, nil
}

// createOutput returns a writer of interleaved native float32 PCM in
// format. A .wav path is written as 16-bit WAV; anything else as raw PCM
// in rawFormat.
func createOutput(path string, format resampler.Format, rawFormat audio.PCMFormat) (io.WriteCloser, error) {
	if path == stdio {
		return &rawOutput{Writer: os.Stdout, from: format.PCMFormat, to: rawFormat}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create '%s': %w", path, err)
	}
	if strings.ToLower(filepath.Ext(path)) == ".wav" {
		return &wavOutput{file: f, format: format}, nil
	}
	return &rawOutput{Writer: f, closer: f, from: format.PCMFormat, to: rawFormat}, nil
}

type rawOutput struct {
	io.Writer
	closer  io.Closer
	from    audio.PCMFormat
	to      audio.PCMFormat
	pending []byte
	buf     []byte
}

func (out *rawOutput) Write(p []byte) (int, error) {
	out.pending = append(out.pending, p...)
	inSize, outSize := int(out.from.Size()), int(out.to.Size())
	samples := len(out.pending) / inSize
	if cap(out.buf) < samples*outSize {
		out.buf = make([]byte, samples*outSize)
	}
	buf := out.buf[:samples*outSize]
	for i := 0; i < samples; i++ {
		out.to.Encode(buf[i*outSize:], out.from.Decode(out.pending[i*inSize:]))
	}
	out.pending = append(out.pending[:0], out.pending[samples*inSize:]...)
	if _, err := out.Writer.Write(buf); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (out *rawOutput) Close() error {
	if out.closer == nil {
		return nil
	}
	return out.closer.Close()
}

// wavOutput collects the whole stream, as the WAV header needs the length.
type wavOutput struct {
	file   *os.File
	format resampler.Format
	data   []byte
}

func (out *wavOutput) Write(p []byte) (int, error) {
	out.data = append(out.data, p...)
	return len(p), nil
}

func (out *wavOutput) Close() (_err error) {
	defer func() {
		if err := out.file.Close(); err != nil && _err == nil {
			_err = err
		}
	}()

	samples := audio.Float32s(out.data)
	ints := make([]int, len(samples))
	for i, v := range samples {
		ints[i] = int(math.Round(math.Max(-1, math.Min(1, float64(v))) * math.MaxInt16))
	}

	encoder := wav.NewEncoder(out.file, int(out.format.SampleRate), 16, int(out.format.Channels), 1)
	if err := encoder.Write(&goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: int(out.format.Channels),
			SampleRate:  int(out.format.SampleRate),
		},
		Data:           ints,
		SourceBitDepth: 16,
	}); err != nil {
		return fmt.Errorf("unable to write the WAV data: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("unable to finalize the WAV file: %w", err)
	}
	return nil
}
