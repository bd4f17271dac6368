// Package resampler converts a PCM stream between sample formats, channel
// layouts and sample rates.
package resampler

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/xaionaro-go/voicedenoise/pkg/audio"
)

type Format struct {
	Channels   audio.Channel
	SampleRate audio.SampleRate
	PCMFormat  audio.PCMFormat
}

// FrameSize is the size in bytes of one sample of every channel.
func (f Format) FrameSize() uint {
	return uint(f.Channels) * f.PCMFormat.Size()
}

func (f Format) Encoding() audio.EncodingPCM {
	return audio.EncodingPCM{
		PCMFormat:  f.PCMFormat,
		SampleRate: f.SampleRate,
	}
}

func (f Format) validate() error {
	switch {
	case f.Channels == 0:
		return fmt.Errorf("no channels")
	case f.SampleRate == 0:
		return fmt.Errorf("sample rate is mandatory")
	case f.PCMFormat.Size() == 0:
		return fmt.Errorf("unsupported PCM format %s", f.PCMFormat)
	}
	return nil
}

// Resampler is an io.Reader of the input stream converted to the output
// format. Sample rates are converted by linear interpolation. Channels can
// be converted from mono to many (copied) and from many to mono (averaged).
//
// A trailing incomplete input frame is ignored.
type Resampler struct {
	inReader  *bufio.Reader
	inFormat  Format
	outFormat Format

	locker  sync.Mutex
	step    float64
	frac    float64
	inFrame []byte
	prev    []float64
	next    []float64
	started bool
	drained bool
	err     error
}

var _ io.Reader = (*Resampler)(nil)

func NewResampler(
	inFormat Format,
	inReader io.Reader,
	outFormat Format,
) (*Resampler, error) {
	if err := inFormat.validate(); err != nil {
		return nil, fmt.Errorf("invalid input format %#+v: %w", inFormat, err)
	}
	if err := outFormat.validate(); err != nil {
		return nil, fmt.Errorf("invalid output format %#+v: %w", outFormat, err)
	}
	if inFormat.Channels != outFormat.Channels && inFormat.Channels != 1 && outFormat.Channels != 1 {
		return nil, fmt.Errorf("do not know how to convert %d channels to %d", inFormat.Channels, outFormat.Channels)
	}
	return &Resampler{
		inReader:  bufio.NewReader(inReader),
		inFormat:  inFormat,
		outFormat: outFormat,
		step:      float64(inFormat.SampleRate) / float64(outFormat.SampleRate),
		inFrame:   make([]byte, inFormat.FrameSize()),
		prev:      make([]float64, outFormat.Channels),
		next:      make([]float64, outFormat.Channels),
	}, nil
}

// readFrame decodes the next input frame into dst, mapped to the output
// channel layout.
func (r *Resampler) readFrame(dst []float64) error {
	if _, err := io.ReadFull(r.inReader, r.inFrame); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return err
	}
	sampleSize := int(r.inFormat.PCMFormat.Size())
	inChannels := int(r.inFormat.Channels)
	switch {
	case inChannels == len(dst):
		for ch := range dst {
			dst[ch] = r.inFormat.PCMFormat.Decode(r.inFrame[ch*sampleSize:])
		}
	case inChannels == 1:
		v := r.inFormat.PCMFormat.Decode(r.inFrame)
		for ch := range dst {
			dst[ch] = v
		}
	default:
		var sum float64
		for ch := 0; ch < inChannels; ch++ {
			sum += r.inFormat.PCMFormat.Decode(r.inFrame[ch*sampleSize:])
		}
		dst[0] = sum / float64(inChannels)
	}
	return nil
}

// advance moves the interpolation window one input frame forward.
func (r *Resampler) advance() error {
	r.prev, r.next = r.next, r.prev
	if r.drained {
		return io.EOF
	}
	err := r.readFrame(r.next)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		// hold the last frame so that it is still emitted once
		r.drained = true
		copy(r.next, r.prev)
		return nil
	default:
		return err
	}
}

func (r *Resampler) Read(p []byte) (int, error) {
	r.locker.Lock()
	defer r.locker.Unlock()

	if r.err != nil {
		return 0, r.err
	}

	outFrameSize := int(r.outFormat.FrameSize())
	sampleSize := int(r.outFormat.PCMFormat.Size())
	maxFrames := len(p) / outFrameSize
	if maxFrames == 0 {
		return 0, nil
	}

	if !r.started {
		r.started = true
		if err := r.readFrame(r.next); err != nil {
			r.err = err
			return 0, err
		}
		if err := r.advance(); err != nil {
			r.err = err
			return 0, err
		}
	}

	frames := 0
	for frames < maxFrames {
		for r.frac >= 1 {
			if err := r.advance(); err != nil {
				r.err = err
				break
			}
			r.frac--
		}
		if r.err != nil {
			break
		}

		out := p[frames*outFrameSize:]
		for ch := range r.prev {
			v := r.prev[ch] + (r.next[ch]-r.prev[ch])*r.frac
			r.outFormat.PCMFormat.Encode(out[ch*sampleSize:], v)
		}
		frames++
		r.frac += r.step
	}

	if frames > 0 {
		return frames * outFrameSize, nil
	}
	return 0, r.err
}
