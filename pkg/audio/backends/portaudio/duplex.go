package portaudio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/gordonklaus/portaudio"
	"github.com/xaionaro-go/voicedenoise/pkg/audio"
)

// ProcessFunc transforms one buffer of interleaved float32 samples. It is
// called on the audio thread, so it must not block.
type ProcessFunc func(in, out []float32)

// Duplex captures the default input device, passes every buffer through a
// ProcessFunc and plays the result on the default output device.
type Duplex struct {
	PortAudioStream *portaudio.Stream
	SampleRate      audio.SampleRate
	Channels        audio.Channel
	FramesPerBuffer int

	process   ProcessFunc
	buffers   atomic.Uint64
	xruns     atomic.Uint64
	closeOnce sync.Once
	closeErr  error
}

func NewDuplex(
	ctx context.Context,
	sampleRate audio.SampleRate,
	channels audio.Channel,
	framesPerBuffer int,
	process ProcessFunc,
) (*Duplex, error) {
	if framesPerBuffer <= 0 {
		return nil, fmt.Errorf("invalid buffer size: %d", framesPerBuffer)
	}
	d := &Duplex{
		SampleRate:      sampleRate,
		Channels:        channels,
		FramesPerBuffer: framesPerBuffer,
		process:         process,
	}
	logger.Debugf(ctx, "opening a duplex stream: %dHz, %d channel(s), %d frames per buffer", sampleRate, channels, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(
		int(channels), int(channels),
		float64(sampleRate), framesPerBuffer,
		d.callback,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to open the stream: %w", err)
	}
	d.PortAudioStream = stream
	return d, nil
}

func (d *Duplex) callback(
	in, out []float32,
	_ portaudio.StreamCallbackTimeInfo,
	flags portaudio.StreamCallbackFlags,
) {
	d.buffers.Add(1)
	if flags&(portaudio.InputOverflow|portaudio.InputUnderflow|portaudio.OutputOverflow|portaudio.OutputUnderflow) != 0 {
		d.xruns.Add(1)
	}
	d.process(in, out)
}

func (d *Duplex) Start() error {
	if err := d.PortAudioStream.Start(); err != nil {
		return fmt.Errorf("unable to start the stream: %w", err)
	}
	return nil
}

// Buffers returns the amount of buffers processed so far.
func (d *Duplex) Buffers() uint64 {
	return d.buffers.Load()
}

// XRuns returns the amount of buffers during which the device reported an
// overflow or an underflow.
func (d *Duplex) XRuns() uint64 {
	return d.xruns.Load()
}

func (d *Duplex) Close() error {
	d.closeOnce.Do(func() {
		if err := d.PortAudioStream.Abort(); err != nil {
			d.closeErr = fmt.Errorf("unable to abort the stream: %w", err)
		}
		if err := d.PortAudioStream.Close(); err != nil && d.closeErr == nil {
			d.closeErr = fmt.Errorf("unable to close the stream: %w", err)
		}
	})
	return d.closeErr
}
