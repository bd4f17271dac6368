// Package adaptive exposes denoise.Engine as a noisesuppression.NoiseSuppression
// over native-endian float32 PCM, running one engine per channel.
package adaptive

import (
	"context"
	"fmt"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/voicedenoise/pkg/audio"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise"
	"github.com/xaionaro-go/voicedenoise/pkg/noisesuppression"
)

const sampleSize = 4

type Adaptive struct {
	Locker       sync.Mutex
	Engines      []*denoise.Engine
	ChannelCount audio.Channel
	PCMFormat    audio.PCMFormat
	SampleRate   audio.SampleRate
	FrameSize    int
	Buffer       []byte
}

var _ noisesuppression.NoiseSuppression = (*Adaptive)(nil)

func New(
	ctx context.Context,
	channels audio.Channel,
	cfg denoise.Config,
) (*Adaptive, error) {
	if channels < 1 {
		return nil, fmt.Errorf("invalid amount of channels: %d", channels)
	}
	pcmFormat, err := audio.PCMFormatFloat32Native()
	if err != nil {
		return nil, err
	}
	cfg = cfg.Sanitize()
	s := &Adaptive{
		ChannelCount: channels,
		PCMFormat:    pcmFormat,
		SampleRate:   audio.SampleRate(cfg.SampleRate),
		FrameSize:    cfg.FrameSize,
	}
	for ch := 0; ch < int(channels); ch++ {
		s.Engines = append(s.Engines, denoise.New(ctx, cfg))
	}
	logger.Debugf(ctx, "initialized %d engine(s): mode=%s, %d samples per frame", channels, cfg.Mode, cfg.FrameSize)
	return s, nil
}

func (s *Adaptive) Close() error {
	s.Locker.Lock()
	defer s.Locker.Unlock()
	var result *multierror.Error
	for ch, engine := range s.Engines {
		if err := engine.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("unable to close the engine of channel %d: %w", ch, err))
		}
	}
	return result.ErrorOrNil()
}

func (s *Adaptive) Encoding(context.Context) (audio.Encoding, error) {
	return audio.EncodingPCM{
		PCMFormat:  s.PCMFormat,
		SampleRate: s.SampleRate,
	}, nil
}

func (s *Adaptive) Channels(context.Context) (audio.Channel, error) {
	return s.ChannelCount, nil
}

func (s *Adaptive) ChunkSize() uint {
	return uint(s.ChannelCount) * uint(s.FrameSize) * sampleSize
}

// SetConfig forwards cfg to every channel's engine. Only the tunable part
// may change: the sample rate and the frame size are fixed at New.
func (s *Adaptive) SetConfig(cfg denoise.Config) {
	cfg.SampleRate = float64(s.SampleRate)
	cfg.FrameSize = s.FrameSize
	for _, engine := range s.Engines {
		engine.SetConfig(cfg)
	}
}

// Stats returns the statistics of every channel's engine.
func (s *Adaptive) Stats() []denoise.Stats {
	result := make([]denoise.Stats, 0, len(s.Engines))
	for _, engine := range s.Engines {
		result = append(result, engine.Stats())
	}
	return result
}

func (s *Adaptive) SuppressNoise(ctx context.Context, input []byte, outputVoice []byte) (_ret float64, _err error) {
	logger.Tracef(ctx, "SuppressNoise, len:%d", len(input))
	defer func() { logger.Tracef(ctx, "/SuppressNoise, len:%d: %v", len(input), _err) }()

	chunkSize := int(s.ChunkSize())
	if len(input) != len(outputVoice) {
		return 0, fmt.Errorf("lengths of input and output slices are not equal: %d != %d", len(input), len(outputVoice))
	}
	if len(input) < chunkSize {
		return 0, fmt.Errorf("the size of the input is too small: %d < %d", len(input), chunkSize)
	}
	if len(input)%chunkSize != 0 {
		return 0, fmt.Errorf("the size of the input is not a multiple of ChunkSize: %d %% %d != 0", len(input), chunkSize)
	}

	s.Locker.Lock()
	defer s.Locker.Unlock()
	if len(s.Buffer) != len(input) {
		s.Buffer = make([]byte, len(input))
	}

	return noisesuppression.ProcessChannels(
		ctx, s.ChannelCount, sampleSize,
		input, outputVoice, s.Buffer,
		func(ctx context.Context, ch int, samples []byte) (float64, error) {
			return processFrames(ctx, s.Engines[ch], audio.Float32s(samples), s.FrameSize)
		},
	)
}

func processFrames(
	ctx context.Context,
	engine *denoise.Engine,
	samples []float32,
	frameSize int,
) (float64, error) {
	var maxProb float64
	for len(samples) >= frameSize {
		frame := samples[:frameSize]
		prob, err := engine.ProcessFrame(ctx, frame, frame)
		if err != nil {
			return 0, err
		}
		if prob > maxProb {
			maxProb = prob
		}
		samples = samples[frameSize:]
	}
	return maxProb, nil
}
