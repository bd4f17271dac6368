//go:build rnnoise
// +build rnnoise

package rnnoise

import (
	"context"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/voicedenoise/pkg/audio"
	"github.com/xaionaro-go/voicedenoise/pkg/noisesuppression"
)

/*
#cgo pkg-config: rnnoise
#cgo CFLAGS: -march=native
#include <rnnoise.h>
*/
import "C"

// RNNoise works in 16-bit sample scale.
const sampleScale = math.MaxInt16

type RNNoise struct {
	Locker        sync.Mutex
	DenoiseStates []*C.DenoiseState
	ChannelCount  audio.Channel
	PCMFormat     audio.PCMFormat
	Buffer        []byte
}

var _ noisesuppression.NoiseSuppression = (*RNNoise)(nil)

var frameSize int

func init() {
	frameSize = int(C.rnnoise_get_frame_size())
}

func New(
	channels audio.Channel,
) (*RNNoise, error) {
	if channels < 1 {
		return nil, fmt.Errorf("invalid amount of channels: %d", channels)
	}
	pcmFormat, err := audio.PCMFormatFloat32Native()
	if err != nil {
		return nil, err
	}
	s := &RNNoise{
		ChannelCount: channels,
		PCMFormat:    pcmFormat,
	}
	for ch := 0; ch < int(channels); ch++ {
		state := C.rnnoise_create(nil)
		if state == nil {
			s.Close()
			return nil, fmt.Errorf("unable to create a denoise state for channel %d", ch)
		}
		s.DenoiseStates = append(s.DenoiseStates, state)
	}
	return s, nil
}

func (s *RNNoise) Close() error {
	s.Locker.Lock()
	defer s.Locker.Unlock()
	if s.DenoiseStates == nil {
		return fmt.Errorf("double-free attempt")
	}
	for _, denoiseState := range s.DenoiseStates {
		C.rnnoise_destroy(denoiseState)
	}
	s.DenoiseStates = nil
	return nil
}

func (s *RNNoise) Encoding(ctx context.Context) (audio.Encoding, error) {
	return audio.EncodingPCM{
		PCMFormat:  s.PCMFormat,
		SampleRate: 48_000,
	}, nil
}

func (s *RNNoise) Channels(ctx context.Context) (audio.Channel, error) {
	return s.ChannelCount, nil
}

var floatSize = unsafe.Sizeof(float32(0))

func chunkSize(channel audio.Channel) uint {
	return uint(channel) * uint(frameSize) * uint(floatSize)
}

func (s *RNNoise) ChunkSize() uint {
	return chunkSize(s.ChannelCount)
}

func (s *RNNoise) SuppressNoise(ctx context.Context, input []byte, outputVoice []byte) (_ret float64, _err error) {
	logger.Tracef(ctx, "SuppressNoise, len:%d", len(input))
	defer func() { logger.Tracef(ctx, "/SuppressNoise, len:%d: %v", len(input), _err) }()

	if len(input) != len(outputVoice) {
		return 0, fmt.Errorf("lengths of input and output slices are not equal: %d != %d", len(input), len(outputVoice))
	}
	if len(input) < int(s.ChunkSize()) {
		return 0, fmt.Errorf("the size of the input is too small: %d < %d", len(input), s.ChunkSize())
	}
	if len(input)%int(s.ChunkSize()) != 0 {
		return 0, fmt.Errorf("the size of the input is not a multiple of ChunkSize: %d %% %d != 0", len(input), int(s.ChunkSize()))
	}

	s.Locker.Lock()
	defer s.Locker.Unlock()
	if s.DenoiseStates == nil {
		return 0, fmt.Errorf("already closed")
	}
	if len(s.Buffer) != len(input) {
		s.Buffer = make([]byte, len(input))
	}

	return noisesuppression.ProcessChannels(
		ctx, s.ChannelCount, uint(floatSize),
		input, outputVoice, s.Buffer,
		func(ctx context.Context, ch int, samples []byte) (float64, error) {
			return suppressChannel(ctx, s.DenoiseStates[ch], audio.Float32s(samples)), nil
		},
	)
}

// suppressChannel processes the samples of one channel in place and returns
// the highest voice probability among the frames.
func suppressChannel(ctx context.Context, denoiseState *C.DenoiseState, samples []float32) float64 {
	logger.Tracef(ctx, "suppressChannel, samples:%d", len(samples))
	for idx := range samples {
		samples[idx] *= sampleScale
	}

	var maxVADProb float64
	for frame := samples; len(frame) >= frameSize; frame = frame[frameSize:] {
		ptr := (*C.float)(unsafe.Pointer(unsafe.SliceData(frame)))
		vadProb := float64(C.rnnoise_process_frame(denoiseState, ptr, ptr))
		if vadProb > maxVADProb {
			maxVADProb = vadProb
		}
	}

	for idx := range samples {
		samples[idx] /= sampleScale
	}
	return maxVADProb
}
