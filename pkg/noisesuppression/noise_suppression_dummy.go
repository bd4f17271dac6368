package noisesuppression

import (
	"context"
	"fmt"

	"github.com/xaionaro-go/voicedenoise/pkg/audio"
)

// Dummy passes audio through unmodified and reports VoiceProbability for
// every chunk. It is the "none" engine and the baseline in comparisons.
type Dummy struct {
	EncodingValue    audio.Encoding
	ChannelsValue    audio.Channel
	VoiceProbability float64
}

var _ NoiseSuppression = (*Dummy)(nil)

func NewDummy(
	encoding audio.Encoding,
	channels audio.Channel,
) *Dummy {
	return &Dummy{
		EncodingValue:    encoding,
		ChannelsValue:    channels,
		VoiceProbability: 1,
	}
}

func (s *Dummy) Close() error {
	return nil
}

func (s *Dummy) Encoding(context.Context) (audio.Encoding, error) {
	return s.EncodingValue, nil
}

func (s *Dummy) Channels(context.Context) (audio.Channel, error) {
	return s.ChannelsValue, nil
}

func (*Dummy) ChunkSize() uint {
	return 0
}

func (s *Dummy) SuppressNoise(_ context.Context, input []byte, outputVoice []byte) (float64, error) {
	if len(input) != len(outputVoice) {
		return 0, fmt.Errorf("lengths of input and output slices are not equal: %d != %d", len(input), len(outputVoice))
	}
	if pcm, ok := s.EncodingValue.(audio.EncodingPCM); ok {
		if frameSize := pcm.FrameSize(s.ChannelsValue); frameSize > 0 && uint64(len(input))%frameSize != 0 {
			return 0, fmt.Errorf("the input length %d is not a multiple of the frame size %d", len(input), frameSize)
		}
	}
	copy(outputVoice, input)
	return s.VoiceProbability, nil
}
