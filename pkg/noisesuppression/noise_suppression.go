// Package noisesuppression defines the contract shared by all noise
// suppressors: PCM bytes in, the same amount of PCM bytes out, plus the
// estimated probability of voice in the processed audio.
package noisesuppression

import (
	"context"

	"github.com/xaionaro-go/voicedenoise/pkg/audio"
)

type NoiseSuppression interface {
	audio.AbstractAnalyzer

	// ChunkSize is the amount of bytes the input length must be a multiple
	// of; zero means any whole number of samples is accepted.
	ChunkSize() uint

	SuppressNoise(ctx context.Context, input []byte, outputVoice []byte) (float64, error)
}
