package noisesuppression

import (
	"context"
	"sync/atomic"

	"github.com/facebookincubator/go-belt/tool/logger"
)

// PassthroughOnError wraps a suppressor so that a failed call copies the
// input to the output instead of returning the error. It is meant for
// suppressors backed by foreign code, where a failure must degrade the
// audio quality rather than interrupt the audio.
type PassthroughOnError struct {
	NoiseSuppression
	Failures atomic.Uint64
}

var _ NoiseSuppression = (*PassthroughOnError)(nil)

func NewPassthroughOnError(s NoiseSuppression) *PassthroughOnError {
	return &PassthroughOnError{
		NoiseSuppression: s,
	}
}

func (s *PassthroughOnError) SuppressNoise(ctx context.Context, input []byte, outputVoice []byte) (float64, error) {
	p, err := s.NoiseSuppression.SuppressNoise(ctx, input, outputVoice)
	if err == nil {
		return p, nil
	}
	if len(input) != len(outputVoice) {
		return 0, err
	}
	if s.Failures.Add(1) == 1 {
		logger.Warnf(ctx, "noise suppression failed, passing the audio through: %v", err)
	} else {
		logger.Debugf(ctx, "noise suppression failed, passing the audio through: %v", err)
	}
	copy(outputVoice, input)
	return 1, nil
}
