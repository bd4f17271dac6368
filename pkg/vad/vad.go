// Package vad finds voiced segments in PCM audio.
package vad

import (
	"context"
	"time"

	"github.com/xaionaro-go/voicedenoise/pkg/audio"
)

type VAD interface {
	audio.AbstractAnalyzer

	// FindNextVoice returns the highest voice probability seen and the
	// offset of the first run of voiced audio lasting at least minDuration
	// (or -1 if there is none).
	FindNextVoice(
		_ context.Context,
		samples []byte,
		confidenceThreshold float64,
		minDuration time.Duration,
	) (float64, time.Duration, error)

	// Segments returns every run of voiced audio lasting at least
	// minDuration.
	Segments(
		_ context.Context,
		samples []byte,
		confidenceThreshold float64,
		minDuration time.Duration,
	) ([]Segment, error)
}

type Segment struct {
	Start          time.Duration
	End            time.Duration
	MaxProbability float64
}

func (s Segment) Duration() time.Duration {
	return s.End - s.Start
}
