// Package auto constructs a noise suppressor by name.
package auto

import (
	"context"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/voicedenoise/pkg/audio"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise"
	"github.com/xaionaro-go/voicedenoise/pkg/noisesuppression"
	"github.com/xaionaro-go/voicedenoise/pkg/noisesuppression/implementations/adaptive"
	"github.com/xaionaro-go/voicedenoise/pkg/noisesuppression/implementations/rnnoise"
)

const (
	EngineAdaptive = "adaptive"
	EngineRNNoise  = "rnnoise"
	EngineNone     = "none"

	rnnoiseSampleRate = 48000
)

// Engines lists the accepted engine names.
var Engines = []string{EngineAdaptive, EngineRNNoise, EngineNone}

// New builds the named engine. If RNNoise is unavailable the adaptive
// engine in heuristic mode is used instead; RNNoise failures during
// processing pass the audio through.
func New(
	ctx context.Context,
	name string,
	channels audio.Channel,
	sampleRate audio.SampleRate,
	cfg denoise.Config,
) (noisesuppression.NoiseSuppression, error) {
	cfg.SampleRate = float64(sampleRate)
	switch name {
	case EngineAdaptive:
		return newAdaptive(ctx, channels, cfg)
	case EngineRNNoise:
		s, err := newRNNoise(channels, sampleRate)
		if err == nil {
			return noisesuppression.NewPassthroughOnError(s), nil
		}
		logger.Warnf(ctx, "RNNoise is not available (%v), falling back to the heuristic engine", err)
		cfg.Mode = denoise.ModeHeuristic
		return newAdaptive(ctx, channels, cfg)
	case EngineNone:
		pcmFormat, err := audio.PCMFormatFloat32Native()
		if err != nil {
			return nil, err
		}
		return noisesuppression.NewDummy(audio.EncodingPCM{
			PCMFormat:  pcmFormat,
			SampleRate: sampleRate,
		}, channels), nil
	}
	return nil, fmt.Errorf("unknown engine '%s'", name)
}

func newAdaptive(
	ctx context.Context,
	channels audio.Channel,
	cfg denoise.Config,
) (noisesuppression.NoiseSuppression, error) {
	s, err := adaptive.New(ctx, channels, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newRNNoise(channels audio.Channel, sampleRate audio.SampleRate) (noisesuppression.NoiseSuppression, error) {
	if sampleRate != rnnoiseSampleRate {
		return nil, fmt.Errorf("RNNoise requires %dHz, the input is %dHz", rnnoiseSampleRate, sampleRate)
	}
	s, err := rnnoise.New(channels)
	if err != nil {
		return nil, err
	}
	return s, nil
}
