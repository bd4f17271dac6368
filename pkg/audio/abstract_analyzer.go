package audio

import (
	"context"
	"fmt"
	"io"
)

// AbstractAnalyzer is anything that consumes PCM in a fixed layout.
type AbstractAnalyzer interface {
	io.Closer

	Encoding(context.Context) (Encoding, error)
	Channels(context.Context) (Channel, error)
}

// PCMLayout returns the PCM encoding and the amount of channels of the
// analyzer, failing if the encoding is not a usable PCM one.
func PCMLayout(
	ctx context.Context,
	analyzer AbstractAnalyzer,
) (EncodingPCM, Channel, error) {
	channels, err := analyzer.Channels(ctx)
	if err != nil {
		return EncodingPCM{}, 0, fmt.Errorf("unable to get the amount of channels: %w", err)
	}
	encoding, err := analyzer.Encoding(ctx)
	if err != nil {
		return EncodingPCM{}, 0, fmt.Errorf("unable to get the encoding: %w", err)
	}
	encodingPCM, ok := encoding.(EncodingPCM)
	if !ok {
		return EncodingPCM{}, 0, fmt.Errorf("the encoding is not PCM: %T", encoding)
	}
	if encodingPCM.SampleRate == 0 || encodingPCM.BytesPerSample() == 0 || channels == 0 {
		return EncodingPCM{}, 0, fmt.Errorf("invalid encoding %s with %d channels", encodingPCM, channels)
	}
	return encodingPCM, channels, nil
}

// FrameSize is the amount of bytes in one sample of every channel.
func (e EncodingPCM) FrameSize(channels Channel) uint64 {
	return uint64(e.BytesPerSample()) * uint64(channels)
}
