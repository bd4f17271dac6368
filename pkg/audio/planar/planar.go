// Package planar converts between interleaved (LRLRLR) and planar (LLLRRR)
// sample layouts.
package planar

import (
	"fmt"

	"github.com/xaionaro-go/voicedenoise/pkg/audio"
)

func Planarize(channels audio.Channel, sampleSize uint, output, input []byte) error {
	return reorder(channels, sampleSize, output, input, true)
}

func Unplanarize(channels audio.Channel, sampleSize uint, output, input []byte) error {
	return reorder(channels, sampleSize, output, input, false)
}

func reorder(
	channels audio.Channel,
	sampleSize uint,
	output, input []byte,
	toPlanar bool,
) error {
	frameSize := int(channels) * int(sampleSize)
	if frameSize == 0 {
		return fmt.Errorf("invalid frame layout: %d channels of %d bytes", channels, sampleSize)
	}
	if len(input) < frameSize {
		return fmt.Errorf("the provided input buffer is too short: %d < %d", len(input), frameSize)
	}
	if len(input)%frameSize != 0 {
		return fmt.Errorf("expected a message length that is a multiple of %d, but received %d", frameSize, len(input))
	}
	if len(input) != len(output) {
		return fmt.Errorf("the lengths of input and output are not equal: %d != %d", len(input), len(output))
	}

	sz := int(sampleSize)
	samplesPerChan := len(input) / frameSize
	for ch := 0; ch < int(channels); ch++ {
		for pos := 0; pos < samplesPerChan; pos++ {
			interleavedIdx := (pos*int(channels) + ch) * sz
			planarIdx := (ch*samplesPerChan + pos) * sz
			if toPlanar {
				copy(output[planarIdx:planarIdx+sz], input[interleavedIdx:interleavedIdx+sz])
			} else {
				copy(output[interleavedIdx:interleavedIdx+sz], input[planarIdx:planarIdx+sz])
			}
		}
	}
	return nil
}
