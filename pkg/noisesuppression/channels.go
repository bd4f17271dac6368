package noisesuppression

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/voicedenoise/pkg/audio"
	"github.com/xaionaro-go/voicedenoise/pkg/audio/planar"
)

// ProcessChannels de-interleaves input into buffer, calls fn concurrently
// for every channel's samples (fn modifies them in place) and interleaves
// the result into output. It returns the highest probability reported by
// fn.
//
// With a single channel buffer is not used and fn is called on output.
func ProcessChannels(
	ctx context.Context,
	channels audio.Channel,
	sampleSize uint,
	input []byte,
	output []byte,
	buffer []byte,
	fn func(ctx context.Context, channel int, samples []byte) (float64, error),
) (float64, error) {
	if len(input) != len(output) {
		return 0, fmt.Errorf("lengths of input and output slices are not equal: %d != %d", len(input), len(output))
	}
	if channels <= 1 {
		copy(output, input)
		return fn(ctx, 0, output)
	}
	if len(buffer) != len(input) {
		return 0, fmt.Errorf("the buffer length (%d) does not match the input length (%d)", len(buffer), len(input))
	}

	if err := planar.Planarize(channels, sampleSize, buffer, input); err != nil {
		return 0, fmt.Errorf("unable to planarize: %w", err)
	}

	oneChanSize := len(buffer) / int(channels)
	var (
		wg        sync.WaitGroup
		locker    sync.Mutex
		maxProb   float64
		resultErr *multierror.Error
	)
	for ch := 0; ch < int(channels); ch++ {
		samples := buffer[ch*oneChanSize : (ch+1)*oneChanSize]
		wg.Add(1)
		observability.Go(ctx, func() {
			defer wg.Done()
			prob, err := fn(ctx, ch, samples)
			locker.Lock()
			defer locker.Unlock()
			if err != nil {
				resultErr = multierror.Append(resultErr, fmt.Errorf("channel %d: %w", ch, err))
				return
			}
			if prob > maxProb {
				maxProb = prob
			}
		})
	}
	wg.Wait()
	if err := resultErr.ErrorOrNil(); err != nil {
		return 0, err
	}

	if err := planar.Unplanarize(channels, sampleSize, output, buffer); err != nil {
		return 0, fmt.Errorf("unable to unplanarize: %w", err)
	}
	return maxProb, nil
}
