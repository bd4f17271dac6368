package noisesuppression

import (
	"context"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/voicedenoise/pkg/audio"
	"github.com/xaionaro-go/voicedenoise/pkg/noisesuppression"
	"github.com/xaionaro-go/voicedenoise/pkg/vad"
)

// VAD uses the voice probability reported by a noise suppressor. The audio
// is processed in chunks of ChunkDuration; a chunk is voiced if its
// probability reaches the threshold.
type VAD struct {
	noisesuppression.NoiseSuppression
	ChunkSize     uint64
	ChunkDuration time.Duration
	Buffer        []byte
}

var _ vad.VAD = (*VAD)(nil)

func NewVAD(
	ctx context.Context,
	noiseSuppression noisesuppression.NoiseSuppression,
	preferredGranularity time.Duration,
) (*VAD, error) {
	encodingPCM, channels, err := audio.PCMLayout(ctx, noiseSuppression)
	if err != nil {
		return nil, err
	}
	chunkSize := uint64(noiseSuppression.ChunkSize())
	if chunkSize == 0 {
		chunkSize = encodingPCM.FrameSize(channels)
	}

	preferredChunkSize := encodingPCM.BytesForDuration(preferredGranularity) * uint64(channels)
	subChunks := (preferredChunkSize + chunkSize/2) / chunkSize
	if subChunks < 1 {
		subChunks = 1
	}
	chosenChunkSize := subChunks * chunkSize
	chosenChunkSamples := chosenChunkSize / encodingPCM.FrameSize(channels)
	chosenChunkDuration := time.Duration(chosenChunkSamples) * time.Second / time.Duration(encodingPCM.SampleRate)
	logger.Debugf(ctx, "resulting chunkSize:%d and chunkDuration:%v", chosenChunkSize, chosenChunkDuration)

	return &VAD{
		NoiseSuppression: noiseSuppression,
		ChunkSize:        chosenChunkSize,
		ChunkDuration:    chosenChunkDuration,
		Buffer:           make([]byte, chosenChunkSize),
	}, nil
}

// scan calls fn for every whole chunk of samples with the chunk's offset
// and voice probability, until fn returns false. A trailing incomplete
// chunk is ignored.
func (v *VAD) scan(
	ctx context.Context,
	samples []byte,
	fn func(offset time.Duration, probability float64) bool,
) error {
	for pos := 0; len(samples) >= int(v.ChunkSize); pos++ {
		chunk := samples[:v.ChunkSize]
		samples = samples[v.ChunkSize:]
		probability, err := v.NoiseSuppression.SuppressNoise(ctx, chunk, v.Buffer)
		if err != nil {
			return fmt.Errorf("unable to process chunk #%d: %w", pos, err)
		}
		if !fn(v.ChunkDuration*time.Duration(pos), probability) {
			return nil
		}
	}
	return nil
}

func (v *VAD) FindNextVoice(
	ctx context.Context,
	samples []byte,
	confidenceThreshold float64,
	minDuration time.Duration,
) (float64, time.Duration, error) {
	var (
		maxConfidence float64
		runStart      = time.Duration(-1)
		found         = time.Duration(-1)
	)
	err := v.scan(ctx, samples, func(offset time.Duration, probability float64) bool {
		if probability > maxConfidence {
			maxConfidence = probability
		}
		if probability < confidenceThreshold {
			runStart = -1
			return true
		}
		if runStart < 0 {
			runStart = offset
		}
		if offset+v.ChunkDuration-runStart >= minDuration {
			found = runStart
			return false
		}
		return true
	})
	return maxConfidence, found, err
}

func (v *VAD) Segments(
	ctx context.Context,
	samples []byte,
	confidenceThreshold float64,
	minDuration time.Duration,
) ([]vad.Segment, error) {
	var (
		result  []vad.Segment
		current *vad.Segment
	)
	flush := func() {
		if current != nil && current.Duration() >= minDuration {
			result = append(result, *current)
		}
		current = nil
	}
	err := v.scan(ctx, samples, func(offset time.Duration, probability float64) bool {
		if probability < confidenceThreshold {
			flush()
			return true
		}
		if current == nil {
			current = &vad.Segment{Start: offset}
		}
		current.End = offset + v.ChunkDuration
		if probability > current.MaxProbability {
			current.MaxProbability = probability
		}
		return true
	})
	flush()
	return result, err
}
