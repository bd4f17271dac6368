// Package noisesuppressionstream turns a noise suppressor into an io.Reader
// of suppressed audio read from another io.Reader.
package noisesuppressionstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/iamcalledrob/circular"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/voicedenoise/pkg/noisesuppression"
)

// DefaultChunkDuration is used for suppressors that accept any input size.
const DefaultChunkDuration = 10 * time.Millisecond

type NoiseSuppressionStream struct {
	noisesuppression.NoiseSuppression
	chunkSize uint

	outputBufferLocker sync.Mutex
	outputBuffer       *circular.Buffer
	progressCh         chan struct{}
	finished           bool
	resultError        error

	readCtx    context.Context
	cancelFunc context.CancelFunc

	chunks          atomic.Uint64
	lastProbability atomic.Uint64
}

var _ io.ReadCloser = (*NoiseSuppressionStream)(nil)

// NewNoiseSuppressionStream starts reading input in the background. The
// input is consumed in chunks of the suppressor's ChunkSize; the final
// incomplete chunk is zero-padded for processing and trimmed back in the
// output. outputBufferSize is raised to at least two chunks.
func NewNoiseSuppressionStream(
	ctx context.Context,
	input io.Reader,
	noiseSuppression noisesuppression.NoiseSuppression,
	outputBufferSize uint,
) (*NoiseSuppressionStream, error) {
	encoding, err := noiseSuppression.Encoding(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to get the encoding of the noise suppression: %w", err)
	}
	channels, err := noiseSuppression.Channels(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to get the amount of channels of the noise suppression: %w", err)
	}

	chunkSize := noiseSuppression.ChunkSize()
	if chunkSize == 0 {
		chunkSize = uint(encoding.BytesForDuration(DefaultChunkDuration)) * uint(channels)
	}
	if chunkSize == 0 {
		return nil, fmt.Errorf("unable to determine the chunk size for encoding %v and %d channels", encoding, channels)
	}
	if outputBufferSize < 2*chunkSize {
		outputBufferSize = 2 * chunkSize
	}

	ctx, cancelFunc := context.WithCancel(ctx)
	s := &NoiseSuppressionStream{
		NoiseSuppression: noiseSuppression,
		chunkSize:        chunkSize,
		outputBuffer:     circular.NewBuffer(int(outputBufferSize)),
		progressCh:       make(chan struct{}),
		readCtx:          ctx,
		cancelFunc:       cancelFunc,
	}
	observability.Go(ctx, func() {
		err := s.noiseSuppressionLoop(ctx, input)
		if err != nil {
			err = fmt.Errorf("got an error from the noise suppressor loop: %w", err)
		}
		s.outputBufferLocker.Lock()
		defer s.outputBufferLocker.Unlock()
		s.finished = true
		s.resultError = err
		s.notifyLocked()
	})
	return s, nil
}

func (s *NoiseSuppressionStream) notifyLocked() {
	oldCh := s.progressCh
	s.progressCh = make(chan struct{})
	close(oldCh)
}

func (s *NoiseSuppressionStream) noiseSuppressionLoop(
	ctx context.Context,
	input io.Reader,
) (_err error) {
	logger.Tracef(ctx, "noiseSuppressionLoop")
	defer func() { logger.Tracef(ctx, "/noiseSuppressionLoop: %v", _err) }()
	logger.Debugf(ctx, "chunkSize: %d", s.chunkSize)

	inputBuf := make([]byte, s.chunkSize)
	outputBuf := make([]byte, s.chunkSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := io.ReadFull(input, inputBuf)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			clear(inputBuf[n:])
		case err != nil:
			return fmt.Errorf("unable to read the input: %w", err)
		}

		prob, err := s.NoiseSuppression.SuppressNoise(ctx, inputBuf, outputBuf)
		if err != nil {
			return fmt.Errorf("unable to noise-suppress: %w", err)
		}
		s.chunks.Add(1)
		s.lastProbability.Store(math.Float64bits(prob))

		if err := s.write(ctx, outputBuf[:n]); err != nil {
			return err
		}
		if n < len(inputBuf) {
			return nil
		}
	}
}

func (s *NoiseSuppressionStream) write(ctx context.Context, data []byte) error {
	for len(data) > 0 {
		s.outputBufferLocker.Lock()
		w, err := s.outputBuffer.Write(data)
		if w > 0 {
			data = data[w:]
			s.notifyLocked()
		}
		waitCh := s.progressCh
		s.outputBufferLocker.Unlock()

		switch {
		case err == nil:
			continue
		case !errors.Is(err, circular.ErrNoSpace):
			return fmt.Errorf("unable to write to the circular buffer: %w", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-waitCh:
		}
	}
	return nil
}

// Read returns suppressed audio, blocking until some is available. After
// the input is exhausted and the buffered output is read it returns io.EOF
// (or the error that stopped the processing).
func (s *NoiseSuppressionStream) Read(pcm []byte) (_ret int, _err error) {
	logger.Tracef(s.readCtx, "Read, len:%d", len(pcm))
	defer func() { logger.Tracef(s.readCtx, "/Read, len:%d: %d, %v", len(pcm), _ret, _err) }()

	if len(pcm) == 0 {
		return 0, nil
	}
	for {
		s.outputBufferLocker.Lock()
		n, err := s.outputBuffer.Read(pcm)
		if n > 0 {
			s.notifyLocked()
			s.outputBufferLocker.Unlock()
			return n, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			s.outputBufferLocker.Unlock()
			return 0, err
		}
		if s.finished {
			err := s.resultError
			s.outputBufferLocker.Unlock()
			if err == nil {
				err = io.EOF
			}
			return 0, err
		}
		waitCh := s.progressCh
		s.outputBufferLocker.Unlock()

		select {
		case <-s.readCtx.Done():
			return 0, fmt.Errorf("the stream is closed: %w", s.readCtx.Err())
		case <-waitCh:
		}
	}
}

// VoiceProbability is the probability reported for the last processed
// chunk.
func (s *NoiseSuppressionStream) VoiceProbability() float64 {
	return math.Float64frombits(s.lastProbability.Load())
}

// Chunks is the amount of chunks processed so far.
func (s *NoiseSuppressionStream) Chunks() uint64 {
	return s.chunks.Load()
}

// Close stops the processing. It does not close the underlying suppressor
// nor the input; a Read blocked on the input finishes on its own.
func (s *NoiseSuppressionStream) Close() error {
	s.cancelFunc()
	return nil
}
