package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/voicedenoise/pkg/audio"
	"github.com/xaionaro-go/voicedenoise/pkg/audio/resampler"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise"
	"github.com/xaionaro-go/voicedenoise/pkg/noisesuppression"
	"github.com/xaionaro-go/voicedenoise/pkg/noisesuppression/implementations/adaptive"
	"github.com/xaionaro-go/voicedenoise/pkg/spectrum"
	nsvad "github.com/xaionaro-go/voicedenoise/pkg/vad/implementations/noisesuppression"
)

const (
	segmentGranularity = 20 * time.Millisecond
	segmentThreshold   = 0.5
	segmentMinDuration = 100 * time.Millisecond
)

type report struct {
	Before *spectrumWriter
	After  *spectrumWriter
	format resampler.Format
}

func newReport(format resampler.Format) (*report, error) {
	before, err := newSpectrumWriter(format, true)
	if err != nil {
		return nil, err
	}
	after, err := newSpectrumWriter(format, false)
	if err != nil {
		return nil, err
	}
	return &report{
		Before: before,
		After:  after,
		format: format,
	}, nil
}

// spectrumWriter feeds the channel average of interleaved native float32
// PCM into a spectrum analyzer.
type spectrumWriter struct {
	*spectrum.Analyzer
	channels int
	keep     bool
	raw      bytes.Buffer
	pending  []byte
	mono     []float32
}

func newSpectrumWriter(format resampler.Format, keep bool) (*spectrumWriter, error) {
	analyzer, err := spectrum.NewAnalyzer(float64(format.SampleRate), denoise.DefaultBandCount, spectrum.DefaultFFTSize)
	if err != nil {
		return nil, err
	}
	return &spectrumWriter{
		Analyzer: analyzer,
		channels: int(format.Channels),
		keep:     keep,
	}, nil
}

func (w *spectrumWriter) Write(p []byte) (int, error) {
	if w.keep {
		w.raw.Write(p)
	}
	w.pending = append(w.pending, p...)
	frameSize := 4 * w.channels
	frames := len(w.pending) / frameSize
	samples := audio.Float32s(w.pending[:frames*frameSize])
	w.mono = w.mono[:0]
	for i := 0; i < frames; i++ {
		var sum float32
		for _, v := range samples[i*w.channels : (i+1)*w.channels] {
			sum += v
		}
		w.mono = append(w.mono, sum/float32(w.channels))
	}
	w.Analyzer.Write(w.mono)
	w.pending = append(w.pending[:0], w.pending[frames*frameSize:]...)
	return len(p), nil
}

// WriteTo prints the spectrum comparison, the voice segments of the input
// and the engine statistics.
func (r *report) WriteTo(
	ctx context.Context,
	w io.Writer,
	suppressor noisesuppression.NoiseSuppression,
	cfg denoise.Config,
) error {
	var mErr *multierror.Error

	cmp, err := spectrum.Compare(r.Before.Analyzer, r.After.Analyzer)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "spectrum (%d FFT blocks):\n", r.Before.Blocks())
	if _, err := cmp.WriteTo(w); err != nil {
		mErr = multierror.Append(mErr, err)
	}

	if err := r.writeSegments(ctx, w, cfg); err != nil {
		mErr = multierror.Append(mErr, fmt.Errorf("unable to find voice segments: %w", err))
	}

	if s, ok := suppressor.(*adaptive.Adaptive); ok {
		for ch, stats := range s.Stats() {
			fmt.Fprintf(w, "channel %d: mode %s, level %s, %d frames (%d speech), quality %.1f\n",
				ch, stats.Mode, stats.Level, stats.Frames, stats.SpeechFrames, stats.Quality)
			if c := stats.Classifier; c != nil {
				fmt.Fprintf(w, "  classifier: %d passes, accuracy %.3f, %d examples (%d speech), trusted: %v\n",
					c.Passes, c.Accuracy, c.Examples, c.SpeechExamples, stats.ClassifierTrusted)
			}
		}
	}
	return mErr.ErrorOrNil()
}

// writeSegments runs a separate heuristic engine over the input, so that
// the segments do not depend on the state of the suppressor.
func (r *report) writeSegments(ctx context.Context, w io.Writer, cfg denoise.Config) error {
	cfg.Mode = denoise.ModeHeuristic
	ns, err := adaptive.New(ctx, r.format.Channels, cfg)
	if err != nil {
		return err
	}
	defer ns.Close()

	v, err := nsvad.NewVAD(ctx, ns, segmentGranularity)
	if err != nil {
		return err
	}
	segments, err := v.Segments(ctx, r.Before.raw.Bytes(), segmentThreshold, segmentMinDuration)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "voice segments (%d):\n", len(segments))
	for _, s := range segments {
		fmt.Fprintf(w, "  %v - %v (%v, max probability %.2f)\n", s.Start, s.End, s.Duration(), s.MaxProbability)
	}
	return nil
}
