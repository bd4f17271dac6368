// Package metrics exports the noise suppression engine state through
// OpenTelemetry instruments.
//
// Engine state is sampled lazily: sources are registered with Observe and
// read only when a reader collects. The per-frame processing time is the
// only synchronous instrument.
package metrics

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xaionaro-go/voicedenoise/pkg/denoise"
)

const meterName = "github.com/xaionaro-go/voicedenoise"

// durationBuckets are in seconds; a 128-sample frame at 48kHz lasts 2.67ms.
var durationBuckets = []float64{
	0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025,
}

// StatsFunc returns the current statistics of every channel of a source.
type StatsFunc func() []denoise.Stats

type Metrics struct {
	// ProcessingDuration is the wall time spent on one chunk of audio.
	// Use with attribute.String("source", ...).
	ProcessingDuration metric.Float64Histogram

	// PassthroughFailures counts chunks passed through unprocessed because
	// the suppressor failed. Use with attribute.String("source", ...).
	PassthroughFailures metric.Int64Counter

	frames            metric.Int64ObservableCounter
	speechFrames      metric.Int64ObservableCounter
	vadActive         metric.Int64ObservableGauge
	speechProbability metric.Float64ObservableGauge
	confidence        metric.Float64ObservableGauge
	averageGain       metric.Float64ObservableGauge
	quality           metric.Float64ObservableGauge
	trainingPasses    metric.Int64ObservableCounter
	trainingExamples  metric.Int64ObservableGauge
	droppedExamples   metric.Int64ObservableCounter
	accuracy          metric.Float64ObservableGauge

	registration metric.Registration

	sourcesLocker sync.Mutex
	sources       map[string]StatsFunc
}

func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{
		sources: map[string]StatsFunc{},
	}
	var err error

	if met.ProcessingDuration, err = m.Float64Histogram("voicedenoise.processing.duration",
		metric.WithDescription("Time spent on processing one chunk of audio."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...),
	); err != nil {
		return nil, fmt.Errorf("unable to create the processing duration histogram: %w", err)
	}
	if met.PassthroughFailures, err = m.Int64Counter("voicedenoise.passthrough.failures",
		metric.WithDescription("Chunks passed through unprocessed because the suppressor failed."),
	); err != nil {
		return nil, fmt.Errorf("unable to create the passthrough counter: %w", err)
	}

	if met.frames, err = m.Int64ObservableCounter("voicedenoise.frames",
		metric.WithDescription("Frames processed."),
	); err != nil {
		return nil, err
	}
	if met.speechFrames, err = m.Int64ObservableCounter("voicedenoise.speech_frames",
		metric.WithDescription("Frames processed while the VAD was active."),
	); err != nil {
		return nil, err
	}
	if met.vadActive, err = m.Int64ObservableGauge("voicedenoise.vad.active",
		metric.WithDescription("1 while the VAD reports speech."),
	); err != nil {
		return nil, err
	}
	if met.speechProbability, err = m.Float64ObservableGauge("voicedenoise.speech_probability",
		metric.WithDescription("Speech probability of the latest frame."),
	); err != nil {
		return nil, err
	}
	if met.confidence, err = m.Float64ObservableGauge("voicedenoise.confidence",
		metric.WithDescription("Confidence of the latest speech probability."),
	); err != nil {
		return nil, err
	}
	if met.averageGain, err = m.Float64ObservableGauge("voicedenoise.gain.average",
		metric.WithDescription("Mean per-band suppression gain of the latest frame."),
	); err != nil {
		return nil, err
	}
	if met.quality, err = m.Float64ObservableGauge("voicedenoise.quality",
		metric.WithDescription("Smoothed 0..100 quality score."),
	); err != nil {
		return nil, err
	}
	if met.trainingPasses, err = m.Int64ObservableCounter("voicedenoise.classifier.training_passes",
		metric.WithDescription("Completed classifier training passes."),
	); err != nil {
		return nil, err
	}
	if met.trainingExamples, err = m.Int64ObservableGauge("voicedenoise.classifier.training_examples",
		metric.WithDescription("Examples in the classifier training set."),
	); err != nil {
		return nil, err
	}
	if met.droppedExamples, err = m.Int64ObservableCounter("voicedenoise.classifier.dropped_examples",
		metric.WithDescription("Examples dropped because the trainer was busy."),
	); err != nil {
		return nil, err
	}
	if met.accuracy, err = m.Float64ObservableGauge("voicedenoise.classifier.accuracy",
		metric.WithDescription("Smoothed classifier accuracy."),
	); err != nil {
		return nil, err
	}

	met.registration, err = m.RegisterCallback(met.observe,
		met.frames,
		met.speechFrames,
		met.vadActive,
		met.speechProbability,
		met.confidence,
		met.averageGain,
		met.quality,
		met.trainingPasses,
		met.trainingExamples,
		met.droppedExamples,
		met.accuracy,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to register the callback: %w", err)
	}
	return met, nil
}

// Observe registers (or replaces) a source of engine statistics. A nil fn
// removes the source.
func (met *Metrics) Observe(source string, fn StatsFunc) {
	met.sourcesLocker.Lock()
	defer met.sourcesLocker.Unlock()
	if fn == nil {
		delete(met.sources, source)
		return
	}
	met.sources[source] = fn
}

// Close unregisters the observation callback.
func (met *Metrics) Close() error {
	return met.registration.Unregister()
}

func (met *Metrics) observe(_ context.Context, o metric.Observer) error {
	met.sourcesLocker.Lock()
	sources := make(map[string]StatsFunc, len(met.sources))
	for name, fn := range met.sources {
		sources[name] = fn
	}
	met.sourcesLocker.Unlock()

	for name, fn := range sources {
		for ch, s := range fn() {
			attrs := metric.WithAttributes(
				attribute.String("source", name),
				attribute.String("channel", strconv.Itoa(ch)),
				attribute.String("mode", s.Mode.String()),
			)
			o.ObserveInt64(met.frames, int64(s.Frames), attrs)
			o.ObserveInt64(met.speechFrames, int64(s.SpeechFrames), attrs)
			o.ObserveInt64(met.vadActive, boolToInt64(s.VADActive), attrs)
			o.ObserveFloat64(met.speechProbability, s.SpeechProbability, attrs)
			o.ObserveFloat64(met.confidence, s.Confidence, attrs)
			o.ObserveFloat64(met.averageGain, s.AverageGain, attrs)
			o.ObserveFloat64(met.quality, s.Quality, attrs)

			if c := s.Classifier; c != nil {
				o.ObserveInt64(met.trainingPasses, int64(c.Passes), attrs)
				o.ObserveInt64(met.trainingExamples, int64(c.Examples), attrs)
				o.ObserveInt64(met.droppedExamples, int64(c.DroppedExamples), attrs)
				o.ObserveFloat64(met.accuracy, c.Accuracy, attrs)
			}
		}
	}
	return nil
}

func boolToInt64(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
