// Package denoise is a real-time adaptive voice noise suppressor.
//
// An Engine processes one fixed-size float frame per call: the frame is split
// into frequency bands, a voice activity detector (optionally combined with
// an online-trained classifier) drives per-band noise and speech power
// estimates, and the derived per-band gains are used to recombine the bands.
package denoise

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise/classifier"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise/filterbank"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise/gain"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise/powermodel"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise/reconstruct"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise/vad"
)

const (
	logInterval = 500

	qualityInitial   = 50
	qualitySmoothing = 0.95

	hybridMaxWeight            = 0.8
	hybridConfidentThreshold   = 0.7
	hybridThresholdRelief      = 0.9
	guidedAdaptationConfidence = 0.8
	guidedAdaptationScale      = 1.5
)

var ErrClosed = errors.New("engine is closed")

// Engine is a single-channel noise suppressor. ProcessFrame must be called
// from one goroutine at a time; SetConfig, Config and Stats may be called
// from any goroutine.
type Engine struct {
	config  atomic.Pointer[Config]
	applied *Config
	closed  atomic.Bool

	bank       *filterbank.Bank
	detector   *vad.Detector
	model      *powermodel.Model
	calc       *gain.Calculator
	classifier *classifier.Classifier
	level      gain.Level

	frames     uint64
	quality    float64
	lastLogged uint64

	statsLocker sync.Mutex
	stats       Stats
	statsCls    *classifier.Classifier
}

// New creates an engine; cfg is sanitized first.
func New(ctx context.Context, cfg Config) *Engine {
	e := &Engine{
		quality: qualityInitial,
	}
	cfg = cfg.Sanitize()
	e.config.Store(&cfg)
	e.apply(ctx, &cfg)
	e.updateStats(&cfg, gain.Estimate{}, false)
	return e
}

// SetConfig schedules cfg (sanitized) to be applied at the start of the
// next frame.
func (e *Engine) SetConfig(cfg Config) {
	cfg = cfg.Sanitize()
	e.config.Store(&cfg)
}

// Config returns the most recently set configuration.
func (e *Engine) Config() Config {
	return *e.config.Load()
}

func (e *Engine) apply(ctx context.Context, cfg *Config) {
	prev := e.applied
	e.applied = cfg
	logger.Debugf(ctx, "applying config: mode=%s sensitivity=%g preset=%s level=%s bands=%d vad=%t",
		cfg.Mode, cfg.Sensitivity, cfg.Preset, cfg.Level(), cfg.BandCount, cfg.VADEnabled)

	e.level = cfg.Level()
	if prev == nil || prev.needsRebuild(cfg) {
		if prev != nil {
			logger.Infof(ctx, "the pipeline layout changed, the adaptive state is reset")
		}
		e.bank = filterbank.New(cfg.SampleRate, cfg.BandCount, cfg.FrameSize)
		e.detector = vad.New(cfg.vadConfig(), detectorBands(e.bank))
		e.model = powermodel.New(cfg.alphas())
		e.calc = gain.New(cfg.gainConfig(), e.level, cfg.BandCount)
		e.closeClassifier(ctx)
	} else {
		e.detector.SetConfig(cfg.vadConfig())
		e.model.SetAlphas(cfg.alphas())
		e.calc.SetLevel(cfg.gainConfig(), e.level)
	}

	// The classifier learns from VAD decisions, so without the VAD it
	// would never be fed.
	wantClassifier := cfg.Mode == ModeML && cfg.VADEnabled
	switch {
	case !wantClassifier:
		e.closeClassifier(ctx)
	case e.classifier != nil && e.classifier.Config != cfg.Classifier:
		logger.Infof(ctx, "the classifier config changed, restarting the classifier")
		e.closeClassifier(ctx)
	}

	e.statsLocker.Lock()
	if wantClassifier && e.classifier == nil && !e.closed.Load() {
		e.classifier = classifier.New(ctx, cfg.Classifier)
	}
	e.statsCls = e.classifier
	e.stats.resize(cfg.BandCount)
	e.statsLocker.Unlock()
}

func detectorBands(bank *filterbank.Bank) []vad.Band {
	bands := make([]vad.Band, bank.BandCount())
	for i := range bank.Bands {
		b := &bank.Bands[i]
		bands[i] = vad.Band{
			LowHz:     b.LowHz,
			HighHz:    b.HighHz,
			NoiseGain: b.NoiseGain(),
		}
	}
	return bands
}

func (e *Engine) closeClassifier(ctx context.Context) {
	if e.classifier == nil {
		return
	}
	if err := e.classifier.Close(); err != nil {
		logger.Errorf(ctx, "unable to close the classifier: %v", err)
	}
	e.classifier = nil
}

// ProcessFrame suppresses noise in `in` and writes the result to `out`
// (which may be the same slice). It returns the estimated probability that
// the frame contains speech.
//
// Numerical problems are never reported as errors: they are repaired in
// place. An error is returned only if the call itself is invalid.
func (e *Engine) ProcessFrame(ctx context.Context, in, out []float32) (float64, error) {
	if len(out) != len(in) {
		return 0, fmt.Errorf("the output frame length (%d) differs from the input frame length (%d)", len(out), len(in))
	}
	if e.closed.Load() {
		return 0, ErrClosed
	}
	if cfg := e.config.Load(); cfg != e.applied {
		e.apply(ctx, cfg)
	}
	cfg := e.applied
	e.frames++

	if cfg.Mode == ModeBasic {
		copy(out, in)
		e.updateStats(cfg, gain.Estimate{Probability: 1, Valid: true}, false)
		return 1, nil
	}

	powers, signals := e.bank.Analyze(in)

	var (
		est     gain.Estimate
		trusted bool
		active  bool
	)
	switch {
	case !cfg.VADEnabled:
		e.model.Update(powers, false)
		est = gain.Estimate{Probability: 0.5}
	case cfg.Mode == ModeML && e.classifier != nil:
		est, trusted, active = e.classify(ctx, in, powers)
	default:
		active = e.detector.Detect(powers)
		e.model.Update(powers, active)
		est = gain.EstimateFromProbability(e.detector.Activity())
	}

	gains := e.calc.Compute(powers, e.model.NoisePower, est)

	// Reconstruct reads `in` only up to the point it writes the same index
	// of `out`, so in-place processing is fine.
	reconstruct.Reconstruct(cfg.Reconstruct, out, in, signals, gains)
	reconstruct.PostProcess(cfg.Reconstruct, out, est.Probability)

	e.updateQuality(est)
	e.updateStats(cfg, est, trusted)

	if e.frames-e.lastLogged >= logInterval {
		e.lastLogged = e.frames
		e.logSummary(ctx, cfg, est, active)
	}
	return est.Probability, nil
}

// classify runs the classifier side by side with the heuristic detector and
// feeds the power model with the combined decision.
func (e *Engine) classify(
	ctx context.Context,
	frame []float32,
	powers []float64,
) (est gain.Estimate, trusted bool, active bool) {
	threshold := e.detector.CurrentThreshold()
	heuristic := e.detector.Score(powers) > threshold

	var (
		prediction classifier.Prediction
		normalized classifier.Features
	)
	features, ok := e.classifier.ExtractFeatures(powers, frame)
	if ok {
		prediction, normalized = e.classifier.Infer(features)
	}
	trusted = prediction.Valid && e.classifier.Ready()

	decision := heuristic
	rateScale := 1.0
	if trusted {
		weight := math.Min(prediction.Confidence, hybridMaxWeight)
		score := weight * prediction.Probability
		if heuristic {
			score += 1 - weight
		}
		if prediction.Confidence > hybridConfidentThreshold {
			threshold *= hybridThresholdRelief
		}
		decision = score > threshold
		if prediction.Confidence > guidedAdaptationConfidence {
			rateScale = guidedAdaptationScale
		}
	}

	active = e.detector.Push(decision)
	e.model.UpdateScaled(powers, active, rateScale)

	if ok {
		e.classifier.ObserveAndMaybeTrain(ctx, normalized, active, e.frames)
	}

	if trusted {
		est = gain.Estimate{
			Probability: prediction.Probability,
			Confidence:  prediction.Confidence,
			Valid:       true,
		}
	} else {
		est = gain.EstimateFromProbability(e.detector.Activity())
	}
	return est, trusted, active
}

func (e *Engine) updateQuality(est gain.Estimate) {
	accuracy := 0.5
	if e.classifier != nil {
		if acc, trained := e.classifier.Accuracy(); trained {
			accuracy = acc
		}
	}
	frameQuality := 50 + 20*est.Confidence + 30*accuracy
	if est.Probability > 0.7 {
		frameQuality += 15
	}
	q := qualitySmoothing*e.quality + (1-qualitySmoothing)*frameQuality
	e.quality = math.Max(0, math.Min(100, q))
}

func (e *Engine) logSummary(ctx context.Context, cfg *Config, est gain.Estimate, active bool) {
	if e.classifier == nil {
		logger.Debugf(ctx, "frame %d: mode=%s vad=%t speech=%.0f%% suppression=%.3f",
			e.frames, cfg.Mode, active, est.Probability*100, e.calc.AverageGain())
		return
	}
	var loss float64
	cs := e.classifier.Stats()
	if len(cs.LossHistory) > 0 {
		loss = cs.LossHistory[len(cs.LossHistory)-1]
	}
	logger.Debugf(ctx, "frame %d: mode=%s vad=%t speech=%.0f%% suppression=%.3f accuracy=%.1f%% loss=%.3f quality=%.0f%%",
		e.frames, cfg.Mode, active, est.Probability*100, e.calc.AverageGain(), cs.Accuracy*100, loss, e.quality)
}

// Profile returns a copy of the current per-band suppression gains.
func (e *Engine) Profile() []float64 {
	e.statsLocker.Lock()
	defer e.statsLocker.Unlock()
	return append([]float64(nil), e.stats.Gains...)
}

// Close stops background training and releases the engine. Subsequent
// ProcessFrame calls return ErrClosed.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.statsLocker.Lock()
	cls := e.statsCls
	e.statsLocker.Unlock()
	if cls == nil {
		return nil
	}
	return cls.Close()
}
