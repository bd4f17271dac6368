// Package classifier is a small online-trained speech/noise perceptron.
//
// Feature extraction and inference run on the caller's goroutine with
// bounded, data-independent cost. Training runs either inline (when
// Config.Background is false) or on a background goroutine fed through a
// non-blocking queue, and publishes new weights by swapping a pointer.
package classifier

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/observability"
)

type Config struct {
	Training TrainingConfig `yaml:"training"`

	// The classifier's output is used for decisions only after TrustPasses
	// training passes and once the smoothed accuracy reaches TrustAccuracy.
	TrustPasses   uint64  `yaml:"trust_passes"`
	TrustAccuracy float64 `yaml:"trust_accuracy"`

	Background     bool `yaml:"background"`
	CandidateQueue int  `yaml:"candidate_queue"`

	Seed uint64 `yaml:"seed"`
}

func DefaultConfig() Config {
	return Config{
		Training:       DefaultTrainingConfig(),
		TrustPasses:    5,
		TrustAccuracy:  0.7,
		Background:     true,
		CandidateQueue: 256,
		Seed:           1,
	}
}

type Prediction struct {
	Probability float64
	Confidence  float64
	Valid       bool
}

type candidate struct {
	example Example
	frame   uint64
}

type Classifier struct {
	Config Config

	extractor  *Extractor
	normalizer *Normalizer
	act        *Activations
	weights    atomic.Pointer[Network]
	trainer    *Trainer

	candidates chan candidate
	cancelFunc context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once

	inferences atomic.Uint64
	invalid    atomic.Uint64
	dropped    atomic.Uint64
}

func New(ctx context.Context, cfg Config) *Classifier {
	c := &Classifier{
		Config:     cfg,
		extractor:  NewExtractor(),
		normalizer: NewNormalizer(),
		act:        NewActivations(),
	}
	c.weights.Store(NewNetwork(rand.New(rand.NewPCG(cfg.Seed, 1))))
	c.trainer = newTrainer(cfg.Training, rand.New(rand.NewPCG(cfg.Seed, 2)), &c.weights)

	if cfg.Background {
		queue := cfg.CandidateQueue
		if queue < 1 {
			queue = 1
		}
		c.candidates = make(chan candidate, queue)
		c.done = make(chan struct{})
		ctx, c.cancelFunc = context.WithCancel(ctx)
		observability.Go(ctx, func() {
			defer close(c.done)
			c.trainerLoop(ctx)
		})
	}
	return c
}

func (c *Classifier) trainerLoop(ctx context.Context) {
	logger.Debugf(ctx, "trainerLoop")
	defer logger.Debugf(ctx, "/trainerLoop")
	for {
		select {
		case <-ctx.Done():
			return
		case cand := <-c.candidates:
			c.trainer.Observe(ctx, cand.example, cand.frame)
		}
	}
}

// ExtractFeatures returns the raw feature vector of the frame; ok is false
// when it contains non-finite values.
func (c *Classifier) ExtractFeatures(bandPowers []float64, frame []float32) (Features, bool) {
	return c.extractor.Extract(bandPowers, frame)
}

// Infer normalises the features (updating the running statistics) and runs
// the published network. It also returns the normalised vector, which is
// what gets stored for training.
func (c *Classifier) Infer(f Features) (Prediction, Features) {
	if !f.IsFinite() {
		c.invalid.Add(1)
		return Prediction{}, f
	}
	normalized := c.normalizer.Update(f)
	p := c.weights.Load().Forward(&normalized, c.act)
	c.inferences.Add(1)
	if math.IsNaN(p) || math.IsInf(p, 0) {
		c.invalid.Add(1)
		return Prediction{}, normalized
	}
	p = math.Max(0, math.Min(1, p))
	return Prediction{
		Probability: p,
		Confidence:  math.Abs(p-0.5) * 2,
		Valid:       true,
	}, normalized
}

// ObserveAndMaybeTrain hands a labelled normalised vector to the trainer. In
// background mode it never blocks: when the queue is full the example is
// dropped.
func (c *Classifier) ObserveAndMaybeTrain(ctx context.Context, normalized Features, speech bool, frame uint64) {
	ex := Example{Features: normalized, Speech: speech}
	if c.candidates == nil {
		c.trainer.Observe(ctx, ex, frame)
		return
	}
	select {
	case c.candidates <- candidate{example: ex, frame: frame}:
	default:
		c.dropped.Add(1)
	}
}

// Ready reports whether the classifier output may be trusted.
func (c *Classifier) Ready() bool {
	passes, accuracy := c.trainer.progress()
	return c.trusted(passes, accuracy)
}

func (c *Classifier) trusted(passes uint64, accuracy float64) bool {
	return passes > 0 && passes >= c.Config.TrustPasses && accuracy >= c.Config.TrustAccuracy
}

// Accuracy returns the smoothed training accuracy; trained is false until
// the first pass completed.
func (c *Classifier) Accuracy() (accuracy float64, trained bool) {
	passes, accuracy := c.trainer.progress()
	return accuracy, passes > 0
}

// Network returns the currently published weights. They must not be
// modified.
func (c *Classifier) Network() *Network {
	return c.weights.Load()
}

type Stats struct {
	TrainerStats
	Inferences        uint64
	InvalidInferences uint64
	DroppedExamples   uint64
	Ready             bool
}

func (c *Classifier) Stats() Stats {
	s := Stats{
		TrainerStats:      c.trainer.Stats(),
		Inferences:        c.inferences.Load(),
		InvalidInferences: c.invalid.Load(),
		DroppedExamples:   c.dropped.Load(),
	}
	s.Ready = c.trusted(s.Passes, s.Accuracy)
	return s
}

// Close stops background training; a pass in progress is abandoned.
// It is safe to call Close concurrently and more than once.
func (c *Classifier) Close() error {
	c.closeOnce.Do(func() {
		if c.cancelFunc == nil {
			return
		}
		c.cancelFunc()
		<-c.done
	})
	return nil
}
