package classifier

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/voicedenoise/pkg/ring"
	"gonum.org/v1/gonum/floats"
)

type TrainingConfig struct {
	MaxExamples int             `yaml:"max_examples"`
	Admission   AdmissionPolicy `yaml:"admission"`

	// A pass runs once the set holds more than MinExamples and at least
	// max(MinInterval, BaseInterval-setSize) frames passed since the last one.
	MinExamples  int    `yaml:"min_examples"`
	BaseInterval uint64 `yaml:"base_interval"`
	MinInterval  uint64 `yaml:"min_interval"`

	SweepInterval    uint64 `yaml:"sweep_interval"`
	SweepMinExamples int    `yaml:"sweep_min_examples"`

	Batches      int     `yaml:"batches"`
	BatchSize    int     `yaml:"batch_size"`
	LearningRate float64 `yaml:"learning_rate"`
	Momentum     float64 `yaml:"momentum"`
	L2           float64 `yaml:"l2"`

	LossHistory int `yaml:"loss_history"`
}

func DefaultTrainingConfig() TrainingConfig {
	return TrainingConfig{
		MaxExamples:      2000,
		Admission:        DefaultAdmissionPolicy(),
		MinExamples:      100,
		BaseInterval:     4000,
		MinInterval:      1000,
		SweepInterval:    10000,
		SweepMinExamples: 500,
		Batches:          3,
		BatchSize:        32,
		LearningRate:     0.001,
		Momentum:         0.9,
		L2:               0.0001,
		LossHistory:      100,
	}
}

type PassResult struct {
	Accuracy float64
	Loss     float64
	Examples int
}

// Trainer owns the training set and a private master copy of the weights.
// Every successful pass publishes a fresh copy; inference only ever sees
// published copies. Apart from Stats, it must be driven by one goroutine.
type Trainer struct {
	Config TrainingConfig

	rng       *rand.Rand
	set       *TrainingSet
	master    *Network
	velocity  *Network
	grad      *Network
	act       *Activations
	published *atomic.Pointer[Network]

	lastTrainFrame uint64
	lastSweepFrame uint64

	statsLocker sync.Mutex
	accuracy    float64
	losses      *ring.Ring[float64]
	passes      uint64
	discarded   uint64
	swept       uint64
	setSize     int
	setSpeech   int
}

func newTrainer(
	cfg TrainingConfig,
	rng *rand.Rand,
	published *atomic.Pointer[Network],
) *Trainer {
	return &Trainer{
		Config:    cfg,
		rng:       rng,
		set:       NewTrainingSet(cfg.MaxExamples, cfg.Admission),
		master:    published.Load().Clone(),
		velocity:  newZeroNetwork(),
		grad:      newZeroNetwork(),
		act:       NewActivations(),
		published: published,
		losses:    ring.New[float64](cfg.LossHistory),
	}
}

func (t *Trainer) interval() uint64 {
	interval := int64(t.Config.BaseInterval) - int64(t.set.Len())
	if interval < int64(t.Config.MinInterval) {
		return t.Config.MinInterval
	}
	return uint64(interval)
}

// Observe offers the example to the training set and runs a training pass
// or a validity sweep when they are due.
func (t *Trainer) Observe(ctx context.Context, ex Example, frame uint64) {
	t.set.Offer(ex, t.rng)

	if t.set.Len() > t.Config.MinExamples && frame-t.lastTrainFrame >= t.interval() {
		t.lastTrainFrame = frame
		t.Train(ctx)
	}

	if t.set.Len() > t.Config.SweepMinExamples && frame-t.lastSweepFrame >= t.Config.SweepInterval {
		t.lastSweepFrame = frame
		removed := t.set.Sweep()
		logger.Debugf(ctx, "training set sweep: removed %d of %d examples", removed, t.set.Len()+removed)
		t.statsLocker.Lock()
		t.swept += uint64(removed)
		t.statsLocker.Unlock()
	}

	t.statsLocker.Lock()
	t.setSize = t.set.Len()
	t.setSpeech = t.set.SpeechCount()
	t.statsLocker.Unlock()
}

// Train runs one pass of mini-batches over random examples and publishes
// the result unless the weights became non-finite or ctx was cancelled.
func (t *Trainer) Train(ctx context.Context) (PassResult, bool) {
	if t.set.Len() == 0 {
		return PassResult{}, false
	}
	batchSize := min(t.Config.BatchSize, t.set.Len())

	var (
		correct int
		total   int
		loss    float64
	)
	for batch := 0; batch < t.Config.Batches; batch++ {
		if ctx.Err() != nil {
			t.rollback()
			return PassResult{}, false
		}

		t.grad.zero()
		for i := 0; i < batchSize; i++ {
			ex := t.set.Sample(t.rng)
			label := ex.label()
			prediction := t.master.Forward(&ex.Features, t.act)
			loss += crossEntropy(prediction, label)
			if (prediction > 0.5) == ex.Speech {
				correct++
			}
			total++
			t.master.backward(t.act, prediction, label, t.grad)
		}
		t.step(batchSize)
	}

	if !t.master.IsFinite() {
		logger.Warnf(ctx, "training pass produced non-finite weights; discarding it")
		t.rollback()
		t.statsLocker.Lock()
		t.discarded++
		t.statsLocker.Unlock()
		return PassResult{}, false
	}
	t.published.Store(t.master.Clone())

	result := PassResult{
		Accuracy: float64(correct) / float64(total),
		Loss:     loss / float64(total),
		Examples: t.set.Len(),
	}

	t.statsLocker.Lock()
	if t.passes == 0 {
		t.accuracy = result.Accuracy
	} else {
		t.accuracy = 0.9*t.accuracy + 0.1*result.Accuracy
	}
	t.passes++
	t.losses.Push(result.Loss)
	accuracy := t.accuracy
	t.statsLocker.Unlock()

	logger.Debugf(ctx, "classifier trained on %d examples: batch accuracy %.3f, loss %.4f, smoothed accuracy %.3f",
		result.Examples, result.Accuracy, result.Loss, accuracy)
	return result, true
}

// step applies momentum SGD with L2 decay on weights (not biases).
func (t *Trainer) step(batchSize int) {
	cfg := &t.Config
	weights := t.master.params()
	grads := t.grad.params()
	velocities := t.velocity.params()
	for i := range weights {
		w, g, v := weights[i].data, grads[i].data, velocities[i].data
		floats.Scale(1/float64(batchSize), g)
		if weights[i].decay {
			floats.AddScaled(g, cfg.L2, w)
		}
		floats.Scale(cfg.Momentum, v)
		floats.AddScaled(v, -cfg.LearningRate, g)
		floats.Add(w, v)
	}
}

func (t *Trainer) rollback() {
	t.master = t.published.Load().Clone()
	t.velocity.zero()
}

// progress is the non-allocating subset of Stats used on the frame path.
func (t *Trainer) progress() (passes uint64, accuracy float64) {
	t.statsLocker.Lock()
	defer t.statsLocker.Unlock()
	return t.passes, t.accuracy
}

type TrainerStats struct {
	Passes          uint64
	DiscardedPasses uint64
	Accuracy        float64
	LossHistory     []float64
	Examples        int
	SpeechExamples  int
	SweptExamples   uint64
}

func (t *Trainer) Stats() TrainerStats {
	t.statsLocker.Lock()
	defer t.statsLocker.Unlock()
	s := TrainerStats{
		Passes:          t.passes,
		DiscardedPasses: t.discarded,
		Accuracy:        t.accuracy,
		LossHistory:     make([]float64, 0, t.losses.Len()),
		Examples:        t.setSize,
		SpeechExamples:  t.setSpeech,
		SweptExamples:   t.swept,
	}
	t.losses.Each(func(_ int, v float64) {
		s.LossHistory = append(s.LossHistory, v)
	})
	return s
}
