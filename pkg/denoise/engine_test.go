package denoise

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise/filterbank"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise/gain"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise/powermodel"
)

const (
	testFrameSize = DefaultFrameSize
	framesPerSec  = DefaultSampleRate / DefaultFrameSize
	toneHz        = 7500
	toneBand      = 2 // 6000..9000 Hz with 8 bands
)

var (
	toneHzs    = []float64{200, 440, 1000, 3000, 7500}
	bandCounts = []int{DefaultBandCount, 32}
)

type generator struct {
	rng    *rand.Rand
	phase  float64
	toneHz float64
}

func newGenerator() *generator {
	return newToneGenerator(toneHz)
}

func newToneGenerator(hz float64) *generator {
	return &generator{rng: rand.New(rand.NewPCG(1, 2)), toneHz: hz}
}

func (g *generator) frame(toneAmp, noiseSigma float64) []float32 {
	out := make([]float32, testFrameSize)
	step := 2 * math.Pi * g.toneHz / DefaultSampleRate
	for i := range out {
		v := toneAmp * math.Sin(g.phase)
		g.phase += step
		if noiseSigma > 0 {
			v += noiseSigma * g.rng.NormFloat64()
		}
		out[i] = float32(v)
	}
	return out
}

func testConfig(mode Mode) Config {
	cfg := DefaultConfig()
	cfg.Mode = mode
	cfg.Classifier.Background = false
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	e := New(context.Background(), cfg)
	t.Cleanup(func() {
		require.NoError(t, e.Close())
	})
	return e
}

func process(t *testing.T, e *Engine, in []float32) ([]float32, float64) {
	out := make([]float32, len(in))
	p, err := e.ProcessFrame(context.Background(), in, out)
	require.NoError(t, err)
	return out, p
}

func modes() []Mode {
	return []Mode{ModeHeuristic, ModeML}
}

// loudestBand returns the band of cfg's filter bank that carries most of
// a pure tone at hz. Tones on a band boundary split between two bands.
func loudestBand(cfg Config, hz float64) int {
	bank := filterbank.New(cfg.SampleRate, cfg.BandCount, cfg.FrameSize)
	gen := newToneGenerator(hz)
	var powers []float64
	for i := 0; i < 20; i++ {
		powers, _ = bank.Analyze(gen.frame(0.5, 0))
	}
	best := 0
	for i, p := range powers {
		if p > powers[best] {
			best = i
		}
	}
	return best
}

type toneCase struct {
	mode  Mode
	bands int
	hz    float64
}

func (c toneCase) String() string {
	return fmt.Sprintf("%s/%d_bands/%vHz", c.mode, c.bands, c.hz)
}

func (c toneCase) config() Config {
	cfg := testConfig(c.mode)
	cfg.BandCount = c.bands
	return cfg
}

func toneCases() []toneCase {
	var cases []toneCase
	for _, mode := range modes() {
		for _, bands := range bandCounts {
			for _, hz := range toneHzs {
				cases = append(cases, toneCase{mode: mode, bands: bands, hz: hz})
			}
		}
	}
	return cases
}

func TestZeroInput(t *testing.T) {
	for _, mode := range modes() {
		t.Run(mode.String(), func(t *testing.T) {
			e := newTestEngine(t, testConfig(mode))
			level := e.Config().Level()
			zero := make([]float32, testFrameSize)
			for i := 0; i < 200; i++ {
				out, p := process(t, e, zero)
				for _, v := range out {
					require.Zero(t, v)
				}
				require.GreaterOrEqual(t, p, 0.0)
				require.LessOrEqual(t, p, 1.0)
			}

			stats := e.Stats()
			assert.False(t, stats.VADActive)
			for band, g := range stats.Gains {
				assert.InDelta(t, level.MinGain, g, 1e-6, "band %d: %s", band, spew.Sdump(stats.Gains))
			}
			for band := range stats.NoisePower {
				assert.GreaterOrEqual(t, stats.NoisePower[band], powermodel.DefaultFloor)
				assert.GreaterOrEqual(t, stats.SpeechPower[band], powermodel.DefaultFloor)
			}
		})
	}
}

func TestToneActivatesVAD(t *testing.T) {
	for _, tc := range toneCases() {
		t.Run(tc.String(), func(t *testing.T) {
			cfg := tc.config()
			e := newTestEngine(t, cfg)
			gen := newToneGenerator(tc.hz)
			band := loudestBand(cfg, tc.hz)

			firstActive := -1
			for i := 0; i < 2*framesPerSec; i++ {
				process(t, e, gen.frame(0.5, 0))
				active := e.Stats().VADActive
				if firstActive < 0 {
					if active {
						firstActive = i
					}
					continue
				}
				require.True(t, active, "flapped at frame %d", i)
			}
			require.GreaterOrEqual(t, firstActive, 0, spew.Sdump(e.Stats()))
			require.Less(t, firstActive, 10)

			stats := e.Stats()
			assert.Greater(t, stats.Gains[band], 0.5, spew.Sdump(stats))
			assert.Greater(t, stats.SpeechProbability, 0.5)
		})
	}
}

func TestInvariants(t *testing.T) {
	for _, mode := range modes() {
		t.Run(mode.String(), func(t *testing.T) {
			cfg := testConfig(mode)
			e := newTestEngine(t, cfg)
			level := cfg.Sanitize().Level()
			gen := newGenerator()
			for i := 0; i < 1500; i++ {
				var in []float32
				switch i % 7 {
				case 0:
					in = gen.frame(1.5, 0.2) // clipping range
				case 3:
					in = gen.frame(0, 0.05)
					in[5] = float32(math.NaN())
					in[9] = float32(math.Inf(1))
				default:
					in = gen.frame(0.3*float64(i%3), 0.05)
				}
				out, p := process(t, e, in)
				require.False(t, math.IsNaN(p))
				require.GreaterOrEqual(t, p, 0.0)
				require.LessOrEqual(t, p, 1.0)
				for idx, v := range out {
					require.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0), "frame %d sample %d", i, idx)
					require.LessOrEqual(t, math.Abs(float64(v)), cfg.Reconstruct.Ceiling)
				}

				stats := e.Stats()
				for band, g := range stats.Gains {
					require.GreaterOrEqual(t, g, level.MinGain, "frame %d band %d", i, band)
					require.LessOrEqual(t, g, level.MaxGain, "frame %d band %d", i, band)
					require.GreaterOrEqual(t, stats.NoisePower[band], powermodel.DefaultFloor)
					require.GreaterOrEqual(t, stats.SpeechPower[band], powermodel.DefaultFloor)
				}
			}
		})
	}
}

func TestIdempotence(t *testing.T) {
	for _, mode := range modes() {
		t.Run(mode.String(), func(t *testing.T) {
			a := newTestEngine(t, testConfig(mode))
			b := newTestEngine(t, testConfig(mode))
			gen := newGenerator()
			for i := 0; i < 3*framesPerSec; i++ {
				tone := 0.0
				if (i/framesPerSec)%2 == 1 {
					tone = 0.4
				}
				in := gen.frame(tone, 0.05)
				outA, pA := process(t, a, in)
				outB, pB := process(t, b, in)
				require.Equal(t, outA, outB, "frame %d", i)
				require.Equal(t, pA, pB, "frame %d", i)
			}
			require.Equal(t, a.Profile(), b.Profile())
		})
	}
}

func TestRepeatedIdenticalFrames(t *testing.T) {
	e := newTestEngine(t, testConfig(ModeML))
	in := newGenerator().frame(0.3, 0.05)
	for i := 0; i < 1000; i++ {
		out, _ := process(t, e, in)
		for _, v := range out {
			require.False(t, math.IsNaN(float64(v)))
		}
	}
}

func TestInPlace(t *testing.T) {
	a := newTestEngine(t, testConfig(ModeHeuristic))
	b := newTestEngine(t, testConfig(ModeHeuristic))
	gen := newGenerator()
	for i := 0; i < 100; i++ {
		in := gen.frame(0.3, 0.05)
		expected, _ := process(t, a, in)
		_, err := b.ProcessFrame(context.Background(), in, in)
		require.NoError(t, err)
		require.Equal(t, expected, in)
	}
}

func TestAlternatingNoiseAndTone(t *testing.T) {
	for _, tc := range toneCases() {
		t.Run(tc.String(), func(t *testing.T) {
			cfg := tc.config()
			e := newTestEngine(t, cfg)
			gen := newToneGenerator(tc.hz)
			band := loudestBand(cfg, tc.hz)

			for segment := 0; segment < 10; segment++ {
				isTone := segment%2 == 1
				tone := 0.0
				if isTone {
					tone = 0.5
				}

				var (
					gainSum   float64
					gainCount int
					active    int
					measured  int
				)
				for i := 0; i < framesPerSec; i++ {
					process(t, e, gen.frame(tone, 0.05))
					stats := e.Stats()
					switch {
					case isTone && i >= framesPerSec/2:
						gainSum += stats.Gains[band]
					case !isTone && i >= framesPerSec-100:
						gainSum += stats.AverageGain
					default:
						continue
					}
					gainCount++
					measured++
					if stats.VADActive {
						active++
					}
				}

				meanGain := gainSum / float64(gainCount)
				activity := float64(active) / float64(measured)
				if isTone {
					assert.Greater(t, meanGain, 0.5, "segment %d", segment)
					assert.Greater(t, activity, 0.9, "segment %d", segment)
				} else {
					assert.Less(t, meanGain, 0.05, "segment %d", segment)
					assert.Less(t, activity, 0.1, "segment %d", segment)
				}
			}
		})
	}
}

func TestSensitivityMonotonic(t *testing.T) {
	steadyGain := func(sensitivity float64) float64 {
		cfg := testConfig(ModeHeuristic)
		cfg.Sensitivity = sensitivity
		e := newTestEngine(t, cfg)
		gen := newGenerator()
		var sum float64
		const frames = 3 * framesPerSec
		const tail = 200
		for i := 0; i < frames; i++ {
			process(t, e, gen.frame(0, 0.05))
			if i >= frames-tail {
				sum += e.Stats().AverageGain
			}
		}
		return sum / tail
	}

	prev := math.Inf(1)
	for _, s := range []float64{20, 50, 90} {
		g := steadyGain(s)
		require.LessOrEqual(t, g, prev, "sensitivity %v", s)
		prev = g
	}
}

func TestSetConfig(t *testing.T) {
	cfg := testConfig(ModeHeuristic)
	e := newTestEngine(t, cfg)
	gen := newGenerator()
	for i := 0; i < 50; i++ {
		process(t, e, gen.frame(0, 0.05))
	}
	require.Equal(t, gain.LevelBalanced.Name, e.Stats().Level)
	noiseBefore := e.Stats().NoisePower

	cfg.Sensitivity = 90
	e.SetConfig(cfg)
	require.Equal(t, gain.LevelBalanced.Name, e.Stats().Level, "applied only at the next frame")
	process(t, e, gen.frame(0, 0.05))
	stats := e.Stats()
	require.Equal(t, gain.LevelAggressive.Name, stats.Level)
	for band, g := range stats.Gains {
		require.GreaterOrEqual(t, g, gain.LevelAggressive.MinGain, "band %d", band)
		require.LessOrEqual(t, g, gain.LevelAggressive.MaxGain, "band %d", band)
	}
	require.Len(t, stats.NoisePower, len(noiseBefore))

	cfg.BandCount = 100
	cfg.Mode = ModeML
	e.SetConfig(cfg)
	require.Equal(t, MaxBandCount, e.Config().BandCount)
	process(t, e, gen.frame(0, 0.05))
	stats = e.Stats()
	require.Len(t, stats.Gains, MaxBandCount)
	require.Equal(t, ModeML, stats.Mode)
	require.NotNil(t, stats.Classifier)

	cfg.Mode = ModeBasic
	e.SetConfig(cfg)
	in := gen.frame(0.2, 0.05)
	out, p := process(t, e, in)
	require.Equal(t, in, out)
	require.Equal(t, 1.0, p)
	require.Nil(t, e.Stats().Classifier)
}

func TestMLWithoutVADHasNoClassifier(t *testing.T) {
	cfg := testConfig(ModeML)
	cfg.VADEnabled = false
	e := newTestEngine(t, cfg)
	gen := newGenerator()
	for i := 0; i < 10; i++ {
		_, p := process(t, e, gen.frame(0.5, 0))
		require.Equal(t, 0.5, p)
	}
	require.Nil(t, e.Stats().Classifier)

	cfg.VADEnabled = true
	e.SetConfig(cfg)
	process(t, e, gen.frame(0.5, 0))
	require.NotNil(t, e.Stats().Classifier)
}

func TestCloseWhileReconfiguring(t *testing.T) {
	for round := 0; round < 20; round++ {
		cfg := DefaultConfig()
		cfg.Mode = ModeML
		e := New(context.Background(), cfg)
		gen := newGenerator()

		started := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; ; i++ {
				next := cfg
				if i%2 == 1 {
					next.Mode = ModeHeuristic
				}
				e.SetConfig(next)
				out := make([]float32, testFrameSize)
				_, err := e.ProcessFrame(context.Background(), gen.frame(0.3, 0.05), out)
				if i == 10 {
					close(started)
				}
				if err != nil {
					assert.ErrorIs(t, err, ErrClosed)
					return
				}
			}
		}()

		<-started
		require.NoError(t, e.Close())
		<-done
		require.NoError(t, e.Close())
	}
}

func TestBasicPassthrough(t *testing.T) {
	e := newTestEngine(t, testConfig(ModeBasic))
	gen := newGenerator()
	for i := 0; i < 10; i++ {
		in := gen.frame(0.7, 0.1)
		out, p := process(t, e, in)
		require.Equal(t, in, out)
		require.Equal(t, 1.0, p)
	}
	require.Equal(t, uint64(10), e.Stats().Frames)
}

func TestVADDisabled(t *testing.T) {
	cfg := testConfig(ModeHeuristic)
	cfg.VADEnabled = false
	e := newTestEngine(t, cfg)
	gen := newGenerator()
	for i := 0; i < 500; i++ {
		_, p := process(t, e, gen.frame(0.5, 0))
		require.Equal(t, 0.5, p)
	}
	stats := e.Stats()
	assert.False(t, stats.VADActive)
	assert.Greater(t, stats.NoisePower[toneBand], 0.05, "every frame feeds the noise estimate")
	assert.Equal(t, powermodel.DefaultInitialSpeechPower, stats.SpeechPower[toneBand])
}

func TestProcessFrameErrors(t *testing.T) {
	e := New(context.Background(), testConfig(ModeML))
	_, err := e.ProcessFrame(context.Background(), make([]float32, 4), make([]float32, 5))
	require.Error(t, err)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	_, err = e.ProcessFrame(context.Background(), make([]float32, 4), make([]float32, 4))
	require.ErrorIs(t, err, ErrClosed)
}

func TestBackgroundTraining(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Classifier.Training.BaseInterval = 200
	cfg.Classifier.Training.MinInterval = 100
	e := New(context.Background(), cfg)
	gen := newGenerator()
	for i := 0; i < 2*framesPerSec; i++ {
		process(t, e, gen.frame(0.5*float64((i/100)%2), 0.05))
	}
	stats := e.Stats()
	require.NotNil(t, stats.Classifier)
	require.Equal(t, uint64(2*framesPerSec), stats.Classifier.Inferences)
	require.NoError(t, e.Close())
}

func TestHybridClassifierTakesOver(t *testing.T) {
	cfg := testConfig(ModeML)
	cfg.Classifier.Training.BaseInterval = 200
	cfg.Classifier.Training.MinInterval = 50
	e := newTestEngine(t, cfg)
	gen := newGenerator()

	const segments = 20
	trustedFrames := 0
	for segment := 0; segment < segments; segment++ {
		isTone := segment%2 == 1
		tone := 0.0
		if isTone {
			tone = 0.5
		}
		var (
			gainSum float64
			active  int
			count   int
		)
		for i := 0; i < framesPerSec; i++ {
			out, p := process(t, e, gen.frame(tone, 0.05))
			require.GreaterOrEqual(t, p, 0.0)
			require.LessOrEqual(t, p, 1.0)
			for _, v := range out {
				require.False(t, math.IsNaN(float64(v)))
			}
			stats := e.Stats()
			if stats.ClassifierTrusted {
				trustedFrames++
			}
			if i < framesPerSec/2 {
				continue
			}
			count++
			if stats.VADActive {
				active++
			}
			if isTone {
				gainSum += stats.Gains[toneBand]
			} else {
				gainSum += stats.AverageGain
			}
		}
		if segment < segments-4 {
			continue
		}
		meanGain := gainSum / float64(count)
		activity := float64(active) / float64(count)
		if isTone {
			assert.Greater(t, meanGain, 0.5, "segment %d", segment)
			assert.Greater(t, activity, 0.9, "segment %d", segment)
		} else {
			assert.Less(t, meanGain, 0.05, "segment %d", segment)
			assert.Less(t, activity, 0.1, "segment %d", segment)
		}
	}

	stats := e.Stats()
	require.NotNil(t, stats.Classifier)
	assert.NotZero(t, trustedFrames)
	assert.True(t, stats.Classifier.Ready, spew.Sdump(stats.Classifier))
	assert.Greater(t, stats.Classifier.Accuracy, 0.8)
	assert.Zero(t, stats.Classifier.DiscardedPasses)
	assert.LessOrEqual(t, stats.Classifier.Examples, cfg.Classifier.Training.MaxExamples)
	assert.Greater(t, stats.Quality, 50.0)
}

func TestSanitize(t *testing.T) {
	type testCase struct {
		name  string
		input func(*Config)
		check func(*testing.T, Config)
	}
	for _, tc := range []testCase{
		{
			name:  "defaults_untouched",
			input: func(*Config) {},
			check: func(t *testing.T, cfg Config) {
				require.Equal(t, DefaultConfig(), cfg)
			},
		},
		{
			name: "sensitivity",
			input: func(cfg *Config) {
				cfg.Sensitivity = 150
			},
			check: func(t *testing.T, cfg Config) {
				require.Equal(t, 100.0, cfg.Sensitivity)
			},
		},
		{
			name: "sensitivity_nan",
			input: func(cfg *Config) {
				cfg.Sensitivity = math.NaN()
			},
			check: func(t *testing.T, cfg Config) {
				require.Equal(t, float64(DefaultSensitivity), cfg.Sensitivity)
			},
		},
		{
			name: "band_count_low",
			input: func(cfg *Config) {
				cfg.BandCount = 2
			},
			check: func(t *testing.T, cfg Config) {
				require.Equal(t, MinBandCount, cfg.BandCount)
			},
		},
		{
			name: "band_count_high",
			input: func(cfg *Config) {
				cfg.BandCount = 64
			},
			check: func(t *testing.T, cfg Config) {
				require.Equal(t, MaxBandCount, cfg.BandCount)
			},
		},
		{
			name: "mode",
			input: func(cfg *Config) {
				cfg.Mode = ModeUndefined
			},
			check: func(t *testing.T, cfg Config) {
				require.Equal(t, ModeML, cfg.Mode)
			},
		},
		{
			name: "hysteresis_order",
			input: func(cfg *Config) {
				cfg.VAD.EnterFraction = 0.3
				cfg.VAD.ExitFraction = 0.6
			},
			check: func(t *testing.T, cfg Config) {
				require.Equal(t, 0.3, cfg.VAD.EnterFraction)
				require.Equal(t, 0.3, cfg.VAD.ExitFraction)
			},
		},
		{
			name: "speech_range_inverted",
			input: func(cfg *Config) {
				cfg.VAD.SpeechLowHz = 5000
				cfg.VAD.SpeechHighHz = 300
			},
			check: func(t *testing.T, cfg Config) {
				require.Equal(t, DefaultConfig().VAD.SpeechLowHz, cfg.VAD.SpeechLowHz)
				require.Equal(t, DefaultConfig().VAD.SpeechHighHz, cfg.VAD.SpeechHighHz)
			},
		},
		{
			name: "sample_rate",
			input: func(cfg *Config) {
				cfg.SampleRate = -1
				cfg.FrameSize = 0
			},
			check: func(t *testing.T, cfg Config) {
				require.Equal(t, float64(DefaultSampleRate), cfg.SampleRate)
				require.Equal(t, DefaultFrameSize, cfg.FrameSize)
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.input(&cfg)
			tc.check(t, cfg.Sanitize())
		})
	}
}

func TestEffectiveSensitivity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sensitivity = 50
	require.Equal(t, gain.LevelBalanced, cfg.Level())

	cfg.Preset = PresetAggressive
	require.InDelta(t, 0.7, cfg.EffectiveSensitivity(), 1e-12)
	require.Equal(t, gain.LevelAggressive, cfg.Level())

	cfg.Preset = PresetGentle
	cfg.Sensitivity = 10
	require.Zero(t, cfg.EffectiveSensitivity())
	require.Equal(t, gain.LevelGentle, cfg.Level())
}

func TestModeText(t *testing.T) {
	for m := ModeUndefined + 1; m < endOfMode; m++ {
		b, err := m.MarshalText()
		require.NoError(t, err)
		var parsed Mode
		require.NoError(t, parsed.UnmarshalText(b))
		require.Equal(t, m, parsed)
	}
	var m Mode
	require.Error(t, m.Set("fancy"))
	require.NoError(t, m.Set("ML"))
	require.Equal(t, ModeML, m)

	var p Preset
	require.NoError(t, p.Set(""))
	require.Equal(t, PresetNone, p)
	require.NoError(t, p.Set("aggressive"))
	require.Equal(t, PresetAggressive, p)
}
