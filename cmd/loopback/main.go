package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/xaionaro-go/voicedenoise/pkg/audio"
	"github.com/xaionaro-go/voicedenoise/pkg/audio/backends/portaudio"
	"github.com/xaionaro-go/voicedenoise/pkg/config"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise"
	"github.com/xaionaro-go/voicedenoise/pkg/metrics"
	"github.com/xaionaro-go/voicedenoise/pkg/noisesuppression"
	"github.com/xaionaro-go/voicedenoise/pkg/noisesuppression/implementations/adaptive"
	"github.com/xaionaro-go/voicedenoise/pkg/noisesuppression/implementations/auto"
	"github.com/xaionaro-go/voicedenoise/pkg/noisesuppressionstream"
)

const (
	sourceName    = "loopback"
	statsInterval = 5 * time.Second
)

func main() {
	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	configPath := pflag.String("config", "", "path to a YAML configuration file; it is reloaded on change")
	engineName := pflag.String("engine", auto.EngineAdaptive, "noise suppression engine: "+strings.Join(auto.Engines, ", "))
	channels := pflag.Uint32("channels", 1, "amount of channels to capture and play")
	sampleRate := pflag.Uint32("sample-rate", denoise.DefaultSampleRate, "sample rate")
	metricsAddr := pflag.String("metrics-listen-addr", "", "an address to serve Prometheus metrics on (overrides the configuration)")
	pflag.Parse()

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if *netPprofAddr != "" {
		observability.Go(ctx, func() { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	err := run(ctx, *configPath, *engineName, audio.Channel(*channels), audio.SampleRate(*sampleRate), *metricsAddr)
	assertNoError(err)
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}

func run(
	ctx context.Context,
	configPath string,
	engineName string,
	channels audio.Channel,
	sampleRate audio.SampleRate,
	metricsAddr string,
) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	}
	if metricsAddr == "" {
		metricsAddr = cfg.Metrics.ListenAddr
	}

	terminate, err := portaudio.Initialize(ctx)
	if err != nil {
		return err
	}
	defer terminate()

	suppressor, err := auto.New(ctx, engineName, channels, sampleRate, cfg.Engine)
	if err != nil {
		return fmt.Errorf("unable to initialize the noise suppression: %w", err)
	}
	defer suppressor.Close()

	if configPath != "" {
		watcher, err := config.NewWatcher(ctx, configPath, func(_, updated config.Config) {
			s, ok := suppressor.(*adaptive.Adaptive)
			if !ok {
				logger.Warnf(ctx, "the %s engine is not configurable, ignoring the new configuration", engineName)
				return
			}
			logger.Infof(ctx, "applying the new configuration: mode %s, sensitivity %v", updated.Engine.Mode, updated.Engine.Sensitivity)
			s.SetConfig(updated.Engine)
		})
		if err != nil {
			return err
		}
		defer watcher.Stop()
	}

	h := &host{suppressor: suppressor}
	g, ctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		mp, handler, err := metrics.NewPrometheusProvider()
		if err != nil {
			return err
		}
		defer mp.Shutdown(context.Background())
		h.metrics, err = metrics.NewMetrics(mp)
		if err != nil {
			return err
		}
		defer h.metrics.Close()
		if s, ok := suppressor.(*adaptive.Adaptive); ok {
			h.metrics.Observe(sourceName, s.Stats)
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		g.Go(func() error {
			logger.Infof(ctx, "serving metrics on http://%s/metrics", metricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("unable to serve metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
	}

	framesPerBuffer, err := bufferFrames(ctx, suppressor)
	if err != nil {
		return err
	}
	duplex, err := portaudio.NewDuplex(ctx, sampleRate, channels, framesPerBuffer, func(in, out []float32) {
		h.process(ctx, in, out)
	})
	if err != nil {
		return err
	}
	defer duplex.Close()
	if err := duplex.Start(); err != nil {
		return err
	}
	logger.Infof(ctx, "started: %s engine, %d channel(s) @ %dHz, %d frames per buffer", engineName, channels, sampleRate, framesPerBuffer)

	g.Go(func() error {
		t := time.NewTicker(statsInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				logger.Debugf(ctx, "buffers: %d, xruns: %d, failures: %d, voice probability: %.2f",
					duplex.Buffers(), duplex.XRuns(), h.failures.Load(), h.VoiceProbability())
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Infof(ctx, "stopping...")
		return duplex.Close()
	})
	return g.Wait()
}

// bufferFrames returns the amount of frames per device buffer: one chunk
// of the suppressor, or DefaultChunkDuration if it accepts any size.
func bufferFrames(ctx context.Context, s noisesuppression.NoiseSuppression) (int, error) {
	encoding, channels, err := audio.PCMLayout(ctx, s)
	if err != nil {
		return 0, err
	}
	native, err := audio.PCMFormatFloat32Native()
	if err != nil {
		return 0, err
	}
	if encoding.PCMFormat != native {
		return 0, fmt.Errorf("the device delivers %s samples, but the suppressor expects %s", native, encoding.PCMFormat)
	}
	chunkSize := uint64(s.ChunkSize())
	if chunkSize == 0 {
		chunkSize = encoding.BytesForDuration(noisesuppressionstream.DefaultChunkDuration) * uint64(channels)
	}
	return int(chunkSize / encoding.FrameSize(channels)), nil
}

type host struct {
	suppressor       noisesuppression.NoiseSuppression
	metrics          *metrics.Metrics
	failures         atomic.Uint64
	voiceProbability atomic.Uint64
}

var sourceAttrs = metric.WithAttributes(attribute.String("source", sourceName))

// process runs on the audio thread. A failed chunk is played unprocessed.
func (h *host) process(ctx context.Context, in, out []float32) {
	startedAt := time.Now()
	p, err := h.suppressor.SuppressNoise(ctx, audio.Float32Bytes(in), audio.Float32Bytes(out))
	if err != nil {
		copy(out, in)
		if h.failures.Add(1) == 1 {
			logger.Errorf(ctx, "unable to suppress noise: %v", err)
		}
		if h.metrics != nil {
			h.metrics.PassthroughFailures.Add(ctx, 1, sourceAttrs)
		}
		return
	}
	h.voiceProbability.Store(math.Float64bits(p))
	if h.metrics != nil {
		h.metrics.ProcessingDuration.Record(ctx, time.Since(startedAt).Seconds(), sourceAttrs)
	}
}

func (h *host) VoiceProbability() float64 {
	return math.Float64frombits(h.voiceProbability.Load())
}
