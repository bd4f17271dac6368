package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"strings"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/datacounter"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/voicedenoise/pkg/audio"
	"github.com/xaionaro-go/voicedenoise/pkg/audio/resampler"
	"github.com/xaionaro-go/voicedenoise/pkg/config"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise"
	"github.com/xaionaro-go/voicedenoise/pkg/noisesuppression/implementations/auto"
	"github.com/xaionaro-go/voicedenoise/pkg/noisesuppressionstream"
)

func main() {
	loggerLevel := logger.LevelInfo
	pflag.Var(&loggerLevel, "log-level", "Log level")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	configPath := pflag.String("config", "", "path to a YAML configuration file")
	engineName := pflag.String("engine", auto.EngineAdaptive, "noise suppression engine: "+strings.Join(auto.Engines, ", "))
	mode := denoise.ModeML
	pflag.Var(&mode, "mode", "mode of the adaptive engine: basic, heuristic or ml")
	preset := denoise.PresetNone
	pflag.Var(&preset, "preset", "sensitivity preset: gentle, balanced or aggressive")
	sensitivity := pflag.Float64("sensitivity", denoise.DefaultSensitivity, "suppression sensitivity, 0..100")
	rawFormat := audio.PCMFormatFloat32LE
	pflag.Var(&rawFormat, "format", "sample format of raw input and output (u8, s16le, s16be, f32le, f32be, f64le, f64be)")
	rawSampleRate := pflag.Uint32("sample-rate", denoise.DefaultSampleRate, "sample rate of raw input")
	rawChannels := pflag.Uint32("channels", 1, "amount of channels of raw input")
	reportFlag := pflag.Bool("report", false, "print the spectrum before/after and the detected voice segments to stderr")
	dumpConfig := pflag.Bool("dump-config", false, "print the effective configuration and exit")
	pflag.Parse()

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := logger.CtxWithLogger(context.Background(), l)
	logger.Default = func() logger.Logger {
		return l
	}
	defer belt.Flush(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func() { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		assertNoError(err)
	}
	flags := pflag.CommandLine
	if flags.Changed("mode") {
		cfg.Engine.Mode = mode
	}
	if flags.Changed("preset") {
		cfg.Engine.Preset = preset
	}
	if flags.Changed("sensitivity") {
		cfg.Engine.Sensitivity = *sensitivity
	}
	cfg.Engine = cfg.Engine.Sanitize()

	if *dumpConfig {
		b, err := cfg.Marshal()
		assertNoError(err)
		_, err = os.Stdout.Write(b)
		assertNoError(err)
		return
	}

	if pflag.NArg() != 2 {
		panic(fmt.Errorf("expected exactly two arguments: <input-file> <output-file> ('-' for stdin/stdout)"))
	}

	input, err := openInput(ctx, pflag.Arg(0), resampler.Format{
		Channels:   audio.Channel(*rawChannels),
		SampleRate: audio.SampleRate(*rawSampleRate),
		PCMFormat:  rawFormat,
	})
	assertNoError(err)
	defer input.Close()
	logger.Infof(ctx, "input: %s, %d channel(s)", input.Format.Encoding(), input.Format.Channels)

	cfg.Engine.SampleRate = float64(input.Format.SampleRate)
	suppressor, err := auto.New(ctx, *engineName, input.Format.Channels, input.Format.SampleRate, cfg.Engine)
	assertNoError(err)
	defer suppressor.Close()

	var (
		rep    *report
		source io.Reader = input
	)
	if *reportFlag {
		rep, err = newReport(input.Format)
		assertNoError(err)
		source = io.TeeReader(source, rep.Before)
	}

	stream, err := noisesuppressionstream.NewNoiseSuppressionStream(ctx, source, suppressor, 0)
	assertNoError(err)
	defer stream.Close()

	var suppressed io.Reader = stream
	if rep != nil {
		suppressed = io.TeeReader(suppressed, rep.After)
	}

	output, err := createOutput(pflag.Arg(1), input.Format, rawFormat)
	assertNoError(err)
	wc := datacounter.NewWriterCounter(output)
	_, err = io.Copy(wc, suppressed)
	assertNoError(err)
	assertNoError(output.Close())
	logger.Infof(ctx, "processed %d chunks, wrote %d bytes", stream.Chunks(), wc.Count())

	if rep != nil {
		assertNoError(rep.WriteTo(ctx, os.Stderr, suppressor, cfg.Engine))
	}
}

func assertNoError(err error) {
	if err != nil {
		panic(err)
	}
}
