package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/voicedenoise/pkg/denoise"
)

func TestLoadFromReader(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
engine:
  mode: heuristic
  preset: aggressive
  sensitivity: 70
  band_count: 16
  gain:
    neighbor_blend: 0.25
metrics:
  listen_addr: 127.0.0.1:9090
`))
	require.NoError(t, err)

	def := denoise.DefaultConfig()
	require.Equal(t, denoise.ModeHeuristic, cfg.Engine.Mode)
	require.Equal(t, denoise.PresetAggressive, cfg.Engine.Preset)
	require.Equal(t, 70.0, cfg.Engine.Sensitivity)
	require.Equal(t, 16, cfg.Engine.BandCount)
	require.Equal(t, 0.25, cfg.Engine.Gain.NeighborBlend)
	require.Equal(t, def.Gain.SubtractionKneeDB, cfg.Engine.Gain.SubtractionKneeDB)
	require.Equal(t, def.FrameSize, cfg.Engine.FrameSize)
	require.Equal(t, def.Classifier, cfg.Engine.Classifier)
	require.Equal(t, "127.0.0.1:9090", cfg.Metrics.ListenAddr)
}

func TestLoadFromReaderEmpty(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)
	require.Equal(t, Default().Engine.Sanitize(), cfg.Engine)
}

func TestLoadFromReaderClamps(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("engine:\n  sensitivity: 500\n  band_count: 1000\n"))
	require.NoError(t, err)
	require.Equal(t, 100.0, cfg.Engine.Sensitivity)
	require.Equal(t, denoise.MaxBandCount, cfg.Engine.BandCount)
}

func TestLoadFromReaderErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown_key":  "engine:\n  loudness: 3\n",
		"unknown_mode": "engine:\n  mode: magic\n",
		"bad_type":     "engine:\n  band_count: many\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(doc))
			require.Error(t, err)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader("engine:\n  mode: basic\n  preset: gentle\n"))
	require.NoError(t, err)

	b, err := cfg.Marshal()
	require.NoError(t, err)
	loaded, err := LoadFromReader(bytes.NewReader(b))
	require.NoError(t, err, string(b))
	require.Equal(t, cfg, loaded)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	_, err := Load(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte("engine:\n  vad_enabled: false\n"), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.False(t, cfg.Engine.VADEnabled)
}

// writeConfig replaces the file and moves its mtime forward, so that the
// change is visible even on filesystems with coarse timestamps.
func writeConfig(t *testing.T, path string, content string, mtime time.Time) {
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestWatcher(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	mtime := time.Now().Add(-time.Hour)
	writeConfig(t, path, "engine:\n  sensitivity: 10\n", mtime)

	var (
		locker  sync.Mutex
		changes [][2]float64
	)
	w, err := NewWatcher(context.Background(), path, func(old, new Config) {
		locker.Lock()
		defer locker.Unlock()
		changes = append(changes, [2]float64{old.Engine.Sensitivity, new.Engine.Sensitivity})
	}, WithInterval(5*time.Millisecond))
	require.NoError(t, err)
	defer w.Stop()
	require.Equal(t, 10.0, w.Current().Engine.Sensitivity)

	countChanges := func() int {
		locker.Lock()
		defer locker.Unlock()
		return len(changes)
	}

	mtime = mtime.Add(time.Minute)
	writeConfig(t, path, "engine:\n  sensitivity: 80\n", mtime)
	require.Eventually(t, func() bool { return countChanges() == 1 }, 5*time.Second, 5*time.Millisecond)
	require.Equal(t, 80.0, w.Current().Engine.Sensitivity)

	// a broken file keeps the previous configuration
	mtime = mtime.Add(time.Minute)
	writeConfig(t, path, "engine:\n  sensitivity: [\n", mtime)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, countChanges())
	require.Equal(t, 80.0, w.Current().Engine.Sensitivity)

	// touching without changing the content is not a change
	mtime = mtime.Add(time.Minute)
	writeConfig(t, path, "engine:\n  sensitivity: 80\n", mtime)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, countChanges())

	mtime = mtime.Add(time.Minute)
	writeConfig(t, path, "engine:\n  sensitivity: 30\n", mtime)
	require.Eventually(t, func() bool { return countChanges() == 2 }, 5*time.Second, 5*time.Millisecond)

	locker.Lock()
	require.Equal(t, [][2]float64{{10, 80}, {80, 30}}, changes)
	locker.Unlock()

	w.Stop()
	w.Stop()
}

func TestNewWatcherMissingFile(t *testing.T) {
	_, err := NewWatcher(context.Background(), filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
}
