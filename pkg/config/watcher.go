package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/observability"
)

const DefaultWatchInterval = 2 * time.Second

// Watcher polls a configuration file and calls onChange whenever its
// content changes and still parses. A broken file is logged and ignored:
// the previous configuration stays in effect.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new Config)

	locker    sync.Mutex
	current   Config
	lastMtime time.Time
	lastHash  [sha256.Size]byte

	cancelFunc context.CancelFunc
	done       chan struct{}
	stopOnce   sync.Once
}

type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the file and starts polling it until ctx is done or Stop
// is called.
func NewWatcher(
	ctx context.Context,
	path string,
	onChange func(old, new Config),
	opts ...WatcherOption,
) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("unable to load the initial configuration: %w", err)
	}
	w.current, w.lastHash, w.lastMtime = cfg, hash, mtime

	ctx, cancelFn := context.WithCancel(ctx)
	w.cancelFunc = cancelFn
	observability.Go(ctx, func() {
		defer close(w.done)
		w.poll(ctx)
	})
	return w, nil
}

// Current returns the most recently loaded valid configuration.
func (w *Watcher) Current() Config {
	w.locker.Lock()
	defer w.locker.Unlock()
	return w.current
}

// Stop stops polling and waits for the polling goroutine to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.cancelFunc()
	})
	<-w.done
}

func (w *Watcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	info, err := os.Stat(w.path)
	if err != nil {
		logger.Warnf(ctx, "unable to stat '%s': %v", w.path, err)
		return
	}

	w.locker.Lock()
	lastMtime := w.lastMtime
	w.locker.Unlock()
	if info.ModTime().Equal(lastMtime) {
		return
	}

	cfg, hash, mtime, err := w.load()
	if err != nil {
		logger.Warnf(ctx, "keeping the previous configuration: %v", err)
		return
	}

	w.locker.Lock()
	w.lastMtime = mtime
	if hash == w.lastHash {
		w.locker.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.locker.Unlock()

	logger.Infof(ctx, "reloaded the configuration from '%s'", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

func (w *Watcher) load() (Config, [sha256.Size]byte, time.Time, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return Config{}, [sha256.Size]byte{}, time.Time{}, fmt.Errorf("unable to open '%s': %w", w.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Config{}, [sha256.Size]byte{}, time.Time{}, fmt.Errorf("unable to stat '%s': %w", w.path, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return Config{}, [sha256.Size]byte{}, time.Time{}, fmt.Errorf("unable to read '%s': %w", w.path, err)
	}

	cfg, err := LoadFromReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return Config{}, [sha256.Size]byte{}, time.Time{}, fmt.Errorf("unable to parse '%s': %w", w.path, err)
	}
	return cfg, sha256.Sum256(buf.Bytes()), info.ModTime(), nil
}
