// Package config loads the YAML configuration of the noise suppression
// commands and watches it for changes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/xaionaro-go/voicedenoise/pkg/denoise"
	"gopkg.in/yaml.v3"
)

// Config is the content of a configuration file. Fields absent from the
// file keep their defaults.
type Config struct {
	Engine  denoise.Config `yaml:"engine"`
	Metrics Metrics        `yaml:"metrics"`
}

type Metrics struct {
	// ListenAddr is where the Prometheus endpoint is served; empty disables it.
	ListenAddr string `yaml:"listen_addr"`
}

func Default() Config {
	return Config{
		Engine: denoise.DefaultConfig(),
	}
}

// Load reads the YAML configuration file at path.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read '%s': %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(b))
	if err != nil {
		return Config{}, fmt.Errorf("unable to parse '%s': %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML configuration on top of Default. Unknown
// keys are an error; out-of-range values are clamped by denoise.Config.Sanitize.
func LoadFromReader(r io.Reader) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("unable to decode YAML: %w", err)
	}
	cfg.Engine = cfg.Engine.Sanitize()
	return cfg, nil
}

// Marshal renders cfg as YAML, e.g. to dump the effective configuration.
func (cfg Config) Marshal() ([]byte, error) {
	return yaml.Marshal(cfg)
}
