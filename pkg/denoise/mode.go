package denoise

import (
	"fmt"
	"strings"
)

// Mode selects which stages run for a frame.
type Mode uint

const (
	ModeUndefined = Mode(iota)

	// ModeBasic passes frames through unmodified.
	ModeBasic

	// ModeHeuristic runs the filter bank, VAD, power model and gains.
	ModeHeuristic

	// ModeML additionally runs the online-trained classifier.
	ModeML

	endOfMode
)

func (m Mode) String() string {
	switch m {
	case ModeUndefined:
		return "<undefined>"
	case ModeBasic:
		return "basic"
	case ModeHeuristic:
		return "heuristic"
	case ModeML:
		return "ml"
	}
	return fmt.Sprintf("<unknown_%d>", uint(m))
}

func ParseMode(s string) (Mode, error) {
	for m := ModeUndefined + 1; m < endOfMode; m++ {
		if strings.EqualFold(m.String(), s) {
			return m, nil
		}
	}
	return ModeUndefined, fmt.Errorf("unknown mode '%s'", s)
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Set implements pflag.Value.
func (m *Mode) Set(s string) error {
	return m.UnmarshalText([]byte(s))
}

// Type implements pflag.Value.
func (m *Mode) Type() string {
	return "mode"
}

// Preset shifts the sensitivity before it is mapped to concrete parameters.
type Preset uint

const (
	PresetNone = Preset(iota)
	PresetGentle
	PresetBalanced
	PresetAggressive
	endOfPreset
)

func (p Preset) String() string {
	switch p {
	case PresetNone:
		return "none"
	case PresetGentle:
		return "gentle"
	case PresetBalanced:
		return "balanced"
	case PresetAggressive:
		return "aggressive"
	}
	return fmt.Sprintf("<unknown_%d>", uint(p))
}

// SensitivityOffset is added to the configured sensitivity (0..100).
func (p Preset) SensitivityOffset() float64 {
	switch p {
	case PresetGentle:
		return -20
	case PresetAggressive:
		return 20
	}
	return 0
}

func ParsePreset(s string) (Preset, error) {
	if s == "" {
		return PresetNone, nil
	}
	for p := PresetNone; p < endOfPreset; p++ {
		if strings.EqualFold(p.String(), s) {
			return p, nil
		}
	}
	return PresetNone, fmt.Errorf("unknown preset '%s'", s)
}

func (p Preset) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Preset) UnmarshalText(b []byte) error {
	v, err := ParsePreset(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

func (p *Preset) Set(s string) error {
	return p.UnmarshalText([]byte(s))
}

func (p *Preset) Type() string {
	return "preset"
}
