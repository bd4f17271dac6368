package gain

import (
	"fmt"
)

// Level bounds the gain range and sets how hard low-SNR bands are pushed
// down.
type Level struct {
	Name       string
	MinGain    float64
	MaxGain    float64
	Aggression float64
}

var (
	LevelGentle = Level{
		Name:       "gentle",
		MinGain:    0.1,
		MaxGain:    0.8,
		Aggression: 0.5,
	}
	LevelBalanced = Level{
		Name:       "balanced",
		MinGain:    0.02,
		MaxGain:    0.9,
		Aggression: 1.0,
	}
	LevelAggressive = Level{
		Name:       "aggressive",
		MinGain:    0.001,
		MaxGain:    0.95,
		Aggression: 2.0,
	}
)

func LevelForSensitivity(sensitivity float64) Level {
	switch {
	case sensitivity < 0.33:
		return LevelGentle
	case sensitivity < 0.66:
		return LevelBalanced
	default:
		return LevelAggressive
	}
}

func (l Level) String() string {
	return fmt.Sprintf("%s[%g..%g]^%g", l.Name, l.MinGain, l.MaxGain, l.Aggression)
}
