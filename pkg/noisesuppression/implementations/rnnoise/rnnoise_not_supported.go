//go:build !rnnoise
// +build !rnnoise

package rnnoise

import (
	"fmt"

	"github.com/xaionaro-go/voicedenoise/pkg/audio"
	"github.com/xaionaro-go/voicedenoise/pkg/noisesuppression"
)

// ErrNotSupported is returned by New when built without the 'rnnoise' tag.
var ErrNotSupported = fmt.Errorf("built without tag 'rnnoise'")

type RNNoise = noisesuppression.Dummy

func New(
	channels audio.Channel,
) (*RNNoise, error) {
	return nil, ErrNotSupported
}
