// Package portaudio runs a full-duplex audio stream on the default devices
// via PortAudio.
package portaudio

import (
	"context"
	"fmt"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/gordonklaus/portaudio"
)

// Initialize initializes PortAudio and logs the default devices. The
// returned function releases PortAudio.
func Initialize(ctx context.Context) (func() error, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("unable to initialize PortAudio: %w", err)
	}
	if err := ping(ctx); err != nil {
		portaudio.Terminate()
		return nil, err
	}
	return portaudio.Terminate, nil
}

func ping(ctx context.Context) error {
	input, err := portaudio.DefaultInputDevice()
	if err != nil {
		return fmt.Errorf("no default input device: %w", err)
	}
	output, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return fmt.Errorf("no default output device: %w", err)
	}
	logger.Debugf(ctx, "input device: %s (%v); output device: %s (%v)", input.Name, input.DefaultLowInputLatency, output.Name, output.DefaultLowOutputLatency)

	if devices, err := portaudio.Devices(); err == nil {
		for idx, device := range devices {
			logger.Tracef(ctx, "devices[%d]: %#+v", idx, device)
		}
	}
	return nil
}
