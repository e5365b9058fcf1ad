//go:build !linux

package capture

import (
	"context"

	"github.com/pkg/errors"
)

// OpenWebcam is only available on Linux (V4L2).
func OpenWebcam(opt Options) Opener {
	return func(ctx context.Context) (Camera, error) {
		return nil, errors.Errorf("camera capture is not supported on this platform (device %s)", opt.Device)
	}
}
