// Package capture owns the camera: opening it, reading frames and running a
// single exclusive capture session at a time.
package capture

import (
	"context"
	"image"

	"github.com/pkg/errors"
)

// ErrBadFrame marks a frame that arrived but could not be decoded. The
// device is still usable; the session skips the frame.
var ErrBadFrame = errors.New("corrupt frame")

// Camera yields decoded frames until closed. Errors wrapping ErrBadFrame
// skip one frame, any other error ends the session.
type Camera interface {
	ReadFrame(ctx context.Context) (image.Image, error)
	Close() error
}

// Opener acquires a camera.
type Opener func(ctx context.Context) (Camera, error)

// Processor handles one frame and returns the JPEG to show in previews.
// Returning an error skips the frame; it does not stop the session.
type Processor func(ctx context.Context, frame image.Image) ([]byte, error)

// Options configures the V4L2 webcam.
type Options struct {
	Device string
	Width  int
	Height int
}
