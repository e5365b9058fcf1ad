//go:build linux

package capture

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"log/slog"

	"github.com/blackjack/webcam"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/pkg/errors"
)

const (
	pixFmtMJPEG = webcam.PixelFormat(0x47504A4D) // MJPG
	pixFmtYUYV  = webcam.PixelFormat(0x56595559) // YUYV
)

type v4l2Camera struct {
	cam    *webcam.Webcam
	format webcam.PixelFormat
	width  int
	height int
}

// OpenWebcam returns an Opener for a V4L2 device. MJPEG is preferred; YUYV
// is used when the device does not offer MJPEG.
func OpenWebcam(opt Options) Opener {
	return func(ctx context.Context) (Camera, error) {
		cam, err := webcam.Open(opt.Device)
		if err != nil {
			return nil, errors.Wrapf(err, "can not open device %s", opt.Device)
		}

		formats := cam.GetSupportedFormats()
		var format webcam.PixelFormat
		switch {
		case formats[pixFmtMJPEG] != "":
			format = pixFmtMJPEG
		case formats[pixFmtYUYV] != "":
			format = pixFmtYUYV
		default:
			cam.Close()
			return nil, errors.Errorf("device %s supports neither MJPEG nor YUYV", opt.Device)
		}

		f, w, h, err := cam.SetImageFormat(format, uint32(opt.Width), uint32(opt.Height))
		if err != nil {
			cam.Close()
			return nil, errors.Wrap(err, "can not set image format")
		}

		if err := cam.StartStreaming(); err != nil {
			cam.Close()
			return nil, errors.Wrap(err, "can not start streaming")
		}

		slog.Info("camera opened", "device", opt.Device, "format", formats[f], "width", w, "height", h)
		return &v4l2Camera{cam: cam, format: f, width: int(w), height: int(h)}, nil
	}
}

func (c *v4l2Camera) ReadFrame(ctx context.Context) (image.Image, error) {
	timeouts := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := c.cam.WaitForFrame(constants.FrameWaitTimeoutSeconds)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			timeouts++
			if timeouts >= constants.MaxConsecutiveTimeouts {
				return nil, errors.New("camera stopped delivering frames")
			}
			continue
		default:
			return nil, errors.Wrap(err, "frame wait failed")
		}

		frame, err := c.cam.ReadFrame()
		if err != nil {
			return nil, errors.Wrap(err, "read frame failed")
		}
		if len(frame) == 0 {
			continue
		}

		return c.decode(frame)
	}
}

func (c *v4l2Camera) decode(frame []byte) (image.Image, error) {
	if c.format == pixFmtMJPEG {
		img, err := jpeg.Decode(bytes.NewReader(frame))
		if err != nil {
			return nil, errors.WithMessagef(ErrBadFrame, "decode MJPEG frame: %v", err)
		}
		return img, nil
	}
	return yuyvToImage(frame, c.width, c.height)
}

// yuyvToImage repacks a YUYV 4:2:2 frame into an image.YCbCr without color conversion.
func yuyvToImage(frame []byte, width, height int) (image.Image, error) {
	if len(frame) < width*height*2 {
		return nil, errors.WithMessagef(ErrBadFrame, "short YUYV frame: %d bytes for %dx%d", len(frame), width, height)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for y := range height {
		row := frame[y*width*2:]
		for x := 0; x < width; x += 2 {
			i := x * 2
			img.Y[y*img.YStride+x] = row[i]
			img.Y[y*img.YStride+x+1] = row[i+2]
			ci := y*img.CStride + x/2
			img.Cb[ci] = row[i+1]
			img.Cr[ci] = row[i+3]
		}
	}
	return img, nil
}

func (c *v4l2Camera) Close() error {
	if err := c.cam.StopStreaming(); err != nil {
		slog.Warn("stop streaming failed", "error", err)
	}
	return errors.Wrap(c.cam.Close(), "close camera")
}
