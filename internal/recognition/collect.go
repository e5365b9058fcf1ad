package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/faceapi"
)

var errCollectorFull = errors.New("capture count reached")

// Collector saves face crops from camera frames for later enrollment.
// Every detected face of a frame is saved until count crops exist.
type Collector struct {
	detector faceapi.Detector
	dir      string
	count    int
	faceSize int
	label    string

	previewWidth  int
	previewHeight int

	mu    sync.Mutex
	saved int
	done  chan struct{}
}

// NewCollector saves up to count crops of size faceSize into dir.
func NewCollector(det faceapi.Detector, dir, label string, count, faceSize int) (*Collector, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create capture directory: %w", err)
	}
	return &Collector{
		detector: det,
		dir:      dir,
		count:    count,
		faceSize: faceSize,
		label:    label,
		done:     make(chan struct{}),
	}, nil
}

// SetPreviewSize bounds the preview JPEG returned by Process.
func (c *Collector) SetPreviewSize(width, height int) {
	c.previewWidth = width
	c.previewHeight = height
}

// Process saves the faces of the frame and returns an annotated preview.
func (c *Collector) Process(ctx context.Context, frame image.Image) ([]byte, error) {
	faces, err := c.detector.DetectFaces(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	var matches []Match
	for _, face := range faces {
		n, err := c.save(frame, face)
		if errors.Is(err, errCollectorFull) {
			break
		}
		if err != nil {
			slog.Warn("face crop not saved", "index", face.Index, "error", err)
			continue
		}
		matches = append(matches, Match{BBox: face.BBox, Label: fmt.Sprintf("%s %d/%d", c.label, n, c.count), Accepted: true})
	}

	return faceapi.EncodeJPEG(faceapi.FitWithin(annotate(frame, matches), c.previewWidth, c.previewHeight))
}

// save writes one crop and returns its sequence number.
func (c *Collector) save(frame image.Image, face faceapi.Face) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.saved >= c.count {
		return 0, errCollectorFull
	}

	crop, err := faceapi.CropFace(frame, face.BBox, c.faceSize)
	if err != nil {
		return 0, err
	}
	data, err := faceapi.EncodeJPEG(crop)
	if err != nil {
		return 0, err
	}
	path := filepath.Join(c.dir, fmt.Sprintf("%d.jpg", c.saved+1))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("write crop: %w", err)
	}

	c.saved++
	if c.saved == c.count {
		close(c.done)
	}
	return c.saved, nil
}

// Saved returns the number of crops written so far.
func (c *Collector) Saved() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saved
}

// Done is closed once count crops have been saved.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}
