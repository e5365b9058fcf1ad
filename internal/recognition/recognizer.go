package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/faceapi"
	"github.com/kozaktomas/face-attendance/internal/vector"
)

// ErrNoReference is returned when no reference embedding is loaded.
var ErrNoReference = errors.New("no reference embedding loaded, run enrollment first")

// Recorder persists accepted matches.
type Recorder interface {
	MarkPresent(ctx context.Context, name string, at time.Time, source string) (attendance.Record, bool, error)
}

// Match is the outcome for one detected face.
type Match struct {
	BBox       image.Rectangle `json:"bbox"`
	Label      string          `json:"label"`
	Similarity float64         `json:"similarity"`
	Accepted   bool            `json:"accepted"`
	Recorded   bool            `json:"recorded"`
}

// FrameResult is the outcome for one frame.
type FrameResult struct {
	Matches []Match
	JPEG    []byte
}

// Options configures a Recognizer.
type Options struct {
	Identity  string
	Threshold float64
	FaceSize  int

	// PreviewWidth and PreviewHeight bound the annotated JPEG; zero keeps
	// the camera resolution.
	PreviewWidth  int
	PreviewHeight int
}

// Recognizer compares faces in camera frames with the reference embedding
// and records attendance for the enrolled identity.
type Recognizer struct {
	detector faceapi.Detector
	embedder faceapi.Embedder
	recorder Recorder
	opts     Options
	now      func() time.Time

	mu        sync.RWMutex
	reference []float64
}

// NewRecognizer creates a recognizer. The reference may be nil and set later.
func NewRecognizer(det faceapi.Detector, emb faceapi.Embedder, rec Recorder, reference []float64, opts Options) *Recognizer {
	if opts.Threshold == 0 {
		opts.Threshold = constants.DefaultSimilarityThreshold
	}
	if opts.FaceSize == 0 {
		opts.FaceSize = constants.DefaultFaceSize
	}
	return &Recognizer{
		detector:  det,
		embedder:  emb,
		recorder:  rec,
		opts:      opts,
		now:       time.Now,
		reference: slices.Clone(reference),
	}
}

// SetReference swaps the reference embedding, e.g. after re-enrollment.
func (r *Recognizer) SetReference(ref []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reference = slices.Clone(ref)
}

// HasReference reports whether a reference is loaded.
func (r *Recognizer) HasReference() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.reference) > 0
}

// Accept reports whether a similarity identifies the enrolled person.
// The comparison is strict: a similarity equal to the threshold is rejected.
func (r *Recognizer) Accept(similarity float64) bool {
	return similarity > r.opts.Threshold
}

// ProcessFrame detects every face in frame, labels it, records attendance
// for accepted faces and returns the annotated frame. A detection failure
// fails the frame; a failure on a single face only skips that face.
func (r *Recognizer) ProcessFrame(ctx context.Context, frame image.Image) (*FrameResult, error) {
	r.mu.RLock()
	ref := r.reference
	r.mu.RUnlock()
	if len(ref) == 0 {
		return nil, ErrNoReference
	}

	faces, err := r.detector.DetectFaces(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	matches := make([]Match, 0, len(faces))
	for _, face := range faces {
		m, err := r.matchFace(ctx, frame, face, ref)
		if err != nil {
			slog.Debug("face skipped", "index", face.Index, "error", err)
			continue
		}
		matches = append(matches, m)
	}

	preview := faceapi.FitWithin(annotate(frame, matches), r.opts.PreviewWidth, r.opts.PreviewHeight)
	jpg, err := faceapi.EncodeJPEG(preview)
	if err != nil {
		return nil, err
	}
	return &FrameResult{Matches: matches, JPEG: jpg}, nil
}

func (r *Recognizer) matchFace(ctx context.Context, frame image.Image, face faceapi.Face, ref []float64) (Match, error) {
	crop, err := faceapi.CropFace(frame, face.BBox, r.opts.FaceSize)
	if err != nil {
		return Match{}, err
	}
	emb, err := r.embedder.Embed(ctx, crop)
	if err != nil {
		return Match{}, err
	}

	m := Match{
		BBox:       face.BBox,
		Label:      constants.UnknownLabel,
		Similarity: vector.CosineSimilarity(emb, ref),
	}
	if !r.Accept(m.Similarity) {
		return m, nil
	}

	m.Accepted = true
	m.Label = r.opts.Identity
	_, created, err := r.recorder.MarkPresent(ctx, r.opts.Identity, r.now(), database.SourceCamera)
	if err != nil {
		// Local write failed; keep labelling the frame.
		slog.Error("failed to record attendance", "name", r.opts.Identity, "error", err)
		return m, nil
	}
	if created {
		m.Recorded = true
		slog.Info("attendance recorded", "name", r.opts.Identity, "similarity", fmt.Sprintf("%.3f", m.Similarity))
	}
	return m, nil
}

// Process adapts ProcessFrame to a capture processor.
func (r *Recognizer) Process(ctx context.Context, frame image.Image) ([]byte, error) {
	res, err := r.ProcessFrame(ctx, frame)
	if err != nil {
		return nil, err
	}
	return res.JPEG, nil
}
