// Package recognition builds the reference embedding from face images and
// matches camera frames against it.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/faceapi"
	"github.com/kozaktomas/face-attendance/internal/vector"
)

// ErrNoFaces is returned when enrollment produced no embeddings. The
// existing reference file is left untouched.
var ErrNoFaces = errors.New("no faces found in enrollment images")

var imageExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// EnrollResult summarizes an enrollment run.
type EnrollResult struct {
	Processed int    `json:"processed"`
	Embedded  int    `json:"embedded"`
	Skipped   int    `json:"skipped"`
	Dim       int    `json:"dim"`
	Output    string `json:"output"`
}

// ProgressFunc is called after each image.
type ProgressFunc func(done, total int)

// Enroller averages face embeddings into a reference vector.
type Enroller struct {
	detector faceapi.Detector
	embedder faceapi.Embedder
	faceSize int
	identity string
	mirror   *database.AsyncMirror
}

// NewEnroller creates an enroller. mirror may be nil.
func NewEnroller(det faceapi.Detector, emb faceapi.Embedder, faceSize int, identity string, mirror *database.AsyncMirror) *Enroller {
	return &Enroller{detector: det, embedder: emb, faceSize: faceSize, identity: identity, mirror: mirror}
}

// Enroll embeds the first face of every image under dir and writes the mean
// vector to out. Images that fail to decode, contain no face, or fail to
// embed are skipped.
func (e *Enroller) Enroll(ctx context.Context, dir, out string, progress ProgressFunc) (*EnrollResult, []float64, error) {
	files, err := listImages(dir)
	if err != nil {
		return nil, nil, err
	}

	result := &EnrollResult{Output: out}
	var embeddings [][]float64
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		result.Processed++
		emb, err := e.embedFile(ctx, path)
		if err != nil {
			result.Skipped++
			slog.Warn("skipping enrollment image", "file", filepath.Base(path), "error", err)
		} else {
			embeddings = append(embeddings, emb)
		}
		if progress != nil {
			progress(i+1, len(files))
		}
	}

	if len(embeddings) == 0 {
		return result, nil, ErrNoFaces
	}

	ref, err := vector.Mean(embeddings)
	if err != nil {
		return result, nil, fmt.Errorf("average embeddings: %w", err)
	}
	if err := vector.SaveReference(out, ref); err != nil {
		return result, nil, err
	}

	result.Embedded = len(embeddings)
	result.Dim = len(ref)

	e.mirror.EnqueueReference(database.ReferenceRecord{
		Identity:  e.identity,
		Embedding: ref,
		Images:    result.Embedded,
		UpdatedAt: time.Now(),
	})
	return result, ref, nil
}

func (e *Enroller) embedFile(ctx context.Context, path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	faces, err := e.detector.DetectFaces(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	if len(faces) == 0 {
		return nil, errors.New("no face detected")
	}

	crop, err := faceapi.CropFace(img, faces[0].BBox, e.faceSize)
	if err != nil {
		return nil, err
	}
	emb, err := e.embedder.Embed(ctx, crop)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return emb, nil
}

func listImages(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && imageExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
