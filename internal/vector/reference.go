package vector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"
)

// ErrNoReference is returned when no reference embedding has been enrolled yet.
var ErrNoReference = errors.New("reference embedding not found")

// LoadReference reads a 1-D .npy array. Both float32 (as written by older
// training runs) and float64 arrays are accepted.
func LoadReference(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoReference
		}
		return nil, fmt.Errorf("open reference: %w", err)
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read npy header: %w", err)
	}

	if len(r.Header.Descr.Shape) > 1 {
		return nil, fmt.Errorf("reference must be a 1-D array, got shape %v", r.Header.Descr.Shape)
	}

	var ref []float64
	switch r.Header.Descr.Type {
	case "<f8", "f8", "float64":
		if err := r.Read(&ref); err != nil {
			return nil, fmt.Errorf("read reference: %w", err)
		}
	case "<f4", "f4", "float32":
		var narrow []float32
		if err := r.Read(&narrow); err != nil {
			return nil, fmt.Errorf("read reference: %w", err)
		}
		ref = FromFloat32(narrow)
	default:
		return nil, fmt.Errorf("unsupported reference dtype %q", r.Header.Descr.Type)
	}

	if len(ref) == 0 {
		return nil, errors.New("reference embedding is empty")
	}
	return ref, nil
}

// SaveReference writes the embedding as a float64 .npy array. The file is
// replaced atomically so a crash never leaves a truncated model behind.
func SaveReference(path string, ref []float64) error {
	if len(ref) == 0 {
		return errors.New("refusing to save empty reference embedding")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".reference-*.npy")
	if err != nil {
		return fmt.Errorf("create temp reference: %w", err)
	}
	tmpName := tmp.Name()

	if err := npyio.Write(tmp, ref); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write reference: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp reference: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace reference: %w", err)
	}
	return nil
}
