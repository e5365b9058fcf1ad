package recognition

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/faceapi"
	"github.com/kozaktomas/face-attendance/internal/vector"
)

// fakeDetector reports one face for images whose top-left pixel is red.
type fakeDetector struct {
	faces []faceapi.Face
	err   error
}

func (d *fakeDetector) DetectFaces(ctx context.Context, img image.Image) ([]faceapi.Face, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.faces != nil {
		return d.faces, nil
	}
	r, _, _, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	if r>>8 < 200 {
		return nil, nil
	}
	return []faceapi.Face{{BBox: image.Rect(0, 0, 8, 8), Score: 0.99}}, nil
}

// colorEmbedder derives the embedding from the crop's green and blue levels.
type colorEmbedder struct{}

func (colorEmbedder) Embed(ctx context.Context, face image.Image) ([]float64, error) {
	_, g, b, _ := face.At(face.Bounds().Dx()/2, face.Bounds().Dy()/2).RGBA()
	return []float64{math.Round(float64(g>>8) / 10), math.Round(float64(b>>8)/10) + 1}, nil
}

// queueEmbedder returns preset embeddings in call order.
type queueEmbedder struct {
	mu   sync.Mutex
	vecs [][]float64
	errs []error
	i    int
}

func (q *queueEmbedder) Embed(ctx context.Context, face image.Image) ([]float64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.i % len(q.vecs)
	q.i++
	if q.errs != nil && q.errs[i] != nil {
		return nil, q.errs[i]
	}
	return q.vecs[i], nil
}

func writePNG(t *testing.T, path string, c color.Color) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := range 16 {
		for x := range 16 {
			img.Set(x, y, c)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestEnroll_MeanOfDetectedFaces(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), color.RGBA{R: 255, G: 100, B: 50, A: 255})
	writePNG(t, filepath.Join(dir, "b.png"), color.RGBA{R: 255, G: 200, B: 150, A: 255})
	if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "nested", "notes.txt"), []byte("ignored"), 0o644)
	writePNG(t, filepath.Join(dir, "nested", "c.png"), color.RGBA{R: 0, G: 10, B: 10, A: 255}) // no face
	os.WriteFile(filepath.Join(dir, "broken.jpg"), []byte("not an image"), 0o644)

	out := filepath.Join(t.TempDir(), "model", "face_embedding.npy")
	e := NewEnroller(&fakeDetector{}, colorEmbedder{}, 160, "Aman", nil)

	var calls int
	res, ref, err := e.Enroll(context.Background(), dir, out, func(done, total int) { calls++ })
	if err != nil {
		t.Fatalf("Enroll() error = %v", err)
	}

	if res.Processed != 4 || res.Embedded != 2 || res.Skipped != 2 || res.Dim != 2 {
		t.Errorf("unexpected result %+v", res)
	}
	if calls != 4 {
		t.Errorf("progress called %d times, want 4", calls)
	}

	// Mean of (10, 6) and (20, 16).
	want := []float64{15, 11}
	for i := range want {
		if math.Abs(ref[i]-want[i]) > 1e-9 {
			t.Errorf("ref[%d] = %v, want %v", i, ref[i], want[i])
		}
	}

	saved, err := vector.LoadReference(out)
	if err != nil {
		t.Fatal(err)
	}
	if saved[0] != ref[0] || saved[1] != ref[1] {
		t.Errorf("saved reference %v differs from returned %v", saved, ref)
	}
}

func TestEnroll_NoFacesKeepsPreviousModel(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "dark.png"), color.RGBA{G: 10, A: 255})

	out := filepath.Join(t.TempDir(), "face_embedding.npy")
	if err := vector.SaveReference(out, []float64{7, 7, 7}); err != nil {
		t.Fatal(err)
	}

	e := NewEnroller(&fakeDetector{}, colorEmbedder{}, 160, "Aman", nil)
	res, _, err := e.Enroll(context.Background(), dir, out, nil)
	if !errors.Is(err, ErrNoFaces) {
		t.Fatalf("expected ErrNoFaces, got %v", err)
	}
	if res.Processed != 1 || res.Skipped != 1 {
		t.Errorf("unexpected result %+v", res)
	}

	kept, err := vector.LoadReference(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(kept) != 3 || kept[0] != 7 {
		t.Errorf("previous model was overwritten: %v", kept)
	}
}

func TestEnroll_EmptyDirectory(t *testing.T) {
	out := filepath.Join(t.TempDir(), "face_embedding.npy")
	e := NewEnroller(&fakeDetector{}, colorEmbedder{}, 160, "Aman", nil)
	if _, _, err := e.Enroll(context.Background(), t.TempDir(), out, nil); !errors.Is(err, ErrNoFaces) {
		t.Errorf("expected ErrNoFaces, got %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Error("reference file should not be created")
	}
}

func newAttendance(t *testing.T) (*attendance.Service, *database.Table) {
	t.Helper()
	table := database.NewTable(filepath.Join(t.TempDir(), "attendance.csv"), database.AttendanceColumns)
	return attendance.NewService(table, nil), table
}

func testFrame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 64, 48))
}

var reference = []float64{1, 0}

func TestProcessFrame_ThresholdIsStrict(t *testing.T) {
	emb := []float64{0.7, 0.714142842854285}
	sim := vector.CosineSimilarity(emb, reference)

	svc, table := newAttendance(t)
	det := &fakeDetector{faces: []faceapi.Face{{BBox: image.Rect(5, 5, 30, 30)}}}
	r := NewRecognizer(det, &queueEmbedder{vecs: [][]float64{emb}}, svc, reference, Options{Identity: "Aman", Threshold: sim})

	for range 5 {
		res, err := r.ProcessFrame(context.Background(), testFrame())
		if err != nil {
			t.Fatalf("ProcessFrame() error = %v", err)
		}
		if len(res.Matches) != 1 || res.Matches[0].Accepted || res.Matches[0].Label != "Unknown" {
			t.Errorf("similarity equal to threshold must be rejected: %+v", res.Matches)
		}
	}

	rows, _ := table.Rows()
	if len(rows) != 0 {
		t.Errorf("expected no attendance rows, got %d", len(rows))
	}
}

func TestProcessFrame_BelowThreshold(t *testing.T) {
	svc, table := newAttendance(t)
	det := &fakeDetector{faces: []faceapi.Face{{BBox: image.Rect(5, 5, 30, 30)}}}
	emb := &queueEmbedder{vecs: [][]float64{{0, 1}, {0.5, 0.5}, {-1, 0}}}
	r := NewRecognizer(det, emb, svc, reference, Options{Identity: "Aman", Threshold: 0.75})

	for range 6 {
		if _, err := r.ProcessFrame(context.Background(), testFrame()); err != nil {
			t.Fatal(err)
		}
	}
	rows, _ := table.Rows()
	if len(rows) != 0 {
		t.Errorf("expected no attendance rows, got %d", len(rows))
	}
}

func TestProcessFrame_OneRecordPerDay(t *testing.T) {
	svc, table := newAttendance(t)
	det := &fakeDetector{faces: []faceapi.Face{{BBox: image.Rect(5, 5, 30, 30)}}}
	r := NewRecognizer(det, &queueEmbedder{vecs: [][]float64{{0.99, 0.05}}}, svc, reference, Options{Identity: "Aman", Threshold: 0.7})

	day := time.Date(2025, 2, 3, 9, 0, 0, 0, time.Local)
	recorded := 0
	for i := range 20 {
		r.now = func() time.Time { return day.Add(time.Duration(i) * time.Minute) }
		res, err := r.ProcessFrame(context.Background(), testFrame())
		if err != nil {
			t.Fatal(err)
		}
		if !res.Matches[0].Accepted || res.Matches[0].Label != "Aman" {
			t.Fatalf("expected accepted match, got %+v", res.Matches[0])
		}
		if res.Matches[0].Recorded {
			recorded++
		}
	}

	if recorded != 1 {
		t.Errorf("recorded %d times, want 1", recorded)
	}
	rows, _ := table.Rows()
	if len(rows) != 1 {
		t.Errorf("expected 1 attendance row, got %d", len(rows))
	}

	r.now = func() time.Time { return day.Add(24 * time.Hour) }
	r.ProcessFrame(context.Background(), testFrame())
	rows, _ = table.Rows()
	if len(rows) != 2 {
		t.Errorf("next day should add a row, got %d", len(rows))
	}
}

func TestProcessFrame_MultipleFacesAndFailures(t *testing.T) {
	svc, _ := newAttendance(t)
	det := &fakeDetector{faces: []faceapi.Face{
		{BBox: image.Rect(0, 0, 20, 20)},
		{BBox: image.Rect(20, 0, 40, 20)},
		{BBox: image.Rect(100, 100, 120, 120)}, // outside the frame
		{BBox: image.Rect(40, 20, 60, 40)},
	}}
	emb := &queueEmbedder{
		vecs: [][]float64{{1, 0}, {0, 1}, {1, 0}},
		errs: []error{nil, errors.New("timeout"), nil},
	}
	r := NewRecognizer(det, emb, svc, reference, Options{Identity: "Aman", Threshold: 0.7})

	res, err := r.ProcessFrame(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("ProcessFrame() error = %v", err)
	}
	if len(res.Matches) != 2 {
		t.Fatalf("expected 2 matches (one embed failure, one empty crop), got %d", len(res.Matches))
	}
	if len(res.JPEG) == 0 {
		t.Error("annotated frame missing")
	}
}

func TestProcessFrame_Errors(t *testing.T) {
	svc, _ := newAttendance(t)

	r := NewRecognizer(&fakeDetector{}, colorEmbedder{}, svc, nil, Options{Identity: "Aman"})
	if _, err := r.ProcessFrame(context.Background(), testFrame()); !errors.Is(err, ErrNoReference) {
		t.Errorf("expected ErrNoReference, got %v", err)
	}

	r.SetReference(reference)
	if !r.HasReference() {
		t.Fatal("reference not set")
	}

	r.detector = &fakeDetector{err: errors.New("face server down")}
	if _, err := r.ProcessFrame(context.Background(), testFrame()); err == nil {
		t.Error("expected detection error")
	}
}

func TestProcessFrame_NoFaces(t *testing.T) {
	svc, _ := newAttendance(t)
	r := NewRecognizer(&fakeDetector{faces: []faceapi.Face{}}, colorEmbedder{}, svc, reference, Options{Identity: "Aman"})

	jpg, err := r.Process(context.Background(), testFrame())
	if err != nil {
		t.Fatal(err)
	}
	if len(jpg) == 0 {
		t.Error("frame without faces should still produce a preview")
	}
}

func TestCollector(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Aman")
	det := &fakeDetector{faces: []faceapi.Face{{BBox: image.Rect(0, 0, 20, 20)}}}
	c, err := NewCollector(det, dir, "Aman", 3, 160)
	if err != nil {
		t.Fatal(err)
	}

	for range 5 {
		if _, err := c.Process(context.Background(), testFrame()); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-c.Done():
	default:
		t.Fatal("collector should be done")
	}
	if c.Saved() != 3 {
		t.Errorf("saved %d, want 3", c.Saved())
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 3 {
		t.Errorf("expected 3 files, got %d", len(entries))
	}
}

func TestCollector_SavesEveryFace(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Aman")
	det := &fakeDetector{faces: []faceapi.Face{
		{Index: 0, BBox: image.Rect(0, 0, 20, 20)},
		{Index: 1, BBox: image.Rect(100, 100, 120, 120)}, // outside the frame
		{Index: 2, BBox: image.Rect(30, 10, 50, 30)},
	}}
	c, err := NewCollector(det, dir, "Aman", 3, 160)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := c.Process(context.Background(), testFrame()); err != nil {
		t.Fatal(err)
	}
	if c.Saved() != 2 {
		t.Fatalf("saved %d after one frame, want 2 (out of bounds face skipped)", c.Saved())
	}

	if _, err := c.Process(context.Background(), testFrame()); err != nil {
		t.Fatal(err)
	}
	if c.Saved() != 3 {
		t.Errorf("saved %d, want 3", c.Saved())
	}
	for _, name := range []string{"1.jpg", "2.jpg", "3.jpg"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "4.jpg")); !os.IsNotExist(err) {
		t.Error("collector wrote past its count")
	}
}

func TestPreviewSize(t *testing.T) {
	svc, _ := newAttendance(t)
	det := &fakeDetector{faces: []faceapi.Face{{BBox: image.Rect(5, 5, 30, 30)}}}
	r := NewRecognizer(det, &queueEmbedder{vecs: [][]float64{{1, 0}}}, svc, reference,
		Options{Identity: "Aman", Threshold: 0.7, PreviewWidth: 32, PreviewHeight: 32})

	res, err := r.ProcessFrame(context.Background(), testFrame())
	if err != nil {
		t.Fatal(err)
	}
	assertJPEGSize(t, res.JPEG, 32, 24)

	c, err := NewCollector(det, t.TempDir(), "Aman", 1, 160)
	if err != nil {
		t.Fatal(err)
	}
	c.SetPreviewSize(16, 16)
	jpg, err := c.Process(context.Background(), testFrame())
	if err != nil {
		t.Fatal(err)
	}
	assertJPEGSize(t, jpg, 16, 12)
}

func assertJPEGSize(t *testing.T, data []byte, w, h int) {
	t.Helper()
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if cfg.Width != w || cfg.Height != h {
		t.Errorf("preview is %dx%d, want %dx%d", cfg.Width, cfg.Height, w, h)
	}
}

func TestAnnotate(t *testing.T) {
	frame := testFrame()
	out := annotate(frame, []Match{
		{BBox: image.Rect(10, 20, 30, 40), Label: "Aman", Accepted: true},
		{BBox: image.Rect(0, 0, 10, 10), Label: "Unknown"},
	})
	if out.Bounds() != frame.Bounds() {
		t.Fatalf("bounds changed: %v", out.Bounds())
	}
	if got := out.RGBAAt(20, 39); got != acceptedColor {
		t.Errorf("expected accepted box color at bottom edge, got %v", got)
	}
}
