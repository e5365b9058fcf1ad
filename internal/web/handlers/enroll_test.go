package handlers

import (
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/faceapi"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

type referenceSink struct {
	mu  sync.Mutex
	ref []float64
}

func (s *referenceSink) SetReference(ref []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ref = ref
}

func (s *referenceSink) get() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ref
}

func writeFaceImages(t *testing.T, dir string, n int) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for i := range n {
		img := image.NewRGBA(image.Rect(0, 0, 24, 24))
		for y := range 24 {
			for x := range 24 {
				img.Set(x, y, color.RGBA{R: uint8(40 * i), G: 120, B: 200, A: 255})
			}
		}
		f, err := os.Create(filepath.Join(dir, string(rune('a'+i))+".png"))
		if err != nil {
			t.Fatal(err)
		}
		png.Encode(f, img)
		f.Close()
	}
}

func newEnrollHandler(t *testing.T, det faceapi.Detector) (*EnrollHandler, *referenceSink, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	sink := &referenceSink{}
	enroller := recognition.NewEnroller(det, constEmbedder{vec: []float64{0.5, 0.25, 1}}, 160, "Aman", nil)
	return NewEnrollHandler(enroller, sink, NewJobManager(), env.cfg.Storage.FacesDir, env.cfg.Storage.ReferenceFile), sink, env
}

func waitForJob(t *testing.T, jobs *JobManager, id string) EnrollJobState {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if job := jobs.GetJob(id); job != nil && isJobTerminal(job.GetStatus()) {
			return job.State()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return EnrollJobState{}
}

func TestEnrollHandler_Completes(t *testing.T) {
	det := &staticDetector{faces: []faceapi.Face{{BBox: image.Rect(2, 2, 20, 20)}}}
	handler, sink, env := newEnrollHandler(t, det)
	writeFaceImages(t, env.cfg.Storage.FacesDir, 3)

	recorder := httptest.NewRecorder()
	handler.Start(recorder, requestAs("POST", "/api/v1/enroll", nil, testAdmin, "admin"))
	assertStatusCode(t, recorder, http.StatusAccepted)

	var started EnrollJobState
	parseJSONResponse(t, recorder, &started)
	if started.ID == "" {
		t.Fatal("expected a job id")
	}

	state := waitForJob(t, handler.jobs, started.ID)
	if state.Status != JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", state.Status, state.Error)
	}
	if state.Result == nil || state.Result.Embedded != 3 || state.Result.Dim != 3 {
		t.Errorf("unexpected result %+v", state.Result)
	}
	if state.Done != 3 || state.Total != 3 {
		t.Errorf("unexpected progress %d/%d", state.Done, state.Total)
	}
	if ref := sink.get(); len(ref) != 3 || ref[1] != 0.25 {
		t.Errorf("recognizer reference not updated: %v", ref)
	}
	if _, err := os.Stat(env.cfg.Storage.ReferenceFile); err != nil {
		t.Errorf("reference file not written: %v", err)
	}

	recorder = httptest.NewRecorder()
	handler.Status(recorder, requestWithChiParams(httptest.NewRequest("GET", "/api/v1/enroll/"+started.ID, nil), map[string]string{"jobId": started.ID}))
	assertStatusCode(t, recorder, http.StatusOK)

	recorder = httptest.NewRecorder()
	handler.Events(recorder, requestWithChiParams(httptest.NewRequest("GET", "/api/v1/enroll/"+started.ID+"/events", nil), map[string]string{"jobId": started.ID}))
	if !strings.Contains(recorder.Body.String(), "event: status") {
		t.Errorf("expected a status event, got %q", recorder.Body.String())
	}
	assertContentType(t, recorder, "text/event-stream")
}

func TestEnrollHandler_NoFaces(t *testing.T) {
	handler, sink, env := newEnrollHandler(t, &staticDetector{})
	writeFaceImages(t, env.cfg.Storage.FacesDir, 2)

	recorder := httptest.NewRecorder()
	handler.Start(recorder, requestAs("POST", "/api/v1/enroll", nil, testAdmin, "admin"))
	var started EnrollJobState
	parseJSONResponse(t, recorder, &started)

	state := waitForJob(t, handler.jobs, started.ID)
	if state.Status != JobStatusFailed || state.Error != recognition.ErrNoFaces.Error() {
		t.Errorf("expected failure with ErrNoFaces, got %s %q", state.Status, state.Error)
	}
	if sink.get() != nil {
		t.Error("reference must not change when no faces were found")
	}
	if _, err := os.Stat(env.cfg.Storage.ReferenceFile); !os.IsNotExist(err) {
		t.Error("reference file must not be written")
	}
}

func TestEnrollHandler_SingleJob(t *testing.T) {
	det := &staticDetector{faces: []faceapi.Face{{BBox: image.Rect(2, 2, 20, 20)}}, wait: make(chan struct{})}
	handler, _, env := newEnrollHandler(t, det)
	writeFaceImages(t, env.cfg.Storage.FacesDir, 1)

	recorder := httptest.NewRecorder()
	handler.Start(recorder, requestAs("POST", "/api/v1/enroll", nil, testAdmin, "admin"))
	var started EnrollJobState
	parseJSONResponse(t, recorder, &started)

	recorder = httptest.NewRecorder()
	handler.Start(recorder, requestAs("POST", "/api/v1/enroll", nil, testAdmin, "admin"))
	assertStatusCode(t, recorder, http.StatusConflict)

	close(det.wait)
	if state := waitForJob(t, handler.jobs, started.ID); state.Status != JobStatusCompleted {
		t.Errorf("expected completed, got %s", state.Status)
	}
}

func TestEnrollHandler_Cancel(t *testing.T) {
	det := &staticDetector{faces: []faceapi.Face{{BBox: image.Rect(2, 2, 20, 20)}}, wait: make(chan struct{})}
	handler, sink, env := newEnrollHandler(t, det)
	writeFaceImages(t, env.cfg.Storage.FacesDir, 2)

	recorder := httptest.NewRecorder()
	handler.Start(recorder, requestAs("POST", "/api/v1/enroll", nil, testAdmin, "admin"))
	var started EnrollJobState
	parseJSONResponse(t, recorder, &started)

	recorder = httptest.NewRecorder()
	handler.Cancel(recorder, requestWithChiParams(httptest.NewRequest("DELETE", "/", nil), map[string]string{"jobId": started.ID}))
	assertStatusCode(t, recorder, http.StatusOK)

	if state := waitForJob(t, handler.jobs, started.ID); state.Status != JobStatusCancelled {
		t.Errorf("expected cancelled, got %s", state.Status)
	}
	if sink.get() != nil {
		t.Error("cancelled enrollment must not set a reference")
	}
}

func TestEnrollHandler_UnknownJob(t *testing.T) {
	handler, _, _ := newEnrollHandler(t, &staticDetector{})

	recorder := httptest.NewRecorder()
	handler.Status(recorder, requestWithChiParams(httptest.NewRequest("GET", "/", nil), map[string]string{"jobId": "nope"}))
	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, "job not found")
}
