package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/23retsuf/oak-drone-system/capture"
	"github.com/23retsuf/oak-drone-system/relay"
)

func testServer(state relay.State) *Server {
	return &Server{
		SessionStats: func() relay.SessionStats {
			return relay.SessionStats{
				State:        state,
				FramesPulled: 42,
				Sinks: map[string]relay.SinkStats{
					"display": {
						SinkID:    "display",
						Policy:    relay.DropOldest,
						Depth:     1,
						Delivered: 40,
						Dropped:   2,
						LastSeq:   42,
					},
				},
			}
		},
		CaptureStats: func() capture.Stats {
			return capture.Stats{FrameCount: 42, Resolution: "1280x720", Mode: "raw", IsOpen: true}
		},
		Snapshot:        func() (string, error) { return "/tmp/snap.jpg", nil },
		ToggleRecording: func() (bool, error) { return true, nil },
	}
}

func TestHealthzRunning(t *testing.T) {
	rec := httptest.NewRecorder()
	testServer(relay.StateRunning).Router().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHealthzNotRunning(t *testing.T) {
	rec := httptest.NewRecorder()
	testServer(relay.StateStopped).Router().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestStatusReportsSinks(t *testing.T) {
	rec := httptest.NewRecorder()
	testServer(relay.StateRunning).Router().ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp statusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State != "running" {
		t.Errorf("state = %q, want running", resp.State)
	}
	if resp.Pulled != 42 {
		t.Errorf("frames_pulled = %d, want 42", resp.Pulled)
	}
	display, ok := resp.Sinks["display"]
	if !ok {
		t.Fatal("display sink missing from status")
	}
	if display.Policy != "drop-oldest" || display.Delivered != 40 || display.Dropped != 2 {
		t.Errorf("display sink = %+v", display)
	}
	if !resp.Capture.IsOpen || resp.Capture.Resolution != "1280x720" {
		t.Errorf("capture stats = %+v", resp.Capture)
	}
}

func TestSnapshotEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	testServer(relay.StateRunning).Router().ServeHTTP(rec, httptest.NewRequest("POST", "/snapshot", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["path"] != "/tmp/snap.jpg" {
		t.Errorf("path = %q", resp["path"])
	}
}

func TestSnapshotEndpointConflict(t *testing.T) {
	srv := testServer(relay.StateRunning)
	srv.Snapshot = func() (string, error) { return "", errors.New("no frame received yet") }
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest("POST", "/snapshot", nil))
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestRecordingEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	testServer(relay.StateRunning).Router().ServeHTTP(rec, httptest.NewRequest("POST", "/recording", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp["recording"] {
		t.Error("recording should be true")
	}
}

func TestSnapshotRequiresPost(t *testing.T) {
	rec := httptest.NewRecorder()
	testServer(relay.StateRunning).Router().ServeHTTP(rec, httptest.NewRequest("GET", "/snapshot", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}
