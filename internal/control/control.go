// Package control serves the local HTTP control surface: health, status,
// metrics, and remote equivalents of the snapshot and recording keys.
package control

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/23retsuf/oak-drone-system/capture"
	"github.com/23retsuf/oak-drone-system/relay"
)

// Server wires pipeline callbacks into HTTP handlers. All callback fields
// must be set before Router is called.
type Server struct {
	// SessionStats returns a relay stats snapshot.
	SessionStats func() relay.SessionStats

	// CaptureStats returns a capture stats snapshot.
	CaptureStats func() capture.Stats

	// Snapshot saves the latest frame and returns its path.
	Snapshot func() (string, error)

	// ToggleRecording flips the recording state and reports the new one.
	ToggleRecording func() (recording bool, err error)

	// Metrics serves the Prometheus scrape endpoint.
	Metrics http.Handler

	Log *slog.Logger
}

type statusResponse struct {
	State   string                `json:"state"`
	Pulled  uint64                `json:"frames_pulled"`
	Sinks   map[string]sinkStatus `json:"sinks"`
	Capture capture.Stats         `json:"capture"`
}

type sinkStatus struct {
	Policy    string `json:"policy"`
	Depth     int    `json:"depth"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
	LastSeq   uint64 `json:"last_seq"`
}

// Router builds the chi router for the control surface.
func (s *Server) Router() http.Handler {
	if s.Log == nil {
		s.Log = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Post("/snapshot", s.handleSnapshot)
	r.Post("/recording", s.handleRecording)
	if s.Metrics != nil {
		r.Get("/metrics", s.Metrics.ServeHTTP)
	}
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.SessionStats()
	if st.State != relay.StateRunning {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"state":  st.State.String(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.SessionStats()
	resp := statusResponse{
		State:  st.State.String(),
		Pulled: st.FramesPulled,
		Sinks:  make(map[string]sinkStatus, len(st.Sinks)),
	}
	if s.CaptureStats != nil {
		resp.Capture = s.CaptureStats()
	}
	for id, sk := range st.Sinks {
		resp.Sinks[id] = sinkStatus{
			Policy:    sk.Policy.String(),
			Depth:     sk.Depth,
			Delivered: sk.Delivered,
			Dropped:   sk.Dropped,
			Queued:    sk.Queued,
			LastSeq:   sk.LastSeq,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	path, err := s.Snapshot()
	if err != nil {
		s.Log.Error("control: snapshot failed", "error", err)
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	recording, err := s.ToggleRecording()
	if err != nil {
		s.Log.Error("control: toggle recording failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"recording": recording})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
