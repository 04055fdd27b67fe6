package command

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/23retsuf/oak-drone-system/relay"
	"github.com/23retsuf/oak-drone-system/sink"
)

// Sink IDs the handler owns on the relay session.
const (
	tapSinkID      = "command-tap"
	recorderSinkID = "recorder"
)

// Handler executes operator commands against a running relay session.
//
// It keeps a one-frame tap on the session (newest frame wins) so Snapshot
// always has the most recent frame, and it owns the recorder sink's
// register/unregister lifecycle for ToggleRecording.
type Handler struct {
	session relay.Session
	log     *slog.Logger

	snapshotDir string
	recordDir   string

	mu        sync.Mutex
	latest    relay.Frame
	hasFrame  bool
	recording *sink.FileSink
}

// NewHandler attaches a latest-frame tap to the session and returns a
// handler saving snapshots under snapshotDir and recordings under recordDir.
func NewHandler(session relay.Session, snapshotDir, recordDir string, log *slog.Logger) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		session:     session,
		log:         log,
		snapshotDir: snapshotDir,
		recordDir:   recordDir,
	}

	tap := relay.SinkFunc(func(f relay.Frame) error {
		h.mu.Lock()
		h.latest = f
		h.hasFrame = true
		h.mu.Unlock()
		return nil
	})
	err := session.RegisterSink(tapSinkID, tap, relay.SinkPolicy{
		Policy: relay.DropOldest,
		Depth:  1,
	})
	if err != nil {
		return nil, fmt.Errorf("command: register tap: %w", err)
	}
	return h, nil
}

// Handle executes one command. Returns true when the pipeline should shut
// down (Quit).
func (h *Handler) Handle(c Command) bool {
	switch c {
	case Quit:
		h.log.Info("command: quit requested")
		return true
	case Snapshot:
		if _, err := h.TakeSnapshot(); err != nil {
			h.log.Error("command: snapshot failed", "error", err)
		}
	case ToggleRecording:
		if _, err := h.Toggle(); err != nil {
			h.log.Error("command: toggle recording failed", "error", err)
		}
	}
	return false
}

// Recording reports whether a recording is currently running.
func (h *Handler) Recording() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recording != nil
}

// Close releases the handler's sinks. A running recording is finalized.
func (h *Handler) Close() {
	h.session.UnregisterSink(tapSinkID)

	h.mu.Lock()
	rec := h.recording
	h.recording = nil
	h.mu.Unlock()
	if rec != nil {
		h.session.UnregisterSink(recorderSinkID)
		rec.Close()
	}
}

// TakeSnapshot saves the most recent frame and returns the created path.
func (h *Handler) TakeSnapshot() (string, error) {
	h.mu.Lock()
	f, ok := h.latest, h.hasFrame
	h.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("command: no frame received yet")
	}
	path, err := sink.SaveSnapshot(h.snapshotDir, f)
	if err != nil {
		return "", err
	}
	h.log.Info("command: snapshot saved", "path", path, "trace_id", f.TraceID)
	return path, nil
}

// Toggle starts a recording if idle, or finalizes the running one. Returns
// the new recording state.
func (h *Handler) Toggle() (bool, error) {
	h.mu.Lock()
	rec := h.recording
	h.mu.Unlock()

	if rec != nil {
		// The sink must leave the session before it is closed, so no
		// drain write races the close.
		h.session.UnregisterSink(recorderSinkID)
		err := rec.Close()
		h.mu.Lock()
		h.recording = nil
		h.mu.Unlock()
		h.log.Info("command: recording stopped", "path", rec.Path(), "frames", rec.Written())
		return false, err
	}

	fs, err := sink.NewFileSink(sink.FileConfig{Dir: h.recordDir, Logger: h.log})
	if err != nil {
		return false, err
	}
	err = h.session.RegisterSink(recorderSinkID, fs, relay.SinkPolicy{
		Policy: relay.Blocking,
		Depth:  30,
	})
	if err != nil {
		fs.Close()
		return false, fmt.Errorf("command: register recorder: %w", err)
	}
	h.mu.Lock()
	h.recording = fs
	h.mu.Unlock()
	h.log.Info("command: recording started", "dir", h.recordDir)
	return true, nil
}
