package session

import (
	"errors"
	"time"
)

// Internal errors - mapped to public errors in the relay package
var (
	ErrSourceUnavailable = errors.New("relay: source unavailable")
	ErrInvalidPolicy     = errors.New("relay: sink queue depth must be at least 1")
	ErrSinkExists        = errors.New("relay: sink already registered")
	ErrSessionStopped    = errors.New("relay: session is stopped")
	ErrSinkCloseTimeout  = errors.New("relay: sink close grace period exceeded")
)

// Frame represents a video frame with an immutability contract for
// zero-copy sharing between sinks.
//
// Contract:
//   - Source adapters MUST NOT modify Data after returning it
//   - Sinks MUST NOT modify Data (read-only access)
type Frame struct {
	// Seq is a monotonically increasing sequence number assigned by the
	// session at the moment the frame is pulled from the source.
	Seq uint64

	// Timestamp is the capture time (source time, not processing time).
	Timestamp time.Time

	// Width and Height in pixels. Zero for encoded bitstream chunks whose
	// geometry lives in the stream itself.
	Width  int
	Height int

	// Data contains raw pixel bytes or an encoded bitstream chunk.
	Data []byte

	// TraceID is a unique identifier for tracing a frame across sinks.
	TraceID string
}

// Policy defines how a full sink queue treats frames.
type Policy int

const (
	Blocking Policy = iota
	DropOldest
	DropNewest
)

func (p Policy) String() string {
	switch p {
	case Blocking:
		return "blocking"
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	default:
		return "unknown"
	}
}

// SinkPolicy binds a delivery policy to a maximum queue depth.
// Depth must be >= 1; a Blocking sink treats Depth as the high-water mark
// past which queue pressure is logged, never as a reason to drop.
type SinkPolicy struct {
	Policy Policy
	Depth  int
}

// State is the session lifecycle state. Stopped is terminal.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Source is the boundary adapter wrapping the hardware frame producer.
//
// NextFrame blocks until a frame is available; that is the hardware's
// native behavior and is not reimplemented here. The session never imposes
// a timeout on it. Close must unblock a pending NextFrame.
type Source interface {
	Open() error
	NextFrame() (Frame, error)
	Close() error
}

// Sink is any downstream consumer of frames.
//
// WriteFrame may block (file write, pipe write, display refresh); it runs
// on the sink's dedicated drain goroutine, never on the pull loop.
type Sink interface {
	WriteFrame(Frame) error
	Close() error
}

// SinkFunc adapts a function to the Sink interface. Close is a no-op.
type SinkFunc func(Frame) error

func (f SinkFunc) WriteFrame(frame Frame) error { return f(frame) }

func (f SinkFunc) Close() error { return nil }

// SinkFailure reports an isolated per-sink failure. Err wraps the
// delivery error, or ErrSinkCloseTimeout for a forced close at shutdown.
type SinkFailure struct {
	SinkID string
	Err    error
}

// SinkStats tracks per-sink delivery metrics.
type SinkStats struct {
	SinkID string
	Policy Policy
	Depth  int

	// Delivered is the lifetime count of frames accepted by the adapter.
	Delivered uint64

	// Dropped is the lifetime count of frames dropped by backpressure.
	Dropped uint64

	// LastSeq is the sequence number of the last delivered frame.
	LastSeq uint64

	// Queued is the number of frames currently waiting in the sink queue.
	Queued int
}

// SessionStats is a snapshot of session operational state.
type SessionStats struct {
	State        State
	FramesPulled uint64

	// Sinks maps sink id to per-sink statistics for currently registered
	// sinks. Unregistered and failed sinks are removed from the snapshot.
	Sinks map[string]SinkStats
}
