package relay

import "github.com/23retsuf/oak-drone-system/relay/internal/session"

// Public API - Re-export internal types as stable contract

// Frame is one timestamped unit of image or encoded video data.
// Immutable after intake: neither the session nor any sink may modify Data.
type Frame = session.Frame

// Policy defines how a full sink queue treats frames.
type Policy = session.Policy

const (
	// Blocking delivers every frame; the sink's drain worker absorbs
	// backpressure and the queue grows past its depth rather than drop.
	Blocking = session.Blocking
	// DropOldest evicts the oldest queued frame to admit the new one.
	DropOldest = session.DropOldest
	// DropNewest rejects the incoming frame when the queue is full.
	DropNewest = session.DropNewest
)

// SinkPolicy binds a drop policy to a queue depth (depth >= 1).
type SinkPolicy = session.SinkPolicy

// Source is the boundary adapter wrapping the hardware/SDK frame producer.
type Source = session.Source

// Sink is any downstream consumer of frames (display, file, subprocess pipe).
type Sink = session.Sink

// SinkFunc adapts a plain function to the Sink interface (Close is a no-op).
type SinkFunc = session.SinkFunc

// SinkFailure is an asynchronous per-sink failure notification.
type SinkFailure = session.SinkFailure

// SinkStats tracks per-sink delivery metrics.
type SinkStats = session.SinkStats

// SessionStats is a snapshot of session operational state.
type SessionStats = session.SessionStats

// State is the session lifecycle state.
type State = session.State

const (
	StateCreated  = session.StateCreated
	StateRunning  = session.StateRunning
	StateStopping = session.StateStopping
	StateStopped  = session.StateStopped
)

// Option configures a Session at construction time.
type Option = session.Option

var (
	// WithCloseGrace overrides the per-sink shutdown grace period
	// (default DefaultCloseGrace).
	WithCloseGrace = session.WithCloseGrace
	// WithLogger sets the structured logger used by the session.
	WithLogger = session.WithLogger
)

// DefaultCloseGrace is the default bounded wait for a sink to flush on close.
const DefaultCloseGrace = session.DefaultCloseGrace

// Public API errors - Re-export internal errors as stable contract
var (
	ErrSourceUnavailable = session.ErrSourceUnavailable
	ErrInvalidPolicy     = session.ErrInvalidPolicy
	ErrSinkExists        = session.ErrSinkExists
	ErrSessionStopped    = session.ErrSessionStopped
	ErrSinkCloseTimeout  = session.ErrSinkCloseTimeout
)
