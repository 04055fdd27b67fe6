package relay

import (
	"context"

	"github.com/23retsuf/oak-drone-system/relay/internal/session"
)

// Session is the public interface for a frame-relay pipeline.
//
// Lifecycle: New() → Start() → RegisterSink()/UnregisterSink() → Stop().
// State machine: Created → Running → Stopping → Stopped. Stopped is
// terminal; construct a new Session to restart.
//
// All methods are safe for concurrent use.
type Session interface {
	// Start opens the source adapter and begins the pull loop.
	//
	// Returns ErrSourceUnavailable (wrapped) if the adapter cannot be
	// opened. Idempotent: calling Start on a running session is a no-op.
	// Calling Start on a stopping or stopped session returns
	// ErrSessionStopped.
	//
	// The pull loop runs in its own goroutine and never blocks on sink
	// delivery beyond a non-blocking enqueue. It exits when ctx is
	// cancelled, Stop is called, or the source fails.
	Start(ctx context.Context) error

	// RegisterSink adds a sink under the given delivery policy and spawns
	// its dedicated drain goroutine. May be called while running; the next
	// pulled frame includes the new sink.
	//
	// Returns ErrInvalidPolicy if policy.Depth < 1, ErrSinkExists for a
	// duplicate id, ErrSessionStopped after shutdown has begun.
	RegisterSink(id string, sink Sink, policy SinkPolicy) error

	// UnregisterSink removes a sink. Frames already queued for it are
	// discarded without error and its adapter is closed by the drain
	// worker. Idempotent: unknown ids are ignored.
	UnregisterSink(id string)

	// Stop halts the pull loop, releases the source, then closes every
	// sink: Blocking sinks drain their queue, drop-policy sinks discard
	// it. Each sink gets a bounded grace period to flush before being
	// force-closed (reported as a SinkCloseTimeout warning, not an error).
	//
	// Always succeeds; idempotent and safe to call concurrently with an
	// in-progress pull or delivery.
	Stop() error

	// Failures delivers asynchronous per-sink failure notifications
	// (SinkFailed, SinkCloseTimeout). A failed sink is reported exactly
	// once. The channel is buffered; notifications are dropped, not
	// queued, when nobody is consuming them.
	Failures() <-chan SinkFailure

	// Stats returns a snapshot of pull and per-sink delivery/drop
	// counters. Non-blocking; safe from any goroutine.
	Stats() SessionStats

	// State returns the current lifecycle state.
	State() State

	// Done is closed once the session has fully stopped.
	Done() <-chan struct{}

	// Err returns the fatal source error that ended the session, if any.
	// Sink failures never appear here.
	Err() error
}

// New creates a Session relaying frames from src.
//
// Options:
//
//	relay.WithCloseGrace(500 * time.Millisecond)
//	relay.WithLogger(logger)
func New(src Source, opts ...Option) Session {
	return session.NewSession(src, opts...)
}
