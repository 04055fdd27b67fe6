// Package session implements the frame-relay pipeline behind the public
// relay package.
//
// This package is INTERNAL - clients MUST use the public API in the relay
// package. Reason: allows internal refactoring without breaking changes.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCloseGrace is the default bounded wait for a sink to flush on close.
const DefaultCloseGrace = time.Second

// Option configures a session at construction time.
type Option func(*session)

// WithCloseGrace overrides the per-sink shutdown grace period.
func WithCloseGrace(d time.Duration) Option {
	return func(s *session) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithLogger sets the structured logger used by the session.
func WithLogger(log *slog.Logger) Option {
	return func(s *session) {
		if log != nil {
			s.log = log
		}
	}
}

// session is the concrete implementation of relay.Session.
//
// Goroutine topology:
//   - 1 fixed: pullLoop (spawned by Start, exits on Stop or source death)
//   - 1 per sink: drain goroutine (spawned by RegisterSink)
//
// The pull loop performs a blocking NextFrame per iteration and fans out
// with non-blocking enqueues only; a sink's slowness can never stall it.
type session struct {
	src   Source
	log   *slog.Logger
	grace time.Duration

	// --- Sink Registry ---
	// registerSink/unregisterSink may run on any goroutine, the pull loop
	// snapshots under RLock on every frame.

	mu    sync.RWMutex
	sinks map[string]*sinkSlot

	// --- Lifecycle ---

	state    atomic.Int32 // State, transitions guarded by lifeMu
	lifeMu   sync.Mutex   // serializes Start/Stop transitions
	cancel   context.CancelFunc
	pullDone chan struct{} // closed when pullLoop exits
	done     chan struct{} // closed when the session is fully stopped

	failures chan SinkFailure

	// --- Counters ---

	seq          atomic.Uint64
	framesPulled atomic.Uint64

	errMu  sync.Mutex
	srcErr error
}

// NewSession creates a session relaying frames from src (called by the
// public relay.New).
func NewSession(src Source, opts ...Option) *session {
	s := &session{
		src:      src,
		log:      slog.Default(),
		grace:    DefaultCloseGrace,
		sinks:    make(map[string]*sinkSlot),
		pullDone: make(chan struct{}),
		done:     make(chan struct{}),
		failures: make(chan SinkFailure, 16),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.state.Store(int32(StateCreated))
	return s
}

// Start opens the source and begins the pull loop (implements Session.Start).
//
// Idempotent: a second Start on a running session is a no-op. A session
// past Stop cannot be restarted (Stopped is terminal).
func (s *session) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	switch State(s.state.Load()) {
	case StateRunning:
		return nil // already running (idempotent)
	case StateStopping, StateStopped:
		return ErrSessionStopped
	}

	if err := s.src.Open(); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.state.Store(int32(StateRunning))

	go s.pullLoop(ctx)

	s.log.Info("relay: session started")
	return nil
}

// pullLoop is the dedicated source-pull goroutine.
//
// It performs one blocking NextFrame per iteration (no timeout imposed;
// the hardware takes as long as it takes) and checks cancellation between
// frames. Sink failures never stop it; source failure ends the session.
func (s *session) pullLoop(ctx context.Context) {
	defer close(s.pullDone)

	for {
		if ctx.Err() != nil {
			return // Stop requested between frames
		}

		frame, err := s.src.NextFrame()
		if err != nil {
			if ctx.Err() != nil {
				// Stop in progress closed the source under us.
				return
			}
			s.setErr(fmt.Errorf("%w: %v", ErrSourceUnavailable, err))
			s.log.Error("relay: source failed, stopping session", "error", err)
			// Source death is not sink-isolated: tear the session down.
			go s.Stop()
			return
		}

		frame.Seq = s.seq.Add(1)
		s.framesPulled.Add(1)
		s.fanOut(frame)
	}
}

// fanOut offers the frame to every registered sink with a non-blocking
// enqueue. Drops are counted per sink queue and are silent by design.
func (s *session) fanOut(frame Frame) {
	s.mu.RLock()
	slots := make([]*sinkSlot, 0, len(s.sinks))
	for _, sl := range s.sinks {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	for _, sl := range slots {
		sl.queue.push(frame)
	}
}

// RegisterSink adds a sink and spawns its drain goroutine (implements
// Session.RegisterSink).
func (s *session) RegisterSink(id string, sink Sink, policy SinkPolicy) error {
	if policy.Depth < 1 {
		return ErrInvalidPolicy
	}

	sl := newSinkSlot(id, sink, policy)

	s.mu.Lock()
	// State is checked under the registry lock: Stop marks Stopping before
	// it snapshots the registry, so a sink admitted here is always torn
	// down by Stop rather than leaked.
	switch State(s.state.Load()) {
	case StateStopping, StateStopped:
		s.mu.Unlock()
		return ErrSessionStopped
	}
	if _, exists := s.sinks[id]; exists {
		s.mu.Unlock()
		return ErrSinkExists
	}
	s.sinks[id] = sl
	s.mu.Unlock()

	go s.drainSink(sl)

	s.log.Info("relay: sink registered",
		"sink", id,
		"policy", policy.Policy.String(),
		"depth", policy.Depth,
	)
	return nil
}

// UnregisterSink removes a sink; queued frames are discarded without error
// (implements Session.UnregisterSink). Idempotent.
func (s *session) UnregisterSink(id string) {
	s.mu.Lock()
	sl, ok := s.sinks[id]
	if ok {
		delete(s.sinks, id)
	}
	s.mu.Unlock()

	if !ok {
		return // not registered (idempotent)
	}

	sl.queue.close(false)
	s.log.Info("relay: sink unregistered", "sink", id)
}

// drainSink is the per-sink consumption goroutine: it drains the sink's
// queue and performs the potentially slow delivery to the adapter.
//
// Exits when the queue is closed (unregister or Stop) or delivery fails.
// On every exit path it closes the adapter, so a sink removed mid-stream is
// always finalized, even when the failed write raced an unregister.
func (s *session) drainSink(sl *sinkSlot) {
	defer close(sl.done)
	defer func() {
		if err := sl.closeAdapter(); err != nil {
			s.log.Warn("relay: sink close failed", "sink", sl.id, "error", err)
		}
	}()

	for {
		frame, ok := sl.queue.pop()
		if !ok {
			return
		}

		if err := sl.sink.WriteFrame(frame); err != nil {
			s.failSink(sl, err)
			return
		}

		sl.delivered.Add(1)
		sl.lastSeq.Store(frame.Seq)
	}
}

// failSink isolates a delivery failure to one sink: the sink is
// unregistered and the failure reported exactly once. The adapter close
// itself is owned by drainSink's exit path. The pull loop and the other
// sinks are unaffected.
func (s *session) failSink(sl *sinkSlot, cause error) {
	s.mu.Lock()
	current, registered := s.sinks[sl.id]
	if registered && current == sl {
		delete(s.sinks, sl.id)
	}
	s.mu.Unlock()

	if !registered || current != sl {
		// Lost the race with unregister or Stop: whoever removed the
		// sink already reported or sealed it, nothing left to announce.
		return
	}

	sl.queue.close(false)

	s.log.Warn("relay: sink failed, unregistered", "sink", sl.id, "error", cause)
	s.notify(SinkFailure{SinkID: sl.id, Err: cause})
}

// notify reports a failure without ever blocking delivery paths.
func (s *session) notify(f SinkFailure) {
	select {
	case s.failures <- f:
	default:
		// Nobody is consuming failure notifications; drop rather than stall.
	}
}

// Stop halts the pull loop, releases the source, then tears down sinks
// (implements Session.Stop). Shutdown ordering guarantees no frame is
// delivered after a sink begins shutdown.
//
// Idempotent and safe to call concurrently; late callers wait for the
// first Stop to complete.
func (s *session) Stop() error {
	s.lifeMu.Lock()
	switch State(s.state.Load()) {
	case StateCreated:
		// Never started: nothing to drain.
		s.state.Store(int32(StateStopped))
		close(s.done)
		s.lifeMu.Unlock()
		return nil
	case StateStopped:
		s.lifeMu.Unlock()
		return nil
	case StateStopping:
		s.lifeMu.Unlock()
		<-s.done
		return nil
	}
	s.state.Store(int32(StateStopping))
	s.lifeMu.Unlock()

	// 1. Stop pulling before tearing down any sink. Closing the source
	// unblocks a pending NextFrame; at most one already-requested frame
	// is still relayed.
	s.cancel()
	if err := s.src.Close(); err != nil {
		s.log.Warn("relay: source close failed", "error", err)
	}
	<-s.pullDone

	// 2. Detach all sinks, then close each with a bounded grace period.
	s.mu.Lock()
	slots := make([]*sinkSlot, 0, len(s.sinks))
	for _, sl := range s.sinks {
		slots = append(slots, sl)
	}
	s.sinks = make(map[string]*sinkSlot)
	s.mu.Unlock()

	for _, sl := range slots {
		s.closeSlot(sl)
	}

	s.state.Store(int32(StateStopped))
	close(s.done)
	s.log.Info("relay: session stopped", "frames_pulled", s.framesPulled.Load())
	return nil
}

// closeSlot seals one sink queue (Blocking sinks flush, drop-policy sinks
// discard) and waits up to the grace period for the drain goroutine to
// finish. A sink that does not close in time is force-closed and reported
// as a warning, never escalated to a fatal error.
func (s *session) closeSlot(sl *sinkSlot) {
	sl.queue.close(sl.policy.Policy == Blocking)

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-sl.done:
	case <-timer.C:
		s.log.Warn("relay: sink close grace period exceeded, forcing close",
			"sink", sl.id,
			"grace", s.grace,
		)
		// Closing the adapter out from under the worker unblocks a write
		// stuck inside it.
		_ = sl.closeAdapter()
		s.notify(SinkFailure{SinkID: sl.id, Err: ErrSinkCloseTimeout})
	}
}

// Failures returns the asynchronous failure notification channel
// (implements Session.Failures).
func (s *session) Failures() <-chan SinkFailure {
	return s.failures
}

// Stats returns a non-blocking snapshot (implements Session.Stats).
func (s *session) Stats() SessionStats {
	stats := SessionStats{
		State:        State(s.state.Load()),
		FramesPulled: s.framesPulled.Load(),
		Sinks:        make(map[string]SinkStats),
	}

	s.mu.RLock()
	for id, sl := range s.sinks {
		stats.Sinks[id] = sl.stats()
	}
	s.mu.RUnlock()

	return stats
}

// State returns the current lifecycle state (implements Session.State).
func (s *session) State() State {
	return State(s.state.Load())
}

// Done is closed once the session has fully stopped (implements
// Session.Done).
func (s *session) Done() <-chan struct{} {
	return s.done
}

// Err returns the fatal source error, if any (implements Session.Err).
func (s *session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.srcErr
}

func (s *session) setErr(err error) {
	s.errMu.Lock()
	if s.srcErr == nil {
		s.srcErr = err
	}
	s.errMu.Unlock()
}
