package session

import (
	"sync"
	"sync/atomic"
)

// sinkSlot pairs a registered sink adapter with its queue and the state of
// its dedicated drain goroutine.
//
// Goroutine topology: exactly one drain goroutine per slot, spawned by
// RegisterSink and owned by the session. The adapter is closed exactly once,
// normally by the drain goroutine on exit, or by the session when forcing a
// close after the grace period.
type sinkSlot struct {
	id     string
	sink   Sink
	policy SinkPolicy
	queue  *frameQueue

	delivered atomic.Uint64
	lastSeq   atomic.Uint64

	done      chan struct{} // closed when the drain goroutine exits
	closeOnce sync.Once
	closeErr  error
}

func newSinkSlot(id string, sink Sink, policy SinkPolicy) *sinkSlot {
	return &sinkSlot{
		id:     id,
		sink:   sink,
		policy: policy,
		queue:  newFrameQueue(policy),
		done:   make(chan struct{}),
	}
}

// closeAdapter closes the underlying sink adapter exactly once.
// Safe to call from the drain goroutine and the session concurrently;
// closing from outside is what unblocks a write stuck inside the worker.
func (sl *sinkSlot) closeAdapter() error {
	sl.closeOnce.Do(func() {
		sl.closeErr = sl.sink.Close()
	})
	return sl.closeErr
}

// stats returns a point-in-time snapshot for this slot.
func (sl *sinkSlot) stats() SinkStats {
	return SinkStats{
		SinkID:    sl.id,
		Policy:    sl.policy.Policy,
		Depth:     sl.policy.Depth,
		Delivered: sl.delivered.Load(),
		Dropped:   sl.queue.dropCount(),
		LastSeq:   sl.lastSeq.Load(),
		Queued:    sl.queue.queued(),
	}
}
