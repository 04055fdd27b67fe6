package session

import "sync"

// frameQueue is the per-sink frame buffer, the only resource shared between
// the pull goroutine and one sink's drain goroutine.
//
// Concurrency contract: single writer (the pull loop via push), single
// reader (the sink's drain goroutine via pop). Registry bookkeeping never
// touches it except to close it.
type frameQueue struct {
	mu   sync.Mutex
	cond *sync.Cond // signals the drain goroutine

	items  []Frame // FIFO, head first
	depth  int
	policy Policy

	dropped uint64
	closed  bool
}

func newFrameQueue(policy SinkPolicy) *frameQueue {
	q := &frameQueue{
		depth:  policy.Depth,
		policy: policy.Policy,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push enqueues a frame under the queue's policy. Never blocks.
//
// Returns false when the frame was not accepted (queue closed, or
// DropNewest with a full queue).
func (q *frameQueue) push(f Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if len(q.items) >= q.depth {
		switch q.policy {
		case DropNewest:
			q.dropped++
			return false
		case DropOldest:
			// Evict the oldest queued frame so the queue always holds
			// the depth most recent ones.
			q.items[0] = Frame{}
			q.items = q.items[1:]
			q.dropped++
		case Blocking:
			// A Blocking sink never drops: the queue grows past depth and
			// the drain worker absorbs the backpressure.
		}
	}

	q.items = append(q.items, f)
	q.cond.Signal()
	return true
}

// pop dequeues the next frame, blocking until one is available or the
// queue is closed. Returns false once the queue is exhausted: immediately
// for discard-on-close queues, after the remaining frames for drain-on-close.
func (q *frameQueue) pop() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}

	if len(q.items) == 0 {
		return Frame{}, false
	}

	f := q.items[0]
	q.items[0] = Frame{} // release the data reference
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return f, true
}

// close seals the queue. With drain=true the reader still receives frames
// already queued; with drain=false they are discarded. Idempotent, but the
// drain decision of the first close wins.
func (q *frameQueue) close(drain bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true

	if !drain {
		for i := range q.items {
			q.items[i] = Frame{}
		}
		q.items = nil
	}
	q.cond.Broadcast()
}

// dropCount returns the lifetime number of frames dropped by backpressure.
func (q *frameQueue) dropCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// queued returns the number of frames currently buffered.
func (q *frameQueue) queued() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
