package relay_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/23retsuf/oak-drone-system/relay"
)

// --- Test doubles ---

// stubSource feeds frames from a channel; NextFrame blocks like real
// hardware and Close unblocks it.
type stubSource struct {
	frames  chan relay.Frame
	openErr error

	mu     sync.Mutex
	closed bool
}

func newStubSource() *stubSource {
	return &stubSource{frames: make(chan relay.Frame, 64)}
}

func (s *stubSource) Open() error {
	return s.openErr
}

func (s *stubSource) NextFrame() (relay.Frame, error) {
	f, ok := <-s.frames
	if !ok {
		return relay.Frame{}, errors.New("device disconnected")
	}
	return f, nil
}

func (s *stubSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.frames)
	}
	return nil
}

func (s *stubSource) emit(n int) {
	for i := 0; i < n; i++ {
		s.frames <- relay.Frame{Data: []byte{byte(i)}, Timestamp: time.Now()}
	}
}

// collectSink records delivered frames. An optional gate blocks every
// write until released, simulating a slow device.
type collectSink struct {
	mu     sync.Mutex
	seqs   []uint64
	closed bool

	gate chan struct{} // nil = never blocks
}

func (c *collectSink) WriteFrame(f relay.Frame) error {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write after close")
	}
	c.seqs = append(c.seqs, f.Seq)
	return nil
}

func (c *collectSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *collectSink) delivered() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.seqs...)
}

func (c *collectSink) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// brokenSink fails every delivery, like a pipe whose subprocess died.
type brokenSink struct {
	writes int
	mu     sync.Mutex
}

func (b *brokenSink) WriteFrame(relay.Frame) error {
	b.mu.Lock()
	b.writes++
	b.mu.Unlock()
	return errors.New("broken pipe")
}

func (b *brokenSink) Close() error { return nil }

func (b *brokenSink) writeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// stuckSink blocks inside WriteFrame until its Close is called, simulating
// a wedged downstream that only a forced close can release.
type stuckSink struct {
	release   chan struct{}
	closeOnce sync.Once
}

func newStuckSink() *stuckSink {
	return &stuckSink{release: make(chan struct{})}
}

func (s *stuckSink) WriteFrame(relay.Frame) error {
	<-s.release
	return nil
}

func (s *stuckSink) Close() error {
	s.closeOnce.Do(func() { close(s.release) })
	return nil
}

// failOnReleaseSink blocks inside WriteFrame until released, then fails the
// write, simulating a device that dies while a delivery is in flight.
type failOnReleaseSink struct {
	entered chan struct{} // closed when WriteFrame is reached
	release chan struct{}

	mu     sync.Mutex
	closed bool
}

func newFailOnReleaseSink() *failOnReleaseSink {
	return &failOnReleaseSink{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (f *failOnReleaseSink) WriteFrame(relay.Frame) error {
	close(f.entered)
	<-f.release
	return errors.New("device lost")
}

func (f *failOnReleaseSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *failOnReleaseSink) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func startSession(t *testing.T, src relay.Source, opts ...relay.Option) relay.Session {
	t.Helper()
	sess := relay.New(src, opts...)
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = sess.Stop() })
	return sess
}

// --- Lifecycle ---

// TestStartIdempotentAndStoppedTerminal validates the Created → Running →
// Stopping → Stopped machine: Start is a no-op while running, Stop is
// idempotent, and a stopped session cannot be restarted.
func TestStartIdempotentAndStoppedTerminal(t *testing.T) {
	src := newStubSource()
	sess := relay.New(src)

	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := sess.Start(context.Background()); err != nil {
		t.Errorf("second Start() = %v, want nil (idempotent no-op)", err)
	}
	if got := sess.State(); got != relay.StateRunning {
		t.Errorf("State() = %v, want running", got)
	}

	if err := sess.Stop(); err != nil {
		t.Errorf("Stop() = %v, want nil", err)
	}
	if err := sess.Stop(); err != nil {
		t.Errorf("second Stop() = %v, want nil (idempotent)", err)
	}
	if got := sess.State(); got != relay.StateStopped {
		t.Errorf("State() = %v, want stopped", got)
	}
	if err := sess.Start(context.Background()); !errors.Is(err, relay.ErrSessionStopped) {
		t.Errorf("Start() after Stop = %v, want ErrSessionStopped", err)
	}
}

// TestStartSourceUnavailable validates that a source that cannot be opened
// fails Start synchronously with ErrSourceUnavailable.
func TestStartSourceUnavailable(t *testing.T) {
	src := newStubSource()
	src.openErr = errors.New("no OAK device found")

	sess := relay.New(src)
	if err := sess.Start(context.Background()); !errors.Is(err, relay.ErrSourceUnavailable) {
		t.Fatalf("Start() = %v, want ErrSourceUnavailable", err)
	}
}

// TestSourceDeathStopsSession validates that a mid-stream source failure is
// fatal to the whole session (not sink-isolated) and surfaced via Err().
func TestSourceDeathStopsSession(t *testing.T) {
	src := newStubSource()
	sess := startSession(t, src)

	sink := &collectSink{}
	if err := sess.RegisterSink("display", sink, relay.SinkPolicy{Policy: relay.Blocking, Depth: 4}); err != nil {
		t.Fatalf("RegisterSink() failed: %v", err)
	}

	src.emit(3)
	waitFor(t, time.Second, func() bool { return len(sink.delivered()) == 3 },
		"frames not delivered before source death")

	_ = src.Close() // device disconnects mid-stream

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session did not stop after source death")
	}
	if err := sess.Err(); !errors.Is(err, relay.ErrSourceUnavailable) {
		t.Errorf("Err() = %v, want ErrSourceUnavailable", err)
	}
	if got := sess.State(); got != relay.StateStopped {
		t.Errorf("State() = %v, want stopped", got)
	}
}

// --- Registration ---

// TestRegisterSinkValidation validates synchronous rejection of caller
// errors: depth < 1 and duplicate ids.
func TestRegisterSinkValidation(t *testing.T) {
	src := newStubSource()
	sess := startSession(t, src)

	if err := sess.RegisterSink("bad", &collectSink{}, relay.SinkPolicy{Policy: relay.DropOldest, Depth: 0}); !errors.Is(err, relay.ErrInvalidPolicy) {
		t.Errorf("depth 0: err = %v, want ErrInvalidPolicy", err)
	}
	if err := sess.RegisterSink("dup", &collectSink{}, relay.SinkPolicy{Policy: relay.DropOldest, Depth: 1}); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	if err := sess.RegisterSink("dup", &collectSink{}, relay.SinkPolicy{Policy: relay.DropOldest, Depth: 1}); !errors.Is(err, relay.ErrSinkExists) {
		t.Errorf("duplicate id: err = %v, want ErrSinkExists", err)
	}
}

// --- Delivery properties ---

// TestBlockingSinkReceivesAllInOrder validates that a Blocking sink fed N
// frames receives all N in strictly increasing sequence order, no drops.
func TestBlockingSinkReceivesAllInOrder(t *testing.T) {
	const n = 50

	src := newStubSource()
	sess := startSession(t, src)

	sink := &collectSink{}
	if err := sess.RegisterSink("file", sink, relay.SinkPolicy{Policy: relay.Blocking, Depth: 2}); err != nil {
		t.Fatalf("RegisterSink() failed: %v", err)
	}

	src.emit(n)
	waitFor(t, 2*time.Second, func() bool { return len(sink.delivered()) == n },
		"blocking sink did not receive all frames")

	seqs := sink.delivered()
	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Fatalf("frame %d: seq = %d, want %d (reordered or dropped)", i, seq, i+1)
		}
	}

	stats := sess.Stats()
	if got := stats.Sinks["file"].Dropped; got != 0 {
		t.Errorf("blocking sink dropped = %d, want 0", got)
	}
}

// TestDropOldestDeliversMostRecent validates the drop-oldest contract end
// to end: a gated depth-2 sink fed 5 frames ends up delivering the most
// recent frames once released, with the overflow counted as drops (within
// one in-flight frame's slack).
func TestDropOldestDeliversMostRecent(t *testing.T) {
	src := newStubSource()
	sess := startSession(t, src)

	sink := &collectSink{gate: make(chan struct{})}
	if err := sess.RegisterSink("display", sink, relay.SinkPolicy{Policy: relay.DropOldest, Depth: 2}); err != nil {
		t.Fatalf("RegisterSink() failed: %v", err)
	}

	src.emit(5)
	waitFor(t, time.Second, func() bool { return sess.Stats().FramesPulled == 5 },
		"source frames were not all pulled")
	// Let the fan-out settle: the drain worker holds at most one in-flight
	// frame, the queue holds the 2 most recent, the rest are dropped.
	waitFor(t, time.Second, func() bool {
		st := sess.Stats().Sinks["display"]
		return st.Dropped+st.Delivered+uint64(st.Queued) >= 4
	}, "drop accounting did not settle")

	close(sink.gate) // release the slow device

	waitFor(t, time.Second, func() bool {
		seqs := sink.delivered()
		return len(seqs) > 0 && seqs[len(seqs)-1] == 5
	}, "most recent frame was never delivered")

	seqs := sink.delivered()
	if len(seqs) < 2 || seqs[len(seqs)-2] != 4 || seqs[len(seqs)-1] != 5 {
		t.Errorf("final deliveries = %v, want suffix [4 5]", seqs)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("deliveries out of order: %v", seqs)
		}
	}

	if dropped := sess.Stats().Sinks["display"].Dropped; dropped < 2 {
		t.Errorf("dropped = %d, want >= 2", dropped)
	}
}

// TestUnregisterSinkMidStream validates that removal stops further
// deliveries to that sink without disturbing the remaining sink.
func TestUnregisterSinkMidStream(t *testing.T) {
	src := newStubSource()
	sess := startSession(t, src)

	keep := &collectSink{}
	drop := &collectSink{}
	if err := sess.RegisterSink("keep", keep, relay.SinkPolicy{Policy: relay.Blocking, Depth: 8}); err != nil {
		t.Fatalf("RegisterSink(keep) failed: %v", err)
	}
	if err := sess.RegisterSink("drop", drop, relay.SinkPolicy{Policy: relay.Blocking, Depth: 8}); err != nil {
		t.Fatalf("RegisterSink(drop) failed: %v", err)
	}

	src.emit(3)
	waitFor(t, time.Second, func() bool { return len(drop.delivered()) == 3 },
		"first batch not delivered")

	sess.UnregisterSink("drop")
	waitFor(t, time.Second, drop.isClosed, "unregistered sink adapter was not closed")

	src.emit(2)
	waitFor(t, time.Second, func() bool { return len(keep.delivered()) == 5 },
		"remaining sink missed frames after unregister")

	if got := len(drop.delivered()); got != 3 {
		t.Errorf("unregistered sink received %d frames, want 3", got)
	}

	// Unknown ids are ignored.
	sess.UnregisterSink("drop")
	sess.UnregisterSink("never-registered")
}

// TestSinkFailureIsolatedAndReportedOnce validates failure isolation: a sink
// whose delivery fails is reported exactly once, auto-unregistered, and the
// source loop keeps feeding the healthy sink.
func TestSinkFailureIsolatedAndReportedOnce(t *testing.T) {
	src := newStubSource()
	sess := startSession(t, src)

	healthy := &collectSink{}
	broken := &brokenSink{}
	if err := sess.RegisterSink("healthy", healthy, relay.SinkPolicy{Policy: relay.Blocking, Depth: 8}); err != nil {
		t.Fatalf("RegisterSink(healthy) failed: %v", err)
	}
	if err := sess.RegisterSink("rtp", broken, relay.SinkPolicy{Policy: relay.Blocking, Depth: 8}); err != nil {
		t.Fatalf("RegisterSink(rtp) failed: %v", err)
	}

	src.emit(5)
	waitFor(t, time.Second, func() bool { return len(healthy.delivered()) == 5 },
		"healthy sink missed frames after peer failure")

	select {
	case f := <-sess.Failures():
		if f.SinkID != "rtp" {
			t.Errorf("failure SinkID = %q, want %q", f.SinkID, "rtp")
		}
	case <-time.After(time.Second):
		t.Fatal("no failure notification received")
	}

	// Exactly one notification, and the sink is no longer offered frames.
	select {
	case f := <-sess.Failures():
		t.Fatalf("unexpected second failure notification: %+v", f)
	case <-time.After(50 * time.Millisecond):
	}
	if got := broken.writeCount(); got != 1 {
		t.Errorf("failed sink saw %d write attempts, want 1 (auto-unregistered after first)", got)
	}
	if _, ok := sess.Stats().Sinks["rtp"]; ok {
		t.Error("failed sink still present in Stats()")
	}
	if got := sess.State(); got != relay.StateRunning {
		t.Errorf("session state = %v after sink failure, want running", got)
	}
}

// TestFailedSinkClosedAfterUnregister validates adapter finalization when a
// delivery failure races an unregister: the sink is already gone from the
// registry when the in-flight write fails, yet its adapter must still be
// closed exactly as for any other removal.
func TestFailedSinkClosedAfterUnregister(t *testing.T) {
	src := newStubSource()
	sess := startSession(t, src)

	sink := newFailOnReleaseSink()
	if err := sess.RegisterSink("recorder", sink, relay.SinkPolicy{Policy: relay.Blocking, Depth: 4}); err != nil {
		t.Fatalf("RegisterSink() failed: %v", err)
	}

	src.emit(1)
	select {
	case <-sink.entered:
	case <-time.After(time.Second):
		t.Fatal("sink never received the frame")
	}

	// Remove the sink while its write is in flight, then let the write fail.
	sess.UnregisterSink("recorder")
	close(sink.release)

	waitFor(t, time.Second, sink.isClosed,
		"adapter of unregistered sink not closed after failed write")

	if got := sess.State(); got != relay.StateRunning {
		t.Errorf("session state = %v, want running", got)
	}
}

// --- Shutdown ---

// TestStopDrainsBlockingSink validates shutdown ordering: queued frames of
// a Blocking sink are flushed, the adapter is closed, and nothing is
// delivered afterwards.
func TestStopDrainsBlockingSink(t *testing.T) {
	src := newStubSource()
	sess := startSession(t, src)

	sink := &collectSink{}
	if err := sess.RegisterSink("file", sink, relay.SinkPolicy{Policy: relay.Blocking, Depth: 4}); err != nil {
		t.Fatalf("RegisterSink() failed: %v", err)
	}

	src.emit(10)
	waitFor(t, time.Second, func() bool { return sess.Stats().FramesPulled == 10 },
		"frames were not pulled before stop")

	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	if got := len(sink.delivered()); got != 10 {
		t.Errorf("blocking sink delivered %d frames through stop, want 10", got)
	}
	if !sink.isClosed() {
		t.Error("sink adapter not closed after Stop()")
	}

	select {
	case <-sess.Done():
	default:
		t.Error("Done() not closed after Stop()")
	}
}

// TestStopForceClosesStuckSink validates the grace period: a sink wedged in
// delivery is force-closed after the configured grace and reported as a
// SinkCloseTimeout warning, and Stop still completes.
func TestStopForceClosesStuckSink(t *testing.T) {
	const grace = 50 * time.Millisecond

	src := newStubSource()
	sess := startSession(t, src, relay.WithCloseGrace(grace))

	sink := newStuckSink()
	if err := sess.RegisterSink("wedged", sink, relay.SinkPolicy{Policy: relay.Blocking, Depth: 4}); err != nil {
		t.Fatalf("RegisterSink() failed: %v", err)
	}

	src.emit(1)
	waitFor(t, time.Second, func() bool { return sess.Stats().FramesPulled == 1 },
		"frame was not pulled")

	start := time.Now()
	if err := sess.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > grace+500*time.Millisecond {
		t.Errorf("Stop() took %v, want about the %v grace period", elapsed, grace)
	}

	select {
	case f := <-sess.Failures():
		if !errors.Is(f.Err, relay.ErrSinkCloseTimeout) {
			t.Errorf("failure err = %v, want ErrSinkCloseTimeout", f.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("no SinkCloseTimeout warning reported")
	}
}
