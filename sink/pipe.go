package sink

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/23retsuf/oak-drone-system/relay"
)

// DefaultPipeGrace is how long Close waits for the subprocess to exit after
// its stdin is closed before escalating to SIGTERM and then SIGKILL.
const DefaultPipeGrace = 2 * time.Second

// PipeConfig configures a PipeSink.
type PipeConfig struct {
	// Command is the subprocess argv. Empty means the default RTP
	// packetizer built from Host/Port/PayloadType.
	Command []string

	// Host and Port are the RTP destination (default command only).
	Host string
	Port int

	// PayloadType is the RTP payload type (default command only,
	// default 96).
	PayloadType int

	// Grace bounds how long Close waits for the subprocess to drain and
	// exit (default DefaultPipeGrace).
	Grace time.Duration

	// Logger receives subprocess stderr lines and lifecycle events.
	// Defaults to slog.Default().
	Logger *slog.Logger
}

// RTPCommand builds the default packetizer argv: read the H.264 byte-stream
// from stdin, packetize, and send RTP/UDP to host:port.
func RTPCommand(host string, port, payloadType int) []string {
	return []string{
		"gst-launch-1.0", "-q",
		"fdsrc", "fd=0",
		"!", "h264parse", "config-interval=1",
		"!", fmt.Sprintf("rtph264pay pt=%d", payloadType),
		"!", fmt.Sprintf("udpsink host=%s port=%d sync=false async=false", host, port),
	}
}

// PipeSink feeds frame payloads to a subprocess over its stdin.
//
// The subprocess is spawned at construction. A write failure (typically a
// broken pipe after the subprocess dies) is returned from WriteFrame, which
// makes the relay session fail and unregister the sink.
type PipeSink struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	grace  time.Duration
	log    *slog.Logger
	waitCh chan error

	mu      sync.Mutex
	written uint64
	closed  bool
}

// NewPipeSink spawns the subprocess and returns a sink writing to its stdin.
func NewPipeSink(cfg PipeConfig) (*PipeSink, error) {
	argv := cfg.Command
	if len(argv) == 0 {
		if cfg.Host == "" || cfg.Port == 0 {
			return nil, fmt.Errorf("sink: pipe needs a command or an RTP host/port")
		}
		pt := cfg.PayloadType
		if pt == 0 {
			pt = 96
		}
		argv = RTPCommand(cfg.Host, cfg.Port, pt)
	}
	grace := cfg.Grace
	if grace <= 0 {
		grace = DefaultPipeGrace
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("sink: stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("sink: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("sink: start %q: %w", argv[0], err)
	}

	p := &PipeSink{
		cmd:    cmd,
		stdin:  stdin,
		grace:  grace,
		log:    log,
		waitCh: make(chan error, 1),
	}

	// Drain stderr so the subprocess cannot block on a full pipe, and keep
	// its diagnostics in our log.
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Warn("sink: pipe subprocess stderr", "command", argv[0], "line", scanner.Text())
		}
	}()
	go func() {
		p.waitCh <- cmd.Wait()
	}()

	log.Info("sink: pipe subprocess started", "command", argv[0], "pid", cmd.Process.Pid)
	return p, nil
}

// WriteFrame writes the frame payload to the subprocess stdin
// (implements relay.Sink).
func (p *PipeSink) WriteFrame(f relay.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("sink: pipe closed")
	}
	if _, err := p.stdin.Write(f.Data); err != nil {
		return fmt.Errorf("sink: pipe write: %w", err)
	}
	p.written++
	return nil
}

// Written reports how many frames have been written so far.
func (p *PipeSink) Written() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

// Close closes the subprocess stdin (EOF lets it flush and exit cleanly),
// then escalates: SIGTERM after the grace period, SIGKILL after another.
// Idempotent.
func (p *PipeSink) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.stdin.Close()

	select {
	case err := <-p.waitCh:
		return p.exitResult(err)
	case <-time.After(p.grace):
	}

	p.log.Warn("sink: pipe subprocess did not exit after stdin close, sending SIGTERM",
		"pid", p.cmd.Process.Pid)
	p.cmd.Process.Signal(syscall.SIGTERM)

	select {
	case err := <-p.waitCh:
		return p.exitResult(err)
	case <-time.After(p.grace):
	}

	p.log.Error("sink: pipe subprocess ignored SIGTERM, killing", "pid", p.cmd.Process.Pid)
	p.cmd.Process.Kill()
	return p.exitResult(<-p.waitCh)
}

func (p *PipeSink) exitResult(err error) error {
	if err != nil {
		p.log.Warn("sink: pipe subprocess exited with error", "error", err)
		return fmt.Errorf("sink: pipe subprocess: %w", err)
	}
	p.log.Info("sink: pipe subprocess exited cleanly")
	return nil
}
