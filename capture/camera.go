package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/23retsuf/oak-drone-system/capture/internal/gstpipe"
	"github.com/23retsuf/oak-drone-system/relay"
)

// CameraStream implements relay.Source on top of a GStreamer capture
// pipeline.
type CameraStream struct {
	// Configuration
	cfg    Config
	width  int
	height int

	// GStreamer pipeline elements
	elements *gstpipe.Elements

	// Frame output
	frames chan relay.Frame
	done   chan struct{}

	// Lifecycle
	mu       sync.Mutex
	opened   bool
	doneOnce sync.Once

	// Statistics (atomic for thread-safety)
	frameCount    uint64
	framesDropped uint64
	bytesRead     uint64
}

// New creates a camera stream with fail-fast validation.
//
// Validates configuration at construction time (fail-fast principle):
//   - Device must not be empty
//   - Target FPS must be between 0.1 and 60.0
//   - Resolution must be valid
//   - ModeH264 bitrate must be plausible (100 - 20000 kbps)
//
// GStreamer itself is only touched at Open.
func New(cfg Config) (*CameraStream, error) {
	if cfg.Device == "" {
		return nil, fmt.Errorf("capture: device is required (path or \"test\")")
	}
	if cfg.TargetFPS < 0.1 || cfg.TargetFPS > 60 {
		return nil, fmt.Errorf("capture: invalid FPS %.2f (must be 0.1-60)", cfg.TargetFPS)
	}
	width, height := cfg.Resolution.Dimensions()
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("capture: invalid resolution %v", cfg.Resolution)
	}

	if cfg.Mode == ModeH264 {
		if cfg.BitrateKbps == 0 {
			cfg.BitrateKbps = 4000
		}
		if cfg.BitrateKbps < 100 || cfg.BitrateKbps > 20000 {
			return nil, fmt.Errorf("capture: invalid bitrate %d kbps (must be 100-20000)", cfg.BitrateKbps)
		}
		if cfg.KeyframeInterval <= 0 {
			cfg.KeyframeInterval = int(cfg.TargetFPS)
			if cfg.KeyframeInterval < 1 {
				cfg.KeyframeInterval = 1
			}
		}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 30
	}

	s := &CameraStream{
		cfg:    cfg,
		width:  width,
		height: height,
		frames: make(chan relay.Frame, cfg.QueueSize),
		done:   make(chan struct{}),
	}

	slog.Info("capture: camera stream created",
		"device", cfg.Device,
		"resolution", fmt.Sprintf("%dx%d", width, height),
		"target_fps", cfg.TargetFPS,
		"mode", cfg.Mode.String(),
	)
	return s, nil
}

// Open builds the GStreamer pipeline and brings it to PLAYING
// (implements relay.Source.Open).
//
// Frames start arriving asynchronously once the pipeline is playing;
// NextFrame blocks until then.
func (s *CameraStream) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return fmt.Errorf("capture: stream already open")
	}

	width := s.width
	height := s.height
	if s.cfg.Mode == ModeH264 {
		// Encoded chunks carry geometry in the stream itself.
		width, height = 0, 0
	}

	elements, err := gstpipe.Build(gstpipe.Config{
		Device:           s.cfg.Device,
		Width:            s.width,
		Height:           s.height,
		TargetFPS:        s.cfg.TargetFPS,
		Encode:           s.cfg.Mode == ModeH264,
		BitrateKbps:      s.cfg.BitrateKbps,
		KeyframeInterval: s.cfg.KeyframeInterval,
		QueueSize:        s.cfg.QueueSize,
	})
	if err != nil {
		return fmt.Errorf("capture: failed to create pipeline: %w", err)
	}
	s.elements = elements

	callbackCtx := &gstpipe.CallbackContext{
		Frames: s.frames,
		Done:   s.done,
		Counters: gstpipe.Counters{
			Frames:  &s.frameCount,
			Dropped: &s.framesDropped,
			Bytes:   &s.bytesRead,
		},
		Width:  width,
		Height: height,
		Block:  s.cfg.Mode == ModeH264,
	}
	s.elements.AppSink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return gstpipe.OnNewSample(sink, callbackCtx)
		},
	})

	if err := s.elements.Pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("capture: failed to start pipeline: %w", err)
	}
	s.opened = true

	go s.watchBus()

	slog.Info("capture: pipeline started",
		"device", s.cfg.Device,
		"mode", s.cfg.Mode.String(),
	)
	return nil
}

// NextFrame blocks until the pipeline produces a frame (implements
// relay.Source.NextFrame). Returns ErrStreamEnded once the stream is
// closed or the pipeline dies.
func (s *CameraStream) NextFrame() (relay.Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.done:
		// Serve frames already buffered before reporting the end.
		select {
		case f := <-s.frames:
			return f, nil
		default:
			return relay.Frame{}, ErrStreamEnded
		}
	}
}

// Close stops the pipeline and unblocks a pending NextFrame (implements
// relay.Source.Close). Idempotent.
func (s *CameraStream) Close() error {
	s.signalDone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	s.opened = false

	if err := s.elements.Pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("capture: failed to stop pipeline: %w", err)
	}
	slog.Info("capture: pipeline stopped",
		"frames", atomic.LoadUint64(&s.frameCount),
		"dropped", atomic.LoadUint64(&s.framesDropped),
	)
	return nil
}

// Stats returns a snapshot of stream statistics. Thread-safe.
func (s *CameraStream) Stats() Stats {
	s.mu.Lock()
	open := s.opened
	s.mu.Unlock()

	return Stats{
		FrameCount:    atomic.LoadUint64(&s.frameCount),
		FramesDropped: atomic.LoadUint64(&s.framesDropped),
		BytesRead:     atomic.LoadUint64(&s.bytesRead),
		FPSTarget:     s.cfg.TargetFPS,
		Resolution:    fmt.Sprintf("%dx%d", s.width, s.height),
		Mode:          s.cfg.Mode.String(),
		IsOpen:        open,
	}
}

func (s *CameraStream) signalDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

// watchBus monitors the pipeline bus and ends the stream on fatal pipeline
// messages. The relay session sees that as source death.
func (s *CameraStream) watchBus() {
	bus := s.elements.Pipeline.GetPipelineBus()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		msg := bus.TimedPop(500 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Warn("capture: pipeline reached EOS")
			s.signalDone()
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("capture: pipeline error", "error", gerr.Error())
			s.signalDone()
			return
		}
	}
}
