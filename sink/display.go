package sink

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/23retsuf/oak-drone-system/internal/gstutil"
	"github.com/23retsuf/oak-drone-system/relay"
)

// DisplaySink renders raw RGB frames in a local video window through a
// GStreamer playback pipeline (appsrc → videoconvert → autovideosink).
type DisplaySink struct {
	width  int
	height int
	fps    float64
	log    *slog.Logger

	mu       sync.Mutex
	pipeline *gst.Pipeline
	appsrc   *app.Source
	closed   bool
	written  uint64
}

// displayCaps builds the appsrc caps string, keeping fractional rates exact
// (29.97 → 29970/1000, 0.5 → 500/1000).
func displayCaps(width, height int, fps float64) string {
	num, den := gstutil.FramerateFraction(fps)
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/%d",
		width, height, num, den)
}

// NewDisplaySink builds the playback pipeline for width x height RGB frames.
// The window appears when the first frame arrives.
func NewDisplaySink(width, height int, fps float64, log *slog.Logger) (*DisplaySink, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("sink: invalid display geometry %dx%d", width, height)
	}
	if log == nil {
		log = slog.Default()
	}

	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("sink: create display pipeline: %w", err)
	}

	appsrc, err := app.NewAppSrc()
	if err != nil {
		return nil, fmt.Errorf("sink: create appsrc: %w", err)
	}
	appsrc.SetProperty("is-live", true)
	appsrc.SetProperty("format", int(gst.FormatTime))
	appsrc.SetProperty("caps", gst.NewCapsFromString(displayCaps(width, height, fps)))

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("sink: create videoconvert: %w", err)
	}

	display, err := gst.NewElement("autovideosink")
	if err != nil {
		return nil, fmt.Errorf("sink: create autovideosink: %w", err)
	}
	// The window tracks the newest frame; it must never stall the drain.
	display.SetProperty("sync", false)

	pipeline.AddMany(appsrc.Element, converter, display)
	if err := gst.ElementLinkMany(appsrc.Element, converter, display); err != nil {
		return nil, fmt.Errorf("sink: link display pipeline: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("sink: start display pipeline: %w", err)
	}

	log.Info("sink: display window opened", "resolution", fmt.Sprintf("%dx%d", width, height))
	return &DisplaySink{
		width:    width,
		height:   height,
		fps:      fps,
		log:      log,
		pipeline: pipeline,
		appsrc:   appsrc,
	}, nil
}

// WriteFrame pushes one RGB frame into the playback pipeline
// (implements relay.Sink).
func (d *DisplaySink) WriteFrame(f relay.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("sink: display closed")
	}
	if want := d.width * d.height * 3; len(f.Data) != want {
		return fmt.Errorf("sink: display frame is %d bytes, want %d for %dx%d RGB",
			len(f.Data), want, d.width, d.height)
	}
	if ret := d.appsrc.PushBuffer(gst.NewBufferFromBytes(f.Data)); ret != gst.FlowOK {
		return fmt.Errorf("sink: display push rejected: %v", ret)
	}
	d.written++
	return nil
}

// Written reports how many frames have been pushed so far.
func (d *DisplaySink) Written() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

// Close signals end-of-stream and tears the playback pipeline down.
// Idempotent.
func (d *DisplaySink) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	d.appsrc.EndStream()
	if err := d.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("sink: stop display pipeline: %w", err)
	}
	d.log.Info("sink: display window closed", "frames", d.written)
	return nil
}
