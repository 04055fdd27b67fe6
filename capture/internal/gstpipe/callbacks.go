package gstpipe

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/23retsuf/oak-drone-system/relay"
)

// Counters are the atomic stat counters shared with the provider.
type Counters struct {
	Frames  *uint64
	Dropped *uint64
	Bytes   *uint64
}

// CallbackContext holds state needed by the appsink callback.
type CallbackContext struct {
	Frames chan<- relay.Frame
	Done   <-chan struct{} // closed when the provider shuts down

	Counters Counters

	// Width/Height are stamped on raw frames; zero for encoded chunks.
	Width  int
	Height int

	// Block makes a full channel apply backpressure into the pipeline
	// instead of dropping. Required in encode mode: a dropped byte-stream
	// chunk corrupts stream framing.
	Block bool
}

// OnNewSample is called by GStreamer when a new sample is available.
//
// This callback:
//  1. Pulls the sample from the appsink
//  2. Maps the buffer and copies the data (GStreamer will reuse the buffer)
//  3. Builds a relay.Frame with capture metadata and a fresh TraceID
//  4. Hands the frame to the provider channel (policy per ctx.Block)
//
// Returns gst.FlowOK to continue, gst.FlowEOS once the provider is done.
func OnNewSample(sink *app.Sink, ctx *CallbackContext) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		// Graceful degradation: a single bad sample should not kill the
		// whole pipeline.
		slog.Warn("gstpipe: failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		slog.Warn("gstpipe: failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstpipe: empty buffer received")
		return gst.FlowOK
	}

	// Copy frame data (GStreamer will reuse the buffer)
	frameData := make([]byte, len(data))
	copy(frameData, data)
	buffer.Unmap()

	atomic.AddUint64(ctx.Counters.Frames, 1)
	atomic.AddUint64(ctx.Counters.Bytes, uint64(len(frameData)))

	frame := relay.Frame{
		Timestamp: time.Now(),
		Width:     ctx.Width,
		Height:    ctx.Height,
		Data:      frameData,
		TraceID:   uuid.New().String(),
	}

	if ctx.Block {
		select {
		case ctx.Frames <- frame:
			return gst.FlowOK
		case <-ctx.Done:
			return gst.FlowEOS
		}
	}

	select {
	case ctx.Frames <- frame:
	case <-ctx.Done:
		return gst.FlowEOS
	default:
		// Buffer full: drop the frame and track the metric.
		atomic.AddUint64(ctx.Counters.Dropped, 1)
		slog.Debug("gstpipe: dropping frame, buffer full", "trace_id", frame.TraceID)
	}
	return gst.FlowOK
}
