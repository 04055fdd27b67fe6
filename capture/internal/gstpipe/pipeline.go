// Package gstpipe builds and services the GStreamer capture pipeline.
package gstpipe

import (
	"fmt"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/23retsuf/oak-drone-system/internal/gstutil"
)

// Config contains everything needed to assemble the capture pipeline.
type Config struct {
	Device           string // V4L2 device path, or "test" for videotestsrc
	Width            int
	Height           int
	TargetFPS        float64
	Encode           bool // append x264enc + h264parse and emit byte-stream
	BitrateKbps      int
	KeyframeInterval int
	QueueSize        int
}

// Elements holds references to the pipeline pieces needed after
// construction (state changes, callbacks, cleanup).
type Elements struct {
	Pipeline *gst.Pipeline
	AppSink  *app.Sink
}

// Build creates and configures the capture pipeline.
//
// Pipeline structure:
//
//	v4l2src|videotestsrc → videoconvert → videoscale → videorate →
//	capsfilter(RGB,WxH,fps) → appsink                        (raw mode)
//	... capsfilter → x264enc → h264parse → capsfilter(byte-stream) →
//	appsink                                                  (encode mode)
//
// The pipeline is configured but NOT started (state remains NULL).
// Caller must call Pipeline.SetState(gst.StatePlaying) to start.
func Build(cfg Config) (*Elements, error) {
	// Initialize GStreamer (safe to call multiple times)
	gst.Init(nil)

	pipeline, err := gst.NewPipeline("")
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}

	var source *gst.Element
	if cfg.Device == "test" {
		source, err = gst.NewElement("videotestsrc")
		if err != nil {
			return nil, fmt.Errorf("failed to create videotestsrc: %w", err)
		}
		// Live source behavior so videorate/appsink pacing matches a camera.
		source.SetProperty("is-live", true)
	} else {
		source, err = gst.NewElement("v4l2src")
		if err != nil {
			return nil, fmt.Errorf("failed to create v4l2src: %w", err)
		}
		source.SetProperty("device", cfg.Device)
	}

	converter, err := gst.NewElement("videoconvert")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoconvert: %w", err)
	}

	scaler, err := gst.NewElement("videoscale")
	if err != nil {
		return nil, fmt.Errorf("failed to create videoscale: %w", err)
	}

	videorate, err := gst.NewElement("videorate")
	if err != nil {
		return nil, fmt.Errorf("failed to create videorate: %w", err)
	}
	videorate.SetProperty("drop-only", true)     // Only drop frames, never duplicate
	videorate.SetProperty("skip-to-first", true) // Skip to first frame on start

	capsfilter, err := gst.NewElement("capsfilter")
	if err != nil {
		return nil, fmt.Errorf("failed to create capsfilter: %w", err)
	}
	capsfilter.SetProperty("caps", gst.NewCapsFromString(rawCaps(cfg)))

	appsink, err := app.NewAppSink()
	if err != nil {
		return nil, fmt.Errorf("failed to create appsink: %w", err)
	}
	appsink.SetProperty("sync", false) // No sync with clock (real-time)

	if cfg.Encode {
		// Encoded chunks must never be discarded between the encoder and
		// the reader: a dropped chunk corrupts the byte-stream framing.
		appsink.SetProperty("max-buffers", cfg.QueueSize)
		appsink.SetProperty("drop", false)

		encoder, err := gst.NewElement("x264enc")
		if err != nil {
			return nil, fmt.Errorf("failed to create x264enc: %w", err)
		}
		encoder.SetProperty("tune", "zerolatency")
		encoder.SetProperty("bitrate", cfg.BitrateKbps)
		// About one keyframe per second so receivers can join mid-stream.
		encoder.SetProperty("key-int-max", cfg.KeyframeInterval)

		parser, err := gst.NewElement("h264parse")
		if err != nil {
			return nil, fmt.Errorf("failed to create h264parse: %w", err)
		}
		parser.SetProperty("config-interval", 1) // repeat SPS/PPS with keyframes

		streamCaps, err := gst.NewElement("capsfilter")
		if err != nil {
			return nil, fmt.Errorf("failed to create stream capsfilter: %w", err)
		}
		streamCaps.SetProperty("caps", gst.NewCapsFromString("video/x-h264,stream-format=byte-stream,alignment=au"))

		pipeline.AddMany(
			source,
			converter,
			scaler,
			videorate,
			capsfilter,
			encoder,
			parser,
			streamCaps,
			appsink.Element,
		)
		if err := gst.ElementLinkMany(
			source,
			converter,
			scaler,
			videorate,
			capsfilter,
			encoder,
			parser,
			streamCaps,
			appsink.Element,
		); err != nil {
			return nil, fmt.Errorf("failed to link encode pipeline elements: %w", err)
		}
	} else {
		// Raw preview path: latest frame wins, the relay owns buffering.
		appsink.SetProperty("max-buffers", 1)
		appsink.SetProperty("drop", true)

		pipeline.AddMany(
			source,
			converter,
			scaler,
			videorate,
			capsfilter,
			appsink.Element,
		)
		if err := gst.ElementLinkMany(
			source,
			converter,
			scaler,
			videorate,
			capsfilter,
			appsink.Element,
		); err != nil {
			return nil, fmt.Errorf("failed to link raw pipeline elements: %w", err)
		}
	}

	return &Elements{Pipeline: pipeline, AppSink: appsink}, nil
}

// rawCaps builds the RGB caps string with framerate control.
func rawCaps(cfg Config) string {
	num, den := gstutil.FramerateFraction(cfg.TargetFPS)
	return fmt.Sprintf("video/x-raw,format=RGB,width=%d,height=%d,framerate=%d/%d",
		cfg.Width, cfg.Height, num, den)
}
