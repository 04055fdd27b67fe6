package capture

import "errors"

var (
	// ErrStreamEnded is returned by NextFrame once the pipeline has
	// reached EOS, errored, or the stream was closed.
	ErrStreamEnded = errors.New("capture: camera stream ended")
)

// Mode selects what the pipeline delivers to the relay.
type Mode int

const (
	// ModeRaw emits decoded RGB frames (3 bytes per pixel).
	ModeRaw Mode = iota
	// ModeH264 emits H.264 byte-stream chunks from the in-pipeline encoder.
	ModeH264
)

func (m Mode) String() string {
	switch m {
	case ModeRaw:
		return "raw"
	case ModeH264:
		return "h264"
	default:
		return "unknown"
	}
}

// Resolution represents supported video resolutions
type Resolution int

const (
	// Res480p represents 640x480 resolution (preview)
	Res480p Resolution = iota
	// Res720p represents 1280x720 resolution (HD)
	Res720p
	// Res1080p represents 1920x1080 resolution (Full HD)
	Res1080p
)

// Dimensions returns the width and height for the resolution
func (r Resolution) Dimensions() (width, height int) {
	switch r {
	case Res480p:
		return 640, 480
	case Res720p:
		return 1280, 720
	case Res1080p:
		return 1920, 1080
	default:
		// Safe default: 720p
		return 1280, 720
	}
}

// String returns a human-readable string representation of the resolution
func (r Resolution) String() string {
	switch r {
	case Res480p:
		return "480p"
	case Res720p:
		return "720p"
	case Res1080p:
		return "1080p"
	default:
		return "unknown"
	}
}

// ParseResolution maps "480p"/"720p"/"1080p" to a Resolution.
func ParseResolution(s string) (Resolution, bool) {
	switch s {
	case "480p":
		return Res480p, true
	case "720p":
		return Res720p, true
	case "1080p":
		return Res1080p, true
	default:
		return Res720p, false
	}
}

// Config configures a CameraStream.
type Config struct {
	// Device is the V4L2 device path (e.g. /dev/video0). The special value
	// "test" selects videotestsrc for development without hardware.
	Device string

	// Resolution of the delivered frames.
	Resolution Resolution

	// TargetFPS is the capture rate (0.1 - 60).
	TargetFPS float64

	// Mode selects raw RGB frames or an encoded H.264 byte-stream.
	Mode Mode

	// BitrateKbps is the encoder bitrate for ModeH264 (default 4000).
	BitrateKbps int

	// KeyframeInterval is the encoder keyframe distance in frames for
	// ModeH264. Default is TargetFPS, i.e. about one keyframe per second
	// so receivers can join mid-stream.
	KeyframeInterval int

	// QueueSize is the internal frame buffer between the GStreamer
	// callback and NextFrame (default 30, matching the device queue the
	// encoder path needs; ModeH264 blocks instead of dropping when full).
	QueueSize int
}

// Stats contains current stream statistics
type Stats struct {
	// FrameCount is the total number of frames captured
	FrameCount uint64
	// FramesDropped is the total number of frames dropped (buffer full)
	FramesDropped uint64
	// BytesRead is the total bytes read from the pipeline
	BytesRead uint64
	// FPSTarget is the configured target FPS
	FPSTarget float64
	// Resolution is the frame resolution (e.g. "1280x720")
	Resolution string
	// Mode is the capture mode ("raw" or "h264")
	Mode string
	// IsOpen indicates whether the pipeline is currently running
	IsOpen bool
}
