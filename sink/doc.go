// Package sink provides relay.Sink implementations for the delivery side of
// the pipeline:
//
//   - PipeSink streams H.264 chunks into a subprocess over stdin (by default
//     a gst-launch-1.0 RTP packetizer), mirroring the shell-pipe deployment
//     where the camera process feeds a packetizer process.
//   - FileSink appends frames to a timestamped file, for recordings
//     (.h264 byte-stream) and one-shot snapshots (JPEG for raw frames).
//   - DisplaySink pushes raw RGB frames into a local GStreamer video window.
//
// All sinks are single-writer: the relay session guarantees WriteFrame is
// never called concurrently for one sink. Close may race a pending
// WriteFrame; each sink tolerates that.
package sink
