// Package gstutil holds small helpers shared by the GStreamer-facing
// packages.
package gstutil

import "math"

// FramerateFraction converts a float FPS to a GStreamer framerate fraction.
func FramerateFraction(fps float64) (num, den int) {
	if fps == math.Trunc(fps) {
		return int(fps), 1
	}
	return int(math.Round(fps * 1000)), 1000
}
