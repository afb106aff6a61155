// Package capture acquires frames from camera hardware.
//
// Two backends are provided: Webcam drives OpenCV's VideoCapture with
// backend-candidate probing (V4L2 first, generic fallback), and
// GstSource drives an arbitrary GStreamer pipeline into an appsink for
// devices OpenCV cannot open. Both implement broadcast.Source and run
// the whole per-frame pipeline (overlay compositing, fixed rotation,
// JPEG encoding) on the capture goroutine.
package capture

import (
	"fmt"
	"time"

	"github.com/wnccnasa/FishCam/internal/broadcast"
	"github.com/wnccnasa/FishCam/internal/config"
)

// warmupSpacing is the pause between discarded warm-up frames, giving
// auto-exposure time to settle between samples.
const warmupSpacing = 100 * time.Millisecond

// probeReads is how many reads a backend candidate gets to produce a
// decodable frame before the next candidate is tried.
const probeReads = 3

// NewSource builds the capture source selected by cfg.Source. The
// device is not touched until Open.
func NewSource(cfg config.CameraConfig) (broadcast.Source, error) {
	switch cfg.Source {
	case "opencv":
		return NewWebcam(cfg), nil
	case "gstreamer":
		return NewGstSource(cfg), nil
	default:
		return nil, fmt.Errorf("capture: unknown source %q", cfg.Source)
	}
}
