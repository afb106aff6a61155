package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/wnccnasa/FishCam/internal/broadcast"
	"github.com/wnccnasa/FishCam/internal/config"
	"github.com/wnccnasa/FishCam/internal/encode"
	"github.com/wnccnasa/FishCam/internal/overlay"
)

// backendCandidate is one capture API tried during Open. Order is
// fixed: the platform-preferred API first, then the generic fallback
// that lets OpenCV pick.
type backendCandidate struct {
	name string
	api  gocv.VideoCaptureAPI
}

var backendCandidates = []backendCandidate{
	{"v4l2", gocv.VideoCaptureV4L2},
	{"any", gocv.VideoCaptureAny},
}

// Webcam captures from a local device through OpenCV. It implements
// broadcast.Source; all methods are called from the capture goroutine.
type Webcam struct {
	cfg  config.CameraConfig
	comp *overlay.Compositor
	enc  encode.JPEG

	cam     *gocv.VideoCapture
	mat     gocv.Mat
	backend string
}

// NewWebcam prepares a Webcam for cfg. The device is opened by Open.
func NewWebcam(cfg config.CameraConfig) *Webcam {
	return &Webcam{
		cfg: cfg,
		enc: encode.NewJPEG(cfg.JPEGQuality),
	}
}

// Open tries each backend candidate in order, accepting the first one
// that both opens the device and yields a decodable frame within the
// probe budget. It then applies the configured resolution and frame
// rate (best-effort: the hardware may clamp silently, mismatches are
// logged as warnings) and discards the warm-up frames.
//
// Returns an error wrapping broadcast.ErrHardwareUnavailable when no
// candidate works; fatal to this camera only.
func (w *Webcam) Open(ctx context.Context) error {
	w.mat = gocv.NewMat()
	// The overlay cycle starts when the camera does.
	w.comp = overlay.NewCompositor(w.cfg.Name, w.cfg.Overlay, time.Now())

	for _, cand := range backendCandidates {
		cam, err := gocv.VideoCaptureDeviceWithAPI(w.cfg.ID, cand.api)
		if err != nil || !cam.IsOpened() {
			if cam != nil {
				cam.Close()
			}
			slog.Debug("capture: backend rejected",
				"camera", w.cfg.Name,
				"device", w.cfg.ID,
				"backend", cand.name,
			)
			continue
		}

		// Opening is not enough: some drivers accept the device and
		// then never deliver. The candidate must decode a frame.
		if !w.probe(cam) {
			cam.Close()
			slog.Debug("capture: backend opened but yielded no frame",
				"camera", w.cfg.Name,
				"device", w.cfg.ID,
				"backend", cand.name,
			)
			continue
		}

		w.cam = cam
		w.backend = cand.name
		break
	}

	if w.cam == nil {
		w.mat.Close()
		return fmt.Errorf("capture: device %d: no backend produced frames: %w",
			w.cfg.ID, broadcast.ErrHardwareUnavailable)
	}

	w.configure()

	if err := w.warmup(ctx); err != nil {
		w.Close()
		return err
	}

	slog.Info("capture: device opened",
		"camera", w.cfg.Name,
		"device", w.cfg.ID,
		"backend", w.backend,
	)
	return nil
}

// probe reads up to probeReads frames looking for a decodable one.
func (w *Webcam) probe(cam *gocv.VideoCapture) bool {
	for i := 0; i < probeReads; i++ {
		if cam.Read(&w.mat) && !w.mat.Empty() {
			return true
		}
	}
	return false
}

// configure requests the configured mode and logs what the hardware
// actually accepted. Mismatches are normal: many cameras have fixed
// rates or a limited mode table and clamp silently.
func (w *Webcam) configure() {
	w.cam.Set(gocv.VideoCaptureFrameWidth, float64(w.cfg.Width))
	w.cam.Set(gocv.VideoCaptureFrameHeight, float64(w.cfg.Height))
	w.cam.Set(gocv.VideoCaptureFPS, w.cfg.CaptureFPS)
	// Smallest driver buffer keeps delivered frames current.
	w.cam.Set(gocv.VideoCaptureBufferSize, 1)

	actualW := int(w.cam.Get(gocv.VideoCaptureFrameWidth))
	actualH := int(w.cam.Get(gocv.VideoCaptureFrameHeight))
	actualFPS := w.cam.Get(gocv.VideoCaptureFPS)

	slog.Info("capture: device configured",
		"camera", w.cfg.Name,
		"requested", fmt.Sprintf("%dx%d@%.1f", w.cfg.Width, w.cfg.Height, w.cfg.CaptureFPS),
		"actual", fmt.Sprintf("%dx%d@%.1f", actualW, actualH, actualFPS),
	)

	if actualW != w.cfg.Width || actualH != w.cfg.Height {
		slog.Warn("capture: hardware clamped resolution",
			"camera", w.cfg.Name,
			"requested", fmt.Sprintf("%dx%d", w.cfg.Width, w.cfg.Height),
			"actual", fmt.Sprintf("%dx%d", actualW, actualH),
		)
	}
	if actualFPS != w.cfg.CaptureFPS {
		slog.Warn("capture: hardware clamped frame rate",
			"camera", w.cfg.Name,
			"requested_fps", w.cfg.CaptureFPS,
			"actual_fps", actualFPS,
		)
	}
}

// warmup reads and discards the configured number of frames so the
// first frame delivered to clients is past auto-exposure settling.
func (w *Webcam) warmup(ctx context.Context) error {
	slog.Info("capture: warming up",
		"camera", w.cfg.Name,
		"frames", w.cfg.WarmupFrames,
	)
	for i := 0; i < w.cfg.WarmupFrames; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("capture: warm-up interrupted: %w", err)
		}
		if !w.cam.Read(&w.mat) {
			slog.Warn("capture: warm-up frame failed",
				"camera", w.cfg.Name,
				"frame", i+1,
			)
		}
		time.Sleep(warmupSpacing)
	}
	slog.Info("capture: warm-up complete", "camera", w.cfg.Name)
	return nil
}

// Grab reads the next hardware frame into the held buffer. A failed
// read wraps broadcast.ErrReadFailed; the capture loop retries after
// its backoff, since transient driver glitches self-heal.
func (w *Webcam) Grab() error {
	if !w.cam.Read(&w.mat) || w.mat.Empty() {
		return fmt.Errorf("capture: device %d: %w", w.cfg.ID, broadcast.ErrReadFailed)
	}
	return nil
}

// Encode composites the overlay onto the held frame, applies the fixed
// rotation and returns JPEG bytes.
func (w *Webcam) Encode() ([]byte, error) {
	w.comp.Apply(&w.mat, time.Now())
	if err := overlay.Rotate(&w.mat, w.cfg.Rotation); err != nil {
		return nil, fmt.Errorf("%v: %w", err, broadcast.ErrEncodeFailed)
	}
	return w.enc.Encode(w.mat)
}

// Close releases the device and the held frame. Safe when Open failed
// part-way.
func (w *Webcam) Close() error {
	if w.cam != nil {
		if err := w.cam.Close(); err != nil {
			return fmt.Errorf("capture: closing device %d: %w", w.cfg.ID, err)
		}
		w.cam = nil
		w.mat.Close()
	}
	return nil
}
