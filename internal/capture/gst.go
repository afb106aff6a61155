package capture

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"gocv.io/x/gocv"

	"github.com/wnccnasa/FishCam/internal/broadcast"
	"github.com/wnccnasa/FishCam/internal/config"
	"github.com/wnccnasa/FishCam/internal/encode"
	"github.com/wnccnasa/FishCam/internal/overlay"
)

// GstSource captures through a GStreamer pipeline, for devices OpenCV
// cannot open (libcamera stacks, network rebroadcast). The configured
// source description is completed with a convert/scale/rate tail and
// an appsink delivering raw BGR frames sized to the camera config.
type GstSource struct {
	cfg  config.CameraConfig
	comp *overlay.Compositor
	enc  encode.JPEG

	pipeline *gst.Pipeline
	frames   chan []byte
	quit     chan struct{}
	held     []byte

	// readTimeout bounds Grab so a dead pipeline surfaces as a read
	// failure instead of blocking the capture loop forever.
	readTimeout time.Duration
}

// NewGstSource prepares a GStreamer-backed source for cfg. The
// pipeline is built and started by Open.
func NewGstSource(cfg config.CameraConfig) *GstSource {
	timeout := 5 * time.Second
	if cfg.CaptureFPS > 0 {
		if t := time.Duration(4 * float64(time.Second) / cfg.CaptureFPS); t > timeout {
			timeout = t
		}
	}
	return &GstSource{
		cfg:         cfg,
		enc:         encode.NewJPEG(cfg.JPEGQuality),
		frames:      make(chan []byte, 1),
		quit:        make(chan struct{}),
		readTimeout: timeout,
	}
}

// launchString completes the configured source description with the
// conversion tail. Frames arrive at the appsink as tightly packed BGR
// at exactly the configured geometry.
func (g *GstSource) launchString() string {
	fps := int(math.Round(g.cfg.CaptureFPS))
	if fps < 1 {
		fps = 1
	}
	return fmt.Sprintf(
		"%s ! videoconvert ! videoscale ! videorate ! "+
			"video/x-raw,format=BGR,width=%d,height=%d,framerate=%d/1 ! "+
			"appsink name=sink drop=true max-buffers=1",
		g.cfg.Pipeline, g.cfg.Width, g.cfg.Height, fps,
	)
}

// Open builds and starts the pipeline, waits for the first decodable
// frame as the probe, then discards the warm-up frames. Any failure up
// to the probe wraps broadcast.ErrHardwareUnavailable.
func (g *GstSource) Open(ctx context.Context) error {
	gst.Init(nil)

	g.comp = overlay.NewCompositor(g.cfg.Name, g.cfg.Overlay, time.Now())

	pipeline, err := gst.NewPipelineFromString(g.launchString())
	if err != nil {
		return fmt.Errorf("capture: building pipeline %q: %v: %w",
			g.cfg.Pipeline, err, broadcast.ErrHardwareUnavailable)
	}
	g.pipeline = pipeline

	sinkElem, err := pipeline.GetElementByName("sink")
	if err != nil {
		g.teardown()
		return fmt.Errorf("capture: appsink missing: %v: %w",
			err, broadcast.ErrHardwareUnavailable)
	}

	sink := app.SinkFromElement(sinkElem)
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: g.onNewSample,
	})

	// Every failure past this point must tear the pipeline back to
	// null; a Stop after a failed open never calls Close.
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		g.teardown()
		return fmt.Errorf("capture: starting pipeline: %v: %w",
			err, broadcast.ErrHardwareUnavailable)
	}

	// Probe: the pipeline must deliver a frame before clients attach.
	select {
	case <-g.frames:
	case <-time.After(g.readTimeout):
		g.teardown()
		return fmt.Errorf("capture: pipeline produced no frame within %v: %w",
			g.readTimeout, broadcast.ErrHardwareUnavailable)
	case <-ctx.Done():
		g.teardown()
		return fmt.Errorf("capture: open interrupted: %w", ctx.Err())
	}

	if err := g.warmup(ctx); err != nil {
		g.teardown()
		return err
	}

	go g.monitorBus()

	slog.Info("capture: pipeline playing",
		"camera", g.cfg.Name,
		"pipeline", g.cfg.Pipeline,
	)
	return nil
}

// onNewSample copies the sample out of GStreamer's buffer (which is
// reused) and publishes it latest-wins into the frame channel.
func (g *GstSource) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	// Latest-wins: displace an unconsumed frame rather than queueing.
	for {
		select {
		case g.frames <- frame:
			return gst.FlowOK
		default:
			select {
			case <-g.frames:
			default:
			}
		}
	}
}

// warmup discards the configured number of frames after the probe.
func (g *GstSource) warmup(ctx context.Context) error {
	slog.Info("capture: warming up",
		"camera", g.cfg.Name,
		"frames", g.cfg.WarmupFrames,
	)
	for i := 0; i < g.cfg.WarmupFrames; i++ {
		select {
		case <-g.frames:
		case <-time.After(g.readTimeout):
			slog.Warn("capture: warm-up frame timed out",
				"camera", g.cfg.Name,
				"frame", i+1,
			)
		case <-ctx.Done():
			return fmt.Errorf("capture: warm-up interrupted: %w", ctx.Err())
		}
	}
	slog.Info("capture: warm-up complete", "camera", g.cfg.Name)
	return nil
}

// monitorBus logs pipeline errors until Close. Errors are not fatal
// here; a silent pipeline surfaces as Grab timeouts and the capture
// loop retries.
func (g *GstSource) monitorBus() {
	bus := g.pipeline.GetPipelineBus()
	for {
		select {
		case <-g.quit:
			return
		default:
		}

		msg := bus.TimedPop(250 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			slog.Warn("capture: pipeline reported end of stream",
				"camera", g.cfg.Name,
			)
		case gst.MessageError:
			gerr := msg.ParseError()
			slog.Error("capture: pipeline error",
				"camera", g.cfg.Name,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
			)
		}
	}
}

// Grab waits for the next frame from the appsink, bounded by the read
// timeout so a stalled pipeline reports a retryable failure.
func (g *GstSource) Grab() error {
	select {
	case frame := <-g.frames:
		g.held = frame
		return nil
	case <-time.After(g.readTimeout):
		return fmt.Errorf("capture: no frame within %v: %w",
			g.readTimeout, broadcast.ErrReadFailed)
	}
}

// Encode wraps the held BGR bytes in a Mat, composites the overlay,
// applies the fixed rotation and returns JPEG bytes.
func (g *GstSource) Encode() ([]byte, error) {
	mat, err := gocv.NewMatFromBytes(g.cfg.Height, g.cfg.Width, gocv.MatTypeCV8UC3, g.held)
	if err != nil {
		return nil, fmt.Errorf("capture: wrapping frame: %v: %w",
			err, broadcast.ErrEncodeFailed)
	}

	g.comp.Apply(&mat, time.Now())
	// Rotate replaces the Mat, so close explicitly rather than defer.
	if err := overlay.Rotate(&mat, g.cfg.Rotation); err != nil {
		mat.Close()
		return nil, fmt.Errorf("%v: %w", err, broadcast.ErrEncodeFailed)
	}
	data, err := g.enc.Encode(mat)
	mat.Close()
	return data, err
}

// Close stops the pipeline. Safe when Open failed part-way.
func (g *GstSource) Close() error {
	select {
	case <-g.quit:
	default:
		close(g.quit)
	}
	g.teardown()
	return nil
}

func (g *GstSource) teardown() {
	if g.pipeline != nil {
		g.pipeline.SetState(gst.StateNull)
		g.pipeline = nil
	}
}
