// Package overlay draws a time-cycled text label onto captured frames
// and applies the camera's fixed rotation.
//
// A Compositor belongs to a single capture goroutine; its cycle state
// is never shared, so no locking is needed here.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"time"

	"gocv.io/x/gocv"

	"github.com/wnccnasa/FishCam/internal/config"
)

// Compositor stamps the configured label onto frames for the first
// DurationSeconds of every CycleMinutes window.
type Compositor struct {
	camera     string
	cfg        config.OverlayConfig
	cycleStart time.Time
	shown      bool // previous visibility, for edge-only logging
}

// NewCompositor creates a Compositor whose cycle starts at now.
// A nil return means the overlay is disabled and Apply is a no-op;
// callers may skip the call entirely.
func NewCompositor(camera string, cfg config.OverlayConfig, now time.Time) *Compositor {
	if !cfg.Enabled {
		return nil
	}
	return &Compositor{
		camera:     camera,
		cfg:        cfg,
		cycleStart: now,
	}
}

// Visible reports whether the label is shown at the given offset into
// the cycle: true iff elapsed mod cycle < duration.
func Visible(elapsed, cycle, duration time.Duration) bool {
	if cycle <= 0 {
		return false
	}
	return elapsed%cycle < duration
}

// Apply composites the label onto m when the cycle timer says it is
// visible, otherwise passes the frame through untouched. Transitions
// are logged once per edge, never once per frame.
func (c *Compositor) Apply(m *gocv.Mat, now time.Time) {
	if c == nil {
		return
	}
	if c.update(now) {
		c.draw(m)
	}
}

// update advances the cycle state and returns the current visibility,
// logging exactly one line per shown/hidden transition.
func (c *Compositor) update(now time.Time) bool {
	cycle := time.Duration(c.cfg.CycleMinutes) * time.Minute
	duration := time.Duration(c.cfg.DurationSeconds) * time.Second
	visible := Visible(now.Sub(c.cycleStart), cycle, duration)

	if visible != c.shown {
		if visible {
			slog.Info("overlay: label shown", "camera", c.camera, "duration", duration)
		} else {
			slog.Info("overlay: label hidden", "camera", c.camera, "next_in", cycle-duration)
		}
		c.shown = visible
	}
	return visible
}

// draw renders the label: a filled backdrop rectangle blended at the
// background alpha, then the text blended at its own (typically higher)
// alpha. Two passes, two independent opacities.
func (c *Compositor) draw(m *gocv.Mat) {
	label := fmt.Sprintf("%s: %s", c.camera, c.cfg.Text)
	const font = gocv.FontHersheySimplex
	const thickness = 2
	const pad = 5

	size, baseline := gocv.GetTextSizeWithBaseline(label, font, c.cfg.FontScale, thickness)

	// Bottom-left anchor with a margin.
	origin := image.Pt(20, m.Rows()-20)
	backdrop := image.Rect(
		origin.X-pad,
		origin.Y-size.Y-pad,
		origin.X+size.X+pad,
		origin.Y+baseline+pad,
	)

	bg := m.Clone()
	defer bg.Close()
	gocv.Rectangle(&bg, backdrop, color.RGBA{}, -1)
	gocv.AddWeighted(bg, c.cfg.BackgroundAlpha, *m, 1-c.cfg.BackgroundAlpha, 0, m)

	// TextColor is stored B,G,R to match the capture pixel order.
	textColor := color.RGBA{
		R: c.cfg.TextColor[2],
		G: c.cfg.TextColor[1],
		B: c.cfg.TextColor[0],
	}
	txt := m.Clone()
	defer txt.Close()
	gocv.PutText(&txt, label, origin, font, c.cfg.FontScale, textColor, thickness)
	gocv.AddWeighted(txt, c.cfg.TextAlpha, *m, 1-c.cfg.TextAlpha, 0, m)
}

// Rotate applies a fixed 90/180/270 degree rotation in place. 0 is a
// no-op. Called after Apply and before encoding so the label tracks
// the delivered orientation.
func Rotate(m *gocv.Mat, degrees int) error {
	var flag gocv.RotateFlag
	switch degrees {
	case 0:
		return nil
	case 90:
		flag = gocv.Rotate90Clockwise
	case 180:
		flag = gocv.Rotate180Clockwise
	case 270:
		flag = gocv.Rotate90CounterClockwise
	default:
		return fmt.Errorf("overlay: unsupported rotation %d", degrees)
	}

	rotated := gocv.NewMat()
	gocv.Rotate(*m, &rotated, flag)
	m.Close()
	*m = rotated
	return nil
}
