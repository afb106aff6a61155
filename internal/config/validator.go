package config

import (
	"fmt"

	"github.com/robfig/cron/v3"
)

// Validate checks the configuration for consistency.
// Called by Load after defaults are applied; exported for tests and
// for callers constructing configs programmatically.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging format %q", c.Logging.Format)
	}

	if c.Status.Enabled {
		if _, err := cron.ParseStandard(c.Status.Schedule); err != nil {
			return fmt.Errorf("invalid status schedule %q: %w", c.Status.Schedule, err)
		}
	}

	sensorNames := make(map[string]bool, len(c.Status.Sensors))
	for _, s := range c.Status.Sensors {
		if s.Name == "" || s.Path == "" {
			return fmt.Errorf("sensor entries require name and path")
		}
		if sensorNames[s.Name] {
			return fmt.Errorf("duplicate sensor name %q", s.Name)
		}
		sensorNames[s.Name] = true
	}

	if len(c.Cameras) == 0 {
		return fmt.Errorf("no cameras configured")
	}

	seen := make(map[int]bool, len(c.Cameras))
	for i := range c.Cameras {
		if err := c.Cameras[i].validate(); err != nil {
			return fmt.Errorf("camera %d: %w", c.Cameras[i].ID, err)
		}
		if seen[c.Cameras[i].ID] {
			return fmt.Errorf("duplicate camera id %d", c.Cameras[i].ID)
		}
		seen[c.Cameras[i].ID] = true
	}

	return nil
}

func (cam *CameraConfig) validate() error {
	if cam.ID < 0 {
		return fmt.Errorf("negative device index")
	}

	switch cam.Source {
	case "opencv":
	case "gstreamer":
		if cam.Pipeline == "" {
			return fmt.Errorf("gstreamer source requires a pipeline")
		}
	default:
		return fmt.Errorf("unknown source %q", cam.Source)
	}

	if cam.Width <= 0 || cam.Height <= 0 {
		return fmt.Errorf("invalid resolution %dx%d", cam.Width, cam.Height)
	}
	if cam.CaptureFPS <= 0 {
		return fmt.Errorf("invalid capture fps %.2f", cam.CaptureFPS)
	}
	if cam.DeliveryFPS <= 0 {
		return fmt.Errorf("invalid delivery fps %.2f", cam.DeliveryFPS)
	}

	switch cam.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("invalid rotation %d (must be 0, 90, 180 or 270)", cam.Rotation)
	}

	if cam.JPEGQuality < 1 || cam.JPEGQuality > 100 {
		return fmt.Errorf("invalid jpeg quality %d (must be 1-100)", cam.JPEGQuality)
	}
	if cam.WarmupFrames < 0 {
		return fmt.Errorf("negative warmup frame count")
	}

	if cam.Overlay.Enabled {
		o := &cam.Overlay
		if o.Text == "" {
			return fmt.Errorf("overlay enabled without text")
		}
		if o.CycleMinutes <= 0 {
			return fmt.Errorf("invalid overlay cycle %d minutes", o.CycleMinutes)
		}
		if o.DurationSeconds <= 0 {
			return fmt.Errorf("invalid overlay duration %d seconds", o.DurationSeconds)
		}
		if o.DurationSeconds > o.CycleMinutes*60 {
			return fmt.Errorf(
				"overlay duration %ds exceeds cycle %dm",
				o.DurationSeconds, o.CycleMinutes,
			)
		}
		if o.FontScale <= 0 {
			return fmt.Errorf("invalid overlay font scale %.2f", o.FontScale)
		}
		if o.BackgroundAlpha < 0 || o.BackgroundAlpha > 1 {
			return fmt.Errorf("overlay background alpha %.2f out of range [0,1]", o.BackgroundAlpha)
		}
		if o.TextAlpha < 0 || o.TextAlpha > 1 {
			return fmt.Errorf("overlay text alpha %.2f out of range [0,1]", o.TextAlpha)
		}
	}

	return nil
}
