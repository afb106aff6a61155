// Package config loads and validates the FishCam YAML configuration.
//
// The configuration is read once at startup. Camera entries are
// immutable after Load; editing the file while the daemon runs only
// produces a restart-required warning (see Watch).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete FishCam configuration
type Config struct {
	Server  ServerConfig   `yaml:"server"`
	Logging LoggingConfig  `yaml:"logging"`
	Status  StatusConfig   `yaml:"status"`
	Cameras []CameraConfig `yaml:"cameras"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// ListenAddr is the address the HTTP server binds to (default ":8000")
	ListenAddr string `yaml:"listen_addr"`
	// StatusPushInterval is the cadence of websocket status pushes
	StatusPushInterval time.Duration `yaml:"status_push_interval"`
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	// Level is one of debug, info, warn, error (default info)
	Level string `yaml:"level"`
	// Format is "json" or "text" (default json)
	Format string `yaml:"format"`
}

// StatusConfig contains scheduled status snapshot settings
type StatusConfig struct {
	// Enabled turns the snapshot scheduler on
	Enabled bool `yaml:"enabled"`
	// Schedule is a cron expression (default "0 8 * * *": daily 08:00)
	Schedule string `yaml:"schedule"`
	// SensorPollInterval is the sensor sampling cadence
	SensorPollInterval time.Duration `yaml:"sensor_poll_interval"`
	// Sensors lists file-backed probes to sample
	Sensors []SensorConfig `yaml:"sensors"`
}

// SensorConfig describes one file-backed probe, typically a sysfs
// hwmon value. The raw number is reported as raw*scale+offset.
type SensorConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
	// Scale defaults to 1 (e.g. 0.001 for millidegree hwmon files)
	Scale  float64 `yaml:"scale"`
	Offset float64 `yaml:"offset"`
}

// CameraConfig describes one physical camera. Immutable after Load.
type CameraConfig struct {
	// ID is the hardware device index (e.g. /dev/video<ID>)
	ID int `yaml:"id"`
	// Name is a human-readable label used on the index page and in logs
	Name string `yaml:"name"`
	// Source selects the capture backend: "opencv" (default) or "gstreamer"
	Source string `yaml:"source"`
	// Pipeline is the GStreamer source description when Source is "gstreamer"
	// (everything before the videoconvert/appsink tail, e.g. "libcamerasrc")
	Pipeline string `yaml:"pipeline"`
	// Width/Height are the requested capture resolution (best-effort)
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	// CaptureFPS is the frame rate requested from the hardware (best-effort)
	CaptureFPS float64 `yaml:"capture_fps"`
	// DeliveryFPS caps the rate frames are published to clients.
	// Hardware frames above the cap are dropped, never buffered.
	DeliveryFPS float64 `yaml:"delivery_fps"`
	// Rotation is a fixed rotation in degrees: 0, 90, 180 or 270
	Rotation int `yaml:"rotation"`
	// JPEGQuality is the encoder quality, 1-100
	JPEGQuality int `yaml:"jpeg_quality"`
	// WarmupFrames is the number of frames discarded after open to let
	// auto-exposure settle
	WarmupFrames int `yaml:"warmup_frames"`
	// ReadRetry is the delay before retrying a failed hardware read
	ReadRetry time.Duration `yaml:"read_retry"`
	// Overlay configures the cyclic text label
	Overlay OverlayConfig `yaml:"overlay"`
}

// OverlayConfig controls the time-gated label drawn on frames
type OverlayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Text    string `yaml:"text"`
	// CycleMinutes is the full show/hide period
	CycleMinutes int `yaml:"cycle_minutes"`
	// DurationSeconds is how long the label stays visible at the start
	// of each cycle. Must not exceed the cycle length.
	DurationSeconds int     `yaml:"duration_seconds"`
	FontScale       float64 `yaml:"font_scale"`
	// BackgroundAlpha is the opacity of the filled backdrop rectangle
	BackgroundAlpha float64 `yaml:"background_alpha"`
	// TextAlpha is the opacity of the text itself, independent of the
	// backdrop (typically higher)
	TextAlpha float64 `yaml:"text_alpha"`
	// TextColor is the label color as B,G,R components
	TextColor [3]uint8 `yaml:"text_color"`
}

// Defaults mirroring the production installation.
const (
	DefaultListenAddr       = ":8000"
	DefaultWidth            = 640
	DefaultHeight           = 480
	DefaultCaptureFPS       = 10.0
	DefaultDeliveryFPS      = 10.0
	DefaultJPEGQuality      = 85
	DefaultWarmupFrames     = 5
	DefaultReadRetry        = 250 * time.Millisecond
	DefaultCycleMinutes     = 10
	DefaultDurationSeconds  = 30
	DefaultFontScale        = 0.8
	DefaultBackgroundAlpha  = 0.7
	DefaultTextAlpha        = 0.9
	DefaultPushInterval     = 2 * time.Second
	DefaultStatusSchedule   = "0 8 * * *"
	DefaultSensorPoll       = 30 * time.Second
)

// Load reads, defaults and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills zero values with installation defaults.
func (c *Config) applyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.StatusPushInterval <= 0 {
		c.Server.StatusPushInterval = DefaultPushInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Status.Schedule == "" {
		c.Status.Schedule = DefaultStatusSchedule
	}
	if c.Status.SensorPollInterval <= 0 {
		c.Status.SensorPollInterval = DefaultSensorPoll
	}
	for i := range c.Status.Sensors {
		if c.Status.Sensors[i].Scale == 0 {
			c.Status.Sensors[i].Scale = 1
		}
	}

	for i := range c.Cameras {
		cam := &c.Cameras[i]
		if cam.Name == "" {
			cam.Name = fmt.Sprintf("Camera %d", cam.ID)
		}
		if cam.Source == "" {
			cam.Source = "opencv"
		}
		if cam.Width == 0 {
			cam.Width = DefaultWidth
		}
		if cam.Height == 0 {
			cam.Height = DefaultHeight
		}
		if cam.CaptureFPS == 0 {
			cam.CaptureFPS = DefaultCaptureFPS
		}
		if cam.DeliveryFPS == 0 {
			cam.DeliveryFPS = DefaultDeliveryFPS
		}
		if cam.JPEGQuality == 0 {
			cam.JPEGQuality = DefaultJPEGQuality
		}
		if cam.WarmupFrames == 0 {
			cam.WarmupFrames = DefaultWarmupFrames
		}
		if cam.ReadRetry <= 0 {
			cam.ReadRetry = DefaultReadRetry
		}
		if cam.Overlay.Enabled {
			o := &cam.Overlay
			if o.CycleMinutes == 0 {
				o.CycleMinutes = DefaultCycleMinutes
			}
			if o.DurationSeconds == 0 {
				o.DurationSeconds = DefaultDurationSeconds
			}
			if o.FontScale == 0 {
				o.FontScale = DefaultFontScale
			}
			if o.BackgroundAlpha == 0 {
				o.BackgroundAlpha = DefaultBackgroundAlpha
			}
			if o.TextAlpha == 0 {
				o.TextAlpha = DefaultTextAlpha
			}
			if o.TextColor == [3]uint8{} {
				// Burnt orange, BGR order
				o.TextColor = [3]uint8{0, 85, 204}
			}
		}
	}
}

// StreamPath returns the URL path serving camera slot i ("/stream<i>.mjpg").
// Paths are assigned by slot order, not device index, so a failed camera
// keeps its slot and later cameras keep stable URLs.
func StreamPath(slot int) string {
	return fmt.Sprintf("/stream%d.mjpg", slot)
}
