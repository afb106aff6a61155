// Package sensors is the boundary to the installation's environmental
// probes (air temperature/humidity/pressure, water temperature, water
// level, pH). Acquisition itself lives outside this module; here a
// Sensor is anything with a Read, and a Poller keeps the latest
// readings available to the status surface.
package sensors

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sensor is one environmental probe.
//
// Implementations must never panic or propagate hardware errors past
// Read: a failed or absent reading is reported as ok=false.
type Sensor interface {
	// Name identifies the probe in snapshots ("water_temp_f", "ph", …)
	Name() string
	// Read returns the current value, or ok=false when unavailable
	Read() (value float64, ok bool)
}

// Reading is one sampled value with its sample time.
type Reading struct {
	Value float64   `json:"value"`
	OK    bool      `json:"ok"`
	At    time.Time `json:"at"`
}

// Poller samples a fixed set of sensors on an interval and serves the
// last snapshot concurrently. Camera pipelines never wait on sensors;
// readers get whatever was sampled most recently.
type Poller struct {
	sensors  []Sensor
	interval time.Duration

	mu       sync.RWMutex
	readings map[string]Reading
}

// NewPoller creates a Poller over the given sensors. An empty sensor
// set is valid; Snapshot just stays empty.
func NewPoller(interval time.Duration, sensors ...Sensor) *Poller {
	return &Poller{
		sensors:  sensors,
		interval: interval,
		readings: make(map[string]Reading, len(sensors)),
	}
}

// Run samples immediately and then on every interval tick until ctx is
// cancelled. Always returns nil; sensor failures are recorded in the
// snapshot, never escalated.
func (p *Poller) Run(ctx context.Context) error {
	if len(p.sensors) == 0 {
		<-ctx.Done()
		return nil
	}

	p.sample()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.sample()
		}
	}
}

func (p *Poller) sample() {
	now := time.Now()
	for _, s := range p.sensors {
		value, ok := s.Read()
		if !ok {
			slog.Debug("sensors: reading unavailable", "sensor", s.Name())
		}
		p.mu.Lock()
		p.readings[s.Name()] = Reading{Value: value, OK: ok, At: now}
		p.mu.Unlock()
	}
}

// Snapshot returns a copy of the latest readings.
func (p *Poller) Snapshot() map[string]Reading {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]Reading, len(p.readings))
	for name, r := range p.readings {
		out[name] = r
	}
	return out
}
