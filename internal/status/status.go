// Package status assembles periodic health snapshots of the whole
// service: per-camera pipeline counters, connected viewers and the
// latest sensor readings. Snapshots are pushed to notifiers on a cron
// schedule and served on demand to the web layer.
package status

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/wnccnasa/FishCam/internal/broadcast"
	"github.com/wnccnasa/FishCam/internal/sensors"
)

// CameraStatus is one camera's pipeline state inside a snapshot.
type CameraStatus struct {
	Name    string          `json:"name"`
	Path    string          `json:"path"`
	Running bool            `json:"running"`
	Stats   broadcast.Stats `json:"stats"`
}

// Snapshot is a point-in-time view of the service.
type Snapshot struct {
	ID          string                     `json:"id"`
	Time        time.Time                  `json:"time"`
	Connections int                        `json:"connections"`
	Cameras     []CameraStatus             `json:"cameras"`
	Sensors     map[string]sensors.Reading `json:"sensors"`
}

// Collector produces the current snapshot. The assembly wires one up
// over the live broadcasters, the web server and the sensor poller.
type Collector func() Snapshot

// Notifier receives scheduled snapshots. Delivery is best effort; a
// notifier must not block the scheduler for long.
type Notifier interface {
	Notify(snap Snapshot)
}

// LogNotifier writes snapshots to the structured log. It is the
// default sink when no external notifier is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(snap Snapshot) {
	for _, cam := range snap.Cameras {
		slog.Info("status: camera",
			"snapshot", snap.ID,
			"camera", cam.Name,
			"running", cam.Running,
			"fps", cam.Stats.FPSReal,
			"published", cam.Stats.FramesPublished,
			"dropped", cam.Stats.FramesDropped,
			"read_failures", cam.Stats.ReadFailures,
		)
	}
	for name, r := range snap.Sensors {
		slog.Info("status: sensor",
			"snapshot", snap.ID,
			"sensor", name,
			"value", r.Value,
			"ok", r.OK,
		)
	}
	slog.Info("status: viewers", "snapshot", snap.ID, "connections", snap.Connections)
}

// Scheduler pushes snapshots to notifiers on a cron schedule.
type Scheduler struct {
	collect   Collector
	notifiers []Notifier
	schedule  string
	cron      *cron.Cron
}

// NewScheduler creates a scheduler for the given standard cron
// expression. When no notifiers are passed the LogNotifier is used.
func NewScheduler(schedule string, collect Collector, notifiers ...Notifier) *Scheduler {
	if len(notifiers) == 0 {
		notifiers = []Notifier{LogNotifier{}}
	}
	return &Scheduler{
		collect:   collect,
		notifiers: notifiers,
		schedule:  schedule,
	}
}

// Run starts the cron loop and blocks until ctx is cancelled. The
// schedule was validated at config load, so AddFunc failing here is a
// programming error.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.schedule, s.fire); err != nil {
		return err
	}
	s.cron.Start()
	slog.Info("status: scheduler started", "schedule", s.schedule)

	<-ctx.Done()

	stop := s.cron.Stop()
	<-stop.Done()
	return nil
}

func (s *Scheduler) fire() {
	snap := s.collect()
	for _, n := range s.notifiers {
		n.Notify(snap)
	}
}

// NewSnapshot stamps a snapshot with an id and the current time.
func NewSnapshot() Snapshot {
	return Snapshot{
		ID:      uuid.NewString(),
		Time:    time.Now().UTC(),
		Sensors: map[string]sensors.Reading{},
	}
}
