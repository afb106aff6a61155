// fishcamd serves the aquarium cameras as MJPEG streams over HTTP.
//
// Each configured camera gets a capture pipeline and a broadcaster;
// viewers attach to /stream<N>.mjpg endpoints and always receive the
// newest frame. Cameras that fail to open are skipped at startup but
// keep their URL, which answers 503 until the daemon is restarted.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/wnccnasa/FishCam/internal/broadcast"
	"github.com/wnccnasa/FishCam/internal/capture"
	"github.com/wnccnasa/FishCam/internal/config"
	"github.com/wnccnasa/FishCam/internal/sensors"
	"github.com/wnccnasa/FishCam/internal/status"
	"github.com/wnccnasa/FishCam/internal/web"
)

const defaultConfigPath = "config/fishcam.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging, *debug)
	slog.Info("starting fishcam service",
		"config", *configPath,
		"cameras", len(cfg.Cameras),
		"addr", cfg.Server.ListenAddr,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cameras, broadcasters := startCameras(ctx, cfg.Cameras)
	if len(broadcasters) == 0 {
		slog.Error("no cameras started, exiting")
		os.Exit(1)
	}
	defer func() {
		for _, b := range broadcasters {
			if err := b.Stop(); err != nil {
				slog.Warn("camera stop failed", "camera", b.Name(), "error", err)
			}
		}
	}()

	poller := sensors.NewPoller(cfg.Status.SensorPollInterval, buildSensors(cfg.Status.Sensors)...)

	var server *web.Server
	collect := func() status.Snapshot {
		snap := status.NewSnapshot()
		snap.Connections = server.ConnectionCount()
		for _, cam := range cameras {
			snap.Cameras = append(snap.Cameras, status.CameraStatus{
				Name:    cam.Name,
				Path:    cam.Path,
				Running: cam.Stream.Running(),
				Stats:   cam.Stream.Stats(),
			})
		}
		snap.Sensors = poller.Snapshot()
		return snap
	}
	server = web.NewServer(cfg.Server.ListenAddr, cameras, collect, cfg.Server.StatusPushInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error { return poller.Run(ctx) })
	g.Go(func() error { return config.Watch(ctx, *configPath) })
	if cfg.Status.Enabled {
		scheduler := status.NewScheduler(cfg.Status.Schedule, collect)
		g.Go(func() error { return scheduler.Run(ctx) })
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("service error", "error", err)
		os.Exit(1)
	}

	slog.Info("fishcam service stopped")
}

// setupLogger installs the default slog handler per configuration.
// The -debug flag overrides the configured level.
func setupLogger(cfg config.LoggingConfig, debug bool) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// startCameras opens every configured camera and starts its
// broadcaster. A camera that fails to start is logged and skipped but
// still appears in the route table so its URL answers 503 instead of
// 404. The second return holds only the broadcasters that must be
// stopped at shutdown.
func startCameras(ctx context.Context, cams []config.CameraConfig) ([]web.Camera, []*broadcast.Broadcaster) {
	var (
		cameras []web.Camera
		started []*broadcast.Broadcaster
	)
	for slot, cam := range cams {
		src, err := capture.NewSource(cam)
		if err != nil {
			slog.Error("camera configuration rejected", "camera", cam.Name, "error", err)
			continue
		}

		b, err := broadcast.New(cam.Name, src, broadcast.Options{
			DeliveryFPS: cam.DeliveryFPS,
			ReadRetry:   cam.ReadRetry,
		})
		if err != nil {
			slog.Error("broadcaster rejected", "camera", cam.Name, "error", err)
			continue
		}

		path := config.StreamPath(slot)
		cameras = append(cameras, web.Camera{Name: cam.Name, Path: path, Stream: b})

		if err := b.Start(ctx); err != nil {
			slog.Error("camera failed to start, endpoint will answer 503",
				"camera", cam.Name, "path", path, "error", err)
			continue
		}
		slog.Info("camera started", "camera", cam.Name, "path", path)
		started = append(started, b)
	}
	return cameras, started
}

func buildSensors(cfgs []config.SensorConfig) []sensors.Sensor {
	out := make([]sensors.Sensor, 0, len(cfgs))
	for _, s := range cfgs {
		out = append(out, sensors.NewFileSensor(s.Name, s.Path, s.Scale, s.Offset))
	}
	return out
}
