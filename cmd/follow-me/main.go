package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openuav/follow-gcs/internal/db"
	"github.com/openuav/follow-gcs/internal/mav"
	"github.com/openuav/follow-gcs/internal/mission"
	"github.com/openuav/follow-gcs/internal/web"
	"github.com/openuav/follow-gcs/pkg/config"
	"github.com/openuav/follow-gcs/pkg/location"
)

// main flies a complete follow-me mission:
// - connect to the autopilot over MAVLink
// - wait for discovery, health checks, arm and take off
// - relay external target fixes while follow-me is engaged
// - stop, land and wait for touchdown
func main() {
	configPath := flag.String("config", "configs/config.json", "Path to configuration file")
	connectionURL := flag.String("url", "", "MAVLink connection URL (overrides config)")
	locationAddr := flag.String("location", "", "TCP location provider address (overrides config)")
	duration := flag.Int("duration", 0, "Max follow duration in seconds (overrides config)")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if *connectionURL != "" {
		cfg.Connection.URL = *connectionURL
	}
	if *locationAddr != "" {
		cfg.Location.Type = "tcp"
		cfg.Location.Address = *locationAddr
	}
	if *duration > 0 {
		cfg.Follow.MaxDurationSeconds = *duration
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Infof("Connecting to %s", cfg.Connection.URL)
	discoveryCtx, cancelDiscovery := context.WithTimeout(ctx,
		time.Duration(cfg.Connection.DiscoveryTimeoutSeconds)*time.Second)
	sys, err := mav.Connect(discoveryCtx, cfg.Connection.URL, cfg.Connection.SystemID, logger)
	cancelDiscovery()
	if err != nil {
		logger.Fatalf("Failed to connect: %v", err)
	}
	defer sys.Close()

	if err := sys.EnsureSingleSystem(); err != nil {
		logger.Fatalf("Vehicle discovery: %v", err)
	}

	source, push, err := buildSource(cfg.Location, logger)
	if err != nil {
		logger.Fatalf("Location source: %v", err)
	}

	opts := mission.Options{
		Takeoff: cfg.Takeoff,
		Follow:  cfg.Follow,
	}

	var tracklog *db.TrackLogRepository
	var flightID int64
	if cfg.TrackLog.Enabled {
		database, err := db.ReconnectWithRetry(cfg.TrackLog, 3, time.Second, logger)
		if err != nil {
			logger.Fatalf("Track log database: %v", err)
		}
		defer database.Close()

		if err := database.InitSchema(ctx); err != nil {
			logger.Fatalf("Track log schema: %v", err)
		}

		tracklog = db.NewTrackLogRepository(database)
		flightID, err = tracklog.StartFlight(ctx, cfg.Connection.URL)
		if err != nil {
			logger.Fatalf("Track log: %v", err)
		}
		logger.Infof("Recording flight %d", flightID)

		opts.OnFix = func(fix location.Fix) {
			recCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := tracklog.RecordTargetFix(recCtx, flightID, fix); err != nil {
				logger.Debugf("fix not recorded: %v", err)
			}
		}
	}

	runner := mission.NewRunner(sys, source, opts, logger)

	if cfg.Web.Enabled {
		srv := web.NewServer(sys, runner.Stats, push, cfg.Web, logger)
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Errorf("status API stopped: %v", err)
			}
		}()
	}

	if tracklog != nil {
		go samplePositions(ctx, sys, tracklog, flightID, logger)
	}

	missionErr := runner.Run(ctx)

	if tracklog != nil {
		reason := "completed"
		switch {
		case errors.Is(missionErr, mission.ErrModeOverride):
			reason = "mode override"
		case missionErr != nil:
			reason = "error"
		}
		endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracklog.EndFlight(endCtx, flightID, reason); err != nil {
			logger.Warnf("failed to close flight record: %v", err)
		}
		cancel()
	}

	if missionErr != nil {
		if errors.Is(missionErr, mission.ErrModeOverride) {
			// The vehicle was landed by the mission runner; this exit
			// is expected when a pilot takes over.
			logger.Warnf("Mission ended early: %v", missionErr)
			return
		}
		logger.Fatalf("Mission failed: %v", missionErr)
	}

	logger.Info("Mission complete")
}

// buildSource creates the configured location source. The push source is
// returned separately so the status API can inject fixes into it.
func buildSource(cfg config.LocationConfig, logger *logrus.Logger) (location.Source, *location.PushSource, error) {
	switch cfg.Type {
	case "", "tcp":
		return location.NewTCPSource(cfg.Address, logger), nil, nil
	case "websocket":
		return location.NewWebSocketSource(cfg.WebSocketURL, logger), nil, nil
	case "serial-nmea":
		return location.NewNMEASource(cfg.SerialPort, cfg.SerialBaud, logger), nil, nil
	case "push":
		push := location.NewPushSource()
		return push, push, nil
	default:
		return nil, nil, errors.New("unknown location source type: " + cfg.Type)
	}
}

// samplePositions records the vehicle track once per second.
func samplePositions(ctx context.Context, sys *mav.System, tracklog *db.TrackLogRepository, flightID int64, logger *logrus.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pos := sys.Position()
			if pos.LatitudeDeg == 0 && pos.LongitudeDeg == 0 {
				continue
			}
			recCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := tracklog.RecordVehiclePosition(recCtx, flightID, pos, sys.FlightMode()); err != nil {
				logger.Debugf("position not recorded: %v", err)
			}
			cancel()
		}
	}
}
