// Package mission sequences a full follow-me flight: preflight health,
// arming, takeoff, the follow phase itself and the landing that ends it.
// Each phase blocks until its exit condition holds or the context expires,
// so a mission reads top to bottom like the flight it performs.
package mission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openuav/follow-gcs/internal/follow"
	"github.com/openuav/follow-gcs/pkg/config"
	"github.com/openuav/follow-gcs/pkg/location"
	"github.com/openuav/follow-gcs/pkg/vehicle"
)

const (
	healthPollInterval   = 500 * time.Millisecond
	altitudePollInterval = 250 * time.Millisecond
	landPollInterval     = 500 * time.Millisecond

	// landTimeout bounds how long we wait for touchdown before giving up
	// on confirmation. The land command itself has already been accepted
	// at that point.
	landTimeout = 2 * time.Minute

	// shutdownTimeout bounds the stop/land sequence when the mission
	// context is already gone. Landing must not be skipped just because
	// the operator hit ctrl-c.
	shutdownTimeout = 30 * time.Second
)

// ErrModeOverride is returned when the follow phase ends because something
// other than this process changed the flight mode.
var ErrModeOverride = errors.New("flight mode changed externally")

// Vehicle bundles the control surfaces a mission needs.
type Vehicle interface {
	vehicle.Telemetry
	vehicle.Action
	vehicle.FollowMe
}

// Options configures a mission run.
type Options struct {
	Takeoff config.TakeoffConfig
	Follow  config.FollowConfig

	// OnFix, when set, observes every fix from the source before the
	// relay sees it. Used for track logging.
	OnFix location.Handler
}

// Runner executes the follow-me mission against a vehicle.
type Runner struct {
	veh    Vehicle
	source location.Source
	opts   Options
	relay  *follow.Relay
	logger *logrus.Logger
}

// NewRunner creates a mission runner. The relay exists from construction so
// callers can read Stats before and during the follow phase.
func NewRunner(veh Vehicle, source location.Source, opts Options, logger *logrus.Logger) *Runner {
	relay := follow.NewRelay(veh, veh, follow.RelayConfig{
		MaxTargetDistanceM: opts.Follow.MaxTargetDistanceM,
		TargetRateHz:       opts.Follow.TargetRateHz,
	}, logger)

	return &Runner{
		veh:    veh,
		source: source,
		opts:   opts,
		relay:  relay,
		logger: logger,
	}
}

// Stats returns the relay counters for the current run.
func (r *Runner) Stats() follow.Stats {
	return r.relay.Stats()
}

// Run flies the mission. It returns once the vehicle has landed, or when a
// phase fails. A watchdog abort still lands the vehicle and then returns
// ErrModeOverride.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.waitHealthy(ctx); err != nil {
		return fmt.Errorf("waiting for vehicle to be ready: %w", err)
	}

	if r.veh.Armed() {
		r.logger.Info("Vehicle is ready and already armed")
	} else {
		r.logger.Info("Vehicle is ready, arming")
		if err := r.veh.Arm(ctx); err != nil {
			return fmt.Errorf("arming failed: %w", err)
		}
		r.logger.Info("Armed")
	}

	if r.veh.InAir() {
		r.logger.Info("Vehicle is already in air, skipping takeoff")
	} else {
		r.logger.Infof("Taking off to %.1fm", r.opts.Takeoff.AltitudeM)
		if err := r.veh.Takeoff(ctx, r.opts.Takeoff.AltitudeM); err != nil {
			return fmt.Errorf("takeoff failed: %w", err)
		}
		if err := r.waitAirborne(ctx); err != nil {
			return fmt.Errorf("waiting for takeoff altitude: %w", err)
		}
		r.logger.Info("In air")
	}

	followErr := r.runFollow(ctx)

	// Landing runs on its own context so an expired mission context
	// cannot leave the vehicle hovering.
	landCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		landCtx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
	}

	r.logger.Info("Landing")
	if err := r.veh.Land(landCtx); err != nil {
		if followErr != nil {
			return fmt.Errorf("landing failed after follow aborted (%v): %w", followErr, err)
		}
		return fmt.Errorf("landing failed: %w", err)
	}
	if err := r.waitLanded(landCtx); err != nil {
		return fmt.Errorf("waiting for touchdown: %w", err)
	}
	r.logger.Info("Landed")

	return followErr
}

// waitHealthy blocks until every preflight check passes.
func (r *Runner) waitHealthy(ctx context.Context) error {
	timeout := time.Duration(r.opts.Takeoff.ReadyTimeoutSeconds) * time.Second
	deadline := time.Now().Add(timeout)

	logged := vehicle.Health{}
	first := true
	for {
		health := r.veh.Health()
		if health.AllOK() {
			return nil
		}
		if first || health != logged {
			r.logger.Infof("Waiting for vehicle to be ready: gyro=%t accel=%t mag=%t local=%t global=%t home=%t",
				health.GyroCalibrated, health.AccelCalibrated, health.MagCalibrated,
				health.LocalPositionOK, health.GlobalPositionOK, health.HomePositionOK)
			logged = health
			first = false
		}
		if timeout > 0 && time.Now().After(deadline) {
			return fmt.Errorf("health checks not passing after %s", timeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(healthPollInterval):
		}
	}
}

// waitAirborne blocks until the vehicle climbs past the minimum airborne
// altitude. The threshold sits below the takeoff altitude so a slightly
// short climb still counts as airborne.
func (r *Runner) waitAirborne(ctx context.Context) error {
	for {
		if r.veh.Position().RelativeAltitudeM >= r.opts.Takeoff.MinAirborneAltitudeM {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(altitudePollInterval):
		}
	}
}

// runFollow configures and engages follow-me, streams target fixes through
// the relay, and disengages when the follow window closes.
func (r *Runner) runFollow(ctx context.Context) error {
	followCfg := vehicle.FollowConfig{
		MinHeightM:      r.opts.Follow.MinHeightM,
		FollowDistanceM: r.opts.Follow.FollowDistanceM,
		Direction:       vehicle.ParseFollowDirection(r.opts.Follow.Direction),
	}
	if err := r.veh.SetConfig(ctx, followCfg); err != nil {
		return fmt.Errorf("setting follow configuration: %w", err)
	}

	watchdog := follow.NewWatchdog(r.veh, r.veh, r.logger)
	defer watchdog.Stop()

	r.logger.Info("Starting follow mode")
	if err := r.veh.Start(ctx); err != nil {
		return fmt.Errorf("starting follow mode: %w", err)
	}

	sourceCtx, cancelSource := context.WithCancel(ctx)
	defer cancelSource()

	sourceDone := make(chan error, 1)
	go func() {
		sourceDone <- r.source.Run(sourceCtx, r.handleFix)
	}()

	var followWindow <-chan time.Time
	if r.opts.Follow.MaxDurationSeconds > 0 {
		duration := time.Duration(r.opts.Follow.MaxDurationSeconds) * time.Second
		timer := time.NewTimer(duration)
		defer timer.Stop()
		followWindow = timer.C
	}

	var followErr error
	override := false
	select {
	case <-followWindow:
		r.logger.Info("Follow window elapsed")
	case mode := <-watchdog.Triggered():
		followErr = fmt.Errorf("%w: now in %s", ErrModeOverride, mode)
		override = true
	case err := <-sourceDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			followErr = fmt.Errorf("location source failed: %w", err)
		} else {
			r.logger.Info("Location source finished")
		}
	case <-ctx.Done():
		followErr = ctx.Err()
	}

	watchdog.Stop()
	cancelSource()

	stats := r.relay.Stats()
	r.logger.Infof("Follow phase done: %d forwarded, %d skipped, %d throttled",
		stats.Forwarded, stats.Skipped, stats.Throttled)

	// No point asking the autopilot to leave follow-me when something
	// else already moved it out.
	if !override {
		stopCtx := ctx
		if ctx.Err() != nil {
			var cancel context.CancelFunc
			stopCtx, cancel = context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
		}
		if err := r.veh.Stop(stopCtx); err != nil {
			r.logger.Errorf("failed to stop follow mode: %v", err)
			if followErr == nil {
				followErr = fmt.Errorf("stopping follow mode: %w", err)
			}
		}
	}

	return followErr
}

// handleFix feeds one fix to the optional observer and then the relay.
func (r *Runner) handleFix(fix location.Fix) {
	if r.opts.OnFix != nil {
		r.opts.OnFix(fix)
	}
	r.relay.Handle(fix)
}

// waitLanded blocks until the vehicle reports it is on the ground.
func (r *Runner) waitLanded(ctx context.Context) error {
	deadline := time.Now().Add(landTimeout)
	for {
		if !r.veh.InAir() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no touchdown after %s", landTimeout)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(landPollInterval):
		}
	}
}
