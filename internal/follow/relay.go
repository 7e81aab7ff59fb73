// Package follow contains the follow-me relay: the glue between an
// external location source and the vehicle's follow-target mode, plus the
// watchdog that notices when something else takes over the flight mode.
package follow

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/openuav/follow-gcs/pkg/geo"
	"github.com/openuav/follow-gcs/pkg/location"
	"github.com/openuav/follow-gcs/pkg/vehicle"
)

// RelayConfig tunes the relay's acceptance gate and send rate.
type RelayConfig struct {
	// MaxTargetDistanceM rejects fixes further than this from the
	// vehicle on either planar axis. The gate protects against provider
	// glitches teleporting the target (and the vehicle chasing it).
	MaxTargetDistanceM float64

	// TargetRateHz caps forwarded fixes per second. Sources can report
	// much faster than the autopilot wants updates.
	TargetRateHz float64
}

// Stats is a snapshot of relay counters.
type Stats struct {
	// Forwarded is the number of fixes sent to the vehicle
	Forwarded uint64

	// Skipped is the number of fixes rejected by the distance gate
	Skipped uint64

	// Throttled is the number of fixes dropped by the rate limiter
	Throttled uint64

	// LastFix is the most recent fix received, forwarded or not
	LastFix location.Fix

	// LastForwarded is when a fix last went to the vehicle
	LastForwarded time.Time
}

// Relay forwards target fixes to the vehicle's follow-me mode, gated by a
// planar distance sanity check against the vehicle's own position.
type Relay struct {
	telemetry vehicle.Telemetry
	followMe  vehicle.FollowMe
	cfg       RelayConfig
	limiter   *rate.Limiter
	logger    *logrus.Logger

	mu       sync.Mutex
	stats    Stats
	prevSent location.Fix
	havePrev bool
}

// NewRelay creates a relay. TargetRateHz of zero disables rate limiting.
func NewRelay(tel vehicle.Telemetry, fm vehicle.FollowMe, cfg RelayConfig, logger *logrus.Logger) *Relay {
	limit := rate.Inf
	if cfg.TargetRateHz > 0 {
		limit = rate.Limit(cfg.TargetRateHz)
	}
	return &Relay{
		telemetry: tel,
		followMe:  fm,
		cfg:       cfg,
		limiter:   rate.NewLimiter(limit, 1),
		logger:    logger,
	}
}

// Handle is the location.Handler fed by the source. Each fix is checked
// against the vehicle position and conditionally forwarded.
func (r *Relay) Handle(fix location.Fix) {
	r.mu.Lock()
	r.stats.LastFix = fix
	r.mu.Unlock()

	pos := r.telemetry.Position()
	vehiclePt := geo.Point{Latitude: pos.LatitudeDeg, Longitude: pos.LongitudeDeg}
	targetPt := geo.Point{Latitude: fix.LatitudeDeg, Longitude: fix.LongitudeDeg}

	if !geo.WithinPlanarBound(vehiclePt, targetPt, r.cfg.MaxTargetDistanceM) {
		northM, eastM := geo.PlanarOffset(vehiclePt, targetPt)
		r.logger.Warnf("skipped position %.7f, %.7f: %.1fm north / %.1fm east from vehicle (limit %.1fm)",
			fix.LatitudeDeg, fix.LongitudeDeg, northM, eastM, r.cfg.MaxTargetDistanceM)
		r.mu.Lock()
		r.stats.Skipped++
		r.mu.Unlock()
		return
	}

	if !r.limiter.Allow() {
		r.mu.Lock()
		r.stats.Throttled++
		r.mu.Unlock()
		return
	}

	loc := vehicle.TargetLocation{
		LatitudeDeg:  fix.LatitudeDeg,
		LongitudeDeg: fix.LongitudeDeg,
		AltitudeM:    fix.AltitudeM,
		Time:         fix.Time,
	}

	r.mu.Lock()
	if r.havePrev {
		loc.VelocityNorthMS, loc.VelocityEastMS = estimateVelocity(r.prevSent, fix)
	}
	r.prevSent = fix
	r.havePrev = true
	r.mu.Unlock()

	if err := r.followMe.SetTargetLocation(loc); err != nil {
		r.logger.Errorf("failed to forward target location: %v", err)
		return
	}

	r.mu.Lock()
	r.stats.Forwarded++
	r.stats.LastForwarded = time.Now().UTC()
	r.mu.Unlock()
}

// Stats returns a snapshot of the relay counters.
func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// estimateVelocity derives north/east target velocity in m/s from two
// consecutive forwarded fixes, letting the autopilot lead the target
// between updates. Stale pairs yield zero: better no lead than a wild one.
func estimateVelocity(prev, cur location.Fix) (northMS, eastMS float64) {
	dt := cur.Time.Sub(prev.Time).Seconds()
	if dt <= 0 || dt > 10 {
		return 0, 0
	}

	northMS = (cur.LatitudeDeg - prev.LatitudeDeg) / geo.LatDegPerMeter / dt
	eastMS = (cur.LongitudeDeg - prev.LongitudeDeg) / geo.LonDegPerMeter / dt
	return northMS, eastMS
}
