package mav

import (
	"context"
	"fmt"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/openuav/follow-gcs/pkg/vehicle"
)

// FOLLOW_TARGET capability bits: which estimate fields in the message are
// populated.
const (
	estCapPosition = 1 << 0
	estCapVelocity = 1 << 1
)

// followAngleDeg maps a follow direction to the PX4 follow-angle parameter,
// degrees relative to the target's direction of motion.
func followAngleDeg(d vehicle.FollowDirection) float32 {
	switch d {
	case vehicle.FollowDirectionFront:
		return 0
	case vehicle.FollowDirectionFrontRight:
		return 45
	case vehicle.FollowDirectionFrontLeft:
		return -45
	case vehicle.FollowDirectionBehind:
		return 180
	default:
		return 0
	}
}

// SetConfig implements vehicle.FollowMe. PX4 exposes the follow behavior
// as parameters, so the config is three PARAM_SET round trips.
func (s *System) SetConfig(ctx context.Context, cfg vehicle.FollowConfig) error {
	params := []struct {
		name  string
		value float32
	}{
		{"FLW_TGT_HT", float32(cfg.MinHeightM)},
		{"FLW_TGT_DST", float32(cfg.FollowDistanceM)},
		{"FLW_TGT_FA", followAngleDeg(cfg.Direction)},
	}

	for _, p := range params {
		pctx, cancel := withCommandTimeout(ctx)
		err := s.setParam(pctx, p.name, p.value)
		cancel()
		if err != nil {
			return fmt.Errorf("follow-me config: %w", err)
		}
	}
	return nil
}

// Start implements vehicle.FollowMe, switching the vehicle into the
// follow-target flight mode.
func (s *System) Start(ctx context.Context) error {
	if err := s.setMode(ctx, px4MainModeAuto, px4SubModeAutoFollowTarget); err != nil {
		return fmt.Errorf("start follow-me: %w", err)
	}
	return nil
}

// Stop implements vehicle.FollowMe, returning the vehicle to hold.
func (s *System) Stop(ctx context.Context) error {
	if err := s.setMode(ctx, px4MainModeAuto, px4SubModeAutoLoiter); err != nil {
		return fmt.Errorf("stop follow-me: %w", err)
	}
	return nil
}

// setMode requests a PX4 custom flight mode via DO_SET_MODE.
func (s *System) setMode(ctx context.Context, mainMode, subMode uint32) error {
	return s.sendCommand(ctx, common.MAV_CMD_DO_SET_MODE, [7]float32{
		float32(common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED),
		float32(mainMode),
		float32(subMode),
		0, 0, 0, 0,
	})
}

// SetTargetLocation implements vehicle.FollowMe, streaming one target fix
// as a FOLLOW_TARGET message.
func (s *System) SetTargetLocation(loc vehicle.TargetLocation) error {
	msg := followTargetMessage(loc)

	if err := s.sendToVehicle(msg); err != nil {
		return fmt.Errorf("failed to send target location: %w", err)
	}

	s.mu.Lock()
	s.lastTarget = loc
	s.haveTarget = true
	s.mu.Unlock()

	return nil
}

// LastLocation implements vehicle.FollowMe.
func (s *System) LastLocation() (vehicle.TargetLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTarget, s.haveTarget
}

// followTargetMessage converts a facade target fix into the wire message.
func followTargetMessage(loc vehicle.TargetLocation) *common.MessageFollowTarget {
	caps := uint8(estCapPosition)
	if loc.VelocityNorthMS != 0 || loc.VelocityEastMS != 0 {
		caps |= estCapVelocity
	}

	return &common.MessageFollowTarget{
		Timestamp:       uint64(loc.Time.UnixMilli()),
		EstCapabilities: caps,
		Lat:             int32(loc.LatitudeDeg * 1e7),
		Lon:             int32(loc.LongitudeDeg * 1e7),
		Alt:             float32(loc.AltitudeM),
		Vel: [3]float32{
			float32(loc.VelocityNorthMS),
			float32(loc.VelocityEastMS),
			0,
		},
	}
}
