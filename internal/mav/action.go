package mav

import (
	"context"
	"fmt"
	"math"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
)

// nan marks COMMAND_LONG parameters the autopilot should fill with its own
// defaults, per the MAVLink convention.
var nan = float32(math.NaN())

// sendCommand issues one COMMAND_LONG at the vehicle and waits for the
// acknowledgement.
func (s *System) sendCommand(ctx context.Context, cmd common.MAV_CMD, params [7]float32) error {
	ctx, cancel := withCommandTimeout(ctx)
	defer cancel()

	s.mu.RLock()
	target := s.targetSystem
	targetComp := s.targetComponent
	s.mu.RUnlock()

	// Register before writing so an ack that arrives while the write is
	// still in flight is not dropped.
	ch, unregister := s.registerAck(cmd)
	defer unregister()

	err := s.sendToVehicle(&common.MessageCommandLong{
		TargetSystem:    target,
		TargetComponent: targetComp,
		Command:         cmd,
		Confirmation:    0,
		Param1:          params[0],
		Param2:          params[1],
		Param3:          params[2],
		Param4:          params[3],
		Param5:          params[4],
		Param6:          params[5],
		Param7:          params[6],
	})
	if err != nil {
		return fmt.Errorf("failed to send command %d: %w", cmd, err)
	}

	return s.waitAck(ctx, cmd, ch)
}

// Arm implements vehicle.Action.
func (s *System) Arm(ctx context.Context) error {
	if err := s.sendCommand(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM,
		[7]float32{1, 0, 0, 0, 0, 0, 0}); err != nil {
		return fmt.Errorf("arm: %w", err)
	}
	return nil
}

// Takeoff implements vehicle.Action. The takeoff altitude is pushed as the
// MIS_TAKEOFF_ALT parameter first since PX4 ignores the command's altitude
// field for multicopters.
func (s *System) Takeoff(ctx context.Context, altitudeM float64) error {
	if altitudeM > 0 {
		pctx, cancel := withCommandTimeout(ctx)
		err := s.setParam(pctx, "MIS_TAKEOFF_ALT", float32(altitudeM))
		cancel()
		if err != nil {
			return fmt.Errorf("takeoff altitude: %w", err)
		}
	}

	if err := s.sendCommand(ctx, common.MAV_CMD_NAV_TAKEOFF,
		[7]float32{nan, nan, nan, nan, nan, nan, nan}); err != nil {
		return fmt.Errorf("takeoff: %w", err)
	}
	return nil
}

// Land implements vehicle.Action, landing at the current position.
func (s *System) Land(ctx context.Context) error {
	if err := s.sendCommand(ctx, common.MAV_CMD_NAV_LAND,
		[7]float32{nan, nan, nan, nan, nan, nan, nan}); err != nil {
		return fmt.Errorf("land: %w", err)
	}
	return nil
}
