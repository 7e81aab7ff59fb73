package mav

import (
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/openuav/follow-gcs/pkg/vehicle"
)

// PX4 custom-mode layout: the 32-bit custom mode carries the main mode in
// bits 16-23 and the sub mode in bits 24-31.
const (
	px4MainModeManual     = 1
	px4MainModeAltitude   = 2
	px4MainModePosition   = 3
	px4MainModeAuto       = 4
	px4MainModeAcro       = 5
	px4MainModeOffboard   = 6
	px4MainModeStabilized = 7

	px4SubModeAutoTakeoff      = 2
	px4SubModeAutoLoiter       = 3
	px4SubModeAutoMission      = 4
	px4SubModeAutoRTL          = 5
	px4SubModeAutoLand         = 6
	px4SubModeAutoFollowTarget = 8
)

// px4CustomMode packs a PX4 main/sub mode pair into a custom mode word.
func px4CustomMode(mainMode, subMode uint32) uint32 {
	return mainMode<<16 | subMode<<24
}

// decodeFlightMode maps a PX4 heartbeat onto the facade's flight mode enum.
func decodeFlightMode(baseMode common.MAV_MODE_FLAG, customMode uint32) vehicle.FlightMode {
	if baseMode&common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED == 0 {
		return vehicle.FlightModeUnknown
	}

	mainMode := (customMode >> 16) & 0xFF
	subMode := (customMode >> 24) & 0xFF

	switch mainMode {
	case px4MainModeManual, px4MainModeAcro, px4MainModeStabilized:
		return vehicle.FlightModeManual
	case px4MainModeAltitude, px4MainModePosition:
		return vehicle.FlightModePosition
	case px4MainModeOffboard:
		return vehicle.FlightModeOffboard
	case px4MainModeAuto:
		switch subMode {
		case px4SubModeAutoTakeoff:
			return vehicle.FlightModeTakeoff
		case px4SubModeAutoLoiter:
			return vehicle.FlightModeHold
		case px4SubModeAutoMission:
			return vehicle.FlightModeMission
		case px4SubModeAutoRTL:
			return vehicle.FlightModeReturn
		case px4SubModeAutoLand:
			return vehicle.FlightModeLand
		case px4SubModeAutoFollowTarget:
			return vehicle.FlightModeFollowMe
		}
	}
	return vehicle.FlightModeUnknown
}

func (s *System) handleHeartbeat(sysID, compID uint8, msg *common.MessageHeartbeat) {
	// Ignore other ground stations and onboard peripherals; only an
	// autopilot heartbeat counts as a vehicle.
	if msg.Type == common.MAV_TYPE_GCS || compID != uint8(common.MAV_COMP_ID_AUTOPILOT1) {
		return
	}

	s.mu.Lock()

	if _, seen := s.systemsSeen[sysID]; !seen {
		s.systemsSeen[sysID] = struct{}{}
		if len(s.systemsSeen) == 1 {
			s.targetSystem = sysID
			s.targetComponent = compID
			s.logger.Infof("discovered vehicle system %d (type %v)", sysID, msg.Type)
		} else {
			s.logger.Warnf("heard additional system %d on the link", sysID)
		}
	}

	if sysID != s.targetSystem {
		s.mu.Unlock()
		return
	}

	s.armed = msg.BaseMode&common.MAV_MODE_FLAG_SAFETY_ARMED != 0

	newMode := decodeFlightMode(msg.BaseMode, msg.CustomMode)
	modeChanged := newMode != s.flightMode
	s.flightMode = newMode

	var subs []func(vehicle.FlightMode)
	if modeChanged {
		for _, fn := range s.modeSubs {
			subs = append(subs, fn)
		}
	}
	s.mu.Unlock()

	s.discoveredOnce.Do(func() { close(s.discovered) })

	// Callbacks run outside the lock; they may call back into telemetry.
	for _, fn := range subs {
		fn(newMode)
	}
}

func (s *System) handleSysStatus(msg *common.MessageSysStatus) {
	healthy := func(sensor common.MAV_SYS_STATUS_SENSOR) bool {
		return msg.OnboardControlSensorsEnabled&sensor == 0 ||
			msg.OnboardControlSensorsHealth&sensor != 0
	}

	s.mu.Lock()
	s.health.GyroCalibrated = healthy(common.MAV_SYS_STATUS_SENSOR_3D_GYRO)
	s.health.AccelCalibrated = healthy(common.MAV_SYS_STATUS_SENSOR_3D_ACCEL)
	s.health.MagCalibrated = healthy(common.MAV_SYS_STATUS_SENSOR_3D_MAG)
	s.health.GlobalPositionOK = s.health.GlobalPositionOK &&
		healthy(common.MAV_SYS_STATUS_SENSOR_GPS)
	s.mu.Unlock()
}

func (s *System) handleGlobalPosition(msg *common.MessageGlobalPositionInt) {
	s.mu.Lock()
	s.position = vehicle.Position{
		LatitudeDeg:       float64(msg.Lat) / 1e7,
		LongitudeDeg:      float64(msg.Lon) / 1e7,
		AbsoluteAltitudeM: float64(msg.Alt) / 1000.0,
		RelativeAltitudeM: float64(msg.RelativeAlt) / 1000.0,
	}
	s.health.GlobalPositionOK = true
	s.mu.Unlock()
}

func (s *System) handleLocalPosition(msg *common.MessageLocalPositionNed) {
	s.mu.Lock()
	s.health.LocalPositionOK = true
	s.mu.Unlock()
}

func (s *System) handleHomePosition(msg *common.MessageHomePosition) {
	s.mu.Lock()
	s.health.HomePositionOK = true
	s.mu.Unlock()
}

func (s *System) handleExtendedSysState(msg *common.MessageExtendedSysState) {
	s.mu.Lock()
	s.landedState = msg.LandedState
	s.haveLanded = true
	s.mu.Unlock()
}

// Health implements vehicle.Telemetry.
func (s *System) Health() vehicle.Health {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// Armed implements vehicle.Telemetry.
func (s *System) Armed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.armed
}

// InAir implements vehicle.Telemetry. When the autopilot reports a landed
// state it is authoritative; otherwise fall back on armed state plus
// relative altitude, which is all older firmwares offer.
func (s *System) InAir() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.haveLanded {
		return s.landedState == common.MAV_LANDED_STATE_IN_AIR ||
			s.landedState == common.MAV_LANDED_STATE_TAKEOFF ||
			s.landedState == common.MAV_LANDED_STATE_LANDING
	}
	return s.armed && s.position.RelativeAltitudeM > 0.5
}

// Position implements vehicle.Telemetry.
func (s *System) Position() vehicle.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.position
}

// FlightMode implements vehicle.Telemetry.
func (s *System) FlightMode() vehicle.FlightMode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flightMode
}

// SubscribeFlightMode implements vehicle.Telemetry.
func (s *System) SubscribeFlightMode(fn func(vehicle.FlightMode)) func() {
	s.mu.Lock()
	id := s.nextModeSub
	s.nextModeSub++
	s.modeSubs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.modeSubs, id)
		s.mu.Unlock()
	}
}
