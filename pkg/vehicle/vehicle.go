// Package vehicle defines the flight-control surface the mission layer
// programs against. The MAVLink implementation lives in internal/mav; tests
// substitute in-memory fakes. The interfaces mirror the plugin split of
// typical autopilot SDKs: telemetry (read state), action (discrete commands)
// and follow-me (target streaming).
package vehicle

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCommandDenied is returned when the autopilot rejects a command.
	ErrCommandDenied = errors.New("command denied by autopilot")

	// ErrCommandTimeout is returned when no acknowledgement arrives in time.
	ErrCommandTimeout = errors.New("command not acknowledged")

	// ErrNoSystem is returned when no vehicle has been discovered yet.
	ErrNoSystem = errors.New("no vehicle discovered")

	// ErrMultipleSystems is returned when more than one vehicle is heard
	// on the link. Follow-me is strictly single-vehicle.
	ErrMultipleSystems = errors.New("more than one vehicle on the link")
)

// FlightMode is the vehicle's reported flight mode.
type FlightMode int

const (
	FlightModeUnknown FlightMode = iota
	FlightModeManual
	FlightModePosition
	FlightModeTakeoff
	FlightModeHold
	FlightModeMission
	FlightModeReturn
	FlightModeLand
	FlightModeOffboard
	FlightModeFollowMe
)

// String returns a human-readable flight mode name.
func (m FlightMode) String() string {
	switch m {
	case FlightModeManual:
		return "Manual"
	case FlightModePosition:
		return "Position"
	case FlightModeTakeoff:
		return "Takeoff"
	case FlightModeHold:
		return "Hold"
	case FlightModeMission:
		return "Mission"
	case FlightModeReturn:
		return "Return"
	case FlightModeLand:
		return "Land"
	case FlightModeOffboard:
		return "Offboard"
	case FlightModeFollowMe:
		return "FollowMe"
	default:
		return "Unknown"
	}
}

// Position is the vehicle's global position.
type Position struct {
	// LatitudeDeg and LongitudeDeg in decimal degrees (WGS84)
	LatitudeDeg  float64
	LongitudeDeg float64

	// AbsoluteAltitudeM is altitude above mean sea level in meters
	AbsoluteAltitudeM float64

	// RelativeAltitudeM is altitude above the home position in meters
	RelativeAltitudeM float64
}

// TargetLocation is a follow-me target fix sent to the vehicle.
type TargetLocation struct {
	LatitudeDeg  float64
	LongitudeDeg float64
	AltitudeM    float64

	// VelocityNorthMS and VelocityEastMS let the autopilot lead the
	// target; zero when the source provides position only
	VelocityNorthMS float64
	VelocityEastMS  float64

	// Time is when the fix was measured
	Time time.Time
}

// FollowDirection is where the vehicle stations itself relative to the
// target's direction of motion.
type FollowDirection int

const (
	FollowDirectionNone FollowDirection = iota
	FollowDirectionFront
	FollowDirectionBehind
	FollowDirectionFrontLeft
	FollowDirectionFrontRight
)

// ParseFollowDirection maps a config string to a FollowDirection.
// Unrecognized values map to FollowDirectionNone.
func ParseFollowDirection(s string) FollowDirection {
	switch s {
	case "front":
		return FollowDirectionFront
	case "behind":
		return FollowDirectionBehind
	case "front_left":
		return FollowDirectionFrontLeft
	case "front_right":
		return FollowDirectionFrontRight
	default:
		return FollowDirectionNone
	}
}

// FollowConfig is the follow-me behavior configuration pushed to the
// autopilot before the mode is engaged.
type FollowConfig struct {
	MinHeightM      float64
	FollowDistanceM float64
	Direction       FollowDirection
}

// Health summarizes the preflight health checks.
type Health struct {
	GyroCalibrated   bool
	AccelCalibrated  bool
	MagCalibrated    bool
	LocalPositionOK  bool
	GlobalPositionOK bool
	HomePositionOK   bool
}

// AllOK reports whether every health check passes.
func (h Health) AllOK() bool {
	return h.GyroCalibrated && h.AccelCalibrated && h.MagCalibrated &&
		h.LocalPositionOK && h.GlobalPositionOK && h.HomePositionOK
}

// Telemetry exposes the vehicle state the mission needs.
type Telemetry interface {
	// Health returns the current preflight health summary.
	Health() Health

	// Armed reports whether the vehicle is armed.
	Armed() bool

	// InAir reports whether the vehicle is airborne.
	InAir() bool

	// Position returns the last known global position.
	Position() Position

	// FlightMode returns the current flight mode.
	FlightMode() FlightMode

	// SubscribeFlightMode registers a callback invoked on every mode
	// change. The returned func unsubscribes.
	SubscribeFlightMode(fn func(FlightMode)) (unsubscribe func())
}

// Action issues discrete flight commands. All calls block until the
// autopilot acknowledges or the context expires.
type Action interface {
	Arm(ctx context.Context) error
	Takeoff(ctx context.Context, altitudeM float64) error
	Land(ctx context.Context) error
}

// FollowMe drives the autopilot's follow-target mode.
type FollowMe interface {
	// SetConfig pushes the follow behavior parameters. Must be called
	// before Start.
	SetConfig(ctx context.Context, cfg FollowConfig) error

	// Start engages the follow-me flight mode.
	Start(ctx context.Context) error

	// Stop disengages follow-me and returns the vehicle to hold.
	Stop(ctx context.Context) error

	// SetTargetLocation streams one target fix to the vehicle.
	SetTargetLocation(loc TargetLocation) error

	// LastLocation returns the most recently streamed target fix, if any.
	LastLocation() (TargetLocation, bool)
}
