// Package geo provides the small amount of geodesy the follow-me pipeline
// needs: great-circle distance and bearing between WGS84 positions, forward
// projection for the target simulator, and the cheap planar approximation
// used to sanity-check incoming target fixes against the vehicle position.
package geo

import (
	"math"

	kgeo "github.com/kellydunn/golang-geo"
)

// Constants for coordinate calculations.
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusKm is the Earth's mean radius in kilometers (WGS84)
	EarthRadiusKm = 6371.0

	// LatDegPerMeter is the approximate latitude change per meter of
	// northing. Good to a few percent everywhere; the planar check only
	// needs that much.
	LatDegPerMeter = 0.000009044

	// LonDegPerMeter is the approximate longitude change per meter of
	// easting at mid latitudes. Grows toward the poles, which makes the
	// planar check conservative there.
	LonDegPerMeter = 0.000008985
)

// Point is a position on Earth's surface in the WGS84 coordinate system.
type Point struct {
	// Latitude in decimal degrees (-90 to +90), positive north
	Latitude float64

	// Longitude in decimal degrees (-180 to +180), positive east
	Longitude float64

	// Altitude in meters above mean sea level
	Altitude float64
}

// PlanarOffset returns the absolute per-axis metric offset between two
// points using fixed degrees-per-meter constants. This is deliberately
// crude: it is only used to reject target fixes that are implausibly far
// from the vehicle, where a few percent of error does not matter.
// Returns (north meters, east meters).
func PlanarOffset(a, b Point) (northM, eastM float64) {
	northM = math.Abs(a.Latitude-b.Latitude) / LatDegPerMeter
	eastM = math.Abs(a.Longitude-b.Longitude) / LonDegPerMeter
	return northM, eastM
}

// WithinPlanarBound reports whether b is within maxMeters of a on both
// planar axes independently. Note this is a square gate, not a circle:
// a point maxMeters away on both axes still passes.
func WithinPlanarBound(a, b Point, maxMeters float64) bool {
	northM, eastM := PlanarOffset(a, b)
	return northM < maxMeters && eastM < maxMeters
}

// Distance returns the great-circle distance between two points in meters.
func Distance(a, b Point) float64 {
	pa := kgeo.NewPoint(a.Latitude, a.Longitude)
	pb := kgeo.NewPoint(b.Latitude, b.Longitude)
	return pa.GreatCircleDistance(pb) * 1000.0
}

// Bearing returns the initial great-circle bearing from a to b in degrees
// (0-360, 0 = north).
func Bearing(a, b Point) float64 {
	pa := kgeo.NewPoint(a.Latitude, a.Longitude)
	pb := kgeo.NewPoint(b.Latitude, b.Longitude)
	brng := pa.BearingTo(pb)
	if brng < 0 {
		brng += 360.0
	}
	return brng
}

// Destination returns the point reached by travelling distanceM meters from
// p along the given bearing in degrees. Altitude is carried over unchanged.
func Destination(p Point, bearingDeg, distanceM float64) Point {
	src := kgeo.NewPoint(p.Latitude, p.Longitude)
	dst := src.PointAtDistanceAndBearing(distanceM/1000.0, bearingDeg)
	return Point{
		Latitude:  dst.Lat(),
		Longitude: dst.Lng(),
		Altitude:  p.Altitude,
	}
}

// NormalizeAngle normalizes an angle to the [-180, 180] range.
func NormalizeAngle(angle float64) float64 {
	for angle > 180.0 {
		angle -= 360.0
	}
	for angle < -180.0 {
		angle += 360.0
	}
	return angle
}
