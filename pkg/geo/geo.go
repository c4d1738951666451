// Package geo provides the great-circle primitives used by the intercept engine.
// All functions are pure and safe for concurrent use.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// EarthRadiusMeters is the mean Earth radius used by every computation in this package.
const EarthRadiusMeters = 6_371_000.0

// ErrInvalidCoordinate is returned for NaN, infinite or out-of-range coordinates.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// cardinals are ordered clockwise starting at true north.
var cardinals = [8]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}

// Point is a WGS84 latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Validate reports whether p is a usable coordinate.
func (p Point) Validate() error {
	if !finite(p.Lat) || !finite(p.Lon) {
		return fmt.Errorf("%w: (%v, %v) is not finite", ErrInvalidCoordinate, p.Lat, p.Lon)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: latitude %v out of range", ErrInvalidCoordinate, p.Lat)
	}
	if p.Lon < -180 || p.Lon > 180 {
		return fmt.Errorf("%w: longitude %v out of range", ErrInvalidCoordinate, p.Lon)
	}
	return nil
}

func (p Point) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Lat, p.Lon)
}

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Point) (float64, error) {
	if err := validatePair(a, b); err != nil {
		return 0, err
	}

	phi1, phi2 := radians(a.Lat), radians(b.Lat)
	dPhi := radians(b.Lat - a.Lat)
	dLambda := radians(b.Lon - a.Lon)

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)

	return EarthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h)), nil
}

// Bearing returns the initial bearing from one point to another in [0, 360),
// where 0 is true north.
func Bearing(from, to Point) (float64, error) {
	if err := validatePair(from, to); err != nil {
		return 0, err
	}

	phi1, phi2 := radians(from.Lat), radians(to.Lat)
	dLambda := radians(to.Lon - from.Lon)

	x := math.Sin(dLambda) * math.Cos(phi2)
	y := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)

	return Normalize(degrees(math.Atan2(x, y))), nil
}

// HeadingDelta returns the smallest absolute angle between two directions, in [0, 180].
func HeadingDelta(a, b float64) float64 {
	diff := math.Abs(Normalize(a) - Normalize(b))
	if diff > 180 {
		diff = 360 - diff
	}
	return diff
}

// Reciprocal returns the opposite direction of a bearing.
func Reciprocal(bearing float64) float64 {
	return Normalize(bearing + 180)
}

// Cardinal maps a bearing to one of eight compass labels. Sectors are
// half-open and centered on each label: N covers [337.5, 22.5), NE covers
// [22.5, 67.5), and so on.
func Cardinal(bearing float64) string {
	idx := int(math.Floor((Normalize(bearing)+22.5)/45)) % len(cardinals)
	return cardinals[idx]
}

// Destination returns the point reached by travelling meters from p along bearing.
func Destination(p Point, bearing, meters float64) Point {
	delta := meters / EarthRadiusMeters
	theta := radians(bearing)
	phi1, lambda1 := radians(p.Lat), radians(p.Lon)

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)

	lon := math.Mod(degrees(lambda2)+540, 360) - 180
	return Point{Lat: degrees(phi2), Lon: lon}
}

// Normalize folds any finite angle into [0, 360).
func Normalize(deg float64) float64 {
	n := math.Mod(deg, 360)
	if n < 0 {
		n += 360
	}
	// math.Mod can return 360 for tiny negative inputs after the shift above.
	if n >= 360 {
		n -= 360
	}
	return n
}

func validatePair(a, b Point) error {
	if err := a.Validate(); err != nil {
		return err
	}
	return b.Validate()
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
func degrees(rad float64) float64 { return rad * 180 / math.Pi }
