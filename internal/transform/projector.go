// Package transform converts between the coordinate frames used by isswatch.
//
// Two families live here. The scene projection (ToCartesian/ToGeo) maps
// geographic coordinates onto a sphere whose unit radius is the Earth's
// surface; that is the space the camera and the markers live in. The
// physical frames (TEME, ECEF, WGS-84 geodetic, topocentric) back the SGP4
// feed and the observer look angles.
package transform

import "math"

// EarthRadiusKm is the mean Earth radius used to scale altitudes into scene units.
const EarthRadiusKm = 6371.0

// DefaultRadius is the scene radius of the Earth's surface.
const DefaultRadius = 1.0

// GeoPoint is a geographic position in degrees.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SpatialPoint is a position in scene space. Y is the polar axis.
type SpatialPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ToCartesian projects p onto a sphere of the given radius.
//
// Longitude is offset by 180 degrees so the prime meridian faces the -X axis,
// matching the orientation of the globe texture the scene is built for.
// Out-of-range inputs are not rejected; they wrap through the trig functions.
func ToCartesian(p GeoPoint, radius float64) SpatialPoint {
	lat := p.Latitude * math.Pi / 180.0
	lon := (p.Longitude + 180.0) * math.Pi / 180.0

	cosLat := math.Cos(lat)
	return SpatialPoint{
		X: radius * cosLat * math.Cos(lon),
		Y: radius * math.Sin(lat),
		Z: radius * cosLat * math.Sin(lon),
	}
}

// ToGeo is the inverse of ToCartesian for any radius.
// Longitude is normalized to [-180, 180]. At the poles longitude is
// undefined and whatever atan2 yields is returned. The zero vector maps to
// the zero GeoPoint.
func ToGeo(s SpatialPoint) GeoPoint {
	r := s.Length()
	if r == 0 {
		return GeoPoint{}
	}

	lat := math.Asin(clamp(s.Y/r, -1, 1)) * 180.0 / math.Pi
	lon := math.Atan2(s.Z, s.X)*180.0/math.Pi - 180.0
	if lon < -180.0 {
		lon += 360.0
	}
	return GeoPoint{Latitude: lat, Longitude: lon}
}

// OrbitRadius converts an altitude above the surface into a scene radius.
func OrbitRadius(altitudeKm float64) float64 {
	return DefaultRadius + altitudeKm/EarthRadiusKm
}

// Length returns the distance of s from the origin.
func (s SpatialPoint) Length() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

// Scale multiplies every component by k.
func (s SpatialPoint) Scale(k float64) SpatialPoint {
	return SpatialPoint{X: s.X * k, Y: s.Y * k, Z: s.Z * k}
}

// Normalize returns s scaled to unit length. The zero vector is returned unchanged.
func (s SpatialPoint) Normalize() SpatialPoint {
	l := s.Length()
	if l == 0 {
		return s
	}
	return s.Scale(1 / l)
}

// Lerp interpolates component-wise between s and to.
func (s SpatialPoint) Lerp(to SpatialPoint, t float64) SpatialPoint {
	return SpatialPoint{
		X: s.X + (to.X-s.X)*t,
		Y: s.Y + (to.Y-s.Y)*t,
		Z: s.Z + (to.Z-s.Z)*t,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
