package feed

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/sidereal"
	"github.com/soniakeys/meeus/v3/solar"

	"github.com/star/isswatch/internal/transform"
)

// SunDirection returns the unit vector from the Earth's center toward the
// Sun in the Earth-fixed frame at t.
func SunDirection(t time.Time) transform.ECEF {
	jd := julian.TimeToJD(t.UTC())

	ra, dec := solar.ApparentEquatorial(jd)
	x := dec.Cos() * ra.Cos()
	y := dec.Cos() * ra.Sin()
	z := dec.Sin()

	gast := sidereal.Apparent(jd).Angle()
	cosG, sinG := gast.Cos(), gast.Sin()

	return transform.ECEF{
		X: x*cosG + y*sinG,
		Y: -x*sinG + y*cosG,
		Z: z,
	}
}

// SubsolarPoint returns the point on the Earth where the Sun is at zenith.
func SubsolarPoint(t time.Time) transform.GeoPoint {
	s := SunDirection(t)
	return transform.GeoPoint{
		Latitude:  math.Asin(s.Z) * 180.0 / math.Pi,
		Longitude: math.Atan2(s.Y, s.X) * 180.0 / math.Pi,
	}
}

// Eclipsed reports whether sat (ECEF km) is inside the Earth's shadow,
// modelled as a cylinder of radius EarthRadiusKm behind the planet.
func Eclipsed(sat, sun transform.ECEF) bool {
	along := sat.X*sun.X + sat.Y*sun.Y + sat.Z*sun.Z
	if along >= 0 {
		return false
	}
	r2 := sat.X*sat.X + sat.Y*sat.Y + sat.Z*sat.Z
	perp2 := r2 - along*along
	return perp2 < transform.EarthRadiusKm*transform.EarthRadiusKm
}

// FootprintKm returns the diameter of the ground circle from which a
// satellite at altKm is above the horizon.
func FootprintKm(altKm float64) float64 {
	if altKm <= 0 {
		return 0
	}
	re := transform.EarthRadiusKm
	return 2 * re * math.Acos(re/(re+altKm))
}
