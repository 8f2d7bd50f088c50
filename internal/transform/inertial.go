package transform

import (
	"math"
	"time"
)

// StateTEME is an SGP4 state vector in the True Equator Mean Equinox frame.
type StateTEME struct {
	X, Y, Z    float64 // km
	VX, VY, VZ float64 // km/s
}

// Radius returns the distance from the Earth's center in km.
func (s StateTEME) Radius() float64 {
	return math.Sqrt(s.X*s.X + s.Y*s.Y + s.Z*s.Z)
}

// Speed returns the inertial speed in km/s.
func (s StateTEME) Speed() float64 {
	return math.Sqrt(s.VX*s.VX + s.VY*s.VY + s.VZ*s.VZ)
}

// ECEF is an Earth-fixed position in km.
type ECEF struct {
	X, Y, Z float64
}

// ToECEF rotates the TEME position of s into the Earth-fixed frame at t.
//
// GMST-only rotation (TEME ≈ PEF ≈ ECEF); polar motion and the equation of
// the equinoxes are ignored, which is tens of meters at LEO.
func ToECEF(s StateTEME, t time.Time) ECEF {
	return ToECEFWithGMST(s, GMST(t))
}

// ToECEFWithGMST is ToECEF with a precomputed sidereal angle in radians.
func ToECEFWithGMST(s StateTEME, gmst float64) ECEF {
	cosG := math.Cos(gmst)
	sinG := math.Sin(gmst)
	return ECEF{
		X: s.X*cosG + s.Y*sinG,
		Y: -s.X*sinG + s.Y*cosG,
		Z: s.Z,
	}
}

// Valid reports whether e is finite and lies between 6200 km and 50000 km
// from the Earth's center.
func (e ECEF) Valid() bool {
	for _, v := range [3]float64{e.X, e.Y, e.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	mag := math.Sqrt(e.X*e.X + e.Y*e.Y + e.Z*e.Z)
	return mag >= 6200.0 && mag <= 50000.0
}
