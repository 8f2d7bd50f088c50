package transform

import (
	"math"
	"time"
)

const (
	// j2000 is the Julian Date of the J2000.0 epoch (2000-01-01 12:00 TT).
	j2000 = 2451545.0
	// unixEpochJD is the Julian Date of 1970-01-01 00:00 UTC.
	unixEpochJD = 2440587.5
)

// JulianDate converts t to a Julian Date on the UTC scale.
func JulianDate(t time.Time) float64 {
	sec := float64(t.Unix()) + float64(t.Nanosecond())/1e9
	return unixEpochJD + sec/86400.0
}

// GMST returns Greenwich Mean Sidereal Time in radians, [0, 2π).
// IAU-82 model (Vallado Eq 3-47), UT1 approximated by UTC.
func GMST(t time.Time) float64 {
	tUT1 := (JulianDate(t) - j2000) / 36525.0

	// Seconds of time; 876600h = 3155760000s.
	sec := 67310.54841 +
		(3155760000.0+8640184.812866)*tUT1 +
		0.093104*tUT1*tUT1 -
		6.2e-6*tUT1*tUT1*tUT1

	sec = math.Mod(sec, 86400.0)
	if sec < 0 {
		sec += 86400.0
	}
	return sec / 86400.0 * 2.0 * math.Pi
}
