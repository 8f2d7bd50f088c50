package transform

import (
	"math"
	"testing"
)

func magnitude(e ECEF) float64 {
	return math.Sqrt(e.X*e.X + e.Y*e.Y + e.Z*e.Z)
}

func TestGeodeticToECEFRadii(t *testing.T) {
	if got := magnitude(GeodeticToECEF(GeoPoint{0, 0}, 0)); math.Abs(got-6378.137) > 1e-3 {
		t.Errorf("equatorial radius = %.4f km, want 6378.137", got)
	}
	if got := magnitude(GeodeticToECEF(GeoPoint{90, 0}, 0)); math.Abs(got-6356.7523) > 1e-3 {
		t.Errorf("polar radius = %.4f km, want ~6356.752", got)
	}

	d := magnitude(GeodeticToECEF(GeoPoint{0, 0}, 0.1)) - magnitude(GeodeticToECEF(GeoPoint{0, 0}, 0))
	if math.Abs(d-0.1) > 1e-6 {
		t.Errorf("100 m altitude moved the point %.6f km", d)
	}
}

func TestGeodeticRoundTrip(t *testing.T) {
	points := []struct {
		p   GeoPoint
		alt float64
	}{
		{GeoPoint{47.608013, -122.335167}, 0},
		{GeoPoint{-33.87, 151.21}, 0.05},
		{GeoPoint{51.6, 10}, 420},
		{GeoPoint{-51.6, -170}, 415.3},
	}

	for _, tt := range points {
		got, alt := Geodetic(GeodeticToECEF(tt.p, tt.alt))
		if math.Abs(got.Latitude-tt.p.Latitude) > 1e-7 || math.Abs(got.Longitude-tt.p.Longitude) > 1e-7 {
			t.Errorf("Geodetic round trip of %v = %v", tt.p, got)
		}
		if math.Abs(alt-tt.alt) > 1e-4 {
			t.Errorf("altitude round trip of %v = %.6f km, want %.6f", tt.p, alt, tt.alt)
		}
	}
}

func TestLookDirectlyOverhead(t *testing.T) {
	obs := NewObserver(GeoPoint{0, 0}, 0)
	sat := obs.ECEF()
	sat.X += 400

	la := obs.Look(sat)
	if math.Abs(la.ElevationDeg-90) > 0.1 {
		t.Errorf("overhead elevation = %.2f deg, want ~90", la.ElevationDeg)
	}
	if math.Abs(la.RangeKm-400) > 1e-6 {
		t.Errorf("overhead range = %.3f km, want 400", la.RangeKm)
	}
}

func TestLookAzimuthDirections(t *testing.T) {
	obs := NewObserver(GeoPoint{0, 0}, 0)

	tests := []struct {
		name   string
		target GeoPoint
		wantAz float64
	}{
		{"north", GeoPoint{10, 0}, 0},
		{"east", GeoPoint{0, 10}, 90},
		{"south", GeoPoint{-10, 0}, 180},
		{"west", GeoPoint{0, -10}, 270},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			la := obs.Look(GeodeticToECEF(tt.target, 400))
			diff := math.Abs(la.AzimuthDeg - tt.wantAz)
			if diff > 180 {
				diff = 360 - diff
			}
			if diff > 1 {
				t.Errorf("azimuth = %.2f deg, want ~%.0f", la.AzimuthDeg, tt.wantAz)
			}
			if la.ElevationDeg <= 0 || la.ElevationDeg >= 90 {
				t.Errorf("elevation = %.2f deg, want in (0, 90)", la.ElevationDeg)
			}
		})
	}
}

func TestLookBelowHorizon(t *testing.T) {
	obs := NewObserver(GeoPoint{47.608013, -122.335167}, 0)
	la := obs.Look(GeodeticToECEF(GeoPoint{-47.6, 57.7}, 420))
	if la.ElevationDeg >= 0 {
		t.Errorf("antipodal elevation = %.2f deg, want negative", la.ElevationDeg)
	}
	if la.RangeKm < 12000 {
		t.Errorf("antipodal range = %.0f km, want > 12000", la.RangeKm)
	}
}
