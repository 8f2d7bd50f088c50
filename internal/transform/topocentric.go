package transform

import "math"

// WGS-84 ellipsoid, km.
const (
	wgs84A  = 6378.137
	wgs84F  = 1.0 / 298.257223563
	wgs84E2 = wgs84F * (2 - wgs84F)
)

// Observer is a ground location with its ECEF position precomputed, so
// repeated look-angle queries against a moving satellite stay cheap.
type Observer struct {
	latRad, lonRad float64
	ecef           ECEF
}

// LookAngles holds azimuth, elevation, and range from an observer to a target.
type LookAngles struct {
	AzimuthDeg   float64 `json:"azimuth_deg"`   // 0 = North, clockwise
	ElevationDeg float64 `json:"elevation_deg"` // 0 = horizon, 90 = zenith
	RangeKm      float64 `json:"range_km"`
}

// NewObserver places an observer at p, altKm above the ellipsoid.
func NewObserver(p GeoPoint, altKm float64) Observer {
	return Observer{
		latRad: p.Latitude * math.Pi / 180.0,
		lonRad: p.Longitude * math.Pi / 180.0,
		ecef:   GeodeticToECEF(p, altKm),
	}
}

// ECEF returns the observer's Earth-fixed position.
func (o Observer) ECEF() ECEF {
	return o.ecef
}

// GeodeticToECEF converts a WGS-84 geodetic position to ECEF km.
func GeodeticToECEF(p GeoPoint, altKm float64) ECEF {
	lat := p.Latitude * math.Pi / 180.0
	lon := p.Longitude * math.Pi / 180.0
	sinLat, cosLat := math.Sin(lat), math.Cos(lat)

	// Prime vertical radius of curvature.
	n := wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	return ECEF{
		X: (n + altKm) * cosLat * math.Cos(lon),
		Y: (n + altKm) * cosLat * math.Sin(lon),
		Z: (n*(1-wgs84E2) + altKm) * sinLat,
	}
}

// Geodetic converts an ECEF position to a WGS-84 sub-point and the height
// above the ellipsoid in km. Bowring iteration; five rounds is well past
// convergence for anything in Earth orbit.
func Geodetic(e ECEF) (GeoPoint, float64) {
	lon := math.Atan2(e.Y, e.X)
	p := math.Sqrt(e.X*e.X + e.Y*e.Y)
	lat := math.Atan2(e.Z, p*(1-wgs84E2))

	var n float64
	for i := 0; i < 5; i++ {
		sinLat := math.Sin(lat)
		n = wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(e.Z+wgs84E2*n*sinLat, p)
	}

	sinLat, cosLat := math.Sin(lat), math.Cos(lat)
	n = wgs84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	var alt float64
	if math.Abs(cosLat) > 1e-10 {
		alt = p/cosLat - n
	} else {
		alt = math.Abs(e.Z)/math.Abs(sinLat) - n*(1-wgs84E2)
	}

	return GeoPoint{
		Latitude:  lat * 180.0 / math.Pi,
		Longitude: lon * 180.0 / math.Pi,
	}, alt
}

// Look computes the look angles from o to a target at ECEF position sat.
// SEZ rotation, Vallado section 4.4.
func (o Observer) Look(sat ECEF) LookAngles {
	rx := sat.X - o.ecef.X
	ry := sat.Y - o.ecef.Y
	rz := sat.Z - o.ecef.Z

	sinLat, cosLat := math.Sin(o.latRad), math.Cos(o.latRad)
	sinLon, cosLon := math.Sin(o.lonRad), math.Cos(o.lonRad)

	south := sinLat*cosLon*rx + sinLat*sinLon*ry - cosLat*rz
	east := -sinLon*rx + cosLon*ry
	zenith := cosLat*cosLon*rx + cosLat*sinLon*ry + sinLat*rz

	rng := math.Sqrt(south*south + east*east + zenith*zenith)
	if rng == 0 {
		return LookAngles{ElevationDeg: 90}
	}

	az := math.Atan2(east, -south)
	if az < 0 {
		az += 2 * math.Pi
	}

	return LookAngles{
		AzimuthDeg:   az * 180.0 / math.Pi,
		ElevationDeg: math.Asin(zenith/rng) * 180.0 / math.Pi,
		RangeKm:      rng,
	}
}
