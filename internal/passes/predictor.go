// Package passes predicts when the satellite rises above the user's horizon.
package passes

import (
	"context"
	"errors"
	"time"

	"github.com/star/isswatch/internal/feed"
	"github.com/star/isswatch/internal/propagation"
	"github.com/star/isswatch/internal/transform"
)

// GroundTrackPoint is a sub-satellite position at a specific time during a pass.
type GroundTrackPoint struct {
	Time      time.Time `json:"time"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude_km"`
	Elevation float64   `json:"elevation"` // degrees above observer's horizon (0-90)
}

// PassEvent describes a single pass over the observer.
type PassEvent struct {
	StartTime        time.Time          `json:"start_time"`
	MaxElevationTime time.Time          `json:"max_elevation_time"`
	EndTime          time.Time          `json:"end_time"`
	DurationSeconds  float64            `json:"duration_seconds"`
	MaxElevation     float64            `json:"max_elevation"`
	AzimuthAtMax     float64            `json:"azimuth_at_max"`
	StartAzimuth     float64            `json:"start_azimuth"`
	EndAzimuth       float64            `json:"end_azimuth"`
	Visible          bool               `json:"visible"` // sunlit satellite, dark sky at max elevation
	GroundTrack      []GroundTrackPoint `json:"ground_track"`
}

// Request holds the parameters for a pass prediction.
type Request struct {
	Observer      transform.GeoPoint
	ObserverAltKm float64
	Start         time.Time
	Horizon       time.Duration
	MinElevation  float64 // degrees
	MaxPasses     int
}

const (
	coarseStepSec      = 30 // seconds between coarse scan steps
	fineStepSec        = 1  // seconds between fine scan steps
	groundTrackStepSec = 10 // seconds between ground track samples
	minPassDur         = 10 * time.Second

	// Civil twilight: the sky is dark enough to spot the station.
	darkSkySunElevation = -6.0
)

// Limits applied by Normalize.
const (
	DefaultHorizon   = 24 * time.Hour
	MaxHorizon       = 7 * 24 * time.Hour
	DefaultMaxPasses = 10
	MaxPasses        = 50
)

// Normalize fills defaults and clamps the request to the supported range.
func (r Request) Normalize() Request {
	if r.Horizon <= 0 {
		r.Horizon = DefaultHorizon
	}
	if r.Horizon > MaxHorizon {
		r.Horizon = MaxHorizon
	}
	if r.MaxPasses <= 0 {
		r.MaxPasses = DefaultMaxPasses
	}
	if r.MaxPasses > MaxPasses {
		r.MaxPasses = MaxPasses
	}
	if r.MinElevation < 0 {
		r.MinElevation = 0
	}
	if r.MinElevation > 90 {
		r.MinElevation = 90
	}
	return r
}

// Predict scans the request window for passes. A cancelled context returns
// the passes found so far together with the context error.
func Predict(ctx context.Context, prop *propagation.Propagator, req Request) ([]PassEvent, error) {
	if prop == nil {
		return nil, errors.New("nil propagator")
	}
	req = req.Normalize()
	obs := transform.NewObserver(req.Observer, req.ObserverAltKm)
	end := req.Start.Add(req.Horizon)
	passes := []PassEvent{}

	// Coarse scan: step through the time range looking for elevation > 0.
	t := req.Start
	for t.Before(end) && len(passes) < req.MaxPasses {
		if err := ctx.Err(); err != nil {
			return passes, err
		}

		el, _, _, err := elevationAt(prop, obs, t)
		if err != nil {
			t = t.Add(coarseStepSec * time.Second)
			continue
		}

		if el > 0 {
			pass, windowEnd := refinePass(ctx, prop, obs, t, req.Start, end, req.MinElevation)
			if pass != nil && pass.EndTime.Sub(pass.StartTime) >= minPassDur {
				passes = append(passes, *pass)
			}
			t = windowEnd.Add(coarseStepSec * time.Second)
		} else {
			t = t.Add(coarseStepSec * time.Second)
		}
	}

	return passes, ctx.Err()
}

// refinePass does a fine-grained scan around a coarse-detected above-horizon
// region. It backs up to find the actual rise, then scans forward to find
// set. Returns the pass event and the time the window ends.
func refinePass(ctx context.Context, prop *propagation.Propagator, obs transform.Observer, coarseHit, windowStart, windowEnd time.Time, minElev float64) (*PassEvent, time.Time) {
	searchStart := coarseHit.Add(-coarseStepSec * time.Second)
	if searchStart.Before(windowStart) {
		searchStart = windowStart
	}

	var (
		riseTime    time.Time
		setTime     time.Time
		riseAz      float64
		setAz       float64
		maxEl       float64
		maxElTime   time.Time
		maxElAz     float64
		maxElECEF   transform.ECEF
		wasAbove    bool
		foundRise   bool
		groundTrack []GroundTrackPoint
	)

	t := searchStart
	for t.Before(windowEnd) {
		if ctx.Err() != nil {
			break
		}

		el, la, ecef, err := elevationAt(prop, obs, t)
		if err != nil {
			t = t.Add(fineStepSec * time.Second)
			continue
		}

		above := el >= minElev

		if above && !wasAbove {
			riseTime = t
			riseAz = la.AzimuthDeg
			foundRise = true
			maxEl = el
			maxElTime = t
			maxElAz = la.AzimuthDeg
			maxElECEF = ecef
		}

		if above && foundRise {
			if el > maxEl {
				maxEl = el
				maxElTime = t
				maxElAz = la.AzimuthDeg
				maxElECEF = ecef
			}
			if int(t.Sub(riseTime).Seconds())%groundTrackStepSec == 0 {
				sub, alt := transform.Geodetic(ecef)
				groundTrack = append(groundTrack, GroundTrackPoint{
					Time:      t,
					Latitude:  sub.Latitude,
					Longitude: sub.Longitude,
					Altitude:  alt,
					Elevation: el,
				})
			}
		}

		if !above && wasAbove && foundRise {
			setTime = t
			setAz = la.AzimuthDeg
			break
		}

		wasAbove = above
		t = t.Add(fineStepSec * time.Second)
	}

	// Still above at windowEnd: close the pass there.
	if foundRise && setTime.IsZero() && wasAbove {
		setTime = t
		if el, la, ecef, err := elevationAt(prop, obs, t); err == nil {
			setAz = la.AzimuthDeg
			if el > maxEl {
				maxEl = el
				maxElTime = t
				maxElAz = la.AzimuthDeg
				maxElECEF = ecef
			}
		}
	}

	if !foundRise || setTime.IsZero() {
		return nil, t
	}

	return &PassEvent{
		StartTime:        riseTime,
		MaxElevationTime: maxElTime,
		EndTime:          setTime,
		DurationSeconds:  setTime.Sub(riseTime).Seconds(),
		MaxElevation:     maxEl,
		AzimuthAtMax:     maxElAz,
		StartAzimuth:     riseAz,
		EndAzimuth:       setAz,
		Visible:          visible(obs, maxElECEF, maxElTime),
		GroundTrack:      groundTrack,
	}, setTime
}

// visible reports whether a satellite at sat is sunlit while the observer's
// sky is dark.
func visible(obs transform.Observer, sat transform.ECEF, t time.Time) bool {
	sun := feed.SunDirection(t)
	if feed.Eclipsed(sat, sun) {
		return false
	}
	return SunElevation(obs, sun) < darkSkySunElevation
}

// SunElevation returns the Sun's elevation in degrees for obs, given the
// unit Sun direction in ECEF.
func SunElevation(obs transform.Observer, sun transform.ECEF) float64 {
	const au = 149597870.7 // km
	far := transform.ECEF{X: sun.X * au, Y: sun.Y * au, Z: sun.Z * au}
	return obs.Look(far).ElevationDeg
}

// elevationAt computes the look angles and satellite ECEF position from
// observer to satellite at time t.
func elevationAt(prop *propagation.Propagator, obs transform.Observer, t time.Time) (float64, transform.LookAngles, transform.ECEF, error) {
	s, err := prop.Sample(t)
	if err != nil {
		return 0, transform.LookAngles{}, transform.ECEF{}, err
	}
	la := obs.Look(s.ECEF)
	return la.ElevationDeg, la, s.ECEF, nil
}
