package telemetry

import (
	"encoding/json"
	"math"
	"time"

	"github.com/star/isswatch/internal/transform"
)

// Direction says whether the satellite is closing on the user or receding.
type Direction int

const (
	DirectionUnknown Direction = iota
	DirectionToward
	DirectionAway
)

func (d Direction) String() string {
	switch d {
	case DirectionToward:
		return "TOWARDS"
	case DirectionAway:
		return "AWAY"
	default:
		return "???"
	}
}

// MarshalText renders the display label.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Visibility is whether the satellite is sunlit.
type Visibility int

const (
	VisibilityUnknown Visibility = iota
	VisibilityDaylight
	VisibilityEclipsed
)

func (v Visibility) String() string {
	switch v {
	case VisibilityDaylight:
		return "daylight"
	case VisibilityEclipsed:
		return "eclipsed"
	default:
		return "unknown"
	}
}

// MarshalText renders the lower-case feed value.
func (v Visibility) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

func parseVisibility(s string) Visibility {
	switch s {
	case "daylight":
		return VisibilityDaylight
	case "eclipsed":
		return VisibilityEclipsed
	default:
		return VisibilityUnknown
	}
}

// Reading is an optional numeric field. A zero Reading is "not available",
// which is distinct from a reported 0.
type Reading struct {
	Value float64
	Valid bool
}

// Known wraps a present value.
func Known(v float64) Reading {
	return Reading{Value: v, Valid: true}
}

func readingOf(p *float64) Reading {
	if p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return Reading{}
	}
	return Known(*p)
}

// MarshalJSON encodes a missing reading as null.
func (r Reading) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

// Snapshot is one accepted position report. Published snapshots are never
// modified.
type Snapshot struct {
	ID         string             `json:"id,omitempty"`
	Source     string             `json:"source,omitempty"`
	Position   transform.GeoPoint `json:"position"`
	Altitude   Reading            `json:"altitude_km"`
	Velocity   Reading            `json:"velocity_kmh"`
	Footprint  Reading            `json:"footprint_km"`
	Visibility Visibility         `json:"visibility"`
	Solar      transform.GeoPoint `json:"solar_position"`
	SolarKnown bool               `json:"solar_known"`

	// ObservedAt never moves backwards across snapshots.
	ObservedAt time.Time `json:"observed_at"`
	ReceivedAt time.Time `json:"received_at"`

	DistanceKm float64               `json:"distance_km"`
	Direction  Direction             `json:"direction"`
	Look       *transform.LookAngles `json:"look,omitempty"`

	// Previous is the snapshot this one replaced, one level deep.
	Previous *Snapshot `json:"-"`
}

// Metrics are the values derived from the latest snapshot.
type Metrics struct {
	DistanceKm float64               `json:"distance_km"`
	Direction  Direction             `json:"direction"`
	Staleness  time.Duration         `json:"-"`
	Look       *transform.LookAngles `json:"look,omitempty"`
}

// PseudoDistanceKm is the planar degree distance scaled by 111 km/degree.
//
// Longitudes are added, not subtracted, and no great-circle geometry is
// used; the figure is only comparable with itself over time, which is all
// the approach direction needs. LookAngles carries the real slant range.
func PseudoDistanceKm(sat, user transform.GeoPoint) float64 {
	dLat := sat.Latitude - user.Latitude
	dLon := sat.Longitude + user.Longitude
	return math.Sqrt(dLat*dLat+dLon*dLon) * 111
}

// directionOf compares a new distance against the previous one.
func directionOf(prev, next float64) Direction {
	switch {
	case next < prev:
		return DirectionToward
	case next > prev:
		return DirectionAway
	default:
		return DirectionUnknown
	}
}
