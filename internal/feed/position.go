// Package feed supplies raw satellite position reports.
//
// A report either comes from the public wheretheiss.at API (Client) or is
// computed locally from the current element set (Propagated). Fallback
// chains the two.
package feed

import (
	"context"
	"errors"
	"time"
)

// ErrNoCoordinates marks a report that arrived without latitude or longitude.
var ErrNoCoordinates = errors.New("report has no coordinates")

// Visibility values reported by the feeds.
const (
	VisibilityDaylight = "daylight"
	VisibilityEclipsed = "eclipsed"
)

// Position is one raw report. Numeric fields are pointers because the
// upstream API may omit any of them; consumers must treat nil as unknown
// rather than zero.
type Position struct {
	Name       string   `json:"name,omitempty"`
	ID         *int     `json:"id,omitempty"`
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	Altitude   *float64 `json:"altitude,omitempty"`  // km
	Velocity   *float64 `json:"velocity,omitempty"`  // km/h
	Footprint  *float64 `json:"footprint,omitempty"` // km
	Visibility string   `json:"visibility,omitempty"`
	SolarLat   *float64 `json:"solar_lat,omitempty"`
	SolarLon   *float64 `json:"solar_lon,omitempty"`
	Timestamp  *int64   `json:"timestamp,omitempty"` // unix seconds
	Units      string   `json:"units,omitempty"`

	// Source names the feed that produced the report.
	Source string `json:"-"`
}

// ObservedAt returns the report time, or fallback when the feed sent none.
func (p *Position) ObservedAt(fallback time.Time) time.Time {
	if p.Timestamp == nil {
		return fallback
	}
	return time.Unix(*p.Timestamp, 0)
}

// HasCoordinates reports whether both latitude and longitude are present.
func (p *Position) HasCoordinates() bool {
	return p != nil && p.Latitude != nil && p.Longitude != nil
}

// Source produces position reports.
type Source interface {
	Fetch(ctx context.Context) (*Position, error)
}

func ptr[T any](v T) *T {
	return &v
}
