package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/star/isswatch/internal/propagation"
)

// Propagated computes position reports from the element set in use, in
// the same shape the HTTP API returns.
type Propagated struct {
	source *propagation.Source
	logger *slog.Logger
	now    func() time.Time
}

// NewPropagated creates a Propagated feed over source.
func NewPropagated(source *propagation.Source, logger *slog.Logger) *Propagated {
	return &Propagated{source: source, logger: logger, now: time.Now}
}

// Fetch propagates to the current second.
func (p *Propagated) Fetch(ctx context.Context) (*Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := p.now().UTC().Truncate(time.Second)
	sample, err := p.source.Sample(t)
	if err != nil {
		return nil, fmt.Errorf("sgp4 feed: %w", err)
	}

	prop, err := p.source.Propagator()
	if err != nil {
		return nil, fmt.Errorf("sgp4 feed: %w", err)
	}
	el := prop.Element()

	sun := SunDirection(t)
	subsolar := SubsolarPoint(t)
	visibility := VisibilityDaylight
	if Eclipsed(sample.ECEF, sun) {
		visibility = VisibilityEclipsed
	}

	return &Position{
		Name:       el.Name,
		ID:         ptr(el.NORADID),
		Latitude:   ptr(sample.SubPoint.Latitude),
		Longitude:  ptr(sample.SubPoint.Longitude),
		Altitude:   ptr(sample.AltitudeKm),
		Velocity:   ptr(sample.State.Speed() * 3600),
		Footprint:  ptr(FootprintKm(sample.AltitudeKm)),
		Visibility: visibility,
		SolarLat:   ptr(subsolar.Latitude),
		SolarLon:   ptr(subsolar.Longitude),
		Timestamp:  ptr(t.Unix()),
		Units:      "kilometers",
		Source:     "sgp4",
	}, nil
}
