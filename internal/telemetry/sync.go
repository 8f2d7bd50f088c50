// Package telemetry merges the position feed and the reverse geocoder into
// a single snapshot that the frame loop can read without blocking.
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/isswatch/internal/feed"
	"github.com/star/isswatch/internal/geocode"
	"github.com/star/isswatch/internal/metrics"
	"github.com/star/isswatch/internal/transform"
)

// DefaultInterval is the position poll cadence.
const DefaultInterval = 5 * time.Second

// DefaultLocation labels the sub-point until a reverse lookup succeeds.
const DefaultLocation = "ocean"

// ErrMissingCoordinates rejects a report without both latitude and longitude.
var ErrMissingCoordinates = errors.New("position report is missing coordinates")

// PositionFeed supplies raw position reports.
type PositionFeed interface {
	Fetch(ctx context.Context) (*feed.Position, error)
}

// ReverseGeocoder names the place under a position. geocode.ErrNoResult
// means there is nothing to name.
type ReverseGeocoder interface {
	Reverse(ctx context.Context, p transform.GeoPoint) (string, error)
}

// Option configures a Sync.
type Option func(*Sync)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sync) { s.now = now }
}

// WithGeocodeTimeout bounds each reverse lookup.
func WithGeocodeTimeout(d time.Duration) Option {
	return func(s *Sync) { s.geocodeTimeout = d }
}

// Sync owns the latest snapshot, the user's origin and the location label.
//
// Readers never block: the snapshot is published through an atomic
// pointer. Writers (polls, geocode replies, origin changes) serialize on mu,
// which is also what makes the geocode freshness check race-free.
type Sync struct {
	feed           PositionFeed
	geocoder       ReverseGeocoder
	logger         *slog.Logger
	now            func() time.Time
	geocodeTimeout time.Duration

	snapshot atomic.Pointer[Snapshot]

	mu       sync.Mutex
	origin   transform.GeoPoint
	location string

	ready     chan struct{}
	readyOnce sync.Once
	lookups   sync.WaitGroup
}

// NewSync creates a Sync. geocoder may be nil, in which case the location
// label keeps its default.
func NewSync(pf PositionFeed, geocoder ReverseGeocoder, origin transform.GeoPoint, logger *slog.Logger, opts ...Option) *Sync {
	s := &Sync{
		feed:           pf,
		geocoder:       geocoder,
		logger:         logger,
		now:            time.Now,
		geocodeTimeout: 10 * time.Second,
		origin:         origin,
		location:       DefaultLocation,
		ready:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start polls once immediately and then every interval until ctx is done.
func (s *Sync) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s.logger.Info("telemetry polling started", "interval_ms", interval.Milliseconds())

	s.Poll(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Poll(ctx)
		case <-ctx.Done():
			s.lookups.Wait()
			return
		}
	}
}

// Poll performs one fetch and applies the result.
func (s *Sync) Poll(ctx context.Context) {
	raw, err := s.feed.Fetch(ctx)
	if err != nil {
		s.onPositionFailed(err)
		return
	}
	if err := s.onPositionReceived(ctx, raw); err != nil {
		s.onPositionFailed(err)
	}
}

func (s *Sync) onPositionFailed(err error) {
	if errors.Is(err, ErrMissingCoordinates) {
		metrics.IncPolls("invalid")
	} else {
		metrics.IncPolls("error")
	}
	s.logger.Warn("position poll failed, keeping last snapshot", "error", err)
}

func (s *Sync) onPositionReceived(ctx context.Context, raw *feed.Position) error {
	if raw == nil || raw.Latitude == nil || raw.Longitude == nil {
		return ErrMissingCoordinates
	}

	s.mu.Lock()
	next := s.build(raw, s.snapshot.Load())
	s.snapshot.Store(next)
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	metrics.IncPolls("success")
	metrics.SetDistance(next.DistanceKm)
	s.logger.Debug("position received",
		"source", next.Source,
		"latitude", next.Position.Latitude,
		"longitude", next.Position.Longitude,
		"distance_km", next.DistanceKm,
		"direction", next.Direction.String(),
	)

	if s.geocoder != nil {
		s.lookups.Add(1)
		go s.lookup(ctx, next.Position)
	}
	return nil
}

// build derives the next snapshot from raw and the current one. Callers hold mu.
func (s *Sync) build(raw *feed.Position, cur *Snapshot) *Snapshot {
	now := s.now()
	next := &Snapshot{
		Source:     raw.Source,
		Position:   transform.GeoPoint{Latitude: *raw.Latitude, Longitude: *raw.Longitude},
		Altitude:   readingOf(raw.Altitude),
		Velocity:   readingOf(raw.Velocity),
		Footprint:  readingOf(raw.Footprint),
		Visibility: parseVisibility(raw.Visibility),
		ObservedAt: raw.ObservedAt(now),
		ReceivedAt: now,
	}
	if raw.ID != nil {
		next.ID = strconv.Itoa(*raw.ID)
	}
	if raw.SolarLat != nil && raw.SolarLon != nil {
		next.Solar = transform.GeoPoint{Latitude: *raw.SolarLat, Longitude: *raw.SolarLon}
		next.SolarKnown = true
	}

	next.DistanceKm = PseudoDistanceKm(next.Position, s.origin)
	next.Look = lookFrom(s.origin, next)

	if cur != nil {
		if cur.ObservedAt.After(next.ObservedAt) {
			next.ObservedAt = cur.ObservedAt
		}
		next.Direction = directionOf(cur.DistanceKm, next.DistanceKm)

		prev := *cur
		prev.Previous = nil
		next.Previous = &prev
	}
	return next
}

func lookFrom(origin transform.GeoPoint, snap *Snapshot) *transform.LookAngles {
	if !snap.Altitude.Valid {
		return nil
	}
	la := transform.NewObserver(origin, 0).Look(transform.GeodeticToECEF(snap.Position, snap.Altitude.Value))
	return &la
}

// lookup resolves the label for p and applies it only if p is still the
// latest position.
func (s *Sync) lookup(ctx context.Context, p transform.GeoPoint) {
	defer s.lookups.Done()

	ctx, cancel := context.WithTimeout(ctx, s.geocodeTimeout)
	defer cancel()

	name, err := s.geocoder.Reverse(ctx, p)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur := s.snapshot.Load(); cur == nil || cur.Position != p {
		metrics.IncGeocode("discarded")
		s.logger.Debug("discarding stale geocode result", "latitude", p.Latitude, "longitude", p.Longitude)
		return
	}

	switch {
	case errors.Is(err, geocode.ErrNoResult):
		metrics.IncGeocode("empty")
	case err != nil:
		metrics.IncGeocode("error")
		s.logger.Warn("reverse geocode failed", "latitude", p.Latitude, "longitude", p.Longitude, "error", err)
	default:
		metrics.IncGeocode("applied")
		s.location = name
	}
}

// Snapshot returns the latest snapshot, or nil before the first success.
func (s *Sync) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Metrics returns the derived values with staleness measured now.
func (s *Sync) Metrics() Metrics {
	snap := s.snapshot.Load()
	if snap == nil {
		return Metrics{}
	}

	stale := s.now().Sub(snap.ObservedAt)
	if stale < 0 {
		stale = 0
	}
	metrics.SetSnapshotAge(stale.Seconds())

	return Metrics{
		DistanceKm: snap.DistanceKm,
		Direction:  snap.Direction,
		Staleness:  stale,
		Look:       snap.Look,
	}
}

// Location returns the current place label.
func (s *Sync) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

// Origin returns the user's position.
func (s *Sync) Origin() transform.GeoPoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.origin
}

// SetOrigin moves the user. The current snapshot is republished with its
// distance and look angles measured from the new origin; direction resets
// to unknown because the previous distance was measured elsewhere.
func (s *Sync) SetOrigin(p transform.GeoPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.origin = p
	cur := s.snapshot.Load()
	if cur == nil {
		return
	}
	next := *cur
	next.DistanceKm = PseudoDistanceKm(next.Position, p)
	next.Direction = DirectionUnknown
	next.Look = lookFrom(p, &next)
	s.snapshot.Store(&next)
}

// Ready is closed once the first snapshot has been published.
func (s *Sync) Ready() <-chan struct{} {
	return s.ready
}

// Wait blocks until the first snapshot lands or ctx is done.
func (s *Sync) Wait(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
