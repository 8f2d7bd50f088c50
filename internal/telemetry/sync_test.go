package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/isswatch/internal/feed"
	"github.com/star/isswatch/internal/geocode"
	"github.com/star/isswatch/internal/transform"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type step struct {
	pos *feed.Position
	err error
}

// scriptedFeed replays a fixed sequence of reports, repeating the last.
type scriptedFeed struct {
	mu    sync.Mutex
	steps []step
	calls int
}

func (f *scriptedFeed) Fetch(context.Context) (*feed.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.steps) {
		i = len(f.steps) - 1
	}
	f.calls++
	return f.steps[i].pos, f.steps[i].err
}

func at(lat, lon float64) *feed.Position {
	return &feed.Position{Latitude: &lat, Longitude: &lon, Source: "test"}
}

func withTimestamp(p *feed.Position, unix int64) *feed.Position {
	p.Timestamp = &unix
	return p
}

type gatedGeocoder struct {
	release chan struct{}
	names   map[transform.GeoPoint]string
	err     error
}

func (g *gatedGeocoder) Reverse(ctx context.Context, p transform.GeoPoint) (string, error) {
	if g.release != nil {
		select {
		case <-g.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.err != nil {
		return "", g.err
	}
	name, ok := g.names[p]
	if !ok {
		return "", geocode.ErrNoResult
	}
	return name, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestDirectionSequence(t *testing.T) {
	origin := transform.GeoPoint{}
	var steps []step
	for _, d := range []float64{100, 80, 80, 120} {
		steps = append(steps, step{pos: at(d/111, 0)})
	}
	s := NewSync(&scriptedFeed{steps: steps}, nil, origin, testLogger)

	var got []Direction
	for range steps {
		s.Poll(context.Background())
		got = append(got, s.Snapshot().Direction)
	}

	assert.Equal(t, []Direction{DirectionUnknown, DirectionToward, DirectionUnknown, DirectionAway}, got)
	assert.InDelta(t, 120, s.Snapshot().DistanceKm, 1e-9)
}

func TestSeattleDistance(t *testing.T) {
	origin := transform.GeoPoint{Latitude: 47.608013, Longitude: -122.335167}
	s := NewSync(&scriptedFeed{steps: []step{{pos: at(48, -122)}}}, nil, origin, testLogger)

	s.Poll(context.Background())

	dLat := 48 - 47.608013
	dLon := -122 + -122.335167
	want := math.Sqrt(dLat*dLat+dLon*dLon) * 111
	assert.InDelta(t, want, s.Snapshot().DistanceKm, 1e-9)
	assert.InDelta(t, want, s.Metrics().DistanceKm, 1e-9)
}

func TestPollFailureKeepsSnapshot(t *testing.T) {
	f := &scriptedFeed{steps: []step{
		{pos: at(10, 20)},
		{err: errors.New("connection refused")},
	}}
	s := NewSync(f, nil, transform.GeoPoint{}, testLogger)

	s.Poll(context.Background())
	first := s.Snapshot()
	require.NotNil(t, first)

	s.Poll(context.Background())
	assert.Same(t, first, s.Snapshot())
}

func TestMissingCoordinatesRejected(t *testing.T) {
	lat := 10.0
	f := &scriptedFeed{steps: []step{
		{pos: at(1, 2)},
		{pos: &feed.Position{Latitude: &lat}},
	}}
	s := NewSync(f, nil, transform.GeoPoint{}, testLogger)

	s.Poll(context.Background())
	first := s.Snapshot()

	err := s.onPositionReceived(context.Background(), &feed.Position{Latitude: &lat})
	assert.ErrorIs(t, err, ErrMissingCoordinates)

	s.Poll(context.Background())
	assert.Same(t, first, s.Snapshot())
}

func TestNoSnapshotBeforeFirstSuccess(t *testing.T) {
	s := NewSync(&scriptedFeed{steps: []step{{err: errors.New("down")}}}, nil, transform.GeoPoint{}, testLogger)
	s.Poll(context.Background())

	assert.Nil(t, s.Snapshot())
	assert.Equal(t, Metrics{}, s.Metrics())
	assert.Equal(t, DefaultLocation, s.Location())
}

func TestOptionalFieldsStayUnknown(t *testing.T) {
	p := at(1, 2)
	zero := 0.0
	p.Velocity = &zero
	s := NewSync(&scriptedFeed{steps: []step{{pos: p}}}, nil, transform.GeoPoint{}, testLogger)
	s.Poll(context.Background())

	snap := s.Snapshot()
	assert.False(t, snap.Altitude.Valid)
	assert.Equal(t, Known(0), snap.Velocity)
	assert.Equal(t, VisibilityUnknown, snap.Visibility)
	assert.False(t, snap.SolarKnown)
	assert.Nil(t, snap.Look)
}

func TestPreviousIsOneLevelDeep(t *testing.T) {
	f := &scriptedFeed{steps: []step{{pos: at(1, 0)}, {pos: at(2, 0)}, {pos: at(3, 0)}}}
	s := NewSync(f, nil, transform.GeoPoint{}, testLogger)
	for i := 0; i < 3; i++ {
		s.Poll(context.Background())
	}

	snap := s.Snapshot()
	require.NotNil(t, snap.Previous)
	assert.Equal(t, 2.0, snap.Previous.Position.Latitude)
	assert.Nil(t, snap.Previous.Previous)
}

func TestObservedAtNeverMovesBackwards(t *testing.T) {
	f := &scriptedFeed{steps: []step{
		{pos: withTimestamp(at(1, 1), 2000)},
		{pos: withTimestamp(at(2, 2), 1000)},
		{pos: withTimestamp(at(3, 3), 3000)},
	}}
	s := NewSync(f, nil, transform.GeoPoint{}, testLogger)

	var got []int64
	for i := 0; i < 3; i++ {
		s.Poll(context.Background())
		got = append(got, s.Snapshot().ObservedAt.Unix())
	}
	assert.Equal(t, []int64{2000, 2000, 3000}, got)
}

func TestStalenessClampedAtZero(t *testing.T) {
	now := time.Unix(1000, 0)
	f := &scriptedFeed{steps: []step{{pos: withTimestamp(at(1, 1), 1005)}}}
	s := NewSync(f, nil, transform.GeoPoint{}, testLogger, WithClock(fixedClock(now)))
	s.Poll(context.Background())

	assert.Equal(t, time.Duration(0), s.Metrics().Staleness)
}

func TestStalenessFromObservedAt(t *testing.T) {
	current := time.Unix(1000, 0)
	clock := func() time.Time { return current }
	f := &scriptedFeed{steps: []step{{pos: withTimestamp(at(1, 1), 990)}}}
	s := NewSync(f, nil, transform.GeoPoint{}, testLogger, WithClock(clock))
	s.Poll(context.Background())
	assert.Equal(t, 10*time.Second, s.Metrics().Staleness)

	current = time.Unix(1030, 0)
	assert.Equal(t, 40*time.Second, s.Metrics().Staleness)
}

func TestLookAnglesWhenAltitudeKnown(t *testing.T) {
	p := at(0, 0)
	alt := 420.0
	p.Altitude = &alt
	s := NewSync(&scriptedFeed{steps: []step{{pos: p}}}, nil, transform.GeoPoint{}, testLogger)
	s.Poll(context.Background())

	look := s.Metrics().Look
	require.NotNil(t, look)
	assert.InDelta(t, 90, look.ElevationDeg, 1e-6)
	assert.InDelta(t, 420, look.RangeKm, 1e-6)
}

func TestGeocodeApplied(t *testing.T) {
	g := &gatedGeocoder{names: map[transform.GeoPoint]string{{Latitude: 10, Longitude: 10}: "Somewhere"}}
	s := NewSync(&scriptedFeed{steps: []step{{pos: at(10, 10)}}}, g, transform.GeoPoint{}, testLogger)

	s.Poll(context.Background())
	s.lookups.Wait()

	assert.Equal(t, "Somewhere", s.Location())
}

func TestStaleGeocodeDiscarded(t *testing.T) {
	g := &gatedGeocoder{
		release: make(chan struct{}),
		names: map[transform.GeoPoint]string{
			{Latitude: 10, Longitude: 10}: "Ten",
			{Latitude: 20, Longitude: 20}: "Twenty",
		},
	}
	f := &scriptedFeed{steps: []step{{pos: at(10, 10)}, {pos: at(20, 20)}}}
	s := NewSync(f, g, transform.GeoPoint{}, testLogger)

	s.Poll(context.Background())
	s.Poll(context.Background())
	close(g.release)
	s.lookups.Wait()

	assert.Equal(t, "Twenty", s.Location())
}

func TestGeocodeEmptyOrFailedKeepsLabel(t *testing.T) {
	for name, g := range map[string]*gatedGeocoder{
		"empty":  {names: map[transform.GeoPoint]string{}},
		"failed": {err: errors.New("503")},
	} {
		t.Run(name, func(t *testing.T) {
			s := NewSync(&scriptedFeed{steps: []step{{pos: at(5, 5)}}}, g, transform.GeoPoint{}, testLogger)
			s.Poll(context.Background())
			s.lookups.Wait()
			assert.Equal(t, DefaultLocation, s.Location())
		})
	}
}

func TestSetOriginRecomputes(t *testing.T) {
	f := &scriptedFeed{steps: []step{{pos: at(10, 0)}, {pos: at(9, 0)}}}
	s := NewSync(f, nil, transform.GeoPoint{}, testLogger)
	s.Poll(context.Background())
	s.Poll(context.Background())
	require.Equal(t, DirectionToward, s.Snapshot().Direction)
	before := s.Snapshot()

	s.SetOrigin(transform.GeoPoint{Latitude: 9})

	after := s.Snapshot()
	assert.NotSame(t, before, after)
	assert.InDelta(t, 0, after.DistanceKm, 1e-9)
	assert.Equal(t, DirectionUnknown, after.Direction)
	assert.Equal(t, transform.GeoPoint{Latitude: 9}, s.Origin())
	assert.InDelta(t, 9*111, before.DistanceKm, 1e-9)
}

func TestStartPollsImmediately(t *testing.T) {
	s := NewSync(&scriptedFeed{steps: []step{{pos: at(1, 1)}}}, nil, transform.GeoPoint{}, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, time.Hour)
		close(done)
	}()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, s.Wait(waitCtx))
	assert.NotNil(t, s.Snapshot())

	cancel()
	<-done
}

func TestWaitHonoursContext(t *testing.T) {
	s := NewSync(&scriptedFeed{steps: []step{{err: errors.New("down")}}}, nil, transform.GeoPoint{}, testLogger)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.Canceled)
}

func TestPseudoDistanceAddsLongitudes(t *testing.T) {
	d := PseudoDistanceKm(transform.GeoPoint{Longitude: 10}, transform.GeoPoint{Longitude: 10})
	assert.InDelta(t, 20*111, d, 1e-9)
}

func TestReadingJSON(t *testing.T) {
	b, err := Reading{}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))

	b, err = Known(1.5).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "1.5", string(b))
}
