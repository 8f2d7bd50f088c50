// Package track keeps the predicted ground track of the satellite in memory.
//
// The track covers [now, now+horizon] at a fixed step. A background worker
// adds points at the leading edge and evicts them from the trailing edge.
// When the element set changes the whole window is rebuilt off to the side
// and swapped in, so readers never see a half-built track.
package track

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/isswatch/internal/metrics"
	"github.com/star/isswatch/internal/propagation"
	"github.com/star/isswatch/internal/tle"
	"github.com/star/isswatch/internal/transform"
)

// Config sets the window the track covers.
type Config struct {
	Step    time.Duration `yaml:"step"`    // default: 30s
	Horizon time.Duration `yaml:"horizon"` // default: 95m, about one orbit
	Buffer  time.Duration `yaml:"buffer"`  // keep points this long after they pass; default: 60s
}

// DefaultConfig returns the stock window.
func DefaultConfig() Config {
	return Config{
		Step:    30 * time.Second,
		Horizon: 95 * time.Minute,
		Buffer:  time.Minute,
	}
}

// Point is one predicted sub-satellite position.
type Point struct {
	Time       time.Time          `json:"time"`
	Position   transform.GeoPoint `json:"position"`
	AltitudeKm float64            `json:"altitude_km"`
	Eclipsed   bool               `json:"eclipsed"`
}

// Sampler propagates the current element set.
type Sampler interface {
	Sample(t time.Time) (propagation.Sample, error)
}

// Track is a rolling window of predicted points. Safe for concurrent use;
// Start must run in a single goroutine.
type Track struct {
	mu     sync.RWMutex
	points map[time.Time]Point

	cfg     Config
	sampler Sampler
	store   *tle.Store
	logger  *slog.Logger
	now     func() time.Time

	// Dataset the window was built from. Owned by the Start goroutine.
	builtFrom time.Time

	rebuilding atomic.Bool
}

// New creates an empty track. Zero fields in cfg take their defaults.
func New(cfg Config, sampler Sampler, store *tle.Store, logger *slog.Logger) *Track {
	def := DefaultConfig()
	if cfg.Step <= 0 {
		cfg.Step = def.Step
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = def.Horizon
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	logger.Info("ground track initialized",
		"step_seconds", cfg.Step.Seconds(),
		"horizon_seconds", cfg.Horizon.Seconds(),
		"buffer_seconds", cfg.Buffer.Seconds(),
	)
	return &Track{
		points:  make(map[time.Time]Point),
		cfg:     cfg,
		sampler: sampler,
		store:   store,
		logger:  logger,
		now:     time.Now,
	}
}

// RoundToStep truncates t to a step boundary in UTC so lookups hit
// consistently.
func (t *Track) RoundToStep(ts time.Time) time.Time {
	return ts.UTC().Truncate(t.cfg.Step)
}

// Get returns the point for the step containing ts.
func (t *Track) Get(ts time.Time) (Point, bool) {
	key := t.RoundToStep(ts)
	t.mu.RLock()
	p, ok := t.points[key]
	t.mu.RUnlock()
	return p, ok
}

// Ahead returns the points in [from, from+d], oldest first. Missing steps
// are skipped.
func (t *Track) Ahead(from time.Time, d time.Duration) []Point {
	start := t.RoundToStep(from)
	end := from.Add(d)

	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Point, 0, int(d/t.cfg.Step)+1)
	for ts := start; !ts.After(end); ts = ts.Add(t.cfg.Step) {
		if p, ok := t.points[ts]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Points returns the whole window, oldest first.
func (t *Track) Points() []Point {
	t.mu.RLock()
	out := make([]Point, 0, len(t.points))
	for _, p := range t.points {
		out = append(out, p)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out
}

// Stats describes the window.
type Stats struct {
	Points     int       `json:"points"`
	Oldest     time.Time `json:"oldest"`
	Newest     time.Time `json:"newest"`
	Rebuilding bool      `json:"rebuilding"`
}

// Stats returns the current window bounds.
func (t *Track) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Stats{Points: len(t.points), Rebuilding: t.rebuilding.Load()}
	for ts := range t.points {
		if s.Oldest.IsZero() || ts.Before(s.Oldest) {
			s.Oldest = ts
		}
		if s.Newest.IsZero() || ts.After(s.Newest) {
			s.Newest = ts
		}
	}
	return s
}

// Positions strips points down to their sub-points.
func Positions(points []Point) []transform.GeoPoint {
	out := make([]transform.GeoPoint, len(points))
	for i, p := range points {
		out[i] = p.Position
	}
	return out
}

func (t *Track) put(p Point) {
	t.mu.Lock()
	t.points[t.RoundToStep(p.Time)] = p
	n := len(t.points)
	t.mu.Unlock()
	metrics.SetTrackPoints(n)
}

// evictExpired drops points older than now - buffer.
func (t *Track) evictExpired() int {
	cutoff := t.now().Add(-t.cfg.Buffer)
	var removed int

	t.mu.Lock()
	for ts := range t.points {
		if ts.Before(cutoff) {
			delete(t.points, ts)
			removed++
		}
	}
	n := len(t.points)
	t.mu.Unlock()

	if removed > 0 {
		metrics.SetTrackPoints(n)
		t.logger.Debug("ground track eviction", "points_removed", removed)
	}
	return removed
}

func (t *Track) replaceAll(points map[time.Time]Point) {
	t.mu.Lock()
	t.points = points
	t.mu.Unlock()
	metrics.SetTrackPoints(len(points))
}
