package track

import (
	"context"
	"time"

	"github.com/star/isswatch/internal/feed"
	"github.com/star/isswatch/internal/metrics"
)

// Start waits for an element set, fills the window, and then keeps it
// rolling: one new point at the leading edge per step, eviction at the
// trailing edge, and a full rebuild whenever the element set changes.
//
// Blocks until ctx is cancelled.
func (t *Track) Start(ctx context.Context) {
	if !t.waitForDataset(ctx) {
		return
	}

	t.warmup(ctx)

	ticker := time.NewTicker(t.cfg.Step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("ground track stopped")
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

// waitForDataset polls the store every second until an element set is
// loaded. Returns false if ctx is cancelled first.
func (t *Track) waitForDataset(ctx context.Context) bool {
	if t.store.Get() != nil {
		return true
	}

	t.logger.Info("ground track waiting for TLE data")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if t.store.Get() != nil {
				return true
			}
		}
	}
}

// warmup fills [now, now+horizon].
func (t *Track) warmup(ctx context.Context) {
	ds := t.store.Get()
	if ds == nil {
		return
	}

	start := time.Now()
	points, ok := t.build(ctx)
	if !ok {
		return
	}
	t.replaceAll(points)
	t.builtFrom = ds.FetchedAt

	t.logger.Info("ground track warmup complete",
		"points", len(points),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (t *Track) tick(ctx context.Context) {
	if t.datasetChanged() {
		t.rebuild(ctx)
		return
	}
	t.generateLeadingEdge()
	t.evictExpired()
}

// generateLeadingEdge adds the point at now+horizon if it is missing.
func (t *Track) generateLeadingEdge() {
	target := t.RoundToStep(t.now().Add(t.cfg.Horizon))
	if _, ok := t.Get(target); ok {
		return
	}

	p, err := t.sample(target)
	if err != nil {
		t.logger.Warn("ground track leading edge failed",
			"timestamp", target.Format(time.RFC3339),
			"error", err,
		)
		metrics.IncTrackErrors()
		return
	}
	t.put(p)
}

// build propagates a fresh window. The second result is false when ctx
// was cancelled part way.
func (t *Track) build(ctx context.Context) (map[time.Time]Point, bool) {
	now := t.RoundToStep(t.now())
	n := int(t.cfg.Horizon/t.cfg.Step) + 1
	points := make(map[time.Time]Point, n)

	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return nil, false
		default:
		}

		ts := now.Add(time.Duration(i) * t.cfg.Step)
		p, err := t.sample(ts)
		if err != nil {
			t.logger.Warn("ground track propagation failed", "timestamp", ts.Format(time.RFC3339), "error", err)
			metrics.IncTrackErrors()
			continue
		}
		points[ts] = p
	}
	return points, true
}

func (t *Track) sample(ts time.Time) (Point, error) {
	s, err := t.sampler.Sample(ts)
	if err != nil {
		return Point{}, err
	}
	return Point{
		Time:       ts,
		Position:   s.SubPoint,
		AltitudeKm: s.AltitudeKm,
		Eclipsed:   feed.Eclipsed(s.ECEF, feed.SunDirection(ts)),
	}, nil
}
