package track

import (
	"context"
	"time"

	"github.com/star/isswatch/internal/metrics"
)

// datasetChanged reports whether the store holds a newer element set than
// the one the window was built from.
func (t *Track) datasetChanged() bool {
	ds := t.store.Get()
	if ds == nil {
		return false
	}
	return !ds.FetchedAt.Equal(t.builtFrom)
}

// rebuild regenerates the whole window from the new element set and swaps
// it in at once. Readers keep getting the old window until the swap.
func (t *Track) rebuild(ctx context.Context) {
	ds := t.store.Get()
	if ds == nil {
		return
	}

	t.logger.Info("ground track rebuild starting",
		"old_dataset_fetched_at", t.builtFrom.UTC().Format(time.RFC3339),
		"new_dataset_fetched_at", ds.FetchedAt.UTC().Format(time.RFC3339),
	)

	t.rebuilding.Store(true)
	defer t.rebuilding.Store(false)

	start := time.Now()
	points, ok := t.build(ctx)
	if !ok {
		t.logger.Warn("ground track rebuild cancelled")
		return
	}

	t.replaceAll(points)
	t.builtFrom = ds.FetchedAt

	d := time.Since(start)
	metrics.ObserveTrackRebuild(d)
	t.logger.Info("ground track rebuild complete",
		"duration_ms", d.Milliseconds(),
		"points", len(points),
	)
}
