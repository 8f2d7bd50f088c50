package propagation

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/isswatch/internal/metrics"
	"github.com/star/isswatch/internal/tle"
)

// ErrNoDataset is returned when the store has no element set yet.
var ErrNoDataset = errors.New("no TLE dataset loaded")

type cachedModel struct {
	prop      *Propagator
	fetchedAt time.Time
}

// Source propagates whatever element set the store currently holds,
// rebuilding the SGP4 model only when the dataset changes.
type Source struct {
	store  *tle.Store
	logger *slog.Logger
	model  atomic.Pointer[cachedModel]
	mu     sync.Mutex // serializes model rebuilds
}

// NewSource creates a Source reading from store.
func NewSource(store *tle.Store, logger *slog.Logger) *Source {
	return &Source{store: store, logger: logger}
}

// Propagator returns the model for the current dataset.
func (s *Source) Propagator() (*Propagator, error) {
	ds := s.store.Get()
	if ds == nil {
		return nil, ErrNoDataset
	}
	if m := s.model.Load(); m != nil && m.fetchedAt.Equal(ds.FetchedAt) {
		return m.prop, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m := s.model.Load(); m != nil && m.fetchedAt.Equal(ds.FetchedAt) {
		return m.prop, nil
	}

	prop, err := New(ds.Element)
	if err != nil {
		return nil, err
	}
	s.model.Store(&cachedModel{prop: prop, fetchedAt: ds.FetchedAt})
	s.logger.Info("sgp4 model rebuilt",
		"norad_id", ds.Element.NORADID,
		"epoch", ds.Element.Epoch.UTC().Format(time.RFC3339),
		"dataset_fetched_at", ds.FetchedAt.UTC().Format(time.RFC3339),
	)
	return prop, nil
}

// Sample propagates the current dataset to t.
func (s *Source) Sample(t time.Time) (Sample, error) {
	prop, err := s.Propagator()
	if err != nil {
		return Sample{}, err
	}

	start := time.Now()
	sample, err := prop.Sample(t)
	metrics.ObservePropagation(time.Since(start), err == nil)
	if err != nil {
		return Sample{}, fmt.Errorf("propagating to %s: %w", t.UTC().Format(time.RFC3339), err)
	}
	return sample, nil
}
