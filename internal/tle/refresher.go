package tle

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/star/isswatch/internal/metrics"
)

// RefreshConfig controls how often the element set is renewed.
type RefreshConfig struct {
	NORADID  int
	MaxAge   time.Duration // refetch once the dataset is older than this
	CacheDir string
	MaxFiles int
}

// Refresher keeps a Store populated from a Fetcher, with a disk Cache to
// survive restarts.
type Refresher struct {
	fetcher *Fetcher
	cache   *Cache
	store   *Store
	cfg     RefreshConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewRefresher wires a Fetcher, Cache and Store together.
func NewRefresher(fetcher *Fetcher, store *Store, cfg RefreshConfig, logger *slog.Logger) *Refresher {
	if cfg.NORADID == 0 {
		cfg.NORADID = ISSNoradID
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 12 * time.Hour
	}
	var cache *Cache
	if cfg.CacheDir != "" {
		cache = NewCache(cfg.CacheDir, cfg.MaxFiles)
	}
	return &Refresher{
		fetcher: fetcher,
		cache:   cache,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Store returns the store this refresher populates.
func (r *Refresher) Store() *Store {
	return r.store
}

// LoadCached seeds the store from the newest cached payload.
func (r *Refresher) LoadCached() error {
	if r.cache == nil {
		return fmt.Errorf("tle cache disabled: %w", ErrNotFound)
	}
	data, ts, err := r.cache.LoadLatest()
	if err != nil {
		return err
	}
	e, err := r.extract(data)
	if err != nil {
		return fmt.Errorf("cached TLE: %w", err)
	}
	r.store.Set(&Dataset{Source: "cache", FetchedAt: ts, Element: e})
	r.logger.Info("loaded TLE from cache", "norad_id", e.NORADID, "epoch", e.Epoch.Format(time.RFC3339), "cached_at", ts.Format(time.RFC3339))
	return nil
}

// Refresh fetches, parses and publishes a new element set. The previous
// dataset stays in place on any failure.
func (r *Refresher) Refresh(ctx context.Context) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	data, err := r.fetcher.Fetch(ctx)
	if err != nil {
		metrics.IncTLERefresh("fetch_error")
		return err
	}
	e, err := r.extract(data)
	if err != nil {
		metrics.IncTLERefresh("parse_error")
		return err
	}

	now := r.now()
	r.store.Set(&Dataset{Source: r.fetcher.SourceURL(), FetchedAt: now, Element: e})
	metrics.IncTLERefresh("success")

	if r.cache != nil {
		if err := r.cache.Write(data, now); err != nil {
			r.logger.Warn("failed to write TLE cache", "error", err)
		}
	}

	r.logger.Info("TLE refreshed", "norad_id", e.NORADID, "name", e.Name, "epoch", e.Epoch.Format(time.RFC3339))
	return nil
}

// Start refreshes whenever the dataset is missing or older than MaxAge,
// checking once a minute until ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) {
	check := func() {
		age, ok := r.store.Age(r.now())
		if ok {
			metrics.SetTLEAge(age.Seconds())
			if age < r.cfg.MaxAge {
				return
			}
		}
		if err := r.Refresh(ctx); err != nil {
			r.logger.Warn("TLE refresh failed", "error", err)
		}
	}

	check()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			check()
		case <-ctx.Done():
			return
		}
	}
}

func (r *Refresher) extract(data []byte) (Element, error) {
	elements, err := Parse(bytes.NewReader(data), r.logger)
	if err != nil {
		return Element{}, err
	}
	e, err := Find(elements, r.cfg.NORADID)
	if err != nil {
		return Element{}, fmt.Errorf("NORAD %d: %w", r.cfg.NORADID, err)
	}
	return e, nil
}
