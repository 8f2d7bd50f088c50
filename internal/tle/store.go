package tle

import (
	"sync"
	"sync/atomic"
	"time"
)

// Store provides lock-free reads of the element set in use.
type Store struct {
	dataset atomic.Pointer[Dataset]
	mu      sync.Mutex // serializes refreshes
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current dataset, or nil if none has been loaded.
func (s *Store) Get() *Dataset {
	return s.dataset.Load()
}

// Set atomically replaces the current dataset.
func (s *Store) Set(ds *Dataset) {
	s.dataset.Store(ds)
}

// Age returns how long ago the current dataset was fetched, and false when
// nothing is loaded.
func (s *Store) Age(now time.Time) (time.Duration, bool) {
	ds := s.dataset.Load()
	if ds == nil {
		return 0, false
	}
	return now.Sub(ds.FetchedAt), true
}
