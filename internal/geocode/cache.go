package geocode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/star/isswatch/internal/metrics"
	"github.com/star/isswatch/internal/transform"
)

// Reverser resolves a position to a place name.
type Reverser interface {
	Reverse(ctx context.Context, p transform.GeoPoint) (string, error)
}

// CachedReverse memoizes reverse lookups on a grid of roughly one
// kilometer. Empty results are cached too, so a satellite crossing an
// ocean does not hit the service every poll.
type CachedReverse struct {
	next  Reverser
	cache *expirable.LRU[string, string]
}

// NewCachedReverse wraps next with an LRU of size entries expiring after ttl.
func NewCachedReverse(next Reverser, size int, ttl time.Duration) *CachedReverse {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedReverse{
		next:  next,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func cacheKey(p transform.GeoPoint) string {
	return fmt.Sprintf("%.2f,%.2f", p.Latitude, p.Longitude)
}

// Reverse serves from the cache or forwards to the wrapped Reverser.
func (c *CachedReverse) Reverse(ctx context.Context, p transform.GeoPoint) (string, error) {
	key := cacheKey(p)
	if name, ok := c.cache.Get(key); ok {
		metrics.IncGeocode("cache_hit")
		if name == "" {
			return "", ErrNoResult
		}
		return name, nil
	}

	name, err := c.next.Reverse(ctx, p)
	switch {
	case errors.Is(err, ErrNoResult):
		c.cache.Add(key, "")
		return "", err
	case err != nil:
		return "", err
	}
	c.cache.Add(key, name)
	return name, nil
}

// Len returns the number of cached entries.
func (c *CachedReverse) Len() int {
	return c.cache.Len()
}
