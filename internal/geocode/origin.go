package geocode

import (
	"context"
	"log/slog"
	"time"

	"github.com/star/isswatch/internal/transform"
)

// DefaultOrigin is used when no other source yields a location (Seattle).
var DefaultOrigin = transform.GeoPoint{Latitude: 47.608013, Longitude: -122.335167}

// Forwarder resolves a free-text place to coordinates.
type Forwarder interface {
	Search(ctx context.Context, query string) (transform.GeoPoint, error)
}

// Locator estimates the user's own position.
type Locator interface {
	Locate(ctx context.Context) (transform.GeoPoint, string, error)
}

// OriginConfig lists the ways the user's location can be given.
type OriginConfig struct {
	City      string
	Latitude  *float64
	Longitude *float64
	LocateIP  bool
	Timeout   time.Duration
}

// ResolveOrigin picks the user's location: a configured city first, then
// explicit coordinates, then the IP locator, then DefaultOrigin. Every
// failure falls through to the next source. The second return value names
// the source that won.
func ResolveOrigin(ctx context.Context, cfg OriginConfig, fwd Forwarder, loc Locator, logger *slog.Logger) (transform.GeoPoint, string) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	if cfg.City != "" && fwd != nil {
		cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		p, err := fwd.Search(cctx, cfg.City)
		cancel()
		if err == nil {
			logger.Info("origin from city", "city", cfg.City, "latitude", p.Latitude, "longitude", p.Longitude)
			return p, "city"
		}
		logger.Warn("city lookup failed", "city", cfg.City, "error", err)
	}

	if cfg.Latitude != nil && cfg.Longitude != nil {
		return transform.GeoPoint{Latitude: *cfg.Latitude, Longitude: *cfg.Longitude}, "config"
	}

	if cfg.LocateIP && loc != nil {
		cctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		p, label, err := loc.Locate(cctx)
		cancel()
		if err == nil {
			logger.Info("origin from IP", "place", label, "latitude", p.Latitude, "longitude", p.Longitude)
			return p, "ip"
		}
		logger.Warn("IP location failed", "error", err)
	}

	return DefaultOrigin, "default"
}
