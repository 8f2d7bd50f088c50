// Package stream implements Server-Sent Events (SSE) streaming of the live
// telemetry. Clients connect via GET /api/v1/stream/telemetry and receive
// the latest snapshot with staleness recomputed on every step.
//
// SSE message format:
//
//	data: {"type":"telemetry","t":"2026-02-06T04:00:00Z","position":{...},"distance_km":1234.5,...}\n\n
//
// First message is always metadata:
//
//	data: {"type":"metadata","origin":{...},"tle_epoch":"...","tle_age_seconds":1800}\n\n
//
// Keep-alive comments (:\n\n) are sent every KeepaliveInterval to prevent timeout.
// Reconnecting clients receive a fresh metadata message on each connection.
package stream

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/star/isswatch/internal/httputil"
	"github.com/star/isswatch/internal/metrics"
	"github.com/star/isswatch/internal/telemetry"
	"github.com/star/isswatch/internal/tle"
	"github.com/star/isswatch/internal/transform"
)

// Config holds streaming configuration.
type Config struct {
	MaxConcurrentPerIP int           `yaml:"max_concurrent_per_ip"` // default: 10
	MaxConcurrent      int           `yaml:"max_concurrent"`        // default: 1000
	KeepaliveInterval  time.Duration `yaml:"keepalive_interval"`    // default: 30s
	TrustProxy         bool          `yaml:"trust_proxy"`
}

// Source is the read side of the telemetry sync.
type Source interface {
	Snapshot() *telemetry.Snapshot
	Metrics() telemetry.Metrics
	Location() string
	Origin() transform.GeoPoint
}

// Handler manages SSE streaming connections.
type Handler struct {
	source  Source
	store   *tle.Store
	config  Config
	slots   *slots
	logger  *slog.Logger
}

// NewHandler creates a new streaming handler. store may be nil when the
// element set is not in use.
func NewHandler(source Source, store *tle.Store, config Config, logger *slog.Logger) *Handler {
	if config.MaxConcurrentPerIP <= 0 {
		config.MaxConcurrentPerIP = 10
	}
	if config.KeepaliveInterval <= 0 {
		config.KeepaliveInterval = 30 * time.Second
	}
	return &Handler{
		source:  source,
		store:   store,
		config:  config,
		slots:   newSlots(config.MaxConcurrentPerIP, config.MaxConcurrent),
		logger:  logger,
	}
}

// HandleTelemetry serves the SSE telemetry stream.
// GET /api/v1/stream/telemetry?step=1
func (h *Handler) HandleTelemetry(w http.ResponseWriter, r *http.Request) {
	step := 1
	if v := r.URL.Query().Get("step"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 60 {
			httputil.WriteError(w, http.StatusBadRequest, "invalid step parameter, must be 1-60")
			return
		}
		step = n
	}

	ip := httputil.ClientIP(r, h.config.TrustProxy)
	release, refused := h.slots.take(ip)
	if release == nil {
		held, total := h.slots.usage(ip)
		metrics.IncStreamErrors(refused)
		h.logger.Warn("stream refused",
			"remote_ip", ip,
			"reason", refused,
			"held", held,
			"total", total,
		)
		w.Header().Set("Retry-After", "30")
		httputil.WriteError(w, http.StatusTooManyRequests, "too many concurrent streams")
		return
	}
	defer release()

	metrics.IncStreamConnections("connect")
	metrics.IncStreamsActive()

	connected := time.Now()
	h.logger.Info("stream connected",
		"remote_ip", ip,
		"user_agent", r.Header.Get("User-Agent"),
		"step", step,
	)

	var out *eventWriter
	defer func() {
		metrics.IncStreamConnections("disconnect")
		metrics.DecStreamsActive()
		attrs := []any{"remote_ip", ip, "duration_seconds", int(time.Since(connected).Seconds())}
		if out != nil {
			attrs = append(attrs, "events", out.events, "bytes", out.sent)
		}
		h.logger.Info("stream disconnected", attrs...)
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering.
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	out = newEventWriter(w, flusher, ip, h.logger)
	if err := out.rc.SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Debug("could not clear write deadline", "error", err)
	}

	// Spread reconnects over 3-7s after a restart.
	if err := out.retry(time.Duration(3000+rand.Intn(4000)) * time.Millisecond); err != nil {
		metrics.IncStreamErrors("send_error")
		return
	}
	if err := out.event(h.metadata(time.Now())); err != nil {
		metrics.IncStreamErrors("send_error")
		h.logger.Warn("stream send error (metadata)", "remote_ip", ip, "error", err)
		return
	}

	ticker := time.NewTicker(time.Duration(step) * time.Second)
	defer ticker.Stop()

	keepaliveTicker := time.NewTicker(h.config.KeepaliveInterval)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case t := <-ticker.C:
			snap := h.source.Snapshot()
			if snap == nil {
				metrics.IncStreamErrors("no_snapshot")
				continue
			}

			data, err := json.Marshal(buildTelemetryMessage(t, snap, h.source.Metrics(), h.source.Location()))
			if err != nil {
				metrics.IncStreamErrors("marshal_error")
				h.logger.Warn("stream marshal error", "remote_ip", ip, "error", err)
				continue
			}
			if err := out.data(data); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream send error", "remote_ip", ip, "error", err)
				return
			}

			keepaliveTicker.Reset(h.config.KeepaliveInterval)

		case <-keepaliveTicker.C:
			if err := out.keepalive(); err != nil {
				metrics.IncStreamErrors("send_error")
				h.logger.Warn("stream keepalive error", "remote_ip", ip, "error", err)
				return
			}
		}
	}
}

func (h *Handler) metadata(now time.Time) metadataMessage {
	meta := metadataMessage{
		Type:   "metadata",
		Origin: h.source.Origin(),
	}
	if h.store == nil {
		return meta
	}
	if ds := h.store.Get(); ds != nil {
		meta.TLEEpoch = ds.Element.Epoch.UTC().Format(time.RFC3339)
		age := int(now.Sub(ds.FetchedAt).Seconds())
		meta.TLEAge = &age
	}
	return meta
}

// buildTelemetryMessage formats a snapshot into the SSE payload.
func buildTelemetryMessage(t time.Time, snap *telemetry.Snapshot, m telemetry.Metrics, location string) telemetryMessage {
	return telemetryMessage{
		Type:       "telemetry",
		T:          t.UTC().Format(time.RFC3339),
		ID:         snap.ID,
		Source:     snap.Source,
		Position:   snap.Position,
		Altitude:   snap.Altitude,
		Velocity:   snap.Velocity,
		Footprint:  snap.Footprint,
		Visibility: snap.Visibility,
		ObservedAt: snap.ObservedAt.UTC().Format(time.RFC3339),
		StaleMs:    m.Staleness.Milliseconds(),
		DistanceKm: m.DistanceKm,
		Direction:  m.Direction,
		Location:   location,
		Look:       m.Look,
	}
}

// SSE message payload types.

type metadataMessage struct {
	Type     string             `json:"type"`
	Origin   transform.GeoPoint `json:"origin"`
	TLEEpoch string             `json:"tle_epoch,omitempty"`
	TLEAge   *int               `json:"tle_age_seconds,omitempty"`
}

type telemetryMessage struct {
	Type       string                `json:"type"`
	T          string                `json:"t"`
	ID         string                `json:"id,omitempty"`
	Source     string                `json:"source,omitempty"`
	Position   transform.GeoPoint    `json:"position"`
	Altitude   telemetry.Reading     `json:"altitude_km"`
	Velocity   telemetry.Reading     `json:"velocity_kmh"`
	Footprint  telemetry.Reading     `json:"footprint_km"`
	Visibility telemetry.Visibility  `json:"visibility"`
	ObservedAt string                `json:"observed_at"`
	StaleMs    int64                 `json:"stale_ms"`
	DistanceKm float64               `json:"distance_km"`
	Direction  telemetry.Direction   `json:"direction"`
	Location   string                `json:"location"`
	Look       *transform.LookAngles `json:"look,omitempty"`
}
