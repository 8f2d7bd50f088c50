package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/star/isswatch/internal/camera"
	"github.com/star/isswatch/internal/geocode"
	"github.com/star/isswatch/internal/httputil"
	"github.com/star/isswatch/internal/passes"
	"github.com/star/isswatch/internal/propagation"
	"github.com/star/isswatch/internal/telemetry"
	"github.com/star/isswatch/internal/tle"
	"github.com/star/isswatch/internal/track"
	"github.com/star/isswatch/internal/transform"
)

// Telemetry is what the API needs from telemetry.Sync.
type Telemetry interface {
	Snapshot() *telemetry.Snapshot
	Metrics() telemetry.Metrics
	Location() string
	Origin() transform.GeoPoint
	SetOrigin(p transform.GeoPoint)
}

// Camera is what the API needs from camera.Director.
type Camera interface {
	Viewpoint() camera.Viewpoint
	State() camera.TrackingState
	RequestFocus(target transform.GeoPoint, altitude telemetry.Reading)
	SetTracking(on bool)
}

// Forwarder resolves a place name to coordinates.
type Forwarder interface {
	Search(ctx context.Context, query string) (transform.GeoPoint, error)
}

const (
	maxRequestBytes = 4 << 10
	geocodeTimeout  = 10 * time.Second
)

type snapshotResponse struct {
	Snapshot *telemetry.Snapshot `json:"snapshot"`
	StaleMs  int64               `json:"stale_ms"`
	Location string              `json:"location"`
	Origin   transform.GeoPoint  `json:"origin"`
}

// GET /api/v1/snapshot
func snapshotHandler(tel Telemetry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if tel == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "telemetry not configured")
			return
		}
		snap := tel.Snapshot()
		if snap == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "no telemetry received yet")
			return
		}
		m := tel.Metrics()
		httputil.WriteJSON(w, http.StatusOK, snapshotResponse{
			Snapshot: snap,
			StaleMs:  m.Staleness.Milliseconds(),
			Location: tel.Location(),
			Origin:   tel.Origin(),
		})
	}
}

type cameraResponse struct {
	Viewpoint camera.Viewpoint       `json:"viewpoint"`
	Position  transform.SpatialPoint `json:"position"`
	State     camera.TrackingState   `json:"state"`
}

// GET /api/v1/camera
func cameraHandler(cam Camera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cam == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "camera not configured")
			return
		}
		v := cam.Viewpoint()
		httputil.WriteJSON(w, http.StatusOK, cameraResponse{
			Viewpoint: v,
			Position:  v.Position(),
			State:     cam.State(),
		})
	}
}

type focusRequest struct {
	Latitude   *float64 `json:"latitude"`
	Longitude  *float64 `json:"longitude"`
	AltitudeKm *float64 `json:"altitude_km"`
}

// POST /api/v1/focus
//
// An empty body focuses the satellite (or the user before the first
// snapshot); a body with coordinates focuses that point.
func focusHandler(logger *slog.Logger, cam Camera, focus func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cam == nil || focus == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "camera not configured")
			return
		}

		var req focusRequest
		empty, err := decodeBody(r, &req)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}

		switch {
		case empty || (req.Latitude == nil && req.Longitude == nil):
			focus()
		case req.Latitude == nil || req.Longitude == nil:
			httputil.WriteError(w, http.StatusBadRequest, "latitude and longitude must be given together")
			return
		default:
			target := transform.GeoPoint{Latitude: *req.Latitude, Longitude: *req.Longitude}
			if err := validatePoint(target); err != nil {
				httputil.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			var alt telemetry.Reading
			if req.AltitudeKm != nil {
				if a := *req.AltitudeKm; a < 0 || math.IsNaN(a) || math.IsInf(a, 0) {
					httputil.WriteError(w, http.StatusBadRequest, "altitude_km must be a non-negative number")
					return
				}
				alt = telemetry.Known(*req.AltitudeKm)
			}
			cam.RequestFocus(target, alt)
		}

		logger.Info("focus requested via api", "remote_ip", r.RemoteAddr)
		httputil.WriteJSON(w, http.StatusAccepted, cam.State())
	}
}

type trackingRequest struct {
	Enabled *bool `json:"enabled"`
}

// POST /api/v1/camera/tracking
//
// {"enabled": true} stops the idle drift; false resumes it.
func trackingHandler(logger *slog.Logger, cam Camera) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cam == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "camera not configured")
			return
		}

		var req trackingRequest
		if _, err := decodeBody(r, &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Enabled == nil {
			httputil.WriteError(w, http.StatusBadRequest, "enabled is required")
			return
		}

		cam.SetTracking(*req.Enabled)
		logger.Info("camera tracking set via api", "enabled", *req.Enabled, "remote_ip", r.RemoteAddr)
		httputil.WriteJSON(w, http.StatusOK, cam.State())
	}
}

type originRequest struct {
	City      string   `json:"city"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type originResponse struct {
	Origin transform.GeoPoint `json:"origin"`
	Source string             `json:"source,omitempty"`
}

// GET /api/v1/origin
func originGetHandler(tel Telemetry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if tel == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "telemetry not configured")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, originResponse{Origin: tel.Origin()})
	}
}

// POST /api/v1/origin
//
// Body is {"city": "..."} or {"latitude": .., "longitude": ..}. A city with
// no geocode match leaves the origin unchanged.
func originSetHandler(logger *slog.Logger, tel Telemetry, fwd Forwarder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if tel == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "telemetry not configured")
			return
		}

		var req originRequest
		empty, err := decodeBody(r, &req)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		if empty {
			httputil.WriteError(w, http.StatusBadRequest, "request body required")
			return
		}

		var (
			p      transform.GeoPoint
			source string
		)
		switch {
		case strings.TrimSpace(req.City) != "":
			if fwd == nil {
				httputil.WriteError(w, http.StatusServiceUnavailable, "geocoder not configured")
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), geocodeTimeout)
			defer cancel()
			p, err = fwd.Search(ctx, req.City)
			if errors.Is(err, geocode.ErrNoResult) {
				httputil.WriteError(w, http.StatusNotFound, "no match for city")
				return
			}
			if err != nil {
				logger.Warn("forward geocode failed", "city", req.City, "error", err)
				httputil.WriteError(w, http.StatusBadGateway, "geocoder unavailable")
				return
			}
			source = "city"
		case req.Latitude != nil && req.Longitude != nil:
			p = transform.GeoPoint{Latitude: *req.Latitude, Longitude: *req.Longitude}
			if err := validatePoint(p); err != nil {
				httputil.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
			source = "coordinates"
		default:
			httputil.WriteError(w, http.StatusBadRequest, "city or latitude and longitude required")
			return
		}

		tel.SetOrigin(p)
		logger.Info("origin updated", "latitude", p.Latitude, "longitude", p.Longitude, "source", source)
		httputil.WriteJSON(w, http.StatusOK, originResponse{Origin: p, Source: source})
	}
}

type tleResponse struct {
	*tle.Dataset
	AgeSeconds int `json:"age_seconds"`
}

// GET /api/v1/tle
func tleHandler(store *tle.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "element set not in use")
			return
		}
		ds := store.Get()
		if ds == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "no element set loaded")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, tleResponse{
			Dataset:    ds,
			AgeSeconds: int(time.Since(ds.FetchedAt).Seconds()),
		})
	}
}

type passesResponse struct {
	Observer transform.GeoPoint `json:"observer"`
	NORADID  int                `json:"norad_id"`
	Passes   []passes.PassEvent `json:"passes"`
}

// GET /api/v1/passes?hours=24&min_elevation=10&max=10
func passesHandler(logger *slog.Logger, tel Telemetry, source *propagation.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if tel == nil || source == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "pass prediction not configured")
			return
		}

		q := r.URL.Query()
		hours, err := queryFloat(q.Get("hours"), 24, 1, passes.MaxHorizon.Hours())
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid hours parameter: "+err.Error())
			return
		}
		minEl, err := queryFloat(q.Get("min_elevation"), 10, 0, 90)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid min_elevation parameter: "+err.Error())
			return
		}
		maxPasses, err := queryFloat(q.Get("max"), passes.DefaultMaxPasses, 1, passes.MaxPasses)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid max parameter: "+err.Error())
			return
		}

		prop, err := source.Propagator()
		if errors.Is(err, propagation.ErrNoDataset) {
			httputil.WriteError(w, http.StatusServiceUnavailable, "no element set loaded")
			return
		}
		if err != nil {
			logger.Error("propagator unavailable", "error", err)
			httputil.WriteError(w, http.StatusInternalServerError, "propagator unavailable")
			return
		}

		origin := tel.Origin()
		found, err := passes.Predict(r.Context(), prop, passes.Request{
			Observer:     origin,
			Start:        time.Now().UTC(),
			Horizon:      time.Duration(hours * float64(time.Hour)),
			MinElevation: minEl,
			MaxPasses:    int(maxPasses),
		})
		if err != nil {
			// Client went away.
			logger.Debug("pass prediction interrupted", "error", err)
			return
		}

		httputil.WriteJSON(w, http.StatusOK, passesResponse{
			Observer: origin,
			NORADID:  prop.Element().NORADID,
			Passes:   found,
		})
	}
}

type trackResponse struct {
	Stats  track.Stats   `json:"stats"`
	Points []track.Point `json:"points"`
}

// GET /api/v1/track?minutes=95
func trackHandler(tr *track.Track) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if tr == nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "ground track not configured")
			return
		}

		minutes, err := queryFloat(r.URL.Query().Get("minutes"), 95, 1, 24*60)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid minutes parameter: "+err.Error())
			return
		}

		points := tr.Ahead(time.Now(), time.Duration(minutes*float64(time.Minute)))
		if len(points) == 0 {
			httputil.WriteError(w, http.StatusServiceUnavailable, "ground track not ready")
			return
		}
		httputil.WriteJSON(w, http.StatusOK, trackResponse{Stats: tr.Stats(), Points: points})
	}
}

// decodeBody decodes a small JSON body into v. It reports empty=true for a
// request without a body.
func decodeBody(r *http.Request, v any) (empty bool, err error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		return false, errors.New("invalid JSON body")
	}
	return false, nil
}

func validatePoint(p transform.GeoPoint) error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return errors.New("latitude must be within [-90, 90]")
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return errors.New("longitude must be within [-180, 180]")
	}
	return nil
}

func queryFloat(s string, def, lo, hi float64) (float64, error) {
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.New("not a number")
	}
	if v < lo || v > hi {
		return 0, errors.New("out of range " + strconv.FormatFloat(lo, 'f', -1, 64) + "-" + strconv.FormatFloat(hi, 'f', -1, 64))
	}
	return v, nil
}
