package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isswatch_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "isswatch_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isswatch_polls_total",
			Help: "Position polls by result.",
		},
		[]string{"result"},
	)

	geocodeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isswatch_geocode_total",
			Help: "Reverse geocode lookups by outcome (applied, empty, error, discarded, cache_hit).",
		},
		[]string{"result"},
	)

	snapshotAgeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "isswatch_snapshot_age_seconds",
		Help: "Seconds since the observation time of the current telemetry snapshot.",
	})

	distanceKm = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "isswatch_distance_km",
		Help: "Pseudo-distance between the satellite sub-point and the user origin.",
	})

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isswatch_camera_transitions_total",
			Help: "Camera focus transitions by event (started, cancelled, completed).",
		},
		[]string{"event"},
	)

	framesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "isswatch_frames_total",
		Help: "Frames coordinated.",
	})

	tleAgeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "isswatch_tle_age_seconds",
		Help: "Seconds since the element set in use was fetched.",
	})

	tleRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isswatch_tle_refresh_total",
			Help: "Element set refresh attempts by result.",
		},
		[]string{"result"},
	)

	propagationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "isswatch_propagation_seconds",
			Help:    "SGP4 propagation latency.",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		},
		[]string{"result"},
	)

	trackPoints = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "isswatch_track_points",
		Help: "Predicted ground track points held in memory.",
	})

	trackErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "isswatch_track_errors_total",
		Help: "Ground track points that failed to propagate.",
	})

	trackRebuildSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "isswatch_track_rebuild_seconds",
		Help:    "Time to rebuild the ground track after an element set change.",
		Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
	})

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isswatch_stream_connections_total",
			Help: "SSE connection events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "isswatch_streams_active",
		Help: "Open SSE streams.",
	})

	streamMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "isswatch_stream_messages_total",
		Help: "SSE data messages sent.",
	})

	streamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "isswatch_stream_bytes_total",
		Help: "Bytes written to SSE streams.",
	})

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "isswatch_stream_errors_total",
			Help: "SSE errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		pollsTotal,
		geocodeTotal,
		snapshotAgeSeconds,
		distanceKm,
		transitionsTotal,
		framesTotal,
		tleAgeSeconds,
		tleRefreshTotal,
		propagationSeconds,
		trackPoints,
		trackErrorsTotal,
		trackRebuildSeconds,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncPolls counts a position poll outcome.
func IncPolls(result string) { pollsTotal.WithLabelValues(result).Inc() }

// IncGeocode counts a reverse geocode outcome.
func IncGeocode(result string) { geocodeTotal.WithLabelValues(result).Inc() }

// SetSnapshotAge records the staleness of the current snapshot.
func SetSnapshotAge(seconds float64) { snapshotAgeSeconds.Set(seconds) }

// SetDistance records the latest pseudo-distance.
func SetDistance(km float64) { distanceKm.Set(km) }

// IncTransitions counts a camera transition event.
func IncTransitions(event string) { transitionsTotal.WithLabelValues(event).Inc() }

// IncFrames counts one coordinated frame.
func IncFrames() { framesTotal.Inc() }

// SetTLEAge records the age of the element set in use.
func SetTLEAge(seconds float64) { tleAgeSeconds.Set(seconds) }

// IncTLERefresh counts an element set refresh outcome.
func IncTLERefresh(result string) { tleRefreshTotal.WithLabelValues(result).Inc() }

// ObservePropagation records one SGP4 propagation.
func ObservePropagation(d time.Duration, ok bool) {
	result := "success"
	if !ok {
		result = "error"
	}
	propagationSeconds.WithLabelValues(result).Observe(d.Seconds())
}

// SetTrackPoints records the ground track size.
func SetTrackPoints(n int) { trackPoints.Set(float64(n)) }

// IncTrackErrors counts a ground track point that failed to propagate.
func IncTrackErrors() { trackErrorsTotal.Inc() }

// ObserveTrackRebuild records a ground track rebuild.
func ObserveTrackRebuild(d time.Duration) { trackRebuildSeconds.Observe(d.Seconds()) }

// IncStreamConnections counts a connect or disconnect.
func IncStreamConnections(event string) { streamConnectionsTotal.WithLabelValues(event).Inc() }

// IncStreamsActive increments the open stream gauge.
func IncStreamsActive() { streamsActive.Inc() }

// DecStreamsActive decrements the open stream gauge.
func DecStreamsActive() { streamsActive.Dec() }

// IncStreamMessages counts one SSE data message.
func IncStreamMessages() { streamMessagesTotal.Inc() }

// AddStreamBytes adds to the SSE byte counter.
func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }

// IncStreamErrors counts an SSE error.
func IncStreamErrors(reason string) { streamErrorsTotal.WithLabelValues(reason).Inc() }

// knownRoutes are exact paths reported under their own label.
var knownRoutes = map[string]bool{
	"/":                        true,
	"/healthz":                 true,
	"/readyz":                  true,
	"/metrics":                 true,
	"/api/v1/snapshot":         true,
	"/api/v1/camera":           true,
	"/api/v1/camera/tracking":  true,
	"/api/v1/focus":            true,
	"/api/v1/passes":           true,
	"/api/v1/tle":              true,
	"/api/v1/origin":           true,
	"/api/v1/track":            true,
	"/api/v1/stream/telemetry": true,
}

// normalizeRoute maps a request path to a bounded label set so scanners
// probing random paths cannot blow up series cardinality.
func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush passes through so SSE handlers behind this middleware can stream.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		route := normalizeRoute(r.URL.Path)
		httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rw.statusCode)).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
