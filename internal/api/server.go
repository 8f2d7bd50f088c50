package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/isswatch/internal/auth"
	"github.com/star/isswatch/internal/health"
	"github.com/star/isswatch/internal/metrics"
	"github.com/star/isswatch/internal/propagation"
	"github.com/star/isswatch/internal/stream"
	"github.com/star/isswatch/internal/tle"
	"github.com/star/isswatch/internal/track"
)

// Deps are the components the HTTP API reads from and drives. Nil optional
// dependencies disable their routes' functionality with a 503.
type Deps struct {
	Telemetry Telemetry
	Camera    Camera
	Focus     func()
	Geocoder  Forwarder
	TLE       *tle.Store
	Passes    *propagation.Source
	Stream    *stream.Handler
	Track     *track.Track
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           newHandler(logger, authCfg, deps),
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

func newHandler(logger *slog.Logger, authCfg auth.Config, deps Deps) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", health.Readyz(func() bool {
		return deps.Telemetry != nil && deps.Telemetry.Snapshot() != nil
	}))
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/v1/snapshot", snapshotHandler(deps.Telemetry))
	mux.HandleFunc("GET /api/v1/camera", cameraHandler(deps.Camera))
	mux.HandleFunc("POST /api/v1/focus", focusHandler(logger, deps.Camera, deps.Focus))
	mux.HandleFunc("POST /api/v1/camera/tracking", trackingHandler(logger, deps.Camera))
	mux.HandleFunc("GET /api/v1/origin", originGetHandler(deps.Telemetry))
	mux.HandleFunc("POST /api/v1/origin", originSetHandler(logger, deps.Telemetry, deps.Geocoder))
	mux.HandleFunc("GET /api/v1/tle", tleHandler(deps.TLE))
	mux.HandleFunc("GET /api/v1/passes", passesHandler(logger, deps.Telemetry, deps.Passes))
	mux.HandleFunc("GET /api/v1/track", trackHandler(deps.Track))
	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/stream/telemetry", deps.Stream.HandleTelemetry)
	}

	// Build middleware chain: metrics -> logging -> auth -> mux.
	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = metrics.Middleware(handler)
	return handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush lets SSE handlers stream through the recorder.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", r.RemoteAddr,
			)
		})
	}
}
