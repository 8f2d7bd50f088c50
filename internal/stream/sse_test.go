package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/star/isswatch/internal/telemetry"
	"github.com/star/isswatch/internal/tle"
	"github.com/star/isswatch/internal/transform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

func testStore() *tle.Store {
	store := tle.NewStore()
	store.Set(&tle.Dataset{
		Source:    "test",
		FetchedAt: time.Date(2026, 2, 6, 3, 45, 0, 0, time.UTC),
		Element: tle.Element{
			NORADID: 25544,
			Name:    "ISS (ZARYA)",
			Epoch:   time.Date(2026, 2, 6, 1, 0, 0, 0, time.UTC),
		},
	})
	return store
}

type fakeSource struct {
	snap *telemetry.Snapshot
}

func (f fakeSource) Snapshot() *telemetry.Snapshot { return f.snap }
func (f fakeSource) Metrics() telemetry.Metrics {
	return telemetry.Metrics{DistanceKm: 1234.5, Direction: telemetry.DirectionAway, Staleness: 2500 * time.Millisecond}
}
func (f fakeSource) Location() string { return "Pacific Ocean" }
func (f fakeSource) Origin() transform.GeoPoint {
	return transform.GeoPoint{Latitude: 47.608013, Longitude: -122.335167}
}

func testSnapshot() *telemetry.Snapshot {
	return &telemetry.Snapshot{
		ID:         "25544",
		Source:     "api",
		Position:   transform.GeoPoint{Latitude: 12.5, Longitude: -150.25},
		Altitude:   telemetry.Known(417.9),
		Visibility: telemetry.VisibilityEclipsed,
		ObservedAt: time.Date(2026, 2, 6, 4, 0, 0, 0, time.UTC),
	}
}

func testConfig() Config {
	return Config{
		MaxConcurrentPerIP: 10,
		KeepaliveInterval:  30 * time.Second,
	}
}

// TestBuildTelemetryMessage verifies the telemetry payload structure.
func TestBuildTelemetryMessage(t *testing.T) {
	src := fakeSource{snap: testSnapshot()}
	at := time.Date(2026, 2, 6, 4, 0, 3, 0, time.UTC)

	msg := buildTelemetryMessage(at, src.snap, src.Metrics(), src.Location())

	if msg.Type != "telemetry" {
		t.Errorf("type = %q, want %q", msg.Type, "telemetry")
	}
	if msg.T != "2026-02-06T04:00:03Z" {
		t.Errorf("t = %q, want %q", msg.T, "2026-02-06T04:00:03Z")
	}
	if msg.StaleMs != 2500 {
		t.Errorf("stale_ms = %d, want 2500", msg.StaleMs)
	}
	if msg.Position.Longitude != -150.25 {
		t.Errorf("longitude = %v, want -150.25", msg.Position.Longitude)
	}
}

// TestTelemetryMessageJSON checks the field encodings clients rely on.
func TestTelemetryMessageJSON(t *testing.T) {
	src := fakeSource{snap: testSnapshot()}
	msg := buildTelemetryMessage(time.Unix(0, 0), src.snap, src.Metrics(), src.Location())

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatal(err)
	}

	if parsed["direction"] != "AWAY" {
		t.Errorf("direction = %v, want AWAY", parsed["direction"])
	}
	if parsed["visibility"] != "eclipsed" {
		t.Errorf("visibility = %v, want eclipsed", parsed["visibility"])
	}
	if parsed["altitude_km"].(float64) != 417.9 {
		t.Errorf("altitude_km = %v, want 417.9", parsed["altitude_km"])
	}
	if v, ok := parsed["velocity_kmh"]; !ok || v != nil {
		t.Errorf("velocity_kmh = %v, want null", v)
	}
	if parsed["location"] != "Pacific Ocean" {
		t.Errorf("location = %v", parsed["location"])
	}
}

// TestMetadataMessage verifies the metadata message with and without an element set.
func TestMetadataMessage(t *testing.T) {
	h := NewHandler(fakeSource{}, testStore(), testConfig(), testLogger())
	meta := h.metadata(time.Date(2026, 2, 6, 4, 15, 0, 0, time.UTC))

	if meta.TLEEpoch != "2026-02-06T01:00:00Z" {
		t.Errorf("tle_epoch = %q", meta.TLEEpoch)
	}
	if meta.TLEAge == nil || *meta.TLEAge != 1800 {
		t.Errorf("tle_age_seconds = %v, want 1800", meta.TLEAge)
	}
	if meta.Origin.Latitude != 47.608013 {
		t.Errorf("origin = %+v", meta.Origin)
	}

	bare := NewHandler(fakeSource{}, nil, testConfig(), testLogger()).metadata(time.Now())
	if bare.TLEAge != nil || bare.TLEEpoch != "" {
		t.Errorf("metadata without store = %+v", bare)
	}
}

// TestSSEMessageFormat verifies the SSE wire format: "data: {json}\n\n".
func TestSSEMessageFormat(t *testing.T) {
	handler := NewHandler(fakeSource{snap: testSnapshot()}, testStore(), Config{
		MaxConcurrentPerIP: 10,
		KeepaliveInterval:  5 * time.Second,
	}, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/telemetry?step=1", nil)
	req.RemoteAddr = "127.0.0.1:12345"

	// Long enough for one telemetry tick.
	ctx, cancel := context.WithTimeout(req.Context(), 1500*time.Millisecond)
	defer cancel()
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	handler.HandleTelemetry(w, req)

	resp := w.Result()

	if resp.Header.Get("Content-Type") != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("Cache-Control") != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", resp.Header.Get("Cache-Control"))
	}

	body := w.Body.String()
	scanner := bufio.NewScanner(strings.NewReader(body))
	var types []string

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			var msg map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg); err != nil {
				t.Errorf("invalid JSON in SSE data line: %v", err)
				continue
			}
			types = append(types, msg["type"].(string))
		}
	}

	if len(types) < 2 {
		t.Fatalf("got messages %v, want metadata then telemetry", types)
	}
	if types[0] != "metadata" {
		t.Errorf("first message = %q, want metadata", types[0])
	}
	if types[1] != "telemetry" {
		t.Errorf("second message = %q, want telemetry", types[1])
	}

	// Lines should be "data: ...", "retry: ...", ":" (keepalive) or empty.
	for _, line := range strings.Split(body, "\n") {
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data: ") && !strings.HasPrefix(line, "retry: ") && line != ":" {
			t.Errorf("unexpected SSE line: %q", line)
		}
	}
}

// TestNoSnapshotSendsOnlyMetadata verifies ticks are skipped before the first snapshot.
func TestNoSnapshotSendsOnlyMetadata(t *testing.T) {
	handler := NewHandler(fakeSource{}, nil, testConfig(), testLogger())

	req := httptest.NewRequest("GET", "/api/v1/stream/telemetry?step=1", nil)
	ctx, cancel := context.WithTimeout(req.Context(), 1200*time.Millisecond)
	defer cancel()
	w := httptest.NewRecorder()
	handler.HandleTelemetry(w, req.WithContext(ctx))

	if n := strings.Count(w.Body.String(), "data: "); n != 1 {
		t.Errorf("data messages = %d, want 1", n)
	}
}

func TestSlotsPerIP(t *testing.T) {
	s := newSlots(3, 0)

	var releases []func()
	for i := 0; i < 3; i++ {
		release, refused := s.take("10.0.0.1")
		if release == nil {
			t.Fatalf("take %d refused: %s", i+1, refused)
		}
		releases = append(releases, release)
	}

	if release, refused := s.take("10.0.0.1"); release != nil || refused != refusedPerIP {
		t.Errorf("take beyond limit: refused = %q, want %q", refused, refusedPerIP)
	}
	if release, _ := s.take("10.0.0.2"); release == nil {
		t.Error("different IP should not be limited")
	}

	releases[0]()
	releases[0]() // second call is a no-op
	if release, _ := s.take("10.0.0.1"); release == nil {
		t.Error("take after release should succeed")
	}

	held, total := s.usage("10.0.0.1")
	if held != 3 || total != 4 {
		t.Errorf("usage = (%d, %d), want (3, 4)", held, total)
	}
}

func TestSlotsGlobalCap(t *testing.T) {
	s := newSlots(10, 2)
	a, _ := s.take("a")
	b, _ := s.take("b")
	if a == nil || b == nil {
		t.Fatal("first two takes should succeed")
	}
	if release, refused := s.take("c"); release != nil || refused != refusedGlobal {
		t.Errorf("take beyond global cap: refused = %q, want %q", refused, refusedGlobal)
	}
	a()
	if release, _ := s.take("c"); release == nil {
		t.Error("take after a release should succeed")
	}
}

func TestSlotsConcurrent(t *testing.T) {
	s := newSlots(100, 0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if release, _ := s.take("10.0.0.1"); release != nil {
				defer release()
				time.Sleep(10 * time.Millisecond)
			}
		}()
	}
	wg.Wait()

	if held, total := s.usage("10.0.0.1"); held != 0 || total != 0 {
		t.Errorf("usage after all released = (%d, %d), want (0, 0)", held, total)
	}
	if len(s.byIP) != 0 {
		t.Errorf("byIP has %d stale entries", len(s.byIP))
	}
}

// TestRateLimitHTTPResponse verifies 429 response when limit exceeded.
func TestRateLimitHTTPResponse(t *testing.T) {
	handler := NewHandler(fakeSource{snap: testSnapshot()}, testStore(), Config{
		MaxConcurrentPerIP: 1,
		KeepaliveInterval:  30 * time.Second,
	}, testLogger())

	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest("GET", "/api/v1/stream/telemetry", nil)
		req.RemoteAddr = "10.0.0.1:12345"
		ctx, cancel := context.WithCancel(req.Context())
		req = req.WithContext(ctx)
		w := httptest.NewRecorder()

		go func() {
			time.Sleep(50 * time.Millisecond)
			close(ready)
			time.Sleep(200 * time.Millisecond)
			cancel()
		}()

		handler.HandleTelemetry(w, req)
	}()

	<-ready

	req := httptest.NewRequest("GET", "/api/v1/stream/telemetry", nil)
	req.RemoteAddr = "10.0.0.1:54321"
	w := httptest.NewRecorder()
	handler.HandleTelemetry(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}

	<-done
}

// TestInvalidQueryParams verifies error responses for bad step values.
func TestInvalidQueryParams(t *testing.T) {
	handler := NewHandler(fakeSource{}, testStore(), testConfig(), testLogger())

	tests := []struct {
		name  string
		query string
	}{
		{"bad step", "?step=0"},
		{"step too large", "?step=100"},
		{"step non-numeric", "?step=abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/stream/telemetry"+tt.query, nil)
			req.RemoteAddr = "127.0.0.1:12345"
			w := httptest.NewRecorder()
			handler.HandleTelemetry(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
			}
		})
	}
}

func TestEventWriterFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	out := newEventWriter(rec, rec, "10.0.0.1", testLogger())

	if err := out.retry(4500 * time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if err := out.event(map[string]int{"n": 1}); err != nil {
		t.Fatal(err)
	}
	if err := out.keepalive(); err != nil {
		t.Fatal(err)
	}

	want := "retry: 4500\n\ndata: {\"n\":1}\n\n:\n\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if out.events != 1 {
		t.Errorf("events = %d, want 1", out.events)
	}
	if out.sent != int64(len(want)) {
		t.Errorf("sent = %d, want %d", out.sent, len(want))
	}
}
