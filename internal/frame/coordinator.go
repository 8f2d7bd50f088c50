// Package frame joins the asynchronous telemetry with the synchronous render
// loop. Each frame reads the latest snapshot, projects the markers, formats
// the panel and steps the camera.
package frame

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/star/isswatch/internal/camera"
	"github.com/star/isswatch/internal/metrics"
	"github.com/star/isswatch/internal/telemetry"
	"github.com/star/isswatch/internal/transform"
)

// Telemetry is the read side of telemetry.Sync.
type Telemetry interface {
	Snapshot() *telemetry.Snapshot
	Metrics() telemetry.Metrics
	Location() string
	Origin() transform.GeoPoint
}

// Camera is the part of camera.Director the frame loop drives.
type Camera interface {
	Step()
	Viewpoint() camera.Viewpoint
	RequestFocus(target transform.GeoPoint, altitude telemetry.Reading)
	ToggleTracking() bool
}

// Coordinator runs one frame at a time. It reads telemetry and never
// modifies it.
type Coordinator struct {
	telemetry Telemetry
	camera    Camera
	presenter Presenter
	now       func() time.Time

	// MarkerRadius pins the satellite marker to a fixed scene radius when
	// positive; otherwise the altitude sets the radius.
	MarkerRadius float64
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(t Telemetry, c Camera, p Presenter) *Coordinator {
	return &Coordinator{telemetry: t, camera: c, presenter: p, now: time.Now}
}

// Frame renders one frame.
func (c *Coordinator) Frame() {
	snap := c.telemetry.Snapshot()
	if snap != nil {
		c.presenter.SetPlacement(Satellite, c.satellitePoint(snap), FaceCenter)
	}

	m := c.telemetry.Metrics()
	c.presenter.SetText(FormatPanel(c.now(), snap, m, c.telemetry.Location()))

	c.presenter.SetPlacement(User, transform.ToCartesian(c.telemetry.Origin(), transform.DefaultRadius), Tangent)

	c.camera.Step()
	c.presenter.SetViewpoint(c.camera.Viewpoint())
	metrics.IncFrames()
}

func (c *Coordinator) satellitePoint(snap *telemetry.Snapshot) transform.SpatialPoint {
	r := c.MarkerRadius
	if r <= 0 {
		alt := 0.0
		if snap.Altitude.Valid {
			alt = snap.Altitude.Value
		}
		r = transform.OrbitRadius(alt)
	}
	return transform.ToCartesian(snap.Position, r)
}

// Focus points the camera at the satellite, or at the user when there is
// no telemetry yet.
func (c *Coordinator) Focus() {
	if snap := c.telemetry.Snapshot(); snap != nil {
		c.camera.RequestFocus(snap.Position, snap.Altitude)
		return
	}
	c.camera.RequestFocus(c.telemetry.Origin(), telemetry.Reading{})
}

// ToggleTracking flips the camera's drift suppression and returns the new
// setting.
func (c *Coordinator) ToggleTracking() bool {
	return c.camera.ToggleTracking()
}

// Run calls Frame at fps until ctx is done.
func Run(ctx context.Context, c *Coordinator, fps int) {
	if fps <= 0 {
		fps = 30
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Frame()
		case <-ctx.Done():
			return
		}
	}
}

const notAvailable = "n/a"

// FormatPanel renders the text overlay.
func FormatPanel(now time.Time, snap *telemetry.Snapshot, m telemetry.Metrics, location string) []string {
	lines := []string{
		"ISS TRACKER " + strconv.FormatInt(now.UnixMilli(), 10),
		"ISS|",
	}
	if snap == nil {
		for _, label := range []string{"ID#", "LTS", "LAT", "LON", "ALT", "VIS", "FTP", "SLT", "SLN"} {
			lines = append(lines, label+"| "+notAvailable)
		}
		return append(lines,
			"OVR| "+Truncate(strings.ToUpper(location), 16),
			"DIS| "+notAvailable,
			"DIR| "+telemetry.DirectionUnknown.String(),
			"VEL| "+notAvailable,
			"ELV| "+notAvailable,
		)
	}

	id := snap.ID
	if id == "" {
		id = notAvailable
	}
	vis := notAvailable
	if snap.Visibility != telemetry.VisibilityUnknown {
		vis = strings.ToUpper(snap.Visibility.String())
	}
	slt, sln := notAvailable, notAvailable
	if snap.SolarKnown {
		slt = fmt.Sprintf("%.2f", snap.Solar.Latitude)
		sln = fmt.Sprintf("%.2f", snap.Solar.Longitude)
	}
	elv := notAvailable
	if m.Look != nil {
		elv = fmt.Sprintf("%.1f°", m.Look.ElevationDeg)
	}

	return append(lines,
		"ID#| "+id,
		fmt.Sprintf("LTS| %ds", int64(m.Staleness/time.Second)),
		fmt.Sprintf("LAT| %.2f", snap.Position.Latitude),
		fmt.Sprintf("LON| %.2f", snap.Position.Longitude),
		"ALT| "+withUnit(snap.Altitude, "km"),
		"VIS| "+vis,
		"FTP| "+withUnit(snap.Footprint, "km"),
		"SLT| "+slt,
		"SLN| "+sln,
		"OVR| "+Truncate(strings.ToUpper(location), 16),
		fmt.Sprintf("DIS| %.2f km", m.DistanceKm),
		"DIR| "+m.Direction.String(),
		"VEL| "+withUnit(snap.Velocity, "km/h"),
		"ELV| "+elv,
	)
}

func withUnit(r telemetry.Reading, unit string) string {
	if !r.Valid {
		return notAvailable
	}
	return fmt.Sprintf("%.2f %s", r.Value, unit)
}

// Truncate shortens s to n runes, ending in "..." when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
