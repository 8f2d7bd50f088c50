// Package camera drives the orbital viewpoint: a slow idle drift, and
// animated focus transitions that always take the shorter way round.
package camera

import (
	"log/slog"
	"math"
	"sync"

	"github.com/star/isswatch/internal/metrics"
	"github.com/star/isswatch/internal/telemetry"
	"github.com/star/isswatch/internal/transform"
)

// Mode is the director's state.
type Mode int

const (
	FreeOrbit Mode = iota
	Transitioning
	// Locked is reserved; transitions always settle back into FreeOrbit.
	Locked
)

func (m Mode) String() string {
	switch m {
	case Transitioning:
		return "transitioning"
	case Locked:
		return "locked"
	default:
		return "free_orbit"
	}
}

// MarshalText renders the mode name.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// Viewpoint is an orbital camera pose around LookAt. Azimuth is measured
// from +X towards +Z, Polar from +Y.
type Viewpoint struct {
	Azimuth float64                `json:"azimuth"`
	Polar   float64                `json:"polar"`
	Radius  float64                `json:"radius"`
	LookAt  transform.SpatialPoint `json:"look_at"`
}

// Position returns the camera location in scene space.
func (v Viewpoint) Position() transform.SpatialPoint {
	sinPolar := math.Sin(v.Polar)
	return transform.SpatialPoint{
		X: v.LookAt.X + v.Radius*math.Cos(v.Azimuth)*sinPolar,
		Y: v.LookAt.Y + v.Radius*math.Cos(v.Polar),
		Z: v.LookAt.Z + v.Radius*math.Sin(v.Azimuth)*sinPolar,
	}
}

// TrackingState is a copy of the director's animation state.
type TrackingState struct {
	Mode           Mode      `json:"mode"`
	AnimationFrame int       `json:"animation_frame"`
	Start          Viewpoint `json:"start"`
	Target         Viewpoint `json:"target"`
	Tracking       bool      `json:"tracking"`
}

// Config tunes the director.
type Config struct {
	TotalFrames       int       `yaml:"total_frames"`
	DriftStep         *float64  `yaml:"drift_step"` // radians per idle frame; 0 disables drift
	Tracking          bool      `yaml:"tracking"`   // start with idle drift suppressed
	FocusRadius       float64   `yaml:"focus_radius"`
	DefaultAltitudeKm float64   `yaml:"default_altitude_km"`
	Initial           Viewpoint `yaml:"-"`
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		TotalFrames:       120,
		DriftStep:         ptr(0.0001),
		FocusRadius:       3,
		DefaultAltitudeKm: 420,
		Initial: Viewpoint{
			Azimuth: math.Pi / 2,
			Polar:   math.Pi / 2.5,
			Radius:  3,
		},
	}
}

// Director owns the viewpoint and the tracking state. It is safe for
// concurrent use; focus requests may come from the keyboard or HTTP while
// the frame loop steps.
type Director struct {
	cfg    Config
	logger *slog.Logger
	hooks  Hooks

	mu       sync.Mutex
	view     Viewpoint
	state    TrackingState
	tracking bool
	task     *Task
	gen      uint64
}

// NewDirector creates a director in FreeOrbit at cfg.Initial. Zero fields
// in cfg take their defaults; an explicit zero DriftStep disables drift.
func NewDirector(cfg Config, logger *slog.Logger) *Director {
	def := DefaultConfig()
	if cfg.TotalFrames <= 0 {
		cfg.TotalFrames = def.TotalFrames
	}
	if cfg.DriftStep == nil {
		cfg.DriftStep = def.DriftStep
	}
	if cfg.FocusRadius <= 0 {
		cfg.FocusRadius = def.FocusRadius
	}
	if cfg.DefaultAltitudeKm <= 0 {
		cfg.DefaultAltitudeKm = def.DefaultAltitudeKm
	}
	if cfg.Initial == (Viewpoint{}) {
		cfg.Initial = def.Initial
	}
	return &Director{
		cfg:      cfg,
		logger:   logger,
		view:     cfg.Initial,
		state:    TrackingState{Mode: FreeOrbit, Tracking: cfg.Tracking},
		tracking: cfg.Tracking,
	}
}

// TargetViewpoint is the pose that frames a satellite at target, altitudeKm
// above the surface. Negative or non-finite altitudes are taken as the
// surface.
func (d *Director) TargetViewpoint(target transform.GeoPoint, altitudeKm float64) Viewpoint {
	if !(altitudeKm >= 0) || math.IsInf(altitudeKm, 1) {
		altitudeKm = 0
	}
	p := transform.ToCartesian(target, transform.OrbitRadius(altitudeKm))
	r := p.Length()
	if r == 0 {
		r = transform.DefaultRadius
	}
	return Viewpoint{
		Azimuth: math.Atan2(p.Z, p.X),
		Polar:   math.Acos(p.Y / r),
		Radius:  d.cfg.FocusRadius,
		LookAt:  p,
	}
}

// RequestFocus starts a transition from the current viewpoint towards the
// satellite at target. An unknown altitude falls back to the configured
// default. Any transition already in flight is cancelled first.
func (d *Director) RequestFocus(target transform.GeoPoint, altitude telemetry.Reading) {
	alt := d.cfg.DefaultAltitudeKm
	if altitude.Valid {
		alt = altitude.Value
	}
	to := d.TargetViewpoint(target, alt)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.task.Cancel() {
		metrics.IncTransitions("cancelled")
		d.logger.Debug("focus transition superseded", "frame", d.state.AnimationFrame)
	}

	d.state = TrackingState{
		Mode:     Transitioning,
		Start:    d.view,
		Target:   to,
		Tracking: d.tracking,
	}

	d.gen++
	gen := d.gen
	d.task = d.hooks.Add(func() bool { return d.advanceFrame(gen) })

	metrics.IncTransitions("started")
	d.logger.Info("focus transition started",
		"latitude", target.Latitude,
		"longitude", target.Longitude,
		"altitude_km", alt,
		"frames", d.cfg.TotalFrames,
	)
}

// advanceFrame moves the viewpoint one frame along transition gen. It
// returns true when the transition is over.
func (d *Director) advanceFrame(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	// A callback that lost a race with RequestFocus must not touch the view.
	if gen != d.gen || d.state.Mode != Transitioning {
		return true
	}

	d.state.AnimationFrame++
	t := math.Min(float64(d.state.AnimationFrame)/float64(d.cfg.TotalFrames), 1)
	d.view = interpolate(d.state.Start, d.state.Target, t)

	if t < 1 {
		return false
	}
	d.task = nil
	d.state.Mode = FreeOrbit
	metrics.IncTransitions("completed")
	d.logger.Debug("focus transition completed")
	return true
}

func interpolate(from, to Viewpoint, t float64) Viewpoint {
	return Viewpoint{
		Azimuth: from.Azimuth + ShortestDelta(from.Azimuth, to.Azimuth)*t,
		Polar:   from.Polar + (to.Polar-from.Polar)*t,
		Radius:  from.Radius + (to.Radius-from.Radius)*t,
		LookAt:  from.LookAt.Lerp(to.LookAt, t),
	}
}

// ShortestDelta returns to-from wrapped into [-π, π].
func ShortestDelta(from, to float64) float64 {
	return math.Remainder(to-from, 2*math.Pi)
}

// idleDrift rotates the free-orbit camera by one drift step.
func (d *Director) idleDrift() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.Mode == Transitioning || d.tracking {
		return
	}
	d.view.Azimuth += *d.cfg.DriftStep
}

// Step is the per-frame entry point: it advances any transition, or
// drifts when none ran.
func (d *Director) Step() {
	if d.hooks.Run() == 0 {
		d.idleDrift()
	}
}

// SetTracking sets the external flag that suppresses idle drift.
func (d *Director) SetTracking(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tracking = on
	d.state.Tracking = on
}

// ToggleTracking flips the drift-suppression flag and returns the new value.
func (d *Director) ToggleTracking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tracking = !d.tracking
	d.state.Tracking = d.tracking
	return d.tracking
}

// Viewpoint returns the current pose.
func (d *Director) Viewpoint() Viewpoint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view
}

// State returns a copy of the tracking state.
func (d *Director) State() TrackingState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// ActiveTasks reports the number of registered frame callbacks.
func (d *Director) ActiveTasks() int {
	return d.hooks.Active()
}

func ptr[T any](v T) *T { return &v }
