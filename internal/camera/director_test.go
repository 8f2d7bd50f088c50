package camera

import (
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/star/isswatch/internal/telemetry"
	"github.com/star/isswatch/internal/transform"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestDirector(initialAzimuth float64) *Director {
	cfg := DefaultConfig()
	cfg.Initial.Azimuth = initialAzimuth
	return NewDirector(cfg, testLogger)
}

func TestInitialState(t *testing.T) {
	d := NewDirector(Config{}, testLogger)

	v := d.Viewpoint()
	assert.Equal(t, math.Pi/2, v.Azimuth)
	assert.Equal(t, math.Pi/2.5, v.Polar)
	assert.Equal(t, 3.0, v.Radius)
	assert.Equal(t, transform.SpatialPoint{}, v.LookAt)
	assert.Equal(t, FreeOrbit, d.State().Mode)
	assert.Zero(t, d.ActiveTasks())
}

func TestIdleDrift(t *testing.T) {
	d := NewDirector(Config{}, testLogger)
	start := d.Viewpoint().Azimuth

	for i := 0; i < 10; i++ {
		d.Step()
	}
	assert.InDelta(t, start+10*0.0001, d.Viewpoint().Azimuth, 1e-12)
}

func TestTrackingSuppressesDrift(t *testing.T) {
	d := NewDirector(Config{}, testLogger)
	start := d.Viewpoint()

	d.SetTracking(true)
	d.Step()
	assert.Equal(t, start, d.Viewpoint())
	assert.True(t, d.State().Tracking)

	d.SetTracking(false)
	d.Step()
	assert.Greater(t, d.Viewpoint().Azimuth, start.Azimuth)
}

func TestTransitionCompletesInTotalFrames(t *testing.T) {
	d := NewDirector(Config{}, testLogger)
	target := transform.GeoPoint{Latitude: 30, Longitude: 45}
	want := d.TargetViewpoint(target, 410)

	d.RequestFocus(target, telemetry.Known(410))
	require.Equal(t, Transitioning, d.State().Mode)
	require.Equal(t, 1, d.ActiveTasks())

	for i := 0; i < 119; i++ {
		d.Step()
	}
	assert.Equal(t, Transitioning, d.State().Mode)
	assert.Equal(t, 119, d.State().AnimationFrame)

	d.Step()
	got := d.Viewpoint()
	assert.Equal(t, FreeOrbit, d.State().Mode)
	assert.Zero(t, d.ActiveTasks())
	assert.InDelta(t, want.Polar, got.Polar, 1e-9)
	assert.InDelta(t, want.Radius, got.Radius, 1e-9)
	assert.InDelta(t, 0, ShortestDelta(want.Azimuth, got.Azimuth), 1e-9)
	assert.InDelta(t, want.LookAt.X, got.LookAt.X, 1e-9)
	assert.InDelta(t, want.LookAt.Y, got.LookAt.Y, 1e-9)
	assert.InDelta(t, want.LookAt.Z, got.LookAt.Z, 1e-9)

	// Back to drifting.
	d.Step()
	assert.InDelta(t, got.Azimuth+0.0001, d.Viewpoint().Azimuth, 1e-12)
}

func TestTransitionTakesShorterArc(t *testing.T) {
	d := newTestDirector(3.0)
	// Longitude whose target azimuth is -3.0 rad, just across the seam.
	lon := (math.Pi - 3.0) * 180 / math.Pi
	target := transform.GeoPoint{Latitude: 0, Longitude: lon}
	require.InDelta(t, -3.0, d.TargetViewpoint(target, 420).Azimuth, 1e-9)

	d.RequestFocus(target, telemetry.Known(420))
	prev := d.Viewpoint().Azimuth
	for i := 0; i < 120; i++ {
		d.Step()
		cur := d.Viewpoint().Azimuth
		assert.LessOrEqual(t, math.Abs(cur-prev), math.Pi)
		prev = cur
	}

	// 3.0 -> -3.0 the short way is +0.283, not -6.
	assert.InDelta(t, 2*math.Pi-6.0, prev-3.0, 1e-9)
}

func TestShortestDeltaBounded(t *testing.T) {
	for from := -10.0; from <= 10; from += 0.37 {
		for to := -10.0; to <= 10; to += 0.41 {
			delta := ShortestDelta(from, to)
			assert.LessOrEqual(t, math.Abs(delta), math.Pi+1e-12)

			turns := (to - from - delta) / (2 * math.Pi)
			assert.InDelta(t, math.Round(turns), turns, 1e-9)
		}
	}
}

func TestSupersedingFocusCancelsPrevious(t *testing.T) {
	d := NewDirector(Config{}, testLogger)
	d.RequestFocus(transform.GeoPoint{Latitude: 10, Longitude: 10}, telemetry.Known(420))
	first := d.task

	for i := 0; i < 10; i++ {
		d.Step()
	}
	mid := d.Viewpoint()

	d.RequestFocus(transform.GeoPoint{Latitude: -20, Longitude: 100}, telemetry.Known(420))
	assert.Equal(t, 1, d.ActiveTasks())
	assert.False(t, first.Cancel(), "first task should already be cancelled")

	st := d.State()
	assert.Equal(t, Transitioning, st.Mode)
	assert.Zero(t, st.AnimationFrame)
	assert.Equal(t, mid, st.Start)

	for i := 0; i < 120; i++ {
		d.Step()
		assert.LessOrEqual(t, d.ActiveTasks(), 1)
	}
	assert.Zero(t, d.ActiveTasks())
	assert.Equal(t, FreeOrbit, d.State().Mode)
}

func TestStaleCallbackDoesNotMoveView(t *testing.T) {
	d := NewDirector(Config{}, testLogger)
	d.RequestFocus(transform.GeoPoint{Latitude: 10, Longitude: 10}, telemetry.Known(420))
	staleGen := d.gen
	d.RequestFocus(transform.GeoPoint{Latitude: 20, Longitude: 20}, telemetry.Known(420))

	before := d.Viewpoint()
	assert.True(t, d.advanceFrame(staleGen))
	assert.Equal(t, before, d.Viewpoint())
	assert.Zero(t, d.State().AnimationFrame)
}

func TestUnknownAltitudeUsesDefault(t *testing.T) {
	d := NewDirector(Config{}, testLogger)
	target := transform.GeoPoint{Latitude: 5, Longitude: 5}

	d.RequestFocus(target, telemetry.Reading{})

	got := d.State().Target.LookAt.Length()
	assert.InDelta(t, transform.OrbitRadius(420), got, 1e-12)
}

func TestViewpointPosition(t *testing.T) {
	v := Viewpoint{Azimuth: math.Pi / 2, Polar: math.Pi / 2, Radius: 2, LookAt: transform.SpatialPoint{X: 1}}
	p := v.Position()
	assert.InDelta(t, 1, p.X, 1e-12)
	assert.InDelta(t, 0, p.Y, 1e-12)
	assert.InDelta(t, 2, p.Z, 1e-12)
}

func TestHooksLifecycle(t *testing.T) {
	var h Hooks
	runs := 0
	task := h.Add(func() bool {
		runs++
		return runs == 3
	})
	other := h.Add(func() bool { return false })
	assert.Equal(t, 2, h.Active())

	for i := 0; i < 5; i++ {
		h.Run()
	}
	assert.Equal(t, 3, runs)
	assert.Equal(t, 1, h.Active())
	assert.False(t, task.Cancel())

	assert.True(t, other.Cancel())
	assert.False(t, other.Cancel())
	assert.Zero(t, h.Active())
	assert.Zero(t, h.Run())
}

func TestHooksCancelDuringRun(t *testing.T) {
	var h Hooks
	var second *Task
	ranSecond := false
	h.Add(func() bool {
		second.Cancel()
		return true
	})
	second = h.Add(func() bool {
		ranSecond = true
		return false
	})

	assert.Equal(t, 1, h.Run())
	assert.False(t, ranSecond)
	assert.Zero(t, h.Active())
}

func TestNilTaskCancel(t *testing.T) {
	var task *Task
	assert.False(t, task.Cancel())
}

func TestBadAltitudeDoesNotPoisonViewpoint(t *testing.T) {
	d := NewDirector(Config{}, testLogger)
	target := transform.GeoPoint{Latitude: 30, Longitude: 45}

	for _, alt := range []float64{-transform.EarthRadiusKm, -9000, math.NaN(), math.Inf(1)} {
		v := d.TargetViewpoint(target, alt)
		assert.False(t, math.IsNaN(v.Polar), "polar NaN for altitude %v", alt)
		assert.False(t, math.IsNaN(v.Azimuth), "azimuth NaN for altitude %v", alt)
	}

	d.RequestFocus(target, telemetry.Known(-transform.EarthRadiusKm))
	for i := 0; i < 200; i++ {
		d.Step()
	}
	require.False(t, math.IsNaN(d.Viewpoint().Polar))

	want := d.TargetViewpoint(target, 420)
	d.RequestFocus(target, telemetry.Known(420))
	for i := 0; i < 200; i++ {
		d.Step()
	}
	got := d.Viewpoint()
	assert.InDelta(t, want.Polar, got.Polar, 1e-9)
	assert.InDelta(t, want.Radius, got.Radius, 1e-9)
}

func TestZeroDriftStepDisablesDrift(t *testing.T) {
	zero := 0.0
	d := NewDirector(Config{DriftStep: &zero}, testLogger)
	start := d.Viewpoint()

	for i := 0; i < 10; i++ {
		d.Step()
	}
	assert.Equal(t, start, d.Viewpoint())
}

func TestTrackingFromConfigAndToggle(t *testing.T) {
	d := NewDirector(Config{Tracking: true}, testLogger)
	start := d.Viewpoint()
	assert.True(t, d.State().Tracking)

	d.Step()
	assert.Equal(t, start, d.Viewpoint())

	assert.False(t, d.ToggleTracking())
	d.Step()
	assert.Greater(t, d.Viewpoint().Azimuth, start.Azimuth)

	assert.True(t, d.ToggleTracking())
	assert.True(t, d.State().Tracking)
}
