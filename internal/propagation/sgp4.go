package propagation

import (
	"fmt"
	"math"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/star/isswatch/internal/tle"
	"github.com/star/isswatch/internal/transform"
)

// Propagator wraps go-satellite's SGP4 model for one element set.
//
// satellite.Propagate takes the model by value, so SGP4 error codes never
// reach the caller; failures are detected from NaN/Inf output and
// unreasonable radii instead.
type Propagator struct {
	sat     satellite.Satellite
	element tle.Element
}

// New initializes SGP4 from e.
//
// The lines are validated first because go-satellite calls log.Fatal on
// input it cannot parse.
func New(e tle.Element) (*Propagator, error) {
	if err := validateLines(e.Line1, e.Line2); err != nil {
		return nil, fmt.Errorf("invalid TLE for NORAD %d: %w", e.NORADID, err)
	}

	sat := satellite.TLEToSat(e.Line1, e.Line2, satellite.GravityWGS84)
	if sat.Error != 0 {
		return nil, fmt.Errorf("sgp4 init failed for NORAD %d: code=%d %s", e.NORADID, sat.Error, sat.ErrorStr)
	}
	return &Propagator{sat: sat, element: e}, nil
}

// Element returns the element set the model was built from.
func (p *Propagator) Element() tle.Element {
	return p.element
}

func validateLines(line1, line2 string) error {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)

	if len(line1) != 69 {
		return fmt.Errorf("line1 length %d, expected 69", len(line1))
	}
	if len(line2) != 69 {
		return fmt.Errorf("line2 length %d, expected 69", len(line2))
	}
	if line1[0] != '1' {
		return fmt.Errorf("line1 must start with '1', got '%c'", line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("line2 must start with '2', got '%c'", line2[0])
	}
	return nil
}

// State propagates to t and returns the TEME state vector.
// Resolution is one second; go-satellite takes integer seconds.
func (p *Propagator) State(t time.Time) (transform.StateTEME, error) {
	t = t.UTC()
	pos, vel := satellite.Propagate(p.sat, t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())

	for _, v := range [3]float64{pos.X, pos.Y, pos.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return transform.StateTEME{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: output is NaN/Inf", p.element.NORADID)
		}
	}

	s := transform.StateTEME{X: pos.X, Y: pos.Y, Z: pos.Z, VX: vel.X, VY: vel.Y, VZ: vel.Z}
	if r := s.Radius(); r < 6200.0 || r > 50000.0 {
		return transform.StateTEME{}, fmt.Errorf("sgp4 propagation failed for NORAD %d: unreasonable position magnitude %.1f km", p.element.NORADID, r)
	}
	return s, nil
}

// Sample is a propagated position reduced to what the position feed reports.
type Sample struct {
	Time       time.Time
	State      transform.StateTEME
	ECEF       transform.ECEF
	SubPoint   transform.GeoPoint
	AltitudeKm float64
}

// Sample propagates to t and derives the Earth-fixed position and geodetic
// sub-point.
func (p *Propagator) Sample(t time.Time) (Sample, error) {
	s, err := p.State(t)
	if err != nil {
		return Sample{}, err
	}
	ecef := transform.ToECEF(s, t)
	sub, alt := transform.Geodetic(ecef)
	return Sample{
		Time:       t,
		State:      s,
		ECEF:       ecef,
		SubPoint:   sub,
		AltitudeKm: alt,
	}, nil
}
