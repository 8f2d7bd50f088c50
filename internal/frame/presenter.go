package frame

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/star/isswatch/internal/camera"
	"github.com/star/isswatch/internal/transform"
)

// Entity identifies a placed marker.
type Entity string

const (
	Satellite Entity = "satellite"
	User      Entity = "user"
)

// Orientation tells the presenter how to orient a marker.
type Orientation string

const (
	// FaceCenter points the marker at the globe's center.
	FaceCenter Orientation = "face-center"
	// Tangent lays the marker flat on the surface.
	Tangent Orientation = "tangent"
)

// Presenter draws what the coordinator hands it. Implementations must not
// block; they are called from the frame loop.
type Presenter interface {
	SetPlacement(e Entity, p transform.SpatialPoint, hint Orientation)
	SetText(lines []string)
	SetViewpoint(v camera.Viewpoint)
}

// LogPresenter writes the panel to a logger. The panel is emitted at most
// once per Every; placements and viewpoints go to debug.
type LogPresenter struct {
	Logger *slog.Logger
	Every  time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewLogPresenter creates a LogPresenter that logs the panel every interval.
func NewLogPresenter(logger *slog.Logger, every time.Duration) *LogPresenter {
	return &LogPresenter{Logger: logger, Every: every, now: time.Now}
}

func (l *LogPresenter) SetPlacement(e Entity, p transform.SpatialPoint, hint Orientation) {
	l.Logger.Debug("placement", "entity", string(e), "x", p.X, "y", p.Y, "z", p.Z, "orientation", string(hint))
}

func (l *LogPresenter) SetText(lines []string) {
	now := time.Now
	if l.now != nil {
		now = l.now
	}

	l.mu.Lock()
	t := now()
	due := l.last.IsZero() || t.Sub(l.last) >= l.Every
	if due {
		l.last = t
	}
	l.mu.Unlock()

	if due {
		l.Logger.Info("panel", "text", strings.Join(lines, " | "))
	}
}

func (l *LogPresenter) SetViewpoint(v camera.Viewpoint) {
	l.Logger.Debug("viewpoint", "azimuth", v.Azimuth, "polar", v.Polar, "radius", v.Radius)
}
