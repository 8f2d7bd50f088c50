package tui

import (
	"math"
	"strings"
	"sync"

	"github.com/star/isswatch/internal/camera"
	"github.com/star/isswatch/internal/frame"
	"github.com/star/isswatch/internal/transform"
)

// Canvas is a frame.Presenter that keeps the latest frame for View.
// Markers are drawn on an equirectangular map of the globe.
type Canvas struct {
	Width, Height int

	mu         sync.Mutex
	placements map[frame.Entity]transform.SpatialPoint
	text       []string
	view       camera.Viewpoint
	track      []transform.GeoPoint
}

// NewCanvas creates a canvas with a map of the given size in cells.
func NewCanvas(width, height int) *Canvas {
	return &Canvas{
		Width:      width,
		Height:     height,
		placements: make(map[frame.Entity]transform.SpatialPoint),
	}
}

func (c *Canvas) SetPlacement(e frame.Entity, p transform.SpatialPoint, _ frame.Orientation) {
	c.mu.Lock()
	c.placements[e] = p
	c.mu.Unlock()
}

func (c *Canvas) SetText(lines []string) {
	c.mu.Lock()
	c.text = append(c.text[:0], lines...)
	c.mu.Unlock()
}

func (c *Canvas) SetViewpoint(v camera.Viewpoint) {
	c.mu.Lock()
	c.view = v
	c.mu.Unlock()
}

// SetTrack replaces the predicted ground track drawn under the markers.
func (c *Canvas) SetTrack(points []transform.GeoPoint) {
	c.mu.Lock()
	c.track = append(c.track[:0], points...)
	c.mu.Unlock()
}

// Text returns a copy of the panel lines.
func (c *Canvas) Text() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.text...)
}

// Viewpoint returns the last viewpoint.
func (c *Canvas) Viewpoint() camera.Viewpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.view
}

var markers = map[frame.Entity]rune{
	frame.Satellite: '*',
	frame.User:      '@',
}

// Map renders the placed markers on a lat/lon grid over the ground track
// ('~'). The column under the camera is marked with '|' on the bottom row.
func (c *Canvas) Map() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Width <= 0 || c.Height <= 0 {
		return ""
	}

	grid := make([][]rune, c.Height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(".", c.Width))
	}

	// Camera longitude: the projection puts longitude+180 at the azimuth.
	camLon := c.view.Azimuth*180/math.Pi - 180
	_, col := c.cell(transform.GeoPoint{Longitude: camLon})
	grid[c.Height-1][col] = '|'

	for _, g := range c.track {
		row, col := c.cell(g)
		grid[row][col] = '~'
	}

	for _, e := range []frame.Entity{frame.User, frame.Satellite} {
		p, ok := c.placements[e]
		if !ok {
			continue
		}
		row, col := c.cell(transform.ToGeo(p))
		grid[row][col] = markers[e]
	}

	lines := make([]string, len(grid))
	for i, r := range grid {
		lines[i] = string(r)
	}
	return strings.Join(lines, "\n")
}

func (c *Canvas) cell(g transform.GeoPoint) (row, col int) {
	lon := math.Mod(g.Longitude+180, 360)
	if lon < 0 {
		lon += 360
	}
	col = int(lon / 360 * float64(c.Width))
	row = int((90 - g.Latitude) / 180 * float64(c.Height))
	return clampInt(row, 0, c.Height-1), clampInt(col, 0, c.Width-1)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
