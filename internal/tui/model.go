// Package tui is the terminal host for the frame loop.
package tui

import (
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/star/isswatch/internal/frame"
	"github.com/star/isswatch/internal/transform"
)

type frameMsg time.Time

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("6")).
			Padding(0, 1)
	mapStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("8"))
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Model drives the coordinator from bubbletea's event loop.
type Model struct {
	coord    *frame.Coordinator
	canvas   *Canvas
	track    func() []transform.GeoPoint
	interval time.Duration
	frames   int
}

// NewModel creates a model that renders coord into canvas at fps.
func NewModel(coord *frame.Coordinator, canvas *Canvas, fps int) Model {
	if fps <= 0 {
		fps = 30
	}
	return Model{coord: coord, canvas: canvas, interval: time.Second / time.Duration(fps)}
}

// WithTrack makes every frame redraw the ground track returned by fn.
func (m Model) WithTrack(fn func() []transform.GeoPoint) Model {
	m.track = fn
	return m
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return frameMsg(t) })
}

// Init implements tea.Model interface.
func (m Model) Init() tea.Cmd {
	return m.tick()
}

// Update implements tea.Model interface.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeySpace:
			m.coord.Focus()
		case tea.KeyRunes:
			switch string(msg.Runes) {
			case "q":
				return m, tea.Quit
			case "f", " ":
				m.coord.Focus()
			case "t":
				m.coord.ToggleTracking()
			}
		}
	case tea.WindowSizeMsg:
		m.canvas.mu.Lock()
		m.canvas.Width = max(msg.Width-30, 10)
		m.canvas.Height = max(msg.Height-4, 5)
		m.canvas.mu.Unlock()
	case frameMsg:
		if m.track != nil {
			m.canvas.SetTrack(m.track())
		}
		m.coord.Frame()
		m.frames++
		return m, m.tick()
	}
	return m, nil
}

// View implements tea.Model interface.
func (m Model) View() string {
	panel := panelStyle.Render(strings.Join(m.canvas.Text(), "\n"))
	globe := mapStyle.Render(m.canvas.Map())
	help := helpStyle.Render("space: focus ISS  t: hold camera  q: quit")
	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, panel, globe),
		help,
	)
}
