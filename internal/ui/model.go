// ABOUTME: Bubbletea model for the playback monitor TUI
// ABOUTME: Polls output stream stats and renders buffer and stall state
package ui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/pwmaudio/pwmaudio-go/pkg/audioout"
)

const pollInterval = 100 * time.Millisecond

// Model represents the monitor TUI state
type Model struct {
	stream *audioout.Stream

	// Stream format, fixed at open time
	name       string
	sampleRate int
	channels   int

	// Latest stats poll
	stats    audioout.DebugStats
	state    string
	buffered int

	// Debug
	showDebug bool

	// Dimensions
	width  int
	height int
}

// statsMsg carries one stats poll into the update loop
type statsMsg struct {
	stats audioout.DebugStats
	state string
}

// NewModel creates a monitor model for the stream
func NewModel(stream *audioout.Stream, name string, sampleRate, channels int) Model {
	return Model{
		stream:     stream,
		name:       name,
		sampleRate: sampleRate,
		channels:   channels,
		state:      "stopped",
	}
}

// Init starts the stats polling loop
func (m Model) Init() tea.Cmd {
	return m.poll()
}

// poll schedules the next stats read
func (m Model) poll() tea.Cmd {
	stream := m.stream
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		return statsMsg{stats: stream.Debug(), state: stream.State()}
	})
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case statsMsg:
		m.applyStats(msg)
		return m, m.poll()
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderBuffer()
	s += m.renderStats()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

func (m Model) renderHeader() string {
	format := fmt.Sprintf("%d Hz %s", m.sampleRate, channelName(m.channels))

	return fmt.Sprintf(`┌─ PWM Audio Monitor ──────────────────────────────────┐
│ Output: %-45s │
│ Format: %-45s │
│ State:  %-45s │
├──────────────────────────────────────────────────────┤
`, truncate(m.name, 45), format, m.state)
}

// renderBuffer renders FIFO fill level
func (m Model) renderBuffer() string {
	size := m.stats.FIFO.Size
	if size == 0 {
		return "│ Buffer: (not allocated)                              │\n"
	}

	bar := renderBar(m.buffered, size, 20)
	pct := m.buffered * 100 / size
	return fmt.Sprintf("│ Buffer: [%s] %3d%% (%d/%d bytes)%-6s │\n",
		bar, pct, m.buffered, size, "")
}

// renderStats renders transfer and stall counters
func (m Model) renderStats() string {
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Transfers: %-10d Stalls: %-10d%-12s │
`, m.stats.IntCount, m.stats.Stalls, "")
}

// renderDebug renders hardware constants
func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Stream:  %-41s │
│   Clock:   %-10d Top: %-8d Div: %-10d │
`, m.stats.ID, m.stats.ClockHz, m.stats.Top, m.stats.Divisor)
}

func (m Model) renderHelp() string {
	return `│ s:Start/Stop  d:Debug  q:Quit                        │
└──────────────────────────────────────────────────────┘
`
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "s":
		if m.state == "running" {
			m.stream.Stop()
		} else if m.state == "stopped" {
			m.stream.Start()
		}
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStats updates model from a stats poll
func (m *Model) applyStats(msg statsMsg) {
	m.stats = msg.stats
	m.state = msg.state
	m.buffered = int(msg.stats.FIFO.WriteIndex - msg.stats.FIFO.ReadIndex)
}

// Utility functions
func renderBar(value, max, width int) string {
	filled := (value * width) / max
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func channelName(channels int) string {
	if channels == 1 {
		return "Mono"
	}
	return "Stereo"
}
