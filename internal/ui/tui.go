// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for the playback monitor
package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/pwmaudio/pwmaudio-go/pkg/audioout"
)

// Run starts the monitor TUI for the stream and blocks until quit
func Run(stream *audioout.Stream, name string, sampleRate, channels int) error {
	p := tea.NewProgram(NewModel(stream, name, sampleRate, channels), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
