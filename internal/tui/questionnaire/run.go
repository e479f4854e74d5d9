package questionnaire

import (
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/accel/internal/config"
)

// ErrAborted is returned when the user cancels the questionnaire.
var ErrAborted = errors.New("configuration cancelled")

// Run asks the questions on the terminal and returns the answers.
func Run(base *config.LaunchConfig, opts ...tea.ProgramOption) (*config.LaunchConfig, error) {
	p := tea.NewProgram(New(base), opts...)
	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("TUI error: %w", err)
	}
	m, ok := final.(Model)
	if !ok {
		return nil, fmt.Errorf("unexpected model type %T", final)
	}
	cfg, ok := m.Result()
	if !ok {
		return nil, ErrAborted
	}
	return cfg, nil
}
