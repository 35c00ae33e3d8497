package app

import (
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	intrnl "pulsechat/internal"
)

// RunClient starts the terminal UI and blocks until the user quits.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server url is required")
	}
	model := intrnl.NewTUIModel(cfg.ServerURL, cfg.Username, cfg.Password)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err := program.Run()
	return err
}
