// Package tui is the terminal browser for the instruction catalog. It is
// read-only: edits go through the MCP tools or the CLI.
package tui

import (
	"context"
	"errors"

	"mcpindex/internal/catalog"
	"mcpindex/internal/logging"

	tea "github.com/charmbracelet/bubbletea"
)

// Run shows the browser until the user quits or ctx is cancelled.
func Run(ctx context.Context, cat *catalog.Catalog, usage *catalog.UsageTracker, logger *logging.AppLogger) error {
	b := NewBrowser(cat, usage, logger, 0, 0)
	p := tea.NewProgram(b,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return err
	}
	return nil
}
