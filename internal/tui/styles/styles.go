package styles

import "github.com/charmbracelet/lipgloss"

// Lip Gloss styles shared by the browse UI and the CLI renderers.
// All colors are specified using hex codes.

var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ff5fd2")).
			MarginBottom(1).
			PaddingLeft(1)

	SubtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			MarginBottom(1).
			PaddingLeft(1)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ff005f")).
			Bold(true)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00ff5f")).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Faint(true).
			Foreground(lipgloss.Color("#a8a8a8")).
			Padding(0, 1)

	HeaderContainerStyle = lipgloss.NewStyle().
				MarginLeft(1)

	HelpContainerStyle = lipgloss.NewStyle().
				MarginLeft(1).
				MarginTop(1)

	// Left padding for the panes so they line up with header and help
	MainContainerStyle = lipgloss.NewStyle().
				MarginLeft(1)

	PaneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#5f5fff")).
			PaddingLeft(1).
			PaddingRight(1)

	// Focused pane variant that highlights the active pane.
	PaneFocusedStyle = PaneStyle.
				BorderForeground(lipgloss.Color("#ff5faf"))

	MandatoryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#ff5f5f")).
			Bold(true)

	RecommendedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#5fd7ff"))

	OptionalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8a8a8a"))
)

// Requirement picks the badge style for a requirement level.
func Requirement(level string) lipgloss.Style {
	switch level {
	case "mandatory", "critical":
		return MandatoryStyle
	case "recommended":
		return RecommendedStyle
	}
	return OptionalStyle
}
