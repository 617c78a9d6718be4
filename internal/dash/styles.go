package dash

import "github.com/charmbracelet/lipgloss"

// Palette. Hex values render as-is on truecolor terminals and degrade
// through lipgloss profiles elsewhere.
const (
	accentColor = "#7C3AED"
	textColor   = "#E4E4E7"
	mutedColor  = "#71717A"
	dimColor    = "#3F3F46"
	goodColor   = "#22C55E"
	warnColor   = "#EAB308"
	badColor    = "#EF4444"
	statusBarFg = "#F4F4F5"
	statusBarBg = "#27272A"
)

// Styles holds the precomputed lipgloss styles for the dashboard.
type Styles struct {
	Title       lipgloss.Style
	TabActive   lipgloss.Style
	TabInactive lipgloss.Style
	TableBase   lipgloss.Style
	TableHeader lipgloss.Style
	FeedTime    lipgloss.Style
	FeedType    lipgloss.Style
	FeedWarn    lipgloss.Style
	FeedDetail  lipgloss.Style
	Modal       lipgloss.Style
	ModalTitle  lipgloss.Style
	Help        lipgloss.Style
	Muted       lipgloss.Style
}

// NewStyles creates the dashboard styles.
func NewStyles() Styles {
	return Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(accentColor)).
			Padding(0, 1),

		TabActive: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(textColor)).
			Background(lipgloss.Color(accentColor)).
			Padding(0, 2),

		TabInactive: lipgloss.NewStyle().
			Foreground(lipgloss.Color(mutedColor)).
			Padding(0, 2),

		TableBase: lipgloss.NewStyle().
			Foreground(lipgloss.Color(textColor)).
			BorderForeground(lipgloss.Color(dimColor)),

		TableHeader: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(accentColor)).
			BorderForeground(lipgloss.Color(dimColor)),

		FeedTime: lipgloss.NewStyle().
			Foreground(lipgloss.Color(mutedColor)),

		FeedType: lipgloss.NewStyle().
			Foreground(lipgloss.Color(goodColor)),

		FeedWarn: lipgloss.NewStyle().
			Foreground(lipgloss.Color(warnColor)),

		FeedDetail: lipgloss.NewStyle().
			Foreground(lipgloss.Color(textColor)),

		Modal: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(accentColor)).
			Padding(1, 2),

		ModalTitle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color(accentColor)),

		Help: lipgloss.NewStyle().
			Foreground(lipgloss.Color(mutedColor)).
			Padding(0, 1),

		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color(mutedColor)),
	}
}
