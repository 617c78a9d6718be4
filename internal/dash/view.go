package dash

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	overlay "github.com/rmhubbert/bubbletea-overlay"

	"github.com/normanking/troupe/internal/bus"
)

const roundUptime = time.Second

// view renders the dashboard.
func view(m Model) string {
	if !m.ready {
		return "Starting dashboard..."
	}

	main := lipgloss.JoinVertical(lipgloss.Left,
		renderHeader(m),
		renderContent(m),
		m.styles.Help.Render(m.help.View(m.keys)),
		m.statusBar.View(),
	)

	if m.showPreview {
		modal := renderPreview(m)
		return overlay.New(
			staticPane{modal},
			staticPane{main},
			overlay.Center,
			overlay.Center,
			0, 0,
		).View()
	}

	return main
}

// ═══════════════════════════════════════════════════════════════════════════
// SECTIONS
// ═══════════════════════════════════════════════════════════════════════════

func renderHeader(m Model) string {
	title := m.styles.Title.Render("troupe · persona engine")

	rendered := make([]string, 0, len(tabs))
	for _, t := range tabs {
		style := m.styles.TabInactive
		if t == m.tab {
			style = m.styles.TabActive
		}
		rendered = append(rendered, style.Render(fmt.Sprintf("%d %s", int(t)+1, t)))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		lipgloss.JoinHorizontal(lipgloss.Top, rendered...),
	)
}

func renderContent(m Model) string {
	switch m.tab {
	case TabEvents:
		if len(m.eventLines) == 0 {
			return m.styles.Muted.Render("  waiting for events...")
		}
		return m.eventView.View()
	case TabRelationships:
		return m.relationTable.View()
	default:
		return m.personaTable.View()
	}
}

func renderPreview(m Model) string {
	body := lipgloss.JoinVertical(lipgloss.Left,
		m.styles.ModalTitle.Render(m.previewTitle),
		"",
		m.previewView.View(),
		"",
		m.styles.Muted.Render("esc to close · ↑/↓ to scroll"),
	)
	return m.styles.Modal.Render(body)
}

// contentHeight is the height left for the active pane after the header,
// help line, and status bar.
func (m Model) contentHeight() int {
	return max(5, m.height-5)
}

func newViewport(width, height int) viewport.Model {
	vp := viewport.New(width, height)
	return vp
}

// syncFeed pushes the feed lines into the viewport, pinned to the newest.
func (m *Model) syncFeed() {
	if !m.ready {
		return
	}
	m.eventView.SetContent(strings.Join(m.eventLines, "\n"))
	m.eventView.GotoBottom()
}

// ═══════════════════════════════════════════════════════════════════════════
// FORMATTING
// ═══════════════════════════════════════════════════════════════════════════

// formatEvent renders one feed line: timestamp, type, then whichever
// context fields the event carries.
func formatEvent(ev bus.Event, styles Styles) string {
	typeStyle := styles.FeedType
	switch ev.Type {
	case bus.EventSelectionFailed, bus.EventBlendFailed, bus.EventDefinitionRejected,
		bus.EventEvolutionIgnored, bus.EventRelationshipIgnored:
		typeStyle = styles.FeedWarn
	}

	parts := []string{
		styles.FeedTime.Render(ev.Timestamp.Local().Format("15:04:05")),
		typeStyle.Render(string(ev.Type)),
	}
	if detail := eventDetail(ev); detail != "" {
		parts = append(parts, styles.FeedDetail.Render(detail))
	}
	return strings.Join(parts, " ")
}

func eventDetail(ev bus.Event) string {
	var parts []string
	if ev.Persona != "" {
		parts = append(parts, ev.Persona)
	}
	if ev.Peer != "" {
		parts = append(parts, "· "+ev.Peer)
	}
	if ev.Channel != "" {
		parts = append(parts, "#"+ev.Channel)
	}
	if ev.Reason != "" {
		parts = append(parts, ev.Reason)
	}
	if ev.Milestone > 0 {
		parts = append(parts, fmt.Sprintf("milestone=%d", ev.Milestone))
	}
	if ev.Affinity != 0 {
		parts = append(parts, fmt.Sprintf("affinity=%+.1f", ev.Affinity))
	}
	if ev.Error != "" {
		parts = append(parts, ev.Error)
	}
	return strings.Join(parts, " ")
}

// renderMarkdown renders a prompt for the preview overlay, falling back to
// plain text when the renderer fails.
func renderMarkdown(content string, width int) string {
	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}
	out, err := renderer.Render(content)
	if err != nil {
		return content
	}
	return out
}

// staticPane adapts an already rendered string to tea.Model so the overlay
// compositor can stack it.
type staticPane struct {
	content string
}

func (p staticPane) Init() tea.Cmd                       { return nil }
func (p staticPane) Update(tea.Msg) (tea.Model, tea.Cmd) { return p, nil }
func (p staticPane) View() string                        { return p.content }
