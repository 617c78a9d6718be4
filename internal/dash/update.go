package dash

import (
	"fmt"
	"sort"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/evertras/bubble-table/table"

	"github.com/normanking/troupe/internal/bus"
	"github.com/normanking/troupe/internal/evolution"
)

// update is the message loop. Model methods delegate here so the logic can
// live in package functions alongside the view.
func update(m Model, msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return handleResize(m, msg)

	case tickMsg:
		m.refresh()
		return m, tick()

	case eventMsg:
		m.appendEvent(msg.event)
		return m, waitForEvent(m.eventCh)

	case tea.KeyMsg:
		return handleKey(m, msg)
	}

	return m, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// MESSAGE HANDLERS
// ═══════════════════════════════════════════════════════════════════════════

func handleResize(m Model, msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height

	contentHeight := m.contentHeight()
	contentWidth := max(20, m.width-2)

	m.personaTable = m.personaTable.
		WithTargetWidth(contentWidth).
		WithPageSize(max(3, contentHeight-4))
	m.relationTable = m.relationTable.
		WithTargetWidth(contentWidth).
		WithPageSize(max(3, contentHeight-4))

	if !m.ready {
		m.eventView = newViewport(contentWidth, contentHeight)
		m.previewView = newViewport(min(contentWidth, 100), max(5, m.height-10))
		m.ready = true
	} else {
		m.eventView.Width = contentWidth
		m.eventView.Height = contentHeight
		m.previewView.Width = min(contentWidth, 100)
		m.previewView.Height = max(5, m.height-10)
	}
	m.syncFeed()

	m.statusBar.SetSize(msg.Width)
	m.help.Width = msg.Width
	m.refresh()

	return m, nil
}

func handleKey(m Model, msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// The preview overlay captures everything except scrolling and close.
	if m.showPreview {
		switch {
		case key.Matches(msg, m.keys.Close), key.Matches(msg, m.keys.Preview):
			m.showPreview = false
			return m, nil
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		default:
			var cmd tea.Cmd
			m.previewView, cmd = m.previewView.Update(msg)
			return m, cmd
		}
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		return m, nil

	case key.Matches(msg, m.keys.NextTab):
		m.tab = tabs[(int(m.tab)+1)%len(tabs)]
		return m, nil

	case key.Matches(msg, m.keys.PrevTab):
		m.tab = tabs[(int(m.tab)+len(tabs)-1)%len(tabs)]
		return m, nil

	case key.Matches(msg, m.keys.Personas):
		m.tab = TabPersonas
		return m, nil

	case key.Matches(msg, m.keys.Events):
		m.tab = TabEvents
		return m, nil

	case key.Matches(msg, m.keys.Relations):
		m.tab = TabRelationships
		return m, nil

	case key.Matches(msg, m.keys.Refresh):
		m.refresh()
		return m, nil

	case key.Matches(msg, m.keys.Preview):
		if m.tab == TabPersonas {
			m.openPreview()
		}
		return m, nil
	}

	// Everything else goes to the active pane.
	var cmd tea.Cmd
	switch m.tab {
	case TabPersonas:
		m.personaTable, cmd = m.personaTable.Update(msg)
	case TabEvents:
		m.eventView, cmd = m.eventView.Update(msg)
	case TabRelationships:
		m.relationTable, cmd = m.relationTable.Update(msg)
	}
	return m, cmd
}

// ═══════════════════════════════════════════════════════════════════════════
// STATE REFRESH
// ═══════════════════════════════════════════════════════════════════════════

// refresh rebuilds the tables and status bar from the source.
func (m *Model) refresh() {
	stats := m.source.Stats()

	evo := make(map[string]evolution.PersonaState)
	for _, st := range m.source.EvolutionSnapshot() {
		evo[st.PersonaID] = st
	}

	m.personaTable = m.personaTable.WithRows(personaRows(m.source, evo))
	m.relationTable = m.relationTable.WithRows(relationRows(m.source))

	m.statusBar.SetContent(
		"TROUPE",
		fmt.Sprintf("%d personas · %d frameworks · %d edges",
			stats.Personas, stats.Frameworks, stats.RelationshipEdges),
		fmt.Sprintf("turns %d · blends %d", stats.TurnsCompleted, stats.BlendsServed),
		fmt.Sprintf("up %s", stats.Uptime.Round(roundUptime)),
	)
}

func personaRows(src Source, evo map[string]evolution.PersonaState) []table.Row {
	personas := src.Personas()

	ids := make([]string, 0, len(personas))
	for id := range personas {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		p := personas[id]
		st := evo[p.CharacterID]
		rows = append(rows, table.NewRow(table.RowData{
			colLookup:    id,
			colPersona:   p.ID,
			colCharacter: p.Name,
			colFramework: p.FrameworkID,
			colWeight:    fmt.Sprintf("%.2f", p.Weight),
			colTemp:      fmt.Sprintf("%.2f", p.Params.Temperature),
			colVerbosity: fmt.Sprintf("%.2f", p.Params.Verbosity),
			colTurns:     fmt.Sprintf("%d", st.Count),
			colMilestone: fmt.Sprintf("%d", st.HighestMilestone),
		}))
	}
	return rows
}

func relationRows(src Source) []table.Row {
	entries := src.RelationshipSnapshot()

	rows := make([]table.Row, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, table.NewRow(table.RowData{
			colFrom:     e.From,
			colTo:       e.To,
			colAffinity: fmt.Sprintf("%+.1f", e.Affinity),
			colLog:      fmt.Sprintf("%d", len(e.Log)),
			colProb:     fmt.Sprintf("%.2f", src.InteractionProbability(e.From, e.To)),
		}))
	}
	return rows
}

// appendEvent adds one formatted line to the bounded feed.
func (m *Model) appendEvent(ev bus.Event) {
	m.eventLines = append(m.eventLines, formatEvent(ev, m.styles))
	if len(m.eventLines) > eventFeedMax {
		m.eventLines = m.eventLines[len(m.eventLines)-eventFeedMax:]
	}
	m.syncFeed()
}

// openPreview renders the highlighted persona's prompt into the overlay.
func (m *Model) openPreview() {
	row := m.personaTable.HighlightedRow()
	id, _ := row.Data[colLookup].(string)
	if id == "" {
		return
	}
	p, ok := m.source.Personas()[id]
	if !ok {
		return
	}

	m.previewTitle = p.Name + " · " + p.ID
	m.previewView.SetContent(renderMarkdown(p.Prompt, m.previewView.Width))
	m.previewView.GotoTop()
	m.showPreview = true
}
