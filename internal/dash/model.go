package dash

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/evertras/bubble-table/table"
	"github.com/mistakenelf/teacup/statusbar"

	"github.com/normanking/troupe/internal/bus"
)

// ═══════════════════════════════════════════════════════════════════════════
// TABS
// ═══════════════════════════════════════════════════════════════════════════

// Tab identifies a dashboard pane.
type Tab int

const (
	TabPersonas Tab = iota
	TabEvents
	TabRelationships
)

// tabs is the display order.
var tabs = []Tab{TabPersonas, TabEvents, TabRelationships}

func (t Tab) String() string {
	switch t {
	case TabPersonas:
		return "Personas"
	case TabEvents:
		return "Events"
	case TabRelationships:
		return "Relationships"
	default:
		return "Unknown"
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// MODEL
// ═══════════════════════════════════════════════════════════════════════════

const (
	// eventFeedMax bounds the in-memory feed.
	eventFeedMax = 500

	// defaultReplay seeds the feed from bus history on startup.
	defaultReplay = 50
)

// Column keys for the bubble-table models. colLookup is carried in the row
// data without a column so the preview can find the persona in the source
// map, which is keyed by character id.
const (
	colLookup    = "lookup"
	colPersona   = "persona"
	colCharacter = "character"
	colFramework = "framework"
	colWeight    = "weight"
	colTemp      = "temperature"
	colVerbosity = "verbosity"
	colTurns     = "turns"
	colMilestone = "milestone"

	colFrom     = "from"
	colTo       = "to"
	colAffinity = "affinity"
	colLog      = "log"
	colProb     = "probability"
)

// Model is the dashboard state.
type Model struct {
	source Source
	events *bus.Bus

	// Event tap. The bus handler pushes into eventCh; waitForEvent drains
	// it one message per Update cycle.
	eventCh chan bus.Event
	sub     bus.SubscriptionID
	tapped  bool

	// Layout
	width  int
	height int
	ready  bool

	// Panes
	tab           Tab
	personaTable  table.Model
	relationTable table.Model
	eventView     viewport.Model
	eventLines    []string

	// Prompt preview overlay
	showPreview  bool
	previewView  viewport.Model
	previewTitle string

	// Chrome
	statusBar statusbar.Model
	help      help.Model
	keys      KeyMap
	styles    Styles
}

func newModel(cfg *Config) Model {
	styles := NewStyles()

	m := Model{
		source:        cfg.Source,
		events:        cfg.Events,
		eventCh:       make(chan bus.Event, 256),
		tab:           TabPersonas,
		personaTable:  newPersonaTable(styles),
		relationTable: newRelationTable(styles),
		help:          help.New(),
		keys:          DefaultKeyMap(),
		styles:        styles,
		statusBar: statusbar.New(
			statusbar.ColorConfig{
				Foreground: lipgloss.AdaptiveColor{Light: statusBarFg, Dark: statusBarFg},
				Background: lipgloss.AdaptiveColor{Light: accentColor, Dark: accentColor},
			},
			statusbar.ColorConfig{
				Foreground: lipgloss.AdaptiveColor{Light: statusBarFg, Dark: statusBarFg},
				Background: lipgloss.AdaptiveColor{Light: statusBarBg, Dark: statusBarBg},
			},
			statusbar.ColorConfig{
				Foreground: lipgloss.AdaptiveColor{Light: statusBarFg, Dark: statusBarFg},
				Background: lipgloss.AdaptiveColor{Light: statusBarBg, Dark: statusBarBg},
			},
			statusbar.ColorConfig{
				Foreground: lipgloss.AdaptiveColor{Light: statusBarFg, Dark: statusBarFg},
				Background: lipgloss.AdaptiveColor{Light: dimColor, Dark: dimColor},
			},
		),
	}

	if cfg.Events != nil {
		replay := cfg.ReplayCount
		if replay <= 0 {
			replay = defaultReplay
		}
		for _, ev := range cfg.Events.Recent(replay) {
			m.eventLines = append(m.eventLines, formatEvent(ev, styles))
		}

		ch := m.eventCh
		m.sub = cfg.Events.Subscribe("", func(ev bus.Event) {
			// Drop rather than block; the feed is advisory.
			select {
			case ch <- ev:
			default:
			}
		})
		m.tapped = true
	}

	m.refresh()
	return m
}

// cleanup detaches the bus tap. Safe to call once the program exits.
func (m Model) cleanup() {
	if m.tapped && m.events != nil {
		m.events.Unsubscribe(m.sub)
	}
}

func newPersonaTable(styles Styles) table.Model {
	return table.New([]table.Column{
		table.NewColumn(colPersona, "Persona", 24),
		table.NewFlexColumn(colCharacter, "Character", 1),
		table.NewFlexColumn(colFramework, "Framework", 1),
		table.NewColumn(colWeight, "Weight", 8),
		table.NewColumn(colTemp, "Temp", 6),
		table.NewColumn(colVerbosity, "Verb", 6),
		table.NewColumn(colTurns, "Turns", 7),
		table.NewColumn(colMilestone, "Mile", 6),
	}).
		Focused(true).
		WithPageSize(12).
		WithBaseStyle(styles.TableBase).
		HeaderStyle(styles.TableHeader).
		SortByAsc(colPersona)
}

func newRelationTable(styles Styles) table.Model {
	return table.New([]table.Column{
		table.NewColumn(colFrom, "From", 16),
		table.NewColumn(colTo, "To", 16),
		table.NewColumn(colAffinity, "Affinity", 10),
		table.NewColumn(colLog, "Recent", 8),
		table.NewColumn(colProb, "P(speak)", 10),
	}).
		Focused(true).
		WithPageSize(12).
		WithBaseStyle(styles.TableBase).
		HeaderStyle(styles.TableHeader).
		SortByAsc(colFrom)
}

// ═══════════════════════════════════════════════════════════════════════════
// TEA INTERFACE
// ═══════════════════════════════════════════════════════════════════════════

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{tick()}
	if m.tapped {
		cmds = append(cmds, waitForEvent(m.eventCh))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	return update(m, msg)
}

func (m Model) View() string {
	return view(m)
}
