// Package dash provides the troupe monitoring dashboard, a Bubble Tea TUI
// with a persona roster, a live event feed tapped off the bus, and a
// relationship matrix. Compiled prompts are previewed in a Glamour-rendered
// overlay.
package dash

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/normanking/troupe/internal/bus"
	"github.com/normanking/troupe/internal/engine"
	"github.com/normanking/troupe/internal/evolution"
	"github.com/normanking/troupe/internal/persona"
	"github.com/normanking/troupe/internal/relationship"
)

// Source is the data the dashboard renders. The engine satisfies it
// directly; a remote client could stand in for it later.
type Source interface {
	Personas() map[string]*persona.CompiledPersona
	Stats() engine.Stats
	RelationshipSnapshot() []relationship.Entry
	EvolutionSnapshot() []evolution.PersonaState
	InteractionProbability(speaker, candidate string) float64
}

var _ Source = (*engine.Engine)(nil)

// Config holds dashboard configuration.
type Config struct {
	// Source supplies personas, stats, and relationships.
	Source Source

	// Events is tapped for the live feed. Optional; without it the feed
	// stays empty.
	Events *bus.Bus

	// ReplayCount is how many historical events seed the feed.
	ReplayCount int
}

// New creates the dashboard program.
func New(cfg *Config) (*tea.Program, func(), error) {
	if cfg == nil || cfg.Source == nil {
		return nil, nil, fmt.Errorf("dash: source is required")
	}

	m := newModel(cfg)

	prog := tea.NewProgram(m, tea.WithAltScreen())
	return prog, m.cleanup, nil
}

// Run starts the dashboard and blocks until it exits.
func Run(cfg *Config) error {
	prog, cleanup, err := New(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if _, err := prog.Run(); err != nil {
		return fmt.Errorf("dashboard error: %w", err)
	}
	return nil
}
