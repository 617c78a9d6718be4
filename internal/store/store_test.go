package store

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/troupe/internal/bus"
	"github.com/normanking/troupe/internal/evolution"
	"github.com/normanking/troupe/internal/persona"
	"github.com/normanking/troupe/internal/relationship"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func fp(v float64) *float64 { return &v }

func TestOpenHealthAndReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Health(); err != nil {
		t.Errorf("Health: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	// Migrations are idempotent on reopen.
	s, err = Open(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s.Close()
}

func TestEvolutionRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	states := []evolution.PersonaState{
		{
			PersonaID:        "onyx",
			Count:            42,
			HighestMilestone: 25,
			Applied: persona.TraitDeltas{
				Verbosity: fp(0.6),
				NewQuirks: []string{"references past conversations about the sky"},
				Opinions:  map[string]string{"telescopes": "binoculars first"},
			},
		},
		{PersonaID: "spark", Count: 7},
	}
	if err := s.SaveEvolution(ctx, states); err != nil {
		t.Fatalf("SaveEvolution: %v", err)
	}

	loaded, err := s.LoadEvolution(ctx)
	if err != nil {
		t.Fatalf("LoadEvolution: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d states, want 2", len(loaded))
	}
	onyx := loaded[0]
	if onyx.PersonaID != "onyx" || onyx.Count != 42 || onyx.HighestMilestone != 25 {
		t.Errorf("onyx state = %+v", onyx)
	}
	if onyx.Applied.Verbosity == nil || *onyx.Applied.Verbosity != 0.6 {
		t.Errorf("applied verbosity = %v", onyx.Applied.Verbosity)
	}
	if len(onyx.Applied.NewQuirks) != 1 {
		t.Errorf("applied quirks = %v", onyx.Applied.NewQuirks)
	}

	// Upserts replace, not duplicate.
	states[0].Count = 43
	if err := s.SaveEvolution(ctx, states); err != nil {
		t.Fatalf("SaveEvolution again: %v", err)
	}
	loaded, _ = s.LoadEvolution(ctx)
	if len(loaded) != 2 || loaded[0].Count != 43 {
		t.Errorf("after upsert: %d states, count %d", len(loaded), loaded[0].Count)
	}
}

func TestRelationshipRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entries := []relationship.Entry{
		{From: "onyx", To: "spark", Affinity: 4.5, Log: []relationship.Record{
			{Type: relationship.Agreement, At: at},
			{Type: relationship.Banter, At: at.Add(time.Minute)},
		}},
		{From: "spark", To: "onyx", Affinity: 3.6},
	}
	if err := s.SaveRelationships(ctx, entries); err != nil {
		t.Fatalf("SaveRelationships: %v", err)
	}

	loaded, err := s.LoadRelationships(ctx)
	if err != nil {
		t.Fatalf("LoadRelationships: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d edges, want 2", len(loaded))
	}
	if loaded[0].From != "onyx" || loaded[0].Affinity != 4.5 {
		t.Errorf("edge = %+v", loaded[0])
	}
	if len(loaded[0].Log) != 2 || loaded[0].Log[1].Type != relationship.Banter {
		t.Errorf("log = %+v", loaded[0].Log)
	}
	if !loaded[0].Log[0].At.Equal(at) {
		t.Errorf("log timestamp = %v, want %v", loaded[0].Log[0].At, at)
	}
}

func TestEventJournal(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	types := []bus.EventType{
		bus.EventEngineStarted,
		bus.EventPersonaSelected,
		bus.EventPersonaSelected,
		bus.EventMilestoneApplied,
		bus.EventTurnCompleted,
	}
	for i, typ := range types {
		ev := bus.NewEvent(typ)
		ev.Timestamp = base.Add(time.Duration(i) * time.Second)
		ev.Persona = "onyx"
		if err := s.AppendEvent(ctx, ev); err != nil {
			t.Fatalf("AppendEvent %d: %v", i, err)
		}
	}

	recent, err := s.RecentEvents(ctx, "", 3)
	if err != nil {
		t.Fatalf("RecentEvents: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("recent len = %d, want 3", len(recent))
	}
	// Chronological order, newest three of the five.
	if recent[0].Type != bus.EventPersonaSelected || recent[2].Type != bus.EventTurnCompleted {
		t.Errorf("recent types = %v, %v, %v", recent[0].Type, recent[1].Type, recent[2].Type)
	}

	selected, err := s.RecentEvents(ctx, string(bus.EventPersonaSelected), 10)
	if err != nil {
		t.Fatalf("RecentEvents filtered: %v", err)
	}
	if len(selected) != 2 {
		t.Errorf("filtered len = %d, want 2", len(selected))
	}

	pruned, err := s.PruneEvents(ctx, 2)
	if err != nil {
		t.Fatalf("PruneEvents: %v", err)
	}
	if pruned != 3 {
		t.Errorf("pruned = %d, want 3", pruned)
	}
	if n, _ := s.EventCount(ctx); n != 2 {
		t.Errorf("EventCount = %d, want 2", n)
	}
}
