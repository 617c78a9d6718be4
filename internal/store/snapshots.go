package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/normanking/troupe/internal/evolution"
	"github.com/normanking/troupe/internal/relationship"
)

// SaveEvolution upserts every evolution record in one transaction.
func (s *Store) SaveEvolution(ctx context.Context, states []evolution.PersonaState) error {
	if len(states) == 0 {
		return nil
	}
	query := `
		INSERT INTO evolution_states (persona_id, interaction_count, highest_milestone, applied_deltas, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(persona_id) DO UPDATE SET
			interaction_count = excluded.interaction_count,
			highest_milestone = excluded.highest_milestone,
			applied_deltas = excluded.applied_deltas,
			updated_at = excluded.updated_at
	`
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		for _, st := range states {
			applied, err := json.Marshal(st.Applied)
			if err != nil {
				return fmt.Errorf("marshal deltas for %s: %w", st.PersonaID, err)
			}
			if _, err := tx.ExecContext(ctx, query,
				st.PersonaID, st.Count, st.HighestMilestone, string(applied), now); err != nil {
				return fmt.Errorf("upsert evolution state %s: %w", st.PersonaID, err)
			}
		}
		return nil
	})
}

// LoadEvolution reads every persisted evolution record, sorted by persona.
func (s *Store) LoadEvolution(ctx context.Context) ([]evolution.PersonaState, error) {
	query := `
		SELECT persona_id, interaction_count, highest_milestone, applied_deltas
		FROM evolution_states
		ORDER BY persona_id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query evolution states: %w", err)
	}
	defer rows.Close()

	var out []evolution.PersonaState
	for rows.Next() {
		var st evolution.PersonaState
		var applied string
		if err := rows.Scan(&st.PersonaID, &st.Count, &st.HighestMilestone, &applied); err != nil {
			return nil, fmt.Errorf("scan evolution state: %w", err)
		}
		if err := json.Unmarshal([]byte(applied), &st.Applied); err != nil {
			return nil, fmt.Errorf("decode deltas for %s: %w", st.PersonaID, err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// SaveRelationships upserts every directed edge in one transaction.
func (s *Store) SaveRelationships(ctx context.Context, entries []relationship.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	query := `
		INSERT INTO relationship_edges (from_id, to_id, affinity, log, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(from_id, to_id) DO UPDATE SET
			affinity = excluded.affinity,
			log = excluded.log,
			updated_at = excluded.updated_at
	`
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		for _, e := range entries {
			log, err := json.Marshal(e.Log)
			if err != nil {
				return fmt.Errorf("marshal log for %s->%s: %w", e.From, e.To, err)
			}
			if _, err := tx.ExecContext(ctx, query, e.From, e.To, e.Affinity, string(log), now); err != nil {
				return fmt.Errorf("upsert edge %s->%s: %w", e.From, e.To, err)
			}
		}
		return nil
	})
}

// LoadRelationships reads every persisted directed edge.
func (s *Store) LoadRelationships(ctx context.Context) ([]relationship.Entry, error) {
	query := `
		SELECT from_id, to_id, affinity, log
		FROM relationship_edges
		ORDER BY from_id, to_id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query relationship edges: %w", err)
	}
	defer rows.Close()

	var out []relationship.Entry
	for rows.Next() {
		var e relationship.Entry
		var log string
		if err := rows.Scan(&e.From, &e.To, &e.Affinity, &log); err != nil {
			return nil, fmt.Errorf("scan relationship edge: %w", err)
		}
		if err := json.Unmarshal([]byte(log), &e.Log); err != nil {
			return nil, fmt.Errorf("decode log for %s->%s: %w", e.From, e.To, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
