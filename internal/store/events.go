package store

import (
	"context"
	"fmt"

	"github.com/normanking/troupe/internal/bus"
)

// AppendEvent journals one engine event. Append failures are the caller's
// to decide; the snapshot loop logs and drops, it never blocks the engine.
func (s *Store) AppendEvent(ctx context.Context, ev bus.Event) error {
	query := `
		INSERT INTO events (id, timestamp, type, persona, peer, channel, reason, score, milestone, delta, affinity, details, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		ev.ID, ev.Timestamp, string(ev.Type),
		ev.Persona, ev.Peer,
		ev.Channel, ev.Reason, ev.Score,
		ev.Milestone, ev.Delta, ev.Affinity,
		ev.Details, ev.Error,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// RecentEvents returns the newest events, oldest first, optionally filtered
// by type. A limit of 0 or less defaults to 100.
func (s *Store) RecentEvents(ctx context.Context, eventType string, limit int) ([]bus.Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, timestamp, type, persona, peer, channel, reason, score, milestone, delta, affinity, details, error
		FROM events
	`
	args := []any{}
	if eventType != "" {
		query += ` WHERE type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []bus.Event
	for rows.Next() {
		var ev bus.Event
		var typ string
		if err := rows.Scan(
			&ev.ID, &ev.Timestamp, &typ,
			&ev.Persona, &ev.Peer,
			&ev.Channel, &ev.Reason, &ev.Score,
			&ev.Milestone, &ev.Delta, &ev.Affinity,
			&ev.Details, &ev.Error,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = bus.EventType(typ)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Flip newest-first into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// PruneEvents deletes all but the newest keep events and reports how many
// rows went away.
func (s *Store) PruneEvents(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	query := `
		DELETE FROM events
		WHERE id NOT IN (SELECT id FROM events ORDER BY timestamp DESC LIMIT ?)
	`
	result, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		s.log.Debug().Int64("pruned", rows).Msg("event journal trimmed")
	}
	return rows, nil
}

// EventCount reports the journal size.
func (s *Store) EventCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
