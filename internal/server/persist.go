package server

import (
	"context"
	"time"

	"github.com/normanking/troupe/internal/bus"
)

const persistTimeout = 10 * time.Second

// restoreState loads the persisted evolution and relationship snapshots into
// the engine. Called once on Start, before the listener binds.
func (s *Server) restoreState() error {
	if s.store == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(s.ctx, persistTimeout)
	defer cancel()

	evo, err := s.store.LoadEvolution(ctx)
	if err != nil {
		return err
	}
	rel, err := s.store.LoadRelationships(ctx)
	if err != nil {
		return err
	}

	if len(evo) == 0 && len(rel) == 0 {
		return nil
	}

	s.engine.Restore(evo, rel)
	s.log.Info("restored state: %d evolution states, %d relationship edges", len(evo), len(rel))
	return nil
}

// runSnapshotLoop persists engine state on the configured interval and prunes
// the event journal while it is at it.
func (s *Server) runSnapshotLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.snapshot()
			s.pruneJournal()
		case <-s.ctx.Done():
			return
		}
	}
}

// snapshot writes the engine's current evolution and relationship state.
// Uses a background context so the final snapshot during Stop still runs
// after the server context is cancelled.
func (s *Server) snapshot() {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.store.SaveEvolution(ctx, s.engine.EvolutionSnapshot()); err != nil {
		s.log.Error("evolution snapshot failed: %v", err)
	}
	if err := s.store.SaveRelationships(ctx, s.engine.RelationshipSnapshot()); err != nil {
		s.log.Error("relationship snapshot failed: %v", err)
	}
}

func (s *Server) pruneJournal() {
	if s.cfg.EventJournalKeep <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if _, err := s.store.PruneEvents(ctx, s.cfg.EventJournalKeep); err != nil {
		s.log.Error("event prune failed: %v", err)
	}
}

// journalEvent appends a published bus event to the durable journal. Runs on
// the bus subscriber goroutine, so a slow disk throttles journaling without
// touching turn latency.
func (s *Server) journalEvent(event bus.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := s.store.AppendEvent(ctx, event); err != nil {
		s.log.Warn("event journal append failed: %v", err)
	}
}
