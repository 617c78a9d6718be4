package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/normanking/troupe/internal/bus"
	"github.com/normanking/troupe/internal/engine"
	"github.com/normanking/troupe/internal/persona"
	"github.com/normanking/troupe/internal/relationship"
)

const maxBodyBytes = 1 << 20

// handleTurn runs persona selection for an incoming message.
// POST /v1/turns
func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}

	var req engine.TurnRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "EMPTY_CONTENT", "content is required")
		return
	}

	result, err := s.engine.HandleTurn(req)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "SELECTION_FAILED", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleComplete feeds a finished turn back into evolution and relationships.
// POST /v1/turns/complete
func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}

	var outcome engine.TurnOutcome
	if !decodeJSON(w, r, &outcome) {
		return
	}
	if outcome.PersonaID == "" {
		writeError(w, http.StatusBadRequest, "MISSING_PERSONA", "persona_id is required")
		return
	}

	completion := s.engine.CompleteTurn(outcome)
	writeJSON(w, http.StatusOK, completion)
}

// handleBlend compiles a context blend for one character.
// POST /v1/blend
func (s *Server) handleBlend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use POST")
		return
	}

	var req BlendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CharacterID == "" || req.ContextType == "" {
		writeError(w, http.StatusBadRequest, "MISSING_FIELDS", "character_id and context_type are required")
		return
	}

	blended := s.engine.BlendFor(req.CharacterID, req.ContextType, req.ContextData)
	if blended == nil {
		writeError(w, http.StatusNotFound, "BLEND_UNAVAILABLE", "no blend for that character and context")
		return
	}

	writeJSON(w, http.StatusOK, blended)
}

// handlePersonas lists every compiled persona, sorted by character id.
// GET /v1/personas
func (s *Server) handlePersonas(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}

	compiled := s.engine.Personas()
	list := make([]*persona.CompiledPersona, 0, len(compiled))
	for _, p := range compiled {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CharacterID < list[j].CharacterID })

	writeJSON(w, http.StatusOK, list)
}

// handlePersona returns a single compiled persona.
// GET /v1/personas/{id}
func (s *Server) handlePersona(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/v1/personas/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "PERSONA_NOT_FOUND", "unknown persona")
		return
	}

	p, ok := s.engine.Persona(id)
	if !ok {
		writeError(w, http.StatusNotFound, "PERSONA_NOT_FOUND", "unknown persona: "+id)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// handleRelationships returns the full edge list, or a single directed probe
// with interaction probability when from and to are given.
// GET /v1/relationships[?from=a&to=b]
func (s *Server) handleRelationships(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}

	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")
	if from != "" && to != "" {
		writeJSON(w, http.StatusOK, ProbeResponse{
			From:        from,
			To:          to,
			Affinity:    s.engine.Affinity(from, to),
			Probability: s.engine.InteractionProbability(from, to),
		})
		return
	}

	entries := s.engine.RelationshipSnapshot()
	if entries == nil {
		entries = []relationship.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleEvents returns recent engine events, newest last. Backed by the
// durable journal when a store is attached, otherwise by bus history.
// GET /v1/events[?type=persona.selected&limit=50]
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}

	eventType := r.URL.Query().Get("type")
	limit := 100
	if n := r.URL.Query().Get("limit"); n != "" {
		if parsed, err := strconv.Atoi(n); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	if s.store != nil {
		events, err := s.store.RecentEvents(r.Context(), eventType, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "JOURNAL_ERROR", err.Error())
			return
		}
		if events == nil {
			events = []bus.Event{}
		}
		writeJSON(w, http.StatusOK, events)
		return
	}

	events := []bus.Event{}
	if s.events != nil {
		for _, ev := range s.events.Recent(limit) {
			if eventType != "" && string(ev.Type) != eventType {
				continue
			}
			events = append(events, ev)
		}
	}
	writeJSON(w, http.StatusOK, events)
}

// handleStats reports engine and gateway counters.
// GET /v1/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Stats:     s.engine.Stats(),
		WSClients: s.ClientCount(),
	})
}

// handleHealth is the unauthenticated liveness probe.
// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "use GET")
		return
	}

	storeStatus := "disabled"
	status := "healthy"
	if s.store != nil {
		storeStatus = "ok"
		if err := s.store.Health(); err != nil {
			storeStatus = "error"
			status = "degraded"
		}
	}

	stats := s.engine.Stats()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    status,
		Service:   "troupe-gateway",
		Version:   s.cfg.Version,
		StartedAt: s.started,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Personas:  stats.Personas,
		Clients:   s.ClientCount(),
		Store:     storeStatus,
	})
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

// decodeJSON parses the request body into v, writing the error response
// itself when the payload is unusable.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return false
	}
	return true
}
