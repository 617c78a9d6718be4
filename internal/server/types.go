// Package server provides the troupe HTTP + WebSocket gateway. It exposes the
// persona engine's turn operations over REST, streams bus events to WebSocket
// subscribers, and owns state persistence: snapshots are loaded on start and
// written on an interval, so the engine itself never touches the database.
package server

import (
	"time"

	"github.com/normanking/troupe/internal/engine"
)

// Config holds gateway configuration.
type Config struct {
	// Host/Port for the HTTP listener.
	Host string
	Port int

	// AuthRequired enforces API-key authentication on /v1 endpoints.
	// /healthz is always open.
	AuthRequired bool

	// Version is reported by /healthz.
	Version string

	// ShutdownTimeout is the graceful shutdown timeout.
	ShutdownTimeout time.Duration

	// SnapshotInterval is how often engine state is persisted. Zero disables
	// the loop (a final snapshot is still written on Stop).
	SnapshotInterval time.Duration

	// EventJournalKeep bounds the persisted event journal.
	EventJournalKeep int
}

// DefaultConfig returns sensible defaults for the gateway.
func DefaultConfig() *Config {
	return &Config{
		Host:             "127.0.0.1",
		Port:             8787,
		AuthRequired:     false,
		Version:          "dev",
		ShutdownTimeout:  5 * time.Second,
		SnapshotInterval: 30 * time.Second,
		EventJournalKeep: 10000,
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// API RESPONSE TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`
	Uptime    string    `json:"uptime"`
	Personas  int       `json:"personas"`
	Clients   int       `json:"clients"`
	Store     string    `json:"store"` // ok, error, disabled
}

// ProbeResponse is returned by GET /v1/relationships?from=&to=.
type ProbeResponse struct {
	From        string  `json:"from"`
	To          string  `json:"to"`
	Affinity    float64 `json:"affinity"`
	Probability float64 `json:"probability"`
}

// BlendRequest is the payload for POST /v1/blend.
type BlendRequest struct {
	CharacterID string            `json:"character_id"`
	ContextType string            `json:"context_type"`
	ContextData map[string]string `json:"context_data,omitempty"`
}

// StatsResponse is returned by GET /v1/stats.
type StatsResponse struct {
	engine.Stats
	WSClients int `json:"ws_clients"`
}

// ErrorResponse is the JSON error envelope for all failed requests.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
