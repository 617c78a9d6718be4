// Package bus provides the event distribution system for the troupe engine.
// Selection decisions, compilations, evolution triggers and relationship
// updates are published here for external observers; the engine itself never
// formats or ships them.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of engine event.
type EventType string

const (
	// Selection events
	EventPersonaSelected EventType = "persona.selected"
	EventSelectionFailed EventType = "selection.failed"

	// Compilation events
	EventPersonaCompiled EventType = "persona.compiled"
	EventBlendServed     EventType = "blend.served"
	EventBlendFailed     EventType = "blend.failed"

	// Evolution events
	EventMilestoneApplied EventType = "evolution.milestone"
	EventEvolutionIgnored EventType = "evolution.ignored"

	// Relationship events
	EventAffinityUpdated     EventType = "relationship.updated"
	EventRelationshipIgnored EventType = "relationship.ignored"

	// Registry events
	EventDefinitionRejected EventType = "definition.rejected"

	// Lifecycle events
	EventEngineStarted EventType = "engine.started"
	EventTurnCompleted EventType = "turn.completed"
)

// Event is a single engine event. Only the fields relevant to the event
// type are set; the rest are omitted from the JSON encoding.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	// Persona context
	Persona string `json:"persona,omitempty"`
	Peer    string `json:"peer,omitempty"`

	// Selection context
	Channel string `json:"channel,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Score   float64 `json:"score,omitempty"`

	// Evolution / relationship context
	Milestone int     `json:"milestone,omitempty"`
	Delta     float64 `json:"delta,omitempty"`
	Affinity  float64 `json:"affinity,omitempty"`

	// Free-form context
	Details string `json:"details,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewEvent creates an event of the given type with a fresh ID and timestamp.
func NewEvent(eventType EventType) Event {
	return Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
	}
}
