// Package engine wires the persona registry, compiler, blender, router,
// evolution tracker and relationship ledger into one synchronous facade.
// Callers hand it message turns and feed generation outcomes back; the
// engine owns persona state but never performs I/O or generation itself.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/normanking/troupe/internal/bus"
	"github.com/normanking/troupe/internal/config"
	"github.com/normanking/troupe/internal/evolution"
	"github.com/normanking/troupe/internal/logging"
	"github.com/normanking/troupe/internal/persona"
	"github.com/normanking/troupe/internal/relationship"
	"github.com/normanking/troupe/internal/router"
)

// TurnRequest is one inbound message for the engine to route.
type TurnRequest struct {
	Content       string            `json:"content"`
	ChannelID     string            `json:"channel_id"`
	UserID        string            `json:"user_id,omitempty"`
	ContextType   string            `json:"context_type,omitempty"` // requests a blend when set
	ContextData   map[string]string `json:"context_data,omitempty"`
	ForceReselect bool              `json:"force_reselect,omitempty"`
}

// TurnResult carries everything the caller needs to invoke generation.
type TurnResult struct {
	Persona    *persona.CompiledPersona `json:"persona"`
	Reason     router.Reason            `json:"reason"`
	Score      float64                  `json:"score,omitempty"`
	Candidates int                      `json:"candidates,omitempty"`
	Blended    bool                     `json:"blended,omitempty"`
}

// TurnOutcome feeds the result of a generated turn back into engine state.
type TurnOutcome struct {
	PersonaID   string                   `json:"persona_id"`
	ChannelID   string                   `json:"channel_id,omitempty"`
	Peer        string                   `json:"peer,omitempty"` // persona on the other side of the exchange
	Interaction relationship.Interaction `json:"interaction,omitempty"`
}

// Completion reports what a turn completion changed.
type Completion struct {
	Evolution    evolution.Result     `json:"evolution"`
	Relationship *relationship.Update `json:"relationship,omitempty"`
	Recompiled   bool                 `json:"recompiled,omitempty"`
}

// Stats is a point-in-time view of engine activity.
type Stats struct {
	Started           time.Time     `json:"started"`
	Uptime            time.Duration `json:"uptime"`
	Personas          int           `json:"personas"`
	Frameworks        int           `json:"frameworks"`
	Diagnostics       int           `json:"diagnostics"`
	Selections        int64         `json:"selections"`
	TurnsCompleted    int64         `json:"turns_completed"`
	BlendsServed      int64         `json:"blends_served"`
	BlendCacheSize    int           `json:"blend_cache_size"`
	StickyChannels    int           `json:"sticky_channels"`
	RelationshipEdges int           `json:"relationship_edges"`
}

// Engine is the persona engine facade. All operations are synchronous; the
// compiled snapshot map is replaced wholesale on recompilation so in-flight
// turns keep a consistent view without holding locks.
type Engine struct {
	cfg    *config.Config
	log    *logging.Logger
	events *bus.Bus

	registry *persona.Registry
	router   *router.Router
	blender  *persona.Blender
	tracker  *evolution.Tracker
	ledger   *relationship.Ledger

	mu       sync.RWMutex
	overlays map[string]*persona.Character       // base plus applied evolution deltas
	compiled map[string]*persona.CompiledPersona // immutable snapshots by character id

	started    time.Time
	selections atomic.Int64
	turns      atomic.Int64
	blends     atomic.Int64
}

// New builds an engine over a loaded registry. Registry diagnostics are
// published as definition.rejected events; the engine itself refuses to
// start only when not a single persona compiles.
func New(cfg *config.Config, reg *persona.Registry, events *bus.Bus, log *logging.Logger) (*Engine, error) {
	if reg == nil {
		return nil, fmt.Errorf("engine requires a registry")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.Global()
	}
	log = log.WithComponent("engine")

	e := &Engine{
		cfg:      cfg,
		log:      log,
		events:   events,
		registry: reg,
		tracker:  evolution.NewTracker(),
		overlays: make(map[string]*persona.Character),
		compiled: make(map[string]*persona.CompiledPersona),
		started:  time.Now(),
	}

	e.router = router.New(
		router.WithStickyWindow(cfg.Router.StickyWindow),
		router.WithCloseMargin(cfg.Router.CloseMargin),
		router.WithActivityRouting(cfg.Router.ActivityRouting),
		router.WithDefaultPersona(cfg.Engine.DefaultPersona),
	)
	e.blender = persona.NewBlender(reg,
		persona.WithMinWeight(cfg.Blend.MinWeight),
		persona.WithCacheTTL(cfg.Blend.CacheTTL),
		persona.WithDefaultWeights(cfg.Blend.DefaultWeights),
	)
	e.ledger = relationship.NewLedger(e.traitsOf,
		relationship.WithLogSize(cfg.Relationship.LogSize),
		relationship.WithFrequencyWindow(cfg.Relationship.FrequencyWindow),
		relationship.WithResponderFactor(cfg.Relationship.ResponderFactor),
	)

	for _, d := range reg.Diagnostics() {
		log.Warn("definition rejected: %s", d)
		ev := bus.NewEvent(bus.EventDefinitionRejected)
		ev.Persona = d.ID
		ev.Details = d.Kind
		ev.Error = d.String()
		e.publish(ev)
	}

	for _, c := range reg.Characters() {
		e.tracker.Register(c.ID, c.EvolutionStages)
		e.compileInto(e.overlays, e.compiled, c.Clone())
	}
	if len(e.compiled) == 0 {
		return nil, fmt.Errorf("no usable personas: every character failed to compile")
	}

	log.Info("engine ready: %d personas, %d frameworks, %d diagnostics",
		len(e.compiled), len(reg.Frameworks()), len(reg.Diagnostics()))

	ev := bus.NewEvent(bus.EventEngineStarted)
	ev.Details = fmt.Sprintf("%d personas", len(e.compiled))
	e.publish(ev)

	return e, nil
}

// compileInto compiles one overlay and stores both maps. Returns false and
// publishes a diagnostic event when the compile fails.
func (e *Engine) compileInto(overlays map[string]*persona.Character, compiled map[string]*persona.CompiledPersona, c *persona.Character) bool {
	f, exact := e.registry.ResolveFramework(c)
	if f == nil {
		e.log.Error("character %s has no resolvable framework", c.ID)
		return false
	}
	if !exact {
		e.log.Warn("character %s fell back to framework %s", c.ID, f.ID)
	}

	cp, err := persona.Compile(c, f)
	if err != nil {
		e.log.Error("compile %s against %s: %v", c.ID, f.ID, err)
		ev := bus.NewEvent(bus.EventDefinitionRejected)
		ev.Persona = c.ID
		ev.Details = "character"
		ev.Error = err.Error()
		e.publish(ev)
		return false
	}

	overlays[c.ID] = c
	compiled[c.ID] = cp

	ev := bus.NewEvent(bus.EventPersonaCompiled)
	ev.Persona = c.ID
	ev.Details = cp.ID
	e.publish(ev)
	return true
}

// HandleTurn routes one message and returns the persona that should answer
// it, blended for the requested context when the character supports it.
func (e *Engine) HandleTurn(req TurnRequest) (*TurnResult, error) {
	snapshot := e.Personas()

	d := e.router.Select(snapshot, router.Request{
		Content:       req.Content,
		ChannelID:     req.ChannelID,
		UserID:        req.UserID,
		ForceReselect: req.ForceReselect,
	})
	if d.Persona == nil {
		ev := bus.NewEvent(bus.EventSelectionFailed)
		ev.Channel = req.ChannelID
		ev.Error = "no personas available"
		e.publish(ev)
		return nil, fmt.Errorf("no personas available")
	}
	e.selections.Add(1)

	res := &TurnResult{
		Persona:    d.Persona,
		Reason:     d.Reason,
		Score:      d.Score,
		Candidates: d.Candidates,
	}

	ev := bus.NewEvent(bus.EventPersonaSelected)
	ev.Persona = d.Persona.CharacterID
	ev.Channel = req.ChannelID
	ev.Reason = string(d.Reason)
	ev.Score = d.Score
	e.publish(ev)

	if req.ContextType != "" {
		if blended := e.BlendFor(d.Persona.CharacterID, req.ContextType, req.ContextData); blended != nil {
			res.Persona = blended
			res.Blended = true
		} else if e.blendConfigured(d.Persona.CharacterID) {
			ev := bus.NewEvent(bus.EventBlendFailed)
			ev.Persona = d.Persona.CharacterID
			ev.Details = req.ContextType
			e.publish(ev)
		}
	}

	e.log.Debug("turn routed to %s via %s (score %.1f)", d.Persona.CharacterID, d.Reason, d.Score)
	return res, nil
}

// blendConfigured reports whether the character declares blending at all,
// which separates "blend degraded" from "blend never applied".
func (e *Engine) blendConfigured(characterID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.overlays[characterID]
	return ok && c.Blending != nil && c.Blending.Enabled
}

// BlendFor returns a context-blended bundle for the character, or nil when
// blending is off, unknown, or fails; nil always means "use the base".
func (e *Engine) BlendFor(characterID, contextType string, contextData map[string]string) *persona.CompiledPersona {
	e.mu.RLock()
	overlay := e.overlays[characterID]
	e.mu.RUnlock()
	if overlay == nil {
		return nil
	}

	cp := e.blender.Blend(overlay, contextType, contextData)
	if cp != nil {
		e.blends.Add(1)
		ev := bus.NewEvent(bus.EventBlendServed)
		ev.Persona = characterID
		ev.Details = cp.ID
		e.publish(ev)
	}
	return cp
}

// CompleteTurn records one finished generation: evolution progress for the
// persona that spoke, and optionally a relationship exchange with a peer
// persona. Milestone crossings recompile the persona before returning.
func (e *Engine) CompleteTurn(outcome TurnOutcome) Completion {
	comp := Completion{}

	comp.Evolution = e.tracker.RecordInteraction(outcome.PersonaID)
	if !comp.Evolution.Known {
		e.log.Warn("turn completion for unknown persona %q", outcome.PersonaID)
		ev := bus.NewEvent(bus.EventEvolutionIgnored)
		ev.Persona = outcome.PersonaID
		ev.Details = "unknown persona"
		e.publish(ev)
		return comp
	}

	if comp.Evolution.Milestone > 0 {
		comp.Recompiled = e.applyEvolution(outcome.PersonaID, comp.Evolution.Milestone)
	}

	if outcome.Peer != "" && outcome.Interaction != "" {
		up := e.ledger.RecordInteraction(outcome.PersonaID, outcome.Peer, outcome.Interaction)
		comp.Relationship = &up
		if up.Known {
			ev := bus.NewEvent(bus.EventAffinityUpdated)
			ev.Persona = up.Speaker
			ev.Peer = up.Responder
			ev.Delta = up.SpeakerDelta
			ev.Affinity = up.SpeakerAffinity
			ev.Details = string(up.Type)
			e.publish(ev)
		} else {
			ev := bus.NewEvent(bus.EventRelationshipIgnored)
			ev.Persona = outcome.PersonaID
			ev.Peer = outcome.Peer
			ev.Details = string(outcome.Interaction)
			e.publish(ev)
		}
	}

	e.turns.Add(1)
	ev := bus.NewEvent(bus.EventTurnCompleted)
	ev.Persona = outcome.PersonaID
	ev.Channel = outcome.ChannelID
	e.publish(ev)

	return comp
}

// applyEvolution rebuilds the persona's overlay from its base character and
// the cumulative applied deltas, recompiles it, and swaps the snapshot maps.
func (e *Engine) applyEvolution(characterID string, milestone int) bool {
	base, ok := e.registry.Character(characterID)
	if !ok {
		return false
	}
	applied, ok := e.tracker.AppliedDeltas(characterID)
	if !ok {
		return false
	}
	overlay := base.ApplyDeltas(applied)

	e.mu.Lock()
	overlays := make(map[string]*persona.Character, len(e.overlays))
	compiled := make(map[string]*persona.CompiledPersona, len(e.compiled))
	for id, c := range e.overlays {
		overlays[id] = c
	}
	for id, cp := range e.compiled {
		compiled[id] = cp
	}
	ok = e.compileInto(overlays, compiled, overlay)
	if ok {
		e.overlays = overlays
		e.compiled = compiled
	}
	e.mu.Unlock()

	if !ok {
		return false
	}
	e.blender.Invalidate(characterID)

	e.log.Info("persona %s evolved at milestone %d", characterID, milestone)
	ev := bus.NewEvent(bus.EventMilestoneApplied)
	ev.Persona = characterID
	ev.Milestone = milestone
	e.publish(ev)
	return true
}

// Personas returns the current compiled snapshot. The map is replaced, never
// mutated, so callers may iterate it without further locking.
func (e *Engine) Personas() map[string]*persona.CompiledPersona {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.compiled
}

// Persona returns one compiled snapshot by character id.
func (e *Engine) Persona(characterID string) (*persona.CompiledPersona, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cp, ok := e.compiled[characterID]
	return cp, ok
}

// Character returns a copy of the character's current evolved overlay.
func (e *Engine) Character(characterID string) (*persona.Character, bool) {
	e.mu.RLock()
	overlay := e.overlays[characterID]
	e.mu.RUnlock()
	if overlay == nil {
		return nil, false
	}
	return overlay.Clone(), true
}

// Registry exposes the loaded definitions for read-only inspection.
func (e *Engine) Registry() *persona.Registry { return e.registry }

// InteractionProbability estimates how likely the speaker is to engage the
// candidate next.
func (e *Engine) InteractionProbability(speaker, candidate string) float64 {
	return e.ledger.Probability(speaker, candidate)
}

// Affinity reports the directed affinity between two personas.
func (e *Engine) Affinity(from, to string) float64 {
	return e.ledger.Affinity(from, to)
}

// Sticky reports the channel's current sticky persona, if any.
func (e *Engine) Sticky(channelID string) (string, bool) {
	return e.router.Sticky(channelID)
}

// EvolutionSnapshot captures evolution state for persistence.
func (e *Engine) EvolutionSnapshot() []evolution.PersonaState {
	return e.tracker.Snapshot()
}

// RelationshipSnapshot captures relationship state for persistence.
func (e *Engine) RelationshipSnapshot() []relationship.Entry {
	return e.ledger.Snapshot()
}

// Restore replaces evolution and relationship state from persisted
// snapshots and rebuilds every persona overlay to match.
func (e *Engine) Restore(evo []evolution.PersonaState, rel []relationship.Entry) {
	e.tracker.Restore(evo)
	e.ledger.Restore(rel)

	e.mu.Lock()
	overlays := make(map[string]*persona.Character, len(e.overlays))
	compiled := make(map[string]*persona.CompiledPersona, len(e.compiled))
	for _, base := range e.registry.Characters() {
		if _, had := e.overlays[base.ID]; !had {
			continue
		}
		overlay := base.Clone()
		if applied, ok := e.tracker.AppliedDeltas(base.ID); ok && !applied.Empty() {
			overlay = base.ApplyDeltas(applied)
		}
		e.compileInto(overlays, compiled, overlay)
	}
	if len(compiled) > 0 {
		e.overlays = overlays
		e.compiled = compiled
	}
	e.mu.Unlock()

	for id := range e.overlays {
		e.blender.Invalidate(id)
	}
	e.log.Info("state restored: %d evolution records, %d relationship edges", len(evo), len(rel))
}

// Stats assembles a point-in-time activity view.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	personas := len(e.compiled)
	e.mu.RUnlock()

	return Stats{
		Started:           e.started,
		Uptime:            time.Since(e.started),
		Personas:          personas,
		Frameworks:        len(e.registry.Frameworks()),
		Diagnostics:       len(e.registry.Diagnostics()),
		Selections:        e.selections.Load(),
		TurnsCompleted:    e.turns.Load(),
		BlendsServed:      e.blends.Load(),
		BlendCacheSize:    e.blender.CacheSize(),
		StickyChannels:    e.router.StickyCount(),
		RelationshipEdges: e.ledger.EdgeCount(),
	}
}

// traitsOf feeds the relationship ledger the current overlay traits.
func (e *Engine) traitsOf(characterID string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if c, ok := e.overlays[characterID]; ok {
		return c.Traits
	}
	return nil
}

func (e *Engine) publish(ev bus.Event) {
	if e.events == nil {
		return
	}
	_ = e.events.Publish(ev)
}
