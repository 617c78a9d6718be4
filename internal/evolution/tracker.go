// Package evolution advances persona trait state as interaction counts cross
// declared milestones. A milestone fires when the count reaches it exactly,
// fires at most once, and later stages never fire before earlier ones.
package evolution

import (
	"sort"
	"sync"

	"github.com/normanking/troupe/internal/persona"
)

// Result reports the outcome of recording one interaction.
type Result struct {
	PersonaID string
	Known     bool
	Count     int
	Milestone int                  // crossed milestone, 0 when none fired
	Deltas    *persona.TraitDeltas // stage deltas to apply, nil when none
}

// PersonaState is a persisted snapshot of one persona's progress.
type PersonaState struct {
	PersonaID        string              `json:"persona_id" yaml:"persona_id"`
	Count            int                 `json:"count" yaml:"count"`
	HighestMilestone int                 `json:"highest_milestone" yaml:"highest_milestone"`
	Applied          persona.TraitDeltas `json:"applied" yaml:"applied"`
}

type trackerState struct {
	mu      sync.Mutex
	count   int
	highest int
	stages  []persona.EvolutionStage
	applied persona.TraitDeltas
}

// Tracker counts interactions per persona and fires milestone deltas.
// Updates for one persona serialize on that persona's lock; different
// personas proceed in parallel.
type Tracker struct {
	mu     sync.RWMutex // guards the states map, not the entries
	states map[string]*trackerState
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]*trackerState)}
}

func (t *Tracker) state(personaID string) (*trackerState, bool) {
	t.mu.RLock()
	st, ok := t.states[personaID]
	t.mu.RUnlock()
	return st, ok
}

func (t *Tracker) ensure(personaID string) *trackerState {
	if st, ok := t.state(personaID); ok {
		return st
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[personaID]
	if !ok {
		st = &trackerState{}
		t.states[personaID] = st
	}
	return st
}

// Register makes a persona known to the tracker along with its milestone
// stages. Re-registering refreshes the stages without touching accumulated
// counts, which is what a definition reload needs.
func (t *Tracker) Register(personaID string, stages []persona.EvolutionStage) {
	if personaID == "" {
		return
	}
	copied := make([]persona.EvolutionStage, len(stages))
	copy(copied, stages)

	st := t.ensure(personaID)
	st.mu.Lock()
	st.stages = copied
	st.mu.Unlock()
}

// Forget drops a persona's evolution state entirely.
func (t *Tracker) Forget(personaID string) {
	t.mu.Lock()
	delete(t.states, personaID)
	t.mu.Unlock()
}

// RecordInteraction increments the persona's count and reports whether the
// new count lands exactly on an unfired milestone. Unknown personas are a
// no-op with Known false so a caller can log and move on.
func (t *Tracker) RecordInteraction(personaID string) Result {
	st, ok := t.state(personaID)
	if !ok {
		return Result{PersonaID: personaID}
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.count++
	res := Result{PersonaID: personaID, Known: true, Count: st.count}

	for _, stage := range st.stages {
		if stage.Milestone != st.count || stage.Milestone <= st.highest {
			continue
		}
		st.highest = stage.Milestone
		mergeDeltas(&st.applied, &stage.Deltas)

		deltas := cloneDeltas(&stage.Deltas)
		res.Milestone = stage.Milestone
		res.Deltas = &deltas
		break
	}
	return res
}

// Count reports the persona's interaction count.
func (t *Tracker) Count(personaID string) (int, bool) {
	st, ok := t.state(personaID)
	if !ok {
		return 0, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.count, true
}

// AppliedDeltas returns the cumulative deltas of every milestone fired so
// far. Applying them to the base character reproduces the evolved traits.
func (t *Tracker) AppliedDeltas(personaID string) (persona.TraitDeltas, bool) {
	st, ok := t.state(personaID)
	if !ok {
		return persona.TraitDeltas{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return cloneDeltas(&st.applied), true
}

// Snapshot captures every persona's progress, sorted by persona id.
func (t *Tracker) Snapshot() []PersonaState {
	t.mu.RLock()
	entries := make(map[string]*trackerState, len(t.states))
	for id, st := range t.states {
		entries[id] = st
	}
	t.mu.RUnlock()

	out := make([]PersonaState, 0, len(entries))
	for id, st := range entries {
		st.mu.Lock()
		out = append(out, PersonaState{
			PersonaID:        id,
			Count:            st.count,
			HighestMilestone: st.highest,
			Applied:          cloneDeltas(&st.applied),
		})
		st.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PersonaID < out[j].PersonaID })
	return out
}

// Restore overwrites progress from persisted state. Personas not yet
// registered get an entry with no stages; a later Register fills them in.
func (t *Tracker) Restore(states []PersonaState) {
	for _, ps := range states {
		if ps.PersonaID == "" {
			continue
		}
		st := t.ensure(ps.PersonaID)
		st.mu.Lock()
		st.count = ps.Count
		st.highest = ps.HighestMilestone
		st.applied = cloneDeltas(&ps.Applied)
		st.mu.Unlock()
	}
}

// mergeDeltas folds src into dst so that applying dst to the base character
// reproduces applying every fired stage in sequence. Voice values overwrite,
// quirk adds and removes cancel each other, opinions merge with later stages
// winning.
func mergeDeltas(dst, src *persona.TraitDeltas) {
	if src.Temperature != nil {
		v := *src.Temperature
		dst.Temperature = &v
	}
	if src.Verbosity != nil {
		v := *src.Verbosity
		dst.Verbosity = &v
	}
	if src.Formality != nil {
		v := *src.Formality
		dst.Formality = &v
	}

	for _, q := range src.NewQuirks {
		dst.RemoveQuirks = removeString(dst.RemoveQuirks, q)
		dst.NewQuirks = appendUnique(dst.NewQuirks, q)
	}
	for _, q := range src.RemoveQuirks {
		dst.NewQuirks = removeString(dst.NewQuirks, q)
		dst.RemoveQuirks = appendUnique(dst.RemoveQuirks, q)
	}

	if len(src.Opinions) > 0 {
		if dst.Opinions == nil {
			dst.Opinions = make(map[string]string, len(src.Opinions))
		}
		for topic, stance := range src.Opinions {
			dst.Opinions[topic] = stance
		}
	}
}

func cloneDeltas(d *persona.TraitDeltas) persona.TraitDeltas {
	out := persona.TraitDeltas{}
	mergeDeltas(&out, d)
	return out
}

func appendUnique(list []string, s string) []string {
	for _, have := range list {
		if have == s {
			return list
		}
	}
	return append(list, s)
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, have := range list {
		if have != s {
			out = append(out, have)
		}
	}
	return out
}
