// Package router selects which compiled persona answers each conversational
// turn: sticky channel continuity first, then channel-affinity preference,
// then content-relevance scoring with weighted-random tie-breaking, and a
// designated default persona as the terminal fallback.
package router

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/normanking/troupe/internal/persona"
)

const (
	// DefaultStickyWindow keeps a channel on its last responder.
	DefaultStickyWindow = 5 * time.Minute

	// DefaultCloseMargin is the fraction of the top score a persona must
	// reach to join the random tie-break pool.
	DefaultCloseMargin = 0.8
)

// Content scoring values. The avoidance penalty outweighs any single
// positive signal so an avoided topic reliably excludes the persona.
const (
	nameScore      = 100.0
	interestScore  = 50.0
	domainScore    = 30.0
	avoidanceScore = -100.0
)

// Reason explains which selection rule produced a decision.
type Reason string

const (
	ReasonSticky   Reason = "sticky"
	ReasonActivity Reason = "activity"
	ReasonContent  Reason = "content"
	ReasonRandom   Reason = "random"
	ReasonFallback Reason = "fallback"
)

// Request is one conversational turn to route.
type Request struct {
	Content       string
	ChannelID     string
	UserID        string
	ForceReselect bool
}

// Decision is the outcome of a selection. Persona is nil only when the
// caller supplied no personas at all.
type Decision struct {
	Persona    *persona.CompiledPersona
	Reason     Reason
	Score      float64
	Candidates int // close candidates considered for the random tie-break
}

// Router owns per-channel sticky state and the selection rules. Selection is
// a read-then-decide operation over the caller's immutable persona snapshot;
// the sticky write is its only side effect.
type Router struct {
	window          time.Duration
	closeMargin     float64
	activityRouting bool
	defaultPersona  string
	now             func() time.Time
	intn            func(int) int

	mu     sync.Mutex
	sticky map[string]stickyEntry
}

type stickyEntry struct {
	characterID string
	at          time.Time
}

// Option configures a Router.
type Option func(*Router)

// WithStickyWindow overrides how long channel continuity holds.
func WithStickyWindow(d time.Duration) Option {
	return func(r *Router) { r.window = d }
}

// WithCloseMargin overrides the tie-break pool margin (0,1].
func WithCloseMargin(m float64) Option {
	return func(r *Router) { r.closeMargin = m }
}

// WithActivityRouting toggles channel-affinity routing.
func WithActivityRouting(enabled bool) Option {
	return func(r *Router) { r.activityRouting = enabled }
}

// WithDefaultPersona sets the fallback character id.
func WithDefaultPersona(characterID string) Option {
	return func(r *Router) { r.defaultPersona = characterID }
}

// WithClock injects the time source. Tests use this to drive the window.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// WithRand injects the tie-break randomness. Tests use this to force picks.
func WithRand(intn func(int) int) Option {
	return func(r *Router) { r.intn = intn }
}

// New builds a Router with default window, margin, and activity routing on.
func New(opts ...Option) *Router {
	r := &Router{
		window:          DefaultStickyWindow,
		closeMargin:     DefaultCloseMargin,
		activityRouting: true,
		now:             time.Now,
		sticky:          make(map[string]stickyEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.intn == nil {
		r.intn = rand.Intn
	}
	return r
}

// Select picks exactly one compiled persona for the turn. The personas map
// is the caller's current immutable snapshot keyed by character id. Rules
// apply in precedence order: sticky continuity, activity routing, content
// scoring with close-candidate randomization, then the default fallback.
func (r *Router) Select(personas map[string]*persona.CompiledPersona, req Request) Decision {
	if len(personas) == 0 {
		return Decision{Reason: ReasonFallback}
	}

	content := strings.ToLower(req.Content)

	if !req.ForceReselect {
		if d, ok := r.stickyFor(personas, req.ChannelID, content); ok {
			r.record(req.ChannelID, d.Persona.CharacterID)
			return d
		}
	}

	if r.activityRouting {
		if d, ok := r.activityFor(personas, req.ChannelID); ok {
			r.record(req.ChannelID, d.Persona.CharacterID)
			return d
		}
	}

	if scores := scoreAll(personas, content); len(scores) > 0 {
		d := r.resolve(scores)
		r.record(req.ChannelID, d.Persona.CharacterID)
		return d
	}

	d := r.fallback(personas)
	if d.Persona != nil {
		r.record(req.ChannelID, d.Persona.CharacterID)
	}
	return d
}

// stickyFor returns the channel's recent responder if the window still holds
// and the content does not explicitly call out a different persona by name.
func (r *Router) stickyFor(personas map[string]*persona.CompiledPersona, channelID, content string) (Decision, bool) {
	if channelID == "" {
		return Decision{}, false
	}

	r.mu.Lock()
	entry, ok := r.sticky[channelID]
	r.mu.Unlock()
	if !ok || r.now().Sub(entry.at) > r.window {
		return Decision{}, false
	}

	cp, ok := personas[entry.characterID]
	if !ok {
		// The persona left the snapshot since it last answered here.
		return Decision{}, false
	}

	for id, other := range personas {
		if id == entry.characterID || other.Name == "" {
			continue
		}
		if strings.Contains(content, strings.ToLower(other.Name)) {
			return Decision{}, false
		}
	}

	return Decision{Persona: cp, Reason: ReasonSticky}, true
}

// activityFor prefers a persona whose declared channel affinities include
// the channel. Competing claims resolve by weight, then by character id.
func (r *Router) activityFor(personas map[string]*persona.CompiledPersona, channelID string) (Decision, bool) {
	if channelID == "" {
		return Decision{}, false
	}

	var best *persona.CompiledPersona
	for _, id := range sortedIDs(personas) {
		cp := personas[id]
		if !affinityMatch(cp.ChannelAffinities, channelID) {
			continue
		}
		if best == nil || cp.Weight > best.Weight {
			best = cp
		}
	}
	if best == nil {
		return Decision{}, false
	}
	return Decision{Persona: best, Reason: ReasonActivity}, true
}

type scored struct {
	cp    *persona.CompiledPersona
	score float64
}

// scoreAll computes content-relevance scores and keeps positive ones only.
func scoreAll(personas map[string]*persona.CompiledPersona, content string) []scored {
	out := make([]scored, 0, len(personas))
	for _, id := range sortedIDs(personas) {
		cp := personas[id]
		if s := contentScore(cp, content); s > 0 {
			out = append(out, scored{cp: cp, score: s})
		}
	}
	return out
}

// contentScore rates one persona against the message content. All matching
// is case-insensitive substring matching; content must already be lowered.
func contentScore(cp *persona.CompiledPersona, content string) float64 {
	var score float64
	if cp.Name != "" && strings.Contains(content, strings.ToLower(cp.Name)) {
		score += nameScore
	}
	for _, term := range cp.Interests {
		if termMatch(content, term) {
			score += interestScore
		}
	}
	if termMatch(content, cp.KnowledgeDomain) {
		score += domainScore
	}
	for _, term := range cp.Avoidances {
		if termMatch(content, term) {
			score += avoidanceScore
		}
	}
	return score * cp.Weight
}

// resolve picks the winner among positive scorers: every persona within the
// close margin of the top score is a candidate, one candidate wins outright,
// several draw uniformly at random.
func (r *Router) resolve(scores []scored) Decision {
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	cut := scores[0].score * r.closeMargin
	var candidates []scored
	for _, s := range scores {
		if s.score >= cut {
			candidates = append(candidates, s)
		}
	}

	if len(candidates) == 1 {
		return Decision{Persona: candidates[0].cp, Reason: ReasonContent, Score: candidates[0].score, Candidates: 1}
	}
	pick := candidates[r.intn(len(candidates))]
	return Decision{Persona: pick.cp, Reason: ReasonRandom, Score: pick.score, Candidates: len(candidates)}
}

// fallback returns the designated default persona. Selection must always
// produce a usable persona, so a missing default degrades to the first
// persona by id rather than to nothing.
func (r *Router) fallback(personas map[string]*persona.CompiledPersona) Decision {
	if cp, ok := personas[r.defaultPersona]; ok {
		return Decision{Persona: cp, Reason: ReasonFallback}
	}
	ids := sortedIDs(personas)
	if len(ids) == 0 {
		return Decision{Reason: ReasonFallback}
	}
	return Decision{Persona: personas[ids[0]], Reason: ReasonFallback}
}

// record updates the channel's sticky state with the chosen persona.
func (r *Router) record(channelID, characterID string) {
	if channelID == "" {
		return
	}
	r.mu.Lock()
	r.sticky[channelID] = stickyEntry{characterID: characterID, at: r.now()}
	r.mu.Unlock()
}

// Sticky reports the channel's current unexpired sticky persona, if any.
func (r *Router) Sticky(channelID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sticky[channelID]
	if !ok || r.now().Sub(entry.at) > r.window {
		return "", false
	}
	return entry.characterID, true
}

// ClearSticky drops a channel's sticky state.
func (r *Router) ClearSticky(channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sticky, channelID)
}

// StickyCount returns the number of channels holding sticky state, expired
// entries included until their next write.
func (r *Router) StickyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sticky)
}

func termMatch(content, term string) bool {
	return term != "" && strings.Contains(content, strings.ToLower(term))
}

func affinityMatch(affinities []string, channelID string) bool {
	for _, a := range affinities {
		if strings.EqualFold(a, channelID) {
			return true
		}
	}
	return false
}

func sortedIDs(personas map[string]*persona.CompiledPersona) []string {
	ids := make([]string, 0, len(personas))
	for id := range personas {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
