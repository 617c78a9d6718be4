// Package relationship maintains pairwise affinity between personas. Every
// recorded interaction nudges two directed edges, speaker toward responder
// at full strength and responder toward speaker at a reduced factor, with
// the delta scaled by how compatible the pair's traits are. Affinity clamps
// into [-10, +10] at write time, and interaction probability folds affinity,
// recent-contact damping, compatibility, and a little jitter into [0, 1].
package relationship

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// MinAffinity and MaxAffinity bound every stored affinity value.
	MinAffinity = -10.0
	MaxAffinity = 10.0

	// DefaultLogSize bounds the rolling interaction log per edge.
	DefaultLogSize = 20

	// DefaultFrequencyWindow is the trailing window for contact damping.
	DefaultFrequencyWindow = 10 * time.Minute

	// DefaultResponderFactor scales the responder-side delta.
	DefaultResponderFactor = 0.8

	frequencySlope  = 0.25
	jitterAmplitude = 0.05
)

// Interaction classifies one exchange between two personas.
type Interaction string

const (
	Agreement     Interaction = "agreement"
	Disagreement  Interaction = "disagreement"
	Collaboration Interaction = "collaboration"
	Compliment    Interaction = "compliment"
	Insult        Interaction = "insult"
	Banter        Interaction = "banter"
	Correction    Interaction = "correction"
)

var baseDeltas = map[Interaction]float64{
	Agreement:     2.0,
	Disagreement:  -1.5,
	Collaboration: 2.5,
	Compliment:    3.0,
	Insult:        -3.0,
	Banter:        1.0,
	Correction:    -0.5,
}

// ParseInteraction maps a wire string onto a known interaction type.
func ParseInteraction(s string) (Interaction, bool) {
	typ := Interaction(strings.ToLower(strings.TrimSpace(s)))
	_, ok := baseDeltas[typ]
	return typ, ok
}

// Interactions lists every known interaction type in sorted order.
func Interactions() []Interaction {
	out := make([]Interaction, 0, len(baseDeltas))
	for typ := range baseDeltas {
		out = append(out, typ)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Record is one logged interaction on a directed edge.
type Record struct {
	Type Interaction `json:"type" yaml:"type"`
	At   time.Time   `json:"at" yaml:"at"`
}

// Entry is the persisted form of one directed edge.
type Entry struct {
	From     string   `json:"from" yaml:"from"`
	To       string   `json:"to" yaml:"to"`
	Affinity float64  `json:"affinity" yaml:"affinity"`
	Log      []Record `json:"log,omitempty" yaml:"log,omitempty"`
}

// Update reports the outcome of recording one interaction.
type Update struct {
	Speaker           string
	Responder         string
	Type              Interaction
	Known             bool // interaction type recognized and ids usable
	SpeakerDelta      float64
	ResponderDelta    float64
	SpeakerAffinity   float64 // speaker's edge toward the responder, post-write
	ResponderAffinity float64
}

type pairState struct {
	mu       sync.Mutex
	affinity float64
	log      []Record
}

// Ledger holds the directed affinity edges. Writes to one edge serialize
// on that edge's lock; different edges proceed in parallel.
type Ledger struct {
	traits    func(id string) []string
	logSize   int
	window    time.Duration
	responder float64
	now       func() time.Time
	randFloat func() float64

	mu    sync.RWMutex // guards the pairs map, not the entries
	pairs map[string]*pairState
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogSize overrides the per-edge rolling log bound.
func WithLogSize(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.logSize = n
		}
	}
}

// WithFrequencyWindow overrides the trailing damping window.
func WithFrequencyWindow(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.window = d
		}
	}
}

// WithResponderFactor overrides the responder-side delta scale.
func WithResponderFactor(f float64) Option {
	return func(l *Ledger) { l.responder = f }
}

// WithClock injects the time source. Tests use this to drive the window.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithRand injects the jitter source, a uniform draw from [0, 1). A fixed
// 0.5 yields zero jitter.
func WithRand(f func() float64) Option {
	return func(l *Ledger) { l.randFloat = f }
}

// NewLedger builds a ledger. The traits lookup feeds trait compatibility;
// a nil lookup or personas without traits read as neutrally compatible.
func NewLedger(traits func(id string) []string, opts ...Option) *Ledger {
	l := &Ledger{
		traits:    traits,
		logSize:   DefaultLogSize,
		window:    DefaultFrequencyWindow,
		responder: DefaultResponderFactor,
		now:       time.Now,
		pairs:     make(map[string]*pairState),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.randFloat == nil {
		l.randFloat = rand.Float64
	}
	return l
}

// RecordInteraction applies one exchange to both directed edges. The
// speaker's edge toward the responder moves by the compatibility-scaled
// base delta for the type, the responder's edge by the responder factor of
// that. Unusable input reports Known false and changes nothing.
func (l *Ledger) RecordInteraction(speaker, responder string, typ Interaction) Update {
	up := Update{Speaker: speaker, Responder: responder, Type: typ}
	if speaker == "" || responder == "" || speaker == responder {
		return up
	}
	base, ok := baseDeltas[typ]
	if !ok {
		return up
	}

	at := l.now()
	scale := affinityScale(l.compatibility(speaker, responder))
	up.Known = true
	up.SpeakerDelta = base * scale
	up.ResponderDelta = base * scale * l.responder
	up.SpeakerAffinity = l.apply(speaker, responder, up.SpeakerDelta, typ, at)
	up.ResponderAffinity = l.apply(responder, speaker, up.ResponderDelta, typ, at)
	return up
}

// Probability estimates how likely the speaker is to engage the candidate
// next: affinity mapped linearly to [0, 1], dampened by how often the pair
// interacted inside the trailing window, scaled by trait compatibility,
// plus symmetric jitter, clamped.
func (l *Ledger) Probability(speaker, candidate string) float64 {
	if speaker == "" || candidate == "" || speaker == candidate {
		return 0
	}

	affinity := 0.0
	recent := 0
	if st := l.peek(edgeKey(speaker, candidate)); st != nil {
		cutoff := l.now().Add(-l.window)
		st.mu.Lock()
		affinity = st.affinity
		for _, rec := range st.log {
			if rec.At.After(cutoff) {
				recent++
			}
		}
		st.mu.Unlock()
	}

	base := (affinity - MinAffinity) / (MaxAffinity - MinAffinity)
	damp := 1 / (1 + frequencySlope*float64(recent))
	compat := probabilityScale(l.compatibility(speaker, candidate))
	jitter := (l.randFloat()*2 - 1) * jitterAmplitude
	return clamp01(base*damp*compat + jitter)
}

// Affinity reports the directed affinity from one persona toward another,
// zero when the pair has no history.
func (l *Ledger) Affinity(from, to string) float64 {
	st := l.peek(edgeKey(from, to))
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.affinity
}

// EdgeCount reports how many directed edges hold state.
func (l *Ledger) EdgeCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pairs)
}

// Snapshot captures every directed edge, sorted by from then to.
func (l *Ledger) Snapshot() []Entry {
	l.mu.RLock()
	keys := make([]string, 0, len(l.pairs))
	states := make(map[string]*pairState, len(l.pairs))
	for key, st := range l.pairs {
		keys = append(keys, key)
		states[key] = st
	}
	l.mu.RUnlock()
	sort.Strings(keys)

	out := make([]Entry, 0, len(keys))
	for _, key := range keys {
		from, to, ok := strings.Cut(key, "|")
		if !ok {
			continue
		}
		st := states[key]
		st.mu.Lock()
		entry := Entry{From: from, To: to, Affinity: st.affinity, Log: make([]Record, len(st.log))}
		copy(entry.Log, st.log)
		st.mu.Unlock()
		out = append(out, entry)
	}
	return out
}

// Restore overwrites edge state from persisted entries. Affinities clamp
// and logs truncate to the configured bound on the way in.
func (l *Ledger) Restore(entries []Entry) {
	for _, e := range entries {
		if e.From == "" || e.To == "" || e.From == e.To {
			continue
		}
		st := l.ensure(edgeKey(e.From, e.To))
		log := e.Log
		if len(log) > l.logSize {
			log = log[len(log)-l.logSize:]
		}
		st.mu.Lock()
		st.affinity = clampAffinity(e.Affinity)
		st.log = append([]Record(nil), log...)
		st.mu.Unlock()
	}
}

// apply moves one directed edge and logs the interaction, clamping at
// write time.
func (l *Ledger) apply(from, to string, delta float64, typ Interaction, at time.Time) float64 {
	st := l.ensure(edgeKey(from, to))
	st.mu.Lock()
	defer st.mu.Unlock()

	st.affinity = clampAffinity(st.affinity + delta)
	st.log = append(st.log, Record{Type: typ, At: at})
	if len(st.log) > l.logSize {
		st.log = st.log[len(st.log)-l.logSize:]
	}
	return st.affinity
}

func (l *Ledger) peek(key string) *pairState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.pairs[key]
}

func (l *Ledger) ensure(key string) *pairState {
	if st := l.peek(key); st != nil {
		return st
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.pairs[key]
	if !ok {
		st = &pairState{}
		l.pairs[key] = st
	}
	return st
}

// compatibility is the Jaccard overlap of the pair's trait lists,
// case-insensitive. Absent traits on either side read as a neutral 0.5.
func (l *Ledger) compatibility(a, b string) float64 {
	if l.traits == nil {
		return 0.5
	}
	ta, tb := normalizeTraits(l.traits(a)), normalizeTraits(l.traits(b))
	if len(ta) == 0 || len(tb) == 0 {
		return 0.5
	}

	inter := 0
	for trait := range ta {
		if _, ok := tb[trait]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func normalizeTraits(traits []string) map[string]struct{} {
	if len(traits) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(traits))
	for _, t := range traits {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out[t] = struct{}{}
		}
	}
	return out
}

// affinityScale maps compatibility to the delta multiplier, 0.75 for total
// strangers up to 1.25 for full trait overlap. Neutral 0.5 lands on 1.0.
func affinityScale(j float64) float64 { return 0.75 + 0.5*j }

// probabilityScale maps compatibility to the probability multiplier in
// [0.5, 1.0].
func probabilityScale(j float64) float64 { return 0.5 + 0.5*j }

func edgeKey(from, to string) string { return from + "|" + to }

func clampAffinity(v float64) float64 {
	if v > MaxAffinity {
		return MaxAffinity
	}
	if v < MinAffinity {
		return MinAffinity
	}
	return v
}

func clamp01(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
