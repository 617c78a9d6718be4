package persona

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMinBlendWeight is the significance threshold: frameworks
	// resolved below it never contribute to a blend.
	DefaultMinBlendWeight = 0.1

	// DefaultBlendCacheTTL bounds how long a blend result may be served
	// from cache.
	DefaultBlendCacheTTL = 10 * time.Minute

	// blendListLimit caps merged list values at the top entries by weight.
	blendListLimit = 5
)

// Blender computes context-weighted framework mixtures for characters whose
// blending configuration enables them. Blending is strictly an enhancement:
// every failure path returns nil, which callers treat as "use the unblended
// base persona".
type Blender struct {
	reg       *Registry
	minWeight float64
	ttl       time.Duration
	defaults  map[string]map[string]float64
	now       func() time.Time

	mu    sync.Mutex
	cache map[string]blendCacheEntry
}

type blendCacheEntry struct {
	cp      *CompiledPersona
	expires time.Time
}

// BlenderOption configures a Blender.
type BlenderOption func(*Blender)

// WithMinWeight overrides the significance threshold.
func WithMinWeight(w float64) BlenderOption {
	return func(b *Blender) { b.minWeight = w }
}

// WithCacheTTL overrides how long blend results stay cached.
func WithCacheTTL(d time.Duration) BlenderOption {
	return func(b *Blender) { b.ttl = d }
}

// WithDefaultWeights sets the process-wide context weight table, used when a
// character enables blending but has no table for the requested context.
func WithDefaultWeights(table map[string]map[string]float64) BlenderOption {
	return func(b *Blender) { b.defaults = table }
}

// WithBlendClock injects the time source. Tests use this to drive TTL expiry.
func WithBlendClock(now func() time.Time) BlenderOption {
	return func(b *Blender) { b.now = now }
}

// NewBlender builds a Blender over the registry's frameworks.
func NewBlender(reg *Registry, opts ...BlenderOption) *Blender {
	b := &Blender{
		reg:       reg,
		minWeight: DefaultMinBlendWeight,
		ttl:       DefaultBlendCacheTTL,
		now:       time.Now,
		cache:     make(map[string]blendCacheEntry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Blend returns a context-specific variant of the character's persona, or
// nil when the character has blending disabled or absent, no framework
// passes the significance threshold, or any resolution step fails. Results
// are cached by (character id, context type, context data hash) until the
// TTL lapses; eviction only costs a recompute, never correctness.
func (b *Blender) Blend(c *Character, contextType string, contextData map[string]string) (cp *CompiledPersona) {
	// A panic inside resolution must degrade to the base persona, not
	// abort the caller's turn.
	defer func() {
		if r := recover(); r != nil {
			cp = nil
		}
	}()

	if c == nil || c.Blending == nil || !c.Blending.Enabled {
		return nil
	}

	weights := b.resolveWeights(c, contextType)
	if len(weights) == 0 {
		return nil
	}

	key := cacheKey(c.ID, contextType, contextData)
	now := b.now()

	b.mu.Lock()
	if entry, ok := b.cache[key]; ok && now.Before(entry.expires) {
		b.mu.Unlock()
		return entry.cp
	}
	b.mu.Unlock()

	base, _ := b.reg.ResolveFramework(c)
	contributors := make([]*Framework, 0, len(weights))
	for id := range weights {
		fw, ok := b.reg.Framework(id)
		if !ok {
			continue
		}
		contributors = append(contributors, fw)
	}
	// Sorted contributor order keeps first-seen casing and proposal order
	// deterministic across runs.
	sort.Slice(contributors, func(i, j int) bool { return contributors[i].ID < contributors[j].ID })

	secs := mergeSections(base, contributors, weights)
	merged, err := compileSections(c, base, secs, blendSignature(contextType, weights))
	if err != nil {
		return nil
	}

	b.mu.Lock()
	b.cache[key] = blendCacheEntry{cp: merged, expires: now.Add(b.ttl)}
	b.mu.Unlock()

	return merged
}

// Invalidate drops cached blends for one character, typically after an
// evolution milestone changed its underlying traits.
func (b *Blender) Invalidate(characterID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key := range b.cache {
		if strings.HasPrefix(key, characterID+"|") {
			delete(b.cache, key)
		}
	}
}

// CacheSize returns the number of live cache entries, expired ones included.
func (b *Blender) CacheSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cache)
}

// resolveWeights picks the weight table for the context, the character's own
// table first and the process-wide default as fallback, then drops unknown
// frameworks and any weighted below the significance threshold.
func (b *Blender) resolveWeights(c *Character, contextType string) map[string]float64 {
	var table map[string]float64
	if c.Blending != nil {
		table = c.Blending.Contexts[contextType]
	}
	if table == nil {
		table = b.defaults[contextType]
	}
	if len(table) == 0 {
		return nil
	}

	out := make(map[string]float64, len(table))
	for id, w := range table {
		if w < b.minWeight {
			continue
		}
		if _, ok := b.reg.Framework(id); !ok {
			continue
		}
		out[id] = w
	}
	return out
}

// weightedValue is one framework's proposal for a key during a merge.
type weightedValue struct {
	frameworkID string
	weight      float64
	value       any
}

// weightedList is one framework's list contribution during a merge.
type weightedList struct {
	weight float64
	items  []string
}

// mergeSections blends the contributors' rule content. The base framework
// supplies only ordering hints here; its macro-structure is reapplied later
// when the merged sections render through its prompt template.
func mergeSections(base *Framework, contributors []*Framework, weights map[string]float64) frameworkSections {
	patternProposals := make(map[string][]weightedValue)
	decisionProposals := make(map[string][]weightedValue)
	styleProposals := make(map[string][]weightedValue)
	safetyLists := make([]weightedList, 0, len(contributors))

	for _, fw := range contributors {
		w := weights[fw.ID]
		for _, p := range fw.BehavioralPatterns {
			patternProposals[p.Key] = append(patternProposals[p.Key], weightedValue{fw.ID, w, p.Rule})
		}
		for k, rule := range fw.DecisionMaking {
			decisionProposals[k] = append(decisionProposals[k], weightedValue{fw.ID, w, rule})
		}
		for k, v := range fw.InteractionStyle {
			styleProposals[k] = append(styleProposals[k], weightedValue{fw.ID, w, v})
		}
		safetyLists = append(safetyLists, weightedList{weight: w, items: fw.AntiHallucination})
	}

	// Pattern ordering: the base framework's declared order for keys it
	// shares with the blend, then any remaining keys sorted.
	orderedKeys := make([]string, 0, len(patternProposals))
	used := make(map[string]bool, len(patternProposals))
	for _, p := range base.BehavioralPatterns {
		if _, ok := patternProposals[p.Key]; ok && !used[p.Key] {
			orderedKeys = append(orderedKeys, p.Key)
			used[p.Key] = true
		}
	}
	rest := make([]string, 0, len(patternProposals))
	for k := range patternProposals {
		if !used[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	orderedKeys = append(orderedKeys, rest...)

	patterns := make([]Pattern, 0, len(orderedKeys))
	for _, k := range orderedKeys {
		patterns = append(patterns, Pattern{Key: k, Rule: voteString(patternProposals[k])})
	}

	decision := make(map[string]string, len(decisionProposals))
	for k, props := range decisionProposals {
		decision[k] = voteString(props)
	}

	style := make(map[string]any, len(styleProposals))
	for k, props := range styleProposals {
		style[k] = resolveShape(props)
	}

	return frameworkSections{
		patterns: patterns,
		decision: decision,
		style:    style,
		safety:   mergeItems(safetyLists),
	}
}

// voteString resolves competing proposals by weighted vote: the value with
// the highest cumulative weight wins. Ties break toward the value backed by
// the highest individual weight, then by ascending framework id.
func voteString(proposals []weightedValue) string {
	type tally struct {
		cumulative float64
		bestWeight float64
		firstID    string
	}
	tallies := make(map[string]*tally, len(proposals))
	for _, p := range proposals {
		s := styleValue(p.value)
		t := tallies[s]
		if t == nil {
			t = &tally{firstID: p.frameworkID}
			tallies[s] = t
		}
		t.cumulative += p.weight
		if p.weight > t.bestWeight {
			t.bestWeight = p.weight
		}
		if p.frameworkID < t.firstID {
			t.firstID = p.frameworkID
		}
	}

	var winner string
	var best *tally
	for s, t := range tallies {
		if best == nil {
			winner, best = s, t
			continue
		}
		switch {
		case t.cumulative != best.cumulative:
			if t.cumulative > best.cumulative {
				winner, best = s, t
			}
		case t.bestWeight != best.bestWeight:
			if t.bestWeight > best.bestWeight {
				winner, best = s, t
			}
		case t.firstID < best.firstID:
			winner, best = s, t
		}
	}
	return winner
}

// resolveShape applies per-shape conflict resolution: all-numeric proposals
// take the weighted average, all-list proposals take the weighted union, and
// everything else resolves by weighted vote over the rendered text.
func resolveShape(proposals []weightedValue) any {
	allNumeric := true
	for _, p := range proposals {
		if _, ok := toFloat(p.value); !ok {
			allNumeric = false
			break
		}
	}
	if allNumeric {
		var sum, wsum float64
		for _, p := range proposals {
			v, _ := toFloat(p.value)
			sum += v * p.weight
			wsum += p.weight
		}
		if wsum == 0 {
			return 0.0
		}
		return sum / wsum
	}

	allLists := true
	for _, p := range proposals {
		if listItems(p.value) == nil {
			allLists = false
			break
		}
	}
	if allLists {
		lists := make([]weightedList, 0, len(proposals))
		for _, p := range proposals {
			lists = append(lists, weightedList{weight: p.weight, items: listItems(p.value)})
		}
		return mergeItems(lists)
	}

	return voteString(proposals)
}

// mergeItems computes the weighted union of list items. Items compare
// case-insensitively and keep the first contributor's casing. The top items
// by cumulative weight survive, in descending-weight order, ties by
// lower-cased text.
func mergeItems(lists []weightedList) []string {
	type acc struct {
		display string
		weight  float64
	}
	accs := make(map[string]*acc)
	for _, wl := range lists {
		seen := make(map[string]bool, len(wl.items))
		for _, item := range wl.items {
			key := strings.ToLower(item)
			if seen[key] {
				continue
			}
			seen[key] = true
			a := accs[key]
			if a == nil {
				a = &acc{display: item}
				accs[key] = a
			}
			a.weight += wl.weight
		}
	}

	type ranked struct {
		key string
		acc *acc
	}
	all := make([]ranked, 0, len(accs))
	for k, a := range accs {
		all = append(all, ranked{key: k, acc: a})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].acc.weight != all[j].acc.weight {
			return all[i].acc.weight > all[j].acc.weight
		}
		return all[i].key < all[j].key
	})

	limit := blendListLimit
	if len(all) < limit {
		limit = len(all)
	}
	out := make([]string, 0, limit)
	for _, r := range all[:limit] {
		out = append(out, r.acc.display)
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	default:
		return 0, false
	}
}

// listItems returns the value's items as strings, or nil when it is not a
// list shape.
func listItems(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, len(t))
		for i, item := range t {
			out[i] = styleValue(item)
		}
		return out
	default:
		return nil
	}
}

func cacheKey(characterID, contextType string, contextData map[string]string) string {
	return characterID + "|" + contextType + "|" + hashContext(contextData)
}

func hashContext(data map[string]string) string {
	h := fnv.New64a()
	for _, k := range sortedKeys(data) {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(data[k]))
		h.Write([]byte{0})
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// blendSignature identifies a blend by its context and resolved weights so
// that two different mixtures never share a compiled persona id.
func blendSignature(contextType string, weights map[string]float64) string {
	h := fnv.New64a()
	for _, id := range sortedKeys(weights) {
		fmt.Fprintf(h, "%s=%g;", id, weights[id])
	}
	return fmt.Sprintf("%s-%08x", contextType, h.Sum64()&0xffffffff)
}
