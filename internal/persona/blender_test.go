package persona

import (
	"math"
	"reflect"
	"strings"
	"testing"
	"time"
)

// blendRegistry builds a registry with frameworks crafted for merge checks:
// alpha and beta disagree on every shared key, gamma defines unique markers.
func blendRegistry(t *testing.T) *Registry {
	t.Helper()

	tmpl := "{{.Identity}}\n{{.Behavior}}\n{{.Knowledge}}\n{{.Style}}\n{{.Safety}}"
	frameworks := []Framework{
		{
			ID:                 "alpha",
			Name:               "Alpha",
			BehavioralPatterns: []Pattern{{Key: "opening", Rule: "alpha opening"}},
			DecisionMaking:     map[string]string{"depth": "alpha depth"},
			InteractionStyle:   map[string]any{"pacing": 10, "tone": "alpha-tone"},
			AntiHallucination:  []string{"alpha rule one", "shared rule"},
			PromptTemplate:     tmpl,
		},
		{
			ID:                 "beta",
			Name:               "Beta",
			BehavioralPatterns: []Pattern{{Key: "opening", Rule: "beta opening"}},
			DecisionMaking:     map[string]string{"depth": "beta depth"},
			InteractionStyle:   map[string]any{"pacing": 20, "tone": "beta-tone"},
			AntiHallucination:  []string{"beta rule one", "Shared Rule"},
			PromptTemplate:     tmpl,
		},
		{
			ID:                "gamma",
			Name:              "Gamma",
			InteractionStyle:  map[string]any{"gamma_marker": "gamma-marker-value"},
			AntiHallucination: []string{"gamma rule"},
			PromptTemplate:    tmpl,
		},
	}

	characters := []Character{
		{
			ID:            "blendy",
			Name:          "Blendy",
			BaseFramework: "alpha",
			Blending: &BlendingConfig{
				Enabled: true,
				Contexts: map[string]map[string]float64{
					"mix":   {"alpha": 0.8, "beta": 0.2},
					"even":  {"alpha": 0.5, "beta": 0.5},
					"faint": {"alpha": 0.95, "gamma": 0.05},
				},
			},
		},
		{ID: "plain", Name: "Plain", BaseFramework: "alpha"},
	}

	reg, err := NewRegistry(frameworks, characters, "alpha")
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	return reg
}

func TestMergeNumericWeightedAverage(t *testing.T) {
	reg := blendRegistry(t)
	alpha, _ := reg.Framework("alpha")
	beta, _ := reg.Framework("beta")
	weights := map[string]float64{"alpha": 0.8, "beta": 0.2}

	secs := mergeSections(alpha, []*Framework{alpha, beta}, weights)

	got, ok := secs.style["pacing"].(float64)
	if !ok {
		t.Fatalf("pacing resolved to %T, want float64", secs.style["pacing"])
	}
	if math.Abs(got-12.0) > 1e-9 {
		t.Errorf("pacing = %v, want 12.0", got)
	}
}

func TestMergeStringWeightedVote(t *testing.T) {
	reg := blendRegistry(t)
	alpha, _ := reg.Framework("alpha")
	beta, _ := reg.Framework("beta")

	tests := []struct {
		name    string
		weights map[string]float64
		tone    string
		depth   string
		opening string
	}{
		{
			name:    "alpha heavy",
			weights: map[string]float64{"alpha": 0.8, "beta": 0.2},
			tone:    "alpha-tone",
			depth:   "alpha depth",
			opening: "alpha opening",
		},
		{
			name:    "beta heavy",
			weights: map[string]float64{"alpha": 0.2, "beta": 0.8},
			tone:    "beta-tone",
			depth:   "beta depth",
			opening: "beta opening",
		},
		{
			// Equal cumulative and individual weights: framework id
			// ordering decides, alpha before beta.
			name:    "even split",
			weights: map[string]float64{"alpha": 0.5, "beta": 0.5},
			tone:    "alpha-tone",
			depth:   "alpha depth",
			opening: "alpha opening",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secs := mergeSections(alpha, []*Framework{alpha, beta}, tt.weights)

			if got := secs.style["tone"]; got != tt.tone {
				t.Errorf("tone = %v, want %v", got, tt.tone)
			}
			if got := secs.decision["depth"]; got != tt.depth {
				t.Errorf("depth = %q, want %q", got, tt.depth)
			}
			if len(secs.patterns) != 1 || secs.patterns[0].Rule != tt.opening {
				t.Errorf("patterns = %+v, want single opening %q", secs.patterns, tt.opening)
			}
		})
	}
}

func TestMergeListWeightedUnion(t *testing.T) {
	reg := blendRegistry(t)
	alpha, _ := reg.Framework("alpha")
	beta, _ := reg.Framework("beta")
	weights := map[string]float64{"alpha": 0.8, "beta": 0.2}

	secs := mergeSections(alpha, []*Framework{alpha, beta}, weights)

	// "shared rule" accumulates both weights case-insensitively and keeps
	// the first contributor's casing.
	want := []string{"shared rule", "alpha rule one", "beta rule one"}
	if !reflect.DeepEqual(secs.safety, want) {
		t.Errorf("safety = %v, want %v", secs.safety, want)
	}
}

func TestMergeListTopFive(t *testing.T) {
	lists := []weightedList{
		{weight: 0.7, items: []string{"a", "b", "c", "d"}},
		{weight: 0.3, items: []string{"c", "d", "e", "f", "g"}},
	}

	got := mergeItems(lists)

	// c and d carry 1.0, then a/b at 0.7, then e/f/g at 0.3 lose to the cap.
	want := []string{"c", "d", "a", "b", "e"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("mergeItems = %v, want %v", got, want)
	}
	if len(got) != blendListLimit {
		t.Errorf("len = %d, want %d", len(got), blendListLimit)
	}
}

func TestBlendThreshold(t *testing.T) {
	reg := blendRegistry(t)
	b := NewBlender(reg)
	c, _ := reg.Character("blendy")

	cp := b.Blend(c, "faint", nil)
	if cp == nil {
		t.Fatal("expected blend with one surviving framework, got nil")
	}
	if strings.Contains(cp.Prompt, "gamma-marker-value") {
		t.Error("framework below the significance threshold must not contribute")
	}
	if strings.Contains(cp.Prompt, "gamma rule") {
		t.Error("dropped framework's safety rules must not contribute")
	}
}

func TestBlendDisabledOrAbsent(t *testing.T) {
	reg := blendRegistry(t)
	b := NewBlender(reg)

	plain, _ := reg.Character("plain")
	if cp := b.Blend(plain, "mix", nil); cp != nil {
		t.Error("character without blending config must blend to nil")
	}

	disabled := plain.Clone()
	disabled.Blending = &BlendingConfig{Enabled: false, Contexts: map[string]map[string]float64{"mix": {"alpha": 1.0}}}
	if cp := b.Blend(disabled, "mix", nil); cp != nil {
		t.Error("disabled blending must blend to nil")
	}

	if cp := b.Blend(nil, "mix", nil); cp != nil {
		t.Error("nil character must blend to nil")
	}
}

func TestBlendUnknownContext(t *testing.T) {
	reg := blendRegistry(t)
	b := NewBlender(reg)
	c, _ := reg.Character("blendy")

	if cp := b.Blend(c, "no-such-context", nil); cp != nil {
		t.Error("context with no weight table must blend to nil")
	}
}

func TestBlendDefaultWeightsFallback(t *testing.T) {
	reg := blendRegistry(t)
	b := NewBlender(reg, WithDefaultWeights(map[string]map[string]float64{
		"global": {"beta": 1.0},
		// The character's own "mix" table must take precedence over this.
		"mix": {"gamma": 1.0},
	}))
	c, _ := reg.Character("blendy")

	viaDefault := b.Blend(c, "global", nil)
	if viaDefault == nil {
		t.Fatal("expected blend via process-wide default table")
	}
	if viaDefault.FrameworkID != "alpha" {
		t.Errorf("blend must render through the base framework, got %q", viaDefault.FrameworkID)
	}
	if !strings.Contains(viaDefault.Prompt, "beta depth") {
		t.Error("default-table framework content missing from blend")
	}

	viaCharacter := b.Blend(c, "mix", nil)
	if viaCharacter == nil {
		t.Fatal("expected blend via character table")
	}
	if strings.Contains(viaCharacter.Prompt, "gamma-marker-value") {
		t.Error("character table must take precedence over the default table")
	}
}

func TestBlendSignatureAndID(t *testing.T) {
	reg := blendRegistry(t)
	b := NewBlender(reg)
	c, _ := reg.Character("blendy")

	cp := b.Blend(c, "mix", nil)
	if cp == nil {
		t.Fatal("expected blend result")
	}
	if !cp.Blended() {
		t.Error("blend result must report as blended")
	}
	if !strings.HasPrefix(cp.ID, "blendy:alpha+mix-") {
		t.Errorf("ID = %q, want prefix %q", cp.ID, "blendy:alpha+mix-")
	}
}

func TestBlendCacheTTL(t *testing.T) {
	reg := blendRegistry(t)
	current := time.Unix(1000, 0)
	b := NewBlender(reg, WithBlendClock(func() time.Time { return current }))
	c, _ := reg.Character("blendy")

	first := b.Blend(c, "mix", nil)
	if first == nil {
		t.Fatal("expected blend result")
	}
	second := b.Blend(c, "mix", nil)
	if first != second {
		t.Error("expected cache hit inside the TTL")
	}

	current = current.Add(DefaultBlendCacheTTL + time.Second)
	third := b.Blend(c, "mix", nil)
	if third == first {
		t.Error("expected recompute after the TTL lapsed")
	}
	if third.Prompt != first.Prompt {
		t.Error("recomputed blend must match the original content")
	}
}

func TestBlendCacheKeyIncludesContextData(t *testing.T) {
	reg := blendRegistry(t)
	b := NewBlender(reg)
	c, _ := reg.Character("blendy")

	up := b.Blend(c, "mix", map[string]string{"mood": "up"})
	down := b.Blend(c, "mix", map[string]string{"mood": "down"})
	if up == nil || down == nil {
		t.Fatal("expected blend results")
	}
	if up == down {
		t.Error("different context data must occupy different cache entries")
	}
	if up.Prompt != down.Prompt {
		t.Error("context data does not change blend content, only cache identity")
	}
}

func TestBlendInvalidate(t *testing.T) {
	reg := blendRegistry(t)
	b := NewBlender(reg)
	c, _ := reg.Character("blendy")

	first := b.Blend(c, "mix", nil)
	if first == nil {
		t.Fatal("expected blend result")
	}

	b.Invalidate("blendy")
	second := b.Blend(c, "mix", nil)
	if second == first {
		t.Error("invalidate must drop the cached entry")
	}
	if b.CacheSize() != 1 {
		t.Errorf("CacheSize = %d, want 1", b.CacheSize())
	}
}
