package router

import (
	"testing"
	"time"

	"github.com/normanking/troupe/internal/persona"
)

func testPersonas(t *testing.T) map[string]*persona.CompiledPersona {
	t.Helper()
	reg, err := persona.NewRegistry(persona.BuiltinFrameworks(), persona.BuiltinCharacters(), "assistant")
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	out := make(map[string]*persona.CompiledPersona, 3)
	for _, c := range reg.Characters() {
		f, _ := reg.ResolveFramework(c)
		cp, err := persona.Compile(c, f)
		if err != nil {
			t.Fatalf("Compile %s: %v", c.ID, err)
		}
		out[c.ID] = cp
	}
	return out
}

func TestSelectContentScoring(t *testing.T) {
	r := New(WithActivityRouting(false), WithDefaultPersona("onyx"))
	personas := testPersonas(t)

	d := r.Select(personas, Request{Content: "tell me about astronomy tonight", ChannelID: "general"})
	if d.Persona == nil || d.Persona.CharacterID != "onyx" {
		t.Fatalf("selected %+v, want onyx", d.Persona)
	}
	if d.Reason != ReasonContent {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonContent)
	}
	// One interest hit plus the domain hit at weight 1.0.
	if d.Score != 80 {
		t.Errorf("Score = %v, want 80", d.Score)
	}
	if d.Candidates != 1 {
		t.Errorf("Candidates = %d, want 1", d.Candidates)
	}
}

func TestSelectNameMention(t *testing.T) {
	r := New(WithActivityRouting(false), WithDefaultPersona("onyx"))
	personas := testPersonas(t)

	d := r.Select(personas, Request{Content: "hey Spark, you around?", ChannelID: "general"})
	if d.Persona == nil || d.Persona.CharacterID != "spark" {
		t.Fatalf("selected %+v, want spark", d.Persona)
	}
	if d.Reason != ReasonContent {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonContent)
	}
}

func TestSelectAvoidanceExcludes(t *testing.T) {
	personas := map[string]*persona.CompiledPersona{
		"ash": {
			ID: "ash:assistant", CharacterID: "ash", Name: "Ash",
			Interests: []string{"finance"}, Weight: 1.0,
		},
		"brio": {
			ID: "brio:assistant", CharacterID: "brio", Name: "Brio",
			Interests: []string{"markets"}, Avoidances: []string{"crypto"}, Weight: 5.0,
		},
	}
	r := New(WithActivityRouting(false), WithDefaultPersona("ash"))

	// Brio hits an interest but also an avoidance; no weight rescues that.
	d := r.Select(personas, Request{Content: "crypto markets versus boring finance", ChannelID: "money"})
	if d.Persona == nil || d.Persona.CharacterID != "ash" {
		t.Fatalf("selected %+v, want ash", d.Persona)
	}
	if d.Reason != ReasonContent {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonContent)
	}
}

func TestSelectStickyContinuity(t *testing.T) {
	cur := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := New(
		WithActivityRouting(false),
		WithDefaultPersona("onyx"),
		WithClock(func() time.Time { return cur }),
	)
	personas := testPersonas(t)

	d := r.Select(personas, Request{Content: "anyone know a good telescope setup?", ChannelID: "general"})
	if d.Persona.CharacterID != "onyx" {
		t.Fatalf("first turn selected %s, want onyx", d.Persona.CharacterID)
	}

	// Within the window the channel stays with onyx even though the
	// content now favors spark.
	cur = cur.Add(time.Minute)
	d = r.Select(personas, Request{Content: "any good jokes today?", ChannelID: "general"})
	if d.Persona.CharacterID != "onyx" {
		t.Fatalf("second turn selected %s, want onyx", d.Persona.CharacterID)
	}
	if d.Reason != ReasonSticky {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonSticky)
	}

	// Past the window the content rules again.
	cur = cur.Add(6 * time.Minute)
	d = r.Select(personas, Request{Content: "any good jokes today?", ChannelID: "general"})
	if d.Persona.CharacterID != "spark" {
		t.Fatalf("third turn selected %s, want spark", d.Persona.CharacterID)
	}
	if d.Reason != ReasonContent {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonContent)
	}
}

func TestSelectStickyNameOverride(t *testing.T) {
	cur := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := New(
		WithActivityRouting(false),
		WithDefaultPersona("onyx"),
		WithClock(func() time.Time { return cur }),
	)
	personas := testPersonas(t)

	r.Select(personas, Request{Content: "anyone know a good telescope setup?", ChannelID: "general"})

	// Calling a different persona by name pierces the sticky window.
	cur = cur.Add(time.Minute)
	d := r.Select(personas, Request{Content: "hey spark!", ChannelID: "general"})
	if d.Persona.CharacterID != "spark" {
		t.Fatalf("selected %s, want spark", d.Persona.CharacterID)
	}
	if d.Reason != ReasonContent {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonContent)
	}

	// And the override becomes the new sticky persona.
	if id, ok := r.Sticky("general"); !ok || id != "spark" {
		t.Errorf("Sticky = %q, %v, want spark, true", id, ok)
	}
}

func TestSelectForceReselect(t *testing.T) {
	cur := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := New(
		WithActivityRouting(false),
		WithDefaultPersona("onyx"),
		WithClock(func() time.Time { return cur }),
	)
	personas := testPersonas(t)

	r.Select(personas, Request{Content: "anyone know a good telescope setup?", ChannelID: "general"})

	cur = cur.Add(time.Minute)
	d := r.Select(personas, Request{Content: "any good jokes today?", ChannelID: "general", ForceReselect: true})
	if d.Persona.CharacterID != "spark" {
		t.Fatalf("selected %s, want spark", d.Persona.CharacterID)
	}
	if d.Reason != ReasonContent {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonContent)
	}
}

func TestSelectActivityRouting(t *testing.T) {
	personas := testPersonas(t)

	r := New(WithDefaultPersona("onyx"))
	d := r.Select(personas, Request{Content: "any good jokes today?", ChannelID: "observatory"})
	if d.Persona.CharacterID != "onyx" {
		t.Fatalf("selected %s, want onyx", d.Persona.CharacterID)
	}
	if d.Reason != ReasonActivity {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonActivity)
	}

	// With affinity routing off the same turn goes to spark on content.
	r = New(WithActivityRouting(false), WithDefaultPersona("onyx"))
	d = r.Select(personas, Request{Content: "any good jokes today?", ChannelID: "observatory"})
	if d.Persona.CharacterID != "spark" {
		t.Fatalf("selected %s, want spark", d.Persona.CharacterID)
	}
}

func TestSelectActivityTieBreak(t *testing.T) {
	personas := map[string]*persona.CompiledPersona{
		"ash":  {ID: "ash:assistant", CharacterID: "ash", Name: "Ash", ChannelAffinities: []string{"lab"}, Weight: 1.0},
		"brio": {ID: "brio:assistant", CharacterID: "brio", Name: "Brio", ChannelAffinities: []string{"lab"}, Weight: 3.0},
	}
	r := New(WithDefaultPersona("ash"))

	d := r.Select(personas, Request{Content: "hello", ChannelID: "lab"})
	if d.Persona.CharacterID != "brio" {
		t.Fatalf("selected %s, want brio by weight", d.Persona.CharacterID)
	}

	// Equal weights fall back to character id order.
	personas["brio"].Weight = 1.0
	r = New(WithDefaultPersona("ash"))
	d = r.Select(personas, Request{Content: "hello", ChannelID: "lab"})
	if d.Persona.CharacterID != "ash" {
		t.Fatalf("selected %s, want ash by id", d.Persona.CharacterID)
	}
}

func TestSelectCloseCandidatesRandom(t *testing.T) {
	personas := map[string]*persona.CompiledPersona{
		"ash":  {ID: "ash:assistant", CharacterID: "ash", Name: "Ash", Interests: []string{"tea"}, Weight: 1.0},
		"brio": {ID: "brio:assistant", CharacterID: "brio", Name: "Brio", Interests: []string{"coffee"}, Weight: 1.0},
	}

	for _, tt := range []struct {
		name string
		pick int
		want string
	}{
		{"first candidate", 0, "ash"},
		{"second candidate", 1, "brio"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			r := New(
				WithActivityRouting(false),
				WithDefaultPersona("ash"),
				WithRand(func(n int) int {
					if n != 2 {
						t.Fatalf("rand n = %d, want 2 candidates", n)
					}
					return tt.pick
				}),
			)
			d := r.Select(personas, Request{Content: "tea or coffee?", ChannelID: "kitchen"})
			if d.Persona.CharacterID != tt.want {
				t.Fatalf("selected %s, want %s", d.Persona.CharacterID, tt.want)
			}
			if d.Reason != ReasonRandom {
				t.Errorf("Reason = %q, want %q", d.Reason, ReasonRandom)
			}
			if d.Candidates != 2 {
				t.Errorf("Candidates = %d, want 2", d.Candidates)
			}
		})
	}
}

func TestSelectCloseMarginCutoff(t *testing.T) {
	// brio scores 50 against ash's 100; at margin 0.8 he is out of the
	// pool, at 0.5 he is in.
	personas := map[string]*persona.CompiledPersona{
		"ash":  {ID: "ash:assistant", CharacterID: "ash", Name: "Ash", Interests: []string{"tea", "biscuits"}, Weight: 1.0},
		"brio": {ID: "brio:assistant", CharacterID: "brio", Name: "Brio", Interests: []string{"coffee"}, Weight: 1.0},
	}
	content := "tea, biscuits, coffee"

	r := New(WithActivityRouting(false), WithDefaultPersona("ash"))
	d := r.Select(personas, Request{Content: content, ChannelID: "kitchen"})
	if d.Persona.CharacterID != "ash" || d.Reason != ReasonContent {
		t.Fatalf("got %s/%s, want ash/content", d.Persona.CharacterID, d.Reason)
	}

	r = New(
		WithActivityRouting(false),
		WithDefaultPersona("ash"),
		WithCloseMargin(0.5),
		WithRand(func(int) int { return 1 }),
	)
	d = r.Select(personas, Request{Content: content, ChannelID: "kitchen"})
	if d.Persona.CharacterID != "brio" || d.Reason != ReasonRandom {
		t.Fatalf("got %s/%s, want brio/random", d.Persona.CharacterID, d.Reason)
	}
}

func TestSelectFallback(t *testing.T) {
	r := New(WithActivityRouting(false), WithDefaultPersona("onyx"))
	personas := testPersonas(t)

	d := r.Select(personas, Request{Content: "hello there", ChannelID: "general"})
	if d.Persona == nil || d.Persona.CharacterID != "onyx" {
		t.Fatalf("selected %+v, want onyx", d.Persona)
	}
	if d.Reason != ReasonFallback {
		t.Errorf("Reason = %q, want %q", d.Reason, ReasonFallback)
	}

	// A missing default still yields a persona.
	r = New(WithActivityRouting(false), WithDefaultPersona("nobody"))
	small := map[string]*persona.CompiledPersona{
		"brio": {ID: "brio:assistant", CharacterID: "brio", Name: "Brio", Weight: 1.0},
		"cass": {ID: "cass:assistant", CharacterID: "cass", Name: "Cass", Weight: 1.0},
	}
	d = r.Select(small, Request{Content: "hello there", ChannelID: "general"})
	if d.Persona == nil || d.Persona.CharacterID != "brio" {
		t.Fatalf("selected %+v, want brio", d.Persona)
	}

	// No personas at all is the only nil outcome.
	d = r.Select(nil, Request{Content: "hello there"})
	if d.Persona != nil || d.Reason != ReasonFallback {
		t.Fatalf("got %+v, want nil fallback", d)
	}
}

func TestStickyAccessors(t *testing.T) {
	cur := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r := New(WithDefaultPersona("onyx"), WithClock(func() time.Time { return cur }))
	personas := testPersonas(t)

	if _, ok := r.Sticky("general"); ok {
		t.Fatal("Sticky before any selection, want none")
	}

	r.Select(personas, Request{Content: "tell me about astronomy", ChannelID: "general"})
	if id, ok := r.Sticky("general"); !ok || id != "onyx" {
		t.Fatalf("Sticky = %q, %v, want onyx, true", id, ok)
	}
	if n := r.StickyCount(); n != 1 {
		t.Errorf("StickyCount = %d, want 1", n)
	}

	cur = cur.Add(10 * time.Minute)
	if _, ok := r.Sticky("general"); ok {
		t.Error("Sticky after window expiry, want none")
	}

	r.ClearSticky("general")
	if n := r.StickyCount(); n != 0 {
		t.Errorf("StickyCount after clear = %d, want 0", n)
	}
}

func TestNoStickyWithoutChannel(t *testing.T) {
	r := New(WithActivityRouting(false), WithDefaultPersona("onyx"))
	personas := testPersonas(t)

	r.Select(personas, Request{Content: "tell me about astronomy"})
	if n := r.StickyCount(); n != 0 {
		t.Errorf("StickyCount = %d, want 0 for channel-less turns", n)
	}
}
