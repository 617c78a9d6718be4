package persona

import (
	"strings"
	"testing"
)

func TestCloneIsolation(t *testing.T) {
	original := BuiltinCharacters()[0]
	clone := original.Clone()

	clone.Quirks[0] = "changed"
	clone.Opinions["pluto"] = "changed"
	clone.Blending.Contexts["banter"]["assistant"] = 99
	clone.EvolutionStages[0].Deltas.NewQuirks[0] = "changed"

	if original.Quirks[0] == "changed" {
		t.Error("Clone must copy quirks")
	}
	if original.Opinions["pluto"] == "changed" {
		t.Error("Clone must copy opinions")
	}
	if original.Blending.Contexts["banter"]["assistant"] == 99 {
		t.Error("Clone must copy blending tables")
	}
	if original.EvolutionStages[0].Deltas.NewQuirks[0] == "changed" {
		t.Error("Clone must copy evolution deltas")
	}
}

func TestApplyDeltasSetsVoice(t *testing.T) {
	c := &Character{
		ID:    "x",
		Name:  "X",
		Voice: VoiceParams{Temperature: 0.6, Verbosity: 0.5, Formality: 0.3},
	}

	next := c.ApplyDeltas(TraitDeltas{Temperature: fptr(0.9), Verbosity: fptr(0.2)})

	// Voice deltas set the target value, they never increment.
	if next.Voice.Temperature != 0.9 {
		t.Errorf("Temperature = %v, want 0.9", next.Voice.Temperature)
	}
	if next.Voice.Verbosity != 0.2 {
		t.Errorf("Verbosity = %v, want 0.2", next.Voice.Verbosity)
	}
	if next.Voice.Formality != 0.3 {
		t.Errorf("Formality = %v, want untouched 0.3", next.Voice.Formality)
	}
	if c.Voice.Temperature != 0.6 {
		t.Error("ApplyDeltas must not modify the receiver")
	}
}

func TestApplyDeltasQuirks(t *testing.T) {
	c := &Character{
		ID:     "x",
		Name:   "X",
		Quirks: []string{"hums while thinking", "quotes poetry"},
	}

	next := c.ApplyDeltas(TraitDeltas{
		NewQuirks:    []string{"collects maps", "quotes poetry"},
		RemoveQuirks: []string{"hums while thinking"},
	})

	want := []string{"quotes poetry", "collects maps"}
	if len(next.Quirks) != len(want) {
		t.Fatalf("Quirks = %v, want %v", next.Quirks, want)
	}
	for i := range want {
		if next.Quirks[i] != want[i] {
			t.Errorf("Quirks[%d] = %q, want %q", i, next.Quirks[i], want[i])
		}
	}
}

func TestApplyDeltasOpinions(t *testing.T) {
	c := &Character{
		ID:       "x",
		Name:     "X",
		Opinions: map[string]string{"tea": "superior", "rain": "pleasant"},
	}

	next := c.ApplyDeltas(TraitDeltas{Opinions: map[string]string{"tea": "essential", "snow": "magical"}})

	if next.Opinions["tea"] != "essential" {
		t.Errorf("merged opinion = %q, want delta to win", next.Opinions["tea"])
	}
	if next.Opinions["rain"] != "pleasant" {
		t.Error("unrelated opinions must survive the merge")
	}
	if next.Opinions["snow"] != "magical" {
		t.Error("new opinions must be added")
	}
	if c.Opinions["tea"] != "superior" {
		t.Error("ApplyDeltas must not modify the receiver")
	}
}

func TestStageAtExactMatchOnly(t *testing.T) {
	c := &Character{
		ID:   "x",
		Name: "X",
		EvolutionStages: []EvolutionStage{
			{Milestone: 25, Deltas: TraitDeltas{Verbosity: fptr(0.7)}},
			{Milestone: 100, Deltas: TraitDeltas{NewQuirks: []string{"q"}}},
		},
	}

	if _, ok := c.StageAt(25); !ok {
		t.Error("StageAt(25) should fire")
	}
	if _, ok := c.StageAt(26); ok {
		t.Error("StageAt(26) must not fire, milestones match exactly")
	}
	if _, ok := c.StageAt(99); ok {
		t.Error("StageAt(99) must not fire")
	}
	if stage, ok := c.StageAt(100); !ok || stage.Milestone != 100 {
		t.Error("StageAt(100) should fire the second stage")
	}
}

func TestCharacterValidate(t *testing.T) {
	valid := func() Character {
		return Character{
			ID:   "ok",
			Name: "Ok",
			EvolutionStages: []EvolutionStage{
				{Milestone: 10},
				{Milestone: 50},
			},
		}
	}

	tests := []struct {
		name    string
		modify  func(*Character)
		wantErr string
	}{
		{"valid", func(c *Character) {}, ""},
		{"missing id", func(c *Character) { c.ID = "" }, "id is required"},
		{"missing name", func(c *Character) { c.Name = "" }, "name is required"},
		{"negative weight", func(c *Character) { c.Weight = -1 }, "weight"},
		{"zero milestone", func(c *Character) { c.EvolutionStages[0].Milestone = 0 }, "positive"},
		{"descending milestones", func(c *Character) { c.EvolutionStages[1].Milestone = 5 }, "ascending"},
		{"duplicate milestones", func(c *Character) { c.EvolutionStages[1].Milestone = 10 }, "ascending"},
		{
			"negative blend weight",
			func(c *Character) {
				c.Blending = &BlendingConfig{Enabled: true, Contexts: map[string]map[string]float64{"x": {"f": -0.5}}}
			},
			"negative weight",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.modify(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("expected valid, got: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestFrameworkValidate(t *testing.T) {
	tests := []struct {
		name    string
		f       Framework
		wantErr bool
	}{
		{"valid", Framework{ID: "f", Name: "F", PromptTemplate: "{{.Identity}}"}, false},
		{"missing id", Framework{Name: "F", PromptTemplate: "x"}, true},
		{"missing name", Framework{ID: "f", PromptTemplate: "x"}, true},
		{"missing template", Framework{ID: "f", Name: "F"}, true},
		{"malformed template", Framework{ID: "f", Name: "F", PromptTemplate: "{{.Broken"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.f.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && tt.f.tmpl == nil {
				t.Error("Validate must parse and retain the template")
			}
		})
	}
}

func TestTraitDeltasEmpty(t *testing.T) {
	if !(TraitDeltas{}).Empty() {
		t.Error("zero deltas must be empty")
	}
	if (TraitDeltas{Verbosity: fptr(0.5)}).Empty() {
		t.Error("voice delta is not empty")
	}
	if (TraitDeltas{NewQuirks: []string{"q"}}).Empty() {
		t.Error("quirk delta is not empty")
	}
}
