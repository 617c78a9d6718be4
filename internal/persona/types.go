// Package persona defines the Framework and Character model behind the
// Troupe engine and compiles the two into ready-to-use instruction bundles.
//
// Frameworks are reusable behavioral rule sets; Characters are concrete
// personalities that pair with a base Framework. Compile merges one of each
// into an immutable CompiledPersona. Blender mixes several Frameworks for a
// single Character according to conversational context.
package persona

import (
	"fmt"
	"text/template"
	"time"
)

// Framework is a reusable bundle of behavioral and decision rules plus a
// prompt template, independent of any specific character. Frameworks are
// immutable once loaded into a Registry.
type Framework struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`

	// === RULES ===
	BehavioralPatterns []Pattern         `yaml:"behavioral_patterns" json:"behavioral_patterns"` // ordered
	DecisionMaking     map[string]string `yaml:"decision_making" json:"decision_making"`         // how to choose what to talk about
	InteractionStyle   map[string]any    `yaml:"interaction_style" json:"interaction_style"`     // tone, pacing; string or numeric values
	AntiHallucination  []string          `yaml:"anti_hallucination" json:"anti_hallucination"`

	// === RENDERING ===
	// PromptTemplate is a text/template over .Name, .Identity, .Behavior,
	// .Knowledge, .Style and .Safety. Parsed and checked at registry load.
	PromptTemplate string `yaml:"prompt_template" json:"prompt_template"`

	// Tools lists external capabilities personas on this framework may invoke.
	Tools []string `yaml:"tools" json:"tools,omitempty"`

	tmpl *template.Template
}

// Pattern is one ordered behavioral rule entry.
type Pattern struct {
	Key  string `yaml:"key" json:"key"`
	Rule string `yaml:"rule" json:"rule"`
}

// Validate checks required fields and parses the prompt template. A framework
// that fails validation is skipped at load time.
func (f *Framework) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("framework id is required")
	}
	if f.Name == "" {
		return fmt.Errorf("framework name is required")
	}
	if f.PromptTemplate == "" {
		return fmt.Errorf("framework prompt_template is required")
	}
	tmpl, err := template.New(f.ID).Parse(f.PromptTemplate)
	if err != nil {
		return fmt.Errorf("invalid prompt_template: %w", err)
	}
	f.tmpl = tmpl
	return nil
}

// Character is a concrete personality definition. The base loaded from a
// definition is immutable; evolution produces modified copies via ApplyDeltas,
// never in-place mutation.
type Character struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"` // display name, also matched for routing mentions

	// === IDENTITY ===
	Traits        []string `yaml:"traits" json:"traits"`
	BaseFramework string   `yaml:"base_framework" json:"base_framework"`

	// === KNOWLEDGE ===
	KnowledgeDomain string   `yaml:"knowledge_domain" json:"knowledge_domain"`
	RetrievalTags   []string `yaml:"retrieval_tags" json:"retrieval_tags,omitempty"` // consumed by the retrieval layer only

	// === VOICE ===
	Opinions map[string]string `yaml:"opinions" json:"opinions,omitempty"` // topic -> stance
	Voice    VoiceParams       `yaml:"voice" json:"voice"`
	Quirks   []string          `yaml:"quirks" json:"quirks,omitempty"` // ordered short behavioral strings

	// === ROUTING ===
	Interests         []string `yaml:"interests" json:"interests,omitempty"`
	Avoidances        []string `yaml:"avoidances" json:"avoidances,omitempty"`
	ChannelAffinities []string `yaml:"channel_affinities" json:"channel_affinities,omitempty"`
	Weight            float64  `yaml:"weight" json:"weight"` // score multiplier, normalized to 1.0 when unset

	// === EVOLUTION ===
	EvolutionStages []EvolutionStage `yaml:"evolution_stages" json:"evolution_stages,omitempty"` // ascending milestone order

	// === BLENDING ===
	Blending *BlendingConfig `yaml:"blending" json:"blending,omitempty"`

	// SystemPromptOverride, when set, is prepended verbatim to the compiled
	// prompt. It never replaces the framework's rules.
	SystemPromptOverride string `yaml:"system_prompt_override" json:"system_prompt_override,omitempty"`
}

// VoiceParams are the numeric generation parameters a character speaks with.
type VoiceParams struct {
	Temperature float64 `yaml:"temperature" json:"temperature"`
	Verbosity   float64 `yaml:"verbosity" json:"verbosity"` // 0 terse .. 1 expansive
	Formality   float64 `yaml:"formality" json:"formality"` // 0 casual .. 1 formal
}

// EvolutionStage fires once, when a persona's interaction count exactly
// reaches Milestone. Stages must be declared in ascending milestone order.
type EvolutionStage struct {
	Milestone int         `yaml:"milestone" json:"milestone"`
	Deltas    TraitDeltas `yaml:"deltas" json:"deltas"`
}

// TraitDeltas describes how a milestone changes a character. Voice fields are
// set to the target value, not incremented. Quirks support add and remove
// lists; opinions merge key by key with the delta winning.
type TraitDeltas struct {
	Temperature  *float64          `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	Verbosity    *float64          `yaml:"verbosity,omitempty" json:"verbosity,omitempty"`
	Formality    *float64          `yaml:"formality,omitempty" json:"formality,omitempty"`
	NewQuirks    []string          `yaml:"new_quirks,omitempty" json:"new_quirks,omitempty"`
	RemoveQuirks []string          `yaml:"remove_quirks,omitempty" json:"remove_quirks,omitempty"`
	Opinions     map[string]string `yaml:"opinions,omitempty" json:"opinions,omitempty"`
}

// Empty reports whether the deltas change nothing.
func (d TraitDeltas) Empty() bool {
	return d.Temperature == nil && d.Verbosity == nil && d.Formality == nil &&
		len(d.NewQuirks) == 0 && len(d.RemoveQuirks) == 0 && len(d.Opinions) == 0
}

// BlendingConfig enables context-sensitive framework mixing for a character.
// Contexts maps a context type ("banter", "debate", ...) to framework-id
// weights. A character's table takes precedence over the process-wide one.
type BlendingConfig struct {
	Enabled  bool                          `yaml:"enabled" json:"enabled"`
	Contexts map[string]map[string]float64 `yaml:"contexts" json:"contexts,omitempty"`
}

// Validate checks required fields and structural invariants. A character that
// fails validation is skipped at load time.
func (c *Character) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("character id is required")
	}
	if c.Name == "" {
		return fmt.Errorf("character name is required")
	}
	if c.Weight < 0 {
		return fmt.Errorf("character weight cannot be negative")
	}

	prev := 0
	for i, stage := range c.EvolutionStages {
		if stage.Milestone <= 0 {
			return fmt.Errorf("evolution stage %d: milestone must be positive", i)
		}
		if stage.Milestone <= prev {
			return fmt.Errorf("evolution stage %d: milestones must be strictly ascending", i)
		}
		prev = stage.Milestone
	}

	if c.Blending != nil {
		for ctx, weights := range c.Blending.Contexts {
			for fw, w := range weights {
				if w < 0 {
					return fmt.Errorf("blending context %q: negative weight for framework %q", ctx, fw)
				}
			}
		}
	}

	return nil
}

// Clone returns a deep copy of the character.
func (c *Character) Clone() *Character {
	clone := *c

	clone.Traits = copyStrings(c.Traits)
	clone.RetrievalTags = copyStrings(c.RetrievalTags)
	clone.Quirks = copyStrings(c.Quirks)
	clone.Interests = copyStrings(c.Interests)
	clone.Avoidances = copyStrings(c.Avoidances)
	clone.ChannelAffinities = copyStrings(c.ChannelAffinities)
	clone.Opinions = copyStringMap(c.Opinions)

	if c.EvolutionStages != nil {
		clone.EvolutionStages = make([]EvolutionStage, len(c.EvolutionStages))
		for i, stage := range c.EvolutionStages {
			cp := stage
			cp.Deltas.NewQuirks = copyStrings(stage.Deltas.NewQuirks)
			cp.Deltas.RemoveQuirks = copyStrings(stage.Deltas.RemoveQuirks)
			cp.Deltas.Opinions = copyStringMap(stage.Deltas.Opinions)
			clone.EvolutionStages[i] = cp
		}
	}

	if c.Blending != nil {
		b := &BlendingConfig{Enabled: c.Blending.Enabled}
		if c.Blending.Contexts != nil {
			b.Contexts = make(map[string]map[string]float64, len(c.Blending.Contexts))
			for ctx, weights := range c.Blending.Contexts {
				inner := make(map[string]float64, len(weights))
				for fw, w := range weights {
					inner[fw] = w
				}
				b.Contexts[ctx] = inner
			}
		}
		clone.Blending = b
	}

	return &clone
}

// ApplyDeltas returns a new character with d applied; the receiver is not
// modified. NewQuirks append in order, skipping quirks already present;
// RemoveQuirks drop exact matches.
func (c *Character) ApplyDeltas(d TraitDeltas) *Character {
	next := c.Clone()

	if d.Temperature != nil {
		next.Voice.Temperature = *d.Temperature
	}
	if d.Verbosity != nil {
		next.Voice.Verbosity = *d.Verbosity
	}
	if d.Formality != nil {
		next.Voice.Formality = *d.Formality
	}

	for _, q := range d.NewQuirks {
		if !containsString(next.Quirks, q) {
			next.Quirks = append(next.Quirks, q)
		}
	}
	if len(d.RemoveQuirks) > 0 {
		kept := next.Quirks[:0]
		for _, q := range next.Quirks {
			if !containsString(d.RemoveQuirks, q) {
				kept = append(kept, q)
			}
		}
		next.Quirks = kept
	}

	if len(d.Opinions) > 0 {
		if next.Opinions == nil {
			next.Opinions = make(map[string]string, len(d.Opinions))
		}
		for k, v := range d.Opinions {
			next.Opinions[k] = v
		}
	}

	return next
}

// StageAt returns the evolution stage whose milestone equals count, if any.
// Milestones fire on exact match only; there is no interpolation.
func (c *Character) StageAt(count int) (EvolutionStage, bool) {
	for _, stage := range c.EvolutionStages {
		if stage.Milestone == count {
			return stage, true
		}
	}
	return EvolutionStage{}, false
}

// CompiledPersona is the rendered, ready-to-use instruction bundle for one
// character on one framework. Instances are immutable; recompilation always
// produces a new value, so a turn holding a reference keeps a consistent
// snapshot even when evolution fires concurrently.
type CompiledPersona struct {
	ID          string `json:"id"` // characterID:frameworkID, plus blend signature when blended
	CharacterID string `json:"character_id"`
	FrameworkID string `json:"framework_id"`
	Name        string `json:"name"`

	Prompt       string      `json:"prompt"`
	Params       VoiceParams `json:"params"`
	Capabilities []string    `json:"capabilities"`

	// Routing inputs, copied from the character so selection never reads
	// shared mutable state.
	KnowledgeDomain   string   `json:"knowledge_domain"`
	Interests         []string `json:"interests,omitempty"`
	Avoidances        []string `json:"avoidances,omitempty"`
	ChannelAffinities []string `json:"channel_affinities,omitempty"`
	Weight            float64  `json:"weight"`

	BlendSignature string    `json:"blend_signature,omitempty"`
	CompiledAt     time.Time `json:"compiled_at"`
}

// Blended reports whether this bundle came from the Blender rather than a
// plain character-framework compilation.
func (cp *CompiledPersona) Blended() bool {
	return cp.BlendSignature != ""
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
