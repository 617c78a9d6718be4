package persona

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// promptContext is the data a framework's top-level template renders over.
type promptContext struct {
	Name      string
	Identity  string
	Behavior  string
	Knowledge string
	Style     string
	Safety    string
}

// Compile renders character c on framework f into a new CompiledPersona. It
// is deterministic: identical inputs yield byte-identical prompt text and
// parameters. Missing optional character fields render as empty text, never
// as errors.
func Compile(c *Character, f *Framework) (*CompiledPersona, error) {
	if c == nil || f == nil {
		return nil, fmt.Errorf("compile requires both a character and a framework")
	}
	return compileSections(c, f, sectionsOf(f), "")
}

// frameworkSections carries the blendable framework content through
// compilation, either from a single framework or merged from several.
type frameworkSections struct {
	patterns []Pattern
	decision map[string]string
	style    map[string]any
	safety   []string
}

func sectionsOf(f *Framework) frameworkSections {
	return frameworkSections{
		patterns: f.BehavioralPatterns,
		decision: f.DecisionMaking,
		style:    f.InteractionStyle,
		safety:   f.AntiHallucination,
	}
}

// compileSections is the shared compilation path. The framework supplies the
// top-level template and macro-structure; secs supplies the rule content,
// which for blends differs from the framework's own.
func compileSections(c *Character, f *Framework, secs frameworkSections, blendSignature string) (*CompiledPersona, error) {
	tmpl := f.tmpl
	if tmpl == nil {
		parsed, err := template.New(f.ID).Parse(f.PromptTemplate)
		if err != nil {
			return nil, fmt.Errorf("framework %q: invalid prompt template: %w", f.ID, err)
		}
		tmpl = parsed
	}

	ctx := promptContext{
		Name:      c.Name,
		Identity:  buildIdentity(c, f),
		Behavior:  buildBehavior(c, secs),
		Knowledge: buildKnowledge(c),
		Style:     buildStyle(c, secs),
		Safety:    buildSafety(secs),
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return nil, fmt.Errorf("framework %q: prompt render failed: %w", f.ID, err)
	}

	prompt := strings.TrimSpace(buf.String()) + "\n"
	if c.SystemPromptOverride != "" {
		prompt = strings.TrimSpace(c.SystemPromptOverride) + "\n\n" + prompt
	}

	id := c.ID + ":" + f.ID
	if blendSignature != "" {
		id += "+" + blendSignature
	}

	return &CompiledPersona{
		ID:           id,
		CharacterID:  c.ID,
		FrameworkID:  f.ID,
		Name:         c.Name,
		Prompt:       prompt,
		Params:       c.Voice,
		Capabilities: capabilitiesOf(c, f),

		KnowledgeDomain:   c.KnowledgeDomain,
		Interests:         copyStrings(c.Interests),
		Avoidances:        copyStrings(c.Avoidances),
		ChannelAffinities: copyStrings(c.ChannelAffinities),
		Weight:            c.Weight,

		BlendSignature: blendSignature,
		CompiledAt:     time.Now(),
	}, nil
}

func buildIdentity(c *Character, f *Framework) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, speaking in the %s manner.", c.Name, f.Name)
	if len(c.Traits) > 0 {
		fmt.Fprintf(&sb, "\nTraits: %s.", strings.Join(c.Traits, ", "))
	}
	if len(c.Opinions) > 0 {
		sb.WriteString("\nHeld opinions:")
		for _, k := range sortedKeys(c.Opinions) {
			fmt.Fprintf(&sb, "\n- %s: %s", k, c.Opinions[k])
		}
	}
	return sb.String()
}

func buildBehavior(c *Character, secs frameworkSections) string {
	var sb strings.Builder
	for i, p := range secs.patterns {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "- %s: %s", p.Key, p.Rule)
	}
	if len(secs.decision) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Choosing what to engage:")
		for _, k := range sortedKeys(secs.decision) {
			fmt.Fprintf(&sb, "\n- %s: %s", k, secs.decision[k])
		}
	}
	if len(c.Quirks) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Quirks:")
		for _, q := range c.Quirks {
			fmt.Fprintf(&sb, "\n- %s", q)
		}
	}
	return sb.String()
}

func buildKnowledge(c *Character) string {
	var sb strings.Builder
	if c.KnowledgeDomain != "" {
		fmt.Fprintf(&sb, "Primary domain: %s.", c.KnowledgeDomain)
	}
	if len(c.Interests) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Interests: %s.", strings.Join(c.Interests, ", "))
	}
	if len(c.Avoidances) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Steers away from: %s.", strings.Join(c.Avoidances, ", "))
	}
	return sb.String()
}

func buildStyle(c *Character, secs frameworkSections) string {
	var sb strings.Builder
	for _, k := range sortedKeys(secs.style) {
		fmt.Fprintf(&sb, "- %s: %s\n", k, styleValue(secs.style[k]))
	}
	fmt.Fprintf(&sb, "Voice: temperature %.2f, verbosity %.2f, formality %.2f.",
		c.Voice.Temperature, c.Voice.Verbosity, c.Voice.Formality)
	return sb.String()
}

func buildSafety(secs frameworkSections) string {
	var sb strings.Builder
	for i, rule := range secs.safety {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "- %s", rule)
	}
	return sb.String()
}

// styleValue renders an interaction-style value as stable text. Floats use
// the shortest exact form so equal inputs always print identically.
func styleValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(t)
	case []string:
		return strings.Join(t, ", ")
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = styleValue(item)
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprintf("%v", t)
	}
}

// capabilitiesOf derives the allowed capability set: the framework's tool
// requirements plus retrieval capabilities for the character's knowledge
// domain and retrieval tags. Sorted for deterministic output.
func capabilitiesOf(c *Character, f *Framework) []string {
	set := make(map[string]struct{}, len(f.Tools)+1+len(c.RetrievalTags))
	for _, tool := range f.Tools {
		set[tool] = struct{}{}
	}
	if c.KnowledgeDomain != "" {
		set["retrieval:"+c.KnowledgeDomain] = struct{}{}
	}
	for _, tag := range c.RetrievalTags {
		set["retrieval:"+tag] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
