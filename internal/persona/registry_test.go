package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRegistryBuiltins(t *testing.T) {
	reg := mustRegistry(t)

	if len(reg.Diagnostics()) != 0 {
		t.Errorf("builtins must load clean, got diagnostics: %v", reg.Diagnostics())
	}
	if got := len(reg.Frameworks()); got != 3 {
		t.Errorf("frameworks = %d, want 3", got)
	}
	if got := len(reg.Characters()); got != 3 {
		t.Errorf("characters = %d, want 3", got)
	}
	if reg.DefaultFramework().ID != "assistant" {
		t.Errorf("default framework = %q, want %q", reg.DefaultFramework().ID, "assistant")
	}

	c, ok := reg.Character("onyx")
	if !ok {
		t.Fatal("expected builtin character onyx")
	}
	f, resolved := reg.ResolveFramework(c)
	if !resolved || f.ID != "assistant" {
		t.Errorf("ResolveFramework(onyx) = %q, %v, want assistant, true", f.ID, resolved)
	}
}

func TestNewRegistryDiagnostics(t *testing.T) {
	frameworks := []Framework{
		{ID: "good", Name: "Good", PromptTemplate: "{{.Identity}}"},
		{ID: "broken", Name: "Broken", PromptTemplate: "{{.Identity"},
		{Name: "NoID", PromptTemplate: "x"},
	}
	characters := []Character{
		{ID: "hero", Name: "Hero", BaseFramework: "good"},
		{ID: "lost", Name: "Lost", BaseFramework: "missing"},
		{Name: "Anon"},
	}

	reg, err := NewRegistry(frameworks, characters, "good")
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	if got := len(reg.Frameworks()); got != 1 {
		t.Errorf("frameworks = %d, want 1", got)
	}
	// "lost" survives with a fallback; only the id-less character is skipped.
	if got := len(reg.Characters()); got != 2 {
		t.Errorf("characters = %d, want 2", got)
	}
	if got := len(reg.Diagnostics()); got != 4 {
		t.Errorf("diagnostics = %d, want 4: %v", got, reg.Diagnostics())
	}

	lost, ok := reg.Character("lost")
	if !ok {
		t.Fatal("character with unresolved framework must be kept")
	}
	f, resolved := reg.ResolveFramework(lost)
	if resolved {
		t.Error("unresolved base framework must report resolved=false")
	}
	if f.ID != "good" {
		t.Errorf("fallback framework = %q, want %q", f.ID, "good")
	}
}

func TestNewRegistryMissingDefault(t *testing.T) {
	_, err := NewRegistry(BuiltinFrameworks(), nil, "no-such-framework")
	if err == nil {
		t.Fatal("expected error when the default framework does not resolve")
	}
	if !strings.Contains(err.Error(), "no-such-framework") {
		t.Errorf("error should name the missing framework, got: %v", err)
	}
}

func TestNewRegistryDuplicates(t *testing.T) {
	frameworks := []Framework{
		{ID: "dup", Name: "First", PromptTemplate: "{{.Identity}}"},
		{ID: "dup", Name: "Second", PromptTemplate: "{{.Identity}}"},
	}
	characters := []Character{
		{ID: "c", Name: "First"},
		{ID: "c", Name: "Second"},
	}

	reg, err := NewRegistry(frameworks, characters, "dup")
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	f, _ := reg.Framework("dup")
	if f.Name != "First" {
		t.Errorf("duplicate id: first definition must win, got %q", f.Name)
	}
	c, _ := reg.Character("c")
	if c.Name != "First" {
		t.Errorf("duplicate id: first definition must win, got %q", c.Name)
	}
	if got := len(reg.Diagnostics()); got != 2 {
		t.Errorf("diagnostics = %d, want 2", got)
	}
}

func TestNewRegistryNormalizesWeight(t *testing.T) {
	characters := []Character{{ID: "w", Name: "W"}}
	reg, err := NewRegistry(BuiltinFrameworks(), characters, "assistant")
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	c, _ := reg.Character("w")
	if c.Weight != 1.0 {
		t.Errorf("unset weight = %v, want normalized 1.0", c.Weight)
	}
	if c.BaseFramework != "assistant" {
		t.Errorf("unset base framework = %q, want default %q", c.BaseFramework, "assistant")
	}
}

func TestRegistryIsolatedFromInput(t *testing.T) {
	characters := BuiltinCharacters()
	reg, err := NewRegistry(BuiltinFrameworks(), characters, "assistant")
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	characters[0].Quirks[0] = "mutated after load"

	c, _ := reg.Character(characters[0].ID)
	if c.Quirks[0] == "mutated after load" {
		t.Error("registry must deep-copy character definitions at load")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()

	good := `frameworks:
  - id: custom
    name: Custom
    behavioral_patterns:
      - key: opening
        rule: Say hello.
    decision_making:
      depth: Keep it short.
    interaction_style:
      tone: brisk
      pacing: 0.3
    anti_hallucination:
      - Do not guess.
    prompt_template: |
      {{.Identity}}
      {{.Behavior}}
      {{.Style}}
      {{.Safety}}
    tools:
      - search
characters:
  - id: customchar
    name: Custom Char
    base_framework: custom
    knowledge_domain: testing
    interests:
      - testing
    voice:
      temperature: 0.4
      verbosity: 0.5
      formality: 0.5
`
	if err := os.WriteFile(filepath.Join(dir, "good.yaml"), []byte(good), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("frameworks: ["), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	frameworks, characters, diags := LoadDir(dir)

	if len(frameworks) != 1 || frameworks[0].ID != "custom" {
		t.Errorf("frameworks = %+v, want single custom", frameworks)
	}
	if len(characters) != 1 || characters[0].ID != "customchar" {
		t.Errorf("characters = %+v, want single customchar", characters)
	}
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %d, want 1 for the broken file", len(diags))
	}
	if diags[0].Kind != "file" || !strings.Contains(diags[0].File, "broken.yaml") {
		t.Errorf("diagnostic = %+v, want file diagnostic for broken.yaml", diags[0])
	}

	// Loaded definitions must survive registry build and compile.
	reg, err := NewRegistry(frameworks, characters, "custom")
	if err != nil {
		t.Fatalf("NewRegistry over loaded definitions failed: %v", err)
	}
	c, _ := reg.Character("customchar")
	f, _ := reg.ResolveFramework(c)
	cp, err := Compile(c, f)
	if err != nil {
		t.Fatalf("Compile over loaded definitions failed: %v", err)
	}
	if !strings.Contains(cp.Prompt, "Say hello.") {
		t.Error("compiled prompt missing loaded pattern rule")
	}
}

func TestLoadDirMissing(t *testing.T) {
	frameworks, characters, diags := LoadDir(filepath.Join(t.TempDir(), "does-not-exist"))
	if frameworks != nil || characters != nil || diags != nil {
		t.Error("missing directory must contribute nothing")
	}
}
