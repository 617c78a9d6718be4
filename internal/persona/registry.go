package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Diagnostic reports one definition that failed to load or resolve. Bad
// definitions never abort a load; they are skipped and surfaced here.
type Diagnostic struct {
	Kind string // "framework", "character" or "file"
	ID   string // definition id, or file path for file-level failures
	File string // source file, empty for in-memory definitions
	Err  error
}

func (d Diagnostic) String() string {
	if d.File != "" {
		return fmt.Sprintf("%s %q (%s): %v", d.Kind, d.ID, d.File, d.Err)
	}
	return fmt.Sprintf("%s %q: %v", d.Kind, d.ID, d.Err)
}

// Registry owns the immutable framework and character definitions. It is
// built once at startup and read-only afterwards, so lookups are safe from
// any number of goroutines without locking.
type Registry struct {
	frameworks         map[string]*Framework
	characters         map[string]*Character
	defaultFrameworkID string
	diagnostics        []Diagnostic
}

// NewRegistry validates the given definitions and builds a registry.
// Malformed definitions are skipped and reported as diagnostics. A character
// whose base framework does not resolve is kept; compilation for it falls
// back to the default framework. The default framework itself must resolve,
// otherwise the registry cannot fail closed and construction errors.
func NewRegistry(frameworks []Framework, characters []Character, defaultFrameworkID string) (*Registry, error) {
	r := &Registry{
		frameworks:         make(map[string]*Framework, len(frameworks)),
		characters:         make(map[string]*Character, len(characters)),
		defaultFrameworkID: defaultFrameworkID,
	}

	for i := range frameworks {
		f := frameworks[i] // copy; Validate parses the template into the copy
		if err := f.Validate(); err != nil {
			r.diagnostics = append(r.diagnostics, Diagnostic{Kind: "framework", ID: f.ID, Err: err})
			continue
		}
		if _, dup := r.frameworks[f.ID]; dup {
			r.diagnostics = append(r.diagnostics, Diagnostic{Kind: "framework", ID: f.ID, Err: fmt.Errorf("duplicate framework id")})
			continue
		}
		r.frameworks[f.ID] = &f
	}

	if _, ok := r.frameworks[defaultFrameworkID]; !ok {
		return nil, fmt.Errorf("default framework %q not found among loaded frameworks", defaultFrameworkID)
	}

	for i := range characters {
		c := characters[i].Clone()
		if err := c.Validate(); err != nil {
			r.diagnostics = append(r.diagnostics, Diagnostic{Kind: "character", ID: c.ID, Err: err})
			continue
		}
		if _, dup := r.characters[c.ID]; dup {
			r.diagnostics = append(r.diagnostics, Diagnostic{Kind: "character", ID: c.ID, Err: fmt.Errorf("duplicate character id")})
			continue
		}
		if c.Weight == 0 {
			c.Weight = 1.0
		}
		if c.BaseFramework == "" {
			c.BaseFramework = defaultFrameworkID
		} else if _, ok := r.frameworks[c.BaseFramework]; !ok {
			r.diagnostics = append(r.diagnostics, Diagnostic{
				Kind: "character",
				ID:   c.ID,
				Err:  fmt.Errorf("base framework %q not found, falling back to %q", c.BaseFramework, defaultFrameworkID),
			})
		}
		r.characters[c.ID] = c
	}

	return r, nil
}

// Framework returns a framework by id.
func (r *Registry) Framework(id string) (*Framework, bool) {
	f, ok := r.frameworks[id]
	return f, ok
}

// Character returns a character by id.
func (r *Registry) Character(id string) (*Character, bool) {
	c, ok := r.characters[id]
	return c, ok
}

// Frameworks returns all frameworks sorted by id.
func (r *Registry) Frameworks() []*Framework {
	out := make([]*Framework, 0, len(r.frameworks))
	for _, f := range r.frameworks {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Characters returns all characters sorted by id.
func (r *Registry) Characters() []*Character {
	out := make([]*Character, 0, len(r.characters))
	for _, c := range r.characters {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DefaultFramework returns the designated fallback framework.
func (r *Registry) DefaultFramework() *Framework {
	return r.frameworks[r.defaultFrameworkID]
}

// ResolveFramework returns the character's base framework. When the reference
// does not resolve it returns the default framework and false, which is the
// fail-closed path recorded as a diagnostic at load time.
func (r *Registry) ResolveFramework(c *Character) (*Framework, bool) {
	if f, ok := r.frameworks[c.BaseFramework]; ok {
		return f, true
	}
	return r.DefaultFramework(), false
}

// Diagnostics returns the load-time diagnostics in occurrence order.
func (r *Registry) Diagnostics() []Diagnostic {
	return r.diagnostics
}

// DefinitionFile is the on-disk YAML shape. One file can carry any number of
// frameworks and characters.
type DefinitionFile struct {
	Frameworks []Framework `yaml:"frameworks"`
	Characters []Character `yaml:"characters"`
}

// LoadDir reads every .yaml/.yml file directly under dir and returns the
// definitions found. A file that fails to parse becomes a diagnostic, never
// fatal to the rest of the load. A missing directory contributes nothing.
func LoadDir(dir string) ([]Framework, []Character, []Diagnostic) {
	var (
		frameworks  []Framework
		characters  []Character
		diagnostics []Diagnostic
	)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		diagnostics = append(diagnostics, Diagnostic{Kind: "file", ID: dir, File: dir, Err: err})
		return nil, nil, diagnostics
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		data, err := os.ReadFile(path)
		if err != nil {
			diagnostics = append(diagnostics, Diagnostic{Kind: "file", ID: entry.Name(), File: path, Err: err})
			continue
		}

		var file DefinitionFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			diagnostics = append(diagnostics, Diagnostic{Kind: "file", ID: entry.Name(), File: path, Err: fmt.Errorf("failed to parse definitions: %w", err)})
			continue
		}

		frameworks = append(frameworks, file.Frameworks...)
		characters = append(characters, file.Characters...)
	}

	return frameworks, characters, diagnostics
}
