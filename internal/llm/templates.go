package llm

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Templates is a registry of named prompt templates loaded from a directory.
// Prompts are data: core logic addresses them by name and never holds prompt
// strings of its own.
type Templates struct {
	byName map[string]string
}

// LoadTemplates reads every *.prompt file in dir. The template name is the
// file name without its extension.
func LoadTemplates(dir string) (*Templates, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading prompts directory %s: %w", dir, err)
	}

	t := &Templates{byName: make(map[string]string)}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".prompt") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading prompt %s: %w", e.Name(), err)
		}
		name := strings.TrimSuffix(e.Name(), ".prompt")
		t.byName[name] = strings.TrimSpace(string(raw))
	}

	if len(t.byName) == 0 {
		return nil, fmt.Errorf("no *.prompt files in %s", dir)
	}
	return t, nil
}

// NewTemplates builds a registry from an in-memory map. Used by tests.
func NewTemplates(byName map[string]string) *Templates {
	m := make(map[string]string, len(byName))
	for k, v := range byName {
		m[k] = v
	}
	return &Templates{byName: m}
}

// Render substitutes {{name}} placeholders by literal replacement.
// Placeholders without a matching variable are left untouched.
func (t *Templates) Render(name string, vars map[string]string) (string, error) {
	tmpl, ok := t.byName[name]
	if !ok {
		return "", fmt.Errorf("unknown prompt template %q", name)
	}
	out := tmpl
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out, nil
}

// Names lists the loaded template names.
func (t *Templates) Names() []string {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	return names
}
