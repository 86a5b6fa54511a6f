// Package persona manages agent persona definitions and prompt templates.
//
// Personas live on disk under <dataRoot>/personas/<id>/ as a persona.yaml
// manifest plus markdown templates. The rendered template becomes the
// session's opening prompt payload and is recorded as the session_start
// log entry. Built-in personas (specialist, product-manager, qa-engineer)
// are scaffolded into the directory on first use so they stay editable.
package persona

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/grant-traynor/bp6-sub001/internal/logging"
	"github.com/grant-traynor/bp6-sub001/pkg/types"
)

// ErrUnknownPersona is returned when a persona id is not registered.
var ErrUnknownPersona = errors.New("unknown persona")

// Manifest is the persona.yaml schema.
type Manifest struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	Description     string `yaml:"description"`
	Backend         string `yaml:"backend"`          // preferred backend, optional
	DefaultTemplate string `yaml:"default_template"` // fallback template name
}

// Context carries the selection inputs a persona uses to pick and fill
// its template.
type Context struct {
	Task      string // operation hint, e.g. "decompose", "implement"
	IssueType string // e.g. "epic", "feature"
	TaskRef   string // external task id, substituted for {{feature_id}}
	Role      string // specialist role, selects the specialist template
}

// Persona is one loaded persona definition.
type Persona struct {
	Manifest Manifest
	Dir      string

	// selectTemplate maps a Context to a template name. Built-ins carry
	// their own rules; disk-defined personas get the generic rule.
	selectTemplate func(m Manifest, ctx Context) string
}

// ID returns the persona identifier.
func (p *Persona) ID() string { return p.Manifest.ID }

// TemplateName resolves which template the context selects.
func (p *Persona) TemplateName(ctx Context) string {
	return p.selectTemplate(p.Manifest, ctx)
}

// Templates lists the persona's available template names, sorted.
func (p *Persona) Templates() ([]string, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(p.Dir, "*.md"))
	if err != nil {
		return nil, fmt.Errorf("glob templates: %w", err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.Base(m), ".md"))
	}
	sort.Strings(names)
	return names, nil
}

// Render loads the selected template, substitutes {{variable}}
// placeholders, and appends the task context JSON when given.
func (p *Persona) Render(ctx Context, taskJSON string) (string, error) {
	name := p.TemplateName(ctx)
	path := filepath.Join(p.Dir, name+".md")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("load template %q for persona %q: %w", name, p.ID(), err)
	}

	prompt := string(data)
	for key, value := range map[string]string{
		"feature_id": ctx.TaskRef,
		"task":       ctx.Task,
		"role":       ctx.Role,
	} {
		prompt = strings.ReplaceAll(prompt, "{{"+key+"}}", value)
	}

	if taskJSON != "" {
		prompt += "\nContext JSON:\n```json\n" + taskJSON + "\n```\n"
	}
	return prompt, nil
}

// Registry holds all loaded personas.
type Registry struct {
	dir      string
	mu       sync.RWMutex
	personas map[string]*Persona
}

// NewRegistry scaffolds the built-in personas into dir when missing,
// then loads every persona manifest found there.
func NewRegistry(dir string) (*Registry, error) {
	if err := EnsureDefaults(dir); err != nil {
		return nil, err
	}

	r := &Registry{
		dir:      dir,
		personas: make(map[string]*Persona),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	manifests, err := doublestar.FilepathGlob(filepath.Join(r.dir, "*", "persona.yaml"))
	if err != nil {
		return fmt.Errorf("glob persona manifests: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, path := range manifests {
		data, err := os.ReadFile(path)
		if err != nil {
			logging.Warn().Str("path", path).Err(err).Msg("skipping unreadable persona manifest")
			continue
		}
		var m Manifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			logging.Warn().Str("path", path).Err(err).Msg("skipping malformed persona manifest")
			continue
		}
		if m.ID == "" {
			m.ID = filepath.Base(filepath.Dir(path))
		}
		r.personas[m.ID] = &Persona{
			Manifest:       m,
			Dir:            filepath.Dir(path),
			selectTemplate: selectionRule(m.ID),
		}
	}
	return nil
}

// Get retrieves a persona by id.
func (r *Registry) Get(id string) (*Persona, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.personas[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPersona, id)
	}
	return p, nil
}

// List returns descriptions of all personas in sorted order.
func (r *Registry) List() []types.PersonaInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]types.PersonaInfo, 0, len(r.personas))
	for _, p := range r.personas {
		infos = append(infos, types.PersonaInfo{
			ID:          p.Manifest.ID,
			Name:        p.Manifest.Name,
			Description: p.Manifest.Description,
			Backend:     p.Manifest.Backend,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
