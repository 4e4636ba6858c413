package emit

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/starford/idlforge/internal/hierarchy"
	"github.com/starford/idlforge/internal/storage"
)

// GlueGenerator produces one family of host-language glue files.
// Generators are registered explicitly and enabled by name.
type GlueGenerator interface {
	// Name is the registry key used by configuration.
	Name() string
	// Inputs lists files, besides the hierarchy, whose edits must
	// regenerate this generator's output.
	Inputs() []string
	// Generate writes through g and returns the paths it produced.
	Generate(g *GlueContext) ([]string, error)
}

// GlueContext is handed to each generator for one run.
type GlueContext struct {
	Model  *hierarchy.Model
	Module string
	Dir    string
	Header string
	Footer string

	store   storage.Provider
	changed bool
}

// Write stores content at name (relative to Dir) unless the file already
// holds exactly that content, and returns the absolute path.
func (g *GlueContext) Write(name string, content string) (string, error) {
	path := filepath.Join(g.Dir, name)
	c, err := g.store.WriteIfChanged(path, []byte(wrap(g.Header, content, g.Footer)))
	if err != nil {
		return "", err
	}
	g.changed = g.changed || c
	return path, nil
}

// WriteRaw is Write without the header and footer.
func (g *GlueContext) WriteRaw(name string, content string) (string, error) {
	path := filepath.Join(g.Dir, name)
	c, err := g.store.WriteIfChanged(path, []byte(content))
	if err != nil {
		return "", err
	}
	g.changed = g.changed || c
	return path, nil
}

// Registry holds glue generators by name.
type Registry struct {
	gens map[string]GlueGenerator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{gens: make(map[string]GlueGenerator)}
}

// Register adds gen; names must be unique.
func (r *Registry) Register(gen GlueGenerator) error {
	if _, dup := r.gens[gen.Name()]; dup {
		return fmt.Errorf("emit: glue generator %q already registered", gen.Name())
	}
	r.gens[gen.Name()] = gen
	return nil
}

// Lookup returns the named generator.
func (r *Registry) Lookup(name string) (GlueGenerator, bool) {
	g, ok := r.gens[name]
	return g, ok
}

// Names lists registered generators in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.gens))
	for n := range r.gens {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Select resolves names to generators, in the given order.
func (r *Registry) Select(names []string) ([]GlueGenerator, error) {
	out := make([]GlueGenerator, 0, len(names))
	for _, n := range names {
		g, ok := r.gens[n]
		if !ok {
			return nil, fmt.Errorf("emit: unknown glue generator %q (registered: %v)", n, r.Names())
		}
		out = append(out, g)
	}
	return out, nil
}

// HostEmitter drives the enabled glue generators.
type HostEmitter struct {
	store  storage.Provider
	dir    string
	module string
	gens   []GlueGenerator
}

// NewHostEmitter writes glue for module into dir using gens, in order.
func NewHostEmitter(store storage.Provider, dir, module string, gens []GlueGenerator) *HostEmitter {
	return &HostEmitter{store: store, dir: dir, module: module, gens: gens}
}

// Inputs returns the union of the generators' extra inputs.
func (h *HostEmitter) Inputs() []string {
	var out []string
	for _, g := range h.gens {
		out = append(out, g.Inputs()...)
	}
	return out
}

// WriteAllModified runs every enabled generator and reports whether any
// file changed, along with all paths produced.
func (h *HostEmitter) WriteAllModified(model *hierarchy.Model, header, footer string) (bool, []string, error) {
	ctx := h.context(model, header, footer)
	var written []string
	for _, g := range h.gens {
		paths, err := g.Generate(ctx)
		if err != nil {
			return false, nil, fmt.Errorf("emit: %s: %w", g.Name(), err)
		}
		written = append(written, paths...)
	}
	return ctx.changed, written, nil
}

func (h *HostEmitter) context(model *hierarchy.Model, header, footer string) *GlueContext {
	return &GlueContext{Model: model, Module: h.module, Dir: h.dir, Header: header, Footer: footer, store: h.store}
}

func (h *HostEmitter) runOne(name string, model *hierarchy.Model, header, footer string) ([]string, error) {
	for _, g := range h.gens {
		if g.Name() == name {
			return g.Generate(h.context(model, header, footer))
		}
	}
	return nil, fmt.Errorf("emit: glue generator %q is not enabled", name)
}

// WriteCallbacks runs only the callbacks generator.
func (h *HostEmitter) WriteCallbacks(model *hierarchy.Model, header, footer string) ([]string, error) {
	return h.runOne(GenCallbacks, model, header, footer)
}

// WriteBoot runs only the boot generator.
func (h *HostEmitter) WriteBoot(model *hierarchy.Model, header, footer string) ([]string, error) {
	return h.runOne(GenBoot, model, header, footer)
}

// WriteHostDefs runs only the hostdefs generator.
func (h *HostEmitter) WriteHostDefs(model *hierarchy.Model, header, footer string) ([]string, error) {
	return h.runOne(GenHostDefs, model, header, footer)
}

// WriteBindings runs only the bindings generator.
func (h *HostEmitter) WriteBindings(model *hierarchy.Model, header, footer string) ([]string, error) {
	return h.runOne(GenBindings, model, header, footer)
}

// WriteTypemap runs only the typemap generator.
func (h *HostEmitter) WriteTypemap(model *hierarchy.Model, header, footer string) ([]string, error) {
	return h.runOne(GenTypemap, model, header, footer)
}

// WriteDocs runs only the docs generator.
func (h *HostEmitter) WriteDocs(model *hierarchy.Model, header, footer string) ([]string, error) {
	return h.runOne(GenDocs, model, header, footer)
}
