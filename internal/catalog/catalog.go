// Package catalog enumerates the artifacts of one build invocation: IDL and
// C sources, the generated tree, objects, the library and its bootstrap stub.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/idlforge/internal/models"
	"github.com/starford/idlforge/internal/storage"
)

// File suffixes recognised by the catalog.
const (
	IDLSuffix  = ".cfh"
	CSuffix    = ".c"
	GlueSuffix = ".glue"
	ObjSuffix  = ".o"
	StubSuffix = ".bs"
)

// Layout fixes where each artifact lives. Relative paths are resolved
// against Root.
type Layout struct {
	Root        string
	SourceDirs  []string
	IncludeDirs []string
	CSourceDirs []string
	Templates   []string
	AutogenDir  string
	ObjectDir   string
	Library     string
}

// CompileUnit is one C source and the object it compiles to.
type CompileUnit struct {
	Source string
	Object string
	Deps   []string
}

// Catalog holds the artifact enumeration for one build.
type Catalog struct {
	layout   Layout
	store    storage.Provider
	idl      []string
	cSources []string
}

// New resolves the layout against the store root and scans the source
// directories once.
func New(store storage.Provider, l Layout) (*Catalog, error) {
	root := store.Root()
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}
	absAll := func(ps []string) []string {
		out := make([]string, len(ps))
		for i, p := range ps {
			out[i] = abs(p)
		}
		return out
	}
	if l.AutogenDir == "" {
		l.AutogenDir = "autogen"
	}
	if l.ObjectDir == "" {
		l.ObjectDir = filepath.Join("build", "obj")
	}
	if l.Library == "" {
		return nil, fmt.Errorf("catalog: library output path is required")
	}
	l.Root = root
	l.SourceDirs = absAll(l.SourceDirs)
	l.IncludeDirs = absAll(l.IncludeDirs)
	l.CSourceDirs = absAll(l.CSourceDirs)
	l.Templates = absAll(l.Templates)
	l.AutogenDir = abs(l.AutogenDir)
	l.ObjectDir = abs(l.ObjectDir)
	l.Library = abs(l.Library)

	c := &Catalog{layout: l, store: store}
	for _, dir := range l.SourceDirs {
		files, err := listDir(store, dir, IDLSuffix)
		if err != nil {
			return nil, err
		}
		c.idl = append(c.idl, files...)
	}
	for _, dir := range l.CSourceDirs {
		files, err := listDir(store, dir, CSuffix)
		if err != nil {
			return nil, err
		}
		c.cSources = append(c.cSources, files...)
	}
	return c, nil
}

// listDir lists files from dirs that may live outside the tree root.
func listDir(store storage.Provider, dir, suffix string) ([]string, error) {
	if strings.HasPrefix(dir, store.Root()+string(os.PathSeparator)) || dir == store.Root() {
		return store.List(dir, suffix)
	}
	outside, err := storage.NewFS(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog: source dir %s: %w", dir, err)
	}
	return outside.List("", suffix)
}

// Layout returns the resolved layout.
func (c *Catalog) Layout() Layout { return c.layout }

// IDLSources returns every IDL source file.
func (c *Catalog) IDLSources() []models.ArtifactRef {
	return refs(c.idl, models.KindSource)
}

// Templates returns header/footer template files that feed generation.
func (c *Catalog) Templates() []models.ArtifactRef {
	return refs(c.layout.Templates, models.KindSource)
}

// HandWrittenSources returns hand-written C sources.
func (c *Catalog) HandWrittenSources() []string {
	return append([]string(nil), c.cSources...)
}

// AutogenDir is the generation stamp: its timestamp, or that of any file
// below it, marks the last generation.
func (c *Catalog) AutogenDir() string { return c.layout.AutogenDir }

// GenerationStamp returns the stamp directory reference.
func (c *Catalog) GenerationStamp() models.ArtifactRef {
	return models.StampDir(c.layout.AutogenDir)
}

// HierarchyFile is the serialized model written by the parse stage.
func (c *Catalog) HierarchyFile() string {
	return filepath.Join(c.layout.AutogenDir, "hierarchy.json")
}

// CoreIncludeDir holds generated core headers.
func (c *Catalog) CoreIncludeDir() string { return filepath.Join(c.layout.AutogenDir, "include") }

// CoreSourceDir holds generated core sources.
func (c *Catalog) CoreSourceDir() string { return filepath.Join(c.layout.AutogenDir, "source") }

// CoreMarker is rewritten once generate_core has emitted every file.
// The stamp directories alone cannot tell a finished emission from an
// interrupted one.
func (c *Catalog) CoreMarker() string { return filepath.Join(c.layout.AutogenDir, ".core.stamp") }

// HostMarker is the generate_host counterpart of CoreMarker.
func (c *Catalog) HostMarker() string { return filepath.Join(c.layout.AutogenDir, ".host.stamp") }

// HostDir holds generated host-language glue.
func (c *Catalog) HostDir() string { return filepath.Join(c.layout.AutogenDir, "host") }

// GlueDir holds C transpiled from host glue.
func (c *Catalog) GlueDir() string { return filepath.Join(c.layout.AutogenDir, "glue") }

// ObjectDir holds compiled objects.
func (c *Catalog) ObjectDir() string { return c.layout.ObjectDir }

// Library is the linked extension module.
func (c *Catalog) Library() string { return c.layout.Library }

// Stub is the bootstrap stub installed next to the library.
func (c *Catalog) Stub() string {
	lib := c.layout.Library
	return strings.TrimSuffix(lib, filepath.Ext(lib)) + StubSuffix
}

// GlueFiles lists the host glue files currently on disk.
func (c *Catalog) GlueFiles() ([]string, error) {
	return c.store.List(c.HostDir(), GlueSuffix)
}

// TranspiledPath maps a glue file to its transpiled C source.
func (c *Catalog) TranspiledPath(glue string) string {
	name := strings.TrimSuffix(filepath.Base(glue), GlueSuffix) + CSuffix
	return filepath.Join(c.GlueDir(), name)
}

// HeaderSearchPath is where compile units resolve quoted includes, in order.
func (c *Catalog) HeaderSearchPath() []string {
	return append([]string{c.CoreIncludeDir()}, c.layout.IncludeDirs...)
}

// ObjectFor maps a source file to its object path, mirroring the source's
// position under the tree root.
func (c *Catalog) ObjectFor(src string) string {
	rel, err := filepath.Rel(c.layout.Root, src)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Join("_external", filepath.Base(src))
	}
	return filepath.Join(c.layout.ObjectDir, strings.TrimSuffix(rel, filepath.Ext(rel))+ObjSuffix)
}

// CompileUnits enumerates hand-written, generated core and transpiled glue
// sources as they exist now, with their resolved header dependencies.
func (c *Catalog) CompileUnits() ([]CompileUnit, error) {
	sources := c.HandWrittenSources()
	for _, dir := range []string{c.CoreSourceDir(), c.GlueDir()} {
		files, err := c.store.List(dir, CSuffix)
		if err != nil {
			return nil, err
		}
		sources = append(sources, files...)
	}
	scanner := NewIncludeScanner(c.HeaderSearchPath())
	units := make([]CompileUnit, 0, len(sources))
	for _, src := range sources {
		deps, err := scanner.Deps(src)
		if err != nil {
			return nil, err
		}
		units = append(units, CompileUnit{Source: src, Object: c.ObjectFor(src), Deps: deps})
	}
	return units, nil
}

// Objects returns the object path of every compile unit.
func Objects(units []CompileUnit) []string {
	out := make([]string, len(units))
	for i, u := range units {
		out[i] = u.Object
	}
	return out
}

// Cleanable lists the paths removed by a clean. extra names further link
// byproducts; relative entries are resolved against the tree root.
func (c *Catalog) Cleanable(extra ...string) []string {
	out := []string{c.layout.AutogenDir, c.layout.ObjectDir, c.layout.Library, c.Stub()}
	for _, p := range extra {
		if !filepath.IsAbs(p) {
			p = filepath.Join(c.layout.Root, p)
		}
		out = append(out, filepath.Clean(p))
	}
	return out
}

func refs(paths []string, kind models.Kind) []models.ArtifactRef {
	out := make([]models.ArtifactRef, len(paths))
	for i, p := range paths {
		out[i] = models.ArtifactRef{Path: p, Kind: kind}
	}
	return out
}

// ResolveIncludeDirs orders include directories: configured dirs first,
// then entries of the colon-separated env value, then an "idlforge/_include"
// directory under each runtime search path entry that has one.
func ResolveIncludeDirs(configured []string, envValue string, runtimePaths []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(p string) {
		if p == "" {
			return
		}
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	for _, d := range configured {
		add(d)
	}
	for _, d := range strings.Split(envValue, ":") {
		add(strings.TrimSpace(d))
	}
	for _, p := range runtimePaths {
		candidate := filepath.Join(p, "idlforge", "_include")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			add(candidate)
		}
	}
	return out
}
