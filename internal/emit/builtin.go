package emit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Built-in glue generator names.
const (
	GenCallbacks = "callbacks"
	GenBoot      = "boot"
	GenHostDefs  = "hostdefs"
	GenBindings  = "bindings"
	GenTypemap   = "typemap"
	GenDocs      = "docs"
)

// DefaultGenerators is the set enabled when configuration names none.
var DefaultGenerators = []string{GenCallbacks, GenBoot, GenHostDefs, GenBindings, GenTypemap}

// BuiltinOptions configures the built-in generators.
type BuiltinOptions struct {
	// Typemap is an optional hand-written typemap merged into the
	// generated one. It becomes an input of generate_host.
	Typemap string
}

// Builtins returns a registry holding every built-in generator.
func Builtins(opts BuiltinOptions) *Registry {
	r := NewRegistry()
	for _, g := range []GlueGenerator{
		callbacksGen{},
		bootGen{},
		hostDefsGen{},
		bindingsGen{},
		typemapGen{extra: opts.Typemap},
		docsGen{},
	} {
		_ = r.Register(g)
	}
	return r
}

// BootFunc names the function the host runtime calls to load module.
func BootFunc(module string) string {
	return "boot_" + strings.NewReplacer("::", "__", "-", "_", ".", "_").Replace(module)
}

type callbacksGen struct{}

func (callbacksGen) Name() string     { return GenCallbacks }
func (callbacksGen) Inputs() []string { return nil }

// Generate declares one host callback per abstract method; those are the
// methods a host subclass may override.
func (callbacksGen) Generate(g *GlueContext) ([]string, error) {
	var b strings.Builder
	name := strings.ToLower(cIdent(g.Module)) + "_callbacks.h"
	gd := guard(name)
	fmt.Fprintf(&b, "#ifndef %s\n#define %s\n\n", gd, gd)
	fmt.Fprintf(&b, "#include \"%s\"\n\n", ParcelHeader(g.Model))
	for _, cls := range g.Model.Ordinary() {
		for _, m := range cls.Methods {
			if !m.Abstract {
				continue
			}
			l, err := paramList(cls, m)
			if err != nil {
				return nil, err
			}
			decl := l.Declaration()
			if decl == "" {
				decl = "void"
			}
			fmt.Fprintf(&b, "%s %s_OVERRIDE(%s);\n", m.ReturnType, funcName(cls, m), decl)
		}
	}
	fmt.Fprintf(&b, "\n#endif /* %s */\n", gd)
	p, err := g.Write(name, b.String())
	if err != nil {
		return nil, err
	}
	return []string{p}, nil
}

type bootGen struct{}

func (bootGen) Name() string     { return GenBoot }
func (bootGen) Inputs() []string { return nil }

func (bootGen) Generate(g *GlueContext) ([]string, error) {
	var b strings.Builder
	name := cIdent(g.Module) + "_boot.h"
	gd := guard(name)
	fmt.Fprintf(&b, "#ifndef %s\n#define %s\n\n", gd, gd)
	fmt.Fprintf(&b, "void %s(void);\n", BootFunc(g.Module))
	fmt.Fprintf(&b, "\n#endif /* %s */\n", gd)
	p, err := g.Write(name, b.String())
	if err != nil {
		return nil, err
	}
	return []string{p}, nil
}

type hostDefsGen struct{}

func (hostDefsGen) Name() string     { return GenHostDefs }
func (hostDefsGen) Inputs() []string { return nil }

// Generate lists each ordinary class with its parent and inert flag in a
// line-oriented file the host loader reads at boot.
func (hostDefsGen) Generate(g *GlueContext) ([]string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "module %s\n", g.Module)
	for _, cls := range g.Model.Ordinary() {
		parent := cls.Parent
		if parent == "" {
			parent = "-"
		}
		kind := "class"
		if cls.Inert {
			kind = "inert"
		}
		fmt.Fprintf(&b, "%s %s %s\n", kind, cls.Name, parent)
	}
	p, err := g.WriteRaw(cIdent(g.Module)+".defs", b.String())
	if err != nil {
		return nil, err
	}
	return []string{p}, nil
}

type bindingsGen struct{}

func (bindingsGen) Name() string     { return GenBindings }
func (bindingsGen) Inputs() []string { return nil }

// Generate writes the module's glue source, one directive per line. The
// transpile stage turns it into C.
func (bindingsGen) Generate(g *GlueContext) ([]string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "MODULE %s\n", g.Module)
	fmt.Fprintf(&b, "BOOT %s\n", BootFunc(g.Module))
	fmt.Fprintf(&b, "INCLUDE %s\n", ParcelHeader(g.Model))
	for _, cls := range g.Model.Ordinary() {
		fmt.Fprintf(&b, "CLASS %s %s\n", cls.Name, cls.CName())
		for _, m := range cls.Methods {
			l, err := paramList(cls, m)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&b, "METHOD %s %s(%s)\n", m.Name, funcName(cls, m), l.NameList())
			for _, e := range l.Entries() {
				if e.HasDefault() {
					fmt.Fprintf(&b, "DEFAULT %s %s %s\n", funcName(cls, m), e.Variable.Name, *e.Default)
				}
			}
		}
	}
	p, err := g.WriteRaw(cIdent(g.Module)+".glue", b.String())
	if err != nil {
		return nil, err
	}
	return []string{p}, nil
}

type typemapGen struct {
	extra string
}

func (typemapGen) Name() string { return GenTypemap }

func (t typemapGen) Inputs() []string {
	if t.extra == "" {
		return nil
	}
	return []string{t.extra}
}

// Generate maps every class pointer type to the object conversion and
// appends the hand-written typemap, if any.
func (t typemapGen) Generate(g *GlueContext) ([]string, error) {
	entries := make(map[string]string)
	for _, cls := range g.Model.Classes {
		entries[cls.CName()+"*"] = "IDLFORGE_OBJ"
	}
	if t.extra != "" {
		data, err := os.ReadFile(t.extra)
		if err != nil {
			return nil, fmt.Errorf("typemap: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			i := strings.LastIndexAny(line, " \t")
			if i < 0 {
				continue
			}
			entries[strings.TrimSpace(line[:i])] = line[i+1:]
		}
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("TYPEMAP\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s\t%s\n", k, entries[k])
	}
	p, err := g.WriteRaw("typemap", b.String())
	if err != nil {
		return nil, err
	}
	return []string{p}, nil
}

type docsGen struct{}

func (docsGen) Name() string     { return GenDocs }
func (docsGen) Inputs() []string { return nil }

// Generate writes a plain-text synopsis per ordinary class.
func (docsGen) Generate(g *GlueContext) ([]string, error) {
	var out []string
	for _, cls := range g.Model.Ordinary() {
		var b strings.Builder
		fmt.Fprintf(&b, "NAME\n    %s\n\nSYNOPSIS\n", cls.Name)
		for _, m := range cls.Methods {
			l, err := paramList(cls, m)
			if err != nil {
				return nil, err
			}
			fmt.Fprintf(&b, "    %s(%s)\n", m.Name, l.NameList())
		}
		p, err := g.WriteRaw(filepath.Join("docs", cls.CName()+".txt"), b.String())
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func cIdent(s string) string {
	return strings.NewReplacer("::", "_", "-", "_", ".", "_").Replace(s)
}
