// Package emit lowers the class hierarchy into generated C for the runtime
// core and into host-language glue.
package emit

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/starford/idlforge/internal/hierarchy"
	"github.com/starford/idlforge/internal/storage"
)

// CoreEmitter writes the generated core headers and sources.
type CoreEmitter interface {
	WriteAllModified(model *hierarchy.Model, header, footer string) (bool, error)
}

// CoreWriter is the reference CoreEmitter. It writes one header and one
// source per ordinary class plus a parcel header, rewriting only files
// whose content changed.
type CoreWriter struct {
	store      storage.Provider
	includeDir string
	sourceDir  string
}

// NewCoreWriter writes headers to includeDir and sources to sourceDir.
func NewCoreWriter(store storage.Provider, includeDir, sourceDir string) *CoreWriter {
	return &CoreWriter{store: store, includeDir: includeDir, sourceDir: sourceDir}
}

// WriteAllModified reports whether any file was (re)written.
func (w *CoreWriter) WriteAllModified(model *hierarchy.Model, header, footer string) (bool, error) {
	changed := false
	write := func(path string, body string) error {
		c, err := w.store.WriteIfChanged(path, []byte(wrap(header, body, footer)))
		if err != nil {
			return err
		}
		changed = changed || c
		return nil
	}

	parcelHeader := ParcelHeader(model)
	if err := write(filepath.Join(w.includeDir, parcelHeader), w.parcelHeader(model)); err != nil {
		return false, err
	}
	for _, cls := range model.Ordinary() {
		h, err := w.classHeader(model, cls)
		if err != nil {
			return false, err
		}
		if err := write(filepath.Join(w.includeDir, cls.CName()+".h"), h); err != nil {
			return false, err
		}
		if err := write(filepath.Join(w.sourceDir, cls.CName()+".c"), w.classSource(cls)); err != nil {
			return false, err
		}
	}
	return changed, nil
}

// ParcelHeader names the header every generated file includes.
func ParcelHeader(model *hierarchy.Model) string {
	parcel := model.Parcel
	if parcel == "" {
		parcel = "default"
	}
	return strings.ToLower(parcel) + "_parcel.h"
}

func guard(name string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "::", "_").Replace(name))
}

func (w *CoreWriter) parcelHeader(model *hierarchy.Model) string {
	var b strings.Builder
	g := guard(ParcelHeader(model))
	fmt.Fprintf(&b, "#ifndef %s\n#define %s\n\n", g, g)
	for _, cls := range model.Classes {
		fmt.Fprintf(&b, "typedef struct %s %s;\n", cls.CName(), cls.CName())
	}
	b.WriteString("\n")
	for _, cls := range model.Classes {
		if cls.ShortName() != cls.CName() && model.Class(cls.ShortName()) == nil {
			fmt.Fprintf(&b, "typedef struct %s %s;\n", cls.CName(), cls.ShortName())
		}
	}
	fmt.Fprintf(&b, "\n#endif /* %s */\n", g)
	return b.String()
}

func (w *CoreWriter) classHeader(model *hierarchy.Model, cls hierarchy.Class) (string, error) {
	var b strings.Builder
	g := guard(cls.CName() + ".h")
	fmt.Fprintf(&b, "#ifndef %s\n#define %s\n\n", g, g)
	fmt.Fprintf(&b, "#include \"%s\"\n", ParcelHeader(model))
	if cls.Parent != "" {
		if parent := model.Class(cls.Parent); parent != nil && !parent.Included {
			fmt.Fprintf(&b, "#include \"%s.h\"\n", parent.CName())
		}
	}
	fmt.Fprintf(&b, "\nextern const char %s_CLASS_NAME[];\n", cls.CName())
	for _, m := range cls.Methods {
		proto, err := prototype(cls, m)
		if err != nil {
			return "", err
		}
		b.WriteString(proto + "\n")
	}
	fmt.Fprintf(&b, "\n#endif /* %s */\n", g)
	return b.String(), nil
}

func (w *CoreWriter) classSource(cls hierarchy.Class) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#include \"%s.h\"\n\n", cls.CName())
	fmt.Fprintf(&b, "const char %s_CLASS_NAME[] = \"%s\";\n", cls.CName(), cls.Name)
	if len(cls.Methods) > 0 {
		fmt.Fprintf(&b, "\nconst char *%s_METHODS[] = {\n", cls.CName())
		for _, m := range cls.Methods {
			fmt.Fprintf(&b, "    \"%s\",\n", m.Name)
		}
		b.WriteString("    0\n};\n")
	}
	return b.String()
}

func wrap(header, body, footer string) string {
	var b strings.Builder
	if header != "" {
		b.WriteString(header)
		if !strings.HasSuffix(header, "\n") {
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(body)
	if footer != "" {
		b.WriteString("\n")
		b.WriteString(footer)
		if !strings.HasSuffix(footer, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}
