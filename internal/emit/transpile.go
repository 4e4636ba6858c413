package emit

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/starford/idlforge/internal/apperr"
	"github.com/starford/idlforge/internal/storage"
)

// GlueTranspiler turns one glue file into a C source.
type GlueTranspiler interface {
	// Transpile writes the C rendering of glue to out and reports
	// whether out's content changed.
	Transpile(glue, out string) (bool, error)
}

// LineTranspiler is the reference GlueTranspiler for the directive format
// written by the bindings generator.
type LineTranspiler struct {
	store  storage.Provider
	header string
	footer string
}

// NewLineTranspiler wraps every output in header and footer.
func NewLineTranspiler(store storage.Provider, header, footer string) *LineTranspiler {
	return &LineTranspiler{store: store, header: header, footer: footer}
}

type glueMethod struct {
	class  string
	name   string
	fn     string
	params string
}

type glueDefault struct {
	fn    string
	param string
	value string
}

type glueUnit struct {
	module   string
	boot     string
	includes []string
	methods  []glueMethod
	defaults []glueDefault
}

// Transpile implements GlueTranspiler.
func (t *LineTranspiler) Transpile(glue, out string) (bool, error) {
	data, err := t.store.Read(glue)
	if err != nil {
		return false, fmt.Errorf("transpile: %w", err)
	}
	u, err := parseGlue(filepath.Base(glue), data)
	if err != nil {
		return false, err
	}
	return t.store.WriteIfChanged(out, []byte(wrap(t.header, renderGlue(filepath.Base(glue), u), t.footer)))
}

func parseGlue(name string, data []byte) (*glueUnit, error) {
	u := &glueUnit{}
	class := ""
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		bad := func(msg string) error {
			return fmt.Errorf("transpile: %s:%d: %w: %s", name, line, apperr.ErrParse, msg)
		}
		switch fields[0] {
		case "MODULE":
			if len(fields) != 2 {
				return nil, bad("MODULE takes one argument")
			}
			u.module = fields[1]
		case "BOOT":
			if len(fields) != 2 {
				return nil, bad("BOOT takes one argument")
			}
			u.boot = fields[1]
		case "INCLUDE":
			if len(fields) != 2 {
				return nil, bad("INCLUDE takes one argument")
			}
			u.includes = append(u.includes, fields[1])
		case "CLASS":
			if len(fields) != 3 {
				return nil, bad("CLASS takes a name and a C name")
			}
			class = fields[1]
		case "METHOD":
			if class == "" {
				return nil, bad("METHOD outside CLASS")
			}
			rest := strings.TrimSpace(strings.TrimPrefix(text, "METHOD"))
			method, call, ok := strings.Cut(rest, " ")
			open := strings.IndexByte(call, '(')
			if !ok || open < 0 || !strings.HasSuffix(call, ")") {
				return nil, bad("malformed METHOD")
			}
			u.methods = append(u.methods, glueMethod{
				class:  class,
				name:   method,
				fn:     strings.TrimSpace(call[:open]),
				params: call[open+1 : len(call)-1],
			})
		case "DEFAULT":
			if len(fields) < 4 {
				return nil, bad("DEFAULT takes a function, a parameter and a value")
			}
			u.defaults = append(u.defaults, glueDefault{
				fn:    fields[1],
				param: fields[2],
				value: strings.Join(fields[3:], " "),
			})
		default:
			return nil, bad(fmt.Sprintf("unknown directive %q", fields[0]))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("transpile: %s: %w", name, err)
	}
	if u.module == "" {
		return nil, fmt.Errorf("transpile: %s: %w: missing MODULE", name, apperr.ErrParse)
	}
	if u.boot == "" {
		u.boot = BootFunc(u.module)
	}
	return u, nil
}

func renderGlue(name string, u *glueUnit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#line 1 \"%s\"\n", name)
	b.WriteString("#include <stddef.h>\n")
	for _, inc := range u.includes {
		fmt.Fprintf(&b, "#include \"%s\"\n", inc)
	}
	prefix := cIdent(u.module)

	b.WriteString("\ntypedef struct {\n    const char *klass;\n    const char *method;\n    const char *func;\n    const char *params;\n} idlforge_binding;\n\n")
	fmt.Fprintf(&b, "static const idlforge_binding %s_bindings[] = {\n", prefix)
	for _, m := range u.methods {
		fmt.Fprintf(&b, "    {%s, %s, %s, %s},\n", cString(m.class), cString(m.name), cString(m.fn), cString(m.params))
	}
	b.WriteString("    {NULL, NULL, NULL, NULL}\n};\n")

	b.WriteString("\ntypedef struct {\n    const char *func;\n    const char *param;\n    const char *value;\n} idlforge_default;\n\n")
	fmt.Fprintf(&b, "static const idlforge_default %s_defaults[] = {\n", prefix)
	for _, d := range u.defaults {
		fmt.Fprintf(&b, "    {%s, %s, %s},\n", cString(d.fn), cString(d.param), cString(d.value))
	}
	b.WriteString("    {NULL, NULL, NULL}\n};\n")

	fmt.Fprintf(&b, "\nsize_t %s_binding_count = %d;\n", prefix, len(u.methods))
	fmt.Fprintf(&b, "\nvoid %s(void) {\n    (void)%s_bindings;\n    (void)%s_defaults;\n}\n", u.boot, prefix, prefix)
	return b.String()
}

func cString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}
