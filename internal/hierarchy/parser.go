package hierarchy

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/starford/idlforge/internal/apperr"
)

var (
	parcelRe = regexp.MustCompile(`^\s*parcel\s+([A-Za-z_]\w*)\s*;`)
	classRe  = regexp.MustCompile(`^\s*(?:(?:public|private|abstract|final|inert)\s+)*class\s+([A-Za-z_][\w:]*)(?:\s+(?:inherits|extends)\s+([A-Za-z_][\w:]*))?\s*\{?`)
	methodRe = regexp.MustCompile(`^\s*((?:(?:public|private|inert|abstract|final|incremented|nullable)\s+)*)(.+?[\s*])([A-Za-z_]\w*)\s*\(([^)]*)\)\s*;`)
)

// ParseError reports malformed IDL at a file position.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Msg)
}

func (e *ParseError) Unwrap() error { return apperr.ErrParse }

// parseFile extracts the parcel name and class declarations of one file.
// Anything that is not a parcel, class, method or closing brace line is
// skipped; the compiler does not validate the language.
func parseFile(file string, data []byte) (string, []Class, error) {
	var (
		parcel  string
		classes []Class
		current *Class
		lineNo  int
	)
	fail := func(format string, args ...any) error {
		return &ParseError{File: file, Line: lineNo, Msg: fmt.Sprintf(format, args...)}
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		lineNo++
		line := stripComment(sc.Text())
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if m := parcelRe.FindStringSubmatch(line); m != nil {
			parcel = m[1]
			continue
		}
		if m := classRe.FindStringSubmatch(line); m != nil {
			if current != nil {
				return "", nil, fail("class %s declared inside class %s", m[1], current.Name)
			}
			current = &Class{Name: m[1], Parent: m[2], File: file, Inert: hasModifier(line, "inert")}
			if strings.HasSuffix(trimmed, "}") {
				classes = append(classes, *current)
				current = nil
			}
			continue
		}
		if trimmed == "}" || trimmed == "};" {
			if current == nil {
				return "", nil, fail("unbalanced closing brace")
			}
			classes = append(classes, *current)
			current = nil
			continue
		}
		if m := methodRe.FindStringSubmatch(line); m != nil {
			if current == nil {
				return "", nil, fail("method %s declared outside a class", m[3])
			}
			meth, err := parseMethod(m)
			if err != nil {
				return "", nil, fail("%s", err.Error())
			}
			for _, existing := range current.Methods {
				if existing.Name == meth.Name {
					return "", nil, fail("method %s declared twice in %s", meth.Name, current.Name)
				}
			}
			current.Methods = append(current.Methods, meth)
		}
	}
	if err := sc.Err(); err != nil {
		return "", nil, &ParseError{File: file, Msg: err.Error()}
	}
	if current != nil {
		return "", nil, &ParseError{File: file, Line: lineNo, Msg: fmt.Sprintf("class %s is not closed", current.Name)}
	}
	return parcel, classes, nil
}

func parseMethod(m []string) (Method, error) {
	meth := Method{
		Name:       m[3],
		ReturnType: strings.TrimSpace(m[2]),
		Inert:      strings.Contains(m[1], "inert"),
		Abstract:   strings.Contains(m[1], "abstract"),
	}
	raw := strings.TrimSpace(m[4])
	if raw == "" || raw == "void" {
		return meth, nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "..." {
			meth.Variadic = true
			continue
		}
		if meth.Variadic {
			return Method{}, fmt.Errorf("parameter after ... in %s", meth.Name)
		}
		p, err := parseParam(part)
		if err != nil {
			return Method{}, fmt.Errorf("%s: %w", meth.Name, err)
		}
		meth.Params = append(meth.Params, p)
	}
	return meth, nil
}

// parseParam splits "Type *name = default" into its parts.
func parseParam(s string) (Param, error) {
	var p Param
	if decl, def, ok := strings.Cut(s, "="); ok {
		s = strings.TrimSpace(decl)
		d := strings.TrimSpace(def)
		p.Default = &d
	}
	cut := strings.LastIndexAny(s, " *")
	if cut < 0 || cut == len(s)-1 {
		return Param{}, fmt.Errorf("malformed parameter %q", s)
	}
	p.Type = strings.TrimSpace(s[:cut+1])
	p.Name = s[cut+1:]
	return p, nil
}

func hasModifier(line, mod string) bool {
	head, _, _ := strings.Cut(line, "class")
	for _, f := range strings.Fields(head) {
		if f == mod {
			return true
		}
	}
	return false
}

func stripComment(line string) string {
	if i := strings.Index(line, "//"); i >= 0 {
		return line[:i]
	}
	return line
}
