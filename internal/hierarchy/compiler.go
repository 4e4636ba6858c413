package hierarchy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Suffix is the IDL source file extension.
const Suffix = ".cfh"

// Compiler collects source and include directories and builds a Model.
type Compiler interface {
	AddSourceDir(path string)
	AddIncludeDir(path string)
	Build() (*Model, error)
}

// FileCompiler is the file-system backed Compiler.
type FileCompiler struct {
	sourceDirs  []string
	includeDirs []string
}

// NewCompiler returns an empty FileCompiler.
func NewCompiler() *FileCompiler {
	return &FileCompiler{}
}

func (c *FileCompiler) AddSourceDir(path string)  { c.sourceDirs = append(c.sourceDirs, path) }
func (c *FileCompiler) AddIncludeDir(path string) { c.includeDirs = append(c.includeDirs, path) }

// Build parses every IDL file and links the hierarchy. Any error aborts the
// build; no partial model is returned.
func (c *FileCompiler) Build() (*Model, error) {
	model := &Model{}
	byName := make(map[string]*Class)

	load := func(dirs []string, included bool) error {
		for _, dir := range dirs {
			files, err := idlFiles(dir)
			if err != nil {
				return err
			}
			for _, f := range files {
				data, err := os.ReadFile(f)
				if err != nil {
					return fmt.Errorf("hierarchy: read %s: %w", f, err)
				}
				parcel, classes, err := parseFile(f, data)
				if err != nil {
					return err
				}
				if parcel != "" && !included && model.Parcel == "" {
					model.Parcel = parcel
				}
				for _, cls := range classes {
					if prev, dup := byName[cls.Name]; dup {
						if included || prev.Included {
							// Source dirs shadow include dirs.
							continue
						}
						return &ParseError{File: f, Msg: fmt.Sprintf("class %s already declared in %s", cls.Name, prev.File)}
					}
					cls.Included = included
					cp := cls
					byName[cls.Name] = &cp
				}
			}
		}
		return nil
	}
	if err := load(c.sourceDirs, false); err != nil {
		return nil, err
	}
	if err := load(c.includeDirs, true); err != nil {
		return nil, err
	}

	ordered, err := linkClasses(byName)
	if err != nil {
		return nil, err
	}
	model.Classes = ordered
	return model, nil
}

// linkClasses orders classes parents first, then by name, and rejects
// unknown parents and inheritance cycles.
func linkClasses(byName map[string]*Class) ([]Class, error) {
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	for _, n := range names {
		cls := byName[n]
		if cls.Parent != "" {
			if _, ok := byName[cls.Parent]; !ok {
				return nil, &ParseError{File: cls.File, Msg: fmt.Sprintf("class %s inherits unknown class %s", cls.Name, cls.Parent)}
			}
		}
	}

	var out []Class
	state := make(map[string]int) // 1 = visiting, 2 = done
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case 1:
			cls := byName[name]
			return &ParseError{File: cls.File, Msg: "inheritance cycle: " + strings.Join(append(path, name), " -> ")}
		case 2:
			return nil
		}
		state[name] = 1
		cls := byName[name]
		if cls.Parent != "" {
			if err := visit(cls.Parent, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = 2
		out = append(out, *cls)
		return nil
	}
	for _, n := range names {
		if err := visit(n, nil); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func idlFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), Suffix) {
			out = append(out, p)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("hierarchy: walk %s: %w", dir, err)
	}
	sort.Strings(out)
	return out, nil
}
