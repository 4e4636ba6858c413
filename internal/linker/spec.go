// Package linker turns a portable link description into concrete toolchain
// invocations for a target platform.
package linker

import (
	"maps"
	"slices"
)

// SpecOptions carries the fields used to construct a Spec.
type SpecOptions struct {
	Linker         string
	Output         string
	Objects        []string
	StartupObjects []string
	SearchPaths    []string
	Libraries      []string
	HostImport     string
	ExtraFlags     []string
	Flags          map[string]string
	Scripted       bool
}

// Spec is an immutable link description. Accessors return copies.
type Spec struct {
	o SpecOptions
}

// NewSpec copies o into a Spec.
func NewSpec(o SpecOptions) Spec {
	if o.Linker == "" {
		o.Linker = "cc"
	}
	return Spec{o: SpecOptions{
		Linker:         o.Linker,
		Output:         o.Output,
		Objects:        slices.Clone(o.Objects),
		StartupObjects: slices.Clone(o.StartupObjects),
		SearchPaths:    slices.Clone(o.SearchPaths),
		Libraries:      slices.Clone(o.Libraries),
		HostImport:     o.HostImport,
		ExtraFlags:     slices.Clone(o.ExtraFlags),
		Flags:          maps.Clone(o.Flags),
		Scripted:       o.Scripted,
	}}
}

func (s Spec) Linker() string           { return s.o.Linker }
func (s Spec) Output() string           { return s.o.Output }
func (s Spec) Objects() []string        { return slices.Clone(s.o.Objects) }
func (s Spec) StartupObjects() []string { return slices.Clone(s.o.StartupObjects) }
func (s Spec) SearchPaths() []string    { return slices.Clone(s.o.SearchPaths) }
func (s Spec) Libraries() []string      { return slices.Clone(s.o.Libraries) }
func (s Spec) HostImport() string       { return s.o.HostImport }
func (s Spec) ExtraFlags() []string     { return slices.Clone(s.o.ExtraFlags) }
func (s Spec) Scripted() bool           { return s.o.Scripted }

// Flag returns one entry of the platform flag bag.
func (s Spec) Flag(key string) (string, bool) {
	v, ok := s.o.Flags[key]
	return v, ok
}

// FlagKeys returns the flag bag keys in sorted order.
func (s Spec) FlagKeys() []string {
	return slices.Sorted(maps.Keys(s.o.Flags))
}

// Invocation is one external command.
type Invocation struct {
	Program string   `json:"program"`
	Args    []string `json:"args"`
}

// File is a support file that must exist before the invocations run.
type File struct {
	Path    string `json:"path"`
	Content []byte `json:"-"`
}

// Plan is the full result of lowering a Spec.
type Plan struct {
	Files       []File       `json:"files,omitempty"`
	Invocations []Invocation `json:"invocations"`
	// Byproducts are files the invocations write besides the output.
	Byproducts []string `json:"byproducts,omitempty"`
}

// Leftovers lists every path a plan writes other than the output.
func (p Plan) Leftovers() []string {
	out := make([]string, 0, len(p.Files)+len(p.Byproducts))
	for _, f := range p.Files {
		out = append(out, f.Path)
	}
	return append(out, p.Byproducts...)
}

// Adapter lowers a Spec for one platform.
type Adapter interface {
	Platform() string
	BuildLinkCommands(spec Spec) (Plan, error)
}
