// Package hierarchy builds the in-memory class hierarchy from IDL sources.
//
// It is a reference implementation of the hierarchy compiler the pipeline
// depends on: it reads parcel, class and method declaration lines, links
// classes to their parents and orders them parents first. It does not
// validate the language beyond what linking the hierarchy requires.
package hierarchy

import (
	"encoding/json"
	"strings"
)

// Param is one declared method parameter.
type Param struct {
	Type    string  `json:"type"`
	Name    string  `json:"name"`
	Default *string `json:"default,omitempty"`
}

// Method is one declared method or inert function.
type Method struct {
	Name       string  `json:"name"`
	ReturnType string  `json:"return_type"`
	Params     []Param `json:"params,omitempty"`
	Variadic   bool    `json:"variadic,omitempty"`
	Inert      bool    `json:"inert,omitempty"`
	Abstract   bool    `json:"abstract,omitempty"`
}

// Class is one declared class.
type Class struct {
	Name     string   `json:"name"`
	Parent   string   `json:"parent,omitempty"`
	File     string   `json:"file"`
	Inert    bool     `json:"inert,omitempty"`
	Included bool     `json:"included,omitempty"`
	Methods  []Method `json:"methods,omitempty"`
}

// ShortName returns the last "::" component of the class name.
func (c Class) ShortName() string {
	if i := strings.LastIndex(c.Name, "::"); i >= 0 {
		return c.Name[i+2:]
	}
	return c.Name
}

// CName returns the class name with "::" flattened to "_".
func (c Class) CName() string {
	return strings.ReplaceAll(c.Name, "::", "_")
}

// Model is the linked class hierarchy.
type Model struct {
	Parcel  string  `json:"parcel"`
	Classes []Class `json:"classes"`
}

// Class returns the named class, or nil.
func (m *Model) Class(name string) *Class {
	for i := range m.Classes {
		if m.Classes[i].Name == name {
			return &m.Classes[i]
		}
	}
	return nil
}

// Ordinary returns classes declared in source dirs, excluding those pulled
// in from include dirs.
func (m *Model) Ordinary() []Class {
	var out []Class
	for _, c := range m.Classes {
		if !c.Included {
			out = append(out, c)
		}
	}
	return out
}

// Marshal renders the model deterministically; identical hierarchies
// always serialize to identical bytes.
func (m *Model) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// Unmarshal reads a model previously written by Marshal.
func Unmarshal(data []byte) (*Model, error) {
	var m Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
