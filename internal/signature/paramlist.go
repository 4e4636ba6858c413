// Package signature models the parameter list of one generated function or
// method, as consumed by the binding emitters.
package signature

import (
	"errors"
	"fmt"
	"strings"

	"github.com/starford/idlforge/internal/apperr"
)

// ErrLocked is returned by Add after Lock has been called.
var ErrLocked = errors.New("signature: parameter list is locked")

// Variable is one typed, named parameter.
type Variable struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Required bool   `json:"required,omitempty"`
}

// ParamEntry pairs a variable with its optional default value.
type ParamEntry struct {
	Variable Variable `json:"variable"`
	Default  *string  `json:"default,omitempty"`
}

// HasDefault reports whether the entry carries a default value.
func (e ParamEntry) HasDefault() bool { return e.Default != nil }

// ParamList is an ordered parameter list. The zero value is an empty,
// non-variadic list ready for use.
type ParamList struct {
	entries  []ParamEntry
	names    map[string]struct{}
	variadic bool
	locked   bool
}

// NewParamList returns an empty list.
func NewParamList(variadic bool) *ParamList {
	return &ParamList{variadic: variadic}
}

// Add appends v without a default value.
func (l *ParamList) Add(v Variable) error {
	return l.add(v, nil)
}

// AddDefault appends v with a default value.
func (l *ParamList) AddDefault(v Variable, value string) error {
	return l.add(v, &value)
}

func (l *ParamList) add(v Variable, def *string) error {
	if l.locked {
		return ErrLocked
	}
	if _, dup := l.names[v.Name]; dup {
		return fmt.Errorf("signature: %w: %q", apperr.ErrDuplicateParameter, v.Name)
	}
	if l.names == nil {
		l.names = make(map[string]struct{})
	}
	l.names[v.Name] = struct{}{}
	l.entries = append(l.entries, ParamEntry{Variable: v, Default: def})
	return nil
}

// Lock freezes the list; later Add calls fail.
func (l *ParamList) Lock() { l.locked = true }

// Variadic reports whether the list accepts trailing arguments.
func (l *ParamList) Variadic() bool { return l.variadic }

// Len returns the number of entries. Whether a receiver is counted depends
// on whether the caller added one.
func (l *ParamList) Len() int { return len(l.entries) }

// Entries returns a copy of the entries in insertion order.
func (l *ParamList) Entries() []ParamEntry {
	out := make([]ParamEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Declaration renders "Type name, Type name" with a trailing "..." when
// variadic.
func (l *ParamList) Declaration() string {
	parts := make([]string, 0, len(l.entries)+1)
	for _, e := range l.entries {
		parts = append(parts, e.Variable.Type+" "+e.Variable.Name)
	}
	if l.variadic {
		parts = append(parts, "...")
	}
	return strings.Join(parts, ", ")
}

// NameList renders "name, name" in insertion order.
func (l *ParamList) NameList() string {
	parts := make([]string, len(l.entries))
	for i, e := range l.entries {
		parts[i] = e.Variable.Name
	}
	return strings.Join(parts, ", ")
}
