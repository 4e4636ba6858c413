package linker

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/starford/idlforge/internal/apperr"
)

// Registry maps platform ids to adapters.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// DefaultRegistry knows every built-in platform.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Shared{ID: "linux"})
	r.Register(Shared{ID: "freebsd"})
	r.Register(Bundle{})
	r.Register(ImportLib{})
	return r
}

// Register adds or replaces the adapter for its platform id.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Platform()] = a
}

// Lookup returns the adapter for platform.
func (r *Registry) Lookup(platform string) (Adapter, error) {
	a, ok := r.adapters[platform]
	if !ok {
		return nil, fmt.Errorf("linker: %w: %q (known: %s)", apperr.ErrUnknownPlatform, platform, strings.Join(r.Platforms(), ", "))
	}
	return a, nil
}

// Platforms lists registered ids in sorted order.
func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HostPlatform maps the running OS to a platform id.
func HostPlatform() string {
	if runtime.GOOS == "windows" {
		return "windows-gnu"
	}
	return runtime.GOOS
}
