package internal

import (
	"io"
	"log/slog"

	"github.com/starford/idlforge/internal/emit"
	"github.com/starford/idlforge/internal/linker"
	"github.com/starford/idlforge/internal/toolchain"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	logger    *slog.Logger
	toolchain toolchain.Toolchain
	glue      []emit.GlueGenerator
	adapters  []linker.Adapter
	out       io.Writer
	logOut    io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogger replaces the JSON logger built from the configuration.
func WithLogger(l *slog.Logger) Option {
	return func(a *application) {
		a.logger = l
	}
}

// WithToolchain replaces the cc-based toolchain.
func WithToolchain(tc toolchain.Toolchain) Option {
	return func(a *application) {
		a.toolchain = tc
	}
}

// WithGlueGenerator registers an extra glue generator. It still has to be
// enabled by name in build.glue_generators.
func WithGlueGenerator(g emit.GlueGenerator) Option {
	return func(a *application) {
		a.glue = append(a.glue, g)
	}
}

// WithLinkAdapter registers or replaces the adapter for its platform.
func WithLinkAdapter(ad linker.Adapter) Option {
	return func(a *application) {
		a.adapters = append(a.adapters, ad)
	}
}

// WithOutput sets where command results are printed.
func WithOutput(w io.Writer) Option {
	return func(a *application) {
		a.out = w
	}
}

// withLogOutput sets where the default JSON logger writes.
func withLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOut = w
	}
}
