package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/idlforge/internal/buildservice"
	"github.com/starford/idlforge/internal/catalog"
	"github.com/starford/idlforge/internal/emit"
	"github.com/starford/idlforge/internal/freshness"
	"github.com/starford/idlforge/internal/hierarchy"
	"github.com/starford/idlforge/internal/history"
	"github.com/starford/idlforge/internal/linker"
	"github.com/starford/idlforge/internal/pipeline"
	"github.com/starford/idlforge/internal/storage"
	"github.com/starford/idlforge/internal/toolchain"
	"github.com/starford/idlforge/internal/watch"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{out: os.Stdout, logOut: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if app.logger == nil {
		app.logger = slog.New(slog.NewJSONHandler(app.logOut, &slog.HandlerOptions{
			Level: app.config.App.LogLevel,
		}))
		slog.SetDefault(app.logger)
	}
	return app, nil
}

// contextFactory resolves everything a build needs from the configuration.
// Static parts are resolved once; the catalog and the template files are
// read again for every build.
func (a *application) contextFactory() (buildservice.ContextFactory, error) {
	cfg := a.config
	root, err := filepath.Abs(cfg.App.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	store, err := storage.NewFS(root)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(root, p)
	}

	var templates []string
	for _, f := range []string{cfg.Build.HeaderFile, cfg.Build.FooterFile} {
		if f != "" {
			templates = append(templates, f)
		}
	}

	registry := emit.Builtins(emit.BuiltinOptions{Typemap: abs(cfg.Build.Typemap)})
	for _, g := range a.glue {
		if err := registry.Register(g); err != nil {
			return nil, err
		}
	}
	gens, err := registry.Select(cfg.Build.Generators())
	if err != nil {
		return nil, err
	}

	adapters := linker.DefaultRegistry()
	for _, ad := range a.adapters {
		adapters.Register(ad)
	}
	adapter, err := adapters.Lookup(cfg.Link.PlatformID())
	if err != nil {
		return nil, err
	}

	tc := a.toolchain
	if tc == nil {
		tc = toolchain.NewExec(cfg.Build.CC, root, a.logger)
	}

	includeDirs := catalog.ResolveIncludeDirs(cfg.Build.IncludeDirs, cfg.Build.IncludeEnvValue(), cfg.Build.RuntimePaths)
	layout := catalog.Layout{
		SourceDirs:  cfg.Build.SourceDirs,
		IncludeDirs: includeDirs,
		CSourceDirs: cfg.Build.CSourceDirs,
		Templates:   templates,
		AutogenDir:  cfg.Build.AutogenDir,
		ObjectDir:   cfg.Build.ObjectDir,
		Library:     cfg.Link.LibraryPath(cfg.Build.Module),
	}
	searchPaths := make([]string, len(cfg.Link.SearchPaths))
	for i, p := range cfg.Link.SearchPaths {
		searchPaths[i] = abs(p)
	}
	startup := make([]string, len(cfg.Link.StartupObjects))
	for i, p := range cfg.Link.StartupObjects {
		startup[i] = abs(p)
	}
	settings := pipeline.Settings{
		Module: cfg.Build.Module,
		CFlags: cfg.Build.CFlags,
		Jobs:   cfg.Build.Jobs,
		Link: linker.SpecOptions{
			Linker:         cfg.Link.Linker,
			SearchPaths:    searchPaths,
			Libraries:      cfg.Link.Libraries,
			StartupObjects: startup,
			HostImport:     cfg.Link.HostImport,
			ExtraFlags:     cfg.Link.ExtraFlags,
			Flags:          cfg.Link.Flags,
			Scripted:       cfg.Link.Scripted,
		},
	}

	return func() (*pipeline.BuildContext, error) {
		header, err := readTemplate(abs(cfg.Build.HeaderFile), cfg.Build.Header)
		if err != nil {
			return nil, err
		}
		footer, err := readTemplate(abs(cfg.Build.FooterFile), cfg.Build.Footer)
		if err != nil {
			return nil, err
		}
		settings := settings
		settings.Header, settings.Footer = header, footer
		cat, err := catalog.New(store, layout)
		if err != nil {
			return nil, err
		}
		oracle, err := freshness.New(freshness.DefaultCacheSize, cfg.Build.StampExclude...)
		if err != nil {
			return nil, err
		}
		return &pipeline.BuildContext{
			Catalog:    cat,
			Store:      store,
			Oracle:     oracle,
			Settings:   settings,
			Compiler:   func() hierarchy.Compiler { return hierarchy.NewCompiler() },
			Core:       emit.NewCoreWriter(store, cat.CoreIncludeDir(), cat.CoreSourceDir()),
			Host:       emit.NewHostEmitter(store, cat.HostDir(), settings.Module, gens),
			Transpiler: emit.NewLineTranspiler(store, settings.Header, settings.Footer),
			Toolchain:  tc,
			Linker:     adapter,
			Logger:     a.logger,
		}, nil
	}, nil
}

// readTemplate returns the content of file, or inline when no file is
// configured.
func readTemplate(file, inline string) (string, error) {
	if file == "" {
		return inline, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	return string(data), nil
}

// openHistory opens the run history, or returns nil when it is disabled.
func (a *application) openHistory() (*history.DB, error) {
	path := a.config.History.Path
	if path == "" {
		return nil, nil
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.config.App.Root, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := history.Open(path)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// newService wires the build service. The returned closer releases the
// history database.
func (a *application) newService(publish func(pipeline.Event)) (*buildservice.Service, func(), error) {
	factory, err := a.contextFactory()
	if err != nil {
		return nil, nil, err
	}
	opts := []buildservice.Option{buildservice.WithLogger(a.logger)}
	closer := func() {}
	db, err := a.openHistory()
	if err != nil {
		return nil, nil, err
	}
	if db != nil {
		opts = append(opts, buildservice.WithHistory(db), buildservice.WithRetention(a.config.History.Keep))
		closer = func() { db.Close() }
	}
	if publish != nil {
		opts = append(opts, buildservice.WithPublisher(publish))
	}
	return buildservice.New(factory, opts...), closer, nil
}

// watchConfig watches IDL and C source directories plus the template and
// typemap files named in the configuration.
func (a *application) watchConfig() watch.Config {
	cfg := a.config
	root := cfg.App.Root
	seen := map[string]bool{}
	var dirs []string
	addDir := func(d string) {
		if !filepath.IsAbs(d) {
			d = filepath.Join(root, d)
		}
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	for _, d := range cfg.Build.SourceDirs {
		addDir(d)
	}
	for _, d := range cfg.Build.CSourceDirs {
		addDir(d)
	}
	suffixes := []string{".cfh", ".c", ".h"}
	for _, f := range []string{cfg.Build.HeaderFile, cfg.Build.FooterFile, cfg.Build.Typemap} {
		if f == "" {
			continue
		}
		addDir(filepath.Dir(f))
		suffixes = append(suffixes, filepath.Base(f))
	}
	return watch.Config{Dirs: dirs, Suffixes: suffixes, Debounce: watch.DefaultDebounce}
}
