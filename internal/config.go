package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/idlforge/internal/emit"
	"github.com/starford/idlforge/internal/linker"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Build   BuildConfig       `yaml:"build"`
	Link    LinkConfig        `yaml:"link"`
	History HistoryConfig     `yaml:"history"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Build.Validate(); err != nil {
		return err
	}
	if err := c.Link.Validate(); err != nil {
		return err
	}
	if err := c.History.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	// Root is the source tree every relative path is resolved against.
	Root string     `yaml:"root"`
	HTTP HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
	); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// BuildConfig describes the module being built and where its sources live.
type BuildConfig struct {
	Module      string   `yaml:"module"`
	SourceDirs  []string `yaml:"source_dirs"`
	IncludeDirs []string `yaml:"include_dirs"`
	// IncludeEnv names an environment variable holding extra include
	// dirs, colon separated.
	IncludeEnv string `yaml:"include_env"`
	// RuntimePaths are searched for an installed idlforge/_include dir.
	RuntimePaths   []string `yaml:"runtime_paths"`
	CSourceDirs    []string `yaml:"c_source_dirs"`
	AutogenDir     string   `yaml:"autogen_dir"`
	ObjectDir      string   `yaml:"object_dir"`
	Header         string   `yaml:"header"`
	Footer         string   `yaml:"footer"`
	HeaderFile     string   `yaml:"header_file"`
	FooterFile     string   `yaml:"footer_file"`
	CC             string   `yaml:"cc"`
	CFlags         []string `yaml:"cflags"`
	Jobs           int      `yaml:"jobs"`
	GlueGenerators []string `yaml:"glue_generators"`
	StampExclude   []string `yaml:"stamp_exclude"`
	Typemap        string   `yaml:"typemap"`
}

// Validate validates the build configuration.
func (c *BuildConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Module, validation.Required),
		validation.Field(&c.SourceDirs, validation.Required),
		validation.Field(&c.AutogenDir, validation.Required),
		validation.Field(&c.ObjectDir, validation.Required),
		validation.Field(&c.Jobs, validation.Min(0)),
		validation.Field(&c.GlueGenerators, validation.Each(validation.Required, validation.Match(namePattern))),
	)
}

// Generators returns the enabled glue generators, defaulting when unset.
func (c *BuildConfig) Generators() []string {
	if len(c.GlueGenerators) == 0 {
		return emit.DefaultGenerators
	}
	return c.GlueGenerators
}

// IncludeEnvValue reads the include environment variable.
func (c *BuildConfig) IncludeEnvValue() string {
	if c.IncludeEnv == "" {
		return ""
	}
	return os.Getenv(c.IncludeEnv)
}

// LinkConfig is the portable link description.
type LinkConfig struct {
	// Platform selects the link adapter; empty means the host platform.
	Platform       string            `yaml:"platform"`
	Linker         string            `yaml:"linker"`
	Output         string            `yaml:"output"`
	SearchPaths    []string          `yaml:"search_paths"`
	Libraries      []string          `yaml:"libraries"`
	StartupObjects []string          `yaml:"startup_objects"`
	HostImport     string            `yaml:"host_import"`
	ExtraFlags     []string          `yaml:"extra_flags"`
	Flags          map[string]string `yaml:"flags"`
	Scripted       bool              `yaml:"scripted"`
}

// Validate validates the link configuration.
func (c *LinkConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Platform, validation.Match(namePattern)),
		validation.Field(&c.Linker, validation.Required),
	)
}

// PlatformID returns the configured platform or the host's.
func (c *LinkConfig) PlatformID() string {
	if c.Platform == "" {
		return linker.HostPlatform()
	}
	return c.Platform
}

// LibraryPath returns Output, or build/<module><ext> for the platform.
func (c *LinkConfig) LibraryPath(module string) string {
	if c.Output != "" {
		return c.Output
	}
	ext := ".so"
	switch c.PlatformID() {
	case "windows-gnu":
		ext = ".dll"
	case "darwin":
		ext = ".bundle"
	}
	return filepath.Join("build", strings.ReplaceAll(module, "::", "_")+ext)
}

// HistoryConfig holds the run history database location.
type HistoryConfig struct {
	// Path of the SQLite database; empty disables history.
	Path string `yaml:"path"`
	// Keep is how many runs are retained; 0 keeps everything.
	Keep int `yaml:"keep"`
}

// Validate validates the history configuration.
func (c *HistoryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Keep, validation.Min(0)),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// namePattern matches generator and platform ids. Whether the id is
// registered is checked when the build is wired, since options can add
// generators and adapters.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			Root:     ".",
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Build: BuildConfig{
			SourceDirs:  []string{"core"},
			CSourceDirs: []string{"xs"},
			IncludeEnv:  "IDLFORGE_INCLUDE",
			AutogenDir:  "autogen",
			ObjectDir:   "build/obj",
			Header:      "/* Generated by idlforge. Do not edit. */",
			CFlags:      []string{"-fPIC", "-O2"},
			Jobs:        4,
		},
		Link: LinkConfig{
			Linker: "cc",
		},
		History: HistoryConfig{
			Path: ".idlforge/history.db",
			Keep: 200,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
