package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/idlforge/internal"
	pkgconfig "github.com/starford/idlforge/pkg/config"
)

var version = "dev"

func loadOptions(cmd *cli.Command) ([]internal.Option, error) {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if root := cmd.String("root"); root != "" {
		cfg.App.Root = root
	}
	if jobs := int(cmd.Int("jobs")); jobs > 0 {
		cfg.Build.Jobs = jobs
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return []internal.Option{
		internal.WithConfig(cfg),
	}, nil
}

// action adapts an internal entry point to a cli action.
func action(fn func(ctx context.Context, opts ...internal.Option) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		opts, err := loadOptions(cmd)
		if err != nil {
			return err
		}
		return fn(ctx, opts...)
	}
}

func runHistory(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	req := internal.HistoryRequest{
		RunID: cmd.Args().First(),
		Query: cmd.String("search"),
		Limit: int(cmd.Int("limit")),
	}
	return internal.History(ctx, req, opts...)
}

func runMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	return internal.ServeMCP(ctx, version, opts...)
}

func main() {
	cmd := &cli.Command{
		Name:    "idlforge",
		Usage:   "Incremental build orchestrator turning IDL class definitions into a host extension module",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "root",
				Usage:   "Source tree root (overrides app.root)",
				Sources: cli.EnvVars("IDLFORGE_ROOT"),
			},
			&cli.IntFlag{
				Name:    "jobs",
				Aliases: []string{"j"},
				Usage:   "Parallel compile jobs (overrides build.jobs)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "build",
				Usage:  "Run every stale stage once",
				Action: action(internal.Build),
			},
			{
				Name:   "plan",
				Usage:  "Show which gates are stale without building",
				Action: action(internal.Plan),
			},
			{
				Name:   "clean",
				Usage:  "Remove generated files, objects, the library and its stub",
				Action: action(internal.Clean),
			},
			{
				Name:   "watch",
				Usage:  "Build, then rebuild whenever IDL or C sources change",
				Action: action(internal.Watch),
			},
			{
				Name:   "serve",
				Usage:  "Watch and serve the status API with a build event stream",
				Action: action(internal.Run),
			},
			{
				Name:   "mcp",
				Usage:  "Serve build tools over MCP stdio",
				Action: runMCP,
			},
			{
				Name:      "history",
				Usage:     "List recorded builds, or show one run",
				ArgsUsage: "[run-id]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "search",
						Aliases: []string{"s"},
						Usage:   "Search recorded stage failures",
					},
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum rows",
						Value:   20,
					},
				},
				Action: runHistory,
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		stop()
		os.Exit(1)
	}
}
