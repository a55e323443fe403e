package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/unitdeck/internal"
	pkgconfig "github.com/starford/unitdeck/pkg/config"
)

var version = "dev"

// loadConfig reads the optional config file and applies flag overrides.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cmd.IsSet("port") {
		cfg.App.HTTP.Port = int(cmd.Int("port"))
	}
	if cmd.IsSet("host") {
		cfg.App.HTTP.Host = cmd.String("host")
	}
	if cmd.IsSet("config-dir") {
		cfg.App.ConfigDir = cmd.String("config-dir")
	}
	if cmd.IsSet("base-url") {
		cfg.App.BaseURL = cmd.String("base-url")
	}
	if cmd.IsSet("log-level") {
		if err := cfg.App.LogLevel.UnmarshalText([]byte(cmd.String("log-level"))); err != nil {
			return nil, fmt.Errorf("invalid --log-level: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func options(cmd *cli.Command) ([]internal.Option, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	return internal.RunMCP(ctx, opts...)
}

func exportMetadata(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("export: output file is required")
	}
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	n, err := internal.ExportMetadata(ctx, path, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "exported %d units to %s\n", n, path)
	return nil
}

func importMetadata(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("import: input file is required")
	}
	opts, err := options(cmd)
	if err != nil {
		return err
	}
	n, err := internal.ImportMetadata(ctx, path, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "imported %d units from %s\n", n, path)
	return nil
}

func main() {
	cmd := &cli.Command{
		Name:    "unitdeck",
		Usage:   "Local operations console for systemd units",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (.yaml or .toml); optional",
				Sources: cli.EnvVars("APP_CONFIG_FILE"),
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "HTTP port",
				Value: 5000,
			},
			&cli.StringFlag{
				Name:  "host",
				Usage: "HTTP bind address",
				Value: "127.0.0.1",
			},
			&cli.StringFlag{
				Name:  "config-dir",
				Usage: "Directory holding services.db",
				Value: ".",
			},
			&cli.StringFlag{
				Name:  "base-url",
				Usage: "URL prefix the console is served under",
				Value: "/",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
				Value: "info",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP console (default)",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve MCP tools on stdio",
				Action: serveMCP,
			},
			{
				Name:      "export",
				Usage:     "Write unit metadata to a YAML file",
				ArgsUsage: "<file>",
				Action:    exportMetadata,
			},
			{
				Name:      "import",
				Usage:     "Load unit metadata from a YAML export",
				ArgsUsage: "<file>",
				Action:    importMetadata,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
