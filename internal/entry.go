// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/starford/unitdeck/internal/api"
	"github.com/starford/unitdeck/internal/dispatcher"
	"github.com/starford/unitdeck/internal/executor"
	"github.com/starford/unitdeck/internal/hostinfo"
	"github.com/starford/unitdeck/internal/mcpserver"
	"github.com/starford/unitdeck/internal/metadata"
	"github.com/starford/unitdeck/internal/registry"
	"github.com/starford/unitdeck/internal/sse"
	"github.com/starford/unitdeck/internal/systemd"
	"github.com/starford/unitdeck/internal/unitwatch"
)

const shutdownTimeout = 10 * time.Second

// components are the wired building blocks shared by every entry point.
type components struct {
	store      *metadata.Store
	units      *systemd.Reader
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	host       *hostinfo.Reader
}

func newLogger(cfg *Config, out io.Writer) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: cfg.App.LogLevel}
	format := cfg.App.LogFormat
	if format == LogFormatAuto {
		format = LogFormatJSON
		if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = LogFormatText
		}
	}
	if format == LogFormatText {
		return slog.New(slog.NewTextHandler(out, hopts))
	}
	return slog.New(slog.NewJSONHandler(out, hopts))
}

// setup validates options, installs the logger and wires the core
// components. Failing to open the metadata store is fatal.
func setup(opts []Option, onEvent func(kind, unit string)) (*application, *slog.Logger, *components, error) {
	app := newApplication(opts)
	if app.config == nil {
		return nil, nil, nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	logger := newLogger(cfg, app.logOut)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("base_url", cfg.App.BaseURL),
		slog.String("db_path", cfg.App.DBPath()),
		slog.String("suffixes", strings.Join(cfg.Systemd.Options().Suffixes, ",")),
		slog.Bool("use_sudo", cfg.Systemd.Options().UseSudo),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := metadata.Open(cfg.App.DBPath())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open metadata store: %w", err)
	}

	run := executor.New(logger)
	units := systemd.NewReader(run, cfg.Systemd.Options(), logger)

	regOpts := []registry.Option{registry.WithStaleAfter(cfg.Registry.StaleAfter)}
	dispOpts := []dispatcher.Option{dispatcher.WithTimeout(cfg.Systemd.ControlTimeout)}
	if onEvent != nil {
		regOpts = append(regOpts, registry.WithEventCallback(onEvent))
		dispOpts = append(dispOpts, dispatcher.WithEventCallback(onEvent))
	}
	reg := registry.New(units, store, logger, regOpts...)

	return app, logger, &components{
		store:      store,
		units:      units,
		registry:   reg,
		dispatcher: dispatcher.New(run, units, reg, logger, dispOpts...),
		host:       hostinfo.NewReader(run, cfg.Host.DFPath, cfg.Host.MeminfoPath),
	}, nil
}

// Run starts the HTTP console with the given options.
func Run(ctx context.Context, opts ...Option) error {
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	app, logger, c, err := setup(opts, broker.PublishUnitEvent)
	if err != nil {
		return err
	}
	defer c.store.Close()
	cfg := app.config

	handler := api.NewRoot(api.Deps{
		Registry:   c.registry,
		Dispatcher: c.dispatcher,
		Units:      c.units,
		Store:      c.store,
		Host:       c.host,
	}, api.RootOptions{
		BaseURL:     cfg.App.BaseURL,
		AuthEnabled: cfg.Auth.AuthEnabled(),
		AuthToken:   cfg.Auth.Token,
		Events:      broker,
	})

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(runCtx)

	// Background refresh: ticker plus triggers from the watcher.
	g.Go(func() error {
		return c.registry.Run(gCtx, cfg.Registry.RefreshInterval)
	})

	if cfg.Watch.Enabled {
		g.Go(func() error {
			err := unitwatch.Watch(gCtx, unitwatch.Options{
				Dirs:     cfg.Watch.Dirs,
				Suffixes: c.units.Suffixes(),
				Debounce: cfg.Watch.Debounce,
			}, logger, func(changed []string) {
				logger.Debug("unit files changed", slog.String("units", strings.Join(changed, ",")))
				c.registry.Trigger()
			})
			if err != nil {
				// Non-fatal: the refresh ticker keeps running.
				logger.Warn("unit watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP serves the MCP tools on stdin/stdout. The registry is refreshed
// once up front and then periodically in the background.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, logger, c, err := setup(append([]Option{WithLogOutput(os.Stderr)}, opts...), nil)
	if err != nil {
		return err
	}
	defer c.store.Close()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = c.registry.Run(runCtx, app.config.Registry.RefreshInterval)
	}()

	srv := mcpserver.New(c.registry, c.dispatcher, c.units, app.version)
	logger.Info("MCP server starting on stdio")
	if err := srv.ServeStdio(); err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

// ExportMetadata writes every metadata record to path as YAML.
func ExportMetadata(ctx context.Context, path string, opts ...Option) (int, error) {
	store, err := openStore(opts)
	if err != nil {
		return 0, err
	}
	defer store.Close()
	return store.Export(ctx, path)
}

// ImportMetadata upserts the records of a YAML export into the store.
func ImportMetadata(ctx context.Context, path string, opts ...Option) (int, error) {
	store, err := openStore(opts)
	if err != nil {
		return 0, err
	}
	defer store.Close()
	return store.Import(ctx, path)
}

func openStore(opts []Option) (*metadata.Store, error) {
	app := newApplication(opts)
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	slog.SetDefault(newLogger(app.config, os.Stderr))
	store, err := metadata.Open(app.config.App.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	return store, nil
}
