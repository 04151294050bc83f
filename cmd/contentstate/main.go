package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/wilhg/contentstate/internal/config"
	"github.com/wilhg/contentstate/internal/logger"
	"github.com/wilhg/contentstate/pkg/httpapi"
	"github.com/wilhg/contentstate/pkg/mcpserver"
	cotel "github.com/wilhg/contentstate/pkg/otel"
	"github.com/wilhg/contentstate/pkg/store"
	_ "github.com/wilhg/contentstate/pkg/store/entstore"
	_ "github.com/wilhg/contentstate/pkg/store/filestore"
	_ "github.com/wilhg/contentstate/pkg/store/gormstore"
	_ "github.com/wilhg/contentstate/pkg/store/memory"
	"github.com/wilhg/contentstate/pkg/userdata"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	config.LoadEnvFiles()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	var showVersion, mcpMode bool
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.StringVar(&cfg.HTTPAddr, "addr", cfg.HTTPAddr, "http listen address")
	flag.BoolVar(&mcpMode, "mcp", false, "serve MCP over stdio instead of HTTP")
	flag.Parse()

	if showVersion {
		fmt.Printf("contentstate %s (commit=%s, date=%s)\n", version, commit, date)
		return
	}

	log := logger.New(cfg)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log, mcpMode); err != nil {
		log.Error().Err(err).Msg("contentstate stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("contentstate exited cleanly")
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger, mcpMode bool) error {
	otelCfg := cotel.Config{ServiceName: cfg.ServiceName, ServiceVersion: version, Environment: cfg.Environment, UseStdout: cfg.TracingStdout}
	if mcpMode {
		// stdout carries the MCP stream.
		otelCfg.Writer = os.Stderr
	}
	shutdownTracing, err := cotel.Init(ctx, otelCfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Error().Err(err).Msg("shutdown tracing")
		}
	}()

	backend, closeBackend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeBackend()

	mgr := userdata.NewManager(backend, log)

	if mcpMode {
		srv, err := mcpserver.New(mgr, version, log)
		if err != nil {
			return err
		}
		log.Info().Msg("serving MCP over stdio")
		return srv.Run(ctx)
	}

	api, err := httpapi.New(mgr, log)
	if err != nil {
		return err
	}
	return serveHTTP(ctx, cfg, log, api.Handler())
}

// openBackend resolves the configured storage driver. An empty driver yields
// a nil backend and the manager runs unconfigured.
func openBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Backend, func(), error) {
	noop := func() {}
	backend, err := store.Open(ctx, cfg.StorageDriver, cfg.StorageDSN, log)
	if err != nil {
		return nil, noop, err
	}
	if backend == nil {
		log.Warn().Msg("no storage driver configured; user data will not be persisted")
		return nil, noop, nil
	}
	closeFn := noop
	if c, ok := backend.(io.Closer); ok {
		closeFn = func() {
			if err := c.Close(); err != nil {
				log.Error().Err(err).Msg("close storage")
			}
		}
	}
	if m, ok := backend.(store.Migrator); ok && cfg.StorageMigrate {
		if err := m.Migrate(ctx); err != nil {
			closeFn()
			return nil, noop, fmt.Errorf("migrate storage: %w", err)
		}
	}
	log.Info().Str("driver", cfg.StorageDriver).Msg("storage ready")
	return backend, closeFn, nil
}

func serveHTTP(ctx context.Context, cfg *config.Config, log zerolog.Logger, h http.Handler) error {
	server := &http.Server{Addr: cfg.HTTPAddr, Handler: h}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	log.Info().Msg("shutting down http server")
	return server.Shutdown(sctx)
}
