package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"

	"github.com/elixir-ega/dataedge/internal/audit"
	"github.com/elixir-ega/dataedge/internal/catalog"
	"github.com/elixir-ega/dataedge/internal/config"
	"github.com/elixir-ega/dataedge/internal/genomics"
	"github.com/elixir-ega/dataedge/internal/http/rest"
	"github.com/elixir-ega/dataedge/internal/identity"
	"github.com/elixir-ega/dataedge/internal/ledger"
	"github.com/elixir-ega/dataedge/internal/logctx"
	"github.com/elixir-ega/dataedge/internal/projection"
	"github.com/elixir-ega/dataedge/internal/res"
	"github.com/elixir-ega/dataedge/internal/resilience"
	"github.com/elixir-ega/dataedge/internal/storage/sqlite"
	"github.com/elixir-ega/dataedge/internal/telemetry"
	"github.com/elixir-ega/dataedge/internal/ticket"
	"github.com/elixir-ega/dataedge/internal/transfer"
)

const serviceName = "dataedge"

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("dataedge starting...", "version", version, "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	repo := sqlite.NewInstrumentedTransferRepository(sqlite.NewTransferRepository(database), tel)

	// =========================================================================
	// Start Upstream Clients
	controlClient, streamClient := buildUpstreamClients(ctx, cfg)
	retrier := resilience.NewRetrier(cfg.MaxRetries, cfg.RetryBaseDelay)

	resClient := res.NewClient(cfg.ResBaseURL, controlClient, streamClient, retrier, tel)

	cat := catalog.NewClient(cfg.DownloaderBaseURL, controlClient, retrier, resClient, tel, catalog.Options{
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.FileCacheTTL,
	})

	sink := audit.NewSink(cfg.DownloaderBaseURL, controlClient, retrier)
	tickets := ticket.NewStore(cfg.DownloaderBaseURL, controlClient, retrier)

	// =========================================================================
	// Start Transfer Pipeline
	led := ledger.New(repo, sink, tel)
	engine := transfer.NewEngine(resClient, led, sink, tel)

	toolkit := genomics.NewHTS(cfg.CramReferencePath)
	projector := projection.NewProjector(cat, resClient, toolkit)

	identities := identity.NewResolver(cfg.PermissionsSecret, cfg.IdentityCacheTTL)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	handler := rest.NewHandler(cat, engine, projector, tickets, identities, sink, tel)
	server := setupServer(ctx, handler, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// =========================================================================
	// Start Telemetry Endpoint
	var telemetryServer *http.Server
	if cfg.Telemetry.Enabled {
		telemetryServer = setupTelemetryServer(ctx, tel, cfg)

		go func() {
			logger.Info("Initializing metrics endpoint", "host", cfg.Telemetry.BindAddress)
			serverErrors <- telemetryServer.ListenAndServe()
		}()
	}

	logger.Info("gateway ready",
		"downloader", cfg.DownloaderBaseURL,
		"res", cfg.ResBaseURL,
		"db", cfg.DBPath,
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if telemetryServer != nil {
			if err := telemetryServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to gracefully shutdown the metrics server", "err", err)
				telemetryServer.Close()
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// buildUpstreamClients creates the two HTTP clients used against the
// internal services: a timeout-bounded control client and an unbounded
// stream client for payload transfers. Both carry the service token
// when one is configured, and both are trace-instrumented.
func buildUpstreamClients(ctx context.Context, cfg *config.Config) (*http.Client, *http.Client) {
	base := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	if cfg.ServiceToken == "" {
		control := *base
		control.Timeout = cfg.UpstreamTimeout

		return &control, base
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.ServiceToken})
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)

	control := oauth2.NewClient(ctx, src)
	control.Timeout = cfg.UpstreamTimeout

	return control, oauth2.NewClient(ctx, src)
}

// setupServer prepares the handlers and middleware to create the http rest server.
func setupServer(ctx context.Context, handler *rest.Handler, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupTelemetryServer(ctx context.Context, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", tel.Handler())

	return &http.Server{
		Addr:    cfg.Telemetry.BindAddress,
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
