package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"AIChatbot/internal/backend"
	"AIChatbot/internal/config"
	"AIChatbot/internal/relay"
	"AIChatbot/internal/telemetry"
	"AIChatbot/internal/web"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address (host:port)")
	flag.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "Generation endpoint URL the chat view posts to")
	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Timeout for generation requests (0 = none)")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for logs, traces and metrics")
	flag.StringVar(&cfg.Greeting, "greeting", cfg.Greeting, "First AI message of every chat (empty disables it)")

	// Relay flags
	flag.BoolVar(&cfg.RelayEnabled, "relay", cfg.RelayEnabled, "Serve the built-in generation endpoint at /api/generate")
	flag.StringVar(&cfg.Backend, "backend", cfg.Backend, "Relay text backend (ollama|anthropic|grok|openai)")
	flag.StringVar(&cfg.OllamaModel, "ollama-model", cfg.OllamaModel, "Ollama model specification (format: model:version)")
	flag.DurationVar(&cfg.CacheTTL, "cache-ttl", cfg.CacheTTL, "Relay response cache lifetime (0 disables caching)")
	flag.StringVar(&cfg.AuditDB, "audit-db", cfg.AuditDB, "SQLite path for the relay audit log (empty disables it)")

	flag.Parse()

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	cfg.ResolveEndpoint()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug, os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir, version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer cleanup()

	client := backend.NewClient(cfg.Endpoint, cfg.RequestTimeout, tracer, meter, logger)
	opts := web.Options{
		Generator:      client,
		Greeting:       cfg.Greeting,
		CredentialHint: config.CredentialHint,
		Tracer:         tracer,
		Meter:          meter,
		Logger:         logger,
	}

	if cfg.RelayEnabled {
		var audit *relay.AuditLog
		if cfg.AuditDB != "" {
			db, err := telemetry.InitDB(cfg.AuditDB)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			defer db.Close()
			audit = relay.NewAuditLog(db)
		}
		h := relay.NewHandler(relay.FromAppConfig(cfg), audit, tracer, meter, logger)
		if cfg.CacheTTL > 0 {
			go h.PurgeCache(ctx, cfg.CacheTTL)
		}
		opts.Relay = h
		logger.Info("generation relay enabled", "backend", cfg.Backend, "audit", cfg.AuditDB != "")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           web.NewServer(opts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Addr, "endpoint", client.Endpoint())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server", "error", err)
		}
	}
	return nil
}
