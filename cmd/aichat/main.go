package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"AIChatbot/internal/backend"
	"AIChatbot/internal/chat"
	"AIChatbot/internal/config"
	"AIChatbot/internal/session"
	"AIChatbot/internal/telemetry"
	"AIChatbot/internal/tui"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	flag.StringVar(&cfg.Endpoint, "endpoint", cfg.Endpoint, "Generation endpoint URL")
	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Timeout for generation requests (0 = none)")
	flag.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	flag.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory for logs, traces and metrics")
	flag.StringVar(&cfg.Greeting, "greeting", cfg.Greeting, "First AI message (empty disables it)")
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

	// The terminal belongs to the UI; log to file only
	logger, logFile, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logFile.Close()

	ctx := context.Background()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir, version)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer cleanup()

	client := backend.NewClient(cfg.Endpoint, cfg.RequestTimeout, tracer, meter, logger)
	sess := chat.NewSession(client, chat.Options{
		Greeting:       cfg.Greeting,
		CredentialHint: config.CredentialHint,
		Tracer:         tracer,
		Meter:          meter,
		Logger:         logger,
	})
	logger.Info("terminal chat started", "session_id", sess.ID(), "endpoint", client.Endpoint())

	p := tea.NewProgram(tui.NewModel(ctx, sess), tea.WithAltScreen())
	unsubscribe := sess.Subscribe(func(st session.State) {
		p.Send(tui.StateMsg(st))
	})
	defer unsubscribe()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("terminal UI failed: %w", err)
	}
	logger.Info("terminal chat ended", "session_id", sess.ID())
	return nil
}
