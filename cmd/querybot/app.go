package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"querybot/internal/agent"
	"querybot/internal/bus"
	"querybot/internal/channel"
	"querybot/internal/config"
	"querybot/internal/credstore"
	"querybot/internal/domain"
	"querybot/internal/intent"
	"querybot/internal/metrics"
	"querybot/internal/mgmt"
	"querybot/internal/nlu"
)

const shutdownTimeout = 10 * time.Second

// app holds the wired components for serve and ask.
type app struct {
	cfg          *config.Config
	store        domain.CredentialStore
	classifier   *nlu.Dialogflow
	orchestrator *agent.Orchestrator
	bus          *bus.InMemoryBus
	slack        *channel.Slack
	worker       *agent.Worker
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	classifier, err := nlu.NewDialogflow(ctx, nlu.Config{
		ProjectID:       cfg.Dialogflow.ProjectID,
		LanguageCode:    cfg.Dialogflow.LanguageCode,
		CredentialsFile: cfg.Dialogflow.CredentialsFile,
		Timeout:         time.Duration(cfg.Dialogflow.TimeoutSeconds) * time.Second,
		Logger:          logger,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("dialogflow: %w", err)
	}

	factory := mgmt.NewFactory(mgmt.FactoryConfig{
		Store:   store,
		Timeout: time.Duration(cfg.Auth0.TimeoutSeconds) * time.Second,
		Logger:  logger,
	})

	orch := agent.NewOrchestrator(agent.OrchestratorConfig{
		Classifier: classifier,
		Store:      store,
		NewAPI: func(creds *domain.Credentials) (intent.API, error) {
			c, err := factory.NewClient(creds)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Registry: intent.DefaultRegistry(intent.Options{
			MaxInlineLength: cfg.Auth0.MaxInlineLength,
			Logger:          logger,
		}),
		Logger:                  logger,
		AllowAnonymousSmallTalk: cfg.General.AllowSmallTalkWithoutCredentials,
	})

	messageBus := bus.New(cfg.General.QueueSize, logger)

	slackCh := channel.NewSlack(channel.SlackConfig{
		BotToken:      cfg.Slack.BotToken,
		AppToken:      cfg.Slack.AppToken,
		SigningSecret: cfg.Slack.SigningSecret,
		Mode:          cfg.Slack.Mode,
		Listen:        cfg.Slack.Listen,
		EventsPath:    cfg.Slack.EventsPath,
		Credentials:   orch,
		Logger:        logger,
	})

	var limiter *agent.RateLimiter
	if cfg.General.RateBurst > 0 {
		limiter = agent.NewRateLimiter(cfg.General.RateBurst, float64(cfg.General.RatePerMinute))
	}

	worker := agent.NewWorker(agent.WorkerConfig{
		Bus:       messageBus,
		Processor: orch,
		Channels:  []domain.Channel{slackCh},
		Limiter:   limiter,
		Logger:    logger,
	})

	return &app{
		cfg:          cfg,
		store:        store,
		classifier:   classifier,
		orchestrator: orch,
		bus:          messageBus,
		slack:        slackCh,
		worker:       worker,
	}, nil
}

// Serve runs Slack, the worker and the metrics endpoint until ctx is done or
// the Slack connection fails.
func (a *app) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.worker.Run(ctx)
	}()

	slackErr := make(chan error, 1)
	go func() {
		defer wg.Done()
		slackErr <- a.slack.Start(ctx, a.bus)
	}()

	var metricsSrv *http.Server
	if a.cfg.Metrics.Enabled {
		metricsSrv = a.startMetrics()
	}

	logger.Info("querybot started. Press Ctrl+C to stop.", "version", version, "slack_mode", a.cfg.Slack.Mode)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-slackErr:
		if runErr != nil {
			logger.Error("slack channel stopped", "err", runErr)
		}
	}
	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", "err", err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
		a.bus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return errors.Join(runErr, errors.New("shutdown timed out"))
	}
	return runErr
}

func (a *app) startMetrics() *http.Server {
	mux := http.NewServeMux()
	mux.Handle(a.cfg.Metrics.Endpoint, metrics.Collector.Handler())
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics endpoint listening", "addr", srv.Addr, "path", a.cfg.Metrics.Endpoint)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "err", err)
		}
	}()
	return srv
}

func (a *app) Close() {
	if err := a.classifier.Close(); err != nil {
		logger.Warn("close dialogflow client", "err", err)
	}
	if err := a.store.Close(); err != nil {
		logger.Warn("close credential store", "err", err)
	}
}

func openStore(cfg *config.Config) (domain.CredentialStore, error) {
	switch cfg.Store.Driver {
	case "memory":
		logger.Warn("using in-memory credential store; credentials are lost on exit")
		return credstore.NewMemoryStore(), nil
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Store.DBPath), 0o700); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		s, err := credstore.NewSQLiteStore(cfg.Store.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("credential store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// setupLogger replaces the package logger with one at the configured level,
// also writing to general.logFile when set.
func setupLogger(cfg *config.Config) (func(), error) {
	var out io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closeFn = func() { f.Close() }
	}
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: parseLevel(cfg.General.LogLevel)}))
	slog.SetDefault(logger)
	return closeFn, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// renderEnvelope formats a reply for the terminal the way Slack would show it.
func renderEnvelope(env domain.Envelope) string {
	var sb strings.Builder
	sb.WriteString(env.Text)
	if env.AdditionalText != "" {
		sb.WriteString("\n" + env.AdditionalText)
	}
	if env.Payload != "" {
		if env.NeedsFileUpload {
			sb.WriteString("\n--- " + channel.UploadFilename + " ---")
		}
		sb.WriteString("\n" + env.Payload)
	}
	sb.WriteString("\n")
	return sb.String()
}
