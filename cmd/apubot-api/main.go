package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mapus/apubot/internal/api"
	"github.com/mapus/apubot/internal/auth"
	"github.com/mapus/apubot/internal/config"
	"github.com/mapus/apubot/internal/conversation"
	conversationpostgres "github.com/mapus/apubot/internal/conversation/postgres"
	"github.com/mapus/apubot/internal/llm"
	"github.com/mapus/apubot/internal/messaging"
	"github.com/mapus/apubot/internal/nl2sql"
	"github.com/mapus/apubot/internal/observability"
	"github.com/mapus/apubot/internal/pipeline"
	querypostgres "github.com/mapus/apubot/internal/query/postgres"
	"github.com/mapus/apubot/internal/store"
	"github.com/mapus/apubot/internal/summary"
	"github.com/mapus/apubot/internal/users"
	userspostgres "github.com/mapus/apubot/internal/users/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv("apubot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	dsn, err := cfg.DatabaseDSN()
	if err != nil {
		logger.Error("failed to build database dsn", slog.Any("error", err))
		os.Exit(1)
	}
	gateway, err := store.NewGateway(dsn, cfg.Database.ConnectTimeout)
	if err != nil {
		logger.Error("failed to initialize database gateway", slog.Any("error", err))
		os.Exit(1)
	}

	generator, err := llm.NewGenerator(cfg.AI)
	if err != nil {
		logger.Error("failed to initialize generator", slog.Any("error", err))
		os.Exit(1)
	}
	translator, err := nl2sql.NewGeneratorTranslator(generator, cfg.AI.Provider, cfg.AI.Model, logger)
	if err != nil {
		logger.Error("failed to initialize query translator", slog.Any("error", err))
		os.Exit(1)
	}
	summarizer, err := summary.NewSummarizer(generator, logger)
	if err != nil {
		logger.Error("failed to initialize summarizer", slog.Any("error", err))
		os.Exit(1)
	}

	sender, err := messaging.NewTwilioSender(cfg.Twilio)
	if err != nil {
		logger.Error("failed to initialize message sender", slog.Any("error", err))
		os.Exit(1)
	}
	dispatcher := messaging.NewDispatcher(sender, logger, cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkDelay)

	orchestrator, err := pipeline.New(pipeline.Dependencies{
		Gate:       users.NewGate(userspostgres.NewDirectory(gateway)),
		Memory:     conversation.NewMemory(conversationpostgres.NewStore(gateway), logger, cfg.Pipeline.HistoryLimit),
		Translator: translator,
		Executor:   querypostgres.NewExecutor(gateway, logger),
		Summarizer: summarizer,
		Dispatcher: dispatcher,
	}, logger, cfg.Pipeline.HistoryLimit)
	if err != nil {
		logger.Error("failed to initialize pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         gateway.Ping,
		DependencyTimeout: cfg.Database.ConnectTimeout,
		Pipeline:          orchestrator,
	}
	if cfg.Twilio.ValidateSignature {
		deps.WebhookMiddleware = auth.Middleware(logger, auth.NewTwilioValidator(cfg.Twilio.AuthToken), cfg.Twilio.WebhookURL)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("ai_provider", cfg.AI.Provider),
			slog.String("ai_model", cfg.AI.Model),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
