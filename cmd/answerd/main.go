// Package main is the entry point for the reference answer service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/proxylens/chat/internal/config"
	"github.com/proxylens/chat/internal/handler"
	"github.com/proxylens/chat/internal/kvstore"
	"github.com/proxylens/chat/internal/llm"
	natsclient "github.com/proxylens/chat/internal/nats"
	"github.com/proxylens/chat/internal/service"
	"github.com/proxylens/chat/pkg/logger"
	"github.com/proxylens/chat/pkg/tracing"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Load()

	cmd := &cobra.Command{
		Use:           "answerd",
		Short:         "Serve chat sessions, history and generated answers over HTTP",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.ServerPort, "port", cfg.ServerPort, "listen port")
	f.StringVar(&cfg.BasePath, "base-path", cfg.BasePath, "path the query API is mounted at")
	f.StringVar(&cfg.ArchiveBackend, "archive", cfg.ArchiveBackend, "archive backend: memory, sqlite or nats")
	f.StringVar(&cfg.ArchivePath, "archive-path", cfg.ArchivePath, "SQLite archive file")
	f.StringVar(&cfg.DefaultLLM, "llm", cfg.DefaultLLM, "answer provider: anthropic, openai or static")
	f.StringVar(&cfg.HistoryShape, "history-shape", cfg.HistoryShape, "history layout: pairs, fragments or roles")
	f.BoolVar(&cfg.LegacyKeys, "legacy-keys", cfg.LegacyKeys, "use chat_sessions/session_id/chat_history response keys")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")

	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	log.Info("starting answer service")

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "proxylens-answerd", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(context.Background(), tp) }()
		}
	}

	shape, err := service.ParseHistoryShape(cfg.HistoryShape)
	if err != nil {
		return err
	}

	store, ready, err := openArchiveStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	provider, apiKey := cfg.LLMProvider()
	llmClient, err := llm.NewClient(llm.Config{
		Provider: llm.Provider(provider),
		APIKey:   apiKey,
		Reply:    cfg.StaticReply,
	})
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	log.Info("answer provider selected", zap.String("provider", llmClient.Name()))

	archive := service.NewArchive(store, log)
	answers := service.NewAnswerService(archive, llmClient, cfg.ContextTurns, log)

	router := handler.NewRouter(handler.RouterConfig{
		BasePath:          cfg.BasePath,
		JWTSecret:         cfg.JWTSecret,
		AnswerScope:       cfg.JWTAnswerScope,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		CORSOrigins:       cfg.CORSOrigins,
	}, handler.Handlers{
		Sessions: handler.NewSessionHandler(archive, shape, cfg.LegacyKeys, log),
		Generate: handler.NewGenerateHandler(answers, log),
		Health:   handler.NewHealthHandler(ready),
	}, log)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening",
			zap.String("port", cfg.ServerPort),
			zap.String("base_path", cfg.BasePath),
			zap.String("history_shape", string(shape)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
	return nil
}

// openArchiveStore opens the configured backend and a readiness check for it.
func openArchiveStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (kvstore.Store, handler.ReadyFunc, error) {
	switch cfg.ArchiveBackend {
	case "memory", "":
		return kvstore.NewMemory(), nil, nil
	case "sqlite":
		store, err := kvstore.OpenSQLite(cfg.ArchivePath)
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	case "nats":
		natsCfg := natsclient.Config{
			Name:     "proxylens-answerd",
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
			Bucket:   cfg.NATSBucket,
		}
		client, err := natsclient.Connect(ctx, natsCfg, log)
		if err != nil {
			return nil, nil, err
		}
		store, err := natsclient.OpenKV(ctx, natsCfg, client)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return store, store.Ready, nil
	default:
		return nil, nil, fmt.Errorf("unknown archive backend %q", cfg.ArchiveBackend)
	}
}
