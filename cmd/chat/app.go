package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/proxylens/chat/internal/chat"
	"github.com/proxylens/chat/internal/config"
	"github.com/proxylens/chat/internal/exchange"
	"github.com/proxylens/chat/internal/kvstore"
	natsclient "github.com/proxylens/chat/internal/nats"
	"github.com/proxylens/chat/internal/remote"
	"github.com/proxylens/chat/pkg/logger"
)

// app holds what every subcommand needs.
type app struct {
	cfg    *config.ClientConfig
	log    *logger.Logger
	store  kvstore.Store
	client *chat.Client
}

type rootFlags struct {
	configPath string
	baseURL    string
	store      string
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	cmd := &cobra.Command{
		Use:          "chat",
		Short:        "Chat with the answer service from the terminal",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, &flags, func(ctx context.Context, a *app) error {
				return runREPL(ctx, a, cmd.InOrStdin(), cmd.OutOrStdout())
			})
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "config file (default $CHAT_HOME/config.yaml)")
	pf.StringVar(&flags.baseURL, "base-url", "", "answer service base URL")
	pf.StringVar(&flags.store, "store", "", "session cache backend: sqlite, nats or memory")

	cmd.AddCommand(
		newSessionsCmd(&flags),
		newNewCmd(&flags),
		newHistoryCmd(&flags),
		newAskCmd(&flags),
	)
	return cmd
}

// withApp builds the app, runs fn and tears everything down.
func withApp(cmd *cobra.Command, flags *rootFlags, fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.LoadClient(flags.configPath)
	if err != nil {
		return err
	}
	if flags.baseURL != "" {
		cfg.BaseURL = flags.baseURL
	}
	if flags.store != "" {
		cfg.Store = flags.store
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	ctx := cmd.Context()
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	rc, err := remote.NewHTTPClient(remote.HTTPConfig{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Token:   cfg.Token,
	}, log)
	if err != nil {
		return err
	}

	client := chat.New(store, rc, chat.Options{
		Exchange: exchange.Config{MinLatency: cfg.MinLatency},
		Logger:   log,
	})
	defer client.Close()

	return fn(ctx, &app{cfg: cfg, log: log, store: store, client: client})
}

// newLogger logs to a file so the terminal stays readable.
func newLogger(cfg *config.ClientConfig) (*logger.Logger, error) {
	if cfg.LogFile == "" {
		return logger.NewNop(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return logger.New(cfg.LogLevel, cfg.LogFile)
}

func openStore(ctx context.Context, cfg *config.ClientConfig, log *logger.Logger) (kvstore.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return kvstore.NewMemory(), nil
	case config.StoreNATS:
		natsCfg := natsclient.Config{
			Name:     "proxylens-chat",
			URL:      cfg.NATS.URL,
			CAFile:   cfg.NATS.CAFile,
			CertFile: cfg.NATS.CertFile,
			KeyFile:  cfg.NATS.KeyFile,
			Token:    cfg.NATS.Token,
			Bucket:   cfg.NATS.Bucket,
		}
		client, err := natsclient.Connect(ctx, natsCfg, log)
		if err != nil {
			return nil, err
		}
		store, err := natsclient.OpenKV(ctx, natsCfg, client)
		if err != nil {
			client.Close()
			return nil, err
		}
		return store, nil
	default:
		return kvstore.OpenSQLite(cfg.StatePath)
	}
}
