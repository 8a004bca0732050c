package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends for the client's persisted session cache.
const (
	StoreSQLite = "sqlite"
	StoreNATS   = "nats"
	StoreMemory = "memory"
)

// ClientConfig holds configuration for the chat client. Values come from a
// YAML file, then CHAT_* environment variables override them.
type ClientConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Token      string        `yaml:"token"`
	Timeout    time.Duration `yaml:"timeout"`
	MinLatency time.Duration `yaml:"min_latency"`

	Store     string `yaml:"store"`
	StatePath string `yaml:"state_path"`

	NATS NATSConfig `yaml:"nats"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// NATSConfig configures the NATS KV store backend.
type NATSConfig struct {
	URL      string `yaml:"url"`
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	Token    string `yaml:"token"`
	Bucket   string `yaml:"bucket"`
}

// DefaultClientConfig returns the client defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:    "http://localhost:8000/api/v1/query",
		Timeout:    50 * time.Second,
		MinLatency: time.Second,
		Store:      StoreSQLite,
		StatePath:  filepath.Join(DefaultDir(), "state.db"),
		NATS: NATSConfig{
			URL:    "nats://localhost:4222",
			Bucket: "PROXYLENS_CHAT",
		},
		LogLevel: "info",
		LogFile:  filepath.Join(DefaultDir(), "chat.log"),
	}
}

// DefaultDir is where the client keeps its files.
func DefaultDir() string {
	if dir := os.Getenv("CHAT_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".proxylens"
	}
	return filepath.Join(home, ".proxylens")
}

// DefaultClientConfigPath is the config file read when none is given.
func DefaultClientConfigPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

// LoadClient reads path over the defaults and applies environment
// overrides. A missing file at the default path is not an error.
func LoadClient(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultClientConfigPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ClientConfig) applyEnv() {
	c.BaseURL = getEnv("CHAT_BASE_URL", c.BaseURL)
	c.Token = getEnv("CHAT_TOKEN", c.Token)
	c.Timeout = getDurationEnv("CHAT_TIMEOUT", c.Timeout)
	c.MinLatency = getDurationEnv("CHAT_MIN_LATENCY", c.MinLatency)
	c.Store = getEnv("CHAT_STORE", c.Store)
	c.StatePath = getEnv("CHAT_STATE_PATH", c.StatePath)
	c.NATS.URL = getEnv("CHAT_NATS_URL", c.NATS.URL)
	c.NATS.Token = getEnv("CHAT_NATS_TOKEN", c.NATS.Token)
	c.NATS.Bucket = getEnv("CHAT_NATS_BUCKET", c.NATS.Bucket)
	c.LogLevel = getEnv("CHAT_LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("CHAT_LOG_FILE", c.LogFile)
}

// Validate checks the configuration for values the client cannot use.
func (c *ClientConfig) Validate() error {
	switch c.Store {
	case StoreSQLite:
		if c.StatePath == "" {
			return errors.New("state_path is required for the sqlite store")
		}
	case StoreNATS:
		if c.NATS.URL == "" {
			return errors.New("nats.url is required for the nats store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.Timeout < 0 {
		return errors.New("timeout must not be negative")
	}
	if c.MinLatency < 0 {
		return errors.New("min_latency must not be negative")
	}
	return nil
}
