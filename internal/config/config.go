// Package config provides configuration for the chat client and the answer
// service.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the answer service.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	BasePath           string
	CORSOrigins        []string

	// Archive storage: memory, sqlite or nats
	ArchiveBackend string
	ArchivePath    string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string
	NATSBucket   string

	// JWT settings; auth is off when JWTSecret is empty
	JWTSecret      string
	JWTAnswerScope string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	StaticReply     string
	ContextTurns    int

	// History
	HistoryShape string
	LegacyKeys   bool

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8000"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		BasePath:           getEnv("BASE_PATH", "/api/v1/query"),
		CORSOrigins:        getListEnv("CORS_ORIGINS", nil),

		// Archive
		ArchiveBackend: getEnv("ARCHIVE_BACKEND", "memory"),
		ArchivePath:    getEnv("ARCHIVE_PATH", "answerd.db"),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),
		NATSBucket:   getEnv("NATS_BUCKET", "PROXYLENS_ARCHIVE"),

		// JWT
		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTAnswerScope: getEnv("JWT_ANSWER_SCOPE", "chat:write"),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      getEnv("DEFAULT_LLM", ""),
		StaticReply:     getEnv("STATIC_REPLY", ""),
		ContextTurns:    getIntEnv("CONTEXT_TURNS", 10),

		// History
		HistoryShape: getEnv("HISTORY_SHAPE", "pairs"),
		LegacyKeys:   getBoolEnv("LEGACY_KEYS", false),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// LLMProvider picks the provider: DEFAULT_LLM when set, otherwise the
// first provider with a key, otherwise the static echo provider.
func (c *Config) LLMProvider() (provider, apiKey string) {
	switch strings.ToLower(c.DefaultLLM) {
	case "anthropic":
		return "anthropic", c.AnthropicAPIKey
	case "openai":
		return "openai", c.OpenAIAPIKey
	case "static":
		return "static", ""
	}
	if c.AnthropicAPIKey != "" {
		return "anthropic", c.AnthropicAPIKey
	}
	if c.OpenAIAPIKey != "" {
		return "openai", c.OpenAIAPIKey
	}
	return "static", ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
