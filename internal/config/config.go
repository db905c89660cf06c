package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MemoryDatabaseURL selects the in-process store instead of Postgres.
const MemoryDatabaseURL = "memory://"

// Config holds all configuration for the pmengine server.
type Config struct {
	Server    ServerConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AI        AIConfig
	Engine    EngineConfig
	Notify    NotifyConfig
	Scan      ScanConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// InMemory reports whether the in-process store was requested.
func (d DatabaseConfig) InMemory() bool {
	return d.URL == MemoryDatabaseURL
}

type RedisConfig struct {
	URL string
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	Ollama           OllamaConfig
	VLLM             VLLMConfig
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
	APIKey  string
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

type AnthropicConfig struct {
	APIKey string
	Model  string
}

// EngineConfig tunes decision production and gating.
type EngineConfig struct {
	ConfidenceThreshold  float64
	PMDueSoonDays        int
	HistoryLimit         int
	MinExplanationLength int
}

type NotifyConfig struct {
	Driver  string
	NATSURL string
	Subject string
	Stream  string
	Timeout time.Duration
}

type ScanConfig struct {
	Concurrency   int
	RatePerSecond float64
}

type TelemetryConfig struct {
	OTLPEndpoint string
	ServiceName  string
}

// maxHistoryLimit bounds how many maintenance records go into a decision context.
const maxHistoryLimit = 10

var validProviders = map[string]bool{
	"mock":      true,
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
}

var validNotifyDrivers = map[string]bool{
	"log":  true,
	"nats": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("PMENGINE_PORT", 8080),
			Env:             envString("PMENGINE_ENV", "development"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
		Log: LogConfig{
			Level:      strings.ToLower(envString("LOG_LEVEL", "info")),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  envInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: envInt("LOG_MAX_BACKUPS", 5),
			MaxAgeDays: envInt("LOG_MAX_AGE_DAYS", 30),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			MaxRetries:       envInt("AI_MAX_RETRIES", 1),
			RetryDelay:       envDuration("AI_RETRY_DELAY", 500*time.Millisecond),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000/v1"),
				Model:   envString("VLLM_MODEL", ""),
				APIKey:  envString("VLLM_API_KEY", "EMPTY"),
			},
			OpenAI: OpenAIConfig{
				APIKey: os.Getenv("OPENAI_API_KEY"),
				Model:  envString("OPENAI_MODEL", "gpt-4o-mini"),
			},
			Anthropic: AnthropicConfig{
				APIKey: os.Getenv("ANTHROPIC_API_KEY"),
				Model:  envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
		},
		Engine: EngineConfig{
			ConfidenceThreshold:  envFloat("CONFIDENCE_THRESHOLD", 0.7),
			PMDueSoonDays:        envInt("PM_DUE_SOON_DAYS", 30),
			HistoryLimit:         envInt("DECISION_HISTORY_LIMIT", maxHistoryLimit),
			MinExplanationLength: envInt("MIN_EXPLANATION_LENGTH", 10),
		},
		Notify: NotifyConfig{
			Driver:  envString("NOTIFY_DRIVER", "log"),
			NATSURL: envString("NATS_URL", "nats://localhost:4222"),
			Subject: envString("NATS_SUBJECT", "pm.notifications.approval"),
			Stream:  envString("NATS_STREAM", "PM_NOTIFICATIONS"),
			Timeout: envDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
		Scan: ScanConfig{
			Concurrency:   envInt("SCAN_CONCURRENCY", 4),
			RatePerSecond: envFloat("SCAN_RATE_PER_SEC", 2),
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			ServiceName:  envString("OTEL_SERVICE_NAME", "pmengine"),
		},
	}

	if cfg.Engine.HistoryLimit > maxHistoryLimit {
		cfg.Engine.HistoryLimit = maxHistoryLimit
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if !c.Database.InMemory() &&
		!strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must be a postgres:// URL or %s", MemoryDatabaseURL)
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Log.Level)
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of mock, ollama, vllm, openai, anthropic; got %q", c.AI.Provider)
	}
	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}
	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}
	if c.AI.MaxRetries < 0 || c.AI.MaxRetries > 1 {
		return fmt.Errorf("AI_MAX_RETRIES must be 0 or 1, got %d", c.AI.MaxRetries)
	}
	if c.AI.InferenceTimeout <= 0 {
		return fmt.Errorf("AI_INFERENCE_TIMEOUT_SECS must be positive")
	}

	if c.Engine.ConfidenceThreshold < 0 || c.Engine.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be between 0 and 1, got %v", c.Engine.ConfidenceThreshold)
	}
	if c.Engine.PMDueSoonDays <= 0 {
		return fmt.Errorf("PM_DUE_SOON_DAYS must be positive, got %d", c.Engine.PMDueSoonDays)
	}
	if c.Engine.HistoryLimit <= 0 {
		return fmt.Errorf("DECISION_HISTORY_LIMIT must be positive, got %d", c.Engine.HistoryLimit)
	}

	if !validNotifyDrivers[c.Notify.Driver] {
		return fmt.Errorf("NOTIFY_DRIVER must be one of log, nats; got %q", c.Notify.Driver)
	}
	if c.Notify.Driver == "nats" && !strings.HasPrefix(c.Notify.NATSURL, "nats://") && !strings.HasPrefix(c.Notify.NATSURL, "tls://") {
		return fmt.Errorf("NATS_URL must start with nats:// or tls://, got %q", c.Notify.NATSURL)
	}

	if c.Scan.Concurrency <= 0 {
		return fmt.Errorf("SCAN_CONCURRENCY must be positive, got %d", c.Scan.Concurrency)
	}
	if c.Scan.RatePerSecond <= 0 {
		return fmt.Errorf("SCAN_RATE_PER_SEC must be positive, got %v", c.Scan.RatePerSecond)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
