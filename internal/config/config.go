package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Control-plane API
	APIURL      string
	APIPath     string
	APIKey      string
	SecretKey   string
	SessionKey  string
	HTTPTimeout time.Duration

	// Polling
	DefaultInterval time.Duration
	CatalogPath     string

	// Job history
	DatabaseURL string
	HistorySize int

	// Settlement events
	RabbitMQURL      string
	RabbitMQExchange string
	SQSQueueURL      string

	// Metrics configuration
	MetricsEnabled   bool
	MetricsAddr      string
	MetricsNamespace string

	// HTTP surface of the gateway and the simulator
	ListenAddr string

	LogLevel string
}

// LoadEnvFile loads KEY=VALUE pairs from path into the environment. Variables
// already set take precedence and a missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration from the environment without validating it
func Load() *Config {
	return &Config{
		APIURL:      getEnv("JOBTRACKER_API_URL", ""),
		APIPath:     getEnv("JOBTRACKER_API_PATH", "/client/api"),
		APIKey:      getEnv("JOBTRACKER_API_KEY", ""),
		SecretKey:   getEnv("JOBTRACKER_SECRET_KEY", ""),
		SessionKey:  getEnv("JOBTRACKER_SESSION_KEY", ""),
		HTTPTimeout: getEnvDuration("JOBTRACKER_HTTP_TIMEOUT", 30*time.Second),

		DefaultInterval: getEnvDuration("JOBTRACKER_DEFAULT_INTERVAL", 3*time.Second),
		CatalogPath:     getEnv("JOBTRACKER_CATALOG_PATH", ""),

		DatabaseURL: getEnv("JOBTRACKER_DATABASE_URL", ""),
		HistorySize: getEnvInt("JOBTRACKER_HISTORY_SIZE", 1000),

		RabbitMQURL:      getEnv("JOBTRACKER_RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("JOBTRACKER_RABBITMQ_EXCHANGE", "jobtracker"),
		SQSQueueURL:      getEnv("JOBTRACKER_SQS_QUEUE_URL", ""),

		MetricsEnabled:   getEnvBool("JOBTRACKER_METRICS_ENABLED", true),
		MetricsAddr:      getEnv("JOBTRACKER_METRICS_ADDR", ":9090"),
		MetricsNamespace: getEnv("JOBTRACKER_METRICS_NAMESPACE", "jobtracker"),

		ListenAddr: getEnv("JOBTRACKER_LISTEN_ADDR", ":8080"),

		LogLevel: getEnv("JOBTRACKER_LOG_LEVEL", "INFO"),
	}
}

// LoadFromEnv reads and validates the configuration
func LoadFromEnv() (*Config, error) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings needed to talk to the control plane
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("JOBTRACKER_API_URL is required")
	}
	if (c.APIKey == "") != (c.SecretKey == "") {
		return fmt.Errorf("JOBTRACKER_API_KEY and JOBTRACKER_SECRET_KEY must be set together")
	}
	if c.DefaultInterval <= 0 {
		return fmt.Errorf("JOBTRACKER_DEFAULT_INTERVAL must be positive, got %s", c.DefaultInterval)
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("JOBTRACKER_HISTORY_SIZE must be positive, got %d", c.HistorySize)
	}
	return nil
}

// ParseLogLevel maps DEBUG, INFO, WARN and ERROR to slog levels; anything else is INFO
func ParseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
