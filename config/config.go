package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port int
	Env  string

	// DBPath is the SQLite file used when DatabaseURL is empty.
	// Setting DatabaseURL selects the PostgreSQL backend instead.
	DBPath      string
	DatabaseURL string

	AuthTimeout  int // seconds
	WriteTimeout int // seconds

	// MetricsAddr enables the Prometheus endpoint when non-empty,
	// e.g. ":9100".
	MetricsAddr string
}

// Load reads configuration from the environment, with a .env file as
// fallback for development.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:         12345,
		Env:          getEnv("CHATD_ENV", "development"),
		DBPath:       getEnv("CHATD_DB", "chat.db"),
		DatabaseURL:  os.Getenv("CHATD_DATABASE_URL"),
		AuthTimeout:  120,
		WriteTimeout: 30,
		MetricsAddr:  os.Getenv("CHATD_METRICS_ADDR"),
	}

	if portStr := os.Getenv("CHATD_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if timeoutStr := os.Getenv("CHATD_AUTH_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.AuthTimeout = timeout
		}
	}

	if timeoutStr := os.Getenv("CHATD_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	return cfg
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
