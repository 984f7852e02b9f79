package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "mem"
)

// Config holds application configuration
type Config struct {
	Port             string
	DBConn           string
	LogLevel         string
	JWTSecret        string
	JWTTTL           time.Duration
	EncryptionKey    string
	ExpiredCardsCron string
	RunMigrations    bool
	RepoBackend      string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string
}

// LoadEnv loads variables from a .env file if present. Existing variables win.
func LoadEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DBConn:           getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=bankcards sslmode=disable"),
		LogLevel:         getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		EncryptionKey:    getEnv("ENCRYPTION_KEY", ""),
		ExpiredCardsCron: getEnv("EXPIRED_CARDS_CRON", "0 0 3 * * *"),
		RepoBackend:      getEnv("REPO_BACKEND", BackendPostgres),
		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         getEnv("SMTP_PORT", "587"),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
		SenderEmail:      getEnv("SENDER_EMAIL", ""),
	}

	ttl, err := time.ParseDuration(getEnv("JWT_TTL", "24h"))
	if err != nil || ttl <= 0 {
		return nil, fmt.Errorf("JWT_TTL must be a positive duration")
	}
	cfg.JWTTTL = ttl

	cfg.RunMigrations, err = strconv.ParseBool(getEnv("RUN_MIGRATIONS", "true"))
	if err != nil {
		return nil, fmt.Errorf("RUN_MIGRATIONS must be a boolean: %w", err)
	}

	switch cfg.RepoBackend {
	case BackendPostgres:
		if cfg.DBConn == "" {
			return nil, fmt.Errorf("DB_CONN is required")
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("REPO_BACKEND must be %q or %q", BackendPostgres, BackendMemory)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if cfg.ExpiredCardsCron == "" {
		return nil, fmt.Errorf("EXPIRED_CARDS_CRON must not be empty")
	}

	return cfg, nil
}

// EmailEnabled reports whether SMTP notifications are configured
func (c *Config) EmailEnabled() bool {
	return c.SMTPHost != "" && c.SenderEmail != ""
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
