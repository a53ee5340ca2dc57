// Package config loads governor configuration from the environment,
// with an optional .env file for local development
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds the HTTP transport settings
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
}

// GovernanceConfig holds the kernel settings
type GovernanceConfig struct {
	ProjectID     string
	ProjectRoot   string
	PolicyDir     string
	StageFile     string
	TriggerFile   string
	AgentVersion  string
	PolicyVersion string
}

// EventLogConfig selects and configures the event log backend
type EventLogConfig struct {
	// Backend is one of memory, sqlite, postgres
	Backend     string
	SQLitePath  string
	PostgresDSN string
}

// AuthConfig controls actor authentication on the HTTP transport
type AuthConfig struct {
	Enabled   bool
	JWTSecret string
}

// Config is the root configuration
type Config struct {
	Server     ServerConfig
	Governance GovernanceConfig
	EventLog   EventLogConfig
	Auth       AuthConfig
	LogLevel   string
}

// Load reads configuration from the environment. A .env file in the
// working directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnvAsInt("GOVERNOR_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("GOVERNOR_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("GOVERNOR_WRITE_TIMEOUT", 15*time.Second),
			CORSOrigins:  []string{getEnv("GOVERNOR_CORS_ORIGIN", "*")},
		},
		Governance: GovernanceConfig{
			ProjectID:     getEnv("GOVERNOR_PROJECT_ID", "default"),
			ProjectRoot:   getEnv("GOVERNOR_PROJECT_ROOT", "."),
			PolicyDir:     getEnv("GOVERNOR_POLICY_DIR", ""),
			StageFile:     getEnv("GOVERNOR_STAGE_FILE", ""),
			TriggerFile:   getEnv("GOVERNOR_TRIGGER_FILE", ""),
			AgentVersion:  getEnv("GOVERNOR_AGENT_VERSION", "dev"),
			PolicyVersion: getEnv("GOVERNOR_POLICY_VERSION", "builtin"),
		},
		EventLog: EventLogConfig{
			Backend:     getEnv("GOVERNOR_EVENTLOG_BACKEND", "sqlite"),
			SQLitePath:  getEnv("GOVERNOR_EVENTLOG_PATH", ""),
			PostgresDSN: getEnv("GOVERNOR_EVENTLOG_DSN", ""),
		},
		Auth: AuthConfig{
			Enabled:   getEnvAsBool("GOVERNOR_AUTH_ENABLED", false),
			JWTSecret: getEnv("GOVERNOR_JWT_SECRET", ""),
		},
		LogLevel: getEnv("GOVERNOR_LOG_LEVEL", "info"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	switch c.EventLog.Backend {
	case "memory", "sqlite":
	case "postgres":
		if c.EventLog.PostgresDSN == "" {
			return fmt.Errorf("postgres event log backend needs GOVERNOR_EVENTLOG_DSN")
		}
	default:
		return fmt.Errorf("unknown event log backend %q", c.EventLog.Backend)
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth is enabled but GOVERNOR_JWT_SECRET is empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
