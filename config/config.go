package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"

	"github.com/preslavrachev/crudsource/core"
)

// Supported backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig  `yaml:"server"`
	Source       SourceConfig  `yaml:"source"`
	Logging      LoggingConfig `yaml:"logging"`
	DebugEnabled bool          `yaml:"debug"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	Endpoint        string        `yaml:"endpoint"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SourceConfig selects and configures the data source behind the endpoint
type SourceConfig struct {
	Backend  string        `yaml:"backend"`
	DSN      string        `yaml:"dsn"`
	Table    string        `yaml:"table"`
	KeyField string        `yaml:"key_field"`
	Latency  time.Duration `yaml:"latency"`
	PageSize int           `yaml:"page_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Endpoint:        "/crud",
			ShutdownTimeout: 10 * time.Second,
		},
		Source: SourceConfig{
			Backend:  BackendMemory,
			Table:    "records",
			KeyField: core.DefaultKeyField,
			PageSize: core.DefaultPageSize,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file named by
// CRUD_CONFIG_FILE and environment variables, in that order of precedence.
// .env file is automatically loaded via autoload import
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := getEnvWithDefault("CRUD_CONFIG_FILE", ""); path != "" {
		if err := LoadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.ListenAddr = getEnvWithDefault("CRUD_LISTEN_ADDR", cfg.Server.ListenAddr)
	cfg.Server.Endpoint = getEnvWithDefault("CRUD_ENDPOINT", cfg.Server.Endpoint)
	cfg.Server.ShutdownTimeout = getDurationEnvWithDefault("CRUD_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Source.Backend = strings.ToLower(getEnvWithDefault("CRUD_BACKEND", cfg.Source.Backend))
	cfg.Source.DSN = getEnvWithDefault("CRUD_DSN", cfg.Source.DSN)
	cfg.Source.Table = getEnvWithDefault("CRUD_TABLE", cfg.Source.Table)
	cfg.Source.KeyField = getEnvWithDefault("CRUD_KEY_FIELD", cfg.Source.KeyField)
	cfg.Source.Latency = getDurationEnvWithDefault("CRUD_LATENCY", cfg.Source.Latency)
	cfg.Source.PageSize = getIntEnvWithDefault("CRUD_PAGE_SIZE", cfg.Source.PageSize)

	cfg.Logging.Level = getEnvWithDefault("CRUD_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Pretty = getBoolEnvWithDefault("CRUD_LOG_PRETTY", cfg.Logging.Pretty)

	cfg.DebugEnabled = getBoolEnvWithDefault("DEBUG", cfg.DebugEnabled)
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	switch c.Source.Backend {
	case BackendMemory:
	case BackendSQLite, BackendPostgres:
		if c.Source.DSN == "" {
			return fmt.Errorf("backend %s requires a DSN", c.Source.Backend)
		}
		if c.Source.Table == "" {
			return fmt.Errorf("backend %s requires a table", c.Source.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Source.Backend)
	}

	if c.Source.KeyField == "" {
		return fmt.Errorf("key field must not be empty")
	}
	if c.Source.PageSize <= 0 || c.Source.PageSize > core.MaxPageSize {
		return fmt.Errorf("page size must be between 1 and %d, got %d", core.MaxPageSize, c.Source.PageSize)
	}
	if c.Source.Latency < 0 {
		return fmt.Errorf("latency must not be negative")
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if !strings.HasPrefix(c.Server.Endpoint, "/") {
		return fmt.Errorf("endpoint must start with /, got %q", c.Server.Endpoint)
	}
	return nil
}

// getEnvWithDefault gets an environment variable with a default fallback
func getEnvWithDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnvWithDefault gets a boolean environment variable with a default fallback
func getBoolEnvWithDefault(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getIntEnvWithDefault gets an integer environment variable with a default fallback
func getIntEnvWithDefault(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnvWithDefault gets a duration environment variable with a default fallback
func getDurationEnvWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
