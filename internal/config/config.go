package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/maternal-triage-engine/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	configFile string
	config     *domain.Config
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	return NewManagerWithFile("")
}

// NewManagerWithFile loads configuration from an explicit file. An empty path
// searches the default locations.
func NewManagerWithFile(path string) (*Manager, error) {
	m := &Manager{configFile: path}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/maternal-triage/")
	}

	// Set environment variable prefix and enable automatic env binding
	v.SetEnvPrefix("MATERNAL_TRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || m.configFile != "" {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.batch_limit", 8)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// Rule thresholds
	v.SetDefault("rules.systolic_crisis", 140.0)
	v.SetDefault("rules.diastolic_crisis", 90.0)
	v.SetDefault("rules.hypoxia_below", 94.0)
	v.SetDefault("rules.tachycardia_above", 120.0)
	v.SetDefault("rules.hypoglycemia_below", 3.0)
	v.SetDefault("rules.hyperglycemia_above", 11.0)
	v.SetDefault("rules.advanced_age", 35.0)
	v.SetDefault("rules.post_term_after", 40.0)
	v.SetDefault("rules.hyperthermia_above", 38.5)

	// Classifier defaults
	v.SetDefault("classifier.model_path", "models/maternal_risk_gbt.json")
	v.SetDefault("classifier.timeout", "300ms")
	v.SetDefault("classifier.reload_interval", "30s")
	v.SetDefault("classifier.max_attributions", 8)

	// Breaker defaults
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cool_down", "60s")

	// Enrichment defaults
	v.SetDefault("enrichment.enabled", true)
	v.SetDefault("enrichment.base_url", "")
	v.SetDefault("enrichment.api_key", "")
	v.SetDefault("enrichment.timeout", "2s")
	v.SetDefault("enrichment.rate_limit", 5)
	v.SetDefault("enrichment.cache_size", 512)
	v.SetDefault("enrichment.include_critical", false)

	// Idempotency defaults
	v.SetDefault("idempotency.backend", "memory")
	v.SetDefault("idempotency.ttl", "24h")
	v.SetDefault("idempotency.max_entries", 10000)
	v.SetDefault("idempotency.sqlite_path", "data/verdicts.db")
	v.SetDefault("idempotency.timeout", "500ms")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "maternal_triage")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "migrations")

	// Cache defaults
	v.SetDefault("cache.redis_url", "redis://localhost:6379")
	v.SetDefault("cache.key_prefix", "triage:verdict:")
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// MCP defaults
	v.SetDefault("mcp.server_name", "maternal-triage-engine")
	v.SetDefault("mcp.server_version", "1.0.0")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	// Validate server configuration
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.BatchLimit <= 0 {
		return fmt.Errorf("server batch limit must be positive")
	}

	// Validate rule thresholds
	r := config.Rules
	if r.HypoglycemiaBelow >= r.HyperglycemiaAbove {
		return fmt.Errorf("hypoglycemia threshold %.1f must be below hyperglycemia threshold %.1f",
			r.HypoglycemiaBelow, r.HyperglycemiaAbove)
	}
	if r.SystolicCrisis <= 0 || r.DiastolicCrisis <= 0 {
		return fmt.Errorf("blood pressure thresholds must be positive")
	}

	// Validate classifier and breaker configuration
	if config.Classifier.Timeout <= 0 {
		return fmt.Errorf("classifier timeout must be positive")
	}
	if config.Breaker.FailureThreshold == 0 {
		return fmt.Errorf("breaker failure threshold must be at least 1")
	}
	if config.Breaker.CoolDown <= 0 {
		return fmt.Errorf("breaker cool-down must be positive")
	}

	// Validate enrichment configuration
	if config.Enrichment.Enabled && config.Enrichment.Timeout <= 0 {
		return fmt.Errorf("enrichment timeout must be positive")
	}

	// Validate idempotency configuration
	switch config.Idempotency.Backend {
	case "memory", "sqlite", "postgres":
	case "redis":
		if config.Cache.RedisURL == "" {
			return fmt.Errorf("Redis URL is required for the redis idempotency backend")
		}
	default:
		return fmt.Errorf("unknown idempotency backend: %s", config.Idempotency.Backend)
	}
	if config.Idempotency.TTL <= 0 {
		return fmt.Errorf("idempotency TTL must be positive")
	}

	// Validate database configuration
	if config.Idempotency.Backend == "postgres" {
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	}

	// Validate logging configuration
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the database location in URL form, as golang-migrate expects.
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Cache.RedisURL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Environment)
	return env == "development" || env == "dev" || env == ""
}
