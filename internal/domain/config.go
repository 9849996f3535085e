package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Environment string            `mapstructure:"environment"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Rules       RulesConfig       `mapstructure:"rules"`
	Classifier  ClassifierConfig  `mapstructure:"classifier"`
	Breaker     BreakerConfig     `mapstructure:"breaker"`
	Enrichment  EnrichmentConfig  `mapstructure:"enrichment"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Cache       CacheConfig       `mapstructure:"cache"`
	MCP         MCPConfig         `mapstructure:"mcp"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	BatchLimit      int           `mapstructure:"batch_limit"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"` // "json", "text"
	Output   string `mapstructure:"output"` // "stdout", "stderr", "file"
	Filename string `mapstructure:"filename"`
}

// RulesConfig holds the deterministic rule thresholds. Units match VitalsRecord.
type RulesConfig struct {
	SystolicCrisis     float64 `mapstructure:"systolic_crisis"`
	DiastolicCrisis    float64 `mapstructure:"diastolic_crisis"`
	HypoxiaBelow       float64 `mapstructure:"hypoxia_below"`
	TachycardiaAbove   float64 `mapstructure:"tachycardia_above"`
	HypoglycemiaBelow  float64 `mapstructure:"hypoglycemia_below"`
	HyperglycemiaAbove float64 `mapstructure:"hyperglycemia_above"`
	AdvancedAge        float64 `mapstructure:"advanced_age"`
	PostTermAfter      float64 `mapstructure:"post_term_after"`
	HyperthermiaAbove  float64 `mapstructure:"hyperthermia_above"`
}

// ClassifierConfig represents the statistical model configuration
type ClassifierConfig struct {
	ModelPath       string        `mapstructure:"model_path"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ReloadInterval  time.Duration `mapstructure:"reload_interval"`
	MaxAttributions int           `mapstructure:"max_attributions"`
}

// BreakerConfig represents circuit breaker configuration
type BreakerConfig struct {
	FailureThreshold uint32        `mapstructure:"failure_threshold"`
	CoolDown         time.Duration `mapstructure:"cool_down"`
}

// EnrichmentConfig represents the narrative enrichment service configuration
type EnrichmentConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	BaseURL         string        `mapstructure:"base_url"`
	APIKey          string        `mapstructure:"api_key"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimit       int           `mapstructure:"rate_limit"`
	CacheSize       int           `mapstructure:"cache_size"`
	IncludeCritical bool          `mapstructure:"include_critical"`
}

// IdempotencyConfig selects and tunes the verdict store
type IdempotencyConfig struct {
	Backend    string        `mapstructure:"backend"` // "memory", "redis", "sqlite", "postgres"
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
	SQLitePath string        `mapstructure:"sqlite_path"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
}

// MCPConfig represents MCP server configuration
type MCPConfig struct {
	ServerName    string `mapstructure:"server_name"`
	ServerVersion string `mapstructure:"server_version"`
}
