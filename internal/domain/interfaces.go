package domain

import (
	"context"
	"time"
)

// RiskClassifier produces a statistical risk estimate for a feature vector.
// Implementations must honour ctx cancellation and their own hard deadline.
type RiskClassifier interface {
	Predict(ctx context.Context, features FeatureVector) (*ClassifierOutput, error)
	ModelVersion() string
}

// Enricher attaches an advisory narrative to a verdict. Implementations without
// a configured provider return ErrEnrichmentDisabled.
type Enricher interface {
	Enrich(ctx context.Context, req *EnrichmentRequest) (*Narrative, error)
}

// EnrichmentRequest carries what the narrative service needs to explain a
// verdict. Classifier is nil when the verdict did not use the model.
type EnrichmentRequest struct {
	Vitals     VitalsRecord      `json:"vitals"`
	Tier       Tier              `json:"current_risk"`
	Confidence float64           `json:"confidence"`
	RuleIDs    []string          `json:"alerts"`
	Findings   []RuleFinding     `json:"findings,omitempty"`
	Classifier *ClassifierOutput `json:"classifier,omitempty"`
	Provenance Provenance        `json:"provenance"`
}

// IdempotencyStore maps idempotency keys to previously computed verdicts.
// Get returns ErrNotFound on a miss or an expired entry.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*RiskVerdict, error)
	Put(ctx context.Context, key string, verdict *RiskVerdict, ttl time.Duration) error
	Close() error
}

// CircuitGate admits or refuses classifier calls. Every allowed Permit must be
// reported exactly once.
type CircuitGate interface {
	Permit() Permit
	Report(p Permit, outcome Outcome)
	Snapshot() BreakerSnapshot
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
