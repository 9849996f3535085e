package external

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/maternal-triage-engine/internal/domain"
)

// placeholderAPIKey is the value shipped in sample configuration files.
const placeholderAPIKey = "your_zudu_api_key_here"

// ProviderZudu names the narrative provider in verdicts.
const ProviderZudu = "zudu"

// EnrichmentConfig represents configuration for the narrative API client
type EnrichmentConfig struct {
	BaseURL   string        `json:"base_url"`
	APIKey    string        `json:"api_key"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second
	CacheSize int           `json:"cache_size"`
}

// EnrichmentClient calls the clinical narrative API. It makes a single attempt
// per request; callers bound it with their own deadline.
type EnrichmentClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	cache      *lru.ARCCache
	logger     *logrus.Logger
}

// narrativePayload is the request body sent to the narrative API.
type narrativePayload struct {
	Vitals           payloadVitals `json:"vitals"`
	CurrentRisk      string        `json:"current_risk"`
	Alerts           []string      `json:"alerts"`
	PatientAge       float64       `json:"patient_age"`
	GestationalWeeks float64       `json:"gestational_weeks"`
	Provenance       string        `json:"provenance,omitempty"`
	Findings         []payloadRule `json:"findings,omitempty"`
	Model            *payloadModel `json:"model,omitempty"`
}

type payloadRule struct {
	RuleID    string `json:"rule_id"`
	Tier      string `json:"tier"`
	Rationale string `json:"rationale"`
}

// payloadModel is the classifier's view, sent only when the verdict used it.
type payloadModel struct {
	Tier          string               `json:"tier"`
	Confidence    float64              `json:"confidence"`
	Probabilities map[string]float64   `json:"probabilities"`
	TopFactors    []domain.Attribution `json:"top_factors"`
}

type payloadVitals struct {
	Age              float64 `json:"age"`
	SystolicBP       float64 `json:"systolic_bp"`
	DiastolicBP      float64 `json:"diastolic_bp"`
	BloodSugar       float64 `json:"blood_sugar"`
	BodyTemp         float64 `json:"body_temp"`
	HeartRate        float64 `json:"heart_rate"`
	BloodOxygen      float64 `json:"blood_oxygen"`
	GestationalWeeks float64 `json:"gestational_weeks"`
}

// narrativeResponse is the JSON response structure from the narrative API
type narrativeResponse struct {
	ClinicalInsights   string   `json:"clinical_insights"`
	RecommendedActions []string `json:"recommended_actions"`
	RiskExplanation    string   `json:"risk_explanation"`
	UrgencyScore       float64  `json:"urgency_score"`
}

// NewEnrichmentClient creates a new narrative API client
func NewEnrichmentClient(config EnrichmentConfig, logger *logrus.Logger) (*EnrichmentClient, error) {
	if config.Timeout == 0 {
		config.Timeout = 2 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 5
	}
	if config.CacheSize <= 0 {
		config.CacheSize = 512
	}

	cache, err := lru.NewARC(config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating narrative cache: %w", err)
	}

	return &EnrichmentClient{
		baseURL: strings.TrimSpace(config.BaseURL),
		apiKey:  strings.TrimSpace(config.APIKey),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		cache:     cache,
		logger:    logger,
	}, nil
}

// Enabled reports whether the client has a usable endpoint and key.
func (c *EnrichmentClient) Enabled() bool {
	return c.baseURL != "" && c.apiKey != "" && c.apiKey != placeholderAPIKey
}

// Enrich requests a narrative for the verdict. A disabled client returns
// domain.ErrEnrichmentDisabled without any network call.
func (c *EnrichmentClient) Enrich(ctx context.Context, req *domain.EnrichmentRequest) (*domain.Narrative, error) {
	if !c.Enabled() {
		return nil, domain.ErrEnrichmentDisabled
	}

	body, err := json.Marshal(buildPayload(req))
	if err != nil {
		return nil, fmt.Errorf("encoding narrative request: %w", err)
	}

	key := payloadKey(body)
	if cached, ok := c.cache.Get(key); ok {
		n := cached.(domain.Narrative)
		return &n, nil
	}

	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("narrative request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("narrative API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed narrativeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding narrative response: %w", err)
	}
	if parsed.ClinicalInsights == "" && parsed.RiskExplanation == "" {
		return nil, fmt.Errorf("narrative response carried no explanation")
	}

	urgency := parsed.UrgencyScore
	if urgency < 0 || urgency > 10 {
		urgency = 0
	}

	actions := parsed.RecommendedActions
	if len(actions) == 0 {
		actions = nil
	}

	narrative := domain.Narrative{
		ClinicalInsights:   parsed.ClinicalInsights,
		RiskExplanation:    parsed.RiskExplanation,
		RecommendedActions: actions,
		UrgencyScore:       urgency,
		Provider:           ProviderZudu,
	}
	c.cache.Add(key, narrative)

	c.logger.WithFields(logrus.Fields{
		"idempotency_key": req.Vitals.IdempotencyKey,
		"actions":         len(narrative.RecommendedActions),
	}).Debug("Narrative enrichment succeeded")

	return &narrative, nil
}

func buildPayload(req *domain.EnrichmentRequest) narrativePayload {
	v := req.Vitals
	alerts := req.RuleIDs
	if alerts == nil {
		alerts = []string{}
	}
	payload := narrativePayload{
		Vitals: payloadVitals{
			Age:              v.Age,
			SystolicBP:       v.SystolicBP,
			DiastolicBP:      v.DiastolicBP,
			BloodSugar:       v.BloodSugar,
			BodyTemp:         v.BodyTemp,
			HeartRate:        v.HeartRate,
			BloodOxygen:      v.BloodOxygen,
			GestationalWeeks: v.GestationalWeek,
		},
		CurrentRisk:      req.Tier.String(),
		Alerts:           alerts,
		PatientAge:       v.Age,
		GestationalWeeks: v.GestationalWeek,
		Provenance:       string(req.Provenance),
	}
	for _, f := range req.Findings {
		payload.Findings = append(payload.Findings, payloadRule{
			RuleID:    f.RuleID,
			Tier:      f.Tier.String(),
			Rationale: f.Rationale,
		})
	}
	if c := req.Classifier; c != nil {
		probs := make(map[string]float64, len(c.Probabilities))
		for tier, p := range c.Probabilities {
			probs[tier.String()] = p
		}
		payload.Model = &payloadModel{
			Tier:          c.Tier.String(),
			Confidence:    c.Confidence,
			Probabilities: probs,
			TopFactors:    c.Attributions,
		}
	}
	return payload
}

func payloadKey(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
