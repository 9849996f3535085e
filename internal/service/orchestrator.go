package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/maternal-triage-engine/internal/domain"
	"github.com/maternal-triage-engine/internal/logging"
	"github.com/maternal-triage-engine/internal/validation"
)

// OrchestratorConfig tunes the pipeline around the decision makers.
type OrchestratorConfig struct {
	// TTL is the retention window of stored verdicts.
	TTL               time.Duration
	StoreTimeout      time.Duration
	EnrichmentTimeout time.Duration
	// IncludeCritical sends critical-bypass verdicts to enrichment too.
	IncludeCritical bool
	BatchLimit      int
	StoreBackend    string
}

// Dependencies are the collaborators the orchestrator sequences. Store and
// Enricher are optional.
type Dependencies struct {
	Validator  *validation.Validator
	Rules      *RuleEngine
	Gate       domain.CircuitGate
	Classifier domain.RiskClassifier
	Enricher   domain.Enricher
	Store      domain.IdempotencyStore
}

// Orchestrator turns one vitals submission into a risk verdict.
type Orchestrator struct {
	validator  *validation.Validator
	rules      *RuleEngine
	gate       domain.CircuitGate
	classifier domain.RiskClassifier
	enricher   domain.Enricher
	store      domain.IdempotencyStore
	decide     decisionFunc
	cfg        OrchestratorConfig
	logger     *logrus.Logger
	now        func() time.Time
}

// BatchItem is the outcome of one submission in a batch. Exactly one of
// Verdict and Err is set.
type BatchItem struct {
	Index   int
	Verdict *domain.RiskVerdict
	Err     error
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(deps Dependencies, cfg OrchestratorConfig, logger *logrus.Logger) *Orchestrator {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 500 * time.Millisecond
	}
	if cfg.EnrichmentTimeout <= 0 {
		cfg.EnrichmentTimeout = 2 * time.Second
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 8
	}
	validator := deps.Validator
	if validator == nil {
		validator = validation.NewValidator()
	}
	rules := deps.Rules
	if rules == nil {
		rules = NewRuleEngine(DefaultRulesConfig(), logger)
	}

	return &Orchestrator{
		validator:  validator,
		rules:      rules,
		gate:       deps.Gate,
		classifier: deps.Classifier,
		enricher:   deps.Enricher,
		store:      deps.Store,
		decide:     newDecisionChain(deps.Gate, deps.Classifier),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Assess runs the pipeline for one submission. A validation failure is
// returned as *domain.RejectionError; every other failure degrades inside the
// pipeline and still yields a verdict.
func (o *Orchestrator) Assess(ctx context.Context, in domain.VitalsInput) (*domain.RiskVerdict, error) {
	key := strings.TrimSpace(in.IdempotencyKey)
	log := logging.FromContext(ctx, o.logger).WithField("idempotency_key", key)

	if prior := o.lookup(ctx, key, in, log); prior != nil {
		return prior, nil
	}

	var record domain.VitalsRecord
	switch r := o.validator.Validate(in).(type) {
	case validation.Rejected:
		log.WithField("violations", len(r.Violations)).Info("Vitals rejected")
		return nil, &domain.RejectionError{IdempotencyKey: key, Violations: r.Violations}
	case validation.Accepted:
		record = r.Record
	}

	a := &assessment{record: record, rules: o.rules.Evaluate(record)}
	d, err := o.decide(ctx, a)
	if err != nil {
		// withFallback never fails; keep the rules floor regardless.
		d = rulesOnly(a, domain.ProvenanceClassifierFailed, err)
	}

	verdict := &domain.RiskVerdict{
		IdempotencyKey:   record.IdempotencyKey,
		Tier:             d.Tier,
		Confidence:       d.Confidence,
		Findings:         a.rules.Findings,
		RuleIDs:          a.rules.RuleIDs(),
		Classifier:       d.Classifier,
		Provenance:       d.Provenance,
		ClassifierUsed:   d.Provenance == domain.ProvenanceClassifierUsed,
		InputFingerprint: record.Fingerprint(),
		AssessedAt:       o.now().UTC(),
	}

	fields := logrus.Fields{
		"tier":       verdict.Tier,
		"provenance": verdict.Provenance,
		"rules":      len(verdict.RuleIDs),
	}
	if d.Cause != nil && d.Provenance != domain.ProvenanceCriticalBypass {
		log.WithFields(fields).WithError(d.Cause).Warn("Classifier unavailable, verdict from rules only")
	}

	verdict.Narrative = o.enrich(ctx, verdict, record, log)

	if err := verdict.Consistent(); err != nil {
		log.WithError(err).Error("Assembled verdict violates invariants")
	}

	o.persist(ctx, key, verdict, log)

	log.WithFields(fields).Info("Vitals assessed")
	return verdict, nil
}

// lookup returns a stored verdict for key, or nil. Store failures fail open.
func (o *Orchestrator) lookup(ctx context.Context, key string, in domain.VitalsInput, log *logrus.Entry) *domain.RiskVerdict {
	if o.store == nil || key == "" {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()

	prior, err := o.store.Get(sctx, key)
	switch {
	case err == nil && prior != nil:
	case err == nil, errors.Is(err, domain.ErrNotFound):
		return nil
	default:
		log.WithError(err).Warn("Idempotency lookup failed, assessing anyway")
		return nil
	}

	if fp, ok := fingerprintOf(in); ok && fp != prior.InputFingerprint {
		log.Warn("Idempotency key reused with different vitals, returning stored verdict")
	}
	log.WithField("tier", prior.Tier).Debug("Returning stored verdict")
	return prior
}

func (o *Orchestrator) persist(ctx context.Context, key string, verdict *domain.RiskVerdict, log *logrus.Entry) {
	if o.store == nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, o.cfg.StoreTimeout)
	defer cancel()

	if err := o.store.Put(sctx, key, verdict, o.cfg.TTL); err != nil {
		log.WithError(err).Warn("Failed to store verdict, replays will re-assess")
	}
}

// enrich asks for a narrative under its own deadline. It never fails.
func (o *Orchestrator) enrich(ctx context.Context, v *domain.RiskVerdict, record domain.VitalsRecord, log *logrus.Entry) *domain.Narrative {
	if o.enricher == nil {
		return nil
	}
	if v.Provenance == domain.ProvenanceCriticalBypass && !o.cfg.IncludeCritical {
		return nil
	}

	ectx, cancel := context.WithTimeout(ctx, o.cfg.EnrichmentTimeout)
	defer cancel()

	narrative, err := o.enricher.Enrich(ectx, &domain.EnrichmentRequest{
		Vitals:     record,
		Tier:       v.Tier,
		Confidence: v.Confidence,
		RuleIDs:    v.RuleIDs,
		Findings:   v.Findings,
		Classifier: v.Classifier,
		Provenance: v.Provenance,
	})
	switch {
	case errors.Is(err, domain.ErrEnrichmentDisabled):
		return nil
	case err != nil:
		log.WithError(err).Warn("Narrative enrichment failed, continuing without narrative")
		return nil
	}
	return narrative
}

// AssessBatch assesses each submission independently with bounded
// concurrency. Results keep input order.
func (o *Orchestrator) AssessBatch(ctx context.Context, inputs []domain.VitalsInput) []BatchItem {
	items := make([]BatchItem, len(inputs))

	var g errgroup.Group
	g.SetLimit(o.cfg.BatchLimit)
	for i := range inputs {
		g.Go(func() error {
			items[i].Index = i
			if err := ctx.Err(); err != nil {
				items[i].Err = err
				return nil
			}
			items[i].Verdict, items[i].Err = o.Assess(ctx, inputs[i])
			return nil
		})
	}
	_ = g.Wait()

	return items
}

// Status reports pipeline health.
func (o *Orchestrator) Status() domain.EngineStatus {
	status := domain.EngineStatus{
		Breaker:      o.gate.Snapshot(),
		StoreBackend: o.cfg.StoreBackend,
	}
	if o.classifier != nil {
		status.ModelVersion = o.classifier.ModelVersion()
		status.ModelLoaded = status.ModelVersion != ""
		if l, ok := o.classifier.(interface{ Loaded() bool }); ok {
			status.ModelLoaded = l.Loaded()
		}
	}
	if e, ok := o.enricher.(interface{ Enabled() bool }); ok {
		status.Enrichment = e.Enabled()
	} else {
		status.Enrichment = o.enricher != nil
	}
	return status
}

// Rules exposes the active rule catalog.
func (o *Orchestrator) Rules() []ClinicalRule {
	return o.rules.Rules()
}

// fingerprintOf computes the fingerprint of a complete raw submission.
func fingerprintOf(in domain.VitalsInput) (string, bool) {
	fields := []*float64{
		in.SystolicBP, in.DiastolicBP, in.BloodOxygen, in.HeartRate,
		in.BloodSugar, in.BodyTemp, in.Age, in.GestationalWeek,
	}
	for _, f := range fields {
		if f == nil {
			return "", false
		}
	}
	return domain.VitalsRecord{
		SystolicBP:      *in.SystolicBP,
		DiastolicBP:     *in.DiastolicBP,
		BloodOxygen:     *in.BloodOxygen,
		HeartRate:       *in.HeartRate,
		BloodSugar:      *in.BloodSugar,
		BodyTemp:        *in.BodyTemp,
		Age:             *in.Age,
		GestationalWeek: *in.GestationalWeek,
	}.Fingerprint(), true
}
