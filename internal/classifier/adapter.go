package classifier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/maternal-triage-engine/internal/domain"
)

// ErrorKind classifies inference failures. Out-of-domain input is a property
// of the record and a cancelled caller is a property of the request; neither
// counts as a breaker failure.
type ErrorKind string

const (
	KindTimeout       ErrorKind = "timeout"
	KindModelState    ErrorKind = "model-state"
	KindOutOfDomain   ErrorKind = "out-of-domain"
	KindInvalidOutput ErrorKind = "invalid-output"
	KindCancelled     ErrorKind = "cancelled"
)

// InferenceError is returned by Adapter.Predict.
type InferenceError struct {
	Kind ErrorKind
	Err  error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Kind, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an InferenceError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ie *InferenceError
	return errors.As(err, &ie) && ie.Kind == kind
}

// Outcome maps a Predict result onto the breaker outcome it must be reported as.
func Outcome(err error) domain.Outcome {
	if err == nil || IsKind(err, KindOutOfDomain) || IsKind(err, KindCancelled) {
		return domain.OutcomeSuccess
	}
	return domain.OutcomeFailure
}

// Gate is the part of the circuit breaker the loader drives.
type Gate interface {
	Hold(reason string)
	Release()
}

// Adapter serves predictions from the current model. The model pointer is
// swapped atomically on reload; readers never lock.
type Adapter struct {
	model           atomic.Pointer[Model]
	path            string
	timeout         time.Duration
	maxAttributions int
	logger          *logrus.Logger

	mu      sync.Mutex // serializes loads
	modTime time.Time
}

// NewAdapter creates an adapter with no model loaded.
func NewAdapter(cfg domain.ClassifierConfig, logger *logrus.Logger) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Millisecond
	}
	return &Adapter{
		path:            cfg.ModelPath,
		timeout:         timeout,
		maxAttributions: cfg.MaxAttributions,
		logger:          logger,
	}
}

// Load reads the configured artifact and swaps it in. On failure the previous
// model, if any, stays active.
func (a *Adapter) Load() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	info, err := os.Stat(a.path)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrModelNotLoaded, err)
	}
	m, err := LoadModel(a.path)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrModelNotLoaded, err)
	}

	previous := a.model.Swap(m)
	a.modTime = info.ModTime()

	fields := logrus.Fields{"path": a.path, "version": m.Version()}
	if previous != nil {
		fields["previous_version"] = previous.Version()
	}
	a.logger.WithFields(fields).Info("Loaded risk model")
	return nil
}

// SetModel installs an already-built model. Used by tests and embedding callers.
func (a *Adapter) SetModel(m *Model) {
	a.model.Store(m)
}

// Loaded reports whether a model is active.
func (a *Adapter) Loaded() bool {
	return a.model.Load() != nil
}

// ModelVersion returns the active model version, "" if none.
func (a *Adapter) ModelVersion() string {
	if m := a.model.Load(); m != nil {
		return m.Version()
	}
	return ""
}

// Predict evaluates the active model under a hard deadline. Only the adapter's
// own deadline yields KindTimeout; a caller that goes away yields KindCancelled.
func (a *Adapter) Predict(ctx context.Context, features domain.FeatureVector) (*domain.ClassifierOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, &InferenceError{Kind: KindCancelled, Err: err}
	}
	m := a.model.Load()
	if m == nil {
		return nil, &InferenceError{Kind: KindModelState, Err: domain.ErrModelNotLoaded}
	}

	if name, ok := m.InDomain(features); !ok {
		return nil, &InferenceError{Kind: KindOutOfDomain, Err: fmt.Errorf("feature %s outside model domain", name)}
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(parent, a.timeout)
	defer cancel()

	type result struct {
		pred *prediction
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := m.predict(ctx, features)
		ch <- result{p, err}
	}()

	var res result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, &InferenceError{Kind: failureKind(parent, ctx.Err()), Err: ctx.Err()}
	}
	if res.err != nil {
		return nil, &InferenceError{Kind: failureKind(parent, res.err), Err: res.err}
	}

	if err := checkDistribution(res.pred.probabilities); err != nil {
		return nil, &InferenceError{Kind: KindInvalidOutput, Err: err}
	}

	best := 0
	for i, p := range res.pred.probabilities {
		if p > res.pred.probabilities[best] {
			best = i
		}
	}

	probs := make(map[domain.Tier]float64, len(m.classes))
	for i, tier := range m.classes {
		probs[tier] = res.pred.probabilities[i]
	}

	return &domain.ClassifierOutput{
		Tier:          m.classes[best],
		Probabilities: probs,
		Attributions:  rankAttributions(res.pred.contributions[best], a.maxAttributions),
		Confidence:    res.pred.probabilities[best],
		ModelVersion:  m.Version(),
	}, nil
}

// failureKind labels a failed evaluation from the error and the caller's context.
func failureKind(parent context.Context, err error) ErrorKind {
	switch {
	case parent.Err() != nil:
		return KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindModelState
	}
}

// KeepLoaded holds gate until a model loads, then watches the artifact and
// reloads it when it changes. It returns when ctx is done.
func (a *Adapter) KeepLoaded(ctx context.Context, gate Gate, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	if !a.Loaded() {
		if err := a.Load(); err != nil {
			a.logger.WithError(err).Error("Risk model unavailable at startup, classifier gated")
			gate.Hold(err.Error())
		}
	}
	if a.Loaded() {
		gate.Release()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.tick(gate)
		}
	}
}

func (a *Adapter) tick(gate Gate) {
	if !a.Loaded() {
		if err := a.Load(); err != nil {
			a.logger.WithError(err).Warn("Risk model still unavailable")
			return
		}
		gate.Release()
		return
	}

	info, err := os.Stat(a.path)
	if err != nil {
		return
	}
	a.mu.Lock()
	changed := info.ModTime().After(a.modTime)
	a.mu.Unlock()
	if !changed {
		return
	}
	if err := a.Load(); err != nil {
		a.logger.WithError(err).Warn("Risk model reload failed, keeping current model")
	}
}
