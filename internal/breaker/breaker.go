// Package breaker guards the classifier with a consecutive-failure circuit
// breaker and a startup gate that keeps it refusing until a model is loaded.
package breaker

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/maternal-triage-engine/internal/domain"
)

const defaultName = "classifier"

// Breaker implements domain.CircuitGate on top of gobreaker's two-step breaker.
// MaxRequests is fixed at 1 so exactly one trial request runs while half-open.
type Breaker struct {
	cb         *gobreaker.TwoStepCircuitBreaker
	logger     *logrus.Logger
	held       atomic.Bool
	holdReason atomic.Value
	lastChange atomic.Int64
}

// New creates a closed breaker.
func New(cfg domain.BreakerConfig, logger *logrus.Logger) *Breaker {
	b := &Breaker{logger: logger}
	b.lastChange.Store(time.Now().UnixNano())
	b.holdReason.Store("")

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	coolDown := cfg.CoolDown
	if coolDown <= 0 {
		coolDown = 60 * time.Second
	}

	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        defaultName,
		MaxRequests: 1,
		Interval:    0, // never clear counts while closed
		Timeout:     coolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.lastChange.Store(time.Now().UnixNano())
			b.logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker changed state")
		},
	})

	return b
}

// Permit asks for admission. While held, every request is refused.
func (b *Breaker) Permit() domain.Permit {
	if b.held.Load() {
		return domain.DenyPermit()
	}

	done, err := b.cb.Allow()
	if err != nil {
		// ErrOpenState or ErrTooManyRequests (half-open trial in flight)
		b.logger.WithError(err).Debug("Circuit breaker refused classifier call")
		return domain.DenyPermit()
	}

	return domain.AllowPermit(done)
}

// Report records the outcome of an allowed permit. Denied permits are ignored.
func (b *Breaker) Report(p domain.Permit, outcome domain.Outcome) {
	p.Complete(outcome)
}

// Snapshot returns the current state for health reporting. A held breaker
// reports open.
func (b *Breaker) Snapshot() domain.BreakerSnapshot {
	state := toState(b.cb.State())
	held := b.held.Load()
	if held {
		state = domain.BreakerOpen
	}
	return domain.BreakerSnapshot{
		State:               state,
		ConsecutiveFailures: b.cb.Counts().ConsecutiveFailures,
		LastStateChange:     time.Unix(0, b.lastChange.Load()).UTC(),
		Held:                held,
	}
}

// Hold keeps the breaker refusing regardless of its state machine.
func (b *Breaker) Hold(reason string) {
	if b.held.CompareAndSwap(false, true) {
		b.holdReason.Store(reason)
		b.lastChange.Store(time.Now().UnixNano())
		b.logger.WithField("reason", reason).Warn("Circuit breaker held open")
	}
}

// Release lifts a Hold. The underlying state machine resumes where it was.
func (b *Breaker) Release() {
	if b.held.CompareAndSwap(true, false) {
		b.holdReason.Store("")
		b.lastChange.Store(time.Now().UnixNano())
		b.logger.Info("Circuit breaker hold released")
	}
}

// Held reports whether the startup gate is closed, and why.
func (b *Breaker) Held() (bool, string) {
	return b.held.Load(), b.holdReason.Load().(string)
}

func toState(s gobreaker.State) domain.BreakerState {
	switch s {
	case gobreaker.StateOpen:
		return domain.BreakerOpen
	case gobreaker.StateHalfOpen:
		return domain.BreakerHalfOpen
	default:
		return domain.BreakerClosed
	}
}
