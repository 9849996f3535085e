package domain

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state machine position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerSnapshot is a point-in-time view of the breaker for health reporting.
type BreakerSnapshot struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures uint32       `json:"consecutive_failures"`
	LastStateChange     time.Time    `json:"last_state_change"`
	Held                bool         `json:"held"`
}

// Outcome is the result of a permitted classifier attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "failure"
}

// Permit is the breaker's answer to one admission request. An allowed permit
// owns a completion callback that runs at most once.
type Permit struct {
	allowed bool
	done    func(success bool)
}

// AllowPermit returns an allowed permit that calls done when reported.
func AllowPermit(done func(success bool)) Permit {
	var once sync.Once
	return Permit{
		allowed: true,
		done: func(success bool) {
			once.Do(func() {
				if done != nil {
					done(success)
				}
			})
		},
	}
}

// DenyPermit returns a refused permit.
func DenyPermit() Permit {
	return Permit{}
}

// Allowed reports whether the caller may proceed.
func (p Permit) Allowed() bool {
	return p.allowed
}

// Complete records the outcome of an allowed permit. It is a no-op for denied
// permits and for repeated calls.
func (p Permit) Complete(outcome Outcome) {
	if !p.allowed || p.done == nil {
		return
	}
	p.done(outcome == OutcomeSuccess)
}

// EngineStatus summarizes pipeline health.
type EngineStatus struct {
	Breaker      BreakerSnapshot `json:"breaker"`
	ModelVersion string          `json:"model_version"`
	ModelLoaded  bool            `json:"model_loaded"`
	StoreBackend string          `json:"store_backend"`
	Enrichment   bool            `json:"enrichment_enabled"`
}
