package release

import (
	"fmt"
	"time"
)

// Strategy selects the release semantics.
type Strategy string

const (
	// StrategyAtomic publishes everything or nothing: a validation failure
	// blocks the release and a publish failure triggers compensation.
	StrategyAtomic Strategy = "atomic"
	// StrategyBestEffort publishes independent candidates independently.
	StrategyBestEffort Strategy = "best-effort"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyAtomic || s == StrategyBestEffort
}

// RecoveryStrategy controls how much of recovery runs without a human.
type RecoveryStrategy string

const (
	// RecoveryManual never retries or rolls back automatically.
	RecoveryManual RecoveryStrategy = "manual"
	// RecoveryAutomatic retries and rolls back whatever the targets allow,
	// flagging only what cannot be compensated.
	RecoveryAutomatic RecoveryStrategy = "automatic"
	// RecoveryHybrid retries automatically but only rolls back when every
	// affected target supports rollback; otherwise nothing is rolled back and
	// all affected items are flagged for manual action.
	RecoveryHybrid RecoveryStrategy = "hybrid"
)

// Valid reports whether s is a known recovery strategy.
func (s RecoveryStrategy) Valid() bool {
	switch s {
	case RecoveryManual, RecoveryAutomatic, RecoveryHybrid:
		return true
	}
	return false
}

// DefaultRollbackTimeout bounds a single rollback call when the policy does
// not set one.
const DefaultRollbackTimeout = 5 * time.Minute

// RecoveryPolicy configures retry and rollback.
type RecoveryPolicy struct {
	Strategy                 RecoveryStrategy `json:"strategy" yaml:"strategy"`
	RollbackOnPartialFailure bool             `json:"rollbackOnPartialFailure" yaml:"rollbackOnPartialFailure"`
	RetryFailedPolicies      bool             `json:"retryFailedPolicies" yaml:"retryFailedPolicies"`
	MaxRetryAttempts         int              `json:"maxRetryAttempts" yaml:"maxRetryAttempts"`
	RollbackTimeout          time.Duration    `json:"rollbackTimeout" yaml:"rollbackTimeout"`
}

// DefaultRecoveryPolicy returns an automatic policy with three retries and
// rollback on partial failure.
func DefaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{
		Strategy:                 RecoveryAutomatic,
		RollbackOnPartialFailure: true,
		RetryFailedPolicies:      true,
		MaxRetryAttempts:         3,
		RollbackTimeout:          DefaultRollbackTimeout,
	}
}

// Validate checks the policy fields.
func (p RecoveryPolicy) Validate() error {
	if !p.Strategy.Valid() {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidPolicy, p.Strategy)
	}
	if p.MaxRetryAttempts < 0 {
		return fmt.Errorf("%w: maxRetryAttempts must be >= 0", ErrInvalidPolicy)
	}
	if p.RollbackTimeout < 0 {
		return fmt.Errorf("%w: rollbackTimeout must be >= 0", ErrInvalidPolicy)
	}
	return nil
}

// MaxAttempts is the attempt budget per (candidate, target).
func (p RecoveryPolicy) MaxAttempts() int {
	return p.MaxRetryAttempts + 1
}

// AutomaticRetry reports whether failed publishes may be retried without a human.
func (p RecoveryPolicy) AutomaticRetry() bool {
	return p.RetryFailedPolicies && p.Strategy != RecoveryManual
}

// AutomaticRollback reports whether compensating rollbacks may be issued
// without a human. Manual strategy takes precedence over the flag.
func (p RecoveryPolicy) AutomaticRollback() bool {
	return p.RollbackOnPartialFailure && p.Strategy != RecoveryManual
}

// EffectiveRollbackTimeout returns RollbackTimeout or the default.
func (p RecoveryPolicy) EffectiveRollbackTimeout() time.Duration {
	if p.RollbackTimeout <= 0 {
		return DefaultRollbackTimeout
	}
	return p.RollbackTimeout
}
