package orchestrator

import (
	"log/slog"
	"time"

	"github.com/meigma/release"
	"github.com/meigma/release/ledger"
)

const (
	// DefaultMaxParallelJobs bounds concurrent validation and publish work.
	DefaultMaxParallelJobs = 4
	// DefaultRetryBaseDelay is the delay before the first retry.
	DefaultRetryBaseDelay = 500 * time.Millisecond
	// DefaultRetryMaxDelay caps the delay between retries.
	DefaultRetryMaxDelay = 30 * time.Second
)

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithStrategy sets the release strategy. The default is atomic.
func WithStrategy(s release.Strategy) Option {
	return func(o *Orchestrator) {
		o.strategy = s
	}
}

// WithRecoveryPolicy sets the retry and rollback policy.
func WithRecoveryPolicy(p release.RecoveryPolicy) Option {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

// WithMaxParallelJobs bounds concurrent validation and best-effort publish
// work. Atomic publishing is always sequential.
func WithMaxParallelJobs(n int) Option {
	return func(o *Orchestrator) {
		o.jobs = n
	}
}

// WithRetryDelays sets the backoff between publish retries: the n-th retry
// waits base * 2^(n-1), capped at maxDelay.
func WithRetryDelays(base, maxDelay time.Duration) Option {
	return func(o *Orchestrator) {
		o.baseDelay = base
		o.maxDelay = maxDelay
	}
}

// WithReleaseIDs sets the generator for release ids. The default generates
// random UUIDs.
func WithReleaseIDs(fn func() string) Option {
	return func(o *Orchestrator) {
		o.newID = fn
	}
}

// WithLedger records every finished run in l.
func WithLedger(l ledger.Ledger) Option {
	return func(o *Orchestrator) {
		o.ledger = l
	}
}

// WithLogger sets the logger for release runs.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}
