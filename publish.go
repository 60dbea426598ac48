package release

import "time"

// Target identifies one publish destination.
type Target struct {
	Name             string `json:"name" yaml:"name"`
	SupportsRollback bool   `json:"supportsRollback" yaml:"supportsRollback"`
}

// Outcome is the result of a single publish attempt.
type Outcome string

const (
	// OutcomeSuccess means the artifact is present on the target.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure is a terminal failure for this run.
	OutcomeFailure Outcome = "failure"
	// OutcomeRetrying is a retryable failure that will be attempted again.
	OutcomeRetrying Outcome = "retrying"
)

// Attempt records one call to a publish backend.
//
// Number starts at 1 and never exceeds the run's attempt budget
// (maxRetryAttempts + 1). AlreadyPublished is set when the backend's
// idempotency check found the artifact and skipped the write.
type Attempt struct {
	Ref              Ref       `json:"ref" yaml:"ref"`
	Target           string    `json:"target" yaml:"target"`
	Number           int       `json:"number" yaml:"number"`
	Outcome          Outcome   `json:"outcome" yaml:"outcome"`
	Retryable        bool      `json:"retryable,omitempty" yaml:"retryable,omitempty"`
	AlreadyPublished bool      `json:"alreadyPublished,omitempty" yaml:"alreadyPublished,omitempty"`
	Error            string    `json:"error,omitempty" yaml:"error,omitempty"`
	Started          time.Time `json:"started" yaml:"started"`
	Finished         time.Time `json:"finished" yaml:"finished"`
}

// Pair returns the (candidate, target) key of the attempt.
func (a Attempt) Pair() PairKey {
	return PairKey{Key: a.Ref.Key(), Target: a.Target}
}

// RollbackRecord records a compensating rollback issued during reconciliation.
type RollbackRecord struct {
	Ref       Ref       `json:"ref" yaml:"ref"`
	Target    string    `json:"target" yaml:"target"`
	Succeeded bool      `json:"succeeded" yaml:"succeeded"`
	Error     string    `json:"error,omitempty" yaml:"error,omitempty"`
	At        time.Time `json:"at" yaml:"at"`
}
