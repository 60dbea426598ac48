// Package report builds the release report that every run ends with and
// renders it as JSON, YAML, or a plain-text summary.
package report

import (
	"time"

	"github.com/meigma/release"
	"github.com/meigma/release/recovery"
)

const (
	// StatusNotValidated marks a candidate whose validation never ran
	// because the run was cancelled or aborted first.
	StatusNotValidated release.Status = "not-validated"

	// OutcomeNotAttempted marks a pair that was planned but never published.
	OutcomeNotAttempted release.Outcome = "not-attempted"
)

// Exit codes for the invoking automation.
const (
	ExitSucceeded = 0
	ExitFailed    = 1
	ExitUsage     = 2
	ExitPartial   = 3
)

// Candidate is the validation verdict of one candidate.
type Candidate struct {
	Ref    release.Ref           `json:"ref" yaml:"ref"`
	Status release.Status        `json:"status" yaml:"status"`
	Checks []release.CheckResult `json:"checks,omitempty" yaml:"checks,omitempty"`
}

// Publish is the verdict of one (candidate, target) pair.
type Publish struct {
	Ref              release.Ref       `json:"ref" yaml:"ref"`
	Target           string            `json:"target" yaml:"target"`
	Outcome          release.Outcome   `json:"outcome" yaml:"outcome"`
	Attempts         int               `json:"attempts" yaml:"attempts"`
	Retryable        bool              `json:"retryable,omitempty" yaml:"retryable,omitempty"`
	AlreadyPublished bool              `json:"alreadyPublished,omitempty" yaml:"alreadyPublished,omitempty"`
	RolledBack       bool              `json:"rolledBack,omitempty" yaml:"rolledBack,omitempty"`
	RollbackError    string            `json:"rollbackError,omitempty" yaml:"rollbackError,omitempty"`
	Error            string            `json:"error,omitempty" yaml:"error,omitempty"`
	History          []release.Attempt `json:"history,omitempty" yaml:"history,omitempty"`
}

// Report is the outcome of one release run.
type Report struct {
	ReleaseID  string           `json:"releaseId" yaml:"releaseId"`
	Previous   string           `json:"previous" yaml:"previous"`
	Current    string           `json:"current" yaml:"current"`
	Strategy   release.Strategy `json:"strategy" yaml:"strategy"`
	Phase      release.Phase    `json:"phase" yaml:"phase"`
	Started    time.Time        `json:"started" yaml:"started"`
	Finished   time.Time        `json:"finished" yaml:"finished"`
	Cancelled  bool             `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	Error      string           `json:"error,omitempty" yaml:"error,omitempty"`
	Candidates []Candidate      `json:"candidates" yaml:"candidates"`
	Publishes  []Publish        `json:"publishes" yaml:"publishes"`
	Recovery   *recovery.Report `json:"recovery,omitempty" yaml:"recovery,omitempty"`
}

// Build snapshots state into a report. rec is nil when reconciliation did
// not run; runErr is the error that aborted the run, if any.
func Build(state *release.State, rec *recovery.Report, runErr error) *Report {
	r := &Report{
		ReleaseID: state.ID,
		Previous:  state.PreviousRef,
		Current:   state.CurrentRef,
		Strategy:  state.Strategy,
		Phase:     state.Phase(),
		Started:   state.Started,
		Finished:  state.Finished(),
		Cancelled: state.Cancelled(),
		Recovery:  rec,
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}

	for _, ref := range state.Candidates() {
		c := Candidate{Ref: ref, Status: StatusNotValidated}
		if res, ok := state.Validation(ref.Key()); ok {
			c.Status, c.Checks = res.Status, res.Checks
		}
		r.Candidates = append(r.Candidates, c)
	}

	for _, pair := range state.Pairs() {
		ref, _ := state.Ref(pair.Key)
		p := Publish{Ref: ref, Target: pair.Target, Outcome: OutcomeNotAttempted}
		if history := state.Attempts(pair); len(history) > 0 {
			latest := history[len(history)-1]
			p.Outcome = latest.Outcome
			p.Attempts = len(history)
			p.Retryable = latest.Retryable
			p.AlreadyPublished = latest.AlreadyPublished
			p.Error = latest.Error
			p.History = history
		}
		if rb, ok := state.Rollback(pair); ok {
			p.RolledBack = rb.Succeeded
			p.RollbackError = rb.Error
		}
		r.Publishes = append(r.Publishes, p)
	}
	return r
}

// TotalAttempts returns the number of publish attempts across all pairs.
func (r *Report) TotalAttempts() int {
	n := 0
	for _, p := range r.Publishes {
		n += p.Attempts
	}
	return n
}

// Candidate returns the verdict of the candidate with key k.
func (r *Report) Candidate(k release.Key) (Candidate, bool) {
	for _, c := range r.Candidates {
		if c.Ref.Key() == k {
			return c, true
		}
	}
	return Candidate{}, false
}

// Publish returns the verdict of a pair.
func (r *Report) Publish(p release.PairKey) (Publish, bool) {
	for _, pub := range r.Publishes {
		if pub.Ref.Key() == p.Key && pub.Target == p.Target {
			return pub, true
		}
	}
	return Publish{}, false
}

// ExitCode maps the report's phase to a process exit code.
func (r *Report) ExitCode() int {
	return ExitCode(r.Phase)
}

// ExitCode maps a terminal phase to a process exit code. Non-terminal
// phases map to ExitFailed.
func ExitCode(p release.Phase) int {
	switch p {
	case release.PhaseSucceeded:
		return ExitSucceeded
	case release.PhasePartiallySucceeded:
		return ExitPartial
	default:
		return ExitFailed
	}
}
