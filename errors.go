package release

import (
	"errors"
	"fmt"
)

// Sentinel errors for release state operations.
var (
	// ErrInvalidRef is returned when a Ref has an empty name or a malformed version.
	ErrInvalidRef = errors.New("release: invalid ref")

	// ErrIntegrity is returned when the same (name, version) is seen with two
	// different content hashes. It aborts the run.
	ErrIntegrity = errors.New("release: content hash mismatch")

	// ErrDuplicateCandidate is returned when a (name, version) is added twice.
	ErrDuplicateCandidate = errors.New("release: duplicate candidate")

	// ErrUnknownCandidate is returned when a record references a ref that is not
	// part of the run.
	ErrUnknownCandidate = errors.New("release: unknown candidate")

	// ErrUnknownTarget is returned when a record references an unconfigured target.
	ErrUnknownTarget = errors.New("release: unknown target")

	// ErrNotValidated is returned when a publish attempt is recorded for a
	// candidate that has not passed validation.
	ErrNotValidated = errors.New("release: candidate has not passed validation")

	// ErrAttemptLimit is returned when an attempt number exceeds the retry budget.
	ErrAttemptLimit = errors.New("release: attempt limit exceeded")

	// ErrAttemptOrder is returned when attempts are not recorded in sequence.
	ErrAttemptOrder = errors.New("release: attempt out of order")

	// ErrPhaseRegression is returned when a state tries to move to an earlier phase.
	ErrPhaseRegression = errors.New("release: phase cannot move backwards")

	// ErrInvalidPolicy is returned when a RecoveryPolicy fails validation.
	ErrInvalidPolicy = errors.New("release: invalid recovery policy")
)

// ResolutionError reports that a snapshot reference could not be read or
// diffed. It is fatal for the run: no partial resolution is attempted.
type ResolutionError struct {
	Ref string
	Err error
}

// Error implements error.
func (e *ResolutionError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("resolve: %v", e.Err)
	}
	return fmt.Sprintf("resolve %q: %v", e.Ref, e.Err)
}

// Unwrap returns the underlying error.
func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// IsResolutionError reports whether err is or wraps a *ResolutionError.
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}
