package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrConflict is returned when a target holds a different artifact for
	// the same name and version.
	ErrConflict = errors.New("backend: artifact exists with different content")

	// ErrRollbackUnsupported is returned when rollback is requested from a
	// target that cannot roll back.
	ErrRollbackUnsupported = errors.New("backend: rollback not supported")

	// ErrUnknownKind is returned when a target names an unregistered backend kind.
	ErrUnknownKind = errors.New("backend: unknown kind")

	// ErrInvalidSettings is returned when a target's settings are incomplete.
	ErrInvalidSettings = errors.New("backend: invalid settings")
)

// Kind classifies a backend failure.
type Kind int

const (
	// Terminal failures are not retried: malformed artifacts, permission
	// errors, conflicts.
	Terminal Kind = iota
	// Retryable failures are transient: timeouts, throttling, unavailable
	// services, dropped connections.
	Retryable
)

// String returns "terminal" or "retryable".
func (k Kind) String() string {
	if k == Retryable {
		return "retryable"
	}
	return "terminal"
}

// Error is a classified backend failure.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// RetryableError wraps err as a retryable failure of op.
func RetryableError(op string, err error) error {
	return &Error{Op: op, Kind: Retryable, Err: err}
}

// TerminalError wraps err as a terminal failure of op.
func TerminalError(op string, err error) error {
	return &Error{Op: op, Kind: Terminal, Err: err}
}

// IsRetryable reports whether err should be retried.
//
// Classified *Error values report their Kind. Unclassified errors are
// retryable when they are deadline or network timeouts. Cancellation is
// never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == Retryable
	}
	return IsTransient(err)
}

// IsTransient reports whether err looks like a transient transport failure.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Classify wraps err with op, choosing the kind with IsTransient. Already
// classified errors are returned unchanged.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	if IsTransient(err) && !errors.Is(err, context.Canceled) {
		return RetryableError(op, err)
	}
	return TerminalError(op, err)
}
