package orchestrator

import "errors"

var (
	// ErrNoTargets is returned when an orchestrator is created without adapters.
	ErrNoTargets = errors.New("orchestrator: no publish targets")

	// ErrDuplicateTarget is returned when two adapters share a target name.
	ErrDuplicateTarget = errors.New("orchestrator: duplicate target")

	// ErrInvalidOption is returned when an option value is out of range.
	ErrInvalidOption = errors.New("orchestrator: invalid option")
)
