package validate

import "errors"

var (
	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("validate: invalid config")

	// ErrUnknownCheck is returned when a Config names a check that does not exist.
	ErrUnknownCheck = errors.New("validate: unknown check")

	// ErrNoOracle is returned when build validation is enabled without a build oracle.
	ErrNoOracle = errors.New("validate: build validation enabled without a build oracle")

	// ErrBuildFailed is returned by a BuildOracle when the candidate does not compile.
	ErrBuildFailed = errors.New("validate: build failed")

	// ErrRegoEvaluation is returned when the Rego rule cannot be evaluated.
	ErrRegoEvaluation = errors.New("validate: rego evaluation failed")
)
