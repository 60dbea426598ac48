package snapshot

import "errors"

var (
	// ErrRefNotFound is returned when a reference does not name a readable tree.
	ErrRefNotFound = errors.New("snapshot: reference not found")

	// ErrInvalidRef is returned when a reference cannot be used as a path element.
	ErrInvalidRef = errors.New("snapshot: invalid reference")
)
