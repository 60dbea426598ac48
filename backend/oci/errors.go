package oci

import "errors"

// Sentinel errors for registry operations.
var (
	// ErrNotFound is returned when a manifest or tag does not exist.
	ErrNotFound = errors.New("oci: not found")

	// ErrUnauthorized is returned when authentication fails.
	ErrUnauthorized = errors.New("oci: unauthorized")

	// ErrForbidden is returned when access is denied.
	ErrForbidden = errors.New("oci: forbidden")

	// ErrUnsupported is returned when the registry does not allow an
	// operation, typically manifest deletion.
	ErrUnsupported = errors.New("oci: operation not supported by registry")

	// ErrInvalidReference is returned when a reference string is malformed.
	ErrInvalidReference = errors.New("oci: invalid reference")

	// ErrInvalidDescriptor is returned when a descriptor is nil or has invalid fields.
	ErrInvalidDescriptor = errors.New("oci: invalid descriptor")

	// ErrManifestInvalid is returned when a manifest cannot be parsed or is
	// not a policy manifest.
	ErrManifestInvalid = errors.New("oci: invalid manifest")
)
