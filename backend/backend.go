// Package backend defines the boundary between the release engine and the
// stores policy artifacts are published to.
//
// Every backend implements Adapter. Backends that can reverse a publish also
// implement Rollbacker. Failures are reported as *Error values classified as
// retryable or terminal so the orchestrator can decide whether to try again
// without knowing which store it is talking to.
package backend

import (
	"context"

	"github.com/meigma/release"
	"github.com/meigma/release/artifact"
)

// Result describes a successful publish.
type Result struct {
	// AlreadyPublished is set when the idempotency check found the artifact
	// and nothing was written.
	AlreadyPublished bool
	// Location is a backend-specific address of the published artifact.
	Location string
}

// Adapter publishes artifacts to one target.
type Adapter interface {
	// Target returns the target this adapter publishes to.
	Target() release.Target

	// Publish stores the artifact. It must be repeatable: when the artifact
	// is already present with the same content hash, Publish returns a
	// Result with AlreadyPublished set and makes no change. When an artifact
	// with the same name and version but a different content hash exists,
	// Publish returns a terminal error wrapping ErrConflict.
	Publish(ctx context.Context, a *artifact.Artifact) (Result, error)

	// Exists reports whether an artifact for ref with the same content hash
	// is present. Recovery uses it to confirm a rollback took effect.
	Exists(ctx context.Context, ref release.Ref) (bool, error)
}

// Rollbacker is implemented by adapters whose publishes can be reversed.
type Rollbacker interface {
	// Rollback removes the artifact for ref. Removing an absent artifact
	// succeeds without effect.
	Rollback(ctx context.Context, ref release.Ref) error
}

// CanRollback reports whether a declares and implements rollback.
func CanRollback(a Adapter) bool {
	_, ok := a.(Rollbacker)
	return ok && a.Target().SupportsRollback
}
