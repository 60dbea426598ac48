// Package memory provides an in-process publish backend.
//
// It keeps artifacts in a map and lets callers inject failures, which makes
// it the backend of choice for dry runs and for exercising retry and
// rollback paths in tests.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/release"
	"github.com/meigma/release/artifact"
	"github.com/meigma/release/backend"
)

// Kind is the backend kind registered by Register.
const Kind = "memory"

type object struct {
	hash   digest.Digest
	digest digest.Digest
	data   []byte
}

// Adapter is an in-memory backend.Adapter and backend.Rollbacker.
type Adapter struct {
	target release.Target

	mu            sync.Mutex
	objects       map[release.Key]object
	publishFaults map[release.Key][]error
	alwaysFail    map[release.Key]error
	rollbackFault map[release.Key]error
	beforePublish func(ctx context.Context, ref release.Ref)
	publishCalls  map[release.Key]int
	writes        int
	rollbacks     int
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithRollback sets whether the target advertises rollback support.
func WithRollback(enabled bool) Option {
	return func(a *Adapter) {
		a.target.SupportsRollback = enabled
	}
}

// WithBeforePublish installs a hook called at the start of every Publish.
func WithBeforePublish(fn func(ctx context.Context, ref release.Ref)) Option {
	return func(a *Adapter) {
		a.beforePublish = fn
	}
}

// New creates an empty adapter for the named target. Rollback is supported
// unless disabled with WithRollback(false).
func New(name string, opts ...Option) *Adapter {
	a := &Adapter{
		target:        release.Target{Name: name, SupportsRollback: true},
		objects:       make(map[release.Key]object),
		publishFaults: make(map[release.Key][]error),
		alwaysFail:    make(map[release.Key]error),
		rollbackFault: make(map[release.Key]error),
		publishCalls:  make(map[release.Key]int),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Factory builds an Adapter from a target spec.
func Factory(_ context.Context, spec backend.TargetSpec) (backend.Adapter, error) {
	return New(spec.Name, WithRollback(spec.SupportsRollback)), nil
}

// Register adds the memory kind to r.
func Register(r *backend.Registry) {
	r.Register(Kind, Factory)
}

// Target implements backend.Adapter.
func (a *Adapter) Target() release.Target {
	return a.target
}

// FailNext queues errors returned by the next publishes of key, one per call.
func (a *Adapter) FailNext(key release.Key, errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.publishFaults[key] = append(a.publishFaults[key], errs...)
}

// FailAlways makes every publish of key fail with err.
func (a *Adapter) FailAlways(key release.Key, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alwaysFail[key] = err
}

// FailRollback makes rollbacks of key fail with err.
func (a *Adapter) FailRollback(key release.Key, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollbackFault[key] = err
}

// Seed stores data for ref without counting a write.
func (a *Adapter) Seed(ref release.Ref, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[ref.Key()] = object{hash: ref.ContentHash, digest: digest.FromBytes(data), data: bytes.Clone(data)}
}

// Publish implements backend.Adapter.
func (a *Adapter) Publish(ctx context.Context, art *artifact.Artifact) (backend.Result, error) {
	if a.beforePublish != nil {
		a.beforePublish(ctx, art.Ref)
	}
	if err := ctx.Err(); err != nil {
		return backend.Result{}, backend.TerminalError("publish", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	key := art.Ref.Key()
	a.publishCalls[key]++

	if errs := a.publishFaults[key]; len(errs) > 0 {
		a.publishFaults[key] = errs[1:]
		return backend.Result{}, errs[0]
	}
	if err := a.alwaysFail[key]; err != nil {
		return backend.Result{}, err
	}

	loc := a.location(art.Ref)
	if existing, ok := a.objects[key]; ok {
		if existing.hash != art.Ref.ContentHash {
			return backend.Result{}, backend.TerminalError("publish",
				fmt.Errorf("%w: %s has %s", backend.ErrConflict, key, existing.hash))
		}
		return backend.Result{AlreadyPublished: true, Location: loc}, nil
	}

	a.objects[key] = object{hash: art.Ref.ContentHash, digest: art.Digest, data: bytes.Clone(art.Data)}
	a.writes++
	return backend.Result{Location: loc}, nil
}

// Exists implements backend.Adapter.
func (a *Adapter) Exists(ctx context.Context, ref release.Ref) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	obj, ok := a.objects[ref.Key()]
	return ok && obj.hash == ref.ContentHash, nil
}

// Rollback implements backend.Rollbacker.
func (a *Adapter) Rollback(ctx context.Context, ref release.Ref) error {
	if !a.target.SupportsRollback {
		return backend.TerminalError("rollback", backend.ErrRollbackUnsupported)
	}
	if err := ctx.Err(); err != nil {
		return backend.TerminalError("rollback", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollbacks++
	if err := a.rollbackFault[ref.Key()]; err != nil {
		return err
	}
	delete(a.objects, ref.Key())
	return nil
}

// Has reports whether an artifact for key is stored.
func (a *Adapter) Has(key release.Key) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.objects[key]
	return ok
}

// Data returns the stored archive for key.
func (a *Adapter) Data(key release.Key) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	obj, ok := a.objects[key]
	return bytes.Clone(obj.data), ok
}

// Keys returns the stored keys ordered by name then version.
func (a *Adapter) Keys() []release.Key {
	a.mu.Lock()
	defer a.mu.Unlock()
	keys := slices.Collect(maps.Keys(a.objects))
	slices.SortFunc(keys, func(x, y release.Key) int {
		return release.CompareRefs(release.Ref{Name: x.Name, Version: x.Version}, release.Ref{Name: y.Name, Version: y.Version})
	})
	return keys
}

// PublishCalls returns the number of Publish calls for key.
func (a *Adapter) PublishCalls(key release.Key) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.publishCalls[key]
}

// TotalPublishCalls returns the number of Publish calls across all keys.
func (a *Adapter) TotalPublishCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.publishCalls {
		n += c
	}
	return n
}

// Writes returns how many publishes stored new content.
func (a *Adapter) Writes() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writes
}

// Rollbacks returns how many rollbacks were issued.
func (a *Adapter) Rollbacks() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rollbacks
}

func (a *Adapter) location(ref release.Ref) string {
	return "memory://" + a.target.Name + "/" + ref.Name + "/" + ref.Version
}

var (
	_ backend.Adapter    = (*Adapter)(nil)
	_ backend.Rollbacker = (*Adapter)(nil)
)
