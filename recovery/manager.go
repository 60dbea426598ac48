package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meigma/release"
	"github.com/meigma/release/backend"
)

// ErrUnknownTarget is returned when a decision names a target the manager
// has no adapter for.
var ErrUnknownTarget = errors.New("recovery: unknown target")

// ErrRollbackIncomplete is returned when a rollback reported success but the
// artifact is still present on the target.
var ErrRollbackIncomplete = errors.New("recovery: artifact still present after rollback")

// Manager executes recovery decisions against backends.
type Manager struct {
	policy   release.RecoveryPolicy
	adapters map[string]backend.Adapter
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for rollback operations.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager applying policy with the given adapters.
func NewManager(policy release.RecoveryPolicy, adapters []backend.Adapter, opts ...Option) *Manager {
	m := &Manager{
		policy:   policy,
		adapters: make(map[string]backend.Adapter, len(adapters)),
	}
	for _, a := range adapters {
		m.adapters[a.Target().Name] = a
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) log() *slog.Logger {
	if m.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return m.logger
}

// Policy returns the policy the manager applies.
func (m *Manager) Policy() release.RecoveryPolicy {
	return m.policy
}

// Plan returns Plan(state, m.Policy()).
func (m *Manager) Plan(state *release.State) []Decision {
	return Plan(state, m.policy)
}

// Reconcile returns Reconcile(state, m.Policy()).
func (m *Manager) Reconcile(state *release.State) Report {
	return Reconcile(state, m.policy)
}

// Execute issues every rollback decision in order and records the results
// in state. Each rollback runs under the policy's rollback timeout and is not
// interrupted by cancellation of ctx. A rollback counts as done only once the
// adapter no longer reports the artifact. A failed rollback does not stop the
// others. The returned records are in decision
// order.
func (m *Manager) Execute(ctx context.Context, state *release.State, decisions []Decision) []release.RollbackRecord {
	var records []release.RollbackRecord
	for _, d := range decisions {
		if d.Action != ActionRollback {
			continue
		}
		err := m.rollback(ctx, d)
		rec := release.RollbackRecord{
			Ref:       d.Ref,
			Target:    d.Target,
			Succeeded: err == nil,
			At:        time.Now().UTC(),
		}
		log := m.log().With("policy", d.Ref.Name, "version", d.Ref.Version, "target", d.Target)
		if err != nil {
			rec.Error = err.Error()
			log.Error("rollback failed", "error", err)
		} else {
			log.Info("rolled back publish")
		}
		if rerr := state.RecordRollback(rec); rerr != nil {
			log.Error("recording rollback", "error", rerr)
		}
		records = append(records, rec)
	}
	return records
}

func (m *Manager) rollback(ctx context.Context, d Decision) error {
	a, ok := m.adapters[d.Target]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTarget, d.Target)
	}
	rb, ok := a.(backend.Rollbacker)
	if !ok || !backend.CanRollback(a) {
		return backend.ErrRollbackUnsupported
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.policy.EffectiveRollbackTimeout())
	defer cancel()
	if err := rb.Rollback(ctx, d.Ref); err != nil {
		return err
	}
	present, err := a.Exists(ctx, d.Ref)
	if err != nil {
		return fmt.Errorf("verify rollback: %w", err)
	}
	if present {
		return ErrRollbackIncomplete
	}
	return nil
}
