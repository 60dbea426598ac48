package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/meigma/release"
	"github.com/meigma/release/backend"
	"github.com/meigma/release/ledger"
	"github.com/meigma/release/recovery"
	"github.com/meigma/release/report"
)

// Resolver computes the candidates of a release.
type Resolver interface {
	Resolve(ctx context.Context, previous, current string) ([]release.Candidate, error)
}

// Validator checks one candidate.
type Validator interface {
	Validate(ctx context.Context, cand release.Candidate) release.ValidationResult
}

// Orchestrator runs releases. It holds no per-run state; every Run creates
// its own release.State, so one Orchestrator may run releases concurrently
// as long as they have different release ids.
type Orchestrator struct {
	resolver  Resolver
	validator Validator
	adapters  []backend.Adapter
	recovery  *recovery.Manager

	strategy  release.Strategy
	policy    release.RecoveryPolicy
	jobs      int
	baseDelay time.Duration
	maxDelay  time.Duration
	newID     func() string
	ledger    ledger.Ledger
	logger    *slog.Logger
}

// New creates an orchestrator publishing to adapters. Target names must be
// unique.
func New(resolver Resolver, validator Validator, adapters []backend.Adapter, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		resolver:  resolver,
		validator: validator,
		adapters:  slices.Clone(adapters),
		strategy:  release.StrategyAtomic,
		policy:    release.DefaultRecoveryPolicy(),
		jobs:      DefaultMaxParallelJobs,
		baseDelay: DefaultRetryBaseDelay,
		maxDelay:  DefaultRetryMaxDelay,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}

	switch {
	case resolver == nil:
		return nil, fmt.Errorf("%w: nil resolver", ErrInvalidOption)
	case validator == nil:
		return nil, fmt.Errorf("%w: nil validator", ErrInvalidOption)
	case len(o.adapters) == 0:
		return nil, ErrNoTargets
	case !o.strategy.Valid():
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidOption, o.strategy)
	case o.jobs < 1:
		return nil, fmt.Errorf("%w: max parallel jobs must be >= 1", ErrInvalidOption)
	case o.baseDelay < 0 || o.maxDelay < o.baseDelay:
		return nil, fmt.Errorf("%w: retry delays must satisfy 0 <= base <= max", ErrInvalidOption)
	case o.newID == nil:
		return nil, fmt.Errorf("%w: nil release id generator", ErrInvalidOption)
	}
	if err := o.policy.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(o.adapters))
	for _, a := range o.adapters {
		name := a.Target().Name
		if seen[name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTarget, name)
		}
		seen[name] = true
	}

	o.recovery = recovery.NewManager(o.policy, o.adapters, recovery.WithLogger(o.logger))
	return o, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (o *Orchestrator) log() *slog.Logger {
	if o.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.logger
}

// Targets returns the configured targets in order.
func (o *Orchestrator) Targets() []release.Target {
	out := make([]release.Target, len(o.adapters))
	for i, a := range o.adapters {
		out[i] = a.Target()
	}
	return out
}

// Run releases everything that changed between previous and current.
//
// The returned report is never nil. The error is non-nil only when the run
// was aborted: the resolver failed (a *release.ResolutionError) or a state
// invariant was violated (release.ErrIntegrity, release.ErrDuplicateCandidate).
// Validation and publish failures are reported through the report's phase.
func (o *Orchestrator) Run(ctx context.Context, previous, current string) (*report.Report, error) {
	state := release.NewState(o.newID(), o.strategy, o.Targets())
	state.PreviousRef = previous
	state.CurrentRef = current
	state.MaxAttempts = o.policy.MaxAttempts()

	log := o.log().With("release_id", state.ID)
	log.Info("release started",
		"previous", previous,
		"current", current,
		"strategy", o.strategy,
		"targets", len(o.adapters),
	)

	rep, err := o.run(ctx, state, log)

	log.Info("release finished",
		"phase", rep.Phase,
		"candidates", len(rep.Candidates),
		"attempts", rep.TotalAttempts(),
		"cancelled", rep.Cancelled,
	)
	if o.ledger != nil {
		if lerr := o.ledger.Record(context.WithoutCancel(ctx), rep); lerr != nil {
			log.Error("recording release in ledger", "error", lerr)
		}
	}
	return rep, err
}

func (o *Orchestrator) run(ctx context.Context, state *release.State, log *slog.Logger) (*report.Report, error) {
	cands, err := o.resolver.Resolve(ctx, state.PreviousRef, state.CurrentRef)
	if err != nil {
		if !release.IsResolutionError(err) {
			err = &release.ResolutionError{Err: err}
		}
		log.Error("resolution failed", "error", err)
		return o.abort(state, err)
	}
	for _, c := range cands {
		if err := state.AddCandidate(c.Ref); err != nil {
			log.Error("invalid candidate set", "error", err)
			return o.abort(state, err)
		}
	}
	if len(cands) == 0 {
		log.Info("no candidates to release")
		return o.end(state, release.PhaseSucceeded, nil, log), nil
	}

	o.advance(state, release.PhaseValidating, log)
	if err := o.validate(ctx, state, cands, log); err != nil {
		return o.abort(state, err)
	}
	if ctx.Err() != nil {
		state.MarkCancelled()
		return o.reconcile(ctx, state, log)
	}

	failed := state.ValidationFailed()
	if len(failed) > 0 && o.strategy == release.StrategyAtomic {
		log.Warn("validation failed, atomic release blocked", "failed", len(failed))
		return o.end(state, release.PhaseFailed, nil, log), nil
	}
	if len(state.Passed()) == 0 {
		log.Warn("no candidate passed validation", "failed", len(failed))
		return o.end(state, release.PhaseFailed, nil, log), nil
	}

	o.advance(state, release.PhasePublishing, log)
	units := o.prepare(ctx, state, cands)
	if ctx.Err() == nil {
		if err := o.publishUnits(ctx, state, units, log); err != nil {
			return o.abort(state, err)
		}
	}
	if ctx.Err() != nil {
		state.MarkCancelled()
	}
	return o.reconcile(ctx, state, log)
}

// reconcile executes rollbacks and picks the final phase.
func (o *Orchestrator) reconcile(ctx context.Context, state *release.State, log *slog.Logger) (*report.Report, error) {
	o.advance(state, release.PhaseReconciling, log)

	decisions := o.recovery.Plan(state)
	if rollbacks := recovery.Filter(decisions, recovery.ActionRollback); len(rollbacks) > 0 {
		log.Warn("rolling back publishes", "count", len(rollbacks))
		o.recovery.Execute(ctx, state, rollbacks)
	}

	rec := o.recovery.Reconcile(state)
	if rec.Urgent() {
		log.Error("rollback failed, manual cleanup required", "count", len(rec.RollbackFailed))
	}
	return o.end(state, finalPhase(state), &rec, log), nil
}

// finalPhase picks the terminal phase from the publish outcomes. Rolled
// back pairs count as not published.
func finalPhase(state *release.State) release.Phase {
	if state.Cancelled() {
		return release.PhaseFailed
	}
	published, missing := 0, 0
	for _, pair := range state.Pairs() {
		if _, ok := state.Rollback(pair); ok {
			missing++
			continue
		}
		if latest, ok := state.Latest(pair); ok && latest.Outcome == release.OutcomeSuccess {
			published++
		} else {
			missing++
		}
	}
	switch {
	case published == 0:
		return release.PhaseFailed
	case missing == 0 && len(state.ValidationFailed()) == 0:
		return release.PhaseSucceeded
	case state.Strategy == release.StrategyAtomic:
		return release.PhaseFailed
	default:
		return release.PhasePartiallySucceeded
	}
}

func (o *Orchestrator) validate(ctx context.Context, state *release.State, cands []release.Candidate, log *slog.Logger) error {
	return runPool(ctx, o.jobs, cands, func(ctx context.Context, c release.Candidate) error {
		res := o.validator.Validate(ctx, c)
		if err := state.SetValidation(res); err != nil {
			return err
		}
		if res.Passed() {
			log.Debug("candidate passed validation", "policy", c.Ref.Name, "version", c.Ref.Version, "warnings", len(res.Warnings()))
		} else {
			log.Warn("candidate failed validation", "policy", c.Ref.Name, "version", c.Ref.Version, "failures", len(res.Failures()))
		}
		return nil
	})
}

func (o *Orchestrator) advance(state *release.State, p release.Phase, log *slog.Logger) {
	if err := state.Advance(p); err != nil {
		log.Error("phase transition", "phase", p, "error", err)
		return
	}
	log.Debug("phase", "phase", p)
}

func (o *Orchestrator) end(state *release.State, p release.Phase, rec *recovery.Report, log *slog.Logger) *report.Report {
	o.advance(state, p, log)
	return report.Build(state, rec, nil)
}

func (o *Orchestrator) abort(state *release.State, err error) (*report.Report, error) {
	_ = state.Advance(release.PhaseFailed)
	return report.Build(state, nil, err), err
}
