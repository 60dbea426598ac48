package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/meigma/release"
	"github.com/meigma/release/artifact"
	"github.com/meigma/release/backend"
)

// unit is one (candidate, target) publish.
type unit struct {
	ref     release.Ref
	adapter backend.Adapter
	art     *artifact.Artifact
	packErr error
}

func (u unit) pair() release.PairKey {
	return release.PairKey{Key: u.ref.Key(), Target: u.adapter.Target().Name}
}

// prepare packs every passed candidate once and returns one unit per
// (candidate, target), ordered by candidate then target.
func (o *Orchestrator) prepare(ctx context.Context, state *release.State, cands []release.Candidate) []unit {
	var passed []release.Candidate
	for _, c := range cands {
		if res, ok := state.Validation(c.Ref.Key()); ok && res.Passed() {
			passed = append(passed, c)
		}
	}

	arts := make([]*artifact.Artifact, len(passed))
	errs := make([]error, len(passed))
	idx := make([]int, len(passed))
	for i := range idx {
		idx[i] = i
	}
	_ = runPool(ctx, o.jobs, idx, func(ctx context.Context, i int) error {
		arts[i], errs[i] = artifact.Pack(ctx, passed[i])
		return nil
	})

	units := make([]unit, 0, len(passed)*len(o.adapters))
	for i, c := range passed {
		for _, a := range o.adapters {
			units = append(units, unit{ref: c.Ref, adapter: a, art: arts[i], packErr: errs[i]})
		}
	}
	return units
}

// publishUnits publishes units under the run's strategy. Atomic runs are
// sequential and stop at the first pair that does not end published.
// Best-effort runs are bounded by the job limit and independent. The
// returned error is a state invariant violation.
func (o *Orchestrator) publishUnits(ctx context.Context, state *release.State, units []unit, log *slog.Logger) error {
	if o.strategy == release.StrategyAtomic {
		for _, u := range units {
			if ctx.Err() != nil {
				return nil
			}
			ok, err := o.publish(ctx, state, u, log)
			if err != nil {
				return err
			}
			if !ok {
				log.Warn("atomic release aborted", "policy", u.ref.Name, "version", u.ref.Version, "target", u.adapter.Target().Name)
				return nil
			}
		}
		return nil
	}
	return runPool(ctx, o.jobs, units, func(ctx context.Context, u unit) error {
		_, err := o.publish(ctx, state, u, log)
		return err
	})
}

// backOff returns the retry schedule: base, 2*base, 4*base, ... capped at
// maxDelay, without jitter or an elapsed-time limit. The attempt budget is
// enforced by publish.
func (o *Orchestrator) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.baseDelay
	b.MaxInterval = o.maxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// publish runs the attempts of one unit, recording each in state, and
// reports whether the pair ended published. A retryable failure is retried
// until the run's attempt budget is spent, and only when the recovery policy
// allows automatic retry. A terminal failure is not retried. If the run is
// cancelled while a retry is pending, the pair ends failed. The returned
// error is a state invariant violation.
func (o *Orchestrator) publish(ctx context.Context, state *release.State, u unit, log *slog.Logger) (bool, error) {
	target := u.adapter.Target().Name
	log = log.With("policy", u.ref.Name, "version", u.ref.Version, "target", target)

	if u.packErr != nil || u.art == nil {
		now := time.Now().UTC()
		a := release.Attempt{
			Ref:      u.ref,
			Target:   target,
			Number:   1,
			Outcome:  release.OutcomeFailure,
			Started:  now,
			Finished: now,
		}
		if u.packErr != nil {
			a.Error = u.packErr.Error()
		} else {
			a.Error = "artifact not packed"
		}
		log.Error("cannot publish unpacked artifact", "error", a.Error)
		return false, state.RecordAttempt(a)
	}

	var (
		n         int
		retry     = o.policy.AutomaticRetry()
		published bool
		recordErr error
	)
	op := func() error {
		n++
		started := time.Now().UTC()
		res, err := u.adapter.Publish(ctx, u.art)
		a := release.Attempt{
			Ref:      u.ref,
			Target:   target,
			Number:   n,
			Started:  started,
			Finished: time.Now().UTC(),
		}
		retryable := err != nil && backend.IsRetryable(err)
		switch {
		case err == nil:
			a.Outcome = release.OutcomeSuccess
			a.AlreadyPublished = res.AlreadyPublished
		case retryable && retry && n < state.MaxAttempts:
			a.Outcome, a.Retryable, a.Error = release.OutcomeRetrying, true, err.Error()
		default:
			a.Outcome, a.Retryable, a.Error = release.OutcomeFailure, retryable, err.Error()
		}
		if rerr := state.RecordAttempt(a); rerr != nil {
			recordErr = rerr
			return backoff.Permanent(rerr)
		}

		switch a.Outcome {
		case release.OutcomeSuccess:
			published = true
			log.Info("published", "attempt", n, "already_published", res.AlreadyPublished, "location", res.Location)
			return nil
		case release.OutcomeRetrying:
			return err
		default:
			log.Error("publish failed", "attempt", n, "retryable", retryable, "error", err)
			return backoff.Permanent(err)
		}
	}
	notify := func(err error, delay time.Duration) {
		log.Warn("publish failed, retrying", "attempt", n, "delay", delay, "error", err)
	}

	err := backoff.RetryNotify(op, backoff.WithContext(o.backOff(), ctx), notify)
	if err != nil && recordErr == nil && ctx.Err() != nil {
		if latest, ok := state.Latest(u.pair()); ok && latest.Outcome == release.OutcomeRetrying {
			log.Warn("retry abandoned, run cancelled", "attempt", latest.Number)
			recordErr = state.AbandonRetry(u.pair(), ctx.Err())
		}
	}
	return published, recordErr
}
