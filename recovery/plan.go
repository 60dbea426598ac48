package recovery

import (
	"github.com/meigma/release"
)

// Action is what recovery does with one (candidate, target) pair.
type Action string

const (
	// ActionNone leaves the pair as it is.
	ActionNone Action = "none"
	// ActionRetry publishes the pair again within the attempt budget.
	ActionRetry Action = "retry"
	// ActionRollback reverses a successful publish.
	ActionRollback Action = "rollback"
	// ActionManual flags the pair for a human.
	ActionManual Action = "manual"
)

// Decision is the recovery action chosen for one pair.
type Decision struct {
	Ref    release.Ref `json:"ref" yaml:"ref"`
	Target string      `json:"target" yaml:"target"`
	Action Action      `json:"action" yaml:"action"`
	Reason string      `json:"reason,omitempty" yaml:"reason,omitempty"`

	state  pairState
	latest release.Attempt
}

// Pair returns the (candidate, target) key of the decision.
func (d Decision) Pair() release.PairKey {
	return release.PairKey{Key: d.Ref.Key(), Target: d.Target}
}

type pairState int

const (
	pairNotAttempted pairState = iota
	pairPublished
	pairFailed
	pairRolledBack
	pairRollbackFailed
)

// Plan decides an action for every planned pair of state.
//
// A failed pair is retried when its last error was retryable, attempts
// remain, the run was not cancelled, and the policy permits automatic
// retry. Otherwise it needs manual action.
//
// A published pair is compensated only under the atomic strategy when the
// release as a whole failed. The manual recovery strategy never rolls back.
// The hybrid strategy rolls back only when every published target supports
// it. A cancelled run leaves published artifacts in place, and artifacts
// that were already present before the run are never rolled back.
//
// Pairs that already carry a rollback record keep their outcome, so Plan
// can be called again after Manager.Execute.
func Plan(state *release.State, policy release.RecoveryPolicy) []Decision {
	pairs := state.Pairs()
	cancelled := state.Cancelled()
	failed := state.Strategy == release.StrategyAtomic && !allPublished(state, pairs)

	compensate := failed && !cancelled && policy.AutomaticRollback()
	hybridBlocked := false
	if compensate && policy.Strategy == release.RecoveryHybrid {
		for _, pair := range pairs {
			latest, ok := state.Latest(pair)
			if !ok || latest.Outcome != release.OutcomeSuccess || latest.AlreadyPublished {
				continue
			}
			if t, _ := state.Target(pair.Target); !t.SupportsRollback {
				compensate = false
				hybridBlocked = true
				break
			}
		}
	}

	decisions := make([]Decision, 0, len(pairs))
	for _, pair := range pairs {
		ref, _ := state.Ref(pair.Key)
		target, _ := state.Target(pair.Target)
		d := Decision{Ref: ref, Target: pair.Target, Action: ActionNone}

		if rb, ok := state.Rollback(pair); ok {
			if rb.Succeeded {
				d.state, d.Reason = pairRolledBack, "rolled back"
			} else {
				d.state, d.Action, d.Reason = pairRollbackFailed, ActionManual, "rollback failed: "+rb.Error
			}
			d.latest, _ = state.Latest(pair)
			decisions = append(decisions, d)
			continue
		}

		latest, attempted := state.Latest(pair)
		d.latest = latest
		switch {
		case !attempted:
			d.state, d.Reason = pairNotAttempted, "not attempted"
		case latest.Outcome == release.OutcomeSuccess:
			d.state = pairPublished
			switch {
			case !failed:
				d.Reason = "published"
			case latest.AlreadyPublished:
				d.Reason = "release failed; artifact predates this run, left in place"
			case cancelled:
				d.Action, d.Reason = ActionManual, "release cancelled after publish; artifact left in place"
			case compensate && target.SupportsRollback:
				d.Action, d.Reason = ActionRollback, "release failed; compensating publish"
			case compensate:
				d.Action, d.Reason = ActionManual, "release failed; target cannot roll back"
			case hybridBlocked:
				d.Action, d.Reason = ActionManual, "release failed; not every target can roll back"
			case policy.Strategy == release.RecoveryManual:
				d.Action, d.Reason = ActionManual, "release failed; manual recovery strategy"
			default:
				d.Action, d.Reason = ActionManual, "release failed; rollback disabled"
			}
		default:
			d.state = pairFailed
			if latest.Retryable && !cancelled && policy.AutomaticRetry() && latest.Number < policy.MaxAttempts() {
				d.Action, d.Reason = ActionRetry, latest.Error
			} else {
				d.Action, d.Reason = ActionManual, latest.Error
			}
		}
		decisions = append(decisions, d)
	}
	return decisions
}

// allPublished reports whether every pair's latest attempt succeeded.
func allPublished(state *release.State, pairs []release.PairKey) bool {
	for _, pair := range pairs {
		latest, ok := state.Latest(pair)
		if !ok || latest.Outcome != release.OutcomeSuccess {
			return false
		}
	}
	return true
}

// Filter returns the decisions with the given action.
func Filter(decisions []Decision, action Action) []Decision {
	var out []Decision
	for _, d := range decisions {
		if d.Action == action {
			out = append(out, d)
		}
	}
	return out
}
