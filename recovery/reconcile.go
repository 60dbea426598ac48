package recovery

import (
	"github.com/meigma/release"
)

// Item is one (candidate, target) pair in a recovery report.
type Item struct {
	Ref      release.Ref `json:"ref" yaml:"ref"`
	Target   string      `json:"target" yaml:"target"`
	Attempts int         `json:"attempts" yaml:"attempts"`
	Reason   string      `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Report is the outcome of reconciliation.
//
// RollbackFailed lists pairs whose compensating rollback failed. They leave
// a target in a state nobody asked for and must be handled first.
// PendingRollback lists published pairs that should have been compensated
// but were not, either because policy forbids automatic rollback or because
// the target cannot roll back.
type Report struct {
	Strategy         release.RecoveryStrategy `json:"strategy" yaml:"strategy"`
	Cancelled        bool                     `json:"cancelled,omitempty" yaml:"cancelled,omitempty"`
	Published        []Item                   `json:"published" yaml:"published"`
	RolledBack       []Item                   `json:"rolledBack" yaml:"rolledBack"`
	NeedsManualRetry []Item                   `json:"needsManualRetry" yaml:"needsManualRetry"`
	PendingRollback  []Item                   `json:"pendingRollback" yaml:"pendingRollback"`
	RollbackFailed   []Item                   `json:"rollbackFailed" yaml:"rollbackFailed"`
	NotAttempted     []Item                   `json:"notAttempted" yaml:"notAttempted"`
	Decisions        []Decision               `json:"decisions" yaml:"decisions"`
}

// Reconcile classifies every pair of state under policy. It never
// re-validates or calls a backend.
func Reconcile(state *release.State, policy release.RecoveryPolicy) Report {
	rep := Report{
		Strategy:  policy.Strategy,
		Cancelled: state.Cancelled(),
	}
	rep.Decisions = Plan(state, policy)
	for _, d := range rep.Decisions {
		item := Item{
			Ref:      d.Ref,
			Target:   d.Target,
			Attempts: len(state.Attempts(d.Pair())),
			Reason:   d.Reason,
		}
		switch d.state {
		case pairNotAttempted:
			rep.NotAttempted = append(rep.NotAttempted, item)
		case pairRolledBack:
			rep.RolledBack = append(rep.RolledBack, item)
		case pairRollbackFailed:
			rep.RollbackFailed = append(rep.RollbackFailed, item)
		case pairPublished:
			if d.Action == ActionNone {
				rep.Published = append(rep.Published, item)
			} else {
				rep.PendingRollback = append(rep.PendingRollback, item)
			}
		case pairFailed:
			rep.NeedsManualRetry = append(rep.NeedsManualRetry, item)
		}
	}
	return rep
}

// RequiresAttention reports whether any pair needs a human.
func (r Report) RequiresAttention() bool {
	return len(r.RollbackFailed) > 0 || len(r.PendingRollback) > 0 || len(r.NeedsManualRetry) > 0
}

// Urgent reports whether a compensating rollback failed.
func (r Report) Urgent() bool {
	return len(r.RollbackFailed) > 0
}
