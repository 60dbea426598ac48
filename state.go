package release

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Phase is a step of the release state machine.
type Phase string

const (
	PhaseResolving          Phase = "resolving"
	PhaseValidating         Phase = "validating"
	PhasePublishing         Phase = "publishing"
	PhaseReconciling        Phase = "reconciling"
	PhaseSucceeded          Phase = "succeeded"
	PhaseFailed             Phase = "failed"
	PhasePartiallySucceeded Phase = "partially-succeeded"
)

// Terminal reports whether the phase ends the run.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhasePartiallySucceeded:
		return true
	}
	return false
}

func (p Phase) rank() int {
	switch p {
	case PhaseResolving:
		return 0
	case PhaseValidating:
		return 1
	case PhasePublishing:
		return 2
	case PhaseReconciling:
		return 3
	default:
		return 4
	}
}

// State is the aggregate for one release run.
//
// A State is owned by a single orchestrator. Workers running concurrently
// record validation results and attempts through its methods, which
// serialize access; no lock is held while a worker talks to a backend.
type State struct {
	ID          string
	PreviousRef string
	CurrentRef  string
	Strategy    Strategy
	Targets     []Target
	// MaxAttempts bounds attempt numbers per (candidate, target). Zero
	// disables the check.
	MaxAttempts int
	Started     time.Time

	mu         sync.Mutex
	phase      Phase
	finished   time.Time
	candidates []Ref
	index      map[Key]Ref
	validation map[Key]ValidationResult
	attempts   map[PairKey][]Attempt
	rollbacks  map[PairKey]RollbackRecord
	cancelled  bool
}

// NewState creates a run in the Resolving phase.
func NewState(id string, strategy Strategy, targets []Target) *State {
	return &State{
		ID:         id,
		Strategy:   strategy,
		Targets:    slices.Clone(targets),
		Started:    time.Now().UTC(),
		phase:      PhaseResolving,
		index:      make(map[Key]Ref),
		validation: make(map[Key]ValidationResult),
		attempts:   make(map[PairKey][]Attempt),
		rollbacks:  make(map[PairKey]RollbackRecord),
	}
}

// Phase returns the current phase.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Finished returns when the run reached a terminal phase.
func (s *State) Finished() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Advance moves the state to phase p. Phases only move forward; advancing to
// the current phase is a no-op, and a terminal phase is final.
func (s *State) Advance(p Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == s.phase {
		return nil
	}
	if s.phase.Terminal() || p.rank() < s.phase.rank() {
		return fmt.Errorf("%w: %s -> %s", ErrPhaseRegression, s.phase, p)
	}
	s.phase = p
	if p.Terminal() {
		s.finished = time.Now().UTC()
	}
	return nil
}

// AddCandidate registers a resolved candidate. A second ref with the same
// (name, version) is an invariant violation: ErrIntegrity when the content
// hashes differ, ErrDuplicateCandidate otherwise.
func (s *State) AddCandidate(ref Ref) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.index[ref.Key()]; ok {
		if prev.ContentHash != ref.ContentHash {
			return fmt.Errorf("%w: %s has %s and %s", ErrIntegrity, ref.Key(), prev.ContentHash, ref.ContentHash)
		}
		return fmt.Errorf("%w: %s", ErrDuplicateCandidate, ref.Key())
	}
	s.index[ref.Key()] = ref
	s.candidates = append(s.candidates, ref)
	return nil
}

// Candidates returns the candidates in resolution order.
func (s *State) Candidates() []Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.candidates)
}

// Target returns the configured target with the given name.
func (s *State) Target(name string) (Target, bool) {
	for _, t := range s.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

// SetValidation records the validation result of a candidate.
func (s *State) SetValidation(res ValidationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.index[res.Ref.Key()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCandidate, res.Ref.Key())
	}
	if ref.ContentHash != res.Ref.ContentHash {
		return fmt.Errorf("%w: %s", ErrIntegrity, ref.Key())
	}
	s.validation[ref.Key()] = res
	return nil
}

// Validation returns the validation result of a candidate.
func (s *State) Validation(k Key) (ValidationResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, ok := s.validation[k]
	return res, ok
}

// Passed returns the candidates whose validation passed, in order.
func (s *State) Passed() []Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Ref
	for _, ref := range s.candidates {
		if res, ok := s.validation[ref.Key()]; ok && res.Passed() {
			out = append(out, ref)
		}
	}
	return out
}

// ValidationFailed returns the candidates whose validation failed, in order.
func (s *State) ValidationFailed() []Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Ref
	for _, ref := range s.candidates {
		if res, ok := s.validation[ref.Key()]; ok && !res.Passed() {
			out = append(out, ref)
		}
	}
	return out
}

// Pairs returns every planned (candidate, target) unit: each passed candidate
// crossed with each target, ordered by candidate then target.
func (s *State) Pairs() []PairKey {
	passed := s.Passed()
	out := make([]PairKey, 0, len(passed)*len(s.Targets))
	for _, ref := range passed {
		for _, t := range s.Targets {
			out = append(out, PairKey{Key: ref.Key(), Target: t.Name})
		}
	}
	return out
}

// Ref returns the full ref for a key.
func (s *State) Ref(k Key) (Ref, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref, ok := s.index[k]
	return ref, ok
}

// RecordAttempt appends a publish attempt. It enforces that the candidate
// passed validation, that attempts are numbered consecutively from 1, and
// that the number stays within MaxAttempts.
func (s *State) RecordAttempt(a Attempt) error {
	if _, ok := s.Target(a.Target); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTarget, a.Target)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := a.Ref.Key()
	if _, ok := s.index[k]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCandidate, k)
	}
	if res, ok := s.validation[k]; !ok || !res.Passed() {
		return fmt.Errorf("%w: %s", ErrNotValidated, k)
	}
	if s.MaxAttempts > 0 && a.Number > s.MaxAttempts {
		return fmt.Errorf("%w: %s attempt %d > %d", ErrAttemptLimit, a.Pair(), a.Number, s.MaxAttempts)
	}
	pair := a.Pair()
	if want := len(s.attempts[pair]) + 1; a.Number != want {
		return fmt.Errorf("%w: %s got %d, want %d", ErrAttemptOrder, pair, a.Number, want)
	}
	s.attempts[pair] = append(s.attempts[pair], a)
	return nil
}

// AbandonRetry turns a pair's pending retry into a terminal failure. It is
// used when the run stops while an attempt is waiting to be retried, so a
// finished run never reports a pair as still retrying.
func (s *State) AbandonRetry(p PairKey, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.attempts[p]
	if len(h) == 0 || h[len(h)-1].Outcome != OutcomeRetrying {
		return fmt.Errorf("%w: %s has no pending retry", ErrAttemptOrder, p)
	}
	last := &h[len(h)-1]
	last.Outcome = OutcomeFailure
	if cause != nil {
		last.Error += "; retry abandoned: " + cause.Error()
	}
	return nil
}

// Attempts returns the attempt history of a pair.
func (s *State) Attempts(p PairKey) []Attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.attempts[p])
}

// Latest returns the most recent attempt of a pair.
func (s *State) Latest(p PairKey) (Attempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.attempts[p]
	if len(h) == 0 {
		return Attempt{}, false
	}
	return h[len(h)-1], true
}

// AttemptCount returns the total number of attempts across all pairs.
func (s *State) AttemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, h := range s.attempts {
		n += len(h)
	}
	return n
}

// RecordRollback stores the result of a compensating rollback.
func (s *State) RecordRollback(r RollbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[r.Ref.Key()]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCandidate, r.Ref.Key())
	}
	s.rollbacks[PairKey{Key: r.Ref.Key(), Target: r.Target}] = r
	return nil
}

// Rollback returns the rollback record of a pair.
func (s *State) Rollback(p PairKey) (RollbackRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rollbacks[p]
	return r, ok
}

// MarkCancelled records that the run was cancelled between units of work.
func (s *State) MarkCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// Cancelled reports whether the run was cancelled.
func (s *State) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}
