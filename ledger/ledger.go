// Package ledger records finished release runs.
//
// The ledger answers one question for the next run: which snapshot
// reference was the last one released in full. The CLI uses it as the
// default previous reference.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/meigma/release"
	"github.com/meigma/release/report"
)

var (
	// ErrDuplicate is returned when a release id is recorded twice.
	ErrDuplicate = errors.New("ledger: release already recorded")

	// ErrNotFound is returned when a release id is unknown.
	ErrNotFound = errors.New("ledger: release not found")

	// ErrNotTerminal is returned when a report has not reached a terminal phase.
	ErrNotTerminal = errors.New("ledger: release has not finished")
)

// Ledger stores finished runs.
type Ledger interface {
	// Record stores a finished run.
	Record(ctx context.Context, r *report.Report) error

	// LastPublished returns the current reference of the most recently
	// finished run that succeeded in full.
	LastPublished(ctx context.Context) (string, bool, error)
}

// Entry is one recorded run.
type Entry struct {
	ReleaseID string
	Previous  string
	Current   string
	Strategy  release.Strategy
	Phase     release.Phase
	Started   time.Time
	Finished  time.Time
	Report    json.RawMessage
}

// NewEntry converts a report into a ledger entry.
func NewEntry(r *report.Report) (Entry, error) {
	if !r.Phase.Terminal() {
		return Entry{}, fmt.Errorf("%w: %s is %s", ErrNotTerminal, r.ReleaseID, r.Phase)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: encode report: %w", err)
	}
	return Entry{
		ReleaseID: r.ReleaseID,
		Previous:  r.Previous,
		Current:   r.Current,
		Strategy:  r.Strategy,
		Phase:     r.Phase,
		Started:   r.Started,
		Finished:  r.Finished,
		Report:    data,
	}, nil
}

// Decode unmarshals the stored report.
func (e Entry) Decode() (*report.Report, error) {
	var r report.Report
	if err := json.Unmarshal(e.Report, &r); err != nil {
		return nil, fmt.Errorf("ledger: decode report %s: %w", e.ReleaseID, err)
	}
	return &r, nil
}
