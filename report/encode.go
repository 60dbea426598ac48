package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/meigma/release"
	"github.com/meigma/release/recovery"
)

// Format names a report encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("report: unknown format %q", s)
}

// Write renders r to w in format f.
func Write(w io.Writer, r *Report, f Format) error {
	switch f {
	case FormatJSON:
		return WriteJSON(w, r)
	case FormatYAML:
		return WriteYAML(w, r)
	default:
		return WriteText(w, r)
	}
}

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteYAML writes r as YAML.
func WriteYAML(w io.Writer, r *Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// textWriter remembers the first write error.
type textWriter struct {
	w   io.Writer
	err error
}

func (t *textWriter) printf(format string, args ...any) {
	if t.err != nil {
		return
	}
	_, t.err = fmt.Fprintf(t.w, format, args...)
}

// WriteText writes a human-readable summary. Failed rollbacks come first
// under an URGENT heading.
func WriteText(w io.Writer, r *Report) error {
	t := &textWriter{w: w}

	t.printf("release %s (%s): %s\n", r.ReleaseID, r.Strategy, r.Phase)
	t.printf("  range: %s..%s\n", r.Previous, r.Current)
	if r.Cancelled {
		t.printf("  run was cancelled\n")
	}
	if r.Error != "" {
		t.printf("  error: %s\n", r.Error)
	}

	if r.Recovery != nil && r.Recovery.Urgent() {
		t.printf("\nURGENT: rollback failed, targets need manual cleanup\n")
		writeItems(t, r.Recovery.RollbackFailed)
	}

	if len(r.Candidates) == 0 {
		t.printf("\nno candidates\n")
	} else {
		t.printf("\ncandidates:\n")
	}
	for _, c := range r.Candidates {
		t.printf("  %s %s\n", c.Ref, c.Status)
		for _, check := range c.Checks {
			switch {
			case check.Blocking():
				t.printf("    x %s: %s\n", check.Name, check.Message)
			case check.Warning:
				t.printf("    ! %s: %s\n", check.Name, check.Message)
			}
		}
	}

	if len(r.Publishes) > 0 {
		t.printf("\npublishes:\n")
	}
	for _, p := range r.Publishes {
		t.printf("  %s @ %s %s", p.Ref, p.Target, p.Outcome)
		if p.Attempts > 0 {
			t.printf(" (%d %s)", p.Attempts, plural(p.Attempts, "attempt"))
		}
		if p.AlreadyPublished {
			t.printf(" already published")
		}
		if p.RolledBack {
			t.printf(" rolled back")
		}
		t.printf("\n")
		if p.Outcome != release.OutcomeSuccess && p.Error != "" {
			t.printf("    %s\n", p.Error)
		}
	}

	if rec := r.Recovery; rec != nil {
		t.printf("\nrecovery (%s):\n", rec.Strategy)
		section(t, "published", rec.Published)
		section(t, "rolled back", rec.RolledBack)
		section(t, "needs manual retry", rec.NeedsManualRetry)
		section(t, "pending rollback", rec.PendingRollback)
		section(t, "not attempted", rec.NotAttempted)
	}
	return t.err
}

func section(t *textWriter, title string, items []recovery.Item) {
	if len(items) == 0 {
		return
	}
	t.printf("  %s:\n", title)
	writeItems(t, items)
}

func writeItems(t *textWriter, items []recovery.Item) {
	for _, it := range items {
		if it.Reason != "" {
			t.printf("    - %s @ %s: %s\n", it.Ref, it.Target, it.Reason)
		} else {
			t.printf("    - %s @ %s\n", it.Ref, it.Target)
		}
	}
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
