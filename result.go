package release

// Status is the overall verdict of a validation run.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// CheckResult is the outcome of one validation check.
//
// Warning is set when a failed check was downgraded by permissive mode: the
// failure is recorded but does not block the candidate.
type CheckResult struct {
	Name    string `json:"name" yaml:"name"`
	Passed  bool   `json:"passed" yaml:"passed"`
	Warning bool   `json:"warning,omitempty" yaml:"warning,omitempty"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Blocking reports whether the check failed without being downgraded.
func (c CheckResult) Blocking() bool {
	return !c.Passed && !c.Warning
}

// ValidationResult is the verdict for one candidate. Checks are in the order
// they were executed, which is the declaration order of the pipeline.
type ValidationResult struct {
	Ref    Ref           `json:"ref" yaml:"ref"`
	Status Status        `json:"status" yaml:"status"`
	Checks []CheckResult `json:"checks" yaml:"checks"`
}

// NewValidationResult derives the status from checks: any blocking check
// fails the candidate.
func NewValidationResult(ref Ref, checks []CheckResult) ValidationResult {
	status := StatusPassed
	for _, c := range checks {
		if c.Blocking() {
			status = StatusFailed
			break
		}
	}
	return ValidationResult{Ref: ref, Status: status, Checks: checks}
}

// Passed reports whether the candidate may be published.
func (r ValidationResult) Passed() bool {
	return r.Status == StatusPassed
}

// Failures returns the blocking check results.
func (r ValidationResult) Failures() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if c.Blocking() {
			out = append(out, c)
		}
	}
	return out
}

// Warnings returns the downgraded check results.
func (r ValidationResult) Warnings() []CheckResult {
	var out []CheckResult
	for _, c := range r.Checks {
		if !c.Passed && c.Warning {
			out = append(out, c)
		}
	}
	return out
}
