package validate

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"github.com/meigma/release"
)

// Pipeline runs the configured checks over candidates. A Pipeline is safe for
// concurrent use; each Validate call works on its own candidate.
type Pipeline struct {
	cfg    Config
	checks []check
	oracle BuildOracle
	logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithBuildOracle sets the oracle consulted by the build check.
func WithBuildOracle(oracle BuildOracle) Option {
	return func(p *Pipeline) {
		p.oracle = oracle
	}
}

// WithLogger sets the logger for validation runs.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// NewPipeline builds a pipeline from cfg.
//
// Checks are ordered structural first and then by declaration. The rego
// check is included only when the config carries a Rego module, and the build
// check only when EnableGoBuildValidation is set. When build validation is
// enabled without WithBuildOracle, an ExecOracle is used.
func NewPipeline(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if cfg.EnableGoBuildValidation && p.oracle == nil {
		p.oracle = NewExecOracle(WithExecLogger(p.logger))
	}

	rule, err := loadRego(context.Background(), &p.cfg)
	if err != nil {
		return nil, err
	}

	for _, name := range p.cfg.checks() {
		switch name {
		case CheckRequiredFiles:
			p.checks = append(p.checks, requiredFilesCheck(&p.cfg))
		case CheckRequiredDirs:
			p.checks = append(p.checks, requiredDirsCheck(&p.cfg))
		case CheckMetadata:
			p.checks = append(p.checks, metadataCheck(&p.cfg))
		case CheckIdentity:
			p.checks = append(p.checks, identityCheck())
		case CheckDefinition:
			p.checks = append(p.checks, definitionCheck(&p.cfg))
		case CheckDocs:
			p.checks = append(p.checks, docsCheck(&p.cfg))
		case CheckRego:
			if rule != nil {
				p.checks = append(p.checks, regoCheck(rule))
			}
		case CheckBuild:
			if p.cfg.EnableGoBuildValidation {
				if p.oracle == nil {
					return nil, ErrNoOracle
				}
				p.checks = append(p.checks, buildCheck(p.oracle))
			}
		}
	}
	slices.SortStableFunc(p.checks, func(a, b check) int {
		return cmp.Compare(class(a), class(b))
	})
	return p, nil
}

func class(c check) int {
	if c.structural {
		return 0
	}
	return 1
}

func (p *Pipeline) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// Config returns the active rule set.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// Checks returns the names of the checks in execution order.
func (p *Pipeline) Checks() []string {
	names := make([]string, len(p.checks))
	for i, c := range p.checks {
		names[i] = c.name
	}
	return names
}

// Validate runs the checks over cand and returns the verdict.
//
// A failed structural check stops the run; the skipped checks do not appear
// in the result. In permissive mode failed content checks are recorded as
// warnings and do not fail the candidate. Cancellation between checks is
// recorded as a failed "cancelled" check.
func (p *Pipeline) Validate(ctx context.Context, cand release.Candidate) release.ValidationResult {
	in := &input{cand: cand, cfg: &p.cfg}
	results := make([]release.CheckResult, 0, len(p.checks))

	for _, c := range p.checks {
		if err := ctx.Err(); err != nil {
			results = append(results, release.CheckResult{Name: "cancelled", Message: err.Error()})
			break
		}
		res := c.run(ctx, in)
		if !res.Passed && !c.structural && !p.cfg.StrictValidation {
			res.Warning = true
		}
		results = append(results, res)
		if !res.Passed && c.structural {
			p.log().Debug("structural check failed, skipping remaining checks",
				"policy", cand.Name, "version", cand.Version, "check", c.name)
			break
		}
	}

	vr := release.NewValidationResult(cand.Ref, results)
	attrs := []any{"policy", cand.Name, "version", cand.Version, "status", vr.Status, "checks", len(results)}
	if vr.Passed() {
		p.log().Info("candidate validated", attrs...)
	} else {
		for _, f := range vr.Failures() {
			attrs = append(attrs, "failed_"+f.Name, f.Message)
		}
		p.log().Warn("candidate failed validation", attrs...)
	}
	return vr
}
