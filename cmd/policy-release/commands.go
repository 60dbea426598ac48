package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/meigma/release"
	"github.com/meigma/release/backend"
	"github.com/meigma/release/backend/memory"
	"github.com/meigma/release/backend/objectstore"
	"github.com/meigma/release/backend/oci"
	"github.com/meigma/release/config"
	"github.com/meigma/release/ledger"
	"github.com/meigma/release/orchestrator"
	"github.com/meigma/release/report"
	"github.com/meigma/release/resolve"
	"github.com/meigma/release/snapshot"
	"github.com/meigma/release/validate"
)

type options struct {
	configPath string
	previous   string
	current    string
	strategy   string
	output     string
	logLevel   string
	logFormat  string

	format report.Format
	logger *slog.Logger
	env    config.Env
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "release.yaml", "path to the release configuration")
	fs.StringVar(&o.previous, "previous", "", "snapshot released last (default: the ledger's last full release, else an empty tree)")
	fs.StringVar(&o.current, "current", "", "snapshot to release (required)")
	fs.StringVar(&o.strategy, "strategy", "", "override publish.strategy: atomic or best-effort")
	fs.StringVarP(&o.output, "output", "o", "text", "report format: text, json or yaml")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	fs.StringVar(&o.logFormat, "log-format", "text", "log format: text or json")
}

func (o *options) validate() error {
	if o.current == "" {
		return errors.New("--current is required")
	}
	if o.strategy != "" && !release.Strategy(o.strategy).Valid() {
		return fmt.Errorf("--strategy must be %q or %q, got %q", release.StrategyAtomic, release.StrategyBestEffort, o.strategy)
	}
	f, err := report.ParseFormat(o.output)
	if err != nil {
		return fmt.Errorf("--output: %w", err)
	}
	o.format = f
	return nil
}

func (o *options) loadConfig() (config.Config, error) {
	env := o.env
	if env == nil {
		env = config.OSEnv
	}
	cfg, err := config.LoadWithEnv(o.configPath, env)
	if err != nil {
		return config.Config{}, &exitError{code: report.ExitUsage, err: err}
	}
	if o.strategy != "" {
		cfg.Publish.Strategy = release.Strategy(o.strategy)
	}
	return cfg, nil
}

func newResolver(cfg config.Config, logger *slog.Logger) *resolve.Resolver {
	src := snapshot.NewDir(cfg.Source.Root, snapshot.WithLogger(logger))
	return resolve.New(src, resolve.WithRoot(cfg.Source.PoliciesDir), resolve.WithLogger(logger))
}

func newPipeline(cfg config.Config, logger *slog.Logger) (*validate.Pipeline, error) {
	p, err := validate.NewPipeline(cfg.Validation.Config, validate.WithLogger(logger))
	if err != nil {
		return nil, &exitError{code: report.ExitUsage, err: err}
	}
	return p, nil
}

func newRegistry() *backend.Registry {
	r := backend.NewRegistry()
	memory.Register(r)
	oci.Register(r)
	objectstore.Register(r)
	return r
}

// openLedger returns nil when the configuration records nothing. The close
// func is always safe to call.
func openLedger(ctx context.Context, cfg config.Config, logger *slog.Logger) (ledger.Ledger, func(), error) {
	switch cfg.Ledger.Kind {
	case config.LedgerMemory:
		return ledger.NewMemory(), func() {}, nil
	case config.LedgerPostgres:
		db, err := ledger.Open(ctx, ledger.DefaultConfig(cfg.Ledger.URL))
		if err != nil {
			return nil, func() {}, err
		}
		pg := ledger.NewPostgres(db, ledger.WithLogger(logger))
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, func() {}, err
		}
		return pg, func() { _ = db.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

func runRelease(ctx context.Context, opts *options, stdout io.Writer) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(cfg, opts.logger)
	if err != nil {
		return err
	}
	adapters, err := newRegistry().BuildAll(ctx, cfg.Targets)
	if err != nil {
		return &exitError{code: report.ExitUsage, err: err}
	}
	led, closeLedger, err := openLedger(ctx, cfg, opts.logger)
	if err != nil {
		return err
	}
	defer closeLedger()

	previous := opts.previous
	if previous == "" && led != nil {
		last, ok, err := led.LastPublished(ctx)
		if err != nil {
			return err
		}
		if ok {
			previous = last
			opts.logger.Info("using last published snapshot as previous", "previous", previous)
		}
	}

	orch, err := orchestrator.New(newResolver(cfg, opts.logger), pipeline, adapters,
		orchestrator.WithStrategy(cfg.Publish.Strategy),
		orchestrator.WithRecoveryPolicy(cfg.Recovery),
		orchestrator.WithMaxParallelJobs(cfg.MaxParallelJobs()),
		orchestrator.WithRetryDelays(cfg.Publish.RetryBaseDelay, cfg.Publish.RetryMaxDelay),
		orchestrator.WithLedger(led),
		orchestrator.WithLogger(opts.logger),
	)
	if err != nil {
		return &exitError{code: report.ExitUsage, err: err}
	}

	rep, runErr := orch.Run(ctx, previous, opts.current)
	if err := report.Write(stdout, rep, opts.format); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if runErr != nil {
		return &exitError{code: report.ExitFailed, err: runErr}
	}
	if code := rep.ExitCode(); code != report.ExitSucceeded {
		return &exitError{code: code}
	}
	return nil
}

// runValidate resolves and validates without touching any target. The
// report's phase is succeeded when every candidate passed.
func runValidate(ctx context.Context, opts *options, stdout io.Writer) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(cfg, opts.logger)
	if err != nil {
		return err
	}

	state := release.NewState("validate", cfg.Publish.Strategy, nil)
	state.PreviousRef, state.CurrentRef = opts.previous, opts.current

	cands, runErr := newResolver(cfg, opts.logger).Resolve(ctx, opts.previous, opts.current)
	if runErr == nil {
		runErr = validateAll(ctx, state, pipeline, cands)
	}
	phase := release.PhaseSucceeded
	if runErr != nil || len(state.ValidationFailed()) > 0 {
		phase = release.PhaseFailed
	}
	if err := state.Advance(phase); err != nil {
		return err
	}

	rep := report.Build(state, nil, runErr)
	if err := report.Write(stdout, rep, opts.format); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if runErr != nil {
		return &exitError{code: report.ExitFailed, err: runErr}
	}
	if code := rep.ExitCode(); code != report.ExitSucceeded {
		return &exitError{code: code}
	}
	return nil
}

func validateAll(ctx context.Context, state *release.State, pipeline *validate.Pipeline, cands []release.Candidate) error {
	for _, c := range cands {
		if err := state.AddCandidate(c.Ref); err != nil {
			return err
		}
	}
	if err := state.Advance(release.PhaseValidating); err != nil {
		return err
	}
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := state.SetValidation(pipeline.Validate(ctx, c)); err != nil {
			return err
		}
	}
	return nil
}

func runResolve(ctx context.Context, opts *options, stdout io.Writer) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	cands, err := newResolver(cfg, opts.logger).Resolve(ctx, opts.previous, opts.current)
	if err != nil {
		return err
	}
	refs := make([]release.Ref, len(cands))
	for i, c := range cands {
		refs[i] = c.Ref
	}

	switch opts.format {
	case report.FormatJSON:
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(refs)
	case report.FormatYAML:
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(refs); err != nil {
			return err
		}
		return enc.Close()
	default:
		for _, ref := range refs {
			if _, err := fmt.Fprintf(stdout, "%s\t%s\n", ref, ref.ContentHash); err != nil {
				return err
			}
		}
		return nil
	}
}
