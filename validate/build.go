package validate

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/meigma/release"
)

// BuildOracle decides whether a candidate's implementation compiles. Its
// verdict is trusted as-is.
type BuildOracle interface {
	Build(ctx context.Context, cand release.Candidate) error
}

// BuildOracleFunc adapts a function to BuildOracle.
type BuildOracleFunc func(ctx context.Context, cand release.Candidate) error

// Build calls f.
func (f BuildOracleFunc) Build(ctx context.Context, cand release.Candidate) error {
	return f(ctx, cand)
}

// ExecOracle compiles a candidate with the Go toolchain. The candidate tree
// is copied to a temporary directory and "go build ./..." runs there.
type ExecOracle struct {
	goBin     string
	env       []string
	maxOutput int
	logger    *slog.Logger
}

// ExecOption configures an ExecOracle.
type ExecOption func(*ExecOracle)

// WithGoBinary sets the go command to run. Defaults to "go" on PATH.
func WithGoBinary(path string) ExecOption {
	return func(o *ExecOracle) {
		o.goBin = path
	}
}

// WithEnv appends environment variables to the build environment.
func WithEnv(env ...string) ExecOption {
	return func(o *ExecOracle) {
		o.env = append(o.env, env...)
	}
}

// WithExecLogger sets the logger for build runs.
func WithExecLogger(logger *slog.Logger) ExecOption {
	return func(o *ExecOracle) {
		o.logger = logger
	}
}

// NewExecOracle creates an ExecOracle.
func NewExecOracle(opts ...ExecOption) *ExecOracle {
	o := &ExecOracle{goBin: "go", maxOutput: 4 << 10}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *ExecOracle) log() *slog.Logger {
	if o.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.logger
}

// Build implements BuildOracle.
func (o *ExecOracle) Build(ctx context.Context, cand release.Candidate) error {
	dir, err := os.MkdirTemp("", "policy-build-*")
	if err != nil {
		return fmt.Errorf("build workspace: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := os.CopyFS(dir, cand.Files); err != nil {
		return fmt.Errorf("build workspace: %w", err)
	}

	//nolint:gosec // goBin is operator-configured
	cmd := exec.CommandContext(ctx, o.goBin, "build", "./...")
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), o.env...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	o.log().Debug("building candidate", "policy", cand.Name, "version", cand.Version, "dir", dir)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %v: %s", ErrBuildFailed, err, o.tail(out.String()))
	}
	return nil
}

func (o *ExecOracle) tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > o.maxOutput {
		s = "..." + s[len(s)-o.maxOutput:]
	}
	return s
}

var _ BuildOracle = (*ExecOracle)(nil)
