// policy-release publishes the policy versions that changed between two
// snapshots to every configured target.
//
// Usage:
//
//	policy-release run      [flags] --current REF
//	policy-release validate [flags] --current REF
//	policy-release resolve  [flags] --current REF
//
// run resolves, validates, publishes and reconciles, then prints a report.
// validate stops after validation. resolve only lists the candidates.
// The exit code is 0 on success, 1 on failure, 2 on usage or configuration
// errors and 3 when a release partially succeeded.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/meigma/release/report"
)

// exitError carries a process exit code. A nil err means the command has
// already written its own output.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit code %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func (e *exitError) ExitCode() int { return e.code }

func usageError(format string, args ...any) error {
	return &exitError{code: report.ExitUsage, err: fmt.Errorf(format, args...)}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(exitCode(err, os.Stderr))
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return report.ExitSucceeded
	}
	var coder *exitError
	if errors.As(err, &coder) {
		if coder.err != nil {
			fmt.Fprintf(stderr, "error: %v\n", coder.err)
		}
		return coder.code
	}
	fmt.Fprintf(stderr, "error: %v\n", err)
	return report.ExitFailed
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, opts *options, stdout io.Writer) error
}

var commands = []command{
	{name: "run", summary: "resolve, validate, publish and reconcile a release", run: runRelease},
	{name: "validate", summary: "resolve and validate candidates without publishing", run: runValidate},
	{name: "resolve", summary: "list the candidates between two snapshots", run: runResolve},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage(stdout)
		if len(args) == 0 {
			return &exitError{code: report.ExitUsage}
		}
		return nil
	}

	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		printUsage(stderr)
		return usageError("unknown command %q", args[0])
	}

	opts := &options{}
	flagSet := pflag.NewFlagSet("policy-release "+cmd.name, pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	opts.addFlags(flagSet)
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stdout, cmd, flagSet)
			return nil
		}
		return &exitError{code: report.ExitUsage, err: err}
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stdout, cmd, flagSet)
		return nil
	}
	if flagSet.NArg() > 0 {
		return usageError("unexpected arguments: %s", strings.Join(flagSet.Args(), " "))
	}
	if err := opts.validate(); err != nil {
		return &exitError{code: report.ExitUsage, err: err}
	}

	logger, err := newLogger(stderr, opts.logLevel, opts.logFormat)
	if err != nil {
		return &exitError{code: report.ExitUsage, err: err}
	}
	opts.logger = logger
	return cmd.run(ctx, opts, stdout)
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("--log-format must be text or json, got %q", format)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: policy-release <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-10s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, `Run "policy-release <command> --help" for the command's flags.`)
}

func printHelp(w io.Writer, cmd *command, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, "Usage: policy-release %s [flags]\n\n", cmd.name)
	fmt.Fprintf(w, "%s.\n\n", strings.ToUpper(cmd.summary[:1])+cmd.summary[1:])
	fmt.Fprintln(w, "Flags:")
	fmt.Fprint(w, flagSet.FlagUsages())
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Exit codes: 0 succeeded, 1 failed, 2 usage error, 3 partially succeeded.")
}
