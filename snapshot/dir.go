package snapshot

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Dir is a Source backed by exported checkouts on disk: reference r is the
// directory <root>/<r>.
type Dir struct {
	root   string
	logger *slog.Logger
}

// DirOption configures a Dir.
type DirOption func(*Dir)

// WithLogger sets the logger for snapshot operations.
func WithLogger(logger *slog.Logger) DirOption {
	return func(d *Dir) {
		d.logger = logger
	}
}

// NewDir creates a Source rooted at root.
func NewDir(root string, opts ...DirOption) *Dir {
	d := &Dir{root: root}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dir) log() *slog.Logger {
	if d.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.logger
}

// ReadTree returns the tree at ref. The empty reference returns Empty.
func (d *Dir) ReadTree(ctx context.Context, ref string) (fs.FS, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref == "" {
		return Empty, nil
	}
	dir, err := d.path(ref)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrRefNotFound, ref, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRefNotFound, ref)
	}
	d.log().Debug("read tree", "ref", ref, "path", dir)
	return os.DirFS(dir), nil
}

// DiffTrees returns the files that differ between a and b.
func (d *Dir) DiffTrees(ctx context.Context, a, b string) ([]string, error) {
	ta, err := d.ReadTree(ctx, a)
	if err != nil {
		return nil, err
	}
	tb, err := d.ReadTree(ctx, b)
	if err != nil {
		return nil, err
	}
	changed, err := Diff(ctx, ta, tb)
	if err != nil {
		return nil, fmt.Errorf("diff %s..%s: %w", a, b, err)
	}
	d.log().Debug("diff trees", "from", a, "to", b, "changed", len(changed))
	return changed, nil
}

func (d *Dir) path(ref string) (string, error) {
	if ref == "." || ref == ".." || strings.ContainsAny(ref, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return filepath.Join(d.root, ref), nil
}

var _ Source = (*Dir)(nil)
