package snapshot

import (
	"context"
	"fmt"
	"io/fs"
)

// Static is a Source over in-memory trees keyed by reference.
type Static map[string]fs.FS

// ReadTree returns the tree registered for ref.
func (s Static) ReadTree(ctx context.Context, ref string) (fs.FS, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref == "" {
		return Empty, nil
	}
	t, ok := s[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRefNotFound, ref)
	}
	return t, nil
}

// DiffTrees returns the files that differ between a and b.
func (s Static) DiffTrees(ctx context.Context, a, b string) ([]string, error) {
	ta, err := s.ReadTree(ctx, a)
	if err != nil {
		return nil, err
	}
	tb, err := s.ReadTree(ctx, b)
	if err != nil {
		return nil, err
	}
	return Diff(ctx, ta, tb)
}

var _ Source = Static(nil)
