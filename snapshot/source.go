package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"

	"github.com/opencontainers/go-digest"
)

// Source reads repository trees by reference.
//
// The empty reference names the empty tree, so the first release of a
// repository can be resolved against "".
type Source interface {
	// ReadTree returns the file tree at ref.
	ReadTree(ctx context.Context, ref string) (fs.FS, error)

	// DiffTrees returns the slash-separated paths of regular files that were
	// added, modified, or removed between a and b, sorted ascending.
	DiffTrees(ctx context.Context, a, b string) ([]string, error)
}

// Empty is the empty tree.
var Empty fs.FS = emptyFS{}

type emptyFS struct{}

// Open always fails; walkers treat a missing root as an empty tree.
func (emptyFS) Open(name string) (fs.File, error) {
	return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
}

// Diff compares two trees file by file and returns the changed paths.
//
// Files are compared by content digest. Symlinks and other non-regular files
// are ignored.
func Diff(ctx context.Context, a, b fs.FS) ([]string, error) {
	da, err := Digests(ctx, a)
	if err != nil {
		return nil, err
	}
	db, err := Digests(ctx, b)
	if err != nil {
		return nil, err
	}

	var changed []string
	for p, d := range db {
		if prev, ok := da[p]; !ok || prev != d {
			changed = append(changed, p)
		}
	}
	for p := range da {
		if _, ok := db[p]; !ok {
			changed = append(changed, p)
		}
	}
	slices.Sort(changed)
	return changed, nil
}

// Digests returns the content digest of every regular file in fsys keyed by
// path. A missing root yields an empty map.
func Digests(ctx context.Context, fsys fs.FS) (map[string]digest.Digest, error) {
	out := make(map[string]digest.Digest)
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == "." && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		dg, err := FileDigest(fsys, p)
		if err != nil {
			return err
		}
		out[p] = dg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FileDigest returns the sha256 digest of one file.
func FileDigest(fsys fs.FS, name string) (digest.Digest, error) {
	f, err := fsys.Open(name)
	if err != nil {
		return "", err
	}
	defer f.Close()

	dg, err := digest.SHA256.FromReader(f)
	if err != nil {
		return "", fmt.Errorf("digest %s: %w", name, err)
	}
	return dg, nil
}
