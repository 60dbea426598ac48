package resolve

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/release/snapshot"
)

// TreeHash returns the content hash of a file tree.
//
// The hash covers the slash-separated path and content digest of every
// regular file, visited in lexical order, so it is independent of file
// modes, timestamps, and the order a filesystem returns entries in.
// Symlinks and other special files are skipped.
func TreeHash(ctx context.Context, fsys fs.FS) (digest.Digest, error) {
	var b strings.Builder
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fd, err := snapshot.FileDigest(fsys, p)
		if err != nil {
			return err
		}
		b.WriteString(p)
		b.WriteByte(0)
		b.WriteString(fd.String())
		b.WriteByte('\n')
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("hash tree: %w", err)
	}
	return digest.FromString(b.String()), nil
}

// dirExists reports whether dir is a directory in fsys.
func dirExists(fsys fs.FS, dir string) (bool, error) {
	info, err := fs.Stat(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}
