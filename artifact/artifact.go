// Package artifact packages a candidate's file tree into the bytes that are
// handed to publish backends.
//
// Archives are deterministic: the same tree always yields the same digest,
// which is what makes publish retries idempotent at the byte level.
package artifact

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/opencontainers/go-digest"

	"github.com/meigma/release"
)

// MediaType identifies a zstd-compressed tar of one policy version.
const MediaType = "application/vnd.meigma.policy.v1.tar+zstd"

// DefaultMaxSize bounds the uncompressed size of an unpacked archive.
const DefaultMaxSize = 256 << 20

var (
	// ErrEmpty is returned when a candidate tree has no files.
	ErrEmpty = errors.New("artifact: empty tree")

	// ErrTooLarge is returned when an archive exceeds the size limit on unpack.
	ErrTooLarge = errors.New("artifact: archive too large")

	// ErrInvalid is returned when archive bytes cannot be decoded.
	ErrInvalid = errors.New("artifact: invalid archive")
)

// Artifact is a packaged policy version.
type Artifact struct {
	Ref       release.Ref
	MediaType string
	Digest    digest.Digest
	Data      []byte
}

// Size returns the archive size in bytes.
func (a *Artifact) Size() int64 {
	return int64(len(a.Data))
}

// Reader returns a reader over the archive bytes.
func (a *Artifact) Reader() io.Reader {
	return bytes.NewReader(a.Data)
}

var epoch = time.Unix(0, 0).UTC()

// Pack archives cand.Files. Entries are regular files in lexical path order
// with fixed modes, owners, and timestamps.
func Pack(ctx context.Context, cand release.Candidate) (*Artifact, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderConcurrency(1), zstd.WithLowerEncoderMem(true))
	if err != nil {
		return nil, fmt.Errorf("artifact: zstd writer: %w", err)
	}
	tw := tar.NewWriter(enc)

	var n int
	err = fs.WalkDir(cand.Files, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := fs.ReadFile(cand.Files, p)
		if err != nil {
			return err
		}
		hdr := &tar.Header{
			Typeflag: tar.TypeReg,
			Name:     p,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  epoch,
			Format:   tar.FormatPAX,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if _, err := tw.Write(data); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("artifact: pack %s: %w", cand.Ref, err)
	}
	if n == 0 {
		enc.Close()
		return nil, fmt.Errorf("%w: %s", ErrEmpty, cand.Ref)
	}
	if err := tw.Close(); err != nil {
		enc.Close()
		return nil, fmt.Errorf("artifact: pack %s: %w", cand.Ref, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("artifact: pack %s: %w", cand.Ref, err)
	}

	data := buf.Bytes()
	return &Artifact{
		Ref:       cand.Ref,
		MediaType: MediaType,
		Digest:    digest.FromBytes(data),
		Data:      data,
	}, nil
}

// Unpack decodes archive bytes into a path to content map. The total
// uncompressed size is limited to DefaultMaxSize.
func Unpack(data []byte) (map[string][]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	defer dec.Close()

	files := make(map[string][]byte)
	var total int64
	tr := tar.NewReader(dec)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return files, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		total += hdr.Size
		if total > DefaultMaxSize {
			return nil, ErrTooLarge
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		files[hdr.Name] = content
	}
}
