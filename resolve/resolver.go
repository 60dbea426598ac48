package resolve

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/meigma/release"
	"github.com/meigma/release/snapshot"
)

// Resolver computes release candidates from a snapshot source.
type Resolver struct {
	source snapshot.Source
	root   string
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRoot sets the directory, relative to the tree root, that holds the
// policy directories. The default is the tree root itself.
func WithRoot(root string) Option {
	return func(r *Resolver) {
		r.root = path.Clean(strings.Trim(root, "/"))
	}
}

// WithLogger sets the logger for resolution.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// New creates a Resolver reading from source.
func New(source snapshot.Source, opts ...Option) *Resolver {
	r := &Resolver{source: source, root: "."}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

// Resolve returns the policy versions present at current that are absent at
// previous or whose content hash differs, ordered by name then version.
//
// Any failure to read either reference is returned as a
// *release.ResolutionError and no candidates are returned. Version
// directories removed at current are not candidates.
func (r *Resolver) Resolve(ctx context.Context, previous, current string) ([]release.Candidate, error) {
	prevTree, err := r.source.ReadTree(ctx, previous)
	if err != nil {
		return nil, &release.ResolutionError{Ref: previous, Err: err}
	}
	curTree, err := r.source.ReadTree(ctx, current)
	if err != nil {
		return nil, &release.ResolutionError{Ref: current, Err: err}
	}
	changed, err := r.source.DiffTrees(ctx, previous, current)
	if err != nil {
		return nil, &release.ResolutionError{Ref: previous + ".." + current, Err: err}
	}

	dirs := r.versionDirs(changed)
	r.log().Debug("resolving", "from", previous, "to", current, "changed_files", len(changed), "version_dirs", len(dirs))

	candidates := make([]release.Candidate, 0, len(dirs))
	for _, key := range dirs {
		cand, ok, err := r.candidate(ctx, prevTree, curTree, key)
		if err != nil {
			return nil, &release.ResolutionError{Ref: current, Err: err}
		}
		if ok {
			candidates = append(candidates, cand)
		}
	}

	slices.SortFunc(candidates, func(a, b release.Candidate) int {
		return release.CompareRefs(a.Ref, b.Ref)
	})
	r.log().Info("resolved candidates", "from", previous, "to", current, "count", len(candidates))
	return candidates, nil
}

// versionDirs maps changed file paths to the distinct (name, version)
// directories that contain them. Paths outside the root or not shaped like
// <name>/<version>/<file> are ignored.
func (r *Resolver) versionDirs(changed []string) []release.Key {
	seen := make(map[release.Key]struct{})
	var out []release.Key
	for _, p := range changed {
		rel, ok := r.relative(p)
		if !ok {
			continue
		}
		parts := strings.SplitN(rel, "/", 3)
		if len(parts) < 3 {
			continue
		}
		key := release.Key{Name: parts[0], Version: parts[1]}
		if release.ValidateName(key.Name) != nil || !release.IsVersion(key.Version) {
			r.log().Debug("skipping path outside a version directory", "path", p)
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func (r *Resolver) relative(p string) (string, bool) {
	if r.root == "." || r.root == "" {
		return p, true
	}
	rest, ok := strings.CutPrefix(p, r.root+"/")
	return rest, ok
}

func (r *Resolver) dir(key release.Key) string {
	return path.Join(r.root, key.Name, key.Version)
}

func (r *Resolver) candidate(ctx context.Context, prevTree, curTree fs.FS, key release.Key) (release.Candidate, bool, error) {
	dir := r.dir(key)

	exists, err := dirExists(curTree, dir)
	if err != nil {
		return release.Candidate{}, false, err
	}
	if !exists {
		r.log().Debug("version removed", "policy", key.Name, "version", key.Version)
		return release.Candidate{}, false, nil
	}

	files, err := fs.Sub(curTree, dir)
	if err != nil {
		return release.Candidate{}, false, fmt.Errorf("open %s: %w", dir, err)
	}
	hash, err := TreeHash(ctx, files)
	if err != nil {
		return release.Candidate{}, false, fmt.Errorf("%s: %w", dir, err)
	}

	if existed, err := dirExists(prevTree, dir); err != nil {
		return release.Candidate{}, false, err
	} else if existed {
		prevFiles, err := fs.Sub(prevTree, dir)
		if err != nil {
			return release.Candidate{}, false, fmt.Errorf("open %s: %w", dir, err)
		}
		prevHash, err := TreeHash(ctx, prevFiles)
		if err != nil {
			return release.Candidate{}, false, fmt.Errorf("%s at previous: %w", dir, err)
		}
		if prevHash == hash {
			return release.Candidate{}, false, nil
		}
		r.log().Info("version content changed", "policy", key.Name, "version", key.Version,
			"previous_hash", prevHash.String(), "content_hash", hash.String())
	}

	return release.Candidate{
		Ref:   release.Ref{Name: key.Name, Version: key.Version, ContentHash: hash},
		Files: files,
	}, true, nil
}
