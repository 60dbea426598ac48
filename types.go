package release

import (
	"cmp"
	"fmt"
	"io/fs"
	"strings"

	"github.com/opencontainers/go-digest"
	"golang.org/x/mod/semver"
)

// Ref identifies one candidate policy version.
//
// Name matches the contributor directory name, Version is a semantic version
// of the form vMAJOR.MINOR.PATCH, and ContentHash is the digest of the
// version's file tree. A Ref is immutable once computed.
type Ref struct {
	Name        string        `json:"name" yaml:"name"`
	Version     string        `json:"version" yaml:"version"`
	ContentHash digest.Digest `json:"contentHash" yaml:"contentHash"`
}

// Key returns the (name, version) identity of the ref.
func (r Ref) Key() Key {
	return Key{Name: r.Name, Version: r.Version}
}

// String returns "name/version".
func (r Ref) String() string {
	return r.Name + "/" + r.Version
}

// Validate checks the name and version fields.
func (r Ref) Validate() error {
	if err := ValidateName(r.Name); err != nil {
		return err
	}
	if !IsVersion(r.Version) {
		return fmt.Errorf("%w: version %q is not vMAJOR.MINOR.PATCH", ErrInvalidRef, r.Version)
	}
	if r.ContentHash != "" {
		if err := r.ContentHash.Validate(); err != nil {
			return fmt.Errorf("%w: content hash: %v", ErrInvalidRef, err)
		}
	}
	return nil
}

// ValidateName checks that name can be used as a policy directory name.
func ValidateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty name", ErrInvalidRef)
	case strings.ContainsAny(name, `/\`), name == ".", name == "..":
		return fmt.Errorf("%w: name %q is not a directory name", ErrInvalidRef, name)
	}
	return nil
}

// IsVersion reports whether v is a full semantic version with a leading "v"
// and all three numeric components. Pre-release suffixes are accepted.
func IsVersion(v string) bool {
	if !semver.IsValid(v) {
		return false
	}
	// semver.Canonical expands shorthand like "v1" to "v1.0.0" and drops
	// build metadata, so a full version is one that survives unchanged
	// once build metadata is removed.
	core, _, _ := strings.Cut(v, "+")
	return semver.Canonical(v) == core
}

// CompareRefs orders refs by name, then by semantic version precedence, then
// by the literal version string so that the order is total.
func CompareRefs(a, b Ref) int {
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	if c := semver.Compare(a.Version, b.Version); c != 0 {
		return c
	}
	return cmp.Compare(a.Version, b.Version)
}

// Key is the (name, version) identity of a candidate.
type Key struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version" yaml:"version"`
}

// String returns "name/version".
func (k Key) String() string {
	return k.Name + "/" + k.Version
}

// PairKey identifies one (candidate, target) unit of publishing work.
type PairKey struct {
	Key
	Target string `json:"target" yaml:"target"`
}

// String returns "name/version@target".
func (p PairKey) String() string {
	return p.Key.String() + "@" + p.Target
}

// Candidate is a policy version proposed for release together with the file
// tree it was resolved from. Files is rooted at the version directory.
type Candidate struct {
	Ref
	Files fs.FS
}
