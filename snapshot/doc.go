// Package snapshot reads policy repository trees at named references.
//
// A reference is whatever the surrounding system uses to name a state of the
// contributor repository: a commit, a tag, or a directory holding an exported
// checkout. The release engine only needs two capabilities from it, reading a
// tree and listing the paths that differ between two trees, and those are
// what Source describes.
package snapshot
