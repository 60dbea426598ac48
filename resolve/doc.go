// Package resolve computes the set of policy versions a release must handle.
//
// A contributor repository stores each policy version in its own directory,
// <name>/<version>/, optionally below a common root. Given two snapshot
// references the Resolver reports every version directory that is new at the
// current reference or whose content changed, each identified by a content
// hash over its file tree.
package resolve
