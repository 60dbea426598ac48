// Package validate runs the configurable check pipeline over release
// candidates.
//
// Checks come in two classes. Structural checks (required files and
// directories) always run first; if one fails the remaining checks are
// skipped, since content checks on a malformed tree only produce noise.
// Content checks (metadata fields, identity, definition file, docs, Rego
// rules, and the optional build check) run afterwards in the order they are
// declared in the Config.
//
// Rules are runtime data: a Config is usually loaded from a JSONC or YAML
// file with LoadConfig.
package validate
