//go:build integration

// Package integration runs release scenarios against real services.
//
// The tests start an OCI registry, a MinIO server and PostgreSQL with
// testcontainers and share them across tests. Set SKIP_DOCKER_TESTS=1 to
// skip them.
//
// Run with: go test -tags=integration ./integration/...
package integration
