//go:build integration

package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/meigma/release/backend"
	"github.com/meigma/release/backend/memory"
	"github.com/meigma/release/backend/objectstore"
	"github.com/meigma/release/backend/oci"
	"github.com/meigma/release/snapshot"
	"github.com/meigma/release/validate"
)

const (
	minioUser     = "release"
	minioPassword = "release-secret"
	pgPassword    = "release"
)

func skipWithoutDocker(tb testing.TB) {
	tb.Helper()
	if os.Getenv("SKIP_DOCKER_TESTS") == "1" {
		tb.Skip("SKIP_DOCKER_TESTS is set")
	}
}

// shared starts a container once per test binary. Cleanup is handled by the
// testcontainers reaper.
type shared struct {
	once sync.Once
	addr string
	err  error
}

func (s *shared) get(tb testing.TB, start func(context.Context) (string, error)) string {
	tb.Helper()
	skipWithoutDocker(tb)
	s.once.Do(func() {
		s.addr, s.err = start(context.Background())
	})
	if s.err != nil {
		tb.Fatalf("start container: %v", s.err)
	}
	return s.addr
}

var (
	registry shared
	minioSrv shared
	postgres shared
)

func startContainer(ctx context.Context, req testcontainers.ContainerRequest, port string) (string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", fmt.Errorf("start %s: %w", req.Image, err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve %s host: %w", req.Image, err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return "", fmt.Errorf("resolve %s port: %w", req.Image, err)
	}
	return fmt.Sprintf("%s:%s", host, mapped.Port()), nil
}

// getRegistry returns the host:port of a registry:2 container that accepts
// manifest deletes.
func getRegistry(tb testing.TB) string {
	tb.Helper()
	return registry.get(tb, func(ctx context.Context) (string, error) {
		return startContainer(ctx, testcontainers.ContainerRequest{
			Image:        "registry:2",
			ExposedPorts: []string{"5000/tcp"},
			Env:          map[string]string{"REGISTRY_STORAGE_DELETE_ENABLED": "true"},
			WaitingFor:   wait.ForHTTP("/v2/").WithPort("5000/tcp").WithStatusCodeMatcher(isOKStatus),
		}, "5000/tcp")
	})
}

// getMinio returns the host:port of a MinIO server.
func getMinio(tb testing.TB) string {
	tb.Helper()
	return minioSrv.get(tb, func(ctx context.Context) (string, error) {
		return startContainer(ctx, testcontainers.ContainerRequest{
			Image:        "minio/minio:latest",
			ExposedPorts: []string{"9000/tcp"},
			Cmd:          []string{"server", "/data"},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStatusCodeMatcher(isOKStatus),
		}, "9000/tcp")
	})
}

// getPostgres returns a connection URL for a PostgreSQL server.
func getPostgres(tb testing.TB) string {
	tb.Helper()
	addr := postgres.get(tb, func(ctx context.Context) (string, error) {
		return startContainer(ctx, testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "release",
				"POSTGRES_PASSWORD": pgPassword,
				"POSTGRES_DB":       "release",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			).WithStartupTimeout(90 * time.Second),
		}, "5432/tcp")
	})
	return fmt.Sprintf("postgres://release:%s@%s/release?sslmode=disable", pgPassword, addr)
}

func isOKStatus(status int) bool {
	return status >= 200 && status < 300
}

// testName turns a test name into something usable as a repository path or
// bucket name.
func testName(tb testing.TB) string {
	name := strings.ToLower(tb.Name())
	name = strings.NewReplacer("/", "-", "_", "-", " ", "-").Replace(name)
	if len(name) > 50 {
		name = name[len(name)-50:]
	}
	return strings.Trim(name, "-")
}

func newRegistry() *backend.Registry {
	r := backend.NewRegistry()
	memory.Register(r)
	oci.Register(r)
	objectstore.Register(r)
	return r
}

// ociSpec is a target publishing to a fresh repository prefix.
func ociSpec(tb testing.TB, name string) backend.TargetSpec {
	tb.Helper()
	return backend.TargetSpec{
		Name:             name,
		Kind:             oci.Kind,
		SupportsRollback: true,
		Settings: map[string]string{
			"repository": getRegistry(tb) + "/" + testName(tb),
			"plainHTTP":  "true",
		},
	}
}

// s3Spec is a target publishing to a freshly created bucket.
func s3Spec(tb testing.TB, name string) backend.TargetSpec {
	tb.Helper()
	endpoint := getMinio(tb)
	bucket := testName(tb)
	if len(bucket) < 3 {
		bucket += "-bucket"
	}

	client, err := objectstore.NewClient(objectstore.Config{
		Endpoint:  endpoint,
		AccessKey: minioUser,
		SecretKey: minioPassword,
		Region:    "us-east-1",
		Bucket:    bucket,
	})
	require.NoError(tb, err)
	require.NoError(tb, client.MakeBucket(context.Background(), bucket, minio.MakeBucketOptions{Region: "us-east-1"}))

	return backend.TargetSpec{
		Name:             name,
		Kind:             objectstore.Kind,
		SupportsRollback: true,
		Settings: map[string]string{
			"endpoint":  endpoint,
			"bucket":    bucket,
			"accessKey": minioUser,
			"secretKey": minioPassword,
			"useSSL":    "false",
		},
	}
}

func addPolicy(fsys fstest.MapFS, name, version string) {
	dir := name + "/" + version + "/"
	fsys[dir+"metadata.json"] = &fstest.MapFile{Data: fmt.Appendf(nil,
		`{"name":%q,"version":%q,"description":"integration policy"}`, name, version)}
	fsys[dir+"policy-definition.yaml"] = &fstest.MapFile{Data: []byte("kind: Policy\nrules: []\n")}
	fsys[dir+"README.md"] = &fstest.MapFile{Data: []byte("# " + name + "\n")}
}

// scenario is prev with policy-x/v1.0.0 and cur adding policy-x/v1.1.0 and
// policy-y/v1.0.0.
func scenario() snapshot.Static {
	prev := fstest.MapFS{}
	addPolicy(prev, "policy-x", "v1.0.0")
	cur := fstest.MapFS{}
	addPolicy(cur, "policy-x", "v1.0.0")
	addPolicy(cur, "policy-x", "v1.1.0")
	addPolicy(cur, "policy-y", "v1.0.0")
	return snapshot.Static{"prev": prev, "cur": cur}
}

func pipeline(tb testing.TB) *validate.Pipeline {
	tb.Helper()
	p, err := validate.NewPipeline(validate.DefaultConfig())
	require.NoError(tb, err)
	return p
}
