// Package objectstore publishes policy artifacts to an S3-compatible bucket.
//
// Each version is one object, <prefix>/<name>/<version>/policy.tar.zst. The
// candidate's content hash is stored as user metadata and checked by the
// idempotency probe before every write.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/meigma/release"
	"github.com/meigma/release/artifact"
	"github.com/meigma/release/backend"
)

// Kind is the backend kind registered by Register.
const Kind = "s3"

const (
	// MetaContentHash is the user metadata key holding the content hash.
	MetaContentHash = "Content-Hash"
	// MetaArtifactDigest is the user metadata key holding the archive digest.
	MetaArtifactDigest = "Artifact-Digest"

	objectName = "policy.tar.zst"
)

// objectAPI is the subset of *minio.Client the adapter uses.
type objectAPI interface {
	PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucket, object string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucket, object string, opts minio.RemoveObjectOptions) error
}

// Config holds connection settings for an S3-compatible endpoint.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
	Prefix    string
}

// Validate checks the config fields.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return fmt.Errorf("%w: endpoint is required", backend.ErrInvalidSettings)
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("%w: endpoint must not include scheme: %q", backend.ErrInvalidSettings, c.Endpoint)
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return fmt.Errorf("%w: bucket is required", backend.ErrInvalidSettings)
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		return fmt.Errorf("%w: access key and secret key must be set together", backend.ErrInvalidSettings)
	}
	return nil
}

// NewClient creates a minio client for cfg.
func NewClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
}

// Adapter is a backend.Adapter for an S3 bucket.
type Adapter struct {
	store  objectAPI
	target release.Target
	bucket string
	prefix string
	logger *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithPrefix sets the key prefix objects are stored under.
func WithPrefix(prefix string) Option {
	return func(a *Adapter) {
		a.prefix = strings.Trim(prefix, "/")
	}
}

// WithRollback sets whether the target advertises rollback support.
func WithRollback(enabled bool) Option {
	return func(a *Adapter) {
		a.target.SupportsRollback = enabled
	}
}

// WithLogger sets the logger for publish operations.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// NewAdapter creates an adapter writing to bucket through store.
func NewAdapter(name string, store objectAPI, bucket string, opts ...Option) *Adapter {
	a := &Adapter{
		store:  store,
		target: release.Target{Name: name},
		bucket: bucket,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Factory builds an Adapter from a target spec.
//
// Settings: endpoint, bucket (required), accessKey, secretKey, region,
// useSSL, prefix.
func Factory(_ context.Context, spec backend.TargetSpec) (backend.Adapter, error) {
	useSSL, err := spec.BoolSetting("useSSL", true)
	if err != nil {
		return nil, err
	}
	cfg := Config{
		Endpoint:  spec.Setting("endpoint", ""),
		AccessKey: spec.Setting("accessKey", ""),
		SecretKey: spec.Setting("secretKey", ""),
		Region:    spec.Setting("region", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    spec.Setting("bucket", ""),
		Prefix:    spec.Setting("prefix", "policies"),
	}
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewAdapter(spec.Name, client, cfg.Bucket,
		WithPrefix(cfg.Prefix),
		WithRollback(spec.SupportsRollback),
	), nil
}

// Register adds the s3 kind to r.
func Register(r *backend.Registry) {
	r.Register(Kind, Factory)
}

func (a *Adapter) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// Target implements backend.Adapter.
func (a *Adapter) Target() release.Target {
	return a.target
}

// ObjectKey returns the key an artifact for ref is stored under.
func (a *Adapter) ObjectKey(ref release.Ref) string {
	return path.Join(a.prefix, ref.Name, ref.Version, objectName)
}

// Publish implements backend.Adapter.
func (a *Adapter) Publish(ctx context.Context, art *artifact.Artifact) (backend.Result, error) {
	key := a.ObjectKey(art.Ref)
	loc := "s3://" + a.bucket + "/" + key

	hash, found, err := a.stat(ctx, key)
	if err != nil {
		return backend.Result{}, classify("idempotency check", err)
	}
	if found {
		if hash != art.Ref.ContentHash.String() {
			return backend.Result{}, backend.TerminalError("publish",
				fmt.Errorf("%w: %s has content hash %q", backend.ErrConflict, loc, hash))
		}
		a.log().Debug("artifact already published", "target", a.target.Name, "key", key)
		return backend.Result{AlreadyPublished: true, Location: loc}, nil
	}

	info, err := a.store.PutObject(ctx, a.bucket, key, art.Reader(), art.Size(), minio.PutObjectOptions{
		ContentType: art.MediaType,
		UserMetadata: map[string]string{
			MetaContentHash:    art.Ref.ContentHash.String(),
			MetaArtifactDigest: art.Digest.String(),
		},
	})
	if err != nil {
		return backend.Result{}, classify("put object", err)
	}
	a.log().Info("uploaded policy artifact", "target", a.target.Name, "key", key, "size", info.Size)
	return backend.Result{Location: loc}, nil
}

// Exists implements backend.Adapter.
func (a *Adapter) Exists(ctx context.Context, ref release.Ref) (bool, error) {
	hash, found, err := a.stat(ctx, a.ObjectKey(ref))
	if err != nil {
		return false, classify("exists", err)
	}
	return found && hash == ref.ContentHash.String(), nil
}

// Rollback implements backend.Rollbacker. S3 deletes of absent keys succeed.
func (a *Adapter) Rollback(ctx context.Context, ref release.Ref) error {
	if !a.target.SupportsRollback {
		return backend.TerminalError("rollback", backend.ErrRollbackUnsupported)
	}
	key := a.ObjectKey(ref)
	if err := a.store.RemoveObject(ctx, a.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return classify("remove object", err)
	}
	a.log().Info("removed policy artifact", "target", a.target.Name, "key", key)
	return nil
}

// stat returns the content hash metadata of key.
func (a *Adapter) stat(ctx context.Context, key string) (string, bool, error) {
	info, err := a.store.StatObject(ctx, a.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	for k, v := range info.UserMetadata {
		if strings.EqualFold(k, MetaContentHash) || strings.EqualFold(k, "X-Amz-Meta-"+MetaContentHash) {
			return v, true, nil
		}
	}
	return "", true, nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || (resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket")
}

// retryableCodes are S3 error codes for transient conditions.
var retryableCodes = map[string]bool{
	"SlowDown":           true,
	"RequestTimeout":     true,
	"InternalError":      true,
	"ServiceUnavailable": true,
}

// classify turns an S3 error into a backend.Error.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return backend.TerminalError(op, err)
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case retryableCodes[resp.Code]:
		return backend.RetryableError(op, err)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return backend.RetryableError(op, err)
	case resp.StatusCode != 0:
		return backend.TerminalError(op, err)
	}
	return backend.Classify(op, err)
}

var (
	_ backend.Adapter    = (*Adapter)(nil)
	_ backend.Rollbacker = (*Adapter)(nil)
	_ objectAPI          = (*minio.Client)(nil)
)
