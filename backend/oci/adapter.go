// Package oci publishes policy artifacts to OCI registries.
//
// Each policy is a repository below a configured prefix and each version is
// a tag: policy-x v1.2.0 lands at <prefix>/policy-x:v1.2.0. The manifest has
// an empty config and a single layer holding the packaged archive, and it
// carries the candidate's content hash as an annotation so that a retried
// publish can recognise its own earlier write.
package oci

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/registry/remote/errcode"

	"github.com/meigma/release"
	"github.com/meigma/release/artifact"
	"github.com/meigma/release/backend"
)

// Kind is the backend kind registered by Register.
const Kind = "oci"

const (
	// ArtifactType identifies policy archives as an OCI 1.1 artifact type.
	ArtifactType = "application/vnd.meigma.policy.v1"

	// AnnotationContentHash records the candidate's content hash.
	AnnotationContentHash = "dev.meigma.policy.content-hash"

	// AnnotationName records the policy name.
	AnnotationName = "dev.meigma.policy.name"
)

// Adapter is a backend.Adapter for an OCI registry.
type Adapter struct {
	client      OCIClient
	target      release.Target
	repository  string
	annotations map[string]string
	logger      *slog.Logger
}

// NewAdapter creates an adapter for target publishing below repository, for
// example "ghcr.io/acme/policies". Without WithClient, a Client with no
// credentials is used.
func NewAdapter(name, repository string, opts ...Option) (*Adapter, error) {
	repository = strings.TrimSuffix(repository, "/")
	if _, err := parseRef(repository); err != nil {
		return nil, err
	}
	a := &Adapter{
		target:      release.Target{Name: name},
		repository:  repository,
		annotations: make(map[string]string),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.client == nil {
		a.client = New()
	}
	return a, nil
}

// Factory builds an Adapter from a target spec.
//
// Settings: repository (required), plainHTTP, username, password, token,
// dockerConfig.
func Factory(_ context.Context, spec backend.TargetSpec) (backend.Adapter, error) {
	repository, err := spec.Require("repository")
	if err != nil {
		return nil, err
	}
	plain, err := spec.BoolSetting("plainHTTP", false)
	if err != nil {
		return nil, err
	}
	dockerConfig, err := spec.BoolSetting("dockerConfig", false)
	if err != nil {
		return nil, err
	}

	host := normalizeServerAddress(repository)
	clientOpts := []ClientOption{WithPlainHTTP(plain)}
	switch {
	case spec.Setting("token", "") != "":
		clientOpts = append(clientOpts, WithStaticToken(host, spec.Settings["token"]))
	case spec.Setting("username", "") != "":
		clientOpts = append(clientOpts, WithStaticCredentials(host, spec.Settings["username"], spec.Settings["password"]))
	case dockerConfig:
		clientOpts = append(clientOpts, WithDockerConfig())
	}

	return NewAdapter(spec.Name, repository,
		WithClient(New(clientOpts...)),
		WithRollback(spec.SupportsRollback),
	)
}

// Register adds the oci kind to r.
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

// Tag returns the tag a version is published under. OCI tags cannot contain
// "+", so build metadata is joined with "_".
func Tag(version string) string {
	return strings.ReplaceAll(version, "+", "_")
}

func (a *Adapter) repoRef(ref release.Ref) string {
	return a.repository + "/" + ref.Name
}

// Publish implements backend.Adapter.
func (a *Adapter) Publish(ctx context.Context, art *artifact.Artifact) (backend.Result, error) {
	ref := art.Ref
	repoRef := a.repoRef(ref)
	tag := Tag(ref.Version)
	loc := repoRef + ":" + tag

	existing, found, err := a.lookup(ctx, ref)
	if err != nil {
		return backend.Result{}, classify("idempotency check", err)
	}
	if found {
		if existing != ref.ContentHash.String() {
			return backend.Result{}, backend.TerminalError("publish",
				fmt.Errorf("%w: %s has content hash %q", backend.ErrConflict, loc, existing))
		}
		a.log().Debug("artifact already published", "target", a.target.Name, "ref", loc)
		return backend.Result{AlreadyPublished: true, Location: loc}, nil
	}

	configDesc, err := a.pushEmptyConfig(ctx, repoRef)
	if err != nil {
		return backend.Result{}, classify("push config", err)
	}

	layer := ocispec.Descriptor{
		MediaType: art.MediaType,
		Digest:    art.Digest,
		Size:      art.Size(),
		Annotations: map[string]string{
			ocispec.AnnotationTitle: ref.Name + "-" + ref.Version + ".tar.zst",
		},
	}
	if err := a.client.PushBlob(ctx, repoRef, &layer, bytes.NewReader(art.Data)); err != nil {
		return backend.Result{}, classify("push layer", err)
	}

	manifest := a.buildManifest(ref, &configDesc, &layer)
	desc, err := a.client.PushManifest(ctx, repoRef, tag, &manifest)
	if err != nil {
		return backend.Result{}, classify("push manifest", err)
	}

	a.log().Info("pushed policy artifact", "target", a.target.Name, "ref", loc, "digest", desc.Digest.String())
	return backend.Result{Location: loc + "@" + desc.Digest.String()}, nil
}

// Exists implements backend.Adapter.
func (a *Adapter) Exists(ctx context.Context, ref release.Ref) (bool, error) {
	hash, found, err := a.lookup(ctx, ref)
	if err != nil {
		return false, classify("exists", err)
	}
	return found && hash == ref.ContentHash.String(), nil
}

// Rollback implements backend.Rollbacker by deleting the tagged manifest.
func (a *Adapter) Rollback(ctx context.Context, ref release.Ref) error {
	if !a.target.SupportsRollback {
		return backend.TerminalError("rollback", backend.ErrRollbackUnsupported)
	}
	repoRef := a.repoRef(ref)
	desc, err := a.client.Resolve(ctx, repoRef, Tag(ref.Version))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return classify("rollback resolve", err)
	}
	if err := a.client.Delete(ctx, repoRef, &desc); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return classify("rollback delete", err)
	}
	a.log().Info("deleted policy artifact", "target", a.target.Name, "ref", repoRef+":"+Tag(ref.Version))
	return nil
}

// lookup returns the content hash annotation of the manifest tagged for ref.
func (a *Adapter) lookup(ctx context.Context, ref release.Ref) (string, bool, error) {
	repoRef := a.repoRef(ref)
	desc, err := a.client.Resolve(ctx, repoRef, Tag(ref.Version))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	manifest, err := a.client.FetchManifest(ctx, repoRef, &desc)
	if err != nil {
		return "", false, err
	}
	if manifest.ArtifactType != ArtifactType {
		return "", false, fmt.Errorf("%w: %s:%s has artifact type %q", ErrManifestInvalid, repoRef, Tag(ref.Version), manifest.ArtifactType)
	}
	return manifest.Annotations[AnnotationContentHash], true, nil
}

// pushEmptyConfig pushes the empty JSON config blob required by OCI manifests.
func (a *Adapter) pushEmptyConfig(ctx context.Context, repoRef string) (ocispec.Descriptor, error) {
	config := []byte("{}")
	desc := ocispec.Descriptor{
		MediaType: ocispec.MediaTypeEmptyJSON,
		Digest:    digest.FromBytes(config),
		Size:      int64(len(config)),
	}
	if err := a.client.PushBlob(ctx, repoRef, &desc, bytes.NewReader(config)); err != nil {
		return ocispec.Descriptor{}, err
	}
	return desc, nil
}

func (a *Adapter) buildManifest(ref release.Ref, configDesc, layer *ocispec.Descriptor) ocispec.Manifest {
	annotations := make(map[string]string, len(a.annotations)+4)
	for k, v := range a.annotations {
		annotations[k] = v
	}
	annotations[AnnotationName] = ref.Name
	annotations[AnnotationContentHash] = ref.ContentHash.String()
	annotations[ocispec.AnnotationVersion] = ref.Version
	if _, ok := annotations[ocispec.AnnotationCreated]; !ok {
		annotations[ocispec.AnnotationCreated] = time.Now().UTC().Format(time.RFC3339)
	}

	return ocispec.Manifest{
		Versioned:    specs.Versioned{SchemaVersion: 2},
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: ArtifactType,
		Config:       *configDesc,
		Layers:       []ocispec.Descriptor{*layer},
		Annotations:  annotations,
	}
}

// classify turns a registry error into a backend.Error. Throttling, server
// errors, and transport failures are retryable; everything else, including
// authentication and malformed requests, is terminal.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidReference), errors.Is(err, ErrInvalidDescriptor),
		errors.Is(err, ErrManifestInvalid), errors.Is(err, ErrUnsupported):
		return backend.TerminalError(op, err)
	}
	var errResp *errcode.ErrorResponse
	if errors.As(err, &errResp) {
		if errResp.StatusCode == http.StatusTooManyRequests || errResp.StatusCode >= http.StatusInternalServerError {
			return backend.RetryableError(op, err)
		}
		return backend.TerminalError(op, err)
	}
	return backend.Classify(op, err)
}

var (
	_ backend.Adapter    = (*Adapter)(nil)
	_ backend.Rollbacker = (*Adapter)(nil)
)
