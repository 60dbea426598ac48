package oci

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/errcode"
	"oras.land/oras-go/v2/registry/remote/retry"
)

// OCIClient is the subset of registry operations the adapter needs.
type OCIClient interface {
	// PushBlob pushes a blob. The descriptor must carry the digest and size.
	PushBlob(ctx context.Context, repoRef string, desc *ocispec.Descriptor, r io.Reader) error

	// PushManifest pushes a manifest and tags it.
	PushManifest(ctx context.Context, repoRef, tag string, manifest *ocispec.Manifest) (ocispec.Descriptor, error)

	// FetchManifest fetches a manifest by descriptor.
	FetchManifest(ctx context.Context, repoRef string, expected *ocispec.Descriptor) (ocispec.Manifest, error)

	// Resolve resolves a tag or digest to a descriptor.
	Resolve(ctx context.Context, repoRef, ref string) (ocispec.Descriptor, error)

	// Delete deletes a manifest.
	Delete(ctx context.Context, repoRef string, desc *ocispec.Descriptor) error
}

// Client performs registry operations through ORAS.
type Client struct {
	plainHTTP  bool
	userAgent  string
	anonymous  bool // skip credential lookup entirely
	credStore  credentials.Store
	authClient *auth.Client // shared auth client with token cache
}

// New creates a Client.
func New(opts ...ClientOption) *Client {
	c := &Client{userAgent: "policy-release/1.0"}
	for _, opt := range opts {
		opt(c)
	}

	c.authClient = &auth.Client{
		Client: retry.DefaultClient,
		Cache:  auth.NewCache(),
		Credential: func(ctx context.Context, hostport string) (auth.Credential, error) {
			if c.anonymous || c.credStore == nil {
				return auth.EmptyCredential, nil
			}
			return c.credStore.Get(ctx, hostport)
		},
		Header: http.Header{
			"User-Agent": []string{c.userAgent},
		},
	}
	return c
}

// repository creates a Repository for the given reference using the shared
// auth client so tokens are reused across requests.
func (c *Client) repository(ref string) (*remote.Repository, error) {
	repo, err := remote.NewRepository(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidReference, ref, err)
	}
	repo.PlainHTTP = c.plainHTTP
	repo.Client = c.authClient
	return repo, nil
}

// parseRef parses a full reference into registry, repository, and tag/digest.
func parseRef(ref string) (registry.Reference, error) {
	r, err := registry.ParseReference(ref)
	if err != nil {
		return registry.Reference{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return r, nil
}

// PushBlob implements OCIClient.
func (c *Client) PushBlob(ctx context.Context, repoRef string, desc *ocispec.Descriptor, r io.Reader) error {
	if err := validateDescriptor(desc); err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("%w: content reader is nil", ErrInvalidDescriptor)
	}
	repo, err := c.repository(repoRef)
	if err != nil {
		return err
	}
	if err := repo.Push(ctx, *desc, r); err != nil {
		if errors.Is(err, errdef.ErrAlreadyExists) {
			return nil
		}
		return mapError(err)
	}
	return nil
}

// PushManifest implements OCIClient.
func (c *Client) PushManifest(ctx context.Context, repoRef, tag string, manifest *ocispec.Manifest) (ocispec.Descriptor, error) {
	if manifest == nil {
		return ocispec.Descriptor{}, fmt.Errorf("%w: manifest is nil", ErrManifestInvalid)
	}
	repo, err := c.repository(repoRef)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return ocispec.Descriptor{}, fmt.Errorf("marshal manifest: %w", err)
	}
	desc := ocispec.Descriptor{
		MediaType: ocispec.MediaTypeImageManifest,
		Digest:    digest.FromBytes(manifestJSON),
		Size:      int64(len(manifestJSON)),
	}
	if err := repo.PushReference(ctx, desc, bytes.NewReader(manifestJSON), tag); err != nil {
		return ocispec.Descriptor{}, mapError(err)
	}
	return desc, nil
}

// FetchManifest implements OCIClient.
func (c *Client) FetchManifest(ctx context.Context, repoRef string, expected *ocispec.Descriptor) (ocispec.Manifest, error) {
	if err := validateDescriptor(expected); err != nil {
		return ocispec.Manifest{}, err
	}
	if expected.MediaType != "" && expected.MediaType != ocispec.MediaTypeImageManifest {
		return ocispec.Manifest{}, fmt.Errorf("%w: unsupported media type %s", ErrManifestInvalid, expected.MediaType)
	}
	repo, err := c.repository(repoRef)
	if err != nil {
		return ocispec.Manifest{}, err
	}

	_, rc, err := repo.FetchReference(ctx, expected.Digest.String())
	if err != nil {
		return ocispec.Manifest{}, mapError(err)
	}
	defer rc.Close()

	var manifest ocispec.Manifest
	if err := json.NewDecoder(io.LimitReader(rc, expected.Size)).Decode(&manifest); err != nil {
		return ocispec.Manifest{}, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	return manifest, nil
}

// Resolve implements OCIClient.
func (c *Client) Resolve(ctx context.Context, repoRef, ref string) (ocispec.Descriptor, error) {
	repo, err := c.repository(repoRef)
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	desc, err := repo.Resolve(ctx, ref)
	if err != nil {
		return ocispec.Descriptor{}, mapError(err)
	}
	return desc, nil
}

// Delete implements OCIClient.
func (c *Client) Delete(ctx context.Context, repoRef string, desc *ocispec.Descriptor) error {
	if err := validateDescriptor(desc); err != nil {
		return err
	}
	repo, err := c.repository(repoRef)
	if err != nil {
		return err
	}
	if err := repo.Delete(ctx, *desc); err != nil {
		return mapError(err)
	}
	return nil
}

// validateDescriptor checks that a descriptor is valid for use.
func validateDescriptor(desc *ocispec.Descriptor) error {
	if desc == nil {
		return fmt.Errorf("%w: descriptor is nil", ErrInvalidDescriptor)
	}
	if desc.Size < 0 {
		return fmt.Errorf("%w: negative size %d", ErrInvalidDescriptor, desc.Size)
	}
	if desc.Digest == "" {
		return fmt.Errorf("%w: empty digest", ErrInvalidDescriptor)
	}
	if err := desc.Digest.Validate(); err != nil {
		return fmt.Errorf("%w: invalid digest %q: %v", ErrInvalidDescriptor, desc.Digest, err)
	}
	return nil
}

// mapError maps ORAS errors to sentinel errors. Errors without a sentinel
// are returned unchanged so callers can still inspect status codes.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errdef.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if errors.Is(err, errdef.ErrUnsupported) {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	var errResp *errcode.ErrorResponse
	if errors.As(err, &errResp) {
		switch errResp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", ErrUnauthorized, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrForbidden, err)
		case http.StatusMethodNotAllowed:
			return fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
	}
	return err
}

var _ OCIClient = (*Client)(nil)
