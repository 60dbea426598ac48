package oci

import (
	"context"
	"errors"
	"strings"

	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
)

// DefaultCredentialStore returns a credential store that reads from the
// Docker config (~/.docker/config.json) and its credential helpers.
func DefaultCredentialStore() (credentials.Store, error) {
	return credentials.NewStoreFromDocker(credentials.StoreOptions{})
}

// StaticCredentials returns a read-only credential store holding a single
// username and password for registry.
func StaticCredentials(registry, username, password string) credentials.Store {
	return &staticStore{
		registry: normalizeServerAddress(registry),
		cred:     auth.Credential{Username: username, Password: password},
	}
}

// StaticToken returns a read-only credential store holding a bearer token
// for registry.
func StaticToken(registry, token string) credentials.Store {
	return &staticStore{
		registry: normalizeServerAddress(registry),
		cred:     auth.Credential{AccessToken: token},
	}
}

type staticStore struct {
	registry string
	cred     auth.Credential
}

// Get returns the credential when serverAddress matches the configured registry.
func (s *staticStore) Get(_ context.Context, serverAddress string) (auth.Credential, error) {
	if normalizeServerAddress(serverAddress) == s.registry {
		return s.cred, nil
	}
	return auth.EmptyCredential, nil
}

// Put is not supported for static credentials.
func (s *staticStore) Put(context.Context, string, auth.Credential) error {
	return errors.New("oci: static credential store is read-only")
}

// Delete is not supported for static credentials.
func (s *staticStore) Delete(context.Context, string) error {
	return errors.New("oci: static credential store is read-only")
}

// normalizeServerAddress strips scheme and path, keeping host[:port].
func normalizeServerAddress(addr string) string {
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr, _, _ = strings.Cut(addr, "/")
	return addr
}
