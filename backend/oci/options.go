package oci

import (
	"log/slog"

	"oras.land/oras-go/v2/registry/remote/credentials"
)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithCredentialStore sets the credential store for authentication.
func WithCredentialStore(store credentials.Store) ClientOption {
	return func(c *Client) {
		c.credStore = store
	}
}

// WithStaticCredentials sets a username and password for registry.
func WithStaticCredentials(registry, username, password string) ClientOption {
	return func(c *Client) {
		c.credStore = StaticCredentials(registry, username, password)
	}
}

// WithStaticToken sets a bearer token for registry.
func WithStaticToken(registry, token string) ClientOption {
	return func(c *Client) {
		c.credStore = StaticToken(registry, token)
	}
}

// WithDockerConfig reads credentials from the Docker config. If it cannot be
// loaded the client falls back to no credentials.
func WithDockerConfig() ClientOption {
	return func(c *Client) {
		store, err := DefaultCredentialStore()
		if err != nil {
			return
		}
		c.credStore = store
	}
}

// WithPlainHTTP enables plain HTTP for local development registries.
func WithPlainHTTP(enabled bool) ClientOption {
	return func(c *Client) {
		c.plainHTTP = enabled
	}
}

// WithAnonymous disables all authentication, including credential store lookups.
func WithAnonymous() ClientOption {
	return func(c *Client) {
		c.anonymous = true
	}
}

// WithUserAgent sets the User-Agent header for requests.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithClient sets the registry client. Tests use it to inject a mock.
func WithClient(client OCIClient) Option {
	return func(a *Adapter) {
		a.client = client
	}
}

// WithRollback sets whether the target advertises rollback support. Deleting
// manifests must be enabled on the registry for rollback to succeed.
func WithRollback(enabled bool) Option {
	return func(a *Adapter) {
		a.target.SupportsRollback = enabled
	}
}

// WithAnnotations adds annotations to every pushed manifest.
func WithAnnotations(annotations map[string]string) Option {
	return func(a *Adapter) {
		for k, v := range annotations {
			a.annotations[k] = v
		}
	}
}

// WithLogger sets the logger for publish operations.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}
