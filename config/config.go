// Package config loads the release run configuration from release.yaml.
//
// The file has sections for the snapshot source, validation rules, recovery
// policy, publishing, targets and the ledger. Secrets and endpoints can be
// supplied through RELEASE_* environment variables instead of the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meigma/release"
	"github.com/meigma/release/backend"
	"github.com/meigma/release/backend/objectstore"
	"github.com/meigma/release/backend/oci"
	"github.com/meigma/release/orchestrator"
	"github.com/meigma/release/validate"
)

// ErrInvalid is returned when a configuration fails validation.
var ErrInvalid = errors.New("config: invalid")

// Ledger kinds.
const (
	LedgerNone     = "none"
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
)

// Environment variables read by ApplyEnv.
const (
	EnvStrategy          = "RELEASE_STRATEGY"
	EnvMaxParallelJobs   = "RELEASE_MAX_PARALLEL_JOBS"
	EnvRetryBaseDelay    = "RELEASE_RETRY_BASE_DELAY"
	EnvRollbackOnFailure = "RELEASE_ROLLBACK_ON_PARTIAL_FAILURE"
	EnvDatabaseURL       = "RELEASE_DATABASE_URL"
	EnvS3AccessKey       = "RELEASE_S3_ACCESS_KEY"
	EnvS3SecretKey       = "RELEASE_S3_SECRET_KEY"
	EnvRegistryUsername  = "RELEASE_REGISTRY_USERNAME"
	EnvRegistryPassword  = "RELEASE_REGISTRY_PASSWORD"
	EnvRegistryToken     = "RELEASE_REGISTRY_TOKEN"
)

// Config is a release run configuration.
type Config struct {
	Source     Source                 `yaml:"source"`
	Validation Validation             `yaml:"validation"`
	Recovery   release.RecoveryPolicy `yaml:"recovery"`
	Publish    Publish                `yaml:"publish"`
	Targets    []backend.TargetSpec   `yaml:"targets"`
	Ledger     Ledger                 `yaml:"ledger"`
}

// Source locates snapshot trees. Each snapshot reference names a directory
// under Root; policies live under PoliciesDir inside each snapshot.
type Source struct {
	Root        string `yaml:"root"`
	PoliciesDir string `yaml:"policiesDir,omitempty"`
}

// Validation holds the rule set inline, or a path to a JSONC or YAML rule
// file that replaces it.
type Validation struct {
	RulesFile       string `yaml:"rulesFile,omitempty"`
	validate.Config `yaml:",inline"`
}

// Publish configures the orchestrator.
type Publish struct {
	Strategy        release.Strategy `yaml:"strategy"`
	MaxParallelJobs int              `yaml:"maxParallelJobs,omitempty"`
	RetryBaseDelay  time.Duration    `yaml:"retryBaseDelay"`
	RetryMaxDelay   time.Duration    `yaml:"retryMaxDelay"`
}

// Ledger selects where finished runs are recorded.
type Ledger struct {
	Kind string `yaml:"kind"`
	URL  string `yaml:"url,omitempty"`
}

// Default returns the configuration used for fields a file leaves out.
func Default() Config {
	return Config{
		Source:     Source{Root: "snapshots"},
		Validation: Validation{Config: validate.DefaultConfig()},
		Recovery:   release.DefaultRecoveryPolicy(),
		Publish: Publish{
			Strategy:       release.StrategyAtomic,
			RetryBaseDelay: orchestrator.DefaultRetryBaseDelay,
			RetryMaxDelay:  orchestrator.DefaultRetryMaxDelay,
		},
		Ledger: Ledger{Kind: LedgerNone},
	}
}

// Load reads path, resolves relative paths against its directory, applies
// the process environment and validates the result.
func Load(path string) (Config, error) {
	return LoadWithEnv(path, OSEnv)
}

// LoadWithEnv is Load with an explicit environment.
func LoadWithEnv(path string, env Env) (Config, error) {
	//nolint:gosec // path is operator-provided
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.ApplyEnv(env); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes a configuration over Default. Relative paths are resolved
// against dir.
func Parse(data []byte, dir string) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.Source.Root = resolvePath(dir, cfg.Source.Root)
	if cfg.Validation.RulesFile != "" {
		cfg.Validation.RulesFile = resolvePath(dir, cfg.Validation.RulesFile)
		rules, err := validate.LoadConfig(cfg.Validation.RulesFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Validation.Config = rules
	} else if cfg.Validation.RegoPolicyFile != "" {
		cfg.Validation.RegoPolicyFile = resolvePath(dir, cfg.Validation.RegoPolicyFile)
	}
	return cfg, nil
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) || dir == "" {
		return p
	}
	return filepath.Join(dir, p)
}

// ApplyEnv overrides fields from env. Credentials are only filled into
// targets that do not set them.
func (c *Config) ApplyEnv(env Env) error {
	c.Publish.Strategy = release.Strategy(env.String(EnvStrategy, string(c.Publish.Strategy)))

	jobs, err := env.Int(EnvMaxParallelJobs, c.Publish.MaxParallelJobs)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	c.Publish.MaxParallelJobs = jobs

	base, err := env.Duration(EnvRetryBaseDelay, c.Publish.RetryBaseDelay)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	c.Publish.RetryBaseDelay = base

	rollback, err := env.Bool(EnvRollbackOnFailure, c.Recovery.RollbackOnPartialFailure)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	c.Recovery.RollbackOnPartialFailure = rollback

	if url := env.String(EnvDatabaseURL, ""); url != "" {
		c.Ledger.URL = url
		if c.Ledger.Kind == "" || c.Ledger.Kind == LedgerNone {
			c.Ledger.Kind = LedgerPostgres
		}
	}

	for i := range c.Targets {
		t := &c.Targets[i]
		switch t.Kind {
		case objectstore.Kind:
			setDefault(t, "accessKey", env.String(EnvS3AccessKey, ""))
			setDefault(t, "secretKey", env.String(EnvS3SecretKey, ""))
		case oci.Kind:
			setDefault(t, "username", env.String(EnvRegistryUsername, ""))
			setDefault(t, "password", env.String(EnvRegistryPassword, ""))
			setDefault(t, "token", env.String(EnvRegistryToken, ""))
		}
	}
	return nil
}

func setDefault(t *backend.TargetSpec, key, value string) {
	if value == "" || t.Settings[key] != "" {
		return
	}
	if t.Settings == nil {
		t.Settings = make(map[string]string)
	}
	t.Settings[key] = value
}

// MaxParallelJobs returns the publish job limit, falling back to the
// validation rule set's limit and then the orchestrator default.
func (c *Config) MaxParallelJobs() int {
	switch {
	case c.Publish.MaxParallelJobs > 0:
		return c.Publish.MaxParallelJobs
	case c.Validation.MaxParallelJobs > 0:
		return c.Validation.MaxParallelJobs
	default:
		return orchestrator.DefaultMaxParallelJobs
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Source.Root) == "" {
		return fmt.Errorf("%w: source.root is required", ErrInvalid)
	}
	if err := c.Validation.Config.Validate(); err != nil {
		return err
	}
	if err := c.Recovery.Validate(); err != nil {
		return err
	}
	if !c.Publish.Strategy.Valid() {
		return fmt.Errorf("%w: publish.strategy %q must be %q or %q",
			ErrInvalid, c.Publish.Strategy, release.StrategyAtomic, release.StrategyBestEffort)
	}
	if c.Publish.MaxParallelJobs < 0 {
		return fmt.Errorf("%w: publish.maxParallelJobs must be >= 0", ErrInvalid)
	}
	if c.Publish.RetryBaseDelay < 0 || c.Publish.RetryMaxDelay < c.Publish.RetryBaseDelay {
		return fmt.Errorf("%w: publish retry delays must satisfy 0 <= base <= max", ErrInvalid)
	}

	if len(c.Targets) == 0 {
		return fmt.Errorf("%w: at least one target is required", ErrInvalid)
	}
	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		switch {
		case strings.TrimSpace(t.Name) == "":
			return fmt.Errorf("%w: targets[%d].name is required", ErrInvalid, i)
		case t.Kind == "":
			return fmt.Errorf("%w: target %q has no kind", ErrInvalid, t.Name)
		case seen[t.Name]:
			return fmt.Errorf("%w: duplicate target %q", ErrInvalid, t.Name)
		}
		seen[t.Name] = true
	}

	switch c.Ledger.Kind {
	case "", LedgerNone, LedgerMemory:
	case LedgerPostgres:
		if c.Ledger.URL == "" {
			return fmt.Errorf("%w: ledger.url is required for postgres (or set %s)", ErrInvalid, EnvDatabaseURL)
		}
	default:
		return fmt.Errorf("%w: unknown ledger kind %q", ErrInvalid, c.Ledger.Kind)
	}
	return nil
}
