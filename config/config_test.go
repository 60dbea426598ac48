package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/release"
	"github.com/meigma/release/backend"
)

const sample = `
source:
  root: snapshots
  policiesDir: policies
recovery:
  strategy: hybrid
  rollbackOnPartialFailure: true
  retryFailedPolicies: true
  maxRetryAttempts: 2
  rollbackTimeout: 2m
publish:
  strategy: best-effort
  maxParallelJobs: 8
  retryBaseDelay: 250ms
  retryMaxDelay: 10s
validation:
  requiredFiles: [metadata.json]
  strictValidation: false
targets:
  - name: registry
    kind: oci
    supportsRollback: true
    settings:
      repository: ghcr.io/acme/policies
  - name: bucket
    kind: s3
    settings:
      endpoint: localhost:9000
      bucket: policies
      useSSL: false
ledger:
  kind: memory
`

func TestParse(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sample), "/etc/release")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/etc/release/snapshots", cfg.Source.Root)
	assert.Equal(t, "policies", cfg.Source.PoliciesDir)
	assert.Equal(t, release.RecoveryHybrid, cfg.Recovery.Strategy)
	assert.Equal(t, 2, cfg.Recovery.MaxRetryAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Recovery.RollbackTimeout)
	assert.Equal(t, release.StrategyBestEffort, cfg.Publish.Strategy)
	assert.Equal(t, 250*time.Millisecond, cfg.Publish.RetryBaseDelay)
	assert.Equal(t, 8, cfg.MaxParallelJobs())

	assert.Equal(t, []string{"metadata.json"}, cfg.Validation.RequiredFiles)
	assert.False(t, cfg.Validation.StrictValidation)
	assert.Equal(t, []string{"README.md"}, cfg.Validation.RequiredDocsFiles, "unset rules keep defaults")

	require.Len(t, cfg.Targets, 2)
	assert.True(t, cfg.Targets[0].SupportsRollback)
	assert.Equal(t, "false", cfg.Targets[1].Settings["useSSL"])
	assert.Equal(t, LedgerMemory, cfg.Ledger.Kind)
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sample), "")
	require.NoError(t, err)
	cfg.Targets[0].Settings["username"] = "from-file"

	require.NoError(t, cfg.ApplyEnv(MapEnv(map[string]string{
		EnvStrategy:          "atomic",
		EnvMaxParallelJobs:   "2",
		EnvRetryBaseDelay:    "1s",
		EnvRollbackOnFailure: "false",
		EnvDatabaseURL:       "postgres://db/release",
		EnvS3AccessKey:       "ak",
		EnvS3SecretKey:       "sk",
		EnvRegistryUsername:  "from-env",
		EnvRegistryPassword:  "pw",
	})))

	assert.Equal(t, release.StrategyAtomic, cfg.Publish.Strategy)
	assert.Equal(t, 2, cfg.MaxParallelJobs())
	assert.Equal(t, time.Second, cfg.Publish.RetryBaseDelay)
	assert.False(t, cfg.Recovery.RollbackOnPartialFailure)
	assert.Equal(t, "postgres://db/release", cfg.Ledger.URL)
	assert.Equal(t, LedgerMemory, cfg.Ledger.Kind, "explicit ledger kind is kept")
	assert.Equal(t, "from-file", cfg.Targets[0].Settings["username"])
	assert.Equal(t, "pw", cfg.Targets[0].Settings["password"])
	assert.NotContains(t, cfg.Targets[0].Settings, "token")
	assert.Equal(t, "ak", cfg.Targets[1].Settings["accessKey"])
	assert.Equal(t, "sk", cfg.Targets[1].Settings["secretKey"])

	bad := Default()
	require.ErrorIs(t, bad.ApplyEnv(MapEnv(map[string]string{EnvMaxParallelJobs: "many"})), ErrInvalid)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		cfg := Default()
		cfg.Targets = []backend.TargetSpec{{Name: "t1", Kind: "memory"}}
		return cfg
	}
	base := valid()
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no root", mutate: func(c *Config) { c.Source.Root = "" }},
		{name: "no targets", mutate: func(c *Config) { c.Targets = nil }},
		{name: "unnamed target", mutate: func(c *Config) { c.Targets[0].Name = "" }},
		{name: "target without kind", mutate: func(c *Config) { c.Targets[0].Kind = "" }},
		{name: "duplicate target", mutate: func(c *Config) { c.Targets = append(c.Targets, c.Targets[0]) }},
		{name: "bad strategy", mutate: func(c *Config) { c.Publish.Strategy = "eventually" }},
		{name: "negative jobs", mutate: func(c *Config) { c.Publish.MaxParallelJobs = -1 }},
		{name: "inverted delays", mutate: func(c *Config) { c.Publish.RetryMaxDelay = time.Nanosecond }},
		{name: "postgres without url", mutate: func(c *Config) { c.Ledger.Kind = LedgerPostgres }},
		{name: "unknown ledger", mutate: func(c *Config) { c.Ledger.Kind = "etcd" }},
		{name: "bad recovery", mutate: func(c *Config) { c.Recovery.MaxRetryAttempts = -1 }},
		{name: "bad rules", mutate: func(c *Config) { c.Validation.RequiredFiles = []string{"../escape"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadWithEnv_RulesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rules := `{
  // contributors must ship docs
  "requiredFiles": ["metadata.json", "docs/examples.md"],
  "strictValidation": true,
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "validation-config.jsonc"), []byte(rules), 0o600))
	releaseYAML := `
source:
  root: snaps
validation:
  rulesFile: validation-config.jsonc
targets:
  - name: local
    kind: memory
`
	path := filepath.Join(dir, "release.yaml")
	require.NoError(t, os.WriteFile(path, []byte(releaseYAML), 0o600))

	cfg, err := LoadWithEnv(path, MapEnv(nil))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "snaps"), cfg.Source.Root)
	assert.Equal(t, []string{"metadata.json", "docs/examples.md"}, cfg.Validation.RequiredFiles)
	assert.Equal(t, filepath.Join(dir, "validation-config.jsonc"), cfg.Validation.RulesFile)

	_, err = LoadWithEnv(filepath.Join(dir, "missing.yaml"), MapEnv(nil))
	require.Error(t, err)
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("targets: {"), "")
	require.ErrorIs(t, err, ErrInvalid)
}
