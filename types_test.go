package release

import (
	"slices"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		version string
		want    bool
	}{
		{"v1.0.0", true},
		{"v0.1.2", true},
		{"v1.0.0-rc.1", true},
		{"v1.0.0+build.7", true},
		{"1.0.0", false},
		{"v1", false},
		{"v1.2", false},
		{"v01.0.0", false},
		{"", false},
		{"latest", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsVersion(tt.version))
		})
	}
}

func TestRef_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		ref     Ref
		wantErr bool
	}{
		{name: "valid", ref: Ref{Name: "policy-x", Version: "v1.0.0", ContentHash: digest.FromString("x")}},
		{name: "valid without hash", ref: Ref{Name: "policy-x", Version: "v1.0.0"}},
		{name: "empty name", ref: Ref{Version: "v1.0.0"}, wantErr: true},
		{name: "nested name", ref: Ref{Name: "a/b", Version: "v1.0.0"}, wantErr: true},
		{name: "dot dot", ref: Ref{Name: "..", Version: "v1.0.0"}, wantErr: true},
		{name: "bad version", ref: Ref{Name: "policy-x", Version: "1.0"}, wantErr: true},
		{name: "bad hash", ref: Ref{Name: "policy-x", Version: "v1.0.0", ContentHash: "sha256:zz"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.ref.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidRef)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCompareRefs(t *testing.T) {
	t.Parallel()

	refs := []Ref{
		{Name: "policy-y", Version: "v1.0.0"},
		{Name: "policy-x", Version: "v1.10.0"},
		{Name: "policy-x", Version: "v1.2.0"},
		{Name: "policy-x", Version: "v1.2.0-rc.1"},
	}
	slices.SortFunc(refs, CompareRefs)

	got := make([]string, len(refs))
	for i, r := range refs {
		got[i] = r.String()
	}
	assert.Equal(t, []string{
		"policy-x/v1.2.0-rc.1",
		"policy-x/v1.2.0",
		"policy-x/v1.10.0",
		"policy-y/v1.0.0",
	}, got)
}

func TestValidationResult_Status(t *testing.T) {
	t.Parallel()

	ref := Ref{Name: "p", Version: "v1.0.0"}

	t.Run("all passed", func(t *testing.T) {
		t.Parallel()
		res := NewValidationResult(ref, []CheckResult{{Name: "a", Passed: true}})
		assert.True(t, res.Passed())
		assert.Empty(t, res.Failures())
	})

	t.Run("warning does not block", func(t *testing.T) {
		t.Parallel()
		res := NewValidationResult(ref, []CheckResult{
			{Name: "a", Passed: true},
			{Name: "b", Passed: false, Warning: true, Message: "meh"},
		})
		assert.True(t, res.Passed())
		assert.Len(t, res.Warnings(), 1)
	})

	t.Run("blocking failure", func(t *testing.T) {
		t.Parallel()
		res := NewValidationResult(ref, []CheckResult{
			{Name: "a", Passed: false, Message: "missing"},
			{Name: "b", Passed: true},
		})
		assert.Equal(t, StatusFailed, res.Status)
		require.Len(t, res.Failures(), 1)
		assert.Equal(t, "a", res.Failures()[0].Name)
	})
}

func TestRecoveryPolicy(t *testing.T) {
	t.Parallel()

	t.Run("default is valid", func(t *testing.T) {
		t.Parallel()
		p := DefaultRecoveryPolicy()
		require.NoError(t, p.Validate())
		assert.Equal(t, 4, p.MaxAttempts())
		assert.True(t, p.AutomaticRetry())
		assert.True(t, p.AutomaticRollback())
	})

	t.Run("manual overrides rollback flag", func(t *testing.T) {
		t.Parallel()
		p := DefaultRecoveryPolicy()
		p.Strategy = RecoveryManual
		assert.False(t, p.AutomaticRollback())
		assert.False(t, p.AutomaticRetry())
	})

	t.Run("negative retries rejected", func(t *testing.T) {
		t.Parallel()
		p := DefaultRecoveryPolicy()
		p.MaxRetryAttempts = -1
		require.ErrorIs(t, p.Validate(), ErrInvalidPolicy)
	})

	t.Run("unknown strategy rejected", func(t *testing.T) {
		t.Parallel()
		p := DefaultRecoveryPolicy()
		p.Strategy = "yolo"
		require.ErrorIs(t, p.Validate(), ErrInvalidPolicy)
	})

	t.Run("zero timeout falls back to default", func(t *testing.T) {
		t.Parallel()
		p := RecoveryPolicy{Strategy: RecoveryAutomatic}
		assert.Equal(t, DefaultRollbackTimeout, p.EffectiveRollbackTimeout())
	})
}
