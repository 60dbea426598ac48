//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/release"
	"github.com/meigma/release/backend"
	"github.com/meigma/release/backend/memory"
	"github.com/meigma/release/orchestrator"
	"github.com/meigma/release/resolve"
	"github.com/meigma/release/snapshot"
)

var (
	keyX = release.Key{Name: "policy-x", Version: "v1.1.0"}
	keyY = release.Key{Name: "policy-y", Version: "v1.0.0"}
)

func newOrchestrator(t *testing.T, src snapshot.Source, adapters []backend.Adapter, opts ...orchestrator.Option) *orchestrator.Orchestrator {
	t.Helper()
	opts = append([]orchestrator.Option{
		orchestrator.WithRetryDelays(10*time.Millisecond, 50*time.Millisecond),
	}, opts...)
	o, err := orchestrator.New(resolve.New(src), pipeline(t), adapters, opts...)
	require.NoError(t, err)
	return o
}

func requirePresent(t *testing.T, ctx context.Context, adapters []backend.Adapter, want bool, refs ...release.Ref) {
	t.Helper()
	for _, a := range adapters {
		for _, ref := range refs {
			ok, err := a.Exists(ctx, ref)
			require.NoError(t, err, "%s on %s", ref, a.Target().Name)
			assert.Equal(t, want, ok, "%s on %s", ref, a.Target().Name)
		}
	}
}

func TestRelease_PublishesToRegistryAndBucket(t *testing.T) {
	ctx := context.Background()
	adapters, err := newRegistry().BuildAll(ctx, []backend.TargetSpec{
		ociSpec(t, "registry"),
		s3Spec(t, "bucket"),
	})
	require.NoError(t, err)

	src := scenario()
	o := newOrchestrator(t, src, adapters)
	rep, err := o.Run(ctx, "prev", "cur")
	require.NoError(t, err)
	require.Equal(t, release.PhaseSucceeded, rep.Phase, rep.Error)
	require.Len(t, rep.Publishes, 4)

	refs := make([]release.Ref, 0, len(rep.Candidates))
	for _, c := range rep.Candidates {
		refs = append(refs, c.Ref)
	}
	requirePresent(t, ctx, adapters, true, refs...)

	t.Run("rerun is idempotent", func(t *testing.T) {
		again, err := o.Run(ctx, "prev", "cur")
		require.NoError(t, err)
		require.Equal(t, release.PhaseSucceeded, again.Phase)
		for _, p := range again.Publishes {
			assert.True(t, p.AlreadyPublished, "%s @ %s", p.Ref, p.Target)
			assert.Equal(t, 1, p.Attempts)
		}
	})

	t.Run("changed content conflicts", func(t *testing.T) {
		rewritten := fstest.MapFS{}
		addPolicy(rewritten, "policy-x", "v1.0.0")
		addPolicy(rewritten, "policy-x", "v1.1.0")
		addPolicy(rewritten, "policy-y", "v1.0.0")
		rewritten["policy-x/v1.1.0/README.md"] = &fstest.MapFile{Data: []byte("# rewritten\n")}
		src["rewritten"] = rewritten

		rep, err := o.Run(ctx, "prev", "rewritten")
		require.NoError(t, err)
		assert.Equal(t, release.PhaseFailed, rep.Phase)

		got, ok := rep.Publish(release.PairKey{Key: keyX, Target: "registry"})
		require.True(t, ok)
		assert.Equal(t, release.OutcomeFailure, got.Outcome)
		assert.Equal(t, 1, got.Attempts, "conflicts are not retried")
		assert.Contains(t, got.Error, "different content")

		requirePresent(t, ctx, adapters, true, refs...)
	})
}

func TestRelease_AtomicRollbackOnRealTargets(t *testing.T) {
	ctx := context.Background()
	adapters, err := newRegistry().BuildAll(ctx, []backend.TargetSpec{
		ociSpec(t, "registry"),
		s3Spec(t, "bucket"),
	})
	require.NoError(t, err)

	flaky := memory.New("mirror")
	flaky.FailAlways(keyY, backend.TerminalError("publish", errors.New("permission denied")))
	adapters = append(adapters, flaky)

	o := newOrchestrator(t, scenario(), adapters, orchestrator.WithStrategy(release.StrategyAtomic))
	rep, err := o.Run(ctx, "prev", "cur")
	require.NoError(t, err)

	assert.Equal(t, release.PhaseFailed, rep.Phase)
	require.NotNil(t, rep.Recovery)
	assert.False(t, rep.Recovery.Urgent())
	assert.NotEmpty(t, rep.Recovery.RolledBack)

	x, ok := rep.Candidate(keyX)
	require.True(t, ok)
	y, ok := rep.Candidate(keyY)
	require.True(t, ok)
	requirePresent(t, ctx, adapters[:2], false, x.Ref, y.Ref)
	assert.False(t, flaky.Has(keyX))
}

func TestRelease_BestEffortKeepsPublished(t *testing.T) {
	ctx := context.Background()
	adapters, err := newRegistry().BuildAll(ctx, []backend.TargetSpec{
		ociSpec(t, "registry"),
		s3Spec(t, "bucket"),
	})
	require.NoError(t, err)

	flaky := memory.New("mirror")
	flaky.FailAlways(keyY, backend.TerminalError("publish", errors.New("quota exceeded")))
	adapters = append(adapters, flaky)

	o := newOrchestrator(t, scenario(), adapters, orchestrator.WithStrategy(release.StrategyBestEffort))
	rep, err := o.Run(ctx, "prev", "cur")
	require.NoError(t, err)

	assert.Equal(t, release.PhasePartiallySucceeded, rep.Phase)
	require.NotNil(t, rep.Recovery)
	require.Len(t, rep.Recovery.NeedsManualRetry, 1)
	assert.Equal(t, "mirror", rep.Recovery.NeedsManualRetry[0].Target)

	x, _ := rep.Candidate(keyX)
	y, _ := rep.Candidate(keyY)
	requirePresent(t, ctx, adapters[:2], true, x.Ref, y.Ref)
}
