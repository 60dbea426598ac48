package memory

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/release"
	"github.com/meigma/release/artifact"
	"github.com/meigma/release/backend"
)

func pack(t *testing.T, name, version, content string) *artifact.Artifact {
	t.Helper()
	a, err := artifact.Pack(context.Background(), release.Candidate{
		Ref:   release.Ref{Name: name, Version: version, ContentHash: digest.FromString(content)},
		Files: fstest.MapFS{"f": {Data: []byte(content)}},
	})
	require.NoError(t, err)
	return a
}

func TestAdapter_PublishIdempotent(t *testing.T) {
	t.Parallel()

	a := New("t1")
	art := pack(t, "p", "v1.0.0", "one")
	ctx := context.Background()

	first, err := a.Publish(ctx, art)
	require.NoError(t, err)
	assert.False(t, first.AlreadyPublished)

	second, err := a.Publish(ctx, art)
	require.NoError(t, err)
	assert.True(t, second.AlreadyPublished)
	assert.Equal(t, first.Location, second.Location)

	assert.Equal(t, 1, a.Writes(), "second publish has no side effect")
	assert.Equal(t, 2, a.PublishCalls(art.Ref.Key()))

	ok, err := a.Exists(ctx, art.Ref)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAdapter_Conflict(t *testing.T) {
	t.Parallel()

	a := New("t1")
	ctx := context.Background()
	_, err := a.Publish(ctx, pack(t, "p", "v1.0.0", "one"))
	require.NoError(t, err)

	_, err = a.Publish(ctx, pack(t, "p", "v1.0.0", "two"))
	require.ErrorIs(t, err, backend.ErrConflict)
	assert.False(t, backend.IsRetryable(err))
}

func TestAdapter_FaultInjection(t *testing.T) {
	t.Parallel()

	a := New("t1")
	art := pack(t, "p", "v1.0.0", "one")
	boom := backend.RetryableError("publish", errors.New("503"))
	a.FailNext(art.Ref.Key(), boom, boom)
	ctx := context.Background()

	_, err := a.Publish(ctx, art)
	require.ErrorIs(t, err, boom)
	_, err = a.Publish(ctx, art)
	require.ErrorIs(t, err, boom)
	_, err = a.Publish(ctx, art)
	require.NoError(t, err)
	assert.Equal(t, 3, a.PublishCalls(art.Ref.Key()))
}

func TestAdapter_Rollback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	art := pack(t, "p", "v1.0.0", "one")

	t.Run("removes and is idempotent", func(t *testing.T) {
		t.Parallel()
		a := New("t1")
		_, err := a.Publish(ctx, art)
		require.NoError(t, err)

		require.NoError(t, a.Rollback(ctx, art.Ref))
		assert.False(t, a.Has(art.Ref.Key()))
		require.NoError(t, a.Rollback(ctx, art.Ref), "absent artifact is a no-op")
	})

	t.Run("unsupported", func(t *testing.T) {
		t.Parallel()
		a := New("t2", WithRollback(false))
		assert.False(t, backend.CanRollback(a))
		require.ErrorIs(t, a.Rollback(ctx, art.Ref), backend.ErrRollbackUnsupported)
	})

	t.Run("injected failure", func(t *testing.T) {
		t.Parallel()
		a := New("t3")
		a.FailRollback(art.Ref.Key(), errors.New("permission denied"))
		require.Error(t, a.Rollback(ctx, art.Ref))
	})
}

func TestRegister(t *testing.T) {
	t.Parallel()

	r := backend.NewRegistry()
	Register(r)

	adapters, err := r.BuildAll(context.Background(), []backend.TargetSpec{
		{Name: "a", Kind: Kind, SupportsRollback: true},
		{Name: "b", Kind: Kind},
	})
	require.NoError(t, err)
	require.Len(t, adapters, 2)
	assert.True(t, backend.CanRollback(adapters[0]))
	assert.False(t, backend.CanRollback(adapters[1]))
}
