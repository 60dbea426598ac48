package resolve

import (
	"context"
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/release"
	"github.com/meigma/release/snapshot"
)

func file(s string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(s)}
}

func refs(cands []release.Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Ref.String()
	}
	return out
}

func TestResolver_SingleAddedDirectory(t *testing.T) {
	t.Parallel()

	prev := fstest.MapFS{
		"policy-x/v1.0.0/metadata.json": file(`{"name":"policy-x"}`),
	}
	cur := fstest.MapFS{
		"policy-x/v1.0.0/metadata.json": file(`{"name":"policy-x"}`),
		"policy-x/v1.1.0/metadata.json": file(`{"name":"policy-x","version":"v1.1.0"}`),
		"policy-x/v1.1.0/main.go":       file("package x"),
	}
	r := New(snapshot.Static{"prev": prev, "cur": cur})

	got, err := r.Resolve(context.Background(), "prev", "cur")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "policy-x", got[0].Name)
	assert.Equal(t, "v1.1.0", got[0].Version)
	require.NoError(t, got[0].ContentHash.Validate())

	data, err := fs.ReadFile(got[0].Files, "main.go")
	require.NoError(t, err)
	assert.Equal(t, "package x", string(data))
}

func TestResolver_Idempotent(t *testing.T) {
	t.Parallel()

	cur := fstest.MapFS{
		"b/v1.0.0/f": file("b"),
		"a/v2.0.0/f": file("a2"),
		"a/v1.0.0/f": file("a1"),
	}
	r := New(snapshot.Static{"cur": cur})
	ctx := context.Background()

	first, err := r.Resolve(ctx, "", "cur")
	require.NoError(t, err)
	second, err := r.Resolve(ctx, "", "cur")
	require.NoError(t, err)

	assert.Equal(t, []string{"a/v1.0.0", "a/v2.0.0", "b/v1.0.0"}, refs(first))
	assert.Equal(t, refs(first), refs(second))
	for i := range first {
		assert.Equal(t, first[i].Ref, second[i].Ref)
	}

	none, err := r.Resolve(ctx, "cur", "cur")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestResolver_Cases(t *testing.T) {
	t.Parallel()

	base := fstest.MapFS{
		"p/v1.0.0/a.txt": file("one"),
		"q/v1.0.0/a.txt": file("q"),
	}

	tests := []struct {
		name string
		cur  fstest.MapFS
		opts []Option
		want []string
	}{
		{
			name: "changed content is a candidate",
			cur: fstest.MapFS{
				"p/v1.0.0/a.txt": file("two"),
				"q/v1.0.0/a.txt": file("q"),
			},
			want: []string{"p/v1.0.0"},
		},
		{
			name: "removed version is not a candidate",
			cur: fstest.MapFS{
				"q/v1.0.0/a.txt": file("q"),
			},
			want: []string{},
		},
		{
			name: "non version directories ignored",
			cur: fstest.MapFS{
				"p/v1.0.0/a.txt":  file("one"),
				"q/v1.0.0/a.txt":  file("q"),
				"p/latest/a.txt":  file("x"),
				"README.md":       file("hi"),
				"p/v1.2/a.txt":    file("x"),
				"r/v0.1.0/s/t.go": file("nested"),
			},
			want: []string{"r/v0.1.0"},
		},
		{
			name: "semver ordering",
			cur: fstest.MapFS{
				"p/v1.0.0/a.txt":  file("one"),
				"q/v1.0.0/a.txt":  file("q"),
				"p/v1.10.0/a.txt": file("10"),
				"p/v1.9.0/a.txt":  file("9"),
			},
			want: []string{"p/v1.9.0", "p/v1.10.0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := New(snapshot.Static{"prev": base, "cur": tt.cur}, tt.opts...)
			got, err := r.Resolve(context.Background(), "prev", "cur")
			require.NoError(t, err)
			assert.Equal(t, tt.want, refs(got))
		})
	}
}

func TestResolver_WithRoot(t *testing.T) {
	t.Parallel()

	cur := fstest.MapFS{
		"policies/p/v1.0.0/a.txt": file("one"),
		"other/p/v1.0.0/a.txt":    file("ignored"),
	}
	r := New(snapshot.Static{"cur": cur}, WithRoot("/policies/"))

	got, err := r.Resolve(context.Background(), "", "cur")
	require.NoError(t, err)
	assert.Equal(t, []string{"p/v1.0.0"}, refs(got))
}

func TestResolver_UnreadableRef(t *testing.T) {
	t.Parallel()

	r := New(snapshot.Static{"cur": fstest.MapFS{}})

	tests := []struct {
		name     string
		prev     string
		cur      string
		wantRef  string
		sentinel error
	}{
		{name: "previous missing", prev: "gone", cur: "cur", wantRef: "gone", sentinel: snapshot.ErrRefNotFound},
		{name: "current missing", prev: "", cur: "gone", wantRef: "gone", sentinel: snapshot.ErrRefNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := r.Resolve(context.Background(), tt.prev, tt.cur)
			require.Error(t, err)
			assert.Nil(t, got)

			var re *release.ResolutionError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, tt.wantRef, re.Ref)
			assert.ErrorIs(t, err, tt.sentinel)
		})
	}
}

func TestTreeHash(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := fstest.MapFS{"x": file("1"), "d/y": file("2")}
	b := fstest.MapFS{"d/y": file("2"), "x": &fstest.MapFile{Data: []byte("1"), Mode: 0o600}}
	c := fstest.MapFS{"x": file("1"), "d/z": file("2")}

	ha, err := TreeHash(ctx, a)
	require.NoError(t, err)
	hb, err := TreeHash(ctx, b)
	require.NoError(t, err)
	hc, err := TreeHash(ctx, c)
	require.NoError(t, err)

	assert.Equal(t, ha, hb, "mode and map order do not affect the hash")
	assert.NotEqual(t, ha, hc, "renaming a file changes the hash")
}
