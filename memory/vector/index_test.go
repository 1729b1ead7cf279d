package vector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatIP_Search(t *testing.T) {
	x := NewFlatIP(0)
	require.NoError(t, x.Add([]float32{1, 0}, []float32{0, 1}, []float32{0.6, 0.8}))
	assert.Equal(t, 3, x.Len())
	assert.Equal(t, 2, x.Dim())

	hits, err := x.Search(context.Background(), []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 0, hits[0].Pos)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, 2, hits[1].Pos)
	assert.InDelta(t, 0.6, hits[1].Score, 1e-6)

	hits, err = x.Search(context.Background(), []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestFlatIP_Errors(t *testing.T) {
	x := NewFlatIP(2)
	assert.Error(t, x.Add([]float32{1, 2, 3}))
	assert.Error(t, x.Add([]float32{}))

	hits, err := x.Search(context.Background(), []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits, "empty index yields no hits")

	require.NoError(t, x.Add([]float32{1, 1}))
	_, err = x.Search(context.Background(), []float32{1}, 1)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = x.Search(ctx, []float32{1, 0}, 1)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestFlatIP_ScoreRange(t *testing.T) {
	x := NewFlatIP(0)
	require.NoError(t, x.Add([]float32{1, 0}, []float32{0.5, 0}, []float32{0, 1}))

	scores, err := x.ScoreRange([]float32{1, 0}, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0.5}, scores)

	_, err = x.ScoreRange([]float32{1, 0}, 1, 3)
	assert.Error(t, err)
}

func TestVectorsFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "2025-1-2.vec")
	in := [][]float32{{1, 2}, {3, 4}}
	require.NoError(t, SaveVectors(path, in))

	out, err := LoadVectors(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = LoadVectors(filepath.Join(t.TempDir(), "missing.vec"))
	assert.True(t, os.IsNotExist(err))
}

func TestBundleRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels", "book.yaml.bundle")
	b := Bundle{Texts: []string{"a", "b"}, Vectors: [][]float32{{1}, {2}}}
	require.NoError(t, SaveBundle(path, b))

	got, err := LoadBundle(path)
	require.NoError(t, err)
	assert.Equal(t, b, got)

	assert.Error(t, SaveBundle(path, Bundle{Texts: []string{"a"}}))
}
