package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupVectorStore(t *testing.T) *VectorStore {
	t.Helper()
	vs, err := OpenVectorStore(context.Background(), MemoryPath, "local_sqlite_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = vs.Close() })
	return vs
}

func point(id, file, lang, symType string, v ...float32) Point {
	return Point{
		ID:     id,
		Vector: v,
		Payload: Payload{
			File:       file,
			Language:   lang,
			SymbolType: symType,
			SymbolName: id,
			LineStart:  1,
			LineEnd:    3,
		},
	}
}

func TestVectorStore_UpsertIdempotent(t *testing.T) {
	vs := setupVectorStore(t)
	ctx := context.Background()

	p := point("p1", "a.py", "python", "function", 1, 0, 0)
	require.NoError(t, vs.Upsert(ctx, []Point{p}))
	require.NoError(t, vs.Upsert(ctx, []Point{p}))

	info, err := vs.CollectionInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "local_sqlite_test", info.Name)
	assert.Equal(t, 1, info.PointsCount)

	// Same id replaces vector and payload
	p.Vector = []float32{0, 1, 0}
	p.Payload.SymbolName = "renamed"
	require.NoError(t, vs.Upsert(ctx, []Point{p}))

	res, err := vs.Search(ctx, []float32{0, 1, 0}, 5, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "renamed", res[0].Payload.SymbolName)
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)
}

func TestVectorStore_UpsertInvalid(t *testing.T) {
	vs := setupVectorStore(t)
	err := vs.Upsert(context.Background(), []Point{{ID: "x"}})
	assert.ErrorIs(t, err, ErrInvalidPoint)
	assert.NoError(t, vs.Upsert(context.Background(), nil))
}

func TestVectorStore_SearchRankingAndFilters(t *testing.T) {
	vs := setupVectorStore(t)
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, []Point{
		point("close", "a.py", "python", "function", 1, 0.1, 0),
		point("mid", "b.py", "python", "class", 1, 1, 0),
		point("far", "c.go", "go", "function", 0, 1, 0),
		point("negative", "d.go", "go", "function", -1, 0, 0),
		point("zero", "e.go", "go", "function", 0, 0, 0),
	}))

	res, err := vs.Search(ctx, []float32{1, 0, 0}, 10, nil)
	require.NoError(t, err)
	ids := make([]string, len(res))
	for i, r := range res {
		ids[i] = r.ID
	}
	// far is orthogonal (score 0); negative and zero-norm points are dropped too
	assert.Equal(t, []string{"close", "mid"}, ids)

	res, err = vs.Search(ctx, []float32{1, 0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "close", res[0].ID)

	res, err = vs.Search(ctx, []float32{1, 1, 0}, 10, &Filter{SymbolType: "class"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "mid", res[0].ID)

	res, err = vs.Search(ctx, []float32{0, 1, 0}, 10, &Filter{Language: "go", File: "c.go"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "far", res[0].ID)
}

func TestVectorStore_SearchEdgeCases(t *testing.T) {
	vs := setupVectorStore(t)
	ctx := context.Background()
	require.NoError(t, vs.Upsert(ctx, []Point{point("p", "a.py", "python", "function", 1, 1)}))

	testCases := []struct {
		name  string
		query []float32
		topK  int
	}{
		{"empty query vector", []float32{}, 10},
		{"zero limit", []float32{1, 1}, 0},
		{"negative limit", []float32{1, 1}, -1},
		{"dimension mismatch", []float32{1, 1, 1}, 10},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := vs.Search(ctx, tc.query, tc.topK, nil)
			assert.NoError(t, err)
			assert.NotNil(t, res)
			assert.Empty(t, res)
		})
	}
}

func TestVectorStore_DeleteByFile(t *testing.T) {
	vs := setupVectorStore(t)
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, []Point{
		point("a1", "a.py", "python", "function", 1, 0),
		point("a2", "a.py", "python", "class", 0, 1),
		point("b1", "b.py", "python", "function", 1, 1),
	}))

	n, err := vs.DeleteByFile(ctx, "a.py")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = vs.DeleteByFile(ctx, "missing.py")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := vs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	n, err = vs.DeleteByIDs(ctx, []string{"b1", "nope"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, vs.Clear(ctx))
	count, err = vs.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestVectorStore_DeleteByFileExcept(t *testing.T) {
	vs := setupVectorStore(t)
	ctx := context.Background()

	require.NoError(t, vs.Upsert(ctx, []Point{
		point("a1", "a.py", "python", "function", 1, 0),
		point("a2", "a.py", "python", "class", 0, 1),
		point("a3", "a.py", "python", "method", 1, 1),
		point("b1", "b.py", "python", "function", 1, 1),
	}))

	n, err := vs.DeleteByFileExcept(ctx, "a.py", []string{"a1", "b1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res, err := vs.Search(ctx, []float32{1, 1}, 10, nil)
	require.NoError(t, err)
	ids := make([]string, 0, len(res))
	for _, r := range res {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"a1", "b1"}, ids)

	// empty keep drops everything for the file
	n, err = vs.DeleteByFileExcept(ctx, "a.py", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := vs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestVectorStore_PayloadExtra(t *testing.T) {
	vs := setupVectorStore(t)
	ctx := context.Background()

	p := point("p", "a.py", "python", "method", 1)
	p.Payload.ParentClass = "Service"
	p.Payload.SizeInLines = 3
	p.Payload.Extra = map[string]string{"model": "local-hash"}
	require.NoError(t, vs.Upsert(ctx, []Point{p}))

	res, err := vs.Search(ctx, []float32{1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, p.Payload, res[0].Payload)
}

func TestCollectionName(t *testing.T) {
	assert.Equal(t, "local_sqlite_myproj", CollectionName("/home/u/myproj"))
}
