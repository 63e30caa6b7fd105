package searchindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	dir := t.TempDir()
	ix, err := Open(filepath.Join(dir, "search.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestUpsertGetDelete(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()
	rec := &models.ModelRecord{
		ModelID: "llm/meta-llama/llama-3-1-8b", ModelType: "llm", Family: "meta-llama",
		CleanedName: "llama-3-1-8b", OfficialName: "Llama 3.1 8B", Tags: []string{"chat", "instruct"},
		Path: "/lib/llm/meta-llama/llama-3-1-8b",
	}
	require.NoError(t, ix.Upsert(ctx, rec))

	got, err := ix.Get(ctx, rec.ModelID)
	require.NoError(t, err)
	require.Equal(t, rec.OfficialName, got.OfficialName)

	// Upsert again with the same value is a no-op per the round-trip law.
	require.NoError(t, ix.Upsert(ctx, rec))
	got2, err := ix.Get(ctx, rec.ModelID)
	require.NoError(t, err)
	require.Equal(t, got.ModelID, got2.ModelID)

	require.NoError(t, ix.Delete(ctx, rec.ModelID))
	require.NoError(t, ix.Delete(ctx, rec.ModelID)) // idempotent delete

	gone, err := ix.Get(ctx, rec.ModelID)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestSearchFullText(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()
	require.NoError(t, ix.Upsert(ctx, &models.ModelRecord{
		ModelID: "llm/meta-llama/llama-3-1-8b", ModelType: "llm", Family: "meta-llama",
		CleanedName: "llama-3-1-8b", OfficialName: "Llama 3.1 8B Instruct", Path: "/a",
	}))
	require.NoError(t, ix.Upsert(ctx, &models.ModelRecord{
		ModelID: "llm/mistralai/mixtral-8x7b", ModelType: "llm", Family: "mistralai",
		CleanedName: "mixtral-8x7b", OfficialName: "Mixtral 8x7B", Path: "/b",
	}))

	res, err := ix.Search(ctx, "llama", "", "", 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalCount)
	require.Equal(t, "llm/meta-llama/llama-3-1-8b", res.Rows[0].ModelID)
}

func TestSearchEmptyQueryScans(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()
	require.NoError(t, ix.Upsert(ctx, &models.ModelRecord{
		ModelID: "llm/a/a", ModelType: "llm", Family: "a", CleanedName: "a", Path: "/a",
	}))
	res, err := ix.Search(ctx, "", "", "", 10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalCount)
}
