package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pumas-ai/pumas-launcher/internal/netexec"
	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	cache, err := OpenCache(filepath.Join(t.TempDir(), "hub-cache.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	tokens := NewTokenStore(filepath.Join(t.TempDir(), "hub-token"))
	exec := netexec.New(netexec.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute})
	c := New(exec, cache, tokens)
	c.baseURL = srv.URL
	return c
}

func TestSearchCachesAndAvoidsDuplicateFetch(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode([]RemoteModel{
			{RepoID: "meta-llama/llama-3-1-8b", PipelineTag: "text-generation", Files: []models.FileRecord{{Name: "model.safetensors"}}},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx := context.Background()

	results, err := c.Search(ctx, "llama", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, 1, calls, "Search must issue exactly one HTTP request on a cache miss")

	results2, err := c.Search(ctx, "llama", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, results2, 1)
	require.Equal(t, 1, calls, "a fresh cache hit must not re-fetch")
}

func TestInfoEnrichesWithShardGroups(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(RemoteModel{
			RepoID: "meta-llama/llama-3-1-8b",
			Files: []models.FileRecord{
				{Name: "model-00001-of-00002.safetensors"},
				{Name: "model-00002-of-00002.safetensors"},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	m, err := c.Info(context.Background(), "meta-llama/llama-3-1-8b")
	require.NoError(t, err)
	require.Len(t, m.Groups, 1)
	require.Len(t, m.Groups[0].Filenames, 2)
}

func TestSearchFallsBackToStaleCacheOnFailure(t *testing.T) {
	up := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !up {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode([]RemoteModel{{RepoID: "a/b"}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx := context.Background()

	_, err := c.Search(ctx, "q", "", 10, 0)
	require.NoError(t, err)

	up = false
	for i := 0; i < 5; i++ {
		_, _ = c.Search(ctx, "q-trip-breaker", "", 10, 0)
	}

	// Age the cached entry past the 24h freshness window so the final
	// Search has to go through the executor's stale fallback.
	_, err = c.cache.db.Exec(`UPDATE hub_search_cache SET fetched_at = ?`, time.Now().Add(-48*time.Hour).UTC().Format(time.RFC3339Nano))
	require.NoError(t, err)

	results, err := c.Search(ctx, "q", "", 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "a/b", results[0].RepoID)
}

func TestMatchFilenameExactAndFuzzy(t *testing.T) {
	candidates := []RemoteModel{
		{RepoID: "meta-llama/Llama-3.1-8B-Instruct"},
		{RepoID: "mistralai/Mixtral-8x7B"},
	}
	res, ok := MatchFilename("meta-llama/Llama-3.1-8B-Instruct", candidates)
	require.True(t, ok)
	require.Equal(t, "meta-llama/Llama-3.1-8B-Instruct", res.RepoID)
	require.Equal(t, "exact", res.Method)

	res2, ok := MatchFilename("llama-3.1-8b-instruct-q4", candidates)
	require.True(t, ok)
	require.Equal(t, "meta-llama/Llama-3.1-8B-Instruct", res2.RepoID)
}
