// Package hub implements the Hub Client (C5, §4.4): a typed wrapper over
// the remote model hub, routed entirely through internal/netexec.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pumas-ai/pumas-launcher/internal/netexec"
	"github.com/pumas-ai/pumas-launcher/internal/store"
	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

const domain = "huggingface.co"

// RemoteModel is one search-result entry, enriched with its downloadable
// file groups the way §4.4 describes.
type RemoteModel struct {
	RepoID      string             `json:"id"`
	PipelineTag string             `json:"pipeline_tag"`
	Tags        []string           `json:"tags"`
	Files       []models.FileRecord `json:"siblings"`
	Groups      []models.ShardGroup `json:"-"`
}

// Client is the C5 façade.
type Client struct {
	baseURL  string
	executor *netexec.Executor
	cache    *Cache
	tokens   *TokenStore
	http     *http.Client
}

func New(executor *netexec.Executor, cache *Cache, tokens *TokenStore) *Client {
	return &Client{
		baseURL:  "https://" + domain,
		executor: executor,
		cache:    cache,
		tokens:   tokens,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) ID() string          { return "hub" }
func (c *Client) Domains() []string   { return []string{domain} }
func (c *Client) OnNetworkRestored()  {}
func (c *Client) OnCircuitOpen(string) {}

func (c *Client) authorize(req *http.Request) {
	if tok := c.tokens.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
}

// Search performs a cached model search (§4.4): a cache hit fresh within
// 24h returns immediately; a miss calls the remote, enriches each result
// with its downloadable-file shard groups, and caches both the enriched
// search result and the per-repo detail separately.
func (c *Client) Search(ctx context.Context, query, kindFilter string, limit, offset int) ([]RemoteModel, error) {
	key := cacheKey(query, kindFilter, limit, offset)
	if cached, ok := c.cache.GetSearch(ctx, key, 24*time.Hour); ok {
		return cached, nil
	}

	resp, v, err := c.executor.Execute(ctx, domain, key, func(ctx context.Context) (*http.Response, error) {
		q := url.Values{}
		q.Set("search", query)
		q.Set("limit", strconv.Itoa(limit))
		q.Set("offset", strconv.Itoa(offset))
		q.Set("full", "true")
		q.Set("config", "true")
		if kindFilter != "" {
			q.Set("pipeline_tag", kindFilter)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/models?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		c.authorize(req)
		return c.http.Do(req)
	}, func() (any, bool) {
		if cached, ok := c.cache.GetSearchStale(ctx, key); ok {
			return cached, true
		}
		return nil, false
	})
	if err != nil {
		return nil, err
	}
	if stale, ok := v.([]RemoteModel); ok {
		return stale, nil
	}
	defer resp.Body.Close()

	var raw []RemoteModel
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("hub: decode search response: %w", err)
	}

	for i := range raw {
		raw[i].Groups = store.GroupShards(raw[i].Files)
		c.cache.PutRepo(ctx, raw[i].RepoID, raw[i])
	}
	c.cache.PutSearch(ctx, key, raw)
	return raw, nil
}

// Info fetches model info by repo_id (confidence 1.0, method "repo_id").
func (c *Client) Info(ctx context.Context, repoID string) (*RemoteModel, error) {
	if cached, ok := c.cache.GetRepo(ctx, repoID, 24*time.Hour); ok {
		return &cached, nil
	}
	resp, v, err := c.executor.Execute(ctx, domain, "info:"+repoID, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/models/"+repoID, nil)
		if err != nil {
			return nil, err
		}
		c.authorize(req)
		return c.http.Do(req)
	}, func() (any, bool) {
		if cached, ok := c.cache.GetRepoStale(ctx, repoID); ok {
			return cached, true
		}
		return nil, false
	})
	if err != nil {
		return nil, err
	}
	if stale, ok := v.(RemoteModel); ok {
		return &stale, nil
	}
	defer resp.Body.Close()
	var m RemoteModel
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("hub: decode model info: %w", err)
	}
	m.Groups = store.GroupShards(m.Files)
	c.cache.PutRepo(ctx, repoID, m)
	return &m, nil
}

// RepoTree lists a repository's files (used by the shard/orphan pipeline
// when the enriched search result doesn't already have the full tree).
func (c *Client) RepoTree(ctx context.Context, repoID string) ([]models.FileRecord, error) {
	m, err := c.Info(ctx, repoID)
	if err != nil {
		return nil, err
	}
	return m.Files, nil
}

// DownloadableFileSet exposes the primitive §2 C5 promise: the groups of
// files one would download for repoID.
func (c *Client) DownloadableFileSet(ctx context.Context, repoID string) ([]models.ShardGroup, error) {
	m, err := c.Info(ctx, repoID)
	if err != nil {
		return nil, err
	}
	return m.Groups, nil
}

func cacheKey(query, kindFilter string, limit, offset int) string {
	return fmt.Sprintf("%s|%s|%d|%d", query, kindFilter, limit, offset)
}
