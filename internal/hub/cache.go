package hub

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const cacheSchema = `
CREATE TABLE IF NOT EXISTS hub_search_cache (
	cache_key  TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	fetched_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS hub_repo_cache (
	repo_id    TEXT PRIMARY KEY,
	payload    TEXT NOT NULL,
	fetched_at TEXT NOT NULL
);
`

// Cache persists hub responses so a cold start or an offline stretch can
// still serve the last known answer (§4.4's stale-on-failure fallback).
// It keeps its own SQLite handle rather than sharing the search index's,
// since the hub client has no other dependency on searchindex.
type Cache struct {
	db *sql.DB
}

func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("hub: open cache: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("hub: cache schema: %w", err)
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

// GetSearch returns a cached search result only if it is within maxAge.
func (c *Cache) GetSearch(ctx context.Context, key string, maxAge time.Duration) ([]RemoteModel, bool) {
	payload, fetchedAt, ok := c.lookup(ctx, "hub_search_cache", "cache_key", key)
	if !ok || time.Since(fetchedAt) > maxAge {
		return nil, false
	}
	var out []RemoteModel
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, false
	}
	return out, true
}

// GetSearchStale returns a cached search result regardless of age, for use
// as the fallback when the live fetch itself has failed.
func (c *Cache) GetSearchStale(ctx context.Context, key string) ([]RemoteModel, bool) {
	payload, _, ok := c.lookup(ctx, "hub_search_cache", "cache_key", key)
	if !ok {
		return nil, false
	}
	var out []RemoteModel
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, false
	}
	return out, true
}

func (c *Cache) PutSearch(ctx context.Context, key string, v []RemoteModel) {
	c.put(ctx, "hub_search_cache", "cache_key", key, v)
}

func (c *Cache) GetRepo(ctx context.Context, repoID string, maxAge time.Duration) (RemoteModel, bool) {
	payload, fetchedAt, ok := c.lookup(ctx, "hub_repo_cache", "repo_id", repoID)
	if !ok || time.Since(fetchedAt) > maxAge {
		return RemoteModel{}, false
	}
	var out RemoteModel
	if err := json.Unmarshal(payload, &out); err != nil {
		return RemoteModel{}, false
	}
	return out, true
}

func (c *Cache) GetRepoStale(ctx context.Context, repoID string) (RemoteModel, bool) {
	payload, _, ok := c.lookup(ctx, "hub_repo_cache", "repo_id", repoID)
	if !ok {
		return RemoteModel{}, false
	}
	var out RemoteModel
	if err := json.Unmarshal(payload, &out); err != nil {
		return RemoteModel{}, false
	}
	return out, true
}

func (c *Cache) PutRepo(ctx context.Context, repoID string, v RemoteModel) {
	c.put(ctx, "hub_repo_cache", "repo_id", repoID, v)
}

func (c *Cache) lookup(ctx context.Context, table, keyCol, key string) ([]byte, time.Time, bool) {
	row := c.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT payload, fetched_at FROM %s WHERE %s = ?`, table, keyCol), key)
	var payload, fetchedAt string
	if err := row.Scan(&payload, &fetchedAt); err != nil {
		return nil, time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, fetchedAt)
	if err != nil {
		return nil, time.Time{}, false
	}
	return []byte(payload), t, true
}

func (c *Cache) put(ctx context.Context, table, keyCol, key string, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = c.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s, payload, fetched_at) VALUES (?, ?, ?)
		ON CONFLICT(%s) DO UPDATE SET payload=excluded.payload, fetched_at=excluded.fetched_at
	`, table, keyCol, keyCol), key, string(payload), time.Now().UTC().Format(time.RFC3339Nano))
}
