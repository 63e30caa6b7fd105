package searchindex

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

// Index is the C3 façade. The underlying *sql.DB is accessed serially
// behind mu: WAL mode permits concurrent readers only at the page layer,
// not through a single *sql.DB handle doing long-held reads, so every
// query here returns owned rows and releases the lock before the caller
// does anything with them (§5).
type Index struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path in WAL mode
// and applies the schema.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("searchindex: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer SQLite handle; see Index.mu doc
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("searchindex: schema: %w", err)
	}
	return &Index{db: db}, nil
}

func (ix *Index) Close() error { return ix.db.Close() }

// Upsert inserts or replaces a model row. Per §8's round-trip law,
// Upsert(get(Upsert(v))) is a no-op when the value hasn't changed — SQLite's
// INSERT ... ON CONFLICT DO UPDATE with identical values is idempotent.
func (ix *Index) Upsert(ctx context.Context, rec *models.ModelRecord) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	tags := strings.Join(rec.Tags, ",")
	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO models (model_id, model_type, family, cleaned_name, official_name, description, tags, repo_id, sha256, blake3, path, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(model_id) DO UPDATE SET
			model_type=excluded.model_type, family=excluded.family, cleaned_name=excluded.cleaned_name,
			official_name=excluded.official_name, description=excluded.description, tags=excluded.tags,
			repo_id=excluded.repo_id, sha256=excluded.sha256, blake3=excluded.blake3, path=excluded.path,
			updated_at=excluded.updated_at
	`, rec.ModelID, string(rec.ModelType), rec.Family, rec.CleanedName, rec.OfficialName, rec.Description,
		tags, rec.RepoID, rec.Hashes.SHA256, rec.Hashes.BLAKE3, rec.Path, now, now)
	if err != nil {
		return fmt.Errorf("searchindex: upsert %s: %w", rec.ModelID, err)
	}
	return nil
}

// Get returns the row for id, or (nil, nil) if absent.
func (ix *Index) Get(ctx context.Context, id string) (*models.ModelRecord, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.scanOne(ctx, `SELECT model_id, model_type, family, cleaned_name, official_name, description, tags, repo_id, sha256, blake3, path FROM models WHERE model_id = ?`, id)
}

// FindByHash looks up a model by its SHA-256 digest.
func (ix *Index) FindByHash(ctx context.Context, sha256Hex string) (*models.ModelRecord, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.scanOne(ctx, `SELECT model_id, model_type, family, cleaned_name, official_name, description, tags, repo_id, sha256, blake3, path FROM models WHERE sha256 = ? LIMIT 1`, sha256Hex)
}

func (ix *Index) scanOne(ctx context.Context, query string, arg any) (*models.ModelRecord, error) {
	row := ix.db.QueryRowContext(ctx, query, arg)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.ModelRecord, error) {
	var rec models.ModelRecord
	var tags, repoID, sha256Hex, blake3Hex, officialName, description sql.NullString
	if err := row.Scan(&rec.ModelID, &rec.ModelType, &rec.Family, &rec.CleanedName, &officialName, &description, &tags, &repoID, &sha256Hex, &blake3Hex, &rec.Path); err != nil {
		return nil, err
	}
	rec.OfficialName = officialName.String
	rec.Description = description.String
	rec.RepoID = repoID.String
	rec.Hashes = models.Hashes{SHA256: sha256Hex.String, BLAKE3: blake3Hex.String}
	if tags.String != "" {
		rec.Tags = strings.Split(tags.String, ",")
	}
	return &rec, nil
}

// Delete removes a model row. Per §8's idempotence law, calling Delete
// twice returns the same successful result both times (it is not an
// error to delete an absent row).
func (ix *Index) Delete(ctx context.Context, id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, err := ix.db.ExecContext(ctx, `DELETE FROM models WHERE model_id = ?`, id)
	return err
}

// SearchResult is one row plus pagination metadata.
type SearchResult struct {
	Rows       []*models.ModelRecord
	TotalCount int
	Took       time.Duration
}

// Search implements the §4.2 FTS5 query construction: tokenize, quote
// phrases, AND-join tokens, prefix-match the trailing token. An empty
// query degrades to a date-ordered scan.
func (ix *Index) Search(ctx context.Context, query string, typeFilter, tagFilter string, limit, offset int) (*SearchResult, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	start := time.Now()

	var rows *sql.Rows
	var err error
	var countRow *sql.Row

	where := []string{}
	args := []any{}
	if typeFilter != "" {
		where = append(where, "m.model_type = ?")
		args = append(args, typeFilter)
	}
	if tagFilter != "" {
		where = append(where, "m.tags LIKE ?")
		args = append(args, "%"+tagFilter+"%")
	}

	if strings.TrimSpace(query) == "" {
		whereClause := ""
		if len(where) > 0 {
			whereClause = "WHERE " + strings.Join(where, " AND ")
		}
		countRow = ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM models m "+whereClause, args...)
		q := fmt.Sprintf("SELECT m.model_id, m.model_type, m.family, m.cleaned_name, m.official_name, m.description, m.tags, m.repo_id, m.sha256, m.blake3, m.path FROM models m %s ORDER BY m.updated_at DESC LIMIT ? OFFSET ?", whereClause)
		rows, err = ix.db.QueryContext(ctx, q, append(append([]any{}, args...), limit, offset)...)
	} else {
		match := buildFTSQuery(query)
		ftsWhere := append([]string{"models_fts MATCH ?"}, where...)
		ftsArgs := append([]any{match}, args...)
		countRow = ix.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM models_fts f JOIN models m ON m.rowid = f.rowid WHERE "+strings.Join(ftsWhere, " AND "), ftsArgs...)
		q := fmt.Sprintf(`SELECT m.model_id, m.model_type, m.family, m.cleaned_name, m.official_name, m.description, m.tags, m.repo_id, m.sha256, m.blake3, m.path
			FROM models_fts f JOIN models m ON m.rowid = f.rowid
			WHERE %s ORDER BY rank LIMIT ? OFFSET ?`, strings.Join(ftsWhere, " AND "))
		rows, err = ix.db.QueryContext(ctx, q, append(append([]any{}, ftsArgs...), limit, offset)...)
	}
	if err != nil {
		return nil, fmt.Errorf("searchindex: search: %w", err)
	}
	defer rows.Close()

	var total int
	if err := countRow.Scan(&total); err != nil {
		return nil, fmt.Errorf("searchindex: count: %w", err)
	}

	var out []*models.ModelRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return &SearchResult{Rows: out, TotalCount: total, Took: time.Since(start)}, rows.Err()
}

// buildFTSQuery tokenizes the user string, quotes each token (to guard
// against FTS5 syntax characters) and AND-joins them, appending a prefix
// wildcard to the trailing token so "llam" matches "llama".
func buildFTSQuery(query string) string {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return `""`
	}
	quoted := make([]string, len(fields))
	for i, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		if i == len(fields)-1 {
			quoted[i] = fmt.Sprintf(`"%s"*`, f)
		} else {
			quoted[i] = fmt.Sprintf(`"%s"`, f)
		}
	}
	return strings.Join(quoted, " AND ")
}

// RebuildFTS rebuilds the FTS index from the models table's current
// contents, used after a bulk import or detected drift.
func (ix *Index) RebuildFTS(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, err := ix.db.ExecContext(ctx, `INSERT INTO models_fts(models_fts) VALUES('rebuild')`)
	return err
}

// Optimize merges FTS5 b-tree segments, recommended periodically by the
// sqlite documentation for long-lived FTS5 tables.
func (ix *Index) Optimize(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, err := ix.db.ExecContext(ctx, `INSERT INTO models_fts(models_fts) VALUES('optimize')`)
	return err
}

// CheckpointWAL runs a passive WAL checkpoint.
func (ix *Index) CheckpointWAL(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, err := ix.db.ExecContext(ctx, `PRAGMA wal_checkpoint(PASSIVE)`)
	return err
}
