// Package searchindex implements the SQLite-backed full-text index over
// the content store (C3, §4.2). It owns the model_type rule tables the
// Content Store's resolver reads through store.RuleSource.
package searchindex

const schema = `
CREATE TABLE IF NOT EXISTS models (
	model_id         TEXT PRIMARY KEY,
	model_type       TEXT NOT NULL,
	family           TEXT NOT NULL,
	cleaned_name     TEXT NOT NULL,
	official_name    TEXT,
	description      TEXT,
	tags             TEXT,
	repo_id          TEXT,
	sha256           TEXT,
	blake3           TEXT,
	path             TEXT NOT NULL,
	created_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_models_type ON models(model_type);
CREATE INDEX IF NOT EXISTS idx_models_sha256 ON models(sha256);

CREATE VIRTUAL TABLE IF NOT EXISTS models_fts USING fts5(
	model_id UNINDEXED,
	official_name,
	description,
	tags,
	content='models',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS models_ai AFTER INSERT ON models BEGIN
	INSERT INTO models_fts(rowid, model_id, official_name, description, tags)
	VALUES (new.rowid, new.model_id, new.official_name, new.description, new.tags);
END;

CREATE TRIGGER IF NOT EXISTS models_ad AFTER DELETE ON models BEGIN
	INSERT INTO models_fts(models_fts, rowid, model_id, official_name, description, tags)
	VALUES ('delete', old.rowid, old.model_id, old.official_name, old.description, old.tags);
END;

CREATE TRIGGER IF NOT EXISTS models_au AFTER UPDATE ON models BEGIN
	INSERT INTO models_fts(models_fts, rowid, model_id, official_name, description, tags)
	VALUES ('delete', old.rowid, old.model_id, old.official_name, old.description, old.tags);
	INSERT INTO models_fts(rowid, model_id, official_name, description, tags)
	VALUES (new.rowid, new.model_id, new.official_name, new.description, new.tags);
END;

CREATE TABLE IF NOT EXISTS architecture_rules (
	pattern   TEXT NOT NULL,
	style     TEXT NOT NULL,
	priority  INTEGER NOT NULL DEFAULT 0,
	type      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS config_model_type_rules (
	model_type TEXT NOT NULL PRIMARY KEY,
	type       TEXT NOT NULL
);

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
