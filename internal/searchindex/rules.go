package searchindex

import (
	"context"

	"github.com/pumas-ai/pumas-launcher/internal/store"
	"github.com/pumas-ai/pumas-launcher/pkg/models"
)

// ArchitectureRules implements store.RuleSource, reading the rule table
// this package owns so the Content Store's resolver never has its own
// copy of persisted rule state.
func (ix *Index) ArchitectureRules(ctx context.Context) ([]store.ArchitectureRule, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	rows, err := ix.db.QueryContext(ctx, `SELECT pattern, style, priority, type FROM architecture_rules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ArchitectureRule
	for rows.Next() {
		var r store.ArchitectureRule
		var style, typ string
		if err := rows.Scan(&r.Pattern, &style, &r.Priority, &typ); err != nil {
			return nil, err
		}
		r.Style = store.MatchStyle(style)
		r.Type = models.ModelType(typ)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (ix *Index) ConfigModelTypeRules(ctx context.Context) ([]store.ConfigRule, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	rows, err := ix.db.QueryContext(ctx, `SELECT model_type, type FROM config_model_type_rules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.ConfigRule
	for rows.Next() {
		var r store.ConfigRule
		var typ string
		if err := rows.Scan(&r.ModelType, &typ); err != nil {
			return nil, err
		}
		r.Type = models.ModelType(typ)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddArchitectureRule inserts a new architecture-matching rule.
func (ix *Index) AddArchitectureRule(ctx context.Context, r store.ArchitectureRule) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, err := ix.db.ExecContext(ctx, `INSERT INTO architecture_rules (pattern, style, priority, type) VALUES (?, ?, ?, ?)`,
		r.Pattern, string(r.Style), r.Priority, string(r.Type))
	return err
}

// AddConfigModelTypeRule inserts/replaces a config model_type rule.
func (ix *Index) AddConfigModelTypeRule(ctx context.Context, r store.ConfigRule) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, err := ix.db.ExecContext(ctx, `INSERT INTO config_model_type_rules (model_type, type) VALUES (?, ?) ON CONFLICT(model_type) DO UPDATE SET type=excluded.type`,
		r.ModelType, string(r.Type))
	return err
}
