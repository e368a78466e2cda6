package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/compozy/kbchat/engine/knowledge/records"
)

// RecordsRepo reads the rows synced as synthetic sources.
type RecordsRepo struct {
	db *sql.DB
}

func NewRecordsRepo(db *sql.DB) *RecordsRepo {
	return &RecordsRepo{db: db}
}

var _ records.Provider = (*RecordsRepo)(nil)

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (r *RecordsRepo) Fetch(ctx context.Context, spec records.Spec) ([]records.Row, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	key := quoteIdent(spec.KeyColumn)
	columns := []string{"*"}
	if len(spec.Columns) > 0 {
		columns = []string{key}
		for _, col := range spec.Columns {
			if col != spec.KeyColumn {
				columns = append(columns, quoteIdent(col))
			}
		}
	}
	builder := sq.Select(columns...).From(quoteIdent(spec.Table)).OrderBy(key)
	if spec.Limit > 0 {
		builder = builder.Limit(spec.Limit)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build records query: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: fetch records from %s: %w", spec.Table, err)
	}
	defer rows.Close()
	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sqlite: read columns: %w", err)
	}
	var out []records.Row
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sqlite: scan record: %w", err)
		}
		m := make(map[string]any, len(names))
		for i, name := range names {
			m[name] = values[i]
		}
		row, err := records.NewRow(spec.KeyColumn, spec.Columns, m)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iter records: %w", err)
	}
	return out, nil
}
