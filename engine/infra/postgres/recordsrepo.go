package postgres

import (
	"context"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"github.com/compozy/kbchat/engine/knowledge/records"
)

// RecordsRepo reads the rows synced as synthetic sources.
type RecordsRepo struct {
	db DB
}

func NewRecordsRepo(db DB) *RecordsRepo {
	return &RecordsRepo{db: db}
}

var _ records.Provider = (*RecordsRepo)(nil)

// Fetch selects spec.Columns (or every column) ordered by the key column.
// Identifiers are quoted; config validation already restricts them to SQL
// identifiers.
func (r *RecordsRepo) Fetch(ctx context.Context, spec records.Spec) ([]records.Row, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	key := pgx.Identifier{spec.KeyColumn}.Sanitize()
	columns := []string{"*"}
	if len(spec.Columns) > 0 {
		columns = make([]string, 0, len(spec.Columns)+1)
		columns = append(columns, key)
		for _, col := range spec.Columns {
			if col != spec.KeyColumn {
				columns = append(columns, pgx.Identifier{col}.Sanitize())
			}
		}
	}
	builder := psql.Select(columns...).
		From(pgx.Identifier{spec.Table}.Sanitize()).
		OrderBy(key)
	if spec.Limit > 0 {
		builder = builder.Limit(spec.Limit)
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: build records query: %w", err)
	}
	var raw []map[string]any
	if err := pgxscan.Select(ctx, r.db, &raw, query, args...); err != nil {
		return nil, fmt.Errorf("postgres: fetch records from %s: %w", spec.Table, err)
	}
	out := make([]records.Row, 0, len(raw))
	for _, values := range raw {
		row, err := records.NewRow(spec.KeyColumn, spec.Columns, values)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}
