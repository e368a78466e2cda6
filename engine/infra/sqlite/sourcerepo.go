package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/sources"
)

const sourcesTable = "knowledge_sources"

var sourceColumns = []string{
	"id", "name", "format", "status", "origin", "category",
	"error_message", "chunk_count", "created_at", "updated_at",
}

// SourceRepo implements sources.Repository on a SQLite *sql.DB. Timestamps
// are stored as RFC 3339 text so they sort lexically.
type SourceRepo struct {
	db  *sql.DB
	now func() time.Time
}

func NewSourceRepo(db *sql.DB) *SourceRepo {
	return &SourceRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ sources.Repository = (*SourceRepo)(nil)

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func (r *SourceRepo) Create(ctx context.Context, src *knowledge.Source) error {
	if err := sources.ValidateNew(src); err != nil {
		return err
	}
	now := r.now()
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	src.UpdatedAt = now
	query, args, err := sq.Insert(sourcesTable).
		Columns(sourceColumns...).
		Values(
			src.ID, src.Name, src.Format, string(src.Status), src.Origin, src.Category,
			src.Error, src.ChunkCount, formatTime(src.CreatedAt), formatTime(src.UpdatedAt),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: build insert source: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("sqlite: insert source: %w", err)
	}
	return nil
}

func (r *SourceRepo) Get(ctx context.Context, id string) (*knowledge.Source, error) {
	return r.getBy(ctx, sq.Eq{"id": id}, id)
}

func (r *SourceRepo) FindByOrigin(ctx context.Context, origin string) (*knowledge.Source, error) {
	return r.getBy(ctx, sq.Eq{"origin": origin}, origin)
}

func (r *SourceRepo) getBy(ctx context.Context, where sq.Eq, label string) (*knowledge.Source, error) {
	query, args, err := sq.Select(sourceColumns...).
		From(sourcesTable).
		Where(where).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build select source: %w", err)
	}
	src, err := scanSource(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sources.NotFound(label)
		}
		return nil, fmt.Errorf("sqlite: get source: %w", err)
	}
	return src, nil
}

func (r *SourceRepo) List(ctx context.Context) ([]knowledge.Source, error) {
	query, args, err := sq.Select(sourceColumns...).
		From(sourcesTable).
		OrderBy("created_at DESC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build list sources: %w", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list sources: %w", err)
	}
	defer rows.Close()
	var out []knowledge.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan source: %w", err)
		}
		out = append(out, *src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iter sources: %w", err)
	}
	return out, nil
}

func (r *SourceRepo) UpdateStatus(ctx context.Context, id string, upd sources.StatusUpdate) error {
	if err := sources.ValidateUpdate(upd); err != nil {
		return err
	}
	query, args, err := sq.Update(sourcesTable).
		Set("status", string(upd.Status)).
		Set("chunk_count", upd.ChunkCount).
		Set("error_message", upd.Error).
		Set("updated_at", formatTime(r.now())).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: build update source: %w", err)
	}
	return r.execAffecting(ctx, id, query, args...)
}

func (r *SourceRepo) Delete(ctx context.Context, id string) error {
	query, args, err := sq.Delete(sourcesTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("sqlite: build delete source: %w", err)
	}
	return r.execAffecting(ctx, id, query, args...)
}

func (r *SourceRepo) execAffecting(ctx context.Context, id, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return sources.NotFound(id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*knowledge.Source, error) {
	var (
		src              knowledge.Source
		status           string
		created, updated string
	)
	if err := row.Scan(
		&src.ID, &src.Name, &src.Format, &status, &src.Origin, &src.Category,
		&src.Error, &src.ChunkCount, &created, &updated,
	); err != nil {
		return nil, err
	}
	src.Status = knowledge.SourceStatus(status)
	var err error
	if src.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if src.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &src, nil
}
