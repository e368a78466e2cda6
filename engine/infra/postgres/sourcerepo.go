package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/sources"
)

// DB is the subset of *pgxpool.Pool used by the repositories.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const sourcesTable = "knowledge_sources"

var (
	psql          = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	sourceColumns = []string{
		"id", "name", "format", "status", "origin", "category",
		"error_message", "chunk_count", "created_at", "updated_at",
	}
)

// SourceRepo implements sources.Repository on Postgres.
type SourceRepo struct {
	db  DB
	now func() time.Time
}

func NewSourceRepo(db DB) *SourceRepo {
	return &SourceRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ sources.Repository = (*SourceRepo)(nil)

func (r *SourceRepo) Create(ctx context.Context, src *knowledge.Source) error {
	if err := sources.ValidateNew(src); err != nil {
		return err
	}
	now := r.now()
	if src.CreatedAt.IsZero() {
		src.CreatedAt = now
	}
	src.UpdatedAt = now
	query, args, err := psql.Insert(sourcesTable).
		Columns(sourceColumns...).
		Values(
			src.ID, src.Name, src.Format, src.Status, src.Origin, src.Category,
			src.Error, src.ChunkCount, src.CreatedAt, src.UpdatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres: build insert source: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: insert source: %w", err)
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
	query, args, err := psql.Select(sourceColumns...).
		From(sourcesTable).
		Where(where).
		OrderBy("created_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: build select source: %w", err)
	}
	var src knowledge.Source
	if err := pgxscan.Get(ctx, r.db, &src, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sources.NotFound(label)
		}
		return nil, fmt.Errorf("postgres: get source: %w", err)
	}
	return &src, nil
}

func (r *SourceRepo) List(ctx context.Context) ([]knowledge.Source, error) {
	query, args, err := psql.Select(sourceColumns...).
		From(sourcesTable).
		OrderBy("created_at DESC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: build list sources: %w", err)
	}
	var out []knowledge.Source
	if err := pgxscan.Select(ctx, r.db, &out, query, args...); err != nil {
		return nil, fmt.Errorf("postgres: list sources: %w", err)
	}
	return out, nil
}

func (r *SourceRepo) UpdateStatus(ctx context.Context, id string, upd sources.StatusUpdate) error {
	if err := sources.ValidateUpdate(upd); err != nil {
		return err
	}
	query, args, err := psql.Update(sourcesTable).
		Set("status", upd.Status).
		Set("chunk_count", upd.ChunkCount).
		Set("error_message", upd.Error).
		Set("updated_at", r.now()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("postgres: build update source: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update source status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sources.NotFound(id)
	}
	return nil
}

func (r *SourceRepo) Delete(ctx context.Context, id string) error {
	query, args, err := psql.Delete(sourcesTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("postgres: build delete source: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: delete source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sources.NotFound(id)
	}
	return nil
}
