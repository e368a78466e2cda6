package vectordb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// pgPool is the subset of *pgxpool.Pool the store needs.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

type pgStore struct {
	pool       pgPool
	tableIdent string
	indexIdent string
	sourceIdx  string
	dimension  int
	ensureIdx  bool
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

func newPGStore(ctx context.Context, cfg *Config) (Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgvector: failed to connect to postgres: %w", err)
	}
	store, err := openPGStore(ctx, pool, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func openPGStore(ctx context.Context, pool pgPool, cfg *Config) (*pgStore, error) {
	table := chooseTable(cfg)
	store := &pgStore{
		pool:       pool,
		tableIdent: pgx.Identifier{table}.Sanitize(),
		indexIdent: pgx.Identifier{chooseIndex(cfg)}.Sanitize(),
		sourceIdx:  pgx.Identifier{table + "_source_idx"}.Sanitize(),
		dimension:  cfg.Dimension,
		ensureIdx:  cfg.EnsureIndex,
	}
	if err := store.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func chooseTable(cfg *Config) string {
	if cfg.Table != "" {
		return cfg.Table
	}
	if cfg.Collection != "" {
		return cfg.Collection
	}
	return "knowledge_chunks"
}

func chooseIndex(cfg *Config) string {
	return chooseTable(cfg) + "_embedding_idx"
}

func (p *pgStore) ensureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("pgvector: enable extension: %w", err)
	}
	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		embedding vector(%d),
		document TEXT,
		metadata JSONB,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)`, p.tableIdent, p.dimension)
	if _, err := p.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("pgvector: create table: %w", err)
	}
	createSourceIdx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (source_id)", p.sourceIdx, p.tableIdent)
	if _, err := p.pool.Exec(ctx, createSourceIdx); err != nil {
		return fmt.Errorf("pgvector: create source index: %w", err)
	}
	if p.ensureIdx {
		createIndex := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)",
			p.indexIdent,
			p.tableIdent,
		)
		if _, err := p.pool.Exec(ctx, createIndex); err != nil {
			return fmt.Errorf("pgvector: create index: %w", err)
		}
	}
	return nil
}

func (p *pgStore) Upsert(ctx context.Context, records []Record) (err error) {
	if len(records) == 0 {
		return nil
	}
	for i := range records {
		if err := checkDimension("pgvector", records[i].ID, len(records[i].Embedding), p.dimension); err != nil {
			return err
		}
	}
	tx, txErr := p.pool.Begin(ctx)
	if txErr != nil {
		return fmt.Errorf("pgvector: begin tx: %w", txErr)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = fmt.Errorf("pgvector: rollback failed: %w; original error: %v", rbErr, err)
			}
			return
		}
		if commitErr := tx.Commit(ctx); commitErr != nil {
			err = fmt.Errorf("pgvector: commit: %w", commitErr)
		}
	}()
	stmt := fmt.Sprintf(`INSERT INTO %s (id, source_id, embedding, document, metadata, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
    source_id = excluded.source_id,
    embedding = excluded.embedding,
    document = excluded.document,
    metadata = excluded.metadata,
    updated_at = excluded.updated_at`, p.tableIdent)
	for i := range records {
		rec := records[i]
		metadata, marshalErr := json.Marshal(rec.Metadata)
		if marshalErr != nil {
			return fmt.Errorf("pgvector: marshal metadata for %q: %w", rec.ID, marshalErr)
		}
		vector := pgvector.NewVector(rec.Embedding)
		if _, execErr := tx.Exec(ctx, stmt, rec.ID, rec.SourceID, vector, rec.Text, metadata, time.Now().UTC()); execErr != nil {
			return fmt.Errorf("pgvector: upsert %q: %w", rec.ID, execErr)
		}
	}
	return nil
}

func (p *pgStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if len(query) != p.dimension {
		return nil, errors.New("pgvector: query dimension mismatch")
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	var b strings.Builder
	b.WriteString("SELECT id, source_id, document, metadata, 1 - (embedding <=> $1) AS score FROM ")
	b.WriteString(p.tableIdent)
	b.WriteString(" WHERE 1 - (embedding <=> $1) >= $2")
	args := []any{pgvector.NewVector(query), opts.MinScore}
	if opts.SourceID != "" {
		args = append(args, opts.SourceID)
		fmt.Fprintf(&b, " AND source_id = $%d", len(args))
	}
	for _, key := range slices.Sorted(maps.Keys(opts.Filters)) {
		args = append(args, key, opts.Filters[key])
		fmt.Fprintf(&b, " AND metadata ->> $%d = $%d", len(args)-1, len(args))
	}
	args = append(args, topK)
	fmt.Fprintf(&b, " ORDER BY embedding <=> $1 ASC, id ASC LIMIT $%d", len(args))
	rows, err := p.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	defer rows.Close()
	results := make([]Match, 0, topK)
	for rows.Next() {
		var (
			m           Match
			metadataRaw []byte
		)
		if err := rows.Scan(&m.ID, &m.SourceID, &m.Text, &metadataRaw, &m.Score); err != nil {
			return nil, fmt.Errorf("pgvector: scan: %w", err)
		}
		m.Metadata = make(map[string]any)
		if len(metadataRaw) > 0 {
			if err := json.Unmarshal(metadataRaw, &m.Metadata); err != nil {
				return nil, fmt.Errorf("pgvector: decode metadata: %w", err)
			}
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgvector: search rows: %w", err)
	}
	return Rank(results, opts.MinScore, topK), nil
}

func filterPredicate(filter Filter) sq.And {
	where := sq.And{}
	if len(filter.IDs) > 0 {
		where = append(where, sq.Expr("id = ANY(?)", filter.IDs))
	}
	if filter.SourceID != "" {
		where = append(where, sq.Eq{"source_id": filter.SourceID})
	}
	for _, key := range slices.Sorted(maps.Keys(filter.Metadata)) {
		where = append(where, sq.Expr("metadata ->> ? = ?", key, filter.Metadata[key]))
	}
	return where
}

func (p *pgStore) Delete(ctx context.Context, filter Filter) error {
	query := psql.Delete(p.tableIdent)
	if !filter.IsZero() {
		query = query.Where(filterPredicate(filter))
	}
	sql, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("pgvector: build delete: %w", err)
	}
	if _, err := p.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("pgvector: delete: %w", err)
	}
	return nil
}

func (p *pgStore) Count(ctx context.Context, filter Filter) (int, error) {
	query := psql.Select("COUNT(*)").From(p.tableIdent)
	if !filter.IsZero() {
		query = query.Where(filterPredicate(filter))
	}
	sql, args, err := query.ToSql()
	if err != nil {
		return 0, fmt.Errorf("pgvector: build count: %w", err)
	}
	var n int
	if err := p.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("pgvector: count: %w", err)
	}
	return n, nil
}

func (p *pgStore) Close(_ context.Context) error {
	p.pool.Close()
	return nil
}
