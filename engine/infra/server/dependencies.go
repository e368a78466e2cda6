package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/compozy/kbchat/engine/infra/postgres"
	"github.com/compozy/kbchat/engine/infra/server/appstate"
	"github.com/compozy/kbchat/engine/infra/sqlite"
	"github.com/compozy/kbchat/engine/knowledge"
	"github.com/compozy/kbchat/engine/knowledge/answer"
	"github.com/compozy/kbchat/engine/knowledge/blob"
	"github.com/compozy/kbchat/engine/knowledge/chunk"
	"github.com/compozy/kbchat/engine/knowledge/embedder"
	"github.com/compozy/kbchat/engine/knowledge/ingest"
	"github.com/compozy/kbchat/engine/knowledge/records"
	"github.com/compozy/kbchat/engine/knowledge/retriever"
	"github.com/compozy/kbchat/engine/knowledge/sources"
	"github.com/compozy/kbchat/engine/knowledge/uc"
	"github.com/compozy/kbchat/engine/knowledge/vectordb"
	"github.com/compozy/kbchat/pkg/config"
	"github.com/compozy/kbchat/pkg/logger"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
	driverMemory   = "memory"

	cleanupTimeout = 30 * time.Second
)

type cleanupFunc func(context.Context) error

// Dependencies is everything a process needs to serve knowledge operations.
// The HTTP server and the one-shot CLI commands build it the same way.
type Dependencies struct {
	State    *appstate.State
	Repo     sources.Repository
	Blobs    blob.Store
	cleanups []cleanupFunc
	checks   map[string]appstate.CheckFunc
}

// SetupDependencies opens the stores named in cfg and wires the use cases.
// On failure everything opened so far is released.
func SetupDependencies(ctx context.Context, cfg *config.Config) (deps *Dependencies, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	log := logger.FromContext(ctx)
	start := time.Now()
	deps = &Dependencies{checks: map[string]appstate.CheckFunc{}}
	defer func() {
		if err != nil {
			deps.Close(context.WithoutCancel(ctx))
			deps = nil
		}
	}()
	repo, provider, err := deps.setupSourceRepository(ctx, cfg)
	if err != nil {
		return deps, err
	}
	deps.Repo = repo
	store, release, err := vectordb.AcquireShared(ctx, vectordb.ConfigFromApp(cfg))
	if err != nil {
		return deps, fmt.Errorf("failed to open vector store: %w", err)
	}
	deps.cleanups = append(deps.cleanups, release)
	blobs, err := blob.New(blob.ConfigFromApp(cfg))
	if err != nil {
		return deps, err
	}
	deps.Blobs = blobs
	opts := knowledge.OptionsFromConfig(cfg)
	if err := opts.Validate(); err != nil {
		return deps, fmt.Errorf("invalid knowledge options: %w", err)
	}
	estimator, err := chunk.NewEstimator(cfg.Knowledge.TokenEstimator, cfg.Embedder.Model)
	if err != nil {
		return deps, fmt.Errorf("failed to build token estimator: %w", err)
	}
	chunker, err := chunk.NewProcessor(chunk.SettingsFromOptions(opts), chunk.WithEstimator(estimator))
	if err != nil {
		return deps, fmt.Errorf("failed to build chunker: %w", err)
	}
	emb := embedder.NewLazyFromConfig(embedder.ConfigFromApp(cfg))
	pipeline, err := ingest.NewPipeline(emb, store, repo, opts, ingest.WithChunker(chunker))
	if err != nil {
		return deps, err
	}
	runner := ingest.NewRunner(opts.MaxConcurrentSources)
	deps.cleanups = append(deps.cleanups, func(context.Context) error {
		runner.Wait()
		return nil
	})
	ret, err := retriever.NewService(
		emb,
		store,
		retriever.WithDefaults(opts.TopK, opts.SimilarityThreshold),
		retriever.WithEstimator(estimator),
	)
	if err != nil {
		return deps, err
	}
	gen, err := answer.New(ctx, answer.ConfigFromApp(cfg))
	if err != nil {
		return deps, fmt.Errorf("failed to build answer generator: %w", err)
	}
	query, err := uc.NewQuery(ret, gen)
	if err != nil {
		return deps, err
	}
	state, err := appstate.NewState(cfg, appstate.UseCases{
		Ingest:       uc.NewIngest(repo, blobs, pipeline, runner),
		Query:        query,
		Search:       uc.NewSearch(ret),
		ListSources:  uc.NewListSources(repo),
		GetSource:    uc.NewGetSource(repo),
		DeleteSource: uc.NewDeleteSource(repo, store, runner),
		Sync:         uc.NewSync(repo, provider, pipeline, runner, recordsSpec(cfg)),
	}, runner)
	if err != nil {
		return deps, fmt.Errorf("failed to create app state: %w", err)
	}
	for name, check := range deps.checks {
		state.Checks[name] = check
	}
	deps.State = state
	log.Info("Dependencies ready",
		"database", cfg.Database.Driver,
		"vector_db", cfg.VectorDB.Provider,
		"blob", cfg.Blob.Provider,
		"generation_mode", gen.Mode(),
		"duration", time.Since(start),
	)
	return deps, nil
}

func recordsSpec(cfg *config.Config) records.Spec {
	r := cfg.Records
	return records.Spec{
		Table:     r.Table,
		KeyColumn: r.KeyColumn,
		Columns:   r.Columns,
		Category:  r.Category,
		Limit:     r.Limit,
	}
}

// setupSourceRepository returns the source registry and, for SQL drivers, the
// records provider reading from the same database.
func (d *Dependencies) setupSourceRepository(
	ctx context.Context,
	cfg *config.Config,
) (sources.Repository, records.Provider, error) {
	log := logger.FromContext(ctx)
	db := cfg.Database
	start := time.Now()
	switch strings.TrimSpace(db.Driver) {
	case driverPostgres:
		dsn := db.ConnString.Value()
		if db.AutoMigrate {
			if err := postgres.ApplyMigrationsWithLock(ctx, dsn); err != nil {
				return nil, nil, fmt.Errorf("failed to migrate postgres: %w", err)
			}
		}
		store, err := postgres.NewStore(ctx, &postgres.Config{
			ConnString: dsn,
			Name:       "kbchat",
			MaxConns:   db.MaxConns,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		d.cleanups = append(d.cleanups, store.Close)
		d.checks["database"] = store.HealthCheck
		log.Info("Database store initialized", "driver", driverPostgres, "duration", time.Since(start))
		return postgres.NewSourceRepo(store.Pool()), postgres.NewRecordsRepo(store.Pool()), nil
	case driverSQLite:
		store, err := sqlite.NewStore(ctx, &sqlite.Config{Path: db.Path, MaxOpenConns: int(db.MaxConns)})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		d.cleanups = append(d.cleanups, store.Close)
		d.checks["database"] = store.HealthCheck
		if err := sqlite.ApplyMigrations(ctx, store.DB()); err != nil {
			return nil, nil, fmt.Errorf("failed to migrate sqlite: %w", err)
		}
		log.Info("Database store initialized",
			"driver", driverSQLite,
			"path", db.Path,
			"mode", sqliteMode(db.Path),
			"duration", time.Since(start),
		)
		return sqlite.NewSourceRepo(store.DB()), sqlite.NewRecordsRepo(store.DB()), nil
	case driverMemory, "":
		if cfg.Runtime.Environment == "production" {
			log.Warn("In-memory source registry configured; source status is lost on restart",
				"driver", driverMemory,
			)
		}
		return sources.NewMemoryRepository(), nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}
}

func sqliteMode(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "unknown"
	}
	lowered := strings.ToLower(trimmed)
	if lowered == ":memory:" || strings.HasPrefix(lowered, "file::memory:") ||
		strings.Contains(lowered, "mode=memory") {
		return "in-memory"
	}
	return "file-based"
}

// Close releases everything in reverse order of acquisition. Each step is
// bounded so a stuck driver cannot hold shutdown forever.
func (d *Dependencies) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	log := logger.FromContext(ctx)
	var errs []error
	for i := len(d.cleanups) - 1; i >= 0; i-- {
		stepCtx, cancel := context.WithTimeout(ctx, cleanupTimeout)
		if err := d.cleanups[i](stepCtx); err != nil {
			log.Error("Cleanup failed", "index", len(d.cleanups)-1-i, "error", err)
			errs = append(errs, err)
		}
		cancel()
	}
	d.cleanups = nil
	return errors.Join(errs...)
}
