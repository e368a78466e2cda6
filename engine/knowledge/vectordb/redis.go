package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"github.com/redis/go-redis/v9"
)

// redisStore keeps one hash per record plus an index set of all record IDs
// and one set per source. Similarity is computed client-side, which keeps
// the store usable on any Redis without the vector-set module.
type redisStore struct {
	client    redis.UniversalClient
	prefix    string
	dimension int
}

const (
	redisDefaultPrefix = "knowledge_vectors"
	redisFieldText     = "text"
	redisFieldSource   = "source_id"
	redisFieldMeta     = "metadata"
	redisFieldVector   = "embedding"
)

func newRedisStore(ctx context.Context, cfg *Config) (Store, error) {
	opt, err := redis.ParseURL(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("redis vector_db: invalid dsn: %w", err)
	}
	if opt.Password == "" && cfg.APIKey != "" {
		opt.Password = cfg.APIKey
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis vector_db: ping failed: %w", err)
	}
	return NewRedisStore(client, determineRedisKey(cfg), cfg.Dimension), nil
}

// NewRedisStore wraps an existing client. prefix namespaces every key.
func NewRedisStore(client redis.UniversalClient, prefix string, dimension int) Store {
	if prefix = sanitizeRedisKey(prefix); prefix == "" {
		prefix = redisDefaultPrefix
	}
	return &redisStore{client: client, prefix: prefix, dimension: dimension}
}

func determineRedisKey(cfg *Config) string {
	for _, candidate := range []string{cfg.Index, cfg.Collection, cfg.Table} {
		if key := sanitizeRedisKey(candidate); key != "" {
			return key
		}
	}
	return redisDefaultPrefix
}

func sanitizeRedisKey(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(unicode.ToLower(r))
		case r == ':', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_:-")
}

func (r *redisStore) recordKey(id string) string { return r.prefix + ":rec:" + id }
func (r *redisStore) indexKey() string { return r.prefix + ":ids" }
func (r *redisStore) sourceKey(id string) string { return r.prefix + ":src:" + id }

func (r *redisStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for _, rec := range records {
		if err := checkDimension("redis", rec.ID, len(rec.Embedding), r.dimension); err != nil {
			return err
		}
		vector, err := json.Marshal(rec.Embedding)
		if err != nil {
			return fmt.Errorf("redis: encode embedding for %q: %w", rec.ID, err)
		}
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("redis: encode metadata for %q: %w", rec.ID, err)
		}
		pipe.HSet(ctx, r.recordKey(rec.ID),
			redisFieldText, rec.Text,
			redisFieldSource, rec.SourceID,
			redisFieldMeta, string(meta),
			redisFieldVector, string(vector),
		)
		pipe.SAdd(ctx, r.indexKey(), rec.ID)
		if rec.SourceID != "" {
			pipe.SAdd(ctx, r.sourceKey(rec.SourceID), rec.ID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: upsert pipeline: %w", err)
	}
	return nil
}

func (r *redisStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if len(query) != r.dimension {
		return nil, fmt.Errorf("redis: query dimension mismatch")
	}
	filter := Filter{SourceID: opts.SourceID, Metadata: opts.Filters}
	records, err := r.load(ctx, filter)
	if err != nil {
		return nil, err
	}
	candidates := make([]Match, 0, len(records))
	for _, rec := range records {
		candidates = append(candidates, Match{
			ID:       rec.ID,
			SourceID: rec.SourceID,
			Score:    cosineSimilarity(rec.Embedding, query),
			Text:     rec.Text,
			Metadata: rec.Metadata,
		})
	}
	return Rank(candidates, opts.MinScore, opts.TopK), nil
}

func (r *redisStore) Delete(ctx context.Context, filter Filter) error {
	records, err := r.load(ctx, filter)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	for _, rec := range records {
		pipe.Del(ctx, r.recordKey(rec.ID))
		pipe.SRem(ctx, r.indexKey(), rec.ID)
		if rec.SourceID != "" {
			pipe.SRem(ctx, r.sourceKey(rec.SourceID), rec.ID)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: delete pipeline: %w", err)
	}
	return nil
}

func (r *redisStore) Count(ctx context.Context, filter Filter) (int, error) {
	if len(filter.IDs) == 0 && len(filter.Metadata) == 0 {
		key := r.indexKey()
		if filter.SourceID != "" {
			key = r.sourceKey(filter.SourceID)
		}
		n, err := r.client.SCard(ctx, key).Result()
		if err != nil {
			return 0, fmt.Errorf("redis: count: %w", err)
		}
		return int(n), nil
	}
	records, err := r.load(ctx, filter)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func (r *redisStore) Close(context.Context) error {
	return r.client.Close()
}

// load fetches every record selected by filter. Candidates come from the
// narrowest set available: explicit IDs, the source set, or the index.
func (r *redisStore) load(ctx context.Context, filter Filter) ([]Record, error) {
	ids := filter.IDs
	if len(ids) == 0 {
		key := r.indexKey()
		if filter.SourceID != "" {
			key = r.sourceKey(filter.SourceID)
		}
		members, err := r.client.SMembers(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("redis: list members: %w", err)
		}
		ids = members
	}
	if len(ids) == 0 {
		return nil, nil
	}
	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, r.recordKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: fetch records: %w", err)
	}
	out := make([]Record, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeRedisRecord(ids[i], fields)
		if err != nil {
			return nil, err
		}
		if recordSelected(rec, filter) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func decodeRedisRecord(id string, fields map[string]string) (Record, error) {
	rec := Record{
		ID:       id,
		SourceID: fields[redisFieldSource],
		Text:     fields[redisFieldText],
	}
	if raw := fields[redisFieldVector]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Embedding); err != nil {
			return Record{}, fmt.Errorf("redis: decode embedding for %q: %w", id, err)
		}
	}
	if raw := fields[redisFieldMeta]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &rec.Metadata); err != nil {
			return Record{}, fmt.Errorf("redis: decode metadata for %q: %w", id, err)
		}
	}
	if rec.Metadata == nil {
		rec.Metadata = make(map[string]any)
	}
	return rec, nil
}
