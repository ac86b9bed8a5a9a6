package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
	"github.com/gns-pkulkarni/chatbot-saas/internal/vector"
)

// DBPool is the subset of *pgxpool.Pool used by PostgresStorage.
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStorage implements Storage on PostgreSQL for multi-process deployments.
type PostgresStorage struct {
	pool DBPool
}

// NewPostgresStorage connects to connString and initializes the schema.
func NewPostgresStorage(ctx context.Context, connString string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	s := NewPostgresStorageWithPool(pool)
	if err := s.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStorageWithPool wraps an existing pool. The schema is not created.
func NewPostgresStorageWithPool(pool DBPool) *PostgresStorage {
	return &PostgresStorage{pool: pool}
}

// InitSchema creates tables and indexes if they do not exist.
func (s *PostgresStorage) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			origin TEXT NOT NULL,
			status TEXT NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			chunk_count INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_sources_tenant ON sources (tenant_id, created_at);
		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			tenant_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			content TEXT NOT NULL,
			embedding BYTEA NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks (source_id, ordinal);
		CREATE INDEX IF NOT EXISTS idx_chunks_tenant ON chunks (tenant_id);
		CREATE TABLE IF NOT EXISTS query_log (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			query TEXT NOT NULL,
			answer TEXT NOT NULL,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_query_log_tenant ON query_log (tenant_id, created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func scanPgSource(row pgx.Row) (*models.KnowledgeSource, error) {
	var src models.KnowledgeSource
	var kind, status string
	if err := row.Scan(&src.ID, &src.TenantID, &src.Name, &kind, &src.Origin, &status,
		&src.FailureReason, &src.ChunkCount, &src.CreatedAt, &src.UpdatedAt); err != nil {
		return nil, err
	}
	src.Kind = models.SourceKind(kind)
	src.Status = models.SourceStatus(status)
	return &src, nil
}

// CreateSource inserts a source row.
func (s *PostgresStorage) CreateSource(ctx context.Context, src *models.KnowledgeSource) error {
	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sources (`+sourceColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		src.ID, src.TenantID, src.Name, string(src.Kind), src.Origin, string(src.Status),
		src.FailureReason, src.ChunkCount, src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert source: %w", err)
	}
	return nil
}

// GetSource returns a tenant's source by ID.
func (s *PostgresStorage) GetSource(ctx context.Context, tenantID, id string) (*models.KnowledgeSource, error) {
	src, err := scanPgSource(s.pool.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	return src, err
}

// ListSources returns a tenant's sources, newest first.
func (s *PostgresStorage) ListSources(ctx context.Context, tenantID string) ([]*models.KnowledgeSource, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE tenant_id = $1 ORDER BY created_at DESC, id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.KnowledgeSource
	for rows.Next() {
		src, err := scanPgSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// CountSources counts a tenant's non-failed sources of the given kind.
func (s *PostgresStorage) CountSources(ctx context.Context, tenantID string, kind models.SourceKind) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sources WHERE tenant_id = $1 AND kind = $2 AND status <> $3`,
		tenantID, string(kind), string(models.StatusFailed),
	).Scan(&n)
	return n, err
}

// TransitionStatus performs a compare-and-set on the source status.
func (s *PostgresStorage) TransitionStatus(ctx context.Context, id string, from, to models.SourceStatus, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET status = $1, failure_reason = $2, updated_at = $3,
		   chunk_count = CASE WHEN $1 = 'active'
		     THEN (SELECT COUNT(*) FROM chunks WHERE chunks.source_id = sources.id)
		     ELSE chunk_count END
		 WHERE id = $4 AND status = $5`,
		string(to), reason, time.Now().UTC(), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return pgMissOrConflict(ctx, s.pool, id, from)
}

type pgRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgMissOrConflict(ctx context.Context, q pgRower, id string, want models.SourceStatus) error {
	var status string
	err := q.QueryRow(ctx, `SELECT status FROM sources WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("source %s is %s, want %s: %w", id, status, want, ErrStatusConflict)
}

// FailSource removes the source's chunks and marks it failed atomically.
func (s *PostgresStorage) FailSource(ctx context.Context, id, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE sources SET status = $1, failure_reason = $2, chunk_count = 0, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		string(models.StatusFailed), reason, time.Now().UTC(), id, string(models.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("%w: mark failed: %w", ErrWriteFailed, err)
	}
	if tag.RowsAffected() != 1 {
		return pgMissOrConflict(ctx, tx, id, models.StatusPending)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE source_id = $1`, id); err != nil {
		return fmt.Errorf("%w: delete chunks: %w", ErrWriteFailed, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrUnavailable, err)
	}
	return nil
}

// DeleteSource removes a tenant's source; chunks follow through ON DELETE CASCADE.
func (s *PostgresStorage) DeleteSource(ctx context.Context, tenantID, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to delete source: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReplaceChunks swaps the source's chunk set in one transaction. The source row is locked
// for the duration so a concurrent delete or transition waits for the swap.
func (s *PostgresStorage) ReplaceChunks(ctx context.Context, sourceID string, chunks []*models.Chunk) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var tenantID, status string
	err = tx.QueryRow(ctx, `SELECT tenant_id, status FROM sources WHERE id = $1 FOR UPDATE`, sourceID).Scan(&tenantID, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("source %s: %w", sourceID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: read source: %w", ErrUnavailable, err)
	}
	if models.SourceStatus(status) != models.StatusPending {
		return fmt.Errorf("source %s is %s, want %s: %w", sourceID, status, models.StatusPending, ErrStatusConflict)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE source_id = $1`, sourceID); err != nil {
		return fmt.Errorf("%w: delete chunks: %w", ErrWriteFailed, err)
	}

	now := time.Now().UTC()
	for _, ch := range chunks {
		if ch.SourceID != sourceID || ch.TenantID != tenantID {
			return fmt.Errorf("%w: chunk %s does not belong to source %s of tenant %s", ErrWriteFailed, ch.ID, sourceID, tenantID)
		}
		metadataJSON, err := json.Marshal(ch.Metadata)
		if err != nil {
			return fmt.Errorf("%w: marshal metadata: %w", ErrWriteFailed, err)
		}
		ch.CreatedAt = now
		if _, err := tx.Exec(ctx,
			`INSERT INTO chunks (id, source_id, tenant_id, ordinal, content, embedding, metadata, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			ch.ID, ch.SourceID, ch.TenantID, ch.Ordinal, ch.Content, vector.Encode(ch.Embedding), metadataJSON, ch.CreatedAt,
		); err != nil {
			return fmt.Errorf("%w: insert chunk %d: %w", ErrWriteFailed, ch.Ordinal, err)
		}
	}
	if _, err := tx.Exec(ctx,
		`UPDATE sources SET chunk_count = $1, updated_at = $2 WHERE id = $3`, len(chunks), now, sourceID); err != nil {
		return fmt.Errorf("%w: update chunk count: %w", ErrWriteFailed, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStorage) queryChunks(ctx context.Context, query string, args ...any) ([]*models.Chunk, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Chunk
	for rows.Next() {
		var ch models.Chunk
		var blob, metadataJSON []byte
		if err := rows.Scan(&ch.ID, &ch.SourceID, &ch.TenantID, &ch.Ordinal, &ch.Content, &blob, &metadataJSON, &ch.CreatedAt); err != nil {
			return nil, err
		}
		if ch.Embedding, err = vector.Decode(blob); err != nil {
			return nil, fmt.Errorf("chunk %s: %w", ch.ID, err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &ch.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		out = append(out, &ch)
	}
	return out, rows.Err()
}

// GetChunksBySource returns a source's chunks ordered by ordinal, whatever the source status.
func (s *PostgresStorage) GetChunksBySource(ctx context.Context, sourceID string) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks c WHERE c.source_id = $1 ORDER BY c.ordinal`, sourceID)
}

// ListTenantChunks returns the chunks of a tenant's active sources.
func (s *PostgresStorage) ListTenantChunks(ctx context.Context, tenantID string) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks c JOIN sources s ON s.id = c.source_id
		 WHERE c.tenant_id = $1 AND s.tenant_id = $1 AND s.status = $2
		 ORDER BY c.source_id, c.ordinal`,
		tenantID, string(models.StatusActive))
}

// AppendQueryRecord inserts a usage record.
func (s *PostgresStorage) AppendQueryRecord(ctx context.Context, rec *models.QueryRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO query_log (id, tenant_id, query, answer, prompt_tokens, completion_tokens, cost_usd, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.TenantID, rec.Query, rec.Answer, rec.PromptTokens, rec.CompletionTokens, rec.Cost, rec.CreatedAt,
	)
	return err
}

// ListQueryRecords returns a tenant's most recent records, newest first.
func (s *PostgresStorage) ListQueryRecords(ctx context.Context, tenantID string, limit int) ([]*models.QueryRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, tenant_id, query, answer, prompt_tokens, completion_tokens, cost_usd, created_at
		 FROM query_log WHERE tenant_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.QueryRecord
	for rows.Next() {
		var rec models.QueryRecord
		if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Query, &rec.Answer,
			&rec.PromptTokens, &rec.CompletionTokens, &rec.Cost, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// Stats returns row counts across all tenants.
func (s *PostgresStorage) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.pool.QueryRow(ctx,
		`SELECT
		   (SELECT COUNT(*) FROM sources),
		   (SELECT COUNT(*) FROM sources WHERE status = 'active'),
		   (SELECT COUNT(*) FROM sources WHERE status = 'pending'),
		   (SELECT COUNT(*) FROM sources WHERE status = 'failed'),
		   (SELECT COUNT(*) FROM chunks),
		   (SELECT COUNT(*) FROM query_log)`,
	).Scan(&st.Sources, &st.ActiveSources, &st.PendingSources, &st.FailedSources, &st.Chunks, &st.Queries)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Close closes the connection pool.
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}
