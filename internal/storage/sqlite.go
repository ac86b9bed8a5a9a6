package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
	"github.com/gns-pkulkarni/chatbot-saas/internal/vector"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	// Immediate transactions take the write lock up front so concurrent ingestions wait on
	// busy_timeout instead of failing on lock upgrade.
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sources (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		origin TEXT NOT NULL,
		status TEXT NOT NULL,
		failure_reason TEXT NOT NULL DEFAULT '',
		chunk_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_sources_tenant ON sources(tenant_id, created_at);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (source_id) REFERENCES sources(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source_id, ordinal);
	CREATE INDEX IF NOT EXISTS idx_chunks_tenant ON chunks(tenant_id);

	CREATE TABLE IF NOT EXISTS query_log (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		query TEXT NOT NULL,
		answer TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_query_log_tenant ON query_log(tenant_id, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

const sourceColumns = `id, tenant_id, name, kind, origin, status, failure_reason, chunk_count, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*models.KnowledgeSource, error) {
	var src models.KnowledgeSource
	err := row.Scan(&src.ID, &src.TenantID, &src.Name, &src.Kind, &src.Origin, &src.Status,
		&src.FailureReason, &src.ChunkCount, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// CreateSource inserts a source row.
func (s *SQLiteStorage) CreateSource(ctx context.Context, src *models.KnowledgeSource) error {
	now := time.Now().UTC()
	src.CreatedAt = now
	src.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (`+sourceColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		src.ID, src.TenantID, src.Name, src.Kind, src.Origin, src.Status,
		src.FailureReason, src.ChunkCount, src.CreatedAt, src.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert source: %w", err)
	}
	return nil
}

// GetSource returns a tenant's source by ID.
func (s *SQLiteStorage) GetSource(ctx context.Context, tenantID, id string) (*models.KnowledgeSource, error) {
	src, err := scanSource(s.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = ? AND tenant_id = ?`, id, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	return src, err
}

// ListSources returns a tenant's sources, newest first.
func (s *SQLiteStorage) ListSources(ctx context.Context, tenantID string) ([]*models.KnowledgeSource, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE tenant_id = ? ORDER BY created_at DESC, id`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.KnowledgeSource
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// CountSources counts a tenant's non-failed sources of the given kind.
func (s *SQLiteStorage) CountSources(ctx context.Context, tenantID string, kind models.SourceKind) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sources WHERE tenant_id = ? AND kind = ? AND status != ?`,
		tenantID, kind, models.StatusFailed,
	).Scan(&n)
	return n, err
}

// TransitionStatus performs a compare-and-set on the source status.
func (s *SQLiteStorage) TransitionStatus(ctx context.Context, id string, from, to models.SourceStatus, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET status = ?, failure_reason = ?, updated_at = ?,
		   chunk_count = CASE WHEN ? = 'active'
		     THEN (SELECT COUNT(*) FROM chunks WHERE chunks.source_id = sources.id)
		     ELSE chunk_count END
		 WHERE id = ? AND status = ?`,
		to, reason, time.Now().UTC(), to, id, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	return s.missOrConflict(ctx, s.db, id, from)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// missOrConflict explains why a guarded update touched no row.
func (s *SQLiteStorage) missOrConflict(ctx context.Context, q queryRower, id string, want models.SourceStatus) error {
	var status models.SourceStatus
	err := q.QueryRowContext(ctx, `SELECT status FROM sources WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("source %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("source %s is %s, want %s: %w", id, status, want, ErrStatusConflict)
}

// FailSource removes the source's chunks and marks it failed atomically.
func (s *SQLiteStorage) FailSource(ctx context.Context, id, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrUnavailable, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE sources SET status = ?, failure_reason = ?, chunk_count = 0, updated_at = ?
		 WHERE id = ? AND status = ?`,
		models.StatusFailed, reason, time.Now().UTC(), id, models.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("%w: mark failed: %w", ErrWriteFailed, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return s.missOrConflict(ctx, tx, id, models.StatusPending)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete chunks: %w", ErrWriteFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrUnavailable, err)
	}
	return nil
}

// DeleteSource removes a tenant's source and all of its chunks.
func (s *SQLiteStorage) DeleteSource(ctx context.Context, tenantID, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: begin: %w", ErrUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE source_id = ? AND tenant_id = ?`, id, tenantID); err != nil {
		return false, fmt.Errorf("failed to delete chunks: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ? AND tenant_id = ?`, id, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to delete source: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: commit: %w", ErrUnavailable, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReplaceChunks swaps the source's chunk set in one transaction.
func (s *SQLiteStorage) ReplaceChunks(ctx context.Context, sourceID string, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrUnavailable, err)
	}
	defer tx.Rollback()

	var tenantID string
	var status models.SourceStatus
	err = tx.QueryRowContext(ctx, `SELECT tenant_id, status FROM sources WHERE id = ?`, sourceID).Scan(&tenantID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("source %s: %w", sourceID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: read source: %w", ErrUnavailable, err)
	}
	if status != models.StatusPending {
		return fmt.Errorf("source %s is %s, want %s: %w", sourceID, status, models.StatusPending, ErrStatusConflict)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("%w: delete chunks: %w", ErrWriteFailed, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, source_id, tenant_id, ordinal, content, embedding, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return fmt.Errorf("%w: prepare: %w", ErrWriteFailed, err)
	}
	defer stmt.Close()

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
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.SourceID, ch.TenantID, ch.Ordinal, ch.Content,
			vector.Encode(ch.Embedding), string(metadataJSON), ch.CreatedAt); err != nil {
			return fmt.Errorf("%w: insert chunk %d: %w", ErrWriteFailed, ch.Ordinal, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sources SET chunk_count = ?, updated_at = ? WHERE id = ?`, len(chunks), now, sourceID); err != nil {
		return fmt.Errorf("%w: update chunk count: %w", ErrWriteFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrUnavailable, err)
	}
	return nil
}

const chunkColumns = `c.id, c.source_id, c.tenant_id, c.ordinal, c.content, c.embedding, c.metadata, c.created_at`

func scanChunk(row rowScanner) (*models.Chunk, error) {
	var ch models.Chunk
	var blob []byte
	var metadataJSON sql.NullString
	if err := row.Scan(&ch.ID, &ch.SourceID, &ch.TenantID, &ch.Ordinal, &ch.Content, &blob, &metadataJSON, &ch.CreatedAt); err != nil {
		return nil, err
	}
	vec, err := vector.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("chunk %s: %w", ch.ID, err)
	}
	ch.Embedding = vec
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &ch.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &ch, nil
}

func (s *SQLiteStorage) queryChunks(ctx context.Context, query string, args ...any) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

// GetChunksBySource returns a source's chunks ordered by ordinal, whatever the source status.
func (s *SQLiteStorage) GetChunksBySource(ctx context.Context, sourceID string) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks c WHERE c.source_id = ? ORDER BY c.ordinal`, sourceID)
}

// ListTenantChunks returns the chunks of a tenant's active sources.
func (s *SQLiteStorage) ListTenantChunks(ctx context.Context, tenantID string) ([]*models.Chunk, error) {
	return s.queryChunks(ctx,
		`SELECT `+chunkColumns+` FROM chunks c JOIN sources s ON s.id = c.source_id
		 WHERE c.tenant_id = ? AND s.tenant_id = ? AND s.status = ?
		 ORDER BY c.source_id, c.ordinal`,
		tenantID, tenantID, models.StatusActive)
}

// AppendQueryRecord inserts a usage record.
func (s *SQLiteStorage) AppendQueryRecord(ctx context.Context, rec *models.QueryRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO query_log (id, tenant_id, query, answer, prompt_tokens, completion_tokens, cost_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TenantID, rec.Query, rec.Answer, rec.PromptTokens, rec.CompletionTokens, rec.Cost, rec.CreatedAt,
	)
	return err
}

// ListQueryRecords returns a tenant's most recent records, newest first.
func (s *SQLiteStorage) ListQueryRecords(ctx context.Context, tenantID string, limit int) ([]*models.QueryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, query, answer, prompt_tokens, completion_tokens, cost_usd, created_at
		 FROM query_log WHERE tenant_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
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
func (s *SQLiteStorage) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
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

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
