package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dgallion1/docrag/internal/retrieval"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// DB is the subset of pgxpool.Pool used by PostgresStore.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PoolConfig holds tunable parameters for the connection pool.
type PoolConfig struct {
	MaxConns int
	MinConns int
}

// NewPool opens a pgx pool with pgvector types registered and pings it.
func NewPool(ctx context.Context, dsn string, cfg PoolConfig) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	config.MaxConns = 10
	if cfg.MaxConns > 0 {
		config.MaxConns = int32(cfg.MaxConns)
	}
	config.MinConns = 1
	if cfg.MinConns > 0 {
		config.MinConns = int32(cfg.MinConns)
	}
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	// Types can only be registered once the extension exists.
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
			return fmt.Errorf("create vector extension: %w", err)
		}
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// PostgresStore keeps chunks in a pgvector-backed documents table.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the documents table and its indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context, dims int) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
			chunk_id     TEXT PRIMARY KEY,
			doc_id       TEXT NOT NULL,
			doc_title    TEXT NOT NULL,
			folder       TEXT NOT NULL,
			text         TEXT NOT NULL,
			page_start   INTEGER NOT NULL,
			page_end     INTEGER NOT NULL,
			heading_path TEXT[] NOT NULL DEFAULT '{}',
			n_tokens     INTEGER NOT NULL,
			content_hash TEXT NOT NULL,
			embedding    vector(%d) NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dims),
		`CREATE INDEX IF NOT EXISTS documents_folder_idx ON documents (folder)`,
		`CREATE INDEX IF NOT EXISTS documents_doc_id_idx ON documents (doc_id)`,
		`CREATE INDEX IF NOT EXISTS documents_content_hash_idx ON documents (content_hash)`,
		`CREATE INDEX IF NOT EXISTS documents_embedding_idx ON documents USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const upsertSQL = `
	INSERT INTO documents (chunk_id, doc_id, doc_title, folder, text, page_start, page_end,
		heading_path, n_tokens, content_hash, embedding, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
	ON CONFLICT (chunk_id) DO UPDATE SET
		doc_id = EXCLUDED.doc_id,
		doc_title = EXCLUDED.doc_title,
		folder = EXCLUDED.folder,
		text = EXCLUDED.text,
		page_start = EXCLUDED.page_start,
		page_end = EXCLUDED.page_end,
		heading_path = EXCLUDED.heading_path,
		n_tokens = EXCLUDED.n_tokens,
		content_hash = EXCLUDED.content_hash,
		embedding = EXCLUDED.embedding,
		updated_at = now()`

// Upsert writes records in one transaction, replacing rows by chunk_id.
func (s *PostgresStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertRecords(ctx, tx, records); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// ReplaceDocument deletes the document's rows and writes records in the
// same transaction.
func (s *PostgresStore) ReplaceDocument(ctx context.Context, docID string, records []Record) (int64, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin replace: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM documents WHERE doc_id = $1`, docID)
	if err != nil {
		return 0, fmt.Errorf("replace document %s: %w", docID, err)
	}
	if err := insertRecords(ctx, tx, records); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit replace: %w", err)
	}
	return tag.RowsAffected(), nil
}

func insertRecords(ctx context.Context, tx pgx.Tx, records []Record) error {
	for _, r := range records {
		path := r.HeadingPath
		if path == nil {
			path = []string{}
		}
		if _, err := tx.Exec(ctx, upsertSQL,
			r.ChunkID, r.DocID, r.DocTitle, r.Folder, r.Text, r.PageStart, r.PageEnd,
			path, r.TokenCount, r.ContentHash, pgvector.NewVector(r.Embedding),
		); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", r.ChunkID, err)
		}
	}
	return nil
}

const searchSQL = `
	SELECT chunk_id, doc_id, doc_title, folder, text, page_start, page_end, heading_path, n_tokens,
		1 - (embedding <=> $1) AS similarity
	FROM documents
	WHERE ($2 = '' OR folder = $2) AND 1 - (embedding <=> $1) >= $3
	ORDER BY embedding <=> $1
	LIMIT $4`

// Search returns up to k chunks by cosine similarity at or above threshold.
func (s *PostgresStore) Search(ctx context.Context, embedding []float32, folder string, k int, threshold float64) ([]retrieval.Candidate, error) {
	rows, err := s.db.Query(ctx, searchSQL, pgvector.NewVector(embedding), folder, threshold, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var out []retrieval.Candidate
	for rows.Next() {
		var c retrieval.Candidate
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.DocTitle, &c.Folder, &c.Text,
			&c.PageStart, &c.PageEnd, &c.HeadingPath, &c.TokenCount, &c.VectorScore); err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, docID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE doc_id = $1`, docID)
	if err != nil {
		return 0, fmt.Errorf("delete document %s: %w", docID, err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, folder string) ([]DocumentSummary, error) {
	rows, err := s.db.Query(ctx, `
		SELECT doc_id, doc_title, folder, content_hash, count(*)
		FROM documents
		WHERE ($1 = '' OR folder = $1)
		GROUP BY doc_id, doc_title, folder, content_hash
		ORDER BY doc_title`, folder)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentSummary
	for rows.Next() {
		var d DocumentSummary
		if err := rows.Scan(&d.DocID, &d.DocTitle, &d.Folder, &d.ContentHash, &d.Chunks); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) HasContentHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM documents WHERE content_hash = $1)`, hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup content hash: %w", err)
	}
	return exists, nil
}
