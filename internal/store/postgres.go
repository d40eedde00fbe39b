package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/ntufar/intellivault/internal/embeddings"
)

type PostgresStore struct {
	db  *sql.DB
	dim int
}

func NewPostgres(dsn string, embeddingDim int) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if embeddingDim <= 0 {
		embeddingDim = 1536
	}
	s := &PostgresStore{db: db, dim: embeddingDim}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	// Advisory lock prevents concurrent migrations when several services
	// start at once. In production, run a dedicated migration step instead.
	const lockID = 727150141

	var acquired bool
	err := s.db.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !acquired {
		// Another service is running migrations; wait briefly and skip.
		time.Sleep(2 * time.Second)
		return nil
	}
	defer func() {
		_, _ = s.db.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, lockID)
	}()

	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size_bytes BIGINT NOT NULL,
			checksum TEXT NOT NULL,
			status TEXT NOT NULL,
			error_reason TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT '',
			chunk_count INT NOT NULL DEFAULT 0,
			blob_path TEXT NOT NULL DEFAULT '',
			index_enqueued BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (tenant_id, checksum)
		);`,
		`CREATE INDEX IF NOT EXISTS documents_tenant_idx ON documents (tenant_id);`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			document_id UUID REFERENCES documents(id) ON DELETE CASCADE,
			chunk_index INT NOT NULL,
			text TEXT NOT NULL,
			embedding vector(%d),
			state TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (document_id, chunk_index)
		);`, s.dim),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document) (Document, bool, error) {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = StatusUploaded
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, tenant_id, filename, mime_type, size_bytes, checksum, status, language, blob_path)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (tenant_id, checksum) DO NOTHING`,
		doc.ID, doc.TenantID, doc.Filename, doc.MIMEType, doc.SizeBytes, doc.Checksum, doc.Status, doc.Language, doc.BlobPath)
	if err != nil {
		return Document{}, false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Identical bytes already uploaded by this tenant.
		existing, err := s.getByChecksum(ctx, doc.TenantID, doc.Checksum)
		if err != nil {
			return Document{}, false, err
		}
		return existing, false, nil
	}
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	return doc, true, nil
}

const documentColumns = `id, tenant_id, filename, mime_type, size_bytes, checksum, status, error_reason, language, chunk_count, blob_path, created_at, updated_at`

func (s *PostgresStore) getByChecksum(ctx context.Context, tenantID, checksum string) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id=$1 AND checksum=$2`, tenantID, checksum)
	return scanDocument(row)
}

func (s *PostgresStore) GetDocument(ctx context.Context, tenantID string, id uuid.UUID) (Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE tenant_id=$1 AND id=$2`, tenantID, id)
	return scanDocument(row)
}

func (s *PostgresStore) ListDocuments(ctx context.Context, tenantID string, statuses []DocumentStatus) ([]Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE tenant_id=$1`
	args := []any{tenantID}
	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, st := range statuses {
			strs[i] = string(st)
		}
		query += ` AND status = ANY($2)`
		args = append(args, pq.Array(strs))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, id uuid.UUID, status DocumentStatus, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status=$1, error_reason=$2, updated_at=now() WHERE id=$3`, status, reason, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *PostgresStore) SetChunkCount(ctx context.Context, id uuid.UUID, count int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET chunk_count=$1, index_enqueued=false, updated_at=now() WHERE id=$2`, count, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *PostgresStore) MarkIndexEnqueued(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET index_enqueued=true, updated_at=now()
		WHERE id=$1 AND index_enqueued=false AND status=$2`, id, StatusProcessing)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresStore) ClearIndexEnqueued(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET index_enqueued=false, updated_at=now() WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *PostgresStore) UpsertChunkTexts(ctx context.Context, docID uuid.UUID, chunks []Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, c := range chunks {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (document_id, chunk_index, text, state)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (document_id, chunk_index)
			DO UPDATE SET text=excluded.text, state=excluded.state, embedding=NULL, created_at=now()`,
			docID, c.Index, c.Text, ChunkPending)
		if err != nil {
			return err
		}
	}
	// Remove chunks left over from a previous, longer extraction.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunks WHERE document_id=$1 AND chunk_index >= $2`, docID, len(chunks)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) GetChunk(ctx context.Context, docID uuid.UUID, index int) (Chunk, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT document_id, chunk_index, text, COALESCE(embedding::text, ''), state, created_at
		FROM chunks WHERE document_id=$1 AND chunk_index=$2`, docID, index)
	return scanChunk(row)
}

func (s *PostgresStore) ListChunks(ctx context.Context, docID uuid.UUID) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, chunk_index, text, COALESCE(embedding::text, ''), state, created_at
		FROM chunks WHERE document_id=$1 ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveChunkEmbedding(ctx context.Context, docID uuid.UUID, index int, vec embeddings.Vector) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chunks SET embedding=$1::vector, state=$2
		WHERE document_id=$3 AND chunk_index=$4`,
		vectorToString(vec), ChunkEmbedded, docID, index)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChunkNotFound
	}
	return nil
}

func (s *PostgresStore) MarkChunkFailed(ctx context.Context, docID uuid.UUID, index int, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chunks SET state=$1 WHERE document_id=$2 AND chunk_index=$3`, ChunkFailed, docID, index)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrChunkNotFound
	}
	_ = reason // recorded at the document level when the join fails the doc
	return nil
}

func (s *PostgresStore) CountChunks(ctx context.Context, docID uuid.UUID) (ChunkCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM chunks WHERE document_id=$1 GROUP BY state`, docID)
	if err != nil {
		return ChunkCounts{}, err
	}
	defer rows.Close()

	var counts ChunkCounts
	for rows.Next() {
		var state ChunkState
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return ChunkCounts{}, err
		}
		switch state {
		case ChunkPending:
			counts.Pending = n
		case ChunkEmbedded:
			counts.Embedded = n
		case ChunkFailed:
			counts.Failed = n
		}
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (Document, error) {
	var doc Document
	err := row.Scan(&doc.ID, &doc.TenantID, &doc.Filename, &doc.MIMEType, &doc.SizeBytes,
		&doc.Checksum, &doc.Status, &doc.ErrorReason, &doc.Language, &doc.ChunkCount,
		&doc.BlobPath, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func scanChunk(row rowScanner) (Chunk, error) {
	var c Chunk
	var vecStr string
	err := row.Scan(&c.DocumentID, &c.Index, &c.Text, &vecStr, &c.State, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Chunk{}, ErrChunkNotFound
	}
	if err != nil {
		return Chunk{}, err
	}
	c.Embedding, err = parseVector(vecStr)
	if err != nil {
		return Chunk{}, fmt.Errorf("chunk %s/%d: %w", c.DocumentID, c.Index, err)
	}
	return c, nil
}

// vectorToString converts a Vector to pgvector literal format: "[0.1,0.2,...]".
func vectorToString(v embeddings.Vector) string {
	if len(v) == 0 {
		return "[]"
	}
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseVector reads the pgvector text representation. Empty input means the
// chunk has not been embedded yet.
func parseVector(s string) (embeddings.Vector, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "[]" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("malformed vector literal %q", s)
	}
	parts := strings.Split(s[1:len(s)-1], ",")
	vec := make(embeddings.Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector element %q: %w", p, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}
