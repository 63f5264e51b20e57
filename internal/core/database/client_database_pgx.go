package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pgvector/pgvector-go"

	"github.com/markdave123-py/autophile/internal/config"
	"github.com/markdave123-py/autophile/internal/core"
	"github.com/markdave123-py/autophile/internal/models"
)

type DatabaseClient struct {
	db  *sql.DB
	log *slog.Logger
}

var _ core.DbClient = (*DatabaseClient)(nil)

func NewDatabaseClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*DatabaseClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	dsn := cfg.DatabaseURL
	if cfg.SslCertPath != "" {
		if _, err := os.Stat(cfg.SslCertPath); err != nil {
			return nil, fmt.Errorf("ssl cert not accessible at %q: %w", cfg.SslCertPath, err)
		}
		u, err := url.Parse(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		q := u.Query()
		q.Set("sslmode", "verify-ca")
		q.Set("sslrootcert", cfg.SslCertPath)
		u.RawQuery = q.Encode()
		dsn = u.String()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := EnsureBootstrapped(ctx, db, cfg.EmbedDim); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	logger.Info("postgres store ready")

	return &DatabaseClient{db: db, log: logger}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Documents

const documentColumns = `id, user_id, file_name, file_ref, file_size, content_hash, content_type,
	status, page_count, metadata, processed_at, created_at, updated_at`

func (c *DatabaseClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	meta, err := encodeJSON(doc.Metadata)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO documents
			(id, user_id, file_name, file_ref, file_size, content_hash, content_type, status, metadata, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()), COALESCE($11, now()))
	`
	_, err = c.db.ExecContext(ctx, q,
		doc.ID, doc.UserID, doc.FileName, doc.FileRef, doc.FileSize, doc.ContentHash, doc.ContentType,
		string(doc.Status), meta, nullTime(doc.CreatedAt), nullTime(doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (c *DatabaseClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return scanDocument(c.db.QueryRowContext(ctx, q, id))
}

func (c *DatabaseClient) GetDocumentByHash(ctx context.Context, userID, contentHash string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + `
		FROM documents
		WHERE user_id = $1 AND content_hash = $2
		ORDER BY created_at ASC
		LIMIT 1`
	return scanDocument(c.db.QueryRowContext(ctx, q, userID, contentHash))
}

func (c *DatabaseClient) ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE user_id = $1 ORDER BY created_at DESC`
	return c.queryDocuments(ctx, q, userID)
}

func (c *DatabaseClient) ListDocumentsByStatus(ctx context.Context, status models.DocumentStatus) ([]models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE status = $1 ORDER BY created_at ASC`
	return c.queryDocuments(ctx, q, string(status))
}

func (c *DatabaseClient) queryDocuments(ctx context.Context, q string, args ...any) ([]models.Document, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// BeginProcessing is a compare-and-set on status, so concurrent deliveries of
// the same job see exactly one winner.
func (c *DatabaseClient) BeginProcessing(ctx context.Context, id string) (bool, error) {
	const q = `
		UPDATE documents
		SET status = 'processing', updated_at = now()
		WHERE id = $1 AND status = 'uploaded'
	`
	res, err := c.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	if _, err := c.GetDocumentByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (c *DatabaseClient) MarkReady(ctx context.Context, id string, pageCount int, meta models.DocumentMetadata, processedAt time.Time) error {
	metaJSON, err := encodeJSON(meta)
	if err != nil {
		return err
	}
	const q = `
		UPDATE documents
		SET status = 'ready', page_count = $2, metadata = $3, processed_at = $4, updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	res, err := c.db.ExecContext(ctx, q, id, pageCount, metaJSON, processedAt)
	if err != nil {
		return err
	}
	return expectOne(res, "document %s is not processing", id)
}

func (c *DatabaseClient) MarkFailed(ctx context.Context, id string) error {
	const q = `
		UPDATE documents
		SET status = 'failed', updated_at = now()
		WHERE id = $1 AND status = 'processing'
	`
	res, err := c.db.ExecContext(ctx, q, id)
	if err != nil {
		return err
	}
	return expectOne(res, "document %s is not processing", id)
}

func (c *DatabaseClient) UpdateFileRef(ctx context.Context, id, fileRef string) error {
	const q = `UPDATE documents SET file_ref = $2, updated_at = now() WHERE id = $1`
	res, err := c.db.ExecContext(ctx, q, id, fileRef)
	if err != nil {
		return err
	}
	return expectOne(res, "document not found: %s", id)
}

// Document chunks

// InsertDocumentChunks inserts chunks in a single transaction.
func (c *DatabaseClient) InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO document_chunks
			(id, document_id, content, page_number, chunk_index, bbox, section_heading, token_count, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, COALESCE($10, now()))
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		bbox, err := encodeBBox(ch.BBox)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		var vec any
		if len(ch.Embedding) > 0 {
			vec = pgvector.NewVector(ch.Embedding)
		}
		if _, err := stmt.ExecContext(ctx,
			ch.ID, ch.DocumentID, ch.Content, ch.PageNumber, ch.ChunkIndex, bbox,
			ch.SectionHeading, ch.TokenCount, vec, nullTime(ch.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert chunk %d: %w", ch.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

func (c *DatabaseClient) HasEmbeddings(ctx context.Context, documentID string) (bool, error) {
	var ok bool
	err := c.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM document_chunks WHERE document_id = $1 AND embedding IS NOT NULL)`,
		documentID).Scan(&ok)
	return ok, err
}

// similarChunksQuery ranks every embedded chunk of one document exactly;
// the document filter runs before the ORDER BY, never after an index walk.
const similarChunksQuery = `
	WITH candidates AS MATERIALIZED (
		SELECT id, document_id, content, page_number, chunk_index, bbox, section_heading, token_count, created_at,
		       embedding <=> $2 AS distance
		FROM document_chunks
		WHERE document_id = $1 AND embedding IS NOT NULL
	)
	SELECT id, document_id, content, page_number, chunk_index, bbox, section_heading, token_count, created_at,
	       1 - distance AS similarity
	FROM candidates
	ORDER BY distance, chunk_index
	LIMIT $3
`

// SearchSimilarChunks ranks by cosine distance; similarity is 1 - distance.
func (c *DatabaseClient) SearchSimilarChunks(ctx context.Context, documentID string, queryVec []float32, limit int) ([]models.DocumentChunk, error) {
	rows, err := c.db.QueryContext(ctx, similarChunksQuery, documentID, pgvector.NewVector(queryVec), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		ch, err := scanChunk(rows, true)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) ListChunksByIndex(ctx context.Context, documentID string, limit int) ([]models.DocumentChunk, error) {
	const q = `
		SELECT id, document_id, content, page_number, chunk_index, bbox, section_heading, token_count, created_at
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY chunk_index ASC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, q, documentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		ch, err := scanChunk(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks WHERE document_id = $1`, documentID).Scan(&n)
	return n, err
}

func (c *DatabaseClient) SearchChunkText(ctx context.Context, documentID, query string) ([]models.PageMatch, error) {
	const q = `
		SELECT page_number, COUNT(*)
		FROM document_chunks
		WHERE document_id = $1 AND content ILIKE $2
		GROUP BY page_number
		ORDER BY page_number
	`
	rows, err := c.db.QueryContext(ctx, q, documentID, likePattern(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PageMatch
	for rows.Next() {
		var m models.PageMatch
		if err := rows.Scan(&m.Page, &m.Count); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Chat

func (c *DatabaseClient) CreateChatSession(ctx context.Context, s *models.ChatSession) error {
	if s == nil {
		return errors.New("nil session")
	}
	const q = `
		INSERT INTO chat_sessions (id, user_id, document_id, title, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`
	_, err := c.db.ExecContext(ctx, q, s.ID, s.UserID, s.DocumentID, s.Title, nullTime(s.CreatedAt))
	return err
}

func (c *DatabaseClient) GetChatSession(ctx context.Context, id string) (*models.ChatSession, error) {
	const q = `SELECT id, user_id, document_id, title, created_at FROM chat_sessions WHERE id = $1`
	var s models.ChatSession
	err := c.db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.UserID, &s.DocumentID, &s.Title, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *DatabaseClient) ListChatSessions(ctx context.Context, documentID string) ([]models.ChatSession, error) {
	const q = `
		SELECT id, user_id, document_id, title, created_at
		FROM chat_sessions
		WHERE document_id = $1
		ORDER BY created_at DESC
	`
	rows, err := c.db.QueryContext(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatSession
	for rows.Next() {
		var s models.ChatSession
		if err := rows.Scan(&s.ID, &s.UserID, &s.DocumentID, &s.Title, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *DatabaseClient) AddChatMessage(ctx context.Context, m *models.ChatMessage) error {
	if m == nil {
		return errors.New("nil message")
	}
	cites, err := encodeCitations(m.Citations)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO chat_messages (id, session_id, role, content, citations, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, clock_timestamp()))
	`
	_, err = c.db.ExecContext(ctx, q, m.ID, m.SessionID, m.Role, m.Content, cites, nullTime(m.CreatedAt))
	return err
}

func (c *DatabaseClient) GetRecentMessages(ctx context.Context, sessionID, excludeID string, limit int) ([]models.ChatMessage, error) {
	const q = `
		SELECT id, session_id, role, content, citations, created_at
		FROM chat_messages
		WHERE session_id = $1 AND ($2 = '' OR id::text <> $2)
		ORDER BY created_at DESC
		LIMIT $3
	`
	out, err := c.queryMessages(ctx, q, sessionID, excludeID, limit)
	if err != nil {
		return nil, err
	}
	reverseMessages(out)
	return out, nil
}

func (c *DatabaseClient) GetMessagesBySession(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	const q = `
		SELECT id, session_id, role, content, citations, created_at
		FROM chat_messages
		WHERE session_id = $1
		ORDER BY created_at ASC
	`
	return c.queryMessages(ctx, q, sessionID)
}

func (c *DatabaseClient) queryMessages(ctx context.Context, q string, args ...any) ([]models.ChatMessage, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var (
			m     models.ChatMessage
			cites string
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &cites, &m.CreatedAt); err != nil {
			return nil, err
		}
		if m.Citations, err = decodeCitations(cites); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
