package db

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/markdave123-py/autophile/internal/core"
	"github.com/markdave123-py/autophile/internal/models"
)

// SQLiteClient is a single-file store for local use. Embeddings are kept as
// little-endian float32 blobs and ranked in process.
type SQLiteClient struct {
	db   *sql.DB
	path string
	log  *slog.Logger
}

var _ core.DbClient = (*SQLiteClient)(nil)

func NewSQLiteClient(ctx context.Context, path string, logger *slog.Logger) (*SQLiteClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; keeps WAL readers and the ingest writer from
	// tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := ensureSQLiteSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	logger.Info("sqlite store ready", "path", path)
	return &SQLiteClient{db: db, path: path, log: logger}, nil
}

func (s *SQLiteClient) Close() error { return s.db.Close() }

func now() time.Time { return time.Now().UTC() }

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return now()
	}
	return t.UTC()
}

// Documents

func (s *SQLiteClient) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil {
		return errors.New("nil document")
	}
	meta, err := encodeJSON(doc.Metadata)
	if err != nil {
		return err
	}
	created := orNow(doc.CreatedAt)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents
			(id, user_id, file_name, file_ref, file_size, content_hash, content_type, status, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.ID, doc.UserID, doc.FileName, doc.FileRef, doc.FileSize, doc.ContentHash, doc.ContentType,
		string(doc.Status), meta, created, orNow(doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *SQLiteClient) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
}

func (s *SQLiteClient) GetDocumentByHash(ctx context.Context, userID, contentHash string) (*models.Document, error) {
	return scanDocument(s.db.QueryRowContext(ctx, `SELECT `+documentColumns+`
		FROM documents WHERE user_id = ? AND content_hash = ?
		ORDER BY rowid ASC LIMIT 1`, userID, contentHash))
}

func (s *SQLiteClient) ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error) {
	return s.queryDocuments(ctx, `SELECT `+documentColumns+` FROM documents WHERE user_id = ? ORDER BY rowid DESC`, userID)
}

func (s *SQLiteClient) ListDocumentsByStatus(ctx context.Context, status models.DocumentStatus) ([]models.Document, error) {
	return s.queryDocuments(ctx, `SELECT `+documentColumns+` FROM documents WHERE status = ? ORDER BY rowid ASC`, string(status))
}

func (s *SQLiteClient) queryDocuments(ctx context.Context, q string, args ...any) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
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

func (s *SQLiteClient) BeginProcessing(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = 'processing', updated_at = ? WHERE id = ? AND status = 'uploaded'`, now(), id)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}
	if _, err := s.GetDocumentByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteClient) MarkReady(ctx context.Context, id string, pageCount int, meta models.DocumentMetadata, processedAt time.Time) error {
	metaJSON, err := encodeJSON(meta)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET status = 'ready', page_count = ?, metadata = ?, processed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'processing'
	`, pageCount, metaJSON, processedAt.UTC(), now(), id)
	if err != nil {
		return err
	}
	return expectOne(res, "document %s is not processing", id)
}

func (s *SQLiteClient) MarkFailed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = 'failed', updated_at = ? WHERE id = ? AND status = 'processing'`, now(), id)
	if err != nil {
		return err
	}
	return expectOne(res, "document %s is not processing", id)
}

func (s *SQLiteClient) UpdateFileRef(ctx context.Context, id, fileRef string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE documents SET file_ref = ?, updated_at = ? WHERE id = ?`, fileRef, now(), id)
	if err != nil {
		return err
	}
	return expectOne(res, "document not found: %s", id)
}

// Document chunks

const chunkColumns = `id, document_id, content, page_number, chunk_index, bbox, section_heading, token_count, created_at`

func (s *SQLiteClient) InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document_chunks (`+chunkColumns+`, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
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
		var blob any
		if len(ch.Embedding) > 0 {
			blob = float32SliceToBytes(ch.Embedding)
		}
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.DocumentID, ch.Content, ch.PageNumber, ch.ChunkIndex,
			bbox, ch.SectionHeading, ch.TokenCount, orNow(ch.CreatedAt), blob); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert chunk %d: %w", ch.ChunkIndex, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteClient) HasEmbeddings(ctx context.Context, documentID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM document_chunks WHERE document_id = ? AND embedding IS NOT NULL)`,
		documentID).Scan(&ok)
	return ok, err
}

// SearchSimilarChunks scores every embedded chunk of the document by cosine
// similarity. Equal scores keep chunk_index order.
func (s *SQLiteClient) SearchSimilarChunks(ctx context.Context, documentID string, queryVec []float32, limit int) ([]models.DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`, embedding
		FROM document_chunks
		WHERE document_id = ? AND embedding IS NOT NULL
		ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.DocumentChunk
	for rows.Next() {
		var blob []byte
		ch, err := scanChunk(&blobScanner{rows: rows, blob: &blob}, false)
		if err != nil {
			return nil, err
		}
		ch.Similarity = cosineSimilarity(queryVec, bytesToFloat32Slice(blob))
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// blobScanner appends the trailing embedding column to scanChunk's targets.
type blobScanner struct {
	rows *sql.Rows
	blob *[]byte
}

func (b *blobScanner) Scan(dest ...any) error {
	return b.rows.Scan(append(dest, b.blob)...)
}

func (s *SQLiteClient) ListChunksByIndex(ctx context.Context, documentID string, limit int) ([]models.DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+` FROM document_chunks
		WHERE document_id = ? ORDER BY chunk_index ASC LIMIT ?
	`, documentID, limit)
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

func (s *SQLiteClient) CountChunks(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks WHERE document_id = ?`, documentID).Scan(&n)
	return n, err
}

// SearchChunkText matches in Go because SQLite's LIKE folds ASCII only.
func (s *SQLiteClient) SearchChunkText(ctx context.Context, documentID, query string) ([]models.PageMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT page_number, content FROM document_chunks WHERE document_id = ? ORDER BY page_number, chunk_index`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	needle := strings.ToLower(query)
	var out []models.PageMatch
	for rows.Next() {
		var (
			page    int
			content string
		)
		if err := rows.Scan(&page, &content); err != nil {
			return nil, err
		}
		if !strings.Contains(strings.ToLower(content), needle) {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Page == page {
			out[n-1].Count++
			continue
		}
		out = append(out, models.PageMatch{Page: page, Count: 1})
	}
	return out, rows.Err()
}

// Chat

func (s *SQLiteClient) CreateChatSession(ctx context.Context, cs *models.ChatSession) error {
	if cs == nil {
		return errors.New("nil session")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, user_id, document_id, title, created_at) VALUES (?, ?, ?, ?, ?)`,
		cs.ID, cs.UserID, cs.DocumentID, cs.Title, orNow(cs.CreatedAt))
	return err
}

func (s *SQLiteClient) GetChatSession(ctx context.Context, id string) (*models.ChatSession, error) {
	cs, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT id, user_id, document_id, title, created_at FROM chat_sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

func (s *SQLiteClient) ListChatSessions(ctx context.Context, documentID string) ([]models.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, document_id, title, created_at
		FROM chat_sessions WHERE document_id = ? ORDER BY rowid DESC
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatSession
	for rows.Next() {
		cs, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (models.ChatSession, error) {
	var (
		cs        models.ChatSession
		createdAt sql.NullTime
	)
	err := row.Scan(&cs.ID, &cs.UserID, &cs.DocumentID, &cs.Title, &createdAt)
	cs.CreatedAt = createdAt.Time
	return cs, err
}

func (s *SQLiteClient) AddChatMessage(ctx context.Context, m *models.ChatMessage) error {
	if m == nil {
		return errors.New("nil message")
	}
	cites, err := encodeCitations(m.Citations)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, citations, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SessionID, m.Role, m.Content, cites, orNow(m.CreatedAt))
	return err
}

func (s *SQLiteClient) GetRecentMessages(ctx context.Context, sessionID, excludeID string, limit int) ([]models.ChatMessage, error) {
	out, err := s.queryMessages(ctx, `
		SELECT id, session_id, role, content, citations, created_at
		FROM chat_messages
		WHERE session_id = ? AND id <> ?
		ORDER BY rowid DESC LIMIT ?
	`, sessionID, excludeID, limit)
	if err != nil {
		return nil, err
	}
	reverseMessages(out)
	return out, nil
}

func (s *SQLiteClient) GetMessagesBySession(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	return s.queryMessages(ctx, `
		SELECT id, session_id, role, content, citations, created_at
		FROM chat_messages WHERE session_id = ? ORDER BY rowid ASC
	`, sessionID)
}

func (s *SQLiteClient) queryMessages(ctx context.Context, q string, args ...any) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var (
			m         models.ChatMessage
			cites     string
			createdAt sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &cites, &createdAt); err != nil {
			return nil, err
		}
		if m.Citations, err = decodeCitations(cites); err != nil {
			return nil, err
		}
		m.CreatedAt = createdAt.Time
		out = append(out, m)
	}
	return out, rows.Err()
}

func float32SliceToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
