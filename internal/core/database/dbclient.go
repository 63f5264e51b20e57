package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/markdave123-py/autophile/internal/config"
	"github.com/markdave123-py/autophile/internal/core"
	"github.com/markdave123-py/autophile/internal/models"
)

// NewDbClient opens the store selected by DB_DRIVER.
func NewDbClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.DbClient, error) {
	switch cfg.DBDriver {
	case "sqlite":
		return NewSQLiteClient(ctx, cfg.SQLitePath, logger)
	case "postgres", "":
		return NewDatabaseClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var (
		d                    models.Document
		pages                sql.NullInt64
		meta                 string
		processed            sql.NullTime
		createdAt, updatedAt sql.NullTime
	)
	err := row.Scan(&d.ID, &d.UserID, &d.FileName, &d.FileRef, &d.FileSize, &d.ContentHash, &d.ContentType,
		&d.Status, &pages, &meta, &processed, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if pages.Valid {
		n := int(pages.Int64)
		d.PageCount = &n
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if processed.Valid {
		t := processed.Time
		d.ProcessedAt = &t
	}
	d.CreatedAt, d.UpdatedAt = createdAt.Time, updatedAt.Time
	return &d, nil
}

// scanChunk reads the common chunk columns, plus a trailing similarity
// column when withSimilarity is set.
func scanChunk(row rowScanner, withSimilarity bool) (models.DocumentChunk, error) {
	var (
		ch        models.DocumentChunk
		bbox      sql.NullString
		createdAt sql.NullTime
	)
	dest := []any{&ch.ID, &ch.DocumentID, &ch.Content, &ch.PageNumber, &ch.ChunkIndex, &bbox,
		&ch.SectionHeading, &ch.TokenCount, &createdAt}
	if withSimilarity {
		dest = append(dest, &ch.Similarity)
	}
	if err := row.Scan(dest...); err != nil {
		return ch, err
	}
	if bbox.Valid && bbox.String != "" {
		var b models.BBox
		if err := json.Unmarshal([]byte(bbox.String), &b); err != nil {
			return ch, fmt.Errorf("decode bbox: %w", err)
		}
		ch.BBox = &b
	}
	ch.CreatedAt = createdAt.Time
	return ch, nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode json: %w", err)
	}
	return string(b), nil
}

func encodeBBox(b *models.BBox) (any, error) {
	if b == nil {
		return nil, nil
	}
	return encodeJSON(b)
}

func encodeCitations(c []models.Citation) (string, error) {
	if c == nil {
		c = []models.Citation{}
	}
	return encodeJSON(c)
}

func decodeCitations(s string) ([]models.Citation, error) {
	if s == "" || s == "null" {
		return nil, nil
	}
	var out []models.Citation
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode citations: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func expectOne(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf(format, args...)
	}
	return nil
}

// likePattern wraps q for a substring LIKE match with backslash escapes.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

func reverseMessages(m []models.ChatMessage) {
	for i, j := 0, len(m)-1; i < j; i, j = i+1, j-1 {
		m[i], m[j] = m[j], m[i]
	}
}
