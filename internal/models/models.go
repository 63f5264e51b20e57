package models

import (
	"time"
)

// DocumentStatus is the lifecycle state of an ingested document.
type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusFailed     DocumentStatus = "failed"
)

// Terminal reports whether no further lifecycle transition is allowed.
func (s DocumentStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// DocumentMetadata is the PDF Info dictionary subset kept on the record.
type DocumentMetadata struct {
	Title    string `json:"title,omitempty"`
	Author   string `json:"author,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Creator  string `json:"creator,omitempty"`
	Producer string `json:"producer,omitempty"`
	Created  string `json:"created,omitempty"`
	Modified string `json:"modified,omitempty"`
}

// Document represents an uploaded PDF and its lifecycle record.
type Document struct {
	ID          string           `db:"id" json:"id"`
	UserID      string           `db:"user_id" json:"user_id"`
	FileName    string           `db:"file_name" json:"file_name"`
	FileRef     string           `db:"file_ref" json:"file_ref"` // local path, s3:// or S3 URL
	FileSize    int64            `db:"file_size" json:"file_size"`
	ContentHash string           `db:"content_hash" json:"content_hash"`
	ContentType string           `db:"content_type" json:"content_type"`
	Status      DocumentStatus   `db:"status" json:"status"`
	PageCount   *int             `db:"page_count" json:"page_count"`
	Metadata    DocumentMetadata `db:"metadata" json:"metadata"`
	ProcessedAt *time.Time       `db:"processed_at" json:"processed_at"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// BBox is a rectangle in page coordinates (x0,y0 top-left, x1,y1 bottom-right).
type BBox struct {
	X0 float64 `json:"x0"`
	Y0 float64 `json:"y0"`
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
}

// Union returns the smallest box containing both b and o.
func (b BBox) Union(o BBox) BBox {
	return BBox{
		X0: min(b.X0, o.X0),
		Y0: min(b.Y0, o.Y0),
		X1: max(b.X1, o.X1),
		Y1: max(b.Y1, o.Y1),
	}
}

// DocumentChunk represents one persisted text chunk from a document.
type DocumentChunk struct {
	ID             string    `db:"id" json:"id"`
	DocumentID     string    `db:"document_id" json:"document_id"`
	Content        string    `db:"content" json:"content"`
	PageNumber     int       `db:"page_number" json:"page_number"`
	ChunkIndex     int       `db:"chunk_index" json:"chunk_index"`
	BBox           *BBox     `db:"bbox" json:"bbox,omitempty"`
	SectionHeading string    `db:"section_heading" json:"section_heading,omitempty"`
	TokenCount     int       `db:"token_count" json:"token_count"`
	Embedding      []float32 `db:"embedding" json:"-"` // nil when embeddings were unavailable
	Similarity     float64   `db:"-" json:"similarity,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// PageMatch counts chunks on one page that contain a search term.
type PageMatch struct {
	Page  int `json:"page"`
	Count int `json:"count"`
}

// Citation points from a generated answer back to a source chunk.
type Citation struct {
	Page    int    `json:"page"`
	Text    string `json:"text"`
	ChunkID string `json:"chunk_id"`
	Section string `json:"section,omitempty"`
}

// ChatSession represents one conversation session for a document.
type ChatSession struct {
	ID         string    `db:"id" json:"id"`
	UserID     string    `db:"user_id" json:"user_id"`
	DocumentID string    `db:"document_id" json:"document_id"`
	Title      string    `db:"title" json:"title"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// ChatMessage represents an individual chat message (user or assistant).
type ChatMessage struct {
	ID        string     `db:"id" json:"id"`
	SessionID string     `db:"session_id" json:"session_id"`
	Role      string     `db:"role" json:"role"`       // "user" or "assistant"
	Content   string     `db:"content" json:"content"` // message text
	Citations []Citation `db:"citations" json:"citations,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
