package core

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/markdave123-py/autophile/internal/models"
)

// ErrNotFound is returned by stores when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// DocumentStore holds the document lifecycle records.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	GetDocumentByHash(ctx context.Context, userID, contentHash string) (*models.Document, error)
	ListDocumentsByUser(ctx context.Context, userID string) ([]models.Document, error)
	ListDocumentsByStatus(ctx context.Context, status models.DocumentStatus) ([]models.Document, error)

	// BeginProcessing moves a document from UPLOADED to PROCESSING. It reports
	// false when the document was in any other state and leaves it untouched.
	BeginProcessing(ctx context.Context, id string) (bool, error)
	MarkReady(ctx context.Context, id string, pageCount int, meta models.DocumentMetadata, processedAt time.Time) error
	MarkFailed(ctx context.Context, id string) error
	UpdateFileRef(ctx context.Context, id, fileRef string) error
}

// ChunkStore persists chunks and exposes both retrieval paths.
type ChunkStore interface {
	InsertDocumentChunks(ctx context.Context, chunks []models.DocumentChunk) error
	HasEmbeddings(ctx context.Context, documentID string) (bool, error)
	// SearchSimilarChunks ranks embedded chunks by cosine similarity, highest first.
	SearchSimilarChunks(ctx context.Context, documentID string, queryVec []float32, limit int) ([]models.DocumentChunk, error)
	// ListChunksByIndex returns the first chunks in chunk_index order.
	ListChunksByIndex(ctx context.Context, documentID string, limit int) ([]models.DocumentChunk, error)
	CountChunks(ctx context.Context, documentID string) (int, error)
	SearchChunkText(ctx context.Context, documentID, query string) ([]models.PageMatch, error)
}

// ChatStore persists chat sessions and their messages.
type ChatStore interface {
	CreateChatSession(ctx context.Context, session *models.ChatSession) error
	GetChatSession(ctx context.Context, id string) (*models.ChatSession, error)
	ListChatSessions(ctx context.Context, documentID string) ([]models.ChatSession, error)
	AddChatMessage(ctx context.Context, message *models.ChatMessage) error
	// GetRecentMessages returns up to limit messages, oldest first, excluding excludeID.
	GetRecentMessages(ctx context.Context, sessionID, excludeID string, limit int) ([]models.ChatMessage, error)
	GetMessagesBySession(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
}

// DbClient defines all persistence operations the services need.
// It abstracts Postgres/pgvector or SQLite so higher layers never depend on a specific DB.
type DbClient interface {
	DocumentStore
	ChunkStore
	ChatStore
	Close() error
}

// ObjectClient defines interactions with S3 or any object storage.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (ref string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)
}

// FileSource gives byte-level access to a stored file by reference.
type FileSource interface {
	ReadFile(ctx context.Context, ref string) ([]byte, error)
}
