package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/markdave123-py/autophile/internal/core"
	"github.com/markdave123-py/autophile/internal/core/ingestion_engine"
	"github.com/markdave123-py/autophile/internal/models"
)

var (
	ErrUnsupportedFile = errors.New("only PDF files are supported")
	ErrFileTooLarge    = errors.New("file exceeds the maximum upload size")
	ErrInvalidPage     = errors.New("page out of range")
)

// DefaultPreviewDPI is used for page images when the caller gives none.
const DefaultPreviewDPI = 150

// PageRenderer rasterizes one page of a PDF.
type PageRenderer interface {
	RenderPageImage(ctx context.Context, data []byte, pageNumber, dpi int) ([]byte, error)
}

// DocumentStores is the persistence the document service reads and writes.
type DocumentStores interface {
	core.DocumentStore
	SearchChunkText(ctx context.Context, documentID, query string) ([]models.PageMatch, error)
}

type DocumentConfig struct {
	UploadDir   string
	MaxFileSize int64
	Bucket      string
}

type DocumentService struct {
	db       DocumentStores
	storage  core.ObjectClient // nil keeps uploads local only
	files    core.FileSource
	renderer PageRenderer
	ingestor ingestion_engine.Ingestor
	cfg      DocumentConfig
	log      *slog.Logger
}

func NewDocumentService(db DocumentStores, storage core.ObjectClient, files core.FileSource, renderer PageRenderer,
	ing ingestion_engine.Ingestor, cfg DocumentConfig, logger *slog.Logger) *DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentService{
		db: db, storage: storage, files: files, renderer: renderer, ingestor: ing, cfg: cfg,
		log: logger.With("component", "documents"),
	}
}

// UploadInput is one multipart upload.
type UploadInput struct {
	UserID      string
	FileName    string
	ContentType string
	Body        io.Reader
}

// Upload stores a new PDF and queues it for ingestion. A file whose content
// the same owner already uploaded returns the existing record with
// duplicate set.
func (s *DocumentService) Upload(ctx context.Context, in UploadInput) (doc *models.Document, duplicate bool, err error) {
	name := filepath.Base(strings.TrimSpace(in.FileName))
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return nil, false, ErrUnsupportedFile
	}

	body := in.Body
	if s.cfg.MaxFileSize > 0 {
		body = io.LimitReader(in.Body, s.cfg.MaxFileSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, false, fmt.Errorf("read upload: %w", err)
	}
	if s.cfg.MaxFileSize > 0 && int64(len(data)) > s.cfg.MaxFileSize {
		return nil, false, ErrFileTooLarge
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	existing, err := s.db.GetDocumentByHash(ctx, in.UserID, hash)
	switch {
	case err == nil:
		s.log.Info("duplicate upload", "document_id", existing.ID)
		return existing, true, nil
	case !errors.Is(err, core.ErrNotFound):
		return nil, false, fmt.Errorf("lookup by hash: %w", err)
	}

	docID := uuid.NewString()
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return nil, false, fmt.Errorf("create upload dir: %w", err)
	}
	localPath := filepath.Join(s.cfg.UploadDir, docID+".pdf")
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return nil, false, fmt.Errorf("write upload: %w", err)
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}

	var storageRef string
	if s.storage != nil {
		storageRef, err = s.storage.UploadFile(ctx, s.cfg.Bucket, objectKey(in.UserID, docID, name), bytes.NewReader(data), contentType)
		if err != nil {
			s.log.Warn("object upload failed, keeping local copy", "document_id", docID, "err", err)
			storageRef = ""
		}
	}

	doc = &models.Document{
		ID:          docID,
		UserID:      in.UserID,
		FileName:    name,
		FileRef:     localPath,
		FileSize:    int64(len(data)),
		ContentHash: hash,
		ContentType: contentType,
		Status:      models.StatusUploaded,
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		_ = os.Remove(localPath)
		return nil, false, fmt.Errorf("create document: %w", err)
	}

	job := ingestion_engine.Job{DocumentID: docID, LocalPath: localPath, StorageRef: storageRef}
	if err := s.ingestor.Enqueue(ctx, job); err != nil {
		// The record stays UPLOADED and is picked up by ResumePending.
		s.log.Warn("could not queue ingestion", "document_id", docID, "err", err)
	}
	s.log.Info("document uploaded", "document_id", docID, "bytes", len(data))
	return doc, false, nil
}

// Reprocess queues a document again. Only UPLOADED documents qualify.
func (s *DocumentService) Reprocess(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status != models.StatusUploaded {
		return doc, ingestion_engine.ErrAlreadyProcessed
	}
	if err := s.ingestor.Enqueue(ctx, ingestion_engine.Job{DocumentID: id}); err != nil {
		return nil, fmt.Errorf("enqueue: %w", err)
	}
	return doc, nil
}

// ResumePending queues every document still waiting in UPLOADED, for use at
// startup. It returns how many were queued.
func (s *DocumentService) ResumePending(ctx context.Context) (int, error) {
	pending, err := s.db.ListDocumentsByStatus(ctx, models.StatusUploaded)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	for i, d := range pending {
		if err := s.ingestor.Enqueue(ctx, ingestion_engine.Job{DocumentID: d.ID}); err != nil {
			return i, fmt.Errorf("enqueue %s: %w", d.ID, err)
		}
	}

	if stale, err := s.db.ListDocumentsByStatus(ctx, models.StatusProcessing); err == nil && len(stale) > 0 {
		s.log.Warn("documents left in processing by an earlier run", "count", len(stale))
	}
	return len(pending), nil
}

func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.db.GetDocumentByID(ctx, id)
}

func (s *DocumentService) ListByUser(ctx context.Context, userID string) ([]models.Document, error) {
	return s.db.ListDocumentsByUser(ctx, userID)
}

// Search counts, per page, the chunks containing query.
func (s *DocumentService) Search(ctx context.Context, id, query string) ([]models.PageMatch, error) {
	if _, err := s.db.GetDocumentByID(ctx, id); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return []models.PageMatch{}, nil
	}
	return s.db.SearchChunkText(ctx, id, query)
}

// PageImage renders one page of a document as PNG.
func (s *DocumentService) PageImage(ctx context.Context, id string, page, dpi int) ([]byte, error) {
	doc, err := s.db.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if page < 1 || (doc.PageCount != nil && page > *doc.PageCount) {
		return nil, ErrInvalidPage
	}
	if dpi <= 0 {
		dpi = DefaultPreviewDPI
	}
	data, err := s.files.ReadFile(ctx, doc.FileRef)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return s.renderer.RenderPageImage(ctx, data, page, dpi)
}

// objectKey creates a consistent S3 key layout.
func objectKey(userID, docID, filename string) string {
	if userID == "" {
		userID = "anonymous"
	}
	filename = strings.ReplaceAll(strings.TrimSpace(filename), " ", "_")
	return path.Join("users", userID, "documents", docID, filename)
}
