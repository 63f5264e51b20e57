package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/autophile/internal/api/middlewares"
	"github.com/markdave123-py/autophile/internal/models"
	"github.com/markdave123-py/autophile/internal/services"
)

// DocumentAPI is the document service surface the handlers call.
type DocumentAPI interface {
	Upload(ctx context.Context, in services.UploadInput) (*models.Document, bool, error)
	ListByUser(ctx context.Context, userID string) ([]models.Document, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	Reprocess(ctx context.Context, id string) (*models.Document, error)
	Search(ctx context.Context, id, query string) ([]models.PageMatch, error)
	PageImage(ctx context.Context, id string, page, dpi int) ([]byte, error)
}

type DocumentHandler struct {
	docs        DocumentAPI
	maxFileSize int64
	log         *slog.Logger
}

func NewDocumentHandler(docs DocumentAPI, maxFileSize int64, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{docs: docs, maxFileSize: maxFileSize, log: logger.With("component", "http")}
}

type uploadResponse struct {
	*models.Document
	Duplicate bool `json:"duplicate"`
}

// UploadDocument stores the multipart "file" part and queues ingestion.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if h.maxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+1<<20)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if statusFor(err) == http.StatusRequestEntityTooLarge {
			fail(w, h.log, err)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file")
		return
	}
	defer file.Close()

	doc, dup, err := h.docs.Upload(r.Context(), services.UploadInput{
		UserID:      middleware.UserID(r.Context()),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        file,
	})
	if err != nil {
		fail(w, h.log, err)
		return
	}
	status := http.StatusCreated
	if dup {
		status = http.StatusOK
	}
	writeJSON(w, status, uploadResponse{Document: doc, Duplicate: dup})
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docs.ListByUser(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		fail(w, h.log, err)
		return
	}
	if docs == nil {
		docs = []models.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Reprocess(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusAccepted, doc)
}

func (h *DocumentHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	matches, err := h.docs.Search(r.Context(), chi.URLParam(r, "id"), q)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	if matches == nil {
		matches = []models.PageMatch{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "matches": matches})
}

func (h *DocumentHandler) PageImage(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page number")
		return
	}
	dpi := services.DefaultPreviewDPI
	if v := r.URL.Query().Get("dpi"); v != "" {
		if dpi, err = strconv.Atoi(v); err != nil || dpi < 36 || dpi > 600 {
			writeError(w, http.StatusBadRequest, "dpi must be between 36 and 600")
			return
		}
	}
	img, err := h.docs.PageImage(r.Context(), chi.URLParam(r, "id"), page, dpi)
	if err != nil {
		fail(w, h.log, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	_, _ = w.Write(img)
}
