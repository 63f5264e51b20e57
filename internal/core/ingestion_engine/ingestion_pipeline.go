package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/markdave123-py/autophile/internal/core"
	"github.com/markdave123-py/autophile/internal/models"
)

// Job identifies one document to ingest.
type Job struct {
	DocumentID string
	// LocalPath is the on-disk copy to delete once StorageRef is authoritative.
	LocalPath string
	// StorageRef replaces the record's file_ref after a successful run.
	StorageRef string
}

// Result summarizes a finished run.
type Result struct {
	Status    models.DocumentStatus
	PageCount int
	Chunks    int
	UsedOCR   bool
	Embedded  bool
}

// PipelineConfig carries the tunables the orchestrator needs beyond its parts.
type PipelineConfig struct {
	OCRDPI     int
	OCRWorkers int
	// CPUSlots bounds parse, OCR and chunking across all concurrent runs.
	CPUSlots int64
}

// Pipeline drives one document from UPLOADED to READY or FAILED:
// guard, read, parse, optional OCR, chunk, embed, persist, finalize.
type Pipeline struct {
	docs     core.DocumentStore
	chunks   core.ChunkStore
	files    core.FileSource
	parser   DocumentParser
	ocr      *OCREngine
	chunker  *Chunker
	embedder *Embedder
	cfg      PipelineConfig
	cpu      *semaphore.Weighted
	log      *slog.Logger
	now      func() time.Time
}

// PipelineDeps groups the collaborators of a Pipeline.
type PipelineDeps struct {
	Documents core.DocumentStore
	Chunks    core.ChunkStore
	Files     core.FileSource
	Parser    DocumentParser
	OCR       *OCREngine
	Chunker   *Chunker
	Embedder  *Embedder
	Logger    *slog.Logger
}

func NewPipeline(deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	if cfg.OCRDPI <= 0 {
		cfg.OCRDPI = 300
	}
	if cfg.OCRWorkers <= 0 {
		cfg.OCRWorkers = 2
	}
	if cfg.CPUSlots <= 0 {
		cfg.CPUSlots = 2
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		docs:     deps.Documents,
		chunks:   deps.Chunks,
		files:    deps.Files,
		parser:   deps.Parser,
		ocr:      deps.OCR,
		chunker:  deps.Chunker,
		embedder: deps.Embedder,
		cfg:      cfg,
		cpu:      semaphore.NewWeighted(cfg.CPUSlots),
		log:      logger.With("component", "ingestion"),
		now:      time.Now,
	}
}

// Process runs the pipeline once. It returns ErrAlreadyProcessed without
// touching the record when the document is not UPLOADED. Any failure after
// the guard leaves the document FAILED.
func (p *Pipeline) Process(ctx context.Context, job Job) (Result, error) {
	log := p.log.With("document_id", job.DocumentID)

	started, err := p.docs.BeginProcessing(ctx, job.DocumentID)
	if err != nil {
		return Result{}, fmt.Errorf("begin processing: %w", err)
	}
	if !started {
		return Result{}, ErrAlreadyProcessed
	}
	log.Info("processing started")

	res, err := p.run(ctx, job, log)
	if err != nil {
		if ferr := p.docs.MarkFailed(context.WithoutCancel(ctx), job.DocumentID); ferr != nil {
			log.Error("could not record failure", "err", ferr)
		}
		log.Error("processing failed", "err", err)
		return Result{Status: models.StatusFailed}, err
	}

	log.Info("processing finished",
		"pages", res.PageCount, "chunks", res.Chunks, "ocr", res.UsedOCR, "embedded", res.Embedded)
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, job Job, log *slog.Logger) (Result, error) {
	doc, err := p.docs.GetDocumentByID(ctx, job.DocumentID)
	if err != nil {
		return Result{}, fmt.Errorf("load document: %w", err)
	}
	data, err := p.files.ReadFile(ctx, doc.FileRef)
	if err != nil {
		return Result{}, fmt.Errorf("read file: %w", err)
	}

	var parsed *ParsedDocument
	if err := p.cpuBound(ctx, func() (err error) {
		parsed, err = p.parser.Parse(ctx, data)
		return err
	}); err != nil {
		return Result{}, fmt.Errorf("parse: %w", err)
	}

	res := Result{PageCount: parsed.PageCount}

	needsOCR, err := p.parser.NeedsOCR(ctx, data)
	if err != nil {
		return Result{}, fmt.Errorf("ocr detection: %w", err)
	}
	if needsOCR && p.ocr != nil {
		log.Info("low embedded text, running ocr", "pages", parsed.PageCount)
		parsed, err = p.ocrDocument(ctx, data, parsed)
		if err != nil {
			return Result{}, fmt.Errorf("ocr: %w", err)
		}
		res.UsedOCR = true
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	var chunks []Chunk
	if err := p.cpuBound(ctx, func() error {
		chunks = p.chunker.ChunkDocument(parsed)
		return nil
	}); err != nil {
		return Result{}, err
	}
	res.Chunks = len(chunks)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	var vectors [][]float32
	if len(texts) > 0 {
		vectors, err = p.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			// Chunks are still stored; retrieval falls back to chunk order.
			log.Warn("embedding failed, storing chunks without vectors", "err", err)
			vectors = nil
		}
	}
	res.Embedded = vectors != nil

	records := make([]models.DocumentChunk, len(chunks))
	for i, c := range chunks {
		records[i] = models.DocumentChunk{
			ID:             uuid.NewString(),
			DocumentID:     job.DocumentID,
			Content:        c.Content,
			PageNumber:     c.PageNumber,
			ChunkIndex:     c.ChunkIndex,
			BBox:           c.BBox,
			SectionHeading: c.SectionHeading,
			TokenCount:     c.TokenCount,
		}
		if vectors != nil {
			records[i].Embedding = vectors[i]
		}
	}
	if err := p.chunks.InsertDocumentChunks(ctx, records); err != nil {
		return Result{}, fmt.Errorf("store chunks: %w", err)
	}

	if err := p.docs.MarkReady(ctx, job.DocumentID, parsed.PageCount, parsed.Metadata, p.now().UTC()); err != nil {
		return Result{}, fmt.Errorf("mark ready: %w", err)
	}
	res.Status = models.StatusReady

	p.finalizeStorage(ctx, job, log)
	return res, nil
}

// ocrDocument replaces every page with its OCR reading, keeping page order.
func (p *Pipeline) ocrDocument(ctx context.Context, data []byte, parsed *ParsedDocument) (*ParsedDocument, error) {
	pages := make([]PageContent, parsed.PageCount)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.OCRWorkers)

	for i := range pages {
		number := i + 1
		width, height := float64(defaultPageWidth), float64(defaultPageHeight)
		if i < len(parsed.Pages) && parsed.Pages[i].Width > 0 {
			width, height = parsed.Pages[i].Width, parsed.Pages[i].Height
		}
		g.Go(func() error {
			return p.cpuBound(gctx, func() error {
				img, err := p.parser.RenderPageImage(gctx, data, number, p.cfg.OCRDPI)
				if errors.Is(err, ErrNoPageImage) {
					pages[number-1] = PageContent{PageNumber: number, Width: width, Height: height}
					return nil
				}
				if err != nil {
					return fmt.Errorf("render page %d: %w", number, err)
				}
				pc, err := p.ocr.PageContent(gctx, img, number, width, height)
				if err != nil {
					return fmt.Errorf("recognize page %d: %w", number, err)
				}
				pages[number-1] = pc
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &ParsedDocument{PageCount: parsed.PageCount, Pages: pages, Metadata: parsed.Metadata}, nil
}

// finalizeStorage points the record at the durable copy and removes the
// local upload. Failures here never undo READY.
func (p *Pipeline) finalizeStorage(ctx context.Context, job Job, log *slog.Logger) {
	if job.StorageRef == "" || job.LocalPath == "" {
		return
	}
	if err := p.docs.UpdateFileRef(ctx, job.DocumentID, job.StorageRef); err != nil {
		log.Warn("could not switch file reference", "err", err)
		return
	}
	if err := os.Remove(job.LocalPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("could not remove local upload", "path", job.LocalPath, "err", err)
	}
}

func (p *Pipeline) cpuBound(ctx context.Context, fn func() error) error {
	if err := p.cpu.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.cpu.Release(1)
	return fn()
}
