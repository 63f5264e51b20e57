// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/markdave123-py/autophile/internal/config"
	"github.com/markdave123-py/autophile/internal/core"
	db "github.com/markdave123-py/autophile/internal/core/database"
	"github.com/markdave123-py/autophile/internal/core/ingestion_engine"
	"github.com/markdave123-py/autophile/internal/core/llm"
	objectclient "github.com/markdave123-py/autophile/internal/core/object-client"
	"github.com/markdave123-py/autophile/internal/core/rag"
	"github.com/markdave123-py/autophile/internal/services"
)

// App holds every long-lived component, built once from Config.
type App struct {
	Config    *config.Config
	DBClient  core.DbClient
	Objects   core.ObjectClient // nil when BUCKET_NAME is empty
	Pipeline  *ingestion_engine.Pipeline
	Ingestor  *ingestion_engine.DocumentIngestor
	RAG       *rag.Engine
	Documents *services.DocumentService
	Chat      *services.ChatService

	log     *slog.Logger
	closers []io.Closer
}

func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{Config: cfg, log: logger}

	dbClient, err := db.NewDbClient(appCtx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	logger.Info("database initialized and ready", "driver", cfg.DBDriver)

	if cfg.BucketName != "" {
		s3, err := objectclient.NewS3Client(appCtx, cfg, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Objects = s3
		logger.Info("object client initialized and ready", "bucket", cfg.BucketName)
	}
	files := objectclient.NewFileSource(a.Objects)

	embedProvider, err := llm.NewEmbeddingProvider(appCtx, cfg, logger)
	if err != nil {
		logger.Warn("embeddings unavailable, chunks will be stored without vectors", "provider", cfg.EmbedProvider, "err", err)
		embedProvider = nil
	} else {
		a.track(embedProvider)
	}

	llmProvider, err := llm.NewLLMProvider(appCtx, cfg, logger)
	if err != nil {
		logger.Warn("generation unavailable, chat requests will fail", "provider", cfg.GenProvider, "err", err)
		llmProvider = llm.Unavailable{Err: err}
	} else {
		a.track(llmProvider)
	}

	tok, err := ingestion_engine.NewTiktokenTokenizer(cfg.EmbedModel)
	if err != nil {
		a.Close()
		return nil, err
	}

	in := cfg.Ingestion
	heuristics := ingestion_engine.DefaultHeuristics()
	parser := ingestion_engine.NewPDFParser(in.MaxPages, heuristics, nil, logger)
	embedder := ingestion_engine.NewEmbedder(embedProvider, in.EmbedBatchSize, in.EmbedBatchDelay, cfg.EmbedDim)

	a.Pipeline = ingestion_engine.NewPipeline(ingestion_engine.PipelineDeps{
		Documents: dbClient,
		Chunks:    dbClient,
		Files:     files,
		Parser:    parser,
		OCR:       ingestion_engine.NewOCREngine(ingestion_engine.NewTesseractRecognizer(in.OCRLanguage), heuristics),
		Chunker:   ingestion_engine.NewChunker(tok, in.ChunkSize, in.ChunkOverlap),
		Embedder:  embedder,
		Logger:    logger,
	}, ingestion_engine.PipelineConfig{OCRDPI: in.OCRDPI})
	a.Ingestor = ingestion_engine.NewDocumentIngestor(a.Pipeline, in.QueueSize, logger)

	a.RAG = rag.NewEngine(dbClient, embedder, llmProvider, rag.Config{
		TopK:        cfg.Retrieval.TopK,
		Temperature: cfg.Generation.Temperature,
		MaxTokens:   cfg.Generation.MaxTokens,
	}, logger)

	a.Documents = services.NewDocumentService(dbClient, a.Objects, files, parser, a.Ingestor, services.DocumentConfig{
		UploadDir:   cfg.UploadDir,
		MaxFileSize: cfg.MaxFileSize,
		Bucket:      cfg.BucketName,
	}, logger)
	a.Chat = services.NewChatService(dbClient, dbClient, a.RAG, logger)

	return a, nil
}

// StartWorkers runs the ingestion workers until ctx is cancelled and queues
// documents left UPLOADED by an earlier process.
func (a *App) StartWorkers(ctx context.Context) error {
	a.Ingestor.Start(ctx, a.Config.Ingestion.Workers)
	n, err := a.Documents.ResumePending(ctx)
	if err != nil {
		return fmt.Errorf("resume pending documents: %w", err)
	}
	if n > 0 {
		a.log.Info("resumed pending documents", "count", n)
	}
	return nil
}

func (a *App) track(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
}

func (a *App) Close() {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	if a.DBClient != nil {
		errs = append(errs, a.DBClient.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("shutdown", "err", err)
	}
}
