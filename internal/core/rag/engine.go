package rag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/markdave123-py/autophile/internal/core"
	"github.com/markdave123-py/autophile/internal/models"
)

const (
	// NotFoundAnswer is the blocking reply when retrieval finds nothing.
	NotFoundAnswer = "I couldn't find any relevant information in the document for your question. Please try rephrasing or ask about something else."
	// NotFoundStream is the streamed reply when retrieval finds nothing.
	NotFoundStream = "I couldn't find any relevant information in the document."
)

// QueryEmbedder embeds a query into the same space as the stored chunks.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config tunes retrieval and generation.
type Config struct {
	TopK        int
	Temperature float32
	MaxTokens   int
}

// Engine answers questions about one document from its persisted chunks.
type Engine struct {
	chunks   core.ChunkStore
	embedder QueryEmbedder
	llm      core.LLMProvider
	cfg      Config
	log      *slog.Logger
}

func NewEngine(chunks core.ChunkStore, embedder QueryEmbedder, llm core.LLMProvider, cfg Config, logger *slog.Logger) *Engine {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{chunks: chunks, embedder: embedder, llm: llm, cfg: cfg, log: logger.With("component", "rag")}
}

// Request is one chat turn against a document.
type Request struct {
	DocumentID string
	Query      string
	History    []core.Turn
}

// Answer is the blocking result.
type Answer struct {
	Content   string
	Citations []models.Citation
}

// Retrieve returns up to k chunks, most relevant first. Documents without
// stored vectors fall back to the first k chunks in reading order, as does a
// failed query embedding.
func (e *Engine) Retrieve(ctx context.Context, documentID, query string, k int) ([]models.DocumentChunk, error) {
	if k <= 0 {
		k = e.cfg.TopK
	}
	log := e.log.With("document_id", documentID)

	has, err := e.chunks.HasEmbeddings(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("check embeddings: %w", err)
	}
	if has && e.embedder != nil {
		vec, err := e.embedder.EmbedQuery(ctx, query)
		if err == nil {
			chunks, err := e.chunks.SearchSimilarChunks(ctx, documentID, vec, k)
			if err != nil {
				return nil, fmt.Errorf("similarity search: %w", err)
			}
			return chunks, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("query embedding failed, using ordinal retrieval", "err", err)
	} else {
		log.Warn("document has no embeddings, using ordinal retrieval")
	}

	chunks, err := e.chunks.ListChunksByIndex(ctx, documentID, k)
	if err != nil {
		return nil, fmt.Errorf("ordinal retrieval: %w", err)
	}
	return chunks, nil
}

func (e *Engine) generateRequest(req Request, chunks []models.DocumentChunk) core.GenerateRequest {
	return core.GenerateRequest{
		System:      systemPrompt,
		History:     recentHistory(req.History),
		Prompt:      BuildUserMessage(req.Query, chunks),
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	}
}

// Answer retrieves, generates once and scans the reply for page citations.
func (e *Engine) Answer(ctx context.Context, req Request) (Answer, error) {
	chunks, err := e.Retrieve(ctx, req.DocumentID, req.Query, e.cfg.TopK)
	if err != nil {
		return Answer{}, err
	}
	if len(chunks) == 0 {
		return Answer{Content: NotFoundAnswer, Citations: []models.Citation{}}, nil
	}

	content, err := e.llm.Generate(ctx, e.generateRequest(req, chunks))
	if err != nil {
		return Answer{}, fmt.Errorf("generate: %w", err)
	}
	return Answer{Content: content, Citations: ExtractCitations(content, chunks)}, nil
}

// Stream runs the four-phase protocol, handing each event to emit in order.
// Cancelling ctx stops the run between events. A generation failure is
// emitted as an error event and also returned.
func (e *Engine) Stream(ctx context.Context, req Request, emit func(Event) error) error {
	send := func(ev Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return emit(ev)
	}

	if err := send(thinking(StageSearching, "Searching document for relevant information...")); err != nil {
		return err
	}

	chunks, err := e.Retrieve(ctx, req.DocumentID, req.Query, e.cfg.TopK)
	if err != nil {
		_ = send(Event{Type: EventError, Content: err.Error()})
		return err
	}

	if len(chunks) == 0 {
		for _, ev := range []Event{
			thinking(StageComplete, "No relevant sections found."),
			{Type: EventContent, Content: NotFoundStream},
			{Type: EventCitations, Citations: []models.Citation{}},
		} {
			if err := send(ev); err != nil {
				return err
			}
		}
		return nil
	}

	reading := thinking(StageReading, fmt.Sprintf("Reading %d relevant sections...", len(chunks)))
	reading.Context = previews(chunks)
	for _, ev := range []Event{
		reading,
		{Type: EventCitations, Citations: TopCitations(chunks, fallbackCitations)},
		thinking(StageGenerating, "Generating response..."),
	} {
		if err := send(ev); err != nil {
			return err
		}
	}

	var emitErr error
	err = e.llm.Stream(ctx, e.generateRequest(req, chunks), func(fragment string) error {
		emitErr = send(Event{Type: EventContent, Content: fragment})
		return emitErr
	})
	if err != nil {
		if emitErr != nil {
			return emitErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.log.Error("generation failed", "document_id", req.DocumentID, "err", err)
		_ = send(Event{Type: EventError, Content: err.Error()})
		return fmt.Errorf("generate: %w", err)
	}
	return send(Event{Type: EventDone})
}
