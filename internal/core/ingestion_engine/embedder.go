package ingestion_engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/markdave123-py/autophile/internal/core"
)

// ErrNoEmbeddingProvider is returned when no provider was configured.
var ErrNoEmbeddingProvider = errors.New("no embedding provider configured")

// Embedder batches texts through an EmbeddingProvider, keeping input order.
// Queries and chunks go through the same EmbedTexts path.
type Embedder struct {
	provider  core.EmbeddingProvider
	batchSize int
	delay     time.Duration
	dim       int
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewEmbedder builds an embedder. provider may be nil, in which case every
// call fails with ErrNoEmbeddingProvider. dim of 0 skips dimension checks.
func NewEmbedder(provider core.EmbeddingProvider, batchSize int, delay time.Duration, dim int) *Embedder {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Embedder{provider: provider, batchSize: batchSize, delay: delay, dim: dim, sleep: sleepCtx}
}

// EmbedQuery embeds a single text.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts embeds texts in batches, sorting each batch by the provider's
// reported index and pausing between batches.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if e.provider == nil {
		return nil, ErrNoEmbeddingProvider
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		if start > 0 && e.delay > 0 {
			if err := e.sleep(ctx, e.delay); err != nil {
				return nil, err
			}
		}
		end := min(start+e.batchSize, len(texts))
		batch := texts[start:end]

		items, err := e.provider.EmbedTexts(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(items) != len(batch) {
			return nil, fmt.Errorf("embed batch %d-%d: got %d vectors for %d texts", start, end, len(items), len(batch))
		}
		sort.Slice(items, func(i, j int) bool { return items[i].Index < items[j].Index })
		for _, it := range items {
			if e.dim > 0 && len(it.Vector) != e.dim {
				return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(it.Vector), e.dim)
			}
			out = append(out, it.Vector)
		}
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
