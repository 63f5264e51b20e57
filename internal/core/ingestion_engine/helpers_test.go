package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/autophile/internal/core"
	"github.com/markdave123-py/autophile/internal/models"
)

// wordTokenizer treats each whitespace-separated word as one token.
type wordTokenizer struct {
	mu    sync.Mutex
	ids   map[string]int
	words []string
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{ids: map[string]int{}}
}

func (w *wordTokenizer) Encode(text string) []int {
	w.mu.Lock()
	defer w.mu.Unlock()
	fields := strings.Fields(text)
	out := make([]int, len(fields))
	for i, f := range fields {
		id, ok := w.ids[f]
		if !ok {
			id = len(w.words)
			w.ids[f] = id
			w.words = append(w.words, f)
		}
		out[i] = id
	}
	return out
}

func (w *wordTokenizer) Decode(tokens []int) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = w.words[t]
	}
	return strings.Join(parts, " ")
}

func words(prefix string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(parts, " ")
}

func blankPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	batches [][]string
	dim     int
	err     error
}

// EmbedTexts answers in reverse order so callers must sort by index.
func (f *fakeProvider) EmbedTexts(_ context.Context, texts []string) ([]core.Embedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.batches = append(f.batches, append([]string(nil), texts...))
	if f.err != nil {
		return nil, f.err
	}
	out := make([]core.Embedding, 0, len(texts))
	for i := len(texts) - 1; i >= 0; i-- {
		vec := make([]float32, f.dim)
		vec[0] = float32(len(texts[i]))
		out = append(out, core.Embedding{Index: i, Vector: vec})
	}
	return out, nil
}

// memStore is an in-memory document and chunk store.
type memStore struct {
	mu          sync.Mutex
	docs        map[string]*models.Document
	chunks      map[string][]models.DocumentChunk
	transitions []models.DocumentStatus
	failMarkErr error
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]*models.Document{}, chunks: map[string][]models.DocumentChunk{}}
}

func (m *memStore) CreateDocument(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := *doc
	m.docs[doc.ID] = &d
	m.transitions = append(m.transitions, doc.Status)
	return nil
}

func (m *memStore) GetDocumentByID(_ context.Context, id string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	c := *d
	return &c, nil
}

func (m *memStore) GetDocumentByHash(_ context.Context, userID, hash string) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.docs {
		if d.UserID == userID && d.ContentHash == hash {
			c := *d
			return &c, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *memStore) ListDocumentsByUser(_ context.Context, userID string) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Document
	for _, d := range m.docs {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memStore) ListDocumentsByStatus(_ context.Context, status models.DocumentStatus) ([]models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Document
	for _, d := range m.docs {
		if d.Status == status {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memStore) setStatus(id string, from, to models.DocumentStatus) (bool, error) {
	d, ok := m.docs[id]
	if !ok {
		return false, core.ErrNotFound
	}
	if d.Status != from {
		return false, nil
	}
	d.Status = to
	m.transitions = append(m.transitions, to)
	return true, nil
}

func (m *memStore) BeginProcessing(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setStatus(id, models.StatusUploaded, models.StatusProcessing)
}

func (m *memStore) MarkReady(_ context.Context, id string, pageCount int, meta models.DocumentMetadata, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ok, err := m.setStatus(id, models.StatusProcessing, models.StatusReady)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("document %s is not processing", id)
	}
	d := m.docs[id]
	d.PageCount = &pageCount
	d.Metadata = meta
	d.ProcessedAt = &at
	return nil
}

func (m *memStore) MarkFailed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMarkErr != nil {
		return m.failMarkErr
	}
	_, err := m.setStatus(id, models.StatusProcessing, models.StatusFailed)
	return err
}

func (m *memStore) UpdateFileRef(_ context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return core.ErrNotFound
	}
	d.FileRef = ref
	return nil
}

func (m *memStore) InsertDocumentChunks(_ context.Context, chunks []models.DocumentChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		m.chunks[c.DocumentID] = append(m.chunks[c.DocumentID], c)
	}
	return nil
}

func (m *memStore) HasEmbeddings(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chunks[id] {
		if c.Embedding != nil {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) SearchSimilarChunks(_ context.Context, id string, _ []float32, limit int) ([]models.DocumentChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.DocumentChunk
	for _, c := range m.chunks[id] {
		if c.Embedding != nil {
			out = append(out, c)
		}
	}
	return out[:min(limit, len(out))], nil
}

func (m *memStore) ListChunksByIndex(_ context.Context, id string, limit int) ([]models.DocumentChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]models.DocumentChunk(nil), m.chunks[id]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out[:min(limit, len(out))], nil
}

func (m *memStore) CountChunks(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks[id]), nil
}

func (m *memStore) SearchChunkText(context.Context, string, string) ([]models.PageMatch, error) {
	return nil, nil
}

func (m *memStore) status(id string) models.DocumentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[id].Status
}

type mapFiles map[string][]byte

func (f mapFiles) ReadFile(_ context.Context, ref string) ([]byte, error) {
	data, ok := f[ref]
	if !ok {
		return nil, fmt.Errorf("no file %s", ref)
	}
	return data, nil
}
