package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/autophile/internal/core"
	"github.com/markdave123-py/autophile/internal/models"
)

func setupTestStore(t *testing.T) *SQLiteClient {
	t.Helper()
	store, err := NewSQLiteClient(context.Background(), filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, store.Close()) })
	return store
}

func createTestDocument(t *testing.T, store *SQLiteClient, id, owner, hash string) {
	t.Helper()
	err := store.CreateDocument(context.Background(), &models.Document{
		ID:          id,
		UserID:      owner,
		FileName:    id + ".pdf",
		FileRef:     "/tmp/" + id + ".pdf",
		ContentHash: hash,
		ContentType: "application/pdf",
		Status:      models.StatusUploaded,
	})
	require.NoError(t, err)
}

func TestSQLite_DocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	createTestDocument(t, store, "doc-1", "alice", "h1")

	doc, err := store.GetDocumentByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploaded, doc.Status)
	assert.Nil(t, doc.PageCount)
	assert.Nil(t, doc.ProcessedAt)

	started, err := store.BeginProcessing(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, started)

	started, err = store.BeginProcessing(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, started, "second run must be refused")

	meta := models.DocumentMetadata{Title: "Report", Author: "Ada"}
	require.NoError(t, store.MarkReady(ctx, "doc-1", 3, meta, time.Now()))

	doc, err = store.GetDocumentByID(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, doc.Status)
	require.NotNil(t, doc.PageCount)
	assert.Equal(t, 3, *doc.PageCount)
	assert.Equal(t, meta, doc.Metadata)
	assert.NotNil(t, doc.ProcessedAt)

	assert.Error(t, store.MarkFailed(ctx, "doc-1"), "ready is terminal")
}

func TestSQLite_BeginProcessingMissing(t *testing.T) {
	store := setupTestStore(t)
	started, err := store.BeginProcessing(context.Background(), "nope")
	assert.False(t, started)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSQLite_GetDocumentByHash(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	createTestDocument(t, store, "doc-1", "alice", "same")
	createTestDocument(t, store, "doc-2", "bob", "same")

	doc, err := store.GetDocumentByHash(ctx, "bob", "same")
	require.NoError(t, err)
	assert.Equal(t, "doc-2", doc.ID)

	_, err = store.GetDocumentByHash(ctx, "carol", "same")
	assert.ErrorIs(t, err, core.ErrNotFound)

	pending, err := store.ListDocumentsByStatus(ctx, models.StatusUploaded)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestSQLite_ChunksAndRetrieval(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	createTestDocument(t, store, "doc-1", "", "h")

	box := &models.BBox{X0: 1, Y0: 2, X1: 3, Y1: 4}
	chunks := []models.DocumentChunk{
		{ID: "c0", DocumentID: "doc-1", Content: "Revenue grew", PageNumber: 1, ChunkIndex: 0, BBox: box, Embedding: []float32{1, 0}},
		{ID: "c1", DocumentID: "doc-1", Content: "Costs fell", PageNumber: 2, ChunkIndex: 1, Embedding: []float32{0, 1}},
		{ID: "c2", DocumentID: "doc-1", Content: "revenue outlook", PageNumber: 2, ChunkIndex: 2, Embedding: []float32{0.7, 0.7}},
		{ID: "c3", DocumentID: "doc-1", Content: "Appendix", PageNumber: 3, ChunkIndex: 3},
	}
	require.NoError(t, store.InsertDocumentChunks(ctx, chunks))

	n, err := store.CountChunks(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	has, err := store.HasEmbeddings(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, has)

	got, err := store.SearchSimilarChunks(ctx, "doc-1", []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c0", got[0].ID)
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-6)
	assert.Equal(t, "c2", got[1].ID)
	assert.Equal(t, box, got[0].BBox)

	ordered, err := store.ListChunksByIndex(ctx, "doc-1", 3)
	require.NoError(t, err)
	require.Len(t, ordered, 3)
	for i, ch := range ordered {
		assert.Equal(t, i, ch.ChunkIndex)
	}

	matches, err := store.SearchChunkText(ctx, "doc-1", "REVENUE")
	require.NoError(t, err)
	assert.Equal(t, []models.PageMatch{{Page: 1, Count: 1}, {Page: 2, Count: 1}}, matches)
}

func TestSQLite_SimilarityTiesKeepChunkOrder(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	createTestDocument(t, store, "doc-1", "", "h")

	var chunks []models.DocumentChunk
	for i, id := range []string{"a", "b", "c"} {
		chunks = append(chunks, models.DocumentChunk{
			ID: id, DocumentID: "doc-1", Content: id, PageNumber: 1, ChunkIndex: i, Embedding: []float32{1, 1},
		})
	}
	require.NoError(t, store.InsertDocumentChunks(ctx, chunks))

	got, err := store.SearchSimilarChunks(ctx, "doc-1", []float32{1, 1}, 5)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].ID, got[1].ID, got[2].ID})
}

func TestSQLite_ChatHistory(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)
	createTestDocument(t, store, "doc-1", "", "h")

	require.NoError(t, store.CreateChatSession(ctx, &models.ChatSession{ID: "s1", DocumentID: "doc-1", Title: "First"}))
	require.NoError(t, store.CreateChatSession(ctx, &models.ChatSession{ID: "s2", DocumentID: "doc-1", Title: "Second"}))

	sessions, err := store.ListChatSessions(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "s2", sessions[0].ID, "newest first")

	_, err = store.GetChatSession(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	ids := []string{"m1", "m2", "m3", "m4"}
	for i, id := range ids {
		role := models.RoleUser
		var cites []models.Citation
		if i%2 == 1 {
			role = models.RoleAssistant
			cites = []models.Citation{{Page: 1, Text: "excerpt", ChunkID: "c0"}}
		}
		require.NoError(t, store.AddChatMessage(ctx, &models.ChatMessage{
			ID: id, SessionID: "s1", Role: role, Content: "msg " + id, Citations: cites,
		}))
	}

	recent, err := store.GetRecentMessages(ctx, "s1", "m4", 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "m2", recent[0].ID, "oldest first")
	assert.Equal(t, "m3", recent[1].ID)
	assert.Len(t, recent[0].Citations, 1)

	all, err := store.GetMessagesBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, all, 4)
	assert.Nil(t, all[0].Citations)
}

func TestLikePattern(t *testing.T) {
	assert.Equal(t, `%50\% off\_now%`, likePattern("50% off_now"))
}

func TestFloat32BlobRoundTrip(t *testing.T) {
	v := []float32{0.5, -1.25, 3}
	assert.Equal(t, v, bytesToFloat32Slice(float32SliceToBytes(v)))
	assert.Nil(t, bytesToFloat32Slice(nil))
}
