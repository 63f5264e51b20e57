package services

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/autophile/internal/core"
	db "github.com/markdave123-py/autophile/internal/core/database"
	"github.com/markdave123-py/autophile/internal/core/ingestion_engine"
	"github.com/markdave123-py/autophile/internal/models"
)

type documentFixture struct {
	svc      *DocumentService
	store    *db.SQLiteClient
	ing      *fakeIngestor
	objects  *fakeObjects
	renderer *fakeRenderer
	files    mapFiles
	dir      string
}

func newDocumentFixture(t *testing.T, withObjects bool) *documentFixture {
	t.Helper()
	f := &documentFixture{
		store:    setupStore(t),
		ing:      &fakeIngestor{},
		renderer: &fakeRenderer{},
		files:    mapFiles{},
		dir:      t.TempDir(),
	}
	var objects core.ObjectClient
	if withObjects {
		f.objects = &fakeObjects{}
		objects = f.objects
	}
	f.svc = NewDocumentService(f.store, objects, f.files, f.renderer, f.ing,
		DocumentConfig{UploadDir: f.dir, MaxFileSize: 1 << 10, Bucket: "docs"}, nil)
	return f
}

func upload(name, body string) UploadInput {
	return UploadInput{UserID: "alice", FileName: name, ContentType: "application/pdf", Body: strings.NewReader(body)}
}

func TestUpload_ValidatesInput(t *testing.T) {
	f := newDocumentFixture(t, false)
	ctx := context.Background()

	_, _, err := f.svc.Upload(ctx, upload("notes.txt", "hello"))
	assert.ErrorIs(t, err, ErrUnsupportedFile)

	_, _, err = f.svc.Upload(ctx, upload("big.pdf", strings.Repeat("x", 2<<10)))
	assert.ErrorIs(t, err, ErrFileTooLarge)

	assert.Empty(t, f.ing.jobs)
}

func TestUpload_StoresAndQueues(t *testing.T) {
	f := newDocumentFixture(t, false)
	ctx := context.Background()

	doc, dup, err := f.svc.Upload(ctx, upload("Report.PDF", "%PDF-1.4 body"))
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, models.StatusUploaded, doc.Status)
	assert.Equal(t, "alice", doc.UserID)
	assert.Equal(t, int64(len("%PDF-1.4 body")), doc.FileSize)
	assert.Len(t, doc.ContentHash, 64)

	data, err := os.ReadFile(doc.FileRef)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 body", string(data))

	require.Len(t, f.ing.jobs, 1)
	assert.Equal(t, ingestion_engine.Job{DocumentID: doc.ID, LocalPath: doc.FileRef}, f.ing.jobs[0])

	stored, err := f.store.GetDocumentByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUploaded, stored.Status)
}

func TestUpload_DeduplicatesPerOwner(t *testing.T) {
	f := newDocumentFixture(t, false)
	ctx := context.Background()

	first, _, err := f.svc.Upload(ctx, upload("a.pdf", "same bytes"))
	require.NoError(t, err)

	again, dup, err := f.svc.Upload(ctx, upload("b.pdf", "same bytes"))
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, f.ing.jobs, 1, "duplicates are not queued")

	other := upload("a.pdf", "same bytes")
	other.UserID = "bob"
	theirs, dup, err := f.svc.Upload(ctx, other)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.NotEqual(t, first.ID, theirs.ID)
}

func TestUpload_ObjectStorage(t *testing.T) {
	f := newDocumentFixture(t, true)
	doc, _, err := f.svc.Upload(context.Background(), upload("my report.pdf", "%PDF"))
	require.NoError(t, err)

	require.Len(t, f.objects.keys, 1)
	assert.Equal(t, "users/alice/documents/"+doc.ID+"/my_report.pdf", f.objects.keys[0])
	require.Len(t, f.ing.jobs, 1)
	assert.Equal(t, "s3://docs/"+f.objects.keys[0], f.ing.jobs[0].StorageRef)
	assert.Equal(t, doc.FileRef, f.ing.jobs[0].LocalPath, "local copy stays authoritative until ready")
}

func TestUpload_ObjectFailureKeepsLocalCopy(t *testing.T) {
	f := newDocumentFixture(t, true)
	f.objects.err = errors.New("s3 down")

	_, _, err := f.svc.Upload(context.Background(), upload("a.pdf", "%PDF"))
	require.NoError(t, err)
	require.Len(t, f.ing.jobs, 1)
	assert.Empty(t, f.ing.jobs[0].StorageRef)
}

func TestReprocessAndResume(t *testing.T) {
	f := newDocumentFixture(t, false)
	ctx := context.Background()

	doc, _, err := f.svc.Upload(ctx, upload("a.pdf", "one"))
	require.NoError(t, err)
	_, err = f.svc.Reprocess(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, f.ing.jobs, 2)

	n, err := f.svc.ResumePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := f.store.BeginProcessing(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.svc.Reprocess(ctx, doc.ID)
	assert.ErrorIs(t, err, ingestion_engine.ErrAlreadyProcessed)

	_, err = f.svc.Reprocess(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestSearchAndPageImage(t *testing.T) {
	f := newDocumentFixture(t, false)
	ctx := context.Background()
	f.files["/tmp/doc-1.pdf"] = []byte("%PDF")
	createReadyDocument(t, f.store, "doc-1")
	require.NoError(t, f.store.InsertDocumentChunks(ctx, []models.DocumentChunk{
		{ID: "c0", DocumentID: "doc-1", Content: "Net revenue", PageNumber: 1, ChunkIndex: 0},
		{ID: "c1", DocumentID: "doc-1", Content: "Revenue by region", PageNumber: 2, ChunkIndex: 1},
	}))

	matches, err := f.svc.Search(ctx, "doc-1", "revenue")
	require.NoError(t, err)
	assert.Equal(t, []models.PageMatch{{Page: 1, Count: 1}, {Page: 2, Count: 1}}, matches)

	matches, err = f.svc.Search(ctx, "doc-1", "  ")
	require.NoError(t, err)
	assert.Empty(t, matches)

	_, err = f.svc.Search(ctx, "missing", "x")
	assert.ErrorIs(t, err, core.ErrNotFound)

	img, err := f.svc.PageImage(ctx, "doc-1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), img)
	assert.Equal(t, 2, f.renderer.page)
	assert.Equal(t, DefaultPreviewDPI, f.renderer.dpi)

	_, err = f.svc.PageImage(ctx, "doc-1", 3, 0)
	assert.ErrorIs(t, err, ErrInvalidPage)
}
