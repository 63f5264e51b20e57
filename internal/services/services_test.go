package services

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/autophile/internal/core"
	db "github.com/markdave123-py/autophile/internal/core/database"
	"github.com/markdave123-py/autophile/internal/core/ingestion_engine"
	"github.com/markdave123-py/autophile/internal/models"
)

func setupStore(t *testing.T) *db.SQLiteClient {
	t.Helper()
	store, err := db.NewSQLiteClient(context.Background(), filepath.Join(t.TempDir(), "svc.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createReadyDocument(t *testing.T, store *db.SQLiteClient, id string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateDocument(ctx, &models.Document{
		ID: id, FileName: id + ".pdf", FileRef: "/tmp/" + id + ".pdf", ContentHash: id, Status: models.StatusUploaded,
	}))
	ok, err := store.BeginProcessing(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.MarkReady(ctx, id, 2, models.DocumentMetadata{}, time.Now()))
}

type fakeIngestor struct {
	mu   sync.Mutex
	jobs []ingestion_engine.Job
	err  error
}

func (f *fakeIngestor) Start(context.Context, int) {}
func (f *fakeIngestor) Wait()                      {}

func (f *fakeIngestor) Enqueue(_ context.Context, job ingestion_engine.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeObjects struct {
	keys []string
	err  error
}

func (f *fakeObjects) UploadFile(_ context.Context, bucket, key string, data io.Reader, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if _, err := io.ReadAll(data); err != nil {
		return "", err
	}
	f.keys = append(f.keys, key)
	return "s3://" + bucket + "/" + key, nil
}

func (f *fakeObjects) DeleteFile(context.Context, string, string) error { return nil }

func (f *fakeObjects) GetFile(context.Context, string, string) ([]byte, error) {
	return nil, errors.New("not stored")
}

var _ core.ObjectClient = (*fakeObjects)(nil)

type fakeRenderer struct {
	page, dpi int
}

func (f *fakeRenderer) RenderPageImage(_ context.Context, _ []byte, page, dpi int) ([]byte, error) {
	f.page, f.dpi = page, dpi
	return []byte("png"), nil
}

type mapFiles map[string][]byte

func (m mapFiles) ReadFile(_ context.Context, ref string) ([]byte, error) {
	if b, ok := m[ref]; ok {
		return b, nil
	}
	return nil, errors.New("missing " + ref)
}
