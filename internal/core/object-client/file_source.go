package objectclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/markdave123-py/autophile/internal/core"
)

// ErrNoObjectStore is returned for S3 references when no object client is configured.
var ErrNoObjectStore = errors.New("object storage not configured")

// FileSource reads document bytes from a local path or an S3 reference.
type FileSource struct {
	objects core.ObjectClient
}

var _ core.FileSource = (*FileSource)(nil)

// NewFileSource resolves S3 references through objects, which may be nil
// when only local files are in play.
func NewFileSource(objects core.ObjectClient) *FileSource {
	return &FileSource{objects: objects}
}

func (f *FileSource) ReadFile(ctx context.Context, ref string) ([]byte, error) {
	if bucket, key, ok := ParseRef(ref); ok {
		if f.objects == nil {
			return nil, ErrNoObjectStore
		}
		return f.objects.GetFile(ctx, bucket, key)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	return data, nil
}

// ParseRef splits s3://bucket/key and virtual-hosted S3 URLs such as
// https://my-bucket.s3.us-east-2.amazonaws.com/path/to/file.pdf.
// ok is false for anything else.
func ParseRef(ref string) (bucket, key string, ok bool) {
	switch {
	case strings.HasPrefix(ref, "s3://"):
		bucket, key, _ = strings.Cut(strings.TrimPrefix(ref, "s3://"), "/")
		return bucket, key, bucket != "" && key != ""
	case strings.HasPrefix(ref, "https://"):
		host, path, _ := strings.Cut(strings.TrimPrefix(ref, "https://"), "/")
		b, rest, found := strings.Cut(host, ".")
		if !found || !strings.HasPrefix(rest, "s3") || !strings.HasSuffix(rest, ".amazonaws.com") {
			return "", "", false
		}
		return b, path, b != "" && path != ""
	default:
		return "", "", false
	}
}
