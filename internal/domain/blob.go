package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads objects to cold storage. PutMultipart is for payloads
// large enough to benefit from concurrent part uploads; partSize is a hint
// the backend may clamp to its own minimum.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader downloads and lists objects in cold storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver exports aged ledger segments to cold storage. Archived flaps are
// not deleted from the primary store here; pruning is a separate, explicit
// step run after the archive has been verified.
type Archiver interface {
	ArchiveFlaps(ctx context.Context, before time.Time) (archived int, key string, err error)
}
