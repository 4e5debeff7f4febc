package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader inspects object storage.
type BlobReader interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver exports settled markets, with their positions and payouts, to cold
// storage. Ledger records are never deleted; archiving only copies them.
type Archiver interface {
	ArchiveSettled(ctx context.Context, before time.Time) (int64, error)
}
