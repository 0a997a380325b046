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

// DumpArchiver stores raw marketplace dumps in cold storage.
type DumpArchiver interface {
	Archive(ctx context.Context, id ItemIdentity, kind string, capturedAt time.Time, raw string) (string, error)
}
