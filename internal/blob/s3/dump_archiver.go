package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/alanyoungcy/steamtradebot/internal/domain"
)

// multipartThreshold is the compressed size above which dumps go through
// the multipart uploader.
const multipartThreshold = 8 * 1024 * 1024

// DumpArchiver implements domain.DumpArchiver: each raw dump is gzipped and
// written to
//
//	{prefix}/{kind}/{app_id}/{market_hash_name}/{currency}/{20060102T150405Z}.gz
type DumpArchiver struct {
	writer domain.BlobWriter
	prefix string
}

// NewDumpArchiver creates a DumpArchiver writing under prefix.
func NewDumpArchiver(writer domain.BlobWriter, prefix string) *DumpArchiver {
	if prefix == "" {
		prefix = "dumps"
	}
	return &DumpArchiver{writer: writer, prefix: prefix}
}

// DumpPath returns the object key for a dump.
func (a *DumpArchiver) DumpPath(id domain.ItemIdentity, kind string, capturedAt time.Time) string {
	return fmt.Sprintf("%s/%s/%d/%s/%d/%s.gz",
		a.prefix, kind, id.AppID, url.PathEscape(id.MarketHashName), id.Currency,
		capturedAt.UTC().Format("20060102T150405.000000Z"),
	)
}

// Archive stores raw and returns its object key.
func (a *DumpArchiver) Archive(ctx context.Context, id domain.ItemIdentity, kind string, capturedAt time.Time, raw string) (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(raw)); err != nil {
		return "", fmt.Errorf("s3blob: compress %s dump: %w", kind, err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("s3blob: compress %s dump: %w", kind, err)
	}

	path := a.DumpPath(id, kind, capturedAt)
	var err error
	if buf.Len() > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, &buf, 0)
	} else {
		err = a.writer.Put(ctx, path, &buf, "application/gzip")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive %s: %w", path, err)
	}
	return path, nil
}

// Compile-time interface check.
var _ domain.DumpArchiver = (*DumpArchiver)(nil)
