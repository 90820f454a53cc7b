package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

const (
	// minPartSize is the S3 multipart minimum (5 MiB).
	minPartSize int64 = 5 * 1024 * 1024
	// multipartThreshold is the body size above which snapshots are uploaded
	// in parts.
	multipartThreshold = 8 * 1024 * 1024
)

// Object metadata keys. S3 returns them lower-cased with an x-amz-meta-
// prefix.
const (
	metaCursor  = "cursor"
	metaMarkets = "markets"
	metaTakenAt = "taken-at"
)

// Writer uploads snapshot documents.
type Writer struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// NewWriter creates a Writer for c's bucket.
func NewWriter(c *Client) *Writer {
	return &Writer{
		client: c.s3,
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) {
			u.PartSize = minPartSize
		}),
		bucket: c.bucket,
	}
}

// PutSnapshot uploads body under key with the snapshot's cursor, market
// count and capture time as object metadata. Large snapshots go through the
// multipart uploader.
func (w *Writer) PutSnapshot(ctx context.Context, key string, body []byte, meta domain.SnapshotMeta) error {
	input := &s3.PutObjectInput{
		Bucket:       aws.String(w.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String("application/json"),
		CacheControl: aws.String("no-cache"),
		Metadata:     snapshotMetadata(meta),
	}

	if len(body) > multipartThreshold {
		if _, err := w.uploader.Upload(ctx, input); err != nil {
			return fmt.Errorf("s3blob: multipart upload %s: %w", key, err)
		}
		return nil
	}
	input.ContentLength = aws.Int64(int64(len(body)))
	if _, err := w.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("s3blob: put %s: %w", key, err)
	}
	return nil
}

func snapshotMetadata(meta domain.SnapshotMeta) map[string]string {
	return map[string]string{
		metaCursor:  fmt.Sprintf("%d:%d", meta.Cursor.Block, meta.Cursor.LogIndex),
		metaMarkets: strconv.Itoa(meta.Markets),
		metaTakenAt: meta.TakenAt.UTC().Format(time.RFC3339),
	}
}

var _ domain.BlobWriter = (*Writer)(nil)
