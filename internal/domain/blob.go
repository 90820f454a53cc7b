package domain

import (
	"context"
	"io"
	"time"
)

// SnapshotMeta is stored alongside an archived snapshot so it can be
// inspected without downloading the body.
type SnapshotMeta struct {
	Cursor  Cursor
	Markets int
	TakenAt time.Time
}

// SnapshotObject is one archived snapshot as seen in a listing. Cursor is
// recovered from the object key.
type SnapshotObject struct {
	Key          string
	Size         int64
	Cursor       Cursor
	LastModified time.Time
}

// BlobWriter uploads encoded snapshots to object storage.
type BlobWriter interface {
	PutSnapshot(ctx context.Context, key string, body []byte, meta SnapshotMeta) error
}

// BlobReader finds and opens archived snapshots.
type BlobReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	ListSnapshots(ctx context.Context, prefix string) ([]SnapshotObject, error)
	Exists(ctx context.Context, key string) (bool, error)
}

// SnapshotArchiver copies derived-state snapshots to cold storage.
type SnapshotArchiver interface {
	Archive(ctx context.Context, snap Snapshot) (path string, err error)
}
