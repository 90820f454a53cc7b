package s3blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

// Archiver implements domain.SnapshotArchiver. Each snapshot is one JSON
// document keyed by its resume cursor and a digest of its state:
//
//	snapshots/000019283746-0000000004-3fa9c01b.json
//
// Zero-padded cursors keep keys in cursor order. Archiving the same state at
// the same cursor twice is a no-op.
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	prefix string
	now    func() time.Time
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore, prefix string) *Archiver {
	return &Archiver{
		writer: writer,
		reader: reader,
		audit:  audit,
		prefix: snapshotPrefix(prefix),
		now:    time.Now,
	}
}

// Archive uploads snap unless an identical snapshot is already stored, and
// returns its object key.
func (a *Archiver) Archive(ctx context.Context, snap domain.Snapshot) (string, error) {
	if snap.TakenAt.IsZero() {
		snap.TakenAt = a.now().UTC()
	}
	state, err := json.Marshal(snap.State)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot marshal state: %w", err)
	}
	key := snapshotKey(a.prefix, snap.Cursor, state)

	exists, err := a.reader.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot: %w", err)
	}
	if exists {
		return key, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap); err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot marshal: %w", err)
	}
	meta := domain.SnapshotMeta{Cursor: snap.Cursor, Markets: snap.State.Len(), TakenAt: snap.TakenAt}
	if err := a.writer.PutSnapshot(ctx, key, buf.Bytes(), meta); err != nil {
		return "", fmt.Errorf("s3blob: archive snapshot upload: %w", err)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.snapshot", map[string]any{
			"path":      key,
			"bytes":     buf.Len(),
			"markets":   meta.Markets,
			"block":     snap.Cursor.Block,
			"log_index": snap.Cursor.LogIndex,
		}); err != nil {
			return key, fmt.Errorf("s3blob: archive snapshot audit log: %w", err)
		}
	}
	return key, nil
}

// Latest loads the archived snapshot with the highest cursor. Snapshots
// sharing a cursor differ only while events are pending redelivery; the most
// recently written one wins. It returns domain.ErrNotFound when nothing has
// been archived yet.
func (a *Archiver) Latest(ctx context.Context) (domain.Snapshot, error) {
	objs, err := a.reader.ListSnapshots(ctx, a.prefix+"/")
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("s3blob: latest snapshot: %w", err)
	}
	if len(objs) == 0 {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	latest := objs[0]
	for _, o := range objs[1:] {
		if o.Cursor.After(latest.Cursor) ||
			(o.Cursor == latest.Cursor && o.LastModified.After(latest.LastModified)) {
			latest = o
		}
	}

	body, err := a.reader.Open(ctx, latest.Key)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("s3blob: latest snapshot: %w", err)
	}
	defer body.Close()

	var snap domain.Snapshot
	if err := json.NewDecoder(body).Decode(&snap); err != nil {
		return domain.Snapshot{}, fmt.Errorf("s3blob: decode snapshot %s: %w", latest.Key, err)
	}
	if snap.Cursor != latest.Cursor {
		return domain.Snapshot{}, fmt.Errorf("s3blob: snapshot %s holds cursor %d:%d",
			latest.Key, snap.Cursor.Block, snap.Cursor.LogIndex)
	}
	return snap, nil
}

func snapshotPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return "snapshots"
	}
	return prefix
}

// snapshotKey names a snapshot by cursor and the first 4 bytes of the
// SHA-256 of its encoded state.
func snapshotKey(prefix string, c domain.Cursor, state []byte) string {
	sum := sha256.Sum256(state)
	name := fmt.Sprintf("%012d-%010d-%s.json", c.Block, c.LogIndex, hex.EncodeToString(sum[:4]))
	return path.Join(prefix, name)
}

// parseSnapshotKey recovers the cursor from a key built by snapshotKey.
func parseSnapshotKey(key string) (domain.Cursor, bool) {
	name, ok := strings.CutSuffix(path.Base(key), ".json")
	if !ok {
		return domain.Cursor{}, false
	}
	parts := strings.Split(name, "-")
	if len(parts) != 3 || len(parts[2]) != 8 {
		return domain.Cursor{}, false
	}
	block, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return domain.Cursor{}, false
	}
	logIndex, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return domain.Cursor{}, false
	}
	return domain.Cursor{Block: block, LogIndex: uint(logIndex)}, true
}

var _ domain.SnapshotArchiver = (*Archiver)(nil)
