package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/futarchyd/internal/domain"
)

type memObject struct {
	body     []byte
	meta     domain.SnapshotMeta
	modified time.Time
}

// memBlobs is an in-memory BlobWriter and BlobReader.
type memBlobs struct {
	objects map[string]memObject
	clock   time.Time
	puts    int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{
		objects: map[string]memObject{},
		clock:   time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memBlobs) PutSnapshot(_ context.Context, key string, body []byte, meta domain.SnapshotMeta) error {
	m.puts++
	m.clock = m.clock.Add(time.Minute)
	m.objects[key] = memObject{body: bytes.Clone(body), meta: meta, modified: m.clock}
	return nil
}

func (m *memBlobs) Open(_ context.Context, key string) (io.ReadCloser, error) {
	o, ok := m.objects[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(o.body)), nil
}

func (m *memBlobs) ListSnapshots(_ context.Context, prefix string) ([]domain.SnapshotObject, error) {
	var out []domain.SnapshotObject
	for key, o := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if c, ok := parseSnapshotKey(key); ok {
			out = append(out, domain.SnapshotObject{Key: key, Size: int64(len(o.body)), Cursor: c, LastModified: o.modified})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

type memAudit struct {
	events []string
	fields []map[string]any
}

func (a *memAudit) Log(_ context.Context, event string, fields map[string]any) error {
	a.events = append(a.events, event)
	a.fields = append(a.fields, fields)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func snapshotAt(c domain.Cursor, ids ...string) domain.Snapshot {
	s := domain.NewState()
	for _, id := range ids {
		s = s.WithMarket(domain.Market{ConditionID: id, Open: true})
	}
	return domain.Snapshot{State: s, Cursor: c, TakenAt: time.Date(2026, 10, 18, 3, 0, 0, 0, time.UTC)}
}

func TestSnapshotKeyRoundTrip(t *testing.T) {
	c := domain.Cursor{Block: 19283746, LogIndex: 4}
	key := snapshotKey("snapshots", c, []byte(`{"markets":[]}`))
	assert.Regexp(t, `^snapshots/000019283746-0000000004-[0-9a-f]{8}\.json$`, key)

	got, ok := parseSnapshotKey(key)
	require.True(t, ok)
	assert.Equal(t, c, got)

	// The largest log index still fits the padded width.
	key = snapshotKey("a/b", domain.Cursor{Block: 7, LogIndex: domain.MaxLogIndex}, nil)
	got, ok = parseSnapshotKey(key)
	require.True(t, ok)
	assert.Equal(t, uint(domain.MaxLogIndex), got.LogIndex)

	for _, bad := range []string{
		"snapshots/readme.txt",
		"snapshots/2026/10/18/1792281600.json",
		"snapshots/x-0000000004-3fa9c01b.json",
		"snapshots/000000000001-0000000004-3f.json",
	} {
		_, ok := parseSnapshotKey(bad)
		assert.False(t, ok, bad)
	}
}

func TestSnapshotPrefix(t *testing.T) {
	assert.Equal(t, "snapshots", snapshotPrefix(""))
	assert.Equal(t, "snapshots", snapshotPrefix("/"))
	assert.Equal(t, "a/b", snapshotPrefix("/a/b/"))
}

func TestArchiveWritesMetadataAndAudits(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{}
	a := NewArchiver(blobs, blobs, audit, "/snapshots/")
	ctx := context.Background()

	c := domain.Cursor{Block: 42, LogIndex: 3}
	key, err := a.Archive(ctx, snapshotAt(c, "0xa", "0xb"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "snapshots/000000000042-0000000003-"))

	obj := blobs.objects[key]
	assert.Contains(t, string(obj.body), `"conditionId":"0xa"`)
	assert.Equal(t, domain.SnapshotMeta{Cursor: c, Markets: 2, TakenAt: snapshotAt(c).TakenAt}, obj.meta)
	assert.Equal(t, []string{"archive.snapshot"}, audit.events)
	assert.Equal(t, uint(3), audit.fields[0]["log_index"])

	// Same state at the same cursor is stored once.
	again, err := a.Archive(ctx, snapshotAt(c, "0xa", "0xb"))
	require.NoError(t, err)
	assert.Equal(t, key, again)
	assert.Equal(t, 1, blobs.puts)
	assert.Len(t, audit.events, 1)

	// A different state at the same cursor gets its own object.
	other, err := a.Archive(ctx, snapshotAt(c, "0xa", "0xb", "0xc"))
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
	assert.Equal(t, 2, blobs.puts)
}

func TestArchiveUsesClockWhenTakenAtZero(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, nil, "")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a.now = func() time.Time { return now }

	snap := snapshotAt(domain.Cursor{Block: 1})
	snap.TakenAt = time.Time{}
	key, err := a.Archive(context.Background(), snap)
	require.NoError(t, err)
	assert.True(t, blobs.objects[key].meta.TakenAt.Equal(now))
}

func TestLatestPicksHighestCursor(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, nil, "snapshots")
	ctx := context.Background()

	_, err := a.Latest(ctx)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	// Written out of cursor order.
	_, err = a.Archive(ctx, snapshotAt(domain.Cursor{Block: 100, LogIndex: 2}, "0xa", "0xb"))
	require.NoError(t, err)
	_, err = a.Archive(ctx, snapshotAt(domain.Cursor{Block: 99, LogIndex: 50}, "0xa"))
	require.NoError(t, err)
	blobs.objects["snapshots/readme.txt"] = memObject{body: []byte("ignored")}

	snap, err := a.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Cursor{Block: 100, LogIndex: 2}, snap.Cursor)
	assert.Equal(t, 2, snap.State.Len())

	// At an equal cursor the later upload wins.
	_, err = a.Archive(ctx, snapshotAt(domain.Cursor{Block: 100, LogIndex: 2}, "0xa", "0xb", "0xc"))
	require.NoError(t, err)
	snap, err = a.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.State.Len())
}

func TestLatestRejectsMislabelledObject(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, nil, "snapshots")
	ctx := context.Background()

	key, err := a.Archive(ctx, snapshotAt(domain.Cursor{Block: 5}, "0xa"))
	require.NoError(t, err)
	moved := snapshotKey("snapshots", domain.Cursor{Block: 6}, nil)
	blobs.objects[moved] = blobs.objects[key]

	_, err = a.Latest(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "holds cursor 5:0")
}

func TestSnapshotMetadata(t *testing.T) {
	meta := snapshotMetadata(domain.SnapshotMeta{
		Cursor:  domain.Cursor{Block: 42, LogIndex: 7},
		Markets: 3,
		TakenAt: time.Date(2026, 10, 18, 5, 0, 0, 0, time.FixedZone("x", 3600)),
	})
	assert.Equal(t, map[string]string{
		"cursor":   "42:7",
		"markets":  "3",
		"taken-at": "2026-10-18T04:00:00Z",
	}, meta)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))

	resp := &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: http.StatusNotFound}},
		Err:      errors.New("not found"),
	}
	assert.True(t, isNotFound(resp))
	assert.False(t, isNotFound(errors.New("connection refused")))
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "https://minio.internal", normaliseEndpoint("minio.internal", true))
	assert.Equal(t, "https://acct.r2.cloudflarestorage.com", normaliseEndpoint("https://acct.r2.cloudflarestorage.com", false))
}

func TestNewValidatesConfig(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, ClientConfig{})
	assert.ErrorContains(t, err, "bucket name is required")

	_, err = New(ctx, ClientConfig{Bucket: "b", AccessKey: "only-key"})
	assert.ErrorContains(t, err, "must be set together")

	c, err := New(ctx, ClientConfig{Bucket: "b", Prefix: "/archive/", AccessKey: "k", SecretKey: "s", Endpoint: "localhost:9000"})
	require.NoError(t, err)
	assert.Equal(t, "archive", c.prefix)
	assert.Equal(t, "b", c.bucket)
}
