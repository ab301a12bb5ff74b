package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innerfs/innerfs/internal/blob"
	"github.com/innerfs/innerfs/internal/metadata"
	"github.com/innerfs/innerfs/internal/resolver"
	ifserrors "github.com/innerfs/innerfs/pkg/errors"
	"github.com/innerfs/innerfs/pkg/retry"
)

func newTestPipeline(t *testing.T, cfg Config) (*Pipeline, *metadata.Store, *resolver.Resolver, blob.Backend) {
	t.Helper()
	dir := t.TempDir()
	store, err := metadata.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	primary, err := blob.NewLocalBackend(filepath.Join(dir, "primary"))
	require.NoError(t, err)

	res := resolver.New(store, resolver.NewPathCache(256, 0), cfg.UseHashAsFilename, cfg.ChangeJournal, nil)
	p := New(primary, nil, store, cfg, retry.Config{MaxAttempts: 1})
	return p, store, res, primary
}

func TestFlushAndReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, store, res, _ := newTestPipeline(t, Config{UseHashAsFilename: true, DefaultCompress: 0})

	inode, err := res.Create(ctx, metadata.RootID, "f.txt", 0644, 0, 0)
	require.NoError(t, err)

	require.NoError(t, p.Flush(ctx, inode, []byte("hello, world")))

	updated, err := store.GetInode(ctx, inode.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, updated.SHA512)
	assert.EqualValues(t, 2, updated.Version)

	body, err := p.Read(ctx, updated)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello, world"), body)
}

func TestFlushDedupsIdenticalContentAcrossInodes(t *testing.T) {
	ctx := context.Background()
	p, store, res, primary := newTestPipeline(t, Config{UseHashAsFilename: true})

	a, err := res.Create(ctx, metadata.RootID, "a.txt", 0644, 0, 0)
	require.NoError(t, err)
	b, err := res.Create(ctx, metadata.RootID, "b.txt", 0644, 0, 0)
	require.NoError(t, err)

	require.NoError(t, p.Flush(ctx, a, []byte("same content")))
	require.NoError(t, p.Flush(ctx, b, []byte("same content")))

	ua, err := store.GetInode(ctx, a.ID)
	require.NoError(t, err)
	ub, err := store.GetInode(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, ua.SHA512, ub.SHA512)

	objects, err := primary.List(ctx)
	require.NoError(t, err)
	assert.Len(t, objects, 1, "dedup should have skipped the second upload")
}

func TestFlushSelfOverwriteShortCircuits(t *testing.T) {
	ctx := context.Background()
	p, store, res, _ := newTestPipeline(t, Config{UseHashAsFilename: true})

	inode, err := res.Create(ctx, metadata.RootID, "f.txt", 0644, 0, 0)
	require.NoError(t, err)
	require.NoError(t, p.Flush(ctx, inode, []byte("v1")))

	current, err := store.GetInode(ctx, inode.ID)
	require.NoError(t, err)
	require.NoError(t, p.Flush(ctx, current, []byte("v1")))

	after, err := store.GetInode(ctx, inode.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, after.Version, "version still bumps even on a content-identical reflush")
}

func TestEncryptedFlushRoundTripsWithCompressionOff(t *testing.T) {
	ctx := context.Background()
	p, store, res, _ := newTestPipeline(t, Config{UseHashAsFilename: true, EncryptionKey: "s3cr3t"})

	inode, err := res.Create(ctx, metadata.RootID, "f.txt", 0644, 0, 0)
	require.NoError(t, err)
	require.NoError(t, p.Flush(ctx, inode, []byte("plaintext body")))

	current, err := store.GetInode(ctx, inode.ID)
	require.NoError(t, err)
	assert.Empty(t, current.Compression, "encryption forces compression off")
	assert.NotEmpty(t, current.EncryptionKey)

	body, err := p.Read(ctx, current)
	require.NoError(t, err)
	assert.Equal(t, []byte("plaintext body"), body)
}

func TestReadDetectsIntegrityFailure(t *testing.T) {
	ctx := context.Background()
	p, store, res, primary := newTestPipeline(t, Config{UseHashAsFilename: true})

	inode, err := res.Create(ctx, metadata.RootID, "f.txt", 0644, 0, 0)
	require.NoError(t, err)
	require.NoError(t, p.Flush(ctx, inode, []byte("original")))

	current, err := store.GetInode(ctx, inode.ID)
	require.NoError(t, err)
	require.NoError(t, primary.Put(ctx, current.SHA512, []byte("tampered")))

	_, err = p.Read(ctx, current)
	assert.True(t, ifserrors.Is(err, ifserrors.KindIntegrityFailure))
}

func TestPurgeOrphanBodyDeletesUnreferencedObject(t *testing.T) {
	ctx := context.Background()
	p, store, res, primary := newTestPipeline(t, Config{UseHashAsFilename: true})

	inode, err := res.Create(ctx, metadata.RootID, "f.txt", 0644, 0, 0)
	require.NoError(t, err)
	require.NoError(t, p.Flush(ctx, inode, []byte("contents")))

	current, err := store.GetInode(ctx, inode.ID)
	require.NoError(t, err)

	deleted, err := res.Unlink(ctx, metadata.RootID, "f.txt")
	require.NoError(t, err)
	require.NotNil(t, deleted)

	require.NoError(t, p.PurgeOrphanBody(ctx, deleted.Inode.SHA512, deleted.Inode.EncryptionKey, deleted.Inode.Compression, deleted.ObjectName))

	exists, err := primary.Exists(ctx, current.SHA512)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFlushEmptyBodyStoresNoObject(t *testing.T) {
	ctx := context.Background()
	p, store, res, primary := newTestPipeline(t, Config{UseHashAsFilename: true})

	inode, err := res.Create(ctx, metadata.RootID, "empty.txt", 0644, 0, 0)
	require.NoError(t, err)
	require.NoError(t, p.Flush(ctx, inode, nil))

	current, err := store.GetInode(ctx, inode.ID)
	require.NoError(t, err)
	assert.Empty(t, current.SHA512)
	assert.Empty(t, current.Compression)
	assert.Empty(t, current.EncryptionKey)
	assert.EqualValues(t, 0, current.Size)

	objects, err := primary.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, objects, "an empty body must never produce a backend object")
}

func TestFlushOverwriteOrphansUnreferencedPreviousBody(t *testing.T) {
	ctx := context.Background()
	p, store, res, primary := newTestPipeline(t, Config{UseHashAsFilename: true})

	inode, err := res.Create(ctx, metadata.RootID, "f.txt", 0644, 0, 0)
	require.NoError(t, err)
	require.NoError(t, p.Flush(ctx, inode, []byte("v1")))

	v1, err := store.GetInode(ctx, inode.ID)
	require.NoError(t, err)
	v1Name := v1.SHA512

	require.NoError(t, p.Flush(ctx, v1, []byte("v2, totally different content")))

	exists, err := primary.Exists(ctx, v1Name)
	require.NoError(t, err)
	assert.False(t, exists, "the superseded body must be purged once nothing else references it")

	v2, err := store.GetInode(ctx, inode.ID)
	require.NoError(t, err)
	body, err := p.Read(ctx, v2)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2, totally different content"), body)
}

func TestFlushTruncateToZeroOrphansPreviousBody(t *testing.T) {
	ctx := context.Background()
	p, store, res, primary := newTestPipeline(t, Config{UseHashAsFilename: true})

	inode, err := res.Create(ctx, metadata.RootID, "f.txt", 0644, 0, 0)
	require.NoError(t, err)
	require.NoError(t, p.Flush(ctx, inode, []byte("contents")))

	v1, err := store.GetInode(ctx, inode.ID)
	require.NoError(t, err)
	v1Name := v1.SHA512

	require.NoError(t, p.Flush(ctx, v1, nil))

	exists, err := primary.Exists(ctx, v1Name)
	require.NoError(t, err)
	assert.False(t, exists, "truncating to zero must purge the now-unreferenced body")

	after, err := store.GetInode(ctx, inode.ID)
	require.NoError(t, err)
	assert.Empty(t, after.SHA512)
	assert.EqualValues(t, 0, after.Size)
}

func TestPurgeOrphanBodyKeepsSharedObject(t *testing.T) {
	ctx := context.Background()
	p, store, res, primary := newTestPipeline(t, Config{UseHashAsFilename: true})

	a, err := res.Create(ctx, metadata.RootID, "a.txt", 0644, 0, 0)
	require.NoError(t, err)
	b, err := res.Create(ctx, metadata.RootID, "b.txt", 0644, 0, 0)
	require.NoError(t, err)
	require.NoError(t, p.Flush(ctx, a, []byte("shared")))
	require.NoError(t, p.Flush(ctx, b, []byte("shared")))

	ua, err := store.GetInode(ctx, a.ID)
	require.NoError(t, err)

	deleted, err := res.Unlink(ctx, metadata.RootID, "a.txt")
	require.NoError(t, err)
	require.NotNil(t, deleted)

	require.NoError(t, p.PurgeOrphanBody(ctx, deleted.Inode.SHA512, deleted.Inode.EncryptionKey, deleted.Inode.Compression, deleted.ObjectName))

	exists, err := primary.Exists(ctx, ua.SHA512)
	require.NoError(t, err)
	assert.True(t, exists, "object still referenced by b.txt must survive")
}
