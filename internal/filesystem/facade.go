package filesystem

import (
	"context"
	"syscall"

	"github.com/innerfs/innerfs/internal/handle"
	"github.com/innerfs/innerfs/internal/metadata"
	"github.com/innerfs/innerfs/internal/metrics"
	"github.com/innerfs/innerfs/internal/pipeline"
	"github.com/innerfs/innerfs/internal/resolver"
	ifserrors "github.com/innerfs/innerfs/pkg/errors"
	"github.com/innerfs/innerfs/pkg/logging"
)

// Facade is the pure, protocol-agnostic operation surface this filesystem
// exposes. It is "pure" in the sense that it depends only on the
// metadata store, the blob pipeline and an in-process handle table — never
// on FUSE, cobra, or any other collaborator — so the FUSE adapter (C10) and
// every CLI subcommand (C9) can share one implementation.
type Facade struct {
	store    *metadata.Store
	resolver *resolver.Resolver
	pipeline *pipeline.Pipeline
	handles  *handle.Table
	log      *logging.Logger
	metrics  *metrics.Collector
}

// New builds a Facade over already-constructed collaborators. metrics may
// be nil, in which case operation counters are simply not recorded.
func New(store *metadata.Store, res *resolver.Resolver, pl *pipeline.Pipeline, log *logging.Logger, mc *metrics.Collector) *Facade {
	if log == nil {
		log = logging.New(logging.DefaultConfig())
	}
	return &Facade{store: store, resolver: res, pipeline: pl, handles: handle.NewTable(), log: log.WithComponent("facade"), metrics: mc}
}

func (f *Facade) record(op string, ok bool, size int64) {
	if f.metrics != nil {
		f.metrics.RecordOperation(op, size, ok)
		f.metrics.UpdateActiveConnections(f.handles.Count())
	}
}

// nlink computes the POSIX link count for n: 1 for a file, 2 plus the
// number of immediate child directories for a directory (self "." plus the
// parent's link to it, plus one per subdirectory's ".." back-reference).
func (f *Facade) nlink(ctx context.Context, n *metadata.Inode) (uint32, error) {
	if n.Kind == metadata.KindFile {
		return 1, nil
	}
	entries, err := f.store.ListDir(ctx, n.ID)
	if err != nil {
		return 0, err
	}
	count := uint32(2)
	for _, e := range entries {
		if e.Kind == metadata.KindDirectory && e.Name != "." && e.Name != ".." {
			count++
		}
	}
	return count, nil
}

func (f *Facade) attrOf(ctx context.Context, n *metadata.Inode) (*Attr, error) {
	nlink, err := f.nlink(ctx, n)
	if err != nil {
		return nil, err
	}
	return attrFromInode(n, nlink), nil
}

// GetAttr returns the stat-like view of inode id.
func (f *Facade) GetAttr(ctx context.Context, id uint64) (*Attr, error) {
	n, err := f.store.GetInode(ctx, id)
	if err != nil {
		f.record("getattr", false, 0)
		return nil, err
	}
	a, err := f.attrOf(ctx, n)
	f.record("getattr", err == nil, 0)
	return a, err
}

// SetAttrMask carries the attributes a caller wants to change; nil fields
// are left untouched.
type SetAttrMask struct {
	UID   *uint32
	GID   *uint32
	Perms *uint32
	Size  *int64
}

// SetAttr mutates the permitted attributes of inode id. A size change
// truncates (or zero-extends) any open handle's buffer and re-flushes it
// through the blob pipeline so the inode row and the handle stay
// consistent even if the caller never calls Flush explicitly afterward.
func (f *Facade) SetAttr(ctx context.Context, id uint64, mask SetAttrMask) (*Attr, error) {
	n, err := f.store.GetInode(ctx, id)
	if err != nil {
		return nil, err
	}

	if mask.Size != nil {
		if n.Kind != metadata.KindFile {
			return nil, ifserrors.New(ifserrors.KindIsDirectory, "cannot truncate a directory").WithComponent("facade")
		}
		if h := f.handles.Lookup(id); h != nil {
			if err := h.Truncate(*mask.Size); err != nil {
				return nil, err
			}
			if err := h.Flush(ctx, f.flushFunc); err != nil {
				return nil, err
			}
		} else {
			if err := f.truncateNoHandle(ctx, n, *mask.Size); err != nil {
				return nil, err
			}
		}
	}

	now := metadata.Now()
	err = f.store.WithTx(ctx, func(tx *metadata.Tx) error {
		return tx.UpdateAttrs(ctx, id, metadata.Attrs{
			UID: mask.UID, GID: mask.GID, Perms: mask.Perms, ModifiedAt: &now,
		}, now)
	})
	if err != nil {
		return nil, err
	}

	n, err = f.store.GetInode(ctx, id)
	if err != nil {
		return nil, err
	}
	return f.attrOf(ctx, n)
}

// truncateNoHandle resizes a file's body with no handle currently open,
// round-tripping it through the blob pipeline once: read the current body
// (if any), resize it in memory, and flush the result back. There is no
// buffer to reuse because nothing has the file open.
func (f *Facade) truncateNoHandle(ctx context.Context, n *metadata.Inode, size int64) error {
	var body []byte
	if n.Size > 0 {
		plain, err := f.pipeline.Read(ctx, n)
		if err != nil {
			return err
		}
		body = plain
	}
	resized := make([]byte, size)
	copy(resized, body)
	return f.pipeline.Flush(ctx, n, resized)
}

// Lookup resolves name inside parentID.
func (f *Facade) Lookup(ctx context.Context, parentID uint64, name string) (uint64, metadata.Kind, error) {
	id, kind, err := f.resolver.Lookup(ctx, parentID, name)
	f.record("lookup", err == nil, 0)
	return id, kind, err
}

// Readdir lists dirID's entries, including "." and "..".
func (f *Facade) Readdir(ctx context.Context, dirID uint64) ([]DirEntry, error) {
	entries, err := f.resolver.Readdir(ctx, dirID)
	if err != nil {
		f.record("readdir", false, 0)
		return nil, err
	}
	out := make([]DirEntry, len(entries))
	for i, e := range entries {
		out[i] = DirEntry{Name: e.Name, Kind: e.Kind, Ino: e.EntryFileID}
	}
	f.record("readdir", true, 0)
	return out, nil
}

// Mkdir creates a new directory.
func (f *Facade) Mkdir(ctx context.Context, parentID uint64, name string, perms, uid, gid uint32) (*Attr, error) {
	n, err := f.resolver.Mkdir(ctx, parentID, name, perms, uid, gid)
	if err != nil {
		f.record("mkdir", false, 0)
		return nil, err
	}
	a, err := f.attrOf(ctx, n)
	f.record("mkdir", err == nil, 0)
	return a, err
}

func rejectAppend(flags int) error {
	if flags&syscall.O_APPEND != 0 {
		return ifserrors.New(ifserrors.KindUnsupported, "append-mode opens are not supported").WithComponent("facade")
	}
	return nil
}

// Create creates a new, empty file and opens it, returning both the new
// inode's id and the handle id the caller uses for subsequent read/write.
func (f *Facade) Create(ctx context.Context, parentID uint64, name string, perms, uid, gid uint32, flags int) (uint64, uint64, *Attr, error) {
	if err := rejectAppend(flags); err != nil {
		return 0, 0, nil, err
	}
	n, err := f.resolver.Create(ctx, parentID, name, perms, uid, gid)
	if err != nil {
		f.record("create", false, 0)
		return 0, 0, nil, err
	}
	h := f.handles.Open(n.ID, nil, flags)
	a, err := f.attrOf(ctx, n)
	f.record("create", err == nil, 0)
	return n.ID, h.ID, a, err
}

// Open opens an existing file for reading/writing. A non-empty file's whole
// body is read from the primary backend through the blob pipeline before the
// handle is created; the buffer is not filled lazily on first use.
func (f *Facade) Open(ctx context.Context, id uint64, flags int) (uint64, error) {
	if err := rejectAppend(flags); err != nil {
		return 0, err
	}
	n, err := f.store.GetInode(ctx, id)
	if err != nil {
		f.record("open", false, 0)
		return 0, err
	}
	if n.Kind != metadata.KindFile {
		f.record("open", false, 0)
		return 0, ifserrors.New(ifserrors.KindIsDirectory, "cannot open a directory for I/O").WithComponent("facade")
	}
	var body []byte
	if n.Size > 0 {
		body, err = f.pipeline.Read(ctx, n)
		if err != nil {
			f.record("open", false, 0)
			return 0, err
		}
	}
	h := f.handles.Open(id, body, flags)
	f.record("open", true, n.Size)
	return h.ID, nil
}

// Read copies up to len(dst) bytes from handleID's buffer at offset.
func (f *Facade) Read(ctx context.Context, handleID uint64, dst []byte, offset int64) (int, error) {
	h, err := f.handles.Get(handleID)
	if err != nil {
		return 0, err
	}
	n, err := h.Read(dst, offset)
	f.record("read", err == nil, int64(n))
	return n, err
}

// Write copies src into handleID's buffer at offset.
func (f *Facade) Write(ctx context.Context, handleID uint64, src []byte, offset int64) (int, error) {
	h, err := f.handles.Get(handleID)
	if err != nil {
		return 0, err
	}
	n, err := h.Write(src, offset)
	f.record("write", err == nil, int64(n))
	return n, err
}

// flushFunc adapts the blob pipeline's Flush to the handle table's
// FlushFunc signature, re-reading the inode row first since the handle
// only knows the inode's id, not its latest version.
func (f *Facade) flushFunc(ctx context.Context, inodeID uint64, body []byte) error {
	n, err := f.store.GetInode(ctx, inodeID)
	if err != nil {
		return err
	}
	return f.pipeline.Flush(ctx, n, body)
}

// Flush drains handleID's buffer through the blob pipeline if dirty.
func (f *Facade) Flush(ctx context.Context, handleID uint64) error {
	h, err := f.handles.Get(handleID)
	if err != nil {
		return err
	}
	err = h.Flush(ctx, f.flushFunc)
	f.record("flush", err == nil, h.Size())
	return err
}

// Release flushes handleID if dirty and closes it.
func (f *Facade) Release(ctx context.Context, handleID uint64) error {
	err := f.handles.Release(ctx, handleID, f.flushFunc)
	f.record("release", err == nil, 0)
	return err
}

// purgeIfOrphaned runs the blob pipeline's orphan body check against a
// resolver.Deleted result, a no-op if d is nil (the unlinked/renamed-over
// inode still had other referring entries).
func (f *Facade) purgeIfOrphaned(ctx context.Context, d *resolver.Deleted) error {
	if d == nil {
		return nil
	}
	return f.pipeline.PurgeOrphanBody(ctx, d.Inode.SHA512, d.Inode.EncryptionKey, d.Inode.Compression, d.ObjectName)
}

// Unlink removes a file entry, purging its body if it becomes orphaned.
func (f *Facade) Unlink(ctx context.Context, parentID uint64, name string) error {
	d, err := f.resolver.Unlink(ctx, parentID, name)
	if err != nil {
		f.record("unlink", false, 0)
		return err
	}
	err = f.purgeIfOrphaned(ctx, d)
	f.record("unlink", err == nil, 0)
	return err
}

// Rmdir removes an empty directory.
func (f *Facade) Rmdir(ctx context.Context, parentID uint64, name string) error {
	err := f.resolver.Rmdir(ctx, parentID, name)
	f.record("rmdir", err == nil, 0)
	return err
}

// Rename moves (oldParentID, oldName) to (newParentID, newName), purging
// any overwritten file's body if it becomes orphaned.
func (f *Facade) Rename(ctx context.Context, oldParentID uint64, oldName string, newParentID uint64, newName string) error {
	d, err := f.resolver.Rename(ctx, oldParentID, oldName, newParentID, newName)
	if err != nil {
		f.record("rename", false, 0)
		return err
	}
	err = f.purgeIfOrphaned(ctx, d)
	f.record("rename", err == nil, 0)
	return err
}

// Statfs reports totals across every file inode and the primary backend's
// best-effort free space (zero when the backend cannot report one).
func (f *Facade) Statfs(ctx context.Context) (*StatfsInfo, error) {
	totals, err := f.store.FileTotals(ctx)
	if err != nil {
		f.record("statfs", false, 0)
		return nil, err
	}
	free := f.pipeline.FreeSpace(ctx)
	if f.metrics != nil {
		cs := f.resolver.CacheStats()
		f.metrics.UpdateCacheSize("path_cache", int64(cs.Entries))
	}
	f.record("statfs", true, 0)
	return &StatfsInfo{Files: totals.Count, TotalBytes: uint64(totals.Bytes), FreeBytes: free, BlockSize: 512}, nil
}

// Access checks mode bits against uid/gid without delegating to the kernel
// (the adapter decides whether to use the calling process's or the
// mounting user's identity).
func (f *Facade) Access(ctx context.Context, id uint64, mode uint32, uid, gid uint32) error {
	n, err := f.store.GetInode(ctx, id)
	if err != nil {
		return err
	}
	if uid == 0 {
		return nil
	}
	var bits uint32
	switch {
	case n.UID == uid:
		bits = (n.Perms >> 6) & 7
	case n.GID == gid:
		bits = (n.Perms >> 3) & 7
	default:
		bits = n.Perms & 7
	}
	if mode&bits != mode {
		return ifserrors.New(ifserrors.KindPermissionDenied, "permission denied").WithComponent("facade")
	}
	return nil
}
