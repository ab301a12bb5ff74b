// Package fuseadapter is a thin translation layer: it maps
// github.com/hanwen/go-fuse/v2 kernel callbacks onto the filesystem
// façade's vnode-like operations and nothing else. It carries no
// read-ahead manager, write coalescer, or FUSE-level cache of its own;
// that work is left to the metadata/blob pipeline instead.
package fuseadapter

import (
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	innerfs "github.com/innerfs/innerfs/internal/filesystem"
	"github.com/innerfs/innerfs/internal/metadata"
	ifserrors "github.com/innerfs/innerfs/pkg/errors"
	"github.com/innerfs/innerfs/pkg/logging"
)

// Node is the fs.InodeEmbedder backing every file and directory InnerFS
// exposes through FUSE. Its Ino is always the façade's inode id (core
// inode id = FUSE inode number), so every translation method here is a
// direct 1:1 call into the façade with no path or handle bookkeeping of
// its own.
type Node struct {
	fs.Inode
	facade *innerfs.Facade
	log    *logging.Logger
}

var (
	_ fs.NodeLookuper  = (*Node)(nil)
	_ fs.NodeGetattrer = (*Node)(nil)
	_ fs.NodeSetattrer = (*Node)(nil)
	_ fs.NodeMkdirer   = (*Node)(nil)
	_ fs.NodeCreater   = (*Node)(nil)
	_ fs.NodeOpener    = (*Node)(nil)
	_ fs.NodeUnlinker  = (*Node)(nil)
	_ fs.NodeRmdirer   = (*Node)(nil)
	_ fs.NodeRenamer   = (*Node)(nil)
	_ fs.NodeReaddirer = (*Node)(nil)
	_ fs.NodeStatfser  = (*Node)(nil)
	_ fs.NodeAccesser  = (*Node)(nil)
)

// New builds the root node a fs.Server mounts, wrapping facade. Every
// descendant node it creates shares the same facade and logger.
func New(facade *innerfs.Facade, log *logging.Logger) *Node {
	if log == nil {
		log = logging.New(logging.DefaultConfig())
	}
	return &Node{facade: facade, log: log.WithComponent("fuseadapter")}
}

func errnoOf(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	return ifserrors.Errno(err)
}

func modeOf(kind metadata.Kind, perms uint32) uint32 {
	if kind == metadata.KindDirectory {
		return fuse.S_IFDIR | perms
	}
	return fuse.S_IFREG | perms
}

func fillAttr(out *fuse.Attr, a *innerfs.Attr) {
	out.Ino = a.Ino
	out.Size = uint64(a.Size)
	out.Blocks = a.Blocks
	out.Nlink = a.Nlink
	out.Mode = modeOf(a.Kind, a.Perms)
	out.Uid = a.UID
	out.Gid = a.GID
	out.Atime = uint64(a.AccessedAt)
	out.Mtime = uint64(a.ModifiedAt)
	out.Ctime = uint64(a.ChangedAt)
}

func callerIDs(ctx context.Context) (uid, gid uint32) {
	if caller, ok := fuse.FromContext(ctx); ok {
		return caller.Uid, caller.Gid
	}
	return 0, 0
}

func (n *Node) child(id uint64, kind metadata.Kind) *fs.Inode {
	child := &Node{facade: n.facade, log: n.log}
	mode := uint32(fuse.S_IFREG)
	if kind == metadata.KindDirectory {
		mode = fuse.S_IFDIR
	}
	return n.NewInode(context.Background(), child, fs.StableAttr{Mode: mode, Ino: id})
}

// Lookup resolves name inside n, the directory it's called on.
func (n *Node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	childID, kind, err := n.facade.Lookup(ctx, n.StableAttr().Ino, name)
	if err != nil {
		return nil, errnoOf(err)
	}
	attr, err := n.facade.GetAttr(ctx, childID)
	if err != nil {
		return nil, errnoOf(err)
	}
	fillAttr(&out.Attr, attr)
	return n.child(childID, kind), 0
}

// Getattr returns the stat-like attributes of n itself.
func (n *Node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	attr, err := n.facade.GetAttr(ctx, n.StableAttr().Ino)
	if err != nil {
		return errnoOf(err)
	}
	fillAttr(&out.Attr, attr)
	return 0
}

// Setattr mutates n's permitted attributes.
func (n *Node) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	mask := innerfs.SetAttrMask{}
	if v, ok := in.GetUID(); ok {
		mask.UID = &v
	}
	if v, ok := in.GetGID(); ok {
		mask.GID = &v
	}
	if v, ok := in.GetMode(); ok {
		perms := v & 0o7777
		mask.Perms = &perms
	}
	if v, ok := in.GetSize(); ok {
		size := int64(v)
		mask.Size = &size
	}
	attr, err := n.facade.SetAttr(ctx, n.StableAttr().Ino, mask)
	if err != nil {
		return errnoOf(err)
	}
	fillAttr(&out.Attr, attr)
	return 0
}

// Mkdir creates a new, empty subdirectory of n.
func (n *Node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	uid, gid := callerIDs(ctx)
	attr, err := n.facade.Mkdir(ctx, n.StableAttr().Ino, name, mode&0o7777, uid, gid)
	if err != nil {
		return nil, errnoOf(err)
	}
	fillAttr(&out.Attr, attr)
	return n.child(attr.Ino, metadata.KindDirectory), 0
}

// Create creates and opens a new file inside n.
func (n *Node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	uid, gid := callerIDs(ctx)
	_, handleID, attr, err := n.facade.Create(ctx, n.StableAttr().Ino, name, mode&0o7777, uid, gid, int(flags))
	if err != nil {
		return nil, nil, 0, errnoOf(err)
	}
	fillAttr(&out.Attr, attr)
	child := n.child(attr.Ino, metadata.KindFile)
	return child, &Handle{facade: n.facade, id: handleID}, 0, 0
}

// Open opens an existing file for I/O.
func (n *Node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	handleID, err := n.facade.Open(ctx, n.StableAttr().Ino, int(flags))
	if err != nil {
		return nil, 0, errnoOf(err)
	}
	return &Handle{facade: n.facade, id: handleID}, 0, 0
}

// Unlink removes a file entry from n.
func (n *Node) Unlink(ctx context.Context, name string) syscall.Errno {
	return errnoOf(n.facade.Unlink(ctx, n.StableAttr().Ino, name))
}

// Rmdir removes an empty subdirectory entry from n.
func (n *Node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errnoOf(n.facade.Rmdir(ctx, n.StableAttr().Ino, name))
}

// Rename moves (n, name) to (newParent, newName).
func (n *Node) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	target, ok := newParent.(*Node)
	if !ok {
		return syscall.EINVAL
	}
	return errnoOf(n.facade.Rename(ctx, n.StableAttr().Ino, name, target.StableAttr().Ino, newName))
}

// dirStream adapts the façade's readdir result to fs.DirStream.
type dirStream struct {
	entries []innerfs.DirEntry
	i       int
}

func (d *dirStream) HasNext() bool { return d.i < len(d.entries) }
func (d *dirStream) Next() (fuse.DirEntry, syscall.Errno) {
	e := d.entries[d.i]
	d.i++
	return fuse.DirEntry{Name: e.Name, Ino: e.Ino, Mode: modeOf(e.Kind, 0)}, 0
}
func (d *dirStream) Close() {}

// Readdir lists n's entries, including "." and "..".
func (n *Node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.facade.Readdir(ctx, n.StableAttr().Ino)
	if err != nil {
		n.log.Warn("readdir failed", map[string]interface{}{"ino": n.StableAttr().Ino, "error": err.Error()})
		return nil, errnoOf(err)
	}
	return &dirStream{entries: entries}, 0
}

// Statfs reports filesystem-wide totals.
func (n *Node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	info, err := n.facade.Statfs(ctx)
	if err != nil {
		return errnoOf(err)
	}
	out.Blocks = info.TotalBytes / uint64(info.BlockSize)
	out.Bfree = info.FreeBytes / uint64(info.BlockSize)
	out.Bavail = out.Bfree
	out.Files = info.Files
	out.Bsize = info.BlockSize
	out.NameLen = 255
	return 0
}

// Access checks mode bits against the calling process's uid/gid. InnerFS
// uses the caller's effective identity from the FUSE request header
// rather than the mounting user's, matching how Lookup/Mkdir/Create
// already source uid/gid.
func (n *Node) Access(ctx context.Context, mask uint32) syscall.Errno {
	uid, gid := callerIDs(ctx)
	return errnoOf(n.facade.Access(ctx, n.StableAttr().Ino, mask, uid, gid))
}

// Handle is the fs.FileHandle backing one open file, a thin wrapper over
// the façade's handle id — the buffer itself lives in internal/handle, not
// here.
type Handle struct {
	facade *innerfs.Facade
	id     uint64
}

var (
	_ fs.FileReader   = (*Handle)(nil)
	_ fs.FileWriter   = (*Handle)(nil)
	_ fs.FileFlusher  = (*Handle)(nil)
	_ fs.FileReleaser = (*Handle)(nil)
)

func (h *Handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.facade.Read(ctx, h.id, dest, off)
	if err != nil {
		return nil, errnoOf(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *Handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.facade.Write(ctx, h.id, data, off)
	if err != nil {
		return 0, errnoOf(err)
	}
	return uint32(n), 0
}

func (h *Handle) Flush(ctx context.Context) syscall.Errno {
	return errnoOf(h.facade.Flush(ctx, h.id))
}

func (h *Handle) Release(ctx context.Context) syscall.Errno {
	return errnoOf(h.facade.Release(ctx, h.id))
}
