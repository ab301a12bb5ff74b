// Package filesystem implements the filesystem operations façade: the
// protocol-agnostic, vnode-like operation surface (lookup, getattr, setattr,
// mkdir, create, open, read, write, flush, release, unlink, rmdir, rename,
// readdir, statfs, access) that a thin adapter maps onto a concrete kernel
// interface. It owns no transport of its own; it only coordinates the name
// resolver, the replicated blob pipeline and the per-open handle table
// behind a single, synchronous call surface.
package filesystem

import (
	"github.com/innerfs/innerfs/internal/metadata"
)

// Attr is the stat-like view of an inode the façade returns from GetAttr,
// SetAttr, Mkdir and Create, trimmed down to the
// fields a POSIX adapter actually needs (no S3/cost-analysis metadata,
// which has no analog here).
type Attr struct {
	Ino        uint64
	Kind       metadata.Kind
	Size       int64
	Blocks     uint64
	Nlink      uint32
	UID        uint32
	GID        uint32
	Perms      uint32
	AccessedAt int64
	ModifiedAt int64
	ChangedAt  int64
}

// DirEntry is one readdir result, including "." and "..".
type DirEntry struct {
	Name string
	Kind metadata.Kind
	Ino  uint64
}

// StatfsInfo reports filesystem-wide totals, trimmed to what a
// single-backend InnerFS mount can report.
type StatfsInfo struct {
	Files      uint64
	TotalBytes uint64
	FreeBytes  uint64
	BlockSize  uint32
}

func blocksFor(size int64) uint64 {
	if size <= 0 {
		return 0
	}
	return uint64((size + 511) / 512)
}

func attrFromInode(n *metadata.Inode, nlink uint32) *Attr {
	return &Attr{
		Ino:        n.ID,
		Kind:       n.Kind,
		Size:       n.Size,
		Blocks:     blocksFor(n.Size),
		Nlink:      nlink,
		UID:        n.UID,
		GID:        n.GID,
		Perms:      n.Perms,
		AccessedAt: n.AccessedAt,
		ModifiedAt: n.UpdatedAt,
		ChangedAt:  n.UpdatedAt,
	}
}
