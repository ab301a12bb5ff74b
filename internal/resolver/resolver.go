// Package resolver implements path resolution and the directory-mutating
// operations (mkdir, create, unlink, rmdir, rename, readdir) described by
// the name resolver & directory service component. It owns no blob state;
// body identity changes are left to the replicated blob pipeline, which the
// façade invokes after a resolver call reports an inode as orphaned.
package resolver

import (
	"context"
	"strings"

	"github.com/innerfs/innerfs/internal/metadata"
	"github.com/innerfs/innerfs/internal/metrics"
	ifserrors "github.com/innerfs/innerfs/pkg/errors"
)

// Resolver resolves slash-separated paths against the metadata store,
// component by component from the root, and performs the directory
// operations that mutate that namespace.
type Resolver struct {
	store         *metadata.Store
	cache         *PathCache
	useHashAsName bool
	changeJournal bool
	metrics       *metrics.Collector
}

// New builds a Resolver. useHashAsFilename and changeJournal mirror the
// reconciled configuration's naming and journal toggles: the resolver needs
// the former to compute a soon-to-be-unlinked blob's object name while its
// directory entry still exists, and the latter to know whether to append
// change journal rows itself (directory-only events; body events are
// journaled by the pipeline). mc may be nil, in which case path cache hits
// and misses simply aren't reported to Prometheus.
func New(store *metadata.Store, cache *PathCache, useHashAsFilename, changeJournal bool, mc *metrics.Collector) *Resolver {
	return &Resolver{store: store, cache: cache, useHashAsName: useHashAsFilename, changeJournal: changeJournal, metrics: mc}
}

// Deleted describes an inode that Unlink or Rename's overwrite case
// removed entirely (no remaining directory entries reference it), along
// with the blob object name its body was stored under, computed before the
// entry that let us derive it was removed.
type Deleted struct {
	Inode      *metadata.Inode
	ObjectName string
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// Resolve walks path component by component from the root, consulting the
// path cache before the metadata store at every step.
func (r *Resolver) Resolve(ctx context.Context, path string) (id uint64, kind metadata.Kind, err error) {
	components := splitPath(path)
	cur := metadata.RootID
	curKind := metadata.KindDirectory
	for _, name := range components {
		childID, childKind, ok := r.cache.Get(cur, name)
		if ok {
			r.recordCache(true, name)
			cur, curKind = childID, metadata.Kind(childKind)
			continue
		}
		r.recordCache(false, name)
		entry, err := r.store.LookupEntry(ctx, cur, name)
		if err != nil {
			return 0, 0, err
		}
		r.cache.Put(cur, name, entry.EntryFileID, uint8(entry.Kind))
		cur, curKind = entry.EntryFileID, entry.Kind
	}
	return cur, curKind, nil
}

func (r *Resolver) recordCache(hit bool, name string) {
	if r.metrics == nil {
		return
	}
	if hit {
		r.metrics.RecordCacheHit(name)
	} else {
		r.metrics.RecordCacheMiss(name)
	}
}

// Lookup resolves a single component under parentID, the primitive FUSE
// lookup uses directly rather than re-walking a whole path.
func (r *Resolver) Lookup(ctx context.Context, parentID uint64, name string) (childID uint64, kind metadata.Kind, err error) {
	if childID, k, ok := r.cache.Get(parentID, name); ok {
		r.recordCache(true, name)
		return childID, metadata.Kind(k), nil
	}
	r.recordCache(false, name)
	entry, err := r.store.LookupEntry(ctx, parentID, name)
	if err != nil {
		return 0, 0, err
	}
	r.cache.Put(parentID, name, entry.EntryFileID, uint8(entry.Kind))
	return entry.EntryFileID, entry.Kind, nil
}

// Readdir lists the entries of dirID, including "." and "..".
func (r *Resolver) Readdir(ctx context.Context, dirID uint64) ([]metadata.DirEntry, error) {
	return r.store.ListDir(ctx, dirID)
}

// CacheStats reports the path cache's current effectiveness; the façade
// pushes it to Prometheus on every statfs call.
func (r *Resolver) CacheStats() Stats {
	return r.cache.Stats()
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
		return ifserrors.New(ifserrors.KindInvalidName, "invalid entry name: "+name).WithComponent("resolver")
	}
	return nil
}

// Mkdir creates a new, empty directory named name inside parentID.
func (r *Resolver) Mkdir(ctx context.Context, parentID uint64, name string, perms uint32, uid, gid uint32) (*metadata.Inode, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	var created *metadata.Inode
	err := r.store.WithTx(ctx, func(tx *metadata.Tx) error {
		parent, err := tx.GetInode(ctx, parentID)
		if err != nil {
			return err
		}
		if parent.Kind != metadata.KindDirectory {
			return ifserrors.New(ifserrors.KindNotDirectory, "parent is not a directory").WithComponent("resolver")
		}
		if _, err := tx.LookupEntry(ctx, parentID, name); err == nil {
			return ifserrors.New(ifserrors.KindExists, "entry already exists: "+name).WithComponent("resolver")
		} else if !ifserrors.Is(err, ifserrors.KindNoEntry) {
			return err
		}

		now := metadata.Now()
		id, err := tx.CreateInode(ctx, &metadata.Inode{
			Kind: metadata.KindDirectory, Name: name, UID: uid, GID: gid, Perms: perms,
			AccessedAt: now, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		if err := tx.CreateEntry(ctx, parentID, id, name, metadata.KindDirectory); err != nil {
			return err
		}
		if err := tx.CreateEntry(ctx, id, id, ".", metadata.KindDirectory); err != nil {
			return err
		}
		if err := tx.CreateEntry(ctx, id, parentID, "..", metadata.KindDirectory); err != nil {
			return err
		}
		if r.changeJournal {
			if err := tx.AppendChange(ctx, id, 1, metadata.ChangeCreated, "", now); err != nil {
				return err
			}
		}
		created, err = tx.GetInode(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.cache.Invalidate(parentID, name)
	return created, nil
}

// Create creates a new, empty file named name inside parentID. The file has
// no body until the first flush through the blob pipeline.
func (r *Resolver) Create(ctx context.Context, parentID uint64, name string, perms uint32, uid, gid uint32) (*metadata.Inode, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	var created *metadata.Inode
	err := r.store.WithTx(ctx, func(tx *metadata.Tx) error {
		parent, err := tx.GetInode(ctx, parentID)
		if err != nil {
			return err
		}
		if parent.Kind != metadata.KindDirectory {
			return ifserrors.New(ifserrors.KindNotDirectory, "parent is not a directory").WithComponent("resolver")
		}
		if _, err := tx.LookupEntry(ctx, parentID, name); err == nil {
			return ifserrors.New(ifserrors.KindExists, "entry already exists: "+name).WithComponent("resolver")
		} else if !ifserrors.Is(err, ifserrors.KindNoEntry) {
			return err
		}

		now := metadata.Now()
		id, err := tx.CreateInode(ctx, &metadata.Inode{
			Kind: metadata.KindFile, Name: name, UID: uid, GID: gid, Perms: perms,
			AccessedAt: now, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		if err := tx.CreateEntry(ctx, parentID, id, name, metadata.KindFile); err != nil {
			return err
		}
		if r.changeJournal {
			if err := tx.AppendChange(ctx, id, 1, metadata.ChangeCreated, "", now); err != nil {
				return err
			}
		}
		created, err = tx.GetInode(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.cache.Invalidate(parentID, name)
	return created, nil
}

// objectName computes the blob object name a now-doomed inode's body is
// stored under, while its directory entry (needed for path-form naming)
// still exists. Must be called before the entry is deleted.
func (r *Resolver) objectName(ctx context.Context, tx *metadata.Tx, n *metadata.Inode) (string, error) {
	if n.SHA512 == "" {
		return "", nil
	}
	if r.useHashAsName {
		return n.SHA512, nil
	}
	return tx.PathOf(ctx, n.ID)
}

// Unlink removes a file entry. It refuses directories. If the inode's last
// referring entry was just removed, the returned Deleted value is non-nil
// and the caller (the façade) must run the blob pipeline's orphan body
// check against it after the transaction has committed.
func (r *Resolver) Unlink(ctx context.Context, parentID uint64, name string) (*Deleted, error) {
	var deleted *Deleted
	err := r.store.WithTx(ctx, func(tx *metadata.Tx) error {
		entry, err := tx.LookupEntry(ctx, parentID, name)
		if err != nil {
			return err
		}
		if entry.Kind == metadata.KindDirectory {
			return ifserrors.New(ifserrors.KindIsDirectory, "cannot unlink a directory").WithComponent("resolver")
		}
		inode, err := tx.GetInode(ctx, entry.EntryFileID)
		if err != nil {
			return err
		}
		objName, err := r.objectName(ctx, tx, inode)
		if err != nil {
			return err
		}
		if err := tx.DeleteEntry(ctx, parentID, name); err != nil {
			return err
		}
		refs, err := tx.CountReferences(ctx, inode.ID)
		if err != nil {
			return err
		}
		if refs == 0 {
			if err := tx.DeleteInode(ctx, inode.ID); err != nil {
				return err
			}
			if r.changeJournal {
				if err := tx.AppendChange(ctx, inode.ID, inode.Version, metadata.ChangeDeleted, inode.SHA512, metadata.Now()); err != nil {
					return err
				}
			}
			deleted = &Deleted{Inode: inode, ObjectName: objName}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.cache.Invalidate(parentID, name)
	return deleted, nil
}

// Rmdir removes an empty directory entry.
func (r *Resolver) Rmdir(ctx context.Context, parentID uint64, name string) error {
	err := r.store.WithTx(ctx, func(tx *metadata.Tx) error {
		entry, err := tx.LookupEntry(ctx, parentID, name)
		if err != nil {
			return err
		}
		if entry.Kind != metadata.KindDirectory {
			return ifserrors.New(ifserrors.KindNotDirectory, "not a directory").WithComponent("resolver")
		}
		n, err := tx.CountEntries(ctx, entry.EntryFileID)
		if err != nil {
			return err
		}
		if n > 0 {
			return ifserrors.New(ifserrors.KindNotEmpty, "directory not empty").WithComponent("resolver")
		}
		inode, err := tx.GetInode(ctx, entry.EntryFileID)
		if err != nil {
			return err
		}
		if err := tx.DeleteEntry(ctx, parentID, name); err != nil {
			return err
		}
		if err := tx.DeleteInode(ctx, inode.ID); err != nil {
			return err
		}
		if r.changeJournal {
			if err := tx.AppendChange(ctx, inode.ID, inode.Version, metadata.ChangeDeleted, "", metadata.Now()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.cache.Invalidate(parentID, name)
	return nil
}

// Rename moves (oldParentID, oldName) to (newParentID, newName). If the
// destination names an existing file and the source is also a file, the
// destination is atomically replaced; the replaced inode is returned via
// Deleted for the caller's post-commit orphan body check, exactly as in
// Unlink. A destination naming a directory always fails: NotEmpty if it has
// entries beyond "." and "..", Exists otherwise (InnerFS does not support
// merging or replacing directories via rename). A rename onto itself
// (identical parent and name) is a POSIX no-op: source and destination
// would resolve to the same directory entry, so it returns early rather
// than letting the overwrite branch below delete that entry out from
// under its own rename.
func (r *Resolver) Rename(ctx context.Context, oldParentID uint64, oldName string, newParentID uint64, newName string) (*Deleted, error) {
	if err := validateName(newName); err != nil {
		return nil, err
	}

	if oldParentID == newParentID && oldName == newName {
		return nil, nil
	}

	var deleted *Deleted
	err := r.store.WithTx(ctx, func(tx *metadata.Tx) error {
		srcEntry, err := tx.LookupEntry(ctx, oldParentID, oldName)
		if err != nil {
			return err
		}

		dstEntry, err := tx.LookupEntry(ctx, newParentID, newName)
		switch {
		case err == nil && dstEntry.Kind == metadata.KindDirectory:
			n, cerr := tx.CountEntries(ctx, dstEntry.EntryFileID)
			if cerr != nil {
				return cerr
			}
			if n > 0 {
				return ifserrors.New(ifserrors.KindNotEmpty, "rename target directory is not empty").WithComponent("resolver")
			}
			return ifserrors.New(ifserrors.KindExists, "rename target is a directory").WithComponent("resolver")
		case err == nil && srcEntry.Kind == metadata.KindDirectory:
			return ifserrors.New(ifserrors.KindExists, "cannot rename a directory onto a file").WithComponent("resolver")
		case err == nil:
			// File-over-file overwrite: look up the destination inode's body
			// object name before removing its directory entry and row, so the
			// caller's post-commit orphan check still has it.
			dstInode, gerr := tx.GetInode(ctx, dstEntry.EntryFileID)
			if gerr != nil {
				return gerr
			}
			objName, oerr := r.objectName(ctx, tx, dstInode)
			if oerr != nil {
				return oerr
			}
			// The directory entry at (newParentID, newName) still references
			// dstInode via entry_file_id; it must be cleared before the inode
			// row or the foreign key to files(id) rejects the delete.
			// RenameEntry below would clear it too, but only after this point.
			if derr := tx.DeleteEntry(ctx, newParentID, newName); derr != nil {
				return derr
			}
			if derr := tx.DeleteInode(ctx, dstInode.ID); derr != nil {
				return derr
			}
			if r.changeJournal {
				if derr := tx.AppendChange(ctx, dstInode.ID, dstInode.Version, metadata.ChangeDeleted, dstInode.SHA512, metadata.Now()); derr != nil {
					return derr
				}
			}
			deleted = &Deleted{Inode: dstInode, ObjectName: objName}
		case !ifserrors.Is(err, ifserrors.KindNoEntry):
			return err
		}

		if err := tx.RenameEntry(ctx, oldParentID, oldName, newParentID, newName); err != nil {
			return err
		}
		if err := tx.UpdateName(ctx, srcEntry.EntryFileID, newName); err != nil {
			return err
		}
		if srcEntry.Kind == metadata.KindDirectory && oldParentID != newParentID {
			if err := tx.UpdateDirSelfEntry(ctx, srcEntry.EntryFileID, newParentID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.cache.Invalidate(oldParentID, oldName)
	r.cache.Invalidate(newParentID, newName)
	return deleted, nil
}
