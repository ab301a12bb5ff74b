// Package handle implements the in-memory inode handle component: one
// whole-body buffer per open file, written to directly by read/write calls
// and flushed through the blob pipeline synchronously on release (or an
// explicit flush) rather than by a background goroutine.
package handle

import (
	"context"
	"sync"

	ifserrors "github.com/innerfs/innerfs/pkg/errors"
)

// FlushFunc persists a handle's current buffer as inodeID's body and reports
// only whether that succeeded. The façade supplies this as a
// thin wrapper around the blob pipeline's Flush.
type FlushFunc func(ctx context.Context, inodeID uint64, body []byte) error

// Handle is one open file: a whole-body buffer plus the dirty flag that
// governs whether Release (or Flush) has anything to write back.
type Handle struct {
	mu      sync.Mutex
	ID      uint64
	InodeID uint64
	Flags   int
	buf     []byte
	dirty   bool
}

// Read copies up to len(dst) bytes starting at offset into dst, returning
// the number of bytes copied. Reading past the end of the buffer is not an
// error; it simply returns fewer bytes (possibly zero at EOF).
func (h *Handle) Read(dst []byte, offset int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if offset < 0 {
		return 0, ifserrors.New(ifserrors.KindInvalidName, "negative read offset").WithComponent("handle")
	}
	if offset >= int64(len(h.buf)) {
		return 0, nil
	}
	n := copy(dst, h.buf[offset:])
	return n, nil
}

// Write copies src into the buffer at offset, growing it as needed, and
// marks the handle dirty.
func (h *Handle) Write(src []byte, offset int64) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if offset < 0 {
		return 0, ifserrors.New(ifserrors.KindInvalidName, "negative write offset").WithComponent("handle")
	}
	end := offset + int64(len(src))
	if end > int64(len(h.buf)) {
		grown := make([]byte, end)
		copy(grown, h.buf)
		h.buf = grown
	}
	copy(h.buf[offset:end], src)
	h.dirty = true
	return len(src), nil
}

// Truncate resizes the buffer to size, zero-filling any new bytes, and
// marks the handle dirty whenever the size actually changes.
func (h *Handle) Truncate(size int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if size < 0 {
		return ifserrors.New(ifserrors.KindInvalidName, "negative truncate size").WithComponent("handle")
	}
	if size == int64(len(h.buf)) {
		return nil
	}
	grown := make([]byte, size)
	copy(grown, h.buf)
	h.buf = grown
	h.dirty = true
	return nil
}

// Size returns the current buffer length.
func (h *Handle) Size() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.buf))
}

// Flush writes the buffer back through flush if the handle is dirty,
// clearing the dirty flag on success.
func (h *Handle) Flush(ctx context.Context, flush FlushFunc) error {
	h.mu.Lock()
	if !h.dirty {
		h.mu.Unlock()
		return nil
	}
	body := make([]byte, len(h.buf))
	copy(body, h.buf)
	h.mu.Unlock()

	if err := flush(ctx, h.InodeID, body); err != nil {
		return err
	}

	h.mu.Lock()
	h.dirty = false
	h.mu.Unlock()
	return nil
}

// Table tracks every currently open handle by a monotonically increasing
// id, the unit of identity FUSE's file handle numbers and the façade's
// open/read/write/flush/release calls operate on.
type Table struct {
	mu      sync.Mutex
	next    uint64
	handles map[uint64]*Handle
}

// NewTable creates an empty handle table.
func NewTable() *Table {
	return &Table{handles: make(map[uint64]*Handle)}
}

// Open creates a new handle seeded with body (the inode's current content,
// read once through the blob pipeline by the façade) and returns it.
func (t *Table) Open(inodeID uint64, body []byte, flags int) *Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	h := &Handle{ID: t.next, InodeID: inodeID, Flags: flags, buf: append([]byte(nil), body...)}
	t.handles[h.ID] = h
	return h
}

// Lookup returns any currently open handle for inodeID, or nil if the
// inode has no open handle. When more than one handle is open on the same
// inode (two concurrent opens) it returns whichever is found first; callers
// that need every handle for a truncate-on-all-opens semantic are expected
// to track that themselves, which no caller in this codebase does since
// InnerFS does not support concurrent multi-writer access to one inode.
func (t *Table) Lookup(inodeID uint64) *Handle {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, h := range t.handles {
		if h.InodeID == inodeID {
			return h
		}
	}
	return nil
}

// Get returns the open handle with id, or KindNoEntry if it isn't open.
func (t *Table) Get(id uint64) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.handles[id]
	if !ok {
		return nil, ifserrors.New(ifserrors.KindNoEntry, "no such open handle").WithComponent("handle")
	}
	return h, nil
}

// Release flushes h if dirty, then removes it from the table. This is the
// only place a handle's buffer is written back automatically; there is no
// background flush loop.
func (t *Table) Release(ctx context.Context, id uint64, flush FlushFunc) error {
	h, err := t.Get(id)
	if err != nil {
		return err
	}
	if err := h.Flush(ctx, flush); err != nil {
		return err
	}

	t.mu.Lock()
	delete(t.handles, id)
	t.mu.Unlock()
	return nil
}

// Count returns the number of currently open handles, used by stats.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.handles)
}
