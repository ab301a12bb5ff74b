// Package blob implements the uniform object-storage contract InnerFS's
// replicated pipeline writes through, plus the four concrete backends the
// filesystem can be configured to use.
package blob

import (
	"context"

	ifserrors "github.com/innerfs/innerfs/pkg/errors"
)

// Backend is the flat object namespace every blob store variant implements.
// Names are either the hex SHA-512 of a body or a path derived from the
// inode's location, per the naming rule in the blob backend component.
type Backend interface {
	// Put writes name idempotently; overwriting an existing name is legal.
	Put(ctx context.Context, name string, data []byte) error
	// Get reads name, returning KindNoEntry if it does not exist.
	Get(ctx context.Context, name string) ([]byte, error)
	// Delete removes name; deleting an absent name is not an error.
	Delete(ctx context.Context, name string) error
	// Exists reports whether name is present.
	Exists(ctx context.Context, name string) (bool, error)
	// List yields every object name currently stored. Not required to
	// reflect concurrent writers; called only by nuke.
	List(ctx context.Context) ([]string, error)
	// Close releases any resources the backend holds open.
	Close() error
}

// SpaceReporter is implemented by backends that can report free space on
// their underlying medium. Statfs uses it on a best-effort basis;
// backends that cannot answer (S3, sqlar, the embedded KV store) simply
// don't implement it.
type SpaceReporter interface {
	FreeSpace(ctx context.Context) (bytes uint64, ok bool)
}

func notFound(component, name string) error {
	return ifserrors.New(ifserrors.KindNoEntry, "object not found").
		WithComponent(component).WithOp("Get").WithPath(name)
}
