package blob

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	ifserrors "github.com/innerfs/innerfs/pkg/errors"
	"github.com/innerfs/innerfs/pkg/utils"
)

// LocalBackend stores objects as files under a root directory. A name
// containing "/" creates the corresponding sub-directories, matching the
// local directory variant's contract.
type LocalBackend struct {
	root string
}

// NewLocalBackend opens (creating if necessary) root as the object store
// directory.
func NewLocalBackend(root string) (*LocalBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "create local backend root").WithComponent("blob.local")
	}
	return &LocalBackend{root: root}, nil
}

func (b *LocalBackend) resolve(name string) (string, error) {
	full, err := utils.SecureJoin(b.root, name)
	if err != nil {
		return "", ifserrors.Wrap(ifserrors.KindInvalidName, err, "object name escapes backend root").WithComponent("blob.local").WithPath(name)
	}
	return full, nil
}

func (b *LocalBackend) Put(ctx context.Context, name string, data []byte) error {
	path, err := b.resolve(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "create object directory").WithComponent("blob.local").WithPath(name)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "write object").WithComponent("blob.local").WithPath(name)
	}
	return nil
}

func (b *LocalBackend) Get(ctx context.Context, name string) ([]byte, error) {
	path, err := b.resolve(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, notFound("blob.local", name)
	}
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "read object").WithComponent("blob.local").WithPath(name)
	}
	return data, nil
}

func (b *LocalBackend) Delete(ctx context.Context, name string) error {
	path, err := b.resolve(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "delete object").WithComponent("blob.local").WithPath(name)
	}
	return nil
}

func (b *LocalBackend) Exists(ctx context.Context, name string) (bool, error) {
	path, err := b.resolve(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, ifserrors.Wrap(ifserrors.KindBackendIO, err, "stat object").WithComponent("blob.local").WithPath(name)
	}
	return true, nil
}

func (b *LocalBackend) List(ctx context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(b.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(b.root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "list objects").WithComponent("blob.local")
	}
	return names, nil
}

func (b *LocalBackend) Close() error { return nil }

// FreeSpace reports the free bytes on the filesystem backing root,
// satisfying blob.SpaceReporter. Statfs failures are treated as "unknown"
// rather than an error, matching the backend-best-effort contract.
func (b *LocalBackend) FreeSpace(ctx context.Context) (uint64, bool) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(b.root, &stat); err != nil {
		return 0, false
	}
	return stat.Bavail * uint64(stat.Bsize), true
}
