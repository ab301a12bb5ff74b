package fuseadapter

import (
	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	innerfs "github.com/innerfs/innerfs/internal/filesystem"
	"github.com/innerfs/innerfs/pkg/logging"
)

// MountOptions carries the subset of kernel mount options InnerFS exposes;
// direct IO, read-ahead window and cache TTL tuning have no analog here.
type MountOptions struct {
	AllowOther bool
	ReadOnly   bool
	FSName     string
	Debug      bool
}

func fuseMountOptions(opts MountOptions) fuse.MountOptions {
	fsName := opts.FSName
	if fsName == "" {
		fsName = "innerfs"
	}
	return fuse.MountOptions{
		AllowOther: opts.AllowOther,
		FsName:     fsName,
		Name:       "innerfs",
		Debug:      opts.Debug,
	}
}

// Mount mounts facade at mountpoint and blocks until the kernel unmounts it
// or Unmount is called on the returned server. The kernel always assigns
// the root node inode number 1, which already matches metadata.RootID, so
// no explicit StableAttr is needed for the root.
func Mount(mountpoint string, facade *innerfs.Facade, log *logging.Logger, opts MountOptions) (*fuse.Server, error) {
	root := New(facade, log)
	options := &fs.Options{MountOptions: fuseMountOptions(opts)}
	if opts.ReadOnly {
		options.MountOptions.Options = append(options.MountOptions.Options, "ro")
	}
	return fs.Mount(mountpoint, root, options)
}
