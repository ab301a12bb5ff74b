package metadata

import (
	"context"
	"path/filepath"
	"testing"

	ifserrors "github.com/innerfs/innerfs/pkg/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "innerfs.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesRoot(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	root, err := s.GetInode(ctx, RootID)
	if err != nil {
		t.Fatalf("GetInode(root) error = %v", err)
	}
	if root.Kind != KindDirectory || root.Name != "/" {
		t.Errorf("root = %+v, want kind=directory name=/", root)
	}

	self, err := s.LookupEntry(ctx, RootID, ".")
	if err != nil || self.EntryFileID != RootID {
		t.Errorf("LookupEntry(root, .) = %+v, %v, want self-reference", self, err)
	}
	parent, err := s.LookupEntry(ctx, RootID, "..")
	if err != nil || parent.EntryFileID != RootID {
		t.Errorf("LookupEntry(root, ..) = %+v, %v, want self-reference", parent, err)
	}
}

func TestCreateInodeAndEntry(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := Now()

	var childID uint64
	err := s.WithTx(ctx, func(tx *Tx) error {
		id, err := tx.CreateInode(ctx, &Inode{
			Kind: KindFile, Name: "a.txt", Perms: 0o644,
			AccessedAt: now, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		childID = id
		return tx.CreateEntry(ctx, RootID, id, "a.txt", KindFile)
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}

	entry, err := s.LookupEntry(ctx, RootID, "a.txt")
	if err != nil {
		t.Fatalf("LookupEntry() error = %v", err)
	}
	if entry.EntryFileID != childID {
		t.Errorf("entry.EntryFileID = %d, want %d", entry.EntryFileID, childID)
	}

	entries, err := s.ListDir(ctx, RootID)
	if err != nil {
		t.Fatalf("ListDir() error = %v", err)
	}
	if len(entries) != 3 { // ., .., a.txt
		t.Errorf("ListDir() returned %d entries, want 3", len(entries))
	}
}

func TestLookupEntryMissing(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.LookupEntry(ctx, RootID, "nope")
	if !ifserrors.Is(err, ifserrors.KindNoEntry) {
		t.Errorf("LookupEntry(missing) error = %v, want KindNoEntry", err)
	}
}

func TestPersistentSettingsImmutable(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SetSettingOnce(ctx, "storage_backend", "local"); err != nil {
		t.Fatalf("SetSettingOnce() error = %v", err)
	}
	if err := s.SetSettingOnce(ctx, "storage_backend", "local"); err != nil {
		t.Errorf("re-writing the same value should succeed, got %v", err)
	}
	if err := s.SetSettingOnce(ctx, "storage_backend", "s3"); !ifserrors.Is(err, ifserrors.KindIncompatibleConfig) {
		t.Errorf("re-writing a different value error = %v, want KindIncompatibleConfig", err)
	}

	value, ok, err := s.GetSetting(ctx, "storage_backend")
	if err != nil || !ok || value != "local" {
		t.Errorf("GetSetting() = (%q, %v, %v), want (local, true, nil)", value, ok, err)
	}
}

func TestDedupTwin(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := Now()

	var firstID, secondID uint64
	err := s.WithTx(ctx, func(tx *Tx) error {
		id, err := tx.CreateInode(ctx, &Inode{
			Kind: KindFile, Name: "x", Perms: 0o644, SHA512: "deadbeef", Size: 4,
			AccessedAt: now, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		firstID = id
		return tx.CreateEntry(ctx, RootID, id, "x", KindFile)
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}

	err = s.WithTx(ctx, func(tx *Tx) error {
		id, err := tx.CreateInode(ctx, &Inode{
			Kind: KindFile, Name: "y", Perms: 0o644,
			AccessedAt: now, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		secondID = id
		if err := tx.CreateEntry(ctx, RootID, id, "y", KindFile); err != nil {
			return err
		}

		twin, err := tx.FindDedupTwin(ctx, "deadbeef", 4, "", id)
		if err != nil {
			return err
		}
		if twin == nil || twin.ID != firstID {
			t.Errorf("FindDedupTwin() = %v, want inode %d", twin, firstID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}
	_ = secondID
}

func TestCountReferencesAndEntries(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := Now()

	var dirID uint64
	err := s.WithTx(ctx, func(tx *Tx) error {
		id, err := tx.CreateInode(ctx, &Inode{
			Kind: KindDirectory, Name: "sub", Perms: 0o755,
			AccessedAt: now, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		dirID = id
		if err := tx.CreateEntry(ctx, RootID, id, "sub", KindDirectory); err != nil {
			return err
		}
		if err := tx.CreateEntry(ctx, id, id, ".", KindDirectory); err != nil {
			return err
		}
		return tx.CreateEntry(ctx, id, RootID, "..", KindDirectory)
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}

	err = s.WithTx(ctx, func(tx *Tx) error {
		n, err := tx.CountEntries(ctx, dirID)
		if err != nil {
			return err
		}
		if n != 0 {
			t.Errorf("CountEntries(empty dir) = %d, want 0", n)
		}
		refs, err := tx.CountReferences(ctx, dirID)
		if err != nil {
			return err
		}
		if refs != 1 { // the "sub" entry in root; its own "." doesn't count
			t.Errorf("CountReferences() = %d, want 1", refs)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}
}

func TestRenameEntry(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := Now()

	var childID uint64
	err := s.WithTx(ctx, func(tx *Tx) error {
		id, err := tx.CreateInode(ctx, &Inode{
			Kind: KindFile, Name: "a", Perms: 0o644,
			AccessedAt: now, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		childID = id
		return tx.CreateEntry(ctx, RootID, id, "a", KindFile)
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}

	err = s.WithTx(ctx, func(tx *Tx) error {
		return tx.RenameEntry(ctx, RootID, "a", RootID, "b")
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}

	if _, err := s.LookupEntry(ctx, RootID, "a"); !ifserrors.Is(err, ifserrors.KindNoEntry) {
		t.Errorf("LookupEntry(old name) error = %v, want KindNoEntry", err)
	}
	entry, err := s.LookupEntry(ctx, RootID, "b")
	if err != nil || entry.EntryFileID != childID {
		t.Errorf("LookupEntry(new name) = %+v, %v, want entry for %d", entry, err, childID)
	}
}

func TestFileTotalsAndAllFiles(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := Now()

	err := s.WithTx(ctx, func(tx *Tx) error {
		for _, name := range []string{"a", "b"} {
			id, err := tx.CreateInode(ctx, &Inode{
				Kind: KindFile, Name: name, Perms: 0o644, Size: 10,
				AccessedAt: now, CreatedAt: now, UpdatedAt: now,
			})
			if err != nil {
				return err
			}
			if err := tx.CreateEntry(ctx, RootID, id, name, KindFile); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}

	totals, err := s.FileTotals(ctx)
	if err != nil {
		t.Fatalf("FileTotals() error = %v", err)
	}
	if totals.Count != 2 || totals.Bytes != 20 {
		t.Errorf("FileTotals() = %+v, want count=2 bytes=20", totals)
	}

	files, err := s.AllFiles(ctx)
	if err != nil {
		t.Fatalf("AllFiles() error = %v", err)
	}
	if len(files) != 2 {
		t.Errorf("AllFiles() returned %d inodes, want 2", len(files))
	}
}

func TestNukeReinitializesRoot(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()
	now := Now()

	err := s.WithTx(ctx, func(tx *Tx) error {
		id, err := tx.CreateInode(ctx, &Inode{
			Kind: KindFile, Name: "gone", Perms: 0o644,
			AccessedAt: now, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		return tx.CreateEntry(ctx, RootID, id, "gone", KindFile)
	})
	if err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}

	if err := s.Nuke(ctx); err != nil {
		t.Fatalf("Nuke() error = %v", err)
	}

	root, err := s.GetInode(ctx, RootID)
	if err != nil || root.Kind != KindDirectory || root.Name != "/" {
		t.Errorf("GetInode(root) after Nuke = %+v, %v, want fresh root", root, err)
	}
	if _, err := s.LookupEntry(ctx, RootID, "gone"); !ifserrors.Is(err, ifserrors.KindNoEntry) {
		t.Errorf("LookupEntry(gone) after Nuke error = %v, want KindNoEntry", err)
	}
	self, err := s.LookupEntry(ctx, RootID, ".")
	if err != nil || self.EntryFileID != RootID {
		t.Errorf("LookupEntry(root, .) after Nuke = %+v, %v, want self-reference", self, err)
	}
}
