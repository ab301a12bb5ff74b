// Package metadata implements the SQLite-backed inode and directory store
// described by the metadata store component: one row per inode, one row per
// directory link, an optional append-only change journal, and a table of
// one-time persistent settings.
package metadata

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlite3migrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	ifserrors "github.com/innerfs/innerfs/pkg/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// RootID is the inode id of the filesystem root. It is never reused and its
// directory entry's ".." always points back to itself.
const RootID uint64 = 1

// Kind distinguishes a file inode from a directory inode.
type Kind uint8

const (
	KindFile      Kind = 0
	KindDirectory Kind = 1
)

// Inode is a row of the files table.
type Inode struct {
	ID            uint64
	Version       uint64
	Kind          Kind
	Name          string
	UID           uint32
	GID           uint32
	Perms         uint32
	Size          int64
	SHA512        string
	EncryptionKey string
	Compression   string
	AccessedAt    int64
	CreatedAt     int64
	UpdatedAt     int64
}

// DirEntry is a row of the directory_entry table.
type DirEntry struct {
	ID              uint64
	DirectoryFileID uint64
	EntryFileID     uint64
	Name            string
	Kind            Kind
}

// ChangeKind enumerates the change journal's kind column.
type ChangeKind uint8

const (
	ChangeCreated ChangeKind = 0
	ChangeUpdated ChangeKind = 1
	ChangeDeleted ChangeKind = 2
)

// Store wraps the SQLite connection and exposes the query set the name
// resolver, façade and blob pipeline need.
type Store struct {
	db *sql.DB
}

// execer is satisfied by both *sql.DB and *sql.Tx, letting every query
// helper below run either standalone or inside a façade transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens (creating if necessary) the SQLite database at path, enables
// WAL mode and foreign keys, and migrates the schema forward to the latest
// version. Downgrade is not supported.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "open sqlite database").WithComponent("metadata")
	}
	db.SetMaxOpenConns(1)

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	srcDriver, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "load embedded migrations").WithComponent("metadata")
	}
	dbDriver, err := sqlite3migrate.WithInstance(db, &sqlite3migrate.Config{MigrationsTable: "migrations"})
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "attach migration driver").WithComponent("metadata")
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "sqlite3", dbDriver)
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "build migrator").WithComponent("metadata")
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "apply migrations").WithComponent("metadata")
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a single transaction, matching the façade's
// one-transaction-per-call contract. fn receives a *Tx bound to that
// transaction; the transaction commits if fn returns nil and rolls back
// otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "begin transaction").WithComponent("metadata")
	}
	if err := fn(&Tx{db: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "commit transaction").WithComponent("metadata")
	}
	return nil
}

// Tx is a metadata transaction, passed to the callback given to WithTx.
type Tx struct {
	db *sql.Tx
}

// GetInode fetches a single inode by id.
func (s *Store) GetInode(ctx context.Context, id uint64) (*Inode, error) {
	return getInode(ctx, s.db, id)
}

// GetInode fetches a single inode by id inside the transaction.
func (t *Tx) GetInode(ctx context.Context, id uint64) (*Inode, error) {
	return getInode(ctx, t.db, id)
}

func getInode(ctx context.Context, q execer, id uint64) (*Inode, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, version, kind, name, uid, gid, perms, size, sha512,
		       encryption_key, compression, accessed_at, created_at, updated_at
		FROM files WHERE id = ?`, id)
	return scanInode(row)
}

func scanInode(row *sql.Row) (*Inode, error) {
	var n Inode
	var kind int
	err := row.Scan(&n.ID, &n.Version, &kind, &n.Name, &n.UID, &n.GID, &n.Perms,
		&n.Size, &n.SHA512, &n.EncryptionKey, &n.Compression,
		&n.AccessedAt, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ifserrors.New(ifserrors.KindNoEntry, "no such inode").WithComponent("metadata")
	}
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "scan inode").WithComponent("metadata")
	}
	n.Kind = Kind(kind)
	return &n, nil
}

// AllFiles returns every file inode (not directories) ordered by id, for the
// export and verify CLI subcommands that walk the whole repository's bodies.
func (s *Store) AllFiles(ctx context.Context) ([]*Inode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, version, kind, name, uid, gid, perms, size, sha512,
		       encryption_key, compression, accessed_at, created_at, updated_at
		FROM files WHERE kind = ? ORDER BY id`, KindFile)
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "list file inodes").WithComponent("metadata")
	}
	defer rows.Close()

	var out []*Inode
	for rows.Next() {
		var n Inode
		var kind int
		if err := rows.Scan(&n.ID, &n.Version, &kind, &n.Name, &n.UID, &n.GID, &n.Perms,
			&n.Size, &n.SHA512, &n.EncryptionKey, &n.Compression,
			&n.AccessedAt, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "scan inode").WithComponent("metadata")
		}
		n.Kind = Kind(kind)
		out = append(out, &n)
	}
	return out, rows.Err()
}

// LookupEntry finds the directory entry named name inside directory dirID.
func (s *Store) LookupEntry(ctx context.Context, dirID uint64, name string) (*DirEntry, error) {
	return lookupEntry(ctx, s.db, dirID, name)
}

func (t *Tx) LookupEntry(ctx context.Context, dirID uint64, name string) (*DirEntry, error) {
	return lookupEntry(ctx, t.db, dirID, name)
}

func lookupEntry(ctx context.Context, q execer, dirID uint64, name string) (*DirEntry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, directory_file_id, entry_file_id, name, kind
		FROM directory_entry WHERE directory_file_id = ? AND name = ?`, dirID, name)
	var e DirEntry
	var kind int
	err := row.Scan(&e.ID, &e.DirectoryFileID, &e.EntryFileID, &e.Name, &kind)
	if err == sql.ErrNoRows {
		return nil, ifserrors.New(ifserrors.KindNoEntry, "no such directory entry").WithComponent("metadata")
	}
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "scan directory entry").WithComponent("metadata")
	}
	e.Kind = Kind(kind)
	return &e, nil
}

// ListDir enumerates every entry (including "." and "..") inside dirID. The
// order is stable across calls for a given database state but is not
// required to be alphabetical.
func (s *Store) ListDir(ctx context.Context, dirID uint64) ([]DirEntry, error) {
	return listDir(ctx, s.db, dirID)
}

func (t *Tx) ListDir(ctx context.Context, dirID uint64) ([]DirEntry, error) {
	return listDir(ctx, t.db, dirID)
}

func listDir(ctx context.Context, q execer, dirID uint64) ([]DirEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, directory_file_id, entry_file_id, name, kind
		FROM directory_entry WHERE directory_file_id = ? ORDER BY id`, dirID)
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "list directory").WithComponent("metadata")
	}
	defer rows.Close()

	var entries []DirEntry
	for rows.Next() {
		var e DirEntry
		var kind int
		if err := rows.Scan(&e.ID, &e.DirectoryFileID, &e.EntryFileID, &e.Name, &kind); err != nil {
			return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "scan directory entry").WithComponent("metadata")
		}
		e.Kind = Kind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountEntries counts the non-self entries inside dirID, used by rmdir to
// enforce the directory-must-be-empty invariant.
func (t *Tx) CountEntries(ctx context.Context, dirID uint64) (int, error) {
	var n int
	err := t.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM directory_entry
		WHERE directory_file_id = ? AND name NOT IN ('.', '..')`, dirID).Scan(&n)
	if err != nil {
		return 0, ifserrors.Wrap(ifserrors.KindBackendIO, err, "count directory entries").WithComponent("metadata")
	}
	return n, nil
}

// CountReferences counts directory entries other than "." pointing at
// fileID, used to decide whether an inode is orphaned (unreferenced except
// by its own self-entry) and can be garbage collected.
func (t *Tx) CountReferences(ctx context.Context, fileID uint64) (int, error) {
	var n int
	err := t.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM directory_entry
		WHERE entry_file_id = ? AND NOT (directory_file_id = ? AND name = '.')`, fileID, fileID).Scan(&n)
	if err != nil {
		return 0, ifserrors.Wrap(ifserrors.KindBackendIO, err, "count references").WithComponent("metadata")
	}
	return n, nil
}

// FindDedupTwin looks for another inode already storing the same plaintext
// body under the same codec with no encryption key, per the replicated blob
// pipeline's dedup rule. excludeID is skipped so an inode is never proposed
// as its own twin.
func (t *Tx) FindDedupTwin(ctx context.Context, sha512 string, size int64, compression string, excludeID uint64) (*Inode, error) {
	row := t.db.QueryRowContext(ctx, `
		SELECT id, version, kind, name, uid, gid, perms, size, sha512,
		       encryption_key, compression, accessed_at, created_at, updated_at
		FROM files
		WHERE sha512 = ? AND size = ? AND compression = ? AND encryption_key = '' AND id != ?
		LIMIT 1`, sha512, size, compression, excludeID)
	n, err := scanInode(row)
	if ifserrors.Is(err, ifserrors.KindNoEntry) {
		return nil, nil
	}
	return n, err
}

// CountBodyReferences counts live inodes (other than excludeID) whose body
// identity matches (sha512, encryptionKey, compression), used by the orphan
// body check after an inode's content changes or is deleted.
func (t *Tx) CountBodyReferences(ctx context.Context, sha512, encryptionKey, compression string, excludeID uint64) (int, error) {
	return countBodyReferences(ctx, t.db, sha512, encryptionKey, compression, excludeID)
}

// CountBodyReferences is the Store-level (post-commit) counterpart of
// Tx.CountBodyReferences, used by the replicated blob pipeline's orphan
// check after the deleting transaction has already committed.
func (s *Store) CountBodyReferences(ctx context.Context, sha512, encryptionKey, compression string, excludeID uint64) (int, error) {
	return countBodyReferences(ctx, s.db, sha512, encryptionKey, compression, excludeID)
}

func countBodyReferences(ctx context.Context, q execer, sha512, encryptionKey, compression string, excludeID uint64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM files
		WHERE sha512 = ? AND encryption_key = ? AND compression = ? AND id != ?`,
		sha512, encryptionKey, compression, excludeID).Scan(&n)
	if err != nil {
		return 0, ifserrors.Wrap(ifserrors.KindBackendIO, err, "count body references").WithComponent("metadata")
	}
	return n, nil
}

// FindParentEntry returns the single non-self directory entry that
// references fileID — the (parent, name) a file or directory is linked
// under. InnerFS has no hard links, so this is always unique for a live
// inode other than the root.
func (t *Tx) FindParentEntry(ctx context.Context, fileID uint64) (*DirEntry, error) {
	return findParentEntry(ctx, t.db, fileID)
}

func (s *Store) FindParentEntry(ctx context.Context, fileID uint64) (*DirEntry, error) {
	return findParentEntry(ctx, s.db, fileID)
}

func findParentEntry(ctx context.Context, q execer, fileID uint64) (*DirEntry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, directory_file_id, entry_file_id, name, kind
		FROM directory_entry
		WHERE entry_file_id = ? AND name NOT IN ('.', '..') LIMIT 1`, fileID)
	var e DirEntry
	var kind int
	err := row.Scan(&e.ID, &e.DirectoryFileID, &e.EntryFileID, &e.Name, &kind)
	if err == sql.ErrNoRows {
		return nil, ifserrors.New(ifserrors.KindNoEntry, "inode has no parent entry").WithComponent("metadata")
	}
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "scan parent entry").WithComponent("metadata")
	}
	e.Kind = Kind(kind)
	return &e, nil
}

// PathOf reconstructs the full, leading-slash-stripped path of inode id by
// walking FindParentEntry up to the root, for the path-form blob naming
// variant. The root itself has path "".
func (t *Tx) PathOf(ctx context.Context, id uint64) (string, error) {
	return pathOf(ctx, t.db, id)
}

func (s *Store) PathOf(ctx context.Context, id uint64) (string, error) {
	return pathOf(ctx, s.db, id)
}

func pathOf(ctx context.Context, q execer, id uint64) (string, error) {
	if id == RootID {
		return "", nil
	}
	var parts []string
	cur := id
	for i := 0; i < 4096; i++ {
		entry, err := findParentEntry(ctx, q, cur)
		if err != nil {
			return "", err
		}
		parts = append(parts, entry.Name)
		if entry.DirectoryFileID == RootID {
			break
		}
		cur = entry.DirectoryFileID
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/"), nil
}

// UpdateName changes an inode's basename, used by rename to keep the inode
// row's name attribute synchronized with the directory entry that links it.
func (t *Tx) UpdateName(ctx context.Context, id uint64, name string) error {
	_, err := t.db.ExecContext(ctx, `UPDATE files SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "update inode name").WithComponent("metadata")
	}
	return nil
}

// CreateInode inserts a new inode row at version 1 and returns the id SQLite
// assigns to it. files.id is declared AUTOINCREMENT, so ids are monotonic
// and never reused.
func (t *Tx) CreateInode(ctx context.Context, n *Inode) (uint64, error) {
	res, err := t.db.ExecContext(ctx, `
		INSERT INTO files (version, kind, name, uid, gid, perms, size, sha512,
		                    encryption_key, compression, accessed_at, created_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.Kind, n.Name, n.UID, n.GID, n.Perms, n.Size, n.SHA512,
		n.EncryptionKey, n.Compression, n.AccessedAt, n.CreatedAt, n.UpdatedAt)
	if err != nil {
		return 0, ifserrors.Wrap(ifserrors.KindBackendIO, err, "insert inode").WithComponent("metadata")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, ifserrors.Wrap(ifserrors.KindBackendIO, err, "read inserted inode id").WithComponent("metadata")
	}
	return uint64(id), nil
}

// CreateEntry links childID into dirID under name.
func (t *Tx) CreateEntry(ctx context.Context, dirID, childID uint64, name string, kind Kind) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO directory_entry (directory_file_id, entry_file_id, name, kind)
		VALUES (?, ?, ?, ?)`, dirID, childID, name, kind)
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "insert directory entry").WithComponent("metadata")
	}
	return nil
}

// DeleteEntry removes the entry named name from dirID.
func (t *Tx) DeleteEntry(ctx context.Context, dirID uint64, name string) error {
	_, err := t.db.ExecContext(ctx, `
		DELETE FROM directory_entry WHERE directory_file_id = ? AND name = ?`, dirID, name)
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "delete directory entry").WithComponent("metadata")
	}
	return nil
}

// RenameEntry moves the entry named oldName in oldDirID to newName in
// newDirID, replacing any entry already occupying the destination slot
// (the caller is expected to have already validated the NotEmpty rule for
// directory targets).
func (t *Tx) RenameEntry(ctx context.Context, oldDirID uint64, oldName string, newDirID uint64, newName string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM directory_entry WHERE directory_file_id = ? AND name = ?`, newDirID, newName)
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "clear rename destination").WithComponent("metadata")
	}
	_, err = t.db.ExecContext(ctx, `
		UPDATE directory_entry SET directory_file_id = ?, name = ?
		WHERE directory_file_id = ? AND name = ?`, newDirID, newName, oldDirID, oldName)
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "move directory entry").WithComponent("metadata")
	}
	return nil
}

// UpdateDirSelfEntry repoints a moved directory's ".." entry to newParentID.
// The directory's "." entry is keyed by the directory's own id and does not
// change on a move.
func (t *Tx) UpdateDirSelfEntry(ctx context.Context, dirID, newParentID uint64) error {
	_, err := t.db.ExecContext(ctx, `
		UPDATE directory_entry SET entry_file_id = ? WHERE directory_file_id = ? AND name = '..'`,
		newParentID, dirID)
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "repoint parent entry").WithComponent("metadata")
	}
	return nil
}

// DeleteInode removes the inode row itself, first deleting every directory
// entry stored under it (for a directory, its own "." and ".." entries). The
// caller must already have removed the parent's entry pointing at it.
func (t *Tx) DeleteInode(ctx context.Context, id uint64) error {
	if _, err := t.db.ExecContext(ctx, `DELETE FROM directory_entry WHERE directory_file_id = ?`, id); err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "delete self entries").WithComponent("metadata")
	}
	if _, err := t.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "delete inode").WithComponent("metadata")
	}
	return nil
}

// UpdateBody bumps an inode's body identity and version after a flush.
func (t *Tx) UpdateBody(ctx context.Context, id uint64, sha512 string, size int64, encryptionKey, compression string, now int64) error {
	_, err := t.db.ExecContext(ctx, `
		UPDATE files SET sha512 = ?, size = ?, encryption_key = ?, compression = ?,
		                  version = version + 1, updated_at = ?
		WHERE id = ?`, sha512, size, encryptionKey, compression, now, id)
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "update inode body").WithComponent("metadata")
	}
	return nil
}

// Attrs carries the subset of inode fields setattr can modify.
type Attrs struct {
	UID, GID, Perms *uint32
	Size            *int64
	AccessedAt      *int64
	ModifiedAt      *int64
}

// UpdateAttrs applies a sparse attribute change, bumping version only when
// mode or ownership (not just timestamps) changes, per the inode's version
// invariant.
func (t *Tx) UpdateAttrs(ctx context.Context, id uint64, a Attrs, now int64) error {
	bumpVersion := a.UID != nil || a.GID != nil || a.Perms != nil
	n, err := t.GetInode(ctx, id)
	if err != nil {
		return err
	}
	if a.UID != nil {
		n.UID = *a.UID
	}
	if a.GID != nil {
		n.GID = *a.GID
	}
	if a.Perms != nil {
		n.Perms = *a.Perms
	}
	if a.Size != nil {
		n.Size = *a.Size
	}
	if a.AccessedAt != nil {
		n.AccessedAt = *a.AccessedAt
	}
	version := n.Version
	if bumpVersion {
		version++
	}
	updatedAt := n.UpdatedAt
	if a.ModifiedAt != nil {
		updatedAt = *a.ModifiedAt
	}
	_, err = t.db.ExecContext(ctx, `
		UPDATE files SET uid = ?, gid = ?, perms = ?, size = ?, accessed_at = ?,
		                 version = ?, updated_at = ?
		WHERE id = ?`, n.UID, n.GID, n.Perms, n.Size, n.AccessedAt, version, updatedAt, id)
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "update inode attrs").WithComponent("metadata")
	}
	return nil
}

// AppendChange records a change journal row. Called only when the change
// journal feature toggle is enabled.
func (t *Tx) AppendChange(ctx context.Context, fileID, fileVersion uint64, kind ChangeKind, sha512 string, changedAt int64) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO file_changes (file_id, file_version, kind, file_sha512, changed_at)
		VALUES (?, ?, ?, ?, ?)`, fileID, fileVersion, kind, sha512, changedAt)
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "append change journal entry").WithComponent("metadata")
	}
	return nil
}

// Totals summarizes every file inode for the statfs operation.
type Totals struct {
	Count uint64
	Bytes int64
}

// FileTotals sums size across every file inode (directories contribute
// nothing, per the inode invariant that a directory's size is always 0).
func (s *Store) FileTotals(ctx context.Context) (Totals, error) {
	var t Totals
	var bytes sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(size) FROM files WHERE kind = ?`, KindFile).Scan(&t.Count, &bytes)
	if err != nil {
		return Totals{}, ifserrors.Wrap(ifserrors.KindBackendIO, err, "sum file totals").WithComponent("metadata")
	}
	t.Bytes = bytes.Int64
	return t, nil
}

// Nuke truncates every table and reinitializes the schema's root inode and
// its self directory entries, exactly as migration 0001 does on a fresh
// database. Used only by the nuke CLI subcommand after it has already
// cleared every configured blob backend.
func (s *Store) Nuke(ctx context.Context) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		for _, stmt := range []string{
			`DELETE FROM file_changes`,
			`DELETE FROM directory_entry`,
			`DELETE FROM files`,
			`DELETE FROM persistent_settings`,
		} {
			if _, err := tx.db.ExecContext(ctx, stmt); err != nil {
				return ifserrors.Wrap(ifserrors.KindBackendIO, err, "truncate table").WithComponent("metadata")
			}
		}
		now := Now()
		if _, err := tx.db.ExecContext(ctx, `
			INSERT INTO files (id, version, kind, name, uid, gid, perms, size, accessed_at, created_at, updated_at)
			VALUES (1, 1, 1, '/', 0, 0, 493, 0, ?, ?, ?)`, now, now, now); err != nil {
			return ifserrors.Wrap(ifserrors.KindBackendIO, err, "reinsert root inode").WithComponent("metadata")
		}
		if _, err := tx.db.ExecContext(ctx, `
			INSERT INTO directory_entry (directory_file_id, entry_file_id, name, kind) VALUES (1, 1, '.', 1)`); err != nil {
			return ifserrors.Wrap(ifserrors.KindBackendIO, err, "reinsert root self entry").WithComponent("metadata")
		}
		if _, err := tx.db.ExecContext(ctx, `
			INSERT INTO directory_entry (directory_file_id, entry_file_id, name, kind) VALUES (1, 1, '..', 1)`); err != nil {
			return ifserrors.Wrap(ifserrors.KindBackendIO, err, "reinsert root parent entry").WithComponent("metadata")
		}
		return nil
	})
}

// GetSetting reads a persistent setting, returning ok=false if unset.
func (s *Store) GetSetting(ctx context.Context, key string) (value string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM persistent_settings WHERE key = ?`, key)
	err = row.Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, ifserrors.Wrap(ifserrors.KindBackendIO, err, "read persistent setting").WithComponent("metadata")
	}
	return value, true, nil
}

// SetSettingOnce writes a persistent setting if and only if it is not
// already set, per the "immutable after first write" invariant. It returns
// KindIncompatibleConfig if the key is already present with a different value.
func (s *Store) SetSettingOnce(ctx context.Context, key, value string) error {
	existing, ok, err := s.GetSetting(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		if existing != value {
			return ifserrors.New(ifserrors.KindIncompatibleConfig,
				fmt.Sprintf("persistent setting %q already locked to %q", key, existing)).WithComponent("metadata")
		}
		return nil
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO persistent_settings (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "write persistent setting").WithComponent("metadata")
	}
	return nil
}

// AllSettings returns every persistent setting.
func (s *Store) AllSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM persistent_settings`)
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "list persistent settings").WithComponent("metadata")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "scan persistent setting").WithComponent("metadata")
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Now returns the current unix second timestamp used to stamp inode rows.
// It is a plain function reading the system clock.
func Now() int64 { return time.Now().Unix() }
