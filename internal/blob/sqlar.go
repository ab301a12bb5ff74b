package blob

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	ifserrors "github.com/innerfs/innerfs/pkg/errors"
)

// SQLArBackend stores one row per object in a SQLite table, body stored
// uncompressed at the backend level (the codec chain already did any
// compression or encryption before the bytes reach here).
type SQLArBackend struct {
	db *sql.DB
}

// NewSQLArBackend opens (creating if necessary) path as a SQLite blob table
// store, independent of the metadata store's own database file.
func NewSQLArBackend(path string) (*SQLArBackend, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "open sqlar database").WithComponent("blob.sqlar")
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS blobs (
		name TEXT PRIMARY KEY,
		body BLOB NOT NULL,
		size INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "create blobs table").WithComponent("blob.sqlar")
	}
	return &SQLArBackend{db: db}, nil
}

func (b *SQLArBackend) Put(ctx context.Context, name string, data []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO blobs (name, body, size) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, size = excluded.size`,
		name, data, len(data))
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "put").WithComponent("blob.sqlar").WithPath(name)
	}
	return nil
}

func (b *SQLArBackend) Get(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := b.db.QueryRowContext(ctx, `SELECT body FROM blobs WHERE name = ?`, name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, notFound("blob.sqlar", name)
	}
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "get").WithComponent("blob.sqlar").WithPath(name)
	}
	return data, nil
}

func (b *SQLArBackend) Delete(ctx context.Context, name string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM blobs WHERE name = ?`, name)
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "delete").WithComponent("blob.sqlar").WithPath(name)
	}
	return nil
}

func (b *SQLArBackend) Exists(ctx context.Context, name string) (bool, error) {
	var one int
	err := b.db.QueryRowContext(ctx, `SELECT 1 FROM blobs WHERE name = ?`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, ifserrors.Wrap(ifserrors.KindBackendIO, err, "exists").WithComponent("blob.sqlar").WithPath(name)
	}
	return true, nil
}

func (b *SQLArBackend) List(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT name FROM blobs`)
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "list").WithComponent("blob.sqlar")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "scan name").WithComponent("blob.sqlar")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (b *SQLArBackend) Close() error { return b.db.Close() }
