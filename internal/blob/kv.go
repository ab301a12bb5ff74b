package blob

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"

	ifserrors "github.com/innerfs/innerfs/pkg/errors"
)

// KVBackend stores one key per object in an embedded Badger database.
type KVBackend struct {
	db *badger.DB
}

// NewKVBackend opens (creating if necessary) an embedded key-value store at
// dir.
func NewKVBackend(dir string) (*KVBackend, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "open badger store").WithComponent("blob.kv")
	}
	return &KVBackend{db: db}, nil
}

func (b *KVBackend) Put(ctx context.Context, name string, data []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(name), data)
	})
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "put").WithComponent("blob.kv").WithPath(name)
	}
	return nil
}

func (b *KVBackend) Get(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte(nil), val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, notFound("blob.kv", name)
	}
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "get").WithComponent("blob.kv").WithPath(name)
	}
	return data, nil
}

func (b *KVBackend) Delete(ctx context.Context, name string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(name))
	})
	if err != nil {
		return ifserrors.Wrap(ifserrors.KindBackendIO, err, "delete").WithComponent("blob.kv").WithPath(name)
	}
	return nil
}

func (b *KVBackend) Exists(ctx context.Context, name string) (bool, error) {
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, ifserrors.Wrap(ifserrors.KindBackendIO, err, "exists").WithComponent("blob.kv").WithPath(name)
	}
	return found, nil
}

func (b *KVBackend) List(ctx context.Context) ([]string, error) {
	var names []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, ifserrors.Wrap(ifserrors.KindBackendIO, err, "list").WithComponent("blob.kv")
	}
	return names, nil
}

func (b *KVBackend) Close() error { return b.db.Close() }
