package core

import (
	"errors"

	"github.com/dgraph-io/badger/v3"
)

// BadgerStore is a BadgerDB-backed KVStore, the persistence substrate
// for cmd/nttd's standalone deployments. In-memory storage
// (InMemoryStore) remains the default for tests and the embedded
// cmd/ntt runtime.
type BadgerStore struct {
	db *badger.DB
}

// OpenStore opens a BadgerStore at path, or returns a fresh
// InMemoryStore wrapped for symmetry if path is empty — a zero-config
// path for local evaluation that never touches disk.
func OpenStore(path string) (interface {
	KVStore
	Close() error
}, error) {
	if path == "" {
		return &memStoreCloser{NewInMemoryStore()}, nil
	}
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Set(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(append([]byte(nil), key...), append([]byte(nil), value...))
	})
}

func (s *BadgerStore) Get(key []byte) ([]byte, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, err
	}
	return out, err
}

func (s *BadgerStore) Delete(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (s *BadgerStore) Iterator(prefix []byte) Iterator {
	txn := s.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	it.Seek(prefix)
	return &badgerIterator{txn: txn, it: it, prefix: prefix, started: false}
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

type badgerIterator struct {
	txn     *badger.Txn
	it      *badger.Iterator
	prefix  []byte
	started bool
	key     []byte
	value   []byte
	err     error
}

func (bi *badgerIterator) Next() bool {
	if !bi.started {
		bi.started = true
	} else {
		bi.it.Next()
	}
	if !bi.it.ValidForPrefix(bi.prefix) {
		return false
	}
	item := bi.it.Item()
	bi.key = append([]byte(nil), item.Key()...)
	var val []byte
	bi.err = item.Value(func(v []byte) error {
		val = append([]byte(nil), v...)
		return nil
	})
	bi.value = val
	return bi.err == nil
}

func (bi *badgerIterator) Key() []byte   { return bi.key }
func (bi *badgerIterator) Value() []byte { return bi.value }
func (bi *badgerIterator) Error() error  { return bi.err }
func (bi *badgerIterator) Close() error {
	bi.it.Close()
	bi.txn.Discard()
	return nil
}

// memStoreCloser adapts InMemoryStore (which has no persistent handle
// to release) to the Close() contract OpenStore's callers rely on.
type memStoreCloser struct {
	*InMemoryStore
}

func (memStoreCloser) Close() error { return nil }
