package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Store is the key-value persistence contract the engine runs on. Each call
// is atomic for its single key; there are no cross-key transactions, so
// multi-key updates are sequential best-effort writes.
type Store interface {
	// Get returns the value for key, or found=false if absent.
	Get(key string) (value []byte, found bool, err error)
	// Put writes value under key, overwriting any existing value.
	Put(key string, value []byte) error
	// Erase removes key. Removing an absent key is not an error.
	Erase(key string) error
	// ListKeysWithPrefix returns all keys starting with prefix, sorted.
	ListKeysWithPrefix(prefix string) ([]string, error)
}

// BadgerStore backs the Store interface with an embedded BadgerDB instance.
type BadgerStore struct {
	db *badger.DB
}

// BadgerConfig holds the knobs for opening a BadgerStore.
type BadgerConfig struct {
	// Path is the data directory. Ignored when InMemory is set.
	Path string
	// InMemory opens a non-persistent instance, used by integration tests.
	InMemory bool
	// SyncWrites forces fsync on every write. On for production.
	SyncWrites bool
}

// OpenBadgerStore opens (creating if needed) a Badger-backed store.
func OpenBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts = opts.WithInMemory(cfg.InMemory)
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	// Badger's own logger is too chatty for a consensus node; discard it.
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store at %q: %w", cfg.Path, err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Get returns the value for key, or found=false if absent.
func (s *BadgerStore) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Put writes value under key.
func (s *BadgerStore) Put(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Erase removes key.
func (s *BadgerStore) Erase(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// ListKeysWithPrefix returns all keys starting with prefix, sorted.
func (s *BadgerStore) ListKeysWithPrefix(prefix string) ([]string, error) {
	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// MemStore is an in-memory Store for unit tests. It can also be told to
// fail writes, to exercise the partial-failure paths.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte

	// FailPuts makes every Put return an error when set.
	FailPuts bool
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

// Get returns the value for key, or found=false if absent.
func (s *MemStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Put writes value under key.
func (s *MemStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPuts {
		return errors.New("memstore: puts disabled")
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.data[key] = v
	return nil
}

// Erase removes key.
func (s *MemStore) Erase(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// ListKeysWithPrefix returns all keys starting with prefix, sorted.
func (s *MemStore) ListKeysWithPrefix(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len returns the number of stored keys.
func (s *MemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
