package storage

import (
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// KV pairs a key with the value to be written in a batch.
type KV struct {
	Key   []byte
	Value []byte
}

// Database is a generic key-value store used to persist ledger state. The
// engine only requires point reads, point writes and atomic batch writes so
// both an in-memory map and LevelDB can back it.
type Database interface {
	Get(key []byte) ([]byte, error)
	Put(key []byte, value []byte) error
	// WriteBatch applies every pair atomically. Either all pairs become
	// visible or none do.
	WriteBatch(kvs []KV) error
	Close() error
}

// --- In-Memory DB (for tests and ephemeral deployments) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{data: make(map[string][]byte)}
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	db.data[string(key)] = stored
	return nil
}

func (db *MemDB) WriteBatch(kvs []KV) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, kv := range kvs {
		stored := make([]byte, len(kv.Value))
		copy(stored, kv.Value)
		db.data[string(kv.Key)] = stored
	}
	return nil
}

func (db *MemDB) Close() error { return nil }

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

func (ldb *LevelDB) WriteBatch(kvs []KV) error {
	batch := new(leveldb.Batch)
	for _, kv := range kvs {
		batch.Put(kv.Key, kv.Value)
	}
	return ldb.db.Write(batch, nil)
}

func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}
