package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"riskengine/storage"
)

var errNilDatabase = errors.New("state: database not configured")

// Manager mediates every read and write against the backing key-value store.
// Values are stored as JSON documents; all integer amounts inside stored
// documents are rendered as decimal strings so no precision is lost on disk.
//
// Conflicting mutations are serialized per entity, not globally: callers
// acquire the locks for exactly the entities they touch via Lock before
// loading state, and commit their changes in a single atomic batch.
type Manager struct {
	db storage.Database

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager wires a manager to the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for every supplied entity key and returns a release
// function. Keys are deduplicated and acquired in sorted order so two callers
// locking overlapping entity sets can never deadlock.
func (m *Manager) Lock(keys ...string) func() {
	if m == nil || len(keys) == 0 {
		return func() {}
	}
	unique := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, key)
	}
	sort.Strings(unique)

	acquired := make([]*sync.Mutex, 0, len(unique))
	for _, key := range unique {
		m.mu.Lock()
		lock, ok := m.locks[key]
		if !ok {
			lock = &sync.Mutex{}
			m.locks[key] = lock
		}
		m.mu.Unlock()
		lock.Lock()
		acquired = append(acquired, lock)
	}
	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Unlock()
		}
	}
}

// GetJSON decodes the document stored under key into out. The boolean result
// reports whether the key existed.
func (m *Manager) GetJSON(key string, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, errNilDatabase
	}
	raw, err := m.db.Get([]byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("state: get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

// Tx accumulates writes that are applied atomically on Commit. A transaction
// that is never committed leaves no trace in the store.
type Tx struct {
	m    *Manager
	puts []storage.KV
	errs []error
}

// NewTx opens an empty transaction against the manager's database.
func (m *Manager) NewTx() *Tx {
	return &Tx{m: m}
}

// PutJSON stages the JSON encoding of v under key. Encoding errors are
// deferred until Commit so call sites stay linear.
func (tx *Tx) PutJSON(key string, v interface{}) {
	if tx == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		tx.errs = append(tx.errs, fmt.Errorf("state: encode %s: %w", key, err))
		return
	}
	tx.puts = append(tx.puts, storage.KV{Key: []byte(key), Value: raw})
}

// GetJSON reads through the transaction: the latest staged value for key wins
// over committed state, so a read-modify-write sequence repeated within one
// transaction accumulates instead of overwriting itself.
func (tx *Tx) GetJSON(key string, out interface{}) (bool, error) {
	if tx == nil || tx.m == nil {
		return false, errNilDatabase
	}
	for i := len(tx.puts) - 1; i >= 0; i-- {
		if string(tx.puts[i].Key) != key {
			continue
		}
		if err := json.Unmarshal(tx.puts[i].Value, out); err != nil {
			return false, fmt.Errorf("state: decode staged %s: %w", key, err)
		}
		return true, nil
	}
	return tx.m.GetJSON(key, out)
}

// Pending reports the number of staged writes.
func (tx *Tx) Pending() int {
	if tx == nil {
		return 0
	}
	return len(tx.puts)
}

// Commit writes every staged pair in one atomic batch. If any staging step
// failed the commit is refused and nothing is written.
func (tx *Tx) Commit() error {
	if tx == nil || tx.m == nil || tx.m.db == nil {
		return errNilDatabase
	}
	if len(tx.errs) > 0 {
		return tx.errs[0]
	}
	if len(tx.puts) == 0 {
		return nil
	}
	return tx.m.db.WriteBatch(tx.puts)
}
