package storage

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// This allows the ledger to use any database backend (in-memory or persistent).
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	// Iterate calls fn for every key with the given prefix in ascending key
	// order. Returning an error from fn stops the iteration.
	Iterate(prefix []byte, fn func(key, value []byte) error) error
	Close() // A way to gracefully shut down the database connection.
}

// Batch groups writes so a committed round lands atomically.
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)
}

// Batcher is implemented by databases that can apply a batch atomically.
type Batcher interface {
	Write(fn func(Batch)) error
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *MemDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	db.mu.RLock()
	keys := make([]string, 0, len(db.data))
	for k := range db.data {
		if strings.HasPrefix(k, string(prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	snapshot := make([][2][]byte, 0, len(keys))
	for _, k := range keys {
		snapshot = append(snapshot, [2][]byte{[]byte(k), append([]byte(nil), db.data[k]...)})
	}
	db.mu.RUnlock()
	for _, kv := range snapshot {
		if err := fn(kv[0], kv[1]); err != nil {
			return err
		}
	}
	return nil
}

type memBatch struct {
	puts    map[string][]byte
	deletes map[string]struct{}
}

func (b *memBatch) Put(key, value []byte) {
	delete(b.deletes, string(key))
	b.puts[string(key)] = append([]byte(nil), value...)
}

func (b *memBatch) Delete(key []byte) {
	delete(b.puts, string(key))
	b.deletes[string(key)] = struct{}{}
}

// Write applies the batch under a single lock acquisition.
func (db *MemDB) Write(fn func(Batch)) error {
	batch := &memBatch{puts: map[string][]byte{}, deletes: map[string]struct{}{}}
	fn(batch)
	db.mu.Lock()
	defer db.mu.Unlock()
	for k := range batch.deletes {
		delete(db.data, k)
	}
	for k, v := range batch.puts {
		db.data[k] = v
	}
	return nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	// Nothing to close for an in-memory database.
}

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

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Delete removes a key. Deleting an absent key is not an error.
func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// Iterate walks all keys sharing prefix.
func (ldb *LevelDB) Iterate(prefix []byte, fn func(key, value []byte) error) error {
	iter := ldb.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		key := append([]byte(nil), iter.Key()...)
		value := append([]byte(nil), iter.Value()...)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return iter.Error()
}

type levelBatch struct {
	batch *leveldb.Batch
}

func (b levelBatch) Put(key, value []byte) { b.batch.Put(key, value) }
func (b levelBatch) Delete(key []byte)     { b.batch.Delete(key) }

// Write applies the batch atomically.
func (ldb *LevelDB) Write(fn func(Batch)) error {
	batch := new(leveldb.Batch)
	fn(levelBatch{batch: batch})
	return ldb.db.Write(batch, nil)
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}
