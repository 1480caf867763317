// Package leveldb implements the storage.Store interface on top of a LevelDB
// database on disk.
package leveldb

import (
	"errors"
	"fmt"

	"github.com/btn-network/blockchain/foundation/blockchain/storage"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LevelDB represents a durable key/value store backed by goleveldb.
type LevelDB struct {
	db *leveldb.DB
}

// New opens, or creates, the LevelDB database at the specified path.
func New(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", path, err)
	}

	return &LevelDB{db: db}, nil
}

// Get returns the value stored under the key.
func (l *LevelDB) Get(key string) ([]byte, error) {
	v, err := l.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, fmt.Errorf("get %q: %w", key, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("get %q: %w", key, err)
	}

	return v, nil
}

// Set writes the value under the key and waits for the write to be synced.
func (l *LevelDB) Set(key string, value []byte) error {
	if err := l.db.Put([]byte(key), value, &opt.WriteOptions{Sync: true}); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}

	return nil
}

// Keys returns every key currently stored. It is used by tooling.
func (l *LevelDB) Keys() ([]string, error) {
	iter := l.db.NewIterator(nil, nil)
	defer iter.Release()

	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Key()))
	}

	return keys, iter.Error()
}

// Close releases the database files.
func (l *LevelDB) Close() error {
	return l.db.Close()
}
