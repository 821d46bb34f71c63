package store

import (
	"errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"securechat/internal/domain"
)

// LevelDBKV persists entries in a goleveldb database. Writes are synchronous.
type LevelDBKV struct {
	db *leveldb.DB
}

// OpenLevelDB opens (or creates) the database at path.
func OpenLevelDB(path string) (*LevelDBKV, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBKV{db: db}, nil
}

// Get returns the value for key, ok=false when absent.
func (l *LevelDBKV) Get(key string) ([]byte, bool, error) {
	v, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set writes value under key.
func (l *LevelDBKV) Set(key string, value []byte) error {
	return l.db.Put([]byte(key), value, &opt.WriteOptions{Sync: true})
}

// Remove deletes key.
func (l *LevelDBKV) Remove(key string) error {
	return l.db.Delete([]byte(key), &opt.WriteOptions{Sync: true})
}

// GetAll iterates the whole database.
func (l *LevelDBKV) GetAll() (map[string][]byte, error) {
	it := l.db.NewIterator(nil, nil)
	defer it.Release()

	out := make(map[string][]byte)
	for it.Next() {
		out[string(it.Key())] = append([]byte(nil), it.Value()...)
	}
	return out, it.Error()
}

// Close releases the database.
func (l *LevelDBKV) Close() error { return l.db.Close() }

// Compile-time assertion that LevelDBKV implements domain.KeyValueStore.
var _ domain.KeyValueStore = (*LevelDBKV)(nil)
