// Package store implements the on-disk caches a news session keeps per
// server: a bbolt database of article headers for each group and a directory
// of raw article bodies for each group.
package store

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mmcdole/nntpsync/internal/domain"
)

// Bucket names
var (
	bucketHeaders = []byte("headers")
)

// IndexKey holds the "<first> <last>" bounds the cache was last reconciled
// against.
const IndexKey = "index"

// MetadataDB implements domain.MetadataCache using BoltDB.
type MetadataDB struct {
	db *bolt.DB
	mu sync.RWMutex // Protects memory cache

	// Values promoted on read
	cache map[string][]byte
}

// OpenMetadataDB opens or creates the database at path.
func OpenMetadataDB(path string, timeout time.Duration) (*MetadataDB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, &domain.IOError{Op: "open", Path: path, Err: err}
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHeaders)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create headers bucket: %w", err)
	}

	return &MetadataDB{db: db, cache: make(map[string][]byte)}, nil
}

// Close closes the database
func (m *MetadataDB) Close() error {
	return m.db.Close()
}

// FetchRaw returns a copy of the value stored under key.
func (m *MetadataDB) FetchRaw(key string) ([]byte, bool, error) {
	m.mu.RLock()
	if data, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		return clone(data), true, nil
	}
	m.mu.RUnlock()

	var data []byte
	err := m.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketHeaders).Get([]byte(key)); v != nil {
			data = clone(v)
		}
		return nil
	})
	if err != nil || data == nil {
		return nil, false, err
	}

	m.mu.Lock()
	m.cache[key] = data
	m.mu.Unlock()

	return clone(data), true, nil
}

// StoreRaw writes value under key.
func (m *MetadataDB) StoreRaw(key string, value []byte) error {
	m.mu.Lock()
	delete(m.cache, key)
	m.mu.Unlock()

	return m.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHeaders).Put([]byte(key), value)
	})
}

// Delete removes keys in a single transaction. Missing keys are ignored.
func (m *MetadataDB) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	m.mu.Lock()
	for _, k := range keys {
		delete(m.cache, k)
	}
	m.mu.Unlock()

	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHeaders)
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Keys lists every key in the cache, in byte order.
func (m *MetadataDB) Keys() ([]string, error) {
	var keys []string
	err := m.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHeaders).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// StoreHeader caches the raw header block of one article.
func (m *MetadataDB) StoreHeader(num domain.ArticleNum, header []byte) error {
	return m.StoreRaw(ArticleKey(num), header)
}

// FetchHeader returns the cached header block of one article.
func (m *MetadataDB) FetchHeader(num domain.ArticleNum) ([]byte, bool, error) {
	return m.FetchRaw(ArticleKey(num))
}

// ArticleKey is the cache key of an article's headers.
func ArticleKey(num domain.ArticleNum) string {
	return strconv.FormatUint(uint64(num), 10)
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
