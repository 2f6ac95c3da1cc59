// Package store holds the packaged resource store: the read-only set of
// assets shipped inside the build, used when no bundle satisfies a
// request and as the source of the bootstrap index.
package store

import (
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mmcdole/bundlesync/internal/bundle"
	"github.com/mmcdole/bundlesync/internal/domain"
)

var bucketResources = []byte("resources")

// PackagedStore implements domain.ResourceStore using BoltDB.
type PackagedStore struct {
	db *bolt.DB
	mu sync.RWMutex // Protects memory cache

	// In-memory cache for hot-path reads (promoted on access)
	cache map[string][]byte
}

// NewPackagedStore opens the packaged store at dbPath read-only. An
// empty path gives a memory-only store, populated with Put.
func NewPackagedStore(dbPath string) (*PackagedStore, error) {
	if dbPath == "" {
		return &PackagedStore{cache: make(map[string][]byte)}, nil
	}

	db, err := bolt.Open(dbPath, 0400, &bolt.Options{Timeout: 1 * time.Second, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open packaged store: %w", err)
	}
	return &PackagedStore{db: db, cache: make(map[string][]byte)}, nil
}

func (s *PackagedStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the asset stored under key.
func (s *PackagedStore) Get(key string) (*domain.Asset, bool) {
	// Check memory cache first
	s.mu.RLock()
	data, ok := s.cache[key]
	s.mu.RUnlock()

	if !ok {
		if s.db == nil {
			return nil, false
		}
		s.db.View(func(tx *bolt.Tx) error {
			b := tx.Bucket(bucketResources)
			if b == nil {
				return nil
			}
			if v := b.Get([]byte(key)); v != nil {
				data = make([]byte, len(v))
				copy(data, v)
			}
			return nil
		})
		if data == nil {
			return nil, false
		}

		// Promote to memory cache
		s.mu.Lock()
		s.cache[key] = data
		s.mu.Unlock()
	}

	var asset domain.Asset
	if err := bundle.Unmarshal(data, &asset); err != nil {
		return nil, false
	}
	return &asset, true
}

// Put stores an asset in a memory-only store. It fails on a store
// backed by a packaged file.
func (s *PackagedStore) Put(key string, asset domain.Asset) error {
	if s.db != nil {
		return fmt.Errorf("packaged store is read-only")
	}
	data, err := bundle.Marshal(asset)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cache[key] = data
	s.mu.Unlock()
	return nil
}

// Keys lists every key, in byte order for file-backed stores.
func (s *PackagedStore) Keys() []string {
	var keys []string
	if s.db == nil {
		s.mu.RLock()
		for k := range s.cache {
			keys = append(keys, k)
		}
		s.mu.RUnlock()
		return keys
	}
	s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResources)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys
}
