package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mmcdole/bundlesync/internal/bundle"
	"github.com/mmcdole/bundlesync/internal/domain"
)

// Builder writes a packaged store file at build time.
type Builder struct {
	db *bolt.DB
}

// NewBuilder creates or opens the packaged store at dbPath for writing.
func NewBuilder(dbPath string) (*Builder, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(dbPath, 0644, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketResources)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Builder{db: db}, nil
}

// Put stores asset under key, replacing any previous value.
func (b *Builder) Put(key string, asset domain.Asset) error {
	data, err := bundle.Marshal(asset)
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResources).Put([]byte(key), data)
	})
}

func (b *Builder) Close() error {
	return b.db.Close()
}
