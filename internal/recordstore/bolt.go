package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/shop-scanner/internal/scan"
)

// Bolt implements scan.RecordStore using BoltDB, one bucket per collection
type Bolt struct {
	db *bbolt.DB
}

// NewBolt opens (or creates) a BoltDB file at path
func NewBolt(path string) (*Bolt, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Get retrieves a document by key
func (b *Bolt) Get(ctx context.Context, collection, key string) (scan.FieldMap, error) {
	var fields scan.FieldMap
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(collection))
		if bucket == nil {
			return fmt.Errorf("%s/%s: %w", collection, key, scan.ErrNotFound)
		}
		data := bucket.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", collection, key, scan.ErrNotFound)
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return fmt.Errorf("unmarshaling document: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// Put stores a document, creating the collection bucket if needed
func (b *Bolt) Put(ctx context.Context, collection, key string, fields scan.FieldMap) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(collection))
		if err != nil {
			return fmt.Errorf("creating bucket: %w", err)
		}
		data, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("marshaling document: %w", err)
		}
		return bucket.Put([]byte(key), data)
	})
}

// Close closes the database connection
func (b *Bolt) Close() error {
	return b.db.Close()
}
