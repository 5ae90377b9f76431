package idempotency

import (
	"context"
	"time"

	bolt "github.com/boltdb/bolt"
)

const bucketName = "processed_orders"

// BoltStore is a file-backed Store for single-node deployments that run
// without the hosted database.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database file and ensures the
// processed-orders bucket exists.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// MarkProcessed claims an order ID inside a single write transaction, so the
// existence check and the insert cannot interleave with another claim.
func (s *BoltStore) MarkProcessed(ctx context.Context, orderID string) (bool, error) {
	claimed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b.Get([]byte(orderID)) != nil {
			return nil
		}
		claimed = true
		return b.Put([]byte(orderID), []byte(time.Now().UTC().Format(time.RFC3339)))
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// Release drops a claim.
func (s *BoltStore) Release(ctx context.Context, orderID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(orderID))
	})
}

// Close releases the database file lock.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

var _ Store = (*BoltStore)(nil)
