package securestore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSecrets = []byte("secrets")

// BoltStore implements Store on a bbolt file readable only by its owner.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the store at path with 0600 permissions.
func NewBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	if err = db.Update(func(tx *bolt.Tx) error {
		_, bErr := tx.CreateBucketIfNotExists(bucketSecrets)
		return bErr
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket %s: %w", bucketSecrets, err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying bbolt database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key, or ErrNotFound.
func (s *BoltStore) Get(key string) (string, error) {
	var val string
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSecrets).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		val = string(v)
		return nil
	})
	return val, err
}

// Set stores value under key.
func (s *BoltStore) Set(key, value string) error {
	return s.Write(map[string]string{key: value}, nil)
}

// Delete removes keys. Missing keys are ignored.
func (s *BoltStore) Delete(keys ...string) error {
	return s.Write(nil, keys)
}

// Write deletes del and stores set in one transaction.
func (s *BoltStore) Write(set map[string]string, del []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSecrets)
		for _, k := range del {
			if err := b.Delete([]byte(k)); err != nil {
				return fmt.Errorf("delete %s: %w", k, err)
			}
		}
		for k, v := range set {
			if err := b.Put([]byte(k), []byte(v)); err != nil {
				return fmt.Errorf("put %s: %w", k, err)
			}
		}
		return nil
	})
}
