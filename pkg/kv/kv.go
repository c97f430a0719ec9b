// Package kv opens the bbolt files the gateway persists state in.
package kv

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Open opens (creating if needed) the database at path and ensures every
// bucket exists.
func Open(path string, buckets ...[]byte) (*bolt.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// PutJSON stores v under key.
func PutJSON(db *bolt.DB, bucket []byte, key string, v interface{}) error {
	bz, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("%s bucket missing", bucket)
		}
		return b.Put([]byte(key), bz)
	})
}

// GetJSON loads key into v and reports whether it was present.
func GetJSON(db *bolt.DB, bucket []byte, key string, v interface{}) (bool, error) {
	var found bool
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("%s bucket missing", bucket)
		}
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, v)
	})
	return found, err
}

// Delete removes key and reports whether it was present.
func Delete(db *bolt.DB, bucket []byte, key string) (bool, error) {
	var found bool
	err := db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		if b == nil {
			return fmt.Errorf("%s bucket missing", bucket)
		}
		if b.Get([]byte(key)) == nil {
			return nil
		}
		found = true
		return b.Delete([]byte(key))
	})
	return found, err
}
