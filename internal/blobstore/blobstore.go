// Package blobstore is the content-addressed local store for message part
// payloads, backed by go.etcd.io/bbolt (the maintained successor to the
// boltdb/bolt engine used by the danmarg-outtake cache package this is
// grounded on). One bucket per account, keyed by a SHA-256 content digest,
// so Put is naturally idempotent: re-storing identical bytes is a no-op
// write to the same key.
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"go.etcd.io/bbolt"
)

// Store is a bbolt-backed, content-addressed blob store.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt database file at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("blobstore: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("blobstore: close: %w", err)
	}
	return nil
}

// Key returns the content-addressed key for a payload, the SHA-256 digest
// hex-encoded. Callers compute this before Put so a Part's BlobKey can be
// persisted alongside the Message row in the same transaction.
func Key(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Put idempotently stores payload under its content-addressed key within
// the given account's bucket and returns that key. Storing the same bytes
// twice is safe: the second Put overwrites the bucket entry with identical
// content.
func (s *Store) Put(accountID string, payload []byte) (string, error) {
	key := Key(payload)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(accountID))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), payload)
	})
	if err != nil {
		return "", fmt.Errorf("blobstore: put account=%s key=%s: %w", accountID, key, err)
	}
	return key, nil
}

// Get returns the payload for key within accountID's bucket, and whether it
// was found.
func (s *Store) Get(accountID, key string) ([]byte, bool, error) {
	var payload []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(accountID))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		payload = make([]byte, len(v))
		copy(payload, v)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("blobstore: get account=%s key=%s: %w", accountID, key, err)
	}
	return payload, payload != nil, nil
}
