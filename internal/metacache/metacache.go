// Package metacache is the short-lived key-value cache for large transient
// artifacts produced mid-sync, primarily the per-(account, folder)
// remote_g_metadata map (UID -> {msgid, thrid}) described by spec §3 and
// §6. It shares bbolt as its storage engine with internal/blobstore
// (grounded on the same danmarg-outtake bucket-per-namespace KV idiom) but
// keeps a separate database file and bucket namespace so a cache flush
// never touches downloaded payloads.
package metacache

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

const bucketName = "remote_g_metadata"

// Entry is one remote_g_metadata value: a UID's Gmail message/thread id pair.
type Entry struct {
	MsgID uint64
	ThrID string
}

// Cache is a bbolt-backed key-value store for maps of Entry keyed by UID,
// one value per (account_id, folder_name) cache key.
type Cache struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt database file at path.
func Open(path string) (*Cache, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("metacache: open %s: %w", path, err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database file.
func (c *Cache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("metacache: close: %w", err)
	}
	return nil
}

// cacheKey builds the hierarchical key described by spec §6:
// "{account_id}/{folder_name}/remote_g_metadata".
func cacheKey(accountID, folderName string) string {
	return accountID + "/" + folderName + "/" + bucketName
}

// Get returns the cached UID->Entry map for (accountID, folderName), and
// whether a cache entry exists at all.
func (c *Cache) Get(accountID, folderName string) (map[uint32]Entry, bool, error) {
	key := cacheKey(accountID, folderName)
	var raw []byte
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		raw = make([]byte, len(v))
		copy(raw, v)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("metacache: get %s: %w", key, err)
	}
	if raw == nil {
		return nil, false, nil
	}
	var out map[uint32]Entry
	if err := msgpack.Unmarshal(raw, &out); err != nil {
		return nil, false, fmt.Errorf("metacache: decode %s: %w", key, err)
	}
	return out, true, nil
}

// Set writes (or overwrites) the UID->Entry map for (accountID, folderName).
func (c *Cache) Set(accountID, folderName string, entries map[uint32]Entry) error {
	key := cacheKey(accountID, folderName)
	raw, err := msgpack.Marshal(entries)
	if err != nil {
		return fmt.Errorf("metacache: encode %s: %w", key, err)
	}
	err = c.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		return b.Put([]byte(key), raw)
	})
	if err != nil {
		return fmt.Errorf("metacache: set %s: %w", key, err)
	}
	return nil
}

// Remove deletes the cache entry for (accountID, folderName), used once
// initial sync completes (spec §4.1 step 7: "delete the remote_g_metadata
// cache entry").
func (c *Cache) Remove(accountID, folderName string) error {
	key := cacheKey(accountID, folderName)
	err := c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("metacache: remove %s: %w", key, err)
	}
	return nil
}
