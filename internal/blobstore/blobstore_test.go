package blobstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutIsContentAddressedAndIdempotent(t *testing.T) {
	s := openTestStore(t)

	payload := []byte("hello world")
	key1, err := s.Put("acct-1", payload)
	require.NoError(t, err)
	assert.Equal(t, Key(payload), key1)

	key2, err := s.Put("acct-1", payload)
	require.NoError(t, err)
	assert.Equal(t, key1, key2, "re-putting identical bytes yields the same key")

	got, ok, err := s.Get("acct-1", key1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, got)
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	s := openTestStore(t)

	got, ok, err := s.Get("acct-1", "deadbeef")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestBucketsAreIsolatedPerAccount(t *testing.T) {
	s := openTestStore(t)

	payload := []byte("shared content")
	key, err := s.Put("acct-1", payload)
	require.NoError(t, err)

	_, ok, err := s.Get("acct-2", key)
	require.NoError(t, err)
	assert.False(t, ok, "a blob stored for one account must not be readable from another account's bucket")
}
