package metacache

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGetMissingEntryReturnsFalse(t *testing.T) {
	c := openTestCache(t)

	entries, ok, err := c.Get("acct-1", "INBOX")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, entries)
}

func TestSetThenGetRoundTrips(t *testing.T) {
	c := openTestCache(t)

	entries := map[uint32]Entry{
		1: {MsgID: 100, ThrID: "1000"},
		2: {MsgID: 101, ThrID: "1000"},
	}
	require.NoError(t, c.Set("acct-1", "INBOX", entries))

	got, ok, err := c.Get("acct-1", "INBOX")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entries, got)
}

func TestRemoveClearsEntry(t *testing.T) {
	c := openTestCache(t)

	require.NoError(t, c.Set("acct-1", "INBOX", map[uint32]Entry{1: {MsgID: 1, ThrID: "t"}}))
	require.NoError(t, c.Remove("acct-1", "INBOX"))

	_, ok, err := c.Get("acct-1", "INBOX")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveOnEmptyCacheIsNoop(t *testing.T) {
	c := openTestCache(t)
	assert.NoError(t, c.Remove("acct-1", "INBOX"))
}

func TestKeysAreScopedPerAccountAndFolder(t *testing.T) {
	c := openTestCache(t)

	require.NoError(t, c.Set("acct-1", "INBOX", map[uint32]Entry{1: {MsgID: 1, ThrID: "t"}}))

	_, ok, err := c.Get("acct-1", "Archive")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Get("acct-2", "INBOX")
	require.NoError(t, err)
	assert.False(t, ok)
}
