package foldersync

import "errors"

// ErrBlobStoreWrite marks a chunk fatal when any part payload fails to
// commit to BlobStore (§7): the chunk's DB writes never happen, so on
// restart it is safely re-attempted from the last persisted state.
var ErrBlobStoreWrite = errors.New("foldersync: blob store write failed")
