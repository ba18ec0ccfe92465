package foldersync

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsync/core/internal/blobstore"
	"github.com/mailsync/core/internal/metacache"
	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/remotemailbox"
	"github.com/mailsync/core/internal/threaddetector"
)

// newTestWorker wires a Worker against a fakeConn/fakePool/fakeStore plus
// real bbolt-backed BlobStore/MetaCache and a running ThreadDetector,
// mirroring spec §8 scenario 1's "fresh account, plain IMAP" setup closely
// enough to drive initialSync and resyncUIDs without a live IMAP server.
func newTestWorker(t *testing.T, account *models.Account, folder *remotemailbox.FolderInfo, conn *fakeConn) (*Worker, *fakeStore) {
	t.Helper()
	dir := t.TempDir()

	blobs, err := blobstore.Open(filepath.Join(dir, "blobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })

	meta, err := metacache.Open(filepath.Join(dir, "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	fs := newFakeStore()
	det := threaddetector.New(account.ID, fs, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go det.Run(ctx)
	t.Cleanup(cancel)

	deps := Deps{
		Pool:          &fakePool{conn: conn},
		Store:         fs,
		Blobs:         blobs,
		Meta:          meta,
		Detector:      det,
		Credentials:   &fakeCredentials{secret: "token"},
		PollFrequency: time.Minute,
		Log:           zerolog.Nop(),
	}
	return New(account, folder, deps, nil), fs
}

func rawMessage(uid uint32, messageIDHeader string) *remotemailbox.RawMessage {
	return &remotemailbox.RawMessage{
		UID:             uid,
		Headers:         []byte("Subject: test\r\n"),
		Parts:           []remotemailbox.RawPart{{ContentType: "text/plain", Bytes: []byte("body " + messageIDHeader)}},
		Flags:           []string{"\\Seen"},
		Received:        time.Now(),
		MessageIDHeader: messageIDHeader,
	}
}

// TestInitialSyncCommitsMessagesWithMatchingFolderItemMessageID is scenario 1
// from spec §8 ("fresh account, plain IMAP, N messages in INBOX"): initial
// sync must download every remote message and commit FolderItems whose
// message_id actually points at the Message row just inserted, not an empty
// string left over from reading an unpersisted id.
func TestInitialSyncCommitsMessagesWithMatchingFolderItemMessageID(t *testing.T) {
	account := &models.Account{ID: "acct-1", Provider: models.ProviderIMAP, Server: "imap.example.com", Username: "u"}
	folder := &remotemailbox.FolderInfo{Name: "INBOX", Role: remotemailbox.RoleInbox, Pollable: true}

	conn := &fakeConn{
		selectInfo: &remotemailbox.SelectInfo{UIDValidity: 100, HighestModSeq: 1, Exists: 2},
		uids:       []uint32{1, 2},
		messages: map[uint32]*remotemailbox.RawMessage{
			1: rawMessage(1, "<msg1@example.com>"),
			2: rawMessage(2, "<msg2@example.com>"),
		},
		threadUIDs: map[uint32]string{},
	}

	w, fs := newTestWorker(t, account, folder, conn)

	next, err := w.initialSync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StatePoll, next)

	require.Len(t, fs.savedMessages, 2)
	require.Len(t, fs.savedItems, 2)

	for i, item := range fs.savedItems {
		assert.NotEmpty(t, item.MessageID, "folder item for uid %d must carry the message id assigned at insert", item.UID)
		assert.Equal(t, fs.savedMessages[i].ID, item.MessageID, "folder item message_id must match the paired message's assigned id")
		assert.NotEmpty(t, fs.savedMessages[i].Parts[0].BlobKey, "part must have been staged to blobstore before commit")
	}
}

// TestInitialSyncSkipsFullDownloadForAlreadyKnownGmailMessage is the
// folderitem_only partition of §4.3's deduplicated download: a message whose
// X-GM-MSGID is already known locally only gets a new FolderItem, no refetch.
func TestInitialSyncSkipsFullDownloadForAlreadyKnownGmailMessage(t *testing.T) {
	account := &models.Account{ID: "acct-1", Provider: models.ProviderGmail, Server: "imap.gmail.com", Username: "u"}
	// All Mail takes the deduplicated-download path even for Gmail accounts;
	// every other Gmail folder goes through expandedThreadDownload instead.
	folder := &remotemailbox.FolderInfo{Name: "[Gmail]/All Mail", Role: remotemailbox.RoleAllMail, Pollable: true}

	conn := &fakeConn{
		selectInfo:   &remotemailbox.SelectInfo{UIDValidity: 7, HighestModSeq: 1, Exists: 1},
		uids:         []uint32{5},
		gMetadata:    map[uint32]remotemailbox.GMetadata{5: {MsgID: 999, ThrID: 111}},
		flags:        map[uint32]remotemailbox.FlagSet{5: {Flags: []string{"\\Seen"}}},
		capabilities: remotemailbox.Capabilities{HasXGMMetadata: true},
	}

	w, fs := newTestWorker(t, account, folder, conn)
	fs.messagesByMsgID[999] = &models.Message{ID: "existing-msg", AccountID: account.ID}

	_, err := w.initialSync(context.Background())
	require.NoError(t, err)

	assert.Empty(t, fs.savedMessages, "already-known message must not be redownloaded")
	require.Len(t, fs.insertedItems, 1)
	assert.Equal(t, "existing-msg", fs.insertedItems[0].MessageID)
	assert.Empty(t, conn.fetchMessagesCalls, "no body fetch for a folderitem-only link")
}
