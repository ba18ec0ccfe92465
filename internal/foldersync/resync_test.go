package foldersync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/remotemailbox"
)

// TestResyncUIDsGmailRewritesByProviderMsgID is scenario 3 from spec §8
// ("UIDVALIDITY changes") for a Gmail account: UIDs must be rewritten in
// place via X-GM-MSGID matching, with no message body re-downloaded.
func TestResyncUIDsGmailRewritesByProviderMsgID(t *testing.T) {
	account := &models.Account{ID: "acct-1", Provider: models.ProviderGmail, Server: "imap.gmail.com", Username: "u"}
	folder := &remotemailbox.FolderInfo{Name: "INBOX", Role: remotemailbox.RoleInbox, Pollable: true}

	conn := &fakeConn{
		selectInfo: &remotemailbox.SelectInfo{UIDValidity: 200, HighestModSeq: 5, Exists: 2},
		uids:       []uint32{11, 12},
		gMetadata: map[uint32]remotemailbox.GMetadata{
			11: {MsgID: 501},
			12: {MsgID: 502},
		},
	}

	w, fs := newTestWorker(t, account, folder, conn)
	msgID1, msgID2 := uint64(501), uint64(502)
	fs.messagesByUID[1] = &models.Message{ID: "m1", ProviderMsgID: &msgID1}
	fs.messagesByUID[2] = &models.Message{ID: "m2", ProviderMsgID: &msgID2}

	next, err := w.resyncUIDs(context.Background(), models.StatePoll)
	require.NoError(t, err)
	assert.Equal(t, models.StatePoll, next)

	require.Len(t, fs.rewrittenMapping, 2)
	assert.Equal(t, uint32(11), fs.rewrittenMapping[1])
	assert.Equal(t, uint32(12), fs.rewrittenMapping[2])
	assert.Empty(t, fs.removedUIDs)
	assert.Empty(t, conn.fetchMessagesCalls, "resync must rewrite uids in place, never re-download bodies")
	require.NotNil(t, fs.checkpoint)
	assert.Equal(t, uint32(200), fs.checkpoint.UIDValidity)
}

// TestResyncUIDsNonGmailRewritesByRFC822MessageID covers the same scenario
// for an account without X-GM-MSGID: the match key falls back to the
// envelope Message-Id header, grounded on the teacher's own "stable ID" use
// of imapMsg.Envelope.MessageId. Before this fix, non-Gmail local items were
// always classified disappeared because ProviderMsgID is always nil for
// them.
func TestResyncUIDsNonGmailRewritesByRFC822MessageID(t *testing.T) {
	account := &models.Account{ID: "acct-1", Provider: models.ProviderIMAP, Server: "imap.example.com", Username: "u"}
	folder := &remotemailbox.FolderInfo{Name: "INBOX", Role: remotemailbox.RoleInbox, Pollable: true}

	conn := &fakeConn{
		selectInfo: &remotemailbox.SelectInfo{UIDValidity: 300, HighestModSeq: 9, Exists: 2},
		uids:       []uint32{21, 22},
		envelopeIDs: map[uint32]string{
			21: "<a@example.com>",
			22: "<b@example.com>",
		},
	}

	w, fs := newTestWorker(t, account, folder, conn)
	fs.messagesByUID[1] = &models.Message{ID: "m1", RFC822MessageID: "<a@example.com>"}
	fs.messagesByUID[2] = &models.Message{ID: "m2", RFC822MessageID: "<b@example.com>"}

	next, err := w.resyncUIDs(context.Background(), models.StateInitial)
	require.NoError(t, err)
	assert.Equal(t, models.StateInitial, next)

	require.Len(t, fs.rewrittenMapping, 2)
	assert.Equal(t, uint32(21), fs.rewrittenMapping[1])
	assert.Equal(t, uint32(22), fs.rewrittenMapping[2])
	assert.Empty(t, fs.removedUIDs, "both local messages still exist server-side and must survive resync")
	assert.Empty(t, conn.fetchMessagesCalls)
}

// TestResyncUIDsNonGmailDropsVanishedMessage verifies a local item whose
// Message-Id no longer appears remotely is removed rather than silently
// kept with a stale UID.
func TestResyncUIDsNonGmailDropsVanishedMessage(t *testing.T) {
	account := &models.Account{ID: "acct-1", Provider: models.ProviderIMAP, Server: "imap.example.com", Username: "u"}
	folder := &remotemailbox.FolderInfo{Name: "INBOX", Role: remotemailbox.RoleInbox, Pollable: true}

	conn := &fakeConn{
		selectInfo:  &remotemailbox.SelectInfo{UIDValidity: 400, HighestModSeq: 1, Exists: 1},
		uids:        []uint32{31},
		envelopeIDs: map[uint32]string{31: "<still-here@example.com>"},
	}

	w, fs := newTestWorker(t, account, folder, conn)
	fs.messagesByUID[1] = &models.Message{ID: "m1", RFC822MessageID: "<still-here@example.com>"}
	fs.messagesByUID[2] = &models.Message{ID: "m2", RFC822MessageID: "<deleted@example.com>"}

	_, err := w.resyncUIDs(context.Background(), models.StatePoll)
	require.NoError(t, err)

	assert.Equal(t, uint32(31), fs.rewrittenMapping[1])
	assert.Equal(t, []uint32{2}, fs.removedUIDs)
}
