package foldersync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mailsync/core/internal/models"
)

// resyncUIDs implements the recovery handler for *-uidinvalid states
// (resolving Open Question (a)): refetch all remote UIDs, re-match them to
// local Messages, and rewrite FolderItem.uid in place. No message bodies
// are re-downloaded. Gmail accounts match on X-GM-MSGID (fetched via
// GMetadata); accounts without X-GM-MSGID match on the envelope Message-Id
// header instead (fetched via EnvelopeMessageIDs), grounded on the
// teacher's own use of imapMsg.Envelope.MessageId as a provider-agnostic
// "stable ID" (internal/imap/parser.go, service.go). FolderItems whose
// match key no longer appears server-side are dropped as disappeared. On
// success the worker returns to target (initial or poll, per which state
// triggered recovery).
func (w *Worker) resyncUIDs(ctx context.Context, target models.SyncState) (models.SyncState, error) {
	lease, err := w.lease(ctx)
	if err != nil {
		return "", fmt.Errorf("resync uids: lease connection: %w", err)
	}
	defer lease.Release()
	conn := lease.Conn

	selectInfo, err := conn.SelectFolder(w.folderInfo.Name, nil)
	if err != nil {
		return "", fmt.Errorf("resync uids: select folder: %w", err)
	}

	remoteUIDs, err := conn.AllUIDs()
	if err != nil {
		return "", fmt.Errorf("resync uids: all uids: %w", err)
	}

	localByOldUID, err := w.deps.Store.LocalMessagesByUID(ctx, w.account.ID, w.folderInfo.Name)
	if err != nil {
		return "", fmt.Errorf("resync uids: load local messages: %w", err)
	}

	hasXGM, _, _ := w.account.Capabilities()
	uidMapping := make(map[uint32]uint32)
	var disappeared []uint32

	if hasXGM {
		newUIDByMsgID := make(map[uint64]uint32)
		if len(remoteUIDs) > 0 {
			meta, err := conn.GMetadata(remoteUIDs)
			if err != nil {
				return "", fmt.Errorf("resync uids: fetch fresh metadata: %w", err)
			}
			for uid, m := range meta {
				if m.MsgID != 0 {
					newUIDByMsgID[m.MsgID] = uid
				}
			}
		}
		for oldUID, msg := range localByOldUID {
			if msg.ProviderMsgID == nil {
				disappeared = append(disappeared, oldUID)
				continue
			}
			if newUID, ok := newUIDByMsgID[*msg.ProviderMsgID]; ok {
				uidMapping[oldUID] = newUID
			} else {
				disappeared = append(disappeared, oldUID)
			}
		}
	} else {
		newUIDByMessageID := make(map[string]uint32)
		if len(remoteUIDs) > 0 {
			ids, err := conn.EnvelopeMessageIDs(remoteUIDs)
			if err != nil {
				return "", fmt.Errorf("resync uids: fetch fresh envelope message ids: %w", err)
			}
			for uid, id := range ids {
				newUIDByMessageID[id] = uid
			}
		}
		for oldUID, msg := range localByOldUID {
			if msg.RFC822MessageID == "" {
				disappeared = append(disappeared, oldUID)
				continue
			}
			if newUID, ok := newUIDByMessageID[msg.RFC822MessageID]; ok {
				uidMapping[oldUID] = newUID
			} else {
				disappeared = append(disappeared, oldUID)
			}
		}
	}

	if err := w.deps.Store.RewriteFolderItemUIDs(ctx, w.account.ID, w.folderInfo.Name, uidMapping); err != nil {
		return "", fmt.Errorf("resync uids: rewrite uids: %w", err)
	}
	if len(disappeared) > 0 {
		if err := w.deps.Store.RemoveFolderItems(ctx, w.account.ID, w.folderInfo.Name, disappeared); err != nil {
			return "", fmt.Errorf("resync uids: remove disappeared: %w", err)
		}
	}

	if err := w.deps.Store.SaveUIDValidityCheckpoint(ctx, &models.UIDValidityCheckpoint{
		AccountID:     w.account.ID,
		FolderName:    w.folderInfo.Name,
		UIDValidity:   selectInfo.UIDValidity,
		HighestModSeq: selectInfo.HighestModSeq,
	}); err != nil {
		return "", fmt.Errorf("resync uids: save checkpoint: %w", err)
	}

	w.log.Info().Int("rewritten", len(uidMapping)).Int("disappeared", len(disappeared)).
		Str("new_uidvalidity", strconv.FormatUint(uint64(selectInfo.UIDValidity), 10)).
		Msg("resync_uids completed")

	return target, nil
}
