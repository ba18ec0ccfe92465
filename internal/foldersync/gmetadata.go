package foldersync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mailsync/core/internal/metacache"
	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/remotemailbox"
)

// remoteGMetadata implements initial sync step 3: obtain the
// (UID -> {msgid, thrid}) map for every remote UID, reusing and
// incrementally refreshing the MetaCache entry when possible instead of
// refetching everything.
func (w *Worker) remoteGMetadata(ctx context.Context, conn remotemailbox.Connection, remoteUIDs []uint32, checkpoint *models.UIDValidityCheckpoint, selectInfo *remotemailbox.SelectInfo) (map[uint32]metacache.Entry, error) {
	hasXGM, _, _ := w.account.Capabilities()

	cached, ok, err := w.deps.Meta.Get(w.account.ID, w.folderInfo.Name)
	if err != nil {
		return nil, fmt.Errorf("remote g_metadata: read cache: %w", err)
	}

	if ok && checkpoint != nil {
		if selectInfo.HighestModSeq > checkpoint.HighestModSeq {
			changed, err := conn.NewAndUpdatedUIDs(checkpoint.HighestModSeq)
			if err != nil {
				return nil, fmt.Errorf("remote g_metadata: new-and-updated: %w", err)
			}

			var trulyNew []uint32
			var updated []uint32
			for _, uid := range changed {
				if _, known := cached[uid]; known {
					updated = append(updated, uid)
				} else {
					trulyNew = append(trulyNew, uid)
				}
			}

			if hasXGM && len(trulyNew) > 0 {
				meta, err := conn.GMetadata(trulyNew)
				if err != nil {
					return nil, fmt.Errorf("remote g_metadata: fetch new: %w", err)
				}
				for uid, m := range meta {
					cached[uid] = metacache.Entry{MsgID: m.MsgID, ThrID: strconv.FormatUint(m.ThrID, 10)}
				}
			} else {
				for _, uid := range trulyNew {
					cached[uid] = metacache.Entry{}
				}
			}

			remoteSet := uidSet(remoteUIDs)
			for uid := range cached {
				if _, present := remoteSet[uid]; !present {
					delete(cached, uid)
				}
			}

			if len(updated) > 0 {
				flags, err := conn.FetchFlags(updated)
				if err != nil {
					return nil, fmt.Errorf("remote g_metadata: fetch updated flags: %w", err)
				}
				for uid, fs := range flags {
					if err := w.deps.Store.UpdateFolderItemFlags(ctx, w.account.ID, w.folderInfo.Name, uid, fs.Flags, fs.Labels); err != nil {
						return nil, fmt.Errorf("remote g_metadata: apply updated flags uid %d: %w", uid, err)
					}
				}
			}
		}
	} else {
		cached = make(map[uint32]metacache.Entry, len(remoteUIDs))
		if hasXGM && len(remoteUIDs) > 0 {
			meta, err := conn.GMetadata(remoteUIDs)
			if err != nil {
				return nil, fmt.Errorf("remote g_metadata: fetch all: %w", err)
			}
			for uid, m := range meta {
				cached[uid] = metacache.Entry{MsgID: m.MsgID, ThrID: strconv.FormatUint(m.ThrID, 10)}
			}
		} else {
			for _, uid := range remoteUIDs {
				cached[uid] = metacache.Entry{}
			}
		}
	}

	if err := w.deps.Meta.Set(w.account.ID, w.folderInfo.Name, cached); err != nil {
		return nil, fmt.Errorf("remote g_metadata: write cache: %w", err)
	}
	if err := w.deps.Store.SaveUIDValidityCheckpoint(ctx, &models.UIDValidityCheckpoint{
		AccountID:     w.account.ID,
		FolderName:    w.folderInfo.Name,
		UIDValidity:   selectInfo.UIDValidity,
		HighestModSeq: selectInfo.HighestModSeq,
	}); err != nil {
		return nil, fmt.Errorf("remote g_metadata: save checkpoint: %w", err)
	}

	return cached, nil
}

// removeDeletedMessages purges FolderItems for UIDs that vanished
// server-side (invariant 7: after this, no FolderItem has uid in L \ R).
func (w *Worker) removeDeletedMessages(ctx context.Context, localUIDs, remoteUIDs []uint32) error {
	gone := uidsMinus(localUIDs, remoteUIDs)
	if len(gone) == 0 {
		return nil
	}
	if err := w.deps.Store.RemoveFolderItems(ctx, w.account.ID, w.folderInfo.Name, gone); err != nil {
		return fmt.Errorf("remove deleted messages: %w", err)
	}
	return nil
}
