package foldersync

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/mailsync/core/internal/metacache"
	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/remotemailbox"
)

// poll implements §4.1's poll algorithm: a cheap STATUS probe, and only on
// a HIGHESTMODSEQ advance does it pay for a SELECT and the MODSEQ delta.
func (w *Worker) poll(ctx context.Context) (models.SyncState, error) {
	lease, err := w.lease(ctx)
	if err != nil {
		return "", fmt.Errorf("poll: lease connection: %w", err)
	}
	conn := lease.Conn

	checkpoint, err := w.deps.Store.GetUIDValidityCheckpoint(ctx, w.account.ID, w.folderInfo.Name)
	if err != nil {
		lease.Release()
		return "", fmt.Errorf("poll: load checkpoint: %w", err)
	}

	status, err := conn.FolderStatus(w.folderInfo.Name)
	if err != nil {
		lease.Release()
		return "", fmt.Errorf("poll: folder status: %w", err)
	}

	if checkpoint == nil || status.HighestModSeq > checkpoint.HighestModSeq {
		if _, err := conn.SelectFolder(w.folderInfo.Name, w.validityCallback(checkpoint)); err != nil {
			lease.Release()
			return "", err
		}
		err := w.modseqDelta(ctx, lease, checkpoint)
		lease.Release()
		if err != nil {
			return "", err
		}
	} else {
		lease.Release()
	}

	w.publish("poll", time.Now().UTC().Format(time.RFC3339))

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(w.deps.PollFrequency):
	}
	return models.StatePoll, nil
}

// modseqDelta implements §4.4: fetch what changed since the last known
// HIGHESTMODSEQ, download genuinely new messages, refresh flags for
// updated ones, and advance the checkpoint.
func (w *Worker) modseqDelta(ctx context.Context, lease *remotemailbox.Lease, checkpoint *models.UIDValidityCheckpoint) error {
	conn := lease.Conn

	sinceModSeq := uint64(0)
	if checkpoint != nil {
		sinceModSeq = checkpoint.HighestModSeq
	}
	changed, err := conn.NewAndUpdatedUIDs(sinceModSeq)
	if err != nil {
		return fmt.Errorf("modseq delta: new-and-updated: %w", err)
	}

	remoteUIDs, err := conn.AllUIDs()
	if err != nil {
		return fmt.Errorf("modseq delta: all uids: %w", err)
	}
	localUIDs, err := w.deps.Store.LocalUIDs(ctx, w.account.ID, w.folderInfo.Name)
	if err != nil {
		return fmt.Errorf("modseq delta: load local uids: %w", err)
	}
	if err := w.removeDeletedMessages(ctx, localUIDs, remoteUIDs); err != nil {
		return err
	}

	localSet := uidSet(localUIDs)
	var newUIDs, updatedUIDs []uint32
	for _, uid := range changed {
		if _, known := localSet[uid]; known {
			updatedUIDs = append(updatedUIDs, uid)
		} else {
			newUIDs = append(newUIDs, uid)
		}
	}

	hasXGM, _, _ := w.account.Capabilities()
	gMeta := make(map[uint32]metacache.Entry, len(newUIDs))
	if hasXGM && len(newUIDs) > 0 {
		meta, err := conn.GMetadata(newUIDs)
		if err != nil {
			return fmt.Errorf("modseq delta: fetch new metadata: %w", err)
		}
		for uid, m := range meta {
			gMeta[uid] = metacache.Entry{MsgID: m.MsgID, ThrID: strconv.FormatUint(m.ThrID, 10)}
		}
	} else {
		for _, uid := range newUIDs {
			gMeta[uid] = metacache.Entry{}
		}
	}

	if len(newUIDs) > 0 {
		isAllMail := w.folderInfo.Role == remotemailbox.RoleAllMail
		if hasXGM && !isAllMail {
			flags, err := conn.FetchFlags(newUIDs)
			if err != nil {
				return fmt.Errorf("modseq delta: fetch flags before expansion: %w", err)
			}
			if err := w.expandedThreadDownload(ctx, lease, gMeta, flags, newUIDs, len(remoteUIDs)); err != nil {
				return err
			}
		} else {
			if err := w.deduplicatedDownload(ctx, conn, gMeta, newUIDs, len(remoteUIDs)); err != nil {
				return err
			}
		}
	}

	if len(updatedUIDs) > 0 {
		flags, err := conn.FetchFlags(updatedUIDs)
		if err != nil {
			return fmt.Errorf("modseq delta: fetch updated flags: %w", err)
		}
		for uid, fs := range flags {
			if err := w.deps.Store.UpdateFolderItemFlags(ctx, w.account.ID, w.folderInfo.Name, uid, fs.Flags, fs.Labels); err != nil {
				return fmt.Errorf("modseq delta: apply updated flags uid %d: %w", uid, err)
			}
		}
	}

	return w.deps.Store.SaveUIDValidityCheckpoint(ctx, &models.UIDValidityCheckpoint{
		AccountID:     w.account.ID,
		FolderName:    w.folderInfo.Name,
		UIDValidity:   conn.SelectedUIDValidity(),
		HighestModSeq: conn.SelectedHighestModSeq(),
	})
}
