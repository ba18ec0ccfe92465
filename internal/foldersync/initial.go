package foldersync

import (
	"context"
	"fmt"

	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/remotemailbox"
)

// initialSync implements §4.1's initial sync algorithm end to end.
func (w *Worker) initialSync(ctx context.Context) (models.SyncState, error) {
	localUIDs, err := w.deps.Store.LocalUIDs(ctx, w.account.ID, w.folderInfo.Name)
	if err != nil {
		return "", fmt.Errorf("initial sync: load local uids: %w", err)
	}

	lease, err := w.lease(ctx)
	if err != nil {
		return "", fmt.Errorf("initial sync: lease connection: %w", err)
	}
	defer lease.Release()
	conn := lease.Conn

	checkpoint, err := w.deps.Store.GetUIDValidityCheckpoint(ctx, w.account.ID, w.folderInfo.Name)
	if err != nil {
		return "", fmt.Errorf("initial sync: load checkpoint: %w", err)
	}

	var selectInfo *remotemailbox.SelectInfo
	selectInfo, err = conn.SelectFolder(w.folderInfo.Name, w.validityCallback(checkpoint))
	if err != nil {
		return "", err
	}

	remoteUIDs, err := conn.AllUIDs()
	if err != nil {
		return "", fmt.Errorf("initial sync: all uids: %w", err)
	}

	gMeta, err := w.remoteGMetadata(ctx, conn, remoteUIDs, checkpoint, selectInfo)
	if err != nil {
		return "", err
	}

	if err := w.removeDeletedMessages(ctx, localUIDs, remoteUIDs); err != nil {
		return "", err
	}

	unknownUIDs := uidsMinus(remoteUIDs, localUIDs)

	hasXGM, _, _ := w.account.Capabilities()
	isAllMail := w.folderInfo.Role == remotemailbox.RoleAllMail
	if hasXGM && !isAllMail {
		flags, err := conn.FetchFlags(remoteUIDs)
		if err != nil {
			return "", fmt.Errorf("initial sync: fetch flags before expansion: %w", err)
		}
		if err := w.expandedThreadDownload(ctx, lease, gMeta, flags, unknownUIDs, len(remoteUIDs)); err != nil {
			return "", err
		}
	} else {
		if err := w.deduplicatedDownload(ctx, conn, gMeta, unknownUIDs, len(remoteUIDs)); err != nil {
			return "", err
		}
	}

	if err := w.deps.Meta.Remove(w.account.ID, w.folderInfo.Name); err != nil {
		return "", fmt.Errorf("initial sync: clear metacache entry: %w", err)
	}

	if w.folderInfo.Pollable {
		return models.StatePoll, nil
	}
	return models.StateFinish, nil
}

// validityCallback builds the UIDVALIDITY comparison closure SelectFolder
// invokes right after SELECT/STATUS negotiation.
func (w *Worker) validityCallback(checkpoint *models.UIDValidityCheckpoint) remotemailbox.ValidityCallback {
	return func(folder string, info *remotemailbox.SelectInfo) error {
		if checkpoint != nil && checkpoint.UIDValidity != info.UIDValidity {
			return remotemailbox.ErrUIDInvalid
		}
		return nil
	}
}
