package foldersync

import (
	"context"
	"fmt"
	"strconv"

	"github.com/mailsync/core/internal/metacache"
	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/remotemailbox"
)

const expandThreadsChunkSize = 500

// expandedThreadDownload implements §4.2: maximise local thread
// completeness for a small Gmail folder (typically INBOX) by also pulling
// sibling messages sharing a thread id from All Mail.
func (w *Worker) expandedThreadDownload(ctx context.Context, lease *remotemailbox.Lease, gMeta map[uint32]metacache.Entry, originalFlags map[uint32]remotemailbox.FlagSet, unknownUIDs []uint32, totalRemote int) error {
	conn := lease.Conn

	names, err := conn.FolderNames()
	if err != nil {
		return fmt.Errorf("expanded thread download: folder names: %w", err)
	}
	allMailName, ok := names["All"]
	if !ok {
		return fmt.Errorf("expanded thread download: no All Mail folder found")
	}

	allMailCheckpoint, err := w.deps.Store.GetUIDValidityCheckpoint(ctx, w.account.ID, allMailName)
	if err != nil {
		return fmt.Errorf("expanded thread download: load all mail checkpoint: %w", err)
	}
	if _, err := conn.SelectFolder(allMailName, w.validityCallback(allMailCheckpoint)); err != nil {
		return fmt.Errorf("expanded thread download: select all mail: %w", err)
	}

	thridSet := make(map[uint64]struct{})
	for _, uid := range unknownUIDs {
		if e, ok := gMeta[uid]; ok && e.ThrID != "" {
			if t, err := strconv.ParseUint(e.ThrID, 10, 64); err == nil {
				thridSet[t] = struct{}{}
			}
		}
	}
	allThrids := make([]uint64, 0, len(thridSet))
	for t := range thridSet {
		allThrids = append(allThrids, t)
	}
	sortUint64Desc(allThrids)

	uidsByThrid := make(map[uint64][]uint32)
	allMailGMeta := make(map[uint32]metacache.Entry)
	for _, chunk := range chunkUint64(allThrids, expandThreadsChunkSize) {
		candidates, err := conn.ExpandThreads(chunk)
		if err != nil {
			return fmt.Errorf("expanded thread download: expand threads: %w", err)
		}
		if len(candidates) == 0 {
			continue
		}
		meta, err := conn.GMetadata(candidates)
		if err != nil {
			return fmt.Errorf("expanded thread download: fetch candidate metadata: %w", err)
		}
		candidateMsgIDs := make([]uint64, 0, len(meta))
		for _, m := range meta {
			if m.MsgID != 0 {
				candidateMsgIDs = append(candidateMsgIDs, m.MsgID)
			}
		}
		localByMsgID, err := w.deps.Store.FindMessagesByProviderMsgIDs(ctx, w.account.ID, candidateMsgIDs)
		if err != nil {
			return fmt.Errorf("expanded thread download: dedup candidates: %w", err)
		}
		for uid, m := range meta {
			if m.MsgID != 0 {
				if _, known := localByMsgID[m.MsgID]; known {
					continue
				}
			}
			entry := metacache.Entry{MsgID: m.MsgID, ThrID: strconv.FormatUint(m.ThrID, 10)}
			allMailGMeta[uid] = entry
			uidsByThrid[m.ThrID] = append(uidsByThrid[m.ThrID], uid)
		}
	}

	downloaded := 0
	for _, thrid := range allThrids {
		uids := uidsByThrid[thrid]
		if len(uids) == 0 {
			continue
		}
		sortUint32Desc(uids)
		n, err := w.downloadChunk(ctx, conn, uids, allMailGMeta, nil, allMailName)
		if err != nil {
			return fmt.Errorf("expanded thread download: thread %d: %w", thrid, err)
		}
		downloaded += n

		if err := w.relinkOriginalFolderItems(ctx, uids, allMailGMeta, gMeta, originalFlags); err != nil {
			return err
		}

		if totalRemote > 0 {
			w.publish("initial", fmt.Sprintf("%d", 100*downloaded/totalRemote))
		}
	}
	return nil
}

// relinkOriginalFolderItems implements expanded-thread step 6: for every
// newly downloaded All Mail message whose msgid was already present in the
// original folder's g_metadata, bind it into the original folder too, under
// its original UID and flags.
func (w *Worker) relinkOriginalFolderItems(ctx context.Context, allMailUIDs []uint32, allMailGMeta, originalGMeta map[uint32]metacache.Entry, originalFlags map[uint32]remotemailbox.FlagSet) error {
	byMsgID := make(map[uint64]uint32, len(originalGMeta))
	for uid, e := range originalGMeta {
		if e.MsgID != 0 {
			byMsgID[e.MsgID] = uid
		}
	}

	var items []*models.FolderItem
	for _, amUID := range allMailUIDs {
		msgID := allMailGMeta[amUID].MsgID
		if msgID == 0 {
			continue
		}
		originalUID, ok := byMsgID[msgID]
		if !ok {
			continue
		}
		msg, err := w.deps.Store.MessageByProviderMsgID(ctx, w.account.ID, msgID)
		if err != nil {
			return fmt.Errorf("relink original folder items: lookup message msgid %d: %w", msgID, err)
		}
		fs := originalFlags[originalUID]
		items = append(items, &models.FolderItem{
			AccountID: w.account.ID, FolderName: w.folderInfo.Name, UID: originalUID,
			MessageID: msg.ID, Flags: fs.Flags, Labels: fs.Labels,
		})
	}
	if len(items) == 0 {
		return nil
	}
	if err := w.deps.Store.InsertFolderItems(ctx, items); err != nil {
		return fmt.Errorf("relink original folder items: %w", err)
	}
	return nil
}
