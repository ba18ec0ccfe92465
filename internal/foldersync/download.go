package foldersync

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/mailsync/core/internal/metacache"
	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/remotemailbox"
)

// pendingMessage pairs a not-yet-committed Message with the raw wire
// message it came from, since the UID and part bytes are needed during the
// blob-put fan-out but don't belong on the persisted Message struct.
type pendingMessage struct {
	uid uint32
	raw *remotemailbox.RawMessage
	msg *models.Message
}

// deduplicatedDownload implements §4.3: partition unknownUIDs into
// folderitem_only (provider_msgid already known locally — just needs a
// FolderItem) and full_download (genuinely new messages), processing the
// latter in provider-tuned chunks, newest first.
func (w *Worker) deduplicatedDownload(ctx context.Context, conn remotemailbox.Connection, gMeta map[uint32]metacache.Entry, unknownUIDs []uint32, totalRemote int) error {
	hasXGM, _, _ := w.account.Capabilities()

	var candidateMsgIDs []uint64
	if hasXGM {
		for _, uid := range unknownUIDs {
			if e, ok := gMeta[uid]; ok && e.MsgID != 0 {
				candidateMsgIDs = append(candidateMsgIDs, e.MsgID)
			}
		}
	}
	localByMsgID, err := w.deps.Store.FindMessagesByProviderMsgIDs(ctx, w.account.ID, candidateMsgIDs)
	if err != nil {
		return fmt.Errorf("deduplicated download: find local messages: %w", err)
	}

	var folderItemOnly, fullDownload []uint32
	for _, uid := range unknownUIDs {
		if e, ok := gMeta[uid]; ok && e.MsgID != 0 {
			if _, known := localByMsgID[e.MsgID]; known {
				folderItemOnly = append(folderItemOnly, uid)
				continue
			}
		}
		fullDownload = append(fullDownload, uid)
	}

	if len(folderItemOnly) > 0 {
		if err := w.linkExistingMessages(ctx, conn, folderItemOnly, gMeta, localByMsgID, w.folderInfo.Name); err != nil {
			return err
		}
	}

	var threadUIDs map[uint32]string
	if !hasXGM && len(fullDownload) > 0 {
		threadUIDs, err = conn.ThreadUIDs()
		if err != nil {
			return fmt.Errorf("deduplicated download: derive non-gmail thread ids: %w", err)
		}
	}

	sortUint32Desc(fullDownload)
	chunkSize := conn.ChunkSize()
	localAfter := totalRemote - len(fullDownload)
	for _, chunk := range chunkUint32(fullDownload, chunkSize) {
		n, err := w.downloadChunk(ctx, conn, chunk, gMeta, threadUIDs, w.folderInfo.Name)
		if err != nil {
			return err
		}
		localAfter += n
		if totalRemote > 0 {
			percent := 100 * localAfter / totalRemote
			w.publish("initial", fmt.Sprintf("%d", percent))
		}
	}
	return nil
}

// linkExistingMessages handles the folderitem_only partition: the message
// bodies are already stored, only a new (account, folder, uid) binding is
// needed, carrying this folder's own flags/labels.
func (w *Worker) linkExistingMessages(ctx context.Context, conn remotemailbox.Connection, uids []uint32, gMeta map[uint32]metacache.Entry, localByMsgID map[uint64]*models.Message, folderName string) error {
	flags, err := conn.FetchFlags(uids)
	if err != nil {
		return fmt.Errorf("deduplicated download: fetch flags for folderitem-only: %w", err)
	}
	items := make([]*models.FolderItem, 0, len(uids))
	for _, uid := range uids {
		msg := localByMsgID[gMeta[uid].MsgID]
		fs := flags[uid]
		items = append(items, &models.FolderItem{
			AccountID: w.account.ID, FolderName: folderName, UID: uid,
			MessageID: msg.ID, Flags: fs.Flags, Labels: fs.Labels,
		})
	}
	if err := w.deps.Store.InsertFolderItems(ctx, items); err != nil {
		return fmt.Errorf("deduplicated download: insert folderitem-only rows: %w", err)
	}
	return nil
}

// downloadChunk fetches one chunk of genuinely new messages, stages their
// part payloads to BlobStore in parallel, waits for ThreadDetector to
// process the batch, and only then commits Messages+FolderItems — the
// ordering guarantee in §5: "all DB writes for a chunk commit only after
// all blob puts for that chunk succeed AND the ThreadDetector has processed
// that batch".
func (w *Worker) downloadChunk(ctx context.Context, conn remotemailbox.Connection, uids []uint32, gMeta map[uint32]metacache.Entry, threadUIDs map[uint32]string, folderName string) (int, error) {
	raws, err := conn.FetchMessages(uids)
	if err != nil {
		return 0, fmt.Errorf("download chunk: fetch messages: %w", err)
	}

	pending := make([]*pendingMessage, 0, len(raws))
	for _, raw := range raws {
		msg := rawToMessage(w.account.ID, raw, gMeta[raw.UID], threadUIDs[raw.UID])
		pending = append(pending, &pendingMessage{uid: raw.UID, raw: raw, msg: msg})
	}

	if err := w.putPartsConcurrently(ctx, pending); err != nil {
		return 0, fmt.Errorf("download chunk: %w: %w", ErrBlobStoreWrite, err)
	}

	messages := make([]*models.Message, len(pending))
	for i, p := range pending {
		messages[i] = p.msg
	}
	if err := w.deps.Detector.AssignBatch(ctx, messages); err != nil {
		return 0, fmt.Errorf("download chunk: thread assignment: %w", err)
	}

	// items[i] pairs with messages[i]/pending[i]; MessageID is left unset
	// here because messages[i].ID doesn't exist yet (the message hasn't been
	// inserted). SaveNewMessages fills it in from the id the INSERT assigns.
	items := make([]*models.FolderItem, len(pending))
	for i, p := range pending {
		items[i] = &models.FolderItem{
			AccountID: w.account.ID, FolderName: folderName, UID: p.uid,
			Flags: p.raw.Flags, Labels: p.raw.Labels,
		}
	}
	if err := w.deps.Store.SaveNewMessages(ctx, messages, items); err != nil {
		return 0, fmt.Errorf("download chunk: commit: %w", err)
	}

	if w.deps.Search != nil {
		for _, msg := range messages {
			if err := w.deps.Search.NotifyNewMessage(ctx, w.account.ID, msg.ID); err != nil {
				w.log.Warn().Err(err).Str("message_id", msg.ID).Msg("search index notification failed")
			}
		}
	}

	return len(messages), nil
}

// putPartsConcurrently fans out one BlobStore.Put per part across every
// pending message and joins before returning; on any failure the whole
// chunk is abandoned uncommitted, grounded on the teacher's errgroup
// fan-out idiom for bounded parallel I/O.
func (w *Worker) putPartsConcurrently(ctx context.Context, pending []*pendingMessage) error {
	g, _ := errgroup.WithContext(ctx)
	for _, p := range pending {
		for i := range p.msg.Parts {
			part := p.raw.Parts[i]
			msg := p.msg
			i := i
			g.Go(func() error {
				key, err := w.deps.Blobs.Put(w.account.ID, part.Bytes)
				if err != nil {
					return err
				}
				msg.Parts[i].BlobKey = key
				msg.Parts[i].SizeBytes = int64(len(part.Bytes))
				return nil
			})
		}
	}
	return g.Wait()
}

func rawToMessage(accountID string, raw *remotemailbox.RawMessage, gMeta metacache.Entry, threadRoot string) *models.Message {
	msg := &models.Message{
		AccountID:       accountID,
		Headers:         raw.Headers,
		ReceivedAt:      raw.Received,
		RFC822MessageID: raw.MessageIDHeader,
	}
	if gMeta.MsgID != 0 {
		id := gMeta.MsgID
		msg.ProviderMsgID = &id
	}
	switch {
	case gMeta.ThrID != "":
		thrid := gMeta.ThrID
		msg.ProviderThrID = &thrid
	case threadRoot != "":
		msg.ProviderThrID = &threadRoot
	}
	for _, p := range raw.Parts {
		msg.Parts = append(msg.Parts, models.Part{ContentType: p.ContentType, Filename: p.Filename})
	}
	return msg
}
