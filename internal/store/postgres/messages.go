package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/store"
)

// FindMessagesByProviderMsgIDs returns the Messages for this account whose
// provider_msgid is in msgIDs, keyed by provider_msgid. Used by the
// deduplicated-download algorithm's "local_msgids" lookup (§4.3).
func (s *Store) FindMessagesByProviderMsgIDs(ctx context.Context, accountID string, msgIDs []uint64) (map[uint64]*models.Message, error) {
	out := make(map[uint64]*models.Message)
	if len(msgIDs) == 0 {
		return out, nil
	}
	ids := make([]int64, len(msgIDs))
	for i, id := range msgIDs {
		ids[i] = int64(id)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, account_id, provider_msgid, provider_thrid, rfc822_message_id, headers, received_at
		FROM messages WHERE account_id = $1 AND provider_msgid = ANY($2)
	`, accountID, ids)
	if err != nil {
		return nil, fmt.Errorf("find messages by provider msgid: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		msg, msgID, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if msgID != nil {
			out[*msgID] = msg
		}
	}
	return out, rows.Err()
}

// MessageByProviderMsgID returns the single Message with the given
// provider_msgid for this account, or store.ErrNotFound.
func (s *Store) MessageByProviderMsgID(ctx context.Context, accountID string, msgID uint64) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, account_id, provider_msgid, provider_thrid, rfc822_message_id, headers, received_at
		FROM messages WHERE account_id = $1 AND provider_msgid = $2
	`, accountID, int64(msgID))
	msg, _, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("message by provider msgid: %w", err)
	}
	return msg, nil
}

func scanMessage(row pgx.Row) (*models.Message, *uint64, error) {
	var m models.Message
	var providerMsgID *int64
	var providerThrID *string
	if err := row.Scan(&m.ID, &m.AccountID, &providerMsgID, &providerThrID, &m.RFC822MessageID, &m.Headers, &m.ReceivedAt); err != nil {
		return nil, nil, err
	}
	var out *uint64
	if providerMsgID != nil {
		u := uint64(*providerMsgID)
		m.ProviderMsgID = &u
		out = &u
	}
	m.ProviderThrID = providerThrID
	return &m, out, nil
}

// InsertFolderItems inserts FolderItem rows linking UIDs to already-known
// Messages (the folderitem_only partition of the deduplicated download).
func (s *Store) InsertFolderItems(ctx context.Context, items []*models.FolderItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("insert folder items: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, item := range items {
		if err := insertFolderItem(ctx, tx, item); err != nil {
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("insert folder items: commit: %w", err)
	}
	return nil
}

func insertFolderItem(ctx context.Context, tx pgx.Tx, item *models.FolderItem) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO folder_items (account_id, folder_name, uid, message_id, flags, labels)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, folder_name, uid) DO UPDATE SET
			message_id = EXCLUDED.message_id, flags = EXCLUDED.flags, labels = EXCLUDED.labels
	`, item.AccountID, item.FolderName, int64(item.UID), item.MessageID, item.Flags, item.Labels)
	if err != nil {
		return fmt.Errorf("insert folder item uid %d: %w", item.UID, err)
	}
	return nil
}

// SaveNewMessages commits newly-downloaded Messages (with their Parts) and
// the FolderItems that bind them to UIDs, in a single transaction. This is
// the commit step of _download_new_messages: it only runs after blob puts
// for the chunk have succeeded and ThreadDetector has processed the batch
// (§5 ordering guarantees). messages and items must be the same length,
// paired by index (items[i] binds to messages[i]): a Message's id is only
// assigned here via INSERT ... RETURNING id, so callers cannot know it in
// advance, and items[i].MessageID is overwritten from the freshly-inserted
// messages[i].ID before the item row is written. Folder items that bind to
// an already-persisted Message (the folderitem_only/relink paths) must go
// through InsertFolderItems instead, where MessageID is already valid.
func (s *Store) SaveNewMessages(ctx context.Context, messages []*models.Message, items []*models.FolderItem) error {
	if len(messages) == 0 && len(items) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("save new messages: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, msg := range messages {
		var providerMsgID *int64
		if msg.ProviderMsgID != nil {
			v := int64(*msg.ProviderMsgID)
			providerMsgID = &v
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO messages (id, account_id, provider_msgid, provider_thrid, rfc822_message_id, headers, received_at)
			VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
			RETURNING id
		`, msg.AccountID, providerMsgID, msg.ProviderThrID, msg.RFC822MessageID, msg.Headers, msg.ReceivedAt).Scan(&msg.ID)
		if err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		if i < len(items) {
			items[i].MessageID = msg.ID
		}
		for _, part := range msg.Parts {
			if _, err := tx.Exec(ctx, `
				INSERT INTO parts (id, message_id, content_type, filename, blob_key, size_bytes)
				VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
			`, msg.ID, part.ContentType, part.Filename, part.BlobKey, part.SizeBytes); err != nil {
				return fmt.Errorf("insert part: %w", err)
			}
		}
	}

	for _, item := range items {
		if err := insertFolderItem(ctx, tx, item); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("save new messages: commit: %w", err)
	}
	return nil
}
