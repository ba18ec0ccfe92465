package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mailsync/core/internal/models"
)

// GetOrCreateFolderSyncProgress loads the (account, folder) progress row,
// creating it in the initial state on first worker entry (§3: "created on
// first worker entry and mutated only by that worker").
func (s *Store) GetOrCreateFolderSyncProgress(ctx context.Context, accountID, folderName string) (*models.FolderSyncProgress, error) {
	var p models.FolderSyncProgress
	err := s.pool.QueryRow(ctx, `
		SELECT account_id, folder_name, state FROM folder_sync_progress
		WHERE account_id = $1 AND folder_name = $2
	`, accountID, folderName).Scan(&p.AccountID, &p.FolderName, &p.State)
	if errors.Is(err, pgx.ErrNoRows) {
		p = models.FolderSyncProgress{AccountID: accountID, FolderName: folderName, State: models.StateInitial}
		_, err := s.pool.Exec(ctx, `
			INSERT INTO folder_sync_progress (account_id, folder_name, state) VALUES ($1, $2, $3)
			ON CONFLICT (account_id, folder_name) DO NOTHING
		`, p.AccountID, p.FolderName, p.State)
		if err != nil {
			return nil, fmt.Errorf("create folder sync progress: %w", err)
		}
		return &p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get folder sync progress: %w", err)
	}
	return &p, nil
}

// SaveFolderSyncProgress persists the new state atomically after a handler
// returns (§4.1: "After every handler return the new state is persisted
// atomically").
func (s *Store) SaveFolderSyncProgress(ctx context.Context, progress *models.FolderSyncProgress) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO folder_sync_progress (account_id, folder_name, state) VALUES ($1, $2, $3)
		ON CONFLICT (account_id, folder_name) DO UPDATE SET state = EXCLUDED.state
	`, progress.AccountID, progress.FolderName, progress.State)
	if err != nil {
		return fmt.Errorf("save folder sync progress: %w", err)
	}
	return nil
}

// ListFolderSyncProgress returns every persisted folder state for an
// account.
func (s *Store) ListFolderSyncProgress(ctx context.Context, accountID string) ([]*models.FolderSyncProgress, error) {
	rows, err := s.pool.Query(ctx, `SELECT account_id, folder_name, state FROM folder_sync_progress WHERE account_id = $1`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list folder sync progress: %w", err)
	}
	defer rows.Close()

	var out []*models.FolderSyncProgress
	for rows.Next() {
		var p models.FolderSyncProgress
		if err := rows.Scan(&p.AccountID, &p.FolderName, &p.State); err != nil {
			return nil, fmt.Errorf("scan folder sync progress: %w", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folder sync progress: %w", err)
	}
	return out, nil
}

// GetUIDValidityCheckpoint returns the checkpoint for (account, folder), or
// nil if the folder has never been successfully selected.
func (s *Store) GetUIDValidityCheckpoint(ctx context.Context, accountID, folderName string) (*models.UIDValidityCheckpoint, error) {
	var c models.UIDValidityCheckpoint
	err := s.pool.QueryRow(ctx, `
		SELECT account_id, folder_name, uid_validity, highest_modseq FROM uid_validity_checkpoints
		WHERE account_id = $1 AND folder_name = $2
	`, accountID, folderName).Scan(&c.AccountID, &c.FolderName, &c.UIDValidity, &c.HighestModSeq)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get uidvalidity checkpoint: %w", err)
	}
	return &c, nil
}

// SaveUIDValidityCheckpoint creates or updates the checkpoint after a
// successful SELECT or after applying a MODSEQ delta.
func (s *Store) SaveUIDValidityCheckpoint(ctx context.Context, checkpoint *models.UIDValidityCheckpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO uid_validity_checkpoints (account_id, folder_name, uid_validity, highest_modseq)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, folder_name) DO UPDATE SET
			uid_validity = EXCLUDED.uid_validity, highest_modseq = EXCLUDED.highest_modseq
	`, checkpoint.AccountID, checkpoint.FolderName, checkpoint.UIDValidity, checkpoint.HighestModSeq)
	if err != nil {
		return fmt.Errorf("save uidvalidity checkpoint: %w", err)
	}
	return nil
}

// LocalUIDs returns every UID currently bound to a FolderItem in (account, folder).
func (s *Store) LocalUIDs(ctx context.Context, accountID, folderName string) ([]uint32, error) {
	rows, err := s.pool.Query(ctx, `SELECT uid FROM folder_items WHERE account_id = $1 AND folder_name = $2`, accountID, folderName)
	if err != nil {
		return nil, fmt.Errorf("local uids: %w", err)
	}
	defer rows.Close()

	var out []uint32
	for rows.Next() {
		var uid int64
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan local uid: %w", err)
		}
		out = append(out, uint32(uid))
	}
	return out, rows.Err()
}

// LocalMessagesByUID returns every locally-known UID in (account, folder)
// joined to its Message row, used by resync_uids to recover each existing
// binding's provider_msgid before the UIDs it was keyed by become invalid.
func (s *Store) LocalMessagesByUID(ctx context.Context, accountID, folderName string) (map[uint32]*models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT fi.uid, m.id, m.account_id, m.provider_msgid, m.provider_thrid, m.rfc822_message_id, m.headers, m.received_at
		FROM folder_items fi JOIN messages m ON m.id = fi.message_id
		WHERE fi.account_id = $1 AND fi.folder_name = $2
	`, accountID, folderName)
	if err != nil {
		return nil, fmt.Errorf("local messages by uid: %w", err)
	}
	defer rows.Close()

	out := make(map[uint32]*models.Message)
	for rows.Next() {
		var uid int64
		var m models.Message
		var providerMsgID *int64
		if err := rows.Scan(&uid, &m.ID, &m.AccountID, &providerMsgID, &m.ProviderThrID, &m.RFC822MessageID, &m.Headers, &m.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan local message by uid: %w", err)
		}
		if providerMsgID != nil {
			v := uint64(*providerMsgID)
			m.ProviderMsgID = &v
		}
		out[uint32(uid)] = &m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate local messages by uid: %w", err)
	}
	return out, nil
}

// RemoveFolderItems purges FolderItems for UIDs that have disappeared
// server-side (invariant 7: "no FolderItem has uid in L\R" afterward).
func (s *Store) RemoveFolderItems(ctx context.Context, accountID, folderName string, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	ids := make([]int64, len(uids))
	for i, u := range uids {
		ids[i] = int64(u)
	}
	_, err := s.pool.Exec(ctx, `
		DELETE FROM folder_items WHERE account_id = $1 AND folder_name = $2 AND uid = ANY($3)
	`, accountID, folderName, ids)
	if err != nil {
		return fmt.Errorf("remove folder items: %w", err)
	}
	return nil
}

// UpdateFolderItemFlags applies refreshed flags/labels to one FolderItem
// (the MODSEQ delta's "updated" partition and poll's _update_metadata).
func (s *Store) UpdateFolderItemFlags(ctx context.Context, accountID, folderName string, uid uint32, flags, labels []string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE folder_items SET flags = $4, labels = $5
		WHERE account_id = $1 AND folder_name = $2 AND uid = $3
	`, accountID, folderName, int64(uid), flags, labels)
	if err != nil {
		return fmt.Errorf("update folder item flags: %w", err)
	}
	return nil
}

// RewriteFolderItemUIDs atomically replaces FolderItem.uid values after a
// UIDVALIDITY change, per resync_uids: no message bodies are re-downloaded,
// only the (account, folder, uid) binding moves.
func (s *Store) RewriteFolderItemUIDs(ctx context.Context, accountID, folderName string, uidMapping map[uint32]uint32) error {
	if len(uidMapping) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("rewrite folder item uids: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for oldUID, newUID := range uidMapping {
		if oldUID == newUID {
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE folder_items SET uid = $4
			WHERE account_id = $1 AND folder_name = $2 AND uid = $3
		`, accountID, folderName, int64(oldUID), int64(newUID)); err != nil {
			return fmt.Errorf("rewrite folder item uid %d->%d: %w", oldUID, newUID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("rewrite folder item uids: commit: %w", err)
	}
	return nil
}
