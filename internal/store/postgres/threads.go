package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mailsync/core/internal/models"
)

// GetOrCreateThread returns the Thread for (accountID, providerThrID),
// creating an empty one on first reference. ThreadDetector is the sole
// caller that mutates threads, and it serializes calls per account, so this
// upsert never races against a concurrent writer for the same thrid
// (invariant: at most one Thread per provider_thrid).
func (s *Store) GetOrCreateThread(ctx context.Context, accountID string, providerThrID string) (*models.Thread, error) {
	var t models.Thread
	err := s.pool.QueryRow(ctx, `
		SELECT id, account_id, provider_thrid, subject, participants, latest_date
		FROM threads WHERE account_id = $1 AND provider_thrid = $2
	`, accountID, providerThrID).Scan(&t.ID, &t.AccountID, &t.ProviderThrID, &t.Subject, &t.Participants, &t.LatestDate)
	if errors.Is(err, pgx.ErrNoRows) {
		err = s.pool.QueryRow(ctx, `
			INSERT INTO threads (id, account_id, provider_thrid, subject, participants, latest_date)
			VALUES (gen_random_uuid(), $1, $2, '', '{}', now())
			ON CONFLICT (account_id, provider_thrid) DO UPDATE SET provider_thrid = EXCLUDED.provider_thrid
			RETURNING id, account_id, provider_thrid, subject, participants, latest_date
		`, accountID, providerThrID).Scan(&t.ID, &t.AccountID, &t.ProviderThrID, &t.Subject, &t.Participants, &t.LatestDate)
		if err != nil {
			return nil, fmt.Errorf("create thread: %w", err)
		}
		return &t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get thread: %w", err)
	}
	return &t, nil
}

// UpdateThreadFromMessage advances the thread's latest_date to msg's
// received time when that is later and writes the thread row back; subject
// and participants are written back unchanged, not derived from msg.
// ThreadDetector calls it for each message it assigns.
func (s *Store) UpdateThreadFromMessage(ctx context.Context, thread *models.Thread, msg *models.Message) error {
	if msg.ReceivedAt.After(thread.LatestDate) {
		thread.LatestDate = msg.ReceivedAt
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE threads SET subject = $2, participants = $3, latest_date = $4 WHERE id = $1
	`, thread.ID, thread.Subject, thread.Participants, thread.LatestDate)
	if err != nil {
		return fmt.Errorf("update thread from message: %w", err)
	}
	return nil
}
