package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/store"
)

// GetCredential returns the credential row for (accountID, scope).
func (s *Store) GetCredential(ctx context.Context, accountID, scope string) (*models.Credential, error) {
	var c models.Credential
	err := s.pool.QueryRow(ctx, `
		SELECT account_id, scope, encrypted_refresh_token, encrypted_access_token, expiry, is_valid
		FROM credentials WHERE account_id = $1 AND scope = $2
	`, accountID, scope).Scan(&c.AccountID, &c.Scope, &c.EncryptedRefreshToken, &c.EncryptedAccessToken, &c.Expiry, &c.IsValid)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &c, nil
}

// SaveCredential inserts or updates a credential row.
func (s *Store) SaveCredential(ctx context.Context, cred *models.Credential) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO credentials (account_id, scope, encrypted_refresh_token, encrypted_access_token, expiry, is_valid)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (account_id, scope) DO UPDATE SET
			encrypted_refresh_token = EXCLUDED.encrypted_refresh_token,
			encrypted_access_token = EXCLUDED.encrypted_access_token,
			expiry = EXCLUDED.expiry,
			is_valid = EXCLUDED.is_valid
	`, cred.AccountID, cred.Scope, cred.EncryptedRefreshToken, cred.EncryptedAccessToken, cred.Expiry, cred.IsValid)
	if err != nil {
		return fmt.Errorf("save credential: %w", err)
	}
	return nil
}

// InvalidateCredential marks a credential non-retriable after a non-retriable
// OAuth refresh failure (§7 "OAuth/credential failure").
func (s *Store) InvalidateCredential(ctx context.Context, accountID, scope string) error {
	_, err := s.pool.Exec(ctx, `UPDATE credentials SET is_valid = false WHERE account_id = $1 AND scope = $2`, accountID, scope)
	if err != nil {
		return fmt.Errorf("invalidate credential: %w", err)
	}
	return nil
}
