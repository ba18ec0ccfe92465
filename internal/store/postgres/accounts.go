package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/store"
)

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	if err := row.Scan(
		&a.ID, &a.Email, &a.Provider, &a.Server, &a.Username, &a.EncryptedPassword,
		&a.NamespaceID, &a.SyncHost, &a.SyncActive,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

const accountColumns = `id, email, provider, server, username, encrypted_password, namespace_id, sync_host, sync_active`

// GetAccount returns the account with the given id.
func (s *Store) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, accountID)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// GetAccountByEmail returns the account with the given email address.
func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

// ListAccounts returns every account, used by start_sync/stop_sync when no
// email_address filter is given.
func (s *Store) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

// ListAccountsWithSyncHost returns every account whose sync_host is set,
// used by SyncService startup rehydration.
func (s *Store) ListAccountsWithSyncHost(ctx context.Context) ([]*models.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE sync_host IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list accounts with sync host: %w", err)
	}
	defer rows.Close()
	return scanAccounts(rows)
}

func scanAccounts(rows pgx.Rows) ([]*models.Account, error) {
	var out []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

// SetAccountSyncHost sets (or clears, when host is nil) the FQDN that owns
// this account's sync, implementing the host-affinity lock's persisted half.
func (s *Store) SetAccountSyncHost(ctx context.Context, accountID string, host *string) error {
	_, err := s.pool.Exec(ctx, `UPDATE accounts SET sync_host = $2, sync_active = ($2 IS NOT NULL) WHERE id = $1`, accountID, host)
	if err != nil {
		return fmt.Errorf("set account sync host: %w", err)
	}
	return nil
}
