// Package store defines the MetadataStore collaborator: transactional
// persistence of accounts, folder-sync progress, UID-validity checkpoints,
// messages, folder-items, and threads. internal/store/postgres provides the
// concrete PostgreSQL-backed implementation; internal/foldersync,
// internal/accountsync, internal/threaddetector, and internal/syncservice
// depend only on this interface so they can be unit-tested against
// in-memory fakes.
package store

import (
	"context"
	"errors"

	"github.com/mailsync/core/internal/models"
)

// ErrNotFound is returned when a lookup by key finds no row.
var ErrNotFound = errors.New("store: not found")

// MetadataStore is the persistence contract every sync-engine component
// depends on.
type MetadataStore interface {
	// Accounts

	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	ListAccountsWithSyncHost(ctx context.Context) ([]*models.Account, error)
	SetAccountSyncHost(ctx context.Context, accountID string, host *string) error

	// Credentials

	GetCredential(ctx context.Context, accountID, scope string) (*models.Credential, error)
	SaveCredential(ctx context.Context, cred *models.Credential) error
	InvalidateCredential(ctx context.Context, accountID, scope string) error

	// FolderSyncProgress

	GetOrCreateFolderSyncProgress(ctx context.Context, accountID, folderName string) (*models.FolderSyncProgress, error)
	SaveFolderSyncProgress(ctx context.Context, progress *models.FolderSyncProgress) error
	ListFolderSyncProgress(ctx context.Context, accountID string) ([]*models.FolderSyncProgress, error)

	// UIDValidityCheckpoint

	GetUIDValidityCheckpoint(ctx context.Context, accountID, folderName string) (*models.UIDValidityCheckpoint, error)
	SaveUIDValidityCheckpoint(ctx context.Context, checkpoint *models.UIDValidityCheckpoint) error

	// FolderItem / Message

	LocalUIDs(ctx context.Context, accountID, folderName string) ([]uint32, error)
	LocalMessagesByUID(ctx context.Context, accountID, folderName string) (map[uint32]*models.Message, error)
	RemoveFolderItems(ctx context.Context, accountID, folderName string, uids []uint32) error
	FindMessagesByProviderMsgIDs(ctx context.Context, accountID string, msgIDs []uint64) (map[uint64]*models.Message, error)
	InsertFolderItems(ctx context.Context, items []*models.FolderItem) error
	// SaveNewMessages inserts messages and items in one transaction. messages
	// and items must be the same length and paired by index (items[i] binds
	// to messages[i]); each message's id is assigned by the insert itself,
	// so the implementation overwrites items[i].MessageID from the newly
	// assigned messages[i].ID rather than trusting whatever the caller set.
	SaveNewMessages(ctx context.Context, messages []*models.Message, items []*models.FolderItem) error
	UpdateFolderItemFlags(ctx context.Context, accountID, folderName string, uid uint32, flags, labels []string) error
	RewriteFolderItemUIDs(ctx context.Context, accountID, folderName string, uidMapping map[uint32]uint32) error
	MessageByProviderMsgID(ctx context.Context, accountID string, msgID uint64) (*models.Message, error)

	// Thread

	GetOrCreateThread(ctx context.Context, accountID string, providerThrID string) (*models.Thread, error)
	UpdateThreadFromMessage(ctx context.Context, thread *models.Thread, msg *models.Message) error
}
