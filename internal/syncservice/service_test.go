package syncservice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsync/core/internal/accountsync"
	"github.com/mailsync/core/internal/foldersync"
	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/remotemailbox"
	"github.com/mailsync/core/internal/store"
)

// fakeStore implements only the store.MetadataStore methods StartSync,
// StopSync, and Rehydrate exercise; everything else is unreachable given
// erroringPool below makes every spawned supervisor fail its very first
// lease attempt instead of progressing into folder sync.
type fakeStore struct {
	store.MetadataStore

	mu       sync.Mutex
	accounts map[string]*models.Account // by ID
	byEmail  map[string]*models.Account
}

func newFakeStore(accounts ...*models.Account) *fakeStore {
	fs := &fakeStore{accounts: map[string]*models.Account{}, byEmail: map[string]*models.Account{}}
	for _, a := range accounts {
		fs.accounts[a.ID] = a
		fs.byEmail[a.Email] = a
	}
	return fs
}

func (f *fakeStore) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.byEmail[email]
	if !ok {
		return nil, store.ErrNotFound
	}
	return a, nil
}

func (f *fakeStore) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Account, 0, len(f.accounts))
	for _, a := range f.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (f *fakeStore) ListAccountsWithSyncHost(ctx context.Context) ([]*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Account
	for _, a := range f.accounts {
		if a.SyncHost != nil {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeStore) SetAccountSyncHost(ctx context.Context, accountID string, host *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	a.SyncHost = host
	return nil
}

// erroringPool fails every Lease immediately, so a spawned
// AccountSyncSupervisor's Run returns a non-nil, non-context.Canceled error
// right away instead of progressing into real IMAP traffic.
type erroringPool struct{}

func (erroringPool) Lease(ctx context.Context, accountID string, server, username, password string) (*remotemailbox.Lease, error) {
	return nil, errors.New("erroringPool: lease refused")
}
func (erroringPool) RemoveAccount(accountID string) {}
func (erroringPool) Close()                         {}

type fakeCredentials struct{}

func (fakeCredentials) Secret(ctx context.Context, account *models.Account) (string, error) {
	return "secret", nil
}

func newTestService(accounts ...*models.Account) (*Service, *fakeStore) {
	fs := newFakeStore(accounts...)
	deps := accountsync.Deps{
		Pool: erroringPool{},
		Worker: foldersync.Deps{
			Pool:        erroringPool{},
			Store:       fs,
			Credentials: fakeCredentials{},
			Log:         zerolog.Nop(),
		},
		Credentials: fakeCredentials{},
		Heartbeat:   time.Millisecond,
		Log:         zerolog.Nop(),
	}
	return New(fs, deps, "host-a", zerolog.Nop()), fs
}

func TestStartSyncNoSuchUser(t *testing.T) {
	svc, _ := newTestService()
	assert.Equal(t, "OK no such user", svc.StartSync(context.Background(), "nobody@example.com"))
}

func TestStartSyncThenAlreadyStarted(t *testing.T) {
	account := &models.Account{ID: "a1", Email: "a@example.com"}
	svc, _ := newTestService(account)

	assert.Equal(t, "OK sync started", svc.StartSync(context.Background(), "a@example.com"))
	assert.Equal(t, "OK sync already started", svc.StartSync(context.Background(), "a@example.com"))

	assert.Equal(t, "OK sync stopped", svc.StopSync(context.Background(), "a@example.com"))
}

func TestStartSyncRejectsAccountOwnedByAnotherHost(t *testing.T) {
	otherHost := "host-b"
	account := &models.Account{ID: "a1", Email: "a@example.com", SyncHost: &otherHost}
	svc, _ := newTestService(account)

	got := svc.StartSync(context.Background(), "a@example.com")
	assert.Equal(t, "Account a@example.com is syncing on host host-b", got)
}

func TestStopSyncAlreadyStopped(t *testing.T) {
	account := &models.Account{ID: "a1", Email: "a@example.com"}
	svc, _ := newTestService(account)
	assert.Equal(t, "OK sync stopped already", svc.StopSync(context.Background(), "a@example.com"))
}

func TestStopSyncNoSuchUser(t *testing.T) {
	svc, _ := newTestService()
	assert.Equal(t, "OK no such user", svc.StopSync(context.Background(), "nobody@example.com"))
}

func TestStopSyncReleasesHostLock(t *testing.T) {
	account := &models.Account{ID: "a1", Email: "a@example.com"}
	svc, fs := newTestService(account)

	require.Equal(t, "OK sync started", svc.StartSync(context.Background(), "a@example.com"))
	require.Equal(t, "OK sync stopped", svc.StopSync(context.Background(), "a@example.com"))

	fs.mu.Lock()
	host := fs.accounts["a1"].SyncHost
	fs.mu.Unlock()
	assert.Nil(t, host)
}

func TestSyncStatusUnknownAccountReturnsNil(t *testing.T) {
	svc, _ := newTestService()
	assert.Nil(t, svc.SyncStatus("unknown"))
}

func TestRecordProgressVisibleThroughStatus(t *testing.T) {
	svc, _ := newTestService()
	svc.mu.Lock()
	svc.statuses["a1"] = map[string]FolderState{}
	svc.mu.Unlock()

	svc.recordProgress(foldersync.Progress{AccountID: "a1", Label: "poll", Folder: "INBOX", Value: "2026-08-01T00:00:00Z"})

	status := svc.SyncStatus("a1")
	require.Contains(t, status, "INBOX")
	assert.Equal(t, FolderState{State: "poll", Progress: "2026-08-01T00:00:00Z"}, status["INBOX"])

	all := svc.Status()
	require.Contains(t, all, "a1")
}

func TestStartSyncAllCoversEveryAccount(t *testing.T) {
	a1 := &models.Account{ID: "a1", Email: "a@example.com"}
	a2 := &models.Account{ID: "a2", Email: "b@example.com"}
	svc, _ := newTestService(a1, a2)

	results, err := svc.StartSyncAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "OK sync started", results["a@example.com"])
	assert.Equal(t, "OK sync started", results["b@example.com"])

	svc.Shutdown()
}
