// Package syncservice is the process-wide control plane: a registry of
// per-account AccountSyncSupervisors, the status tree RPC clients poll, and
// the host-affinity lock that keeps a given account syncing on exactly one
// host. Grounded on the teacher's internal/imap/service.go, which plays the
// analogous role of owning a pool's lifecycle and exposing start/stop/status
// operations to its own RPC-ish caller.
package syncservice

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mailsync/core/internal/accountsync"
	"github.com/mailsync/core/internal/foldersync"
	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/store"
)

// FolderState is one entry of the status tree: (state_label, progress) per
// spec.md §6's SyncStatus/Status shape.
type FolderState struct {
	State    string `msgpack:"state"`
	Progress string `msgpack:"progress"`
}

// Service is the singleton control plane run by cmd/server. Its
// accountsync.Deps template supplies every AccountSyncSupervisor it spawns
// with the Pool/Store/Blobs/Meta/Credentials/Search collaborators.
type Service struct {
	store    store.MetadataStore
	deps     accountsync.Deps
	hostname string
	log      zerolog.Logger

	mu       sync.RWMutex
	monitors map[string]*monitorEntry
	statuses map[string]map[string]FolderState
}

type monitorEntry struct {
	supervisor *accountsync.Supervisor
	cancel     context.CancelFunc
	done       chan struct{}
}

// New constructs a Service. hostname identifies this process for the
// sync_host affinity lock (config.Config.SyncHost).
func New(metadata store.MetadataStore, accountDeps accountsync.Deps, hostname string, log zerolog.Logger) *Service {
	return &Service{
		store:    metadata,
		deps:     accountDeps,
		hostname: hostname,
		log:      log.With().Str("component", "syncservice").Logger(),
		monitors: make(map[string]*monitorEntry),
		statuses: make(map[string]map[string]FolderState),
	}
}

// Rehydrate resumes supervisors for every account whose persisted sync_host
// already names this process, restoring sync state across a process
// restart without the RPC caller needing to call StartSync again.
func (s *Service) Rehydrate(ctx context.Context) error {
	accounts, err := s.store.ListAccountsWithSyncHost(ctx)
	if err != nil {
		return fmt.Errorf("syncservice: rehydrate: %w", err)
	}
	for _, account := range accounts {
		if account.SyncHost == nil || *account.SyncHost != s.hostname {
			continue
		}
		s.log.Info().Str("account_id", account.ID).Str("email", account.Email).Msg("rehydrating sync for account")
		s.spawn(account)
	}
	return nil
}

// StartSync starts syncing one account, identified by email address.
// Matches spec.md §6: "OK sync started" | "OK sync already started" |
// "OK no such user" | "ERROR ..." | "Account X is syncing on host Y".
func (s *Service) StartSync(ctx context.Context, emailAddress string) string {
	account, err := s.store.GetAccountByEmail(ctx, emailAddress)
	if errors.Is(err, store.ErrNotFound) {
		return "OK no such user"
	}
	if err != nil {
		s.log.Error().Err(err).Str("email", emailAddress).Msg("start_sync: failed to load account")
		return "ERROR " + err.Error()
	}

	s.mu.Lock()
	if _, running := s.monitors[account.ID]; running {
		s.mu.Unlock()
		return "OK sync already started"
	}
	s.mu.Unlock()

	if account.SyncHost != nil && *account.SyncHost != s.hostname {
		return fmt.Sprintf("Account %s is syncing on host %s", account.Email, *account.SyncHost)
	}

	host := s.hostname
	if err := s.store.SetAccountSyncHost(ctx, account.ID, &host); err != nil {
		s.log.Error().Err(err).Str("account_id", account.ID).Msg("start_sync: failed to acquire sync_host lock")
		return "ERROR " + err.Error()
	}

	s.spawn(account)
	return "OK sync started"
}

// StartSyncAll applies StartSync to every known account, used for the
// email_address-omitted RPC shape.
func (s *Service) StartSyncAll(ctx context.Context) (map[string]string, error) {
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncservice: start_sync_all: %w", err)
	}
	out := make(map[string]string, len(accounts))
	for _, account := range accounts {
		out[account.Email] = s.StartSync(ctx, account.Email)
	}
	return out, nil
}

// StopSync stops syncing one account. Blocks until the supervisor's worker
// tree has fully unwound before returning, so a subsequent StartSync never
// races a still-shutting-down supervisor.
func (s *Service) StopSync(ctx context.Context, emailAddress string) string {
	account, err := s.store.GetAccountByEmail(ctx, emailAddress)
	if errors.Is(err, store.ErrNotFound) {
		return "OK no such user"
	}
	if err != nil {
		s.log.Error().Err(err).Str("email", emailAddress).Msg("stop_sync: failed to load account")
		return "ERROR " + err.Error()
	}

	s.mu.Lock()
	entry, running := s.monitors[account.ID]
	if !running {
		s.mu.Unlock()
		return "OK sync stopped already"
	}
	delete(s.monitors, account.ID)
	delete(s.statuses, account.ID)
	s.mu.Unlock()

	entry.supervisor.Shutdown()
	entry.cancel()
	<-entry.done

	if err := s.store.SetAccountSyncHost(ctx, account.ID, nil); err != nil {
		s.log.Error().Err(err).Str("account_id", account.ID).Msg("stop_sync: failed to release sync_host lock")
	}
	return "OK sync stopped"
}

// StopSyncAll applies StopSync to every currently-monitored account.
func (s *Service) StopSyncAll(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.monitors))
	for id := range s.monitors {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make(map[string]string, len(ids))
	for _, id := range ids {
		account, err := s.store.GetAccount(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("syncservice: stop_sync_all: %w", err)
		}
		out[account.Email] = s.StopSync(ctx, account.Email)
	}
	return out, nil
}

// SyncStatus returns the status tree for one account, or nil if the
// account is not currently monitored by this process.
func (s *Service) SyncStatus(accountID string) map[string]FolderState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	folders, ok := s.statuses[accountID]
	if !ok {
		return nil
	}
	out := make(map[string]FolderState, len(folders))
	for k, v := range folders {
		out[k] = v
	}
	return out
}

// Status returns the status tree for every account this process monitors.
func (s *Service) Status() map[string]map[string]FolderState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]map[string]FolderState, len(s.statuses))
	for accountID, folders := range s.statuses {
		copyFolders := make(map[string]FolderState, len(folders))
		for k, v := range folders {
			copyFolders[k] = v
		}
		out[accountID] = copyFolders
	}
	return out
}

// Shutdown stops every account this process currently monitors, used on
// process exit.
func (s *Service) Shutdown() {
	s.mu.RLock()
	entries := make([]*monitorEntry, 0, len(s.monitors))
	for _, e := range s.monitors {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	for _, e := range entries {
		e.supervisor.Shutdown()
		e.cancel()
	}
	for _, e := range entries {
		<-e.done
	}
}

func (s *Service) spawn(account *models.Account) {
	supervisor := accountsync.New(account, s.deps, func(p foldersync.Progress) {
		s.recordProgress(p)
	})

	ctx, cancel := context.WithCancel(context.Background())
	entry := &monitorEntry{supervisor: supervisor, cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.monitors[account.ID] = entry
	s.statuses[account.ID] = make(map[string]FolderState)
	s.mu.Unlock()

	go func() {
		defer close(entry.done)
		err := supervisor.Run(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error().Err(fmt.Errorf("%w: %v", accountsync.ErrSupervisorInvariant, err)).
				Str("account_id", account.ID).Msg("account supervisor exited unexpectedly")
		}
	}()
}

func (s *Service) recordProgress(p foldersync.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	folders, ok := s.statuses[p.AccountID]
	if !ok {
		folders = make(map[string]FolderState)
		s.statuses[p.AccountID] = folders
	}
	folders[p.Folder] = FolderState{State: p.Label, Progress: p.Value}
}
