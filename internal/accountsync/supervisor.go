// Package accountsync implements AccountSyncSupervisor: the per-account
// supervisor that spawns and monitors FolderSyncWorker instances, owns the
// account's ThreadDetector, enforces the "at most one folder in initial
// state per account" serialization rule, and reacts to shutdown commands.
// Grounded on the teacher's internal/imap worker-pool lifecycle (start,
// monitor, graceful stop) generalized from one connection pool per process
// to one goroutine tree per account.
package accountsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mailsync/core/internal/foldersync"
	"github.com/mailsync/core/internal/logging"
	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/remotemailbox"
	"github.com/mailsync/core/internal/threaddetector"
)

// ErrSupervisorInvariant marks Run returning without an explicit Shutdown
// or context cancellation — spec §4.6: "the internal sync task must never
// return; returning cleanly is an error condition that propagates to the
// process." Run itself never returns it; SyncService wraps a supervisor's
// exit error with it when logging any error other than context.Canceled.
var ErrSupervisorInvariant = errors.New("accountsync: sync task returned without shutdown")

// Deps bundles the collaborators every FolderSyncWorker under this
// supervisor shares, minus the per-account ThreadDetector (owned here) and
// per-folder StatusCallback routing (bound by New).
type Deps struct {
	Pool          remotemailbox.Pool
	Worker        foldersync.Deps // template for each spawned Worker; Detector/Log are overwritten per instance
	Credentials   foldersync.CredentialResolver
	Search        foldersync.SearchNotifier
	PollFrequency time.Duration
	Heartbeat     time.Duration
	Log           zerolog.Logger
}

// Supervisor runs one account's fleet of FolderSyncWorkers plus its
// ThreadDetector.
type Supervisor struct {
	account  *models.Account
	deps     Deps
	statusCB foldersync.StatusCallback
	detector *threaddetector.Detector
	log      zerolog.Logger

	mu       sync.Mutex
	workers  []*foldersync.Worker
	shutdown chan struct{}
	once     sync.Once
}

// New constructs a Supervisor for one account.
func New(account *models.Account, deps Deps, statusCB foldersync.StatusCallback) *Supervisor {
	log := logging.ForAccount(deps.Log, account.ID, account.Email)
	return &Supervisor{
		account:  account,
		deps:     deps,
		statusCB: statusCB,
		detector: threaddetector.New(account.ID, deps.Worker.Store, log),
		log:      log.With().Str("component", "accountsync.supervisor").Logger(),
		shutdown: make(chan struct{}),
	}
}

// Shutdown requests a graceful stop: every worker's context is canceled and
// Run blocks until they exit before returning. Safe to call multiple times
// or concurrently with Run.
func (s *Supervisor) Shutdown() {
	s.once.Do(func() { close(s.shutdown) })
}

// Run is the supervisor's "sync" task. It spawns one FolderSyncWorker per
// syncable folder whose persisted state is not finish, respecting the "no
// concurrent initial syncs" rule, then parks until Shutdown is called or
// ctx is canceled. It must never return except through one of those two
// paths.
func (s *Supervisor) Run(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.detector.Run(workerCtx)
	defer s.detector.Stop()

	folders, err := s.syncableFolders(ctx)
	if err != nil {
		return fmt.Errorf("accountsync: list syncable folders: %w", err)
	}

	var wg sync.WaitGroup
	for _, f := range folders {
		progress, err := s.deps.Worker.Store.GetOrCreateFolderSyncProgress(ctx, s.account.ID, f.Name)
		if err != nil {
			return fmt.Errorf("accountsync: load folder progress %s: %w", f.Name, err)
		}
		if progress.State == models.StateFinish {
			continue
		}

		w := foldersync.New(s.account, f, s.workerDeps(f.Name), s.statusCB)
		s.mu.Lock()
		s.workers = append(s.workers, w)
		s.mu.Unlock()

		wg.Add(1)
		go func(w *foldersync.Worker) {
			defer wg.Done()
			if err := w.Run(workerCtx); err != nil && workerCtx.Err() == nil {
				s.log.Error().Err(err).Str("folder_name", w.FolderName()).Msg("folder worker exited with error")
			}
		}(w)

		if !s.waitUntilPastInitial(ctx, w) {
			break
		}
	}

	select {
	case <-s.shutdown:
		cancel()
		wg.Wait()
		return nil
	case <-ctx.Done():
		wg.Wait()
		return ctx.Err()
	}
}

// waitUntilPastInitial blocks until w has transitioned out of the initial
// state (poll or finish), or a shutdown/cancellation arrives first, in
// which case it returns false so the caller stops spawning more workers.
func (s *Supervisor) waitUntilPastInitial(ctx context.Context, w *foldersync.Worker) bool {
	heartbeat := s.deps.Heartbeat
	if heartbeat <= 0 {
		heartbeat = time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		if w.State() != models.StateInitial {
			return true
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return false
		case <-s.shutdown:
			return false
		}
	}
}

func (s *Supervisor) workerDeps(folderName string) foldersync.Deps {
	d := s.deps.Worker
	d.Detector = s.detector
	d.Log = s.log
	return d
}

func (s *Supervisor) syncableFolders(ctx context.Context) ([]*remotemailbox.FolderInfo, error) {
	secret, err := s.deps.Credentials.Secret(ctx, s.account)
	if err != nil {
		return nil, fmt.Errorf("resolve credential: %w", err)
	}
	lease, err := s.deps.Pool.Lease(ctx, s.account.ID, s.account.Server, s.account.Username, secret)
	if err != nil {
		return nil, fmt.Errorf("lease connection: %w", err)
	}
	defer lease.Release()
	return lease.Conn.SyncFolders()
}
