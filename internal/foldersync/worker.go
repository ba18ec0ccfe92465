package foldersync

import (
	"context"
	"errors"
	"fmt"

	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/remotemailbox"
)

// State returns the worker's last-observed state, read by
// AccountSyncSupervisor to enforce "do not spawn the next worker until the
// previous one has transitioned out of initial" (§4.6). Backed by an
// atomic.Value so the supervisor's polling goroutine can read it lock-free.
func (w *Worker) State() models.SyncState {
	v := w.state.Load()
	if v == nil {
		return models.StateInitial
	}
	return v.(models.SyncState)
}

// Run drives the state machine to completion (state == finish) or until ctx
// is canceled. Each handler is idempotent and the new state is persisted
// atomically after every handler return (§4.1), so a kill between a
// handler's last write and this commit is observably identical to a clean
// restart.
func (w *Worker) Run(ctx context.Context) error {
	progress, err := w.deps.Store.GetOrCreateFolderSyncProgress(ctx, w.account.ID, w.folderInfo.Name)
	if err != nil {
		return fmt.Errorf("foldersync: load progress: %w", err)
	}
	w.setState(progress.State)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		current := w.State()
		next, err := w.dispatch(ctx, current)
		if err != nil {
			if errors.Is(err, remotemailbox.ErrUIDInvalid) {
				next = uidInvalidState(current)
				w.log.Warn().Str("state", string(current)).Msg("uidvalidity changed, transitioning to recovery state")
			} else {
				return fmt.Errorf("foldersync: %s handler: %w", current, err)
			}
		}

		if err := w.deps.Store.SaveFolderSyncProgress(ctx, &models.FolderSyncProgress{
			AccountID:  w.account.ID,
			FolderName: w.folderInfo.Name,
			State:      next,
		}); err != nil {
			return fmt.Errorf("foldersync: persist state %s: %w", next, err)
		}
		w.setState(next)

		if next == models.StateFinish {
			return nil
		}
	}
}

func (w *Worker) setState(s models.SyncState) {
	w.state.Store(s)
}

func uidInvalidState(current models.SyncState) models.SyncState {
	if current == models.StatePoll {
		return models.StatePollUIDInvalid
	}
	return models.StateInitialUIDInvalid
}

func (w *Worker) dispatch(ctx context.Context, state models.SyncState) (models.SyncState, error) {
	switch state {
	case models.StateInitial:
		return withRetry(ctx, w.log, w.initialSync)
	case models.StateInitialUIDInvalid:
		return w.resyncUIDs(ctx, models.StateInitial)
	case models.StatePoll:
		return withRetry(ctx, w.log, w.poll)
	case models.StatePollUIDInvalid:
		return w.resyncUIDs(ctx, models.StatePoll)
	case models.StateFinish:
		return models.StateFinish, nil
	default:
		return "", fmt.Errorf("foldersync: unknown state %q", state)
	}
}
