package foldersync

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/remotemailbox"
)

// handlerFunc is an initial/poll pass returning the state to transition to.
type handlerFunc func(ctx context.Context) (models.SyncState, error)

// maxRetries bounds the retry decorator wrapping initial and poll (§5:
// "retried by a decorator on initial_sync and poll with bounded backoff").
const maxRetries = 5

// withRetry retries handler on errors classified transient
// (remotemailbox.ErrTransient); UID-invalid and any other error are not
// retried and propagate immediately, since UID-invalid is a state
// transition and everything else is, per §7, fatal to the worker.
func withRetry(ctx context.Context, log zerolog.Logger, handler handlerFunc) (models.SyncState, error) {
	var result models.SyncState
	attempt := 0
	op := func() error {
		attempt++
		next, err := handler(ctx)
		if err != nil {
			if errors.Is(err, remotemailbox.ErrTransient) {
				log.Warn().Err(err).Int("attempt", attempt).Msg("transient error, retrying")
				return err
			}
			return backoff.Permanent(err)
		}
		result = next
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", err
	}
	return result, nil
}
