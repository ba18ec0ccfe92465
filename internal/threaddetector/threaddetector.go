// Package threaddetector is the per-account single-consumer worker that
// assigns just-downloaded messages to threads, grounded on the original
// sync engine's ThreadDetector Greenlet (original_source/inbox-server's
// sync.py): a single goroutine drains a queue of message batches and
// assigns each message's provider_thrid to a Thread, using an in-process
// cache that is cleared after every batch so no stale Thread reference
// survives into the next one. Because exactly one goroutine ever calls
// GetOrCreateThread/UpdateThreadFromMessage for a given account, the "at
// most one Thread per provider_thrid" invariant holds without locking in
// the store layer.
package threaddetector

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/store"
)

type job struct {
	messages []*models.Message
	done     chan error
}

// Detector serializes thread assignment for one account.
type Detector struct {
	accountID string
	metadata  store.MetadataStore
	log       zerolog.Logger

	inbox chan job
	quit  chan struct{}
}

// New constructs a Detector for one account. Run must be started in its own
// goroutine by the caller (the AccountSyncSupervisor that owns it).
func New(accountID string, metadata store.MetadataStore, log zerolog.Logger) *Detector {
	return &Detector{
		accountID: accountID,
		metadata:  metadata,
		log:       log,
		inbox:     make(chan job),
		quit:      make(chan struct{}),
	}
}

// Run drains the inbox until ctx is canceled or Stop is called. It is meant
// to run for the lifetime of the owning AccountSyncSupervisor.
func (d *Detector) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.quit:
			return
		case j := <-d.inbox:
			j.done <- d.assignBatch(ctx, j.messages)
		}
	}
}

// Stop ends Run's loop. Safe to call once.
func (d *Detector) Stop() {
	close(d.quit)
}

// AssignBatch hands a batch of newly-downloaded messages to the detector
// goroutine and blocks until every message in the batch has been assigned a
// Thread, matching the ordering guarantee that FolderSyncWorker's commit
// step (persisting Messages/FolderItems to MetadataStore) only runs after
// ThreadDetector has processed the batch.
func (d *Detector) AssignBatch(ctx context.Context, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	done := make(chan error, 1)
	select {
	case d.inbox <- job{messages: messages, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	case <-d.quit:
		return fmt.Errorf("threaddetector: stopped")
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// assignBatch runs on the detector goroutine only. cache maps a
// provider_thrid seen within this batch to its Thread, so multiple messages
// in the same batch sharing a thrid only hit the store once; the cache is
// scoped to the batch and discarded afterward, mirroring the Python
// original's clear_cache() call at the top and bottom of each iteration.
func (d *Detector) assignBatch(ctx context.Context, messages []*models.Message) error {
	cache := make(map[string]*models.Thread)
	for _, msg := range messages {
		if msg.ProviderThrID == nil {
			continue
		}
		thrid := *msg.ProviderThrID

		thread, ok := cache[thrid]
		if !ok {
			t, err := d.metadata.GetOrCreateThread(ctx, d.accountID, thrid)
			if err != nil {
				return fmt.Errorf("threaddetector: get or create thread %s: %w", thrid, err)
			}
			thread = t
			cache[thrid] = thread
		}

		if err := d.metadata.UpdateThreadFromMessage(ctx, thread, msg); err != nil {
			return fmt.Errorf("threaddetector: update thread %s from message: %w", thrid, err)
		}
	}
	d.log.Debug().Int("count", len(messages)).Msg("assigned message batch to threads")
	return nil
}
