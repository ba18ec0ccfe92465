package threaddetector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/store"
)

// fakeStore implements the slice of store.MetadataStore that ThreadDetector
// exercises (GetOrCreateThread, UpdateThreadFromMessage); embedding the nil
// interface satisfies the rest of the contract without needing to fake the
// whole persistence surface for a component that only ever touches threads.
type fakeStore struct {
	store.MetadataStore

	mu          sync.Mutex
	threads     map[string]*models.Thread // keyed by provider_thrid
	getOrCreate int
	updates     []string // provider_thrid, one entry per UpdateThreadFromMessage call
}

func newFakeStore() *fakeStore {
	return &fakeStore{threads: make(map[string]*models.Thread)}
}

func (f *fakeStore) GetOrCreateThread(ctx context.Context, accountID, providerThrID string) (*models.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getOrCreate++
	if t, ok := f.threads[providerThrID]; ok {
		return t, nil
	}
	thrid := providerThrID
	t := &models.Thread{ID: "thread-" + providerThrID, AccountID: accountID, ProviderThrID: &thrid}
	f.threads[providerThrID] = t
	return t, nil
}

func (f *fakeStore) UpdateThreadFromMessage(ctx context.Context, thread *models.Thread, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, *thread.ProviderThrID)
	return nil
}

func (f *fakeStore) threadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.threads)
}

func msg(thrid string) *models.Message {
	t := thrid
	return &models.Message{ID: "msg-" + thrid, ProviderThrID: &t}
}

func runDetector(t *testing.T, fs *fakeStore) (*Detector, func()) {
	t.Helper()
	d := New("acct-1", fs, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	return d, cancel
}

func TestAssignBatchDedupsWithinBatch(t *testing.T) {
	fs := newFakeStore()
	d, cancel := runDetector(t, fs)
	defer cancel()

	batch := []*models.Message{msg("T1"), msg("T1"), msg("T2")}
	require.NoError(t, d.AssignBatch(context.Background(), batch))

	assert.Equal(t, 2, fs.threadCount())
	assert.Equal(t, 2, fs.getOrCreate, "each distinct thrid within a batch loads the thread exactly once")
	assert.Len(t, fs.updates, 3, "every message still gets UpdateThreadFromMessage")
}

func TestAssignBatchSkipsMessagesWithoutThrID(t *testing.T) {
	fs := newFakeStore()
	d, cancel := runDetector(t, fs)
	defer cancel()

	batch := []*models.Message{{ID: "no-thread"}, msg("T1")}
	require.NoError(t, d.AssignBatch(context.Background(), batch))

	assert.Equal(t, 1, fs.threadCount())
	assert.Len(t, fs.updates, 1)
}

func TestAssignBatchEmptyIsNoop(t *testing.T) {
	fs := newFakeStore()
	d, cancel := runDetector(t, fs)
	defer cancel()

	require.NoError(t, d.AssignBatch(context.Background(), nil))
	assert.Equal(t, 0, fs.threadCount())
}

// TestConcurrentOverlappingBatchesProduceOneThreadPerThrID is scenario 6
// from spec §8: two folders hand the same provider_thrid to the detector in
// overlapping batches; because AssignBatch serializes through one inbox
// channel, exactly one Thread row ever gets created per thrid and both
// completion events fire.
func TestConcurrentOverlappingBatchesProduceOneThreadPerThrID(t *testing.T) {
	fs := newFakeStore()
	d, cancel := runDetector(t, fs)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- d.AssignBatch(context.Background(), []*models.Message{msg("SHARED")})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, 1, fs.threadCount(), "exactly one Thread row per provider_thrid across overlapping batches")
}

func TestStopEndsRunLoop(t *testing.T) {
	fs := newFakeStore()
	d := New("acct-1", fs, zerolog.Nop())
	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	d.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	err := d.AssignBatch(context.Background(), []*models.Message{msg("T1")})
	assert.Error(t, err, "AssignBatch after Stop must not hang or silently succeed")
}
