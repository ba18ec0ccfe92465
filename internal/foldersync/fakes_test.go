package foldersync

import (
	"context"
	"sync"

	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/remotemailbox"
	"github.com/mailsync/core/internal/store"
)

// fakeConn is an in-memory stand-in for remotemailbox.Connection, letting
// the worker's state-machine handlers run against scripted remote mailbox
// state instead of a real IMAP server.
type fakeConn struct {
	selectInfo   *remotemailbox.SelectInfo
	uids         []uint32
	gMetadata    map[uint32]remotemailbox.GMetadata
	envelopeIDs  map[uint32]string
	flags        map[uint32]remotemailbox.FlagSet
	messages     map[uint32]*remotemailbox.RawMessage
	threadUIDs   map[uint32]string
	capabilities remotemailbox.Capabilities
	chunkSize    int

	fetchMessagesCalls [][]uint32
}

func (c *fakeConn) SelectFolder(name string, cb remotemailbox.ValidityCallback) (*remotemailbox.SelectInfo, error) {
	if cb != nil {
		if err := cb(name, c.selectInfo); err != nil {
			return c.selectInfo, err
		}
	}
	return c.selectInfo, nil
}

func (c *fakeConn) FolderStatus(name string) (*remotemailbox.FolderStatus, error) {
	return &remotemailbox.FolderStatus{
		UIDValidity:   c.selectInfo.UIDValidity,
		HighestModSeq: c.selectInfo.HighestModSeq,
		Messages:      c.selectInfo.Exists,
	}, nil
}

func (c *fakeConn) FolderNames() (map[string]string, error) { return map[string]string{}, nil }

func (c *fakeConn) AllUIDs() ([]uint32, error) { return c.uids, nil }

func (c *fakeConn) FetchFlags(uids []uint32) (map[uint32]remotemailbox.FlagSet, error) {
	out := make(map[uint32]remotemailbox.FlagSet, len(uids))
	for _, uid := range uids {
		if fs, ok := c.flags[uid]; ok {
			out[uid] = fs
		}
	}
	return out, nil
}

func (c *fakeConn) FetchMessages(uids []uint32) ([]*remotemailbox.RawMessage, error) {
	c.fetchMessagesCalls = append(c.fetchMessagesCalls, uids)
	out := make([]*remotemailbox.RawMessage, 0, len(uids))
	for _, uid := range uids {
		if m, ok := c.messages[uid]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *fakeConn) EnvelopeMessageIDs(uids []uint32) (map[uint32]string, error) {
	out := make(map[uint32]string, len(uids))
	for _, uid := range uids {
		if id, ok := c.envelopeIDs[uid]; ok {
			out[uid] = id
		}
	}
	return out, nil
}

func (c *fakeConn) NewAndUpdatedUIDs(sinceModSeq uint64) ([]uint32, error) { return nil, nil }

func (c *fakeConn) GMetadata(uids []uint32) (map[uint32]remotemailbox.GMetadata, error) {
	out := make(map[uint32]remotemailbox.GMetadata, len(uids))
	for _, uid := range uids {
		if m, ok := c.gMetadata[uid]; ok {
			out[uid] = m
		}
	}
	return out, nil
}

func (c *fakeConn) ExpandThreads(thrids []uint64) ([]uint32, error) { return nil, nil }

func (c *fakeConn) ThreadUIDs() (map[uint32]string, error) { return c.threadUIDs, nil }

func (c *fakeConn) ChunkSize() int {
	if c.chunkSize == 0 {
		return 100
	}
	return c.chunkSize
}

func (c *fakeConn) Capabilities() remotemailbox.Capabilities { return c.capabilities }

// fakePool hands out a single scripted fakeConn, ignoring credentials.
type fakePool struct {
	conn *fakeConn
}

func (p *fakePool) Lease(ctx context.Context, accountID, server, username, password string) (*remotemailbox.Lease, error) {
	l := &remotemailbox.Lease{Conn: p.conn}
	return l, nil
}

func (p *fakePool) RemoveAccount(accountID string) {}

func (p *fakePool) Close() {}

// fakeCredentials always resolves to the same plaintext secret.
type fakeCredentials struct{ secret string }

func (f *fakeCredentials) Secret(ctx context.Context, account *models.Account) (string, error) {
	return f.secret, nil
}

// fakeStore implements the MetadataStore slice foldersync's algorithms
// exercise, in memory, embedding the nil interface so unused methods panic
// loudly if a code path starts calling them instead of silently no-opping.
type fakeStore struct {
	store.MetadataStore

	mu sync.Mutex

	localUIDs         map[uint32]string // uid -> message id
	messagesByUID     map[uint32]*models.Message
	messagesByMsgID   map[uint64]*models.Message
	checkpoint        *models.UIDValidityCheckpoint
	threads           map[string]*models.Thread
	savedMessages     []*models.Message
	savedItems        []*models.FolderItem
	insertedItems     []*models.FolderItem
	removedUIDs       []uint32
	rewrittenMapping  map[uint32]uint32
	savedCheckpoints  []*models.UIDValidityCheckpoint
	updatedFlagsCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		localUIDs:       make(map[uint32]string),
		messagesByUID:   make(map[uint32]*models.Message),
		messagesByMsgID: make(map[uint64]*models.Message),
		threads:         make(map[string]*models.Thread),
	}
}

func (f *fakeStore) LocalUIDs(ctx context.Context, accountID, folderName string) ([]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint32, 0, len(f.localUIDs))
	for uid := range f.localUIDs {
		out = append(out, uid)
	}
	return out, nil
}

func (f *fakeStore) LocalMessagesByUID(ctx context.Context, accountID, folderName string) (map[uint32]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uint32]*models.Message, len(f.messagesByUID))
	for uid, msg := range f.messagesByUID {
		out[uid] = msg
	}
	return out, nil
}

func (f *fakeStore) GetUIDValidityCheckpoint(ctx context.Context, accountID, folderName string) (*models.UIDValidityCheckpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkpoint, nil
}

func (f *fakeStore) SaveUIDValidityCheckpoint(ctx context.Context, checkpoint *models.UIDValidityCheckpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkpoint = checkpoint
	f.savedCheckpoints = append(f.savedCheckpoints, checkpoint)
	return nil
}

func (f *fakeStore) FindMessagesByProviderMsgIDs(ctx context.Context, accountID string, msgIDs []uint64) (map[uint64]*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uint64]*models.Message)
	for _, id := range msgIDs {
		if m, ok := f.messagesByMsgID[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func (f *fakeStore) MessageByProviderMsgID(ctx context.Context, accountID string, msgID uint64) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messagesByMsgID[msgID]; ok {
		return m, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) InsertFolderItems(ctx context.Context, items []*models.FolderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertedItems = append(f.insertedItems, items...)
	for _, item := range items {
		f.localUIDs[item.UID] = item.MessageID
	}
	return nil
}

// SaveNewMessages mirrors postgres.Store's contract: it assigns each
// message's id and overwrites items[i].MessageID from it, rather than
// trusting whatever the caller populated.
func (f *fakeStore) SaveNewMessages(ctx context.Context, messages []*models.Message, items []*models.FolderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, msg := range messages {
		msg.ID = "msg-" + msg.RFC822MessageID
		if msg.ID == "msg-" {
			msg.ID = "msg-generated"
		}
		if i < len(items) {
			items[i].MessageID = msg.ID
		}
		if msg.ProviderMsgID != nil {
			f.messagesByMsgID[*msg.ProviderMsgID] = msg
		}
	}
	f.savedMessages = append(f.savedMessages, messages...)
	f.savedItems = append(f.savedItems, items...)
	for _, item := range items {
		f.localUIDs[item.UID] = item.MessageID
	}
	return nil
}

func (f *fakeStore) RemoveFolderItems(ctx context.Context, accountID, folderName string, uids []uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removedUIDs = append(f.removedUIDs, uids...)
	for _, uid := range uids {
		delete(f.localUIDs, uid)
		delete(f.messagesByUID, uid)
	}
	return nil
}

func (f *fakeStore) UpdateFolderItemFlags(ctx context.Context, accountID, folderName string, uid uint32, flags, labels []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatedFlagsCalls++
	return nil
}

func (f *fakeStore) RewriteFolderItemUIDs(ctx context.Context, accountID, folderName string, uidMapping map[uint32]uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rewrittenMapping = uidMapping
	for oldUID, newUID := range uidMapping {
		if msg, ok := f.messagesByUID[oldUID]; ok {
			f.messagesByUID[newUID] = msg
			if oldUID != newUID {
				delete(f.messagesByUID, oldUID)
			}
		}
	}
	return nil
}

func (f *fakeStore) GetOrCreateThread(ctx context.Context, accountID, providerThrID string) (*models.Thread, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.threads[providerThrID]; ok {
		return t, nil
	}
	thrid := providerThrID
	t := &models.Thread{ID: "thread-" + providerThrID, AccountID: accountID, ProviderThrID: &thrid}
	f.threads[providerThrID] = t
	return t, nil
}

func (f *fakeStore) UpdateThreadFromMessage(ctx context.Context, thread *models.Thread, msg *models.Message) error {
	return nil
}
