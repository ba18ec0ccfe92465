// Package remotemailbox implements the RemoteMailbox collaborator: a
// session-oriented IMAP client exposed through a bounded connection pool
// with scoped lease semantics.
package remotemailbox

import (
	"context"
	"errors"
	"time"

	"github.com/emersion/go-imap/client"
)

// ErrUIDInvalid is returned by SelectFolder's validity callback (and
// propagated up through any operation that triggers a SELECT) when the
// server's UIDVALIDITY disagrees with the caller's cached checkpoint.
// It is a control-flow signal, not a user-facing error: FolderSyncWorker
// treats it as a state transition to the corresponding *-uidinvalid state.
var ErrUIDInvalid = errors.New("remotemailbox: uidvalidity mismatch")

// ErrTransient wraps errors the retry helper in internal/foldersync should
// retry with bounded backoff (connection loss, reset, timeout).
var ErrTransient = errors.New("remotemailbox: transient error")

// FlagSet is the flags and Gmail labels attached to one message.
type FlagSet struct {
	Flags  []string
	Labels []string
}

// GMetadata is the Gmail-specific per-message identity pair.
type GMetadata struct {
	MsgID uint64 // X-GM-MSGID
	ThrID uint64 // X-GM-THRID
}

// RawMessage is an undecoded message as fetched from the server: envelope
// headers plus a flat list of MIME part descriptors. Bodies are not parsed
// (MIME rendering is out of scope); each part's raw bytes are handed to
// BlobStore unchanged.
type RawMessage struct {
	UID             uint32
	Headers         []byte // raw RFC 822 header block
	Parts           []RawPart
	Flags           []string
	Labels          []string
	Received        time.Time
	MessageIDHeader string // envelope Message-Id header, grounded on the teacher's "stable ID" use of imapMsg.Envelope.MessageId
}

// RawPart is one MIME part's payload as seen on the wire.
type RawPart struct {
	ContentType string
	Filename    string
	Bytes       []byte
}

// SelectInfo is what the server returned for a successful SELECT.
type SelectInfo struct {
	UIDValidity   uint32
	UIDNext       uint32
	HighestModSeq uint64
	Exists        uint32
}

// FolderStatus is a lightweight STATUS probe result, cheaper than SELECT.
type FolderStatus struct {
	UIDValidity   uint32
	HighestModSeq uint64
	Messages      uint32
}

// ValidityCallback is invoked with the just-negotiated SELECT/STATUS result
// for a folder. It must return ErrUIDInvalid if the UIDVALIDITY disagrees
// with whatever checkpoint the caller has cached.
type ValidityCallback func(folder string, info *SelectInfo) error

// Capabilities describes the extensions the connected server advertises
// (X-GM-EXT-1 for the Gmail fields, CONDSTORE), filled in when a Lease is
// handed out; Conn consults HasLabels to decide whether to fetch
// X-GM-LABELS. FolderSyncWorker chooses between the Gmail expanded-thread
// path and the plain IMAP path from models.Account.Capabilities, not from
// this struct.
type Capabilities struct {
	HasXGMMetadata   bool
	SupportsCondstore bool
	HasLabels        bool
}

// Pool is a bounded per-account pool of authenticated IMAP connections with
// scoped lease semantics: a Lease is guaranteed to be released on every
// exit path, including failure, when the caller defers Release.
type Pool interface {
	// Lease blocks until a connection slot is available for the account,
	// then returns a live Conn. The caller must call Release (directly or
	// via defer) exactly once.
	Lease(ctx context.Context, accountID string, server, username, password string) (*Lease, error)
	// RemoveAccount closes and forgets every connection held for an account.
	RemoveAccount(accountID string)
	// Close shuts down the pool and closes every connection it holds.
	Close()
}

// Connection is the set of session-scoped operations FolderSyncWorker
// performs against a leased mailbox session. *Conn is the only production
// implementation; foldersync depends on this interface rather than *Conn
// directly so its state-machine handlers can be driven by an in-memory
// fake in tests, the same "depend on the interface, fake the collaborator"
// pattern spec.md's DESIGN NOTES describe for MetadataStore.
type Connection interface {
	SelectFolder(name string, cb ValidityCallback) (*SelectInfo, error)
	FolderStatus(name string) (*FolderStatus, error)
	FolderNames() (map[string]string, error)
	AllUIDs() ([]uint32, error)
	FetchFlags(uids []uint32) (map[uint32]FlagSet, error)
	FetchMessages(uids []uint32) ([]*RawMessage, error)
	EnvelopeMessageIDs(uids []uint32) (map[uint32]string, error)
	NewAndUpdatedUIDs(sinceModSeq uint64) ([]uint32, error)
	GMetadata(uids []uint32) (map[uint32]GMetadata, error)
	ExpandThreads(thrids []uint64) ([]uint32, error)
	ThreadUIDs() (map[uint32]string, error)
	ChunkSize() int
	Capabilities() Capabilities
}

// Lease is a scoped handle on one Connection. Release must be called
// exactly once, typically via defer immediately after a successful Lease
// call.
type Lease struct {
	Conn    Connection
	release func()
}

// Release returns the underlying connection to the pool. Safe to call from
// a deferred statement even after an error return earlier in the handler.
func (l *Lease) Release() {
	if l == nil || l.release == nil {
		return
	}
	l.release()
}

// Conn is one authenticated IMAP session plus the sync-engine operations
// layered over the wire client. All methods are safe to call only while
// holding the Lease that produced the Conn; the pool serializes access to
// the underlying client with a mutex so handlers never need their own.
type Conn struct {
	client       *client.Client
	capabilities Capabilities
	chunkSize    int

	selectedFolder        string
	selectedUIDValidity   uint32
	selectedHighestModSeq uint64
}

// SelectedFolderName returns the name of the currently selected folder, or
// "" if none is selected on this connection.
func (c *Conn) SelectedFolderName() string { return c.selectedFolder }

// SelectedUIDValidity returns the UIDVALIDITY of the currently selected folder.
func (c *Conn) SelectedUIDValidity() uint32 { return c.selectedUIDValidity }

// SelectedHighestModSeq returns the HIGHESTMODSEQ of the currently selected folder.
func (c *Conn) SelectedHighestModSeq() uint64 { return c.selectedHighestModSeq }

// ChunkSize is the provider-tuned batch size for full-message downloads.
func (c *Conn) ChunkSize() int { return c.chunkSize }

// Capabilities reports what extensions this account's provider exposes.
func (c *Conn) Capabilities() Capabilities { return c.capabilities }
