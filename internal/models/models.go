// Package models defines the sync engine's persisted domain entities,
// mirroring the tables described by the data model: Account,
// FolderSyncProgress, UIDValidityCheckpoint, FolderItem, Message, Part,
// Thread, and Credential.
package models

import "time"

// Provider identifies the backend a mailbox is hosted on. Accounts are
// modeled as a tagged variant carrying provider capability flags rather
// than a deep inheritance hierarchy (per the spec's polymorphism note).
type Provider string

const (
	ProviderGmail Provider = "gmail"
	ProviderIMAP  Provider = "imap"
)

// SyncState is the FolderSyncProgress state machine's current value.
type SyncState string

const (
	StateInitial           SyncState = "initial"
	StateInitialUIDInvalid SyncState = "initial-uidinvalid"
	StatePoll              SyncState = "poll"
	StatePollUIDInvalid    SyncState = "poll-uidinvalid"
	StateFinish            SyncState = "finish"
)

// Account is one mail account under sync, keyed by ID.
type Account struct {
	ID                string
	Email             string
	Provider          Provider
	Server            string
	Username          string
	EncryptedPassword []byte // AES-GCM ciphertext, decrypted via internal/crypto; empty for OAuth accounts
	NamespaceID       string
	SyncHost          *string // FQDN of the process owning this account, nil if idle
	SyncActive        bool
}

// Capabilities returns the per-provider capability flags FolderSyncWorker
// dispatches on (has_xgm_metadata, supports_condstore, has_labels).
func (a *Account) Capabilities() (hasXGMMetadata, supportsCondstore, hasLabels bool) {
	switch a.Provider {
	case ProviderGmail:
		return true, true, true
	default:
		return false, true, false
	}
}

// FolderSyncProgress is the per-(account, folder) state machine row.
type FolderSyncProgress struct {
	AccountID  string
	FolderName string
	State      SyncState
}

// UIDValidityCheckpoint records the last-negotiated UIDVALIDITY and
// HIGHESTMODSEQ for a (account, folder) pair.
type UIDValidityCheckpoint struct {
	AccountID     string
	FolderName    string
	UIDValidity   uint32
	HighestModSeq uint64
}

// FolderItem binds one UID in one folder to a Message. Multiple
// FolderItems may reference the same Message under Gmail's label model.
type FolderItem struct {
	AccountID  string
	FolderName string
	UID        uint32
	MessageID  string
	Flags      []string
	Labels     []string
}

// Message is a unique (best-effort, for Gmail) downloaded message.
type Message struct {
	ID              string
	AccountID       string
	ProviderMsgID   *uint64 // X-GM-MSGID; nil for non-Gmail
	ProviderThrID   *string // X-GM-THRID (Gmail) or synthesized thread root id (non-Gmail)
	RFC822MessageID string  // envelope Message-Id header; the resync match key for accounts without X-GM-MSGID
	Headers         []byte  // raw RFC 822 header block
	Parts           []Part
	ReceivedAt      time.Time
}

// Part is one MIME part's stored payload pointer; the payload bytes
// themselves live in BlobStore, addressed by BlobKey.
type Part struct {
	ContentType string
	Filename    string
	BlobKey     string
	SizeBytes   int64
}

// Thread groups messages sharing a provider_thrid for one account. Created
// and updated exclusively by ThreadDetector.
type Thread struct {
	ID            string
	AccountID     string
	ProviderThrID *string
	Subject       string
	Participants  []string
	LatestDate    time.Time
}

// Credential is the encrypted OAuth/credential row backing
// internal/credentials. Supplemented from original_source's
// GmailAuthCredentials/GTokenManager model.
type Credential struct {
	AccountID           string
	Scope               string
	EncryptedRefreshToken []byte
	EncryptedAccessToken  []byte
	Expiry              time.Time
	IsValid             bool
}
