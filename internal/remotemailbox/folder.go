package remotemailbox

import (
	"fmt"
	"strings"

	goimap "github.com/emersion/go-imap"
)

// FolderRole classifies a folder by its SPECIAL-USE attribute (RFC 6154),
// letting FolderSyncWorker recognize the Gmail All Mail folder without
// hardcoding a locale-specific name.
type FolderRole string

const (
	RoleInbox   FolderRole = "inbox"
	RoleAllMail FolderRole = "all-mail"
	RoleSent    FolderRole = "sent"
	RoleDrafts  FolderRole = "drafts"
	RoleSpam    FolderRole = "spam"
	RoleTrash   FolderRole = "trash"
	RoleArchive FolderRole = "archive"
	RoleOther   FolderRole = "other"
)

// FolderInfo is one entry in the account's mailbox list.
type FolderInfo struct {
	Name     string
	Role     FolderRole
	Pollable bool // receives new mail during normal operation
}

// SyncFolders returns every folder this account should be initial-synced
// and polled, in the provider's preferred order.
func (c *Conn) SyncFolders() ([]*FolderInfo, error) {
	return c.listFolders()
}

// PollFolders returns the subset of SyncFolders that remain pollable after
// initial sync finishes (archive-like folders are synced once, then finished).
func (c *Conn) PollFolders() ([]*FolderInfo, error) {
	folders, err := c.listFolders()
	if err != nil {
		return nil, err
	}
	pollable := folders[:0]
	for _, f := range folders {
		if f.Pollable {
			pollable = append(pollable, f)
		}
	}
	return pollable, nil
}

// FolderNames returns well-known role -> folder-name mappings, e.g. the
// Gmail "All" entry the expanded-thread download algorithm selects against.
func (c *Conn) FolderNames() (map[string]string, error) {
	folders, err := c.listFolders()
	if err != nil {
		return nil, err
	}
	names := make(map[string]string)
	for _, f := range folders {
		switch f.Role {
		case RoleAllMail:
			names["All"] = f.Name
		case RoleInbox:
			names["Inbox"] = f.Name
		}
	}
	return names, nil
}

func (c *Conn) listFolders() ([]*FolderInfo, error) {
	if c.client == nil {
		return nil, fmt.Errorf("remotemailbox: client is nil")
	}

	caps, err := c.client.Capability()
	if err != nil {
		return nil, fmt.Errorf("remotemailbox: capability: %w", err)
	}
	if !caps["SPECIAL-USE"] {
		return nil, fmt.Errorf("remotemailbox: server lacks SPECIAL-USE (RFC 6154)")
	}

	mailboxes := make(chan *goimap.MailboxInfo, 16)
	done := make(chan error, 1)
	go func() { done <- c.client.List("", "*", mailboxes) }()

	var folders []*FolderInfo
	for m := range mailboxes {
		role := classifyFolder(m.Name, m.Attributes)
		folders = append(folders, &FolderInfo{
			Name:     m.Name,
			Role:     role,
			Pollable: !hasAttr(m.Attributes, goimap.NoSelectAttr) && role != RoleArchive,
		})
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("remotemailbox: list folders: %w", err)
	}
	return folders, nil
}

func hasAttr(attrs []string, want string) bool {
	for _, a := range attrs {
		if a == want {
			return true
		}
	}
	return false
}

// classifyFolder determines a folder's role from its name and SPECIAL-USE
// attributes. INBOX is matched by name (case-insensitive); Gmail's All Mail
// folder carries the \All attribute.
func classifyFolder(name string, attributes []string) FolderRole {
	if strings.EqualFold(name, "INBOX") {
		return RoleInbox
	}
	for _, attr := range attributes {
		switch attr {
		case "\\All":
			return RoleAllMail
		case "\\Sent":
			return RoleSent
		case "\\Drafts":
			return RoleDrafts
		case "\\Junk":
			return RoleSpam
		case "\\Trash":
			return RoleTrash
		case "\\Archive":
			return RoleArchive
		}
	}
	return RoleOther
}

// SelectFolder SELECTs a folder and invokes cb with the negotiated
// UIDVALIDITY/HIGHESTMODSEQ before returning. If cb returns ErrUIDInvalid
// that error propagates unchanged so the caller can drive a state
// transition to *-uidinvalid; the folder remains selected either way,
// since selection is expensive and the caller (not this method) decides
// what to do next (mirrors the "All Mail remains selected" rule in the
// expanded-thread download algorithm).
func (c *Conn) SelectFolder(name string, cb ValidityCallback) (*SelectInfo, error) {
	status, err := c.client.Select(name, false)
	if err != nil {
		return nil, fmt.Errorf("remotemailbox: select %s: %w", name, err)
	}

	info := &SelectInfo{
		UIDValidity:   status.UidValidity,
		UIDNext:       status.UidNext,
		HighestModSeq: status.HighestModSeq,
		Exists:        status.Messages,
	}
	c.selectedFolder = name
	c.selectedUIDValidity = info.UIDValidity
	c.selectedHighestModSeq = info.HighestModSeq

	if cb != nil {
		if err := cb(name, info); err != nil {
			return info, err
		}
	}
	return info, nil
}

// FolderStatus performs a lightweight STATUS probe (UIDVALIDITY,
// HIGHESTMODSEQ, message count) without the cost of a full SELECT.
func (c *Conn) FolderStatus(name string) (*FolderStatus, error) {
	status, err := c.client.Status(name, []goimap.StatusItem{
		goimap.StatusUidValidity,
		goimap.StatusHighestModSeq,
		goimap.StatusMessages,
	})
	if err != nil {
		return nil, fmt.Errorf("remotemailbox: status %s: %w", name, err)
	}
	return &FolderStatus{
		UIDValidity:   status.UidValidity,
		HighestModSeq: status.HighestModSeq,
		Messages:      status.Messages,
	}, nil
}
