package remotemailbox

import (
	"bytes"
	"fmt"
	"io"
	"time"

	goimap "github.com/emersion/go-imap"
)

// AllUIDs returns every UID currently in the selected folder.
func (c *Conn) AllUIDs() ([]uint32, error) {
	criteria := goimap.NewSearchCriteria()
	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("remotemailbox: search all uids: %w", err)
	}
	return uids, nil
}

// FetchFlags fetches flags and any X-GM-LABELS for a set of UIDs.
func (c *Conn) FetchFlags(uids []uint32) (map[uint32]FlagSet, error) {
	if len(uids) == 0 {
		return map[uint32]FlagSet{}, nil
	}
	seqSet := uidSeqSet(uids)
	items := []goimap.FetchItem{goimap.FetchFlags, goimap.FetchUid}
	if c.capabilities.HasLabels {
		items = append(items, gmailLabelsFetchItem)
	}

	messages := make(chan *goimap.Message, len(uids))
	done := make(chan error, 1)
	go func() { done <- c.client.UidFetch(seqSet, items, messages) }()

	result := make(map[uint32]FlagSet, len(uids))
	for msg := range messages {
		fs := FlagSet{Flags: msg.Flags}
		if raw, ok := msg.Items[gmailLabelsFetchItem]; ok {
			fs.Labels = parseGmailLabels(raw)
		}
		result[msg.Uid] = fs
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("remotemailbox: fetch flags: %w", err)
	}
	return result, nil
}

// FetchMessages fetches the full RFC 822 body for each UID, splitting it
// into a header block plus a flat list of MIME part payloads. No MIME
// decoding happens here (out of scope); callers hand raw part bytes
// straight to BlobStore.
func (c *Conn) FetchMessages(uids []uint32) ([]*RawMessage, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	seqSet := uidSeqSet(uids)
	section := &goimap.BodySectionName{}
	items := []goimap.FetchItem{
		goimap.FetchFlags,
		goimap.FetchUid,
		goimap.FetchInternalDate,
		goimap.FetchEnvelope,
		section.FetchItem(),
	}
	if c.capabilities.HasLabels {
		items = append(items, gmailLabelsFetchItem)
	}

	messages := make(chan *goimap.Message, len(uids))
	done := make(chan error, 1)
	go func() { done <- c.client.UidFetch(seqSet, items, messages) }()

	var out []*RawMessage
	for msg := range messages {
		raw, err := toRawMessage(msg, section)
		if err != nil {
			return nil, fmt.Errorf("remotemailbox: decode message uid %d: %w", msg.Uid, err)
		}
		out = append(out, raw)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("remotemailbox: fetch messages: %w", err)
	}
	return out, nil
}

func toRawMessage(msg *goimap.Message, section *goimap.BodySectionName) (*RawMessage, error) {
	r := msg.GetBody(section)
	if r == nil {
		return nil, fmt.Errorf("server did not return a body for uid %d", msg.Uid)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	headers, parts := splitMIMEParts(body)

	raw := &RawMessage{
		UID:     msg.Uid,
		Headers: headers,
		Parts:   parts,
		Flags:   msg.Flags,
	}
	if !msg.InternalDate.IsZero() {
		raw.Received = msg.InternalDate
	} else {
		raw.Received = time.Now().UTC()
	}
	if lbls, ok := msg.Items[gmailLabelsFetchItem]; ok {
		raw.Labels = parseGmailLabels(lbls)
	}
	if msg.Envelope != nil {
		raw.MessageIDHeader = msg.Envelope.MessageId
	}
	return raw, nil
}

// EnvelopeMessageIDs fetches just the ENVELOPE Message-Id for a set of
// UIDs, without pulling message bodies, grounded on the teacher's
// service.go/parser.go use of imapMsg.Envelope.MessageId as a "stable ID".
// resyncUIDs uses this to re-match non-Gmail accounts (which have no
// X-GM-MSGID) to their local Messages after a UIDVALIDITY change.
func (c *Conn) EnvelopeMessageIDs(uids []uint32) (map[uint32]string, error) {
	if len(uids) == 0 {
		return map[uint32]string{}, nil
	}
	seqSet := uidSeqSet(uids)
	items := []goimap.FetchItem{goimap.FetchUid, goimap.FetchEnvelope}

	messages := make(chan *goimap.Message, len(uids))
	done := make(chan error, 1)
	go func() { done <- c.client.UidFetch(seqSet, items, messages) }()

	out := make(map[uint32]string, len(uids))
	for msg := range messages {
		if msg.Envelope != nil && msg.Envelope.MessageId != "" {
			out[msg.Uid] = msg.Envelope.MessageId
		}
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("remotemailbox: envelope message ids: %w", err)
	}
	return out, nil
}

// splitMIMEParts is a minimal header/body splitter: it does not decode MIME
// (Non-goal), it only locates the blank-line boundary so the header block
// can be parsed for envelope fields while the remainder is staged to
// BlobStore as a single opaque part. Multipart decomposition, when the
// provider supports server-side part addressing, is left to a future
// extension of this function; single-part bodies are the common case this
// sync engine must round-trip faithfully today.
func splitMIMEParts(raw []byte) (headers []byte, parts []RawPart) {
	sep := []byte("\r\n\r\n")
	idx := bytes.Index(raw, sep)
	if idx < 0 {
		sep = []byte("\n\n")
		idx = bytes.Index(raw, sep)
	}
	if idx < 0 {
		return raw, nil
	}
	headerEnd := idx
	bodyStart := idx + len(sep)
	if bodyStart > len(raw) {
		bodyStart = len(raw)
	}
	return raw[:headerEnd], []RawPart{{ContentType: "message/rfc822-body", Bytes: raw[bodyStart:]}}
}

func uidSeqSet(uids []uint32) *goimap.SeqSet {
	seqSet := new(goimap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}
	return seqSet
}

// NewAndUpdatedUIDs returns UIDs that are new or have changed flags/labels
// since sinceModSeq, using the CONDSTORE MODSEQ search criterion. The
// caller (FolderSyncWorker) partitions the result into "new" vs "updated"
// against its own local UID set.
func (c *Conn) NewAndUpdatedUIDs(sinceModSeq uint64) ([]uint32, error) {
	criteria := goimap.NewSearchCriteria()
	criteria.ModSeq = sinceModSeq + 1
	uids, err := c.client.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("remotemailbox: new-and-updated since modseq %d: %w", sinceModSeq, err)
	}
	return uids, nil
}
