package remotemailbox

import (
	"fmt"
	"strconv"
	"strings"

	goimap "github.com/emersion/go-imap"
)

// Gmail exposes X-GM-MSGID, X-GM-THRID and X-GM-LABELS as non-standard
// FETCH items and a non-standard SEARCH key (X-GM-THRID). go-imap's core
// package only knows RFC 3501 items, so these are declared as raw
// FetchItem/SearchCriteria extensions per its documented mechanism for
// vendor extensions.
const (
	gmailMsgIDFetchItem  goimap.FetchItem = "X-GM-MSGID"
	gmailThrIDFetchItem  goimap.FetchItem = "X-GM-THRID"
	gmailLabelsFetchItem goimap.FetchItem = "X-GM-LABELS"
)

// GMetadata fetches the Gmail X-GM-MSGID/X-GM-THRID pair for each UID.
func (c *Conn) GMetadata(uids []uint32) (map[uint32]GMetadata, error) {
	if len(uids) == 0 {
		return map[uint32]GMetadata{}, nil
	}
	seqSet := uidSeqSet(uids)
	items := []goimap.FetchItem{goimap.FetchUid, gmailMsgIDFetchItem, gmailThrIDFetchItem}

	messages := make(chan *goimap.Message, len(uids))
	done := make(chan error, 1)
	go func() { done <- c.client.UidFetch(seqSet, items, messages) }()

	result := make(map[uint32]GMetadata, len(uids))
	for msg := range messages {
		meta := GMetadata{}
		if raw, ok := msg.Items[gmailMsgIDFetchItem]; ok {
			meta.MsgID = parseGmailID(raw)
		}
		if raw, ok := msg.Items[gmailThrIDFetchItem]; ok {
			meta.ThrID = parseGmailID(raw)
		}
		result[msg.Uid] = meta
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("remotemailbox: fetch g_metadata: %w", err)
	}
	return result, nil
}

// ExpandThreads runs X-GM-THRID SEARCH against the currently selected
// folder (expected to be All Mail) for each thrid and returns the union of
// matching UIDs, implementing the "expand_threads" operation of the
// expanded-thread download algorithm.
func (c *Conn) ExpandThreads(thrids []uint64) ([]uint32, error) {
	seen := make(map[uint32]struct{})
	var out []uint32
	for _, thrid := range thrids {
		criteria := goimap.NewSearchCriteria()
		criteria.Header.Add("X-GM-THRID", strconv.FormatUint(thrid, 10))
		uids, err := c.client.UidSearch(criteria)
		if err != nil {
			return nil, fmt.Errorf("remotemailbox: expand thread %d: %w", thrid, err)
		}
		for _, uid := range uids {
			if _, ok := seen[uid]; ok {
				continue
			}
			seen[uid] = struct{}{}
			out = append(out, uid)
		}
	}
	return out, nil
}

func parseGmailID(raw any) uint64 {
	switch v := raw.(type) {
	case string:
		n, _ := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseUint(strings.TrimSpace(string(v)), 10, 64)
		return n
	case uint64:
		return v
	case uint32:
		return uint64(v)
	default:
		return 0
	}
}

func parseGmailLabels(raw any) []string {
	s, ok := raw.(string)
	if !ok {
		if b, ok := raw.([]byte); ok {
			s = string(b)
		} else {
			return nil
		}
	}
	s = strings.Trim(s, "()")
	if s == "" {
		return nil
	}
	fields := strings.Fields(s)
	labels := make([]string, 0, len(fields))
	for _, f := range fields {
		labels = append(labels, strings.Trim(f, `"`))
	}
	return labels
}
