package remotemailbox

import (
	"fmt"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap-sortthread"
)

// ThreadUIDs derives a provider_thrid for non-Gmail accounts by running the
// RFC 5256 THREAD command (REFERENCES algorithm) against the selected
// folder and mapping every message UID in each thread tree to
// "thread-<root message UID>". The id is built from the root's UID, not
// from its Message-Id header, so it depends on the selected folder and its
// current UIDVALIDITY. This supplements spec.md's Gmail-only thread
// model (§4.5) so ThreadDetector's "at most one Thread per provider_thrid"
// invariant holds uniformly across providers, grounded on the teacher's use
// of the same library for its own (differently-shaped) thread view.
func (c *Conn) ThreadUIDs() (map[uint32]string, error) {
	criteria := goimap.NewSearchCriteria()
	threads, err := sortthread.NewThreadClient(c.client).UidThread(sortthread.References, "UTF-8", criteria)
	if err != nil {
		return nil, fmt.Errorf("remotemailbox: thread: %w", err)
	}

	out := make(map[uint32]string)
	var walk func(nodes []*sortthread.Thread, rootID string)
	walk = func(nodes []*sortthread.Thread, rootID string) {
		for _, n := range nodes {
			id := rootID
			if id == "" {
				id = fmt.Sprintf("thread-%d", n.Id)
			}
			if n.Id != 0 {
				out[n.Id] = id
			}
			walk(n.Children, id)
		}
	}
	walk(threads, "")
	return out, nil
}
