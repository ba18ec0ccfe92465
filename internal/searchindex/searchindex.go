// Package searchindex implements foldersync.SearchNotifier: a thin HTTP
// POST to an external search index whenever a message finishes downloading,
// gated behind the SEARCH_SERVER_LOC config flag (Open Question (c)). No
// example repo in the reference pack talks to a search backend, so this
// adapter is plain net/http/encoding/json rather than a wired third-party
// client — the same stdlib choice the teacher makes for its own handler
// bodies in internal/api.
package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notifier posts newly downloaded messages to an external search index.
// A zero-value Notifier (endpoint == "") is a no-op, satisfying Open
// Question (c)'s "gated behind a config flag" resolution.
type Notifier struct {
	endpoint string
	client   *http.Client
}

// New constructs a Notifier. An empty endpoint disables notification
// entirely; NotifyNewMessage then always returns nil without making a
// request.
func New(endpoint string) *Notifier {
	return &Notifier{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type notifyPayload struct {
	AccountID string `json:"account_id"`
	MessageID string `json:"message_id"`
}

// NotifyNewMessage tells the search index a message is ready to be
// indexed. A non-2xx response or transport error is returned to the
// caller (foldersync.downloadChunk), which logs it but does not fail the
// download — indexing is best-effort and must never block sync progress.
func (n *Notifier) NotifyNewMessage(ctx context.Context, accountID, messageID string) error {
	if n == nil || n.endpoint == "" {
		return nil
	}

	body, err := json.Marshal(notifyPayload{AccountID: accountID, MessageID: messageID})
	if err != nil {
		return fmt.Errorf("searchindex: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("searchindex: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("searchindex: post notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("searchindex: unexpected status %s", resp.Status)
	}
	return nil
}
