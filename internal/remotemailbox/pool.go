package remotemailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/rs/zerolog"
)

const (
	// defaultMaxConnsPerAccount bounds concurrent IMAP sessions per account;
	// the backend rate-limits aggressively by user shard, so a handful of
	// folders syncing in parallel must share a small connection budget.
	defaultMaxConnsPerAccount = 4
	// idleTimeout closes connections that have sat unused this long.
	idleTimeout = 10 * time.Minute
	// healthCheckThreshold triggers a NOOP health check before reuse once a
	// connection has been idle this long.
	healthCheckThreshold = 1 * time.Minute
)

// clientWithMutex pairs a live IMAP client with the mutex that serializes
// access to it: go-imap's client.Client is not safe for concurrent use.
type clientWithMutex struct {
	mu       sync.Mutex
	client   *client.Client
	lastUsed time.Time
}

func (c *clientWithMutex) touch() { c.lastUsed = time.Now() }

// accountPool holds the bounded set of connections for one account.
type accountPool struct {
	mu          sync.Mutex
	conns       []*clientWithMutex
	semaphore   chan struct{}
	server      string
	username    string
	password    string
}

// pool implements Pool over a real *client.Client, one accountPool per
// account, grounded on the double-checked-locking acquire/release idiom.
type pool struct {
	mu         sync.RWMutex
	accounts   map[string]*accountPool
	maxConns   int
	useTLS     bool
	log        zerolog.Logger
	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
}

// NewPool creates a bounded RemoteMailbox connection pool. useTLS should be
// false only for integration tests against a plaintext test IMAP server.
func NewPool(log zerolog.Logger, useTLS bool) Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &pool{
		accounts:      make(map[string]*accountPool),
		maxConns:      defaultMaxConnsPerAccount,
		useTLS:        useTLS,
		log:           log.With().Str("component", "remotemailbox.pool").Logger(),
		cleanupCtx:    ctx,
		cleanupCancel: cancel,
	}
	go p.cleanupLoop()
	return p
}

func (p *pool) getOrCreateAccountPool(accountID, server, username, password string) *accountPool {
	p.mu.RLock()
	ap, ok := p.accounts[accountID]
	p.mu.RUnlock()
	if ok {
		return ap
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if ap, ok := p.accounts[accountID]; ok {
		return ap
	}
	ap = &accountPool{
		semaphore: make(chan struct{}, p.maxConns),
		server:    server,
		username:  username,
		password:  password,
	}
	p.accounts[accountID] = ap
	return ap
}

// Lease blocks until a connection slot is available for the account, then
// returns a Lease wrapping a live, authenticated Conn. The lease's Release
// must be called exactly once.
func (p *pool) Lease(ctx context.Context, accountID string, server, username, password string) (*Lease, error) {
	ap := p.getOrCreateAccountPool(accountID, server, username, password)

	select {
	case ap.semaphore <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	released := false
	releaseSemaphore := func() {
		if !released {
			released = true
			<-ap.semaphore
		}
	}

	ap.mu.Lock()
	for _, cm := range ap.conns {
		if cm.mu.TryLock() {
			if cm.client.State() != goimap.AuthenticatedState && cm.client.State() != goimap.SelectedState {
				cm.mu.Unlock()
				continue
			}
			if time.Since(cm.lastUsed) > healthCheckThreshold {
				if err := cm.client.Noop(); err != nil {
					_ = cm.client.Logout()
					cm.mu.Unlock()
					p.removeConn(ap, cm)
					continue
				}
			}
			cm.touch()
			ap.mu.Unlock()
			return p.newLease(cm, ap, releaseSemaphore), nil
		}
	}
	ap.mu.Unlock()

	c, err := dial(server, p.useTLS)
	if err != nil {
		releaseSemaphore()
		return nil, fmt.Errorf("remotemailbox: dial %s: %w", server, err)
	}
	if err := c.Login(username, password); err != nil {
		_ = c.Logout()
		releaseSemaphore()
		return nil, fmt.Errorf("remotemailbox: login: %w", err)
	}

	cm := &clientWithMutex{client: c, lastUsed: time.Now()}
	cm.mu.Lock()
	ap.mu.Lock()
	ap.conns = append(ap.conns, cm)
	ap.mu.Unlock()

	return p.newLease(cm, ap, releaseSemaphore), nil
}

func (p *pool) newLease(cm *clientWithMutex, ap *accountPool, releaseSemaphore func()) *Lease {
	conn := &Conn{
		client:    cm.client,
		chunkSize: 100,
	}
	if caps, err := cm.client.Capability(); err == nil {
		gmail := caps["X-GM-EXT-1"]
		conn.capabilities = Capabilities{
			HasXGMMetadata:    gmail,
			SupportsCondstore: caps["CONDSTORE"],
			HasLabels:         gmail,
		}
	}
	return &Lease{
		Conn: conn,
		release: func() {
			cm.touch()
			cm.mu.Unlock()
			releaseSemaphore()
		},
	}
}

func (p *pool) removeConn(ap *accountPool, target *clientWithMutex) {
	ap.mu.Lock()
	defer ap.mu.Unlock()
	for i, cm := range ap.conns {
		if cm == target {
			ap.conns = append(ap.conns[:i], ap.conns[i+1:]...)
			return
		}
	}
}

// RemoveAccount closes and forgets every connection held for an account,
// used when credentials are rotated or an account is removed from sync.
func (p *pool) RemoveAccount(accountID string) {
	p.mu.Lock()
	ap, ok := p.accounts[accountID]
	delete(p.accounts, accountID)
	p.mu.Unlock()
	if !ok {
		return
	}
	ap.mu.Lock()
	defer ap.mu.Unlock()
	for _, cm := range ap.conns {
		cm.mu.Lock()
		_ = cm.client.Logout()
		cm.mu.Unlock()
	}
	ap.conns = nil
}

// Close shuts down the pool, stopping the idle-connection cleanup loop and
// closing every connection it holds across every account.
func (p *pool) Close() {
	p.cleanupCancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	for accountID, ap := range p.accounts {
		ap.mu.Lock()
		for _, cm := range ap.conns {
			cm.mu.Lock()
			if err := cm.client.Logout(); err != nil {
				p.log.Warn().Err(err).Str("account_id", accountID).Msg("logout on pool close failed")
			}
			cm.mu.Unlock()
		}
		ap.conns = nil
		ap.mu.Unlock()
		delete(p.accounts, accountID)
	}
}

func (p *pool) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-p.cleanupCtx.Done():
			return
		case <-ticker.C:
			p.cleanupIdle()
		}
	}
}

func (p *pool) cleanupIdle() {
	p.mu.RLock()
	pools := make([]*accountPool, 0, len(p.accounts))
	for _, ap := range p.accounts {
		pools = append(pools, ap)
	}
	p.mu.RUnlock()

	now := time.Now()
	for _, ap := range pools {
		ap.mu.Lock()
		kept := ap.conns[:0]
		for _, cm := range ap.conns {
			if !cm.mu.TryLock() {
				kept = append(kept, cm)
				continue
			}
			if now.Sub(cm.lastUsed) > idleTimeout {
				_ = cm.client.Logout()
				cm.mu.Unlock()
				continue
			}
			cm.mu.Unlock()
			kept = append(kept, cm)
		}
		ap.conns = kept
		ap.mu.Unlock()
	}
}

func dial(server string, useTLS bool) (*client.Client, error) {
	if useTLS {
		return client.DialTLS(server, &tls.Config{MinVersion: tls.VersionTLS12})
	}
	return client.Dial(server)
}
