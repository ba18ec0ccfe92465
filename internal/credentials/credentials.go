// Package credentials resolves the plaintext secret a RemoteMailbox
// connection lease authenticates with: a decrypted IMAP password for plain
// accounts, or a refreshed OAuth access token for Gmail accounts. Grounded
// on danmarg-outtake's lib/gmail/gmail.go oauth2.Config/Client wiring and on
// original_source/inbox/models/backends/gmail.py's GTokenManager
// (per-account, per-scope token cache with forced refresh on expiry and
// is_valid invalidation on a non-retriable OAuth error).
package credentials

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/mailsync/core/internal/crypto"
	"github.com/mailsync/core/internal/models"
	"github.com/mailsync/core/internal/remotemailbox"
	"github.com/mailsync/core/internal/store"
)

// GmailScope is the scope requested for IMAP access over XOAUTH2, mirroring
// GOOGLE_EMAIL_SCOPE in the original source.
const GmailScope = "https://mail.google.com/"

// ErrCredentialInvalid marks an account whose stored refresh token Google
// has permanently rejected; the account can no longer authenticate until
// a user re-links it.
var ErrCredentialInvalid = errors.New("credentials: refresh token invalid")

// OAuthConfig supplies the client_id/client_secret this process refreshes
// tokens with. In the original source these lived on the Account row
// itself (client_id/client_secret columns); here they are process-wide
// configuration, since a single sync engine deployment registers one OAuth
// client with Google.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
}

// Resolver implements foldersync.CredentialResolver. It caches refreshed
// OAuth tokens per (account, scope) in memory, refreshing only once the
// cached token no longer reports oauth2.Token.Valid (which treats a token
// as expired 10 seconds early), matching GTokenManager's
// "expires_in -= 10 seconds" safety margin.
type Resolver struct {
	store     store.MetadataStore
	encryptor *crypto.Encryptor
	oauth     OAuthConfig

	mu     sync.Mutex
	tokens map[string]*oauth2.Token // key: accountID+"/"+scope
}

// New constructs a Resolver. encryptor decrypts plain-IMAP passwords;
// oauthCfg supplies the Google OAuth client credentials used to refresh
// Gmail accounts' access tokens from their stored refresh token.
func New(metadata store.MetadataStore, encryptor *crypto.Encryptor, oauthCfg OAuthConfig) *Resolver {
	return &Resolver{
		store:     metadata,
		encryptor: encryptor,
		oauth:     oauthCfg,
		tokens:    make(map[string]*oauth2.Token),
	}
}

// Secret returns the plaintext credential a connection lease authenticates
// with: the decrypted IMAP password for ProviderIMAP, or a valid OAuth
// access token for ProviderGmail, refreshing it first if necessary.
func (r *Resolver) Secret(ctx context.Context, account *models.Account) (string, error) {
	if account.Provider != models.ProviderGmail {
		password, err := r.encryptor.Decrypt(account.EncryptedPassword)
		if err != nil {
			return "", fmt.Errorf("credentials: decrypt password: %w", err)
		}
		return password, nil
	}
	return r.gmailAccessToken(ctx, account)
}

func (r *Resolver) gmailAccessToken(ctx context.Context, account *models.Account) (string, error) {
	key := account.ID + "/" + GmailScope

	r.mu.Lock()
	cached, ok := r.tokens[key]
	r.mu.Unlock()
	if ok && cached.Valid() {
		return cached.AccessToken, nil
	}

	cred, err := r.store.GetCredential(ctx, account.ID, GmailScope)
	if err != nil {
		return "", fmt.Errorf("credentials: load stored credential: %w", err)
	}
	if !cred.IsValid {
		return "", ErrCredentialInvalid
	}

	refreshToken, err := r.encryptor.Decrypt(cred.EncryptedRefreshToken)
	if err != nil {
		return "", fmt.Errorf("credentials: decrypt refresh token: %w", err)
	}

	cfg := &oauth2.Config{
		ClientID:     r.oauth.ClientID,
		ClientSecret: r.oauth.ClientSecret,
		Scopes:       []string{GmailScope},
		Endpoint:     google.Endpoint,
	}
	source := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	fresh, err := source.Token()
	if err != nil {
		if isNonRetriableOAuthError(err) {
			if invalidateErr := r.store.InvalidateCredential(ctx, account.ID, GmailScope); invalidateErr != nil {
				return "", fmt.Errorf("credentials: invalidate after refresh failure: %w", invalidateErr)
			}
			return "", fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
		}
		return "", fmt.Errorf("credentials: refresh access token: %w: %w", remotemailbox.ErrTransient, err)
	}

	encryptedAccess, err := r.encryptor.Encrypt(fresh.AccessToken)
	if err != nil {
		return "", fmt.Errorf("credentials: encrypt refreshed access token: %w", err)
	}
	if err := r.store.SaveCredential(ctx, &models.Credential{
		AccountID:             account.ID,
		Scope:                 GmailScope,
		EncryptedRefreshToken: cred.EncryptedRefreshToken,
		EncryptedAccessToken:  encryptedAccess,
		Expiry:                fresh.Expiry,
		IsValid:               true,
	}); err != nil {
		return "", fmt.Errorf("credentials: persist refreshed token: %w", err)
	}

	r.mu.Lock()
	r.tokens[key] = fresh
	r.mu.Unlock()

	return fresh.AccessToken, nil
}

// isNonRetriableOAuthError classifies a token refresh failure as
// permanent — Google returning invalid_grant means the refresh token has
// been revoked or expired and retrying will never succeed — versus any
// other failure (network, 5xx), which gmailAccessToken wraps with
// remotemailbox.ErrTransient so the foldersync.withRetry layer retries it.
func isNonRetriableOAuthError(err error) bool {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		switch rErr.ErrorCode {
		case "invalid_grant", "unauthorized_client", "access_denied":
			return true
		}
	}
	return false
}
