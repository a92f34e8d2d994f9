// Package vault turns per-account sealed broker credentials into a
// short-lived authenticated broker session: cache a session, refresh
// proactively before expiry, and use golang.org/x/sync/singleflight so
// concurrent callers for the same account share one pending
// authentication instead of racing the broker's login endpoint.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/replerr"
)

// SealedCredentials are a single account's broker credentials, encrypted at
// rest. The vault decrypts only for the lifetime of the authentication call.
type SealedCredentials struct {
	Account       string
	EncryptedBlob []byte
}

// Authenticator performs the actual broker login exchange. Implementations
// decrypt SealedCredentials in memory only for the duration of the call.
type Authenticator interface {
	Authenticate(ctx context.Context, creds SealedCredentials) (token string, expiresAt time.Time, err error)
}

// CredentialSource resolves an account to its sealed credentials.
type CredentialSource interface {
	Get(ctx context.Context, account string) (SealedCredentials, error)
}

// Vault implements domain.CredentialVault.
type Vault struct {
	auth         Authenticator
	source       CredentialSource
	refreshGuard time.Duration
	log          zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*domain.Session
	group    singleflight.Group
}

// New builds a Credential Vault. refreshGuard is the pre-expiry window
// within which a cached session is proactively refreshed rather than
// handed out stale.
func New(auth Authenticator, source CredentialSource, refreshGuard time.Duration, log zerolog.Logger) *Vault {
	return &Vault{
		auth:         auth,
		source:       source,
		refreshGuard: refreshGuard,
		sessions:     make(map[string]*domain.Session),
		log:          log.With().Str("component", "credential_vault").Logger(),
	}
}

// Session returns a session handle for account, authenticating or
// refreshing as needed. Concurrent callers for the same account share the
// pending authentication via singleflight.
func (v *Vault) Session(ctx context.Context, account string) (*domain.Session, error) {
	if cached := v.cachedFresh(account); cached != nil {
		return cached, nil
	}

	result, err, _ := v.group.Do(account, func() (interface{}, error) {
		// Re-check: another waiter on the same key may have refreshed while
		// we queued for the singleflight group.
		if cached := v.cachedFresh(account); cached != nil {
			return cached, nil
		}

		creds, err := v.source.Get(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("resolve credentials for %s: %w", account, err)
		}

		token, expiresAt, err := v.auth.Authenticate(ctx, creds)
		if err != nil {
			var transient *replerr.AuthTransientError
			var invalid *replerr.InvalidCredentialsError
			if errors.As(err, &transient) || errors.As(err, &invalid) {
				return nil, err
			}
			return nil, &replerr.InvalidCredentialsError{Account: account}
		}

		session := &domain.Session{Account: account, Token: token, ExpiresAt: expiresAt}
		v.mu.Lock()
		v.sessions[account] = session
		v.mu.Unlock()

		v.log.Debug().Str("account", account).Time("expires_at", expiresAt).Msg("session refreshed")
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Session), nil
}

// cachedFresh returns the cached session for account if it exists and is
// outside the refresh guard window, else nil.
func (v *Vault) cachedFresh(account string) *domain.Session {
	v.mu.Lock()
	defer v.mu.Unlock()

	session, ok := v.sessions[account]
	if !ok {
		return nil
	}
	if time.Until(session.ExpiresAt) <= v.refreshGuard {
		return nil
	}
	return session
}

// Invalidate drops the cached session for account, forcing the next
// Session() call to re-authenticate. Called by the broker adapter on a 401.
func (v *Vault) Invalidate(account string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.sessions, account)
}
