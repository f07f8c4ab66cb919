package brokersdk

import (
	"context"
	"time"
)

// minTokenLife is the floor on a cached token's usable window after the
// refresh margin is subtracted. A store declaring a lease at or below the
// margin would otherwise produce tokens that are stale the moment they are
// cached, turning every operation into a refresh.
const minTokenLife = 30 * time.Second

// cachedToken is the broker's single live token. It is owned by the
// lifecycle methods and only ever replaced whole, under the write lock.
type cachedToken struct {
	value        string
	issuedAt     time.Time
	expiresAt    time.Time // already margin-adjusted
	claimsDigest string
}

// EnsureValid returns a currently valid store token, refreshing it if absent
// or inside the refresh margin. Concurrent callers racing on a stale token
// share one refresh: the double-checked write lock means exactly one caller
// performs the identity-provider call and store exchange while the rest
// block and then read the replaced token.
func (b *Broker) EnsureValid(ctx context.Context) (string, error) {
	b.mu.RLock()
	if tok := b.tok; tok != nil && b.now().Before(tok.expiresAt) {
		value := tok.value
		b.mu.RUnlock()
		return value, nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	// Another caller may have refreshed while we waited for the write lock.
	if tok := b.tok; tok != nil && b.now().Before(tok.expiresAt) {
		return tok.value, nil
	}

	if err := b.refreshLocked(ctx); err != nil {
		return "", err
	}
	return b.tok.value, nil
}

// Refresh unconditionally acquires a fresh token, regardless of the cached
// token's remaining lifetime.
func (b *Broker) Refresh(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshLocked(ctx)
}

// HasValidToken reports whether the broker currently holds a usable token.
// Used by readiness probes; it never triggers a refresh.
func (b *Broker) HasValidToken() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tok != nil && b.now().Before(b.tok.expiresAt)
}

// ClaimsDigest returns the claims fingerprint of the current token, or ""
// when no token is held.
func (b *Broker) ClaimsDigest() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.tok == nil {
		return ""
	}
	return b.tok.claimsDigest
}

// refreshLocked performs the two-step acquisition. The caller holds the
// write lock. On any failure the previous cache state, possibly empty, is
// left untouched; the token is replaced only when both steps succeed.
func (b *Broker) refreshLocked(ctx context.Context) error {
	if !b.limiter.Allow() {
		return newError(KindTransport, CodeRefreshThrottled, 0,
			"refresh attempts exceed the identity provider rate limit", nil)
	}

	b.logger.Info("refreshing store token",
		"tenant_id", b.identity.TenantID,
		"user_id", b.identity.UserID,
	)

	rawJWT, err := b.idp.ClientCredentialsGrant(ctx)
	if err != nil {
		return classifyIdentityError(err)
	}

	claims, err := extractClaims(rawJWT)
	if err != nil {
		return newError(KindAuthentication, CodeIdentityProviderRejected, 0,
			"identity provider returned a malformed token", err)
	}
	if b.tenantClaim != "" {
		if cerr := checkTenantClaim(claims, b.tenantClaim, b.identity.TenantID); cerr != nil {
			return cerr
		}
	}

	auth, err := b.store.LoginJWT(ctx, rawJWT)
	if err != nil {
		return classifyExchangeError(err)
	}

	now := b.now()
	expiresAt := now.Add(time.Duration(auth.LeaseDuration)*time.Second - b.margin)
	if floor := now.Add(minTokenLife); expiresAt.Before(floor) {
		expiresAt = floor
	}

	b.tok = &cachedToken{
		value:        auth.ClientToken,
		issuedAt:     now,
		expiresAt:    expiresAt,
		claimsDigest: claimsDigest(claims),
	}
	b.persistCachedTokenLocked()

	b.logger.Info("store token refreshed",
		"tenant_id", b.identity.TenantID,
		"lease_duration_s", auth.LeaseDuration,
		"expires_at", expiresAt,
	)
	return nil
}
