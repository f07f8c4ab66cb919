package brokersdk

import (
	"encoding/json"
	"os"
	"time"
)

// persistedToken is the on-disk form of the cached token. The file content
// is sealed with the configured Sealer before it touches disk; the plaintext
// token value never does.
type persistedToken struct {
	Token        string    `json:"token"`
	IssuedAt     time.Time `json:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	ClaimsDigest string    `json:"claims_digest"`
}

// loadCachedToken adopts a persisted token if the cache file exists, opens
// cleanly and the token is still fresh. Any failure just means the first
// operation refreshes; a stale or corrupt cache is not an error.
func (b *Broker) loadCachedToken() {
	sealed, err := os.ReadFile(b.cacheFile)
	if err != nil {
		return
	}

	plain, err := b.sealer.Open(sealed)
	if err != nil {
		b.logger.Warn("discarding unreadable token cache", "error", err)
		return
	}

	var pt persistedToken
	if err := json.Unmarshal(plain, &pt); err != nil {
		b.logger.Warn("discarding malformed token cache", "error", err)
		return
	}

	if pt.Token == "" || !b.now().Before(pt.ExpiresAt) {
		return
	}

	b.tok = &cachedToken{
		value:        pt.Token,
		issuedAt:     pt.IssuedAt,
		expiresAt:    pt.ExpiresAt,
		claimsDigest: pt.ClaimsDigest,
	}
	b.logger.Info("adopted persisted store token", "expires_at", pt.ExpiresAt)
}

// persistCachedTokenLocked writes the current token to the sealed cache
// file. Persistence is best effort: a failure is logged and the in-memory
// token stays authoritative. The caller holds the write lock.
func (b *Broker) persistCachedTokenLocked() {
	if b.cacheFile == "" || b.tok == nil {
		return
	}

	plain, err := json.Marshal(persistedToken{
		Token:        b.tok.value,
		IssuedAt:     b.tok.issuedAt,
		ExpiresAt:    b.tok.expiresAt,
		ClaimsDigest: b.tok.claimsDigest,
	})
	if err != nil {
		b.logger.Warn("failed to encode token cache", "error", err)
		return
	}

	sealed, err := b.sealer.Seal(plain)
	if err != nil {
		b.logger.Warn("failed to seal token cache", "error", err)
		return
	}

	if err := os.WriteFile(b.cacheFile, sealed, 0o600); err != nil {
		b.logger.Warn("failed to write token cache", "error", err)
	}
}
