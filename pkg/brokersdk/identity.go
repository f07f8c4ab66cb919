package brokersdk

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTenantClaim is the claim the identity provider's mapper embeds the
// tenant membership under.
const DefaultTenantClaim = "tenant_id"

// IdentityContext names the tenant and user a broker instance acts for. It
// is fixed at construction and used only for auditing and for checking the
// issued token's claims; the store's authorization decisions are driven by
// the claims inside the token, never by these strings.
type IdentityContext struct {
	TenantID string
	UserID   string
}

func (ic IdentityContext) validate() error {
	if ic.TenantID == "" {
		return configError("identity context missing tenant id")
	}
	if ic.UserID == "" {
		return configError("identity context missing user id")
	}
	return nil
}

// extractClaims decodes the claims of an identity-provider JWT without
// verifying its signature. The broker is not the token's audience; signature
// verification happens at the store. The claims are read here only to refuse
// brokering under a token whose issuer bound it to a different tenant.
func extractClaims(rawJWT string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(rawJWT, claims); err != nil {
		return nil, fmt.Errorf("malformed identity token: %w", err)
	}
	return claims, nil
}

// checkTenantClaim ensures the token's tenant claim agrees with the broker's
// identity context. A token without the claim is rejected too: a realm
// without the mapper would otherwise silently disable tenant isolation.
func checkTenantClaim(claims jwt.MapClaims, claimName, tenantID string) *Error {
	raw, ok := claims[claimName]
	if !ok {
		return newError(KindAuthentication, CodeTenantClaimMismatch, 0,
			fmt.Sprintf("identity token missing %q claim", claimName), nil)
	}

	value, ok := raw.(string)
	if !ok || value != tenantID {
		return newError(KindAuthentication, CodeTenantClaimMismatch, 0,
			fmt.Sprintf("identity token %q claim does not match broker tenant", claimName), nil)
	}

	return nil
}

// claimsDigest produces a stable fingerprint of the token's claims. It
// travels with the cached token so audit records can be correlated back to
// the identity that produced them without ever storing the token itself.
func claimsDigest(claims jwt.MapClaims) string {
	// encoding/json sorts map keys, so the digest is deterministic.
	encoded, err := json.Marshal(claims)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])
}
