package brokersdk

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/matric-platform/secretbroker/pkg/keycloak"
	"github.com/matric-platform/secretbroker/pkg/vaultkv"
)

// ============================================================================
// Error Kinds and Codes
// ============================================================================

// Kind partitions broker failures by what the caller should do about them.
type Kind int

const (
	// KindTransport is a network-level failure or a 5xx from the identity
	// provider: nothing reached a decision, retrying may help.
	KindTransport Kind = iota

	// KindAuthentication means token acquisition or exchange was refused:
	// bad credentials, bad role binding, or claims that don't match the
	// broker's identity context. Retrying without a config change won't help.
	KindAuthentication

	// KindAccessDenied means the store authenticated the token but policy
	// forbids this path. An expected outcome in a multi-tenant store, never
	// a fault, and never a reason to refresh the token.
	KindAccessDenied

	// KindUpstream is a failing secret store on a data operation (5xx or an
	// unexpected non-2xx).
	KindUpstream

	// KindConfiguration is missing or invalid broker configuration detected
	// at construction.
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindAuthentication:
		return "authentication"
	case KindAccessDenied:
		return "access_denied"
	case KindUpstream:
		return "upstream"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error codes identify the precise failure within a kind, so callers that
// care (retry loops, alerting) can tell an unreachable identity provider
// from an unreachable store.
const (
	CodeIdentityProviderUnavailable = "identity_provider_unavailable"
	CodeIdentityProviderRejected    = "identity_provider_rejected"
	CodeStoreAuthRejected           = "store_auth_rejected"
	CodeStoreUnavailable            = "store_unavailable"
	CodeAccessDenied                = "access_denied"
	CodeUpstreamError               = "upstream_error"
	CodeTransportError              = "transport_error"
	CodeTenantClaimMismatch         = "tenant_claim_mismatch"
	CodeRefreshThrottled            = "refresh_throttled"
	CodeInvalidConfiguration        = "invalid_configuration"
)

// ============================================================================
// Error type
// ============================================================================

// Error is the broker's typed error. Status carries the collaborator's HTTP
// status where one exists (0 for network-level failures). Error values never
// embed token material.
type Error struct {
	Kind    Kind
	Code    string
	Status  int
	Message string

	err error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("broker: %s: %s", e.Kind, e.Code)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.err }

// Is matches on Kind, and on Code when the target specifies one. This lets
// errors.Is(err, ErrAccessDenied) match any denial while
// errors.Is(err, ErrStoreAuthRejected) stays exact.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Predefined errors for matching with errors.Is.
var (
	// ErrAccessDenied matches any policy denial from the store, whatever the
	// operation.
	ErrAccessDenied = &Error{Kind: KindAccessDenied, Code: CodeAccessDenied}

	// ErrIdentityProviderUnavailable matches network failures and 5xx from
	// the identity provider during refresh.
	ErrIdentityProviderUnavailable = &Error{Kind: KindTransport, Code: CodeIdentityProviderUnavailable}

	// ErrIdentityProviderRejected matches a 4xx from the identity provider:
	// bad client credentials or realm configuration.
	ErrIdentityProviderRejected = &Error{Kind: KindAuthentication, Code: CodeIdentityProviderRejected}

	// ErrStoreAuthRejected matches a 4xx from the store's auth exchange, e.g.
	// a JWT role binding mismatch.
	ErrStoreAuthRejected = &Error{Kind: KindAuthentication, Code: CodeStoreAuthRejected}

	// ErrStoreUnavailable matches network failures and 5xx from the store
	// during the auth exchange.
	ErrStoreUnavailable = &Error{Kind: KindTransport, Code: CodeStoreUnavailable}

	// ErrRefreshThrottled matches refreshes suppressed by the broker's own
	// rate limit on identity-provider traffic.
	ErrRefreshThrottled = &Error{Kind: KindTransport, Code: CodeRefreshThrottled}
)

// IsAccessDenied reports whether err is a policy denial.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// KindOf extracts the broker error kind, or KindTransport with false when
// err is not a broker error.
func KindOf(err error) (Kind, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind, true
	}
	return KindTransport, false
}

func newError(kind Kind, code string, status int, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Status: status, Message: message, err: err}
}

func configError(message string) *Error {
	return newError(KindConfiguration, CodeInvalidConfiguration, 0, message, nil)
}

// ============================================================================
// Classification of collaborator failures
// ============================================================================

// classifyIdentityError maps a failed identity-provider token request.
// 4xx means the provider made a decision against us; everything else is
// transport.
func classifyIdentityError(err error) *Error {
	var apiErr *keycloak.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return newError(KindAuthentication, CodeIdentityProviderRejected, apiErr.StatusCode,
				"identity provider rejected the token request", err)
		}
		return newError(KindTransport, CodeIdentityProviderUnavailable, apiErr.StatusCode,
			"identity provider returned a server error", err)
	}
	return newError(KindTransport, CodeIdentityProviderUnavailable, 0,
		"identity provider unreachable", err)
}

// classifyExchangeError maps a failed store auth exchange.
func classifyExchangeError(err error) *Error {
	var apiErr *vaultkv.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return newError(KindAuthentication, CodeStoreAuthRejected, apiErr.StatusCode,
				"secret store rejected the auth exchange", err)
		}
		return newError(KindTransport, CodeStoreUnavailable, apiErr.StatusCode,
			"secret store returned a server error during auth exchange", err)
	}
	return newError(KindTransport, CodeStoreUnavailable, 0,
		"secret store unreachable during auth exchange", err)
}

// classifyStoreError maps a failed data operation. 403 is swallowed into the
// typed denied outcome; every other non-2xx propagates as an error.
func classifyStoreError(op string, err error) *Error {
	var apiErr *vaultkv.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusForbidden {
			return newError(KindAccessDenied, CodeAccessDenied, apiErr.StatusCode,
				op+" denied by store policy", err)
		}
		return newError(KindUpstream, CodeUpstreamError, apiErr.StatusCode,
			op+" failed at the secret store", err)
	}
	return newError(KindTransport, CodeTransportError, 0,
		op+" could not reach the secret store", err)
}
