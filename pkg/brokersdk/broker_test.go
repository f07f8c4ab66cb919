package brokersdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/matric-platform/secretbroker/pkg/keycloak"
	"github.com/matric-platform/secretbroker/pkg/vaultkv"
)

// fakeEnv is an in-process identity provider and secret store. Counters are
// atomic so concurrent lifecycle tests can assert exact call counts.
type fakeEnv struct {
	idp   *httptest.Server
	store *httptest.Server

	idpCalls   atomic.Int32
	loginCalls atomic.Int32

	// Mutable knobs; set before the broker makes calls.
	idpStatus    atomic.Int32 // 0 means success
	loginStatus  atomic.Int32 // 0 means success
	tokenTenant  atomic.Value // string: tenant_id claim minted into the JWT
	lease        atomic.Int32
	storeToken   string
	deniedPrefix string

	secrets map[string]map[string]any
}

func mintJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}

func newFakeEnv(t *testing.T) *fakeEnv {
	t.Helper()

	env := &fakeEnv{
		storeToken: "hvs.test-token",
		secrets: map[string]map[string]any{
			"tenants/tenant-001/config": {"key": "value"},
			"common/config":             {"region": "ap-southeast-2"},
		},
		deniedPrefix: "tenants/tenant-002/",
	}
	env.lease.Store(3600)
	env.tokenTenant.Store("tenant-001")

	env.idp = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env.idpCalls.Add(1)

		if status := env.idpStatus.Load(); status != 0 {
			w.WriteHeader(int(status))
			return
		}

		token := mintJWT(t, jwt.MapClaims{
			"sub":       "service-account-matric-platform",
			"tenant_id": env.tokenTenant.Load().(string),
			"exp":       time.Now().Add(5 * time.Minute).Unix(),
		})
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": token})
	}))
	t.Cleanup(env.idp.Close)

	env.store = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/auth/jwt/login":
			env.loginCalls.Add(1)
			if status := env.loginStatus.Load(); status != 0 {
				w.WriteHeader(int(status))
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"auth": map[string]any{
					"client_token":   env.storeToken,
					"lease_duration": env.lease.Load(),
				},
			})

		case strings.HasPrefix(r.URL.Path, "/v1/secret/data/"):
			path := strings.TrimPrefix(r.URL.Path, "/v1/secret/data/")
			if r.Header.Get("X-Vault-Token") != env.storeToken {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			if strings.HasPrefix(path, env.deniedPrefix) {
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]any{"errors": []string{"permission denied"}})
				return
			}

			switch r.Method {
			case http.MethodGet:
				data, ok := env.secrets[path]
				if !ok {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"data": data}})
			case http.MethodPost:
				var payload struct {
					Data map[string]any `json:"data"`
				}
				_ = json.NewDecoder(r.Body).Decode(&payload)
				env.secrets[path] = payload.Data
				_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"version": 1}})
			}

		case strings.HasPrefix(r.URL.Path, "/v1/secret/metadata/"):
			path := strings.TrimPrefix(r.URL.Path, "/v1/secret/metadata/")
			if strings.HasPrefix(path, env.deniedPrefix) {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": map[string]any{"keys": []string{"config", "database"}},
			})

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(env.store.Close)

	return env
}

func (env *fakeEnv) config() Config {
	return Config{
		Identity: IdentityContext{TenantID: "tenant-001", UserID: "user-123"},
		Keycloak: keycloak.Config{
			URL:          env.idp.URL,
			Realm:        "matric-dev",
			ClientID:     "matric-platform",
			ClientSecret: "dev-secret",
			Scope:        "openid profile",
		},
		Vault: vaultkv.Config{
			URL:     env.store.URL,
			JWTPath: "auth/jwt/login",
			Role:    "matric-service",
		},
		RefreshLimit: rate.Inf,
	}
}

func newTestBroker(t *testing.T, env *fakeEnv) *Broker {
	t.Helper()
	b, err := New(env.config())
	require.NoError(t, err)
	return b
}

func TestEnsureValidRefreshesOnce(t *testing.T) {
	t.Parallel()

	env := newFakeEnv(t)
	b := newTestBroker(t, env)
	ctx := context.Background()

	first, err := b.EnsureValid(ctx)
	require.NoError(t, err)
	require.Equal(t, "hvs.test-token", first)

	// No time advance: repeated calls must not touch the network again.
	for range 10 {
		tok, err := b.EnsureValid(ctx)
		require.NoError(t, err)
		require.Equal(t, first, tok)
	}

	require.Equal(t, int32(1), env.idpCalls.Load())
	require.Equal(t, int32(1), env.loginCalls.Load())
}

func TestEnsureValidRefreshesAtMarginNotBefore(t *testing.T) {
	t.Parallel()

	env := newFakeEnv(t)
	b := newTestBroker(t, env)
	ctx := context.Background()

	issued := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	current := issued
	b.now = func() time.Time { return current }

	_, err := b.EnsureValid(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(1), env.idpCalls.Load())

	// Lease 3600s, margin 60s: the token is stale at issued+3540s.
	current = issued.Add(3540*time.Second - time.Millisecond)
	_, err = b.EnsureValid(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(1), env.idpCalls.Load(), "refreshed before the margin")

	current = issued.Add(3540 * time.Second)
	_, err = b.EnsureValid(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(2), env.idpCalls.Load(), "did not refresh at the margin")
	require.Equal(t, int32(2), env.loginCalls.Load())
}

func TestEnsureValidConcurrentSingleFlight(t *testing.T) {
	t.Parallel()

	env := newFakeEnv(t)
	b := newTestBroker(t, env)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	tokens := make([]string, workers)
	errs := make([]error, workers)

	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = b.EnsureValid(ctx)
		}()
	}
	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		require.Equal(t, "hvs.test-token", tokens[i])
	}

	require.Equal(t, int32(1), env.idpCalls.Load(), "duplicate identity provider calls")
	require.Equal(t, int32(1), env.loginCalls.Load(), "duplicate exchange calls")
}

func TestGetDeniedIsTypedNotFatal(t *testing.T) {
	t.Parallel()

	env := newFakeEnv(t)
	b := newTestBroker(t, env)
	ctx := context.Background()

	// Own tenant: allowed.
	data, err := b.Get(ctx, "tenants/tenant-001/config")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"key": "value"}, data)

	// Cross-tenant: denied by simulated store policy.
	_, err = b.Get(ctx, "tenants/tenant-002/config")
	require.True(t, IsAccessDenied(err))
	require.ErrorIs(t, err, ErrAccessDenied)

	var be *Error
	require.True(t, errors.As(err, &be))
	require.Equal(t, KindAccessDenied, be.Kind)
	require.Equal(t, http.StatusForbidden, be.Status)

	// A 403 is a policy decision, not a token-expiry symptom: no refresh.
	require.Equal(t, int32(1), env.idpCalls.Load())
	require.Equal(t, int32(1), env.loginCalls.Load())

	// The broker keeps working with its existing token.
	data, err = b.Get(ctx, "common/config")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"region": "ap-southeast-2"}, data)
	require.Equal(t, int32(1), env.idpCalls.Load())
}

func TestPutAndListDeniedAreTyped(t *testing.T) {
	t.Parallel()

	env := newFakeEnv(t)
	b := newTestBroker(t, env)
	ctx := context.Background()

	err := b.Put(ctx, "tenants/tenant-002/config", map[string]any{"k": "v"})
	require.True(t, IsAccessDenied(err))

	_, err = b.List(ctx, "tenants/tenant-002/")
	require.True(t, IsAccessDenied(err))

	require.Equal(t, int32(1), env.idpCalls.Load())
}

func TestPutThenGetRoundTrip(t *testing.T) {
	t.Parallel()

	env := newFakeEnv(t)
	b := newTestBroker(t, env)
	ctx := context.Background()

	err := b.Put(ctx, b.UserPath("api-keys"), map[string]any{"external_service": "sk_new_api_key_12345"})
	require.NoError(t, err)

	data, err := b.Get(ctx, "users/user-123/api-keys")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"external_service": "sk_new_api_key_12345"}, data)

	keys, err := b.List(ctx, b.TenantPath(""))
	require.NoError(t, err)
	require.Equal(t, []string{"config", "database"}, keys)
}

func TestFailedRefreshKeepsPreviousToken(t *testing.T) {
	t.Parallel()

	env := newFakeEnv(t)
	b := newTestBroker(t, env)
	ctx := context.Background()

	first, err := b.EnsureValid(ctx)
	require.NoError(t, err)

	// Identity provider goes down; an unconditional refresh fails...
	env.idpStatus.Store(http.StatusInternalServerError)
	err = b.Refresh(ctx)
	require.ErrorIs(t, err, ErrIdentityProviderUnavailable)

	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindTransport, kind)

	// ...but the cached token is untouched and still served.
	tok, err := b.EnsureValid(ctx)
	require.NoError(t, err)
	require.Equal(t, first, tok)
	require.True(t, b.HasValidToken())

	data, err := b.Get(ctx, "tenants/tenant-001/config")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"key": "value"}, data)
}

func TestRefreshErrorClassification(t *testing.T) {
	t.Parallel()

	t.Run("identity provider 4xx", func(t *testing.T) {
		env := newFakeEnv(t)
		env.idpStatus.Store(http.StatusUnauthorized)
		b := newTestBroker(t, env)

		_, err := b.EnsureValid(context.Background())
		require.ErrorIs(t, err, ErrIdentityProviderRejected)
		require.Equal(t, int32(0), env.loginCalls.Load(), "exchange attempted after failed grant")
	})

	t.Run("identity provider 5xx", func(t *testing.T) {
		env := newFakeEnv(t)
		env.idpStatus.Store(http.StatusBadGateway)
		b := newTestBroker(t, env)

		_, err := b.EnsureValid(context.Background())
		require.ErrorIs(t, err, ErrIdentityProviderUnavailable)
	})

	t.Run("exchange 4xx", func(t *testing.T) {
		env := newFakeEnv(t)
		env.loginStatus.Store(http.StatusBadRequest)
		b := newTestBroker(t, env)

		_, err := b.EnsureValid(context.Background())
		require.ErrorIs(t, err, ErrStoreAuthRejected)
		require.False(t, b.HasValidToken())
	})

	t.Run("exchange 5xx", func(t *testing.T) {
		env := newFakeEnv(t)
		env.loginStatus.Store(http.StatusServiceUnavailable)
		b := newTestBroker(t, env)

		_, err := b.EnsureValid(context.Background())
		require.ErrorIs(t, err, ErrStoreUnavailable)
	})
}

func TestUpstreamErrorOnDataOperation(t *testing.T) {
	t.Parallel()

	env := newFakeEnv(t)
	b := newTestBroker(t, env)
	ctx := context.Background()

	// Missing secret: not a denial, not transport.
	_, err := b.Get(ctx, "tenants/tenant-001/missing")
	require.False(t, IsAccessDenied(err))

	var be *Error
	require.True(t, errors.As(err, &be))
	require.Equal(t, KindUpstream, be.Kind)
	require.Equal(t, http.StatusNotFound, be.Status)
}

func TestTenantClaimMismatchRejectsToken(t *testing.T) {
	t.Parallel()

	env := newFakeEnv(t)
	env.tokenTenant.Store("tenant-002")
	b := newTestBroker(t, env)

	_, err := b.EnsureValid(context.Background())
	require.Error(t, err)

	var be *Error
	require.True(t, errors.As(err, &be))
	require.Equal(t, KindAuthentication, be.Kind)
	require.Equal(t, CodeTenantClaimMismatch, be.Code)

	// The mismatched token must never reach the store.
	require.Equal(t, int32(0), env.loginCalls.Load())
}

func TestTenantClaimCheckCanBeDisabled(t *testing.T) {
	t.Parallel()

	env := newFakeEnv(t)
	env.tokenTenant.Store("tenant-002")

	cfg := env.config()
	cfg.DisableTenantClaimCheck = true
	b, err := New(cfg)
	require.NoError(t, err)

	_, err = b.EnsureValid(context.Background())
	require.NoError(t, err)
}

func TestShortLeaseIsClamped(t *testing.T) {
	t.Parallel()

	env := newFakeEnv(t)
	env.lease.Store(10) // below the refresh margin
	b := newTestBroker(t, env)
	ctx := context.Background()

	_, err := b.EnsureValid(ctx)
	require.NoError(t, err)

	// Without clamping the token would already be stale and every call
	// would refresh.
	_, err = b.EnsureValid(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(1), env.idpCalls.Load())
}

func TestRefreshThrottled(t *testing.T) {
	t.Parallel()

	env := newFakeEnv(t)
	cfg := env.config()
	cfg.RefreshLimit = rate.Every(time.Hour)
	cfg.RefreshBurst = 1
	b, err := New(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = b.EnsureValid(ctx)
	require.NoError(t, err)

	err = b.Refresh(ctx)
	require.ErrorIs(t, err, ErrRefreshThrottled)
	require.Equal(t, int32(1), env.idpCalls.Load())
}

type captureRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *captureRecorder) Record(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestOperationsAreRecorded(t *testing.T) {
	t.Parallel()

	env := newFakeEnv(t)
	rec := &captureRecorder{}
	cfg := env.config()
	cfg.Recorder = rec
	b, err := New(cfg)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = b.Get(ctx, "tenants/tenant-001/config")
	require.NoError(t, err)
	_, err = b.Get(ctx, "tenants/tenant-002/config")
	require.True(t, IsAccessDenied(err))

	require.Len(t, rec.events, 2)

	require.Equal(t, "tenant-001", rec.events[0].TenantID)
	require.Equal(t, "user-123", rec.events[0].UserID)
	require.Equal(t, "get", rec.events[0].Op)
	require.Equal(t, "tenants/tenant-001/config", rec.events[0].Path)
	require.Equal(t, "ok", rec.events[0].Outcome)

	require.Equal(t, "denied", rec.events[1].Outcome)
	require.Equal(t, http.StatusForbidden, rec.events[1].Status)
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	env := newFakeEnv(t)

	requireConfigErr := func(t *testing.T, mutate func(*Config)) {
		cfg := env.config()
		mutate(&cfg)
		_, err := New(cfg)
		require.Error(t, err)

		var be *Error
		require.True(t, errors.As(err, &be))
		require.Equal(t, KindConfiguration, be.Kind)
	}

	t.Run("missing tenant", func(t *testing.T) {
		requireConfigErr(t, func(c *Config) { c.Identity.TenantID = "" })
	})
	t.Run("missing user", func(t *testing.T) {
		requireConfigErr(t, func(c *Config) { c.Identity.UserID = "" })
	})
	t.Run("missing client secret", func(t *testing.T) {
		requireConfigErr(t, func(c *Config) { c.Keycloak.ClientSecret = "" })
	})
	t.Run("missing store role", func(t *testing.T) {
		requireConfigErr(t, func(c *Config) { c.Vault.Role = "" })
	})
	t.Run("cache file without sealer", func(t *testing.T) {
		requireConfigErr(t, func(c *Config) { c.CacheFile = "/tmp/cache" })
	})
}

func TestPathHelpers(t *testing.T) {
	t.Parallel()

	env := newFakeEnv(t)
	b := newTestBroker(t, env)

	require.Equal(t, "tenants/tenant-001/config", b.TenantPath("config"))
	require.Equal(t, "users/user-123/preferences", b.UserPath("preferences"))
	require.Equal(t, IdentityContext{TenantID: "tenant-001", UserID: "user-123"}, b.Identity())
}
