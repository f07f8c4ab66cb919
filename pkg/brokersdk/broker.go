// Package brokersdk is the credential broker core: it turns a fixed
// tenant/user identity context into a valid short-lived secret store token,
// refreshing it before expiry, and scopes every secret operation through it.
// Token acquisition is two steps, identity provider then store exchange, and
// the cached token is replaced only when both succeed.
package brokersdk

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/matric-platform/secretbroker/pkg/cryptox"
	"github.com/matric-platform/secretbroker/pkg/keycloak"
	"github.com/matric-platform/secretbroker/pkg/vaultkv"
)

// DefaultRefreshMargin is how long before hard expiry a cached token is
// considered stale and proactively refreshed.
const DefaultRefreshMargin = 60 * time.Second

// Event describes one completed secret operation for auditing. Outcome is
// "ok", "denied" or "error"; Status carries the collaborator's HTTP status
// where one exists.
type Event struct {
	TenantID string
	UserID   string
	Op       string
	Path     string
	Outcome  string
	Status   int
	At       time.Time
}

// Recorder receives an Event per facade operation. Implementations must not
// block the operation on recording failures.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// Config assembles a Broker. Keycloak and Vault settings plus the identity
// context are required; everything else has working defaults.
type Config struct {
	Identity IdentityContext
	Keycloak keycloak.Config
	Vault    vaultkv.Config

	// RefreshMargin forces refresh this long before hard expiry.
	// Defaults to DefaultRefreshMargin.
	RefreshMargin time.Duration

	// TenantClaim is the JWT claim checked against Identity.TenantID on
	// every refresh. Defaults to DefaultTenantClaim. Set
	// DisableTenantClaimCheck for identity providers without a tenant
	// mapper.
	TenantClaim             string
	DisableTenantClaimCheck bool

	// CacheFile, when set, persists the store token across restarts, sealed
	// with Sealer. Setting one without the other is a configuration error.
	CacheFile string
	Sealer    *cryptox.Sealer

	// RefreshLimit/RefreshBurst bound how fast refresh attempts may reach
	// the identity provider, whatever the callers do. Defaults: one per
	// second, burst of 5.
	RefreshLimit rate.Limit
	RefreshBurst int

	// HTTPClient, when set, is shared by both collaborator clients. It must
	// carry its own timeout.
	HTTPClient *http.Client

	// Recorder, when set, receives an audit Event per operation.
	Recorder Recorder

	Logger *slog.Logger
}

// Broker is a tenant-scoped secret broker. It is safe for concurrent use;
// racing operations share a single in-flight refresh.
type Broker struct {
	identity    IdentityContext
	idp         *keycloak.Client
	store       *vaultkv.Client
	margin      time.Duration
	tenantClaim string // empty disables the claim check
	cacheFile   string
	sealer      *cryptox.Sealer
	limiter     *rate.Limiter
	recorder    Recorder
	logger      *slog.Logger

	// now is swapped out by tests to drive expiry.
	now func() time.Time

	mu  sync.RWMutex
	tok *cachedToken
}

// New validates cfg and builds a Broker. If a sealed cache file holds a
// still-fresh token, it is adopted so a restart does not force a refresh.
func New(cfg Config) (*Broker, error) {
	if err := cfg.Identity.validate(); err != nil {
		return nil, err
	}
	if cfg.Keycloak.URL == "" || cfg.Keycloak.Realm == "" {
		return nil, configError("identity provider URL and realm are required")
	}
	if cfg.Keycloak.ClientID == "" || cfg.Keycloak.ClientSecret == "" {
		return nil, configError("identity provider client credentials are required")
	}
	if cfg.Vault.URL == "" || cfg.Vault.JWTPath == "" || cfg.Vault.Role == "" {
		return nil, configError("secret store URL, auth mount path and role are required")
	}
	if (cfg.CacheFile == "") != (cfg.Sealer == nil) {
		return nil, configError("token cache file and sealer must be configured together")
	}

	margin := cfg.RefreshMargin
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}

	tenantClaim := ""
	if !cfg.DisableTenantClaimCheck {
		tenantClaim = cfg.TenantClaim
		if tenantClaim == "" {
			tenantClaim = DefaultTenantClaim
		}
	}

	limit := cfg.RefreshLimit
	if limit == 0 {
		limit = rate.Every(time.Second)
	}
	burst := cfg.RefreshBurst
	if burst <= 0 {
		burst = 5
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var idp *keycloak.Client
	var store *vaultkv.Client
	if cfg.HTTPClient != nil {
		idp = keycloak.NewWithHTTPClient(cfg.Keycloak, cfg.HTTPClient)
		store = vaultkv.NewWithHTTPClient(cfg.Vault, cfg.HTTPClient)
	} else {
		idp = keycloak.New(cfg.Keycloak)
		store = vaultkv.New(cfg.Vault)
	}

	b := &Broker{
		identity:    cfg.Identity,
		idp:         idp,
		store:       store,
		margin:      margin,
		tenantClaim: tenantClaim,
		cacheFile:   cfg.CacheFile,
		sealer:      cfg.Sealer,
		limiter:     rate.NewLimiter(limit, burst),
		recorder:    cfg.Recorder,
		logger:      logger,
		now:         time.Now,
	}

	if b.cacheFile != "" {
		b.loadCachedToken()
	}

	return b, nil
}

// Identity returns the identity context this broker was constructed for.
func (b *Broker) Identity() IdentityContext { return b.identity }

// TenantPath builds a path under this broker's tenant subtree, e.g.
// TenantPath("config") -> "tenants/tenant-001/config".
func (b *Broker) TenantPath(name string) string {
	return "tenants/" + b.identity.TenantID + "/" + name
}

// UserPath builds a path under this broker's user subtree, e.g.
// UserPath("preferences") -> "users/user-123/preferences".
func (b *Broker) UserPath(name string) string {
	return "users/" + b.identity.UserID + "/" + name
}

// Get reads the secret at path. A store policy denial comes back as a
// KindAccessDenied error matchable with IsAccessDenied; it does not consume
// a refresh.
func (b *Broker) Get(ctx context.Context, path string) (map[string]any, error) {
	token, err := b.EnsureValid(ctx)
	if err != nil {
		b.record(ctx, "get", path, err)
		return nil, err
	}

	data, err := b.store.GetSecret(ctx, token, path)
	if err != nil {
		cerr := classifyStoreError("get", err)
		b.record(ctx, "get", path, cerr)
		return nil, cerr
	}

	b.record(ctx, "get", path, nil)
	return data, nil
}

// Put writes data as a new version of the secret at path. Denial semantics
// match Get.
func (b *Broker) Put(ctx context.Context, path string, data map[string]any) error {
	token, err := b.EnsureValid(ctx)
	if err != nil {
		b.record(ctx, "put", path, err)
		return err
	}

	if err := b.store.PutSecret(ctx, token, path, data); err != nil {
		cerr := classifyStoreError("put", err)
		b.record(ctx, "put", path, cerr)
		return cerr
	}

	b.record(ctx, "put", path, nil)
	return nil
}

// List enumerates the secret keys directly under path. Denial semantics
// match Get.
func (b *Broker) List(ctx context.Context, path string) ([]string, error) {
	token, err := b.EnsureValid(ctx)
	if err != nil {
		b.record(ctx, "list", path, err)
		return nil, err
	}

	keys, err := b.store.ListSecrets(ctx, token, path)
	if err != nil {
		cerr := classifyStoreError("list", err)
		b.record(ctx, "list", path, cerr)
		return nil, cerr
	}

	b.record(ctx, "list", path, nil)
	return keys, nil
}

// record emits an audit event for a completed operation. Auditing is
// observational: it never fails or delays the operation itself.
func (b *Broker) record(ctx context.Context, op, path string, opErr error) {
	if b.recorder == nil {
		return
	}

	outcome := "ok"
	status := 0
	if opErr != nil {
		outcome = "error"
		if IsAccessDenied(opErr) {
			outcome = "denied"
		}
		if be, ok := opErr.(*Error); ok {
			status = be.Status
		}
	}

	b.recorder.Record(ctx, Event{
		TenantID: b.identity.TenantID,
		UserID:   b.identity.UserID,
		Op:       op,
		Path:     path,
		Outcome:  outcome,
		Status:   status,
		At:       b.now().UTC(),
	})
}
