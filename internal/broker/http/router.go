package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/matric-platform/secretbroker/internal/broker/service"
	"github.com/matric-platform/secretbroker/internal/broker/store"
	"github.com/matric-platform/secretbroker/pkg/httpx"
	"github.com/matric-platform/secretbroker/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store        store.Store
	Broker       SecretBroker
	AuditService *service.AuditService
}

func NewRouter(buildVersion string, st store.Store, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSecrets()
	r.registerAudit()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerSecrets() {
	h := &SecretsHandler{Broker: r.Broker}

	// Data operations carry secret material. Moderate limit keeps a
	// misbehaving consumer from hammering the upstream store.
	r.Mux.Handle("GET /v1/secrets/{path...}",
		httpx.Chain(http.HandlerFunc(h.HandleRead),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("PUT /v1/secrets/{path...}",
		httpx.Chain(http.HandlerFunc(h.HandleWrite),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerAudit() {
	h := &AuditEventsHandler{AuditService: r.AuditService}

	r.Mux.Handle("GET /v1/audit/events",
		httpx.Chain(h,
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems may poll frequently)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.Broker),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
