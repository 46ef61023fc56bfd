package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/domen-source/storyweaver-consumer/internal/platform/httpx"
)

// APIPrefix is where every storefront route group is mounted.
const APIPrefix = "/api/storefront"

const requestTimeout = 60 * time.Second

// RouteRegistrar adds one route group's handlers to r.
type RouteRegistrar func(r chi.Router)

// routeGroup is a set of prefixes under APIPrefix served by one registrar.
// An unset registrar answers 503 on all of its prefixes.
type routeGroup struct {
	name      string
	prefixes  []string
	registrar RouteRegistrar
	// rooted registrars own several prefixes and are handed the API router itself.
	rooted bool
}

type routerConfig struct {
	trustProxy  bool
	middlewares []func(http.Handler) http.Handler
	health      *HealthHandlers
	groups      map[string]*routeGroup
}

// Option customises NewRouter.
type Option func(*routerConfig)

// NewRouter builds the storefront router: health probes at the root and the
// books, orders, checkout and webhook groups under APIPrefix.
func NewRouter(opts ...Option) chi.Router {
	cfg := routerConfig{
		groups: map[string]*routeGroup{
			"books":    {name: "books", prefixes: []string{"/books"}},
			"orders":   {name: "orders", prefixes: []string{"/orders"}},
			"checkout": {name: "checkout", prefixes: []string{"/checkout", "/payment"}, rooted: true},
			"webhooks": {name: "webhooks", prefixes: []string{"/webhooks"}},
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.health == nil {
		cfg.health = NewHealthHandlers()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Timeout(requestTimeout))
	for _, mw := range cfg.middlewares {
		if mw != nil {
			r.Use(mw)
		}
	}
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("route_not_found", "no route for "+req.URL.Path, http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("method_not_allowed", req.Method+" is not allowed on "+req.URL.Path, http.StatusMethodNotAllowed))
	})

	r.Get("/healthz", cfg.health.Healthz)
	r.Get("/readyz", cfg.health.Readyz)

	r.Route(APIPrefix, func(api chi.Router) {
		for _, name := range []string{"books", "orders", "checkout", "webhooks"} {
			mountGroup(api, cfg.groups[name])
		}
	})
	return r
}

func mountGroup(api chi.Router, group *routeGroup) {
	switch {
	case group.registrar == nil:
		unavailable := unavailableHandler(group.name)
		for _, prefix := range group.prefixes {
			api.HandleFunc(prefix, unavailable)
			api.HandleFunc(prefix+"/*", unavailable)
		}
	case group.rooted:
		group.registrar(api)
	default:
		api.Route(group.prefixes[0], func(sub chi.Router) { group.registrar(sub) })
	}
}

func unavailableHandler(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httpx.WriteError(req.Context(), w, httpx.NewError("service_unavailable", name+" routes are not configured", http.StatusServiceUnavailable))
	}
}

func withGroup(name string, reg RouteRegistrar) Option {
	return func(cfg *routerConfig) {
		cfg.groups[name].registrar = reg
	}
}

// WithMiddlewares appends global middleware after the request id and timeout defaults.
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(cfg *routerConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithTrustedProxy rewrites the client address from X-Forwarded-For/X-Real-IP.
// Without it the socket address is the client address, so those headers
// cannot be used to dodge per-client rate limits.
func WithTrustedProxy(trust bool) Option {
	return func(cfg *routerConfig) {
		cfg.trustProxy = trust
	}
}

func WithHealthHandlers(h *HealthHandlers) Option {
	return func(cfg *routerConfig) {
		cfg.health = h
	}
}

// WithBookRoutes mounts reg at /books.
func WithBookRoutes(reg RouteRegistrar) Option { return withGroup("books", reg) }

// WithOrderRoutes mounts reg at /orders.
func WithOrderRoutes(reg RouteRegistrar) Option { return withGroup("orders", reg) }

// WithCheckoutRoutes hands reg the API router, since checkout owns both /checkout and /payment.
func WithCheckoutRoutes(reg RouteRegistrar) Option { return withGroup("checkout", reg) }

// WithWebhookRoutes mounts reg at /webhooks.
func WithWebhookRoutes(reg RouteRegistrar) Option { return withGroup("webhooks", reg) }
