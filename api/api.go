package api

import (
	"log/slog"
	"net/netip"
	"os"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/jmcleod/ironward/internal/metrics"
	"github.com/jmcleod/ironward/shield"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	shield         *shield.Shield
	logger         *slog.Logger
	accounts       *accountStore
	audit          *auditLogger
	metrics        *metrics.Metrics
	trustedProxies []netip.Prefix
	throttle       *rate.Limiter

	alertFn      AlertFunc
	webhookURL   string
	webhookAuth  string
	assignTenant TenantAssigner
}

// TenantAssigner picks the tenant for a newly registered identifier. An
// error refuses the registration.
type TenantAssigner func(identifier string) (string, error)

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithMetrics records per-route request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *API) {
		a.metrics = m
	}
}

// WithTrustedProxies configures the proxies whose forwarding headers are
// honored when deriving the client address. Values are CIDR ranges or bare
// addresses.
func WithTrustedProxies(values []string) (Option, error) {
	prefixes, err := parseTrustedProxies(values)
	if err != nil {
		return nil, err
	}
	return func(a *API) {
		a.trustedProxies = prefixes
	}, nil
}

// WithThrottle caps the total request rate. rps <= 0 disables the throttle.
func WithThrottle(rps float64, burst int) Option {
	return func(a *API) {
		a.throttle = newThrottle(rps, burst)
	}
}

// WithAlertFunc enables anomaly alerting on audit event spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithTenantAssigner sets how registrations are mapped to tenants. Without
// one, accounts belong to no tenant. Clients cannot choose their tenant.
func WithTenantAssigner(fn TenantAssigner) Option {
	return func(a *API) {
		a.assignTenant = fn
	}
}

// WithAuditWebhook forwards audit events to url. authHeader, when non-empty,
// is sent as "Name: value".
func WithAuditWebhook(url, authHeader string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookAuth = authHeader
	}
}

// New creates a new API instance over sh.
func New(sh *shield.Shield, opts ...Option) *API {
	a := &API{shield: sh}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit = newAuditLogger(a.logger)
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	if a.webhookURL != "" {
		a.audit.webhook = newAuditWebhook(a.webhookURL, a.webhookAuth, a.logger)
	}
	a.accounts = newAccountStore(sh)
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)
	r.Use(RequestID)
	if a.metrics != nil {
		r.Use(a.metrics.Handler)
	}
	r.Use(a.Throttle)
	r.Use(a.SessionMiddleware)

	r.Post("/auth/register", a.Register)
	r.Post("/auth/login", a.Login)

	r.Group(func(r chi.Router) {
		r.Use(a.RequireSession)
		r.Use(a.CSRFMiddleware)
		r.Post("/auth/logout", a.Logout)
		r.Get("/auth/session", a.GetSession)
		r.Post("/auth/session/extend", a.ExtendSession)
		r.Post("/auth/csrf", a.CSRFToken)
	})

	return r
}

// Close flushes the audit webhook. It does not close the Shield.
func (a *API) Close() {
	a.audit.close()
}

