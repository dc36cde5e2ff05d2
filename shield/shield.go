// Package shield wires the security core together: one master key, the
// encrypted store, the login rate limiter, the session registry, CSRF tokens
// and the background sweeper. Every component is owned by a Shield value;
// there is no package-level state.
package shield

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/ironward/config"
	"github.com/jmcleod/ironward/crypto"
	"github.com/jmcleod/ironward/csrf"
	"github.com/jmcleod/ironward/internal/metrics"
	"github.com/jmcleod/ironward/ratelimit"
	"github.com/jmcleod/ironward/securestore"
	"github.com/jmcleod/ironward/session"
	"github.com/jmcleod/ironward/storage"
	"github.com/jmcleod/ironward/sweeper"
)

var (
	// ErrRateLimited is returned by Login when the identifier is locked out.
	ErrRateLimited = errors.New("too many attempts")
	// ErrInvalidCredentials is returned by Login when verification fails.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoSession is returned for operations on a missing or expired session.
	ErrNoSession = errors.New("session not found")
)

const (
	identifierKeyPrefix    = "id:"
	ipKeyPrefix            = "ip:"
	sessionNamespacePrefix = "session."
	tenantNamespacePrefix  = "tenant."
	accountsNamespace      = "accounts"
)

// Data is the payload held for each authenticated session.
type Data struct {
	Subject    string            `json:"subject"`
	TenantID   string            `json:"tenant_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// LoginResult describes the outcome of Login. Decision is always populated;
// the session fields are set only on success.
type LoginResult struct {
	Decision  ratelimit.Decision
	SessionID string
	CSRFToken string
	ExpiresAt time.Time
}

// Shield owns the security components for one server.
type Shield struct {
	cfg      config.Security
	repo     storage.Repository
	key      *crypto.Key
	hasher   *crypto.Hasher
	store    *securestore.Store
	limiter  *ratelimit.Limiter
	sessions *session.Registry[Data]
	sweeper  *sweeper.Sweeper
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	tenantMu   sync.Mutex
	tenantKeys map[string]*crypto.Key

	closeOnce sync.Once
}

// Option configures a Shield.
type Option func(*Shield)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Shield) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Shield) {
		s.metrics = m
	}
}

// WithClock overrides time.Now for the limiter, the session registry and
// the sweeper.
func WithClock(now func() time.Time) Option {
	return func(s *Shield) {
		s.now = now
	}
}

// WithKey supplies the master key directly, bypassing cfg.MasterKey.
func WithKey(key *crypto.Key) Option {
	return func(s *Shield) {
		s.key = key
	}
}

// New validates cfg and constructs the security components over repo. When
// neither WithKey nor cfg.MasterKey provides a key, an ephemeral one is
// generated and a warning is logged; config validation allows that only for
// the memory backend.
func New(cfg config.Security, repo storage.Repository, opts ...Option) (*Shield, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid security config: %w", err)
	}
	if repo == nil {
		return nil, errors.New("storage repository is required")
	}

	s := &Shield{
		cfg:        cfg,
		repo:       repo,
		now:        time.Now,
		tenantKeys: make(map[string]*crypto.Key),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	s.logger = s.logger.With("component", "shield")

	if s.key == nil {
		key, err := loadMasterKey(cfg.MasterKey, s.logger)
		if err != nil {
			return nil, err
		}
		s.key = key
	}

	s.hasher = crypto.NewHasher(cfg.PasswordIterations, cfg.PreviousPasswordIterations...)
	s.store = securestore.New(repo, s.key, securestore.WithLogger(s.logger))
	s.limiter = ratelimit.New(
		ratelimit.WithLockout(cfg.LockoutDuration),
		ratelimit.WithClock(s.now),
	)
	s.sessions = session.NewRegistry[Data](
		session.WithDefaultTTL(cfg.SessionTTL),
		session.WithClock(s.now),
		session.WithEvictHook(s.discardSessionStore),
	)
	s.sweeper = sweeper.New(cfg.SweepInterval,
		[]sweeper.Target{s.limiter, s.sessions},
		sweeper.WithLogger(s.logger),
		sweeper.WithObserver(s),
		sweeper.WithClock(s.now),
	)
	return s, nil
}

func loadMasterKey(encoded string, logger *slog.Logger) (*crypto.Key, error) {
	if encoded != "" {
		key, err := crypto.ParseKey(encoded)
		if err != nil {
			return nil, fmt.Errorf("parsing master key: %w", err)
		}
		return key, nil
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating master key: %w", err)
	}
	logger.Warn("no master key configured; using an ephemeral key, stored secrets will not survive a restart")
	return key, nil
}

// Start launches the background sweeper. It stops when ctx is cancelled or
// Close is called.
func (s *Shield) Start(ctx context.Context) {
	s.sweeper.Start(ctx)
	s.logger.Info("sweeper started", "interval", s.sweeper.Interval())
}

// Close stops the sweeper and destroys key material. The Shield must not be
// used afterwards.
func (s *Shield) Close() {
	s.closeOnce.Do(func() {
		s.sweeper.Stop()
		s.tenantMu.Lock()
		for id, k := range s.tenantKeys {
			k.Destroy()
			delete(s.tenantKeys, id)
		}
		s.tenantMu.Unlock()
		s.key.Destroy()
	})
}

// ObserveSweep forwards sweep results to metrics.
func (s *Shield) ObserveSweep(target string, removed int) {
	s.metrics.ObserveSweep(target, removed)
	if target == s.sessions.Name() {
		s.metrics.SetSessions(s.sessions.Len())
	}
}

// Sweep runs one synchronous sweep and returns the number of evicted entries.
func (s *Shield) Sweep() int {
	return s.sweeper.RunOnce(s.now())
}

// Config returns the security settings the Shield was built with.
func (s *Shield) Config() config.Security {
	return s.cfg
}

// Store returns the default encrypted store.
func (s *Shield) Store() *securestore.Store {
	return s.store
}

// AccountStore returns the encrypted store holding account records.
func (s *Shield) AccountStore() *securestore.Store {
	return securestore.New(s.repo, s.key,
		securestore.WithNamespace(accountsNamespace),
		securestore.WithLogger(s.logger),
	)
}

// Hasher returns the password hasher configured with PasswordIterations.
func (s *Shield) Hasher() *crypto.Hasher {
	return s.hasher
}

// TenantStore returns an encrypted store whose entries are sealed with a key
// derived from the master key and tenantID, so tenants cannot read each
// other's data even when they share a backend.
func (s *Shield) TenantStore(tenantID string) (*securestore.Store, error) {
	if tenantID == "" {
		return nil, errors.New("tenant id is required")
	}
	s.tenantMu.Lock()
	defer s.tenantMu.Unlock()
	key, ok := s.tenantKeys[tenantID]
	if !ok {
		var err error
		key, err = crypto.DeriveTenantKey(s.key, tenantID)
		if err != nil {
			return nil, fmt.Errorf("deriving key for tenant %q: %w", tenantID, err)
		}
		s.tenantKeys[tenantID] = key
	}
	return securestore.New(s.repo, key,
		securestore.WithNamespace(tenantNamespacePrefix+tenantID),
		securestore.WithLogger(s.logger),
	), nil
}

// CheckIP records a login attempt from a client address against the
// per-address policy.
func (s *Shield) CheckIP(ip string) ratelimit.Decision {
	d := s.limiter.CheckPolicy(ipKeyPrefix+ip, s.cfg.IPPolicy())
	if !d.Allowed {
		s.metrics.ObserveRateLimited("ip")
	}
	return d
}

// Login rate-limits identifier, runs verify and, when it succeeds, forgives
// prior failures, creates a session and issues its CSRF token. verify is not
// called while the identifier is locked out.
func (s *Shield) Login(identifier string, verify func() (Data, bool)) (LoginResult, error) {
	d := s.limiter.CheckPolicy(identifierKeyPrefix+identifier, s.cfg.LoginPolicy())
	result := LoginResult{Decision: d}
	if !d.Allowed {
		s.metrics.ObserveRateLimited("identifier")
		s.metrics.ObserveLogin("rate_limited")
		return result, ErrRateLimited
	}

	data, ok := verify()
	if !ok {
		s.metrics.ObserveLogin("failure")
		return result, ErrInvalidCredentials
	}
	s.limiter.Clear(identifierKeyPrefix + identifier)

	id, err := session.NewID()
	if err != nil {
		return result, err
	}
	data.CreatedAt = s.now()
	result.ExpiresAt = s.sessions.Create(id, data, 0)

	token, err := csrf.IssueToken(s.SessionStore(id))
	if err != nil {
		s.sessions.Destroy(id)
		return result, fmt.Errorf("issuing csrf token: %w", err)
	}
	result.SessionID = id
	result.CSRFToken = token
	s.metrics.ObserveLogin("success")
	return result, nil
}

// Session returns the data of a live session.
func (s *Shield) Session(id string) (Data, bool) {
	return s.sessions.Get(id)
}

// SessionExpiry returns the expiry of a live session.
func (s *Shield) SessionExpiry(id string) (time.Time, bool) {
	return s.sessions.Expiry(id)
}

// Extend pushes a live session's expiry to now + SessionTTL.
func (s *Shield) Extend(id string) (time.Time, bool) {
	if !s.sessions.Extend(id, 0) {
		return time.Time{}, false
	}
	return s.sessions.Expiry(id)
}

// Logout destroys the session and its CSRF token.
func (s *Shield) Logout(id string) {
	s.sessions.Destroy(id)
	s.discardSessionStore(id)
}

// SessionStore returns the encrypted store scoped to one session. It holds
// the session's CSRF token.
func (s *Shield) SessionStore(id string) *securestore.Store {
	return securestore.New(s.repo, s.key,
		securestore.WithNamespace(sessionNamespacePrefix+id),
		securestore.WithLogger(s.logger),
	)
}

func (s *Shield) discardSessionStore(id string) {
	csrf.Clear(s.SessionStore(id))
}

// IssueCSRF replaces the CSRF token of a live session.
func (s *Shield) IssueCSRF(id string) (string, error) {
	if _, ok := s.sessions.Get(id); !ok {
		return "", ErrNoSession
	}
	return csrf.IssueToken(s.SessionStore(id))
}

// ValidateCSRF reports whether token is the current CSRF token of a live
// session.
func (s *Shield) ValidateCSRF(id, token string) bool {
	if _, ok := s.sessions.Get(id); !ok {
		return false
	}
	return csrf.Validate(s.SessionStore(id), token)
}
