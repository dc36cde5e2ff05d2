package api_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironward/api"
	"github.com/jmcleod/ironward/config"
	"github.com/jmcleod/ironward/internal/util"
	"github.com/jmcleod/ironward/shield"
	"github.com/jmcleod/ironward/storage/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type server struct {
	*httptest.Server
	clock *clock
}

func testSecurity() config.Security {
	cfg := config.DefaultSecurity()
	cfg.PasswordIterations = util.MinPBKDF2Iterations
	return cfg
}

func setupServer(t *testing.T, cfg config.Security, opts ...api.Option) *server {
	t.Helper()
	c := &clock{now: time.Now()}
	sh, err := shield.New(cfg, memory.NewRepository(), shield.WithClock(c.Now))
	require.NoError(t, err)
	t.Cleanup(sh.Close)

	opts = append([]api.Option{api.WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	a := api.New(sh, opts...)
	t.Cleanup(a.Close)

	r := chi.NewRouter()
	r.Mount("/api/v1", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &server{Server: srv, clock: c}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers ...string) *http.Response {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func register(t *testing.T, client *http.Client, baseURL, identifier, password string) api.RegisterResponse {
	t.Helper()
	resp := doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/register", api.RegisterRequest{
		Identifier: identifier,
		Password:   password,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var reg api.RegisterResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reg))
	return reg
}

func login(t *testing.T, client *http.Client, baseURL, identifier, password string) *http.Response {
	t.Helper()
	return doJSON(t, client, http.MethodPost, baseURL+"/api/v1/auth/login", api.LoginRequest{
		Identifier: identifier,
		Password:   password,
	})
}

func registerAndLogin(t *testing.T, client *http.Client, baseURL string) api.LoginResponse {
	t.Helper()
	reg := register(t, client, baseURL, "user@example.com", "correct horse battery")
	require.NotEmpty(t, reg.Subject)

	resp := login(t, client, baseURL, "User@Example.com ", "correct horse battery")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out api.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, reg.Subject, out.Subject)
	return out
}

func TestAuthRegisterAndLogin(t *testing.T) {
	srv := setupServer(t, testSecurity())
	client := newClient(t)

	out := registerAndLogin(t, client, srv.URL)
	assert.NotEmpty(t, out.CSRFToken)
	assert.True(t, out.ExpiresAt.After(time.Now()))

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/auth/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sess api.SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	assert.Equal(t, out.Subject, sess.Subject)
	assert.WithinDuration(t, out.ExpiresAt, sess.ExpiresAt, time.Second)
}

func TestLoginCookies(t *testing.T) {
	srv := setupServer(t, testSecurity())
	client := newClient(t)
	register(t, client, srv.URL, "ada", "analytical-engine")

	resp := login(t, client, srv.URL, "ada", "analytical-engine")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out api.LoginResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	cookies := map[string]*http.Cookie{}
	for _, c := range resp.Cookies() {
		cookies[c.Name] = c
	}
	require.Contains(t, cookies, "ironward_session")
	require.Contains(t, cookies, "ironward_csrf")
	assert.True(t, cookies["ironward_session"].HttpOnly)
	assert.False(t, cookies["ironward_csrf"].HttpOnly)
	assert.Equal(t, out.CSRFToken, cookies["ironward_csrf"].Value)
}

func TestRegisterValidation(t *testing.T) {
	srv := setupServer(t, testSecurity())
	client := newClient(t)
	url := srv.URL + "/api/v1/auth/register"

	resp := doJSON(t, client, http.MethodPost, url, api.RegisterRequest{Identifier: "", Password: "long-enough-pw"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, client, http.MethodPost, url, api.RegisterRequest{Identifier: "bob", Password: "short"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, client, http.MethodPost, url, map[string]string{"identifier": "bob", "password": "long-enough-pw", "admin": "true"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unknown fields are rejected")

	register(t, client, srv.URL, "bob", "long-enough-pw")
	resp = doJSON(t, client, http.MethodPost, url, api.RegisterRequest{Identifier: "BOB", Password: "another-password"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestRegisterIgnoresClientTenant(t *testing.T) {
	srv := setupServer(t, testSecurity())
	client := newClient(t)

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/auth/register", map[string]string{
		"identifier": "user@example.com",
		"password":   "correct horse battery",
		"tenant_id":  "victim-tenant",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	registerAndLogin(t, client, srv.URL)
	resp = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/auth/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sess api.SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	assert.Empty(t, sess.TenantID)
}

func TestRegisterTenantAssigner(t *testing.T) {
	assign := func(identifier string) (string, error) {
		if identifier == "blocked@example.com" {
			return "", errors.New("domain not onboarded")
		}
		return "tenant-acme", nil
	}
	srv := setupServer(t, testSecurity(), api.WithTenantAssigner(assign))
	client := newClient(t)

	registerAndLogin(t, client, srv.URL)
	resp := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/auth/session", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sess api.SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	assert.Equal(t, "tenant-acme", sess.TenantID)

	resp = doJSON(t, newClient(t), http.MethodPost, srv.URL+"/api/v1/auth/register", api.RegisterRequest{
		Identifier: "blocked@example.com",
		Password:   "correct horse battery",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestLoginInvalidCredentials(t *testing.T) {
	srv := setupServer(t, testSecurity())
	client := newClient(t)
	register(t, client, srv.URL, "carol", "long-enough-pw")

	resp := login(t, client, srv.URL, "carol", "wrong-password")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = login(t, client, srv.URL, "nobody", "whatever-password")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = login(t, client, srv.URL, "", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLoginLockout(t *testing.T) {
	cfg := testSecurity()
	cfg.LoginMaxAttempts = 3
	cfg.LoginWindow = time.Minute
	cfg.LockoutDuration = 15 * time.Minute
	srv := setupServer(t, cfg)
	client := newClient(t)
	register(t, client, srv.URL, "dave", "long-enough-pw")

	for i := 0; i < 3; i++ {
		resp := login(t, client, srv.URL, "dave", "wrong-password")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, "attempt %d", i+1)
	}

	resp := login(t, client, srv.URL, "dave", "long-enough-pw")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "correct password is refused while locked")
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	srv.clock.Advance(16 * time.Minute)
	resp = login(t, client, srv.URL, "dave", "long-enough-pw")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIPRateLimit(t *testing.T) {
	cfg := testSecurity()
	cfg.IPMaxAttempts = 2
	srv := setupServer(t, cfg)
	client := newClient(t)

	for i := 0; i < 2; i++ {
		resp := login(t, client, srv.URL, "erin", "wrong-password")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp := login(t, client, srv.URL, "frank", "wrong-password")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode, "per-address limit spans identifiers")
}

func TestSessionRequired(t *testing.T) {
	srv := setupServer(t, testSecurity())
	client := newClient(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/auth/session"},
		{http.MethodPost, "/api/v1/auth/session/extend"},
		{http.MethodPost, "/api/v1/auth/csrf"},
		{http.MethodPost, "/api/v1/auth/logout"},
	} {
		resp := doJSON(t, client, tc.method, srv.URL+tc.path, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "%s %s", tc.method, tc.path)
	}
}

func TestCSRFProtectsMutations(t *testing.T) {
	srv := setupServer(t, testSecurity())
	client := newClient(t)
	out := registerAndLogin(t, client, srv.URL)

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/auth/session/extend", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "missing token")

	resp = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/auth/session/extend", nil, "X-CSRF-Token", "forged")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "wrong token")

	resp = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/auth/session/extend", nil, "X-CSRF-Token", out.CSRFToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCSRFRotation(t *testing.T) {
	srv := setupServer(t, testSecurity())
	client := newClient(t)
	out := registerAndLogin(t, client, srv.URL)

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/auth/csrf", nil, "X-CSRF-Token", out.CSRFToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tok api.CSRFResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tok))
	require.NotEqual(t, out.CSRFToken, tok.CSRFToken)

	resp = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/auth/session/extend", nil, "X-CSRF-Token", out.CSRFToken)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "previous token is replaced")

	resp = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/auth/session/extend", nil, "X-CSRF-Token", tok.CSRFToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCSRFRotationRequiresToken(t *testing.T) {
	srv := setupServer(t, testSecurity())
	client := newClient(t)
	out := registerAndLogin(t, client, srv.URL)

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/auth/csrf", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, "rotation is not a safe method")

	resp = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/auth/csrf", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "cross-site rotation is rejected")

	resp = doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/auth/session/extend", nil, "X-CSRF-Token", out.CSRFToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "rejected rotation leaves the token intact")
}

func TestExtendSession(t *testing.T) {
	cfg := testSecurity()
	cfg.SessionTTL = time.Hour
	srv := setupServer(t, cfg)
	client := newClient(t)
	out := registerAndLogin(t, client, srv.URL)

	srv.clock.Advance(50 * time.Minute)
	resp := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/auth/session/extend", nil, "X-CSRF-Token", out.CSRFToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var sess api.SessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	assert.Equal(t, srv.clock.Now().Add(time.Hour).Unix(), sess.ExpiresAt.Unix())

	srv.clock.Advance(50 * time.Minute)
	resp = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/auth/session", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "extended session outlives its original expiry")
}

func TestSessionExpires(t *testing.T) {
	cfg := testSecurity()
	cfg.SessionTTL = time.Hour
	srv := setupServer(t, cfg)
	client := newClient(t)
	registerAndLogin(t, client, srv.URL)

	srv.clock.Advance(time.Hour + time.Second)
	resp := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/auth/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogout(t *testing.T) {
	srv := setupServer(t, testSecurity())
	client := newClient(t)
	out := registerAndLogin(t, client, srv.URL)

	resp := doJSON(t, client, http.MethodPost, srv.URL+"/api/v1/auth/logout", nil, "X-CSRF-Token", out.CSRFToken)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/auth/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	srv := setupServer(t, testSecurity())
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/auth/session", nil)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Empty(t, resp.Header.Get("Strict-Transport-Security"), "plain http gets no HSTS")
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	const id = "4f1d6c1e-8d0a-4a7e-9d8c-3b9b5a2f1e00"
	resp = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/auth/session", nil, "X-Request-ID", id)
	assert.Equal(t, id, resp.Header.Get("X-Request-ID"))

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/auth/session", nil, "X-Request-ID", "not a uuid")
	assert.NotEqual(t, "not a uuid", resp.Header.Get("X-Request-ID"))
}

func TestThrottle(t *testing.T) {
	srv := setupServer(t, testSecurity(), api.WithThrottle(0.001, 1))
	client := newClient(t)

	resp := doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/auth/session", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, client, http.MethodGet, srv.URL+"/api/v1/auth/session", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestWithTrustedProxies(t *testing.T) {
	opt, err := api.WithTrustedProxies([]string{"10.0.0.0/8", "192.168.1.1"})
	require.NoError(t, err)
	assert.NotNil(t, opt)

	_, err = api.WithTrustedProxies([]string{"not-a-cidr"})
	assert.Error(t, err)
}

func TestAlertOnLoginFailures(t *testing.T) {
	var mu sync.Mutex
	var alerts []api.AlertEvent
	cfg := testSecurity()
	cfg.IPMaxAttempts = 1000
	cfg.LoginMaxAttempts = 1000
	srv := setupServer(t, cfg, api.WithAlertFunc(func(e api.AlertEvent) {
		mu.Lock()
		alerts = append(alerts, e)
		mu.Unlock()
	}))
	client := newClient(t)

	for i := 0; i < 50; i++ {
		login(t, client, srv.URL, "ghost", "wrong-password")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, alerts, 1)
	assert.Equal(t, api.AlertLoginFailureSpike, alerts[0].Type)
}

func TestAuditWebhookReceivesEvents(t *testing.T) {
	var mu sync.Mutex
	var events []map[string]any
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer hook-secret", r.Header.Get("Authorization"))
		var evt map[string]any
		if json.NewDecoder(r.Body).Decode(&evt) == nil {
			mu.Lock()
			events = append(events, evt)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	sh, err := shield.New(testSecurity(), memory.NewRepository())
	require.NoError(t, err)
	defer sh.Close()
	a := api.New(sh,
		api.WithLogger(slog.New(slog.DiscardHandler)),
		api.WithAuditWebhook(hook.URL, "Authorization: Bearer hook-secret"),
	)
	srv := httptest.NewServer(a.Router())
	defer srv.Close()

	client := newClient(t)
	resp := doJSON(t, client, http.MethodPost, srv.URL+"/auth/login", api.LoginRequest{
		Identifier: "mallory",
		Password:   "guessing-password",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	a.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "login_failure", events[0]["event"])
}
