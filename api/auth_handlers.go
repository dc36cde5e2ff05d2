package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jmcleod/ironward/shield"
)

const (
	// minPasswordLen is the minimum password length accepted at
	// registration.
	minPasswordLen = 10
	maxFieldLen    = 256
)

// Register handles POST /auth/register.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	// Rate-limit registration before any expensive work.
	clientIP := a.extractClientIP(r)
	if d := a.shield.CheckIP(clientIP); !d.Allowed {
		a.audit.logFailure(AuditRegisterRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, d.RetryAfter(time.Now()))
		return
	}

	req, ok := decodeJSON[RegisterRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	identifier := normalizeIdentifier(req.Identifier)
	switch {
	case identifier == "":
		writeError(w, http.StatusBadRequest, "identifier is required")
		return
	case len(identifier) > maxFieldLen || len(req.Password) > maxFieldLen:
		writeError(w, http.StatusBadRequest, "field too long")
		return
	case len(req.Password) < minPasswordLen:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("password must be at least %d characters", minPasswordLen))
		return
	}

	var tenantID string
	if a.assignTenant != nil {
		var err error
		tenantID, err = a.assignTenant(identifier)
		if err != nil {
			a.audit.logFailure(AuditRegisterDenied, r, "tenant assignment refused",
				slog.String("error", err.Error()))
			writeError(w, http.StatusForbidden, "registration not permitted")
			return
		}
	}

	record, err := a.accounts.create(identifier, req.Password, tenantID)
	if errors.Is(err, errAccountExists) {
		writeError(w, http.StatusConflict, "account already exists")
		return
	}
	if err != nil {
		writeInternalError(w, "failed to create account", err)
		return
	}

	a.audit.logEvent(AuditRegister, r, record.Subject)
	writeJSON(w, http.StatusCreated, RegisterResponse{Subject: record.Subject})
}

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	identifier := normalizeIdentifier(req.Identifier)
	if identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "identifier and password are required")
		return
	}

	// Check the per-address limit first, then the per-identifier limit
	// inside Login, before any password hashing.
	clientIP := a.extractClientIP(r)
	if d := a.shield.CheckIP(clientIP); !d.Allowed {
		a.audit.logFailure(AuditLoginRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, d.RetryAfter(time.Now()))
		return
	}

	res, err := a.shield.Login(identifier, func() (shield.Data, bool) {
		return a.accounts.verify(identifier, req.Password)
	})
	switch {
	case errors.Is(err, shield.ErrRateLimited):
		a.audit.logFailure(AuditLoginRateLimited, r, "identifier locked",
			slog.String("account_id", accountLookupID(identifier)))
		writeRateLimited(w, res.Decision.RetryAfter(time.Now()))
		return
	case errors.Is(err, shield.ErrInvalidCredentials):
		a.audit.logFailure(AuditLoginFailure, r, "invalid credentials",
			slog.String("account_id", accountLookupID(identifier)),
			slog.Int("remaining", res.Decision.Remaining))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	case err != nil:
		writeInternalError(w, "failed to create session", err)
		return
	}

	data, _ := a.shield.Session(res.SessionID)
	writeSessionCookie(w, r, res.SessionID, res.ExpiresAt)
	writeCSRFCookie(w, r, res.CSRFToken, res.ExpiresAt)

	a.audit.logEvent(AuditLoginSuccess, r, data.Subject)
	writeJSON(w, http.StatusOK, LoginResponse{
		Subject:   data.Subject,
		CSRFToken: res.CSRFToken,
		ExpiresAt: res.ExpiresAt,
	})
}

// Logout handles POST /auth/logout.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	a.shield.Logout(sess.ID)
	clearSessionCookie(w, r)
	clearCSRFCookie(w, r)
	a.audit.logEvent(AuditLogout, r, sess.Data.Subject)
	writeJSON(w, http.StatusOK, struct{}{})
}

// GetSession handles GET /auth/session.
func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	expiresAt, ok := a.shield.SessionExpiry(sess.ID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "session expired")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(sess.Data, expiresAt))
}

// ExtendSession handles POST /auth/session/extend.
func (a *API) ExtendSession(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	expiresAt, ok := a.shield.Extend(sess.ID)
	if !ok {
		clearSessionCookie(w, r)
		writeError(w, http.StatusUnauthorized, "session expired")
		return
	}
	writeSessionCookie(w, r, sess.ID, expiresAt)
	a.audit.logEvent(AuditSessionExtended, r, sess.Data.Subject)
	writeJSON(w, http.StatusOK, sessionResponse(sess.Data, expiresAt))
}

// CSRFToken handles POST /auth/csrf. It rotates the session's token; the
// previous token stops validating.
func (a *API) CSRFToken(w http.ResponseWriter, r *http.Request) {
	sess, _ := sessionFromContext(r.Context())
	token, err := a.shield.IssueCSRF(sess.ID)
	if errors.Is(err, shield.ErrNoSession) {
		writeError(w, http.StatusUnauthorized, "session expired")
		return
	}
	if err != nil {
		writeInternalError(w, "failed to issue CSRF token", err)
		return
	}
	expiresAt, _ := a.shield.SessionExpiry(sess.ID)
	writeCSRFCookie(w, r, token, expiresAt)
	a.audit.logEvent(AuditCSRFIssued, r, sess.Data.Subject)
	writeJSON(w, http.StatusOK, CSRFResponse{CSRFToken: token})
}

func sessionResponse(d shield.Data, expiresAt time.Time) SessionResponse {
	return SessionResponse{
		Subject:    d.Subject,
		TenantID:   d.TenantID,
		CreatedAt:  d.CreatedAt,
		ExpiresAt:  expiresAt,
		Attributes: d.Attributes,
	}
}
