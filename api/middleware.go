package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/jmcleod/ironward/internal/uuid"
	"github.com/jmcleod/ironward/shield"
)

type contextKey int

const (
	sessionKey contextKey = iota
	requestIDKey
)

const (
	sessionCookieName = "ironward_session"
	requestIDHeader   = "X-Request-ID"
)

// requestSession is the authenticated session attached to a request.
type requestSession struct {
	ID   string
	Data shield.Data
}

// RequestID propagates a valid inbound X-Request-ID or assigns a new one,
// echoing it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !uuid.Valid(id) {
			id = uuid.New()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// SessionMiddleware resolves the session cookie against the registry and
// stores the live session on the request context. Requests without a live
// session pass through unauthenticated; a stale cookie is cleared.
func (a *API) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		data, ok := a.shield.Session(cookie.Value)
		if !ok {
			clearSessionCookie(w, r)
			next.ServeHTTP(w, r)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, requestSession{ID: cookie.Value, Data: data})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSession rejects requests that carry no live session.
func (a *API) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := sessionFromContext(r.Context()); !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func sessionFromContext(ctx context.Context) (requestSession, bool) {
	s, ok := ctx.Value(sessionKey).(requestSession)
	return s, ok
}

func writeSessionCookie(w http.ResponseWriter, r *http.Request, id string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}
