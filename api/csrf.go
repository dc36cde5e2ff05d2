package api

import (
	"net/http"
	"time"
)

const (
	csrfCookieName = "ironward_csrf"
	csrfHeaderName = "X-CSRF-Token"
)

// CSRFMiddleware requires the session's current CSRF token in the
// X-CSRF-Token header on mutating requests. Safe methods (GET, HEAD, OPTIONS)
// and requests without a session are exempt.
func (a *API) CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		sess, ok := sessionFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get(csrfHeaderName)
		if header == "" {
			a.audit.logFailure(AuditCSRFRejected, r, "missing token")
			writeError(w, http.StatusForbidden, "missing CSRF token")
			return
		}
		if !a.shield.ValidateCSRF(sess.ID, header) {
			a.audit.logFailure(AuditCSRFRejected, r, "token mismatch")
			writeError(w, http.StatusForbidden, "invalid CSRF token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeCSRFCookie mirrors the session's CSRF token into a cookie. It is
// intentionally NOT HttpOnly so that a browser client can read it and echo
// it as a request header.
func writeCSRFCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

// clearCSRFCookie removes the CSRF cookie on logout.
func clearCSRFCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: false,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}
