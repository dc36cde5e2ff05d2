package api

import "time"

// RegisterRequest is the JSON body for POST /auth/register.
type RegisterRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// LoginResponse is returned from a successful POST /auth/login. The session
// identifier itself travels only in the HttpOnly session cookie.
type LoginResponse struct {
	Subject   string    `json:"subject"`
	CSRFToken string    `json:"csrf_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionResponse is returned from GET /auth/session and
// POST /auth/session/extend.
type SessionResponse struct {
	Subject    string            `json:"subject"`
	TenantID   string            `json:"tenant_id,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ExpiresAt  time.Time         `json:"expires_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// CSRFResponse is returned from POST /auth/csrf.
type CSRFResponse struct {
	CSRFToken string `json:"csrf_token"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RegisterResponse is returned from a successful POST /auth/register.
type RegisterResponse struct {
	Subject string `json:"subject"`
}
