package server

import (
	"encoding/json"
	"net/http"
	"net/url"
)

// Error kinds from the OAuth2/OIDC error taxonomy this provider
// surfaces externally.
const (
	errInvalidRequest          = "invalid_request"
	errInvalidClient           = "invalid_client"
	errInvalidGrant            = "invalid_grant"
	errUnauthorizedClient      = "unauthorized_client"
	errUnsupportedGrantType    = "unsupported_grant_type"
	errUnsupportedResponseType = "unsupported_response_type"
	errInvalidScope            = "invalid_scope"
	errInvalidToken            = "invalid_token"
	errInsufficientScope       = "insufficient_scope"
	errServerError             = "server_error"
	errUserNotFound            = "user_not_found"
	errUserInactive            = "user_inactive"
	errRateLimitExceeded       = "rate_limit_exceeded"
)

// oauthError is the wire shape of every OAuth2/OIDC error response:
// {"error": "...", "error_description": "..."}.
type oauthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	State       string `json:"-"`
}

func (e *oauthError) Error() string { return e.Code }

func newOAuthError(code, description string) *oauthError {
	return &oauthError{Code: code, Description: description}
}

func statusForError(code string) int {
	switch code {
	case errInvalidClient, errInvalidToken:
		return http.StatusUnauthorized
	case errInsufficientScope:
		return http.StatusForbidden
	case errUserNotFound:
		return http.StatusNotFound
	case errRateLimitExceeded:
		return http.StatusTooManyRequests
	case errServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// writeOAuthError writes err as the standard OAuth2/OIDC JSON error
// body at the given status.
func writeOAuthError(w http.ResponseWriter, status int, err *oauthError) {
	noStore(w)
	w.Header().Set("Content-Type", "application/json")
	if err.Code == errInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="oidc"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

// writeBearerError writes a 401/403 bearer-protected-resource error
// per RFC 6750, with the error surfaced in WWW-Authenticate rather
// than (only) the JSON body.
func writeBearerError(w http.ResponseWriter, status int, code, description string) {
	noStore(w)
	challenge := `Bearer error="` + code + `"`
	if description != "" {
		challenge += `, error_description="` + description + `"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(newOAuthError(code, description))
}

// redirectAuthError 302s to redirectURI with error/error_description/
// state query parameters, per RFC 6749 §4.1.2.1 — used once
// /authorize has validated redirect_uri and must no longer show an
// HTML error page.
func redirectAuthError(w http.ResponseWriter, r *http.Request, redirectURI *url.URL, err *oauthError, state string) {
	q := redirectURI.Query()
	q.Set("error", err.Code)
	if err.Description != "" {
		q.Set("error_description", err.Description)
	}
	if state != "" {
		q.Set("state", state)
	}
	redirectURI.RawQuery = q.Encode()
	http.Redirect(w, r, redirectURI.String(), http.StatusFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
