package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/lumenid/issuer/jwtutil"
)

type contextKey string

const claimsContextKey contextKey = "access_token_claims"

// requireBearer extracts and verifies a bearer access token per
// component M, attaching its claims to the request context on
// success. Failures are always a 401 carrying WWW-Authenticate: a
// missing or malformed Authorization header is "invalid_request", and
// every other failure is "invalid_token" without a distinguishing reason.
func (s *Server) requireBearer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) || len(auth) <= len(prefix) {
			writeBearerError(w, http.StatusUnauthorized, errInvalidRequest, "missing or malformed bearer token")
			return
		}
		raw := auth[len(prefix):]

		header, _, _, err := jwtutil.Parse(raw)
		if err != nil {
			writeBearerError(w, http.StatusUnauthorized, errInvalidToken, "")
			return
		}

		kp, ok := s.keys.GetActive(header.KeyID)
		if !ok {
			kp, ok = s.keys.LatestActive(jwtutil.RS256)
		}
		if !ok {
			writeBearerError(w, http.StatusUnauthorized, errInvalidToken, "")
			return
		}

		_, payload, err := jwtutil.Verify(raw, kp.PublicKey, jwtutil.VerifyOptions{Now: s.now})
		if err != nil {
			writeBearerError(w, http.StatusUnauthorized, errInvalidToken, "")
			return
		}

		var claims accessTokenClaims
		if err := json.Unmarshal(payload, &claims); err != nil {
			writeBearerError(w, http.StatusUnauthorized, errInvalidToken, "")
			return
		}
		if claims.Issuer != s.issuer {
			writeBearerError(w, http.StatusUnauthorized, errInvalidToken, "")
			return
		}

		ctx := context.WithValue(r.Context(), claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

func claimsFromContext(ctx context.Context) (accessTokenClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(accessTokenClaims)
	return claims, ok
}

// requireScope wraps a bearer-protected handler with an additional
// scope check, returning 403 insufficient_scope when absent.
func requireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFromContext(r.Context())
		if !ok || !hasScope(splitScope(claims.Scope), scope) {
			writeBearerError(w, http.StatusForbidden, errInsufficientScope, "")
			return
		}
		next.ServeHTTP(w, r)
	}
}

// requireAdmin guards the admin CRUD surface with a static bearer
// token compared in constant time.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) {
			writeOAuthError(w, http.StatusUnauthorized, newOAuthError(errInvalidClient, "missing admin token"))
			return
		}
		presented := auth[len(prefix):]
		if s.adminToken == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(s.adminToken)) != 1 {
			writeOAuthError(w, http.StatusUnauthorized, newOAuthError(errInvalidClient, "invalid admin token"))
			return
		}
		next.ServeHTTP(w, r)
	}
}

// rateLimited applies the configured limiter, keyed by scope and the
// request's remote address, ahead of next. A degraded limiter (nil)
// allows every request, matching the "never fails the request" hazard
// note in the data model.
func (s *Server) rateLimited(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimit != nil {
			key := scope + ":" + clientAddr(r)
			allowed, err := s.rateLimit.Allow(r.Context(), key)
			if err != nil {
				s.logger.Warn("rate limiter degraded", "event", "rate_limiter_degraded", "scope", scope, "err", err)
			} else if !allowed {
				writeOAuthError(w, http.StatusTooManyRequests, newOAuthError(errRateLimitExceeded, "too many requests"))
				return
			}
		}
		next.ServeHTTP(w, r)
	}
}

func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
