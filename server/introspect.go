package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lumenid/issuer/jwtutil"
)

// introspectionResponse is the RFC 7662 response body. active=false is
// the blanket answer for anything this server cannot positively
// confirm — a malformed, unknown, or wrong-issuer token never
// distinguishes its failure mode to the caller. The one exception is an
// access token with a valid signature that has expired: its answer
// carries exp alongside active=false.
type introspectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	Audience  string `json:"aud,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	Expiry    int64  `json:"exp,omitempty"`
	TokenType string `json:"token_type,omitempty"`
}

// handleIntrospect implements component J's RFC 7662 endpoint. Every
// well-formed, client-authenticated request gets 200; a malformed
// request (wrong Content-Type, bad form body, no token) gets 400, and a
// failed client authentication gets 401.
func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidRequest, "Content-Type must be application/x-www-form-urlencoded"))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidRequest, "malformed form body"))
		return
	}

	if _, _, oerr := s.authenticateClient(r, false); oerr != nil {
		writeOAuthError(w, statusForError(oerr.Code), oerr)
		return
	}

	token := r.PostForm.Get("token")
	if token == "" {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidRequest, "token is required"))
		return
	}

	hint := r.PostForm.Get("token_type_hint")
	noStore(w)

	if hint != "refresh_token" {
		if resp, ok := s.introspectAccessToken(token); ok {
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}
	if resp, ok := s.introspectRefreshToken(r, token); ok {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if hint == "refresh_token" {
		if resp, ok := s.introspectAccessToken(token); ok {
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	writeJSON(w, http.StatusOK, introspectionResponse{Active: false})
}

func (s *Server) introspectAccessToken(token string) (introspectionResponse, bool) {
	header, _, _, err := jwtutil.Parse(token)
	if err != nil {
		return introspectionResponse{}, false
	}
	// Prefer the kid named in the header, falling back to the latest
	// active key of that algorithm for an unknown kid, per the key
	// manager's introspection fallback rule.
	kp, ok := s.keys.GetActive(header.KeyID)
	if !ok {
		kp, ok = s.keys.LatestActive(jwtutil.Algorithm(header.Algorithm))
	}
	if !ok {
		return introspectionResponse{}, false
	}
	_, payload, err := jwtutil.Verify(token, kp.PublicKey, jwtutil.VerifyOptions{ExpectedAlg: kp.Algorithm, Now: s.now})
	if err != nil && !errors.Is(err, jwtutil.ErrExpired) {
		return introspectionResponse{}, false
	}
	var claims accessTokenClaims
	if unmarshalErr := json.Unmarshal(payload, &claims); unmarshalErr != nil || claims.Issuer != s.issuer {
		return introspectionResponse{}, false
	}
	if errors.Is(err, jwtutil.ErrExpired) {
		// Signature and issuer already confirmed valid: report exp on an
		// otherwise-legitimate expired token rather than folding it into
		// the blanket {active:false} every other failure mode gets.
		return introspectionResponse{Active: false, Expiry: claims.Expiry}, true
	}
	return introspectionResponse{
		Active:    true,
		Scope:     claims.Scope,
		ClientID:  claims.ClientID,
		Subject:   claims.Subject,
		Issuer:    claims.Issuer,
		Audience:  claims.Audience,
		IssuedAt:  claims.IssuedAt,
		Expiry:    claims.Expiry,
		TokenType: "Bearer",
	}, true
}

// introspectRefreshToken reports a presented refresh token's liveness
// without consuming it: introspection must not rotate or invalidate
// the token it inspects, so this reads the store directly rather than
// going through refreshtoken.Store.Rotate.
func (s *Server) introspectRefreshToken(r *http.Request, token string) (introspectionResponse, bool) {
	rt, ok, err := s.refreshTokens.Peek(r.Context(), token)
	if err != nil || !ok {
		return introspectionResponse{}, false
	}
	if !s.now().Before(rt.ExpiresAt) {
		return introspectionResponse{}, false
	}
	return introspectionResponse{
		Active:    true,
		Scope:     strings.Join(rt.Scopes, " "),
		ClientID:  rt.ClientID,
		Subject:   rt.UserID,
		Issuer:    s.issuer,
		IssuedAt:  rt.CreatedAt.Unix(),
		Expiry:    rt.ExpiresAt.Unix(),
		TokenType: "refresh_token",
	}, true
}
