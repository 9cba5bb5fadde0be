package server

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/lumenid/issuer/refreshtoken"
	"github.com/lumenid/issuer/storage"
)

// handleToken implements component I: the authorization_code and
// refresh_token grants, dispatched from one client-authenticated
// entry point, mirroring dex's handleToken → per-grant-handler shape.
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidRequest, "Content-Type must be application/x-www-form-urlencoded"))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidRequest, "malformed form body"))
		return
	}

	grantType := r.PostForm.Get("grant_type")
	client, public, oerr := s.authenticateClient(r, publicClientAllowed(grantType))
	if oerr != nil {
		writeOAuthError(w, statusForError(oerr.Code), oerr)
		return
	}

	switch grantType {
	case string(storage.GrantAuthorizationCode):
		s.handleAuthorizationCodeGrant(w, r, client, public)
	case string(storage.GrantRefreshToken):
		s.handleRefreshTokenGrant(w, r, client)
	default:
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errUnsupportedGrantType, "unsupported grant_type"))
	}
}

// publicClientAllowed reports whether a credential-free public
// client may authenticate for the given token endpoint grant_type:
// only authorization_code, per PKCE being the binding mechanism in
// place of a client secret.
func publicClientAllowed(grantType string) bool {
	return grantType == string(storage.GrantAuthorizationCode)
}

// authenticateClient extracts client credentials from the Basic header
// or the form body (never both disagreeing) and authenticates them.
// When allowPublic is true, a credential-free request for a client
// registered with auth_method=none is also accepted, identified solely
// by client_id.
func (s *Server) authenticateClient(r *http.Request, allowPublic bool) (storage.Client, bool, *oauthError) {
	basicID, basicSecret, hasBasic := r.BasicAuth()
	formID := r.PostForm.Get("client_id")
	formSecret := r.PostForm.Get("client_secret")

	clientID := basicID
	secret := basicSecret
	if !hasBasic {
		clientID = formID
		secret = formSecret
	} else if formID != "" && formID != basicID {
		return storage.Client{}, false, newOAuthError(errInvalidRequest, "client_id in body disagrees with Basic auth")
	}

	if clientID == "" {
		return storage.Client{}, false, newOAuthError(errInvalidClient, "client authentication required")
	}

	if secret != "" {
		client, ok, err := s.clients.Authenticate(r.Context(), clientID, secret)
		if err != nil {
			s.logger.Error("token: client authentication failed", "err", err)
			return storage.Client{}, false, newOAuthError(errServerError, "")
		}
		if !ok {
			return storage.Client{}, false, newOAuthError(errInvalidClient, "invalid client credentials")
		}
		return client, false, nil
	}

	if !allowPublic {
		return storage.Client{}, false, newOAuthError(errInvalidClient, "client authentication required")
	}
	client, ok, err := s.clients.Get(r.Context(), clientID)
	if err != nil {
		s.logger.Error("token: client lookup failed", "err", err)
		return storage.Client{}, false, newOAuthError(errServerError, "")
	}
	if !ok || !client.Public() {
		return storage.Client{}, false, newOAuthError(errInvalidClient, "client requires authentication")
	}
	return client, true, nil
}

func (s *Server) handleAuthorizationCodeGrant(w http.ResponseWriter, r *http.Request, client storage.Client, public bool) {
	if !client.SupportsGrant(storage.GrantAuthorizationCode) {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errUnauthorizedClient, "client not authorized for authorization_code grant"))
		return
	}
	code := r.PostForm.Get("code")
	redirectURI := r.PostForm.Get("redirect_uri")
	if code == "" || redirectURI == "" {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidRequest, "code and redirect_uri are required"))
		return
	}

	record, ok, err := s.authCodes.Consume(r.Context(), code)
	if err != nil {
		s.logger.Error("token: failed to consume authorization code", "err", err)
		writeOAuthError(w, http.StatusInternalServerError, newOAuthError(errServerError, ""))
		return
	}
	if !ok || record.ClientID != client.ID || record.RedirectURI != redirectURI {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidGrant, "invalid or expired code"))
		return
	}

	if public && record.CodeChallenge == "" {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidGrant, "PKCE required"))
		return
	}
	if record.CodeChallenge != "" {
		verifier := r.PostForm.Get("code_verifier")
		if verifier == "" || !verifyPKCE(verifier, record.CodeChallenge, record.CodeChallengeMethod) {
			writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidGrant, "code_verifier does not match code_challenge"))
			return
		}
	}

	acct, ok, err := s.accounts.Get(r.Context(), record.UserID)
	if err != nil {
		s.logger.Error("token: failed to load account", "err", err)
		writeOAuthError(w, http.StatusInternalServerError, newOAuthError(errServerError, ""))
		return
	}
	if !ok {
		writeOAuthError(w, http.StatusInternalServerError, newOAuthError(errServerError, "user record missing"))
		return
	}
	if !acct.IsActive {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidGrant, "user is inactive"))
		return
	}

	now := s.now()
	s.respondWithTokens(w, r, client, acct, record.Scopes, record.AuthTime, record.Nonce, now, client.SupportsGrant(storage.GrantRefreshToken) && containsString(record.Scopes, string(storage.ScopeOfflineAccess)))
}

func (s *Server) handleRefreshTokenGrant(w http.ResponseWriter, r *http.Request, client storage.Client) {
	if !client.SupportsGrant(storage.GrantRefreshToken) {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errUnauthorizedClient, "client not authorized for refresh_token grant"))
		return
	}
	presented := r.PostForm.Get("refresh_token")
	if presented == "" {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidRequest, "refresh_token is required"))
		return
	}

	rotated, err := s.refreshTokens.Rotate(r.Context(), presented, client.ID)
	if err != nil {
		if err == refreshtoken.ErrReplay || err == refreshtoken.ErrClientMismatch {
			s.metrics.refreshEvents.WithLabelValues(refreshEventName(err)).Inc()
			writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidGrant, "invalid or expired refresh token"))
			return
		}
		s.logger.Error("token: failed to rotate refresh token", "err", err)
		writeOAuthError(w, http.StatusInternalServerError, newOAuthError(errServerError, ""))
		return
	}

	acct, ok, err := s.accounts.Get(r.Context(), rotated.UserID)
	if err != nil {
		s.logger.Error("token: failed to load account", "err", err)
		writeOAuthError(w, http.StatusInternalServerError, newOAuthError(errServerError, ""))
		return
	}
	if !ok || !acct.IsActive {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidGrant, "user is inactive"))
		return
	}

	authTime := rotated.AuthTime
	if authTime.IsZero() {
		authTime = rotated.CreatedAt
	}

	now := s.now()
	s.respondWithTokensRotated(w, r, client, acct, rotated.Scopes, authTime, now, rotated)
}

// respondWithTokens mints and writes an access+ID token response,
// optionally issuing a brand-new refresh token (authorization_code
// grant with offline_access).
func (s *Server) respondWithTokens(w http.ResponseWriter, r *http.Request, client storage.Client, acct storage.Account, scopes []string, authTime time.Time, nonce string, now time.Time, issueRefresh bool) {
	accessToken, expiresIn, err := s.mintAccessToken(client.ID, acct.ID, scopes, now)
	if err != nil {
		s.logger.Error("token: failed to mint access token", "err", err)
		writeOAuthError(w, http.StatusInternalServerError, newOAuthError(errServerError, ""))
		return
	}
	idToken, err := s.mintIDToken(client.ID, acct.ID, scopes, authTime, nonce, s.profileFor(r, acct), now)
	if err != nil {
		s.logger.Error("token: failed to mint ID token", "err", err)
		writeOAuthError(w, http.StatusInternalServerError, newOAuthError(errServerError, ""))
		return
	}

	resp := tokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   expiresIn,
		Scope:       strings.Join(scopes, " "),
		IDToken:     idToken,
	}

	if issueRefresh {
		rt, err := s.refreshTokens.Issue(r.Context(), refreshtoken.IssueInput{
			ClientID: client.ID,
			UserID:   acct.ID,
			Scopes:   scopes,
			AuthTime: authTime,
		})
		if err != nil {
			s.logger.Error("token: failed to issue refresh token", "err", err)
			writeOAuthError(w, http.StatusInternalServerError, newOAuthError(errServerError, ""))
			return
		}
		resp.RefreshToken = rt.TokenValue
	}

	noStore(w)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) respondWithTokensRotated(w http.ResponseWriter, r *http.Request, client storage.Client, acct storage.Account, scopes []string, authTime time.Time, now time.Time, rotated storage.RefreshToken) {
	accessToken, expiresIn, err := s.mintAccessToken(client.ID, acct.ID, scopes, now)
	if err != nil {
		s.logger.Error("token: failed to mint access token", "err", err)
		writeOAuthError(w, http.StatusInternalServerError, newOAuthError(errServerError, ""))
		return
	}
	idToken, err := s.mintIDToken(client.ID, acct.ID, scopes, authTime, "", s.profileFor(r, acct), now)
	if err != nil {
		s.logger.Error("token: failed to mint ID token", "err", err)
		writeOAuthError(w, http.StatusInternalServerError, newOAuthError(errServerError, ""))
		return
	}

	noStore(w)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		Scope:        strings.Join(scopes, " "),
		IDToken:      idToken,
		RefreshToken: rotated.TokenValue,
	})
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// profileFor projects an account's contact methods into the claims
// shape mintIDToken expects. Profile name and picture fields are always
// left empty: Account has no name/picture fields, and federated sign-in
// does not store the upstream profile's.
func (s *Server) profileFor(r *http.Request, acct storage.Account) profile {
	methods, err := s.accounts.ContactMethodsForAccount(r.Context(), acct.ID)
	if err != nil {
		s.logger.Warn("failed to load contact methods for profile projection", "account_id", acct.ID, "err", err)
		return profile{}
	}
	var p profile
	for _, cm := range methods {
		if cm.Type == storage.ContactEmail && (cm.IsPrimary || p.Email == "") {
			p.Email = cm.Value
			p.EmailVerified = cm.VerifiedAt != nil
		}
	}
	return p
}

func verifyPKCE(verifier, challenge string, method storage.PKCEMethod) bool {
	switch method {
	case storage.PKCEMethodS256, "":
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
	case storage.PKCEMethodPlain:
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	default:
		return false
	}
}

func refreshEventName(err error) string {
	if err == refreshtoken.ErrClientMismatch {
		return "cross_client"
	}
	return "replay"
}
