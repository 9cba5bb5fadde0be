package server

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lumenid/issuer/authcode"
	"github.com/lumenid/issuer/storage"
)

var validPrompts = map[string]bool{"none": true, "login": true, "consent": true, "select_account": true}

// handleAuthorize implements component H. Validation up through
// redirect_uri binding renders an HTML error page on failure; every
// subsequent failure is a 302 back to redirect_uri carrying
// error/error_description/state, per RFC 6749 §4.1.2.1.
func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	clientID := strings.TrimSpace(q.Get("client_id"))
	if clientID == "" {
		s.renderError(w, http.StatusBadRequest, "client_id is required")
		return
	}

	rawRedirect := q.Get("redirect_uri")
	redirectURI, err := url.Parse(rawRedirect)
	if rawRedirect == "" || err != nil || !redirectURI.IsAbs() || (redirectURI.Scheme != "http" && redirectURI.Scheme != "https") {
		s.renderError(w, http.StatusBadRequest, "redirect_uri must be an absolute http(s) URL")
		return
	}

	state := q.Get("state")
	if len(state) > 512 {
		s.renderError(w, http.StatusBadRequest, "state too long")
		return
	}
	scopeParam := q.Get("scope")
	if len(scopeParam) > 2048 {
		s.renderError(w, http.StatusBadRequest, "scope too long")
		return
	}

	client, ok, err := s.clients.Get(r.Context(), clientID)
	if err != nil {
		s.logger.Error("authorize: failed to look up client", "err", err)
		s.renderError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	if !ok {
		s.renderError(w, http.StatusBadRequest, "unknown client")
		return
	}
	if !client.HasRedirectURI(rawRedirect) {
		s.renderError(w, http.StatusBadRequest, "redirect_uri is not registered for this client")
		return
	}

	// From here, every failure redirects to redirect_uri.
	fail := func(code, desc string) {
		redirectAuthError(w, r, redirectURI, newOAuthError(code, desc), state)
	}

	responseType := q.Get("response_type")
	if responseType != string(storage.ResponseTypeCode) {
		fail(errUnsupportedResponseType, "only response_type=code is supported")
		return
	}
	if !client.SupportsResponseType(storage.ResponseTypeCode) {
		fail(errUnsupportedResponseType, "client is not registered for response_type=code")
		return
	}

	scopes := strings.Fields(scopeParam)
	if !containsString(scopes, "openid") {
		fail(errInvalidScope, "openid scope is required")
		return
	}
	var badScopes []string
	for _, sc := range scopes {
		if !client.AllowsScope(sc) {
			badScopes = append(badScopes, sc)
		}
	}
	if len(badScopes) > 0 {
		fail(errInvalidScope, "scope not registered for client: "+strings.Join(badScopes, ", "))
		return
	}

	codeChallenge := q.Get("code_challenge")
	codeChallengeMethod := q.Get("code_challenge_method")
	if client.Public() && codeChallenge == "" {
		fail(errInvalidRequest, "PKCE is required")
		return
	}
	if codeChallengeMethod != "" && codeChallengeMethod != string(storage.PKCEMethodS256) && codeChallengeMethod != string(storage.PKCEMethodPlain) {
		fail(errInvalidRequest, "unsupported code_challenge_method")
		return
	}
	if len(codeChallenge) > 128 {
		fail(errInvalidRequest, "code_challenge too long")
		return
	}
	if codeChallengeMethod != "" && codeChallenge == "" {
		fail(errInvalidRequest, "code_challenge_method without code_challenge")
		return
	}

	if prompt := q.Get("prompt"); prompt != "" && !validPrompts[prompt] {
		fail(errInvalidRequest, "invalid prompt value")
		return
	}
	if maxAge := q.Get("max_age"); maxAge != "" {
		if n, err := strconv.Atoi(maxAge); err != nil || n < 0 {
			fail(errInvalidRequest, "max_age must be a non-negative integer")
			return
		}
	}

	sessionCookie, err := r.Cookie(sessionCookieName)
	if err != nil {
		s.redirectToLogin(w, r)
		return
	}
	claims, err := s.sessions.Verify(sessionCookie.Value)
	if err != nil {
		s.redirectToLogin(w, r)
		return
	}

	method := storage.PKCEMethod(codeChallengeMethod)
	if method == "" && codeChallenge != "" {
		method = storage.PKCEMethodS256
	}

	code, err := s.authCodes.Issue(r.Context(), authcode.IssueInput{
		ClientID:            clientID,
		RedirectURI:         rawRedirect,
		Scopes:              scopes,
		UserID:              claims.Subject,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: method,
		Nonce:               q.Get("nonce"),
		AuthTime:            time.Unix(claims.AuthTime, 0),
	})
	if err != nil {
		s.logger.Error("authorize: failed to issue authorization code", "err", err)
		fail(errServerError, "")
		return
	}

	result := *redirectURI
	qs := result.Query()
	qs.Set("code", code.Code)
	if state != "" {
		qs.Set("state", state)
	}
	result.RawQuery = qs.Encode()
	http.Redirect(w, r, result.String(), http.StatusFound)
}

func (s *Server) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	returnTo := url.QueryEscape(s.issuer + r.URL.RequestURI())
	http.Redirect(w, r, issuerJoin(s.issuer, "/login")+"?return_to="+returnTo, http.StatusFound)
}

func containsString(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
