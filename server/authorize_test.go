package server

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumenid/issuer/clientregistry"
	"github.com/lumenid/issuer/storage"
)

func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func confidentialClientInput(redirectURI string) clientregistry.RegisterInput {
	return clientregistry.RegisterInput{
		Name:          "test-app",
		RedirectURIs:  []string{redirectURI},
		GrantTypes:    []storage.GrantType{storage.GrantAuthorizationCode, storage.GrantRefreshToken},
		ResponseTypes: []storage.ResponseType{storage.ResponseTypeCode},
		Scopes:        []storage.Scope{storage.ScopeOpenID, storage.ScopeEmail, storage.ScopeProfile, storage.ScopeOfflineAccess},
	}
}

func TestAuthorizeWithoutSessionRedirectsToLogin(t *testing.T) {
	h := newTestServer(t, nil)
	result := h.registerClient(t, confidentialClientInput("https://app.example.test/callback"))

	client := noRedirectClient()
	authURL := h.URL + "/authorize?" + url.Values{
		"client_id":     {result.Client.ID},
		"redirect_uri":  {"https://app.example.test/callback"},
		"response_type": {"code"},
		"scope":         {"openid"},
		"state":         {"xyz"},
	}.Encode()

	resp, err := client.Get(authURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Location"), "/login")
}

func TestAuthorizeRejectsUnknownClient(t *testing.T) {
	h := newTestServer(t, nil)

	resp, err := http.Get(h.URL + "/authorize?" + url.Values{
		"client_id":     {"no-such-client"},
		"redirect_uri":  {"https://app.example.test/callback"},
		"response_type": {"code"},
		"scope":         {"openid"},
	}.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthorizeRejectsUnregisteredRedirectURI(t *testing.T) {
	h := newTestServer(t, nil)
	result := h.registerClient(t, confidentialClientInput("https://app.example.test/callback"))

	resp, err := http.Get(h.URL + "/authorize?" + url.Values{
		"client_id":     {result.Client.ID},
		"redirect_uri":  {"https://evil.example.test/callback"},
		"response_type": {"code"},
		"scope":         {"openid"},
	}.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthorizeRejectsDisallowedScopeViaRedirect(t *testing.T) {
	h := newTestServer(t, nil)
	result := h.registerClient(t, confidentialClientInput("https://app.example.test/callback"))
	cookie := h.sessionCookieFor(t, "user-456")

	client := noRedirectClient()
	req, err := http.NewRequest(http.MethodGet, h.URL+"/authorize?"+url.Values{
		"client_id":     {result.Client.ID},
		"redirect_uri":  {"https://app.example.test/callback"},
		"response_type": {"code"},
		"scope":         {"openid admin"},
		"state":         {"xyz"},
	}.Encode(), nil)
	require.NoError(t, err)
	req.AddCookie(cookie)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "invalid_scope", loc.Query().Get("error"))
	require.Equal(t, "xyz", loc.Query().Get("state"))
}

// pkceChallenge returns a verifier and its S256 challenge.
func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestAuthorizeWithValidSessionIssuesCode(t *testing.T) {
	h := newTestServer(t, nil)
	result := h.registerClient(t, confidentialClientInput("https://app.example.test/callback"))
	cookie := h.sessionCookieFor(t, "user-456")

	verifier := "a-sufficiently-long-code-verifier-value"
	client := noRedirectClient()
	req, err := http.NewRequest(http.MethodGet, h.URL+"/authorize?"+url.Values{
		"client_id":             {result.Client.ID},
		"redirect_uri":          {"https://app.example.test/callback"},
		"response_type":         {"code"},
		"scope":                 {"openid email"},
		"state":                 {"xyz"},
		"code_challenge":        {pkceChallenge(verifier)},
		"code_challenge_method": {"S256"},
	}.Encode(), nil)
	require.NoError(t, err)
	req.AddCookie(cookie)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(loc.String(), "https://app.example.test/callback"))
	require.NotEmpty(t, loc.Query().Get("code"))
	require.Equal(t, "xyz", loc.Query().Get("state"))
}

func TestAuthorizeRequiresOpenIDScope(t *testing.T) {
	h := newTestServer(t, nil)
	result := h.registerClient(t, confidentialClientInput("https://app.example.test/callback"))
	cookie := h.sessionCookieFor(t, "user-456")

	client := noRedirectClient()
	req, err := http.NewRequest(http.MethodGet, h.URL+"/authorize?"+url.Values{
		"client_id":     {result.Client.ID},
		"redirect_uri":  {"https://app.example.test/callback"},
		"response_type": {"code"},
		"scope":         {"email"},
	}.Encode(), nil)
	require.NoError(t, err)
	req.AddCookie(cookie)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "invalid_scope", loc.Query().Get("error"))
}

func TestAuthorizeRejectsUnsupportedResponseType(t *testing.T) {
	h := newTestServer(t, nil)
	result := h.registerClient(t, confidentialClientInput("https://app.example.test/callback"))
	cookie := h.sessionCookieFor(t, "user-456")

	client := noRedirectClient()
	req, err := http.NewRequest(http.MethodGet, h.URL+"/authorize?"+url.Values{
		"client_id":     {result.Client.ID},
		"redirect_uri":  {"https://app.example.test/callback"},
		"response_type": {"token"},
		"scope":         {"openid"},
	}.Encode(), nil)
	require.NoError(t, err)
	req.AddCookie(cookie)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "unsupported_response_type", loc.Query().Get("error"))
}
