package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func postForm(t *testing.T, h *testHarness, path string, form url.Values, clientID, clientSecret string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.URL+path, strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if clientID != "" {
		req.SetBasicAuth(clientID, clientSecret)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func issueTokensForIntrospection(t *testing.T, h *testHarness) (accessToken, refreshToken, clientID, clientSecret string) {
	t.Helper()
	result := h.registerClient(t, confidentialClientInput("https://app.example.test/callback"))
	subject := h.createAccountWithPassword(t, "jane@example.com", "s3cr3t-password")
	verifier := "a-sufficiently-long-code-verifier-value"
	code := obtainAuthCode(t, h, result, subject, "https://app.example.test/callback", "openid offline_access", verifier)

	resp := postToken(t, h, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {"https://app.example.test/callback"},
		"code_verifier": {verifier},
	}, result.Client.ID, result.Secret)
	defer resp.Body.Close()
	var tr tokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	return tr.AccessToken, tr.RefreshToken, result.Client.ID, result.Secret
}

func TestIntrospectActiveAccessToken(t *testing.T) {
	h := newTestServer(t, nil)
	accessToken, _, clientID, clientSecret := issueTokensForIntrospection(t, h)

	resp := postForm(t, h, "/introspect", url.Values{"token": {accessToken}}, clientID, clientSecret)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ir introspectionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ir))
	require.True(t, ir.Active)
	require.Equal(t, "Bearer", ir.TokenType)
}

func TestIntrospectActiveRefreshToken(t *testing.T) {
	h := newTestServer(t, nil)
	_, refreshToken, clientID, clientSecret := issueTokensForIntrospection(t, h)

	resp := postForm(t, h, "/introspect", url.Values{"token": {refreshToken}, "token_type_hint": {"refresh_token"}}, clientID, clientSecret)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ir introspectionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ir))
	require.True(t, ir.Active)
	require.Equal(t, "refresh_token", ir.TokenType)
}

func TestIntrospectDoesNotConsumeRefreshToken(t *testing.T) {
	h := newTestServer(t, nil)
	_, refreshToken, clientID, clientSecret := issueTokensForIntrospection(t, h)

	for i := 0; i < 3; i++ {
		resp := postForm(t, h, "/introspect", url.Values{"token": {refreshToken}}, clientID, clientSecret)
		var ir introspectionResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&ir))
		resp.Body.Close()
		require.True(t, ir.Active, "introspection must be repeatable without invalidating the token")
	}
}

func TestIntrospectGarbageTokenIsInactive(t *testing.T) {
	h := newTestServer(t, nil)
	_, _, clientID, clientSecret := issueTokensForIntrospection(t, h)

	resp := postForm(t, h, "/introspect", url.Values{"token": {"not-a-real-token"}}, clientID, clientSecret)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ir introspectionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ir))
	require.False(t, ir.Active)
}

func TestIntrospectExpiredAccessTokenReportsExpiry(t *testing.T) {
	now := time.Now()
	clock := &now
	h := newTestServer(t, func(c *Config) {
		c.Now = func() time.Time { return *clock }
		c.AccessTokenTTL = time.Minute
	})
	accessToken, _, clientID, clientSecret := issueTokensForIntrospection(t, h)

	*clock = now.Add(2 * time.Minute)
	resp := postForm(t, h, "/introspect", url.Values{"token": {accessToken}}, clientID, clientSecret)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var ir introspectionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ir))
	require.False(t, ir.Active)
	require.Equal(t, now.Add(time.Minute).Unix(), ir.Expiry, "exp must still be reported for an otherwise-valid but expired token")
}

func TestIntrospectRequiresClientAuthentication(t *testing.T) {
	h := newTestServer(t, nil)
	accessToken, _, _, _ := issueTokensForIntrospection(t, h)

	resp := postForm(t, h, "/introspect", url.Values{"token": {accessToken}}, "", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
