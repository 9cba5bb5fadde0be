package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRevokeThenRotateFails(t *testing.T) {
	h := newTestServer(t, nil)
	_, refreshToken, clientID, clientSecret := issueTokensForIntrospection(t, h)

	resp := postForm(t, h, "/revoke", url.Values{"token": {refreshToken}}, clientID, clientSecret)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rotateResp := postToken(t, h, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}, clientID, clientSecret)
	defer rotateResp.Body.Close()
	require.Equal(t, http.StatusBadRequest, rotateResp.StatusCode)
}

func TestRevokeUnknownTokenStillReturnsOK(t *testing.T) {
	h := newTestServer(t, nil)
	result := h.registerClient(t, confidentialClientInput("https://app.example.test/callback"))

	resp := postForm(t, h, "/revoke", url.Values{"token": {"never-issued"}}, result.Client.ID, result.Secret)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "revocation never reveals whether the token existed")
}

func TestRevokeRequiresClientAuthenticationForConfidentialClients(t *testing.T) {
	h := newTestServer(t, nil)
	_, refreshToken, _, _ := issueTokensForIntrospection(t, h)

	resp := postForm(t, h, "/revoke", url.Values{"token": {refreshToken}}, "", "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRevokeRejectsCrossClientToken(t *testing.T) {
	h := newTestServer(t, nil)
	_, refreshToken, _, _ := issueTokensForIntrospection(t, h)

	other := h.registerClient(t, confidentialClientInput("https://other.example.test/callback"))

	resp := postForm(t, h, "/revoke", url.Values{"token": {refreshToken}}, other.Client.ID, other.Secret)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The token must still be alive: revocation silently no-ops for a
	// client that does not own it.
	introspectResp := postForm(t, h, "/introspect", url.Values{"token": {refreshToken}}, other.Client.ID, other.Secret)
	defer introspectResp.Body.Close()
	var ir introspectionResponse
	require.NoError(t, json.NewDecoder(introspectResp.Body).Decode(&ir))
	require.True(t, ir.Active)
}
