package server

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumenid/issuer/jwtutil"
)

func getUserInfo(t *testing.T, h *testHarness, bearer string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, h.URL+"/userinfo", nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func TestUserInfoReturnsScopeGatedClaims(t *testing.T) {
	h := newTestServer(t, nil)
	accessToken, _, _, _ := issueTokensForIntrospection(t, h)

	resp := getUserInfo(t, h, accessToken)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info userInfoResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.NotEmpty(t, info.Subject)
}

func TestUserInfoRejectsMissingBearer(t *testing.T) {
	h := newTestServer(t, nil)

	resp := getUserInfo(t, h, "")
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestUserInfoRejectsGarbageBearer(t *testing.T) {
	h := newTestServer(t, nil)

	resp := getUserInfo(t, h, "not-a-jwt-at-all")
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, resp.Header.Get("WWW-Authenticate"), "invalid_token")
}

func TestUserInfoRejectsDeactivatedAccount(t *testing.T) {
	h := newTestServer(t, nil)
	accessToken, _, _, _ := issueTokensForIntrospection(t, h)

	// The access token's subject is the only account seeded by the
	// helper; deactivate it directly through the store.
	var claims accessTokenClaims
	_, payload, _, err := jwtutil.Parse(accessToken)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(payload, &claims))

	require.NoError(t, h.accounts.Deactivate(context.Background(), claims.Subject))

	resp := getUserInfo(t, h, accessToken)
	defer resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}
