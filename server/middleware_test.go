package server

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenid/issuer/ratelimit"
	"github.com/lumenid/issuer/storage/memgw"
)

func TestRateLimitedEndpointRefusesBeyondWindow(t *testing.T) {
	gw := memgw.New(nil)
	limiter := ratelimit.NewGateway(gw, ratelimit.Window{Size: time.Hour, Limit: 1}, nil)

	h := newTestServer(t, func(c *Config) {
		c.RateLimit = limiter
	})
	result := h.registerClient(t, confidentialClientInput("https://app.example.test/callback"))

	first := postToken(t, h, url.Values{"grant_type": {"client_credentials"}}, result.Client.ID, result.Secret)
	first.Body.Close()
	require.NotEqual(t, http.StatusTooManyRequests, first.StatusCode)

	second := postToken(t, h, url.Values{"grant_type": {"client_credentials"}}, result.Client.ID, result.Secret)
	defer second.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestCORSAppliedOnlyWhenOriginsConfigured(t *testing.T) {
	h := newTestServer(t, func(c *Config) {
		c.AllowedOrigins = []string{"https://app.example.test"}
	})

	req, err := http.NewRequest(http.MethodGet, h.URL+"/.well-known/openid-configuration", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.test")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "https://app.example.test", resp.Header.Get("Access-Control-Allow-Origin"))

	plain := newTestServer(t, nil)
	plainReq, err := http.NewRequest(http.MethodGet, plain.URL+"/.well-known/openid-configuration", nil)
	require.NoError(t, err)
	plainReq.Header.Set("Origin", "https://app.example.test")

	plainResp, err := http.DefaultClient.Do(plainReq)
	require.NoError(t, err)
	defer plainResp.Body.Close()
	require.Empty(t, plainResp.Header.Get("Access-Control-Allow-Origin"))
}
