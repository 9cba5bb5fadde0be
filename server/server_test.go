package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenid/issuer/account"
	"github.com/lumenid/issuer/authcode"
	"github.com/lumenid/issuer/clientregistry"
	"github.com/lumenid/issuer/idpstate"
	"github.com/lumenid/issuer/keys"
	"github.com/lumenid/issuer/refreshtoken"
	"github.com/lumenid/issuer/session"
	"github.com/lumenid/issuer/storage"
	"github.com/lumenid/issuer/storage/memgw"
)

// testHarness bundles a running httptest.Server fronting a Server
// alongside the domain stores a test needs direct access to (to seed
// clients/accounts without going through the HTTP surface).
type testHarness struct {
	URL      string
	server   *Server
	clients  *clientregistry.Store
	accounts *account.Store
	keys     *keys.Manager
}

// newTestServer wires a full Server against fresh in-memory stores,
// mirroring the dexidp/dex newTestServer idiom: an httptest.Server
// whose handler defers to a *Server built after the test server's own
// URL is known (so Issuer can equal it).
func newTestServer(t *testing.T, configure func(*Config)) *testHarness {
	t.Helper()

	now := time.Now
	gw := memgw.New(now)
	km := keys.New(now)
	_, err := km.Initialize()
	require.NoError(t, err)

	clients := clientregistry.New(gw, now)
	accounts := account.New(gw, now)
	authCodes := authcode.New(gw, authcode.DefaultTTL, now)
	refreshTokens := refreshtoken.New(gw, refreshtoken.DefaultTTL, now, nil)
	sessions := session.New(km, session.DefaultTTL, now)
	idpState := idpstate.New(gw, idpstate.DefaultTTL, now)

	var srv *Server
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		srv.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	cfg := Config{
		Issuer:        ts.URL,
		Storage:       gw,
		Keys:          km,
		Clients:       clients,
		Accounts:      accounts,
		AuthCodes:     authCodes,
		RefreshTokens: refreshTokens,
		Sessions:      sessions,
		IdPState:      idpState,
		Now:           now,
		AdminToken:    "admin-secret",
	}
	if configure != nil {
		configure(&cfg)
	}

	srv, err = New(cfg)
	require.NoError(t, err)

	return &testHarness{URL: ts.URL, server: srv, clients: clients, accounts: accounts, keys: km}
}

// registerClient registers a confidential client with the given
// redirect URI and grant/response/scope set used throughout the
// handler tests.
func (h *testHarness) registerClient(t *testing.T, in clientregistry.RegisterInput) clientregistry.ClientWithSecret {
	t.Helper()
	result, err := h.clients.Register(context.Background(), in)
	require.NoError(t, err)
	return result
}

// createAccountWithPassword seeds a local account with a primary,
// verified email and the given password, returning its ID.
func (h *testHarness) createAccountWithPassword(t *testing.T, email, password string) string {
	t.Helper()
	ctx := context.Background()
	acct, err := h.accounts.Create(ctx, password)
	require.NoError(t, err)
	cm, err := h.accounts.AddContactMethod(ctx, acct.ID, storage.ContactEmail, email, true)
	require.NoError(t, err)
	require.NoError(t, h.accounts.VerifyContactMethod(ctx, cm.ContactID))
	return acct.ID
}

// sessionCookieFor establishes a session the way /login would and
// returns the *http.Cookie a browser would carry on subsequent
// requests to this harness's issuer.
func (h *testHarness) sessionCookieFor(t *testing.T, subject string) *http.Cookie {
	t.Helper()
	token, err := h.server.sessions.Issue(subject, time.Now())
	require.NoError(t, err)
	return &http.Cookie{Name: sessionCookieName, Value: token}
}
