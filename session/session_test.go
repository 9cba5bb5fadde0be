package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenid/issuer/jwtutil"
	"github.com/lumenid/issuer/keys"
)

func TestIssueThenVerifyRoundTrip(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	km := keys.New(func() time.Time { return now })
	_, err := km.Initialize()
	require.NoError(t, err)

	m := New(km, 15*time.Minute, func() time.Time { return now })

	authTime := now.Add(-time.Minute)
	token, err := m.Issue("user-456", authTime)
	require.NoError(t, err)

	claims, err := m.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-456", claims.Subject)
	require.Equal(t, authTime.Unix(), claims.AuthTime)
	require.Equal(t, now.Unix(), claims.IssuedAt)
	require.Equal(t, now.Add(15*time.Minute).Unix(), claims.Expiry)
}

func TestVerifyRejectsExpiredSession(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &now
	km := keys.New(func() time.Time { return *clock })
	_, err := km.Initialize()
	require.NoError(t, err)

	m := New(km, time.Minute, func() time.Time { return *clock })
	token, err := m.Issue("user-456", now)
	require.NoError(t, err)

	*clock = now.Add(2 * time.Minute)
	_, err = m.Verify(token)
	require.Error(t, err)
}

func TestIssueFailsWithoutAnActiveKey(t *testing.T) {
	km := keys.New(nil)
	m := New(km, time.Minute, nil)
	_, err := m.Issue("user-456", time.Now())
	require.ErrorIs(t, err, ErrNoActiveKey)
}

func TestVerifyRejectsANonSessionTokenFromTheSameKeyManager(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	km := keys.New(func() time.Time { return now })
	_, err := km.Initialize()
	require.NoError(t, err)

	m := New(km, time.Minute, func() time.Time { return now })

	// An RS256 JWT minted by the same key manager for some other role
	// (no purpose claim, e.g. an access token) must not decode as a
	// valid session.
	kp, ok := km.LatestActive(jwtutil.RS256)
	require.True(t, ok)
	payload, err := json.Marshal(struct {
		Subject string `json:"sub"`
		Expiry  int64  `json:"exp"`
	}{Subject: "user-456", Expiry: now.Add(time.Minute).Unix()})
	require.NoError(t, err)
	token, err := jwtutil.Sign(payload, kp.PrivateKey, kp.Algorithm, kp.Kid)
	require.NoError(t, err)

	_, err = m.Verify(token)
	require.ErrorIs(t, err, ErrNotASession)
}

func TestVerifyFallsBackByKidNotAlgorithm(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	km := keys.New(func() time.Time { return now })
	_, err := km.Initialize()
	require.NoError(t, err)

	m := New(km, time.Minute, func() time.Time { return now })
	token, err := m.Issue("user-456", now)
	require.NoError(t, err)

	// Rotating without retiring makes a newer key "latest", but the
	// token still verifies because GetActive resolves by kid.
	_, err = km.Rotate(jwtutil.RS256, false)
	require.NoError(t, err)

	_, err = m.Verify(token)
	require.NoError(t, err)
}
