package keys

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenid/issuer/jwtutil"
)

func TestInitializeGeneratesAnActiveRS256Key(t *testing.T) {
	m := New(nil)
	kp, err := m.Initialize()
	require.NoError(t, err)
	require.Equal(t, jwtutil.RS256, kp.Algorithm)
	require.True(t, kp.IsActive)

	again, err := m.Initialize()
	require.NoError(t, err)
	require.Equal(t, kp.Kid, again.Kid, "a second Initialize must reuse the existing active key")
}

func TestRotateRetiresPriorKeysOfSameAlgorithm(t *testing.T) {
	m := New(nil)
	first, err := m.Rotate(jwtutil.RS256, false)
	require.NoError(t, err)

	second, err := m.Rotate(jwtutil.RS256, true)
	require.NoError(t, err)
	require.NotEqual(t, first.Kid, second.Kid)

	firstAfter, ok := m.GetActive(first.Kid)
	require.False(t, ok, "GetActive must not return a retired key")
	require.False(t, firstAfter.IsActive)

	latest, ok := m.LatestActive(jwtutil.RS256)
	require.True(t, ok)
	require.Equal(t, second.Kid, latest.Kid)
}

func TestRotateWithoutRetireKeepsBothActive(t *testing.T) {
	m := New(nil)
	first, err := m.Rotate(jwtutil.RS256, false)
	require.NoError(t, err)
	_, err = m.Rotate(jwtutil.RS256, false)
	require.NoError(t, err)

	firstAfter, ok := m.GetActive(first.Kid)
	require.True(t, ok)
	require.True(t, firstAfter.IsActive)
}

func TestGetActiveRejectsUnknownOrExpiredKid(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &now
	m := New(func() time.Time { return *clock })

	kp, err := m.Rotate(jwtutil.RS256, false)
	require.NoError(t, err)

	_, ok := m.GetActive("does-not-exist")
	require.False(t, ok)

	*clock = kp.ExpiresAt.Add(time.Second)
	_, ok = m.GetActive(kp.Kid)
	require.False(t, ok, "a key past its expiry is no longer usable even if never explicitly retired")
}

func TestLatestActiveSkipsOtherAlgorithms(t *testing.T) {
	m := New(nil)
	_, err := m.Rotate(jwtutil.ES256, false)
	require.NoError(t, err)

	_, ok := m.LatestActive(jwtutil.RS256)
	require.False(t, ok)
}

func TestJWKSNeverLeaksPrivateMaterial(t *testing.T) {
	m := New(nil)
	kp, err := m.Rotate(jwtutil.RS256, false)
	require.NoError(t, err)

	set := m.JWKS()
	require.Len(t, set.Keys, 1)
	require.Equal(t, kp.Kid, set.Keys[0].KeyID)
	require.True(t, set.Keys[0].IsPublic())
}

func TestJWKSExcludesRetiredAndExpiredKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &now
	m := New(func() time.Time { return *clock })

	retired, err := m.Rotate(jwtutil.RS256, false)
	require.NoError(t, err)
	successor, err := m.Rotate(jwtutil.RS256, true)
	require.NoError(t, err)

	set := m.JWKS()
	require.Len(t, set.Keys, 1, "the retired key must not appear once a successor has superseded it")
	for _, k := range set.Keys {
		require.NotEqual(t, retired.Kid, k.KeyID)
	}

	*clock = successor.ExpiresAt.Add(time.Second)
	require.Empty(t, m.JWKS().Keys, "an expired key must not appear either")
}
