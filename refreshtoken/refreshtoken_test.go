package refreshtoken

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenid/issuer/storage/memgw"
)

func TestIssueThenRotateCarriesUserAndScopesForward(t *testing.T) {
	ctx := context.Background()
	gw := memgw.New(nil)
	s := New(gw, time.Hour, nil, nil)

	issued, err := s.Issue(ctx, IssueInput{ClientID: "client-123", UserID: "user-456", Scopes: []string{"openid", "offline_access"}})
	require.NoError(t, err)
	require.NotEmpty(t, issued.TokenValue)

	rotated, err := s.Rotate(ctx, issued.TokenValue, "client-123")
	require.NoError(t, err)
	require.NotEqual(t, issued.TokenValue, rotated.TokenValue)
	require.Equal(t, "user-456", rotated.UserID)
	require.Equal(t, []string{"openid", "offline_access"}, rotated.Scopes)
}

func TestRotateIsOneShotReplayDetected(t *testing.T) {
	ctx := context.Background()
	gw := memgw.New(nil)
	s := New(gw, time.Hour, nil, nil)

	issued, err := s.Issue(ctx, IssueInput{ClientID: "client-123", UserID: "user-456"})
	require.NoError(t, err)

	_, err = s.Rotate(ctx, issued.TokenValue, "client-123")
	require.NoError(t, err)

	_, err = s.Rotate(ctx, issued.TokenValue, "client-123")
	require.ErrorIs(t, err, ErrReplay, "presenting an already-rotated token value must be refused as a replay")
}

func TestRotateRejectsCrossClientPresentation(t *testing.T) {
	ctx := context.Background()
	gw := memgw.New(nil)
	s := New(gw, time.Hour, nil, nil)

	issued, err := s.Issue(ctx, IssueInput{ClientID: "client-123", UserID: "user-456"})
	require.NoError(t, err)

	_, err = s.Rotate(ctx, issued.TokenValue, "a-different-client")
	require.ErrorIs(t, err, ErrClientMismatch)

	// The mismatched attempt must not have consumed the token: the
	// rightful client can still rotate it afterward.
	rotated, err := s.Rotate(ctx, issued.TokenValue, "client-123")
	require.NoError(t, err)
	require.NotEqual(t, issued.TokenValue, rotated.TokenValue)
}

func TestRotateRejectsExpiredToken(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &now
	gw := memgw.New(func() time.Time { return *clock })
	s := New(gw, time.Hour, func() time.Time { return *clock }, nil)

	issued, err := s.Issue(ctx, IssueInput{ClientID: "client-123", UserID: "user-456"})
	require.NoError(t, err)

	*clock = now.Add(2 * time.Hour)
	_, err = s.Rotate(ctx, issued.TokenValue, "client-123")
	require.ErrorIs(t, err, ErrReplay)
}

func TestPeekDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	gw := memgw.New(nil)
	s := New(gw, time.Hour, nil, nil)

	issued, err := s.Issue(ctx, IssueInput{ClientID: "client-123", UserID: "user-456"})
	require.NoError(t, err)

	rt, ok, err := s.Peek(ctx, issued.TokenValue)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "user-456", rt.UserID)

	// Still consumable afterward: Peek must never invalidate the token.
	_, err = s.Rotate(ctx, issued.TokenValue, "client-123")
	require.NoError(t, err)
}

func TestPeekUnknownToken(t *testing.T) {
	ctx := context.Background()
	s := New(memgw.New(nil), time.Hour, nil, nil)

	_, ok, err := s.Peek(ctx, "never-issued")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRevokeConsumesOnlyForTheBoundClient(t *testing.T) {
	ctx := context.Background()
	s := New(memgw.New(nil), time.Hour, nil, nil)

	issued, err := s.Issue(ctx, IssueInput{ClientID: "client-123", UserID: "user-456"})
	require.NoError(t, err)

	found, err := s.Revoke(ctx, issued.TokenValue, "a-different-client")
	require.NoError(t, err)
	require.False(t, found, "revocation must never succeed for a client the token wasn't issued to")

	found, err = s.Revoke(ctx, issued.TokenValue, "client-123")
	require.NoError(t, err)
	require.True(t, found)

	_, ok, err := s.Peek(ctx, issued.TokenValue)
	require.NoError(t, err)
	require.False(t, ok, "a revoked token must no longer resolve")
}

func TestRevokeUnknownTokenReportsNotFoundNoError(t *testing.T) {
	ctx := context.Background()
	s := New(memgw.New(nil), time.Hour, nil, nil)

	found, err := s.Revoke(ctx, "never-issued", "client-123")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRevokeByUserInvalidatesEveryOutstandingToken(t *testing.T) {
	ctx := context.Background()
	s := New(memgw.New(nil), time.Hour, nil, nil)

	first, err := s.Issue(ctx, IssueInput{ClientID: "client-123", UserID: "user-456"})
	require.NoError(t, err)
	second, err := s.Issue(ctx, IssueInput{ClientID: "client-789", UserID: "user-456"})
	require.NoError(t, err)

	require.NoError(t, s.RevokeByUser(ctx, "user-456"))

	_, ok, err := s.Peek(ctx, first.TokenValue)
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = s.Peek(ctx, second.TokenValue)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRevokeByUserWithNoTokensIsANoOp(t *testing.T) {
	ctx := context.Background()
	s := New(memgw.New(nil), time.Hour, nil, nil)
	require.NoError(t, s.RevokeByUser(ctx, "user-with-no-tokens"))
}
