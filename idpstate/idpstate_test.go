package idpstate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumenid/issuer/storage/memgw"
)

func TestIssueThenConsumeRoundTrip(t *testing.T) {
	ctx := context.Background()
	gw := memgw.New(nil)
	s := New(gw, time.Minute, nil)

	issued, err := s.Issue(ctx, IssueInput{ReturnTo: "/app", Provider: "google", CodeVerifier: "verifier"})
	require.NoError(t, err)
	require.NotEmpty(t, issued.State)

	got, ok, err := s.Consume(ctx, issued.State)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/app", got.ReturnTo)
	require.Equal(t, "google", got.Provider)
	require.Equal(t, "verifier", got.CodeVerifier)
}

func TestConsumeIsOneShot(t *testing.T) {
	ctx := context.Background()
	gw := memgw.New(nil)
	s := New(gw, time.Minute, nil)

	issued, err := s.Issue(ctx, IssueInput{Provider: "google"})
	require.NoError(t, err)

	_, ok, err := s.Consume(ctx, issued.State)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.Consume(ctx, issued.State)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConsumeRejectsExpiredState(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &now
	gw := memgw.New(func() time.Time { return *clock })
	s := New(gw, time.Minute, func() time.Time { return *clock })

	issued, err := s.Issue(ctx, IssueInput{Provider: "google"})
	require.NoError(t, err)

	*clock = now.Add(2 * time.Minute)
	_, ok, err := s.Consume(ctx, issued.State)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConsumeUnknownState(t *testing.T) {
	ctx := context.Background()
	gw := memgw.New(nil)
	s := New(gw, time.Minute, nil)

	_, ok, err := s.Consume(ctx, "never-issued")
	require.NoError(t, err)
	require.False(t, ok)
}
