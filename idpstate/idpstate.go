// Package idpstate is the consume-once CSRF/PKCE state store
// (part of component L) used across a federated-login round trip:
// minted before redirecting to an upstream provider, redeemed exactly
// once when that provider calls back.
package idpstate

import (
	"context"
	"time"

	"github.com/lumenid/issuer/storage"
)

// DefaultTTL bounds how long a user may take to complete a federated
// sign-in before the round trip is abandoned.
const DefaultTTL = 10 * time.Minute

// Store issues and redeems storage.OAuthState values.
type Store struct {
	gw  storage.Gateway
	ttl time.Duration
	now func() time.Time
}

// New returns an idpstate store backed by gw. ttl of zero uses
// DefaultTTL.
func New(gw storage.Gateway, ttl time.Duration, now func() time.Time) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Store{gw: gw, ttl: ttl, now: now}
}

// IssueInput captures everything needed to resume the local flow once
// the upstream provider redirects back.
type IssueInput struct {
	ReturnTo     string
	CodeVerifier string
	Provider     string
}

// Issue mints a fresh opaque state value and persists it with a short
// expiry.
func (s *Store) Issue(ctx context.Context, in IssueInput) (storage.OAuthState, error) {
	st := storage.OAuthState{
		State:        storage.NewSecret(),
		ReturnTo:     in.ReturnTo,
		CodeVerifier: in.CodeVerifier,
		Provider:     in.Provider,
		ExpiresAt:    s.now().Add(s.ttl),
	}
	if err := s.gw.TTLInsert(ctx, storage.TableOAuthState, st.State, st, s.ttl); err != nil {
		return storage.OAuthState{}, err
	}
	return st, nil
}

// Consume atomically redeems state. A replayed, expired, or unknown
// state value is (zero, false, nil) — the callback handler must treat
// it as a failed federated login, never as "try again".
func (s *Store) Consume(ctx context.Context, state string) (storage.OAuthState, bool, error) {
	var st storage.OAuthState
	ok, err := s.gw.ConsumeOnce(ctx, storage.TableOAuthState, state, &st)
	if err != nil || !ok {
		return storage.OAuthState{}, false, err
	}
	if !s.now().Before(st.ExpiresAt) {
		return storage.OAuthState{}, false, nil
	}
	return st, true, nil
}
