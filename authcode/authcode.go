// Package authcode is the authorization-code store (component E): the
// one-time ticket minted at /authorize and redeemed exactly once at
// /token. It is a thin typed wrapper over storage.Gateway's
// ConsumeOnce, which supplies the atomicity this package depends on.
package authcode

import (
	"context"
	"time"

	"github.com/lumenid/issuer/storage"
)

// DefaultTTL is how long an authorization code remains redeemable. The
// specification fixes this at an absolute ten minutes: codes are meant
// to be exchanged promptly, but the window has to survive a slow
// federated-login round trip.
const DefaultTTL = 10 * time.Minute

// Store issues and redeems storage.AuthorizationCode values.
type Store struct {
	gw  storage.Gateway
	ttl time.Duration
	now func() time.Time
}

// New returns an authorization-code store backed by gw. ttl of zero
// uses DefaultTTL.
func New(gw storage.Gateway, ttl time.Duration, now func() time.Time) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Store{gw: gw, ttl: ttl, now: now}
}

// IssueInput is everything the authorization endpoint has settled on by
// the time it is ready to mint a code.
type IssueInput struct {
	ClientID            string
	RedirectURI         string
	Scopes              []string
	UserID              string
	CodeChallenge       string
	CodeChallengeMethod storage.PKCEMethod
	Nonce               string
	AuthTime            time.Time
}

// Issue mints a fresh, unguessable code and persists it with a
// DefaultTTL (or the store's configured ttl) expiry.
func (s *Store) Issue(ctx context.Context, in IssueInput) (storage.AuthorizationCode, error) {
	now := s.now()
	code := storage.AuthorizationCode{
		Code:                storage.NewHexSecret(),
		ClientID:            in.ClientID,
		RedirectURI:         in.RedirectURI,
		Scopes:              in.Scopes,
		UserID:              in.UserID,
		CodeChallenge:       in.CodeChallenge,
		CodeChallengeMethod: in.CodeChallengeMethod,
		Nonce:               in.Nonce,
		ExpiresAt:           now.Add(s.ttl),
		AuthTime:            in.AuthTime,
	}
	if code.AuthTime.IsZero() {
		code.AuthTime = now
	}
	if err := s.gw.TTLInsert(ctx, storage.TableAuthorizationCodes, code.Code, code, s.ttl); err != nil {
		return storage.AuthorizationCode{}, err
	}
	return code, nil
}

// Consume atomically redeems code: at most one caller ever observes
// (code, true, nil) for a given value, regardless of concurrent
// redemption attempts. A second redemption, an expired code, and a code
// that never existed are all indistinguishable: (zero, false, nil).
func (s *Store) Consume(ctx context.Context, code string) (storage.AuthorizationCode, bool, error) {
	var ac storage.AuthorizationCode
	ok, err := s.gw.ConsumeOnce(ctx, storage.TableAuthorizationCodes, code, &ac)
	if err != nil || !ok {
		return storage.AuthorizationCode{}, false, err
	}
	if !s.now().Before(ac.ExpiresAt) {
		return storage.AuthorizationCode{}, false, nil
	}
	return ac, true, nil
}
