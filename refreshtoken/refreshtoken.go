// Package refreshtoken is the rotating refresh-token store (component
// F). Every redemption consumes the presented token and issues a new
// one in the same call: a token value is valid for exactly one
// /token request, after which only its successor is valid. Presenting
// an already-rotated (or never-issued) value is a replay and is logged
// as such; presenting a value that was issued to a different client is
// logged as a cross-client-binding violation. Rotate reports the two
// cases as ErrReplay and ErrClientMismatch respectively.
package refreshtoken

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lumenid/issuer/storage"
)

// DefaultTTL is the lifetime of a freshly issued (or freshly rotated)
// refresh token.
const DefaultTTL = 30 * 24 * time.Hour

// ErrReplay is returned by Rotate when the presented token value does
// not (or no longer) resolve to a live token.
var ErrReplay = errors.New("refreshtoken: replay or unknown token")

// ErrClientMismatch is returned by Rotate when the presented token
// resolves, but to a different client than the one presenting it.
var ErrClientMismatch = errors.New("refreshtoken: client mismatch")

// Store issues, rotates, and revokes storage.RefreshToken values. It
// additionally maintains a by-user secondary index so RevokeByUser can
// invalidate every outstanding token for an account, e.g. on password
// change or account suspension.
type Store struct {
	gw     storage.Gateway
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// New returns a refresh-token store backed by gw. ttl of zero uses
// DefaultTTL; logger of nil uses slog.Default.
func New(gw storage.Gateway, ttl time.Duration, now func() time.Time, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{gw: gw, ttl: ttl, now: now, logger: logger}
}

// IssueInput describes a brand-new refresh token grant (no predecessor).
type IssueInput struct {
	ClientID string
	UserID   string
	Scopes   []string
	AuthTime time.Time
}

// Issue mints a new refresh token unrelated to any prior one, used the
// first time a client obtains offline access for a user.
func (s *Store) Issue(ctx context.Context, in IssueInput) (storage.RefreshToken, error) {
	now := s.now()
	rt := storage.RefreshToken{
		TokenValue: storage.NewBase64URLSecret(),
		ClientID:   in.ClientID,
		UserID:     in.UserID,
		Scopes:     in.Scopes,
		ExpiresAt:  now.Add(s.ttl),
		CreatedAt:  now,
		AuthTime:   in.AuthTime,
	}
	if err := s.gw.TTLInsert(ctx, storage.TableRefreshTokens, rt.TokenValue, rt, s.ttl); err != nil {
		return storage.RefreshToken{}, err
	}
	s.indexForUser(ctx, rt)
	return rt, nil
}

// Rotate atomically consumes presented and, iff it resolves to a live
// token bound to clientID, issues and persists its successor carrying
// the same user/scopes/auth_time forward. A failure to resolve (or an
// expired token) returns ErrReplay, and a resolved token bound to a
// different client returns ErrClientMismatch, each after a log line.
//
// Client binding is checked against a non-destructive Peek before
// ConsumeOnce ever runs: a cross-client presentation must never destroy
// the legitimate client's ability to use the token, so the token is
// only actually consumed once the presenting client is confirmed bound.
func (s *Store) Rotate(ctx context.Context, presented, clientID string) (storage.RefreshToken, error) {
	preview, ok, err := s.Peek(ctx, presented)
	if err != nil {
		return storage.RefreshToken{}, err
	}
	if !ok {
		s.logger.Warn("refresh token replay or unknown token presented", "event", "refresh_token_replay", "client_id", clientID)
		return storage.RefreshToken{}, ErrReplay
	}
	if preview.ClientID != clientID {
		s.logger.Warn("refresh token presented by unbound client", "event", "refresh_token_client_mismatch",
			"presenting_client_id", clientID, "bound_client_id", preview.ClientID, "user_id", preview.UserID)
		return storage.RefreshToken{}, ErrClientMismatch
	}

	var old storage.RefreshToken
	ok, err = s.gw.ConsumeOnce(ctx, storage.TableRefreshTokens, presented, &old)
	if err != nil {
		return storage.RefreshToken{}, err
	}
	if !ok {
		// Resolved at Peek but gone by the time of the atomic consume: a
		// concurrent rotation or revocation won the race. Refuse as a
		// replay; the legitimate client was never harmed since this call
		// made no mutation.
		s.logger.Warn("refresh token replay or unknown token presented", "event", "refresh_token_replay", "client_id", clientID)
		return storage.RefreshToken{}, ErrReplay
	}
	if s.now().After(old.ExpiresAt) {
		s.logger.Warn("expired refresh token presented", "client_id", clientID, "user_id", old.UserID)
		return storage.RefreshToken{}, ErrReplay
	}

	now := s.now()
	next := storage.RefreshToken{
		TokenValue: storage.NewBase64URLSecret(),
		ClientID:   old.ClientID,
		UserID:     old.UserID,
		Scopes:     old.Scopes,
		ExpiresAt:  now.Add(s.ttl),
		CreatedAt:  now,
		AuthTime:   old.AuthTime,
	}
	if err := s.gw.TTLInsert(ctx, storage.TableRefreshTokens, next.TokenValue, next, s.ttl); err != nil {
		return storage.RefreshToken{}, err
	}
	s.indexForUser(ctx, next)
	return next, nil
}

// Peek resolves tokenValue without consuming it, for RFC 7662
// introspection: inspecting a refresh token must never invalidate it.
func (s *Store) Peek(ctx context.Context, tokenValue string) (storage.RefreshToken, bool, error) {
	var rt storage.RefreshToken
	err := s.gw.Get(ctx, storage.TableRefreshTokens, tokenValue, &rt)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.RefreshToken{}, false, nil
	}
	if err != nil {
		return storage.RefreshToken{}, false, err
	}
	return rt, true, nil
}

// Revoke consumes tokenValue iff it is bound to clientID, per RFC 7009.
// An unknown value, an already-consumed value, or a value bound to a
// different client all report found=false — revocation never reveals
// which case occurred.
func (s *Store) Revoke(ctx context.Context, tokenValue, clientID string) (bool, error) {
	preview, ok, err := s.Peek(ctx, tokenValue)
	if err != nil {
		return false, err
	}
	if !ok || preview.ClientID != clientID {
		return false, nil
	}
	var rt storage.RefreshToken
	ok, err = s.gw.ConsumeOnce(ctx, storage.TableRefreshTokens, tokenValue, &rt)
	if err != nil {
		return false, err
	}
	return ok, nil
}

// RevokeByUser revokes every refresh token on record for userID, via
// the by-user secondary index populated at Issue/Rotate time.
func (s *Store) RevokeByUser(ctx context.Context, userID string) error {
	var tokenValues []string
	if err := s.gw.Get(ctx, storage.TableRefreshTokensByUser, userID, &tokenValues); err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return err
	}
	for _, tv := range tokenValues {
		var rt storage.RefreshToken
		if _, err := s.gw.ConsumeOnce(ctx, storage.TableRefreshTokens, tv, &rt); err != nil {
			return err
		}
	}
	return s.gw.Delete(ctx, storage.TableRefreshTokensByUser, userID)
}

// indexForUser appends rt's token value to its user's secondary index.
// Best-effort: an index failure never blocks the issue/rotate path. The
// index is read-modify-write rather than an atomic append because the
// underlying Gateway offers no native set/list append primitive; it is
// only ever consulted for bulk revocation, not the hot token path.
func (s *Store) indexForUser(ctx context.Context, rt storage.RefreshToken) {
	var tokenValues []string
	if err := s.gw.Get(ctx, storage.TableRefreshTokensByUser, rt.UserID, &tokenValues); err != nil && err != storage.ErrNotFound {
		s.logger.Warn("failed to read refresh token user index", "user_id", rt.UserID, "error", err)
		return
	}
	tokenValues = append(tokenValues, rt.TokenValue)
	if err := s.gw.Upsert(ctx, storage.TableRefreshTokensByUser, rt.UserID, tokenValues); err != nil {
		s.logger.Warn("failed to update refresh token user index", "user_id", rt.UserID, "error", err)
	}
}
