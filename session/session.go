// Package session mints and verifies the browser-facing sign-in
// session cookie (component G): a compact JWS, signed with the same
// key manager that signs ID tokens, carrying just enough claims to
// answer "who is signed in, and since when" across the /authorize
// redirect dance without any server-side session table.
package session

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/lumenid/issuer/jwtutil"
	"github.com/lumenid/issuer/keys"
)

// DefaultTTL bounds how long a browser session cookie is honored,
// independent of the cookie's own expiry: the specification fixes
// exp = iat + 900s.
const DefaultTTL = 900 * time.Second

// sessionPurpose is the fixed "purpose" claim every session token
// carries, so a JWT minted by the same key manager for any other role
// (an access token, an ID token) is never mistaken for a session.
const sessionPurpose = "session"

// ErrNoActiveKey is returned by Issue when the key manager has no
// usable signing key for the requested algorithm.
var ErrNoActiveKey = errors.New("session: no active signing key")

// ErrNotASession is returned by Verify when a token parses and
// verifies but isn't a session token: either its purpose claim isn't
// "session", or its subject is empty.
var ErrNotASession = errors.New("session: token is not a session token")

// Claims is the full payload of a session token.
type Claims struct {
	Subject  string `json:"sub"`
	Purpose  string `json:"purpose"`
	AuthTime int64  `json:"auth_time"`
	Expiry   int64  `json:"exp"`
	IssuedAt int64  `json:"iat"`
}

// Manager issues and verifies session tokens against a shared key
// manager.
type Manager struct {
	keys *keys.Manager
	ttl  time.Duration
	now  func() time.Time
}

// New returns a session manager. ttl of zero uses DefaultTTL.
func New(km *keys.Manager, ttl time.Duration, now func() time.Time) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{keys: km, ttl: ttl, now: now}
}

// Issue signs a fresh session token for subject, recording authTime as
// the moment the user actually authenticated (which Issue does not
// itself decide — it is supplied by the caller, e.g. the login
// handler, and carried forward so later ID tokens can report an
// accurate auth_time even across refreshes of the cookie itself).
func (m *Manager) Issue(subject string, authTime time.Time) (string, error) {
	kp, ok := m.keys.LatestActive(jwtutil.RS256)
	if !ok {
		return "", ErrNoActiveKey
	}
	now := m.now()
	claims := Claims{
		Subject:  subject,
		Purpose:  sessionPurpose,
		AuthTime: authTime.Unix(),
		Expiry:   now.Add(m.ttl).Unix(),
		IssuedAt: now.Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return jwtutil.Sign(payload, kp.PrivateKey, kp.Algorithm, kp.Kid)
}

// Verify checks a session token's signature against the current key
// set and its exp, returning the decoded claims.
func (m *Manager) Verify(token string) (Claims, error) {
	header, _, _, err := jwtutil.Parse(token)
	if err != nil {
		return Claims{}, err
	}
	kp, ok := m.keys.GetActive(header.KeyID)
	if !ok {
		return Claims{}, ErrNoActiveKey
	}
	_, payload, err := jwtutil.Verify(token, kp.PublicKey, jwtutil.VerifyOptions{
		ExpectedAlg: kp.Algorithm,
		Now:         m.now,
	})
	if err != nil {
		return Claims{}, err
	}
	var claims Claims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Claims{}, err
	}
	if claims.Purpose != sessionPurpose || claims.Subject == "" {
		return Claims{}, ErrNotASession
	}
	return claims, nil
}
