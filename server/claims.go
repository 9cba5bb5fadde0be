package server

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lumenid/issuer/jwtutil"
	"github.com/lumenid/issuer/keys"
	"github.com/lumenid/issuer/storage"
)

// errNoSigningKey is returned when the key manager has no active
// RS256 key to sign with — a misconfiguration, never a client error.
var errNoSigningKey = errors.New("server: no active signing key")

// accessTokenClaims is the full claim set minted into every access
// token this provider issues.
type accessTokenClaims struct {
	Issuer    string `json:"iss"`
	Subject   string `json:"sub"`
	Audience  string `json:"aud"`
	IssuedAt  int64  `json:"iat"`
	Expiry    int64  `json:"exp"`
	Scope     string `json:"scope"`
	ClientID  string `json:"client_id"`
	JTI       string `json:"jti"`
}

// idTokenClaims is the full claim set minted into every ID token this
// provider issues. Profile/email fields are omitted (zero value plus
// `omitempty`) unless their scope was granted.
type idTokenClaims struct {
	Issuer    string `json:"iss"`
	Subject   string `json:"sub"`
	Audience  string `json:"aud"`
	IssuedAt  int64  `json:"iat"`
	Expiry    int64  `json:"exp"`
	AuthTime  int64  `json:"auth_time"`
	Nonce     string `json:"nonce,omitempty"`

	Email         string `json:"email,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`

	Name       string `json:"name,omitempty"`
	GivenName  string `json:"given_name,omitempty"`
	FamilyName string `json:"family_name,omitempty"`
	Picture    string `json:"picture,omitempty"`
}

// profile is the subset of an Account/ContactMethod this provider
// knows how to project into scope-gated claims. Only the email fields
// are ever filled (by profileFor); no account, local or federated, has
// name or picture data stored, so those fields stay empty.
type profile struct {
	Email         string
	EmailVerified bool
	Name          string
	GivenName     string
	FamilyName    string
	Picture       string
}

func (s *Server) mintAccessToken(clientID, subject string, scopes []string, now time.Time) (string, int64, error) {
	kp, ok := s.keys.LatestActive(jwtutil.RS256)
	if !ok {
		return "", 0, errNoSigningKey
	}
	expiry := now.Add(s.accessTokenTTL)
	claims := accessTokenClaims{
		Issuer:   s.issuer,
		Subject:  subject,
		Audience: clientID,
		IssuedAt: now.Unix(),
		Expiry:   expiry.Unix(),
		Scope:    strings.Join(scopes, " "),
		ClientID: clientID,
		JTI:      uuid.NewString(),
	}
	token, err := signClaims(kp, claims)
	if err != nil {
		return "", 0, err
	}
	return token, int64(s.accessTokenTTL.Seconds()), nil
}

func (s *Server) mintIDToken(clientID, subject string, scopes []string, authTime time.Time, nonce string, p profile, now time.Time) (string, error) {
	kp, ok := s.keys.LatestActive(jwtutil.RS256)
	if !ok {
		return "", errNoSigningKey
	}
	claims := idTokenClaims{
		Issuer:   s.issuer,
		Subject:  subject,
		Audience: clientID,
		IssuedAt: now.Unix(),
		Expiry:   now.Add(s.accessTokenTTL).Unix(),
		AuthTime: authTime.Unix(),
		Nonce:    nonce,
	}
	if hasScope(scopes, "email") {
		claims.Email = p.Email
		verified := p.EmailVerified
		claims.EmailVerified = &verified
	}
	if hasScope(scopes, "profile") {
		claims.Name = p.Name
		claims.GivenName = p.GivenName
		claims.FamilyName = p.FamilyName
		claims.Picture = p.Picture
	}
	token, err := signClaims(kp, claims)
	return token, err
}

func signClaims(kp keys.KeyPair, claims any) (string, error) {
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	return jwtutil.Sign(payload, kp.PrivateKey, kp.Algorithm, kp.Kid)
}

func hasScope(scopes []string, want string) bool {
	for _, sc := range scopes {
		if sc == string(storage.Scope(want)) {
			return true
		}
	}
	return false
}

func splitScope(scope string) []string {
	return strings.Fields(scope)
}
