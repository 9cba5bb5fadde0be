// Package jwtutil is the bit-exact JWT codec this identity provider
// signs and verifies every token through: base64url, compact JWS
// serialization, and the verification state machine (signature, alg,
// exp/nbf). It is a thin, explicit wrapper around
// github.com/go-jose/go-jose/v4 — the same library dexidp/dex's server
// package uses for its signing path — so the rest of the system never
// imports go-jose directly and the "bit-exact per RFC" surface lives in
// one file.
package jwtutil

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// Algorithm is a supported JWS signature algorithm. RS256 and ES256 are
// required by the specification; the rest are accepted for
// compatibility with federated token exchanges and introspection.
type Algorithm = jose.SignatureAlgorithm

const (
	RS256 Algorithm = jose.RS256
	RS384 Algorithm = jose.RS384
	RS512 Algorithm = jose.RS512
	ES256 Algorithm = jose.ES256
	ES384 Algorithm = jose.ES384
	ES512 Algorithm = jose.ES512
	HS256 Algorithm = jose.HS256
	HS384 Algorithm = jose.HS384
	HS512 Algorithm = jose.HS512
)

// AcceptedAlgorithms is the full set of algorithms this codec will parse
// a signature for. Individual verify calls may narrow this further via
// an expected algorithm.
var AcceptedAlgorithms = []Algorithm{RS256, RS384, RS512, ES256, ES384, ES512, HS256, HS384, HS512}

// Sentinel errors surfaced to callers. Wrapped with fmt.Errorf("%w: ...")
// so context can be attached without losing errors.Is compatibility.
var (
	ErrMalformedToken   = errors.New("jwtutil: malformed token")
	ErrAlgMismatch      = errors.New("jwtutil: alg mismatch")
	ErrUnsupportedAlg   = errors.New("jwtutil: unsupported alg")
	ErrSignatureInvalid = errors.New("jwtutil: signature invalid")
	ErrExpired          = errors.New("jwtutil: token expired")
	ErrNotYetValid      = errors.New("jwtutil: token not yet valid")
)

// EncodeSegment base64url-encodes b without padding. '+' and '/' never
// appear in the output.
func EncodeSegment(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeSegment reverses EncodeSegment.
func DecodeSegment(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(s)
}

// Header is the subset of JWS header fields this system sets when
// signing and reads when verifying.
type Header struct {
	Algorithm string `json:"alg"`
	Type      string `json:"typ,omitempty"`
	KeyID     string `json:"kid,omitempty"`
}

// Sign produces a compact JWS: base64url(header).base64url(payload).base64url(signature).
// key must be a type go-jose accepts for alg (an *rsa.PrivateKey for
// RS*, an *ecdsa.PrivateKey for ES*, or a []byte secret for HS*).
func Sign(payload []byte, key any, alg Algorithm, kid string) (string, error) {
	signingKey := jose.SigningKey{Key: key, Algorithm: alg}
	opts := &jose.SignerOptions{}
	opts.WithType("JWT")
	if kid != "" {
		opts = opts.WithHeader("kid", kid)
	}
	signer, err := jose.NewSigner(signingKey, opts)
	if err != nil {
		return "", fmt.Errorf("jwtutil: new signer: %w", err)
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("jwtutil: sign: %w", err)
	}
	return sig.CompactSerialize()
}

// Parse splits a compact JWS into its three raw parts and decodes the
// header. It performs no cryptographic verification.
func Parse(token string) (header Header, payload, signature []byte, err error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return Header{}, nil, nil, fmt.Errorf("%w: expected 3 parts, got %d", ErrMalformedToken, len(parts))
	}
	rawHeader, err := DecodeSegment(parts[0])
	if err != nil {
		return Header{}, nil, nil, fmt.Errorf("%w: header not valid base64url", ErrMalformedToken)
	}
	if err := json.Unmarshal(rawHeader, &header); err != nil {
		return Header{}, nil, nil, fmt.Errorf("%w: header not valid JSON", ErrMalformedToken)
	}
	payload, err = DecodeSegment(parts[1])
	if err != nil {
		return Header{}, nil, nil, fmt.Errorf("%w: payload not valid base64url", ErrMalformedToken)
	}
	signature, err = DecodeSegment(parts[2])
	if err != nil {
		return Header{}, nil, nil, fmt.Errorf("%w: signature not valid base64url", ErrMalformedToken)
	}
	return header, payload, signature, nil
}

// timeClaims is the subset of registered claims Verify inspects. Callers
// decode the full payload themselves afterward.
type timeClaims struct {
	Expiry    *int64 `json:"exp,omitempty"`
	NotBefore *int64 `json:"nbf,omitempty"`
}

// VerifyOptions configures Verify.
type VerifyOptions struct {
	// ExpectedAlg, if non-empty, must match the token's header alg
	// exactly or verification fails with ErrAlgMismatch.
	ExpectedAlg Algorithm
	// Now overrides the clock used for exp/nbf checks (tests only); the
	// zero value means time.Now.
	Now func() time.Time
}

// Verify parses token, checks its algorithm against opts and
// AcceptedAlgorithms, verifies its signature against key, and enforces
// exp/nbf. It returns the decoded header and raw payload on success.
// Verify never inspects iss/aud/sub — callers check those claims
// themselves once they have the payload.
func Verify(token string, key any, opts VerifyOptions) (Header, []byte, error) {
	header, payload, _, err := Parse(token)
	if err != nil {
		return Header{}, nil, err
	}

	alg := Algorithm(header.Algorithm)
	if opts.ExpectedAlg != "" && alg != opts.ExpectedAlg {
		return Header{}, nil, fmt.Errorf("%w: header alg %q, expected %q", ErrAlgMismatch, alg, opts.ExpectedAlg)
	}
	if !supported(alg) {
		return Header{}, nil, fmt.Errorf("%w: %q", ErrUnsupportedAlg, alg)
	}

	jws, err := jose.ParseSigned(token, AcceptedAlgorithms)
	if err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	verified, err := jws.Verify(key)
	if err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	var claims timeClaims
	if err := json.Unmarshal(verified, &claims); err != nil {
		return Header{}, nil, fmt.Errorf("%w: payload not valid JSON", ErrMalformedToken)
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	nowUnix := now().Unix()

	// The signature is already confirmed valid at this point, so an
	// exp/nbf failure still returns the verified payload alongside its
	// error: callers that need to report *why* a token is inactive (e.g.
	// RFC 7662 introspection reporting exp on an otherwise-valid but
	// expired token) can use it, while callers that only check err==nil
	// are unaffected.
	if claims.Expiry != nil && nowUnix >= *claims.Expiry {
		return header, payload, ErrExpired
	}
	if claims.NotBefore != nil && nowUnix < *claims.NotBefore {
		return header, payload, ErrNotYetValid
	}

	return header, payload, nil
}

func supported(alg Algorithm) bool {
	for _, a := range AcceptedAlgorithms {
		if a == alg {
			return true
		}
	}
	return false
}
