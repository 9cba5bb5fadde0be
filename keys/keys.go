// Package keys is the process-memory JWKS key manager (component B):
// a concurrent-read / serialized-write registry keyed by kid, with an
// explicit Rotate operation and three-state key lifecycle
// (active/retired/expired). It generalizes dexidp/dex's keyRotator
// (which only ever tracks one live RSA signing key plus a list of
// retired verification-only keys) to the multi-algorithm, multi-key
// registry this specification names.
//
// Keys are never mutated in place: Rotate builds a new map and swaps it
// in under the write lock, so a reader never observes a torn key.
package keys

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-jose/go-jose/v4"

	"github.com/lumenid/issuer/jwtutil"
)

// Algorithm is a supported signing algorithm.
type Algorithm = jwtutil.Algorithm

const defaultExpiry = 90 * 24 * time.Hour

// KeyPair is an immutable signing key record. Replace, don't mutate.
type KeyPair struct {
	Kid        string
	Algorithm  Algorithm
	PrivateKey any
	PublicKey  any
	CreatedAt  time.Time
	ExpiresAt  time.Time
	IsActive   bool
}

// Expired reports whether the key is past its expiry, independent of
// whether it has also been explicitly retired.
func (k KeyPair) Expired(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}

// Usable reports whether the key may still be used to sign or verify:
// it must be active (not retired) and must not have expired.
func (k KeyPair) Usable(now time.Time) bool {
	return k.IsActive && !k.Expired(now)
}

// Manager is the in-process JWKS registry. The zero value is not
// usable; construct with New.
type Manager struct {
	mu   sync.RWMutex
	keys map[string]KeyPair
	now  func() time.Time
}

// New returns an empty key manager. now defaults to time.Now if nil.
func New(now func() time.Time) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{keys: make(map[string]KeyPair), now: now}
}

// Initialize returns the most recently created active, unexpired key if
// one exists; otherwise it generates a new RS256 2048-bit key pair with
// the default 90-day expiry and registers it.
func (m *Manager) Initialize() (KeyPair, error) {
	if kp, ok := m.LatestActive(jwtutil.RS256); ok {
		return kp, nil
	}
	return m.Rotate(jwtutil.RS256, false)
}

// Rotate mints a new key pair for alg, registers it as active, and — if
// retireOld is true — flips every other active key of that algorithm to
// retired (IsActive=false). Retired keys remain in the registry map,
// but GetActive, LatestActive and JWKS all skip them, so tokens they
// signed no longer verify through this manager.
func (m *Manager) Rotate(alg Algorithm, retireOld bool) (KeyPair, error) {
	priv, pub, err := generateKeyPair(alg)
	if err != nil {
		return KeyPair{}, fmt.Errorf("keys: generate %s key: %w", alg, err)
	}

	kid, err := randomKid()
	if err != nil {
		return KeyPair{}, err
	}

	now := m.now()
	kp := KeyPair{
		Kid:       kid,
		Algorithm: alg,
		PrivateKey: priv,
		PublicKey:  pub,
		CreatedAt:  now,
		ExpiresAt:  now.Add(defaultExpiry),
		IsActive:   true,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]KeyPair, len(m.keys)+1)
	for k, v := range m.keys {
		if retireOld && v.Algorithm == alg && v.IsActive {
			v.IsActive = false
		}
		next[k] = v
	}
	next[kid] = kp
	m.keys = next

	return kp, nil
}

// GetActive returns the key with the given kid if it is active and
// unexpired.
func (m *Manager) GetActive(kid string) (KeyPair, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kp, ok := m.keys[kid]
	if !ok || !kp.Usable(m.now()) {
		return KeyPair{}, false
	}
	return kp, true
}

// LatestActive returns the most recently created active, unexpired key
// for alg.
func (m *Manager) LatestActive(alg Algorithm) (KeyPair, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestActiveLocked(alg)
}

func (m *Manager) latestActiveLocked(alg Algorithm) (KeyPair, bool) {
	var best KeyPair
	found := false
	now := m.now()
	for _, kp := range m.keys {
		if kp.Algorithm != alg || !kp.Usable(now) {
			continue
		}
		if !found || kp.CreatedAt.After(best.CreatedAt) {
			best = kp
			found = true
		}
	}
	return best, found
}

// JWKS exports every active, unexpired key's public material as an
// RFC 7517 JSON Web Key Set. Private material is never included: only
// the public half of each KeyPair is ever handed to jose.JSONWebKey.
func (m *Manager) JWKS() jose.JSONWebKeySet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	var set jose.JSONWebKeySet
	for _, kp := range m.keys {
		if !kp.Usable(now) {
			continue
		}
		set.Keys = append(set.Keys, jose.JSONWebKey{
			Key:       kp.PublicKey,
			KeyID:     kp.Kid,
			Algorithm: string(kp.Algorithm),
			Use:       "sig",
		})
	}
	return set
}

func generateKeyPair(alg Algorithm) (priv, pub any, err error) {
	switch alg {
	case jwtutil.RS256, jwtutil.RS384, jwtutil.RS512:
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, nil, err
		}
		return key, &key.PublicKey, nil
	case jwtutil.ES256:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return key, &key.PublicKey, nil
	case jwtutil.ES384:
		key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return key, &key.PublicKey, nil
	case jwtutil.ES512:
		key, err := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return key, &key.PublicKey, nil
	case jwtutil.HS256, jwtutil.HS384, jwtutil.HS512:
		secret := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, secret); err != nil {
			return nil, nil, err
		}
		return secret, secret, nil
	default:
		return nil, nil, fmt.Errorf("keys: unsupported algorithm %q", alg)
	}
}

func randomKid() (string, error) {
	b := make([]byte, 20)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("keys: generate kid: %w", err)
	}
	return hex.EncodeToString(b), nil
}
