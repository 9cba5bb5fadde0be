// Package storage defines the typed gateway the rest of the identity
// provider is built on, plus the record types that travel through it.
//
// Implementations are required to support atomic compare-and-set deletes
// (ConsumeOnce) and native or emulated per-item TTL expiry. Two gateways
// are provided: storage/memgw (in-process, for tests and local dev) and
// storage/dynamogw (Amazon DynamoDB, for production).
package storage

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrNotFound is returned by a Gateway when a key is absent.
var ErrNotFound = errors.New("storage: not found")

// ErrAlreadyExists is returned by Insert/TTLInsert when the key is taken.
var ErrAlreadyExists = errors.New("storage: already exists")

// Gateway is the minimal set of primitives every domain-specific store
// (clients, authorization codes, refresh tokens, OAuth state, accounts)
// is built from. Callers never synthesize ConsumeOnce from a plain
// read followed by a delete: that race is exactly what this interface
// exists to close.
type Gateway interface {
	// Get reads the row at (table, key) into dest. Returns ErrNotFound
	// if absent.
	Get(ctx context.Context, table, key string, dest any) error

	// Upsert writes (table, key) unconditionally.
	Upsert(ctx context.Context, table, key string, value any) error

	// Insert writes (table, key) only if absent. Returns ErrAlreadyExists
	// otherwise.
	Insert(ctx context.Context, table, key string, value any) error

	// TTLInsert is Insert with an expiry; the backing store is responsible
	// for reclaiming the row after ttl elapses (natively, or via sweeping).
	TTLInsert(ctx context.Context, table, key string, value any, ttl time.Duration) error

	// ConsumeOnce atomically reads and deletes the row at (table, key).
	// Exactly one concurrent caller observes (true, nil) with dest
	// populated; every other concurrent or subsequent caller observes
	// (false, nil). A genuinely absent key is also (false, nil) — callers
	// that need to distinguish "never existed" from "already consumed"
	// don't get to: the spec this gateway implements treats them the same.
	ConsumeOnce(ctx context.Context, table, key string, dest any) (bool, error)

	// Delete removes (table, key) unconditionally. Deleting an absent key
	// is not an error.
	Delete(ctx context.Context, table, key string) error

	// Incr adds by to the counter at (table, key, window) and returns the
	// new total. Used for fixed-window rate-limit buckets.
	Incr(ctx context.Context, table, key, window string, by int64) (int64, error)

	Close() error
}

// Kubernetes-safe base32 alphabet, matching the convention this system's
// reference implementation uses for object IDs.
var idEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567")

// NewID returns a random opaque string suitable for use as a primary key.
func NewID() string {
	return newSecureID(16)
}

// NewSecret returns 32 random bytes, lowercase-base32-encoded without
// padding, suitable for an opaque value with no encoding mandated by the
// specification (e.g. OAuth/federation CSRF state).
func NewSecret() string {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(err)
	}
	return strings.TrimRight(idEncoding.EncodeToString(buf), "=")
}

// NewHexSecret returns 32 random bytes, hex-encoded, the encoding the
// specification names for authorization codes.
func NewHexSecret() string {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// NewBase64URLSecret returns 32 random bytes, base64url-encoded without
// padding, the encoding the specification names for refresh token
// values.
func NewBase64URLSecret() string {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func newSecureID(n int) string {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		panic(err)
	}
	// Avoid a leading digit so the ID is a valid identifier in stores that
	// care (matches the reference implementation's NewID).
	return string(buf[0]%26+'a') + strings.TrimRight(idEncoding.EncodeToString(buf[1:]), "=")
}
