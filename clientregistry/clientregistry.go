// Package clientregistry is the OAuth client store (component D):
// registration, secret hashing, and auth-method enforcement, built on
// storage.Gateway's "clients" table.
package clientregistry

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lumenid/issuer/storage"
)

// ErrInvalidInput is returned by Register when the requested client
// metadata fails validation.
var ErrInvalidInput = errors.New("clientregistry: invalid input")

var allowedGrantTypes = map[storage.GrantType]bool{
	storage.GrantAuthorizationCode: true,
	storage.GrantRefreshToken:      true,
	storage.GrantClientCredentials: true,
	storage.GrantPassword:          true,
	storage.GrantImplicit:          true,
}

var allowedResponseTypes = map[storage.ResponseType]bool{
	storage.ResponseTypeCode:    true,
	storage.ResponseTypeToken:   true,
	storage.ResponseTypeIDToken: true,
}

var allowedScopes = map[storage.Scope]bool{
	storage.ScopeOpenID:        true,
	storage.ScopeProfile:       true,
	storage.ScopeEmail:         true,
	storage.ScopeOfflineAccess: true,
}

var allowedAuthMethods = map[storage.AuthMethod]bool{
	storage.AuthMethodBasic: true,
	storage.AuthMethodPost:  true,
	storage.AuthMethodNone:  true,
}

// RegisterInput is the client metadata a caller supplies to Register.
type RegisterInput struct {
	Name                    string
	RedirectURIs            []string
	GrantTypes              []storage.GrantType
	ResponseTypes           []storage.ResponseType
	Scopes                  []storage.Scope
	TokenEndpointAuthMethod storage.AuthMethod
}

// ClientWithSecret is returned once, at registration time. The plaintext
// secret is never persisted and never retrievable again.
type ClientWithSecret struct {
	Client storage.Client
	Secret string // empty when TokenEndpointAuthMethod == none
}

// Store wraps storage.Gateway's "clients" table with the typed
// operations this specification names.
type Store struct {
	gw  storage.Gateway
	now func() time.Time
}

// New returns a client registry backed by gw.
func New(gw storage.Gateway, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{gw: gw, now: now}
}

// Register validates input, generates a secret unless the client is
// public, and persists the client record with only the secret's bcrypt
// digest.
func (s *Store) Register(ctx context.Context, in RegisterInput) (ClientWithSecret, error) {
	if err := validate(in); err != nil {
		return ClientWithSecret{}, err
	}

	authMethod := in.TokenEndpointAuthMethod
	if authMethod == "" {
		authMethod = storage.AuthMethodBasic
	}

	var secret, hash string
	if authMethod != storage.AuthMethodNone {
		var err error
		secret, err = randomSecret()
		if err != nil {
			return ClientWithSecret{}, fmt.Errorf("clientregistry: generate secret: %w", err)
		}
		digest, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return ClientWithSecret{}, fmt.Errorf("clientregistry: hash secret: %w", err)
		}
		hash = string(digest)
	}

	now := s.now()
	client := storage.Client{
		ID:                      storage.NewID(),
		Name:                    in.Name,
		RedirectURIs:            in.RedirectURIs,
		GrantTypes:              in.GrantTypes,
		ResponseTypes:           in.ResponseTypes,
		Scopes:                  in.Scopes,
		TokenEndpointAuthMethod: authMethod,
		SecretHash:              hash,
		IsActive:                true,
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	if err := s.gw.Insert(ctx, storage.TableClients, client.ID, client); err != nil {
		return ClientWithSecret{}, fmt.Errorf("clientregistry: persist client: %w", err)
	}

	return ClientWithSecret{Client: client, Secret: secret}, nil
}

// Get returns the client iff it exists and is active.
func (s *Store) Get(ctx context.Context, id string) (storage.Client, bool, error) {
	var c storage.Client
	err := s.gw.Get(ctx, storage.TableClients, id, &c)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Client{}, false, nil
	}
	if err != nil {
		return storage.Client{}, false, err
	}
	if !c.IsActive {
		return storage.Client{}, false, nil
	}
	return c, true, nil
}

// GetAny returns the client regardless of active state, for admin
// surfaces that need to see deactivated clients.
func (s *Store) GetAny(ctx context.Context, id string) (storage.Client, bool, error) {
	var c storage.Client
	err := s.gw.Get(ctx, storage.TableClients, id, &c)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Client{}, false, nil
	}
	if err != nil {
		return storage.Client{}, false, err
	}
	return c, true, nil
}

// Authenticate returns the client iff it is active, uses a non-"none"
// auth method, and secret matches its stored digest via bcrypt's
// constant-time comparison.
func (s *Store) Authenticate(ctx context.Context, id, secret string) (storage.Client, bool, error) {
	c, ok, err := s.Get(ctx, id)
	if err != nil || !ok {
		return storage.Client{}, false, err
	}
	if c.TokenEndpointAuthMethod == storage.AuthMethodNone || c.SecretHash == "" {
		return storage.Client{}, false, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(c.SecretHash), []byte(secret)) != nil {
		return storage.Client{}, false, nil
	}
	return c, true, nil
}

// Update passes the existing client record to patch and stores the
// record patch returns; fields patch does not change keep their values.
func (s *Store) Update(ctx context.Context, id string, patch func(storage.Client) storage.Client) error {
	c, ok, err := s.GetAny(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	updated := patch(c)
	updated.UpdatedAt = s.now()
	return s.gw.Upsert(ctx, storage.TableClients, id, updated)
}

// Deactivate flips is_active to false. Deactivation is soft: the record
// remains for audit purposes but Get/Authenticate both reject it.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	return s.Update(ctx, id, func(c storage.Client) storage.Client {
		c.IsActive = false
		return c
	})
}

func validate(in RegisterInput) error {
	if in.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if len(in.RedirectURIs) == 0 {
		return fmt.Errorf("%w: at least one redirect_uri is required", ErrInvalidInput)
	}
	for _, raw := range in.RedirectURIs {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: redirect_uri %q must be an absolute http(s) URL", ErrInvalidInput, raw)
		}
	}
	for _, g := range in.GrantTypes {
		if !allowedGrantTypes[g] {
			return fmt.Errorf("%w: grant type %q not allowed", ErrInvalidInput, g)
		}
	}
	for _, rt := range in.ResponseTypes {
		if !allowedResponseTypes[rt] {
			return fmt.Errorf("%w: response type %q not allowed", ErrInvalidInput, rt)
		}
	}
	for _, sc := range in.Scopes {
		if !allowedScopes[sc] {
			return fmt.Errorf("%w: scope %q not allowed", ErrInvalidInput, sc)
		}
	}
	if in.TokenEndpointAuthMethod != "" && !allowedAuthMethods[in.TokenEndpointAuthMethod] {
		return fmt.Errorf("%w: auth method %q not allowed", ErrInvalidInput, in.TokenEndpointAuthMethod)
	}
	return nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
