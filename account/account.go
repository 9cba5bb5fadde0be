// Package account is the local-principal store (component P):
// accounts, their verifiable contact methods, and the external
// provider identities linked to them. It is the identity side of the
// system — clientregistry is the relying-party side.
package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lumenid/issuer/storage"
)

// ErrInvalidCredentials is returned by Authenticate when the account
// does not exist, is inactive, or the password does not match.
var ErrInvalidCredentials = errors.New("account: invalid credentials")

// Store wraps the accounts, contact_methods, and provider_accounts
// tables.
type Store struct {
	gw  storage.Gateway
	now func() time.Time
}

// New returns an account store backed by gw.
func New(gw storage.Gateway, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{gw: gw, now: now}
}

// Create registers a new local account with the given password. An
// empty password marks the account as federation-only: Authenticate
// will always refuse it.
func (s *Store) Create(ctx context.Context, password string) (storage.Account, error) {
	var hash string
	if password != "" {
		digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return storage.Account{}, fmt.Errorf("account: hash password: %w", err)
		}
		hash = string(digest)
	}
	now := s.now()
	acct := storage.Account{
		ID:           storage.NewID(),
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.gw.Insert(ctx, storage.TableAccounts, acct.ID, acct); err != nil {
		return storage.Account{}, err
	}
	return acct, nil
}

// Get returns the account by id.
func (s *Store) Get(ctx context.Context, id string) (storage.Account, bool, error) {
	var a storage.Account
	err := s.gw.Get(ctx, storage.TableAccounts, id, &a)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.Account{}, false, nil
	}
	if err != nil {
		return storage.Account{}, false, err
	}
	return a, true, nil
}

// Authenticate verifies a password against the account's stored
// bcrypt digest. An inactive account, a federation-only account (no
// password hash), or a wrong password all return ErrInvalidCredentials
// — deliberately indistinguishable, so a caller can't enumerate
// accounts via the error.
func (s *Store) Authenticate(ctx context.Context, id, password string) (storage.Account, error) {
	a, ok, err := s.Get(ctx, id)
	if err != nil {
		return storage.Account{}, err
	}
	if !ok || !a.IsActive || a.PasswordHash == "" {
		return storage.Account{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password)) != nil {
		return storage.Account{}, ErrInvalidCredentials
	}
	return a, nil
}

// SetPassword replaces an account's password digest.
func (s *Store) SetPassword(ctx context.Context, id, password string) error {
	a, ok, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("account: hash password: %w", err)
	}
	a.PasswordHash = string(digest)
	a.UpdatedAt = s.now()
	return s.gw.Upsert(ctx, storage.TableAccounts, id, a)
}

// Deactivate flips is_active to false, so Authenticate refuses the
// account going forward without deleting its history.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	a, ok, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return storage.ErrNotFound
	}
	a.IsActive = false
	a.UpdatedAt = s.now()
	return s.gw.Upsert(ctx, storage.TableAccounts, id, a)
}

// ErrContactMethodTaken is returned by AddContactMethod when (type,
// value) is already claimed by some account.
var ErrContactMethodTaken = errors.New("account: contact method already in use")

// AddContactMethod attaches a verifiable address to an account. (type,
// value) must be globally unique across every account — enforced by a
// compare-and-set insert, not merely by convention — so the same email
// or phone number can never be claimed twice. A primary email also
// populates the by-email lookup FindByEmail uses at login.
func (s *Store) AddContactMethod(ctx context.Context, accountID string, typ storage.ContactType, value string, isPrimary bool) (storage.ContactMethod, error) {
	cm := storage.ContactMethod{
		AccountID: accountID,
		ContactID: storage.NewID(),
		Type:      typ,
		Value:     value,
		IsPrimary: isPrimary,
	}
	uniqueKey := contactUniqueKey(typ, value)
	if err := s.gw.Insert(ctx, storage.TableContactMethodsByTypeValue, uniqueKey, cm.ContactID); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return storage.ContactMethod{}, ErrContactMethodTaken
		}
		return storage.ContactMethod{}, err
	}
	if err := s.gw.Insert(ctx, storage.TableContactMethods, cm.ContactID, cm); err != nil {
		return storage.ContactMethod{}, err
	}
	s.indexContactForAccount(ctx, cm)
	if typ == storage.ContactEmail && isPrimary {
		_ = s.gw.Upsert(ctx, storage.TableAccountsByEmail, value, accountID)
	}
	return cm, nil
}

func contactUniqueKey(typ storage.ContactType, value string) string {
	return string(typ) + ":" + value
}

// FindByEmail resolves a primary email address to its account, via the
// by-email index AddContactMethod maintains. Used by the login form,
// which authenticates by email rather than by account ID.
func (s *Store) FindByEmail(ctx context.Context, email string) (storage.Account, bool, error) {
	var accountID string
	if err := s.gw.Get(ctx, storage.TableAccountsByEmail, email, &accountID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Account{}, false, nil
		}
		return storage.Account{}, false, err
	}
	return s.Get(ctx, accountID)
}

// VerifyContactMethod marks a contact method verified at the current
// time.
func (s *Store) VerifyContactMethod(ctx context.Context, contactID string) error {
	var cm storage.ContactMethod
	if err := s.gw.Get(ctx, storage.TableContactMethods, contactID, &cm); err != nil {
		return err
	}
	now := s.now()
	cm.VerifiedAt = &now
	return s.gw.Upsert(ctx, storage.TableContactMethods, contactID, cm)
}

// ContactMethodsForAccount lists every contact method linked to
// accountID, via the by-account secondary index.
func (s *Store) ContactMethodsForAccount(ctx context.Context, accountID string) ([]storage.ContactMethod, error) {
	var contactIDs []string
	if err := s.gw.Get(ctx, storage.TableContactMethodsByAccount, accountID, &contactIDs); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	methods := make([]storage.ContactMethod, 0, len(contactIDs))
	for _, id := range contactIDs {
		var cm storage.ContactMethod
		if err := s.gw.Get(ctx, storage.TableContactMethods, id, &cm); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, err
		}
		methods = append(methods, cm)
	}
	return methods, nil
}

func (s *Store) indexContactForAccount(ctx context.Context, cm storage.ContactMethod) {
	var contactIDs []string
	if err := s.gw.Get(ctx, storage.TableContactMethodsByAccount, cm.AccountID, &contactIDs); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return
	}
	contactIDs = append(contactIDs, cm.ContactID)
	_ = s.gw.Upsert(ctx, storage.TableContactMethodsByAccount, cm.AccountID, contactIDs)
}

// LinkProvider associates an external identity (provider, providerSub)
// with a local account, e.g. after a successful federated login.
func (s *Store) LinkProvider(ctx context.Context, provider, providerSub, accountID string) error {
	pa := storage.ProviderAccount{
		Provider:    provider,
		ProviderSub: providerSub,
		AccountID:   accountID,
	}
	return s.gw.Upsert(ctx, storage.TableProviderAccounts, providerKey(provider, providerSub), pa)
}

// ProviderAccount resolves a (provider, providerSub) pair to a linked
// local account, if one exists.
func (s *Store) ProviderAccount(ctx context.Context, provider, providerSub string) (storage.ProviderAccount, bool, error) {
	var pa storage.ProviderAccount
	err := s.gw.Get(ctx, storage.TableProviderAccounts, providerKey(provider, providerSub), &pa)
	if errors.Is(err, storage.ErrNotFound) {
		return storage.ProviderAccount{}, false, nil
	}
	if err != nil {
		return storage.ProviderAccount{}, false, err
	}
	return pa, true, nil
}

func providerKey(provider, providerSub string) string {
	return provider + "|" + providerSub
}
