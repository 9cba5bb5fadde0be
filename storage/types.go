package storage

import "time"

// Table names used by every Gateway implementation. Domain packages
// reference these constants rather than hard-coding strings so a single
// place documents the persisted layout described by the specification.
const (
	TableClients                = "clients"
	TableAccounts                = "accounts"
	TableContactMethods          = "contact_methods"
	TableContactMethodsByAccount = "contact_methods_by_account"
	TableContactMethodsByTypeValue = "contact_methods_by_type_value"
	TableAccountsByEmail         = "accounts_by_email"
	TableProviderAccounts        = "provider_accounts"
	TableAuthorizationCodes      = "authorization_codes"
	TableRefreshTokens           = "refresh_tokens"
	TableRefreshTokensByUser     = "refresh_tokens_by_user"
	TableOAuthState              = "oauth_state"
	TableRateLimitCounters       = "rate_limit_counters"
)

// GrantType enumerates the OAuth2 grants an OAuthClient may use.
type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantRefreshToken      GrantType = "refresh_token"
	GrantClientCredentials GrantType = "client_credentials"
	GrantPassword          GrantType = "password"
	GrantImplicit          GrantType = "implicit"
)

// ResponseType enumerates the OAuth2 response_type values a client may
// request.
type ResponseType string

const (
	ResponseTypeCode    ResponseType = "code"
	ResponseTypeToken   ResponseType = "token"
	ResponseTypeIDToken ResponseType = "id_token"
)

// Scope enumerates the OIDC scopes this provider understands.
type Scope string

const (
	ScopeOpenID        Scope = "openid"
	ScopeProfile       Scope = "profile"
	ScopeEmail         Scope = "email"
	ScopeOfflineAccess Scope = "offline_access"
)

// AuthMethod is the client authentication method used at the token
// endpoint.
type AuthMethod string

const (
	AuthMethodBasic AuthMethod = "client_secret_basic"
	AuthMethodPost  AuthMethod = "client_secret_post"
	AuthMethodNone  AuthMethod = "none"
)

// Client is an OAuth2/OIDC client registration.
type Client struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	RedirectURIs         []string     `json:"redirect_uris"`
	GrantTypes           []GrantType  `json:"grant_types"`
	ResponseTypes        []ResponseType `json:"response_types"`
	Scopes               []Scope      `json:"scopes"`
	TokenEndpointAuthMethod AuthMethod `json:"token_endpoint_auth_method"`
	SecretHash           string       `json:"secret_hash,omitempty"`
	IsActive             bool         `json:"is_active"`
	CreatedAt            time.Time    `json:"created_at"`
	UpdatedAt            time.Time    `json:"updated_at"`
}

// Public returns true if the client was registered with
// token_endpoint_auth_method=none.
func (c Client) Public() bool {
	return c.TokenEndpointAuthMethod == AuthMethodNone
}

// SupportsGrant reports whether g is in the client's grant_types.
func (c Client) SupportsGrant(g GrantType) bool {
	for _, have := range c.GrantTypes {
		if have == g {
			return true
		}
	}
	return false
}

// SupportsResponseType reports whether rt is in the client's response_types.
func (c Client) SupportsResponseType(rt ResponseType) bool {
	for _, have := range c.ResponseTypes {
		if have == rt {
			return true
		}
	}
	return false
}

// AllowsScope reports whether scope is in the client's registered scopes.
func (c Client) AllowsScope(scope string) bool {
	for _, have := range c.Scopes {
		if string(have) == scope {
			return true
		}
	}
	return false
}

// HasRedirectURI reports exact-string membership. Never normalize this
// comparison (see SPEC_FULL.md §9).
func (c Client) HasRedirectURI(uri string) bool {
	for _, have := range c.RedirectURIs {
		if have == uri {
			return true
		}
	}
	return false
}

// Account is a local principal. id == the OIDC `sub` claim.
type Account struct {
	ID           string    `json:"id"`
	PasswordHash string    `json:"password_hash,omitempty"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ContactType enumerates the kinds of ContactMethod.
type ContactType string

const (
	ContactEmail ContactType = "email"
	ContactPhone ContactType = "phone"
)

// ContactMethod links a verifiable address to an Account.
type ContactMethod struct {
	AccountID  string      `json:"account_id"`
	ContactID  string      `json:"contact_id"`
	Type       ContactType `json:"type"`
	Value      string      `json:"value"`
	IsPrimary  bool        `json:"is_primary"`
	VerifiedAt *time.Time  `json:"verified_at,omitempty"`
}

// ProviderAccount links an external identity provider's subject to a
// local Account.
type ProviderAccount struct {
	Provider     string `json:"provider"`
	ProviderSub  string `json:"provider_sub"`
	AccountID    string `json:"account_id"`
	ContactID    string `json:"contact_id,omitempty"`
}

// PKCEMethod enumerates the RFC 7636 code_challenge_method values.
type PKCEMethod string

const (
	PKCEMethodS256  PKCEMethod = "S256"
	PKCEMethodPlain PKCEMethod = "plain"
)

// AuthorizationCode is a one-time ticket minted at /authorize and
// redeemed once at /token.
type AuthorizationCode struct {
	Code                string     `json:"code"`
	ClientID            string     `json:"client_id"`
	RedirectURI         string     `json:"redirect_uri"`
	Scopes              []string   `json:"scopes"`
	UserID              string     `json:"user_id"`
	CodeChallenge       string     `json:"code_challenge,omitempty"`
	CodeChallengeMethod PKCEMethod `json:"code_challenge_method,omitempty"`
	Nonce               string     `json:"nonce,omitempty"`
	ExpiresAt           time.Time  `json:"expires_at"`
	AuthTime            time.Time  `json:"auth_time"`
}

// RefreshToken is a long-lived, consume-once-and-rotate credential.
type RefreshToken struct {
	TokenValue string    `json:"token_value"`
	ClientID   string    `json:"client_id"`
	UserID     string    `json:"user_id"`
	Scopes     []string  `json:"scopes"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
	AuthTime   time.Time `json:"auth_time,omitempty"`
}

// OAuthState is the CSRF state + PKCE verifier persisted across a
// federated-login round trip.
type OAuthState struct {
	State        string    `json:"state"`
	ReturnTo     string    `json:"return_to"`
	CodeVerifier string    `json:"code_verifier,omitempty"`
	Provider     string    `json:"provider"`
	ExpiresAt    time.Time `json:"expires_at"`
}
