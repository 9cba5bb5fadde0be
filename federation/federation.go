// Package federation drives the "sign in with Google / Microsoft /
// Facebook / X" flows (the federated half of component L), exchanging
// an authorization code at each provider's token endpoint via
// golang.org/x/oauth2 and normalizing the resulting profile into a
// single shape the rest of the provider treats uniformly regardless of
// where the user actually signed in.
package federation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/microsoft"
)

// Profile is the normalized identity federation.Exchange returns,
// regardless of which upstream provider issued it.
type Profile struct {
	Provider      string
	Sub           string
	Email         string
	EmailVerified bool
	Name          string
}

// Provider names this package recognizes.
const (
	Google    = "google"
	Microsoft = "microsoft"
	Facebook  = "facebook"
	X         = "x"
)

// ProviderConfig is the registration detail for a single upstream
// identity provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Registry holds one oauth2.Config per configured provider and knows
// how to fetch + normalize that provider's userinfo response.
type Registry struct {
	httpClient *http.Client
	configs    map[string]oauth2.Config
}

// NewRegistry builds a Registry from the providers present in cfgs
// (keyed by the provider constants above). A provider absent from
// cfgs is simply unsupported: AuthCodeURL/Exchange return an error
// naming it.
func NewRegistry(httpClient *http.Client, cfgs map[string]ProviderConfig) *Registry {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	r := &Registry{httpClient: httpClient, configs: make(map[string]oauth2.Config, len(cfgs))}
	for name, c := range cfgs {
		r.configs[name] = oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURL,
			Scopes:       defaultScopes(name),
			Endpoint:     endpointFor(name),
		}
	}
	return r
}

func defaultScopes(provider string) []string {
	switch provider {
	case Google:
		return []string{"openid", "profile", "email"}
	case Microsoft:
		return []string{"openid", "profile", "email"}
	case Facebook:
		return []string{"email", "public_profile"}
	case X:
		return []string{"users.read", "tweet.read"}
	default:
		return nil
	}
}

func endpointFor(provider string) oauth2.Endpoint {
	switch provider {
	case Google:
		return oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		}
	case Microsoft:
		return microsoft.AzureADEndpoint("common")
	case Facebook:
		return facebook.Endpoint
	case X:
		return oauth2.Endpoint{
			AuthURL:  "https://twitter.com/i/oauth2/authorize",
			TokenURL: "https://api.twitter.com/2/oauth2/token",
		}
	default:
		return oauth2.Endpoint{}
	}
}

// AuthCodeURL builds the redirect URL that starts provider's login
// flow, binding state for later CSRF verification.
func (r *Registry) AuthCodeURL(provider, state string, opts ...oauth2.AuthCodeOption) (string, error) {
	cfg, ok := r.configs[provider]
	if !ok {
		return "", fmt.Errorf("federation: unsupported provider %q", provider)
	}
	return cfg.AuthCodeURL(state, opts...), nil
}

// Exchange redeems code at provider's token endpoint, fetches the
// resulting user's profile, and normalizes it.
func (r *Registry) Exchange(ctx context.Context, provider, code string, opts ...oauth2.AuthCodeOption) (Profile, error) {
	cfg, ok := r.configs[provider]
	if !ok {
		return Profile{}, fmt.Errorf("federation: unsupported provider %q", provider)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	tok, err := cfg.Exchange(ctx, code, opts...)
	if err != nil {
		return Profile{}, fmt.Errorf("federation: %s token exchange: %w", provider, err)
	}
	client := cfg.Client(ctx, tok)
	return fetchProfile(client, provider)
}

func fetchProfile(client *http.Client, provider string) (Profile, error) {
	switch provider {
	case Google:
		return fetchJSON(client, provider, "https://openidconnect.googleapis.com/v1/userinfo", func(b []byte) (Profile, error) {
			var raw struct {
				Sub           string `json:"sub"`
				Email         string `json:"email"`
				EmailVerified bool   `json:"email_verified"`
				Name          string `json:"name"`
			}
			if err := json.Unmarshal(b, &raw); err != nil {
				return Profile{}, err
			}
			return Profile{Provider: provider, Sub: raw.Sub, Email: raw.Email, EmailVerified: raw.EmailVerified, Name: raw.Name}, nil
		})
	case Microsoft:
		return fetchJSON(client, provider, "https://graph.microsoft.com/v1.0/me", func(b []byte) (Profile, error) {
			var raw struct {
				ID                string `json:"id"`
				Mail              string `json:"mail"`
				UserPrincipalName string `json:"userPrincipalName"`
				DisplayName       string `json:"displayName"`
			}
			if err := json.Unmarshal(b, &raw); err != nil {
				return Profile{}, err
			}
			email := raw.Mail
			if email == "" {
				email = raw.UserPrincipalName
			}
			// Microsoft Graph's /me has no separate verification flag; a
			// work/school or consumer account's primary mail is treated
			// as verified because Microsoft itself gated sign-in on it.
			return Profile{Provider: provider, Sub: raw.ID, Email: email, EmailVerified: email != "", Name: raw.DisplayName}, nil
		})
	case Facebook:
		return fetchJSON(client, provider, "https://graph.facebook.com/me?fields=id,name,email", func(b []byte) (Profile, error) {
			var raw struct {
				ID    string `json:"id"`
				Email string `json:"email"`
				Name  string `json:"name"`
			}
			if err := json.Unmarshal(b, &raw); err != nil {
				return Profile{}, err
			}
			return Profile{Provider: provider, Sub: raw.ID, Email: raw.Email, EmailVerified: raw.Email != "", Name: raw.Name}, nil
		})
	case X:
		return fetchJSON(client, provider, "https://api.twitter.com/2/users/me", func(b []byte) (Profile, error) {
			var raw struct {
				Data struct {
					ID       string `json:"id"`
					Username string `json:"username"`
					Name     string `json:"name"`
				} `json:"data"`
			}
			if err := json.Unmarshal(b, &raw); err != nil {
				return Profile{}, err
			}
			// X's userinfo endpoint carries no email at all; callers must
			// collect one separately if the local account requires it.
			return Profile{Provider: provider, Sub: raw.Data.ID, Name: raw.Data.Name}, nil
		})
	default:
		return Profile{}, fmt.Errorf("federation: unsupported provider %q", provider)
	}
}

func fetchJSON(client *http.Client, provider, url string, decode func([]byte) (Profile, error)) (Profile, error) {
	resp, err := client.Get(url)
	if err != nil {
		return Profile{}, fmt.Errorf("federation: %s userinfo request: %w", provider, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Profile{}, fmt.Errorf("federation: %s userinfo read: %w", provider, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("federation: %s userinfo returned %d: %s", provider, resp.StatusCode, body)
	}
	return decode(body)
}
