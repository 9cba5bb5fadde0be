package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"

	"github.com/lumenid/issuer/federation"
	"github.com/lumenid/issuer/idpstate"
	"github.com/lumenid/issuer/storage"
)

// sessionCookieName is the name of the session cookie every successful
// sign-in (local or federated) sets and /authorize checks for.
const sessionCookieName = "oidc_session"

// handleLogin serves the sign-in form and processes local password
// sign-in, establishing a session cookie on success.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.renderLogin(w, r.URL.Query().Get("return_to"), "")
	case http.MethodPost:
		s.handleLoginSubmit(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.renderError(w, http.StatusBadRequest, "malformed form body")
		return
	}
	email := strings.TrimSpace(r.PostForm.Get("email"))
	password := r.PostForm.Get("password")
	returnTo := r.PostForm.Get("return_to")

	acct, ok, err := s.accounts.FindByEmail(r.Context(), email)
	if err != nil {
		s.logger.Error("login: failed to resolve account by email", "err", err)
		s.renderError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	if !ok {
		s.renderLogin(w, returnTo, "invalid email or password")
		return
	}
	if _, err := s.accounts.Authenticate(r.Context(), acct.ID, password); err != nil {
		s.renderLogin(w, returnTo, "invalid email or password")
		return
	}

	s.establishSession(w, r, acct.ID)
	s.redirectToReturnTo(w, r, returnTo)
}

// establishSession mints a session token for subject and sets it as the
// oidc_session cookie, per the data model: HttpOnly, SameSite=Lax,
// Max-Age=900, Secure when the request arrived over TLS.
func (s *Server) establishSession(w http.ResponseWriter, r *http.Request, subject string) {
	now := s.now()
	token, err := s.sessions.Issue(subject, now)
	if err != nil {
		s.logger.Error("login: failed to issue session", "err", err)
		s.renderError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   900,
		Secure:   isTLS(r),
	})
}

func isTLS(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return r.Header.Get("X-Forwarded-Proto") == "https"
}

// redirectToReturnTo 302s to returnTo if it is a same-issuer path,
// falling back to the issuer root — return_to is attacker-controlled
// input round-tripped through the session, so an absolute external URL
// is never honored.
func (s *Server) redirectToReturnTo(w http.ResponseWriter, r *http.Request, returnTo string) {
	dest := s.issuer
	if returnTo != "" {
		if u, err := url.Parse(returnTo); err == nil && !u.IsAbs() && u.Host == "" {
			dest = returnTo
		} else if err == nil && u.IsAbs() && (returnTo == s.issuer || strings.HasPrefix(returnTo, strings.TrimSuffix(s.issuer, "/")+"/")) {
			dest = returnTo
		}
	}
	http.Redirect(w, r, dest, http.StatusFound)
}

// handleFederatedStart begins a "sign in with <provider>" round trip:
// mint CSRF state, redirect to the provider's own authorize endpoint.
func (s *Server) handleFederatedStart(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	returnTo := r.URL.Query().Get("return_to")

	st, err := s.idpState.Issue(r.Context(), idpstate.IssueInput{
		ReturnTo: returnTo,
		Provider: provider,
	})
	if err != nil {
		s.logger.Error("federated start: failed to issue state", "err", err)
		s.renderError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	authURL, err := s.federation.AuthCodeURL(provider, st.State)
	if err != nil {
		s.renderError(w, http.StatusBadRequest, "unsupported identity provider")
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// handleFederatedCallback completes the round trip: redeem the CSRF
// state, exchange the code at the provider, resolve or create the
// local account it maps to, and establish a session.
func (s *Server) handleFederatedCallback(w http.ResponseWriter, r *http.Request) {
	provider := mux.Vars(r)["provider"]
	q := r.URL.Query()

	if errCode := q.Get("error"); errCode != "" {
		s.renderError(w, http.StatusBadRequest, "sign-in with the identity provider was cancelled or failed")
		return
	}

	state, ok, err := s.idpState.Consume(r.Context(), q.Get("state"))
	if err != nil {
		s.logger.Error("federated callback: failed to consume state", "err", err)
		s.renderError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}
	if !ok || state.Provider != provider {
		s.renderError(w, http.StatusBadRequest, "sign-in session has expired or was already used")
		return
	}

	profile, err := s.federation.Exchange(r.Context(), provider, q.Get("code"))
	if err != nil {
		s.logger.Error("federated callback: token exchange failed", "provider", provider, "err", err)
		s.renderError(w, http.StatusBadGateway, "failed to complete sign-in with the identity provider")
		return
	}

	acctID, err := s.resolveFederatedAccount(r, profile)
	if err != nil {
		s.logger.Error("federated callback: failed to resolve account", "provider", provider, "err", err)
		s.renderError(w, http.StatusInternalServerError, "Internal server error.")
		return
	}

	s.establishSession(w, r, acctID)
	s.redirectToReturnTo(w, r, state.ReturnTo)
}

// resolveFederatedAccount links profile to a local account, creating
// one on first sign-in from that provider identity.
func (s *Server) resolveFederatedAccount(r *http.Request, profile federation.Profile) (string, error) {
	if pa, ok, err := s.accounts.ProviderAccount(r.Context(), profile.Provider, profile.Sub); err != nil {
		return "", err
	} else if ok {
		return pa.AccountID, nil
	}

	if profile.Email != "" {
		if acct, ok, err := s.accounts.FindByEmail(r.Context(), profile.Email); err != nil {
			return "", err
		} else if ok {
			if err := s.accounts.LinkProvider(r.Context(), profile.Provider, profile.Sub, acct.ID); err != nil {
				return "", err
			}
			return acct.ID, nil
		}
	}

	acct, err := s.accounts.Create(r.Context(), "")
	if err != nil {
		return "", err
	}
	if profile.Email != "" {
		if _, err := s.accounts.AddContactMethod(r.Context(), acct.ID, storage.ContactEmail, profile.Email, true); err != nil {
			return "", err
		}
		if profile.EmailVerified {
			methods, err := s.accounts.ContactMethodsForAccount(r.Context(), acct.ID)
			if err == nil {
				for _, cm := range methods {
					if cm.Type == storage.ContactEmail && cm.Value == profile.Email {
						_ = s.accounts.VerifyContactMethod(r.Context(), cm.ContactID)
					}
				}
			}
		}
	}
	if err := s.accounts.LinkProvider(r.Context(), profile.Provider, profile.Sub, acct.ID); err != nil {
		return "", err
	}
	return acct.ID, nil
}
