package server

import (
	"net/http"
)

// userInfoResponse is the scope-filtered claim projection /userinfo
// returns, per component K. sub is always present; every other field
// is gated on the access token's granted scopes.
type userInfoResponse struct {
	Subject       string `json:"sub"`
	Email         string `json:"email,omitempty"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	Picture       string `json:"picture,omitempty"`
}

// handleUserInfo implements component K. It runs behind requireBearer,
// so claimsFromContext always succeeds here.
func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFromContext(r.Context())

	acct, ok, err := s.accounts.Get(r.Context(), claims.Subject)
	if err != nil {
		s.logger.Error("userinfo: failed to load account", "err", err)
		writeBearerError(w, http.StatusInternalServerError, errServerError, "")
		return
	}
	if !ok {
		writeBearerError(w, http.StatusNotFound, errUserNotFound, "")
		return
	}
	if !acct.IsActive {
		writeBearerError(w, http.StatusForbidden, errUserInactive, "")
		return
	}

	resp := userInfoResponse{Subject: acct.ID}
	scopes := splitScope(claims.Scope)
	if hasScope(scopes, "email") || hasScope(scopes, "profile") {
		p := s.profileFor(r, acct)
		if hasScope(scopes, "email") {
			resp.Email = p.Email
			verified := p.EmailVerified
			resp.EmailVerified = &verified
		}
		if hasScope(scopes, "profile") {
			resp.Name = p.Name
			resp.GivenName = p.GivenName
			resp.FamilyName = p.FamilyName
			resp.Picture = p.Picture
		}
	}

	noStore(w)
	writeJSON(w, http.StatusOK, resp)
}
