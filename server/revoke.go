package server

import (
	"net/http"
	"strings"
)

// handleRevoke implements component J's RFC 7009 endpoint. A malformed
// request gets 400 and a failed client authentication 401; otherwise the
// answer is always 200 with an empty body: revocation never reveals
// whether the presented token existed, belonged to the authenticated
// client, or was already consumed.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidRequest, "Content-Type must be application/x-www-form-urlencoded"))
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidRequest, "malformed form body"))
		return
	}

	client, _, oerr := s.authenticateClient(r, true)
	if oerr != nil {
		writeOAuthError(w, statusForError(oerr.Code), oerr)
		return
	}

	token := r.PostForm.Get("token")
	if token == "" {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidRequest, "token is required"))
		return
	}

	// Access-token revocation is a no-op: access tokens are short-lived
	// and this provider tracks no denylist for them.
	if r.PostForm.Get("token_type_hint") != "access_token" {
		if _, err := s.refreshTokens.Revoke(r.Context(), token, client.ID); err != nil {
			s.logger.Error("revoke: failed to revoke refresh token", "err", err)
		}
	}

	noStore(w)
	w.WriteHeader(http.StatusOK)
}
