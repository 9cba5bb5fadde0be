package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/lumenid/issuer/clientregistry"
	"github.com/lumenid/issuer/storage"
)

// clientRegistrationRequest is the admin CRUD wire shape for creating
// or patching a client, mirroring dex's client_registration.go request
// body but scoped to this provider's Client fields.
type clientRegistrationRequest struct {
	Name                    string                     `json:"name"`
	RedirectURIs            []string                   `json:"redirect_uris"`
	GrantTypes              []storage.GrantType        `json:"grant_types"`
	ResponseTypes           []storage.ResponseType     `json:"response_types"`
	Scopes                  []storage.Scope            `json:"scopes"`
	TokenEndpointAuthMethod storage.AuthMethod         `json:"token_endpoint_auth_method"`
}

type clientRegistrationResponse struct {
	storage.Client
	ClientSecret string `json:"client_secret,omitempty"`
}

// handleAdminClientsCollection implements component O's collection
// endpoint: POST registers a new client, GET is not part of this
// surface's Non-goals exemption (no bulk listing table exists without
// a scan primitive), so only POST is supported here.
func (s *Server) handleAdminClientsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleAdminClientCreate(w, r)
	default:
		writeOAuthError(w, http.StatusMethodNotAllowed, newOAuthError(errInvalidRequest, "method not allowed"))
	}
}

func (s *Server) handleAdminClientCreate(w http.ResponseWriter, r *http.Request) {
	var req clientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidRequest, "malformed JSON body"))
		return
	}

	result, err := s.clients.Register(r.Context(), clientregistry.RegisterInput{
		Name:                    req.Name,
		RedirectURIs:            req.RedirectURIs,
		GrantTypes:              req.GrantTypes,
		ResponseTypes:           req.ResponseTypes,
		Scopes:                  req.Scopes,
		TokenEndpointAuthMethod: req.TokenEndpointAuthMethod,
	})
	if err != nil {
		if errors.Is(err, clientregistry.ErrInvalidInput) {
			writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidRequest, err.Error()))
			return
		}
		s.logger.Error("admin: failed to register client", "err", err)
		writeOAuthError(w, http.StatusInternalServerError, newOAuthError(errServerError, ""))
		return
	}

	writeJSON(w, http.StatusCreated, clientRegistrationResponse{
		Client:       sanitizeClient(result.Client),
		ClientSecret: result.Secret,
	})
}

// sanitizeClient strips the bcrypt secret digest before a client record
// is ever written to an HTTP response.
func sanitizeClient(c storage.Client) storage.Client {
	c.SecretHash = ""
	return c
}

// handleAdminClientsItem implements component O's single-client
// endpoints.
func (s *Server) handleAdminClientsItem(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	switch r.Method {
	case http.MethodGet:
		s.handleAdminClientGet(w, r, id)
	case http.MethodPatch:
		s.handleAdminClientPatch(w, r, id)
	case http.MethodDelete:
		s.handleAdminClientDelete(w, r, id)
	default:
		writeOAuthError(w, http.StatusMethodNotAllowed, newOAuthError(errInvalidRequest, "method not allowed"))
	}
}

func (s *Server) handleAdminClientGet(w http.ResponseWriter, r *http.Request, id string) {
	c, ok, err := s.clients.GetAny(r.Context(), id)
	if err != nil {
		s.logger.Error("admin: failed to look up client", "err", err)
		writeOAuthError(w, http.StatusInternalServerError, newOAuthError(errServerError, ""))
		return
	}
	if !ok {
		writeOAuthError(w, http.StatusNotFound, newOAuthError(errInvalidRequest, "client not found"))
		return
	}
	writeJSON(w, http.StatusOK, sanitizeClient(c))
}

func (s *Server) handleAdminClientPatch(w http.ResponseWriter, r *http.Request, id string) {
	var req clientRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeOAuthError(w, http.StatusBadRequest, newOAuthError(errInvalidRequest, "malformed JSON body"))
		return
	}

	err := s.clients.Update(r.Context(), id, func(c storage.Client) storage.Client {
		if req.Name != "" {
			c.Name = req.Name
		}
		if req.RedirectURIs != nil {
			c.RedirectURIs = req.RedirectURIs
		}
		if req.GrantTypes != nil {
			c.GrantTypes = req.GrantTypes
		}
		if req.ResponseTypes != nil {
			c.ResponseTypes = req.ResponseTypes
		}
		if req.Scopes != nil {
			c.Scopes = req.Scopes
		}
		return c
	})
	if err == storage.ErrNotFound {
		writeOAuthError(w, http.StatusNotFound, newOAuthError(errInvalidRequest, "client not found"))
		return
	}
	if err != nil {
		s.logger.Error("admin: failed to update client", "err", err)
		writeOAuthError(w, http.StatusInternalServerError, newOAuthError(errServerError, ""))
		return
	}

	c, _, err := s.clients.GetAny(r.Context(), id)
	if err != nil {
		s.logger.Error("admin: failed to reload client after update", "err", err)
		writeOAuthError(w, http.StatusInternalServerError, newOAuthError(errServerError, ""))
		return
	}
	writeJSON(w, http.StatusOK, sanitizeClient(c))
}

func (s *Server) handleAdminClientDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := s.clients.Deactivate(r.Context(), id); err != nil {
		if err == storage.ErrNotFound {
			writeOAuthError(w, http.StatusNotFound, newOAuthError(errInvalidRequest, "client not found"))
			return
		}
		s.logger.Error("admin: failed to deactivate client", "err", err)
		writeOAuthError(w, http.StatusInternalServerError, newOAuthError(errServerError, ""))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
