package server

import (
	"net/http"

	"github.com/lumenid/issuer/jwtutil"
)

// discoveryDocument is the `/.well-known/openid-configuration` body,
// structured exactly per component M.
type discoveryDocument struct {
	Issuer                                  string   `json:"issuer"`
	AuthorizationEndpoint                   string   `json:"authorization_endpoint"`
	TokenEndpoint                           string   `json:"token_endpoint"`
	UserinfoEndpoint                        string   `json:"userinfo_endpoint"`
	JWKSURI                                 string   `json:"jwks_uri"`
	RevocationEndpoint                      string   `json:"revocation_endpoint"`
	IntrospectionEndpoint                   string   `json:"introspection_endpoint"`
	ResponseTypesSupported                  []string `json:"response_types_supported"`
	SubjectTypesSupported                   []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported        []string `json:"id_token_signing_alg_values_supported"`
	GrantTypesSupported                     []string `json:"grant_types_supported"`
	ScopesSupported                         []string `json:"scopes_supported"`
	TokenEndpointAuthMethodsSupported       []string `json:"token_endpoint_auth_methods_supported"`
	CodeChallengeMethodsSupported           []string `json:"code_challenge_methods_supported"`
	ClaimsSupported                         []string `json:"claims_supported"`
}

func (s *Server) discoveryDocument() discoveryDocument {
	return discoveryDocument{
		Issuer:                 s.issuer,
		AuthorizationEndpoint:  issuerJoin(s.issuer, "/authorize"),
		TokenEndpoint:          issuerJoin(s.issuer, "/token"),
		UserinfoEndpoint:       issuerJoin(s.issuer, "/userinfo"),
		JWKSURI:                issuerJoin(s.issuer, "/.well-known/jwks.json"),
		RevocationEndpoint:     issuerJoin(s.issuer, "/revoke"),
		IntrospectionEndpoint:  issuerJoin(s.issuer, "/introspect"),
		ResponseTypesSupported: []string{"code"},
		SubjectTypesSupported:  []string{"public"},
		IDTokenSigningAlgValuesSupported: []string{
			string(jwtutil.RS256), string(jwtutil.ES256),
		},
		GrantTypesSupported:                []string{"authorization_code", "refresh_token"},
		ScopesSupported:                    []string{"openid", "profile", "email", "offline_access"},
		TokenEndpointAuthMethodsSupported:  []string{"client_secret_basic", "client_secret_post", "none"},
		CodeChallengeMethodsSupported:      []string{"S256", "plain"},
		ClaimsSupported: []string{
			"sub", "iss", "aud", "exp", "iat", "auth_time", "nonce",
			"email", "email_verified", "name", "given_name", "family_name", "picture",
		},
	}
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.discoveryDocument())
}

func (s *Server) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set := s.keys.JWKS()
	w.Header().Set("Cache-Control", "max-age=300")
	writeJSON(w, http.StatusOK, set)
}
