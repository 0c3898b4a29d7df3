package gateway

import "net/http"

// handleServerInfo serves GET /mcp with server identity and the OAuth
// configuration MCP clients need to start the flow.
func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":     serverName,
		"version":  serverVersion,
		"protocol": "mcp",
		"oauth": map[string]interface{}{
			"issuer":                 s.config.Issuer,
			"authorization_endpoint": s.config.Issuer + "/oauth/authorize",
			"token_endpoint":         s.config.Issuer + "/oauth/token",
			"scopes":                 []string{s.config.RequiredScope},
		},
		"endpoints": map[string]interface{}{
			"health":                      "/health",
			"oauth_metadata":              "/.well-known/oauth-authorization-server",
			"protected_resource_metadata": "/.well-known/oauth-protected-resource",
		},
	})
}

// handleProtectedResourceMetadata serves RFC 9728 protected resource
// metadata naming the authorization server and required scope.
func (s *Server) handleProtectedResourceMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeAuthFailure(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resource":                 s.config.ResourceServerURL,
		"authorization_servers":    []string{s.config.Issuer},
		"scopes_supported":         []string{s.config.RequiredScope},
		"bearer_methods_supported": []string{"header"},
		"resource_documentation":   s.config.ResourceServerURL + "/docs",
		"resource_policy_uri":      s.config.ResourceServerURL + "/policy",
	})
}

// handleAuthorizationServerMetadata mirrors the authorization server's issuer
// metadata for MCP clients that only talk to the resource host.
func (s *Server) handleAuthorizationServerMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeAuthFailure(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	issuer := s.config.Issuer
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                                issuer,
		"authorization_endpoint":                issuer + "/oauth/authorize",
		"token_endpoint":                        issuer + "/oauth/token",
		"registration_endpoint":                 issuer + "/oauth/register",
		"revocation_endpoint":                   issuer + "/oauth/revoke",
		"introspection_endpoint":                issuer + "/oauth/introspect",
		"response_types_supported":              []string{"code"},
		"grant_types_supported":                 []string{"authorization_code", "refresh_token"},
		"token_endpoint_auth_methods_supported": []string{"none"},
		"scopes_supported":                      []string{s.config.RequiredScope},
		"code_challenge_methods_supported":      []string{"S256"},
	})
}
