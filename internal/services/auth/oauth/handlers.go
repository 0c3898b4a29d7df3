package oauth

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type loginView struct {
	Request    AuthorizationRequest
	ClientName string
	Error      string
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	StatusCode       int    `json:"status_code"`
	Timestamp        string `json:"timestamp"`
}

type introspectResponse struct {
	Active   bool   `json:"active"`
	Scope    string `json:"scope,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Sub      string `json:"sub,omitempty"`
	Aud      string `json:"aud,omitempty"`
	Iss      string `json:"iss,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
	Iat      int64  `json:"iat,omitempty"`
}

type userinfoResponse struct {
	Sub               string `json:"sub"`
	Name              string `json:"name,omitempty"`
	Email             string `json:"email,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	ClientID          string `json:"client_id,omitempty"`
	UpdatedAt         string `json:"updated_at"`
}

type registrationResponse struct {
	ClientID                string   `json:"client_id"`
	ClientSecret            string   `json:"client_secret"`
	ClientIDIssuedAt        int64    `json:"client_id_issued_at"`
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
	ClientName              string   `json:"client_name"`
	RedirectURIs            []string `json:"redirect_uris"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	RegistrationClientURI   string   `json:"registration_client_uri"`
	Issuer                  string   `json:"issuer"`
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}

	params := r.URL.Query()
	request := AuthorizationRequest{
		ResponseType:        params.Get("response_type"),
		ClientID:            params.Get("client_id"),
		RedirectURI:         params.Get("redirect_uri"),
		Scope:               params.Get("scope"),
		State:               params.Get("state"),
		CodeChallenge:       params.Get("code_challenge"),
		CodeChallengeMethod: params.Get("code_challenge_method"),
	}

	if err := s.validateAuthorizationRequest(&request); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.description)
		return
	}

	log.Printf("authorize request: client_id=%s scope=%s", request.ClientID, request.Scope)
	s.renderLogin(w, request, "")
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
		return
	}

	request := AuthorizationRequest{
		ResponseType:        r.FormValue("response_type"),
		ClientID:            r.FormValue("client_id"),
		RedirectURI:         r.FormValue("redirect_uri"),
		Scope:               r.FormValue("scope"),
		State:               r.FormValue("state"),
		CodeChallenge:       r.FormValue("code_challenge"),
		CodeChallengeMethod: r.FormValue("code_challenge_method"),
	}
	if err := s.validateAuthorizationRequest(&request); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", err.description)
		return
	}

	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")

	user, err := s.store.Authenticate(email, password)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "server_error", "credential check failed")
		return
	}
	if user == nil {
		// One uniform failure for unknown email, wrong password, and
		// inactive accounts.
		log.Printf("login failed for client_id=%s", request.ClientID)
		s.renderLogin(w, request, "invalid_credentials")
		return
	}

	code, err := s.store.CreateAuthorizationCode(request, user.UserID, s.clock(), s.config.CodeTTL)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "server_error", "failed to create authorization code")
		return
	}

	redirectURL, err := url.Parse(request.RedirectURI)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid redirect_uri")
		return
	}
	query := redirectURL.Query()
	query.Set("code", code.Code)
	if request.State != "" {
		query.Set("state", request.State)
	}
	redirectURL.RawQuery = query.Encode()

	log.Printf("authorization code issued: user=%s client_id=%s", user.UserID, request.ClientID)
	http.Redirect(w, r, redirectURL.String(), http.StatusFound)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
		return
	}

	switch r.FormValue("grant_type") {
	case "authorization_code":
		s.exchangeAuthorizationCode(w, r)
	case "refresh_token":
		s.exchangeRefreshToken(w, r)
	default:
		s.writeError(w, http.StatusBadRequest, "unsupported_grant_type",
			"grant_type must be 'authorization_code' or 'refresh_token'")
	}
}

func (s *Server) exchangeAuthorizationCode(w http.ResponseWriter, r *http.Request) {
	code := r.FormValue("code")
	redirectURI := r.FormValue("redirect_uri")
	clientID := r.FormValue("client_id")
	clientSecret := r.FormValue("client_secret")
	codeVerifier := r.FormValue("code_verifier")

	if code == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "authorization code is required")
		return
	}
	if redirectURI == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "redirect_uri is required")
		return
	}

	client, err := s.clientForID(clientID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "server_error", "client lookup failed")
		return
	}
	if client != nil && !validateClientSecret(client, clientSecret) {
		s.writeError(w, http.StatusUnauthorized, "invalid_client", "invalid client authentication")
		return
	}

	authCode, err := s.store.ConsumeAuthorizationCode(code, s.clock())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "server_error", "failed to consume authorization code")
		return
	}
	// Invalid, already used, and expired codes are indistinguishable to the
	// caller.
	if authCode == nil {
		s.writeError(w, http.StatusBadRequest, "invalid_grant", "authorization code is invalid or expired")
		return
	}
	if authCode.RedirectURI != redirectURI {
		s.writeError(w, http.StatusBadRequest, "invalid_grant", "redirect_uri does not match")
		return
	}
	if clientID != "" && authCode.ClientID != clientID {
		s.writeError(w, http.StatusBadRequest, "invalid_grant", "client_id does not match")
		return
	}
	if authCode.CodeChallenge != "" {
		if codeVerifier == "" {
			s.writeError(w, http.StatusBadRequest, "invalid_request", "code_verifier is required")
			return
		}
		method := authCode.CodeChallengeMethod
		if method == "" {
			method = "S256"
		}
		if !ValidatePKCE(codeVerifier, authCode.CodeChallenge, method) {
			s.writeError(w, http.StatusBadRequest, "invalid_grant", "PKCE verification failed")
			return
		}
	}

	// The minted scope comes from the consumed code, never from the
	// exchange request body.
	s.issueTokens(w, authCode.ClientID, authCode.UserID, authCode.Scope)
}

func (s *Server) exchangeRefreshToken(w http.ResponseWriter, r *http.Request) {
	token := r.FormValue("refresh_token")
	if token == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	refresh, err := s.store.ConsumeRefreshToken(token, s.clock())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "server_error", "failed to consume refresh token")
		return
	}
	if refresh == nil {
		s.writeError(w, http.StatusBadRequest, "invalid_grant", "refresh token is invalid or expired")
		return
	}

	s.issueTokens(w, refresh.ClientID, refresh.UserID, refresh.Scope)
}

func (s *Server) issueTokens(w http.ResponseWriter, clientID, userID, scope string) {
	now := s.clock()
	access, err := s.store.CreateAccessToken(clientID, userID, scope, s.config.Issuer, s.config.Audience, now, s.config.TokenTTL)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "server_error", "failed to create access token")
		return
	}
	refresh, err := s.store.CreateRefreshToken(clientID, userID, scope, now, s.config.RefreshTokenTTL)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "server_error", "failed to create refresh token")
		return
	}

	log.Printf("tokens issued: user=%s client_id=%s scope=%s", userID, clientID, scope)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  access.Token,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.config.TokenTTL.Seconds()),
		RefreshToken: refresh.Token,
		Scope:        scope,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}

	var metadata struct {
		RedirectURIs            []string `json:"redirect_uris"`
		ClientName              string   `json:"client_name"`
		GrantTypes              []string `json:"grant_types"`
		ResponseTypes           []string `json:"response_types"`
		TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&metadata); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_client_metadata", "request body must be valid JSON")
		return
	}

	idSuffix, err := generateToken(8)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "server_error", "failed to generate client credentials")
		return
	}
	secretSuffix, err := generateToken(16)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "server_error", "failed to generate client credentials")
		return
	}

	client := Client{
		ID:                      "siac_client_" + idSuffix,
		Secret:                  "secret_" + secretSuffix,
		Name:                    metadata.ClientName,
		RedirectURIs:            metadata.RedirectURIs,
		GrantTypes:              metadata.GrantTypes,
		ResponseTypes:           metadata.ResponseTypes,
		TokenEndpointAuthMethod: metadata.TokenEndpointAuthMethod,
	}
	if client.Name == "" {
		client.Name = "SIAC MCP Client"
	}
	if len(client.GrantTypes) == 0 {
		client.GrantTypes = []string{"authorization_code", "refresh_token"}
	}
	if len(client.ResponseTypes) == 0 {
		client.ResponseTypes = []string{"code"}
	}
	if client.TokenEndpointAuthMethod == "" {
		client.TokenEndpointAuthMethod = "none"
	}

	now := s.clock()
	if err := s.store.InsertClient(client, now); err != nil {
		s.writeError(w, http.StatusInternalServerError, "server_error", "failed to register client")
		return
	}

	log.Printf("client registered: client_id=%s redirect_uris=%v", client.ID, client.RedirectURIs)
	writeJSON(w, http.StatusCreated, registrationResponse{
		ClientID:                client.ID,
		ClientSecret:            client.Secret,
		ClientIDIssuedAt:        now.UTC().Unix(),
		ClientSecretExpiresAt:   0,
		ClientName:              client.Name,
		RedirectURIs:            client.RedirectURIs,
		GrantTypes:              client.GrantTypes,
		ResponseTypes:           client.ResponseTypes,
		TokenEndpointAuthMethod: client.TokenEndpointAuthMethod,
		RegistrationClientURI:   s.config.Issuer + "/oauth/register/" + client.ID,
		Issuer:                  s.config.Issuer,
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
		return
	}

	// Revocation of an unknown token still succeeds (RFC 7009).
	if token := r.FormValue("token"); token != "" {
		s.store.DeleteAccessToken(token)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "token revoked",
		"timestamp": s.clock().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	if s.config.ResourceSecret != "" && r.Header.Get("X-Resource-Secret") != s.config.ResourceSecret {
		s.writeError(w, http.StatusUnauthorized, "invalid_client", "resource secret mismatch")
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "invalid form data")
		return
	}

	token := r.FormValue("token")
	access, err := s.store.GetAccessToken(token, s.clock())
	if err != nil || access == nil {
		writeJSON(w, http.StatusOK, introspectResponse{Active: false})
		return
	}

	writeJSON(w, http.StatusOK, introspectResponse{
		Active:   true,
		Scope:    access.Scope,
		ClientID: access.ClientID,
		Sub:      access.UserID,
		Aud:      access.Audience,
		Iss:      access.Issuer,
		Exp:      access.ExpiresAt.Unix(),
		Iat:      access.CreatedAt.Unix(),
	})
}

func (s *Server) handleUserinfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}

	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		s.writeError(w, http.StatusUnauthorized, "invalid_token", "bearer token is required")
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))

	access, err := s.store.GetAccessToken(token, s.clock())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "server_error", "token lookup failed")
		return
	}
	if access == nil {
		s.writeError(w, http.StatusUnauthorized, "invalid_token", "token is invalid or expired")
		return
	}

	user, err := s.store.GetUserByID(access.UserID)
	if err != nil || user == nil {
		s.writeError(w, http.StatusUnauthorized, "invalid_token", "token is invalid or expired")
		return
	}

	writeJSON(w, http.StatusOK, userinfoResponse{
		Sub:               user.UserID,
		Name:              user.DisplayName,
		Email:             user.Email,
		PreferredUsername: user.Email,
		ClientID:          access.ClientID,
		UpdatedAt:         s.clock().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "siac-authorization-server",
		"issuer":    s.config.Issuer,
		"timestamp": s.clock().UTC().Format(time.RFC3339),
	})
}

type requestError struct {
	description string
}

// validateAuthorizationRequest applies the authorize validation rules and
// fills in the default scope. Shared by the authorize and login handlers so
// carried params are re-checked on the login post.
func (s *Server) validateAuthorizationRequest(request *AuthorizationRequest) *requestError {
	if request.ResponseType != "code" {
		return &requestError{description: "response_type must be 'code'"}
	}
	if request.ClientID == "" {
		return &requestError{description: "client_id is required"}
	}
	if request.RedirectURI == "" {
		return &requestError{description: "redirect_uri is required"}
	}
	if request.Scope == "" {
		request.Scope = s.config.DefaultScope
	}
	if request.CodeChallenge != "" {
		if request.CodeChallengeMethod != "" && request.CodeChallengeMethod != "S256" {
			return &requestError{description: "code_challenge_method must be S256"}
		}
		if !ValidateCodeChallenge(request.CodeChallenge) {
			return &requestError{description: "invalid code_challenge format"}
		}
	}

	client, err := s.clientForID(request.ClientID)
	if err != nil {
		return &requestError{description: "client lookup failed"}
	}
	if client != nil && len(client.RedirectURIs) > 0 && !redirectURIAllowed(request.RedirectURI, client.RedirectURIs) {
		return &requestError{description: "redirect_uri is not registered"}
	}
	return nil
}

// clientForID resolves a client from static config first, then from the
// dynamic registration table. Unknown clients are treated as public and
// return (nil, nil).
func (s *Server) clientForID(clientID string) (*Client, error) {
	if clientID == "" {
		return nil, nil
	}
	for _, client := range s.config.Clients {
		if client.ID == clientID {
			return &client, nil
		}
	}
	return s.store.GetClient(clientID)
}

func (s *Server) renderLogin(w http.ResponseWriter, request AuthorizationRequest, errorCode string) {
	clientName := request.ClientID
	if client, err := s.clientForID(request.ClientID); err == nil && client != nil && client.Name != "" {
		clientName = client.Name
	}
	view := loginView{Request: request, ClientName: clientName, Error: errorCode}
	if err := templates.ExecuteTemplate(w, "login.html", view); err != nil {
		http.Error(w, "failed to render login", http.StatusInternalServerError)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, description string) {
	writeJSON(w, status, errorResponse{
		Error:            code,
		ErrorDescription: description,
		StatusCode:       status,
		Timestamp:        s.clock().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func redirectURIAllowed(uri string, allowed []string) bool {
	for _, value := range allowed {
		if value == uri {
			return true
		}
	}
	return false
}

func validateClientSecret(client *Client, clientSecret string) bool {
	method := strings.TrimSpace(client.TokenEndpointAuthMethod)
	if method == "" {
		if client.Secret != "" {
			method = "client_secret_post"
		} else {
			method = "none"
		}
	}
	if method == "none" {
		return true
	}
	return client.Secret != "" && clientSecret == client.Secret
}
