package oauth

import "time"

// User is a credentialed account able to approve authorization requests.
type User struct {
	UserID       string
	Email        string
	PasswordHash string
	ClientID     string
	ClientName   string
	DisplayName  string
	Roles        []string
	Permissions  []string
	Active       bool
	CreatedAt    time.Time
}

// AuthorizationRequest carries the query parameters of an authorize call
// through the login form and back.
type AuthorizationRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizationCode is a single-use grant minted after a successful login.
type AuthorizationCode struct {
	Code                string
	ClientID            string
	UserID              string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	Used                bool
}

// AccessToken is an opaque bearer credential. Issuer and audience are stamped
// at mint time so the resource server can validate recorded claims without
// reaching back into authorization server configuration.
type AccessToken struct {
	Token     string
	ClientID  string
	UserID    string
	Scope     string
	Issuer    string
	Audience  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// RefreshToken is a single-use credential exchanged for a fresh token pair.
type RefreshToken struct {
	Token     string
	ClientID  string
	UserID    string
	Scope     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// Client represents a registered OAuth client application.
type Client struct {
	ID                      string   `json:"client_id"`
	Secret                  string   `json:"client_secret,omitempty"`
	RedirectURIs            []string `json:"redirect_uris"`
	Name                    string   `json:"client_name,omitempty"`
	GrantTypes              []string `json:"grant_types,omitempty"`
	ResponseTypes           []string `json:"response_types,omitempty"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method,omitempty"`
	CreatedAt               time.Time `json:"-"`
}
