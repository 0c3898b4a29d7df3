package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TokenRecord is an access token as recorded by the authorization server.
type TokenRecord struct {
	Token     string
	ClientID  string
	UserID    string
	Scope     string
	Issuer    string
	Audience  string
	ExpiresAt time.Time
}

// TokenSource resolves opaque access tokens to their recorded grants.
// Unknown and lazily evicted tokens resolve to (nil, nil).
type TokenSource interface {
	LookupToken(ctx context.Context, token string) (*TokenRecord, error)
}

// Claims are the verified facts about a bearer token.
type Claims struct {
	Subject   string
	ClientID  string
	Scope     string
	Issuer    string
	Audience  string
	ExpiresAt time.Time
}

// AuthError is a bearer authorization failure with the challenge the client
// should be sent back.
type AuthError struct {
	Reason    string
	challenge string
}

func (e *AuthError) Error() string {
	return e.Reason
}

// WWWAuthenticate returns the WWW-Authenticate header value for the failure.
func (e *AuthError) WWWAuthenticate() string {
	return e.challenge
}

// Verifier checks bearer tokens against the recorded grant claims.
type Verifier struct {
	source        TokenSource
	issuer        string
	audience      string
	requiredScope string
	resourceURL   string
	clock         func() time.Time
}

// NewVerifier builds a verifier over source bound to config.
func NewVerifier(source TokenSource, config Config) *Verifier {
	return &Verifier{
		source:        source,
		issuer:        config.Issuer,
		audience:      config.Audience,
		requiredScope: config.RequiredScope,
		resourceURL:   config.ResourceServerURL,
		clock:         time.Now,
	}
}

func (v *Verifier) authError(reason string) *AuthError {
	return &AuthError{
		Reason:    reason,
		challenge: fmt.Sprintf("Bearer realm=%q, scope=%q", v.resourceURL, v.requiredScope),
	}
}

// Verify resolves raw to its recorded claims and checks issuer, audience,
// expiry, and scope in that order. Any failure is an *AuthError.
func (v *Verifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, v.authError("missing token")
	}

	record, err := v.source.LookupToken(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("lookup token: %w", err)
	}
	if record == nil {
		return nil, v.authError("token is invalid or expired")
	}

	if v.issuer != "" && record.Issuer != v.issuer {
		return nil, v.authError("invalid token issuer")
	}
	if v.audience != "" && record.Audience != v.audience {
		return nil, v.authError("invalid token audience")
	}
	if !record.ExpiresAt.After(v.clock()) {
		return nil, v.authError("token is expired")
	}
	if v.requiredScope != "" && !hasScope(record.Scope, v.requiredScope) {
		return nil, v.authError("insufficient scope")
	}

	return &Claims{
		Subject:   record.UserID,
		ClientID:  record.ClientID,
		Scope:     record.Scope,
		Issuer:    record.Issuer,
		Audience:  record.Audience,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

func hasScope(granted, required string) bool {
	for _, scope := range strings.Fields(granted) {
		if scope == required {
			return true
		}
	}
	return false
}
