package oauth

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const oauthTimeFormat = time.RFC3339Nano

// Store provides SQLite-backed storage for OAuth data.
type Store struct {
	db *sql.DB
}

// NewStore creates a new OAuth store using the provided database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) ensureDB() error {
	if s == nil || s.db == nil {
		return errors.New("oauth store is not configured")
	}
	return nil
}

func generateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// GenerateID returns a random hex identifier of 2*length characters.
func GenerateID(length int) (string, error) {
	return generateToken(length)
}

func joinFields(values []string) string {
	return strings.Join(values, " ")
}

func splitFields(value string) []string {
	return strings.Fields(value)
}

// UpsertUser stores a credentialed user record.
func (s *Store) UpsertUser(user User, now time.Time) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	active := 0
	if user.Active {
		active = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO users (user_id, email, password_hash, client_id, client_name, display_name, roles, permissions, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			email = excluded.email,
			password_hash = excluded.password_hash,
			client_id = excluded.client_id,
			client_name = excluded.client_name,
			display_name = excluded.display_name,
			roles = excluded.roles,
			permissions = excluded.permissions,
			active = excluded.active`,
		user.UserID, user.Email, user.PasswordHash, user.ClientID, user.ClientName,
		user.DisplayName, joinFields(user.Roles), joinFields(user.Permissions),
		active, now.UTC().Format(oauthTimeFormat),
	)
	return err
}

// GetUserByEmail returns the user registered under email.
func (s *Store) GetUserByEmail(email string) (*User, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	return s.scanUser(s.db.QueryRow(
		`SELECT user_id, email, password_hash, client_id, client_name, display_name, roles, permissions, active, created_at
		FROM users WHERE email = ?`,
		email,
	))
}

// GetUserByID returns the user with the given ID.
func (s *Store) GetUserByID(userID string) (*User, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	return s.scanUser(s.db.QueryRow(
		`SELECT user_id, email, password_hash, client_id, client_name, display_name, roles, permissions, active, created_at
		FROM users WHERE user_id = ?`,
		userID,
	))
}

func (s *Store) scanUser(row *sql.Row) (*User, error) {
	var user User
	var roles, permissions, createdAt string
	var active int
	err := row.Scan(
		&user.UserID, &user.Email, &user.PasswordHash, &user.ClientID, &user.ClientName,
		&user.DisplayName, &roles, &permissions, &active, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	created, err := time.Parse(oauthTimeFormat, createdAt)
	if err != nil {
		return nil, err
	}
	user.Roles = splitFields(roles)
	user.Permissions = splitFields(permissions)
	user.Active = active != 0
	user.CreatedAt = created
	return &user, nil
}

// Authenticate checks email and password against stored credentials.
//
// Unknown email, wrong password, and inactive accounts all return (nil, nil)
// so callers cannot distinguish which case occurred.
func (s *Store) Authenticate(email, password string) (*User, error) {
	user, err := s.GetUserByEmail(email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, nil
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, nil
	}
	return user, nil
}

// CreateAuthorizationCode stores a new authorization code.
func (s *Store) CreateAuthorizationCode(request AuthorizationRequest, userID string, now time.Time, ttl time.Duration) (*AuthorizationCode, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	code, err := generateToken(32)
	if err != nil {
		return nil, err
	}
	createdAt := now.UTC()
	expiresAt := createdAt.Add(ttl)
	_, err = s.db.Exec(
		`INSERT INTO oauth_authorization_codes
		(code, client_id, user_id, redirect_uri, scope, state, code_challenge, code_challenge_method, created_at, expires_at, used)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		code, request.ClientID, userID, request.RedirectURI, request.Scope, request.State,
		request.CodeChallenge, request.CodeChallengeMethod,
		createdAt.Format(oauthTimeFormat), expiresAt.Format(oauthTimeFormat),
	)
	if err != nil {
		return nil, err
	}
	return &AuthorizationCode{
		Code:                code,
		ClientID:            request.ClientID,
		UserID:              userID,
		RedirectURI:         request.RedirectURI,
		Scope:               request.Scope,
		State:               request.State,
		CodeChallenge:       request.CodeChallenge,
		CodeChallengeMethod: request.CodeChallengeMethod,
		CreatedAt:           createdAt,
		ExpiresAt:           expiresAt,
	}, nil
}

// ConsumeAuthorizationCode atomically marks a code used and returns it.
//
// The guarded update gives first-consumer-wins semantics under concurrent
// exchanges: exactly one caller observes the record, the rest get (nil, nil).
// An expired code is deleted and reported invalid even though it was found.
func (s *Store) ConsumeAuthorizationCode(code string, now time.Time) (*AuthorizationCode, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	result, err := s.db.Exec(
		`UPDATE oauth_authorization_codes SET used = 1 WHERE code = ? AND used = 0`,
		code,
	)
	if err != nil {
		return nil, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows != 1 {
		return nil, nil
	}

	var authCode AuthorizationCode
	var createdAt, expiresAt string
	var used int
	err = s.db.QueryRow(
		`SELECT code, client_id, user_id, redirect_uri, scope, state, code_challenge, code_challenge_method, created_at, expires_at, used
		FROM oauth_authorization_codes WHERE code = ?`,
		code,
	).Scan(
		&authCode.Code, &authCode.ClientID, &authCode.UserID, &authCode.RedirectURI,
		&authCode.Scope, &authCode.State, &authCode.CodeChallenge, &authCode.CodeChallengeMethod,
		&createdAt, &expiresAt, &used,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	created, err := time.Parse(oauthTimeFormat, createdAt)
	if err != nil {
		return nil, err
	}
	expiry, err := time.Parse(oauthTimeFormat, expiresAt)
	if err != nil {
		return nil, err
	}
	authCode.CreatedAt = created
	authCode.ExpiresAt = expiry
	authCode.Used = used != 0

	if now.UTC().After(authCode.ExpiresAt) {
		s.DeleteAuthorizationCode(code)
		return nil, nil
	}
	return &authCode, nil
}

// DeleteAuthorizationCode deletes a code.
func (s *Store) DeleteAuthorizationCode(code string) {
	if s == nil || s.db == nil {
		return
	}
	_, _ = s.db.Exec(`DELETE FROM oauth_authorization_codes WHERE code = ?`, code)
}

// CreateAccessToken creates and stores a new access token.
func (s *Store) CreateAccessToken(clientID, userID, scope, issuer, audience string, now time.Time, ttl time.Duration) (*AccessToken, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	token, err := generateToken(32)
	if err != nil {
		return nil, err
	}
	createdAt := now.UTC()
	expiresAt := createdAt.Add(ttl)
	_, err = s.db.Exec(
		`INSERT INTO oauth_access_tokens (token, client_id, user_id, scope, issuer, audience, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		token, clientID, userID, scope, issuer, audience,
		createdAt.Format(oauthTimeFormat), expiresAt.Format(oauthTimeFormat),
	)
	if err != nil {
		return nil, err
	}
	return &AccessToken{
		Token:     token,
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		Issuer:    issuer,
		Audience:  audience,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// GetAccessToken retrieves an access token.
//
// An expired token is evicted as a side effect of the read and reported
// invalid, so stale grants never survive their first lookup past expiry.
func (s *Store) GetAccessToken(token string, now time.Time) (*AccessToken, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	var access AccessToken
	var createdAt, expiresAt string
	err := s.db.QueryRow(
		`SELECT token, client_id, user_id, scope, issuer, audience, created_at, expires_at
		FROM oauth_access_tokens WHERE token = ?`,
		token,
	).Scan(
		&access.Token, &access.ClientID, &access.UserID, &access.Scope,
		&access.Issuer, &access.Audience, &createdAt, &expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	created, err := time.Parse(oauthTimeFormat, createdAt)
	if err != nil {
		return nil, err
	}
	expiry, err := time.Parse(oauthTimeFormat, expiresAt)
	if err != nil {
		return nil, err
	}
	access.CreatedAt = created
	access.ExpiresAt = expiry

	if now.UTC().After(access.ExpiresAt) {
		s.DeleteAccessToken(token)
		return nil, nil
	}
	return &access, nil
}

// DeleteAccessToken removes an access token. Idempotent.
func (s *Store) DeleteAccessToken(token string) {
	if s == nil || s.db == nil {
		return
	}
	_, _ = s.db.Exec(`DELETE FROM oauth_access_tokens WHERE token = ?`, token)
}

// CreateRefreshToken creates and stores a new refresh token.
func (s *Store) CreateRefreshToken(clientID, userID, scope string, now time.Time, ttl time.Duration) (*RefreshToken, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	token, err := generateToken(32)
	if err != nil {
		return nil, err
	}
	createdAt := now.UTC()
	expiresAt := createdAt.Add(ttl)
	_, err = s.db.Exec(
		`INSERT INTO oauth_refresh_tokens (token, client_id, user_id, scope, created_at, expires_at, used)
		VALUES (?, ?, ?, ?, ?, ?, 0)`,
		token, clientID, userID, scope,
		createdAt.Format(oauthTimeFormat), expiresAt.Format(oauthTimeFormat),
	)
	if err != nil {
		return nil, err
	}
	return &RefreshToken{
		Token:     token,
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
	}, nil
}

// ConsumeRefreshToken atomically marks a refresh token used and returns it.
//
// Refresh tokens follow the same single-use discipline as authorization
// codes: a token is validated against the store and rotated on every grant.
func (s *Store) ConsumeRefreshToken(token string, now time.Time) (*RefreshToken, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	result, err := s.db.Exec(
		`UPDATE oauth_refresh_tokens SET used = 1 WHERE token = ? AND used = 0`,
		token,
	)
	if err != nil {
		return nil, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows != 1 {
		return nil, nil
	}

	var refresh RefreshToken
	var createdAt, expiresAt string
	var used int
	err = s.db.QueryRow(
		`SELECT token, client_id, user_id, scope, created_at, expires_at, used
		FROM oauth_refresh_tokens WHERE token = ?`,
		token,
	).Scan(&refresh.Token, &refresh.ClientID, &refresh.UserID, &refresh.Scope, &createdAt, &expiresAt, &used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	created, err := time.Parse(oauthTimeFormat, createdAt)
	if err != nil {
		return nil, err
	}
	expiry, err := time.Parse(oauthTimeFormat, expiresAt)
	if err != nil {
		return nil, err
	}
	refresh.CreatedAt = created
	refresh.ExpiresAt = expiry
	refresh.Used = used != 0

	if now.UTC().After(refresh.ExpiresAt) {
		_, _ = s.db.Exec(`DELETE FROM oauth_refresh_tokens WHERE token = ?`, token)
		return nil, nil
	}
	return &refresh, nil
}

// InsertClient stores a dynamically registered client.
func (s *Store) InsertClient(client Client, now time.Time) error {
	if err := s.ensureDB(); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO oauth_clients
		(client_id, client_secret, client_name, redirect_uris, grant_types, response_types, token_endpoint_auth_method, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		client.ID, client.Secret, client.Name, joinFields(client.RedirectURIs),
		joinFields(client.GrantTypes), joinFields(client.ResponseTypes),
		client.TokenEndpointAuthMethod, now.UTC().Format(oauthTimeFormat),
	)
	return err
}

// GetClient retrieves a registered client.
func (s *Store) GetClient(clientID string) (*Client, error) {
	if err := s.ensureDB(); err != nil {
		return nil, err
	}
	var client Client
	var redirectURIs, grantTypes, responseTypes, createdAt string
	err := s.db.QueryRow(
		`SELECT client_id, client_secret, client_name, redirect_uris, grant_types, response_types, token_endpoint_auth_method, created_at
		FROM oauth_clients WHERE client_id = ?`,
		clientID,
	).Scan(
		&client.ID, &client.Secret, &client.Name, &redirectURIs,
		&grantTypes, &responseTypes, &client.TokenEndpointAuthMethod, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	created, err := time.Parse(oauthTimeFormat, createdAt)
	if err != nil {
		return nil, err
	}
	client.RedirectURIs = splitFields(redirectURIs)
	client.GrantTypes = splitFields(grantTypes)
	client.ResponseTypes = splitFields(responseTypes)
	client.CreatedAt = created
	return &client, nil
}

// CleanupExpired deletes expired rows.
func (s *Store) CleanupExpired(now time.Time) {
	if s == nil || s.db == nil {
		return
	}
	cutoff := now.UTC().Format(oauthTimeFormat)
	_, _ = s.db.Exec(`DELETE FROM oauth_authorization_codes WHERE expires_at <= ?`, cutoff)
	_, _ = s.db.Exec(`DELETE FROM oauth_access_tokens WHERE expires_at <= ?`, cutoff)
	_, _ = s.db.Exec(`DELETE FROM oauth_refresh_tokens WHERE expires_at <= ?`, cutoff)
}
