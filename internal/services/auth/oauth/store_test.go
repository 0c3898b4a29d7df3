package oauth

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	authsqlite "github.com/siac-app/assistant/internal/services/auth/storage/sqlite"
	"golang.org/x/crypto/bcrypt"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	authStore, err := authsqlite.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open auth store: %v", err)
	}
	t.Cleanup(func() { authStore.Close() })
	return NewStore(authStore.DB())
}

func seedUser(t *testing.T, store *Store, email, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := User{
		UserID:       "user_" + email,
		Email:        email,
		PasswordHash: string(hash),
		ClientID:     "cliente_siac_principal",
		ClientName:   "SIAC Principal",
		DisplayName:  "Test User",
		Roles:        []string{"user"},
		Permissions:  []string{"read"},
		Active:       true,
	}
	if err := store.UpsertUser(user, time.Now()); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user.UserID
}

func TestAuthenticate(t *testing.T) {
	store := testStore(t)
	userID := seedUser(t, store, "admin@siac.com", "admin123")

	t.Run("valid credentials", func(t *testing.T) {
		user, err := store.Authenticate("admin@siac.com", "admin123")
		if err != nil {
			t.Fatalf("authenticate: %v", err)
		}
		if user == nil || user.UserID != userID {
			t.Fatalf("expected user %s, got %+v", userID, user)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		user, err := store.Authenticate("admin@siac.com", "nope")
		if err != nil || user != nil {
			t.Fatalf("expected uniform nil failure, got user=%v err=%v", user, err)
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		user, err := store.Authenticate("ghost@siac.com", "admin123")
		if err != nil || user != nil {
			t.Fatalf("expected uniform nil failure, got user=%v err=%v", user, err)
		}
	})

	t.Run("inactive account", func(t *testing.T) {
		hash, _ := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
		inactive := User{
			UserID:       "user_inactive",
			Email:        "inactive@siac.com",
			PasswordHash: string(hash),
			Active:       false,
		}
		if err := store.UpsertUser(inactive, time.Now()); err != nil {
			t.Fatalf("seed inactive user: %v", err)
		}
		user, err := store.Authenticate("inactive@siac.com", "pw")
		if err != nil || user != nil {
			t.Fatalf("expected uniform nil failure, got user=%v err=%v", user, err)
		}
	})
}

func TestConsumeAuthorizationCodeSingleUse(t *testing.T) {
	store := testStore(t)
	now := time.Now()

	code, err := store.CreateAuthorizationCode(AuthorizationRequest{
		ClientID:    "test-client",
		RedirectURI: "https://cb.example/callback",
		Scope:       "siac.user.full_access",
	}, "user_1", now, 10*time.Minute)
	if err != nil {
		t.Fatalf("create code: %v", err)
	}

	first, err := store.ConsumeAuthorizationCode(code.Code, now)
	if err != nil {
		t.Fatalf("consume code: %v", err)
	}
	if first == nil || first.UserID != "user_1" {
		t.Fatalf("expected stored record on first consume, got %+v", first)
	}

	second, err := store.ConsumeAuthorizationCode(code.Code, now)
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if second != nil {
		t.Fatal("expected second consume to observe invalid")
	}
}

func TestConsumeAuthorizationCodeConcurrent(t *testing.T) {
	store := testStore(t)
	now := time.Now()

	code, err := store.CreateAuthorizationCode(AuthorizationRequest{
		ClientID:    "test-client",
		RedirectURI: "https://cb.example/callback",
		Scope:       "siac.user.full_access",
	}, "user_1", now, 10*time.Minute)
	if err != nil {
		t.Fatalf("create code: %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	results := make(chan *AuthorizationCode, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumed, err := store.ConsumeAuthorizationCode(code.Code, now)
			if err != nil {
				t.Errorf("consume code: %v", err)
				return
			}
			results <- consumed
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for consumed := range results {
		if consumed != nil {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestConsumeAuthorizationCodeExpired(t *testing.T) {
	store := testStore(t)
	issued := time.Now()

	code, err := store.CreateAuthorizationCode(AuthorizationRequest{
		ClientID:    "test-client",
		RedirectURI: "https://cb.example/callback",
		Scope:       "siac.user.full_access",
	}, "user_1", issued, 10*time.Minute)
	if err != nil {
		t.Fatalf("create code: %v", err)
	}

	consumed, err := store.ConsumeAuthorizationCode(code.Code, issued.Add(11*time.Minute))
	if err != nil {
		t.Fatalf("consume expired code: %v", err)
	}
	if consumed != nil {
		t.Fatal("expected expired code to be invalid even though it was found")
	}
}

func TestGetAccessTokenLazyEviction(t *testing.T) {
	store := testStore(t)
	issued := time.Now()

	token, err := store.CreateAccessToken("test-client", "user_1", "siac.user.full_access",
		"https://auth.siac-app.com", "siac-assistant", issued, 24*time.Hour)
	if err != nil {
		t.Fatalf("create access token: %v", err)
	}

	live, err := store.GetAccessToken(token.Token, issued.Add(time.Hour))
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if live == nil {
		t.Fatal("expected unexpired token to be returned")
	}
	if live.Issuer != "https://auth.siac-app.com" || live.Audience != "siac-assistant" {
		t.Fatalf("expected stamped claims, got issuer=%q audience=%q", live.Issuer, live.Audience)
	}

	expired, err := store.GetAccessToken(token.Token, issued.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("get expired token: %v", err)
	}
	if expired != nil {
		t.Fatal("expected expired token to be invalid")
	}

	// Eviction is a side effect of the expired read: a later lookup at a
	// valid time must still miss.
	gone, err := store.GetAccessToken(token.Token, issued.Add(time.Hour))
	if err != nil {
		t.Fatalf("get evicted token: %v", err)
	}
	if gone != nil {
		t.Fatal("expected evicted token to stay gone")
	}
}

func TestDeleteAccessTokenIdempotent(t *testing.T) {
	store := testStore(t)
	now := time.Now()

	token, err := store.CreateAccessToken("test-client", "user_1", "s",
		"https://auth.siac-app.com", "siac-assistant", now, time.Hour)
	if err != nil {
		t.Fatalf("create access token: %v", err)
	}

	store.DeleteAccessToken(token.Token)
	store.DeleteAccessToken(token.Token)

	got, err := store.GetAccessToken(token.Token, now)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if got != nil {
		t.Fatal("expected revoked token to be gone")
	}
}

func TestConsumeRefreshTokenRotation(t *testing.T) {
	store := testStore(t)
	now := time.Now()

	refresh, err := store.CreateRefreshToken("test-client", "user_1", "siac.user.full_access", now, 720*time.Hour)
	if err != nil {
		t.Fatalf("create refresh token: %v", err)
	}

	first, err := store.ConsumeRefreshToken(refresh.Token, now)
	if err != nil {
		t.Fatalf("consume refresh token: %v", err)
	}
	if first == nil || first.UserID != "user_1" || first.Scope != "siac.user.full_access" {
		t.Fatalf("expected stored record, got %+v", first)
	}

	second, err := store.ConsumeRefreshToken(refresh.Token, now)
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if second != nil {
		t.Fatal("expected refresh token to be single-use")
	}
}

func TestConsumeRefreshTokenExpired(t *testing.T) {
	store := testStore(t)
	issued := time.Now()

	refresh, err := store.CreateRefreshToken("test-client", "user_1", "s", issued, time.Hour)
	if err != nil {
		t.Fatalf("create refresh token: %v", err)
	}

	consumed, err := store.ConsumeRefreshToken(refresh.Token, issued.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("consume expired refresh token: %v", err)
	}
	if consumed != nil {
		t.Fatal("expected expired refresh token to be invalid")
	}
}

func TestClientRoundTrip(t *testing.T) {
	store := testStore(t)
	now := time.Now()

	client := Client{
		ID:                      "siac_client_abc",
		Secret:                  "secret_xyz",
		Name:                    "SIAC MCP Client",
		RedirectURIs:            []string{"https://chatgpt.com/oauth/callback"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
	}
	if err := store.InsertClient(client, now); err != nil {
		t.Fatalf("insert client: %v", err)
	}

	got, err := store.GetClient("siac_client_abc")
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	if got == nil {
		t.Fatal("expected registered client")
	}
	if got.Name != client.Name || len(got.RedirectURIs) != 1 || got.RedirectURIs[0] != client.RedirectURIs[0] {
		t.Fatalf("client mismatch: %+v", got)
	}

	missing, err := store.GetClient("unknown")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for unknown client, got client=%v err=%v", missing, err)
	}
}

func TestCleanupExpired(t *testing.T) {
	store := testStore(t)
	issued := time.Now()

	code, err := store.CreateAuthorizationCode(AuthorizationRequest{
		ClientID:    "test-client",
		RedirectURI: "https://cb.example/callback",
	}, "user_1", issued, time.Minute)
	if err != nil {
		t.Fatalf("create code: %v", err)
	}
	token, err := store.CreateAccessToken("test-client", "user_1", "s",
		"https://auth.siac-app.com", "siac-assistant", issued, time.Minute)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	store.CleanupExpired(issued.Add(time.Hour))

	if consumed, _ := store.ConsumeAuthorizationCode(code.Code, issued); consumed != nil {
		t.Fatal("expected swept code to be gone")
	}
	if got, _ := store.GetAccessToken(token.Token, issued); got != nil {
		t.Fatal("expected swept token to be gone")
	}
}
