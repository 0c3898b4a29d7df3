package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/siac-app/assistant/internal/services/auth/oauth"
	authsqlite "github.com/siac-app/assistant/internal/services/auth/storage/sqlite"
	"golang.org/x/crypto/bcrypt"
)

// Server hosts the authorization service over HTTP.
type Server struct {
	listener    net.Listener
	httpServer  *http.Server
	store       *authsqlite.Store
	oauthStore  *oauth.Store
	oauthServer *oauth.Server
}

// New creates a configured authorization server listening on addr.
func New(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := openAuthStore()
	if err != nil {
		_ = listener.Close()
		return nil, err
	}

	oauthStore := oauth.NewStore(store.DB())
	oauthConfig := oauth.LoadConfigFromEnv()
	if oauthConfig.Issuer == "" {
		oauthConfig.Issuer = defaultIssuer(addr)
	}
	if err := bootstrapUsers(oauthStore, oauthConfig); err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}
	if err := seedClients(oauthStore, oauthConfig); err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, err
	}

	mux := http.NewServeMux()
	oauthServer := oauth.NewServer(oauthConfig, oauthStore)
	oauthServer.RegisterRoutes(mux)

	return &Server{
		listener:    listener,
		httpServer:  &http.Server{Handler: mux},
		store:       store,
		oauthStore:  oauthStore,
		oauthServer: oauthServer,
	}, nil
}

// Addr returns the listener address for the authorization server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves an authorization server until the context ends.
func Run(ctx context.Context, addr string) error {
	httpServer, err := New(addr)
	if err != nil {
		return err
	}
	return httpServer.Serve(ctx)
}

// Serve starts the authorization server and blocks until it stops or the
// context ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	serverCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.closeStore()

	s.oauthServer.StartCleanup(serverCtx, 5*time.Minute)

	log.Printf("authorization server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.httpServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		err := <-serveErr
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

func openAuthStore() (*authsqlite.Store, error) {
	path := strings.TrimSpace(os.Getenv("SIAC_AUTH_DB_PATH"))
	if path == "" {
		path = filepath.Join("data", "auth.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	store, err := authsqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth sqlite store: %w", err)
	}
	return store, nil
}

func (s *Server) closeStore() {
	if s == nil {
		return
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close auth store: %v", err)
		}
	}
}

func defaultIssuer(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}

// bootstrapUsers seeds configured credentialed users so the login form works
// out of the box.
func bootstrapUsers(store *oauth.Store, config oauth.Config) error {
	if store == nil {
		return nil
	}
	now := time.Now().UTC()
	for _, bootstrap := range config.BootstrapUsers {
		email := strings.TrimSpace(bootstrap.Email)
		password := strings.TrimSpace(bootstrap.Password)
		if email == "" || password == "" {
			continue
		}

		existing, err := store.GetUserByEmail(email)
		if err != nil {
			return fmt.Errorf("lookup bootstrap user: %w", err)
		}
		userID := ""
		if existing != nil {
			userID = existing.UserID
		}
		if userID == "" {
			suffix, err := oauth.GenerateID(8)
			if err != nil {
				return fmt.Errorf("generate user id: %w", err)
			}
			userID = "user_" + suffix
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash bootstrap password: %w", err)
		}

		user := oauth.User{
			UserID:       userID,
			Email:        email,
			PasswordHash: string(hash),
			ClientID:     strings.TrimSpace(bootstrap.ClientID),
			ClientName:   strings.TrimSpace(bootstrap.ClientName),
			DisplayName:  strings.TrimSpace(bootstrap.DisplayName),
			Roles:        bootstrap.Roles,
			Permissions:  bootstrap.Permissions,
			Active:       true,
		}
		if err := store.UpsertUser(user, now); err != nil {
			return fmt.Errorf("store bootstrap user: %w", err)
		}
	}
	return nil
}

// seedClients persists statically configured clients so dynamic lookups see
// them alongside registered ones.
func seedClients(store *oauth.Store, config oauth.Config) error {
	if store == nil {
		return nil
	}
	now := time.Now().UTC()
	for _, client := range config.Clients {
		if strings.TrimSpace(client.ID) == "" {
			continue
		}
		existing, err := store.GetClient(client.ID)
		if err != nil {
			return fmt.Errorf("lookup seeded client: %w", err)
		}
		if existing != nil {
			continue
		}
		if err := store.InsertClient(client, now); err != nil {
			return fmt.Errorf("store seeded client: %w", err)
		}
	}
	return nil
}
