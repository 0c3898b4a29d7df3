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
	"github.com/siac-app/assistant/internal/services/gateway"
)

// Server hosts the MCP tool gateway over HTTP.
type Server struct {
	listener   net.Listener
	httpServer *http.Server
	store      *authsqlite.Store
}

// grantTokenSource resolves bearer tokens through the shared grant store.
type grantTokenSource struct {
	store *oauth.Store
}

func (g grantTokenSource) LookupToken(ctx context.Context, token string) (*gateway.TokenRecord, error) {
	_ = ctx
	access, err := g.store.GetAccessToken(token, time.Now())
	if err != nil {
		return nil, err
	}
	if access == nil {
		return nil, nil
	}
	return &gateway.TokenRecord{
		Token:     access.Token,
		ClientID:  access.ClientID,
		UserID:    access.UserID,
		Scope:     access.Scope,
		Issuer:    access.Issuer,
		Audience:  access.Audience,
		ExpiresAt: access.ExpiresAt,
	}, nil
}

// New creates a configured gateway server listening on addr. The gateway
// reads the same SQLite database the authorization server writes.
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

	config := gateway.LoadConfigFromEnv()
	source := grantTokenSource{store: oauth.NewStore(store.DB())}

	mux := http.NewServeMux()
	gateway.NewServer(config, source).RegisterRoutes(mux)

	return &Server{
		listener:   listener,
		httpServer: &http.Server{Handler: mux},
		store:      store,
	}, nil
}

// Addr returns the listener address for the gateway server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a gateway server until the context ends.
func Run(ctx context.Context, addr string) error {
	httpServer, err := New(addr)
	if err != nil {
		return err
	}
	return httpServer.Serve(ctx)
}

// Serve starts the gateway server and blocks until it stops or the context
// ends.
func (s *Server) Serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.closeStore()

	log.Printf("gateway server listening at %v", s.listener.Addr())
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
