package oauth

import (
	"context"
	"net/http"
	"time"
)

// Server hosts the OAuth 2.1 authorization endpoints.
type Server struct {
	config Config
	store  *Store
	clock  func() time.Time
}

// NewServer builds an OAuth server bound to config and the backing store.
func NewServer(config Config, store *Store) *Server {
	return &Server{
		config: config,
		store:  store,
		clock:  time.Now,
	}
}

// RegisterRoutes registers OAuth HTTP endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/oauth/authorize", s.handleAuthorize)
	mux.HandleFunc("/oauth/login", s.handleLogin)
	mux.HandleFunc("/oauth/token", s.handleToken)
	mux.HandleFunc("/oauth/register", s.handleRegister)
	mux.HandleFunc("/oauth/revoke", s.handleRevoke)
	mux.HandleFunc("/oauth/introspect", s.handleIntrospect)
	mux.HandleFunc("/oauth/userinfo", s.handleUserinfo)
	mux.HandleFunc("/.well-known/openid-configuration", s.handleOpenIDConfiguration)
	mux.HandleFunc("/health", s.handleHealth)
}

// StartCleanup starts periodic expiry cleanup for codes and tokens.
//
// Expired grants are already evicted lazily at read time; the sweep keeps
// rows that are never read again from accumulating.
func (s *Server) StartCleanup(ctx context.Context, interval time.Duration) {
	if s == nil || s.store == nil || interval <= 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.store.CleanupExpired(s.clock().UTC())
			}
		}
	}()
}
