package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	serverName      = "SIAC Assistant MCP Server"
	serverVersion   = "1.0.0"
	protocolVersion = "2024-11-05"
)

// Server hosts the MCP tool gateway endpoints.
type Server struct {
	config   Config
	verifier *Verifier
	tools    *Toolset
	clock    func() time.Time
}

// NewServer builds a gateway server bound to config with tokens resolved
// through source.
func NewServer(config Config, source TokenSource) *Server {
	return &Server{
		config:   config,
		verifier: NewVerifier(source, config),
		tools:    NewToolset(config),
		clock:    time.Now,
	}
}

// RegisterRoutes registers gateway HTTP endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/.well-known/oauth-protected-resource", s.handleProtectedResourceMetadata)
	mux.HandleFunc("/.well-known/oauth-authorization-server", s.handleAuthorizationServerMetadata)
	mux.HandleFunc("/health", s.handleHealth)
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleServerInfo(w, r)
	case http.MethodPost:
		s.dispatch(w, r)
	default:
		s.writeAuthFailure(w, http.StatusMethodNotAllowed, "method not allowed", "")
	}
}

// dispatch routes a JSON-RPC 2.0 request to its method handler. tools/call on
// a protected tool is gated on bearer authorization before any handler runs;
// authorization failures are transport-level 401s, not JSON-RPC errors.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeRPC(w, rpcFailure(nil, codeParseError, "parse error", err.Error()))
		return
	}

	log.Printf("mcp request: method=%s", request.Method)

	switch {
	case request.Method == "initialize":
		writeRPC(w, rpcResult(request.ID, map[string]interface{}{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]interface{}{
				"tools":     map[string]interface{}{"listChanged": true},
				"resources": map[string]interface{}{"subscribe": true, "listChanged": true},
				"prompts":   map[string]interface{}{"listChanged": true},
			},
			"serverInfo": map[string]interface{}{
				"name":    serverName,
				"version": serverVersion,
			},
		}))

	case request.Method == "ping":
		writeRPC(w, rpcResult(request.ID, map[string]interface{}{}))

	case strings.HasPrefix(request.Method, "notifications/"):
		w.WriteHeader(http.StatusAccepted)

	case request.Method == "tools/list":
		writeRPC(w, rpcResult(request.ID, map[string]interface{}{
			"tools": s.tools.Definitions(),
		}))

	case request.Method == "resources/list":
		writeRPC(w, rpcResult(request.ID, map[string]interface{}{
			"resources": []map[string]interface{}{
				{
					"uri":         "siac://system/status",
					"name":        "Estado del Sistema",
					"description": "Estado actual del sistema SIAC",
					"mimeType":    "application/json",
				},
			},
		}))

	case request.Method == "prompts/list":
		writeRPC(w, rpcResult(request.ID, map[string]interface{}{
			"prompts": []map[string]interface{}{
				{
					"name":        "siac_help",
					"description": "Ayuda y documentación del sistema SIAC",
				},
			},
		}))

	case request.Method == "tools/call":
		s.dispatchToolCall(w, r, request)

	default:
		writeRPC(w, rpcFailure(request.ID, codeMethodNotFound, "Method not found: "+request.Method, nil))
	}
}

func (s *Server) dispatchToolCall(w http.ResponseWriter, r *http.Request, request rpcRequest) {
	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if len(request.Params) > 0 {
		if err := json.Unmarshal(request.Params, &params); err != nil {
			writeRPC(w, rpcFailure(request.ID, codeInternalError, "Internal error", err.Error()))
			return
		}
	}

	if s.config.ProtectedTools[params.Name] {
		if !s.authorize(w, r, params.Name) {
			return
		}
	}

	summary, structured, meta, err := s.tools.Execute(r.Context(), params.Name, params.Arguments)
	if err != nil {
		if strings.HasPrefix(err.Error(), "unknown tool") {
			writeRPC(w, rpcFailure(request.ID, codeMethodNotFound, err.Error(), nil))
			return
		}
		log.Printf("tool %s failed: %v", params.Name, err)
		writeRPC(w, rpcFailure(request.ID, codeInternalError, "Internal error", err.Error()))
		return
	}

	result := map[string]interface{}{
		"content": []map[string]interface{}{
			{"type": "text", "text": summary},
		},
	}
	if structured != nil {
		result["structuredContent"] = structured
	}
	if meta != nil {
		result["_meta"] = meta
	}
	writeRPC(w, rpcResult(request.ID, result))
}

// authorize enforces bearer authorization for a protected tool. It writes the
// 401 response itself and reports whether dispatch may continue.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, tool string) bool {
	header := r.Header.Get("Authorization")
	if header == "" {
		log.Printf("authentication required for protected tool %s", tool)
		s.writeAuthFailure(w, http.StatusUnauthorized,
			"Authentication required for tool '"+tool+"'", s.challenge())
		return false
	}
	if !strings.HasPrefix(header, "Bearer ") {
		s.writeAuthFailure(w, http.StatusUnauthorized,
			"Invalid authorization header format", s.challenge())
		return false
	}

	claims, err := s.verifier.Verify(r.Context(), strings.TrimPrefix(header, "Bearer "))
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			s.writeAuthFailure(w, http.StatusUnauthorized, authErr.Reason, authErr.WWWAuthenticate())
			return false
		}
		s.writeAuthFailure(w, http.StatusUnauthorized, "Authentication verification failed", s.challenge())
		return false
	}

	log.Printf("authorized tool %s for user %s", tool, claims.Subject)
	return true
}

func (s *Server) challenge() string {
	return s.tools.challenge()
}

func (s *Server) writeAuthFailure(w http.ResponseWriter, status int, message, challenge string) {
	if challenge != "" {
		w.Header().Set("WWW-Authenticate", challenge)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":       message,
		"status_code": status,
		"timestamp":   s.clock().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"service":   "siac-mcp-gateway",
		"timestamp": s.clock().UTC().Format(time.RFC3339),
	})
}

func writeRPC(w http.ResponseWriter, response rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
