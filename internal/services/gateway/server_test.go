package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newGatewayServer(records map[string]*TokenRecord) *Server {
	config := Config{
		Issuer:            "https://auth.siac-app.com",
		ResourceServerURL: "https://api.siac-app.com/mcp",
		RequiredScope:     "siac.user.full_access",
		Audience:          "siac-assistant",
		ProtectedTools: map[string]bool{
			"siac.register_template": true,
			"siac.send_broadcast":    true,
		},
	}
	return NewServer(config, fakeTokenSource{records: records})
}

func postRPC(t *testing.T, server *Server, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	w := httptest.NewRecorder()
	server.handleMCP(w, req)
	return w
}

func decodeRPC(t *testing.T, w *httptest.ResponseRecorder) rpcResponse {
	t.Helper()
	var resp rpcResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode rpc response: %v", err)
	}
	return resp
}

func resultMap(t *testing.T, resp rpcResponse) map[string]interface{} {
	t.Helper()
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("expected object result, got %T", resp.Result)
	}
	return result
}

func TestDispatchCoreMethods(t *testing.T) {
	t.Run("initialize", func(t *testing.T) {
		server := newGatewayServer(nil)
		w := postRPC(t, server, `{"jsonrpc":"2.0","id":1,"method":"initialize"}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		result := resultMap(t, decodeRPC(t, w))
		if result["protocolVersion"] != "2024-11-05" {
			t.Errorf("protocolVersion = %v", result["protocolVersion"])
		}
		serverInfo, _ := result["serverInfo"].(map[string]interface{})
		if serverInfo["name"] != "SIAC Assistant MCP Server" || serverInfo["version"] != "1.0.0" {
			t.Errorf("serverInfo = %v", serverInfo)
		}
	})

	t.Run("ping", func(t *testing.T) {
		server := newGatewayServer(nil)
		w := postRPC(t, server, `{"jsonrpc":"2.0","id":2,"method":"ping"}`, nil)
		resp := decodeRPC(t, w)
		if resp.Error != nil {
			t.Fatalf("unexpected error: %+v", resp.Error)
		}
		if result := resultMap(t, resp); len(result) != 0 {
			t.Fatalf("expected empty result, got %v", result)
		}
	})

	t.Run("notification has no body", func(t *testing.T) {
		server := newGatewayServer(nil)
		w := postRPC(t, server, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
		if w.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", w.Code)
		}
		if w.Body.Len() != 0 {
			t.Fatalf("expected empty body, got %q", w.Body.String())
		}
	})

	t.Run("unknown method", func(t *testing.T) {
		server := newGatewayServer(nil)
		w := postRPC(t, server, `{"jsonrpc":"2.0","id":3,"method":"bogus/thing"}`, nil)
		resp := decodeRPC(t, w)
		if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
			t.Fatalf("expected -32601, got %+v", resp.Error)
		}
		if resp.Error.Message != "Method not found: bogus/thing" {
			t.Errorf("message = %q", resp.Error.Message)
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		server := newGatewayServer(nil)
		w := postRPC(t, server, `{not json`, nil)
		resp := decodeRPC(t, w)
		if resp.Error == nil || resp.Error.Code != codeParseError {
			t.Fatalf("expected -32700, got %+v", resp.Error)
		}
	})
}

func TestDispatchPublicLists(t *testing.T) {
	// No Authorization header anywhere: discovery must never be gated.
	server := newGatewayServer(nil)

	t.Run("tools/list", func(t *testing.T) {
		w := postRPC(t, server, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		result := resultMap(t, decodeRPC(t, w))
		tools, _ := result["tools"].([]interface{})
		if len(tools) != 4 {
			t.Fatalf("expected 4 tools, got %d", len(tools))
		}
		first, _ := tools[0].(map[string]interface{})
		if first["name"] != "siac.validate_template" {
			t.Errorf("first tool = %v", first["name"])
		}
		meta, _ := first["_meta"].(map[string]interface{})
		if meta["openai/outputTemplate"] != "ui://widget/TemplateValidationCard.html" {
			t.Errorf("_meta = %v", meta)
		}
	})

	t.Run("resources/list", func(t *testing.T) {
		w := postRPC(t, server, `{"jsonrpc":"2.0","id":2,"method":"resources/list"}`, nil)
		result := resultMap(t, decodeRPC(t, w))
		resources, _ := result["resources"].([]interface{})
		if len(resources) != 1 {
			t.Fatalf("expected 1 resource, got %d", len(resources))
		}
		resource, _ := resources[0].(map[string]interface{})
		if resource["uri"] != "siac://system/status" {
			t.Errorf("resource uri = %v", resource["uri"])
		}
	})

	t.Run("prompts/list", func(t *testing.T) {
		w := postRPC(t, server, `{"jsonrpc":"2.0","id":3,"method":"prompts/list"}`, nil)
		result := resultMap(t, decodeRPC(t, w))
		prompts, _ := result["prompts"].([]interface{})
		if len(prompts) != 1 {
			t.Fatalf("expected 1 prompt, got %d", len(prompts))
		}
	})

	t.Run("public tool call needs no token", func(t *testing.T) {
		w := postRPC(t, server, `{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"siac.get_campaign_metrics","arguments":{"campaign_id":"demo-1"}}}`, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		resp := decodeRPC(t, w)
		if resp.Error != nil {
			t.Fatalf("unexpected error: %+v", resp.Error)
		}
	})
}

func TestDispatchProtectedToolAuth(t *testing.T) {
	callBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"siac.register_template","arguments":{"template_id":"tpl-1","meta_template_id":"meta-1","client_id":"c-1"}}}`

	wantChallenge := `Bearer realm="https://api.siac-app.com/mcp", scope="siac.user.full_access"`

	t.Run("missing header", func(t *testing.T) {
		server := newGatewayServer(nil)
		w := postRPC(t, server, callBody, nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
		if got := w.Header().Get("WWW-Authenticate"); got != wantChallenge {
			t.Fatalf("WWW-Authenticate = %q, want %q", got, wantChallenge)
		}
		var body map[string]interface{}
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["status_code"] != float64(401) || body["timestamp"] == "" || body["error"] == "" {
			t.Fatalf("unexpected failure body: %v", body)
		}
	})

	t.Run("bad prefix", func(t *testing.T) {
		server := newGatewayServer(nil)
		header := http.Header{"Authorization": {"Basic abc"}}
		w := postRPC(t, server, callBody, header)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		server := newGatewayServer(nil)
		header := http.Header{"Authorization": {"Bearer nope"}}
		w := postRPC(t, server, callBody, header)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
		if got := w.Header().Get("WWW-Authenticate"); got != wantChallenge {
			t.Fatalf("WWW-Authenticate = %q", got)
		}
	})

	t.Run("expired token", func(t *testing.T) {
		record := validRecord()
		record.ExpiresAt = time.Now().Add(-time.Minute)
		server := newGatewayServer(map[string]*TokenRecord{"valid-token": record})
		header := http.Header{"Authorization": {"Bearer valid-token"}}
		w := postRPC(t, server, callBody, header)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})

	t.Run("valid token returns result", func(t *testing.T) {
		server := newGatewayServer(map[string]*TokenRecord{"valid-token": validRecord()})
		header := http.Header{"Authorization": {"Bearer valid-token"}}
		w := postRPC(t, server, callBody, header)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		resp := decodeRPC(t, w)
		if resp.Error != nil {
			t.Fatalf("unexpected error: %+v", resp.Error)
		}
		result := resultMap(t, resp)
		structured, _ := result["structuredContent"].(map[string]interface{})
		if structured["status"] != "REGISTRATION_COMPLETE" {
			t.Fatalf("status = %v", structured["status"])
		}
	})

	t.Run("gate runs before dispatch", func(t *testing.T) {
		// Same call twice against the same server: auth outcome only
		// depends on the credential, never on prior calls.
		server := newGatewayServer(map[string]*TokenRecord{"valid-token": validRecord()})
		authed := http.Header{"Authorization": {"Bearer valid-token"}}
		if w := postRPC(t, server, callBody, authed); w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if w := postRPC(t, server, callBody, nil); w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 after previous success, got %d", w.Code)
		}
	})
}

func TestDispatchToolResultEnvelope(t *testing.T) {
	server := newGatewayServer(nil)
	body := `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"siac.validate_template","arguments":{"template_name":"welcome","body_text":"Hola {{1}}, bienvenido a SIAC.","category":"Utility","language_code":"es_ES"}}}`
	w := postRPC(t, server, body, nil)
	result := resultMap(t, decodeRPC(t, w))

	content, _ := result["content"].([]interface{})
	if len(content) != 1 {
		t.Fatalf("expected single content item, got %d", len(content))
	}
	text, _ := content[0].(map[string]interface{})
	if text["type"] != "text" {
		t.Fatalf("content type = %v", text["type"])
	}
	summary, _ := text["text"].(string)

	structured, _ := result["structuredContent"].(map[string]interface{})
	if structured["validation_status"] != "SUCCESS" {
		t.Fatalf("validation_status = %v", structured["validation_status"])
	}
	meta, _ := result["_meta"].(map[string]interface{})
	if meta == nil {
		t.Fatal("expected _meta in result")
	}
	// Widget detail stays out of the model-visible summary.
	if strings.Contains(summary, "raw_payload_for_preview") {
		t.Fatal("expected widget metadata kept out of summary text")
	}
	if _, ok := meta["raw_payload_for_preview"]; !ok {
		t.Fatal("expected widget payload under _meta")
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	server := newGatewayServer(nil)
	w := postRPC(t, server, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"siac.nope"}}`, nil)
	resp := decodeRPC(t, w)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected -32601 for unknown tool, got %+v", resp.Error)
	}
}

func TestHandleHealth(t *testing.T) {
	server := newGatewayServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.handleHealth(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Fatalf("status = %q", resp["status"])
	}
}
