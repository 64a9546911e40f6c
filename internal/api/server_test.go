package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"SettleFlow-Chain/internal/action"
	"SettleFlow-Chain/internal/auth"
	"SettleFlow-Chain/internal/job"
	"SettleFlow-Chain/internal/orchestrator"
	"SettleFlow-Chain/internal/record"
	"SettleFlow-Chain/internal/settlement"
	"SettleFlow-Chain/internal/settlement/provider"
	"SettleFlow-Chain/internal/tools"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	records := record.NewMemoryStore()
	jobs := job.NewMemoryStore()
	accounts, err := auth.NewService(records, auth.Config{Secret: "test"})
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}

	producers := make(map[job.Category]job.Producer)
	for _, category := range job.Categories() {
		queue := job.NewMemoryQueue(16)
		producers[category] = queue
		t.Cleanup(func() { _ = queue.Close() })
	}

	registry := provider.NewStaticRegistry("Base", map[string]settlement.Client{})
	handlers, err := tools.NewService(records, jobs, producers, accounts, registry)
	if err != nil {
		t.Fatalf("tools.NewService: %v", err)
	}
	dispatcher, err := orchestrator.New(handlers)
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}

	validator := action.NewValidator([]string{"Base"})
	return NewServer(":0", validator, dispatcher, handlers, accounts, WithQueueDriver("memory"))
}

func postAction(t *testing.T, handler http.Handler, body map[string]any, token string) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/actions", bytes.NewReader(raw))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func TestActionEndpointAccountFlow(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	resp := postAction(t, handler, map[string]any{
		"kind": "signup", "username": "alice", "password": "pw",
	}, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("signup status = %d, body %s", resp.Code, resp.Body.String())
	}

	resp = postAction(t, handler, map[string]any{
		"kind": "signin", "username": "alice", "password": "pw",
	}, "")
	if resp.Code != http.StatusOK {
		t.Fatalf("signin status = %d, body %s", resp.Code, resp.Body.String())
	}
	var signin struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Kind    string `json:"kind"`
		Data    struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &signin); err != nil {
		t.Fatalf("decode signin: %v", err)
	}
	if !signin.Success || signin.Message == "" || signin.Kind != "signin" {
		t.Fatalf("unexpected envelope: %s", resp.Body.String())
	}
	if signin.Data.AccessToken == "" {
		t.Fatalf("missing access token: %s", resp.Body.String())
	}

	// 无身份的别名登记被拒绝，带令牌后成功。
	aliasBody := map[string]any{
		"kind": "create_alias", "label": "mom", "address": "0xmom",
	}
	if resp := postAction(t, handler, aliasBody, ""); resp.Code != http.StatusPreconditionFailed {
		t.Fatalf("anonymous alias status = %d, want 412", resp.Code)
	}
	if resp := postAction(t, handler, aliasBody, signin.Data.AccessToken); resp.Code != http.StatusOK {
		t.Fatalf("alias status = %d, body %s", resp.Code, resp.Body.String())
	}
}

func TestActionEndpointRejectsBadInput(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	if resp := postAction(t, handler, map[string]any{"kind": "freeze_account"}, ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("unknown kind status = %d, want 400", resp.Code)
	}
	if resp := postAction(t, handler, map[string]any{"kind": "transfer"}, ""); resp.Code != http.StatusBadRequest {
		t.Fatalf("missing fields status = %d, want 400", resp.Code)
	}

	var errBody struct {
		Success bool   `json:"success"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	resp := postAction(t, handler, map[string]any{"kind": "freeze_account"}, "")
	if err := json.Unmarshal(resp.Body.Bytes(), &errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody.Success {
		t.Fatal("error envelope must not claim success")
	}
	if errBody.Code != "UNKNOWN_ACTION" {
		t.Fatalf("code = %s, want UNKNOWN_ACTION", errBody.Code)
	}
}

func TestActionEndpointRejectsInvalidToken(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	resp := postAction(t, handler, map[string]any{
		"kind": "signup", "username": "bob", "password": "pw",
	}, "not-a-token")
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	recorder := httptest.NewRecorder()
	server.Handler().ServeHTTP(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}
	var health struct {
		Status      string   `json:"status"`
		Actions     []string `json:"actions"`
		QueueDriver string   `json:"queue_driver"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.QueueDriver != "memory" || len(health.Actions) == 0 {
		t.Fatalf("unexpected health: %+v", health)
	}
}

func TestQueueEndpoint(t *testing.T) {
	server := newTestServer(t)
	handler := server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queues/transfer", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", recorder.Code, recorder.Body.String())
	}
	var snapshot struct {
		Metrics job.Metrics `json:"metrics"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if snapshot.Metrics.Category != job.CategoryTransfer {
		t.Fatalf("category = %s, want transfer", snapshot.Metrics.Category)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/queues/unknown", nil)
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("unknown category status = %d, want 400", recorder.Code)
	}
}
