package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/basinlabs/relaykit/internal/agent"
	"github.com/basinlabs/relaykit/internal/artifacts"
	"github.com/basinlabs/relaykit/internal/config"
	"github.com/basinlabs/relaykit/internal/sessions"
	"github.com/basinlabs/relaykit/internal/tools/codeinterpreter"
)

// echoProvider is a minimal agent.LLMProvider that streams back a fixed
// reply so handleChatCompletions can be exercised end-to-end without a
// real upstream LLM.
type echoProvider struct{}

func (echoProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	ch := make(chan *agent.CompletionChunk, 2)
	ch <- &agent.CompletionChunk{Text: "hello from the gateway"}
	ch <- &agent.CompletionChunk{Done: true}
	close(ch)
	return ch, nil
}

func (echoProvider) Name() string { return "echo" }

func (echoProvider) Models() []agent.Model { return nil }

func (echoProvider) SupportsTools() bool { return false }

func newTestServer() *Server {
	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.HTTPPort = 0

	runtime := agent.NewRuntime(echoProvider{}, sessions.NewMemoryStore())

	return NewServer(Deps{
		Config:   cfg,
		Runtime:  runtime,
		Sessions: sessions.NewMemoryStore(),
	})
}

func TestHandleHealthz(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	s.handleHealthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want %q", body["status"], "ok")
	}
}

func TestHandleChatCompletions_RejectsWrongMethod(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()

	s.handleChatCompletions(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
}

func TestHandleChatCompletions_RequiresThreadAssistantAndMessage(t *testing.T) {
	s := newTestServer()
	body := strings.NewReader(`{"message":"hi"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()

	s.handleChatCompletions(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleChatCompletions_StreamsSSE(t *testing.T) {
	s := newTestServer()
	body := strings.NewReader(`{"thread_id":"thread-1","assistant_id":"asst-1","message":"hi there"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()

	s.handleChatCompletions(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/event-stream")
	}
	if rec.Header().Get("X-Run-ID") == "" {
		t.Error("expected a non-empty X-Run-ID header")
	}
	if !strings.Contains(rec.Body.String(), "event: connected") {
		t.Errorf("expected a connected handshake frame, got %q", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "hello from the gateway") {
		t.Errorf("expected streamed content in body, got %q", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "data: [DONE]") {
		t.Errorf("expected a terminal [DONE] frame, got %q", rec.Body.String())
	}
}

func TestHandleChatCompletions_HonorsExplicitRunID(t *testing.T) {
	s := newTestServer()
	body := strings.NewReader(`{"thread_id":"thread-1","assistant_id":"asst-1","message":"hi","run_id":"custom-run-id"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()

	s.handleChatCompletions(rec, req)

	if got := rec.Header().Get("X-Run-ID"); got != "custom-run-id" {
		t.Errorf("X-Run-ID = %q, want %q", got, "custom-run-id")
	}
}

func TestHandleMonitor_RejectsUnknownRun(t *testing.T) {
	s := newTestServer()
	body := strings.NewReader(`{"run_id":"does-not-exist"}`)
	req := httptest.NewRequest(http.MethodPost, "/monitor", body)
	rec := httptest.NewRecorder()

	s.handleMonitor(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestHandleMonitor_RegistersKnownRun(t *testing.T) {
	s := newTestServer()
	body := strings.NewReader(`{"thread_id":"thread-1","assistant_id":"asst-1","message":"hi","run_id":"monitor-me"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	s.handleChatCompletions(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("seed completion failed: status=%d body=%s", rec.Code, rec.Body.String())
	}

	monitorReq := httptest.NewRequest(http.MethodPost, "/monitor", strings.NewReader(`{"run_id":"monitor-me"}`))
	monitorRec := httptest.NewRecorder()
	s.handleMonitor(monitorRec, monitorReq)

	if monitorRec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", monitorRec.Code, http.StatusOK, monitorRec.Body.String())
	}
	var out map[string]string
	if err := json.Unmarshal(monitorRec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if out["status"] != "monitoring_registered" {
		t.Errorf("status field = %q, want %q", out["status"], "monitoring_registered")
	}

	// A second concurrent registration for the same run is idempotent.
	monitorRec2 := httptest.NewRecorder()
	s.handleMonitor(monitorRec2, httptest.NewRequest(http.MethodPost, "/monitor", strings.NewReader(`{"run_id":"monitor-me"}`)))
	if monitorRec2.Code != http.StatusOK {
		t.Fatalf("second registration status = %d, want %d", monitorRec2.Code, http.StatusOK)
	}
	s.monitoredMu.Lock()
	_, ok := s.monitored["monitor-me"]
	count := len(s.monitored)
	s.monitoredMu.Unlock()
	if !ok || count != 1 {
		t.Errorf("expected exactly one registration for monitor-me, got count=%d present=%v", count, ok)
	}
}

func TestHandleSubscribe_WithoutMirrorIsNotImplemented(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/run-1/subscribe", nil)
	rec := httptest.NewRecorder()

	s.handleSubscribe(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotImplemented)
	}
}

func TestHandleDownloadArtifact_WithoutRepositoryIsNotImplemented(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/v1/artifacts/abc", nil)
	rec := httptest.NewRecorder()

	s.handleDownloadArtifact(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotImplemented)
	}
}

func TestHandleDownloadArtifact_ServesStoredBytesWithValidToken(t *testing.T) {
	s := newTestServer()
	store, err := artifacts.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	repo := artifacts.NewMemoryRepository(store, nil)
	s.artifacts = repo
	s.artifactSignedURLSecret = "test-secret"

	meta := &artifacts.Artifact{Type: "file", MimeType: "text/plain", Filename: "out.txt"}
	if err := repo.StoreArtifact(context.Background(), meta, strings.NewReader("hello artifact")); err != nil {
		t.Fatalf("StoreArtifact: %v", err)
	}

	token, err := codeinterpreter.SignDownloadURL("test-secret", "", meta.Id, 0)
	if err != nil {
		t.Fatalf("SignDownloadURL: %v", err)
	}
	token = strings.TrimPrefix(token, "?token=")

	req := httptest.NewRequest(http.MethodGet, "/v1/artifacts/"+meta.Id+"?token="+token, nil)
	rec := httptest.NewRecorder()

	s.handleDownloadArtifact(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", rec.Code, http.StatusOK, rec.Body.String())
	}
	got, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(got, []byte("hello artifact")) {
		t.Errorf("body = %q, want %q", got, "hello artifact")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q, want %q", ct, "text/plain")
	}
}

func TestHandleDownloadArtifact_RejectsInvalidToken(t *testing.T) {
	s := newTestServer()
	store, err := artifacts.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	s.artifacts = artifacts.NewMemoryRepository(store, nil)
	s.artifactSignedURLSecret = "test-secret"

	req := httptest.NewRequest(http.MethodGet, "/v1/artifacts/some-id?token=garbage", nil)
	rec := httptest.NewRecorder()

	s.handleDownloadArtifact(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestMux_RequiresAPIKeyWhenConfigured(t *testing.T) {
	s := newTestServer()
	s.cfg.Auth.AdminAPIKey = "secret"

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	s.mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}
