// Package httpapi exposes the gateway's HTTP surface: a completions
// endpoint that drives an agent.Runtime run to completion while streaming
// typed chunks over SSE, a reconnect/replay endpoint backed by the Redis
// stream mirror, health, and Prometheus metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/basinlabs/relaykit/internal/agent"
	"github.com/basinlabs/relaykit/internal/artifacts"
	"github.com/basinlabs/relaykit/internal/config"
	"github.com/basinlabs/relaykit/internal/observability"
	"github.com/basinlabs/relaykit/internal/sessions"
	"github.com/basinlabs/relaykit/internal/sse"
	"github.com/basinlabs/relaykit/internal/tools/codeinterpreter"
	"github.com/basinlabs/relaykit/pkg/models"
)

// Server serves the gateway's HTTP API.
type Server struct {
	cfg       *config.Config
	runtime   *agent.Runtime
	sessions  sessions.Store
	mirror    *sse.Mirror
	artifacts artifacts.Repository
	logger    *observability.Logger
	metrics   *observability.Metrics

	artifactSignedURLSecret string

	monitoredMu sync.Mutex
	monitored   map[string]struct{}

	httpServer   *http.Server
	httpListener net.Listener
}

// Deps bundles the already-constructed collaborators a Server needs.
// Mirror may be nil, in which case reconnect/replay is unavailable and
// completions stream only to the connected client. Artifacts may be nil,
// in which case /v1/artifacts/{id} downloads are unavailable.
type Deps struct {
	Config                  *config.Config
	Runtime                 *agent.Runtime
	Sessions                sessions.Store
	Mirror                  *sse.Mirror
	Artifacts               artifacts.Repository
	ArtifactSignedURLSecret string
	Logger                  *observability.Logger
	Metrics                 *observability.Metrics
}

// NewServer wires a Server from its dependencies.
func NewServer(deps Deps) *Server {
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics()
	}
	return &Server{
		cfg:                     deps.Config,
		runtime:                 deps.Runtime,
		sessions:                deps.Sessions,
		mirror:                  deps.Mirror,
		artifacts:               deps.Artifacts,
		artifactSignedURLSecret: deps.ArtifactSignedURLSecret,
		logger:                  deps.Logger,
		metrics:                 deps.Metrics,
		monitored:               make(map[string]struct{}),
	}
}

func (s *Server) mux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)

	var completions http.Handler = http.HandlerFunc(s.handleChatCompletions)
	var subscribe http.Handler = http.HandlerFunc(s.handleSubscribe)
	var monitor http.Handler = http.HandlerFunc(s.handleMonitor)
	if key := s.cfg.Auth.AdminAPIKey; key != "" {
		completions = requireAPIKey(completions, key)
		subscribe = requireAPIKey(subscribe, key)
		monitor = requireAPIKey(monitor, key)
	}
	mux.Handle("/v1/chat/completions", completions)
	mux.Handle("/v1/runs/", subscribe)
	mux.Handle("/monitor", monitor)
	// Artifact downloads are authenticated by their own signed token rather
	// than the admin API key, so no requireAPIKey wrapping here.
	mux.HandleFunc("/v1/artifacts/", s.handleDownloadArtifact)

	return loggingMiddleware(s.logger, s.metrics, mux)
}

// Start binds the listener and begins serving in the background. It
// returns once the listener is ready; call Stop to shut down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.HTTPPort)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux(),
		ReadHeaderTimeout: s.cfg.Server.ReadHeaderTimeout,
	}
	s.httpListener = listener

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.logger != nil {
				s.logger.Error(ctx, "http server error", "error", err)
			}
		}
	}()

	if s.logger != nil {
		s.logger.Info(ctx, "http server started", "addr", addr)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down within ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}

// chatCompletionsRequest is the request body for /v1/chat/completions.
// thread_id and assistant_id address the conversation (the gateway's local
// stand-in for the Storage API's Thread/Assistant records); message_id and
// run_id, if supplied, pin the ids assigned to the new message and run
// instead of letting the gateway generate them; provider and api_key, if
// supplied, override routing and authentication for this call only.
type chatCompletionsRequest struct {
	Provider    string `json:"provider,omitempty"`
	Model       string `json:"model,omitempty"`
	APIKey      string `json:"api_key,omitempty"`
	ThreadID    string `json:"thread_id"`
	MessageID   string `json:"message_id,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	AssistantID string `json:"assistant_id"`
	Message     string `json:"message"`
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatCompletionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ThreadID == "" || req.AssistantID == "" || req.Message == "" {
		http.Error(w, "thread_id, assistant_id, and message are required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	session, err := s.sessions.GetOrCreate(ctx, req.ThreadID, req.AssistantID, models.ChannelAPI, req.ThreadID)
	if err != nil {
		s.writeError(w, ctx, "get_or_create session failed", err)
		return
	}

	msgID := req.MessageID
	if msgID == "" {
		msgID = fmt.Sprintf("%s-%d", session.ID, time.Now().UnixNano())
	}
	userMsg := &models.Message{
		ID:        msgID,
		SessionID: session.ID,
		Channel:   models.ChannelAPI,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   req.Message,
		CreatedAt: time.Now(),
	}
	if err := s.sessions.AppendMessage(ctx, session.ID, userMsg); err != nil {
		s.writeError(w, ctx, "append message failed", err)
		return
	}

	if req.Model != "" {
		ctx = agent.WithModel(ctx, req.Model)
	}
	if req.Provider != "" {
		ctx = agent.WithProvider(ctx, req.Provider)
	}
	if req.APIKey != "" {
		ctx = agent.WithResolvedAPIKey(ctx, req.APIKey)
	}

	runID := req.RunID
	if runID == "" {
		runID = session.ID + "-" + userMsg.ID
	}
	ctx = agent.WithRunIDOverride(ctx, runID)

	chunks, err := s.runtime.Process(ctx, session, userMsg)
	if err != nil {
		s.writeError(w, ctx, "process failed", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Run-ID", runID)
	w.WriteHeader(http.StatusOK)

	writeSSE(w, sseFrame{event: "connected", data: json.RawMessage(fmt.Sprintf(`{"run_id":%q}`, runID))})
	flusher.Flush()

	demux := newChunkEncoder(runID, s.mirror, s.logger)
	for rc := range chunks {
		for _, frame := range demux.encode(ctx, rc) {
			writeSSE(w, frame)
		}
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// subscribeKeepAliveInterval is how often an idle /subscribe connection gets
// an SSE comment frame to keep intermediaries from closing it.
const subscribeKeepAliveInterval = 30 * time.Second

// handleSubscribe replays everything mirrored for a run, then live-tails
// the Redis stream for frames appended after reconnect, so a client that
// reconnects mid-run (or after it finished) can catch up and keep watching.
// Path shape: /v1/runs/{runID}/subscribe.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if s.mirror == nil {
		http.Error(w, "stream replay is not configured", http.StatusNotImplemented)
		return
	}

	runID, ok := parseRunIDFromSubscribePath(r.URL.Path)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeSSE(w, sseFrame{event: "connected", data: json.RawMessage(fmt.Sprintf(`{"run_id":%q}`, runID))})
	flusher.Flush()

	chunks, cursor, err := s.mirror.ReplayWithCursor(ctx, runID)
	if err != nil {
		s.writeError(w, ctx, "replay failed", err)
		return
	}
	for _, c := range chunks {
		payload, err := json.Marshal(c)
		if err != nil {
			continue
		}
		writeSSE(w, sseFrame{event: string(c.Type), data: payload})
	}
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		tailed, next, err := s.mirror.TailChunks(ctx, runID, cursor, subscribeKeepAliveInterval)
		if err != nil {
			if s.logger != nil {
				s.logger.Warn(ctx, "subscribe tail failed", "run_id", runID, "error", err)
			}
			return
		}
		cursor = next

		if len(tailed) == 0 {
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
			continue
		}

		for _, c := range tailed {
			payload, err := json.Marshal(c)
			if err != nil {
				continue
			}
			writeSSE(w, sseFrame{event: string(c.Type), data: payload})
		}
		flusher.Flush()
	}
}

// handleMonitor registers a run for server-side SSE mirroring. The run must
// already exist in the run store; registration is idempotent, so two
// concurrent /monitor calls for the same run collapse into one entry.
func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RunID string `json:"run_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RunID == "" {
		http.Error(w, "run_id is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if _, err := s.runtime.Runs().GetRun(ctx, req.RunID); err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	s.monitoredMu.Lock()
	s.monitored[req.RunID] = struct{}{}
	s.monitoredMu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "monitoring_registered", "run_id": req.RunID})
}

// handleDownloadArtifact serves an artifact's bytes for the signed URL the
// code_interpreter tool hands back to callers. The token is verified before
// any repository lookup happens so an expired or tampered token never
// reaches storage.
func (s *Server) handleDownloadArtifact(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.artifacts == nil {
		http.Error(w, "artifact storage is not configured", http.StatusNotImplemented)
		return
	}

	artifactID := strings.TrimPrefix(r.URL.Path, "/v1/artifacts/")
	artifactID = strings.Trim(artifactID, "/")
	if artifactID == "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if s.artifactSignedURLSecret != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "token is required", http.StatusUnauthorized)
			return
		}
		subject, err := codeinterpreter.VerifyDownloadToken(s.artifactSignedURLSecret, token)
		if err != nil || subject != artifactID {
			http.Error(w, "invalid or expired token", http.StatusUnauthorized)
			return
		}
	}

	ctx := r.Context()
	meta, body, err := s.artifacts.GetArtifact(ctx, artifactID)
	if err != nil {
		http.Error(w, "artifact not found", http.StatusNotFound)
		return
	}
	defer body.Close()

	if meta.MimeType != "" {
		w.Header().Set("Content-Type", meta.MimeType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	if meta.Filename != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", meta.Filename))
	}
	if meta.Size > 0 {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", meta.Size))
	}
	_, _ = io.Copy(w, body)
}

func (s *Server) writeError(w http.ResponseWriter, ctx context.Context, msg string, err error) {
	if s.logger != nil {
		s.logger.Error(ctx, msg, "error", err)
	}
	http.Error(w, msg, http.StatusInternalServerError)
}
