package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/basinlabs/relaykit/internal/agent"
	"github.com/basinlabs/relaykit/internal/observability"
	"github.com/basinlabs/relaykit/internal/sse"
	"github.com/basinlabs/relaykit/internal/stream"
)

// chunkEncoder turns a run's agent.ResponseChunk values into the typed
// wire chunks clients and the Redis mirror actually see: raw text deltas
// are pushed through a per-run stream.Demultiplexer so reasoning segments
// and code-interpreter output are classified before they reach an SSE
// subscriber, while tool/runtime events pass through as status chunks.
type chunkEncoder struct {
	runID  string
	demux  *stream.Demultiplexer
	mirror *sse.Mirror
	logger *observability.Logger
}

func newChunkEncoder(runID string, mirror *sse.Mirror, logger *observability.Logger) *chunkEncoder {
	return &chunkEncoder{
		runID:  runID,
		demux:  stream.New(true),
		mirror: mirror,
		logger: logger,
	}
}

// encode converts one ResponseChunk into zero or more SSE frames, mirroring
// each resulting stream.Chunk to Redis as it goes.
func (e *chunkEncoder) encode(ctx context.Context, rc *agent.ResponseChunk) []sseFrame {
	if rc == nil {
		return nil
	}

	var chunks []stream.Chunk
	if rc.Text != "" {
		chunks = append(chunks, e.demux.Step(rc.Text)...)
	}
	if rc.Thinking != "" {
		chunks = append(chunks, e.demux.StepReasoningContent(rc.Thinking)...)
	}
	if rc.Event != nil {
		chunks = append(chunks, stream.Chunk{Type: stream.ChunkStatus, Status: string(rc.Event.Type), Content: rc.Event.Message})
	}
	if rc.Error != nil {
		chunks = append(chunks, stream.Chunk{Type: stream.ChunkError, Content: rc.Error.Error()})
	}

	frames := make([]sseFrame, 0, len(chunks))
	for i := range chunks {
		chunks[i].RunID = e.runID
		if chunks[i].Internal() {
			continue
		}

		if e.mirror != nil {
			if err := e.mirror.Append(ctx, e.runID, chunks[i]); err != nil && e.logger != nil {
				e.logger.Warn(ctx, "sse mirror append failed", "run_id", e.runID, "error", err)
			}
		}

		payload, err := json.Marshal(chunks[i])
		if err != nil {
			continue
		}
		frames = append(frames, sseFrame{event: string(chunks[i].Type), data: payload})
	}
	return frames
}

// sseFrame is one Server-Sent Events message.
type sseFrame struct {
	event string
	data  json.RawMessage
}

func writeSSE(w io.Writer, f sseFrame) {
	if f.event != "" {
		fmt.Fprintf(w, "event: %s\n", f.event)
	}
	fmt.Fprintf(w, "data: %s\n\n", f.data)
}

// parseRunIDFromSubscribePath extracts {runID} from /v1/runs/{runID}/subscribe.
func parseRunIDFromSubscribePath(path string) (string, bool) {
	const prefix = "/v1/runs/"
	const suffix = "/subscribe"
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	runID := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if runID == "" {
		return "", false
	}
	return runID, true
}

// requireAPIKey enforces a static bearer token on every request.
func requireAPIKey(next http.Handler, apiKey string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" || got != apiKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request and records its latency metric.
func loggingMiddleware(logger *observability.Logger, metrics *observability.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		duration := time.Since(start).Seconds()

		if logger != nil {
			logger.Debug(r.Context(), "http request",
				"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration_s", duration)
		}
		if metrics != nil {
			metrics.RecordHTTPRequest(r.Method, r.URL.Path, fmt.Sprintf("%d", rec.status), duration)
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
