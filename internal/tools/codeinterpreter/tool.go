package codeinterpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/basinlabs/relaykit/internal/agent"
	"github.com/basinlabs/relaykit/internal/artifacts"
	"github.com/basinlabs/relaykit/internal/observability"
)

// Config controls artifact persistence and signed download URLs for files
// the sandbox produces during a code_interpreter execution.
type Config struct {
	// DownloadBaseURL, if set, is templated with an artifact id (via
	// fmt.Sprintf) to produce the URL a signed token is appended to.
	// Example: "https://gateway.example.com/v1/artifacts/%s".
	DownloadBaseURL string
	SignedURLSecret string
	SignedURLTTL    time.Duration

	// Redaction, if non-nil, is checked before any uploaded file's bytes
	// are fetched and persisted; a match skips the fetch entirely and the
	// artifact is reported back with a redacted reference.
	Redaction *artifacts.RedactionPolicy
}

type executeParams struct {
	Code     string         `json:"code"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Tool is the platform "code_interpreter" tool: it streams code execution
// to the sandbox's WebSocket endpoint, re-emitting hot_code/output chunks
// as they arrive via the request's event emitter, and persists any files
// the sandbox produces as artifacts with a signed download URL.
type Tool struct {
	client *Client
	repo   artifacts.Repository
	cfg    Config
	logger *slog.Logger
	http   *http.Client
}

// NewTool creates a code_interpreter tool. repo may be nil, in which case
// uploaded files are reported with the sandbox's own URL and no local
// metadata record.
func NewTool(client *Client, repo artifacts.Repository, cfg Config, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tool{client: client, repo: repo, cfg: cfg, logger: logger, http: &http.Client{Timeout: 30 * time.Second}}
}

func (t *Tool) Name() string { return "code_interpreter" }

func (t *Tool) Description() string {
	return "Execute Python code in a sandboxed interpreter and return its stdout, persisting any generated files."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(SchemaJSON)
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.client == nil {
		return &agent.ToolResult{Content: "code interpreter sandbox unavailable", IsError: true}, nil
	}

	var req executeParams
	if err := json.Unmarshal(params, &req); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid code_interpreter arguments: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(req.Code) == "" {
		return &agent.ToolResult{Content: "code_interpreter: code is required", IsError: true}, nil
	}

	emitter := agent.EmitterFromContext(ctx)
	callID := observability.GetToolCallID(ctx)

	var out strings.Builder
	var uploaded []UploadedFile
	onFrame := func(frame OutputFrame) {
		switch {
		case frame.Done:
			uploaded = frame.UploadedFiles
		case frame.Output != "":
			out.WriteString(frame.Output)
			if emitter != nil {
				emitter.ToolStdout(ctx, callID, t.Name(), frame.Output)
			}
		}
	}

	if err := t.client.Execute(ctx, req.Code, req.Metadata, onFrame); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("code_interpreter execution failed: %v", err), IsError: true}, nil
	}

	result := &agent.ToolResult{Content: out.String()}
	for _, f := range uploaded {
		result.Artifacts = append(result.Artifacts, t.persistUploadedFile(ctx, f))
	}
	return result, nil
}

// persistUploadedFile records an uploaded file's metadata in the artifact
// repository (when configured) and computes the URL handed back to the
// caller: a signed, time-limited download link when signing is
// configured, or the sandbox's own URL otherwise.
func (t *Tool) persistUploadedFile(ctx context.Context, f UploadedFile) agent.Artifact {
	artifact := agent.Artifact{
		Type:     "file",
		MimeType: f.MimeType,
		Filename: f.Name,
		URL:      f.URL,
	}

	if t.cfg.Redaction.ShouldRedact(&artifacts.Artifact{Type: "file", MimeType: f.MimeType, Filename: f.Name}) {
		artifact.URL = "redacted://" + f.Name
		return artifact
	}

	artifactID := f.Name
	if t.repo != nil && f.URL != "" {
		if body, size, err := t.fetchUploadedFile(ctx, f.URL); err != nil {
			t.logger.Warn("fetch code interpreter uploaded file failed", "error", err, "file", f.Name)
		} else {
			defer body.Close()
			meta := &artifacts.Artifact{
				Type:      "file",
				MimeType:  f.MimeType,
				Filename:  f.Name,
				Size:      size,
				Reference: f.URL,
			}
			if err := t.repo.StoreArtifact(ctx, meta, body); err != nil {
				t.logger.Warn("persist code interpreter artifact metadata failed", "error", err, "file", f.Name)
			} else {
				artifact.ID = meta.Id
				artifactID = meta.Id
			}
		}
	}

	if t.cfg.SignedURLSecret != "" && t.cfg.DownloadBaseURL != "" {
		target := fmt.Sprintf(t.cfg.DownloadBaseURL, artifactID)
		signed, err := SignDownloadURL(t.cfg.SignedURLSecret, target, artifactID, t.cfg.SignedURLTTL)
		if err != nil {
			t.logger.Warn("sign artifact download url failed", "error", err, "file", f.Name)
		} else {
			artifact.URL = signed
		}
	}

	return artifact
}

// fetchUploadedFile retrieves the bytes of a sandbox-reported uploaded file
// so they can be persisted through the artifact repository's own storage
// backend rather than left to live only behind the sandbox's URL.
func (t *Tool) fetchUploadedFile(ctx context.Context, fileURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build uploaded file request: %w", err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch uploaded file: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("fetch uploaded file: unexpected status %s", resp.Status)
	}
	return resp.Body, resp.ContentLength, nil
}
