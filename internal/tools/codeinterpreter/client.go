package codeinterpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ClientConfig controls how the code interpreter dials the sandbox's
// execute endpoint.
type ClientConfig struct {
	BaseURL        string
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	return c
}

// UploadedFile describes a file the sandbox produced during execution.
type UploadedFile struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
}

// OutputFrame is one frame streamed back from the sandbox while code runs.
// Exactly one of Output or Done is meaningful per frame.
type OutputFrame struct {
	Output        string
	Done          bool
	ExecutionID   string
	UploadedFiles []UploadedFile
}

// Client dials the sandbox's code execution WebSocket endpoint. Unlike the
// shell connection pool backing the computer tool, code_interpreter is
// one-shot: each execution opens its own connection and the connection
// closes once the sandbox reports completion or failure.
type Client struct {
	cfg ClientConfig
}

// NewClient creates a code interpreter client against the given sandbox
// base URL.
func NewClient(cfg ClientConfig) *Client {
	return &Client{cfg: cfg.withDefaults()}
}

func (c *Client) executeURL() (string, error) {
	base := strings.TrimSuffix(c.cfg.BaseURL, "/")
	if base == "" {
		return "", fmt.Errorf("code interpreter: sandbox base URL is not configured")
	}
	u, err := url.Parse(base + "/ws/execute")
	if err != nil {
		return "", fmt.Errorf("code interpreter: invalid sandbox base URL: %w", err)
	}
	return u.String(), nil
}

// Execute runs code in the sandbox, invoking onFrame for every output frame
// and a final Done frame once the sandbox reports status:"complete". It
// returns an error if the sandbox reports an {error:...} frame, the
// connection drops unexpectedly, or the context is cancelled.
func (c *Client) Execute(ctx context.Context, code string, metadata map[string]any, onFrame func(OutputFrame)) error {
	target, err := c.executeURL()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("code interpreter: dial sandbox execute endpoint: %w", err)
	}
	defer conn.Close()

	payload, err := json.Marshal(map[string]any{"code": code, "metadata": metadata})
	if err != nil {
		return fmt.Errorf("code interpreter: encode execute request: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("code interpreter: write execute request: %w", err)
	}

	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if websocket.IsUnexpectedCloseError(err) {
				return fmt.Errorf("code interpreter: sandbox connection closed: %w", err)
			}
			return fmt.Errorf("code interpreter: sandbox execution timed out waiting for output")
		}

		var frame struct {
			Output        string         `json:"output"`
			Error         string         `json:"error"`
			Status        string         `json:"status"`
			ExecutionID   string         `json:"execution_id"`
			UploadedFiles []UploadedFile `json:"uploaded_files"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}

		switch {
		case frame.Error != "":
			return fmt.Errorf("code interpreter: sandbox error: %s", frame.Error)
		case frame.Status == "complete":
			onFrame(OutputFrame{Done: true, ExecutionID: frame.ExecutionID, UploadedFiles: frame.UploadedFiles})
			return nil
		case frame.Output != "":
			onFrame(OutputFrame{Output: frame.Output})
		}
	}
}
