package computeruse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// PoolConfig controls how the shell connection pool dials the sandbox.
type PoolConfig struct {
	BaseURL        string
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
	MaxPoolSize    int
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 2 * time.Second
	}
	if c.MaxPoolSize <= 0 {
		c.MaxPoolSize = 64
	}
	return c
}

// shellClient wraps a single websocket connection to the sandbox's shell
// endpoint, serializing concurrent command execution through recvMu.
type shellClient struct {
	conn    *websocket.Conn
	recvMu  sync.Mutex
	closed  bool
	closeMu sync.Mutex
}

func (c *shellClient) Close() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

func (c *shellClient) isClosed() bool {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closed
}

// ShellPool is a sandbox shell connection pool: at most one live
// WebSocket per thread, evicting and rebuilding stale clients.
type ShellPool struct {
	cfg PoolConfig

	mu      sync.Mutex
	clients map[string]*shellClient
}

// NewShellPool creates a pool dialing the sandbox's shell WebSocket endpoint.
func NewShellPool(cfg PoolConfig) *ShellPool {
	return &ShellPool{cfg: cfg.withDefaults(), clients: make(map[string]*shellClient)}
}

func (p *ShellPool) shellURL(threadID string) (string, error) {
	base := strings.TrimSuffix(p.cfg.BaseURL, "/")
	if base == "" {
		return "", fmt.Errorf("computer use: sandbox base URL is not configured")
	}
	u, err := url.Parse(base + "/ws/computer")
	if err != nil {
		return "", fmt.Errorf("computer use: invalid sandbox base URL: %w", err)
	}
	q := u.Query()
	q.Set("thread_id", threadID)
	q.Set("user_id", "system")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (p *ShellPool) dial(ctx context.Context, threadID string) (*shellClient, error) {
	target, err := p.shellURL(threadID)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: p.cfg.ConnectTimeout}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		conn, _, err := dialer.DialContext(ctx, target, nil)
		if err == nil {
			client := &shellClient{conn: conn}
			join, _ := json.Marshal(map[string]any{"action": "join_room", "room": threadID})
			if writeErr := conn.WriteMessage(websocket.TextMessage, join); writeErr != nil {
				conn.Close()
				return nil, fmt.Errorf("computer use: join_room failed: %w", writeErr)
			}
			return client, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("computer use: dial sandbox shell endpoint: %w", lastErr)
}

// acquire returns the live client for threadID, dialing or rebuilding it if
// necessary. Pool membership is capped at MaxPoolSize by evicting nothing
// explicitly — callers are expected to Release long-idle threads themselves.
func (p *ShellPool) acquire(ctx context.Context, threadID string) (*shellClient, error) {
	p.mu.Lock()
	client, ok := p.clients[threadID]
	if ok && client.isClosed() {
		delete(p.clients, threadID)
		ok = false
	}
	p.mu.Unlock()

	if ok {
		return client, nil
	}

	client, err := p.dial(ctx, threadID)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.clients[threadID] = client
	p.mu.Unlock()
	return client, nil
}

// Release closes and evicts the pool entry for threadID.
func (p *ShellPool) Release(threadID string) {
	p.mu.Lock()
	client, ok := p.clients[threadID]
	delete(p.clients, threadID)
	p.mu.Unlock()
	if ok {
		client.Close()
	}
}

// Execute sends command to the thread's shell connection and aggregates
// streamed {content} frames until an idle timeout elapses or the sandbox
// sends {command_complete:true}.
func (p *ShellPool) Execute(ctx context.Context, threadID, command string) (string, error) {
	client, err := p.acquire(ctx, threadID)
	if err != nil {
		return "", err
	}

	client.recvMu.Lock()
	defer client.recvMu.Unlock()

	payload, err := json.Marshal(map[string]any{
		"action":    "shell_command",
		"command":   command,
		"thread_id": threadID,
	})
	if err != nil {
		return "", fmt.Errorf("computer use: encode shell_command: %w", err)
	}
	if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		p.Release(threadID)
		return "", fmt.Errorf("computer use: write shell_command: %w", err)
	}

	var out strings.Builder
	for {
		client.conn.SetReadDeadline(time.Now().Add(p.cfg.IdleTimeout))
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err) {
				p.Release(threadID)
				return out.String(), fmt.Errorf("computer use: shell connection closed: %w", err)
			}
			// Idle timeout with no command_complete signal: treat as done.
			return out.String(), nil
		}

		var frame struct {
			Content         string `json:"content"`
			CommandComplete bool   `json:"command_complete"`
			Error           string `json:"error"`
		}
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		if frame.Error != "" {
			return out.String(), fmt.Errorf("computer use: sandbox error: %s", frame.Error)
		}
		out.WriteString(frame.Content)
		if frame.CommandComplete {
			return out.String(), nil
		}
	}
}

func parseInt(raw string) int {
	if strings.TrimSpace(raw) == "" {
		return 0
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return value
}
