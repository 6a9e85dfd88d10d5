// Package sse implements the Redis-backed stream mirror: every chunk
// emitted for a run is XADDed to a bounded, TTL'd Redis stream so a client
// can reconnect mid-run and replay what it missed.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/basinlabs/relaykit/internal/stream"
)

// MirrorConfig controls the Redis-backed chunk mirror.
type MirrorConfig struct {
	RedisURL    string
	KeyPrefix   string
	MaxLen      int64
	TTL         time.Duration
	DialTimeout time.Duration
}

func (c MirrorConfig) withDefaults() MirrorConfig {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "stream"
	}
	if c.MaxLen <= 0 {
		c.MaxLen = 1000
	}
	if c.TTL <= 0 {
		c.TTL = time.Hour
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	return c
}

// Mirror appends chunks for a run to a bounded Redis stream and replays
// them to late subscribers.
type Mirror struct {
	cfg    MirrorConfig
	client *redis.Client
}

// NewMirror connects to Redis using cfg.RedisURL (a redis:// URL).
func NewMirror(cfg MirrorConfig) (*Mirror, error) {
	cfg = cfg.withDefaults()
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("sse mirror: invalid redis url: %w", err)
	}
	opts.DialTimeout = cfg.DialTimeout
	return &Mirror{cfg: cfg, client: redis.NewClient(opts)}, nil
}

func (m *Mirror) key(runID string) string {
	return fmt.Sprintf("%s:%s", m.cfg.KeyPrefix, runID)
}

// Append XADDs chunk to the run's stream, trimming to ~MaxLen entries and
// refreshing the key's TTL (set lazily on first write).
func (m *Mirror) Append(ctx context.Context, runID string, chunk stream.Chunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("sse mirror: encode chunk: %w", err)
	}

	key := m.key(runID)
	pipe := m.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: m.cfg.MaxLen,
		Approx: true,
		Values: map[string]any{"data": payload},
	})
	pipe.Expire(ctx, key, m.cfg.TTL)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("sse mirror: xadd %s: %w", key, err)
	}
	return nil
}

// Replay reads every chunk recorded for runID since the beginning of the
// stream, in order — used when a /subscribe call arrives after chunks have
// already been mirrored.
func (m *Mirror) Replay(ctx context.Context, runID string) ([]stream.Chunk, error) {
	entries, err := m.client.XRange(ctx, m.key(runID), "-", "+").Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("sse mirror: xrange %s: %w", runID, err)
	}

	chunks := make([]stream.Chunk, 0, len(entries))
	for _, e := range entries {
		raw, ok := e.Values["data"].(string)
		if !ok {
			continue
		}
		var c stream.Chunk
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			continue
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// ReplayWithCursor behaves like Replay but also returns the Redis stream
// entry ID of the last chunk returned (or "0-0" if the stream is empty or
// unknown), so Tail can resume exactly where history leaves off.
func (m *Mirror) ReplayWithCursor(ctx context.Context, runID string) ([]stream.Chunk, string, error) {
	entries, err := m.client.XRange(ctx, m.key(runID), "-", "+").Result()
	if err != nil {
		if err == redis.Nil {
			return nil, "0-0", nil
		}
		return nil, "0-0", fmt.Errorf("sse mirror: xrange %s: %w", runID, err)
	}

	chunks := make([]stream.Chunk, 0, len(entries))
	lastID := "0-0"
	for _, e := range entries {
		raw, ok := e.Values["data"].(string)
		if !ok {
			continue
		}
		var c stream.Chunk
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			continue
		}
		chunks = append(chunks, c)
		lastID = e.ID
	}
	return chunks, lastID, nil
}

// TailChunks blocks for up to idleTimeout waiting for chunks appended to
// runID's stream after afterID, decoding and returning whatever arrives in
// order along with the new cursor. A nil error with no chunks returned
// means the idle timeout elapsed with nothing new — a natural point for
// the caller to emit an SSE keep-alive before calling TailChunks again.
func (m *Mirror) TailChunks(ctx context.Context, runID, afterID string, idleTimeout time.Duration) ([]stream.Chunk, string, error) {
	res, err := m.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{m.key(runID), afterID},
		Block:   idleTimeout,
		Count:   100,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, afterID, nil
		}
		return nil, afterID, fmt.Errorf("sse mirror: xread %s: %w", runID, err)
	}

	cursor := afterID
	var chunks []stream.Chunk
	for _, s := range res {
		for _, e := range s.Messages {
			cursor = e.ID
			raw, ok := e.Values["data"].(string)
			if !ok {
				continue
			}
			var c stream.Chunk
			if err := json.Unmarshal([]byte(raw), &c); err != nil {
				continue
			}
			chunks = append(chunks, c)
		}
	}
	return chunks, cursor, nil
}

// Close releases the underlying Redis connection pool.
func (m *Mirror) Close() error {
	return m.client.Close()
}
