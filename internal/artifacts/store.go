package artifacts

import (
	"context"
	"io"
	"time"
)

// Store persists artifact bytes to a backend (local disk, S3, MinIO).
// Repositories hold the small metadata themselves and delegate bytes to
// whichever Store is configured.
type Store interface {
	Put(ctx context.Context, artifactID string, data io.Reader, opts PutOptions) (reference string, err error)
	Get(ctx context.Context, artifactID string) (io.ReadCloser, error)
	Delete(ctx context.Context, artifactID string) error
}

// PutOptions configures how a Store persists an artifact's bytes.
type PutOptions struct {
	MimeType string
	TTL      time.Duration
	Metadata map[string]string
}

// Repository manages artifact metadata and lifecycle (storing, fetching,
// listing, pruning), delegating raw bytes to a Store. MemoryRepository is
// the only implementation; CleanupService and tool handlers program
// against this interface so a database-backed repository can replace it
// without touching callers.
type Repository interface {
	StoreArtifact(ctx context.Context, artifact *Artifact, data io.Reader) error
	GetArtifact(ctx context.Context, artifactID string) (*Artifact, io.ReadCloser, error)
	ListArtifacts(ctx context.Context, filter Filter) ([]*Artifact, error)
	DeleteArtifact(ctx context.Context, artifactID string) error
	PruneExpired(ctx context.Context) (int, error)
}

// Metadata is the persisted record for an artifact, independent of its
// storage backend.
type Metadata struct {
	ID         string
	Type       string
	MimeType   string
	Filename   string
	Size       int64
	TTLSeconds int64
	Reference  string
	SessionID  string
	RunID      string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Filter narrows ListArtifacts results.
type Filter struct {
	SessionID     string
	RunID         string
	Type          string
	CreatedAfter  time.Time
	CreatedBefore time.Time
	Limit         int
}

// defaultTTLByType is consulted when an artifact carries no explicit TTL.
var defaultTTLByType = map[string]time.Duration{
	"image":      24 * time.Hour,
	"file":       24 * time.Hour,
	"table":      24 * time.Hour,
	"screenshot": time.Hour,
}

// GetDefaultTTL returns the retention period applied to artifacts of the
// given type when no explicit TTL was supplied.
func GetDefaultTTL(artifactType string) time.Duration {
	if ttl, ok := defaultTTLByType[artifactType]; ok {
		return ttl
	}
	return 24 * time.Hour
}
