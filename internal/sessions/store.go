// Package sessions persists an agent's conversation history across process
// restarts and exposes it over the session-history IPC surface.
package sessions

import (
	"context"
	"time"

	"github.com/shai-run/agentcore/pkg/models"
)

// Session is one persisted conversation: an ordered message transcript plus
// the bookkeeping needed to resume it. A terminal-resident agent typically
// has exactly one active Session per working directory, but the store is
// keyed by ID so multiple can coexist (e.g. one per `--session` flag).
type Session struct {
	ID        string         `json:"id"`
	Key       string         `json:"key,omitempty"`
	Title     string         `json:"title,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Store is the interface for session persistence.
type Store interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Update(ctx context.Context, session *Session) error
	Delete(ctx context.Context, id string) error

	GetByKey(ctx context.Context, key string) (*Session, error)
	GetOrCreate(ctx context.Context, key string) (*Session, error)
	List(ctx context.Context, opts ListOptions) ([]*Session, error)

	// Message history
	AppendMessage(ctx context.Context, sessionID string, msg *models.Message) error
	GetHistory(ctx context.Context, sessionID string, limit int) ([]*models.Message, error)
}

// ListOptions configures session listing.
type ListOptions struct {
	Limit  int
	Offset int
}
