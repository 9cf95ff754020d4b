// Package store defines the conversation persistence interface and its
// SQLite implementation. Records carry only the hashed phone number and
// expire on their own TTL; the store reaps expired rows itself.
package store

import (
	"context"
	"errors"

	"github.com/CornelsonOrganization/call-me-cloud-public-sub000/internal/domain"
)

// ErrNotFound is returned when no live record exists for a session id.
var ErrNotFound = errors.New("store: record not found")

// Store is the durable conversation log. Implementations must self-expire
// records past their TTL without an external caller polling for them.
type Store interface {
	Save(ctx context.Context, rec *domain.ConversationRecord) error
	Get(ctx context.Context, sessionID string) (*domain.ConversationRecord, error)
	Delete(ctx context.Context, sessionID string) error
	ListActive(ctx context.Context) ([]domain.ConversationRecord, error)
	Cleanup(ctx context.Context) (int64, error)

	Close() error
}
