package repo

import (
	"context"
	"time"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
)

// BufferStateRepo persists the message buffer for crash recovery
type BufferStateRepo interface {
	// LoadState returns an empty state when nothing was saved
	LoadState(ctx context.Context) (*domain.BufferState, error)
	SaveState(ctx context.Context, state *domain.BufferState) error
}

// HistoryRepo is the append-only conversation log
type HistoryRepo interface {
	Append(ctx context.Context, entries ...domain.HistoryEntry) error

	// Recent returns up to limit newest entries of a chat, oldest first
	Recent(ctx context.Context, chatID int64, limit int) ([]domain.HistoryEntry, error)

	// Prune bulk-deletes entries older than before
	Prune(ctx context.Context, before time.Time) (int64, error)

	Close() error
}
