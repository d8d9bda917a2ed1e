package repo

import (
	"context"
	"time"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
)

// ChatConfigRepo is the chat configuration store managed by the console
type ChatConfigRepo interface {
	// GetChatConfig returns nil without error for unknown chats
	GetChatConfig(ctx context.Context, chatID int64) (*domain.ChatConfig, error)
	SaveChatConfig(ctx context.Context, cfg *domain.ChatConfig) error

	GetAdmins(ctx context.Context, chatID int64) ([]int64, error)
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
	SetAdmins(ctx context.Context, chatID int64, userIDs []int64) error

	Close() error
}

// KVStore is the durable keyed store. Set with ttl <= 0 deletes the key.
type KVStore interface {
	// Get returns (nil, false, nil) for missing keys
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Persist stores the value without expiry
	Persist(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Take atomically reads and deletes the key; only one caller can win it
	Take(ctx context.Context, key string) ([]byte, bool, error)
}
