package repo

import (
	"context"
	"time"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
)

// MessageRepo is the chat platform. Every call is safe to retry.
type MessageRepo interface {
	// SendText sends text, replying to replyTo when it is non-zero
	SendText(ctx context.Context, chatID int64, text string, replyTo int64) (int64, error)
	DeleteMessage(ctx context.Context, chatID, messageID int64) error

	RestrictUser(ctx context.Context, chatID, userID int64, d time.Duration) error
	UnrestrictUser(ctx context.Context, chatID, userID int64) error
	// KickUser removes the user and lifts the ban after autoUnban (0 = immediately)
	KickUser(ctx context.Context, chatID, userID int64, autoUnban time.Duration) error
	BanUser(ctx context.Context, chatID, userID int64) error
	UnbanUser(ctx context.Context, chatID, userID int64) error

	// GetMember resolves a user's display data; zero Member when unknown
	GetMember(ctx context.Context, chatID, userID int64) (domain.Member, error)
}

// ReviewNotifier shows review prompts to moderators
type ReviewNotifier interface {
	// SendReviewPrompt posts the prompt with approve and reject buttons
	SendReviewPrompt(ctx context.Context, record *domain.ReviewRecord) (int64, error)
	// DisableReviewPrompt edits the prompt in place, removing its buttons
	DisableReviewPrompt(ctx context.Context, chatID, messageID int64, text string) error
	DeleteReviewPrompt(ctx context.Context, chatID, messageID int64) error
}

// EventPublisher fans pipeline events out to observers
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
}
