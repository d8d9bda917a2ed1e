package usecase

import (
	"context"

	"go.uber.org/zap"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
)

// FilterUsecase runs the optional spam pre-classifier over a batch
type FilterUsecase struct {
	filterRepo repo.SpamFilterRepo
	log        *zap.Logger
}

// NewFilterUsecase creates a new filter usecase; filterRepo may be nil
func NewFilterUsecase(filterRepo repo.SpamFilterRepo, log *zap.Logger) *FilterUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &FilterUsecase{filterRepo: filterRepo, log: log.Named("filter")}
}

// SpamHints returns the ids of messages the classifier flags, in batch order.
// Admin messages are never checked. Classifier errors only skip that message.
func (uc *FilterUsecase) SpamHints(ctx context.Context, messages []domain.BufferedMessage) []int64 {
	if uc.filterRepo == nil {
		return nil
	}

	var hints []int64
	for _, m := range messages {
		if m.IsAdmin || m.Text == "" {
			continue
		}
		spam, err := uc.filterRepo.IsSpam(ctx, m.Text)
		if err != nil {
			uc.log.Debug("Spam check failed",
				zap.Int64("chat_id", m.ChatID), zap.Int64("message_id", m.MessageID), zap.Error(err))
			if ctx.Err() != nil {
				return hints
			}
			continue
		}
		if spam {
			hints = append(hints, m.MessageID)
		}
	}
	return hints
}

// IsFilterEnabled returns whether filter is enabled
func (uc *FilterUsecase) IsFilterEnabled() bool {
	return uc.filterRepo != nil
}
