package usecase

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
)

// ContextBuilderUsecase derives the prompt context from history and the batch
type ContextBuilderUsecase struct {
	configRepo repo.ChatConfigRepo
	log        *zap.Logger
}

// NewContextBuilderUsecase creates a new context builder usecase
func NewContextBuilderUsecase(configRepo repo.ChatConfigRepo, log *zap.Logger) *ContextBuilderUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &ContextBuilderUsecase{configRepo: configRepo, log: log.Named("context")}
}

// BuildContext never fails: when the admin list is unavailable moderation
// proceeds with an empty admin set.
func (uc *ContextBuilderUsecase) BuildContext(ctx context.Context, chatID int64, messages []domain.BufferedMessage, history []domain.HistoryEntry) domain.PromptContext {
	admins, err := uc.configRepo.GetAdmins(ctx, chatID)
	if err != nil {
		uc.log.Warn("Admin lookup failed, continuing without admins",
			zap.Int64("chat_id", chatID), zap.Error(err))
		admins = nil
	}
	if admins == nil {
		admins = []int64{}
	}
	sort.Slice(admins, func(i, j int) bool { return admins[i] < admins[j] })

	pc := domain.PromptContext{
		ChatID: chatID,
		Admins: admins,
		Stats:  BuildUserStats(history),
	}

	for _, m := range messages {
		if _, ok := pc.Stats[m.UserID]; !ok {
			pc.Stats[m.UserID] = domain.UserStats{}
		}
		if m.IsAdmin {
			pc.Flags.HasAdminMessages = true
		}
		if m.ReplyToMessageID != 0 {
			pc.Flags.HasReplies = true
		}
	}
	return pc
}

// BuildUserStats counts warns per target user and tracks the latest mute.
// Decisions recorded on bot entries are ignored.
func BuildUserStats(history []domain.HistoryEntry) map[int64]domain.UserStats {
	stats := make(map[int64]domain.UserStats)
	for i := range history {
		e := &history[i]
		if e.IsBot() || e.Decision == nil {
			continue
		}
		userID := e.Decision.UserID
		s := stats[userID]
		switch action := e.Decision.Action.(type) {
		case domain.Warn:
			s.Warns++
		case domain.Mute:
			until := e.Timestamp.Add(action.Duration)
			if s.MutedUntil == nil || until.After(*s.MutedUntil) {
				s.MutedUntil = &until
			}
		case domain.Unmute:
			s.MutedUntil = nil
		default:
			continue
		}
		stats[userID] = s
	}
	return stats
}

// ActiveMutes drops mute deadlines that already passed
func ActiveMutes(stats map[int64]domain.UserStats, now time.Time) {
	for id, s := range stats {
		if s.MutedUntil != nil && !s.IsMuted(now) {
			s.MutedUntil = nil
			stats[id] = s
		}
	}
}
