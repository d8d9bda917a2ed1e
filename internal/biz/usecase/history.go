package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
)

// HistoryConfig contains history configuration
type HistoryConfig struct {
	FetchLimit int           // Max entries loaded per prompt before reduction
	MaxChars   int           // Character budget after reduction, NoHistoryBudget for none
	Retention  time.Duration // Entries older than this are pruned
}

// DefaultHistoryConfig returns default history configuration
func DefaultHistoryConfig() HistoryConfig {
	return HistoryConfig{
		FetchLimit: 200,
		MaxChars:   6000,
		Retention:  7 * 24 * time.Hour,
	}
}

// HistoryUsecase is the append-only store of processed messages and decisions
type HistoryUsecase struct {
	historyRepo repo.HistoryRepo
	config      HistoryConfig
}

// NewHistoryUsecase creates a new history usecase
func NewHistoryUsecase(historyRepo repo.HistoryRepo, config HistoryConfig) *HistoryUsecase {
	return &HistoryUsecase{historyRepo: historyRepo, config: config}
}

// Config returns the history configuration
func (uc *HistoryUsecase) Config() HistoryConfig {
	return uc.config
}

// RecordBatch appends one user entry per processed message, carrying its
// classification and decision, followed by the bot's reply if one was sent.
func (uc *HistoryUsecase) RecordBatch(ctx context.Context, chatID int64, messages []domain.BufferedMessage, outcome *BatchOutcome, reply *SentReply, now time.Time) error {
	classes := make(map[int64]domain.ClassificationResult, len(outcome.Results))
	for _, r := range outcome.Results {
		classes[r.MessageID] = r
	}
	decisions := make(map[int64]domain.ModerationDecision, len(outcome.Decisions))
	for _, d := range outcome.Decisions {
		decisions[d.MessageID] = d
	}

	entries := make([]domain.HistoryEntry, 0, len(messages)+1)
	for _, m := range messages {
		e := domain.HistoryEntry{
			ChatID:    chatID,
			Message:   m,
			Sender:    domain.SenderUser,
			Timestamp: m.Timestamp,
		}
		if r, ok := classes[m.MessageID]; ok {
			e.Classification = r.ClassificationType
			e.ResponseText = r.ResponseText
		}
		if d, ok := decisions[m.MessageID]; ok {
			d := d
			e.Decision = &d
		}
		entries = append(entries, e)
	}
	if reply != nil {
		entries = append(entries, domain.HistoryEntry{
			ChatID: chatID,
			Message: domain.BufferedMessage{
				MessageID:        reply.MessageID,
				ChatID:           chatID,
				Text:             reply.Text,
				Timestamp:        now,
				ReplyToMessageID: reply.ReplyToMessageID,
			},
			Sender:    domain.SenderBot,
			Timestamp: now,
		})
	}

	if err := uc.historyRepo.Append(ctx, entries...); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Recent loads the newest entries of a chat, oldest first
func (uc *HistoryUsecase) Recent(ctx context.Context, chatID int64) ([]domain.HistoryEntry, error) {
	entries, err := uc.historyRepo.Recent(ctx, chatID, uc.config.FetchLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return entries, nil
}

// Reduced loads and reduces history to the configured budget
func (uc *HistoryUsecase) Reduced(ctx context.Context, chatID int64) (all, reduced []domain.HistoryEntry, err error) {
	all, err = uc.Recent(ctx, chatID)
	if err != nil {
		return nil, nil, err
	}
	return all, ReduceHistory(all, uc.config.MaxChars), nil
}

// Cleanup prunes entries past retention
func (uc *HistoryUsecase) Cleanup(ctx context.Context, now time.Time) (int64, error) {
	if uc.config.Retention <= 0 {
		return 0, nil
	}
	return uc.historyRepo.Prune(ctx, now.Add(-uc.config.Retention))
}
