package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
	"github.com/chatwarden/chatwarden/internal/biz/usecase"
	"github.com/chatwarden/chatwarden/internal/metrics"
)

// Config contains service configuration
type Config struct {
	BatchSize  int           // Buffered messages that trigger a batch at once
	FlushAfter time.Duration // Age of the oldest buffered message that triggers a batch
}

// DefaultConfig returns default service configuration
func DefaultConfig() Config {
	return Config{
		BatchSize:  10,
		FlushAfter: 30 * time.Second,
	}
}

// ModerationService handles inbound messages and review decisions
type ModerationService struct {
	bufferUC     *usecase.BufferUsecase
	historyUC    *usecase.HistoryUsecase
	moderationUC *usecase.ModerationUsecase
	reviewUC     *usecase.ReviewUsecase
	configRepo   repo.ChatConfigRepo
	messageRepo  repo.MessageRepo
	publisher    repo.EventPublisher
	dispatcher   *ActionDispatcher
	throttle     *usecase.Throttle
	queue        *ChatQueue

	config Config
	log    *zap.Logger
	now    func() time.Time
}

// NewModerationService creates a new moderation service
func NewModerationService(
	bufferUC *usecase.BufferUsecase,
	historyUC *usecase.HistoryUsecase,
	moderationUC *usecase.ModerationUsecase,
	reviewUC *usecase.ReviewUsecase,
	configRepo repo.ChatConfigRepo,
	messageRepo repo.MessageRepo,
	publisher repo.EventPublisher,
	dispatcher *ActionDispatcher,
	throttle *usecase.Throttle,
	config Config,
	log *zap.Logger,
) *ModerationService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ModerationService{
		bufferUC:     bufferUC,
		historyUC:    historyUC,
		moderationUC: moderationUC,
		reviewUC:     reviewUC,
		configRepo:   configRepo,
		messageRepo:  messageRepo,
		publisher:    publisher,
		dispatcher:   dispatcher,
		throttle:     throttle,
		queue:        NewChatQueue(),
		config:       config,
		log:          log.Named("service"),
		now:          time.Now,
	}
}

// HandleMessage buffers a message and starts a batch when the bot is
// addressed or the chat's buffer is full. Everything else waits for the
// scheduler.
func (s *ModerationService) HandleMessage(ctx context.Context, msg domain.BufferedMessage) error {
	added, err := s.bufferUC.Add(ctx, msg)
	if err != nil {
		// the message is buffered in memory even if persisting failed
		s.log.Warn("Failed to persist buffer", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
	}
	if !added {
		metrics.MessagesTotal.WithLabelValues("duplicate").Inc()
		return nil
	}
	metrics.MessagesTotal.WithLabelValues("buffered").Inc()
	s.updateBufferGauge()

	if msg.MentionsBot || (s.config.BatchSize > 0 && s.bufferUC.Len(msg.ChatID) >= s.config.BatchSize) {
		s.TriggerFlush(ctx, msg.ChatID)
	}
	return nil
}

// TriggerFlush starts a batch for chatID in the background
func (s *ModerationService) TriggerFlush(ctx context.Context, chatID int64) {
	s.queue.Trigger(ctx, chatID, s.batchCycle(chatID), func(err error) {
		s.log.Warn("Batch failed, messages stay buffered", zap.Int64("chat_id", chatID), zap.Error(err))
	})
}

// Flush processes the chat's buffer now. If a batch is already running
// the request is folded into its follow-up and Flush returns at once.
func (s *ModerationService) Flush(ctx context.Context, chatID int64) error {
	_, err := s.queue.Run(ctx, chatID, s.batchCycle(chatID))
	return err
}

// FlushDue triggers every chat whose oldest buffered message is older than FlushAfter
func (s *ModerationService) FlushDue(ctx context.Context) int {
	now := s.now()
	triggered := 0
	for _, chatID := range s.bufferUC.Chats() {
		oldest, ok := s.bufferUC.OldestPending(chatID)
		if !ok || now.Sub(oldest) < s.config.FlushAfter || s.queue.Busy(chatID) {
			continue
		}
		s.TriggerFlush(ctx, chatID)
		triggered++
	}
	return triggered
}

// Wait blocks until background batches finish
func (s *ModerationService) Wait() {
	s.queue.Wait()
}

func (s *ModerationService) batchCycle(chatID int64) func(context.Context) error {
	return func(ctx context.Context) error {
		return s.processBatch(ctx, chatID)
	}
}

// processBatch is one serialized cycle for a chat. On failure the batch
// stays buffered for the next trigger.
func (s *ModerationService) processBatch(ctx context.Context, chatID int64) error {
	messages := s.bufferUC.Pending(chatID)
	if len(messages) == 0 {
		return nil
	}

	start := time.Now()
	outcome, err := s.moderationUC.Analyze(ctx, chatID, messages)
	metrics.AnalyzeLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, domain.ErrChatDisabled) {
			// disabled chats never get processed; do not let them pile up
			metrics.BatchesTotal.WithLabelValues("disabled").Inc()
			s.removeProcessed(ctx, chatID, messages)
			s.log.Info("Discarded batch of disabled chat", zap.Int64("chat_id", chatID), zap.Int("messages", len(messages)))
			return nil
		}
		metrics.BatchesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("analyze chat %d: %w", chatID, err)
	}
	metrics.BatchesTotal.WithLabelValues("ok").Inc()
	if outcome.Usage != nil {
		metrics.TokensTotal.WithLabelValues("in").Add(float64(outcome.Usage.InputTokens))
		metrics.TokensTotal.WithLabelValues("out").Add(float64(outcome.Usage.OutputTokens))
	}

	outcome.Decisions = s.withoutAdminTargets(ctx, chatID, messages, outcome.Decisions)
	applied := s.dispatchDecisions(ctx, chatID, messages, outcome.Decisions)
	sent := s.sendResponse(ctx, chatID, outcome.Response)

	s.removeProcessed(ctx, chatID, messages)
	// decisions waiting for review are not history until an admin applies them
	recorded := *outcome
	recorded.Decisions = applied
	if err := s.historyUC.RecordBatch(ctx, chatID, messages, &recorded, sent, s.now()); err != nil {
		s.log.Error("Failed to record history", zap.Int64("chat_id", chatID), zap.Error(err))
	}

	s.log.Info("Batch processed",
		zap.Int64("chat_id", chatID),
		zap.Int("messages", len(messages)),
		zap.Int("decisions", len(outcome.Decisions)),
		zap.Bool("responded", sent != nil))
	return nil
}

// withoutAdminTargets drops decisions against chat admins
func (s *ModerationService) withoutAdminTargets(ctx context.Context, chatID int64, messages []domain.BufferedMessage, decisions []domain.ModerationDecision) []domain.ModerationDecision {
	admins := make(map[int64]bool)
	ids, err := s.configRepo.GetAdmins(ctx, chatID)
	if err != nil {
		s.log.Warn("Admin lookup failed, using message flags", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	for _, id := range ids {
		admins[id] = true
	}
	for _, m := range messages {
		if m.IsAdmin {
			admins[m.UserID] = true
		}
	}

	kept := make([]domain.ModerationDecision, 0, len(decisions))
	for _, d := range decisions {
		if admins[d.UserID] && d.Kind() != domain.ActionUnmute && d.Kind() != domain.ActionUnban {
			s.log.Info("Ignoring action against admin",
				zap.Int64("chat_id", chatID), zap.Int64("user_id", d.UserID), zap.String("action", string(d.Kind())))
			continue
		}
		kept = append(kept, d)
	}
	return kept
}

// dispatchDecisions applies direct actions, routes reviewable ones to admins,
// and returns the decisions that took effect
func (s *ModerationService) dispatchDecisions(ctx context.Context, chatID int64, messages []domain.BufferedMessage, decisions []domain.ModerationDecision) []domain.ModerationDecision {
	applied := make([]domain.ModerationDecision, 0, len(decisions))
	for _, d := range decisions {
		if s.reviewUC.Builder().IsReviewable(d) {
			target := s.resolveMember(ctx, chatID, d.UserID, messages)
			if _, err := s.reviewUC.Request(ctx, chatID, d, target); err != nil {
				s.log.Error("Failed to request review",
					zap.Int64("chat_id", chatID), zap.Int64("user_id", d.UserID), zap.Error(err))
				continue
			}
			metrics.ReviewsTotal.WithLabelValues(string(domain.ReviewPending)).Inc()
			continue
		}
		if err := s.dispatcher.Apply(ctx, chatID, d); err != nil {
			s.log.Error("Failed to apply moderation action", zap.Int64("chat_id", chatID), zap.Error(err))
			continue
		}
		applied = append(applied, d)
	}
	return applied
}

// resolveMember prefers the batch's own data, then asks the platform
func (s *ModerationService) resolveMember(ctx context.Context, chatID, userID int64, messages []domain.BufferedMessage) domain.Member {
	for i := range messages {
		if messages[i].UserID == userID {
			return messages[i].Author()
		}
	}
	member, err := s.messageRepo.GetMember(ctx, chatID, userID)
	if err != nil {
		s.log.Debug("Member lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		return domain.Member{UserID: userID}
	}
	if member.UserID == 0 {
		member.UserID = userID
	}
	return member
}

func (s *ModerationService) sendResponse(ctx context.Context, chatID int64, reply *usecase.Reply) *usecase.SentReply {
	if reply == nil {
		return nil
	}
	if err := s.throttle.Wait(ctx, chatID, reply.Text); err != nil {
		s.log.Warn("Response cancelled", zap.Int64("chat_id", chatID), zap.Error(err))
		return nil
	}
	msgID, err := s.messageRepo.SendText(ctx, chatID, reply.Text, reply.ReplyToMessageID)
	if err != nil {
		s.log.Error("Failed to send response", zap.Int64("chat_id", chatID), zap.Error(err))
		return nil
	}
	metrics.ResponsesTotal.Inc()

	if s.publisher != nil {
		event := domain.Event{
			Kind:      domain.EventAgentResponse,
			ChatID:    chatID,
			Timestamp: s.now(),
			Payload:   domain.AgentResponse{ReplyToMessageID: reply.ReplyToMessageID, Text: reply.Text},
		}
		if err := s.publisher.Publish(ctx, event); err != nil {
			s.log.Warn("Failed to publish event", zap.String("kind", string(event.Kind)), zap.Error(err))
		}
	}
	return &usecase.SentReply{MessageID: msgID, ReplyToMessageID: reply.ReplyToMessageID, Text: reply.Text}
}

func (s *ModerationService) removeProcessed(ctx context.Context, chatID int64, messages []domain.BufferedMessage) {
	ids := make([]int64, 0, len(messages))
	for _, m := range messages {
		ids = append(ids, m.MessageID)
	}
	if err := s.bufferUC.Remove(ctx, chatID, ids); err != nil {
		s.log.Warn("Failed to persist buffer", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	s.updateBufferGauge()
}

func (s *ModerationService) updateBufferGauge() {
	total := 0
	for _, sm := range s.bufferUC.Summary() {
		total += sm.MessageCount
	}
	metrics.BufferedMessages.Set(float64(total))
}

// HandleReviewDecision applies a moderator's button press and returns the
// text shown back to the moderator
func (s *ModerationService) HandleReviewDecision(ctx context.Context, chatID int64, reviewID string, moderatorID int64, approve bool) (string, error) {
	outcome, err := s.reviewUC.Decide(ctx, reviewID, moderatorID, approve)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrReviewNotFound):
		return "This review no longer exists.", nil
	case errors.Is(err, domain.ErrReviewAlreadyResolved):
		return "This review was already handled.", nil
	case errors.Is(err, domain.ErrReviewExpired):
		metrics.ReviewsTotal.WithLabelValues(string(domain.ReviewExpired)).Inc()
		return "This review expired, no action taken.", nil
	case errors.Is(err, domain.ErrReviewUnauthorized):
		return "Only chat admins can decide reviews.", nil
	default:
		return "", fmt.Errorf("decide review %s: %w", reviewID, err)
	}
	metrics.ReviewsTotal.WithLabelValues(string(outcome.Status)).Inc()

	if outcome.Status != domain.ReviewApproved {
		return "Rejected, no action taken.", nil
	}

	rec := outcome.Record
	if rec.ChatID != chatID {
		s.log.Warn("Review decided from another chat",
			zap.String("review_id", reviewID), zap.Int64("chat_id", chatID), zap.Int64("review_chat_id", rec.ChatID))
	}
	if err := s.dispatcher.Apply(ctx, rec.ChatID, rec.Decision); err != nil {
		s.log.Error("Approved action failed", zap.String("review_id", reviewID), zap.Error(err))
		return fmt.Sprintf("Approved, but the %s failed.", rec.Decision.Kind()), nil
	}
	return fmt.Sprintf("Approved: %s applied.", rec.Decision.Kind()), nil
}

// BufferSummary returns the buffer overview
func (s *ModerationService) BufferSummary() []domain.BufferSummary {
	return s.bufferUC.Summary()
}

// PendingMessages returns a chat's buffered messages
func (s *ModerationService) PendingMessages(chatID int64) []domain.BufferedMessage {
	return s.bufferUC.Pending(chatID)
}

// History returns a chat's recent history, oldest first
func (s *ModerationService) History(ctx context.Context, chatID int64) ([]domain.HistoryEntry, error) {
	return s.historyUC.Recent(ctx, chatID)
}

// Review returns a pending review or the tombstone of a resolved one
func (s *ModerationService) Review(ctx context.Context, reviewID string) (*domain.ReviewRecord, *domain.ReviewTombstone, error) {
	return s.reviewUC.Get(ctx, reviewID)
}
