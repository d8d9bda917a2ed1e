package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
	"github.com/chatwarden/chatwarden/internal/metrics"
)

// DefaultKickUnbanDelay lifts a kick's temporary ban so the user may rejoin
const DefaultKickUnbanDelay = time.Minute

// ActionDispatcher turns decisions into chat platform calls
type ActionDispatcher struct {
	messageRepo    repo.MessageRepo
	publisher      repo.EventPublisher
	kickUnbanDelay time.Duration
	log            *zap.Logger
	now            func() time.Time
}

// NewActionDispatcher creates a dispatcher
func NewActionDispatcher(messageRepo repo.MessageRepo, publisher repo.EventPublisher, kickUnbanDelay time.Duration, log *zap.Logger) *ActionDispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &ActionDispatcher{
		messageRepo:    messageRepo,
		publisher:      publisher,
		kickUnbanDelay: kickUnbanDelay,
		log:            log.Named("dispatcher"),
		now:            time.Now,
	}
}

// Apply executes one decision and publishes a moderation_action event
func (d *ActionDispatcher) Apply(ctx context.Context, chatID int64, decision domain.ModerationDecision) error {
	err := d.apply(ctx, chatID, decision)

	kind := string(decision.Kind())
	if err != nil {
		metrics.ActionsTotal.WithLabelValues(kind, "failed").Inc()
		return fmt.Errorf("%s user %d: %w", kind, decision.UserID, err)
	}
	metrics.ActionsTotal.WithLabelValues(kind, "applied").Inc()

	d.log.Info("Moderation action applied",
		zap.Int64("chat_id", chatID),
		zap.String("action", kind),
		zap.Int64("user_id", decision.UserID),
		zap.Int64("message_id", decision.TargetMessageID))

	if d.publisher != nil {
		event := domain.Event{Kind: domain.EventModerationAction, ChatID: chatID, Timestamp: d.now(), Payload: decision}
		if err := d.publisher.Publish(ctx, event); err != nil {
			d.log.Warn("Failed to publish event", zap.String("kind", string(event.Kind)), zap.Error(err))
		}
	}
	return nil
}

func (d *ActionDispatcher) apply(ctx context.Context, chatID int64, decision domain.ModerationDecision) error {
	switch action := decision.Action.(type) {
	case domain.Warn:
		return d.notify(ctx, chatID, decision.Text, decision.TargetMessageID)

	case domain.Delete:
		if err := d.messageRepo.DeleteMessage(ctx, chatID, decision.TargetMessageID); err != nil {
			return err
		}
		return d.notify(ctx, chatID, decision.Text, 0)

	case domain.Mute:
		if err := d.messageRepo.RestrictUser(ctx, chatID, decision.UserID, action.Duration); err != nil {
			return err
		}
		return d.notify(ctx, chatID, decision.Text, decision.TargetMessageID)

	case domain.Unmute:
		if err := d.messageRepo.UnrestrictUser(ctx, chatID, decision.UserID); err != nil {
			return err
		}
		return d.notify(ctx, chatID, decision.Text, 0)

	case domain.Kick:
		if err := d.messageRepo.KickUser(ctx, chatID, decision.UserID, d.kickUnbanDelay); err != nil {
			return err
		}
		return d.notify(ctx, chatID, decision.Text, 0)

	case domain.Ban:
		if err := d.messageRepo.BanUser(ctx, chatID, decision.UserID); err != nil {
			return err
		}
		return d.notify(ctx, chatID, decision.Text, 0)

	case domain.Unban:
		if err := d.messageRepo.UnbanUser(ctx, chatID, decision.UserID); err != nil {
			return err
		}
		return d.notify(ctx, chatID, decision.Text, 0)

	default:
		return fmt.Errorf("unsupported action %T", decision.Action)
	}
}

// notify sends the decision text; a failed notice does not undo the action
func (d *ActionDispatcher) notify(ctx context.Context, chatID int64, text string, replyTo int64) error {
	if text == "" {
		return nil
	}
	if _, err := d.messageRepo.SendText(ctx, chatID, text, replyTo); err != nil {
		d.log.Warn("Failed to send moderation notice", zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return nil
}
