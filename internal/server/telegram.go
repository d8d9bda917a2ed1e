package server

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
	"github.com/chatwarden/chatwarden/internal/data"
	"github.com/chatwarden/chatwarden/internal/service"
)

// DefaultAdminRefresh is how long a chat's synced admin list is trusted
const DefaultAdminRefresh = 30 * time.Minute

// TelegramServer feeds Bot API updates into the moderation service
type TelegramServer struct {
	platform     *data.TelegramRepo
	svc          *service.ModerationService
	configRepo   repo.ChatConfigRepo
	adminRefresh time.Duration
	log          *zap.Logger

	mu          sync.Mutex
	adminSynced map[int64]time.Time // chatID -> last admin sync
}

// NewTelegramServer creates the update loop
func NewTelegramServer(
	platform *data.TelegramRepo,
	svc *service.ModerationService,
	configRepo repo.ChatConfigRepo,
	adminRefresh time.Duration,
	log *zap.Logger,
) *TelegramServer {
	if log == nil {
		log = zap.NewNop()
	}
	if adminRefresh <= 0 {
		adminRefresh = DefaultAdminRefresh
	}
	return &TelegramServer{
		platform:     platform,
		svc:          svc,
		configRepo:   configRepo,
		adminRefresh: adminRefresh,
		log:          log.Named("server"),
		adminSynced:  make(map[int64]time.Time),
	}
}

// Run long-polls for updates until ctx is done
func (s *TelegramServer) Run(ctx context.Context) error {
	bot := s.platform.Bot()
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "callback_query"}
	updates := bot.GetUpdatesChan(u)

	s.log.Info("Telegram update loop started", zap.String("bot", bot.Self.UserName))
	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			s.log.Info("Telegram update loop stopped")
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			s.handleUpdate(ctx, update)
		}
	}
}

func (s *TelegramServer) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		s.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		s.handleMessage(ctx, update.Message)
	}
}

func (s *TelegramServer) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.Chat == nil || !(m.Chat.IsGroup() || m.Chat.IsSuperGroup()) {
		return
	}
	if m.From == nil || m.From.IsBot {
		return
	}

	s.syncAdmins(ctx, m.Chat.ID)
	isAdmin, err := s.configRepo.IsAdmin(ctx, m.Chat.ID, m.From.ID)
	if err != nil {
		s.log.Warn("Admin check failed", zap.Int64("chat_id", m.Chat.ID), zap.Error(err))
	}

	self := s.platform.Bot().Self
	msg, ok := ToBufferedMessage(m, self.ID, self.UserName, isAdmin)
	if !ok {
		return
	}
	s.log.Debug("Received message",
		zap.Int64("chat_id", msg.ChatID), zap.Int64("message_id", msg.MessageID), zap.Bool("mentions_bot", msg.MentionsBot))

	if err := s.svc.HandleMessage(ctx, msg); err != nil {
		s.log.Error("Failed to handle message", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
	}
}

func (s *TelegramServer) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	reviewID, approve, ok := ParseReviewCallback(cq.Data)
	if !ok || cq.Message == nil || cq.From == nil {
		return
	}

	text, err := s.svc.HandleReviewDecision(ctx, cq.Message.Chat.ID, reviewID, cq.From.ID, approve)
	if err != nil {
		s.log.Error("Review decision failed", zap.String("review_id", reviewID), zap.Error(err))
		text = "Something went wrong, try again."
	}
	if err := s.platform.AnswerCallback(cq.ID, text); err != nil {
		s.log.Warn("Failed to answer callback", zap.Error(err))
	}
}

// syncAdmins refreshes the stored admin list from Telegram when stale
func (s *TelegramServer) syncAdmins(ctx context.Context, chatID int64) {
	s.mu.Lock()
	last, ok := s.adminSynced[chatID]
	if ok && time.Since(last) < s.adminRefresh {
		s.mu.Unlock()
		return
	}
	s.adminSynced[chatID] = time.Now()
	s.mu.Unlock()

	ids, err := s.platform.Administrators(ctx, chatID)
	if err != nil {
		s.log.Warn("Admin sync failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	if err := s.configRepo.SetAdmins(ctx, chatID, ids); err != nil {
		s.log.Warn("Failed to store admins", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	s.log.Info("Synced chat admins", zap.Int64("chat_id", chatID), zap.Int("admins", len(ids)))
}

// ToBufferedMessage converts a group message. Messages without text or
// caption are skipped.
func ToBufferedMessage(m *tgbotapi.Message, botID int64, botUsername string, isAdmin bool) (domain.BufferedMessage, bool) {
	text := m.Text
	entities := m.Entities
	if text == "" {
		text = m.Caption
		entities = m.CaptionEntities
	}
	if strings.TrimSpace(text) == "" || m.From == nil || m.Chat == nil {
		return domain.BufferedMessage{}, false
	}

	msg := domain.BufferedMessage{
		MessageID: int64(m.MessageID),
		ChatID:    m.Chat.ID,
		UserID:    m.From.ID,
		Text:      text,
		Timestamp: m.Time(),
		Username:  m.From.UserName,
		FirstName: m.From.FirstName,
		IsAdmin:   isAdmin,
	}
	if r := m.ReplyToMessage; r != nil {
		msg.ReplyToMessageID = int64(r.MessageID)
		if r.From != nil {
			msg.ReplyToUserID = r.From.ID
			if r.From.ID == botID {
				msg.MentionsBot = true
			}
		}
	}
	if mentionsBot(text, entities, botID, botUsername) {
		msg.MentionsBot = true
	}
	return msg, true
}

func mentionsBot(text string, entities []tgbotapi.MessageEntity, botID int64, botUsername string) bool {
	for _, e := range entities {
		if e.Type == "text_mention" && e.User != nil && e.User.ID == botID {
			return true
		}
	}
	if botUsername == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), "@"+strings.ToLower(botUsername))
}

// ParseReviewCallback decodes review button data
func ParseReviewCallback(raw string) (reviewID string, approve bool, ok bool) {
	switch {
	case strings.HasPrefix(raw, data.CallbackApprove):
		reviewID, approve = strings.TrimPrefix(raw, data.CallbackApprove), true
	case strings.HasPrefix(raw, data.CallbackReject):
		reviewID = strings.TrimPrefix(raw, data.CallbackReject)
	default:
		return "", false, false
	}
	return reviewID, approve, reviewID != ""
}
