package data

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
)

// Review prompt callback data: rv:<a|r>:<review id>
const (
	CallbackApprove = "rv:a:"
	CallbackReject  = "rv:r:"
)

// NewTelegramBot authorizes the bot token
func NewTelegramBot(token string, debug bool) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	bot.Debug = debug
	return bot, nil
}

// TelegramRepo implements the chat platform and the review prompts on the Bot API
type TelegramRepo struct {
	bot *tgbotapi.BotAPI
	log *zap.Logger
	now func() time.Time
}

// NewTelegramRepo creates the platform repository
func NewTelegramRepo(bot *tgbotapi.BotAPI, log *zap.Logger) *TelegramRepo {
	if log == nil {
		log = zap.NewNop()
	}
	return &TelegramRepo{bot: bot, log: log.Named("telegram"), now: time.Now}
}

// Bot returns the underlying client
func (r *TelegramRepo) Bot() *tgbotapi.BotAPI {
	return r.bot
}

// SendText sends an HTML message, replying to replyTo when non-zero
func (r *TelegramRepo) SendText(ctx context.Context, chatID int64, text string, replyTo int64) (int64, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if replyTo != 0 {
		msg.ReplyToMessageID = int(replyTo)
		msg.AllowSendingWithoutReply = true
	}
	sent, err := r.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return int64(sent.MessageID), nil
}

func (r *TelegramRepo) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	if _, err := r.bot.Request(tgbotapi.NewDeleteMessage(chatID, int(messageID))); err != nil {
		return fmt.Errorf("delete message %d: %w", messageID, err)
	}
	return nil
}

// RestrictUser mutes the user until now+d
func (r *TelegramRepo) RestrictUser(ctx context.Context, chatID, userID int64, d time.Duration) error {
	cfg := tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		UntilDate:        r.now().Add(d).Unix(),
		Permissions:      &tgbotapi.ChatPermissions{},
	}
	if _, err := r.bot.Request(cfg); err != nil {
		return fmt.Errorf("restrict: %w", err)
	}
	return nil
}

func (r *TelegramRepo) UnrestrictUser(ctx context.Context, chatID, userID int64) error {
	cfg := tgbotapi.RestrictChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		Permissions: &tgbotapi.ChatPermissions{
			CanSendMessages:       true,
			CanSendMediaMessages:  true,
			CanSendPolls:          true,
			CanSendOtherMessages:  true,
			CanAddWebPagePreviews: true,
			CanInviteUsers:        true,
		},
	}
	if _, err := r.bot.Request(cfg); err != nil {
		return fmt.Errorf("unrestrict: %w", err)
	}
	return nil
}

// KickUser bans until now+autoUnban so the user can rejoin afterwards.
// Telegram treats bans shorter than 30 seconds as permanent, so short
// kicks are lifted explicitly.
func (r *TelegramRepo) KickUser(ctx context.Context, chatID, userID int64, autoUnban time.Duration) error {
	member := tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID}
	if autoUnban >= 30*time.Second {
		cfg := tgbotapi.BanChatMemberConfig{ChatMemberConfig: member, UntilDate: r.now().Add(autoUnban).Unix()}
		if _, err := r.bot.Request(cfg); err != nil {
			return fmt.Errorf("kick: %w", err)
		}
		return nil
	}

	if _, err := r.bot.Request(tgbotapi.BanChatMemberConfig{ChatMemberConfig: member}); err != nil {
		return fmt.Errorf("kick: %w", err)
	}
	if _, err := r.bot.Request(tgbotapi.UnbanChatMemberConfig{ChatMemberConfig: member, OnlyIfBanned: true}); err != nil {
		return fmt.Errorf("kick unban: %w", err)
	}
	return nil
}

func (r *TelegramRepo) BanUser(ctx context.Context, chatID, userID int64) error {
	cfg := tgbotapi.BanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		RevokeMessages:   true,
	}
	if _, err := r.bot.Request(cfg); err != nil {
		return fmt.Errorf("ban: %w", err)
	}
	return nil
}

func (r *TelegramRepo) UnbanUser(ctx context.Context, chatID, userID int64) error {
	cfg := tgbotapi.UnbanChatMemberConfig{
		ChatMemberConfig: tgbotapi.ChatMemberConfig{ChatID: chatID, UserID: userID},
		OnlyIfBanned:     true,
	}
	if _, err := r.bot.Request(cfg); err != nil {
		return fmt.Errorf("unban: %w", err)
	}
	return nil
}

func (r *TelegramRepo) GetMember(ctx context.Context, chatID, userID int64) (domain.Member, error) {
	m, err := r.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: chatID, UserID: userID},
	})
	if err != nil {
		return domain.Member{}, fmt.Errorf("get member %d: %w", userID, err)
	}
	if m.User == nil {
		return domain.Member{UserID: userID}, nil
	}
	return domain.Member{UserID: m.User.ID, Username: m.User.UserName, FirstName: m.User.FirstName}, nil
}

// Administrators lists the chat's admin user ids
func (r *TelegramRepo) Administrators(ctx context.Context, chatID int64) ([]int64, error) {
	members, err := r.bot.GetChatAdministrators(tgbotapi.ChatAdministratorsConfig{
		ChatConfig: tgbotapi.ChatConfig{ChatID: chatID},
	})
	if err != nil {
		return nil, fmt.Errorf("get administrators: %w", err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		if m.User != nil && !m.User.IsBot {
			ids = append(ids, m.User.ID)
		}
	}
	return ids, nil
}

// SendReviewPrompt posts the prompt with approve and reject buttons
func (r *TelegramRepo) SendReviewPrompt(ctx context.Context, record *domain.ReviewRecord) (int64, error) {
	msg := tgbotapi.NewMessage(record.ChatID, record.PromptText)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Approve", CallbackApprove+record.ID),
			tgbotapi.NewInlineKeyboardButtonData("Reject", CallbackReject+record.ID),
		),
	)
	sent, err := r.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send review prompt: %w", err)
	}
	return int64(sent.MessageID), nil
}

// DisableReviewPrompt replaces the prompt text; the buttons are dropped
func (r *TelegramRepo) DisableReviewPrompt(ctx context.Context, chatID, messageID int64, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, int(messageID), text)
	edit.ParseMode = tgbotapi.ModeHTML
	if _, err := r.bot.Send(edit); err != nil {
		return fmt.Errorf("edit review prompt: %w", err)
	}
	return nil
}

func (r *TelegramRepo) DeleteReviewPrompt(ctx context.Context, chatID, messageID int64) error {
	return r.DeleteMessage(ctx, chatID, messageID)
}

// AnswerCallback shows text to the user who pressed a button
func (r *TelegramRepo) AnswerCallback(callbackID, text string) error {
	if _, err := r.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return fmt.Errorf("answer callback: %w", err)
	}
	return nil
}
