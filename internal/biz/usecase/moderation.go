package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
)

// ModerationConfig contains pipeline configuration
type ModerationConfig struct {
	DefaultAPIKey string // used when the chat has no key of its own
	Retry         RetryConfig
}

// BatchOutcome is everything decided about one batch
type BatchOutcome struct {
	Results   []domain.ClassificationResult
	Decisions []domain.ModerationDecision
	Response  *Reply
	Usage     *domain.Usage
	Dropped   int // model results rejected by the parser
}

// SentReply is a response that reached the chat
type SentReply struct {
	MessageID        int64
	ReplyToMessageID int64
	Text             string
}

// ModerationUsecase runs one batch through the model and the policies
type ModerationUsecase struct {
	configRepo     repo.ChatConfigRepo
	model          repo.ModelRepo
	history        *HistoryUsecase
	contextUC      *ContextBuilderUsecase
	filterUC       *FilterUsecase
	assembler      *PromptAssembler
	parser         *ResponseParser
	responsePolicy *ResponsePolicy
	config         ModerationConfig
	log            *zap.Logger
	now            func() time.Time
}

// NewModerationUsecase creates a new moderation usecase
func NewModerationUsecase(
	configRepo repo.ChatConfigRepo,
	model repo.ModelRepo,
	history *HistoryUsecase,
	contextUC *ContextBuilderUsecase,
	filterUC *FilterUsecase,
	assembler *PromptAssembler,
	responsePolicy *ResponsePolicy,
	config ModerationConfig,
	log *zap.Logger,
) *ModerationUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &ModerationUsecase{
		configRepo:     configRepo,
		model:          model,
		history:        history,
		contextUC:      contextUC,
		filterUC:       filterUC,
		assembler:      assembler,
		parser:         NewResponseParser(log),
		responsePolicy: responsePolicy,
		config:         config,
		log:            log.Named("moderation"),
		now:            time.Now,
	}
}

// APIKey resolves the model key for a chat
func (uc *ModerationUsecase) APIKey(ctx context.Context, chatID int64) (string, error) {
	cfg, err := uc.configRepo.GetChatConfig(ctx, chatID)
	if err != nil {
		return "", fmt.Errorf("get chat config: %w", err)
	}
	if cfg != nil && !cfg.Enabled {
		return "", domain.ErrChatDisabled
	}
	if cfg != nil && cfg.APIKey != "" {
		return cfg.APIKey, nil
	}
	if uc.config.DefaultAPIKey != "" {
		return uc.config.DefaultAPIKey, nil
	}
	return "", fmt.Errorf("chat %d has no model api key: %w", chatID, domain.ErrConfigurationMissing)
}

// Analyze classifies a batch and derives its decisions and reply.
// A reply the parser cannot use yields an empty outcome, not an error.
func (uc *ModerationUsecase) Analyze(ctx context.Context, chatID int64, messages []domain.BufferedMessage) (*BatchOutcome, error) {
	outcome := &BatchOutcome{
		Results:   []domain.ClassificationResult{},
		Decisions: []domain.ModerationDecision{},
	}
	if len(messages) == 0 {
		return outcome, nil
	}

	apiKey, err := uc.APIKey(ctx, chatID)
	if err != nil {
		return nil, err
	}

	all, reduced, err := uc.history.Reduced(ctx, chatID)
	if err != nil {
		return nil, err
	}

	// stats need every decision, not only the reduced window
	pc := uc.contextUC.BuildContext(ctx, chatID, messages, all)
	ActiveMutes(pc.Stats, uc.now())
	if uc.filterUC != nil {
		pc.Flags.SpamHints = uc.filterUC.SpamHints(ctx, messages)
	}

	prompt, err := uc.assembler.Build(pc, messages, reduced)
	if err != nil {
		return nil, err
	}

	gen, err := GenerateWithRetry(ctx, uc.model, apiKey, prompt, uc.config.Retry, uc.log)
	if err != nil {
		var pe *domain.ProviderError
		if errors.As(err, &pe) && pe.IsRateLimited() {
			uc.log.Warn("Model provider is rate limiting", zap.Int64("chat_id", chatID))
		}
		return nil, fmt.Errorf("generate: %w", err)
	}

	parsed := uc.parser.Parse(gen.Text, AllowedIDs(messages))
	outcome.Results = parsed.Results
	outcome.Dropped = parsed.Dropped
	outcome.Usage = gen.Usage
	if outcome.Usage == nil {
		outcome.Usage = parsed.Usage
	}

	byID := make(map[int64]domain.ClassificationResult, len(parsed.Results))
	for _, r := range parsed.Results {
		byID[r.MessageID] = r
	}
	for _, m := range messages {
		r, ok := byID[m.MessageID]
		if !ok {
			continue
		}
		if d, ok := DecideModeration(m, r); ok {
			outcome.Decisions = append(outcome.Decisions, d)
		} else if r.ModerationAction != "" && r.ModerationAction != domain.ActionNone {
			uc.log.Debug("Decision dropped by policy",
				zap.Int64("chat_id", chatID),
				zap.Int64("message_id", m.MessageID),
				zap.String("action", string(r.ModerationAction)))
		}
	}

	if reply, ok := uc.responsePolicy.Select(parsed.Results); ok {
		outcome.Response = &reply
	}

	uc.log.Debug("Batch analyzed",
		zap.Int64("chat_id", chatID),
		zap.Int("messages", len(messages)),
		zap.Int("results", len(outcome.Results)),
		zap.Int("decisions", len(outcome.Decisions)),
		zap.Bool("response", outcome.Response != nil))
	return outcome, nil
}
