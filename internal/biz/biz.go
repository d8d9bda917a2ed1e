package biz

import (
	"context"

	"go.uber.org/zap"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
	"github.com/chatwarden/chatwarden/internal/biz/usecase"
)

// Usecases contains all usecases
type Usecases struct {
	Buffer     *usecase.BufferUsecase
	History    *usecase.HistoryUsecase
	Moderation *usecase.ModerationUsecase
	Review     *usecase.ReviewUsecase
	Throttle   *usecase.Throttle
}

// Dependencies are the repositories the usecases are built on
type Dependencies struct {
	BufferState repo.BufferStateRepo
	History     repo.HistoryRepo
	ChatConfig  repo.ChatConfigRepo
	Model       repo.ModelRepo
	Filter      repo.SpamFilterRepo // nil disables spam hints
	KV          repo.KVStore
	Notifier    repo.ReviewNotifier
	Publisher   repo.EventPublisher
}

// Config contains the configuration of every usecase
type Config struct {
	History          usecase.HistoryConfig
	Review           usecase.ReviewConfig
	Moderation       usecase.ModerationConfig
	Throttle         usecase.ThrottleConfig
	Prompt           usecase.PromptConfig
	ResponsePriority []domain.ClassificationType
	ResponseMaxLen   int
}

// NewUsecases builds the usecase layer and restores persisted buffers and
// pending reviews
func NewUsecases(ctx context.Context, deps Dependencies, config Config, log *zap.Logger) (*Usecases, error) {
	bufferUC, err := usecase.NewBufferUsecase(ctx, deps.BufferState, log)
	if err != nil {
		return nil, err
	}

	historyUC := usecase.NewHistoryUsecase(deps.History, config.History)
	moderationUC := usecase.NewModerationUsecase(
		deps.ChatConfig,
		deps.Model,
		historyUC,
		usecase.NewContextBuilderUsecase(deps.ChatConfig, log),
		usecase.NewFilterUsecase(deps.Filter, log),
		usecase.NewPromptAssembler(config.Prompt),
		usecase.NewResponsePolicy(config.ResponsePriority, config.ResponseMaxLen),
		config.Moderation,
		log,
	)

	reviewUC := usecase.NewReviewUsecase(deps.KV, deps.Notifier, deps.Publisher, deps.ChatConfig, config.Review, log)
	if deps.KV != nil {
		if err := reviewUC.Restore(ctx); err != nil {
			return nil, err
		}
	}

	return &Usecases{
		Buffer:     bufferUC,
		History:    historyUC,
		Moderation: moderationUC,
		Review:     reviewUC,
		Throttle:   usecase.NewThrottle(config.Throttle),
	}, nil
}
