package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chatwarden/chatwarden/internal/api"
	"github.com/chatwarden/chatwarden/internal/biz"
	"github.com/chatwarden/chatwarden/internal/conf"
	"github.com/chatwarden/chatwarden/internal/data"
	"github.com/chatwarden/chatwarden/internal/server"
	"github.com/chatwarden/chatwarden/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the moderation bot and the admin API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg := conf.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	bot, err := data.NewTelegramBot(cfg.Telegram.BotToken, cfg.Debug)
	if err != nil {
		return err
	}
	logger.Info("Authorized on Telegram", zap.String("bot", bot.Self.UserName))

	// Initialize repository layer
	repos, err := data.NewRepositories(ctx, cfg.ToDataOptions(), bot, logger)
	if err != nil {
		return fmt.Errorf("failed to create repositories: %w", err)
	}
	defer func() {
		if err := repos.Close(); err != nil {
			logger.Warn("Failed to close repositories", zap.Error(err))
		}
	}()
	logger.Info("Storage ready",
		zap.String("db", cfg.Storage.DBPath),
		zap.Bool("redis", cfg.Storage.RedisAddr != ""),
		zap.Bool("nats", cfg.Storage.NATSURL != ""),
		zap.Bool("antispam", cfg.Antispam.URL != ""),
	)

	svc, scheduler, err := buildService(ctx, cfg, repos)
	if err != nil {
		return err
	}

	// Start periodic work
	scheduler.Start(ctx)
	defer scheduler.Stop()

	tgServer := server.NewTelegramServer(repos.Telegram, svc, repos.ChatConfig, cfg.Telegram.AdminRefresh, logger)
	apiServer := api.NewServer(svc, repos.ChatConfig, cfg.API.Port, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tgServer.Run(gctx) })
	g.Go(func() error { return apiServer.Run(gctx) })

	logger.Info("chatwarden started", zap.String("version", version), zap.Int("api_port", cfg.API.Port))
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("Shutting down")
	return nil
}

// buildService wires the usecase and service layers
func buildService(ctx context.Context, cfg *conf.Config, repos *data.Repositories) (*service.ModerationService, *service.Scheduler, error) {
	uc, err := biz.NewUsecases(ctx, biz.Dependencies{
		BufferState: repos.BufferState,
		History:     repos.History,
		ChatConfig:  repos.ChatConfig,
		Model:       repos.Model,
		Filter:      repos.Filter,
		KV:          repos.KV,
		Notifier:    repos.Telegram,
		Publisher:   repos.Publisher,
	}, cfg.ToUsecaseConfig(), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to restore state: %w", err)
	}

	dispatcher := service.NewActionDispatcher(repos.Telegram, repos.Publisher, service.DefaultKickUnbanDelay, logger)
	svc := service.NewModerationService(
		uc.Buffer, uc.History, uc.Moderation, uc.Review,
		repos.ChatConfig, repos.Telegram, repos.Publisher, dispatcher, uc.Throttle,
		cfg.ToServiceConfig(),
		logger,
	)
	scheduler := service.NewScheduler(svc, uc.Review, uc.History, uc.Throttle, service.DefaultSchedulerConfig(), logger)
	return svc, scheduler, nil
}
