package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/usecase"
	"github.com/chatwarden/chatwarden/internal/metrics"
)

// SchedulerConfig contains scheduler intervals
type SchedulerConfig struct {
	FlushInterval       time.Duration // How often buffers are checked for due batches
	ReviewSweepInterval time.Duration // How often expired reviews are finalized
	CleanupInterval     time.Duration // How often old history is pruned
}

// DefaultSchedulerConfig returns default scheduler configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		FlushInterval:       5 * time.Second,
		ReviewSweepInterval: 10 * time.Second,
		CleanupInterval:     6 * time.Hour,
	}
}

// Scheduler runs the periodic work: time-based batch flushes, review
// expiry and history cleanup
type Scheduler struct {
	svc       *ModerationService
	reviewUC  *usecase.ReviewUsecase
	historyUC *usecase.HistoryUsecase
	throttle  *usecase.Throttle
	config    SchedulerConfig
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new scheduler
func NewScheduler(
	svc *ModerationService,
	reviewUC *usecase.ReviewUsecase,
	historyUC *usecase.HistoryUsecase,
	throttle *usecase.Throttle,
	config SchedulerConfig,
	log *zap.Logger,
) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		svc:       svc,
		reviewUC:  reviewUC,
		historyUC: historyUC,
		throttle:  throttle,
		config:    config,
		log:       log.Named("scheduler"),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(3)
	go s.loop(s.config.FlushInterval, s.flushDue)
	go s.loop(s.config.ReviewSweepInterval, s.expireReviews)
	go s.loop(s.config.CleanupInterval, s.cleanup)

	s.log.Info("Scheduler started",
		zap.Duration("flush_interval", s.config.FlushInterval),
		zap.Duration("review_sweep_interval", s.config.ReviewSweepInterval))
}

// Stop stops the scheduler and waits for running batches
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.svc.Wait()
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) loop(interval time.Duration, tick func(context.Context)) {
	defer s.wg.Done()
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			tick(s.ctx)
		}
	}
}

func (s *Scheduler) flushDue(ctx context.Context) {
	if n := s.svc.FlushDue(ctx); n > 0 {
		s.log.Debug("Triggered due batches", zap.Int("chats", n))
	}
}

func (s *Scheduler) expireReviews(ctx context.Context) {
	if n := s.reviewUC.ExpireDue(ctx); n > 0 {
		metrics.ReviewsTotal.WithLabelValues(string(domain.ReviewExpired)).Add(float64(n))
		s.log.Info("Expired reviews", zap.Int("count", n))
	}
}

func (s *Scheduler) cleanup(ctx context.Context) {
	s.throttle.Forget()

	count, err := s.historyUC.Cleanup(ctx, time.Now())
	if err != nil {
		s.log.Warn("History cleanup failed", zap.Error(err))
		return
	}
	if count > 0 {
		s.log.Info("Pruned old history", zap.Int64("entries", count))
	}
}
