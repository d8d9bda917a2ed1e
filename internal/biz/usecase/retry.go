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

// RetryConfig bounds model calls
type RetryConfig struct {
	Timeout     time.Duration // per attempt
	MaxAttempts int
	Delay       time.Duration // between attempts
}

// DefaultRetryConfig returns default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Timeout:     30 * time.Second,
		MaxAttempts: 3,
		Delay:       2 * time.Second,
	}
}

// GenerateWithRetry calls the model with a hard per-attempt timeout and
// retries temporary failures. Permanent failures return at once; running
// out of attempts returns domain.ErrRetriesExhausted wrapping the last error.
func GenerateWithRetry(ctx context.Context, model repo.ModelRepo, apiKey string, prompt repo.Prompt, cfg RetryConfig, log *zap.Logger) (*repo.Generation, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if log == nil {
		log = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		gen, err := generateOnce(ctx, model, apiKey, prompt, cfg.Timeout)
		if err == nil {
			return gen, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) {
			return nil, err
		}

		log.Warn("Model call failed",
			zap.Int("attempt", attempt), zap.Int("max_attempts", cfg.MaxAttempts), zap.Error(err))

		if attempt < cfg.MaxAttempts {
			if err := sleepCtx(ctx, cfg.Delay); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", domain.ErrRetriesExhausted, cfg.MaxAttempts, lastErr)
}

func generateOnce(ctx context.Context, model repo.ModelRepo, apiKey string, prompt repo.Prompt, timeout time.Duration) (*repo.Generation, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	gen, err := model.Generate(ctx, apiKey, prompt)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && !domain.IsTemporary(err) {
		// the attempt timed out rather than the provider failing
		return nil, &domain.ProviderError{Temporary: true, ProviderStatus: "timeout", Err: err}
	}
	return gen, err
}

func retryable(err error) bool {
	return domain.IsTemporary(err)
}
