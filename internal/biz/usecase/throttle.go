package usecase

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"
)

// ThrottleConfig shapes the pause after each outbound response
type ThrottleConfig struct {
	Base     time.Duration // fixed part of every delay
	PerRune  time.Duration // added per rune of the response
	MinDelay time.Duration
	MaxDelay time.Duration
}

// DefaultThrottleConfig returns default throttle configuration
func DefaultThrottleConfig() ThrottleConfig {
	return ThrottleConfig{
		Base:     500 * time.Millisecond,
		PerRune:  20 * time.Millisecond,
		MinDelay: 1 * time.Second,
		MaxDelay: 10 * time.Second,
	}
}

// Throttle paces responses per chat: a long answer delays the next send to
// the same chat, other chats are unaffected.
type Throttle struct {
	config ThrottleConfig
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	mu   sync.Mutex
	next map[int64]time.Time
}

// NewThrottle creates a throttle
func NewThrottle(config ThrottleConfig) *Throttle {
	return &Throttle{
		config: config,
		now:    time.Now,
		sleep:  sleepCtx,
		next:   make(map[int64]time.Time),
	}
}

// Delay is the pause a response of text imposes on the following send
func (t *Throttle) Delay(text string) time.Duration {
	d := t.config.Base + time.Duration(utf8.RuneCountInString(text))*t.config.PerRune
	if d < t.config.MinDelay {
		d = t.config.MinDelay
	}
	if t.config.MaxDelay > 0 && d > t.config.MaxDelay {
		d = t.config.MaxDelay
	}
	return d
}

// Wait blocks until chatID may send text, then reserves the following slot.
// Concurrent waiters for the same chat are queued one slot after another.
func (t *Throttle) Wait(ctx context.Context, chatID int64, text string) error {
	t.mu.Lock()
	now := t.now()
	at := t.next[chatID]
	if at.Before(now) {
		at = now
	}
	t.next[chatID] = at.Add(t.Delay(text))
	t.mu.Unlock()

	if wait := at.Sub(now); wait > 0 {
		return t.sleep(ctx, wait)
	}
	return nil
}

// Forget drops idle chats whose slot is in the past
func (t *Throttle) Forget() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for chatID, at := range t.next {
		if at.Before(now) {
			delete(t.next, chatID)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
