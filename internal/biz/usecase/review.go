package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
)

const (
	reviewKeyPrefix     = "review:"
	reviewDoneKeyPrefix = "review:done:"

	// ReviewIndexKey holds the pending reviews the expiry sweep must visit
	ReviewIndexKey = "review:index"
)

func reviewKey(id string) string     { return reviewKeyPrefix + id }
func reviewDoneKey(id string) string { return reviewDoneKeyPrefix + id }

// ReviewConfig contains review configuration
type ReviewConfig struct {
	TTL          time.Duration       // How long moderators have to decide
	ExpiryGrace  time.Duration       // Extra store TTL so lazy expiry can still find the record
	TombstoneTTL time.Duration       // How long "already handled" is remembered
	Reviewable   []domain.ActionKind // Actions that need approval
}

// DefaultReviewConfig returns default review configuration
func DefaultReviewConfig() ReviewConfig {
	return ReviewConfig{
		TTL:          10 * time.Minute,
		ExpiryGrace:  5 * time.Minute,
		TombstoneTTL: 24 * time.Hour,
		Reviewable:   []domain.ActionKind{domain.ActionKick, domain.ActionBan},
	}
}

// ReviewRequestBuilder turns destructive decisions into review records
type ReviewRequestBuilder struct {
	ttl        time.Duration
	reviewable map[domain.ActionKind]bool
	newID      func() string
}

// NewReviewRequestBuilder creates a builder
func NewReviewRequestBuilder(config ReviewConfig) *ReviewRequestBuilder {
	reviewable := make(map[domain.ActionKind]bool, len(config.Reviewable))
	for _, k := range config.Reviewable {
		reviewable[k] = true
	}
	return &ReviewRequestBuilder{
		ttl:        config.TTL,
		reviewable: reviewable,
		newID:      uuid.NewString,
	}
}

// IsReviewable reports whether the decision needs human approval
func (b *ReviewRequestBuilder) IsReviewable(d domain.ModerationDecision) bool {
	return b.reviewable[d.Kind()]
}

// Build creates a pending record expiring TTL after now
func (b *ReviewRequestBuilder) Build(chatID int64, decision domain.ModerationDecision, target domain.Member, now time.Time) *domain.ReviewRecord {
	if target.UserID == 0 {
		target.UserID = decision.UserID
	}
	rec := &domain.ReviewRecord{
		ID:         b.newID(),
		ChatID:     chatID,
		Decision:   decision,
		TargetUser: target,
		Reason:     decision.Text,
		CreatedAt:  now,
		ExpiresAt:  now.Add(b.ttl),
		Status:     domain.ReviewPending,
	}
	rec.PromptText = reviewPromptText(rec, b.ttl)
	return rec
}

func reviewPromptText(rec *domain.ReviewRecord, ttl time.Duration) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Moderation review: %s %s\n", rec.Decision.Kind(), rec.TargetUser.FormatMention())
	if rec.Reason != "" {
		fmt.Fprintf(&sb, "Reason: %s\n", html.EscapeString(rec.Reason))
	}
	fmt.Fprintf(&sb, "An admin must approve or reject within %s.", ttl.Round(time.Second))
	return sb.String()
}

func resolvedPromptText(rec *domain.ReviewRecord) string {
	return rec.PromptText + "\n\nExpired, no action taken."
}

// reviewIndexEntry is what the sweep needs to expire a review, even after
// the record itself has dropped out of the store
type reviewIndexEntry struct {
	ChatID          int64     `json:"chat_id"`
	PromptMessageID int64     `json:"prompt_message_id"`
	PromptText      string    `json:"prompt_text"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// ReviewOutcome is the result of a moderator decision
type ReviewOutcome struct {
	Record *domain.ReviewRecord
	Status domain.ReviewStatus
}

// ReviewUsecase drives the review state machine:
// pending -> approved | rejected | expired, at most once per record.
type ReviewUsecase struct {
	kv         repo.KVStore
	notifier   repo.ReviewNotifier
	publisher  repo.EventPublisher
	configRepo repo.ChatConfigRepo
	builder    *ReviewRequestBuilder
	config     ReviewConfig
	log        *zap.Logger
	now        func() time.Time

	locks *keyedLock

	mu      sync.Mutex
	pending map[string]reviewIndexEntry // persisted under ReviewIndexKey
}

// NewReviewUsecase creates a new review usecase
func NewReviewUsecase(
	kv repo.KVStore,
	notifier repo.ReviewNotifier,
	publisher repo.EventPublisher,
	configRepo repo.ChatConfigRepo,
	config ReviewConfig,
	log *zap.Logger,
) *ReviewUsecase {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReviewUsecase{
		kv:         kv,
		notifier:   notifier,
		publisher:  publisher,
		configRepo: configRepo,
		builder:    NewReviewRequestBuilder(config),
		config:     config,
		log:        log.Named("review"),
		now:        time.Now,
		locks:      newKeyedLock(),
		pending:    make(map[string]reviewIndexEntry),
	}
}

// Restore reloads the pending index written by a previous run
func (uc *ReviewUsecase) Restore(ctx context.Context) error {
	data, ok, err := uc.kv.Get(ctx, ReviewIndexKey)
	if err != nil {
		return fmt.Errorf("load review index: %w", err)
	}
	if !ok {
		return nil
	}
	var index map[string]reviewIndexEntry
	if err := json.Unmarshal(data, &index); err != nil {
		return fmt.Errorf("decode review index: %w", err)
	}

	uc.mu.Lock()
	for id, entry := range index {
		uc.pending[id] = entry
	}
	uc.mu.Unlock()

	if len(index) > 0 {
		uc.log.Info("Restored pending reviews", zap.Int("count", len(index)))
	}
	return nil
}

// Builder returns the request builder
func (uc *ReviewUsecase) Builder() *ReviewRequestBuilder {
	return uc.builder
}

// Request builds and submits a review for decision against target
func (uc *ReviewUsecase) Request(ctx context.Context, chatID int64, decision domain.ModerationDecision, target domain.Member) (*domain.ReviewRecord, error) {
	rec := uc.builder.Build(chatID, decision, target, uc.now())
	if err := uc.Submit(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Submit persists the record and posts the approval prompt
func (uc *ReviewUsecase) Submit(ctx context.Context, rec *domain.ReviewRecord) error {
	unlock := uc.locks.Lock(rec.ID)
	defer unlock()

	if err := uc.save(ctx, rec); err != nil {
		return err
	}

	promptID, err := uc.notifier.SendReviewPrompt(ctx, rec)
	if err != nil {
		// without a prompt nobody can decide; drop the record
		uc.drop(ctx, rec.ID)
		return fmt.Errorf("send review prompt: %w", err)
	}
	rec.PromptMessageID = promptID
	if err := uc.save(ctx, rec); err != nil {
		// the stored record has no prompt id, so take the prompt down with it
		if delErr := uc.notifier.DeleteReviewPrompt(ctx, rec.ChatID, promptID); delErr != nil {
			uc.log.Warn("Failed to delete orphaned review prompt",
				zap.String("review_id", rec.ID), zap.Int64("prompt_message_id", promptID), zap.Error(delErr))
		}
		uc.drop(ctx, rec.ID)
		return err
	}

	uc.track(ctx, rec.ID, reviewIndexEntry{
		ChatID:          rec.ChatID,
		PromptMessageID: promptID,
		PromptText:      rec.PromptText,
		ExpiresAt:       rec.ExpiresAt,
	})

	uc.publish(ctx, domain.EventReviewPrompt, rec.ChatID, rec)
	uc.publish(ctx, domain.EventReviewPromptSent, rec.ChatID, domain.ReviewPromptSent{
		ReviewID:        rec.ID,
		PromptMessageID: promptID,
	})
	uc.log.Info("Review requested",
		zap.String("review_id", rec.ID),
		zap.Int64("chat_id", rec.ChatID),
		zap.String("action", string(rec.Decision.Kind())),
		zap.Int64("user_id", rec.Decision.UserID),
		zap.Time("expires_at", rec.ExpiresAt))
	return nil
}

// Decide applies a moderator's approve or reject. An approved outcome
// carries the record whose decision must now be applied.
func (uc *ReviewUsecase) Decide(ctx context.Context, reviewID string, moderatorID int64, approve bool) (*ReviewOutcome, error) {
	unlock := uc.locks.Lock(reviewID)
	defer unlock()

	rec, err := uc.load(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if rec.Status != domain.ReviewPending {
		return nil, domain.ErrReviewAlreadyResolved
	}

	isAdmin, err := uc.configRepo.IsAdmin(ctx, rec.ChatID, moderatorID)
	if err != nil {
		return nil, fmt.Errorf("check moderator: %w", err)
	}
	if !isAdmin {
		return nil, domain.ErrReviewUnauthorized
	}

	if rec.IsExpired(uc.now()) {
		if err := uc.finalize(ctx, rec, domain.ReviewExpired, 0); err != nil {
			return nil, err
		}
		return nil, domain.ErrReviewExpired
	}

	status := domain.ReviewRejected
	if approve {
		status = domain.ReviewApproved
	}
	if err := uc.finalize(ctx, rec, status, moderatorID); err != nil {
		return nil, err
	}
	return &ReviewOutcome{Record: rec, Status: status}, nil
}

// ExpireDue finalizes every indexed review past its deadline and returns
// how many expired
func (uc *ReviewUsecase) ExpireDue(ctx context.Context) int {
	now := uc.now()

	uc.mu.Lock()
	var due []string
	for id, entry := range uc.pending {
		if !now.Before(entry.ExpiresAt) {
			due = append(due, id)
		}
	}
	uc.mu.Unlock()
	sort.Strings(due)

	expired := 0
	for _, id := range due {
		if ctx.Err() != nil {
			break
		}
		if uc.expireOne(ctx, id, now) {
			expired++
		}
	}
	return expired
}

func (uc *ReviewUsecase) expireOne(ctx context.Context, id string, now time.Time) bool {
	unlock := uc.locks.Lock(id)
	defer unlock()

	rec, err := uc.load(ctx, id)
	switch {
	case errors.Is(err, domain.ErrReviewNotFound):
		// the store TTL ran out before the sweep got here
		return uc.expireVanished(ctx, id)
	case errors.Is(err, domain.ErrReviewAlreadyResolved):
		uc.forget(ctx, id)
		return false
	case err != nil:
		uc.log.Warn("Failed to load review for expiry", zap.String("review_id", id), zap.Error(err))
		return false
	}
	if rec.Status != domain.ReviewPending || !rec.IsExpired(now) {
		return false
	}
	if err := uc.finalize(ctx, rec, domain.ReviewExpired, 0); err != nil {
		if !errors.Is(err, domain.ErrReviewAlreadyResolved) {
			uc.log.Warn("Failed to expire review", zap.String("review_id", id), zap.Error(err))
		}
		return false
	}
	return true
}

// expireVanished finalizes an indexed review whose record is gone from the store
func (uc *ReviewUsecase) expireVanished(ctx context.Context, id string) bool {
	uc.mu.Lock()
	entry, ok := uc.pending[id]
	uc.mu.Unlock()
	if !ok {
		return false
	}

	rec := &domain.ReviewRecord{
		ID:              id,
		ChatID:          entry.ChatID,
		PromptMessageID: entry.PromptMessageID,
		PromptText:      entry.PromptText,
		ExpiresAt:       entry.ExpiresAt,
	}
	uc.resolve(ctx, rec, domain.ReviewExpired, 0)
	return true
}

// Get returns a pending record, or the tombstone of a resolved one
func (uc *ReviewUsecase) Get(ctx context.Context, reviewID string) (*domain.ReviewRecord, *domain.ReviewTombstone, error) {
	data, ok, err := uc.kv.Get(ctx, reviewKey(reviewID))
	if err != nil {
		return nil, nil, fmt.Errorf("get review: %w", err)
	}
	if ok {
		var rec domain.ReviewRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, nil, fmt.Errorf("decode review %s: %w", reviewID, err)
		}
		return &rec, nil, nil
	}
	tomb, err := uc.tombstone(ctx, reviewID)
	if err != nil {
		return nil, nil, err
	}
	if tomb == nil {
		return nil, nil, domain.ErrReviewNotFound
	}
	return nil, tomb, nil
}

// PendingCount returns the number of indexed pending reviews
func (uc *ReviewUsecase) PendingCount() int {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return len(uc.pending)
}

// finalize claims the record and performs the terminal transition.
// Losing the claim means another process already finalized it.
func (uc *ReviewUsecase) finalize(ctx context.Context, rec *domain.ReviewRecord, status domain.ReviewStatus, moderatorID int64) error {
	if _, ok, err := uc.kv.Take(ctx, reviewKey(rec.ID)); err != nil {
		return fmt.Errorf("claim review: %w", err)
	} else if !ok {
		uc.forget(ctx, rec.ID)
		return domain.ErrReviewAlreadyResolved
	}
	uc.resolve(ctx, rec, status, moderatorID)
	return nil
}

// resolve records the terminal status of a claimed review: tombstone,
// prompt update and resolution event
func (uc *ReviewUsecase) resolve(ctx context.Context, rec *domain.ReviewRecord, status domain.ReviewStatus, moderatorID int64) {
	rec.Status = status
	uc.forget(ctx, rec.ID)

	tomb := domain.ReviewTombstone{
		ReviewID:    rec.ID,
		ChatID:      rec.ChatID,
		Status:      status,
		ModeratorID: moderatorID,
		ResolvedAt:  uc.now(),
	}
	if data, err := json.Marshal(tomb); err == nil {
		if err := uc.kv.Set(ctx, reviewDoneKey(rec.ID), data, uc.config.TombstoneTTL); err != nil {
			uc.log.Warn("Failed to store review tombstone", zap.String("review_id", rec.ID), zap.Error(err))
		}
	}

	if rec.PromptMessageID != 0 {
		var err error
		if status == domain.ReviewExpired {
			err = uc.notifier.DisableReviewPrompt(ctx, rec.ChatID, rec.PromptMessageID, resolvedPromptText(rec))
		} else {
			err = uc.notifier.DeleteReviewPrompt(ctx, rec.ChatID, rec.PromptMessageID)
		}
		if err != nil {
			uc.log.Warn("Failed to update review prompt",
				zap.String("review_id", rec.ID), zap.Int64("prompt_message_id", rec.PromptMessageID), zap.Error(err))
		}
	}

	uc.publish(ctx, domain.EventReviewResolved, rec.ChatID, domain.ReviewResolution{
		ReviewID:    rec.ID,
		ChatID:      rec.ChatID,
		Status:      status,
		ModeratorID: moderatorID,
	})
	uc.log.Info("Review resolved",
		zap.String("review_id", rec.ID),
		zap.Int64("chat_id", rec.ChatID),
		zap.String("status", string(status)),
		zap.Int64("moderator_id", moderatorID))
}

func (uc *ReviewUsecase) load(ctx context.Context, reviewID string) (*domain.ReviewRecord, error) {
	rec, tomb, err := uc.Get(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if tomb != nil {
		return nil, domain.ErrReviewAlreadyResolved
	}
	return rec, nil
}

func (uc *ReviewUsecase) tombstone(ctx context.Context, reviewID string) (*domain.ReviewTombstone, error) {
	data, ok, err := uc.kv.Get(ctx, reviewDoneKey(reviewID))
	if err != nil {
		return nil, fmt.Errorf("get review tombstone: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var tomb domain.ReviewTombstone
	if err := json.Unmarshal(data, &tomb); err != nil {
		return nil, fmt.Errorf("decode review tombstone %s: %w", reviewID, err)
	}
	return &tomb, nil
}

func (uc *ReviewUsecase) save(ctx context.Context, rec *domain.ReviewRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode review: %w", err)
	}
	ttl := rec.ExpiresAt.Sub(uc.now()) + uc.config.ExpiryGrace
	if err := uc.kv.Set(ctx, reviewKey(rec.ID), data, ttl); err != nil {
		return fmt.Errorf("store review: %w", err)
	}
	return nil
}

// drop removes a record that never got a usable prompt
func (uc *ReviewUsecase) drop(ctx context.Context, id string) {
	if _, _, err := uc.kv.Take(ctx, reviewKey(id)); err != nil {
		uc.log.Warn("Failed to drop unsent review", zap.String("review_id", id), zap.Error(err))
	}
}

func (uc *ReviewUsecase) track(ctx context.Context, id string, entry reviewIndexEntry) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.pending[id] = entry
	uc.persistIndex(ctx)
}

func (uc *ReviewUsecase) forget(ctx context.Context, id string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if _, ok := uc.pending[id]; !ok {
		return
	}
	delete(uc.pending, id)
	uc.persistIndex(ctx)
}

// persistIndex writes the pending index; callers hold uc.mu
func (uc *ReviewUsecase) persistIndex(ctx context.Context) {
	var err error
	if len(uc.pending) == 0 {
		err = uc.kv.Delete(ctx, ReviewIndexKey)
	} else {
		var data []byte
		if data, err = json.Marshal(uc.pending); err == nil {
			err = uc.kv.Persist(ctx, ReviewIndexKey, data)
		}
	}
	if err != nil {
		uc.log.Warn("Failed to persist review index", zap.Int("pending", len(uc.pending)), zap.Error(err))
	}
}

func (uc *ReviewUsecase) publish(ctx context.Context, kind domain.EventKind, chatID int64, payload any) {
	if uc.publisher == nil {
		return
	}
	event := domain.Event{Kind: kind, ChatID: chatID, Timestamp: uc.now(), Payload: payload}
	if err := uc.publisher.Publish(ctx, event); err != nil {
		uc.log.Warn("Failed to publish event", zap.String("kind", string(kind)), zap.Error(err))
	}
}
