package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
)

// chatBuffer keeps one chat's messages by id plus their arrival order
type chatBuffer struct {
	byID  map[int64]domain.BufferedMessage
	order []int64
}

// MessageBuffer is the per-chat holding area for unprocessed messages.
// A message id is held at most once per chat.
type MessageBuffer struct {
	mu    sync.Mutex
	chats map[int64]*chatBuffer
}

// NewMessageBuffer creates an empty buffer
func NewMessageBuffer() *MessageBuffer {
	return &MessageBuffer{chats: make(map[int64]*chatBuffer)}
}

// NewMessageBufferFromState restores a buffer saved with ToState
func NewMessageBufferFromState(state *domain.BufferState) *MessageBuffer {
	b := NewMessageBuffer()
	if state == nil {
		return b
	}
	for _, msgs := range state.Chats {
		for _, m := range msgs {
			b.addLocked(m)
		}
	}
	return b
}

// AddMessage inserts msg unless its id is already buffered for the chat.
// Returns false for re-deliveries.
func (b *MessageBuffer) AddMessage(msg domain.BufferedMessage) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addLocked(msg)
}

func (b *MessageBuffer) addLocked(msg domain.BufferedMessage) bool {
	cb, ok := b.chats[msg.ChatID]
	if !ok {
		cb = &chatBuffer{byID: make(map[int64]domain.BufferedMessage)}
		b.chats[msg.ChatID] = cb
	}
	if _, exists := cb.byID[msg.MessageID]; exists {
		return false
	}
	cb.byID[msg.MessageID] = msg
	cb.order = append(cb.order, msg.MessageID)
	return true
}

// PendingMessages returns the chat's messages in insertion order
func (b *MessageBuffer) PendingMessages(chatID int64) []domain.BufferedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.chats[chatID]
	if !ok {
		return []domain.BufferedMessage{}
	}
	out := make([]domain.BufferedMessage, 0, len(cb.order))
	for _, id := range cb.order {
		out = append(out, cb.byID[id])
	}
	return out
}

// Remove deletes the given ids; an emptied chat is dropped entirely
func (b *MessageBuffer) Remove(chatID int64, messageIDs []int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.chats[chatID]
	if !ok {
		return
	}
	for _, id := range messageIDs {
		delete(cb.byID, id)
	}
	kept := cb.order[:0]
	for _, id := range cb.order {
		if _, ok := cb.byID[id]; ok {
			kept = append(kept, id)
		}
	}
	cb.order = kept
	if len(cb.byID) == 0 {
		delete(b.chats, chatID)
	}
}

// Len returns the number of buffered messages for a chat
func (b *MessageBuffer) Len(chatID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.chats[chatID]; ok {
		return len(cb.order)
	}
	return 0
}

// OldestPending returns the timestamp of the chat's oldest buffered message
func (b *MessageBuffer) OldestPending(chatID int64) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.chats[chatID]
	if !ok {
		return time.Time{}, false
	}
	var oldest time.Time
	for _, id := range cb.order {
		if ts := cb.byID[id].Timestamp; oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
	}
	return oldest, true
}

// Chats returns the ids of chats with pending messages, sorted
func (b *MessageBuffer) Chats() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]int64, 0, len(b.chats))
	for id := range b.chats {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Summary returns per-chat counts and time range
func (b *MessageBuffer) Summary() []domain.BufferSummary {
	b.mu.Lock()
	defer b.mu.Unlock()

	summaries := make([]domain.BufferSummary, 0, len(b.chats))
	for chatID, cb := range b.chats {
		s := domain.BufferSummary{ChatID: chatID, MessageCount: len(cb.order)}
		for _, id := range cb.order {
			ts := cb.byID[id].Timestamp
			if s.Oldest.IsZero() || ts.Before(s.Oldest) {
				s.Oldest = ts
			}
			if ts.After(s.Newest) {
				s.Newest = ts
			}
		}
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ChatID < summaries[j].ChatID })
	return summaries
}

// ToState snapshots every buffer verbatim
func (b *MessageBuffer) ToState() *domain.BufferState {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := &domain.BufferState{Chats: make(map[int64][]domain.BufferedMessage, len(b.chats))}
	for chatID, cb := range b.chats {
		msgs := make([]domain.BufferedMessage, 0, len(cb.order))
		for _, id := range cb.order {
			msgs = append(msgs, cb.byID[id])
		}
		state.Chats[chatID] = msgs
	}
	return state
}

// BufferUsecase wraps the in-memory buffer with state persistence
type BufferUsecase struct {
	buffer    *MessageBuffer
	stateRepo repo.BufferStateRepo
	log       *zap.Logger
}

// NewBufferUsecase restores the persisted buffer, if any
func NewBufferUsecase(ctx context.Context, stateRepo repo.BufferStateRepo, log *zap.Logger) (*BufferUsecase, error) {
	if log == nil {
		log = zap.NewNop()
	}
	state, err := stateRepo.LoadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load buffer state: %w", err)
	}
	uc := &BufferUsecase{
		buffer:    NewMessageBufferFromState(state),
		stateRepo: stateRepo,
		log:       log.Named("buffer"),
	}
	if chats := uc.buffer.Chats(); len(chats) > 0 {
		uc.log.Info("Restored buffered messages", zap.Int("chats", len(chats)))
	}
	return uc, nil
}

// Add buffers a message and persists the new state.
// Returns false for duplicates, which are not persisted again.
func (uc *BufferUsecase) Add(ctx context.Context, msg domain.BufferedMessage) (bool, error) {
	if !uc.buffer.AddMessage(msg) {
		uc.log.Debug("Duplicate message ignored",
			zap.Int64("chat_id", msg.ChatID), zap.Int64("message_id", msg.MessageID))
		return false, nil
	}
	return true, uc.persist(ctx)
}

// Pending returns the chat's buffered messages in insertion order
func (uc *BufferUsecase) Pending(chatID int64) []domain.BufferedMessage {
	return uc.buffer.PendingMessages(chatID)
}

// Remove drops processed messages and persists the new state
func (uc *BufferUsecase) Remove(ctx context.Context, chatID int64, messageIDs []int64) error {
	uc.buffer.Remove(chatID, messageIDs)
	return uc.persist(ctx)
}

// Len returns the number of buffered messages for a chat
func (uc *BufferUsecase) Len(chatID int64) int {
	return uc.buffer.Len(chatID)
}

// Chats returns chats with pending messages
func (uc *BufferUsecase) Chats() []int64 {
	return uc.buffer.Chats()
}

// OldestPending returns the timestamp of the chat's oldest buffered message
func (uc *BufferUsecase) OldestPending(chatID int64) (time.Time, bool) {
	return uc.buffer.OldestPending(chatID)
}

// Summary returns the buffer overview
func (uc *BufferUsecase) Summary() []domain.BufferSummary {
	return uc.buffer.Summary()
}

func (uc *BufferUsecase) persist(ctx context.Context) error {
	if err := uc.stateRepo.SaveState(ctx, uc.buffer.ToState()); err != nil {
		return fmt.Errorf("save buffer state: %w", err)
	}
	return nil
}
