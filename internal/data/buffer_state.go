package data

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
)

// BufferStateKey is the key holding the serialized buffer
const BufferStateKey = "buffer:state"

// bufferStateRepo stores the whole buffer under one key of the keyed store
type bufferStateRepo struct {
	kv repo.KVStore
}

// NewBufferStateRepo creates a buffer state repository on kv
func NewBufferStateRepo(kv repo.KVStore) repo.BufferStateRepo {
	return &bufferStateRepo{kv: kv}
}

func (r *bufferStateRepo) LoadState(ctx context.Context) (*domain.BufferState, error) {
	raw, ok, err := r.kv.Get(ctx, BufferStateKey)
	if err != nil {
		return nil, fmt.Errorf("load buffer state: %w", err)
	}
	state := &domain.BufferState{Chats: make(map[int64][]domain.BufferedMessage)}
	if !ok {
		return state, nil
	}
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, fmt.Errorf("decode buffer state: %w", err)
	}
	if state.Chats == nil {
		state.Chats = make(map[int64][]domain.BufferedMessage)
	}
	return state, nil
}

func (r *bufferStateRepo) SaveState(ctx context.Context, state *domain.BufferState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode buffer state: %w", err)
	}
	if err := r.kv.Persist(ctx, BufferStateKey, raw); err != nil {
		return fmt.Errorf("save buffer state: %w", err)
	}
	return nil
}
