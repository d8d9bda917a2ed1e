package service

import (
	"context"
	"sync"
)

// ChatQueue runs at most one cycle per chat at a time. A trigger that
// arrives while a cycle is running is folded into a single follow-up cycle.
type ChatQueue struct {
	mu     sync.Mutex
	states map[int64]*chatState
	wg     sync.WaitGroup
}

// chatState represents the processing state of a chat
type chatState struct {
	running bool
	pending bool
}

// NewChatQueue creates a queue
func NewChatQueue() *ChatQueue {
	return &ChatQueue{states: make(map[int64]*chatState)}
}

// Run executes fn for chatID, repeating once more if triggers arrived
// meanwhile. If a cycle is already running, Run only schedules the
// follow-up and returns (false, nil).
func (q *ChatQueue) Run(ctx context.Context, chatID int64, fn func(context.Context) error) (bool, error) {
	q.mu.Lock()
	st, ok := q.states[chatID]
	if !ok {
		st = &chatState{}
		q.states[chatID] = st
	}
	if st.running {
		st.pending = true
		q.mu.Unlock()
		return false, nil
	}
	st.running = true

	var err error
	for {
		st.pending = false
		q.mu.Unlock()

		err = fn(ctx)

		q.mu.Lock()
		if !st.pending || ctx.Err() != nil {
			break
		}
	}
	delete(q.states, chatID)
	q.mu.Unlock()
	return true, err
}

// Trigger runs the cycle in the background; onErr receives its error
func (q *ChatQueue) Trigger(ctx context.Context, chatID int64, fn func(context.Context) error, onErr func(error)) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if _, err := q.Run(ctx, chatID, fn); err != nil && onErr != nil {
			onErr(err)
		}
	}()
}

// Busy reports whether a cycle is running for chatID
func (q *ChatQueue) Busy(chatID int64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.states[chatID]
	return ok && st.running
}

// Wait blocks until every triggered cycle has finished
func (q *ChatQueue) Wait() {
	q.wg.Wait()
}
