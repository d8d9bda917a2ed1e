package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
)

// Mock implementations

type platformCall struct {
	op      string
	chatID  int64
	userID  int64
	msgID   int64
	text    string
	replyTo int64
	d       time.Duration
}

// mockPlatform implements repo.MessageRepo and repo.ReviewNotifier
type mockPlatform struct {
	mu      sync.Mutex
	calls   []platformCall
	nextID  int64
	members map[int64]domain.Member
	failOp  string
}

func (m *mockPlatform) record(c platformCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOp == c.op {
		return fmt.Errorf("%s failed", c.op)
	}
	m.calls = append(m.calls, c)
	return nil
}

func (m *mockPlatform) ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ops []string
	for _, c := range m.calls {
		ops = append(ops, c.op)
	}
	return ops
}

func (m *mockPlatform) find(op string) []platformCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []platformCall
	for _, c := range m.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func (m *mockPlatform) SendText(ctx context.Context, chatID int64, text string, replyTo int64) (int64, error) {
	if err := m.record(platformCall{op: "send", chatID: chatID, text: text, replyTo: replyTo}); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return 500 + m.nextID, nil
}

func (m *mockPlatform) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	return m.record(platformCall{op: "delete", chatID: chatID, msgID: messageID})
}

func (m *mockPlatform) RestrictUser(ctx context.Context, chatID, userID int64, d time.Duration) error {
	return m.record(platformCall{op: "restrict", chatID: chatID, userID: userID, d: d})
}

func (m *mockPlatform) UnrestrictUser(ctx context.Context, chatID, userID int64) error {
	return m.record(platformCall{op: "unrestrict", chatID: chatID, userID: userID})
}

func (m *mockPlatform) KickUser(ctx context.Context, chatID, userID int64, autoUnban time.Duration) error {
	return m.record(platformCall{op: "kick", chatID: chatID, userID: userID, d: autoUnban})
}

func (m *mockPlatform) BanUser(ctx context.Context, chatID, userID int64) error {
	return m.record(platformCall{op: "ban", chatID: chatID, userID: userID})
}

func (m *mockPlatform) UnbanUser(ctx context.Context, chatID, userID int64) error {
	return m.record(platformCall{op: "unban", chatID: chatID, userID: userID})
}

func (m *mockPlatform) GetMember(ctx context.Context, chatID, userID int64) (domain.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if member, ok := m.members[userID]; ok {
		return member, nil
	}
	return domain.Member{}, errors.New("member not found")
}

func (m *mockPlatform) SendReviewPrompt(ctx context.Context, record *domain.ReviewRecord) (int64, error) {
	if err := m.record(platformCall{op: "prompt", chatID: record.ChatID, userID: record.Decision.UserID, text: record.PromptText}); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return 900 + m.nextID, nil
}

func (m *mockPlatform) DisableReviewPrompt(ctx context.Context, chatID, messageID int64, text string) error {
	return m.record(platformCall{op: "disable_prompt", chatID: chatID, msgID: messageID, text: text})
}

func (m *mockPlatform) DeleteReviewPrompt(ctx context.Context, chatID, messageID int64) error {
	return m.record(platformCall{op: "delete_prompt", chatID: chatID, msgID: messageID})
}

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *mockPublisher) Publish(ctx context.Context, event domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockPublisher) count(kind domain.EventKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type mockConfigRepo struct {
	mu      sync.Mutex
	configs map[int64]*domain.ChatConfig
	admins  map[int64][]int64
}

func newMockConfigRepo() *mockConfigRepo {
	return &mockConfigRepo{configs: map[int64]*domain.ChatConfig{}, admins: map[int64][]int64{}}
}

func (m *mockConfigRepo) GetChatConfig(ctx context.Context, chatID int64) (*domain.ChatConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configs[chatID], nil
}

func (m *mockConfigRepo) SaveChatConfig(ctx context.Context, cfg *domain.ChatConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[cfg.ChatID] = cfg
	return nil
}

func (m *mockConfigRepo) GetAdmins(ctx context.Context, chatID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.admins[chatID]...), nil
}

func (m *mockConfigRepo) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.admins[chatID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockConfigRepo) SetAdmins(ctx context.Context, chatID int64, userIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.admins[chatID] = userIDs
	return nil
}

func (m *mockConfigRepo) Close() error {
	return nil
}

type mockModel struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
	gate  chan struct{} // when set, Generate blocks until it receives
}

func (m *mockModel) Generate(ctx context.Context, apiKey string, prompt repo.Prompt) (*repo.Generation, error) {
	m.mu.Lock()
	m.calls++
	gate := m.gate
	reply, err := m.reply, m.err
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &repo.Generation{Text: reply}, nil
}

func (m *mockModel) set(reply string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply, m.err = reply, err
}

func (m *mockModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockHistoryRepo struct {
	mu      sync.Mutex
	entries []domain.HistoryEntry
}

func (m *mockHistoryRepo) Append(ctx context.Context, entries ...domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *mockHistoryRepo) Recent(ctx context.Context, chatID int64, limit int) ([]domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.HistoryEntry
	for _, e := range m.entries {
		if e.ChatID == chatID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockHistoryRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

func (m *mockHistoryRepo) Close() error {
	return nil
}

func (m *mockHistoryRepo) all() []domain.HistoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.HistoryEntry(nil), m.entries...)
}

type mockStateRepo struct {
	mu    sync.Mutex
	state *domain.BufferState
}

func (m *mockStateRepo) LoadState(ctx context.Context) (*domain.BufferState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return &domain.BufferState{Chats: map[int64][]domain.BufferedMessage{}}, nil
	}
	return m.state, nil
}

func (m *mockStateRepo) SaveState(ctx context.Context, state *domain.BufferState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	return nil
}

type mockKV struct {
	mu     sync.Mutex
	values map[string][]byte
}

func newMockKV() *mockKV {
	return &mockKV{values: map[string][]byte{}}
}

func (m *mockKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mockKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ttl <= 0 {
		delete(m.values, key)
		return nil
	}
	m.values[key] = value
	return nil
}

func (m *mockKV) Persist(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *mockKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

func (m *mockKV) Take(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	delete(m.values, key)
	return v, ok, nil
}
