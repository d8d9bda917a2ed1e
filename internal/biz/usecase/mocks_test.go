package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/biz/repo"
)

// Mock implementations

type mockKV struct {
	mu      sync.Mutex
	now     func() time.Time
	values  map[string][]byte
	expires map[string]time.Time
	failSet func(key string) error
}

func newMockKV(now func() time.Time) *mockKV {
	return &mockKV{now: now, values: map[string][]byte{}, expires: map[string]time.Time{}}
}

func (m *mockKV) live(key string) ([]byte, bool) {
	v, ok := m.values[key]
	if !ok {
		return nil, false
	}
	if exp, ok := m.expires[key]; ok && !m.now().Before(exp) {
		delete(m.values, key)
		delete(m.expires, key)
		return nil, false
	}
	return v, true
}

func (m *mockKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.live(key)
	return v, ok, nil
}

func (m *mockKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet != nil {
		if err := m.failSet(key); err != nil {
			return err
		}
	}
	if ttl <= 0 {
		delete(m.values, key)
		delete(m.expires, key)
		return nil
	}
	m.values[key] = value
	m.expires[key] = m.now().Add(ttl)
	return nil
}

func (m *mockKV) Persist(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	delete(m.expires, key)
	return nil
}

func (m *mockKV) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	delete(m.expires, key)
	return nil
}

func (m *mockKV) Take(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.live(key)
	delete(m.values, key)
	delete(m.expires, key)
	return v, ok, nil
}

type mockConfigRepo struct {
	configs  map[int64]*domain.ChatConfig
	admins   map[int64][]int64
	adminErr error
}

func newMockConfigRepo() *mockConfigRepo {
	return &mockConfigRepo{configs: map[int64]*domain.ChatConfig{}, admins: map[int64][]int64{}}
}

func (m *mockConfigRepo) GetChatConfig(ctx context.Context, chatID int64) (*domain.ChatConfig, error) {
	return m.configs[chatID], nil
}

func (m *mockConfigRepo) SaveChatConfig(ctx context.Context, cfg *domain.ChatConfig) error {
	m.configs[cfg.ChatID] = cfg
	return nil
}

func (m *mockConfigRepo) GetAdmins(ctx context.Context, chatID int64) ([]int64, error) {
	if m.adminErr != nil {
		return nil, m.adminErr
	}
	return append([]int64(nil), m.admins[chatID]...), nil
}

func (m *mockConfigRepo) IsAdmin(ctx context.Context, chatID, userID int64) (bool, error) {
	if m.adminErr != nil {
		return false, m.adminErr
	}
	for _, id := range m.admins[chatID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockConfigRepo) SetAdmins(ctx context.Context, chatID int64, userIDs []int64) error {
	m.admins[chatID] = userIDs
	return nil
}

func (m *mockConfigRepo) Close() error {
	return nil
}

type promptCall struct {
	chatID    int64
	messageID int64
	text      string
}

type mockNotifier struct {
	mu       sync.Mutex
	nextID   int64
	sent     []*domain.ReviewRecord
	disabled []promptCall
	deleted  []promptCall
	sendErr  error
}

func (m *mockNotifier) SendReviewPrompt(ctx context.Context, record *domain.ReviewRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return 0, m.sendErr
	}
	m.nextID++
	m.sent = append(m.sent, record)
	return 1000 + m.nextID, nil
}

func (m *mockNotifier) DisableReviewPrompt(ctx context.Context, chatID, messageID int64, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled = append(m.disabled, promptCall{chatID: chatID, messageID: messageID, text: text})
	return nil
}

func (m *mockNotifier) DeleteReviewPrompt(ctx context.Context, chatID, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, promptCall{chatID: chatID, messageID: messageID})
	return nil
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

func (m *mockPublisher) kinds() []domain.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var kinds []domain.EventKind
	for _, e := range m.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

type mockModel struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	prompts []repo.Prompt
	keys    []string
}

func (m *mockModel) Generate(ctx context.Context, apiKey string, prompt repo.Prompt) (*repo.Generation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.calls
	m.calls++
	m.prompts = append(m.prompts, prompt)
	m.keys = append(m.keys, apiKey)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	text := ""
	if len(m.replies) > 0 {
		if i < len(m.replies) {
			text = m.replies[i]
		} else {
			text = m.replies[len(m.replies)-1]
		}
	}
	return &repo.Generation{Text: text}, nil
}

type mockHistoryRepo struct {
	mu      sync.Mutex
	entries []domain.HistoryEntry
	err     error
}

func (m *mockHistoryRepo) Append(ctx context.Context, entries ...domain.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entries...)
	return nil
}

func (m *mockHistoryRepo) Recent(ctx context.Context, chatID int64, limit int) ([]domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.HistoryEntry
	for _, e := range m.entries {
		if e.ChatID == chatID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *mockHistoryRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.entries[:0]
	var n int64
	for _, e := range m.entries {
		if e.Timestamp.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return n, nil
}

func (m *mockHistoryRepo) Close() error {
	return nil
}

type mockStateRepo struct {
	state *domain.BufferState
	saves int
}

func (m *mockStateRepo) LoadState(ctx context.Context) (*domain.BufferState, error) {
	if m.state == nil {
		return &domain.BufferState{Chats: map[int64][]domain.BufferedMessage{}}, nil
	}
	return m.state, nil
}

func (m *mockStateRepo) SaveState(ctx context.Context, state *domain.BufferState) error {
	m.state = state
	m.saves++
	return nil
}

type mockSpamFilter struct {
	spam map[string]bool
	err  error
}

func (m *mockSpamFilter) IsSpam(ctx context.Context, text string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.spam[text], nil
}

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func msg(chatID, id, userID int64, text string) domain.BufferedMessage {
	return domain.BufferedMessage{
		MessageID: id,
		ChatID:    chatID,
		UserID:    userID,
		Text:      text,
		Timestamp: time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Second),
	}
}
