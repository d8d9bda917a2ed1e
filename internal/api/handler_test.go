package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
	"github.com/chatwarden/chatwarden/internal/data"
)

// fakeModeration implements Moderation for testing
type fakeModeration struct {
	summaries []domain.BufferSummary
	pending   map[int64][]domain.BufferedMessage
	history   []domain.HistoryEntry
	records   map[string]*domain.ReviewRecord
	tombs     map[string]*domain.ReviewTombstone
	flushErr  error
	flushed   []int64
}

func (f *fakeModeration) BufferSummary() []domain.BufferSummary {
	return f.summaries
}

func (f *fakeModeration) PendingMessages(chatID int64) []domain.BufferedMessage {
	return f.pending[chatID]
}

func (f *fakeModeration) History(ctx context.Context, chatID int64) ([]domain.HistoryEntry, error) {
	return f.history, nil
}

func (f *fakeModeration) Review(ctx context.Context, reviewID string) (*domain.ReviewRecord, *domain.ReviewTombstone, error) {
	return f.records[reviewID], f.tombs[reviewID], nil
}

func (f *fakeModeration) Flush(ctx context.Context, chatID int64) error {
	if f.flushErr != nil {
		return f.flushErr
	}
	f.flushed = append(f.flushed, chatID)
	delete(f.pending, chatID)
	return nil
}

func newTestServer(t *testing.T, svc *fakeModeration) http.Handler {
	t.Helper()
	configRepo, err := data.NewChatConfigRepo(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { configRepo.Close() })
	return NewServer(svc, configRepo, 0, nil).Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandleBufferSummary(t *testing.T) {
	h := newTestServer(t, &fakeModeration{
		summaries: []domain.BufferSummary{{ChatID: -1001, MessageCount: 2}},
	})

	w := do(t, h, http.MethodGet, "/api/buffer/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result struct {
		Summaries []domain.BufferSummary `json:"summaries"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	require.Len(t, result.Summaries, 1)
	assert.Equal(t, 2, result.Summaries[0].MessageCount)
}

func TestHandleFlush(t *testing.T) {
	svc := &fakeModeration{pending: map[int64][]domain.BufferedMessage{
		-1001: {{ChatID: -1001, MessageID: 1, Text: "hi"}},
	}}
	h := newTestServer(t, svc)

	w := do(t, h, http.MethodGet, "/api/chats/-1001/buffer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"text":"hi"`)

	w = do(t, h, http.MethodPost, "/api/chats/-1001/flush", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"flushed":true,"pending":0}`, w.Body.String())
	assert.Equal(t, []int64{-1001}, svc.flushed)

	svc.flushErr = errors.New("model unavailable")
	w = do(t, h, http.MethodPost, "/api/chats/-1001/flush", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "model unavailable")
}

func TestHandleFlush_MethodAndID(t *testing.T) {
	h := newTestServer(t, &fakeModeration{})

	w := do(t, h, http.MethodGet, "/api/chats/-1001/flush", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = do(t, h, http.MethodPost, "/api/chats/abc/flush", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleHistory_Limit(t *testing.T) {
	now := time.Now()
	svc := &fakeModeration{history: []domain.HistoryEntry{
		{ChatID: -1001, Sender: domain.SenderUser, Message: domain.BufferedMessage{MessageID: 1}, Timestamp: now},
		{ChatID: -1001, Sender: domain.SenderUser, Message: domain.BufferedMessage{MessageID: 2}, Timestamp: now},
		{ChatID: -1001, Sender: domain.SenderUser, Message: domain.BufferedMessage{MessageID: 3}, Timestamp: now},
	}}
	h := newTestServer(t, svc)

	w := do(t, h, http.MethodGet, "/api/chats/-1001/history?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var result struct {
		Entries []domain.HistoryEntry `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	require.Len(t, result.Entries, 2)
	assert.Equal(t, int64(2), result.Entries[0].Message.MessageID, "limit keeps the newest entries")
	assert.Equal(t, int64(3), result.Entries[1].Message.MessageID)
}

func TestHandleConfig(t *testing.T) {
	h := newTestServer(t, &fakeModeration{})

	// Unknown chats are enabled by default
	w := do(t, h, http.MethodGet, "/api/chats/-1001/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"chat_id":-1001,"configured":false,"enabled":true,"has_api_key":false,"admins":[]}`, w.Body.String())

	w = do(t, h, http.MethodPut, "/api/chats/-1001/config", map[string]interface{}{
		"api_key": "chat-key",
		"admins":  []int64{7, 3},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"chat_id":-1001,"configured":true,"enabled":true,"has_api_key":true,"admins":[3,7]}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "chat-key")

	// Partial update keeps the key and admins
	w = do(t, h, http.MethodPut, "/api/chats/-1001/config", map[string]interface{}{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"chat_id":-1001,"configured":true,"enabled":false,"has_api_key":true,"admins":[3,7]}`, w.Body.String())

	req := httptest.NewRequest(http.MethodPut, "/api/chats/-1001/config", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleReview(t *testing.T) {
	svc := &fakeModeration{
		records: map[string]*domain.ReviewRecord{
			"open": {ID: "open", ChatID: -1001, Status: domain.ReviewPending},
		},
		tombs: map[string]*domain.ReviewTombstone{
			"done": {ReviewID: "done", ChatID: -1001, Status: domain.ReviewRejected, ModeratorID: 1},
		},
	}
	h := newTestServer(t, svc)

	w := do(t, h, http.MethodGet, "/api/reviews/open", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"review":{"id":"open"`)

	w = do(t, h, http.MethodGet, "/api/reviews/done", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"rejected"`)

	w = do(t, h, http.MethodGet, "/api/reviews/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), domain.ErrReviewNotFound.Error())
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestServer(t, &fakeModeration{})

	w := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())

	w = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
