package mcp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatwarden/chatwarden/internal/biz/domain"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Server {
	t.Helper()
	api := httptest.NewServer(handler)
	t.Cleanup(api.Close)
	return NewServer(NewClient(api.URL), "test")
}

func resultText(t *testing.T, res *sdk.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*sdk.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestBufferSummary(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/buffer/summary", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"summaries": []domain.BufferSummary{{ChatID: -1001, MessageCount: 3}},
		})
	})

	res, _, err := s.handleBufferSummary(context.Background(), nil, BufferSummaryInput{})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var out struct {
		Summaries []domain.BufferSummary `json:"summaries"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	require.Len(t, out.Summaries, 1)
	assert.Equal(t, int64(-1001), out.Summaries[0].ChatID)
	assert.Equal(t, 3, out.Summaries[0].MessageCount)
}

func TestChatHistory_DefaultLimit(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chats/-1001/history", r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"entries": []domain.HistoryEntry{{ChatID: -1001, Sender: domain.SenderUser}},
		})
	})

	res, _, err := s.handleChatHistory(context.Background(), nil, ChatHistoryInput{ChatID: -1001})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, resultText(t, res), `"chat_id":-1001`)
}

func TestFlushChat(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chats/-1001/flush", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{"flushed": true, "pending": 0})
	})

	res, _, err := s.handleFlushChat(context.Background(), nil, ChatInput{ChatID: -1001})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"pending":0}`, resultText(t, res))
}

func TestFlushChat_APIError(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"model unavailable"}`))
	})

	res, _, err := s.handleFlushChat(context.Background(), nil, ChatInput{ChatID: -1001})
	require.NoError(t, err, "api failures are reported as tool errors")
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "HTTP 500")
	assert.Contains(t, resultText(t, res), "model unavailable")
}

func TestGetReview(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/reviews/done-1":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"resolved": domain.ReviewTombstone{ReviewID: "done-1", Status: domain.ReviewApproved},
			})
		default:
			http.NotFound(w, r)
		}
	})

	res, _, err := s.handleGetReview(context.Background(), nil, GetReviewInput{ReviewID: "done-1"})
	require.NoError(t, err)
	var review Review
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &review))
	assert.Nil(t, review.Review)
	require.NotNil(t, review.Resolved)
	assert.Equal(t, domain.ReviewApproved, review.Resolved.Status)

	res, _, err = s.handleGetReview(context.Background(), nil, GetReviewInput{ReviewID: "missing"})
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, _, err = s.handleGetReview(context.Background(), nil, GetReviewInput{})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Equal(t, "review_id is required", resultText(t, res))
}

func TestSetChatEnabled(t *testing.T) {
	s := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/chats/-1001/config", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"enabled":false}`, string(body))
		json.NewEncoder(w).Encode(ChatConfig{ChatID: -1001, Configured: true, Enabled: false, Admins: []int64{1}})
	})

	res, _, err := s.handleSetChatEnabled(context.Background(), nil, SetChatEnabledInput{ChatID: -1001, Enabled: false})
	require.NoError(t, err)
	var cfg ChatConfig
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &cfg))
	assert.False(t, cfg.Enabled)
	assert.Equal(t, []int64{1}, cfg.Admins)
}
